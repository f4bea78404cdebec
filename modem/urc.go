package modem

import (
	"context"
	"sync"
)

// urcQueue is the FIFO of unsolicited lines waiting for the dispatcher. Both
// the echo verifier and the inbound handler push into it; the lock is held
// only while the slice is touched.
type urcQueue struct {
	mu     sync.Mutex
	lines  []string
	notify chan struct{}
}

func newURCQueue() *urcQueue {
	return &urcQueue{notify: make(chan struct{}, 1)}
}

func (q *urcQueue) push(line string) {
	q.mu.Lock()
	q.lines = append(q.lines, line)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop blocks until a line is queued or ctx ends.
func (q *urcQueue) pop(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if len(q.lines) > 0 {
			line := q.lines[0]
			q.lines[0] = ""
			q.lines = q.lines[1:]
			q.mu.Unlock()
			return line, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
