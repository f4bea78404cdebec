package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SMSRequest asks for a text message to be sent.
type SMSRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	// ID is optional; the outbox assigns one when empty
	ID string `json:"id,omitempty"`
}

var (
	errMissingFields = errors.New("both 'to' and 'message' fields are required")
	errQueueFull     = errors.New("outbox queue full")
)

func decodeSMSRequest(data []byte) (SMSRequest, error) {
	var req SMSRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return SMSRequest{}, err
	}
	if strings.TrimSpace(req.To) == "" || req.Message == "" {
		return SMSRequest{}, errMissingFields
	}
	return req, nil
}

// Sender is the part of the modem the outbox needs.
type Sender interface {
	SendSMS(ctx context.Context, recipient, message string) (int, error)
}

const outboxSize = 1024

// Outbox sends queued messages one at a time, rate limited and with retries.
type Outbox struct {
	sender     Sender
	logger     *slog.Logger
	queue      chan SMSRequest
	limit      *rateWindow
	maxRetries int
	// backoff is the pause before retry number attempt
	backoff func(attempt int) time.Duration
	// throttle is the pause while the rate limit is exhausted
	throttle time.Duration
}

func NewOutbox(sender Sender, logger *slog.Logger, ratePerMin, maxRetries int) *Outbox {
	return &Outbox{
		sender:     sender,
		logger:     logger,
		queue:      make(chan SMSRequest, outboxSize),
		limit:      newRateWindow(ratePerMin, time.Minute),
		maxRetries: maxRetries,
		backoff:    jitteredBackoff,
		throttle:   2 * time.Second,
	}
}

// Enqueue queues req and returns its ID.
func (o *Outbox) Enqueue(req SMSRequest) (string, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	select {
	case o.queue <- req:
		return req.ID, nil
	default:
		return "", errQueueFull
	}
}

// Run sends queued messages until ctx ends.
func (o *Outbox) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-o.queue:
			if err := o.send(ctx, req); err != nil && ctx.Err() != nil {
				return ctx.Err()
			}
		}
	}
}

func (o *Outbox) send(ctx context.Context, req SMSRequest) error {
	for !o.limit.Allow(time.Now()) {
		if err := sleep(ctx, o.throttle); err != nil {
			return err
		}
	}

	for attempt := 0; ; attempt++ {
		ref, err := o.sender.SendSMS(ctx, req.To, req.Message)
		if err == nil {
			o.logger.Info("SMS sent", "id", req.ID, "to", req.To, "reference", ref, "attempts", attempt+1)
			return nil
		}
		if attempt >= o.maxRetries || ctx.Err() != nil {
			o.logger.Error("SMS permanently failed", "id", req.ID, "to", req.To, "error", err)
			return fmt.Errorf("send %s: %w", req.ID, err)
		}
		back := o.backoff(attempt)
		o.logger.Warn("SMS send failed, retrying", "id", req.ID, "error", err, "backoff", back)
		if err := sleep(ctx, back); err != nil {
			return err
		}
	}
}

func jitteredBackoff(int) time.Duration {
	return time.Duration(800+rand.Intn(600)) * time.Millisecond
}

// rateWindow allows at most limit events per sliding window.
type rateWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events []time.Time
}

func newRateWindow(limit int, window time.Duration) *rateWindow {
	return &rateWindow{limit: limit, window: window}
}

// Allow records an event at now unless the window is full. A non-positive
// limit allows everything.
func (r *rateWindow) Allow(now time.Time) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cut := now.Add(-r.window)
	kept := r.events[:0]
	for _, t := range r.events {
		if t.After(cut) {
			kept = append(kept, t)
		}
	}
	r.events = kept
	if len(r.events) >= r.limit {
		return false
	}
	r.events = append(r.events, now)
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
