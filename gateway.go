package main

import (
	"context"
	"encoding/json"
	"log/slog"

	"i4.energy/across/bgs2/modem"
	"i4.energy/across/bgs2/store"
)

// EventJournal persists events.
type EventJournal interface {
	Append(ctx context.Context, kind string, payload any) (store.Record, error)
}

// Gateway fans modem events out to the journal and, when configured, to MQTT
// as <Topic>/<kind>.
type Gateway struct {
	Logger    *slog.Logger
	Journal   EventJournal
	Publisher Publisher
	Topic     string
}

// Run consumes events until ctx ends or the channel is closed. Journal and
// publish failures are logged and never stop the loop.
func (g *Gateway) Run(ctx context.Context, events <-chan modem.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			g.handle(ctx, ev)
		}
	}
}

func (g *Gateway) handle(ctx context.Context, ev modem.Event) {
	kind := ev.Kind()
	g.Logger.Info("Modem event", "kind", kind, "event", ev)

	if g.Journal != nil {
		if _, err := g.Journal.Append(ctx, kind, ev); err != nil {
			g.Logger.Error("Failed to journal event", "kind", kind, "error", err)
		}
	}

	if g.Publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		g.Logger.Error("Failed to encode event", "kind", kind, "error", err)
		return
	}
	if err := g.Publisher.Publish(g.Topic+"/"+kind, payload); err != nil {
		g.Logger.Warn("Failed to publish event", "kind", kind, "error", err)
	}
}
