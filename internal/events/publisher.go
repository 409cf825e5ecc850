// Package events fans committed ledger events out to the signal bus, the
// audit log and operator notifications.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/vestd/internal/domain"
)

const (
	// Stream holds the replayable event history.
	Stream = "events"
	// ChannelPattern matches every per-type live channel.
	ChannelPattern = "events:*"

	notifyQueueSize = 256
)

// Channel returns the live channel for events of type t.
func Channel(t domain.EventType) string {
	return "events:" + string(t)
}

// EventNotifier is the notification side of the fan-out.
type EventNotifier interface {
	NotifyEvent(ctx context.Context, ev domain.Event) error
}

// Publisher implements domain.EventSink. Bus and audit writes happen inline
// so their ordering follows commit order; notifications are queued and sent
// by Run. Any of the sinks may be nil.
type Publisher struct {
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier EventNotifier
	queue    chan domain.Event
	logger   *slog.Logger
}

// NewPublisher creates a Publisher.
func NewPublisher(bus domain.SignalBus, audit domain.AuditStore, notifier EventNotifier, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:      bus,
		audit:    audit,
		notifier: notifier,
		queue:    make(chan domain.Event, notifyQueueSize),
		logger:   logger.With(slog.String("component", "event_publisher")),
	}
}

// Emit publishes every event. It attempts all sinks and joins their errors.
func (p *Publisher) Emit(ctx context.Context, events []domain.Event) error {
	var errs []error
	for _, ev := range events {
		if err := p.publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
		if p.notifier != nil {
			select {
			case p.queue <- ev:
			default:
				p.logger.WarnContext(ctx, "notify queue full, dropping event",
					slog.String("event_id", ev.ID),
					slog.String("type", string(ev.Type)),
				)
			}
		}
	}
	return errors.Join(errs...)
}

func (p *Publisher) publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	if p.bus != nil {
		payload, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("events: marshal %s: %w", ev.ID, err)
		}
		if err := p.bus.Publish(ctx, Channel(ev.Type), payload); err != nil {
			errs = append(errs, err)
		}
		if err := p.bus.StreamAppend(ctx, Stream, payload); err != nil {
			errs = append(errs, err)
		}
	}
	if p.audit != nil {
		detail := map[string]any{
			"event_id":  ev.ID,
			"timestamp": ev.Timestamp,
			"data":      ev.Data,
		}
		if err := p.audit.Log(ctx, string(ev.Type), detail); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run delivers queued notifications until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	if p.notifier == nil {
		<-ctx.Done()
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			if err := p.notifier.NotifyEvent(ctx, ev); err != nil {
				p.logger.WarnContext(ctx, "notification failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

var _ domain.EventSink = (*Publisher)(nil)
