package vesting

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/alanyoungcy/vestd/internal/domain"
)

// journal collects the undo steps and pending events of one guarded call.
// On failure the undo steps run newest first and the events are dropped.
type journal struct {
	at     uint64
	undo   []func(context.Context) error
	events []domain.Event
}

func (j *journal) onRollback(fn func(context.Context) error) {
	j.undo = append(j.undo, fn)
}

func (j *journal) emit(typ domain.EventType, data map[string]any) {
	j.events = append(j.events, domain.Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Timestamp: j.at,
		Data:      data,
	})
}

func (j *journal) rollback(ctx context.Context) error {
	var errs []error
	for i := len(j.undo) - 1; i >= 0; i-- {
		if err := j.undo[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	j.undo = nil
	j.events = nil
	return errors.Join(errs...)
}
