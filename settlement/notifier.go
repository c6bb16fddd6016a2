package settlement

import (
	"context"
	"errors"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// Notifier delivers committed transition events to external observers.
type Notifier interface {
	Notify(ctx context.Context, ev domain.Event) error
}

// Fanout delivers each event to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, domain.Event) error { return nil }
