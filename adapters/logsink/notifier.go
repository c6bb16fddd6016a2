// Package logsink writes escrow events to a structured logger.
package logsink

import (
	"context"
	"log/slog"

	"github.com/ThorbenD/htlc-rental-escrow/domain"
)

// Notifier implements settlement.Notifier by logging every event at Info.
type Notifier struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{logger: logger}
}

func (n *Notifier) Notify(ctx context.Context, ev domain.Event) error {
	attrs := []any{
		"event_id", ev.ID.String(),
		"kind", ev.Kind,
		"listing_id", ev.ListingID,
		"actor", ev.Actor,
		"amount", ev.Amount.String(),
		"occurred_at", ev.OccurredAt,
	}
	if ev.Counterparty != domain.NoAccount {
		attrs = append(attrs, "counterparty", ev.Counterparty)
	}
	for k, v := range ev.Attributes {
		attrs = append(attrs, k, v)
	}
	n.logger.InfoContext(ctx, "📬 [Events] "+string(ev.Kind), attrs...)
	return nil
}
