// ABOUTME: Subscription observer that records extensions and rejections
// ABOUTME: Writes history rows and audit entries and updates Prometheus counters

package gateway

import (
	"context"
	"log/slog"

	"github.com/2389/agentgate/internal/metrics"
	"github.com/2389/agentgate/internal/store"
	"github.com/2389/agentgate/internal/subscription"
)

// historyObserver implements subscription.Observer. History writes are best
// effort: the ledger is already durable when Extended runs.
type historyObserver struct {
	store  store.Store
	logger *slog.Logger
}

func newHistoryObserver(s store.Store, logger *slog.Logger) *historyObserver {
	return &historyObserver{store: s, logger: logger.With("component", "history")}
}

func (o *historyObserver) Extended(ctx context.Context, ext *subscription.Extension) {
	metrics.ExtensionsTotal.Inc()
	metrics.PeriodsPurchasedTotal.Add(float64(ext.Periods))

	rec := &store.ExtensionRecord{
		Identity:       ext.Identity,
		Periods:        ext.Periods,
		Cost:           ext.Cost.Used,
		Currency:       ext.Cost.Currency,
		PreviousExpiry: ext.Previous,
		NewExpiry:      ext.Expiry,
	}
	if err := o.store.RecordExtension(context.WithoutCancel(ctx), rec); err != nil {
		o.logger.Error("failed to record extension", "identity", ext.Identity, "error", err)
	}
}

func (o *historyObserver) Rejected(ctx context.Context, identity string) {
	metrics.GuardRejectionsTotal.Inc()

	entry := &store.AuditEntry{
		Identity:   identity,
		Action:     store.AuditGuardRejected,
		TargetType: "subscription",
		TargetID:   identity,
	}
	if err := o.store.AppendAuditLog(ctx, entry); err != nil {
		o.logger.Warn("failed to record guard rejection", "identity", identity, "error", err)
	}
}

var _ subscription.Observer = (*historyObserver)(nil)
