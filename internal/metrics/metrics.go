// Package metrics registers the platform's Prometheus counters. Package-level
// vars keep call sites terse; everything registers on the default registry
// served at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DepositsConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_deposits_confirmed_total",
		Help: "Investor deposits confirmed into escrow",
	})

	FundsReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_funds_released_total",
		Help: "Milestone fund releases executed against escrow",
	})

	RefundsIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_refunds_issued_total",
		Help: "Investor refunds confirmed during request cancellation",
	})

	MirrorConfirmed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_ledger_mirror_confirmed_total",
		Help: "Audit entries successfully mirrored to the consensus log",
	})

	MirrorFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_ledger_mirror_failures_total",
		Help: "Failed consensus-log mirror attempts (retried out of band)",
	})

	ReconciliationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nilefi_reconciliation_failures_total",
		Help: "Detected raised-amount invariant violations (request halted)",
	})
)
