// Package metrics exposes the service's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	PlansCreated   prometheus.Counter
	PlansCompleted prometheus.Counter
	PlansCancelled prometheus.Counter
	PlansExpired   prometheus.Counter
	OrdersPlaced   prometheus.Counter
	OrdersFailed   prometheus.Counter
	FillsApplied   prometheus.Counter
}

// New registers the counters on reg and returns the bundle. Pass
// prometheus.DefaultRegisterer in main, a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PlansCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_plans_created_total",
			Help: "Plans successfully created.",
		}),
		PlansCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_plans_completed_total",
			Help: "Plans that reached completed status.",
		}),
		PlansCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_plans_cancelled_total",
			Help: "Plans cancelled by their owner.",
		}),
		PlansExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_plans_expired_total",
			Help: "Plans expired by the sweep.",
		}),
		OrdersPlaced: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_orders_placed_total",
			Help: "Step orders accepted by the venue.",
		}),
		OrdersFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_orders_failed_total",
			Help: "Step orders rejected or failed.",
		}),
		FillsApplied: factory.NewCounter(prometheus.CounterOpts{
			Name: "dca_fills_applied_total",
			Help: "Fill notifications applied to steps.",
		}),
	}
}
