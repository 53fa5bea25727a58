package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry holds the service's Prometheus collectors. Label cardinality is
// kept to enumerable values (statuses, methods, outcomes) only.
type Registry struct {
	OrdersCreatedTotal     *prometheus.CounterVec
	OrderTransitionsTotal  *prometheus.CounterVec
	OrderTransitionErrors  *prometheus.CounterVec
	WithdrawalsTotal       *prometheus.CounterVec
	DepositsInitiatedTotal prometheus.Counter
	PinLockoutsTotal       prometheus.Counter
	GatewayWebhooksTotal   *prometheus.CounterVec
}

func New() *Registry {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors on reg. Tests pass a fresh registry so
// repeated construction never collides.
func NewWith(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		OrdersCreatedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "orders_created_total",
				Help: "Orders created, by payment method",
			},
			[]string{"payment_method"},
		),
		OrderTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_transitions_total",
				Help: "Applied order status transitions",
			},
			[]string{"from", "to"},
		),
		OrderTransitionErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "order_transition_errors_total",
				Help: "Rejected order status transitions, by reason",
			},
			[]string{"reason"},
		),
		WithdrawalsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawals_total",
				Help: "Withdrawal attempts, by outcome",
			},
			[]string{"outcome"},
		),
		DepositsInitiatedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "deposits_initiated_total",
				Help: "Deposit checkout sessions opened",
			},
		),
		PinLockoutsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pin_lockouts_total",
				Help: "Transaction PIN lockouts triggered",
			},
		),
		GatewayWebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gateway_webhooks_total",
				Help: "Gateway webhook deliveries, by outcome",
			},
			[]string{"outcome"},
		),
	}
}

func (r *Registry) RecordOrderCreated(paymentMethod string) {
	r.OrdersCreatedTotal.WithLabelValues(paymentMethod).Inc()
}

func (r *Registry) RecordTransition(from, to string) {
	r.OrderTransitionsTotal.WithLabelValues(from, to).Inc()
}

func (r *Registry) RecordTransitionError(reason string) {
	r.OrderTransitionErrors.WithLabelValues(reason).Inc()
}

func (r *Registry) RecordWithdrawal(outcome string) {
	r.WithdrawalsTotal.WithLabelValues(outcome).Inc()
}

func (r *Registry) RecordWebhook(outcome string) {
	r.GatewayWebhooksTotal.WithLabelValues(outcome).Inc()
}
