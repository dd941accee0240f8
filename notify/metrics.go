package notify

import (
	"github.com/luca-patrignani/greetme/ledger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is a ledger.Listener that keeps Prometheus collectors up to date.
type Metrics struct {
	greetings      prometheus.Counter
	rewards        prometheus.Counter
	rewardsAmount  prometheus.Counter
	outOfBalance   prometheus.Counter
	cooldownMisses prometheus.Counter
	balance        prometheus.Gauge
}

// NewMetrics registers the ledger collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		greetings: factory.NewCounter(prometheus.CounterOpts{
			Name: "greetme_greetings_total",
			Help: "Number of greetings appended to the ledger.",
		}),
		rewards: factory.NewCounter(prometheus.CounterOpts{
			Name: "greetme_rewards_paid_total",
			Help: "Number of prizes paid out.",
		}),
		rewardsAmount: factory.NewCounter(prometheus.CounterOpts{
			Name: "greetme_rewards_paid_amount_total",
			Help: "Sum of the prizes paid out.",
		}),
		outOfBalance: factory.NewCounter(prometheus.CounterOpts{
			Name: "greetme_out_of_balance_total",
			Help: "Number of greetings committed while the fund could not cover the prize.",
		}),
		cooldownMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "greetme_cooldown_not_over_total",
			Help: "Number of winning draws discarded because of the cooldown.",
		}),
		balance: factory.NewGauge(prometheus.GaugeOpts{
			Name: "greetme_fund_balance",
			Help: "Remaining balance of the reward fund.",
		}),
	}
}

// SetBalance initializes the balance gauge, typically from Engine.Status.
func (m *Metrics) SetBalance(st ledger.Status) {
	f, _ := st.Balance.Float64()
	m.balance.Set(f)
}

func (m *Metrics) Notify(ev ledger.Event) {
	switch ev.Kind {
	case ledger.EventGreeted:
		m.greetings.Inc()
	case ledger.EventRewardPaid:
		m.rewards.Inc()
		if ev.Payout != nil {
			f, _ := ev.Payout.Amount.Float64()
			m.rewardsAmount.Add(f)
		}
	case ledger.EventOutOfBalance:
		m.outOfBalance.Inc()
	case ledger.EventCooldownNotOver:
		m.cooldownMisses.Inc()
	}
	f, _ := ev.Balance.Float64()
	m.balance.Set(f)
}
