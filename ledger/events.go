package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

type EventKind string

const (
	// EventGreeted is emitted for every committed greeting.
	EventGreeted EventKind = "greeted"
	// EventRewardPaid is emitted when the author of a greeting wins the prize.
	EventRewardPaid EventKind = "reward_paid"
	// EventOutOfBalance is emitted when the fund cannot cover the prize.
	EventOutOfBalance EventKind = "out_of_balance"
	// EventCooldownNotOver is emitted when a winning draw falls inside the
	// cooldown of the previous payout.
	EventCooldownNotOver EventKind = "cooldown_not_over"
)

// Event is the typed notification the engine produces for each commit.
type Event struct {
	Kind     EventKind       `json:"kind" msgpack:"kind"`
	Greeting Greeting        `json:"greeting" msgpack:"greeting"`
	Payout   *Payout         `json:"payout,omitempty" msgpack:"payout,omitempty"`
	Balance  decimal.Decimal `json:"balance" msgpack:"balance"`
	Time     time.Time       `json:"time" msgpack:"time"`
}

// Listener receives the events of every commit, in commit order. Notify must
// not block for long and must not submit greetings to the same engine.
type Listener interface {
	Notify(Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(Event)

func (f ListenerFunc) Notify(e Event) { f(e) }
