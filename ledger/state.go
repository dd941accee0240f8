package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payout records a reward transfer to the author of a greeting.
type Payout struct {
	GreetingID uint64          `json:"greeting_id" msgpack:"greeting_id"`
	Winner     string          `json:"winner" msgpack:"winner"`
	Amount     decimal.Decimal `json:"amount" msgpack:"amount"`
	Time       time.Time       `json:"time" msgpack:"time"`
}

// State is the mutable part of the ledger. Records and Payouts only grow;
// Balance only shrinks.
type State struct {
	Records        []Greeting
	Payouts        []Payout
	Balance        decimal.Decimal
	Seed           uint64
	LastRewardTime time.Time
}

// NewState returns the state of a freshly created ledger.
func NewState(cfg RewardConfig) *State {
	return &State{
		Records: make([]Greeting, 0),
		Payouts: make([]Payout, 0),
		Balance: cfg.InitialBalance,
		Seed:    cfg.Seed,
	}
}

// clone returns a copy that can be mutated by a transaction without affecting
// readers of s. The slices share their committed prefix: appending to the
// copy never rewrites an element visible through s.
func (s *State) clone() *State {
	c := *s
	return &c
}

func (s *State) last() *Greeting {
	if len(s.Records) == 0 {
		return nil
	}
	return &s.Records[len(s.Records)-1]
}

// Commit is everything a single submission changes. Stores persist it
// atomically.
type Commit struct {
	Greeting       Greeting
	Payout         *Payout
	Balance        decimal.Decimal
	Seed           uint64
	LastRewardTime time.Time
}

type submitResult struct {
	greeting Greeting
	payout   *Payout
	events   []Event
}

// applySubmit is the submission transaction. It appends the greeting to st,
// advances the seed and evaluates the reward. It never fails: a reward that
// cannot be paid is reported through events only.
func applySubmit(st *State, cfg RewardConfig, draw DrawFunc, author, nonce, text string, now time.Time) submitResult {
	g := newGreeting(st.last(), author, nonce, text, now)
	st.Records = append(st.Records, g)

	res := submitResult{greeting: g}
	res.events = append(res.events, Event{Kind: EventGreeted, Greeting: g, Balance: st.Balance, Time: now})

	next, value := draw(st.Seed)
	st.Seed = next

	outOfBalance := false
	if value < uint64(cfg.WinProbabilityPercent) {
		switch {
		case st.Balance.LessThan(cfg.PrizeAmount):
			outOfBalance = true
		case !st.LastRewardTime.IsZero() && now.Sub(st.LastRewardTime) < cfg.CooldownPeriod:
			res.events = append(res.events, Event{Kind: EventCooldownNotOver, Greeting: g, Balance: st.Balance, Time: now})
		default:
			p := Payout{GreetingID: g.ID, Winner: author, Amount: cfg.PrizeAmount, Time: now}
			st.Balance = st.Balance.Sub(cfg.PrizeAmount)
			st.LastRewardTime = now
			st.Payouts = append(st.Payouts, p)
			res.payout = &p
			res.events = append(res.events, Event{Kind: EventRewardPaid, Greeting: g, Payout: &p, Balance: st.Balance, Time: now})
		}
	}

	if outOfBalance || st.Balance.LessThan(cfg.PrizeAmount) {
		res.events = append(res.events, Event{Kind: EventOutOfBalance, Greeting: g, Balance: st.Balance, Time: now})
	}
	return res
}

func (r submitResult) commit(st *State) Commit {
	return Commit{
		Greeting:       r.greeting,
		Payout:         r.payout,
		Balance:        st.Balance,
		Seed:           st.Seed,
		LastRewardTime: st.LastRewardTime,
	}
}
