package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// TextPolicy decides whether a greeting text is acceptable.
type TextPolicy func(text string) error

// RequireText rejects empty and whitespace-only greetings.
func RequireText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// AllowAnyText accepts every text, the empty string included.
func AllowAnyText(string) error { return nil }

// Receipt is the outcome of a submission.
type Receipt struct {
	Greeting Greeting        `json:"greeting"`
	Rewarded bool            `json:"rewarded"`
	Prize    decimal.Decimal `json:"prize"`
	Events   []Event         `json:"events"`
}

// Page is a newest-first window over the greetings.
type Page struct {
	Records []Greeting `json:"records"`
	Page    int        `json:"page"`
	Size    int        `json:"size"`
	Total   int        `json:"total"`
	HasMore bool       `json:"has_more"`
}

// Status is a read-only view of the reward fund and the ledger size.
type Status struct {
	PrizeAmount           decimal.Decimal `json:"prize_amount"`
	InitialBalance        decimal.Decimal `json:"initial_balance"`
	Balance               decimal.Decimal `json:"balance"`
	CooldownPeriod        time.Duration   `json:"cooldown_period"`
	WinProbabilityPercent uint8           `json:"win_probability_percent"`
	Seed                  uint64          `json:"seed"`
	LastRewardTime        *time.Time      `json:"last_reward_time,omitempty"`
	TotalGreetings        int             `json:"total_greetings"`
	Payouts               int             `json:"payouts"`
	Head                  string          `json:"head"`
}

// Engine is the greeting ledger. Submissions are serialized; reads work on
// the latest committed snapshot and never wait for a writer.
type Engine struct {
	cfg        RewardConfig
	clock      func() time.Time
	draw       DrawFunc
	store      Store
	textPolicy TextPolicy
	logger     *slog.Logger

	mu      sync.Mutex
	current atomic.Pointer[State]
	// nonces holds the author and nonce of every signed greeting. Guarded
	// by mu.
	nonces map[nonceKey]struct{}

	// notifyMu is taken before mu is released so that events are delivered
	// in commit order.
	notifyMu     sync.Mutex
	listenersMu  sync.RWMutex
	listeners    map[uint64]Listener
	nextListener uint64
}

type nonceKey struct {
	author, nonce string
}

type Option func(*Engine)

// WithClock overrides the clock used to timestamp greetings.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithDraw overrides the reward PRNG.
func WithDraw(draw DrawFunc) Option {
	return func(e *Engine) { e.draw = draw }
}

func WithListener(l Listener) Option {
	return func(e *Engine) { e.addListener(l) }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithStore makes every commit durable. Open sets it implicitly.
func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

func WithTextPolicy(p TextPolicy) Option {
	return func(e *Engine) { e.textPolicy = p }
}

func newEngine(cfg RewardConfig, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		clock:      time.Now,
		draw:       Blake2xbDraw,
		textPolicy: RequireText,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		listeners:  map[uint64]Listener{},
		nonces:     map[nonceKey]struct{}{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// New creates an empty ledger funded with cfg.InitialBalance. A zero seed is
// replaced by a random one. When a store is given through WithStore it is
// initialized with the new ledger.
func New(ctx context.Context, cfg RewardConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Seed == 0 {
		cfg.Seed = RandomSeed()
	}
	e := newEngine(cfg, opts...)
	st := NewState(cfg)
	if e.store != nil {
		if err := e.store.Init(ctx, cfg, st); err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
	}
	e.current.Store(st)
	return e, nil
}

// Open resumes the ledger persisted in store. An empty store is initialized
// from cfg; otherwise the persisted configuration wins and the chain is
// verified before the engine is returned.
func Open(ctx context.Context, cfg RewardConfig, store Store, opts ...Option) (*Engine, error) {
	persisted, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	if persisted == nil {
		return New(ctx, cfg, append(opts, WithStore(store))...)
	}
	if err := persisted.Config.Validate(); err != nil {
		return nil, fmt.Errorf("persisted config: %w", err)
	}
	if err := VerifyChain(persisted.State.Records); err != nil {
		return nil, fmt.Errorf("persisted chain: %w", err)
	}
	e := newEngine(persisted.Config, append(opts, WithStore(store))...)
	if cfg.Seed == 0 {
		cfg.Seed = persisted.Config.Seed
	}
	if !persisted.Config.Equal(cfg) {
		e.logger.Warn("ignoring reward config, ledger already created",
			"prize", persisted.Config.PrizeAmount.String(),
			"cooldown", persisted.Config.CooldownPeriod,
			"win_percent", persisted.Config.WinProbabilityPercent)
	}
	for _, g := range persisted.State.Records {
		if g.Nonce != "" {
			e.nonces[nonceKey{g.Author, g.Nonce}] = struct{}{}
		}
	}
	e.current.Store(persisted.State)
	e.logger.Info("ledger opened", "greetings", len(persisted.State.Records), "balance", persisted.State.Balance.String())
	return e, nil
}

// Submit appends a greeting written by author and runs the reward draw. The
// author must come from an authenticated identity, never from the request
// payload. Either the whole submission commits or nothing changes.
func (e *Engine) Submit(ctx context.Context, author, text string) (Receipt, error) {
	return e.submit(ctx, author, "", text)
}

// SubmitOnce is Submit for signed requests: nonce is recorded with the
// greeting and a second greeting of author with the same nonce fails with
// ErrNonceReused, across restarts too when a store is configured.
func (e *Engine) SubmitOnce(ctx context.Context, author, nonce, text string) (Receipt, error) {
	if nonce == "" {
		return Receipt{}, fmt.Errorf("%w: empty nonce", ErrNonceReused)
	}
	return e.submit(ctx, author, nonce, text)
}

func (e *Engine) submit(ctx context.Context, author, nonce, text string) (Receipt, error) {
	if author == "" {
		return Receipt{}, ErrMissingAuthor
	}
	if err := e.textPolicy(text); err != nil {
		return Receipt{}, err
	}

	e.mu.Lock()
	key := nonceKey{author, nonce}
	if nonce != "" {
		if _, used := e.nonces[key]; used {
			e.mu.Unlock()
			return Receipt{}, fmt.Errorf("%w: nonce %q of %s", ErrNonceReused, nonce, author)
		}
	}
	next := e.current.Load().clone()
	now := e.clock().UTC().Truncate(time.Second)
	res := applySubmit(next, e.cfg, e.draw, author, nonce, text, now)
	if e.store != nil {
		if err := e.store.Commit(ctx, res.commit(next)); err != nil {
			e.mu.Unlock()
			return Receipt{}, fmt.Errorf("failed to commit greeting %d: %w", res.greeting.ID, err)
		}
	}
	if nonce != "" {
		e.nonces[key] = struct{}{}
	}
	e.current.Store(next)
	e.notifyMu.Lock()
	e.mu.Unlock()

	e.deliver(res.events)
	e.notifyMu.Unlock()

	e.logger.Debug("greeting appended", "id", res.greeting.ID, "author", author)
	if res.payout != nil {
		e.logger.Info("reward paid", "id", res.greeting.ID, "winner", author,
			"amount", res.payout.Amount.String(), "balance", next.Balance.String())
	}

	r := Receipt{Greeting: res.greeting, Events: res.events, Rewarded: res.payout != nil}
	if res.payout != nil {
		r.Prize = res.payout.Amount
	}
	return r, nil
}

// Greetings returns page number page (1-indexed) of size greetings, newest
// first. A page that starts past the last greeting fails with
// ErrNoMoreRecords; the last page may be partial.
func (e *Engine) Greetings(page, size int) (Page, error) {
	if page < 1 || size < 1 {
		return Page{}, fmt.Errorf("%w: page %d, size %d", ErrInvalidPage, page, size)
	}
	return paginate(e.current.Load().Records, page, size)
}

func paginate(records []Greeting, page, size int) (Page, error) {
	total := len(records)
	pages := total / size
	if total%size != 0 {
		pages++
	}
	if page > pages {
		return Page{}, fmt.Errorf("%w: page %d of %d", ErrNoMoreRecords, page, pages)
	}

	skip := (page - 1) * size
	end := min(skip+size, total)
	out := make([]Greeting, 0, end-skip)
	for i := skip; i < end; i++ {
		out = append(out, records[total-1-i])
	}
	return Page{Records: out, Page: page, Size: size, Total: total, HasMore: end < total}, nil
}

// Total returns the number of greetings stored.
func (e *Engine) Total() int {
	return len(e.current.Load().Records)
}

// Get returns the greeting with the given id.
func (e *Engine) Get(id uint64) (Greeting, error) {
	records := e.current.Load().Records
	if id == 0 || id > uint64(len(records)) {
		return Greeting{}, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return records[id-1], nil
}

// ByAuthor returns every greeting written by author, newest first.
func (e *Engine) ByAuthor(author string) []Greeting {
	records := e.current.Load().Records
	out := make([]Greeting, 0)
	for i := len(records) - 1; i >= 0; i-- {
		if records[i].Author == author {
			out = append(out, records[i])
		}
	}
	return out
}

// Payouts returns the rewards paid so far, oldest first.
func (e *Engine) Payouts() []Payout {
	payouts := e.current.Load().Payouts
	out := make([]Payout, len(payouts))
	copy(out, payouts)
	return out
}

func (e *Engine) Status() Status {
	st := e.current.Load()
	s := Status{
		PrizeAmount:           e.cfg.PrizeAmount,
		InitialBalance:        e.cfg.InitialBalance,
		Balance:               st.Balance,
		CooldownPeriod:        e.cfg.CooldownPeriod,
		WinProbabilityPercent: e.cfg.WinProbabilityPercent,
		Seed:                  st.Seed,
		TotalGreetings:        len(st.Records),
		Payouts:               len(st.Payouts),
		Head:                  genesisHash,
	}
	if !st.LastRewardTime.IsZero() {
		t := st.LastRewardTime
		s.LastRewardTime = &t
	}
	if last := st.last(); last != nil {
		s.Head = last.Hash
	}
	return s
}

// Config returns the reward configuration the ledger was created with.
func (e *Engine) Config() RewardConfig {
	return e.cfg
}

// Verify validates the integrity of the whole chain and the fund accounting.
func (e *Engine) Verify() error {
	st := e.current.Load()
	if err := VerifyChain(st.Records); err != nil {
		return err
	}
	paid := decimal.Zero
	for _, p := range st.Payouts {
		paid = paid.Add(p.Amount)
	}
	if !st.Balance.Add(paid).Equal(e.cfg.InitialBalance) {
		return fmt.Errorf("balance %s plus payouts %s does not match initial balance %s",
			st.Balance, paid, e.cfg.InitialBalance)
	}
	return nil
}

// Subscribe registers l for the events of future commits. The returned
// function removes it.
func (e *Engine) Subscribe(l Listener) (cancel func()) {
	id := e.addListener(l)
	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) addListener(l Listener) uint64 {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()
	e.nextListener++
	e.listeners[e.nextListener] = l
	return e.nextListener
}

func (e *Engine) deliver(events []Event) {
	e.listenersMu.RLock()
	listeners := make([]Listener, 0, len(e.listeners))
	for id := uint64(1); id <= e.nextListener; id++ {
		if l, ok := e.listeners[id]; ok {
			listeners = append(listeners, l)
		}
	}
	e.listenersMu.RUnlock()

	for _, ev := range events {
		for _, l := range listeners {
			l.Notify(ev)
		}
	}
}
