package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

// TestNewRejectsInvalidConfig verifies that a ledger cannot be created with a
// configuration that could never pay a reward consistently.
func TestNewRejectsInvalidConfig(t *testing.T) {
	cases := map[string]RewardConfig{
		"zero prize":       testConfig("0", "1", 0, 10),
		"negative balance": testConfig("1", "-1", 0, 10),
		"negative cool":    testConfig("1", "1", -time.Second, 10),
		"percent over 100": testConfig("1", "1", 0, 101),
	}
	for name, cfg := range cases {
		_, err := New(context.Background(), cfg)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", name, err)
		}
	}
}

// TestSubmitAssignsSequentialIDs verifies that for N appends the total is N and
// ids are strictly increasing starting from 1.
func TestSubmitAssignsSequentialIDs(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	receipts := submitN(t, e, 25)

	if e.Total() != 25 {
		t.Fatalf("expected 25 greetings, got %d", e.Total())
	}
	for i, r := range receipts {
		if r.Greeting.ID != uint64(i+1) {
			t.Fatalf("greeting %d has id %d", i+1, r.Greeting.ID)
		}
	}
	if err := e.Verify(); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

// TestSubmitStoresVerbatimWithEngineTimestamp verifies that text and author
// are stored as given and the timestamp comes from the engine clock.
func TestSubmitStoresVerbatimWithEngineTimestamp(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, testConfig("1", "0", 0, 0), WithClock(clock.Now))

	r, err := e.Submit(context.Background(), "0xabc", "  gm  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, err := e.Get(r.Greeting.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Text != "  gm  " {
		t.Fatalf("text should be stored verbatim, got %q", g.Text)
	}
	if g.Author != "0xabc" {
		t.Fatalf("expected author 0xabc, got %s", g.Author)
	}
	if !g.Timestamp.Equal(clock.Now()) {
		t.Fatalf("expected timestamp %s, got %s", clock.Now(), g.Timestamp)
	}
}

// TestSubmitRejectsEmptyText verifies the default text policy and that a
// rejected submission leaves the ledger untouched.
func TestSubmitRejectsEmptyText(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := e.Submit(context.Background(), "0xabc", text)
		if !errors.Is(err, ErrEmptyText) {
			t.Fatalf("expected ErrEmptyText for %q, got %v", text, err)
		}
	}
	if e.Total() != 0 {
		t.Fatalf("rejected greetings must not be stored, got %d", e.Total())
	}

	_, err := e.Submit(context.Background(), "", "gm")
	if !errors.Is(err, ErrMissingAuthor) {
		t.Fatalf("expected ErrMissingAuthor, got %v", err)
	}
}

// TestAllowAnyTextPolicy verifies that the text policy can be relaxed.
func TestAllowAnyTextPolicy(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0), WithTextPolicy(AllowAnyText))
	if _, err := e.Submit(context.Background(), "0xabc", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Total() != 1 {
		t.Fatalf("expected 1 greeting, got %d", e.Total())
	}
}

// TestGreetingsScenario appends ten greetings and checks newest-first paging,
// including a partial last page and an out-of-range request.
func TestGreetingsScenario(t *testing.T) {
	e := newTestEngine(t, testConfig("0.001", "0.1", time.Second, 99))
	texts := []string{
		"Hi there buddy",
		"gm",
		"Hi, what's up?",
		"Random message here",
		"Hey buddy",
		"gn",
		"hi, let's talk",
		"how are you doing?",
		"How have you been?",
		"What will you do with these many greetings?",
	}
	for _, text := range texts {
		if _, err := e.Submit(context.Background(), "0x01", text); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	all, err := e.Greetings(1, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all.Records) != 10 || all.HasMore {
		t.Fatalf("expected 10 greetings and no more, got %d (has more %v)", len(all.Records), all.HasMore)
	}
	for i, g := range all.Records {
		if g.Text != texts[len(texts)-1-i] {
			t.Fatalf("position %d: expected %q, got %q", i, texts[len(texts)-1-i], g.Text)
		}
	}

	page, err := e.Greetings(2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Records) != 2 {
		t.Fatalf("expected 2 greetings, got %d", len(page.Records))
	}
	if page.Records[0].ID != 8 || page.Records[1].ID != 7 {
		t.Fatalf("expected ids 8 and 7, got %d and %d", page.Records[0].ID, page.Records[1].ID)
	}
	if page.Records[0] != all.Records[2] || page.Records[1] != all.Records[3] {
		t.Fatal("page 2 of size 2 does not match the corresponding slice of the full list")
	}
	if !page.HasMore {
		t.Fatal("page 2 of size 2 should report more greetings")
	}

	last, err := e.Greetings(3, 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(last.Records) != 2 || last.Records[1].ID != 1 || last.HasMore {
		t.Fatalf("expected partial last page ending at id 1, got %+v", last)
	}

	_, err = e.Greetings(100, 1)
	if !errors.Is(err, ErrNoMoreRecords) {
		t.Fatalf("expected ErrNoMoreRecords, got %v", err)
	}
}

// TestGreetingsInvalidArguments verifies that page and size are validated.
func TestGreetingsInvalidArguments(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	submitN(t, e, 3)

	for _, args := range [][2]int{{0, 1}, {-1, 1}, {1, 0}, {1, -5}} {
		_, err := e.Greetings(args[0], args[1])
		if !errors.Is(err, ErrInvalidPage) {
			t.Fatalf("expected ErrInvalidPage for %v, got %v", args, err)
		}
	}
}

// TestGreetingsEmptyLedger verifies that the first page of an empty ledger is
// already past the end.
func TestGreetingsEmptyLedger(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	_, err := e.Greetings(1, 10)
	if !errors.Is(err, ErrNoMoreRecords) {
		t.Fatalf("expected ErrNoMoreRecords, got %v", err)
	}
}

// TestRewardPaidOnWinningDraw verifies a single winning draw transfers the
// prize, lowers the balance and records the payout.
func TestRewardPaidOnWinningDraw(t *testing.T) {
	e := newTestEngine(t, testConfig("0.001", "0.1", time.Hour, 20), WithDraw(scriptedDraw(5)))

	r, err := e.Submit(context.Background(), "0xwinner", "gm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !r.Rewarded || !r.Prize.Equal(decimal.RequireFromString("0.001")) {
		t.Fatalf("expected a reward of 0.001, got rewarded=%v prize=%s", r.Rewarded, r.Prize)
	}
	if countEvents(r.Events, EventRewardPaid) != 1 {
		t.Fatalf("expected one reward event, got %+v", r.Events)
	}
	status := e.Status()
	if !status.Balance.Equal(decimal.RequireFromString("0.099")) {
		t.Fatalf("expected balance 0.099, got %s", status.Balance)
	}
	payouts := e.Payouts()
	if len(payouts) != 1 || payouts[0].Winner != "0xwinner" || payouts[0].GreetingID != 1 {
		t.Fatalf("unexpected payouts: %+v", payouts)
	}
}

// TestNoRewardOnLosingDraw verifies that a draw at or above the win percentage
// pays nothing.
func TestNoRewardOnLosingDraw(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "10", 0, 20), WithDraw(scriptedDraw(20, 50, 99)))
	receipts := submitN(t, e, 3)
	for _, r := range receipts {
		if r.Rewarded {
			t.Fatalf("greeting %d should not be rewarded", r.Greeting.ID)
		}
	}
	if !e.Status().Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("balance should be untouched, got %s", e.Status().Balance)
	}
}

// TestRewardNeverPaidWithInsufficientBalance exhausts the fund and asserts that
// later winning draws never reduce it further.
func TestRewardNeverPaidWithInsufficientBalance(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "3", 0, 100), WithDraw(alwaysWin))

	receipts := submitN(t, e, 10)
	paid := 0
	for _, r := range receipts {
		if r.Rewarded {
			paid++
		}
	}
	if paid != 3 {
		t.Fatalf("expected exactly 3 rewards, got %d", paid)
	}
	if !e.Status().Balance.IsZero() {
		t.Fatalf("expected empty fund, got %s", e.Status().Balance)
	}
	for _, r := range receipts[3:] {
		if r.Rewarded {
			t.Fatalf("greeting %d was rewarded from an empty fund", r.Greeting.ID)
		}
		if countEvents(r.Events, EventOutOfBalance) != 1 {
			t.Fatalf("greeting %d should raise one out-of-balance event, got %+v", r.Greeting.ID, r.Events)
		}
	}
	if countEvents(receipts[2].Events, EventOutOfBalance) != 1 {
		t.Fatal("the payout that drains the fund should raise an out-of-balance event")
	}
	if e.Total() != 10 {
		t.Fatalf("greetings must still append, got %d", e.Total())
	}
	if err := e.Verify(); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

// TestRewardNeverPaidTwiceWithinCooldown verifies that a second winning draw
// before the cooldown elapses pays nothing, and that the next one after it
// pays again.
func TestRewardNeverPaidTwiceWithinCooldown(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, testConfig("1", "10", time.Hour, 100), WithDraw(alwaysWin), WithClock(clock.Now))

	first, err := e.Submit(context.Background(), "0x01", "first")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Rewarded {
		t.Fatal("first greeting should be rewarded")
	}

	clock.Advance(10 * time.Minute)
	second, err := e.Submit(context.Background(), "0x02", "second")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Rewarded {
		t.Fatal("second greeting inside the cooldown must not be rewarded")
	}
	if countEvents(second.Events, EventCooldownNotOver) != 1 {
		t.Fatalf("expected a cooldown event, got %+v", second.Events)
	}

	clock.Advance(50 * time.Minute)
	third, err := e.Submit(context.Background(), "0x03", "third")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !third.Rewarded {
		t.Fatal("third greeting after the cooldown should be rewarded")
	}
	if !e.Status().Balance.Equal(decimal.NewFromInt(8)) {
		t.Fatalf("expected balance 8, got %s", e.Status().Balance)
	}
}

// TestSeedAdvancesOnEveryCall verifies that the draw is fed the seed produced
// by the previous draw, whether or not a reward was paid.
func TestSeedAdvancesOnEveryCall(t *testing.T) {
	var seen []uint64
	draw := func(seed uint64) (uint64, uint64) {
		seen = append(seen, seed)
		return seed*31 + 7, 99
	}
	e := newTestEngine(t, testConfig("1", "1", 0, 50), WithDraw(draw))
	submitN(t, e, 3)

	expected := []uint64{42, 42*31 + 7, (42*31+7)*31 + 7}
	if fmt.Sprint(seen) != fmt.Sprint(expected) {
		t.Fatalf("expected seeds %v, got %v", expected, seen)
	}
	if e.Status().Seed != expected[2]*31+7 {
		t.Fatalf("unexpected current seed %d", e.Status().Seed)
	}
}

// TestListenersReceiveEventsInCommitOrder verifies that every greeting event
// reaches subscribers once, in id order, even with concurrent submitters.
func TestListenersReceiveEventsInCommitOrder(t *testing.T) {
	var mu sync.Mutex
	var ids []uint64
	e := newTestEngine(t, testConfig("1", "0", 0, 0), WithListener(ListenerFunc(func(ev Event) {
		if ev.Kind != EventGreeted {
			return
		}
		mu.Lock()
		ids = append(ids, ev.Greeting.ID)
		mu.Unlock()
	})))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				if _, err := e.Submit(context.Background(), fmt.Sprintf("0x%02d", w), "gm"); err != nil {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	if len(ids) != 200 {
		t.Fatalf("expected 200 events, got %d", len(ids))
	}
	for i, id := range ids {
		if id != uint64(i+1) {
			t.Fatalf("event %d carries id %d", i, id)
		}
	}
	if err := e.Verify(); err != nil {
		t.Fatalf("verification failed: %v", err)
	}
}

// TestSubscribeCancel verifies that a cancelled subscription stops receiving
// events.
func TestSubscribeCancel(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	received := 0
	cancel := e.Subscribe(ListenerFunc(func(ev Event) {
		if ev.Kind == EventGreeted {
			received++
		}
	}))

	submitN(t, e, 1)
	cancel()
	submitN(t, e, 1)

	if received != 1 {
		t.Fatalf("expected 1 greeted event before cancel, got %d", received)
	}
}

// TestByAuthor verifies that the greetings of an author come back newest
// first and that other authors are filtered out.
func TestByAuthor(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	submitN(t, e, 9) // authors cycle over three addresses

	mine := e.ByAuthor(fmt.Sprintf("0x%040d", 1))
	if len(mine) != 3 {
		t.Fatalf("expected 3 greetings, got %d", len(mine))
	}
	if mine[0].ID != 8 || mine[1].ID != 5 || mine[2].ID != 2 {
		t.Fatalf("unexpected ids %d %d %d", mine[0].ID, mine[1].ID, mine[2].ID)
	}
	if len(e.ByAuthor("0xnobody")) != 0 {
		t.Fatal("unknown author should have no greetings")
	}
}

// TestGetOutOfRange verifies that Get reports unknown ids.
func TestGetOutOfRange(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	submitN(t, e, 2)
	for _, id := range []uint64{0, 3} {
		if _, err := e.Get(id); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound for id %d, got %v", id, err)
		}
	}
}

// TestStatusReflectsLedger verifies the read-only view of the fund.
func TestStatusReflectsLedger(t *testing.T) {
	clock := newFakeClock()
	e := newTestEngine(t, testConfig("2", "5", time.Minute, 100), WithDraw(alwaysWin), WithClock(clock.Now))

	status := e.Status()
	if status.Head != genesisHash || status.LastRewardTime != nil || status.TotalGreetings != 0 {
		t.Fatalf("unexpected initial status %+v", status)
	}

	r := submitN(t, e, 1)[0]
	status = e.Status()
	if status.Head != r.Greeting.Hash {
		t.Fatalf("head should be the hash of the last greeting")
	}
	if status.LastRewardTime == nil || !status.LastRewardTime.Equal(clock.Now()) {
		t.Fatalf("expected last reward time %s, got %v", clock.Now(), status.LastRewardTime)
	}
	if status.Payouts != 1 || !status.Balance.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("unexpected status %+v", status)
	}
}

// TestSubmitOnceRejectsReusedNonce verifies that a nonce can be used once per
// author, no matter how many greetings were written in between.
func TestSubmitOnceRejectsReusedNonce(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	ctx := context.Background()

	if _, err := e.SubmitOnce(ctx, "0x01", "n-0", "original"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 1; i <= 50; i++ {
		if _, err := e.SubmitOnce(ctx, "0x01", fmt.Sprintf("n-%d", i), "gm"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if _, err := e.SubmitOnce(ctx, "0x01", "n-0", "original"); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected ErrNonceReused, got %v", err)
	}
	if _, err := e.SubmitOnce(ctx, "0x02", "n-0", "original"); err != nil {
		t.Fatalf("nonces of other authors must not collide: %v", err)
	}
	if e.Total() != 52 {
		t.Fatalf("expected 52 greetings, got %d", e.Total())
	}
	g, _ := e.Get(1)
	if g.Nonce != "n-0" {
		t.Fatalf("expected nonce n-0 on the first greeting, got %q", g.Nonce)
	}
}

// TestSubmitOnceFailedCommitFreesNonce verifies that a nonce whose greeting
// was not committed can be used again.
func TestSubmitOnceFailedCommitFreesNonce(t *testing.T) {
	store := &memStore{}
	e, err := Open(context.Background(), testConfig("1", "0", 0, 0), store)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	store.fail = errors.New("disk full")
	if _, err := e.SubmitOnce(context.Background(), "0x01", "n", "gm"); err == nil {
		t.Fatal("expected the commit to fail")
	}
	store.fail = nil
	if _, err := e.SubmitOnce(context.Background(), "0x01", "n", "gm"); err != nil {
		t.Fatalf("nonce of a failed commit should be free: %v", err)
	}
}

func TestSubmitOnceEmptyNonce(t *testing.T) {
	e := newTestEngine(t, testConfig("1", "0", 0, 0))
	if _, err := e.SubmitOnce(context.Background(), "0x01", "", "gm"); !errors.Is(err, ErrNonceReused) {
		t.Fatalf("expected ErrNonceReused, got %v", err)
	}
	if e.Total() != 0 {
		t.Fatalf("expected no greeting, got %d", e.Total())
	}
}

// TestZeroSeedIsRandomized verifies that ledgers created without a seed do
// not share a reward sequence.
func TestZeroSeedIsRandomized(t *testing.T) {
	cfg := testConfig("1", "0", 0, 0)
	cfg.Seed = 0
	a := newTestEngine(t, cfg)
	b := newTestEngine(t, cfg)
	if a.Config().Seed == 0 || a.Status().Seed != a.Config().Seed {
		t.Fatalf("expected a random non-zero seed, got config %d status %d", a.Config().Seed, a.Status().Seed)
	}
	if a.Config().Seed == b.Config().Seed {
		t.Fatalf("two ledgers drew the same seed %d", a.Config().Seed)
	}
}
