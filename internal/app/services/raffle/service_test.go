package raffle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	domain "github.com/R3E-Network/raffle_layer/internal/app/domain/raffle"
	"github.com/R3E-Network/raffle_layer/internal/app/domain/random"
	ledgersvc "github.com/R3E-Network/raffle_layer/internal/app/services/ledger"
	"github.com/R3E-Network/raffle_layer/internal/app/storage/memory"
)

type fakeOracle struct {
	mu       sync.Mutex
	next     random.RequestID
	err      error
	requests []random.Request
}

func (o *fakeOracle) RequestRandomWords(_ context.Context, req random.Request) (random.RequestID, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return 0, o.err
	}
	o.next++
	o.requests = append(o.requests, req)
	return o.next, nil
}

func (o *fakeOracle) calls() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.requests)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type harness struct {
	svc    *Service
	oracle *fakeOracle
	ledger *ledgersvc.Service
	store  *memory.Store
	clock  *fakeClock
	events *recordingPublisher
	cfg    domain.Config
}

func newHarness(t *testing.T, fee int64) *harness {
	t.Helper()
	store := memory.New()
	h := &harness{
		oracle: &fakeOracle{},
		ledger: ledgersvc.New(store, "", nil),
		store:  store,
		clock:  &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)},
		events: &recordingPublisher{},
	}
	cfg := domain.Config{
		EntranceFee: big.NewInt(fee),
		Interval:    30 * time.Second,
		Randomness:  random.Params{KeyHash: "0xkey", SubscriptionID: 1, Confirmations: 1, CallbackGasLimit: 500000, NumWords: 1},
	}
	h.cfg = cfg
	h.svc = h.build(t)
	return h
}

func (h *harness) build(t *testing.T) *Service {
	t.Helper()
	svc, err := New(h.cfg, h.oracle, h.ledger, nil,
		WithClock(h.clock.Now), WithPublisher(h.events), WithStore(h.store))
	if err != nil {
		t.Fatalf("new raffle: %v", err)
	}
	return svc
}

// restart replaces the engine with a fresh one restored from the store.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	h.svc = h.build(t)
	if err := h.svc.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
}

func (h *harness) enter(t *testing.T, participant string, stake int64) int {
	t.Helper()
	idx, err := h.svc.Enter(context.Background(), participant, big.NewInt(stake))
	if err != nil {
		t.Fatalf("enter %s: %v", participant, err)
	}
	return idx
}

func words(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func TestService_SingleEntryRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	if idx := h.enter(t, "p1", 100); idx != 0 {
		t.Fatalf("expected index 0, got %d", idx)
	}
	if h.svc.Pool().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected pool 100, got %s", h.svc.Pool())
	}

	early := h.clock.Advance(29 * time.Second)
	if r := h.svc.CheckReady(ctx, early); r.Ready || r.Reason != domain.ReasonIntervalNotElapsed {
		t.Fatalf("expected interval not elapsed, got %+v", r)
	}
	now := h.clock.Advance(time.Second)
	if r := h.svc.CheckReady(ctx, now); !r.Ready {
		t.Fatalf("expected ready after interval, got %+v", r)
	}

	id, err := h.svc.Close(ctx, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if id != 1 || h.svc.PendingRequestID() != id || h.svc.State() != domain.StateDrawing {
		t.Fatalf("unexpected drawing state: id=%d pending=%d state=%s", id, h.svc.PendingRequestID(), h.svc.State())
	}
	if req := h.oracle.requests[0]; req.Consumer != DefaultConsumer || req.CallbackGasLimit != 500000 || req.NumWords != 1 {
		t.Fatalf("randomness params not forwarded: %+v", req)
	}

	if _, err := h.svc.Enter(ctx, "late", big.NewInt(100)); !errors.Is(err, ErrRoundNotOpen) {
		t.Fatalf("expected ErrRoundNotOpen, got %v", err)
	}
	if h.svc.EntryCount() != 1 || h.svc.Pool().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("round must stay frozen while drawing")
	}

	settledAt := h.clock.Advance(5 * time.Second)
	if err := h.svc.OnRandomness(ctx, id, words(7)); err != nil {
		t.Fatalf("on randomness: %v", err)
	}
	if h.svc.RecentWinner() != "p1" {
		t.Fatalf("expected p1 to win, got %q", h.svc.RecentWinner())
	}
	if h.svc.State() != domain.StateOpen || h.svc.EntryCount() != 0 || h.svc.Pool().Sign() != 0 || h.svc.PendingRequestID() != 0 {
		t.Fatalf("round not reset: %+v", h.svc.Snapshot())
	}
	if !h.svc.LastTimestamp().Equal(settledAt) || h.svc.RoundNumber() != 2 {
		t.Fatalf("unexpected new round: opened=%s number=%d", h.svc.LastTimestamp(), h.svc.RoundNumber())
	}

	won, _ := h.ledger.BalanceOf(ctx, "p1")
	if won.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected p1 to receive 100, got %s", won)
	}
	escrow, _ := h.ledger.Balance(ctx)
	if escrow.Sign() != 0 {
		t.Fatalf("expected escrow drained, got %s", escrow)
	}

	latest, err := h.store.LatestSettlement(ctx)
	if err != nil {
		t.Fatalf("latest settlement: %v", err)
	}
	if latest.Round != 1 || latest.Winner != "p1" || latest.WinnerIndex != 0 || latest.EntryCount != 1 || latest.TransferID == "" {
		t.Fatalf("unexpected settlement: %+v", latest)
	}

	got := h.events.names()
	want := []string{domain.EventEntryRecorded, domain.EventDrawRequested, domain.EventWinnerPicked}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
}

func TestService_WinnerIndexIsWordModuloEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	h.enter(t, "alice", 50)
	h.enter(t, "bob", 50)
	h.enter(t, "carol", 50)

	now := h.clock.Advance(30 * time.Second)
	id, err := h.svc.Close(ctx, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.svc.OnRandomness(ctx, id, words(52)); err != nil {
		t.Fatalf("on randomness: %v", err)
	}
	if h.svc.RecentWinner() != "bob" {
		t.Fatalf("expected bob (52 mod 3 = 1), got %q", h.svc.RecentWinner())
	}
	bob, _ := h.ledger.BalanceOf(ctx, "bob")
	if bob.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("expected bob to receive 150, got %s", bob)
	}
}

func TestService_DuplicateEntriesAndLargeWords(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)
	h.enter(t, "alice", 10)
	h.enter(t, "alice", 25)
	h.enter(t, "bob", 10)

	if h.svc.Pool().Cmp(big.NewInt(45)) != 0 {
		t.Fatalf("pool must be the sum of stakes, got %s", h.svc.Pool())
	}
	if who, err := h.svc.Entry(1); err != nil || who != "alice" {
		t.Fatalf("expected alice at index 1, got %q %v", who, err)
	}
	if _, err := h.svc.Entry(3); !errors.Is(err, ErrEntryNotFound) {
		t.Fatalf("expected ErrEntryNotFound, got %v", err)
	}

	id, err := h.svc.Close(ctx, h.clock.Advance(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	huge, _ := new(big.Int).SetString("115792089237316195423570985008687907853269984665640564039457584007913129639935", 10)
	// 2^256-1 mod 3 == 0
	if err := h.svc.OnRandomness(ctx, id, []*big.Int{huge}); err != nil {
		t.Fatalf("on randomness: %v", err)
	}
	if h.svc.RecentWinner() != "alice" {
		t.Fatalf("expected alice, got %q", h.svc.RecentWinner())
	}
	won, _ := h.ledger.BalanceOf(ctx, "alice")
	if won.Cmp(big.NewInt(45)) != 0 {
		t.Fatalf("winner must receive the full pool, got %s", won)
	}
}

func TestService_NegativeWordStaysInRange(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 1)
	h.enter(t, "a", 1)
	h.enter(t, "b", 1)
	h.enter(t, "c", 1)

	id, err := h.svc.Close(ctx, h.clock.Advance(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := h.svc.OnRandomness(ctx, id, words(-1)); err != nil {
		t.Fatalf("on randomness: %v", err)
	}
	if h.svc.RecentWinner() != "c" {
		t.Fatalf("expected c (-1 mod 3 = 2), got %q", h.svc.RecentWinner())
	}
}

func TestService_InsufficientStake(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	if _, err := h.svc.Enter(ctx, "p1", big.NewInt(99)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake, got %v", err)
	}
	if _, err := h.svc.Enter(ctx, "p1", nil); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake for nil stake, got %v", err)
	}
	if _, err := h.svc.Enter(ctx, " ", big.NewInt(100)); !errors.Is(err, ErrInvalidParticipant) {
		t.Fatalf("expected ErrInvalidParticipant, got %v", err)
	}
	if h.svc.EntryCount() != 0 || h.svc.Pool().Sign() != 0 {
		t.Fatalf("rejected entries must not mutate the round")
	}

	h.enter(t, "p2", 150)
	if _, err := h.svc.Close(ctx, h.clock.Advance(30*time.Second)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.svc.Enter(ctx, "p1", big.NewInt(99)); !errors.Is(err, ErrInsufficientStake) {
		t.Fatalf("expected ErrInsufficientStake while drawing, got %v", err)
	}
	if h.svc.Pool().Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("pool changed: %s", h.svc.Pool())
	}
}

func TestService_CloseWithoutReadinessDoesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	now := h.clock.Advance(time.Minute)
	if r := h.svc.CheckReady(ctx, now); r.Ready || r.Reason != domain.ReasonNoEntries {
		t.Fatalf("expected no entries, got %+v", r)
	}
	if _, err := h.svc.Close(ctx, now); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected ErrUpkeepNotNeeded, got %v", err)
	}

	h.enter(t, "p1", 100)
	if _, err := h.svc.Close(ctx, h.svc.LastTimestamp().Add(time.Second)); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected ErrUpkeepNotNeeded before the interval, got %v", err)
	}
	if h.oracle.calls() != 0 || h.svc.State() != domain.StateOpen {
		t.Fatalf("a rejected close must not reach the oracle or change state")
	}

	id, err := h.svc.Close(ctx, now)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := h.svc.Close(ctx, now); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected second close to be rejected, got %v", err)
	}
	if r := h.svc.CheckReady(ctx, now); r.Reason != domain.ReasonNotOpen {
		t.Fatalf("expected not open while drawing, got %+v", r)
	}
	if h.oracle.calls() != 1 || h.svc.PendingRequestID() != id {
		t.Fatalf("second close must not issue another request")
	}
}

func TestService_CloseRequiresEscrowBalance(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 0)

	h.enter(t, "free", 0)
	now := h.clock.Advance(time.Minute)
	if r := h.svc.CheckReady(ctx, now); r.Ready || r.Reason != domain.ReasonNoBalance {
		t.Fatalf("expected no balance verdict, got %+v", r)
	}
	if _, err := h.svc.Close(ctx, now); !errors.Is(err, ErrUpkeepNotNeeded) {
		t.Fatalf("expected ErrUpkeepNotNeeded, got %v", err)
	}
}

func TestService_OracleFailureLeavesRoundOpen(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.enter(t, "p1", 100)
	h.oracle.err = errors.New("coordinator offline")

	if _, err := h.svc.Close(ctx, h.clock.Advance(time.Minute)); err == nil {
		t.Fatalf("expected close to fail")
	}
	if h.svc.State() != domain.StateOpen || h.svc.PendingRequestID() != 0 || h.svc.EntryCount() != 1 {
		t.Fatalf("failed request must not mutate the round: %+v", h.svc.Snapshot())
	}
}

func TestService_RejectsUnknownOrStaleRequests(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)

	if err := h.svc.OnRandomness(ctx, 0, words(1)); !errors.Is(err, ErrUnknownOrStaleRequest) {
		t.Fatalf("expected stale error while open, got %v", err)
	}

	h.enter(t, "p1", 100)
	h.enter(t, "p2", 100)
	id, err := h.svc.Close(ctx, h.clock.Advance(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	for _, bad := range []random.RequestID{0, id + 1} {
		if err := h.svc.OnRandomness(ctx, bad, words(1)); !errors.Is(err, ErrUnknownOrStaleRequest) {
			t.Fatalf("expected stale error for %d, got %v", bad, err)
		}
	}
	if err := h.svc.OnRandomness(ctx, id, nil); !errors.Is(err, ErrNoRandomWords) {
		t.Fatalf("expected ErrNoRandomWords, got %v", err)
	}
	if h.svc.State() != domain.StateDrawing || h.svc.PendingRequestID() != id || h.svc.Pool().Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("rejected callbacks must not mutate the round: %+v", h.svc.Snapshot())
	}

	if err := h.svc.OnRandomness(ctx, id, words(1)); err != nil {
		t.Fatalf("on randomness: %v", err)
	}
	if err := h.svc.OnRandomness(ctx, id, words(1)); !errors.Is(err, ErrUnknownOrStaleRequest) {
		t.Fatalf("expected duplicate delivery to be rejected, got %v", err)
	}
	if h.svc.RecentWinner() != "p2" || h.svc.RoundNumber() != 2 {
		t.Fatalf("duplicate delivery must not settle twice")
	}
}

func TestService_PayoutFailureKeepsRoundDrawing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	h.enter(t, "p1", 100)
	h.enter(t, "p2", 100)
	id, err := h.svc.Close(ctx, h.clock.Advance(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	h.ledger.RejectRecipient("p2", "contract cannot receive")
	err = h.svc.OnRandomness(ctx, id, words(3))
	if !errors.Is(err, ErrPayoutFailed) || !errors.Is(err, ledgersvc.ErrRecipientRejected) {
		t.Fatalf("expected ErrPayoutFailed wrapping the ledger error, got %v", err)
	}
	snap := h.svc.Snapshot()
	if snap.State != domain.StateDrawing || snap.PendingRequestID != id || len(snap.Entries) != 2 || snap.Pool.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("payout failure must leave the round untouched: %+v", snap)
	}
	if h.svc.RecentWinner() != "" {
		t.Fatalf("no winner may be recorded before payout")
	}
	if _, err := h.store.LatestSettlement(ctx); err == nil {
		t.Fatalf("no settlement may be stored before payout")
	}

	h.ledger.AcceptRecipient("p2")
	if err := h.svc.OnRandomness(ctx, id, words(3)); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if h.svc.RecentWinner() != "p2" || h.svc.RoundNumber() != 2 || h.svc.State() != domain.StateOpen {
		t.Fatalf("retry must settle exactly once: %+v", h.svc.Snapshot())
	}
	won, _ := h.ledger.BalanceOf(ctx, "p2")
	if won.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected p2 to receive 200, got %s", won)
	}
	if err := h.svc.OnRandomness(ctx, id, words(3)); !errors.Is(err, ErrUnknownOrStaleRequest) {
		t.Fatalf("expected stale error after settlement, got %v", err)
	}
}

func TestService_RestoreFromHistory(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 100)
	if _, err := h.store.RecordSettlement(ctx, domain.Settlement{Round: 3, RequestID: 9, Winner: "zed", Amount: big.NewInt(300)}); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}

	if err := h.svc.Restore(ctx); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if h.svc.RecentWinner() != "zed" || h.svc.RoundNumber() != 4 {
		t.Fatalf("unexpected restored state: winner=%q round=%d", h.svc.RecentWinner(), h.svc.RoundNumber())
	}
}

func TestService_RestartKeepsOpenRound(t *testing.T) {
	h := newHarness(t, 50)
	opened := h.svc.LastTimestamp()
	h.enter(t, "alice", 50)
	h.enter(t, "bob", 50)

	h.clock.Advance(time.Hour)
	h.restart(t)

	if h.svc.State() != domain.StateOpen || h.svc.EntryCount() != 2 || h.svc.Pool().Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("round lost on restart: state=%s entries=%d pool=%s", h.svc.State(), h.svc.EntryCount(), h.svc.Pool())
	}
	if !h.svc.LastTimestamp().Equal(opened) {
		t.Fatalf("expected opened_at %s, got %s", opened, h.svc.LastTimestamp())
	}
	if who, _ := h.svc.Entry(1); who != "bob" {
		t.Fatalf("expected bob at index 1, got %q", who)
	}
}

func TestService_RestartMidDrawSettlesPendingRequest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	h.enter(t, "alice", 50)
	h.enter(t, "bob", 50)
	id, err := h.svc.Close(ctx, h.clock.Advance(time.Minute))
	if err != nil {
		t.Fatalf("close: %v", err)
	}

	h.restart(t)
	if h.svc.State() != domain.StateDrawing || h.svc.PendingRequestID() != id {
		t.Fatalf("expected drawing with pending %s, got %s pending %s", id, h.svc.State(), h.svc.PendingRequestID())
	}
	if _, err := h.svc.Enter(ctx, "carol", big.NewInt(50)); !errors.Is(err, ErrRoundNotOpen) {
		t.Fatalf("expected entries rejected while drawing, got %v", err)
	}

	if err := h.svc.OnRandomness(ctx, id, words(3)); err != nil {
		t.Fatalf("settle after restart: %v", err)
	}
	won, err := h.ledger.BalanceOf(ctx, "bob")
	if err != nil {
		t.Fatalf("balance of bob: %v", err)
	}
	if won.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected bob to receive 100, got %s", won)
	}

	stored, err := h.store.LoadRound(ctx)
	if err != nil {
		t.Fatalf("load round: %v", err)
	}
	if stored.Number != 2 || stored.State != domain.StateOpen || len(stored.Entries) != 0 || stored.PendingRequestID != 0 {
		t.Fatalf("expected fresh round 2 stored, got %+v", stored)
	}
}

func TestService_RestoreSkipsSettledRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	settledAt := time.Date(2024, 1, 1, 12, 5, 0, 0, time.UTC)
	if err := h.store.SaveRound(ctx, domain.Round{Number: 3, State: domain.StateDrawing, Entries: []string{"alice"}, Pool: big.NewInt(50), PendingRequestID: 4}); err != nil {
		t.Fatalf("seed round: %v", err)
	}
	if _, err := h.store.RecordSettlement(ctx, domain.Settlement{Round: 3, RequestID: 4, Winner: "alice", Amount: big.NewInt(50), SettledAt: settledAt}); err != nil {
		t.Fatalf("seed settlement: %v", err)
	}

	h.restart(t)
	if h.svc.RoundNumber() != 4 || h.svc.State() != domain.StateOpen || h.svc.EntryCount() != 0 {
		t.Fatalf("expected fresh round 4, got round=%d state=%s entries=%d", h.svc.RoundNumber(), h.svc.State(), h.svc.EntryCount())
	}
	if !h.svc.LastTimestamp().Equal(settledAt) || h.svc.RecentWinner() != "alice" {
		t.Fatalf("unexpected restored round opened=%s winner=%q", h.svc.LastTimestamp(), h.svc.RecentWinner())
	}
}

func TestService_RestoreRejectsCorruptRound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 50)
	if err := h.store.SaveRound(ctx, domain.Round{Number: 1, State: domain.StateDrawing, Entries: []string{"alice"}, Pool: big.NewInt(50)}); err != nil {
		t.Fatalf("seed round: %v", err)
	}
	svc := h.build(t)
	if err := svc.Restore(ctx); err == nil {
		t.Fatalf("expected drawing round without a pending request to be rejected")
	}
}

func TestService_ConcurrentEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, 10)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.svc.Enter(ctx, "p", big.NewInt(10)); err != nil {
				t.Errorf("enter: %v", err)
			}
		}()
	}
	wg.Wait()

	if h.svc.EntryCount() != 50 || h.svc.Pool().Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected 50 entries and pool 500, got %d and %s", h.svc.EntryCount(), h.svc.Pool())
	}
	escrow, _ := h.ledger.Balance(ctx)
	if escrow.Cmp(h.svc.Pool()) != 0 {
		t.Fatalf("escrow %s does not match pool %s", escrow, h.svc.Pool())
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	store := memory.New()
	escrow := ledgersvc.New(store, "", nil)
	if _, err := New(domain.Config{Interval: time.Second}, &fakeOracle{}, escrow, nil); err == nil {
		t.Fatalf("expected missing entrance fee to fail")
	}
	if _, err := New(domain.Config{EntranceFee: big.NewInt(1)}, &fakeOracle{}, escrow, nil); err == nil {
		t.Fatalf("expected zero interval to fail")
	}
	if _, err := New(domain.Config{EntranceFee: big.NewInt(1), Interval: time.Second}, nil, escrow, nil); err == nil {
		t.Fatalf("expected missing oracle to fail")
	}
}
