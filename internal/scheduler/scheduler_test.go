package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"delta-farm/internal/chat"
	"delta-farm/internal/config"
	"delta-farm/internal/controller"
	"delta-farm/internal/fleet"
	"delta-farm/internal/journal"
	"delta-farm/internal/marketdata"
	"delta-farm/internal/planner"
)

type fixture struct {
	scheduler *Scheduler
	fleet     *fleet.Fleet
	connector *recordingConnector
	journal   string
}

func newFixture(t *testing.T, accounts int, reference ReferenceSource) *fixture {
	t.Helper()

	journalPath := filepath.Join(t.TempDir(), "trading.log")
	jr, err := journal.Open(journalPath, nil)
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { jr.Close() })

	conn := &recordingConnector{}
	proxies := make([]config.ProxyConfig, accounts)
	flt, err := fleet.Connect(context.Background(), conn, proxies, nil)
	if err != nil {
		t.Fatalf("connect fleet: %v", err)
	}
	t.Cleanup(func() { flt.ReleaseAll() })

	rng := rand.New(rand.NewSource(9))
	controllers := make([]*controller.Controller, 0, accounts)
	for _, acct := range flt.Accounts() {
		controllers = append(controllers,
			controller.New(acct.ID, acct.Name, flt.Stop(), jr, config.TimingConfig{}, rng, nil))
	}

	sched, err := New(
		flt,
		controllers,
		planner.NewWithRand(rng),
		jr,
		nil,
		reference,
		map[string]float64{"BTC": 1},
		config.TradingConfig{MarginPerSide: 50, Leverage: 10, DurationMinMin: 5, DurationMaxMin: 5},
		config.TimingConfig{},
		rng,
		nil,
	)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	sched.holdUnit = time.Millisecond

	return &fixture{scheduler: sched, fleet: flt, connector: conn, journal: journalPath}
}

func (f *fixture) journalText(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(f.journal)
	if err != nil {
		t.Fatalf("read journal: %v", err)
	}
	return string(data)
}

func TestRunIteration_FullCycle(t *testing.T) {
	f := newFixture(t, 4, nil)

	if err := f.scheduler.runIteration(context.Background()); err != nil {
		t.Fatalf("runIteration returned error: %v", err)
	}

	longSum, shortSum := 0, 0
	for i, sess := range f.connector.sessions {
		cmds := sess.commands()
		if len(cmds) != 2 {
			t.Fatalf("session %d got %d commands, want 2: %v", i, len(cmds), cmds)
		}

		var direction string
		var coin string
		var leverage, amount int
		if _, err := fmt.Sscanf(cmds[0], "/%s %s x%d %d", &direction, &coin, &leverage, &amount); err != nil {
			t.Fatalf("session %d malformed open command %q: %v", i, cmds[0], err)
		}
		if coin != "BTC" || leverage != 10 {
			t.Errorf("session %d open command %q: coin=%q leverage=%d", i, cmds[0], coin, leverage)
		}
		switch direction {
		case "long":
			longSum += amount
		case "short":
			shortSum += amount
		default:
			t.Errorf("session %d unexpected direction %q", i, direction)
		}

		if cmds[1] != "/close BTC 100%" {
			t.Errorf("session %d close command=%q", i, cmds[1])
		}
	}
	if longSum != 50 || shortSum != 50 {
		t.Errorf("side sums long=%d short=%d, want 50/50", longSum, shortSum)
	}

	text := f.journalText(t)
	for _, want := range []string{
		"🐇🟢 Starting new iteration:",
		"Trying to open long position on BTC with amount",
		"Trying to open short position on BTC with amount",
		"for 5 minutes",
		"Trying to close position on BTC",
		"🥳🎉 Iteration is done, got you some points!",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("journal missing %q", want)
		}
	}
}

func TestRun_ReturnsWhenStopTriggered(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.fleet.Stop().Trigger()

	if err := f.scheduler.Run(context.Background()); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	for i, sess := range f.connector.sessions {
		if len(sess.commands()) != 0 {
			t.Errorf("session %d received commands after stop: %v", i, sess.commands())
		}
	}
}

func TestRun_ReturnsOnContextCancel(t *testing.T) {
	f := newFixture(t, 2, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := f.scheduler.Run(ctx); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
}

func TestQueryBalances(t *testing.T) {
	f := newFixture(t, 3, nil)

	if err := f.scheduler.QueryBalances(context.Background()); err != nil {
		t.Fatalf("QueryBalances returned error: %v", err)
	}

	for i, sess := range f.connector.sessions {
		cmds := sess.commands()
		if len(cmds) != 1 || cmds[0] != "/balances" {
			t.Errorf("session %d commands=%v, want [/balances]", i, cmds)
		}
	}
	if text := f.journalText(t); !strings.Contains(text, "Trying to get balance") {
		t.Errorf("journal missing balance query line")
	}
}

func TestSend_FailureTriggersFleetStop(t *testing.T) {
	f := newFixture(t, 2, nil)
	f.connector.sessions[1].failSend = true

	err := f.scheduler.QueryBalances(context.Background())
	if err == nil {
		t.Fatalf("expected send failure to surface")
	}
	if !f.fleet.Stop().Stopped() {
		t.Errorf("send failure must trigger fleet stop")
	}
}

func TestRunIteration_LogsReference(t *testing.T) {
	ref := &stubReference{snapshot: marketdata.Reference{
		Market:    "BTC/USDT:USDT",
		Timeframe: "1h",
		Price:     64250.5,
		ATR:       812.3,
	}}
	f := newFixture(t, 2, ref)

	if err := f.scheduler.runIteration(context.Background()); err != nil {
		t.Fatalf("runIteration returned error: %v", err)
	}

	if ref.calls != 1 {
		t.Errorf("reference snapshot calls=%d, want 1", ref.calls)
	}
	if text := f.journalText(t); !strings.Contains(text, "📊 BTC reference price 64250.50, 1h ATR 812.30") {
		t.Errorf("journal missing reference line, got: %q", text)
	}
}

func TestRunIteration_ReferenceErrorIsNonFatal(t *testing.T) {
	ref := &stubReference{err: errors.New("exchange down")}
	f := newFixture(t, 2, ref)

	if err := f.scheduler.runIteration(context.Background()); err != nil {
		t.Fatalf("reference failure must not abort iteration: %v", err)
	}
}

type stubReference struct {
	snapshot marketdata.Reference
	err      error
	calls    int
}

func (s *stubReference) Snapshot(_ context.Context, _ string) (marketdata.Reference, error) {
	s.calls++
	if s.err != nil {
		return marketdata.Reference{}, s.err
	}
	return s.snapshot, nil
}

type recordingConnector struct {
	mu       sync.Mutex
	sessions []*recordingSession
}

func (r *recordingConnector) Connect(_ context.Context, index int, _ config.ProxyConfig) (chat.Session, <-chan chat.Inbound, string, error) {
	sess := &recordingSession{}

	r.mu.Lock()
	for len(r.sessions) <= index {
		r.sessions = append(r.sessions, nil)
	}
	r.sessions[index] = sess
	r.mu.Unlock()

	inbound := make(chan chat.Inbound)
	close(inbound)
	return sess, inbound, fmt.Sprintf("acct_%d", index), nil
}

type recordingSession struct {
	mu       sync.Mutex
	sent     []string
	failSend bool
}

func (r *recordingSession) SendMessage(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSend {
		return errors.New("transport down")
	}
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSession) Close() error { return nil }

func (r *recordingSession) commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.sent))
	copy(out, r.sent)
	return out
}
