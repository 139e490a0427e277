package monitor

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/applier"
	"github.com/HerbHall/wifiwarden/internal/backend/backendtest"
	"github.com/HerbHall/wifiwarden/internal/config"
	"github.com/HerbHall/wifiwarden/internal/health"
	"github.com/HerbHall/wifiwarden/internal/notify"
	"github.com/HerbHall/wifiwarden/internal/store"
	"github.com/HerbHall/wifiwarden/internal/switcher"
)

// fakeActivator mimics the switcher: a successful activation writes the
// mode marker, like the real thing.
type fakeActivator struct {
	st          *store.Store
	apCalls     int
	clientCalls int
	apErr       error
	clientErr   error
}

func (f *fakeActivator) ActivateAccessPoint(ctx context.Context) error {
	f.apCalls++
	if f.apErr != nil {
		return f.apErr
	}
	return f.st.WriteModeMarker(store.ModeAccessPoint)
}

func (f *fakeActivator) ActivateClient(ctx context.Context) error {
	f.clientCalls++
	if f.clientErr != nil {
		return f.clientErr
	}
	return f.st.WriteModeMarker(store.ModeClient)
}

// scriptedHealth returns a fixed sequence of outcomes, repeating the last
// one when exhausted.
type scriptedHealth struct {
	results []bool
	idx     int
}

func (s *scriptedHealth) Evaluate(ctx context.Context, mode store.Mode) health.Status {
	healthy := false
	if len(s.results) > 0 {
		i := s.idx
		if i >= len(s.results) {
			i = len(s.results) - 1
		}
		healthy = s.results[i]
		s.idx++
	}
	if !healthy {
		return health.Status{LinkUp: true, CheckedAt: time.Now()}
	}
	return health.Status{
		LinkUp:           true,
		HasAddress:       true,
		BackendRunning:   true,
		Associated:       true,
		GatewayReachable: true,
		CheckedAt:        time.Now(),
	}
}

func testConfig() config.MonitorConfig {
	return config.MonitorConfig{
		Interval:      30 * time.Second,
		MaxFailures:   3,
		ShutdownGrace: time.Second,
	}
}

func newTestMonitor(t *testing.T, healthResults ...bool) (*Monitor, *store.Store, *fakeActivator) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	act := &fakeActivator{st: st}
	m := New(st, act, &scriptedHealth{results: healthResults}, NopRecorder{}, notify.NopNotifier{}, testConfig(), zap.NewNop())
	return m, st, act
}

func mustSaveCredentials(t *testing.T, st *store.Store) {
	t.Helper()
	if err := st.SaveClientCredentials("Office", "password123", store.SecurityWPAPSK); err != nil {
		t.Fatalf("SaveClientCredentials() error = %v", err)
	}
}

func mustTick(t *testing.T, m *Monitor) {
	t.Helper()
	if err := m.Tick(context.Background()); err != nil {
		t.Fatalf("Tick() error = %v", err)
	}
}

func mustMode(t *testing.T, st *store.Store, want store.Mode) {
	t.Helper()
	marker, err := st.ReadModeMarker()
	if err != nil {
		t.Fatalf("ReadModeMarker() error = %v", err)
	}
	if marker.Mode != want {
		t.Fatalf("mode = %q, want %q", marker.Mode, want)
	}
}

func TestTick_UnknownWithCredentials_ActivatesClient(t *testing.T) {
	m, st, act := newTestMonitor(t)
	mustSaveCredentials(t, st)

	mustTick(t, m)

	if act.clientCalls != 1 {
		t.Errorf("ActivateClient called %d times, want 1", act.clientCalls)
	}
	if act.apCalls != 0 {
		t.Errorf("ActivateAccessPoint called %d times, want 0", act.apCalls)
	}
	mustMode(t, st, store.ModeClient)
}

func TestTick_UnknownClientFailure_FallsBackToAccessPoint(t *testing.T) {
	m, st, act := newTestMonitor(t)
	mustSaveCredentials(t, st)
	act.clientErr = errors.New("association timed out")

	mustTick(t, m)

	if act.clientCalls != 1 {
		t.Errorf("ActivateClient called %d times, want 1", act.clientCalls)
	}
	if act.apCalls != 1 {
		t.Errorf("ActivateAccessPoint called %d times, want 1", act.apCalls)
	}
	mustMode(t, st, store.ModeAccessPoint)
}

func TestTick_UnknownNoCredentials_ActivatesAccessPoint(t *testing.T) {
	m, st, act := newTestMonitor(t)

	mustTick(t, m)

	if act.clientCalls != 0 {
		t.Errorf("ActivateClient called %d times, want 0", act.clientCalls)
	}
	if act.apCalls != 1 {
		t.Errorf("ActivateAccessPoint called %d times, want 1", act.apCalls)
	}
	mustMode(t, st, store.ModeAccessPoint)
}

func TestTick_ClientHealthy_ResetsCounter(t *testing.T) {
	m, st, act := newTestMonitor(t, true)
	mustSaveCredentials(t, st)
	if err := st.WriteModeMarker(store.ModeClient); err != nil {
		t.Fatalf("WriteModeMarker() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := st.IncrementFailureCount(store.ModeClient); err != nil {
			t.Fatalf("IncrementFailureCount() error = %v", err)
		}
	}

	mustTick(t, m)

	if n, _ := st.FailureCount(store.ModeClient); n != 0 {
		t.Errorf("failure count = %d, want 0", n)
	}
	if act.apCalls+act.clientCalls != 0 {
		t.Errorf("activations = %d, want 0 while healthy", act.apCalls+act.clientCalls)
	}
	mustMode(t, st, store.ModeClient)
}

func TestTick_ClientFailoverThreshold(t *testing.T) {
	m, st, act := newTestMonitor(t, false)
	mustSaveCredentials(t, st)
	if err := st.WriteModeMarker(store.ModeClient); err != nil {
		t.Fatalf("WriteModeMarker() error = %v", err)
	}

	// Two failing ticks stay in client mode.
	for i := 1; i <= 2; i++ {
		mustTick(t, m)
		if act.apCalls != 0 {
			t.Fatalf("tick %d: ActivateAccessPoint called before threshold", i)
		}
		if n, _ := st.FailureCount(store.ModeClient); n != i {
			t.Fatalf("tick %d: failure count = %d, want %d", i, n, i)
		}
		mustMode(t, st, store.ModeClient)
	}

	// Third failing tick triggers exactly one failover and resets the counter.
	mustTick(t, m)
	if act.apCalls != 1 {
		t.Errorf("ActivateAccessPoint called %d times, want 1", act.apCalls)
	}
	if n, _ := st.FailureCount(store.ModeClient); n != 0 {
		t.Errorf("failure count after failover = %d, want 0", n)
	}
	mustMode(t, st, store.ModeAccessPoint)
}

func TestTick_AccessPointWithCredentials_TriesClient(t *testing.T) {
	m, st, act := newTestMonitor(t)
	mustSaveCredentials(t, st)
	if err := st.WriteModeMarker(store.ModeAccessPoint); err != nil {
		t.Fatalf("WriteModeMarker() error = %v", err)
	}

	mustTick(t, m)

	if act.clientCalls != 1 {
		t.Errorf("ActivateClient called %d times, want 1", act.clientCalls)
	}
	mustMode(t, st, store.ModeClient)
	if n, _ := st.FailureCount(store.ModeAccessPoint); n != 0 {
		t.Errorf("AP failure count = %d, want 0 after successful join", n)
	}
}

func TestTick_AccessPointClientFailure_StaysAndCounts(t *testing.T) {
	m, st, act := newTestMonitor(t)
	mustSaveCredentials(t, st)
	if err := st.WriteModeMarker(store.ModeAccessPoint); err != nil {
		t.Fatalf("WriteModeMarker() error = %v", err)
	}
	act.clientErr = errors.New("association timed out")

	mustTick(t, m)

	if act.apCalls != 0 {
		t.Errorf("ActivateAccessPoint called %d times, want 0", act.apCalls)
	}
	mustMode(t, st, store.ModeAccessPoint)
	if n, _ := st.FailureCount(store.ModeAccessPoint); n != 1 {
		t.Errorf("AP failure count = %d, want 1", n)
	}
}

func TestTick_AccessPointSelfHeal(t *testing.T) {
	m, st, act := newTestMonitor(t, false, true)
	if err := st.WriteModeMarker(store.ModeAccessPoint); err != nil {
		t.Fatalf("WriteModeMarker() error = %v", err)
	}

	// Unhealthy tick re-activates AP mode.
	mustTick(t, m)
	if act.apCalls != 1 {
		t.Fatalf("ActivateAccessPoint called %d times, want 1", act.apCalls)
	}

	// Healthy tick afterwards: counter zero, no further activation.
	mustTick(t, m)
	if act.apCalls != 1 {
		t.Errorf("ActivateAccessPoint called %d times, want still 1", act.apCalls)
	}
	if n, _ := st.FailureCount(store.ModeAccessPoint); n != 0 {
		t.Errorf("AP failure count = %d, want 0", n)
	}
}

type fakeClock struct {
	tick chan time.Time
}

func (f *fakeClock) Now() time.Time                         { return time.Now() }
func (f *fakeClock) After(d time.Duration) <-chan time.Time { return f.tick }

func TestRun_TicksAndStopsOnCancel(t *testing.T) {
	m, st, act := newTestMonitor(t)
	_ = st
	clock := &fakeClock{tick: make(chan time.Time)}
	m.SetClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	// First tick runs immediately; advance the clock for a second one.
	clock.tick <- time.Now()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not stop after cancellation")
	}

	if act.apCalls < 1 {
		t.Errorf("ActivateAccessPoint called %d times, want at least 1", act.apCalls)
	}
}

// scenarioHealth derives health from the fake backend's state, with a knob
// to simulate a client link that associates but loses its gateway.
type scenarioHealth struct {
	fake            *backendtest.Fake
	clientUnhealthy bool
}

func (s *scenarioHealth) Evaluate(ctx context.Context, mode store.Mode) health.Status {
	st := health.Status{LinkUp: true, CheckedAt: time.Now()}
	switch mode {
	case store.ModeAccessPoint:
		running, _ := s.fake.AccessPointRunning(ctx)
		st.BackendRunning = running
		st.HasAddress = running
	case store.ModeClient:
		cs, _ := s.fake.ClientState(ctx)
		st.Associated = cs.Associated
		st.HasAddress = cs.Associated
		st.GatewayReachable = cs.Associated && !s.clientUnhealthy
	}
	return st
}

// TestScenario_InstallToFailover walks the full lifecycle: boot-time static
// wired setup with AP mode, credentials arriving, the join, and failover
// back to AP after repeated client health failures.
func TestScenario_InstallToFailover(t *testing.T) {
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	fake := backendtest.NewAssociating()
	sh := &scenarioHealth{fake: fake}
	sw := switcher.New(fake, st, sh, time.Second, zap.NewNop())
	m := New(st, sw, sh, NopRecorder{}, notify.NopNotifier{}, testConfig(), zap.NewNop())
	ctx := context.Background()

	// Install wrote a static_ap pending record; boot applies it.
	if err := st.WritePendingConfiguration(store.PendingStaticAP); err != nil {
		t.Fatalf("WritePendingConfiguration() error = %v", err)
	}
	app := applier.New(st, fake, sw, []string{"192.168.100.1/24"}, zap.NewNop())
	if err := app.Apply(ctx); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if fake.WiredMode != "static" {
		t.Fatalf("wired mode = %q, want static", fake.WiredMode)
	}
	mustMode(t, st, store.ModeAccessPoint)

	// User saves credentials through the portal; the next tick joins.
	mustSaveCredentials(t, st)
	mustTick(t, m)
	mustMode(t, st, store.ModeClient)
	if creds := fake.LastCredentials(); creds == nil || creds.SSID != "Office" {
		t.Fatalf("LastCredentials() = %+v, want SSID Office", creds)
	}

	// The network degrades: three failing ticks trigger failover.
	sh.clientUnhealthy = true
	for i := 0; i < 3; i++ {
		mustTick(t, m)
	}
	mustMode(t, st, store.ModeAccessPoint)
	if n, _ := st.FailureCount(store.ModeClient); n != 0 {
		t.Errorf("client failure count = %d, want 0 after failover", n)
	}
	running, _ := fake.AccessPointRunning(ctx)
	if !running {
		t.Error("access point not running after failover")
	}
}
