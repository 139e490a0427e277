// Package monitor runs the mode decision loop. Once per interval it reads
// the durable mode marker, evaluates interface health, and drives the
// switcher toward the mode the stored state calls for. Decisions are
// sequential: a tick's switch completes before the next tick begins.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/config"
	"github.com/HerbHall/wifiwarden/internal/health"
	"github.com/HerbHall/wifiwarden/internal/metrics"
	"github.com/HerbHall/wifiwarden/internal/notify"
	"github.com/HerbHall/wifiwarden/internal/store"
	"github.com/HerbHall/wifiwarden/internal/switcher"
)

// Clock abstracts time for deterministic loop tests.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Activator is the fragment of the switcher the monitor drives.
type Activator interface {
	ActivateAccessPoint(ctx context.Context) error
	ActivateClient(ctx context.Context) error
}

// HealthEvaluator matches the health checker's evaluation method.
type HealthEvaluator interface {
	Evaluate(ctx context.Context, mode store.Mode) health.Status
}

// Recorder journals monitor decisions. Implemented by *journal.Journal.
type Recorder interface {
	RecordTransition(ctx context.Context, from, to, detail string) error
	RecordHealth(ctx context.Context, mode string, healthy bool, detail string) error
}

// NopRecorder discards all records.
type NopRecorder struct{}

func (NopRecorder) RecordTransition(context.Context, string, string, string) error { return nil }
func (NopRecorder) RecordHealth(context.Context, string, bool, string) error       { return nil }

// Monitor is the control loop.
type Monitor struct {
	store     *store.Store
	activator Activator
	health    HealthEvaluator
	journal   Recorder
	notifier  notify.Notifier
	logger    *zap.Logger
	clock     Clock

	interval      time.Duration
	maxFailures   int
	shutdownGrace time.Duration
}

// New creates a Monitor. journal and notifier may be NopRecorder/NopNotifier
// but must not be nil.
func New(st *store.Store, act Activator, he HealthEvaluator, j Recorder, n notify.Notifier, cfg config.MonitorConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:         st,
		activator:     act,
		health:        he,
		journal:       j,
		notifier:      n,
		logger:        logger,
		clock:         realClock{},
		interval:      cfg.Interval,
		maxFailures:   cfg.MaxFailures,
		shutdownGrace: cfg.ShutdownGrace,
	}
}

// SetClock replaces the wall clock. Tests only.
func (m *Monitor) SetClock(c Clock) { m.clock = c }

// Run executes the decision loop until ctx is cancelled. A tick in flight
// when cancellation arrives is given the shutdown grace period to finish
// before it is aborted.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("monitor starting",
		zap.Duration("interval", m.interval),
		zap.Int("max_failures", m.maxFailures))

	for {
		m.runGuarded(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info("monitor stopped")
			return nil
		case <-m.clock.After(m.interval):
		}
	}
}

// runGuarded runs one tick, bounding it by the shutdown grace period once
// the parent context is cancelled.
func (m *Monitor) runGuarded(ctx context.Context) {
	tickCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := m.Tick(tickCtx); err != nil {
			m.logger.Error("tick skipped", zap.Error(err))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		select {
		case <-done:
		case <-m.clock.After(m.shutdownGrace):
			m.logger.Warn("aborting in-flight tick after shutdown grace")
			cancel()
			<-done
		}
	}
}

// Tick makes one mode decision. It returns an error only when persistent
// state cannot be read (no decision possible); activation and health
// failures are absorbed into failure counters and the next tick.
func (m *Monitor) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ObserveTick(time.Since(start)) }()

	marker, err := m.store.ReadModeMarker()
	if err != nil {
		return fmt.Errorf("read mode marker: %w", err)
	}
	hasCreds := m.store.HasClientCredentials()
	metrics.SetMode(string(marker.Mode))

	switch marker.Mode {
	case store.ModeClient:
		m.decideClient(ctx)
	case store.ModeAccessPoint:
		m.decideAccessPoint(ctx, hasCreds)
	default:
		m.decideUnknown(ctx, hasCreds)
	}
	return nil
}

func (m *Monitor) decideUnknown(ctx context.Context, hasCreds bool) {
	if hasCreds {
		if err := m.activate(ctx, store.ModeUnknown, store.ModeClient, "initial decision"); err == nil {
			return
		} else if !errors.Is(err, context.Canceled) {
			m.logger.Warn("initial client activation failed, falling back to access point", zap.Error(err))
		}
	}
	if err := m.activate(ctx, store.ModeUnknown, store.ModeAccessPoint, "initial decision"); err != nil {
		m.logger.Error("initial access point activation failed", zap.Error(err))
	}
}

func (m *Monitor) decideAccessPoint(ctx context.Context, hasCreds bool) {
	if hasCreds {
		// Credentials appeared while serving the setup portal. Try to join.
		if err := m.activate(ctx, store.ModeAccessPoint, store.ModeClient, "credentials available"); err != nil {
			m.logger.Warn("client activation failed, staying in access point mode", zap.Error(err))
			m.bumpFailures(store.ModeAccessPoint)
			return
		}
		m.clearFailures(store.ModeAccessPoint)
		return
	}

	status := m.health.Evaluate(ctx, store.ModeAccessPoint)
	healthy := status.HealthyFor(store.ModeAccessPoint)
	m.recordHealth(ctx, store.ModeAccessPoint, healthy, status)

	if healthy {
		m.clearFailures(store.ModeAccessPoint)
		return
	}

	m.bumpFailures(store.ModeAccessPoint)
	if err := m.activate(ctx, store.ModeAccessPoint, store.ModeAccessPoint, "self-heal"); err != nil {
		m.logger.Error("access point self-heal failed", zap.Error(err))
		return
	}
	m.clearFailures(store.ModeAccessPoint)
}

func (m *Monitor) decideClient(ctx context.Context) {
	status := m.health.Evaluate(ctx, store.ModeClient)
	healthy := status.HealthyFor(store.ModeClient)
	m.recordHealth(ctx, store.ModeClient, healthy, status)

	if healthy {
		m.clearFailures(store.ModeClient)
		return
	}

	count, err := m.store.IncrementFailureCount(store.ModeClient)
	if err != nil {
		m.logger.Error("incrementing failure count", zap.Error(err))
		return
	}
	metrics.SetConsecutiveFailures(string(store.ModeClient), count)
	m.logger.Warn("client health check failed",
		zap.Int("consecutive_failures", count),
		zap.Int("max_failures", m.maxFailures))

	if count < m.maxFailures {
		return
	}

	if err := m.activate(ctx, store.ModeClient, store.ModeAccessPoint, "failover"); err != nil {
		m.logger.Error("failover to access point failed", zap.Error(err))
	}
	m.clearFailures(store.ModeClient)
}

// activate drives one switcher transition and records the outcome.
func (m *Monitor) activate(ctx context.Context, from, to store.Mode, cause string) error {
	var err error
	switch to {
	case store.ModeClient:
		err = m.activator.ActivateClient(ctx)
	default:
		err = m.activator.ActivateAccessPoint(ctx)
	}
	metrics.ObserveModeSwitch(string(to), err)
	if err != nil {
		return err
	}
	metrics.SetMode(string(to))

	if jerr := m.journal.RecordTransition(ctx, string(from), string(to), cause); jerr != nil {
		m.logger.Warn("journaling transition", zap.Error(jerr))
	}
	if from != to {
		if nerr := m.notifier.NotifyTransition(ctx, string(from), string(to), cause); nerr != nil {
			m.logger.Warn("notifying transition", zap.Error(nerr))
		}
	}
	m.logger.Info("mode transition complete",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("cause", cause))
	return nil
}

func (m *Monitor) recordHealth(ctx context.Context, mode store.Mode, healthy bool, status health.Status) {
	metrics.ObserveHealthCheck(string(mode), healthy)
	detail := ""
	if !healthy {
		detail = fmt.Sprintf("link_up=%t has_address=%t backend_running=%t associated=%t gateway_reachable=%t",
			status.LinkUp, status.HasAddress, status.BackendRunning, status.Associated, status.GatewayReachable)
	}
	if err := m.journal.RecordHealth(ctx, string(mode), healthy, detail); err != nil {
		m.logger.Warn("journaling health result", zap.Error(err))
	}
}

func (m *Monitor) bumpFailures(mode store.Mode) {
	count, err := m.store.IncrementFailureCount(mode)
	if err != nil {
		m.logger.Error("incrementing failure count", zap.Error(err))
		return
	}
	metrics.SetConsecutiveFailures(string(mode), count)
}

func (m *Monitor) clearFailures(mode store.Mode) {
	if err := m.store.ResetFailureCount(mode); err != nil {
		m.logger.Error("resetting failure count", zap.Error(err))
		return
	}
	metrics.SetConsecutiveFailures(string(mode), 0)
}

// Compile-time guard that the real switcher satisfies Activator.
var _ Activator = (*switcher.Switcher)(nil)
