// Package switcher drives the wireless interface into access-point or
// client mode through the selected backend, verifying each transition with
// the health checker before recording it.
package switcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/backend"
	"github.com/HerbHall/wifiwarden/internal/health"
	"github.com/HerbHall/wifiwarden/internal/store"
)

// Activation failure causes. Every activation error wraps exactly one.
var (
	ErrNoCredentials      = errors.New("no client credentials stored")
	ErrBackendStart       = errors.New("backend failed to start")
	ErrAssociationTimeout = errors.New("association timed out")
	ErrHealthCheck        = errors.New("health verification failed")
)

// HealthEvaluator is the fragment of the health checker the switcher needs.
type HealthEvaluator interface {
	Evaluate(ctx context.Context, mode store.Mode) health.Status
}

// Switcher performs verified, idempotent mode transitions. A switch either
// completes (marker written) or is rolled back; the interface is never left
// half-configured.
type Switcher struct {
	backend backend.Backend
	store   *store.Store
	health  HealthEvaluator
	logger  *zap.Logger

	assocTimeout time.Duration

	// Verification pacing, shortened in tests.
	verifyAttempts int
	verifyBackoff  time.Duration
	assocPoll      time.Duration
}

// New creates a Switcher. assocTimeout bounds the client association wait.
func New(b backend.Backend, st *store.Store, he HealthEvaluator, assocTimeout time.Duration, logger *zap.Logger) *Switcher {
	return &Switcher{
		backend:        b,
		store:          st,
		health:         he,
		logger:         logger,
		assocTimeout:   assocTimeout,
		verifyAttempts: 3,
		verifyBackoff:  2 * time.Second,
		assocPoll:      time.Second,
	}
}

// ActivateAccessPoint brings the interface into AP mode. Calling it while
// AP mode is already healthy is a no-op (no radio flap).
func (s *Switcher) ActivateAccessPoint(ctx context.Context) error {
	if st := s.health.Evaluate(ctx, store.ModeAccessPoint); st.HealthyFor(store.ModeAccessPoint) {
		s.logger.Debug("AP mode already healthy, skipping activation")
		return s.ensureMarker(store.ModeAccessPoint)
	}

	if err := s.backend.StopClient(ctx); err != nil {
		s.logger.Warn("stopping client backend before AP activation", zap.Error(err))
	}

	if err := s.backend.StartAccessPoint(ctx); err != nil {
		s.rollbackAP(ctx)
		return fmt.Errorf("%w: %v", ErrBackendStart, err)
	}

	for attempt := 1; attempt <= s.verifyAttempts; attempt++ {
		if st := s.health.Evaluate(ctx, store.ModeAccessPoint); st.HealthyFor(store.ModeAccessPoint) {
			if err := s.store.WriteModeMarker(store.ModeAccessPoint); err != nil {
				return err
			}
			s.logger.Info("access point mode active", zap.Int("attempt", attempt))
			return nil
		}
		if attempt < s.verifyAttempts {
			if err := sleepCtx(ctx, s.verifyBackoff); err != nil {
				break
			}
		}
	}

	s.rollbackAP(ctx)
	return fmt.Errorf("%w: AP mode not healthy after %d attempts", ErrHealthCheck, s.verifyAttempts)
}

// ActivateClient joins the stored target network. Requires credentials;
// calling it while already associated to the stored SSID and healthy is a
// no-op.
func (s *Switcher) ActivateClient(ctx context.Context) error {
	creds, err := s.store.ReadClientCredentials()
	if err != nil {
		return err
	}
	if creds == nil {
		return ErrNoCredentials
	}

	if st := s.health.Evaluate(ctx, store.ModeClient); st.HealthyFor(store.ModeClient) {
		if cs, csErr := s.backend.ClientState(ctx); csErr == nil && cs.SSID == creds.SSID {
			s.logger.Debug("client mode already healthy, skipping activation",
				zap.String("ssid", creds.SSID))
			return s.ensureMarker(store.ModeClient)
		}
	}

	if err := s.backend.StopAccessPoint(ctx); err != nil {
		s.logger.Warn("stopping AP backend before client activation", zap.Error(err))
	}

	if err := s.backend.StartClient(ctx, *creds); err != nil {
		s.rollbackClient(ctx)
		return fmt.Errorf("%w: %v", ErrBackendStart, err)
	}

	deadline := time.Now().Add(s.assocTimeout)
	for {
		if st := s.health.Evaluate(ctx, store.ModeClient); st.HealthyFor(store.ModeClient) {
			if err := s.store.WriteModeMarker(store.ModeClient); err != nil {
				return err
			}
			s.logger.Info("client mode active", zap.String("ssid", creds.SSID))
			return nil
		}
		if time.Now().After(deadline) {
			break
		}
		if err := sleepCtx(ctx, s.assocPoll); err != nil {
			break
		}
	}

	s.rollbackClient(ctx)
	return fmt.Errorf("%w: %q not healthy within %s", ErrAssociationTimeout, creds.SSID, s.assocTimeout)
}

// ensureMarker writes the marker when a no-op activation finds the durable
// state out of date (e.g. first decision after boot with AP already up).
func (s *Switcher) ensureMarker(mode store.Mode) error {
	marker, err := s.store.ReadModeMarker()
	if err != nil {
		return err
	}
	if marker.Mode == mode {
		return nil
	}
	return s.store.WriteModeMarker(mode)
}

// rollbackAP stops partially started AP services.
func (s *Switcher) rollbackAP(ctx context.Context) {
	if err := s.backend.StopAccessPoint(ctx); err != nil {
		s.logger.Warn("AP rollback failed", zap.Error(err))
	}
}

// rollbackClient stops the supplicant and flushes client addressing.
func (s *Switcher) rollbackClient(ctx context.Context) {
	if err := s.backend.StopClient(ctx); err != nil {
		s.logger.Warn("client rollback failed", zap.Error(err))
	}
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
