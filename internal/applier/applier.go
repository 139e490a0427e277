// Package applier consumes the one-shot network configuration computed at
// install time. It runs once early in boot, applies the recorded wired and
// wireless setup, and marks the record consumed so later boots skip it.
package applier

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/backend"
	"github.com/HerbHall/wifiwarden/internal/store"
)

// APActivator brings up the access point as part of a static_ap application.
type APActivator interface {
	ActivateAccessPoint(ctx context.Context) error
}

// Applier applies the pending boot configuration exactly once.
type Applier struct {
	store       *store.Store
	backend     backend.Backend
	switcher    APActivator
	staticAddrs []string
	logger      *zap.Logger
}

// New creates an applier. staticAddrs are the CIDR addresses assigned to the
// wired interface for the static variants.
func New(st *store.Store, b backend.Backend, sw APActivator, staticAddrs []string, logger *zap.Logger) *Applier {
	return &Applier{
		store:       st,
		backend:     b,
		switcher:    sw,
		staticAddrs: staticAddrs,
		logger:      logger,
	}
}

// Apply reads the pending configuration and applies it. When no pending
// record exists, or it was applied on an earlier boot, Apply is a no-op.
// The record is marked consumed only after the configuration succeeds, so a
// failed boot retries on the next one.
func (a *Applier) Apply(ctx context.Context) error {
	pending, err := a.store.ReadPendingConfiguration()
	if err != nil {
		return fmt.Errorf("applier: %w", err)
	}
	if pending == nil {
		a.logger.Debug("no pending configuration, nothing to apply")
		return nil
	}

	a.logger.Info("applying boot configuration", zap.String("kind", string(pending.Kind)))

	switch pending.Kind {
	case store.PendingDHCP:
		if err := a.backend.ConfigureWiredDHCP(ctx); err != nil {
			return fmt.Errorf("applier: configure wired dhcp: %w", err)
		}
	case store.PendingStaticAP:
		if err := a.backend.ConfigureWiredStatic(ctx, a.staticAddrs); err != nil {
			return fmt.Errorf("applier: configure wired static: %w", err)
		}
		if err := a.switcher.ActivateAccessPoint(ctx); err != nil {
			return fmt.Errorf("applier: activate access point: %w", err)
		}
	case store.PendingStaticOnly:
		if err := a.backend.ConfigureWiredStatic(ctx, a.staticAddrs); err != nil {
			return fmt.Errorf("applier: configure wired static: %w", err)
		}
	default:
		return fmt.Errorf("applier: unknown pending kind %q", pending.Kind)
	}

	if err := a.store.MarkPendingConfigurationApplied(); err != nil {
		return fmt.Errorf("applier: %w", err)
	}
	a.logger.Info("boot configuration applied", zap.String("kind", string(pending.Kind)))
	return nil
}
