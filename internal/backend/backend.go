// Package backend drives the OS network tooling that puts the wireless
// interface into access-point or client mode. Implementations are selected
// once at startup; the controller never probes for tools per call.
package backend

import (
	"context"
	"fmt"
	"os/exec"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/store"
)

// ClientState reports the wireless client association status.
type ClientState struct {
	Associated bool
	SSID       string
}

// Config carries the interface and AP parameters shared by all backends.
type Config struct {
	WirelessInterface string
	WiredInterface    string
	APSSID            string
	APAddress         string // CIDR
}

// Backend mutates the wireless and wired interfaces. All methods are
// idempotent at the OS level: starting an already-running mode or stopping a
// stopped one must not fail.
type Backend interface {
	// Name identifies the backend implementation.
	Name() string

	// StartAccessPoint configures the wireless interface with the fixed AP
	// address and brings up the radio and DHCP/DNS services.
	StartAccessPoint(ctx context.Context) error

	// StopAccessPoint tears down AP services and releases the interface.
	StopAccessPoint(ctx context.Context) error

	// AccessPointRunning reports whether the AP services are active.
	AccessPointRunning(ctx context.Context) (bool, error)

	// StartClient configures the client supplicant from the given credentials
	// and starts association against the wireless interface.
	StartClient(ctx context.Context, creds store.Credentials) error

	// StopClient stops the client supplicant and flushes client addressing.
	StopClient(ctx context.Context) error

	// ClientState reports the current association state.
	ClientState(ctx context.Context) (ClientState, error)

	// ConfigureWiredDHCP switches the wired interface to dynamic addressing.
	ConfigureWiredDHCP(ctx context.Context) error

	// ConfigureWiredStatic assigns the given CIDR addresses to the wired
	// interface, replacing any previous addressing.
	ConfigureWiredStatic(ctx context.Context, addrs []string) error
}

// Select returns the backend for the configured kind. "auto" picks nmcli
// when the binary is on PATH and falls back to the raw tool stack.
func Select(kind string, cfg Config, logger *zap.Logger) (Backend, error) {
	switch kind {
	case "nmcli":
		return NewNMCLI(cfg, logger), nil
	case "raw":
		return NewRaw(cfg, logger), nil
	case "auto", "":
		if _, err := exec.LookPath("nmcli"); err == nil {
			logger.Info("backend selected", zap.String("backend", "nmcli"))
			return NewNMCLI(cfg, logger), nil
		}
		logger.Info("backend selected", zap.String("backend", "raw"))
		return NewRaw(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q", kind)
	}
}
