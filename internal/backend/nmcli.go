package backend

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/store"
)

// Compile-time interface guard.
var _ Backend = (*NMCLI)(nil)

// apConnectionName is the NetworkManager connection profile used for AP mode.
const apConnectionName = "wifiwarden-ap"

// NMCLI drives NetworkManager through the nmcli command line.
type NMCLI struct {
	cfg    Config
	run    runner
	logger *zap.Logger
}

// NewNMCLI creates an nmcli-backed implementation.
func NewNMCLI(cfg Config, logger *zap.Logger) *NMCLI {
	return &NMCLI{cfg: cfg, run: runner{logger: logger}, logger: logger}
}

func (b *NMCLI) Name() string { return "nmcli" }

func (b *NMCLI) StartAccessPoint(ctx context.Context) error {
	// Reuse the profile if it exists; otherwise create the hotspot.
	if b.apProfileExists(ctx) {
		if _, err := b.run.run(ctx, "nmcli", "connection", "up", apConnectionName); err != nil {
			return fmt.Errorf("activate AP profile: %w", err)
		}
		return nil
	}

	if _, err := b.run.run(ctx, "nmcli", "device", "wifi", "hotspot",
		"ifname", b.cfg.WirelessInterface,
		"con-name", apConnectionName,
		"ssid", b.cfg.APSSID,
	); err != nil {
		return fmt.Errorf("create hotspot: %w", err)
	}

	// Pin the AP subnet; "shared" enables NetworkManager's built-in DHCP/DNS.
	if _, err := b.run.run(ctx, "nmcli", "connection", "modify", apConnectionName,
		"ipv4.method", "shared",
		"ipv4.addresses", b.cfg.APAddress,
	); err != nil {
		return fmt.Errorf("pin AP address: %w", err)
	}
	if _, err := b.run.run(ctx, "nmcli", "connection", "up", apConnectionName); err != nil {
		return fmt.Errorf("activate AP profile: %w", err)
	}
	return nil
}

func (b *NMCLI) StopAccessPoint(ctx context.Context) error {
	out, err := b.run.run(ctx, "nmcli", "connection", "down", apConnectionName)
	if err != nil && !strings.Contains(out, "not an active connection") {
		return fmt.Errorf("deactivate AP profile: %w", err)
	}
	return nil
}

func (b *NMCLI) AccessPointRunning(ctx context.Context) (bool, error) {
	out, err := b.run.run(ctx, "nmcli", "-t", "-f", "NAME,DEVICE", "connection", "show", "--active")
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(out, "\n") {
		name, device, ok := strings.Cut(line, ":")
		if ok && name == apConnectionName && device == b.cfg.WirelessInterface {
			return true, nil
		}
	}
	return false, nil
}

func (b *NMCLI) StartClient(ctx context.Context, creds store.Credentials) error {
	args := []string{"device", "wifi", "connect", creds.SSID, "ifname", b.cfg.WirelessInterface}
	if creds.Security == store.SecurityWPAPSK {
		args = append(args, "password", creds.Secret)
	}
	if _, err := b.run.run(ctx, "nmcli", args...); err != nil {
		return fmt.Errorf("connect to %q: %w", creds.SSID, err)
	}
	return nil
}

func (b *NMCLI) StopClient(ctx context.Context) error {
	out, err := b.run.run(ctx, "nmcli", "device", "disconnect", b.cfg.WirelessInterface)
	if err != nil && !strings.Contains(out, "not active") {
		return fmt.Errorf("disconnect %s: %w", b.cfg.WirelessInterface, err)
	}
	return nil
}

func (b *NMCLI) ClientState(ctx context.Context) (ClientState, error) {
	out, err := b.run.run(ctx, "nmcli", "-t", "-f", "ACTIVE,SSID", "device", "wifi")
	if err != nil {
		return ClientState{}, err
	}
	for _, line := range strings.Split(out, "\n") {
		if active, ssid, ok := strings.Cut(line, ":"); ok && active == "yes" {
			return ClientState{Associated: true, SSID: ssid}, nil
		}
	}
	return ClientState{}, nil
}

func (b *NMCLI) ConfigureWiredDHCP(ctx context.Context) error {
	if _, err := b.run.run(ctx, "nmcli", "device", "modify", b.cfg.WiredInterface,
		"ipv4.method", "auto"); err != nil {
		return fmt.Errorf("wired dhcp: %w", err)
	}
	b.run.runQuiet(ctx, "nmcli", "device", "connect", b.cfg.WiredInterface)
	return nil
}

func (b *NMCLI) ConfigureWiredStatic(ctx context.Context, addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("wired static: no addresses configured")
	}
	if _, err := b.run.run(ctx, "nmcli", "device", "modify", b.cfg.WiredInterface,
		"ipv4.method", "manual",
		"ipv4.addresses", strings.Join(addrs, ","),
	); err != nil {
		return fmt.Errorf("wired static: %w", err)
	}
	b.run.runQuiet(ctx, "nmcli", "device", "connect", b.cfg.WiredInterface)
	return nil
}

func (b *NMCLI) apProfileExists(ctx context.Context) bool {
	out, err := b.run.run(ctx, "nmcli", "-t", "-f", "NAME", "connection", "show")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if line == apConnectionName {
			return true
		}
	}
	return false
}
