package backend

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"

	"github.com/HerbHall/wifiwarden/internal/store"
)

// Compile-time interface guard.
var _ Backend = (*Raw)(nil)

// Raw drives the hostapd/dnsmasq/wpa_supplicant stack directly through
// systemctl, ip, and dhclient. The hostapd and dnsmasq unit configurations
// are provisioned by the installer; this backend only starts and stops them
// and renders the supplicant network block from stored credentials.
type Raw struct {
	cfg    Config
	run    runner
	logger *zap.Logger

	// SupplicantConfPath is where StartClient renders the wpa_supplicant
	// configuration. Overridable for tests.
	SupplicantConfPath string
}

// NewRaw creates a raw-tool backend.
func NewRaw(cfg Config, logger *zap.Logger) *Raw {
	return &Raw{
		cfg:                cfg,
		run:                runner{logger: logger},
		logger:             logger,
		SupplicantConfPath: fmt.Sprintf("/etc/wpa_supplicant/wpa_supplicant-%s.conf", cfg.WirelessInterface),
	}
}

func (b *Raw) Name() string { return "raw" }

func (b *Raw) supplicantUnit() string {
	return fmt.Sprintf("wpa_supplicant@%s.service", b.cfg.WirelessInterface)
}

func (b *Raw) StartAccessPoint(ctx context.Context) error {
	b.run.runQuiet(ctx, "ip", "addr", "flush", "dev", b.cfg.WirelessInterface)
	if _, err := b.run.run(ctx, "ip", "addr", "add", b.cfg.APAddress, "dev", b.cfg.WirelessInterface); err != nil {
		return fmt.Errorf("assign AP address: %w", err)
	}
	if _, err := b.run.run(ctx, "ip", "link", "set", b.cfg.WirelessInterface, "up"); err != nil {
		return fmt.Errorf("bring interface up: %w", err)
	}
	if _, err := b.run.run(ctx, "systemctl", "start", "hostapd"); err != nil {
		return fmt.Errorf("start hostapd: %w", err)
	}
	if _, err := b.run.run(ctx, "systemctl", "start", "dnsmasq"); err != nil {
		return fmt.Errorf("start dnsmasq: %w", err)
	}
	return nil
}

func (b *Raw) StopAccessPoint(ctx context.Context) error {
	b.run.runQuiet(ctx, "systemctl", "stop", "hostapd")
	b.run.runQuiet(ctx, "systemctl", "stop", "dnsmasq")
	b.run.runQuiet(ctx, "ip", "addr", "flush", "dev", b.cfg.WirelessInterface)
	return nil
}

func (b *Raw) AccessPointRunning(ctx context.Context) (bool, error) {
	for _, unit := range []string{"hostapd", "dnsmasq"} {
		out, err := b.run.run(ctx, "systemctl", "is-active", unit)
		if err != nil || out != "active" {
			return false, nil
		}
	}
	return true, nil
}

func (b *Raw) StartClient(ctx context.Context, creds store.Credentials) error {
	if err := b.renderSupplicantConf(creds); err != nil {
		return err
	}
	if _, err := b.run.run(ctx, "ip", "link", "set", b.cfg.WirelessInterface, "up"); err != nil {
		return fmt.Errorf("bring interface up: %w", err)
	}
	if _, err := b.run.run(ctx, "systemctl", "restart", b.supplicantUnit()); err != nil {
		return fmt.Errorf("start supplicant: %w", err)
	}
	// Request a lease in the background; address arrival is verified by the
	// caller's association wait.
	b.run.runQuiet(ctx, "dhclient", "-nw", b.cfg.WirelessInterface)
	return nil
}

func (b *Raw) StopClient(ctx context.Context) error {
	b.run.runQuiet(ctx, "dhclient", "-r", b.cfg.WirelessInterface)
	b.run.runQuiet(ctx, "systemctl", "stop", b.supplicantUnit())
	b.run.runQuiet(ctx, "ip", "addr", "flush", "dev", b.cfg.WirelessInterface)
	return nil
}

func (b *Raw) ClientState(ctx context.Context) (ClientState, error) {
	out, err := b.run.run(ctx, "wpa_cli", "-i", b.cfg.WirelessInterface, "status")
	if err != nil {
		return ClientState{}, err
	}
	return parseSupplicantStatus(out), nil
}

func (b *Raw) ConfigureWiredDHCP(ctx context.Context) error {
	if _, err := b.run.run(ctx, "ip", "link", "set", b.cfg.WiredInterface, "up"); err != nil {
		return fmt.Errorf("bring wired interface up: %w", err)
	}
	if _, err := b.run.run(ctx, "dhclient", "-nw", b.cfg.WiredInterface); err != nil {
		return fmt.Errorf("wired dhcp: %w", err)
	}
	return nil
}

func (b *Raw) ConfigureWiredStatic(ctx context.Context, addrs []string) error {
	if len(addrs) == 0 {
		return fmt.Errorf("wired static: no addresses configured")
	}
	b.run.runQuiet(ctx, "ip", "addr", "flush", "dev", b.cfg.WiredInterface)
	for _, addr := range addrs {
		if _, err := b.run.run(ctx, "ip", "addr", "add", addr, "dev", b.cfg.WiredInterface); err != nil {
			return fmt.Errorf("assign %s: %w", addr, err)
		}
	}
	if _, err := b.run.run(ctx, "ip", "link", "set", b.cfg.WiredInterface, "up"); err != nil {
		return fmt.Errorf("bring wired interface up: %w", err)
	}
	return nil
}

// renderSupplicantConf writes the supplicant configuration with a single
// network block. For WPA-PSK networks the passphrase is pre-derived so the
// plaintext secret never appears in the rendered file.
func (b *Raw) renderSupplicantConf(creds store.Credentials) error {
	var sb strings.Builder
	sb.WriteString("ctrl_interface=DIR=/var/run/wpa_supplicant GROUP=netdev\n")
	sb.WriteString("update_config=0\n\n")
	sb.WriteString("network={\n")
	fmt.Fprintf(&sb, "\tssid=%q\n", creds.SSID)
	if creds.Security == store.SecurityOpen {
		sb.WriteString("\tkey_mgmt=NONE\n")
	} else {
		fmt.Fprintf(&sb, "\tpsk=%s\n", DerivePSK(creds.SSID, creds.Secret))
	}
	sb.WriteString("}\n")

	dir := filepath.Dir(b.SupplicantConfPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create supplicant config dir: %w", err)
	}
	if err := os.WriteFile(b.SupplicantConfPath, []byte(sb.String()), 0o600); err != nil {
		return fmt.Errorf("write supplicant config: %w", err)
	}
	return nil
}

// DerivePSK computes the 256-bit WPA pre-shared key from an SSID and
// passphrase (PBKDF2-SHA1, 4096 iterations), hex encoded. Matches the
// output of wpa_passphrase.
func DerivePSK(ssid, passphrase string) string {
	key := pbkdf2.Key([]byte(passphrase), []byte(ssid), 4096, 32, sha1.New)
	return hex.EncodeToString(key)
}

// parseSupplicantStatus extracts the association state from `wpa_cli status`
// output (key=value lines; wpa_state=COMPLETED means associated).
func parseSupplicantStatus(out string) ClientState {
	var state ClientState
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "wpa_state":
			state.Associated = value == "COMPLETED"
		case "ssid":
			state.SSID = value
		}
	}
	return state
}
