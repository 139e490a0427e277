// Package health evaluates whether the wireless interface is functioning in
// its current mode: link and address state from the OS, backend liveness,
// and bounded ICMP probes for gateway and internet reachability.
package health

import (
	"context"
	"net"
	"os/exec"
	"runtime"
	"strings"
	"time"

	probing "github.com/prometheus-community/pro-bing"
	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/backend"
	"github.com/HerbHall/wifiwarden/internal/config"
	"github.com/HerbHall/wifiwarden/internal/store"
)

// Status is the outcome of a single health evaluation. It is ephemeral;
// the monitor persists only the derived healthy/unhealthy decision.
type Status struct {
	LinkUp            bool
	HasAddress        bool
	BackendRunning    bool
	Associated        bool
	GatewayReachable  bool
	InternetReachable bool
	CheckedAt         time.Time
}

// HealthyFor reports whether the status satisfies the given mode.
// AP mode needs the backend services and the fixed AP address. Client mode
// needs association, an address, and a reachable local gateway. Internet
// reachability is informational only: deployments without egress must not
// be penalized.
func (s Status) HealthyFor(mode store.Mode) bool {
	switch mode {
	case store.ModeAccessPoint:
		return s.BackendRunning && s.HasAddress
	case store.ModeClient:
		return s.Associated && s.HasAddress && s.GatewayReachable
	default:
		return false
	}
}

// Checker evaluates interface health with a hard overall deadline.
type Checker struct {
	backend backend.Backend
	cfg     config.HealthConfig
	iface   string
	apIP    net.IP
	logger  *zap.Logger

	// Injection points for tests.
	probe     func(ctx context.Context, host string, timeout time.Duration) bool
	gateway   func(ctx context.Context) string
	ifaceInfo func(name string) (linkUp bool, addrs []net.IP, err error)
}

// New creates a Checker for the named wireless interface. apAddress is the
// fixed AP address in CIDR form.
func New(b backend.Backend, cfg config.HealthConfig, iface, apAddress string, logger *zap.Logger) *Checker {
	c := &Checker{
		backend: b,
		cfg:     cfg,
		iface:   iface,
		logger:  logger,
	}
	if ip, _, err := net.ParseCIDR(apAddress); err == nil {
		c.apIP = ip
	}
	c.probe = c.pingHost
	c.gateway = c.defaultGateway
	c.ifaceInfo = interfaceInfo
	return c
}

// Evaluate runs all probes for the given mode. It always returns a Status;
// probe errors and timeouts degrade to unhealthy fields, never to a crash.
func (c *Checker) Evaluate(ctx context.Context, mode store.Mode) Status {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.TotalTimeout)
	defer cancel()

	status := Status{CheckedAt: time.Now().UTC()}

	linkUp, addrs, err := c.ifaceInfo(c.iface)
	if err != nil {
		c.logger.Warn("interface inspection failed", zap.String("interface", c.iface), zap.Error(err))
		return status
	}
	status.LinkUp = linkUp

	switch mode {
	case store.ModeAccessPoint:
		status.HasAddress = containsIP(addrs, c.apIP)
		running, err := c.backend.AccessPointRunning(ctx)
		if err != nil {
			c.logger.Warn("AP backend status check failed", zap.Error(err))
		}
		status.BackendRunning = running

	case store.ModeClient:
		status.HasAddress = len(addrs) > 0
		state, err := c.backend.ClientState(ctx)
		if err != nil {
			c.logger.Warn("client backend status check failed", zap.Error(err))
		}
		status.Associated = state.Associated

		if gw := c.gateway(ctx); gw != "" {
			status.GatewayReachable = c.probe(ctx, gw, c.cfg.PingTimeout)
		}
		if c.cfg.InternetHost != "" {
			status.InternetReachable = c.probe(ctx, c.cfg.InternetHost, c.cfg.PingTimeout)
		}
	}

	return status
}

// pingHost sends a single ICMP echo with a bounded timeout.
func (c *Checker) pingHost(ctx context.Context, host string, timeout time.Duration) bool {
	pinger, err := probing.NewPinger(host)
	if err != nil {
		c.logger.Debug("failed to create pinger", zap.String("host", host), zap.Error(err))
		return false
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	// The controller runs privileged: it manages interfaces and system
	// services, so raw ICMP sockets are available.
	pinger.SetPrivileged(runtime.GOOS != "darwin")

	done := make(chan struct{})
	go func() {
		defer close(done)
		if runErr := pinger.Run(); runErr != nil {
			c.logger.Debug("ping failed", zap.String("host", host), zap.Error(runErr))
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false
	}

	return pinger.Statistics().PacketsRecv > 0
}

// defaultGateway returns the default route's next-hop for the wireless
// interface, or the system default route as a fallback. Empty when none.
func (c *Checker) defaultGateway(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	for _, args := range [][]string{
		{"route", "show", "default", "dev", c.iface},
		{"route", "show", "default"},
	} {
		out, err := exec.CommandContext(ctx, "ip", args...).Output()
		if err != nil {
			continue
		}
		if gw := parseDefaultRoute(string(out)); gw != "" {
			return gw
		}
	}
	return ""
}

// parseDefaultRoute extracts the gateway from `ip route show default`
// output ("default via 192.168.1.1 dev wlan0 ...").
func parseDefaultRoute(out string) string {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		for i := 0; i+1 < len(fields); i++ {
			if fields[i] == "via" {
				if ip := net.ParseIP(fields[i+1]); ip != nil {
					return fields[i+1]
				}
			}
		}
	}
	return ""
}

// interfaceInfo reads link state and assigned unicast addresses from the OS.
func interfaceInfo(name string) (bool, []net.IP, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return false, nil, err
	}

	linkUp := iface.Flags&net.FlagUp != 0

	addrs, err := iface.Addrs()
	if err != nil {
		return linkUp, nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLinkLocalUnicast() || ipNet.IP.IsLoopback() {
			continue
		}
		ips = append(ips, ipNet.IP)
	}
	return linkUp, ips, nil
}

func containsIP(addrs []net.IP, target net.IP) bool {
	if target == nil {
		return false
	}
	for _, a := range addrs {
		if a.Equal(target) {
			return true
		}
	}
	return false
}
