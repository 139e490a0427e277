// Package config loads WifiWarden configuration and constructs the logger.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Settings is the fully unmarshalled configuration tree.
type Settings struct {
	Network NetworkConfig `mapstructure:"network"`
	AP      APConfig      `mapstructure:"ap"`
	Client  ClientConfig  `mapstructure:"client"`
	Wired   WiredConfig   `mapstructure:"wired"`
	Backend BackendConfig `mapstructure:"backend"`
	Health  HealthConfig  `mapstructure:"health"`
	Monitor MonitorConfig `mapstructure:"monitor"`
	Journal JournalConfig `mapstructure:"journal"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Paths   PathsConfig   `mapstructure:"paths"`
}

// NetworkConfig names the interfaces under management.
type NetworkConfig struct {
	WirelessInterface string `mapstructure:"wireless_interface"`
	WiredInterface    string `mapstructure:"wired_interface"`
}

// APConfig describes access-point mode for the wireless interface.
type APConfig struct {
	SSID    string `mapstructure:"ssid"`
	Address string `mapstructure:"address"` // CIDR, e.g. 192.168.50.1/24
}

// ClientConfig bounds client-mode activation.
type ClientConfig struct {
	AssociationTimeout time.Duration `mapstructure:"association_timeout"`
}

// WiredConfig holds the static fallback addresses assigned to the wired
// interface by the boot-time applier.
type WiredConfig struct {
	StaticAddresses []string `mapstructure:"static_addresses"`
}

// BackendConfig selects the network backend implementation.
type BackendConfig struct {
	Kind string `mapstructure:"kind"` // auto, nmcli, raw
}

// HealthConfig bounds health probes.
type HealthConfig struct {
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	TotalTimeout time.Duration `mapstructure:"total_timeout"`
	InternetHost string        `mapstructure:"internet_host"`
}

// MonitorConfig drives the control loop.
type MonitorConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	MaxFailures   int           `mapstructure:"max_failures"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

// JournalConfig controls event journal retention.
type JournalConfig struct {
	Retention time.Duration `mapstructure:"retention"`
}

// NotifyConfig configures the transition webhook.
type NotifyConfig struct {
	WebhookURL    string        `mapstructure:"webhook_url"`
	WebhookSecret string        `mapstructure:"webhook_secret"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// MetricsConfig configures the optional prometheus listener.
type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the listener
}

// PathsConfig locates persistent state.
type PathsConfig struct {
	StateDir string `mapstructure:"state_dir"`
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("network.wireless_interface", "wlan0")
	v.SetDefault("network.wired_interface", "eth0")
	v.SetDefault("ap.ssid", "wifiwarden-setup")
	v.SetDefault("ap.address", "192.168.50.1/24")
	v.SetDefault("client.association_timeout", "60s")
	v.SetDefault("wired.static_addresses", []string{"192.168.100.1/24"})
	v.SetDefault("backend.kind", "auto")
	v.SetDefault("health.ping_timeout", "3s")
	v.SetDefault("health.total_timeout", "10s")
	v.SetDefault("health.internet_host", "8.8.8.8")
	v.SetDefault("monitor.interval", "30s")
	v.SetDefault("monitor.max_failures", 3)
	v.SetDefault("monitor.shutdown_grace", "5s")
	v.SetDefault("journal.retention", "720h")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_secret", "")
	v.SetDefault("notify.timeout", "10s")
	v.SetDefault("metrics.listen", "")
	v.SetDefault("paths.state_dir", "/var/lib/wifiwarden")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("wifiwarden")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/wifiwarden")
	}

	// Environment variable support: WW_MONITOR_INTERVAL=10s
	v.SetEnvPrefix("WW")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}

// Parse unmarshals the loaded Viper tree into typed settings.
func Parse(v *viper.Viper) (*Settings, error) {
	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, nil
}
