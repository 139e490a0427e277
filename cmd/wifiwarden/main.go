package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/HerbHall/wifiwarden/internal/applier"
	"github.com/HerbHall/wifiwarden/internal/backend"
	"github.com/HerbHall/wifiwarden/internal/config"
	"github.com/HerbHall/wifiwarden/internal/health"
	"github.com/HerbHall/wifiwarden/internal/journal"
	"github.com/HerbHall/wifiwarden/internal/metrics"
	"github.com/HerbHall/wifiwarden/internal/monitor"
	"github.com/HerbHall/wifiwarden/internal/notify"
	"github.com/HerbHall/wifiwarden/internal/store"
	"github.com/HerbHall/wifiwarden/internal/switcher"
	"github.com/HerbHall/wifiwarden/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "run":
		runMonitor(os.Args[2:])
	case "apply-boot":
		runApplyBoot(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "credentials":
		runCredentials(os.Args[2:])
	case "version":
		fmt.Println(version.Info())
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wifiwarden <command> [flags]

Commands:
  run          run the mode monitor loop (-once for a single decision)
  apply-boot   apply the pending install-time network configuration
  status       print current mode, failure counts, and last health result
  credentials  set or clear the stored client network credentials
  version      print version information
`)
}

// controller bundles the wiring shared by run, apply-boot, and status.
type controller struct {
	settings *config.Settings
	logger   *zap.Logger
	store    *store.Store
	backend  backend.Backend
	health   *health.Checker
	switcher *switcher.Switcher
	journal  *journal.Journal
}

func buildController(configPath string) (*controller, error) {
	v, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %v", err)
	}
	settings, err := config.Parse(v)
	if err != nil {
		return nil, err
	}
	logger, err := config.NewLogger(v)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %v", err)
	}

	st, err := store.New(settings.Paths.StateDir)
	if err != nil {
		return nil, err
	}

	b, err := backend.Select(settings.Backend.Kind, backend.Config{
		WirelessInterface: settings.Network.WirelessInterface,
		WiredInterface:    settings.Network.WiredInterface,
		APSSID:            settings.AP.SSID,
		APAddress:         settings.AP.Address,
	}, logger.Named("backend"))
	if err != nil {
		return nil, err
	}

	hc := health.New(b, settings.Health, settings.Network.WirelessInterface, settings.AP.Address, logger.Named("health"))
	sw := switcher.New(b, st, hc, settings.Client.AssociationTimeout, logger.Named("switcher"))

	j, err := journal.Open(filepath.Join(settings.Paths.StateDir, "journal.db"))
	if err != nil {
		return nil, err
	}

	return &controller{
		settings: settings,
		logger:   logger,
		store:    st,
		backend:  b,
		health:   hc,
		switcher: sw,
		journal:  j,
	}, nil
}

func (c *controller) close() {
	if err := c.journal.Close(); err != nil {
		c.logger.Warn("closing journal", zap.Error(err))
	}
	_ = c.logger.Sync()
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

func runMonitor(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	once := fs.Bool("once", false, "make a single mode decision and exit")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	c, err := buildController(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	defer c.close()

	c.logger.Info("wifiwarden starting",
		zap.String("version", version.Short()),
		zap.String("backend", c.backend.Name()))

	ctx, cancel := signalContext()
	defer cancel()

	m := monitor.New(c.store, c.switcher, c.health, c.journal,
		notify.New(c.settings.Notify), c.settings.Monitor, c.logger.Named("monitor"))

	if *once {
		if err := m.Tick(ctx); err != nil {
			c.logger.Error("tick failed", zap.Error(err))
			c.close()
			os.Exit(1)
		}
		return
	}

	// Consume any pending install-time configuration before the first tick
	// so the monitor and the applier never race for the interface.
	app := applier.New(c.store, c.backend, c.switcher,
		c.settings.Wired.StaticAddresses, c.logger.Named("applier"))
	if err := app.Apply(ctx); err != nil {
		c.logger.Error("applying boot configuration", zap.Error(err))
	}

	if n, err := c.journal.Prune(ctx, c.settings.Journal.Retention); err != nil {
		c.logger.Warn("pruning journal", zap.Error(err))
	} else if n > 0 {
		c.logger.Info("journal pruned", zap.Int64("removed", n))
	}

	ms := metrics.NewServer(c.settings.Metrics.Listen, c.logger.Named("metrics"))
	ms.Start()
	defer func() {
		shutdownCtx, stop := context.WithTimeout(context.Background(), c.settings.Monitor.ShutdownGrace)
		defer stop()
		_ = ms.Shutdown(shutdownCtx)
	}()

	if err := m.Run(ctx); err != nil {
		c.logger.Error("monitor error", zap.Error(err))
		os.Exit(1)
	}
}

func runApplyBoot(args []string) {
	fs := flag.NewFlagSet("apply-boot", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	c, err := buildController(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	defer c.close()

	ctx, cancel := signalContext()
	defer cancel()

	pending, err := c.store.ReadPendingConfiguration()
	if err != nil {
		c.logger.Error("reading pending configuration", zap.Error(err))
		os.Exit(1)
	}

	app := applier.New(c.store, c.backend, c.switcher,
		c.settings.Wired.StaticAddresses, c.logger.Named("applier"))
	if err := app.Apply(ctx); err != nil {
		c.logger.Error("applying boot configuration", zap.Error(err))
		os.Exit(1)
	}
	if pending != nil {
		if err := c.journal.RecordApply(ctx, string(pending.Kind)); err != nil {
			c.logger.Warn("journaling boot application", zap.Error(err))
		}
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to configuration file")
	fs.Parse(args) //nolint:errcheck // ExitOnError

	c, err := buildController(*configPath)
	if err != nil {
		fatal("%v", err)
	}
	defer c.close()

	marker, err := c.store.ReadModeMarker()
	if err != nil {
		fatal("reading mode marker: %v", err)
	}

	fmt.Printf("mode: %s\n", marker.Mode)
	if !marker.EnteredAt.IsZero() {
		fmt.Printf("entered at: %s\n", marker.EnteredAt.Format("2006-01-02 15:04:05 MST"))
	}

	for _, mode := range []store.Mode{store.ModeAccessPoint, store.ModeClient} {
		n, err := c.store.FailureCount(mode)
		if err != nil {
			fatal("reading failure count: %v", err)
		}
		fmt.Printf("%s consecutive failures: %d\n", mode, n)
	}

	creds, err := c.store.ReadClientCredentials()
	if err != nil {
		fatal("reading credentials: %v", err)
	}
	if creds != nil {
		fmt.Printf("client credentials: stored (ssid %q)\n", creds.SSID)
	} else {
		fmt.Println("client credentials: none")
	}

	if pending, err := c.store.ReadPendingConfiguration(); err == nil && pending != nil {
		fmt.Printf("pending boot configuration: %s\n", pending.Kind)
	}

	last, err := c.journal.LastHealth(context.Background())
	if err != nil {
		fatal("reading journal: %v", err)
	}
	if last == nil {
		fmt.Println("last health check: none recorded")
		return
	}
	state := "healthy"
	if !last.Healthy {
		state = "unhealthy"
	}
	fmt.Printf("last health check: %s (%s mode, %s)\n",
		state, last.Mode, last.CreatedAt.Format("2006-01-02 15:04:05 MST"))
	if last.Detail != "" {
		fmt.Printf("  detail: %s\n", last.Detail)
	}
}

func runCredentials(args []string) {
	if len(args) < 1 {
		fatal("usage: wifiwarden credentials <set|clear> [flags]")
	}

	switch args[0] {
	case "set":
		fs := flag.NewFlagSet("credentials set", flag.ExitOnError)
		configPath := fs.String("config", "", "path to configuration file")
		ssid := fs.String("ssid", "", "target network SSID")
		secret := fs.String("secret", "", "target network passphrase (omit for open networks)")
		open := fs.Bool("open", false, "target network has no security")
		fs.Parse(args[1:]) //nolint:errcheck // ExitOnError

		c, err := buildController(*configPath)
		if err != nil {
			fatal("%v", err)
		}
		defer c.close()

		security := store.SecurityWPAPSK
		if *open {
			security = store.SecurityOpen
		}
		if err := c.store.SaveClientCredentials(*ssid, *secret, security); err != nil {
			fatal("%v", err)
		}
		fmt.Printf("credentials for %q saved; run 'wifiwarden run -once' to join now\n", *ssid)

	case "clear":
		fs := flag.NewFlagSet("credentials clear", flag.ExitOnError)
		configPath := fs.String("config", "", "path to configuration file")
		fs.Parse(args[1:]) //nolint:errcheck // ExitOnError

		c, err := buildController(*configPath)
		if err != nil {
			fatal("%v", err)
		}
		defer c.close()

		if err := c.store.RemoveClientCredentials(); err != nil {
			fatal("%v", err)
		}
		fmt.Println("client credentials cleared")

	default:
		fatal("usage: wifiwarden credentials <set|clear> [flags]")
	}
}
