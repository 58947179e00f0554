// Command wookiee-unicaster runs one half (SERVER or CLIENT) of a
// bidirectional UDP relay that lets a LAN-hosted Direct-IP game be played
// over the internet through a public-IP relay host.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/winter-snowfall/wookiee-unicaster/internal/api"
	"github.com/winter-snowfall/wookiee-unicaster/internal/cli"
	"github.com/winter-snowfall/wookiee-unicaster/internal/config"
	"github.com/winter-snowfall/wookiee-unicaster/internal/db"
	"github.com/winter-snowfall/wookiee-unicaster/internal/events"
	"github.com/winter-snowfall/wookiee-unicaster/internal/relay"
	"github.com/winter-snowfall/wookiee-unicaster/internal/telemetry"
	"github.com/winter-snowfall/wookiee-unicaster/internal/util"
)

const banner = "wookiee-unicaster"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.Parse(os.Args[1:])
	if err != nil {
		return nil // flag package already printed usage/error
	}

	cfg := config.Default()
	if _, statErr := os.Stat(flags.ConfigPath); statErr == nil {
		if err := config.LoadFile(cfg, flags.ConfigPath); err != nil {
			return fmt.Errorf("%s: %w", banner, err)
		}
	}
	if err := config.Resolve(cfg, flags); err != nil {
		return fmt.Errorf("%s: %w", banner, err)
	}

	if flags.Stats {
		return cli.PrintStatsReport(os.Stdout, cfg.API.Addr)
	}

	result := config.Validate(cfg)
	for _, w := range result.Warnings {
		fmt.Fprintln(os.Stderr, "warning:", w.Error())
	}
	if !result.IsValid() {
		for _, e := range result.Errors {
			fmt.Fprintln(os.Stderr, "error:", e.Error())
		}
		return fmt.Errorf("%s: invalid configuration", banner)
	}

	logCfg := util.LogConfig{
		Level:      cfg.Logging.Level,
		Directory:  cfg.Logging.Directory,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Console:    cfg.Logging.Console,
	}
	if cfg.Quiet {
		logCfg.ConsoleLevel = "WARNING"
	}
	if err := util.InitLogger(logCfg); err != nil {
		return fmt.Errorf("%s: %w", banner, err)
	}

	sysInfo := util.GetSystemInfo()
	log.Info().
		Str("role", string(cfg.Role)).
		Str("hostname", sysInfo.Hostname).
		Str("os", sysInfo.OS).
		Str("cpu", sysInfo.CPUModel).
		Int("cpu_cores", sysInfo.CPUCores).
		Uint64("total_memory_mb", sysInfo.TotalMemory).
		Msg("starting " + banner)

	bus := events.NewEventBus()
	defer bus.Stop()

	var ledger *db.Ledger
	if cfg.Telemetry.SQLitePath != "" {
		ledger, err = db.NewLedger(cfg.Telemetry.SQLitePath, util.ComponentLogger("ledger"))
		if err != nil {
			return fmt.Errorf("%s: %w", banner, err)
		}
		defer ledger.Close()
		subscribeLedger(bus, ledger, string(cfg.Role))
	}

	var publisher *telemetry.Publisher
	if cfg.Telemetry.MQTTEnabled {
		publisher, err = telemetry.New(cfg.Telemetry, cfg.Role, util.ComponentLogger("telemetry"))
		if err != nil {
			return fmt.Errorf("%s: %w", banner, err)
		}
		defer publisher.Close()
		for _, t := range []events.EventType{events.SlotAssigned, events.SlotActive, events.SlotReset, events.RegistryPurged} {
			bus.Subscribe(t, "mqtt", publisher.Handle)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		cancel()
	}()

	engineLog := util.ComponentLogger("relay")

	switch cfg.Role {
	case config.RoleServer:
		srv, err := relay.NewServer(cfg, bus)
		if err != nil {
			return fmt.Errorf("%s: %w", banner, err)
		}
		srv.SetLogger(engineLog)
		defer srv.Close()

		if cfg.API.Addr != "" {
			apiSrv := api.NewServer(cfg, cfg.Role, srv.Registry(), util.ComponentLogger("api"))
			go func() {
				if err := apiSrv.Start(ctx); err != nil {
					log.Error().Err(err).Msg("status API stopped")
				}
			}()
		}

		srv.Start(ctx)
		<-ctx.Done()
		srv.Close()
		waitWithTimeout(srv.Wait, 30*time.Second)

	case config.RoleClient:
		cliEngine, err := relay.NewClient(cfg, bus)
		if err != nil {
			return fmt.Errorf("%s: %w", banner, err)
		}
		cliEngine.SetLogger(engineLog)
		defer cliEngine.Close()

		if cfg.API.Addr != "" {
			apiSrv := api.NewServer(cfg, cfg.Role, cliEngine, util.ComponentLogger("api"))
			go func() {
				if err := apiSrv.Start(ctx); err != nil {
					log.Error().Err(err).Msg("status API stopped")
				}
			}()
		}

		cliEngine.Start(ctx)
		<-ctx.Done()
		cliEngine.Close()
		waitWithTimeout(cliEngine.Wait, 30*time.Second)

	default:
		return fmt.Errorf("%s: invalid role %q", banner, cfg.Role)
	}

	log.Info().Msg("shutdown complete")
	return nil
}

func subscribeLedger(bus *events.EventBus, ledger *db.Ledger, role string) {
	handler := func(_ context.Context, ev events.Event) error {
		return ledger.Record(role, ev)
	}
	for _, t := range []events.EventType{events.SlotAssigned, events.SlotActive, events.SlotReset, events.RegistryPurged} {
		bus.Subscribe(t, "ledger", handler)
	}
}

func waitWithTimeout(wait func(), timeout time.Duration) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		log.Warn().Msg("workers did not exit within timeout, forcing exit")
	}
}
