package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/browserctl/browserctl-go/internal/auth"
	"github.com/browserctl/browserctl-go/internal/capture"
	"github.com/browserctl/browserctl-go/internal/config"
	"github.com/browserctl/browserctl-go/internal/dispatch"
	"github.com/browserctl/browserctl-go/internal/driver"
	"github.com/browserctl/browserctl-go/internal/health"
	"github.com/browserctl/browserctl-go/internal/mcpserver"
	"github.com/browserctl/browserctl-go/internal/pool"
	"github.com/browserctl/browserctl-go/internal/registry"
	"github.com/browserctl/browserctl-go/internal/server"
	"github.com/browserctl/browserctl-go/internal/stats"
	"github.com/browserctl/browserctl-go/internal/tools"
	"github.com/browserctl/browserctl-go/pkg/version"
)

var (
	flagDaemon bool
	flagStdio  bool
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the tool server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if flagStdio {
			// MCP clients own stdout; keep logs off it entirely.
			return runStdio(cfg)
		}
		return runServer(cfg)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&flagDaemon, "daemon", "d", false, "write a PID file and log readiness for supervisors")
	startCmd.Flags().BoolVar(&flagStdio, "stdio", false, "serve MCP over stdio instead of HTTP")
}

// stack is the wired component graph behind either transport.
type stack struct {
	dispatcher *dispatch.Dispatcher
	registry   *registry.Registry
	pool       *pool.Pool
	health     *health.Service
	stats      *stats.Manager
}

// buildStack wires the full component graph from config.
func buildStack(cfg *config.Config) (*stack, error) {
	factory := driver.NewRodFactory(cfg)

	p := pool.New(pool.Config{
		MinSize:              cfg.PoolMinSize,
		MaxSize:              cfg.PoolMaxSize,
		IdleTimeout:          cfg.PoolIdleTimeout,
		MaxSessionAge:        cfg.MaxSessionAge,
		HealthCheckInterval:  cfg.HealthCheckInterval,
		PrewarmCount:         cfg.PrewarmCount,
		BorrowTimeout:        cfg.BorrowTimeout,
		MaxConsecutiveErrors: cfg.MaxConsecutiveErrors,
		MaxUseCount:          cfg.MaxUseCount,
		DefaultKind:          cfg.BrowserKind,
		DefaultOptions:       driver.Options{Headless: cfg.Headless},
	}, factory)

	reg := registry.New(p, cfg.MaxConcurrentSessions, cfg.SessionTimeout)

	gate, err := auth.New(cfg.Auth)
	if err != nil {
		p.Shutdown()
		return nil, fmt.Errorf("auth setup: %w", err)
	}

	store, err := capture.NewArtifactStore(cfg.ArtifactDir)
	if err != nil {
		p.Shutdown()
		return nil, fmt.Errorf("artifact store: %w", err)
	}

	st := stats.NewManager()
	d := dispatch.New(gate, reg, p)
	tools.RegisterAll(d, tools.Deps{
		Registry: reg,
		Pool:     p,
		Capture:  capture.NewManager(),
		Store:    store,
		Stats:    st,
		Version:  version.Full(),
	})

	return &stack{
		dispatcher: d,
		registry:   reg,
		pool:       p,
		health:     health.New(cfg, p, reg, version.Full()),
		stats:      st,
	}, nil
}

func runServer(cfg *config.Config) error {
	log.Info().
		Str("version", version.Full()).
		Str("go_version", version.GoVersion()).
		Msg("Starting browserctl")

	stk, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer stk.stats.Close()

	stk.pool.Prewarm(context.Background())
	srv := server.New(cfg, stk.dispatcher, stk.health, stk.registry, stk.pool, stk.stats, version.Full())

	if flagDaemon && cfg.PIDFile != "" {
		if err := writePIDFile(cfg.PIDFile); err != nil {
			return err
		}
		defer os.Remove(cfg.PIDFile)
	}

	stopWatch := watchConfig(stk)
	if stopWatch != nil {
		defer stopWatch()
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Signal received")
	case err := <-errCh:
		if err != nil {
			return err
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	srv.Stop(ctx)
	return nil
}

func runStdio(cfg *config.Config) error {
	// Everything zerolog writes already goes to stderr via setupLogging.
	stk, err := buildStack(cfg)
	if err != nil {
		return err
	}
	defer func() {
		stk.registry.Shutdown()
		stk.pool.Shutdown()
		stk.stats.Close()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return mcpserver.New(stk.dispatcher, version.Full()).Serve(ctx)
}

// watchConfig installs the hot-reload watcher when a config file is in use.
// Only the reloadable subset applies live; the rest needs a restart.
func watchConfig(stk *stack) func() {
	if flagConfig == "" {
		return nil
	}
	stop, err := config.Watch(flagConfig, func(r config.Reloadable) {
		zerolog.SetGlobalLevel(parseLevel(r.LogLevel))
		stk.pool.Resize(r.PoolMinSize, r.PoolMaxSize)
		log.Info().
			Str("log_level", r.LogLevel).
			Int("rate_limit_per_ip", r.RateLimitPerIP).
			Int("pool_min", r.PoolMinSize).
			Int("pool_max", r.PoolMaxSize).
			Msg("Reloadable settings applied; transport rate limit applies to new connections after restart")
	})
	if err != nil {
		log.Warn().Err(err).Msg("Config watcher not started")
		return nil
	}
	return stop
}

func writePIDFile(path string) error {
	pid := strconv.Itoa(os.Getpid())
	if err := os.WriteFile(path, []byte(pid), 0o644); err != nil {
		return fmt.Errorf("write PID file %s: %w", path, err)
	}
	log.Info().Str("path", path).Str("pid", pid).Msg("PID file written")
	return nil
}
