// Package main is the entry point for the Zulip MCP bridge. It wires the
// embedded store, the identity registry, the REST client, the event
// listener, and the MCP stdio server, then blocks until the client
// disconnects or a signal arrives.
//
// Stdout belongs to the MCP JSON-RPC stream; all logging goes to stderr.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/zulipmcp/zulipmcp/internal/afk"
	"github.com/zulipmcp/zulipmcp/internal/chain"
	"github.com/zulipmcp/zulipmcp/internal/common/config"
	"github.com/zulipmcp/zulipmcp/internal/common/logger"
	"github.com/zulipmcp/zulipmcp/internal/events/bus"
	"github.com/zulipmcp/zulipmcp/internal/identity"
	"github.com/zulipmcp/zulipmcp/internal/listener"
	"github.com/zulipmcp/zulipmcp/internal/mcpserver"
	"github.com/zulipmcp/zulipmcp/internal/resolver"
	"github.com/zulipmcp/zulipmcp/internal/retry"
	"github.com/zulipmcp/zulipmcp/internal/store"
	"github.com/zulipmcp/zulipmcp/internal/telemetry"
	"github.com/zulipmcp/zulipmcp/internal/tools"
	"github.com/zulipmcp/zulipmcp/internal/zulip"
)

var (
	configPathFlag = flag.String("config", "", "directory holding config.yaml")
	dbPathFlag     = flag.String("db", "", "path to the embedded SQLite store (overrides config)")
	logLevelFlag   = flag.String("log-level", "", "log level: debug, info, warn, error (overrides config)")
	versionFlag    = flag.Bool("version", false, "print the version and exit")
)

func main() {
	flag.Parse()

	if *versionFlag {
		fmt.Println("zulip-mcp", mcpserver.Version)
		return
	}

	cfg, err := config.LoadWithPath(*configPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	if *dbPathFlag != "" {
		cfg.Database.Path = *dbPathFlag
	}
	if *logLevelFlag != "" {
		cfg.Logging.Level = *logLevelFlag
	}

	// Stdout is the JSON-RPC stream; logs must never land there.
	cfg.Logging.OutputPath = "stderr"
	log, err := logger.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	logger.SetDefault(log)
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Error("bridge exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		log.Warn("metrics unavailable, continuing without", zap.Error(err))
		metrics = nil
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = telemetry.Shutdown(shutdownCtx)
	}()

	st, err := store.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("opening store at %s: %w", cfg.Database.Path, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing store", zap.Error(err))
		}
	}()

	client, err := zulip.New(zulip.Options{
		Site:          cfg.Site.URL,
		Timeout:       cfg.Client.Timeout(),
		RatePerMinute: cfg.Client.RateLimitPerMin,
		RateBurst:     cfg.Client.RateLimitBurst,
		Retry:         retry.Config{MaxAttempts: cfg.Client.MaxRetries, InitialDelay: 500 * time.Millisecond, MaxDelay: 15 * time.Second, Factor: 2, Jitter: true},
		MaxIdleConns:  cfg.Client.MaxIdleConns,
		MaxConns:      cfg.Client.MaxConns,
		Persist:       st,
	}, log, metrics)
	if err != nil {
		return fmt.Errorf("building REST client: %w", err)
	}

	registry, err := buildRegistry(ctx, cfg, client, log)
	if err != nil {
		return err
	}

	b, err := bus.New(cfg.Bus.NATSURL, log)
	if err != nil {
		log.Warn("event bus unavailable, falling back to in-memory", zap.Error(err))
		b = bus.NewMemoryBus(log)
	}
	defer b.Close()

	afkCtl := afk.New(st, b, log, metrics)
	executor := chain.NewExecutor(log)
	toolset := tools.New(st, registry, client, resolver.New(client), afkCtl, executor, b, cfg, log, metrics)

	// The listener only exists when a bot is configured: replies are
	// correlated against bot-posted questions.
	var lst *listener.Listener
	if botCreds, ok := registry.Get(identity.KindBot); ok {
		lst = listener.New(client, botCreds, st, b, listener.Options{
			Channel:        cfg.Listener.AgentChannel,
			BotEmail:       botCreds.Email,
			FallbackWindow: cfg.Listener.FallbackWindow(),
		}, log, metrics)

		ctl := listener.NewController(lst, afkCtl, cfg.Listener.Tick(), log)
		go ctl.Run(ctx)
	} else {
		log.Warn("no bot credentials; agent tools degrade and no reply listener runs")
	}

	srv := mcpserver.New(toolset, log, metrics)
	log.Info("zulip-mcp bridge ready",
		zap.String("site", cfg.Site.URL),
		zap.String("db", cfg.Database.Path),
		zap.String("agent_channel", cfg.Listener.AgentChannel))

	err = srv.Serve(ctx)

	// Drain the listener before the store closes under it.
	if lst != nil {
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		lst.Stop(drainCtx)
		cancel()
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("bridge shut down cleanly")
	return nil
}

// buildRegistry assembles the configured credential bundles and verifies
// the primary user identity with a live round trip. Bad bot or admin
// credentials degrade with a warning instead of failing startup.
func buildRegistry(ctx context.Context, cfg *config.Config, client *zulip.Client, log *logger.Logger) (*identity.Registry, error) {
	bundles := []identity.Credentials{{
		Kind:   identity.KindUser,
		Email:  cfg.Site.UserEmail,
		APIKey: cfg.Site.UserAPIKey,
	}}
	if cfg.Site.HasBot() {
		bundles = append(bundles, identity.Credentials{
			Kind:   identity.KindBot,
			Email:  cfg.Site.BotEmail,
			APIKey: cfg.Site.BotAPIKey,
			Name:   cfg.Site.BotName,
		})
	}
	if cfg.Site.HasAdmin() {
		bundles = append(bundles, identity.Credentials{
			Kind:   identity.KindAdmin,
			Email:  cfg.Site.AdminEmail,
			APIKey: cfg.Site.AdminAPIKey,
		})
	}

	registry := identity.NewRegistry(bundles, client.VerifyCredentials, log)

	verifyCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	for _, creds := range bundles {
		if err := client.VerifyCredentials(verifyCtx, creds); err != nil {
			if creds.Kind == identity.KindUser {
				return nil, fmt.Errorf("verifying user credentials: %w", err)
			}
			log.Warn("credential verification failed for optional identity",
				zap.String("identity", string(creds.Kind)),
				zap.Error(err))
			continue
		}
		log.Info("credentials verified", zap.String("identity", string(creds.Kind)))
	}
	return registry, nil
}
