// Package cli implements the admin CLI (cmd/voicetutor): operator-facing
// commands over the cache, pre-gen job engine, profile manager, and
// comparison-session manager, the server-side surface this core owns.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/apresai/voicetutor/internal/audiocache"
	"github.com/apresai/voicetutor/internal/comparison"
	"github.com/apresai/voicetutor/internal/config"
	"github.com/apresai/voicetutor/internal/kbaudio"
	"github.com/apresai/voicetutor/internal/llmclient"
	"github.com/apresai/voicetutor/internal/observability"
	"github.com/apresai/voicetutor/internal/prefetch"
	"github.com/apresai/voicetutor/internal/pregen"
	"github.com/apresai/voicetutor/internal/store/postgres"
	"github.com/apresai/voicetutor/internal/ttsprofile"
	"github.com/apresai/voicetutor/internal/ttsprovider"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// app bundles every component the admin CLI operates against, built once
// per leaf-command invocation (see withApp) from environment configuration.
type app struct {
	cfg    config.Config
	log    *slog.Logger
	store  *postgres.Store
	tracer *sdktrace.TracerProvider

	cache      *audiocache.Store
	pool       *ttsprovider.Pool
	profiles   *ttsprofile.Manager
	pregen     *pregen.Engine
	comparison *comparison.Manager
	prefetch   *prefetch.Manager
	kb         *kbaudio.Manager
	llm        *llmclient.Client
}

var rootCmd = &cobra.Command{
	Use:     "voicetutor",
	Short:   "Admin CLI for the voicetutor TTS/media core",
	Version: Version,
}

// Execute runs the root command. Each leaf command wires its own app via
// withApp, so `voicetutor --help` never needs a database connection.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(pregenCmd)
	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(comparisonCmd)
}

// buildApp loads Config and wires every component, the same dependency
// graph a long-running server process would construct.
func buildApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := observability.InitLogger()

	var tracer *sdktrace.TracerProvider
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		tracer, err = observability.InitTracer(ctx, "voicetutor-core", Version)
		if err != nil {
			log.Warn("tracer init failed, continuing without tracing", "error", err)
			tracer = nil
		}
	}

	store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	cache := audiocache.NewStore(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheTTL, log)
	if err := cache.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("initialize cache: %w", err)
	}

	var urlOverrides map[ttsprovider.Provider]string
	if len(cfg.TTSUpstreamOverrides) > 0 {
		urlOverrides = make(map[ttsprovider.Provider]string, len(cfg.TTSUpstreamOverrides))
		for name, url := range cfg.TTSUpstreamOverrides {
			urlOverrides[ttsprovider.Provider(name)] = url
		}
	}
	pool := ttsprovider.NewPool(cfg.TTSLiveCapacity, cfg.TTSBackgroundCapacity, urlOverrides, cfg.TTSUpstreamTimeout)

	profiles := ttsprofile.NewManager(store, pool, cfg.ProfileSamplesDir, log)
	pregenEngine := pregen.NewEngine(store, pool, profiles, cfg.PregenBaseDir, log)
	comparisonMgr := comparison.NewManager(store, pool, profiles, cfg.ComparisonDir, log)
	prefetchMgr := prefetch.NewManager(cache, pool, log)
	kbMgr := kbaudio.NewManager(cfg.KBAudioBaseDir, pool, log)
	llm := llmclient.NewClient(cfg.AnthropicModel, cfg.AnthropicAPIKey)

	return &app{
		cfg:        cfg,
		log:        log,
		store:      store,
		tracer:     tracer,
		cache:      cache,
		pool:       pool,
		profiles:   profiles,
		pregen:     pregenEngine,
		comparison: comparisonMgr,
		prefetch:   prefetchMgr,
		kb:         kbMgr,
		llm:        llm,
	}, nil
}

// withApp runs fn against a freshly wired app, closing the store
// afterward. Every leaf command uses this instead of duplicating
// buildApp/defer boilerplate.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer a.store.Close()
	defer func() {
		if err := a.cache.Shutdown(ctx); err != nil {
			a.log.Warn("cache index flush on shutdown failed", "error", err)
		}
		if a.tracer != nil {
			_ = a.tracer.Shutdown(ctx)
		}
	}()
	return fn(ctx, a)
}
