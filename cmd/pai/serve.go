package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pai-platform/pai/internal/agent"
	"github.com/pai-platform/pai/internal/bus"
	"github.com/pai-platform/pai/internal/config"
	"github.com/pai-platform/pai/internal/costs"
	"github.com/pai-platform/pai/internal/dispatch"
	"github.com/pai-platform/pai/internal/embeddings"
	"github.com/pai-platform/pai/internal/hooks"
	"github.com/pai-platform/pai/internal/kv"
	"github.com/pai-platform/pai/internal/llm"
	"github.com/pai-platform/pai/internal/memory"
	"github.com/pai-platform/pai/internal/memory/phase"
	"github.com/pai-platform/pai/internal/observability"
	"github.com/pai-platform/pai/internal/permission"
	"github.com/pai-platform/pai/internal/skills"
	"github.com/pai-platform/pai/internal/tools"
	"github.com/pai-platform/pai/internal/tools/builtin"
	"github.com/pai-platform/pai/internal/vector"
	"github.com/pai-platform/pai/pkg/models"
)

// archiveSweepInterval is how often the warm-to-cold archival sweep runs.
const archiveSweepInterval = 6 * time.Hour

// coldRetentionDays is how long archived cold files are kept on disk.
const coldRetentionDays = 365

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	logger.Info("starting pai",
		"version", version,
		"commit", commit,
		"agents", len(cfg.Agents))

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr, logger)
	}

	store, err := kv.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer store.Close()

	msgBus := bus.NewRedisBus(store.Client(), logger)
	defer msgBus.Close()

	provider, err := embeddings.NewOpenAIProvider(embeddings.OpenAIConfig{
		APIKey:  cfg.Embeddings.APIKey,
		BaseURL: cfg.Embeddings.BaseURL,
		Model:   cfg.Embeddings.Model,
	})
	if err != nil {
		return fmt.Errorf("embedding provider: %w", err)
	}
	embedder := embeddings.NewBreaker(provider, embeddings.BreakerConfig{
		FailureThreshold: cfg.Embeddings.FailureThreshold,
		ResetTimeout:     cfg.Embeddings.ResetTimeout,
		OnStateChange: func(state int) {
			metrics.EmbeddingBreakerState.Set(float64(state))
		},
	})

	learningStore, err := vector.NewQdrantStore(ctx, vector.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.LearningsCollection,
		VectorSize: embedder.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("connect qdrant (learnings): %w", err)
	}
	defer learningStore.Close()

	skillStore, err := vector.NewQdrantStore(ctx, vector.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.SkillsCollection,
		VectorSize: embedder.Dimension(),
	})
	if err != nil {
		return fmt.Errorf("connect qdrant (skills): %w", err)
	}
	defer skillStore.Close()

	hot := memory.NewHotTier(store, cfg.Memory.HotTTL, logger, metrics)
	warm := memory.NewWarmTier(learningStore, embedder, logger, metrics)
	cold := memory.NewColdTier(cfg.Memory.ColdRoot, logger, metrics)
	mem := memory.NewManager(hot, warm, cold, store, logger)

	library := skills.NewLibrary(skillStore, embedder, logger, metrics)
	phaseMgr := phase.NewManager(warm, library, logger)

	client, err := llm.NewAnthropicClient(llm.AnthropicConfig{
		APIKey:     cfg.LLM.APIKey,
		BaseURL:    cfg.LLM.BaseURL,
		MaxRetries: cfg.LLM.MaxRetries,
		RetryDelay: cfg.LLM.RetryDelay,
	})
	if err != nil {
		return fmt.Errorf("anthropic client: %w", err)
	}
	router := llm.NewRouter(client, cfg.LLM.Tiers, cfg.LLM.AutoTier)

	costTracker := costs.NewTracker(store, logger)
	defer costTracker.Close()

	hookRegistry := hooks.NewRegistry(logger)

	agents := make([]*agent.Agent, 0, len(cfg.Agents))
	for _, agentCfg := range cfg.Agents {
		registry, err := buildRegistry(agentCfg, warm, logger)
		if err != nil {
			return fmt.Errorf("agent %q tools: %w", agentCfg.Type, err)
		}
		if err := registry.Register(agent.SpawnSubagentTool(router, registry, logger)); err != nil {
			return fmt.Errorf("agent %q tools: %w", agentCfg.Type, err)
		}
		a := agent.New(agentCfg, agent.Deps{
			Bus:      msgBus,
			Store:    store,
			LLM:      router,
			Registry: registry,
			Memory:   mem,
			Phase:    phaseMgr,
			Hooks:    hookRegistry,
			Costs:    costTracker,
			Metrics:  metrics,
			Logger:   logger,
		})
		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("start agent %q: %w", agentCfg.Type, err)
		}
		agents = append(agents, a)
	}

	go archiveLoop(ctx, mem, archiveOptions(cfg), logger)

	logger.Info("pai running", "agents", len(agents))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulBudget(cfg))
	defer cancel()
	for _, a := range agents {
		if err := a.Stop(shutdownCtx); err != nil {
			logger.Warn("agent stop failed", "agent", a.Name(), "error", err)
		}
	}
	for _, a := range agents {
		a.Wait()
	}
	logger.Info("pai stopped")
	return nil
}

// buildRegistry creates one agent's tool registry with the builtin tools
// registered under that agent's permission context.
func buildRegistry(agentCfg config.AgentConfig, warm *memory.WarmTier, logger *slog.Logger) (*tools.Registry, error) {
	permCtx := permission.NewContext(agentCfg.Type, agentCfg.BaseLevel, agentCfg.Capabilities, agentCfg.ElevationCeiling)
	elevation := permission.NewManager(0, logger)
	registry := tools.NewRegistry(permCtx, elevation, tools.NewValidator(), logger)

	for _, tool := range []*tools.Tool{
		builtin.ListFiles(),
		builtin.ReadFile(),
		builtin.WriteFile(),
		builtin.RunCommand(),
		builtin.SearchMemory(warm, permCtx),
	} {
		if err := registry.Register(tool); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func archiveOptions(cfg *config.Config) memory.ArchiveOptions {
	opts := memory.DefaultArchiveOptions()
	opts.OlderThanDays = cfg.Memory.ArchiveAfterDays
	opts.HighConfidenceDays = cfg.Memory.HighConfDays
	opts.HighConfidenceThreshold = cfg.Memory.HighConfThreshold
	opts.BatchSize = cfg.Memory.ArchiveBatchSize
	return opts
}

// archiveLoop periodically sweeps aged learnings from the warm tier into
// cold storage and removes cold files past retention.
func archiveLoop(ctx context.Context, mem *memory.Manager, opts memory.ArchiveOptions, logger *slog.Logger) {
	ticker := time.NewTicker(archiveSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			archived, deleted, err := mem.ArchiveOldWarm(ctx, opts)
			if err != nil {
				logger.Warn("archival sweep failed", "error", err)
				continue
			}
			removed, err := mem.Cold.CleanupColdStorage(ctx, coldRetentionDays)
			if err != nil {
				logger.Warn("cold cleanup failed", "error", err)
			}
			logger.Info("archival sweep complete",
				"archived", archived, "deleted", deleted, "cold_removed", removed)
		}
	}
}

func gracefulBudget(cfg *config.Config) time.Duration {
	budget := 30 * time.Second
	for _, a := range cfg.Agents {
		if a.GracefulTimeout > budget {
			budget = a.GracefulTimeout
		}
	}
	return budget
}

func serveMetrics(addr string, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	logger.Info("metrics endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics endpoint failed", "error", err)
	}
}

// runDispatch publishes a single task onto the bus and waits for the final
// response from whichever agent picks it up.
func runDispatch(ctx context.Context, configPath, agentType, taskType, message string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := observability.NewLogger(cfg.Logging.Level, cfg.Logging.Format)

	store, err := kv.NewRedisStore(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer store.Close()

	msgBus := bus.NewRedisBus(store.Client(), logger)
	defer msgBus.Close()

	d := dispatch.New(msgBus, store, cfg.Dispatch.MaxActiveTasks, cfg.Dispatch.DedupWindow, nil, logger)
	out, err := d.Dispatch(ctx, &models.TaskRequest{
		AgentType: agentType,
		Type:      taskType,
		UserID:    "cli",
		Payload:   map[string]any{"message": message},
	})
	if err != nil {
		return err
	}

	resp, ok := <-out
	if !ok || resp == nil {
		return fmt.Errorf("no response received")
	}
	encoded, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	fmt.Println(string(encoded))
	return nil
}
