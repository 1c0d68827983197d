package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wsaxqd/home-work2-sub001/internal/cache"
	"github.com/wsaxqd/home-work2-sub001/internal/config"
	"github.com/wsaxqd/home-work2-sub001/internal/content"
	"github.com/wsaxqd/home-work2-sub001/internal/engine"
	"github.com/wsaxqd/home-work2-sub001/internal/events"
	"github.com/wsaxqd/home-work2-sub001/internal/knowledge"
	"github.com/wsaxqd/home-work2-sub001/internal/llm"
	"github.com/wsaxqd/home-work2-sub001/internal/logger"
	"github.com/wsaxqd/home-work2-sub001/internal/metrics"
	"github.com/wsaxqd/home-work2-sub001/internal/practice"
	"github.com/wsaxqd/home-work2-sub001/internal/store"
)

var (
	registry      = prometheus.NewRegistry()
	engineMetrics = metrics.New(registry)
)

// Question sources and answer judges selectable for practice.
const (
	sourceBank = "bank"
	sourceLLM  = "llm"
	judgeExact = "exact"
	judgeLLM   = "llm"
)

type appOptions struct {
	source string
	judge  string
}

// app is everything a command needs, opened from configuration.
type app struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *store.Store
	engine *engine.Engine

	cleanup []func(context.Context) error
}

func (a *app) onClose(fn func(context.Context) error) {
	a.cleanup = append(a.cleanup, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(a.cleanup) - 1; i >= 0; i-- {
		if err := a.cleanup[i](ctx); err != nil {
			a.log.Warn("cleanup failed", "error", err)
		}
	}
	a.log.Sync()
}

// loadConfig reads the environment and applies the persistent flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.Database.DSN = v
	}
	if v, _ := cmd.Flags().GetBool("trace"); v {
		cfg.Log.Trace = true
	}
	if cfg.Database.Driver == store.DriverSQLite {
		if cfg.Database.DSN == "" {
			cfg.Database.DSN, err = store.DefaultDSN()
		} else {
			cfg.Database.DSN, err = store.SQLiteDSN(cfg.Database.DSN)
		}
		if err != nil {
			return nil, fmt.Errorf("resolve database path: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens (and migrates) the configured database only.
func openStore(cmd *cobra.Command) (*store.Store, *logger.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cmd.Context(), cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return st, log, nil
}

// openApp wires the engine with every configured collaborator. Optional
// infrastructure (Redis, AMQP, LLM) is used only when configured.
func openApp(cmd *cobra.Command, opts appOptions) (_ *app, err error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	deps := engine.Deps{Logger: log, Metrics: engineMetrics}
	if cfg.Log.Trace {
		shutdown, err := engine.InitTracing(ctx, os.Stderr, version)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.onClose(shutdown)
	}

	a.store, err = store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose(func(context.Context) error { return a.store.Close() })

	graph, err := loadGraph(cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range graph.Warnings() {
		log.Warn("knowledge catalog", "problem", w)
	}

	var live practice.LiveStore
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, fmt.Errorf("connect cache: %w", err)
		}
		a.onClose(func(context.Context) error { return c.Close() })
		live = practice.NewRedisLiveStore(c.Client, cfg.Cache.Prefix, cfg.Cache.TTL)
	}

	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Queue, log)
		if err != nil {
			return nil, err
		}
		a.onClose(func(context.Context) error { return pub.Close() })
		deps.Events = pub
	}

	questions, evaluator, err := contentStack(ctx, cfg, graph, log, opts)
	if err != nil {
		return nil, err
	}

	a.engine, err = engine.New(graph, engine.StoresFrom(a.store, live), questions, evaluator, cfg.Engine, deps)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func loadGraph(cfg *config.Config) (*knowledge.Graph, error) {
	opt := knowledge.WithReadyLevel(cfg.Engine.ReadyLevel)
	if cfg.Catalog.Path != "" {
		return knowledge.Load(cfg.Catalog.Path, opt)
	}
	return knowledge.Default(opt)
}

// contentStack picks the question provider and answer evaluator. LLM
// questions are cached per (point, difficulty) to keep provider calls down.
func contentStack(ctx context.Context, cfg *config.Config, graph *knowledge.Graph, log *logger.Logger, opts appOptions) (content.Provider, content.Evaluator, error) {
	var provider llm.Provider
	if opts.source == sourceLLM || opts.judge == judgeLLM {
		p, err := llm.NewProvider(ctx, cfg.LLM, log, engineMetrics)
		if errors.Is(err, llm.ErrNoProvider) {
			return nil, nil, fmt.Errorf("an LLM provider is required: set LEARN_LLM_PROVIDER and its API key")
		}
		if err != nil {
			return nil, nil, err
		}
		provider = p
	}

	var questions content.Provider
	switch opts.source {
	case sourceLLM:
		questions = content.NewCachedProvider(content.NewLLMProvider(provider, graph, 3), 256, 30*time.Minute, engineMetrics)
	case sourceBank, "":
		bank, err := loadBank(cfg)
		if err != nil {
			return nil, nil, err
		}
		questions = bank
	default:
		return nil, nil, fmt.Errorf("unknown question source %q (want %s or %s)", opts.source, sourceBank, sourceLLM)
	}

	var evaluator content.Evaluator
	switch opts.judge {
	case judgeLLM:
		evaluator = content.NewLLMEvaluator(provider)
	case judgeExact, "":
		evaluator = content.ExactEvaluator{}
	default:
		return nil, nil, fmt.Errorf("unknown answer judge %q (want %s or %s)", opts.judge, judgeExact, judgeLLM)
	}
	return questions, evaluator, nil
}

func loadBank(cfg *config.Config) (*content.Bank, error) {
	if cfg.Catalog.QuestionBank != "" {
		return content.LoadBank(cfg.Catalog.QuestionBank)
	}
	return content.DefaultBank()
}
