package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/querymesh/querymesh/internal/api"
	"github.com/querymesh/querymesh/internal/archive"
	"github.com/querymesh/querymesh/internal/auth"
	"github.com/querymesh/querymesh/internal/cache"
	"github.com/querymesh/querymesh/internal/config"
	"github.com/querymesh/querymesh/internal/engine"
	"github.com/querymesh/querymesh/internal/exec"
	"github.com/querymesh/querymesh/internal/generate"
	"github.com/querymesh/querymesh/internal/hybrid"
	"github.com/querymesh/querymesh/internal/llm"
	"github.com/querymesh/querymesh/internal/observability"
	"github.com/querymesh/querymesh/internal/plugin"
	"github.com/querymesh/querymesh/internal/schema"
	schemapostgres "github.com/querymesh/querymesh/internal/schema/postgres"
	s3store "github.com/querymesh/querymesh/internal/storage/s3"
	"github.com/querymesh/querymesh/internal/store"
	storepostgres "github.com/querymesh/querymesh/internal/store/postgres"
	"github.com/querymesh/querymesh/internal/switcher"
	"github.com/querymesh/querymesh/internal/template"
	"github.com/querymesh/querymesh/internal/validate"
	duckdbprober "github.com/querymesh/querymesh/internal/validate/duckdb"
)

func main() {
	cfg, err := config.LoadFromEnv("querymesh-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg, os.Stdout)

	metastoreDB, err := storepostgres.Open(context.Background(), storepostgres.DBConfig{
		DSN:             cfg.Metastore.DSN,
		MaxOpenConns:    cfg.Metastore.MaxOpenConns,
		MaxIdleConns:    cfg.Metastore.MaxIdleConns,
		ConnMaxIdleTime: cfg.Metastore.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Metastore.ConnMaxLifetime,
	})
	if err != nil {
		logger.Error("failed to open metastore db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = metastoreDB.Close() }()
	repo := storepostgres.NewRepository(metastoreDB)

	schemaDSN := cfg.SchemaSource.DSN
	if schemaDSN == "" {
		schemaDSN = cfg.Metastore.DSN
	}
	schemaDB, err := schemapostgres.Open(context.Background(), schemapostgres.DBConfig{DSN: schemaDSN})
	if err != nil {
		logger.Error("failed to open schema source db", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = schemaDB.Close() }()
	extractor := schemapostgres.NewExtractor(schemaDB, cfg.SchemaSource.ExtractTimeout)

	var cacheStore cache.Store
	switch cfg.Cache.Backend {
	case "redis":
		cacheStore, err = cache.NewRedisStore(context.Background(), cache.RedisConfig{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPass,
			DB:       cfg.Cache.RedisDB,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			logger.Error("failed to connect to redis cache", slog.Any("error", err))
			os.Exit(1)
		}
	default:
		cacheStore = cache.NewMemoryStore(cfg.Cache.Capacity, cfg.Cache.TTL)
	}

	schemaProvider := schema.NewProvider(extractor, cfg.SchemaSource.RefreshTTL,
		schema.WithLogger(logger),
		schema.WithInvalidateFunc(func(oldVersion string) {
			invalidateCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := cacheStore.InvalidateSchema(invalidateCtx, oldVersion); err != nil {
				logger.Warn("cache invalidation failed",
					slog.String("schema_version", oldVersion),
					slog.Any("error", err))
			}
		}),
	)

	var prober validate.SyntaxProber
	if cfg.Validator.SyntaxProbe {
		prober = duckdbprober.NewProber()
	}
	validator := validate.New(validate.Config{
		AllowedOperations: splitCSV(cfg.Validator.AllowedOperations),
	}, prober, logger)

	templates := template.NewStore()
	templateGen := template.NewGenerator(templates, logger)
	generators := map[generate.Method]generate.Generator{
		generate.MethodTemplate: templateGen,
	}

	if cfg.LLM.Enabled {
		provider, err := llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL:     cfg.LLM.BaseURL,
			APIKey:      cfg.LLM.APIKey,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			Timeout:     cfg.LLM.Timeout,
		})
		if err != nil {
			logger.Error("failed to initialize llm provider", slog.Any("error", err))
			os.Exit(1)
		}
		// Candidates that fail validation go back to the model with the
		// violation text as refinement feedback.
		refine := func(ctx context.Context, sqlText string) error {
			snapshot, err := schemaProvider.Get(ctx)
			if err != nil {
				return err
			}
			return validator.Validate(ctx, sqlText, snapshot, nil).Error()
		}
		llmGen := llm.NewGenerator(provider, llm.GeneratorConfig{
			Model:      cfg.LLM.Model,
			Timeout:    cfg.LLM.Timeout,
			MaxRetries: cfg.LLM.MaxRetries,
		}, refine, logger)
		generators[generate.MethodLLM] = llmGen

		hybridGen := hybrid.NewGenerator(templateGen, llmGen, cfg.Switcher.PromotionCount, refine, logger)
		hybridGen.OnPromote(func(t template.Template) error {
			paramsJSON, err := json.Marshal(t.Parameters)
			if err != nil {
				paramsJSON = []byte("[]")
			}
			persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_, err = repo.CreateTemplate(persistCtx, store.CreateTemplateInput{
				ID:         t.ID,
				Pattern:    t.Pattern,
				SQL:        t.SQL,
				ParamsJSON: paramsJSON,
				Dialect:    t.Dialect,
				Priority:   t.Priority,
			})
			return err
		})
		generators[generate.MethodHybrid] = hybridGen
	}

	methodSwitcher, err := switcher.New(switcher.Config{
		TemplateMaxScore: cfg.Switcher.TemplateMaxScore,
		HybridMaxScore:   cfg.Switcher.HybridMaxScore,
		TemplateAvailable: func(dialect string) bool {
			return len(templates.List(dialect)) > 0
		},
	}, generators, logger)
	if err != nil {
		logger.Error("failed to build method switcher", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	plugins := plugin.NewManager(cfg.Plugins.DefaultTimeout, logger)
	go plugins.RunHealthLoop(ctx, cfg.Plugins.HealthCheckInterval)

	var archiver *archive.Archiver
	if cfg.Archive.Enabled {
		objectStore, err := s3store.New(context.Background(), s3store.Config{
			Endpoint:         cfg.ObjectStore.Endpoint,
			Region:           cfg.ObjectStore.Region,
			Bucket:           cfg.ObjectStore.Bucket,
			AccessKeyID:      cfg.ObjectStore.AccessKeyID,
			SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
			UseSSL:           cfg.ObjectStore.UseSSL,
			Prefix:           cfg.ObjectStore.Prefix,
			AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
		})
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
		archiver = archive.NewArchiver(objectStore, archive.Config{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.Interval,
		}, logger)
		go archiver.Run(ctx)
	}

	var executor *exec.Executor
	if cfg.SchemaSource.ExecuteEnabled {
		executor = exec.NewExecutor(schemaDB, cfg.SchemaSource.ExecuteRowCap, cfg.HTTP.WriteTimeout)
	}

	opts := engine.Options{
		Schemas:   schemaProvider,
		Switcher:  methodSwitcher,
		Validator: validator,
		Cache:     cacheStore,
		Templates: templates,
		Plugins:   plugins,
		Repo:      repo,
		Executor:  executor,
		Logger:    logger,
	}
	if archiver != nil {
		opts.Archiver = archiver
	}
	generationEngine, err := engine.New(engine.Config{
		ExecuteEnabled: cfg.SchemaSource.ExecuteEnabled,
	}, opts)
	if err != nil {
		logger.Error("failed to build generation engine", slog.Any("error", err))
		os.Exit(1)
	}

	if loaded, err := generationEngine.LoadPersistedTemplates(context.Background()); err != nil {
		logger.Warn("failed to load persisted templates", slog.Any("error", err))
	} else if loaded > 0 {
		logger.Info("loaded persisted templates", slog.Int("count", loaded))
	}
	if loaded, err := generationEngine.LoadPersistedPlugins(context.Background()); err != nil {
		logger.Warn("failed to load persisted plugins", slog.Any("error", err))
	} else if loaded > 0 {
		logger.Info("loaded persisted plugins", slog.Int("count", loaded))
	}

	deps := api.Dependencies{
		Logger: logger,
		Engine: generationEngine,
		Readiness: api.CombineReadinessChecks(
			repo.HealthCheck,
			schemaDB.PingContext,
		),
		DependencyTimout: time.Second,
	}
	if cfg.Auth.Required {
		validator, err := auth.NewStaticAPIKeyValidator(cfg.Auth.StaticKeys)
		if err != nil {
			logger.Error("failed to parse static auth keys", slog.Any("error", err))
			os.Exit(1)
		}
		deps.AuthMiddleware = auth.Middleware(logger, validator)
	}

	handler := api.NewHandler(cfg, deps)
	server := &http.Server{
		Addr:         cfg.HTTP.Address,
		Handler:      handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	go func() {
		logger.Info("starting api server", slog.String("addr", cfg.HTTP.Address))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down api server")
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
		_ = server.Close()
		os.Exit(1)
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		values = append(values, part)
	}
	return values
}
