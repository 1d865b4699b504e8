package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nulzo/model-gateway/internal/auth"
	"github.com/nulzo/model-gateway/internal/config"
	"github.com/nulzo/model-gateway/internal/credential"
	"github.com/nulzo/model-gateway/internal/gateway"
	"github.com/nulzo/model-gateway/internal/platform/logger"
	"github.com/nulzo/model-gateway/internal/platform/otel"
	"github.com/nulzo/model-gateway/internal/platform/version"
	"github.com/nulzo/model-gateway/internal/prompt"
	"github.com/nulzo/model-gateway/internal/registry"
	"github.com/nulzo/model-gateway/internal/server"

	// Import providers to trigger init() registration.
	_ "github.com/nulzo/model-gateway/internal/provider/anthropic"
	_ "github.com/nulzo/model-gateway/internal/provider/bedrock"
	_ "github.com/nulzo/model-gateway/internal/provider/openaicompat"
	_ "github.com/nulzo/model-gateway/internal/provider/vertex"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Initialize(logger.DefaultConfig())
		logger.Get().Fatal("failed to load config", zap.Error(err))
	}

	logger.Initialize(logger.DefaultConfig())
	log := logger.Get()
	defer logger.Sync()

	go version.CheckForUpdates(log)

	shutdownTracer, err := otel.InitTracer("model-gateway", log, os.Stdout)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}

	tableFile, err := registry.LoadFile(cfg.Registry.Path)
	if err != nil {
		log.Fatal("failed to load model table", zap.Error(err))
	}
	reg, err := registry.New(tableFile.Models, tableFile.Aliases, log)
	if err != nil {
		log.Fatal("failed to build registry", zap.Error(err))
	}
	log.Info("model table loaded",
		zap.Int("models", len(tableFile.Models)),
		zap.String("path", cfg.Registry.Path))

	sqlStore, err := prompt.NewSQLStore(cfg.PromptStore.DSN)
	if err != nil {
		log.Fatal("failed to open prompt store", zap.Error(err))
	}
	defer func() { _ = sqlStore.Close() }()

	var promptStore prompt.Store = sqlStore
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		promptStore = prompt.NewCachedStore(sqlStore, rdb, log)
		log.Info("prompt cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	pool := credential.NewPool(platformCredentials(cfg, log))

	normalizer := gateway.NewNormalizer(prompt.NewResolver(promptStore, log))
	orchestrator := gateway.NewOrchestrator(reg, pool, auth.NewDispatcher(), http.DefaultClient, log)
	service := gateway.NewService(normalizer, orchestrator)

	srv := server.New(cfg, log, service, reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		log.Fatal("server failed", zap.Error(err))
	}

	if err := shutdownTracer(context.Background()); err != nil {
		log.Warn("tracer shutdown", zap.Error(err))
	}
}

// platformCredentials converts config entries into pool credentials, dropping
// entries whose provider tag is unknown.
func platformCredentials(cfg *config.Config, log *zap.Logger) []credential.Credential {
	creds := make([]credential.Credential, 0, len(cfg.Credentials))
	for _, cc := range cfg.Credentials {
		prov := registry.Provider(cc.Provider)
		if !registry.IsKnownProvider(prov) {
			log.Warn("skipping credential for unknown provider", zap.String("provider", cc.Provider))
			continue
		}
		creds = append(creds, credential.Credential{
			Provider:  prov,
			APIKey:    cc.APIKey,
			SecretKey: cc.SecretKey,
			Region:    cc.Region,
			ProjectID: cc.ProjectID,
			Location:  cc.Location,
			Headers:   cc.Headers,
		})
	}
	return creds
}
