// Package bootstrap wires configuration, storage, adapters and services into
// a runnable API server.
package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"scout_server/adapter/out/llm"
	"scout_server/adapter/out/mongodb"
	"scout_server/adapter/out/persistence"
	"scout_server/adapter/out/provider"
	redisadapter "scout_server/adapter/out/redis"
	"scout_server/config"
	"scout_server/core/port/out"
	"scout_server/core/service/leads"
	"scout_server/core/service/sync"
	"scout_server/infra/database"
	"scout_server/pkg/logger"
)

// Dependencies holds every wired collaborator of the server.
type Dependencies struct {
	Config  *config.Config
	DB      *pgxpool.Pool
	SQLDB   *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Database

	// Repositories
	MessageRepo   out.MessageRepository
	BodyRepo      out.MessageBodyRepository
	LeadRepo      out.LeadRepository
	WatermarkRepo out.WatermarkRepository
	JobRepo       out.ExtractionJobRepository

	// Outbound adapters
	GmailProvider *provider.GmailAdapter
	TokenStore    *redisadapter.TokenStore
	RunLock       *redisadapter.RunLock
	Extractor     out.LeadExtractorPort

	// Services
	Ingestor     *leads.Ingestor
	Orchestrator *sync.Orchestrator
}

// NewDependencies connects the backends and builds the dependency graph. The
// returned cleanup closes every connection in reverse order.
func NewDependencies(cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Config: cfg}
	var cleanups []func()

	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	// Postgres (pgxpool for health, sqlx for repositories)
	db, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	sqlDB, err := database.NewSQLX(cfg.DatabaseURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.SQLDB = sqlDB
	cleanups = append(cleanups, func() { sqlDB.Close() })

	// Redis
	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.Redis = redisClient
	cleanups = append(cleanups, func() { redisClient.Close() })

	// MongoDB (message bodies)
	mongoDB, err := mongodb.NewDatabase(cfg.MongoDBURL, cfg.MongoDBName)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	deps.MongoDB = mongoDB
	cleanups = append(cleanups, func() {
		_ = mongoDB.Client().Disconnect(context.Background())
	})

	bodyRepo := mongodb.NewBodyAdapter(mongoDB)
	if err := bodyRepo.EnsureIndexes(context.Background()); err != nil {
		logger.Warn("Failed to ensure MongoDB indexes: %v", err)
	}
	deps.BodyRepo = bodyRepo

	// Repositories
	deps.MessageRepo = persistence.NewMessageAdapter(sqlDB)
	deps.LeadRepo = persistence.NewLeadAdapter(sqlDB)
	deps.WatermarkRepo = persistence.NewWatermarkAdapter(sqlDB)
	deps.JobRepo = persistence.NewExtractionJobAdapter(sqlDB)

	// Mail provider
	deps.GmailProvider = provider.NewGmailAdapter(&provider.GmailConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
	})
	deps.TokenStore = redisadapter.NewTokenStore(redisClient, deps.GmailProvider.OAuthConfig())
	deps.RunLock = redisadapter.NewRunLock(redisClient)

	// Extractor
	deps.Extractor = llm.NewExtractor(llm.ExtractorConfig{
		APIKey:      cfg.OpenAIAPIKey,
		Model:       cfg.LLMModel,
		MaxTokens:   cfg.LLMMaxTokens,
		Temperature: cfg.LLMTemperature,
	})

	// Services
	deps.Ingestor = leads.NewIngestor(deps.LeadRepo)
	deps.Orchestrator = sync.NewOrchestrator(
		deps.GmailProvider,
		deps.TokenStore,
		deps.WatermarkRepo,
		deps.MessageRepo,
		deps.BodyRepo,
		deps.JobRepo,
		deps.Extractor,
		deps.Ingestor,
		deps.RunLock,
		sync.Options{
			DefaultLabel:       cfg.SyncLabel,
			MaxFetch:           cfg.SyncMaxFetch,
			Workers:            cfg.SyncWorkers,
			MaxLinks:           cfg.SyncMaxLinks,
			LockTTL:            cfg.SyncLockTTL,
			BodyTTLDays:        cfg.BodyTTLDays,
			CustomInstructions: cfg.CustomGuidance,
		},
	)

	return deps, cleanup, nil
}
