// unadulting/main.go
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"
	"unadulting/auth"
	"unadulting/config"
	"unadulting/database"
	"unadulting/forum"
	"unadulting/handlers"
	"unadulting/models"
	"unadulting/moderation"
	"unadulting/realtime"
	"unadulting/storage"
	"unadulting/utils"

	"github.com/joho/godotenv"
)

type Application struct {
	db          *database.DatabaseService
	forumAPI    *forum.API
	modSvc      *moderation.Service
	sessions    *auth.Service
	rateLimiter *models.RateLimiter
	logger      *slog.Logger
}

// Methods to satisfy the handlers.App interface
func (a *Application) DB() *database.DatabaseService    { return a.db }
func (a *Application) Forum() *forum.API                { return a.forumAPI }
func (a *Application) Moderation() *moderation.Service  { return a.modSvc }
func (a *Application) Sessions() *auth.Service          { return a.sessions }
func (a *Application) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *Application) Logger() *slog.Logger             { return a.logger }

func envDuration(logger *slog.Logger, key, fallback string) time.Duration {
	raw := utils.GetEnv(key, fallback)
	d, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn("Invalid duration, using default", "key", key, "value", raw, "default", fallback)
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using process environment")
	}

	saltBytes := make([]byte, 32)
	if _, err := rand.Read(saltBytes); err != nil {
		logger.Error("Failed to generate IP salt", "error", err)
		os.Exit(1)
	}
	utils.IPSalt = hex.EncodeToString(saltBytes)

	// --- External Configuration ---
	port := utils.GetEnv("UNADULT_PORT", "8080")
	dbPath := utils.GetEnv("UNADULT_DB_PATH", "./unadulting.db?_journal_mode=WAL&_foreign_keys=on")

	jwtSecret := os.Getenv("UNADULT_JWT_SECRET")
	if jwtSecret == "" {
		logger.Error("FATAL: UNADULT_JWT_SECRET is required")
		os.Exit(1)
	}

	rateLimitEvery := envDuration(logger, "UNADULT_RATE_EVERY", config.DefaultRateLimitEvery)
	rateLimitBurst, err := strconv.Atoi(utils.GetEnv("UNADULT_RATE_BURST", strconv.Itoa(config.DefaultRateLimitBurst)))
	if err != nil {
		logger.Warn("Invalid UNADULT_RATE_BURST integer, using default", "value", utils.GetEnv("UNADULT_RATE_BURST", ""), "default", config.DefaultRateLimitBurst)
		rateLimitBurst = config.DefaultRateLimitBurst
	}
	rateLimitPrune := envDuration(logger, "UNADULT_RATE_PRUNE", config.DefaultRateLimitPrune)
	rateLimitExpire := envDuration(logger, "UNADULT_RATE_EXPIRE", config.DefaultRateLimitExpire)
	accessTTL := envDuration(logger, "UNADULT_ACCESS_TTL", config.DefaultAccessTokenTTL)
	resetTTL := envDuration(logger, "UNADULT_RESET_TTL", config.DefaultResetTokenTTL)

	dbService, err := database.InitDB(dbPath, logger)
	if err != nil {
		logger.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbService.DB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	}()

	// --- Key-Value Store Init ---
	var kv storage.KeyValue
	if utils.GetEnv("UNADULT_S3_ENABLED", "false") == "true" {
		endpoint := utils.GetEnv("UNADULT_S3_ENDPOINT", "")
		accessKey := utils.GetEnv("UNADULT_S3_ACCESS_KEY", "")
		secretKey := utils.GetEnv("UNADULT_S3_SECRET_KEY", "")
		bucket := utils.GetEnv("UNADULT_S3_BUCKET", "")
		region := utils.GetEnv("UNADULT_S3_REGION", "us-east-1")
		prefix := utils.GetEnv("UNADULT_S3_PREFIX", "state")
		useSSL := utils.GetEnv("UNADULT_S3_USE_SSL", "true") == "true"

		kv, err = storage.NewS3Store(endpoint, accessKey, secretKey, bucket, region, prefix, useSSL)
		if err != nil {
			logger.Error("Failed to initialize S3 store", "error", err)
			os.Exit(1)
		}
		logger.Info("S3 store initialized", "endpoint", endpoint, "bucket", bucket)
	} else {
		stateDir := utils.GetEnv("UNADULT_STATE_DIR", "./state")
		kv, err = storage.NewLocalStore(stateDir)
		if err != nil {
			logger.Error("Failed to initialize local store", "error", err)
			os.Exit(1)
		}
		logger.Info("Local store initialized", "dir", stateDir)
	}

	// --- Realtime Feed Init ---
	var feed realtime.Feed
	if natsURL := os.Getenv("UNADULT_NATS_URL"); natsURL != "" {
		natsFeed, err := realtime.NewNATSFeed(natsURL, logger)
		if err != nil {
			logger.Error("Failed to connect to NATS", "url", natsURL, "error", err)
			os.Exit(1)
		}
		defer natsFeed.Close()
		feed = natsFeed
		logger.Info("NATS feed initialized", "url", natsURL)
	} else {
		feed = realtime.NewHub(logger)
		logger.Info("In-process feed initialized")
	}

	sessions := auth.NewService(dbService, []byte(jwtSecret), accessTTL, resetTTL, logger)
	app := &Application{
		db:          dbService,
		forumAPI:    forum.NewAPI(dbService, sessions, feed, kv, logger),
		modSvc:      moderation.NewService(dbService, sessions, logger),
		sessions:    sessions,
		rateLimiter: models.NewRateLimiter(rateLimitEvery, rateLimitBurst, rateLimitPrune, rateLimitExpire),
		logger:      logger,
	}

	mux := handlers.SetupRouter(app)

	// --- Graceful Shutdown ---
	server := &http.Server{Addr: ":" + port, Handler: mux}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed unexpectedly", "error", err)
			os.Exit(1)
		}
	}()

	logger.Info("unadulting server started successfully",
		"version", config.AppVersion,
		"address", "http://localhost:"+port,
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("Server exiting")
}
