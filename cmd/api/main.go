package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/formrelay/form-service/internal/config"
	"github.com/formrelay/form-service/internal/digest"
	"github.com/formrelay/form-service/internal/gate"
	"github.com/formrelay/form-service/internal/handler"
	"github.com/formrelay/form-service/internal/middleware"
	"github.com/formrelay/form-service/internal/repository"
	"github.com/formrelay/form-service/internal/security"
	"github.com/formrelay/form-service/internal/service"
	"github.com/formrelay/form-service/internal/token"
	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logLevel, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Load configuration
	cfg, err := config.NewConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	// Initialize database
	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatalf("Failed to ping database: %v", err)
	}

	repo := repository.NewRepository(db)
	if err := repo.EnsureSchema(context.Background()); err != nil {
		logger.Fatalf("Failed to apply schema: %v", err)
	}

	// Initialize the registration flag store
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	// Initialize layers
	hasher := security.NewHasher(cfg.BcryptCost)
	tokens := token.NewService(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	registrationGate := gate.NewGate(redisClient, logger)
	svc := service.NewService(repo, hasher, logger, cfg.APIKeyCapacity)
	h := handler.NewHandler(svc, svc, registrationGate, tokens, logger)

	// Daily submission digest, active only when SMTP is configured
	if cfg.DigestEnabled() {
		scheduler := digest.NewScheduler(repo, digest.NewSender(cfg, logger), logger)
		if err := scheduler.Start(cfg.DigestSchedule); err != nil {
			logger.Fatalf("Failed to start digest: %v", err)
		}
		defer scheduler.Stop()
	}

	// Setup router
	r := mux.NewRouter()
	r.Use(middleware.CORS)
	// Public routes
	r.HandleFunc("/health", h.Health).Methods("GET", "OPTIONS")
	r.HandleFunc("/users/login", h.Login).Methods("POST", "OPTIONS")
	r.HandleFunc("/users/register", h.Register).Methods("POST", "OPTIONS")
	r.HandleFunc("/forms/{formId}/submit", h.SubmitForm).Methods("GET", "POST", "OPTIONS")
	// Protected routes
	authRouter := r.PathPrefix("/").Subrouter()
	authRouter.Use(middleware.Auth(tokens, svc, logger))
	authRouter.HandleFunc("/forms/{formId}", h.GetSubmissions).Methods("GET", "OPTIONS")
	authRouter.HandleFunc("/forms/{formId}/export", h.ExportSubmissions).Methods("GET", "OPTIONS")
	authRouter.HandleFunc("/users/{userId}/forms", h.AddForm).Methods("POST", "OPTIONS")
	authRouter.HandleFunc("/users/{userId}/api-key", h.ProvisionAPIKey).Methods("POST", "OPTIONS")

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	logger.Infof("Starting server on %s", addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("Server failed: %v", err)
	}
}
