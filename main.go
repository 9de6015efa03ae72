package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"regintel/backend/features/document"
	"regintel/backend/features/job"
	"regintel/backend/features/search"
	"regintel/backend/features/stats"
	"regintel/backend/internal/adapter/gemini"
	"regintel/backend/internal/adapter/pgstore"
	"regintel/backend/internal/config"
	"regintel/backend/internal/logger"
	"regintel/backend/internal/middleware"
	"regintel/backend/internal/retrieval"
	"regintel/backend/internal/transform"
	"regintel/backend/internal/worker"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
)

func main() {
	// Initialize structured logger
	log := slog.New(logger.NewContextHandler(slog.NewJSONHandler(os.Stdout, nil)))
	slog.SetDefault(log)

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Database Connection
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPass, cfg.DBName)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("failed to open db connection", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Retry connection
	for i := 0; i < cfg.BootstrapRetryAttempts; i++ {
		if err := db.Ping(); err == nil {
			break
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", cfg.BootstrapRetryAttempts)
		time.Sleep(time.Duration(cfg.BootstrapRetryDelaySeconds) * time.Second)
	}

	if err := db.Ping(); err != nil {
		slog.Error("failed to ping db after retries", "error", err)
		os.Exit(1)
	}

	// 3. Run Migrations
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		slog.Error("failed to create migration driver", "error", err)
		os.Exit(1)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationPath, "postgres", driver)
	if err != nil {
		slog.Error("failed to create migration instance", "error", err)
		os.Exit(1)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("migrations applied successfully")

	// 4. Gemini Client
	geminiClient, err := gemini.NewClient(context.Background(), cfg.GeminiAPIKey, cfg.EmbedModel, cfg.GenerateModel)
	if err != nil {
		slog.Error("failed to create gemini client", "error", err)
		os.Exit(1)
	}
	defer geminiClient.Close()

	// 5. NSQ Producer
	nsqCfg := nsq.NewConfig()
	nsqProducer, err := nsq.NewProducer(cfg.NSQDHost, nsqCfg)
	if err != nil {
		slog.Error("failed to create NSQ producer", "error", err)
		os.Exit(1)
	}

	// Pre-create the embed topic so consumers querying lookupd don't 404
	// before the first publish. nsqd creates topics lazily otherwise.
	topicURL := fmt.Sprintf("http://%s/topic/create?topic=%s", cfg.NSQDHTTP, document.EmbedTopic)
	go func() {
		time.Sleep(2 * time.Second)
		resp, err := http.Post(topicURL, "application/json", nil)
		if err != nil {
			slog.Warn("failed to pre-create embed topic", "error", err, "url", topicURL)
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			slog.Info("embed topic pre-created", "topic", document.EmbedTopic)
		}
	}()

	// Feature: Document
	docRepo := document.NewPostgresRepo(db)
	transformer := transform.NewTransformer(geminiClient)
	docService := document.NewService(docRepo, transformer, nsqProducer, cfg.ChunkSize, cfg.ChunkOverlap)
	docHandler := document.NewHandler(docService)

	// Feature: Job
	jobRepo := job.NewPostgresRepo(db)
	jobService := job.NewService(jobRepo, nsqProducer)
	jobHandler := job.NewHandler(jobService)

	// Feature: Stats
	statsHandler := stats.NewHandler(docRepo, jobRepo)

	// Feature: Search
	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}

	matcher := pgstore.NewStore(db)
	retrievalService := retrieval.NewService(geminiClient, matcher, geminiClient, queryLogger, cfg.SearchThreshold, cfg.SearchTopK)
	searchHandler := search.NewHandler(retrievalService)

	// Worker (Embed Consumer)
	embedConsumer := worker.NewEmbedConsumer(geminiClient, docRepo, jobRepo,
		time.Duration(cfg.EmbedTimeoutSeconds)*time.Second, cfg.EmbedMaxAttempts)

	consumer, err := nsq.NewConsumer(document.EmbedTopic, "backend", nsq.NewConfig())
	if err != nil {
		slog.Error("failed to create NSQ consumer", "error", err)
	} else {
		consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
			return embedConsumer.HandleMessage(m)
		}))
		if err := consumer.ConnectToNSQLookupd(cfg.NSQLookupd); err != nil {
			slog.Error("failed to connect to NSQLookupd", "error", err)
		} else {
			slog.Info("NSQ embed consumer connected", "topic", document.EmbedTopic)
		}
	}

	// Middleware: CORS
	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	// Routes
	http.Handle("POST /documents", middleware.CorrelationID(enableCORS(docHandler.Ingest)))
	http.Handle("GET /documents", middleware.CorrelationID(enableCORS(docHandler.List)))
	http.Handle("GET /documents/{id}", middleware.CorrelationID(enableCORS(docHandler.Get)))
	http.Handle("GET /documents/{id}/status", middleware.CorrelationID(enableCORS(docHandler.Status)))
	http.Handle("POST /documents/{id}/reingest", middleware.CorrelationID(enableCORS(docHandler.Reingest)))

	http.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))

	http.Handle("GET /jobs", middleware.CorrelationID(enableCORS(jobHandler.List)))
	http.Handle("POST /jobs/{id}/retry", middleware.CorrelationID(enableCORS(jobHandler.Retry)))

	http.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	// 6. Start Server
	http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	slog.Info("server starting", "port", cfg.ServerPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.ServerPort), nil); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
