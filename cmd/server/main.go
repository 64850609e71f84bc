package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/gorilla/handlers"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/driftsync/driftsync-api/internal/config"
	"github.com/driftsync/driftsync-api/internal/engine"
	"github.com/driftsync/driftsync-api/internal/handlers"
	"github.com/driftsync/driftsync-api/internal/middleware"
	"github.com/driftsync/driftsync-api/internal/migration"
	"github.com/driftsync/driftsync-api/internal/models"
	"github.com/driftsync/driftsync-api/internal/repository"
	"github.com/driftsync/driftsync-api/internal/routes"
	"github.com/driftsync/driftsync-api/internal/scheduler"
	"github.com/driftsync/driftsync-api/internal/temporal"
	"github.com/driftsync/driftsync-api/internal/temporal/activities"
	"github.com/driftsync/driftsync-api/internal/temporal/workflows"

	_ "github.com/lib/pq" // PostgreSQL driver
	tc "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

type application struct {
	config         *config.Config
	db             *sql.DB
	engine         *engine.Engine
	temporalClient tc.Client
	scheduler      *scheduler.Scheduler
	logger         zerolog.Logger
}

// connectionStore adapts the connection repository to the engine, which
// expects decrypted credentials and a hard error for unknown IDs.
type connectionStore struct {
	repo repository.ConnectionRepository
}

func (s connectionStore) GetConnection(ctx context.Context, id string) (*models.Connection, error) {
	conn, err := s.repo.GetWithPassword(ctx, id)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, errors.New("connection not found: " + id)
	}
	return conn, nil
}

func main() {
	// Set up structured, level-based logging.
	cfg := config.Load()

	logWriter := io.Writer(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	if cfg.Log.File != "" {
		fileWriter := &lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAgeDays,
		}
		logWriter = zerolog.MultiLevelWriter(logWriter, fileWriter)
	}
	logger := zerolog.New(logWriter).With().Timestamp().Logger()

	if level, err := zerolog.ParseLevel(cfg.Log.Level); err == nil {
		zerolog.SetGlobalLevel(level)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.SetFlags(0)
	log.SetOutput(logger)

	// Initialize database connection.
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to connect to the database")
	}
	defer db.Close()
	if err := db.Ping(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to ping database")
	}

	// Run database migrations.
	migration.RunMigrations(cfg.DatabaseURL)

	// Repositories shared by the API and the engine.
	jobRepo := repository.NewJobRepository(db)
	connRepo := repository.NewConnectionRepository(db)
	execRepo := repository.NewExecutionRepository(db)
	userRepo := repository.NewUserRepository(db)

	syncEngine := engine.New(cfg.Engine, jobRepo, execRepo, connectionStore{repo: connRepo}, logger)

	// Initialize Temporal client.
	temporalClient, err := tc.Dial(tc.Options{
		HostPort:  cfg.Temporal.HostPort,
		Namespace: cfg.Temporal.Namespace,
		Logger:    temporal.NewTemporalAdapter(logger),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("Unable to create Temporal client")
	}
	defer temporalClient.Close()

	// Create the application instance.
	app := &application{
		config:         cfg,
		db:             db,
		engine:         syncEngine,
		temporalClient: temporalClient,
		scheduler:      scheduler.New(temporalClient, jobRepo, cfg.Temporal.TaskQueue, logger),
		logger:         logger,
	}

	// Start the Temporal worker in a separate goroutine.
	temporalWorker := app.startTemporalWorker(logger)

	// Register cron schedules for the jobs already in the database.
	if err := app.scheduler.SyncAll(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to synchronize schedules")
	}

	// Initialize the HTTP router and middleware.
	authHandler := handlers.NewAuthHandler(userRepo, cfg.JWTSecret, logger)
	jobHandler := handlers.NewJobHandler(jobRepo, app.scheduler, logger)
	connHandler := handlers.NewConnectionHandler(connRepo, logger)
	execHandler := handlers.NewExecutionHandler(execRepo, syncEngine, logger)

	router := routes.NewRouter(authHandler, jobHandler, connHandler, execHandler)
	loggedRouter := middleware.Logging(logger)(router)
	corsHandler := h.CORS(
		h.AllowedOrigins([]string{"http://localhost:3000"}),
		h.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		h.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		h.AllowCredentials(),
	)(loggedRouter)

	// Start the HTTP server and handle graceful shutdown.
	app.startServer(corsHandler, temporalWorker, logger)

	logger.Info().Msg("Application terminated.")
}

func (app *application) startTemporalWorker(logger zerolog.Logger) worker.Worker {
	activityImpl := &activities.Activities{
		Engine: app.engine,
	}

	w := worker.New(app.temporalClient, app.config.Temporal.TaskQueue, worker.Options{})

	w.RegisterWorkflow(workflows.SyncJobWorkflow)
	w.RegisterActivity(activityImpl)

	// Start the worker in a goroutine so it doesn't block.
	go func() {
		logger.Info().Msg("Starting Temporal worker...")
		if err := w.Run(worker.InterruptCh()); err != nil {
			logger.Fatal().Err(err).Msg("Unable to start worker")
		}
	}()

	return w
}

// startServer launches the HTTP server and handles graceful shutdown.
func (app *application) startServer(handler http.Handler, temporalWorker worker.Worker, logger zerolog.Logger) {
	server := &http.Server{
		Addr:    ":" + app.config.ServerPort,
		Handler: handler,
	}

	// Channel to listen for server errors
	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info().Msgf("Server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	// Wait for an interrupt signal or a server error.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Msgf("Received signal: %s. Shutting down...", sig)
	case err := <-serverErrCh:
		logger.Error().Err(err).Msg("Server error occurred")
	}

	// Gracefully shut down the HTTP server.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	} else {
		logger.Info().Msg("HTTP server shutdown complete.")
	}

	// Stop the Temporal worker.
	logger.Info().Msg("Stopping Temporal worker...")
	temporalWorker.Stop()
	logger.Info().Msg("Temporal worker stopped.")
}
