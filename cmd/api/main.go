package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"mealsnap/internal/api"
	"mealsnap/internal/config"
	"mealsnap/internal/event"
	"mealsnap/internal/mealplan"
	"mealsnap/internal/pipeline"
	"mealsnap/internal/platform/gemini"
	"mealsnap/internal/platform/localllm"
	"mealsnap/internal/platform/logger"
	"mealsnap/internal/recipe"
	"mealsnap/internal/shopping"
	"mealsnap/internal/user"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.App.LogLevel,
		Format:      cfg.App.LogFormat,
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("postgres", cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	userStore, err := user.NewPostgresStore(db)
	if err != nil {
		return err
	}
	recipeStore, err := recipe.NewPostgresStore(db)
	if err != nil {
		return err
	}
	shoppingStore, err := shopping.NewPostgresStore(db)
	if err != nil {
		return err
	}
	mealPlanStore, err := mealplan.NewPostgresStore(db)
	if err != nil {
		return err
	}
	eventStore, err := event.NewPostgresStore(db)
	if err != nil {
		return err
	}

	var gateway pipeline.AIGateway
	switch cfg.AI.Provider {
	case "local":
		gateway = localllm.NewClient(cfg.AI.LocalURL)
	default:
		gateway, err = gemini.NewClient(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
		if err != nil {
			return fmt.Errorf("failed to create gemini client: %w", err)
		}
	}

	shoppingSvc := shopping.NewService(shoppingStore)

	bus := event.NewBus(eventStore, log, event.Options{
		Workers:         cfg.Pipeline.Workers,
		HandlerAttempts: cfg.Pipeline.HandlerAttempts,
		StepAttempts:    cfg.Pipeline.StepAttempts,
		StepBaseBackoff: cfg.Pipeline.StepBaseBackoff,
		QueueSize:       cfg.Pipeline.QueueSize,
		RedispatchDelay: cfg.Pipeline.RedispatchDelay,
	})
	stages := &pipeline.Stages{
		AI:       gateway,
		Users:    userStore,
		Recipes:  recipeStore,
		Shopping: shoppingSvc,
		Logger:   log,
	}
	stages.Register(bus)
	bus.Start(ctx)
	if err := bus.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover pending events: %w", err)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	r.Static("/images", cfg.Uploads.Dir)

	handler := &api.Handler{
		Users:       userStore,
		Recipes:     recipeStore,
		Shopping:    shoppingSvc,
		MealPlans:   mealPlanStore,
		Nutrition:   stages,
		Events:      bus,
		Logger:      log,
		UploadDir:   cfg.Uploads.Dir,
		MaxWidth:    cfg.Uploads.MaxWidth,
		CallTimeout: cfg.AI.CallTimeout,
	}
	handler.Routes(r, cfg.Auth.JWTSecret)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: r,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("server listening",
		zap.String("addr", srv.Addr),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.String("environment", cfg.App.Environment))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}
	bus.Wait()
	return nil
}
