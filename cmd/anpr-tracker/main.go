package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"anpr-tracker/internal/config"
	"anpr-tracker/internal/db"
	httphandler "anpr-tracker/internal/http"
	"anpr-tracker/internal/logger"
	"anpr-tracker/internal/repository"
	"anpr-tracker/internal/service"
)

func main() {
	configPath := flag.String("config", "", "path to a config file (default: ./config.yaml if present)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLog := zerolog.New(os.Stderr).With().Timestamp().Logger()
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup

	hub := httphandler.NewHub(cfg.HTTP.AllowedOrigins, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	notifiers := service.Notifiers{hub}
	opts := []service.EngineOption{service.WithCaptureRequester(hub)}

	var plateService *service.PlateService
	if cfg.Database.Enabled {
		gormDB, err := db.New(cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		sqlDB, err := gormDB.DB()
		if err == nil {
			defer sqlDB.Close()
		}

		repo := repository.NewANPRRepository(gormDB)
		recorder := repository.NewRecorder(repo, cfg.Database.RecorderBuffer, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			recorder.Run(ctx)
		}()

		notifiers = append(notifiers, recorder)
		opts = append(opts, service.WithPlateSink(recorder))
		plateService = service.NewPlateService(repo, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runRetentionJob(ctx, plateService, cfg.Database.RetentionDays, log)
		}()
	} else {
		log.Warn().Msg("database disabled, plate history will not be persisted")
	}
	opts = append(opts, service.WithAlertNotifier(notifiers))

	engine, err := service.NewEngine(cfg.Engine.EngineConfig(), log, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create tracking engine")
	}

	if cfg.Auth.JWTSecret == "" {
		log.Warn().Msg("auth.jwt_secret is empty, operator endpoints are unprotected")
	}

	router := httphandler.NewRouter(cfg.HTTP, log)
	handler := httphandler.NewHandler(engine, plateService, hub, log)
	handler.Register(router, httphandler.AuthMiddleware(cfg.Auth.JWTSecret, log))

	srv := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTP.Port).Str("env", cfg.Environment).Msg("starting anpr tracker")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced http shutdown")
	}

	engine.Close()
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("background workers did not stop in time")
	}
	log.Info().Msg("stopped")
}

// runRetentionJob prunes old sightings once at startup and then hourly.
func runRetentionJob(ctx context.Context, plates *service.PlateService, days int, log zerolog.Logger) {
	if days <= 0 {
		log.Info().Msg("sighting retention disabled")
		return
	}

	cleanup := func() {
		jobCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := plates.CleanupOldSightings(jobCtx, days); err != nil {
			log.Error().Err(err).Msg("sighting cleanup failed")
		}
	}

	cleanup()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}
