// Command server runs the room chat backend: the /ws event gateway and the
// REST room endpoints over a shared message store.
//
// @title       Room Chat API
// @version     1.0
// @description Room-scoped chat: REST history and send endpoints alongside the /ws event gateway.
// @BasePath    /api/v1
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-room-chat/internal/config"
	httpapi "github.com/tbourn/go-room-chat/internal/http"
	"github.com/tbourn/go-room-chat/internal/observability"
	"github.com/tbourn/go-room-chat/internal/realtime"
	"github.com/tbourn/go-room-chat/internal/repo"
	"github.com/tbourn/go-room-chat/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// A missing .env is fine; the environment wins either way.
	_ = godotenv.Load()

	cfg := config.MustLoad()
	log.Logger = sysutil.NewLogger(cfg.LogLevel, cfg.LogPretty, os.Stderr)
	appVersion := sysutil.FirstNonEmpty(os.Getenv("APP_VERSION"), version)

	if err := run(cfg, appVersion); err != nil {
		log.Fatal().Err(err).Msg("server exited")
	}
	log.Info().Msg("server stopped")
}

func run(cfg config.Config, appVersion string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, appVersion)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTel(sctx); err != nil {
			log.Warn().Err(err).Msg("otel shutdown")
		}
	}()

	db, err := repo.Open(cfg.DB)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	svc := httpapi.NewServices(db, cfg)
	ws := realtime.NewServer(cfg.WS, cfg.CORS.AllowedOrigins, svc.Ingest, svc.History, log.Logger)

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, svc, ws, cfg)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("version", appVersion).
			Str("db_driver", cfg.DB.Driver).
			Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// Hijacked websocket connections are invisible to http.Server, so
		// the gateway closes them itself.
		wsErr := ws.Shutdown(sctx)
		if wsErr != nil {
			log.Warn().Err(wsErr).Msg("websocket shutdown")
		}
		return errors.Join(wsErr, srv.Shutdown(sctx))
	})
	return g.Wait()
}
