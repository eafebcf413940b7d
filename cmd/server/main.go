// Command server runs the synchronization core as a standalone process. It
// takes the listen port as its only positional argument (no flags), loads
// optional local overrides from .env, and wires the transport, handler, and
// registry stack together behind gin.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/statesync/core/internal/v1/config"
	"github.com/statesync/core/internal/v1/handler"
	"github.com/statesync/core/internal/v1/health"
	"github.com/statesync/core/internal/v1/logging"
	"github.com/statesync/core/internal/v1/middleware"
	"github.com/statesync/core/internal/v1/room"
	"github.com/statesync/core/internal/v1/session"
	"github.com/statesync/core/internal/v1/transport"
	"go.uber.org/zap"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "no .env file found, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logger:", err)
		os.Exit(1)
	}

	port := cfg.Port
	if len(os.Args) > 1 {
		if _, err := strconv.Atoi(os.Args[1]); err != nil {
			logging.Error(context.Background(), "invalid port argument", zap.String("arg", os.Args[1]))
			os.Exit(1)
		}
		port = os.Args[1]
	}

	rooms := room.NewRegistry()
	if err := rooms.StartSweeper(context.Background(), fmt.Sprintf("@every %s", cfg.RoomSweepInterval)); err != nil {
		logging.Error(context.Background(), "failed to start room sweeper", zap.Error(err))
		os.Exit(1)
	}
	defer rooms.StopSweeper()

	sessions := session.NewRegistry()
	h := handler.New(sessions, rooms)
	adapter := transport.NewAdapter(sessions, h, transport.Config{
		AllowedOrigins:   splitOrigins(cfg.AllowedOrigins),
		IdleTimeout:      cfg.IdleTimeout,
		WriteIdleTimeout: cfg.WriteIdleTimeout,
		HandshakeTimeout: cfg.HandshakeTimeout,
		MaxFrameBytes:    cfg.MaxFrameBytes,
	})

	router := gin.New()
	router.Use(gin.Recovery(), middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	router.Use(cors.New(corsConfig))

	router.GET("/sync", adapter.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(rooms, sessions)
	router.GET("/healthz/live", healthHandler.Liveness)
	router.GET("/healthz/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	go func() {
		logging.Info(context.Background(), "server starting", zap.String("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Error(context.Background(), "server failed to start", zap.Error(err))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logging.Info(context.Background(), "shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error(ctx, "graceful shutdown failed", zap.Error(err))
	}
	logging.Info(context.Background(), "server exited")
}

// splitOrigins turns the comma-separated ALLOWED_ORIGINS config value into a
// slice, trimming whitespace around each entry.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
