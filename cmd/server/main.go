package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/apoorv-echos11/polling-app/internal/config"
	routes "github.com/apoorv-echos11/polling-app/internal/http"
	"github.com/apoorv-echos11/polling-app/internal/poll"
	"github.com/apoorv-echos11/polling-app/internal/store"
	"github.com/apoorv-echos11/polling-app/internal/ws"
)

func main() {
	// Load .env first so everything downstream can read plain env vars. Not
	// finding one is fine: production sets env vars directly.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// 1. Connect to the store
	st, err := store.Open(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// 2. Build the poll engine
	repo := poll.NewRepository(st)
	ledger := poll.NewLedger(st)
	service := poll.NewService(repo, ledger, cfg.AdminPassword)

	// 3. Start the WebSocket hub and hook it up as the broadcast layer
	hub := ws.NewHub()
	go hub.Run()
	service.SetBroadcaster(hub)

	// 4. Router and routes
	router := gin.Default()
	routes.SetupRoutes(router, service, hub, cfg)

	// 5. Start server with graceful shutdown
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("polling server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-quit
	slog.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	if err := st.Close(); err != nil {
		slog.Warn("error closing redis client", "error", err)
	}

	slog.Info("server exiting")
}
