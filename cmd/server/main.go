package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foxchat/internal/ai"
	"foxchat/internal/auth"
	"foxchat/internal/config"
	"foxchat/internal/database"
	"foxchat/internal/eventbus"
	"foxchat/internal/handlers"
	"foxchat/internal/job"
	"foxchat/internal/websocket"
	"foxchat/pkg/logger"
)

func main() {
	// Load configuration
	cfg := config.Load()
	if len(cfg.JWT.Secret) == 0 {
		logger.Fatal("JWT_SECRET environment variable is required")
	}

	// Initialize database
	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Initialize event bus
	bus, err := eventbus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}
	defer bus.Close()

	// Initialize the response job pipeline
	generator := ai.NewClient(ai.Config{
		NodeURL:        cfg.AI.NodeURL,
		APIKey:         cfg.AI.APIKey,
		ModelID:        cfg.AI.ModelID,
		MaxTokens:      cfg.AI.MaxTokens,
		Temperature:    cfg.AI.Temperature,
		TopP:           cfg.AI.TopP,
		RequestTimeout: cfg.AI.RequestTimeout,
	})
	runner := job.NewRunner(db, generator, bus, job.Config{
		PersonaName:  cfg.AI.PersonaName,
		ModelID:      cfg.AI.ModelID,
		HistoryLimit: cfg.AI.HistoryLimit,
	})
	dispatcher := job.NewDispatcher(runner, cfg.Jobs.MaxConcurrent)

	// Initialize the fanout hub
	verifier := auth.NewVerifier(cfg.JWT.Secret)
	hub := websocket.NewHub(db, bus, verifier, dispatcher)

	busCtx, stopBus := context.WithCancel(context.Background())
	defer stopBus()
	go func() {
		if err := hub.Run(busCtx); err != nil {
			logger.Fatal("Event bus subscription failed: %v", err)
		}
	}()

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(hub)

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	// Stop accepting new connections, then tell clients and wait for
	// in-flight response jobs.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}

	hub.Shutdown()
	stopBus()

	if err := dispatcher.Drain(30 * time.Second); err != nil {
		logger.Error("Timed out waiting for response jobs: %v", err)
	}
	logger.Info("Server stopped")
}
