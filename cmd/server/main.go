package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Subhi2911/LilYapper-backend/internal/auth"
	"github.com/Subhi2911/LilYapper-backend/internal/chat"
	"github.com/Subhi2911/LilYapper-backend/internal/codec"
	"github.com/Subhi2911/LilYapper-backend/internal/config"
	"github.com/Subhi2911/LilYapper-backend/internal/db"
	"github.com/Subhi2911/LilYapper-backend/internal/directory"
	"github.com/Subhi2911/LilYapper-backend/internal/handler"
	"github.com/Subhi2911/LilYapper-backend/internal/metrics"
	"github.com/Subhi2911/LilYapper-backend/internal/middleware"
	"github.com/Subhi2911/LilYapper-backend/internal/presence"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded", "error", err)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatal("Failed to open database: ", err)
	}
	defer database.Close()
	slog.Info("Database initialized successfully", "path", cfg.DBPath)

	contentCodec, err := codec.New(cfg.EncryptionSecret)
	if err != nil {
		log.Fatal("Failed to initialize content codec: ", err)
	}

	verifier := auth.NewVerifier(cfg.SigningSecret, cfg.TokenIssuer)
	dir := directory.NewClient(cfg.DirectoryBaseURL, cfg.DirectoryTimeout)
	sink := directory.StoreSink{Store: database}
	engine := chat.NewEngine(database, dir, contentCodec, sink)
	tracker := presence.NewTracker()

	metrics.MustRegister()

	wsHandler := handler.NewWSHandler(engine, tracker, verifier, cfg.AllowedOrigins)
	chatHandler := handler.NewChatHandler(engine, wsHandler)
	messageHandler := handler.NewMessageHandler(engine, wsHandler)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := database.Ping(); err != nil {
			slog.Error("Health check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status":   "unhealthy",
				"database": "disconnected",
			})
			return
		}
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", wsHandler.HandleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RequireAuth(verifier))
		r.Use(chimw.Timeout(30 * time.Second))
		r.Mount("/chats", chatHandler.Routes())
		r.Mount("/messages", messageHandler.Routes())
	})

	server := &http.Server{
		Addr:        cfg.Addr,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("LilYapper server starting", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error: ", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}

	slog.Info("Server stopped")
}
