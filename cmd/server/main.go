package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/arenalabs/arena-engine/internal/broadcast"
	"github.com/arenalabs/arena-engine/internal/config"
	"github.com/arenalabs/arena-engine/internal/ledger"
	"github.com/arenalabs/arena-engine/internal/marketclock"
	"github.com/arenalabs/arena-engine/internal/metrics"
	"github.com/arenalabs/arena-engine/internal/oracle"
	"github.com/arenalabs/arena-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration load failed", "err", err)
		os.Exit(1)
	}

	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Price oracle ---
	var orc oracle.Oracle
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		orc = oracle.NewRedisOracle(rdb)
		slog.Info("Redis price oracle enabled")
	} else {
		slog.Warn("REDIS_URL not set, using empty in-memory oracle")
		orc = oracle.NewMemoryOracle()
	}

	// --- Market-hours gate ---
	gate, err := marketclock.New(cfg.Market)
	if err != nil {
		slog.Error("market clock setup failed", "err", err)
		os.Exit(1)
	}

	// --- Ledger engine + handlers ---
	engine := ledger.New(st, orc, gate, cfg.Transforms)
	handlers := ledger.NewHandlers(engine, st)

	// --- Broadcast registry ---
	registry := broadcast.NewRegistry(st, orc)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"arena-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feeds. No timeout middleware here: connections are
		// long-lived by design.
		r.Get("/ws", registry.HandleCombinedWS)
		r.Get("/ws/prices", registry.HandlePriceWS)
		r.Get("/ws/equity", registry.HandleEquityWS)
		r.Get("/ws/status", registry.HandleStatus)

		// Mutation + read API, bounded per request.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			r.Post("/trade", handlers.BookTrade)
			r.Get("/agents", handlers.ListAgents)
			r.Get("/positions", handlers.ListPositions)
			r.Put("/positions/bulk", handlers.BulkRevaluePositions)
			r.Post("/chat", handlers.CreateChat)
			r.Post("/equity", handlers.CreateEquitySnapshot)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("arena-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down arena-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("arena-engine stopped")
}
