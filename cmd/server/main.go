package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/inkroom/internal/api"
	"github.com/manpreetbhatti/inkroom/internal/bus"
	"github.com/manpreetbhatti/inkroom/internal/config"
	"github.com/manpreetbhatti/inkroom/internal/db"
	"github.com/manpreetbhatti/inkroom/internal/discovery"
	"github.com/manpreetbhatti/inkroom/internal/logging"
	"github.com/manpreetbhatti/inkroom/internal/storage"
	"github.com/manpreetbhatti/inkroom/internal/sweeper"
	"github.com/manpreetbhatti/inkroom/internal/ws"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		l := logging.L()
		l.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(cfg.Log)
	logger := logging.L()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer database.Close()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to initialize storage")
	}

	hub := ws.NewHubWithConfig(database, hubConfig(cfg))

	instanceID := uuid.NewString()
	if cfg.Bus.Driver == "redis" {
		redisBus, err := bus.NewRedisBus(ctx, cfg.Bus.Redis, instanceID)
		if err != nil {
			logger.Fatal().Err(err).Str("address", cfg.Bus.Redis.Address).Msg("Failed to connect to redis")
		}
		defer redisBus.Close()

		if err := hub.AttachBus(ctx, redisBus); err != nil {
			logger.Fatal().Err(err).Msg("Failed to subscribe to relay bus")
		}
		logger.Info().Str("instance_id", instanceID).Str("address", cfg.Bus.Redis.Address).Msg("Relay bus attached")
	}

	go hub.Run()

	sweep := sweeper.New(database, hub, sweeper.Config{
		Interval: cfg.Sweeper.Interval,
		MaxIdle:  cfg.Sweeper.MaxIdle,
	})
	sweep.Start()

	apiHandler := api.New(hub, database, store)

	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWs(hub, w, r)
	})

	mux.HandleFunc("/health", apiHandler.HealthHandler)
	mux.HandleFunc("/api/stats", apiHandler.StatsHandler)
	mux.HandleFunc("/api/rooms", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/rooms/", apiHandler.RoomsRouter)
	mux.HandleFunc("/api/exports", apiHandler.ExportsRouter)
	mux.HandleFunc("/api/exports/", apiHandler.ExportsRouter)

	if local, ok := store.(*storage.LocalStorage); ok {
		mux.Handle("/files/", http.StripPrefix("/files/", http.FileServer(http.Dir(local.BasePath()))))
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           logging.HTTPMiddleware(logger)(corsMiddleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var advertiser *discovery.Advertiser
	if cfg.Discovery.Enabled {
		advertiser, err = discovery.Advertise(cfg.Discovery.Instance, cfg.Server.Port, discovery.DefaultPath)
		if err != nil {
			logger.Warn().Err(err).Msg("mDNS advertisement failed, relay will not be discoverable")
		} else {
			logger.Info().Str("service", discovery.ServiceType).Msg("Advertising relay over mDNS")
		}
	}

	go func() {
		logStartup(logger, cfg)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("ListenAndServe")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	if advertiser != nil {
		advertiser.Shutdown()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP shutdown did not complete")
	}

	sweep.Stop()
	hub.Stop()
	cancel()

	logger.Info().Msg("Server stopped")
}

func hubConfig(cfg *config.Server) ws.Config {
	hc := ws.DefaultConfig()
	hc.HistoryLimit = cfg.Relay.HistoryLimit
	hc.ReplayOnJoin = cfg.Relay.ReplayOnJoin
	hc.MessagesPerSecond = cfg.Relay.MessagesPerSecond
	hc.MessageBurst = cfg.Relay.MessageBurst
	hc.MaxViolations = cfg.Relay.MaxViolations
	hc.SendBuffer = cfg.WebSocket.SendBuffer
	hc.WriteWait = cfg.WebSocket.WriteWait
	hc.PongWait = cfg.WebSocket.PongWait
	hc.PingPeriod = cfg.WebSocket.PingInterval
	hc.MaxMessageSize = cfg.WebSocket.MaxMessageSize
	return hc
}

func logStartup(logger zerolog.Logger, cfg *config.Server) {
	logger.Info().
		Str("addr", cfg.Server.Addr()).
		Str("database", cfg.Database.Path).
		Str("storage", cfg.Storage.Driver).
		Bool("replay_on_join", cfg.Relay.ReplayOnJoin).
		Msg("Inkroom relay starting")

	endpoints := []string{
		"WebSocket: /ws?participant={id}&room={roomId}",
		"Health:    GET /health",
		"Stats:     GET /api/stats",
		"Rooms:     GET/POST /api/rooms",
		"Room:      GET/DELETE /api/rooms/{id}",
		"Render:    GET /api/rooms/{id}/export?format=png|pdf&page=fixed|aspect",
		"Store:     GET/POST /api/rooms/{id}/exports",
		"Exports:   GET /api/exports?room_id={id}",
		"Export:    GET/DELETE /api/exports/{id}",
	}
	for _, e := range endpoints {
		logger.Info().Msg("  - " + e)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
