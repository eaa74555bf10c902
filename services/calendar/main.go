package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/slotline/bookings-agent/pkg/config"
	"github.com/slotline/bookings-agent/pkg/database"
	"github.com/slotline/bookings-agent/pkg/events"
	"github.com/slotline/bookings-agent/pkg/logger"
	mw "github.com/slotline/bookings-agent/pkg/middleware"
	"github.com/slotline/bookings-agent/services/calendar/internal/handlers"
	"github.com/slotline/bookings-agent/services/calendar/internal/repository"
	"github.com/slotline/bookings-agent/services/calendar/internal/service"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := database.Connect(ctx, cfg.Database)
	cancel()
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := repository.EnsureSchema(context.Background(), pool); err != nil {
		logger.Error("Failed to ensure calendar schema", "error", err)
		os.Exit(1)
	}

	eventBus, err := events.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	repo := repository.NewEventRepository(pool)
	calendar := service.NewCalendarService(repo, eventBus)
	h := handlers.New(calendar, cfg.Auth)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("calendar-tools"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "X-Verified"},
	}))

	r.Get("/tools", h.ListTools)
	r.Post("/call", h.Call)

	port := getServicePort("8080")
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("Shutting down calendar tool service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Calendar tool service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting calendar tool service", "port", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Calendar tool service error", "error", err)
		os.Exit(1)
	}
}

func getServicePort(fallback string) string {
	if v := os.Getenv("CALENDAR_SERVICE_PORT"); v != "" {
		return v
	}
	return fallback
}
