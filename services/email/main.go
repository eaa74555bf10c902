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
	"github.com/redis/go-redis/v9"

	"github.com/slotline/bookings-agent/pkg/config"
	"github.com/slotline/bookings-agent/pkg/events"
	"github.com/slotline/bookings-agent/pkg/logger"
	mw "github.com/slotline/bookings-agent/pkg/middleware"
	"github.com/slotline/bookings-agent/services/email/internal/handlers"
	"github.com/slotline/bookings-agent/services/email/internal/ledger"
	"github.com/slotline/bookings-agent/services/email/internal/mailer"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	store, err := buildStore(cfg)
	if err != nil {
		logger.Error("Failed to initialize OTP store", "error", err)
		os.Exit(1)
	}

	eventBus, err := events.Connect(cfg.NATS.URL)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer eventBus.Close()

	l := ledger.New(store, buildMailer(cfg), ledger.Config{
		TTL:             cfg.OTP.TTL,
		MaxSendsPerHour: cfg.OTP.MaxSendsPerHour,
		MaxAttempts:     cfg.OTP.MaxAttempts,
	})

	h := handlers.New(l, eventBus)

	r := chi.NewRouter()
	r.Use(mw.RequestID)
	r.Use(mw.ServiceName("email-otp"))
	r.Use(mw.Logging)
	r.Use(mw.Health)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/tools", h.ListTools)
	r.Post("/call", h.Call)

	port := getServicePort("8090")
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

		logger.Info("Shutting down email OTP service...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Email OTP service shutdown error", "error", err)
		}
	}()

	logger.Info("Starting email OTP service", "port", port, "store", cfg.OTP.Store)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Email OTP service error", "error", err)
		os.Exit(1)
	}
}

func buildStore(cfg *config.Config) (ledger.Store, error) {
	if cfg.OTP.Store != "redis" {
		return ledger.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, err
	}
	if cfg.Redis.Password != "" {
		opts.Password = cfg.Redis.Password
	}
	opts.DB = cfg.Redis.DB

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return ledger.NewRedisStore(client), nil
}

func buildMailer(cfg *config.Config) mailer.Service {
	if cfg.Email.DevMode {
		return mailer.NewDevMailer()
	}
	if cfg.Email.MailerSendKey != "" {
		return mailer.NewMailerSend(cfg.Email.MailerSendKey, cfg.Email.FromName, cfg.Email.FromEmail)
	}
	return mailer.NewSMTPMailer(
		cfg.Email.SMTPHost,
		cfg.Email.SMTPPort,
		cfg.Email.SMTPFrom,
		cfg.Email.SMTPUser,
		cfg.Email.SMTPPass,
		cfg.Email.SMTPUseTLS,
	)
}

func getServicePort(fallback string) string {
	if v := os.Getenv("EMAIL_SERVICE_PORT"); v != "" {
		return v
	}
	return fallback
}
