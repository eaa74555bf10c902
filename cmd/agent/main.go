package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/slotline/bookings-agent/internal/agent"
	"github.com/slotline/bookings-agent/internal/intent"
	"github.com/slotline/bookings-agent/internal/proposer"
	"github.com/slotline/bookings-agent/internal/tools"
	"github.com/slotline/bookings-agent/pkg/config"
	"github.com/slotline/bookings-agent/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	loc, err := time.LoadLocation(cfg.Agent.Timezone)
	if err != nil {
		logger.Error("Invalid timezone", "timezone", cfg.Agent.Timezone, "error", err)
		os.Exit(1)
	}

	gateway := tools.NewGateway(
		cfg.Tools.CalendarBaseURL,
		cfg.Tools.EmailBaseURL,
		cfg.Tools.CallTimeout,
		cfg.Auth.Secret,
		cfg.Auth.VerifiedTokenTTL,
	)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Tools.CallTimeout)
	catalog, err := gateway.Catalog(ctx)
	cancel()
	if err != nil {
		logger.Error("Failed to load tool catalog", "error", err)
		os.Exit(1)
	}
	logger.Info("Loaded tool catalog", "tools", len(catalog))

	client, err := proposer.NewOpenAIClient(cfg.OpenAI)
	if err != nil {
		logger.Error("Failed to configure model client", "error", err)
		os.Exit(1)
	}

	orch := agent.NewOrchestrator(
		client,
		gateway,
		catalog,
		intent.New(loc, cfg.Agent.DefaultDuration),
		agent.NewSessionStore(),
		cfg.Agent.WindowSpan,
	)

	sessionID := uuid.NewString()
	turnCtx := context.WithValue(context.Background(), logger.SessionIDKey, sessionID)
	fmt.Println("Booking agent ready. Type 'exit' to quit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		reply, err := orch.Turn(turnCtx, sessionID, line)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			continue
		}
		fmt.Println(reply)
	}

	if err := scanner.Err(); err != nil {
		logger.Error("Input error", "error", err)
		os.Exit(1)
	}
}
