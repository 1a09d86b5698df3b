package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"foxchat/internal/ai"
	"foxchat/internal/config"
	"foxchat/internal/database"
	"foxchat/internal/eventbus"
	"foxchat/internal/job"
	"foxchat/pkg/logger"

	"github.com/google/uuid"
)

// aiworker runs a single automated-reply job from the command line. It is
// the out-of-process variant of the in-server dispatcher, useful when
// generation is triggered by an external queue.
func main() {
	roomArg := flag.String("room-id", "", "room to generate a reply for (required)")
	messageArg := flag.String("message-id", "", "message that triggered the job (required)")
	flag.Parse()

	if *roomArg == "" || *messageArg == "" {
		fmt.Fprintln(os.Stderr, "usage: aiworker --room-id <uuid> --message-id <uuid>")
		os.Exit(1)
	}
	roomID, err := uuid.Parse(*roomArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --room-id: %v\n", err)
		os.Exit(1)
	}
	triggerID, err := uuid.Parse(*messageArg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid --message-id: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Load()

	db, err := database.NewPostgresDB(cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	bus, err := eventbus.NewRedisBus(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Channel)
	if err != nil {
		logger.Fatal("Failed to connect to redis: %v", err)
	}
	defer bus.Close()

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

	if err := runner.Run(context.Background(), roomID, triggerID); err != nil {
		logger.Error("Response job failed: %v", err)
		os.Exit(1)
	}
}
