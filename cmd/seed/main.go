package main

import (
	"context"
	"errors"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"geminilegion/backend/internal/ai"
	"geminilegion/backend/internal/config"
	"geminilegion/backend/internal/db"
	"geminilegion/backend/internal/engine"
	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/opinion"
	"geminilegion/backend/internal/store"
	"geminilegion/backend/internal/store/postgres"
)

type roster struct {
	Minions []struct {
		Name        string  `yaml:"name"`
		ModelID     string  `yaml:"model_id"`
		Persona     string  `yaml:"persona"`
		Temperature float64 `yaml:"temperature"`
		Status      string  `yaml:"status"`
		CurrentTask string  `yaml:"current_task"`
	} `yaml:"minions"`
	Channels []struct {
		ID          string   `yaml:"id"`
		Name        string   `yaml:"name"`
		Description string   `yaml:"description"`
		Kind        string   `yaml:"kind"`
		Members     []string `yaml:"members"`
	} `yaml:"channels"`
}

func main() {
	cfg := config.Load()
	ctx := context.Background()

	raw, err := os.ReadFile(cfg.SeedFile)
	if err != nil {
		log.Fatalf("read seed file %s: %v", cfg.SeedFile, err)
	}
	var r roster
	if err := yaml.Unmarshal(raw, &r); err != nil {
		log.Fatalf("parse seed file: %v", err)
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatalf("migration failed: %v", err)
	}

	backing := postgres.New(pool)
	llm, err := ai.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("llm provider: %v", err)
	}
	logger := observability.NewLogger("seed")
	eng := engine.New(cfg, backing, opinion.New(backing), llm, events.NewBus(), logger, observability.NewMetrics())

	if err := eng.EnsureDefaultChannels(ctx); err != nil {
		log.Fatalf("seed default channels: %v", err)
	}

	for _, ch := range r.Channels {
		kind := store.ChannelKind(ch.Kind)
		if kind == "" {
			kind = store.ChannelGroup
		}
		_, err := backing.CreateChannel(ctx, store.Channel{
			ID:          ch.ID,
			Name:        ch.Name,
			Description: ch.Description,
			Kind:        kind,
			Members:     append([]string{cfg.CommanderName}, ch.Members...),
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			log.Fatalf("seed channel %s: %v", ch.Name, err)
		}
	}

	seeded := 0
	for _, m := range r.Minions {
		_, err := eng.SpawnMinion(ctx, store.Minion{
			Name:        m.Name,
			ModelID:     m.ModelID,
			Persona:     m.Persona,
			Temperature: m.Temperature,
			Status:      m.Status,
			CurrentTask: m.CurrentTask,
		})
		if errors.Is(err, store.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			log.Fatalf("seed minion %s: %v", m.Name, err)
		}
		seeded++
	}

	log.Printf("seed completed: %d minions, %d channels", seeded, len(r.Channels))
}
