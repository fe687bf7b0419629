package postgres

import (
	"context"
	"errors"
	"os"
	"testing"

	"geminilegion/backend/internal/db"
	"geminilegion/backend/internal/store"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()

	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, databaseURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(pool.Close)

	if err := db.RunMigrations(ctx, pool, "../../../migrations"); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	for _, table := range []string{"messages", "channels", "minions", "users"} {
		if _, err := pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("truncate %s: %v", table, err)
		}
	}
	return New(pool)
}

func TestPostgresMinionRoundTrip(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	created, err := s.CreateMinion(ctx, store.Minion{Name: "Alpha", Persona: "analyst", Temperature: 0.9})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.CreateMinion(ctx, store.Minion{Name: "ALPHA"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("case-insensitive name clash must conflict, got %v", err)
	}

	if err := s.UpdateOpinionScores(ctx, created.ID, map[string]int{"Commander": 50}); err != nil {
		t.Fatalf("scores: %v", err)
	}
	if err := s.UpdateOpinionScores(ctx, created.ID, map[string]int{"Byte": 30}); err != nil {
		t.Fatalf("scores: %v", err)
	}

	got, err := s.GetMinion(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OpinionScores["Commander"] != 50 || got.OpinionScores["Byte"] != 30 {
		t.Fatalf("jsonb merge failed: %#v", got.OpinionScores)
	}
}

func TestPostgresMessageOrderingAndLifecycle(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, store.Channel{Name: "#general", Kind: store.ChannelGroup, Members: []string{"Commander"}})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	var first store.Message
	for i, content := range []string{"one", "two", "three"} {
		msg, err := s.AppendMessage(ctx, store.Message{
			ChannelID:  ch.ID,
			SenderKind: store.SenderUser,
			SenderName: "Commander",
			Content:    content,
		})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if i == 0 {
			first = msg
		}
	}

	messages, err := s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 3 || messages[0].Content != "one" || messages[2].Content != "three" {
		t.Fatalf("insert order lost: %#v", messages)
	}

	first.Content = "edited"
	first.Diary = "diary text"
	if _, err := s.ReplaceMessage(ctx, first); err != nil {
		t.Fatalf("replace: %v", err)
	}
	messages, err = s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if messages[0].Content != "edited" || messages[0].Diary != "diary text" {
		t.Fatalf("replace must keep position: %#v", messages[0])
	}

	if err := s.DeleteMessage(ctx, ch.ID, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.DeleteMessage(ctx, ch.ID, first.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("double delete must be ErrNotFound, got %v", err)
	}
}

func TestPostgresChannelMembers(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	ch, err := s.CreateChannel(ctx, store.Channel{Name: "#dm", Kind: store.ChannelDM, Members: []string{"Commander"}})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	if _, err := s.AddChannelMember(ctx, ch.ID, "Alpha"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	got, err := s.AddChannelMember(ctx, ch.ID, "Alpha")
	if err != nil {
		t.Fatalf("repeat add: %v", err)
	}
	if len(got.Members) != 2 {
		t.Fatalf("repeat add must not duplicate: %#v", got.Members)
	}
}
