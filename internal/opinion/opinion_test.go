package opinion

import (
	"context"
	"testing"

	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/store"
	"geminilegion/backend/internal/store/memory"
)

func newMinion(t *testing.T, backing store.Store) store.Minion {
	t.Helper()
	m, err := backing.CreateMinion(context.Background(), store.Minion{Name: "Alpha"})
	if err != nil {
		t.Fatalf("create minion: %v", err)
	}
	return m
}

func TestGetDurablyCreatesDefaultScore(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	m := newMinion(t, backing)
	opinions := New(backing)

	score, err := opinions.Get(ctx, m.ID, "Commander")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score != diary.DefaultScore {
		t.Fatalf("first get = %d, want %d", score, diary.DefaultScore)
	}

	// The default must be written, not just returned.
	stored, err := backing.GetMinion(ctx, m.ID)
	if err != nil {
		t.Fatalf("get minion: %v", err)
	}
	if stored.OpinionScores["Commander"] != diary.DefaultScore {
		t.Fatalf("default score not persisted: %#v", stored.OpinionScores)
	}
}

func TestSetClampsOutOfRangeScores(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	m := newMinion(t, backing)
	opinions := New(backing)

	if err := opinions.Set(ctx, m.ID, "Commander", 150); err != nil {
		t.Fatalf("set: %v", err)
	}
	score, err := opinions.Get(ctx, m.ID, "Commander")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if score != diary.MaxScore {
		t.Fatalf("score = %d, want clamp to %d", score, diary.MaxScore)
	}
}

func TestApplyMergesAndClamps(t *testing.T) {
	ctx := context.Background()
	backing := memory.New()
	m := newMinion(t, backing)
	opinions := New(backing)

	if err := opinions.Set(ctx, m.ID, "Byte", 40); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := opinions.Apply(ctx, m.ID, map[string]int{"Commander": 0, "Gamma": 77}); err != nil {
		t.Fatalf("apply: %v", err)
	}

	snapshot, err := opinions.Snapshot(ctx, m.ID)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snapshot["Commander"] != diary.MinScore {
		t.Fatalf("zero score must clamp to %d: %#v", diary.MinScore, snapshot)
	}
	if snapshot["Gamma"] != 77 {
		t.Fatalf("new score missing: %#v", snapshot)
	}
	if snapshot["Byte"] != 40 {
		t.Fatalf("unrelated score must survive apply: %#v", snapshot)
	}
}

func TestGetUnknownMinion(t *testing.T) {
	opinions := New(memory.New())
	if _, err := opinions.Get(context.Background(), "missing", "Commander"); err == nil {
		t.Fatalf("expected error for unknown minion")
	}
}
