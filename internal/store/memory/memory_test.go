package memory

import (
	"context"
	"errors"
	"testing"

	"geminilegion/backend/internal/store"
)

func TestMinionNamesAreUniqueCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	s := New()

	if _, err := s.CreateMinion(ctx, store.Minion{Name: "Alpha"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateMinion(ctx, store.Minion{Name: "alpha"}); !errors.Is(err, store.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestUpdateOpinionScoresMerges(t *testing.T) {
	ctx := context.Background()
	s := New()
	m, err := s.CreateMinion(ctx, store.Minion{Name: "Alpha"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateOpinionScores(ctx, m.ID, map[string]int{"Commander": 50}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := s.UpdateOpinionScores(ctx, m.ID, map[string]int{"Byte": 30}); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := s.GetMinion(ctx, m.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.OpinionScores["Commander"] != 50 || got.OpinionScores["Byte"] != 30 {
		t.Fatalf("scores must merge: %#v", got.OpinionScores)
	}
}

func TestChannelMembersDedupe(t *testing.T) {
	ctx := context.Background()
	s := New()
	ch, err := s.CreateChannel(ctx, store.Channel{Name: "#test", Kind: store.ChannelGroup, Members: []string{"Commander", "Commander"}})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if len(ch.Members) != 1 {
		t.Fatalf("members must dedupe: %#v", ch.Members)
	}

	ch, err = s.AddChannelMember(ctx, ch.ID, "Alpha")
	if err != nil {
		t.Fatalf("add member: %v", err)
	}
	ch, err = s.AddChannelMember(ctx, ch.ID, "Alpha")
	if err != nil {
		t.Fatalf("add member again: %v", err)
	}
	if len(ch.Members) != 2 {
		t.Fatalf("repeat add must not duplicate: %#v", ch.Members)
	}
}

func TestListChannelsPreservesCreationOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	for _, name := range []string{"#one", "#two", "#three"} {
		if _, err := s.CreateChannel(ctx, store.Channel{Name: name, Kind: store.ChannelGroup}); err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
	}

	channels, err := s.ListChannels(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(channels) != 3 || channels[0].Name != "#one" || channels[2].Name != "#three" {
		t.Fatalf("order mismatch: %#v", channels)
	}
}

func TestMessageLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()
	ch, err := s.CreateChannel(ctx, store.Channel{Name: "#test", Kind: store.ChannelGroup})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}

	msg, err := s.AppendMessage(ctx, store.Message{ChannelID: ch.ID, SenderKind: store.SenderUser, SenderName: "Commander", Content: "hello"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	msg.Content = "replaced"
	msg.Diary = "state"
	if _, err := s.ReplaceMessage(ctx, msg); err != nil {
		t.Fatalf("replace: %v", err)
	}

	edited, err := s.EditMessageContent(ctx, ch.ID, msg.ID, "edited")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.Content != "edited" || edited.Diary != "state" {
		t.Fatalf("edit must keep the diary: %#v", edited)
	}

	if err := s.DeleteMessage(ctx, ch.ID, msg.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	messages, err := s.ListMessages(ctx, ch.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("message must be gone: %#v", messages)
	}

	if err := s.DeleteMessage(ctx, ch.ID, msg.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAppendMessageUnknownChannel(t *testing.T) {
	s := New()
	if _, err := s.AppendMessage(context.Background(), store.Message{ChannelID: "missing"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
