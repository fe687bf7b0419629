package ai

import (
	"context"
	"fmt"
	"strings"

	"geminilegion/backend/internal/diary"
)

// MockClient emits canned minion replies with a well-formed diary block so
// the full turn pipeline (streaming, diary extraction, score updates) can be
// exercised without a real provider.
type MockClient struct{}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) Generate(_ context.Context, req Request) (string, error) {
	return m.reply(req), nil
}

func (m *MockClient) Stream(_ context.Context, req Request, onChunk func(text string)) error {
	full := m.reply(req)
	// Chunk on word boundaries to exercise accumulation in consumers.
	words := strings.SplitAfter(full, " ")
	for _, word := range words {
		if word == "" {
			continue
		}
		onChunk(word)
	}
	return nil
}

func (m *MockClient) reply(req Request) string {
	name := "Minion"
	if idx := strings.Index(req.System, "named \""); idx >= 0 {
		rest := req.System[idx+len("named \""):]
		if end := strings.Index(rest, "\""); end > 0 {
			name = rest[:end]
		}
	}
	_ = name
	sender := "Commander"
	if idx := strings.Index(req.Prompt, "was from: \""); idx >= 0 {
		rest := req.Prompt[idx+len("was from: \""):]
		if end := strings.Index(rest, "\""); end > 0 {
			sender = rest[:end]
		}
	}

	return fmt.Sprintf(
		"Acknowledged, %s. Mock generation online; standing by for real provider credentials.\n%s\nPrevious Diary State: First turn, no previous diary.\nPerception Analysis of Last Message: Routine check-in, neutral tone.\nCurrent Opinion Scores Before Update:\n- %s: 50/100\nOpinion Update for %s: 52/100 (Reason: polite and direct)\n%s\n- %s: 52/100\nSelected Response Mode for this turn (towards sender of last message): %s\nPersonal Notes: none\n%s",
		sender,
		diary.Sentinel,
		sender,
		sender,
		diary.UpdatedScoresHeader,
		sender,
		diary.ModeNeutral,
		diary.Sentinel,
	)
}
