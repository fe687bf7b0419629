package prompts

import (
	"strings"
	"testing"
	"time"

	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/store"
)

func baseInput() TurnInput {
	return TurnInput{
		MinionName:    "Alpha",
		CommanderName: "Commander",
		Persona:       "Terse tactical analyst.",
		ChannelName:   "#general",
		History:       "[COMMANDER Commander]: status report",
		LastSender:    "Commander",
		OpinionScore:  50,
	}
}

func TestEmotionalEngineCarriesTheDiaryContract(t *testing.T) {
	system := EmotionalEngine(baseInput())

	for _, token := range []string{
		diary.Sentinel,
		diary.UpdatedScoresHeader,
		string(diary.ModeHostile),
		string(diary.ModeWary),
		string(diary.ModeNeutral),
		string(diary.ModeFriendly),
		string(diary.ModeObsessed),
		`"Alpha"`,
		"Terse tactical analyst.",
	} {
		if !strings.Contains(system, token) {
			t.Fatalf("system prompt missing %q", token)
		}
	}
	if strings.Count(system, diary.Sentinel) < 2 {
		t.Fatalf("system prompt must show both sentinel markers")
	}
}

func TestEmotionalEnginePreviousDiary(t *testing.T) {
	in := baseInput()
	if system := EmotionalEngine(in); !strings.Contains(system, "first turn") {
		t.Fatalf("first turn wording missing:\n%s", system)
	}

	in.PreviousDiary = "Previous Diary State: trusted the Commander"
	if system := EmotionalEngine(in); !strings.Contains(system, "trusted the Commander") {
		t.Fatalf("previous diary must be embedded")
	}
}

func TestTurnTaskAddressedRemovesSilenceOption(t *testing.T) {
	in := baseInput()
	in.Addressed = true
	task := TurnTask(in)
	if !strings.Contains(task, "MUST respond") {
		t.Fatalf("addressed turn must forbid silence:\n%s", task)
	}

	in.Addressed = false
	task = TurnTask(in)
	if !strings.Contains(task, "CHOOSE silence") {
		t.Fatalf("unaddressed turn must offer silence:\n%s", task)
	}
	if !strings.Contains(task, diary.SilenceToken) {
		t.Fatalf("silence token missing from task")
	}
}

func TestFormatHistoryPrefixes(t *testing.T) {
	now := time.Now()
	history := FormatHistory([]store.Message{
		{SenderKind: store.SenderUser, SenderName: "Commander", Content: "hello", CreatedAt: now},
		{SenderKind: store.SenderMinion, SenderName: "Alpha", Content: "hi", CreatedAt: now},
		{SenderKind: store.SenderSystem, SenderName: "System", Content: "notice", CreatedAt: now},
	}, 15)

	if !strings.Contains(history, "[COMMANDER Commander]: hello") {
		t.Fatalf("commander prefix missing:\n%s", history)
	}
	if !strings.Contains(history, "[MINION Alpha]: hi") {
		t.Fatalf("minion prefix missing:\n%s", history)
	}
	if !strings.Contains(history, "[System]: notice") {
		t.Fatalf("system prefix missing:\n%s", history)
	}
}

func TestFormatHistoryLimitAndFallback(t *testing.T) {
	if got := FormatHistory(nil, 15); !strings.Contains(got, "beginning of the conversation") {
		t.Fatalf("empty history fallback missing: %q", got)
	}

	messages := make([]store.Message, 20)
	for i := range messages {
		messages[i] = store.Message{SenderKind: store.SenderUser, SenderName: "Commander", Content: strings.Repeat("x", i+1)}
	}
	got := FormatHistory(messages, 15)
	if strings.Count(got, "\n") != 14 {
		t.Fatalf("expected 15 lines, got %d", strings.Count(got, "\n")+1)
	}
	if strings.Contains(got, ": x\n") {
		t.Fatalf("oldest messages must be dropped")
	}
}
