package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"geminilegion/backend/internal/ai"
	"geminilegion/backend/internal/ai/prompts"
	"geminilegion/backend/internal/config"
	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/events"
	"geminilegion/backend/internal/observability"
	"geminilegion/backend/internal/opinion"
	"geminilegion/backend/internal/store"
)

// Default channels every legion starts with. The ops log doubles as the sink
// for system-level notices such as unresolvable channels.
const (
	GeneralChannelID = "general"
	RandomChannelID  = "random_bullshit"
	OpsLogChannelID  = "legion_ops_log"
)

// Engine orchestrates minion turns: one goroutine per participating minion,
// each running the placeholder -> streaming -> finalized/silent/errored state
// machine independently. A failure in one turn never touches another.
type Engine struct {
	cfg      config.Config
	store    store.Store
	opinions *opinion.Store
	llm      ai.Client
	bus      *events.Bus
	logger   *observability.Logger
	metrics  *observability.Metrics

	// roll returns a fresh d100 result in [1,100]. Injectable for tests.
	roll func() int
}

func New(cfg config.Config, st store.Store, opinions *opinion.Store, llm ai.Client, bus *events.Bus, logger *observability.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		cfg:      cfg,
		store:    st,
		opinions: opinions,
		llm:      llm,
		bus:      bus,
		logger:   logger,
		metrics:  metrics,
		roll: func() int {
			return rand.IntN(diary.MaxScore) + 1
		},
	}
}

// SetRoll replaces the d100 source. Passing nil restores nothing; callers own
// handing in a valid func.
func (e *Engine) SetRoll(roll func() int) {
	if roll != nil {
		e.roll = roll
	}
}

// EnsureDefaultChannels creates the standard channels if they do not exist
// yet and drops the boot notice into the ops log on first creation.
func (e *Engine) EnsureDefaultChannels(ctx context.Context) error {
	defaults := []store.Channel{
		{ID: GeneralChannelID, Name: "#general", Description: "Primary channel for Legion-wide communication.", Kind: store.ChannelGroup},
		{ID: RandomChannelID, Name: "#random_bullshit", Description: "Off-topic chatter and minion shenanigans.", Kind: store.ChannelGroup},
		{ID: OpsLogChannelID, Name: "#legion_ops_log", Description: "Automated log of Legion operations.", Kind: store.ChannelSystemLog},
	}

	for _, ch := range defaults {
		if _, err := e.store.GetChannel(ctx, ch.ID); err == nil {
			continue
		} else if !errors.Is(err, store.ErrNotFound) {
			return err
		}
		ch.Members = []string{e.cfg.CommanderName}
		ch.CreatedAt = time.Now().UTC()
		created, err := e.store.CreateChannel(ctx, ch)
		if err != nil {
			return err
		}
		e.bus.Publish(events.ChannelCreated{Channel: created})
		if ch.ID == OpsLogChannelID {
			if _, err := e.appendSystemMessage(ctx, OpsLogChannelID, "Legion ops log initialized."); err != nil {
				return err
			}
		}
	}
	return nil
}

// SpawnMinion registers a new minion, seeds its opinion of the commander at
// the neutral default, and auto-joins it to every group channel.
func (e *Engine) SpawnMinion(ctx context.Context, m store.Minion) (store.Minion, error) {
	if strings.TrimSpace(m.ID) == "" {
		m.ID = store.NewID("minion")
	}
	if strings.TrimSpace(m.ModelID) == "" {
		m.ModelID = e.cfg.DefaultModel
	}
	if m.OpinionScores == nil {
		m.OpinionScores = map[string]int{}
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	created, err := e.store.CreateMinion(ctx, m)
	if err != nil {
		return store.Minion{}, err
	}
	if _, err := e.opinions.Get(ctx, created.ID, e.cfg.CommanderName); err != nil {
		return store.Minion{}, err
	}

	channels, err := e.store.ListChannels(ctx)
	if err != nil {
		return store.Minion{}, err
	}
	for _, ch := range channels {
		if ch.Kind != store.ChannelGroup {
			continue
		}
		if _, err := e.store.AddChannelMember(ctx, ch.ID, created.Name); err != nil {
			return store.Minion{}, err
		}
		e.bus.Publish(events.ChannelMemberAdded{ChannelID: ch.ID, Member: created.Name})
	}

	created, err = e.store.GetMinion(ctx, created.ID)
	if err != nil {
		return store.Minion{}, err
	}
	e.bus.Publish(events.MinionSpawned{Minion: created})
	e.logger.Info("minion_spawned", observability.Fields{"minion_id": created.ID, "name": created.Name})
	return created, nil
}

// PostUserMessage appends the commander's message to the channel. An
// unresolvable channel is reported as a system notice in the ops log rather
// than surfaced to the minions.
func (e *Engine) PostUserMessage(ctx context.Context, channelID, content string) (store.Message, error) {
	if _, err := e.store.GetChannel(ctx, channelID); err != nil {
		notice := fmt.Sprintf("Message to channel %q dropped: channel could not be resolved.", channelID)
		if _, logErr := e.appendSystemMessage(ctx, OpsLogChannelID, notice); logErr != nil {
			e.logger.Error("ops_log_append_failed", observability.Fields{"error": logErr.Error()})
		}
		return store.Message{}, fmt.Errorf("resolve channel %q: %w", channelID, err)
	}

	msg := store.Message{
		ID:         store.NewID("msg"),
		ChannelID:  channelID,
		SenderKind: store.SenderUser,
		SenderName: e.cfg.CommanderName,
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	appended, err := e.store.AppendMessage(ctx, msg)
	if err != nil {
		return store.Message{}, err
	}
	e.bus.Publish(events.MessageSent{Message: appended})
	return appended, nil
}

// RunTurns gives every participating minion in the channel one turn in
// response to the most recent message. Turns run concurrently and RunTurns
// returns once all of them have reached a terminal state.
func (e *Engine) RunTurns(ctx context.Context, channelID string) {
	ch, err := e.store.GetChannel(ctx, channelID)
	if err != nil {
		e.logger.Error("turn_channel_resolve_failed", observability.Fields{"channel_id": channelID, "error": err.Error()})
		return
	}
	history, err := e.store.ListMessages(ctx, channelID)
	if err != nil || len(history) == 0 {
		return
	}
	last := history[len(history)-1]
	if last.SenderKind != store.SenderUser {
		// Minion and system messages do not trigger new turns; this keeps the
		// legion from chattering at itself in an unbounded loop.
		return
	}

	minions, err := e.participants(ctx, ch)
	if err != nil {
		e.logger.Error("turn_participants_failed", observability.Fields{"channel_id": channelID, "error": err.Error()})
		return
	}

	var wg sync.WaitGroup
	for _, m := range minions {
		wg.Add(1)
		go func(m store.Minion) {
			defer wg.Done()
			e.runTurn(ctx, ch, history, last, m)
		}(m)
	}
	wg.Wait()
}

// participants resolves which minions get a turn: every minion for group
// channels, only listed members for DMs, nobody for the system log.
func (e *Engine) participants(ctx context.Context, ch store.Channel) ([]store.Minion, error) {
	if ch.Kind == store.ChannelSystemLog {
		return nil, nil
	}

	all, err := e.store.ListMinions(ctx)
	if err != nil {
		return nil, err
	}
	if ch.Kind == store.ChannelGroup {
		return all, nil
	}

	members := map[string]bool{}
	for _, member := range ch.Members {
		members[strings.ToLower(member)] = true
	}
	out := make([]store.Minion, 0, len(all))
	for _, m := range all {
		if members[strings.ToLower(m.Name)] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (e *Engine) runTurn(ctx context.Context, ch store.Channel, history []store.Message, last store.Message, m store.Minion) {
	started := time.Now()

	placeholder := store.Message{
		ID:         store.NewID("msg"),
		ChannelID:  ch.ID,
		SenderKind: store.SenderMinion,
		SenderName: m.Name,
		Content:    "",
		CreatedAt:  time.Now().UTC(),
	}
	placeholder, err := e.store.AppendMessage(ctx, placeholder)
	if err != nil {
		e.logger.Error("placeholder_append_failed", observability.Fields{"minion": m.Name, "error": err.Error()})
		return
	}
	e.bus.Publish(events.PlaceholderCreated{Message: placeholder})

	addressed := AddressedTo(last.Content, m.Name)
	score, err := e.opinions.Get(ctx, m.ID, last.SenderName)
	if err != nil {
		e.failTurn(ctx, placeholder, m, started, err)
		return
	}

	// The probability gate only applies when the minion was not called out by
	// name. Rolling before the provider call is equivalent to rolling after:
	// the decision is a conjunction and the roll is independent of the reply.
	if !addressed && e.roll() > score {
		e.silentTurn(ctx, placeholder, m, started)
		return
	}

	in := prompts.TurnInput{
		MinionName:    m.Name,
		CommanderName: e.cfg.CommanderName,
		Persona:       m.Persona,
		PreviousDiary: previousDiary(history, m.Name),
		ChannelName:   ch.Name,
		History:       prompts.FormatHistory(history, e.cfg.HistoryContextLimit),
		LastSender:    last.SenderName,
		OpinionScore:  score,
		Addressed:     addressed,
	}
	req := ai.Request{
		Model:       m.ModelID,
		Temperature: m.Temperature,
		System:      prompts.EmotionalEngine(in),
		Prompt:      prompts.TurnTask(in),
	}

	var sb strings.Builder
	err = e.llm.Stream(ctx, req, func(chunk string) {
		sb.WriteString(chunk)
		e.bus.Publish(events.ChunkReceived{
			ChannelID: ch.ID,
			MessageID: placeholder.ID,
			MinionID:  m.ID,
			Chunk:     chunk,
		})
	})
	if err != nil {
		e.metrics.IncProviderError(m.Name)
		e.failTurn(ctx, placeholder, m, started, err)
		return
	}

	full := sb.String()
	if strings.TrimSpace(full) == diary.SilenceToken {
		e.silentTurn(ctx, placeholder, m, started)
		return
	}

	content, diaryText, _ := diary.Split(full)
	scores := diary.ParseUpdatedScores(diaryText)
	if err := e.opinions.Apply(ctx, m.ID, scores); err != nil {
		e.failTurn(ctx, placeholder, m, started, err)
		return
	}
	updated, err := e.opinions.Get(ctx, m.ID, last.SenderName)
	if err != nil {
		e.failTurn(ctx, placeholder, m, started, err)
		return
	}

	final := placeholder
	final.Content = content
	final.Diary = diaryText
	final, err = e.store.ReplaceMessage(ctx, final)
	if err != nil {
		e.logger.Error("turn_finalize_failed", observability.Fields{"minion": m.Name, "error": err.Error()})
		return
	}
	e.bus.Publish(events.TurnFinalized{Message: final, Mode: diary.ModeForScore(updated)})
	e.metrics.ObserveTurn(m.Name, "finalized", time.Since(started))
	e.logger.Info("turn_finalized", observability.Fields{
		"minion":     m.Name,
		"channel_id": ch.ID,
		"mode":       string(diary.ModeForScore(updated)),
		"score":      updated,
	})
}

func (e *Engine) silentTurn(ctx context.Context, placeholder store.Message, m store.Minion, started time.Time) {
	if err := e.store.DeleteMessage(ctx, placeholder.ChannelID, placeholder.ID); err != nil {
		e.logger.Error("placeholder_delete_failed", observability.Fields{"minion": m.Name, "error": err.Error()})
	}
	notice, err := e.appendSystemMessage(ctx, placeholder.ChannelID, fmt.Sprintf("%s chose to remain silent.", m.Name))
	if err != nil {
		e.logger.Error("silence_notice_failed", observability.Fields{"minion": m.Name, "error": err.Error()})
		return
	}
	e.bus.Publish(events.TurnSilent{
		ChannelID:  placeholder.ChannelID,
		MinionID:   m.ID,
		MinionName: m.Name,
		Notice:     notice,
	})
	e.metrics.ObserveTurn(m.Name, "silent", time.Since(started))
}

func (e *Engine) failTurn(ctx context.Context, placeholder store.Message, m store.Minion, started time.Time, cause error) {
	failed := placeholder
	failed.Content = fmt.Sprintf("%s encountered an error and could not respond.", m.Name)
	failed.IsError = true
	failed, err := e.store.ReplaceMessage(ctx, failed)
	if err != nil {
		e.logger.Error("turn_error_replace_failed", observability.Fields{"minion": m.Name, "error": err.Error()})
		return
	}
	e.bus.Publish(events.TurnErrored{Message: failed, Error: cause.Error()})
	e.metrics.ObserveTurn(m.Name, "errored", time.Since(started))
	e.logger.Error("turn_errored", observability.Fields{"minion": m.Name, "channel_id": placeholder.ChannelID, "error": cause.Error()})
}

func (e *Engine) appendSystemMessage(ctx context.Context, channelID, content string) (store.Message, error) {
	msg := store.Message{
		ID:         store.NewID("msg"),
		ChannelID:  channelID,
		SenderKind: store.SenderSystem,
		SenderName: "System",
		Content:    content,
		CreatedAt:  time.Now().UTC(),
	}
	appended, err := e.store.AppendMessage(ctx, msg)
	if err != nil {
		return store.Message{}, err
	}
	e.bus.Publish(events.MessageSent{Message: appended})
	return appended, nil
}

// AddressedTo reports whether the message calls out the minion by name,
// directly or with an @ prefix, matched on word boundaries case-insensitively.
func AddressedTo(content, name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	pattern := regexp.MustCompile(`(?i)(^|[^\w])@?` + regexp.QuoteMeta(name) + `($|[^\w])`)
	return pattern.MatchString(content)
}

// previousDiary finds the minion's most recent surviving diary block in the
// channel, which seeds the emotional engine's previous-state step.
func previousDiary(history []store.Message, minionName string) string {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.SenderKind == store.SenderMinion && msg.SenderName == minionName && strings.TrimSpace(msg.Diary) != "" {
			return msg.Diary
		}
	}
	return ""
}
