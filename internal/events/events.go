package events

import (
	"sync"

	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/store"
)

// Event is the tagged union carried over the websocket gateway and consumed
// by in-process subscribers. Each concrete type has a fixed payload schema
// keyed by its name; no untyped map payloads.
type Event interface {
	EventName() string
}

type MessageSent struct {
	Message store.Message `json:"message"`
}

func (MessageSent) EventName() string { return "message_sent" }

type MessageEdited struct {
	Message store.Message `json:"message"`
}

func (MessageEdited) EventName() string { return "message_edited" }

type MessageDeleted struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
}

func (MessageDeleted) EventName() string { return "message_deleted" }

type ChannelCreated struct {
	Channel store.Channel `json:"channel"`
}

func (ChannelCreated) EventName() string { return "channel_created" }

type ChannelMemberAdded struct {
	ChannelID string `json:"channel_id"`
	Member    string `json:"member"`
}

func (ChannelMemberAdded) EventName() string { return "channel_member_added" }

type MinionSpawned struct {
	Minion store.Minion `json:"minion"`
}

func (MinionSpawned) EventName() string { return "minion_spawned" }

type MinionUpdated struct {
	Minion store.Minion `json:"minion"`
}

func (MinionUpdated) EventName() string { return "minion_updated" }

type MinionDecommissioned struct {
	MinionID string `json:"minion_id"`
}

func (MinionDecommissioned) EventName() string { return "minion_decommissioned" }

// Turn lifecycle events, emitted by the response assembly state machine.

type PlaceholderCreated struct {
	Message store.Message `json:"message"`
}

func (PlaceholderCreated) EventName() string { return "placeholder_created" }

type ChunkReceived struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	MinionID  string `json:"minion_id"`
	Chunk     string `json:"chunk"`
}

func (ChunkReceived) EventName() string { return "chunk" }

type TurnFinalized struct {
	Message store.Message `json:"message"`
	Mode    diary.Mode    `json:"response_mode"`
}

func (TurnFinalized) EventName() string { return "turn_finalized" }

type TurnSilent struct {
	ChannelID  string        `json:"channel_id"`
	MinionID   string        `json:"minion_id"`
	MinionName string        `json:"minion_name"`
	Notice     store.Message `json:"notice"`
}

func (TurnSilent) EventName() string { return "turn_silent" }

type TurnErrored struct {
	Message store.Message `json:"message"`
	Error   string        `json:"error"`
}

func (TurnErrored) EventName() string { return "turn_errored" }

// Bus fans events out to registered subscribers. Publish runs callbacks
// synchronously in registration order; subscribers that need to block must
// hand off to their own goroutine.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) {
	if fn == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.RLock()
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
