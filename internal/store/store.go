package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

type SenderKind string

const (
	SenderUser   SenderKind = "User"
	SenderMinion SenderKind = "Minion"
	SenderSystem SenderKind = "System"
)

type ChannelKind string

const (
	ChannelGroup     ChannelKind = "group"
	ChannelDM        ChannelKind = "dm"
	ChannelSystemLog ChannelKind = "system_log"
)

type Minion struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	ModelID       string         `json:"model_id"`
	Persona       string         `json:"persona"`
	Temperature   float64        `json:"temperature"`
	OpinionScores map[string]int `json:"opinion_scores"`
	Status        string         `json:"status,omitempty"`
	CurrentTask   string         `json:"current_task,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

type Channel struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Kind        ChannelKind `json:"kind"`
	Members     []string    `json:"members"`
	CreatedAt   time.Time   `json:"created_at"`
}

type Message struct {
	ID         string     `json:"id"`
	ChannelID  string     `json:"channel_id"`
	SenderKind SenderKind `json:"sender_kind"`
	SenderName string     `json:"sender_name"`
	Content    string     `json:"content"`
	Diary      string     `json:"diary,omitempty"`
	IsError    bool       `json:"is_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

type User struct {
	ID           string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Store is the persistence collaborator. Writers are partitioned by minion id
// (opinion scores) and message id (replace/delete), so implementations only
// need per-call atomicity, no cross-entity transactions.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)

	CreateMinion(ctx context.Context, m Minion) (Minion, error)
	GetMinion(ctx context.Context, id string) (Minion, error)
	ListMinions(ctx context.Context) ([]Minion, error)
	UpdateMinion(ctx context.Context, m Minion) (Minion, error)
	UpdateOpinionScores(ctx context.Context, minionID string, scores map[string]int) error
	DeleteMinion(ctx context.Context, id string) error

	CreateChannel(ctx context.Context, c Channel) (Channel, error)
	GetChannel(ctx context.Context, id string) (Channel, error)
	ListChannels(ctx context.Context) ([]Channel, error)
	AddChannelMember(ctx context.Context, channelID, member string) (Channel, error)

	AppendMessage(ctx context.Context, m Message) (Message, error)
	ListMessages(ctx context.Context, channelID string) ([]Message, error)
	ReplaceMessage(ctx context.Context, m Message) (Message, error)
	EditMessageContent(ctx context.Context, channelID, messageID, content string) (Message, error)
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

func NewID(prefix string) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return prefix + "-" + hex.EncodeToString(buf)
}
