package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"geminilegion/backend/internal/store"
)

// Store keeps all legion state in process memory. It is the default driver
// for dev runs and the fake transport used by package tests.
type Store struct {
	mu       sync.Mutex
	users    map[string]store.User
	minions  map[string]store.Minion
	channels map[string]store.Channel
	messages map[string][]store.Message
	order    []string
}

func New() *Store {
	return &Store{
		users:    map[string]store.User{},
		minions:  map[string]store.Minion{},
		channels: map[string]store.Channel{},
		messages: map[string][]store.Message{},
	}
}

func (s *Store) CreateUser(_ context.Context, email, passwordHash string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	if _, exists := s.users[email]; exists {
		return store.User{}, store.ErrAlreadyExists
	}
	user := store.User{
		ID:           store.NewID("user"),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[email] = user
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (s *Store) CreateMinion(_ context.Context, m store.Minion) (store.Minion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.minions {
		if strings.EqualFold(existing.Name, m.Name) {
			return store.Minion{}, store.ErrAlreadyExists
		}
	}
	if m.ID == "" {
		m.ID = store.NewID("minion")
	}
	if m.OpinionScores == nil {
		m.OpinionScores = map[string]int{}
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	s.minions[m.ID] = cloneMinion(m)
	return m, nil
}

func (s *Store) GetMinion(_ context.Context, id string) (store.Minion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.minions[id]
	if !exists {
		return store.Minion{}, store.ErrNotFound
	}
	return cloneMinion(m), nil
}

func (s *Store) ListMinions(_ context.Context) ([]store.Minion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Minion, 0, len(s.minions))
	for _, m := range s.minions {
		out = append(out, cloneMinion(m))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateMinion(_ context.Context, m store.Minion) (store.Minion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.minions[m.ID]
	if !exists {
		return store.Minion{}, store.ErrNotFound
	}
	m.CreatedAt = current.CreatedAt
	m.UpdatedAt = time.Now().UTC()
	if m.OpinionScores == nil {
		m.OpinionScores = current.OpinionScores
	}
	s.minions[m.ID] = cloneMinion(m)
	return cloneMinion(m), nil
}

func (s *Store) UpdateOpinionScores(_ context.Context, minionID string, scores map[string]int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, exists := s.minions[minionID]
	if !exists {
		return store.ErrNotFound
	}
	if m.OpinionScores == nil {
		m.OpinionScores = map[string]int{}
	}
	for name, score := range scores {
		m.OpinionScores[name] = score
	}
	m.UpdatedAt = time.Now().UTC()
	s.minions[minionID] = m
	return nil
}

func (s *Store) DeleteMinion(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.minions[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.minions, id)
	return nil
}

func (s *Store) CreateChannel(_ context.Context, c store.Channel) (store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.ID == "" {
		c.ID = store.NewID("channel")
	}
	if _, exists := s.channels[c.ID]; exists {
		return store.Channel{}, store.ErrAlreadyExists
	}
	c.CreatedAt = time.Now().UTC()
	c.Members = dedupe(c.Members)
	s.channels[c.ID] = cloneChannel(c)
	s.order = append(s.order, c.ID)
	if _, exists := s.messages[c.ID]; !exists {
		s.messages[c.ID] = []store.Message{}
	}
	return c, nil
}

func (s *Store) GetChannel(_ context.Context, id string) (store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.channels[id]
	if !exists {
		return store.Channel{}, store.ErrNotFound
	}
	return cloneChannel(c), nil
}

func (s *Store) ListChannels(_ context.Context) ([]store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]store.Channel, 0, len(s.order))
	for _, id := range s.order {
		if c, exists := s.channels[id]; exists {
			out = append(out, cloneChannel(c))
		}
	}
	return out, nil
}

func (s *Store) AddChannelMember(_ context.Context, channelID, member string) (store.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.channels[channelID]
	if !exists {
		return store.Channel{}, store.ErrNotFound
	}
	c.Members = dedupe(append(c.Members, member))
	s.channels[channelID] = c
	return cloneChannel(c), nil
}

func (s *Store) AppendMessage(_ context.Context, m store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[m.ChannelID]; !exists {
		return store.Message{}, store.ErrNotFound
	}
	if m.ID == "" {
		m.ID = store.NewID("msg")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	s.messages[m.ChannelID] = append(s.messages[m.ChannelID], m)
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, channelID string) ([]store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.channels[channelID]; !exists {
		return nil, store.ErrNotFound
	}
	out := make([]store.Message, len(s.messages[channelID]))
	copy(out, s.messages[channelID])
	return out, nil
}

func (s *Store) ReplaceMessage(_ context.Context, m store.Message) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[m.ChannelID]
	for i := range list {
		if list[i].ID == m.ID {
			if m.CreatedAt.IsZero() {
				m.CreatedAt = list[i].CreatedAt
			}
			list[i] = m
			return m, nil
		}
	}
	return store.Message{}, store.ErrNotFound
}

func (s *Store) EditMessageContent(_ context.Context, channelID, messageID, content string) (store.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[channelID]
	for i := range list {
		if list[i].ID == messageID {
			list[i].Content = content
			return list[i], nil
		}
	}
	return store.Message{}, store.ErrNotFound
}

func (s *Store) DeleteMessage(_ context.Context, channelID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.messages[channelID]
	for i := range list {
		if list[i].ID == messageID {
			s.messages[channelID] = append(list[:i], list[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func cloneMinion(m store.Minion) store.Minion {
	scores := make(map[string]int, len(m.OpinionScores))
	for name, score := range m.OpinionScores {
		scores[name] = score
	}
	m.OpinionScores = scores
	return m
}

func cloneChannel(c store.Channel) store.Channel {
	members := make([]string, len(c.Members))
	copy(members, c.Members)
	c.Members = members
	return c
}

func dedupe(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, item := range items {
		clean := strings.TrimSpace(item)
		if clean == "" {
			continue
		}
		if _, exists := seen[clean]; exists {
			continue
		}
		seen[clean] = struct{}{}
		out = append(out, clean)
	}
	return out
}
