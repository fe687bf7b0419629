package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"geminilegion/backend/internal/store"
)

// Store is the pgx-backed persistence driver. Message ordering is the insert
// sequence, which matches the completion-order contract of the turn pipeline.
type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrAlreadyExists
	}
	return err
}

func (s *Store) CreateUser(ctx context.Context, email, passwordHash string) (store.User, error) {
	user := store.User{
		ID:           store.NewID("user"),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, password_hash, created_at) VALUES ($1, $2, $3, $4)`,
		user.ID, user.Email, user.PasswordHash, user.CreatedAt,
	)
	if err != nil {
		return store.User{}, mapError(err)
	}
	return user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	var user store.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, password_hash, created_at FROM users WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&user.ID, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return store.User{}, mapError(err)
	}
	return user, nil
}

func (s *Store) CreateMinion(ctx context.Context, m store.Minion) (store.Minion, error) {
	if m.ID == "" {
		m.ID = store.NewID("minion")
	}
	if m.OpinionScores == nil {
		m.OpinionScores = map[string]int{}
	}
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now

	scores, err := json.Marshal(m.OpinionScores)
	if err != nil {
		return store.Minion{}, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO minions (id, name, model_id, persona, temperature, opinion_scores, status, current_task, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.Name, m.ModelID, m.Persona, m.Temperature, scores, m.Status, m.CurrentTask, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return store.Minion{}, mapError(err)
	}
	return m, nil
}

func scanMinion(row pgx.Row) (store.Minion, error) {
	var m store.Minion
	var scores []byte
	err := row.Scan(&m.ID, &m.Name, &m.ModelID, &m.Persona, &m.Temperature, &scores, &m.Status, &m.CurrentTask, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return store.Minion{}, mapError(err)
	}
	m.OpinionScores = map[string]int{}
	if len(scores) > 0 {
		if err := json.Unmarshal(scores, &m.OpinionScores); err != nil {
			return store.Minion{}, err
		}
	}
	return m, nil
}

const minionColumns = `id, name, model_id, persona, temperature, opinion_scores, status, current_task, created_at, updated_at`

func (s *Store) GetMinion(ctx context.Context, id string) (store.Minion, error) {
	return scanMinion(s.pool.QueryRow(ctx,
		`SELECT `+minionColumns+` FROM minions WHERE id = $1`, id,
	))
}

func (s *Store) ListMinions(ctx context.Context) ([]store.Minion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+minionColumns+` FROM minions ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.Minion
	for rows.Next() {
		m, err := scanMinion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) UpdateMinion(ctx context.Context, m store.Minion) (store.Minion, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE minions SET name = $2, model_id = $3, persona = $4, temperature = $5, status = $6, current_task = $7, updated_at = NOW()
		 WHERE id = $1`,
		m.ID, m.Name, m.ModelID, m.Persona, m.Temperature, m.Status, m.CurrentTask,
	)
	if err != nil {
		return store.Minion{}, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.Minion{}, store.ErrNotFound
	}
	return s.GetMinion(ctx, m.ID)
}

func (s *Store) UpdateOpinionScores(ctx context.Context, minionID string, scores map[string]int) error {
	payload, err := json.Marshal(scores)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE minions SET opinion_scores = opinion_scores || $2::jsonb, updated_at = NOW() WHERE id = $1`,
		minionID, payload,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteMinion(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM minions WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) CreateChannel(ctx context.Context, c store.Channel) (store.Channel, error) {
	if c.ID == "" {
		c.ID = store.NewID("channel")
	}
	c.CreatedAt = time.Now().UTC()
	if c.Members == nil {
		c.Members = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO channels (id, name, description, kind, members, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.Name, c.Description, string(c.Kind), c.Members, c.CreatedAt,
	)
	if err != nil {
		return store.Channel{}, mapError(err)
	}
	return c, nil
}

func scanChannel(row pgx.Row) (store.Channel, error) {
	var c store.Channel
	var kind string
	err := row.Scan(&c.ID, &c.Name, &c.Description, &kind, &c.Members, &c.CreatedAt)
	if err != nil {
		return store.Channel{}, mapError(err)
	}
	c.Kind = store.ChannelKind(kind)
	return c, nil
}

func (s *Store) GetChannel(ctx context.Context, id string) (store.Channel, error) {
	return scanChannel(s.pool.QueryRow(ctx,
		`SELECT id, name, description, kind, members, created_at FROM channels WHERE id = $1`, id,
	))
}

func (s *Store) ListChannels(ctx context.Context) ([]store.Channel, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, name, description, kind, members, created_at FROM channels ORDER BY created_at, id`,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []store.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) AddChannelMember(ctx context.Context, channelID, member string) (store.Channel, error) {
	_, err := s.pool.Exec(ctx,
		`UPDATE channels SET members = array_append(members, $2) WHERE id = $1 AND NOT ($2 = ANY(members))`,
		channelID, member,
	)
	if err != nil {
		return store.Channel{}, mapError(err)
	}
	return s.GetChannel(ctx, channelID)
}

func (s *Store) AppendMessage(ctx context.Context, m store.Message) (store.Message, error) {
	if m.ID == "" {
		m.ID = store.NewID("msg")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	if _, err := s.GetChannel(ctx, m.ChannelID); err != nil {
		return store.Message{}, err
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, channel_id, sender_kind, sender_name, content, diary, is_error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.ChannelID, string(m.SenderKind), m.SenderName, m.Content, m.Diary, m.IsError, m.CreatedAt,
	)
	if err != nil {
		return store.Message{}, mapError(err)
	}
	return m, nil
}

func (s *Store) ListMessages(ctx context.Context, channelID string) ([]store.Message, error) {
	if _, err := s.GetChannel(ctx, channelID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, sender_kind, sender_name, content, diary, is_error, created_at
		 FROM messages WHERE channel_id = $1 ORDER BY seq`,
		channelID,
	)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []store.Message{}
	for rows.Next() {
		var m store.Message
		var kind string
		if err := rows.Scan(&m.ID, &m.ChannelID, &kind, &m.SenderName, &m.Content, &m.Diary, &m.IsError, &m.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		m.SenderKind = store.SenderKind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) ReplaceMessage(ctx context.Context, m store.Message) (store.Message, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE messages SET content = $3, diary = $4, is_error = $5 WHERE channel_id = $2 AND id = $1`,
		m.ID, m.ChannelID, m.Content, m.Diary, m.IsError,
	)
	if err != nil {
		return store.Message{}, mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.Message{}, store.ErrNotFound
	}
	return m, nil
}

func (s *Store) EditMessageContent(ctx context.Context, channelID, messageID, content string) (store.Message, error) {
	var m store.Message
	var kind string
	err := s.pool.QueryRow(ctx,
		`UPDATE messages SET content = $3 WHERE channel_id = $1 AND id = $2
		 RETURNING id, channel_id, sender_kind, sender_name, content, diary, is_error, created_at`,
		channelID, messageID, content,
	).Scan(&m.ID, &m.ChannelID, &kind, &m.SenderName, &m.Content, &m.Diary, &m.IsError, &m.CreatedAt)
	if err != nil {
		return store.Message{}, mapError(err)
	}
	m.SenderKind = store.SenderKind(kind)
	return m, nil
}

func (s *Store) DeleteMessage(ctx context.Context, channelID, messageID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM messages WHERE channel_id = $1 AND id = $2`,
		channelID, messageID,
	)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
