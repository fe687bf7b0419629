package opinion

import (
	"context"
	"sync"

	"geminilegion/backend/internal/diary"
	"geminilegion/backend/internal/store"
)

// Store tracks every minion's opinion score toward named participants.
// Each minion's scores are only mutated by that minion's own turn, so
// last-write-wins per minion is sufficient; the mutex only guards the
// read-default-write sequence in Get.
type Store struct {
	mu      sync.Mutex
	backing store.Store
}

func New(backing store.Store) *Store {
	return &Store{backing: backing}
}

// Get returns the minion's opinion of a participant. The first observation of
// a participant durably creates the default score of 50, mirroring the
// initialization rule the diary prompt imposes on the model side.
func (s *Store) Get(ctx context.Context, minionID, participant string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.backing.GetMinion(ctx, minionID)
	if err != nil {
		return 0, err
	}
	if score, exists := m.OpinionScores[participant]; exists {
		return diary.Clamp(score), nil
	}
	if err := s.backing.UpdateOpinionScores(ctx, minionID, map[string]int{participant: diary.DefaultScore}); err != nil {
		return 0, err
	}
	return diary.DefaultScore, nil
}

// Set overwrites the minion's opinion of a participant, clamped to [1,100].
func (s *Store) Set(ctx context.Context, minionID, participant string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.backing.UpdateOpinionScores(ctx, minionID, map[string]int{participant: diary.Clamp(score)})
}

// Apply merges a parsed diary score table into the minion's state. Every
// value is clamped; names absent from the table keep their prior scores.
func (s *Store) Apply(ctx context.Context, minionID string, scores map[string]int) error {
	if len(scores) == 0 {
		return nil
	}

	clamped := make(map[string]int, len(scores))
	for name, score := range scores {
		clamped[name] = diary.Clamp(score)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backing.UpdateOpinionScores(ctx, minionID, clamped)
}

// Snapshot returns the minion's full score table.
func (s *Store) Snapshot(ctx context.Context, minionID string) (map[string]int, error) {
	m, err := s.backing.GetMinion(ctx, minionID)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(m.OpinionScores))
	for name, score := range m.OpinionScores {
		out[name] = diary.Clamp(score)
	}
	return out, nil
}
