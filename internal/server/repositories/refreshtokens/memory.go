package refreshtokens

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/tripkeeper/internal/common"
	"github.com/dmitrijs2005/tripkeeper/internal/server/models"
)

// InMemoryRepository keeps rows in process memory. It is safe for
// concurrent use and mirrors the Postgres semantics, including the
// conditional revoke.
type InMemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]models.RefreshToken
	events []models.ReuseEvent
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{tokens: make(map[string]models.RefreshToken)}
}

func (r *InMemoryRepository) Insert(ctx context.Context, token *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.TokenID]; ok {
		return fmt.Errorf("token %s: %w", token.TokenID, common.ErrorAlreadyExists)
	}
	r.tokens[token.TokenID] = *token
	return nil
}

func (r *InMemoryRepository) FindByTokenIDAndUser(ctx context.Context, tokenID string, userID int64) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenID]
	if !ok || t.UserID != userID {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (r *InMemoryRepository) FindByFamilyAndUser(ctx context.Context, familyID string, userID int64) ([]models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []models.RefreshToken{}
	for _, t := range r.tokens {
		if t.FamilyID == familyID && t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].TokenID < out[j].TokenID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InMemoryRepository) MarkRevoked(ctx context.Context, tokenID string, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.tokens[tokenID]; ok && t.UserID == userID {
		t.IsRevoked = true
		r.tokens[tokenID] = t
	}
	return nil
}

func (r *InMemoryRepository) RevokeIfActive(ctx context.Context, tokenID string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenID]
	if !ok || t.UserID != userID || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	r.tokens[tokenID] = t
	return true, nil
}

func (r *InMemoryRepository) MarkFamilyRevoked(ctx context.Context, familyID string, userID int64) error {
	r.revokeWhere(func(t models.RefreshToken) bool {
		return t.FamilyID == familyID && t.UserID == userID
	})
	return nil
}

func (r *InMemoryRepository) MarkAllUserRevoked(ctx context.Context, userID int64) error {
	r.revokeWhere(func(t models.RefreshToken) bool { return t.UserID == userID })
	return nil
}

func (r *InMemoryRepository) DeleteExpiredBefore(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *InMemoryRepository) InsertReuseEvent(ctx context.Context, event *models.ReuseEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, *event)
	return nil
}

func (r *InMemoryRepository) HasReuseEvent(ctx context.Context, familyID string, userID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.events {
		if e.FamilyID == familyID && e.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (r *InMemoryRepository) DeleteExpiredReuseEventsBefore(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.events[:0]
	var n int64
	for _, e := range r.events {
		if e.ExpiresAt.Before(now) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.events = kept
	return n, nil
}

func (r *InMemoryRepository) revokeWhere(match func(models.RefreshToken) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.tokens {
		if match(t) && !t.IsRevoked {
			t.IsRevoked = true
			r.tokens[id] = t
		}
	}
}
