package refreshtokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// MemoryRepository is a process-local Repository. A single mutex guards all
// state, which gives Replace the same per-owner atomicity as the SQL store.
type MemoryRepository struct {
	mu     sync.Mutex
	byTok  map[string]*models.RefreshToken
	byOwnr map[string][]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byTok:  make(map[string]*models.RefreshToken),
		byOwnr: make(map[string][]string),
	}
}

func (r *MemoryRepository) Add(_ context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkInsertLocked(t); err != nil {
		return err
	}
	r.insertLocked(t)
	return nil
}

func (r *MemoryRepository) FindActive(_ context.Context, ownerID, token string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byTok[token]
	if !ok || t.OwnerID != ownerID || !t.IsActive(now) {
		return nil, common.ErrorNotFound
	}
	return clone(t), nil
}

func (r *MemoryRepository) FindActiveForOwner(_ context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var best *models.RefreshToken
	for _, tok := range r.byOwnr[ownerID] {
		t := r.byTok[tok]
		if !t.IsActive(now) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, common.ErrorNotFound
	}
	return clone(best), nil
}

func (r *MemoryRepository) MarkRevoked(_ context.Context, token string, reason models.RevokeReason, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byTok[token]
	if !ok || t.Revoked {
		return false, nil
	}
	revoke(t, reason, now, nil)
	return true, nil
}

func (r *MemoryRepository) MarkAllRevoked(_ context.Context, ownerID string, reason models.RevokeReason, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.revokeOwnerLocked(ownerID, reason, now, nil), nil
}

func (r *MemoryRepository) Replace(_ context.Context, p ReplaceParams) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.Expected != "" {
		cur, ok := r.byTok[p.Expected]
		if !ok || cur.OwnerID != p.OwnerID || !cur.IsActive(p.Now) {
			return common.ErrRotationConflict
		}
	}
	if _, taken := r.byTok[p.Next.Token]; taken {
		return common.ErrorAlreadyExists
	}

	replacedBy := p.Next.Token
	r.revokeOwnerLocked(p.OwnerID, p.Reason, p.Now, &replacedBy)
	r.insertLocked(p.Next)
	return nil
}

// Get returns the stored row for token whatever its state.
func (r *MemoryRepository) Get(token string) (*models.RefreshToken, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.byTok[token]
	if !ok {
		return nil, false
	}
	return clone(t), true
}

func (r *MemoryRepository) checkInsertLocked(t *models.RefreshToken) error {
	if _, taken := r.byTok[t.Token]; taken {
		return common.ErrorAlreadyExists
	}
	for _, tok := range r.byOwnr[t.OwnerID] {
		if !r.byTok[tok].Revoked {
			return common.ErrorAlreadyExists
		}
	}
	return nil
}

func (r *MemoryRepository) insertLocked(t *models.RefreshToken) {
	c := clone(t)
	c.Revoked, c.RevokedAt, c.RevokedReason, c.ReplacedBy = false, nil, nil, nil
	r.byTok[c.Token] = c
	r.byOwnr[c.OwnerID] = append(r.byOwnr[c.OwnerID], c.Token)
}

// revokeOwnerLocked returns how many of the revoked rows were still active.
func (r *MemoryRepository) revokeOwnerLocked(ownerID string, reason models.RevokeReason, now time.Time, replacedBy *string) int64 {
	var active int64
	for _, tok := range r.byOwnr[ownerID] {
		t := r.byTok[tok]
		if t.Revoked {
			continue
		}
		if t.IsActive(now) {
			active++
		}
		revoke(t, reason, now, replacedBy)
	}
	return active
}

func revoke(t *models.RefreshToken, reason models.RevokeReason, now time.Time, replacedBy *string) {
	at := now
	rr := reason
	t.Revoked = true
	t.RevokedAt = &at
	t.RevokedReason = &rr
	if replacedBy != nil {
		s := *replacedBy
		t.ReplacedBy = &s
	}
}

func clone(t *models.RefreshToken) *models.RefreshToken {
	c := *t
	if t.RevokedAt != nil {
		at := *t.RevokedAt
		c.RevokedAt = &at
	}
	if t.RevokedReason != nil {
		rr := *t.RevokedReason
		c.RevokedReason = &rr
	}
	if t.ReplacedBy != nil {
		s := *t.ReplacedBy
		c.ReplacedBy = &s
	}
	return &c
}
