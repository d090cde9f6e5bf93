package owners

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// MemoryRepository keeps owners in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	byID    map[string]models.Owner
	byEmail map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:    make(map[string]models.Owner),
		byEmail: make(map[string]string),
	}
}

func (r *MemoryRepository) Create(_ context.Context, owner *models.Owner) (*models.Owner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := strings.ToLower(owner.Email)
	if _, ok := r.byEmail[key]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if _, ok := r.byID[owner.ID]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if owner.CreatedAt.IsZero() {
		owner.CreatedAt = time.Now().UTC()
	}
	r.byID[owner.ID] = *owner
	r.byEmail[key] = owner.ID
	return owner, nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	o, ok := r.byID[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &o, nil
}

func (r *MemoryRepository) GetByEmail(_ context.Context, email string) (*models.Owner, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	o := r.byID[id]
	return &o, nil
}
