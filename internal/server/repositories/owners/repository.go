// Package owners stores the principals refresh tokens belong to.
package owners

import (
	"context"

	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
)

// Repository is the identity lookup used by login and session validation.
// Emails are matched case-insensitively.
type Repository interface {
	Create(ctx context.Context, owner *models.Owner) (*models.Owner, error)
	GetByID(ctx context.Context, id string) (*models.Owner, error)
	GetByEmail(ctx context.Context, email string) (*models.Owner, error)
}
