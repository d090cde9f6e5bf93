package owners

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, owner *models.Owner) (*models.Owner, error) {

	query :=
		`INSERT INTO owners (id, email, password_hash)
         VALUES ($1, $2, $3)
		 RETURNING created_at
		 `

	err := r.db.QueryRowContext(ctx, query,
		owner.ID, owner.Email, owner.PasswordHash).Scan(&owner.CreatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, common.ErrorAlreadyExists
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return owner, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.Owner, error) {
	query :=
		`SELECT id, email, password_hash, created_at FROM owners
		 WHERE id = $1
		 `
	return scanOwner(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*models.Owner, error) {
	query :=
		`SELECT id, email, password_hash, created_at FROM owners
		 WHERE lower(email) = lower($1)
		 `
	return scanOwner(r.db.QueryRowContext(ctx, query, email))
}

func scanOwner(row *sql.Row) (*models.Owner, error) {
	owner := &models.Owner{}
	err := row.Scan(&owner.ID, &owner.Email, &owner.PasswordHash, &owner.CreatedAt)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return owner, nil
}
