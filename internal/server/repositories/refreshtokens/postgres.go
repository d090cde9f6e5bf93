package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/dbx"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

const selectColumns = `id, token, owner_id, expiry_at, created_at, revoked, revoked_at, revoked_reason, replaced_by`

// PostgresRepository implements Repository over dbx.DBTX
// (satisfied by *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Add inserts a new live refresh token.
func (r *PostgresRepository) Add(ctx context.Context, t *models.RefreshToken) error {
	return insert(ctx, r.db, t)
}

// FindActive returns the owner's token with the given value if it is active at now.
func (r *PostgresRepository) FindActive(ctx context.Context, ownerID, token string, now time.Time) (*models.RefreshToken, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens
		WHERE owner_id = $1 AND token = $2 AND NOT revoked AND expiry_at > $3
	`
	return scanOne(r.db.QueryRowContext(ctx, query, ownerID, token, now))
}

// FindActiveForOwner returns the owner's active token.
func (r *PostgresRepository) FindActiveForOwner(ctx context.Context, ownerID string, now time.Time) (*models.RefreshToken, error) {
	query := `
		SELECT ` + selectColumns + `
		FROM refresh_tokens
		WHERE owner_id = $1 AND NOT revoked AND expiry_at > $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanOne(r.db.QueryRowContext(ctx, query, ownerID, now))
}

// MarkRevoked revokes one token (idempotent). It takes the same owner lock
// as Replace so a revocation never interleaves with a rotation.
func (r *PostgresRepository) MarkRevoked(ctx context.Context, token string, reason models.RevokeReason, now time.Time) (bool, error) {
	var revoked bool
	err := dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		var ownerID string
		err := tx.QueryRowContext(ctx, `SELECT owner_id FROM refresh_tokens WHERE token = $1`, token).Scan(&ownerID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		if err := lockOwner(ctx, tx, ownerID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
			WHERE token = $1 AND NOT revoked
		`, token, now, string(reason))
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		revoked = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return revoked, nil
}

// MarkAllRevoked revokes every live token of the owner under the owner lock.
func (r *PostgresRepository) MarkAllRevoked(ctx context.Context, ownerID string, reason models.RevokeReason, now time.Time) (int64, error) {
	var n int64
	err := dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := lockOwner(ctx, tx, ownerID); err != nil {
			return err
		}

		query := `
			WITH revoked_rows AS (
				UPDATE refresh_tokens
				SET revoked = TRUE, revoked_at = $2, revoked_reason = $3
				WHERE owner_id = $1 AND NOT revoked
				RETURNING expiry_at
			)
			SELECT COUNT(*) FROM revoked_rows WHERE expiry_at > $2
		`
		if err := tx.QueryRowContext(ctx, query, ownerID, now, string(reason)).Scan(&n); err != nil {
			return fmt.Errorf("db error: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Replace revokes the owner's live tokens and inserts p.Next in one
// transaction. A transaction-scoped advisory lock on the owner serializes
// concurrent replaces; the partial unique index on live rows backs it up.
func (r *PostgresRepository) Replace(ctx context.Context, p ReplaceParams) error {
	return dbx.InTx(ctx, r.db, func(ctx context.Context, tx dbx.DBTX) error {
		if err := lockOwner(ctx, tx, p.OwnerID); err != nil {
			return err
		}

		if p.Expected != "" {
			res, err := tx.ExecContext(ctx, `
				UPDATE refresh_tokens
				SET revoked = TRUE, revoked_at = $3, revoked_reason = $4, replaced_by = $5
				WHERE owner_id = $1 AND token = $2 AND NOT revoked AND expiry_at > $3
			`, p.OwnerID, p.Expected, p.Now, string(p.Reason), p.Next.Token)
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("db error: %w", err)
			}
			if n == 0 {
				return common.ErrRotationConflict
			}
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $2, revoked_reason = $3, replaced_by = $4
			WHERE owner_id = $1 AND NOT revoked
		`, p.OwnerID, p.Now, string(p.Reason), p.Next.Token); err != nil {
			return fmt.Errorf("db error: %w", err)
		}

		return insert(ctx, tx, p.Next)
	})
}

// lockOwner takes a transaction-scoped advisory lock keyed by the owner id.
func lockOwner(ctx context.Context, tx dbx.DBTX, ownerID string) error {
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, ownerID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func insert(ctx context.Context, db dbx.DBTX, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, token, owner_id, expiry_at, created_at, revoked)
		VALUES ($1, $2, $3, $4, $5, FALSE)
	`
	_, err := db.ExecContext(ctx, query, t.ID, t.Token, t.OwnerID, t.ExpiryAt, t.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", common.ErrorAlreadyExists, pgErr.ConstraintName)
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func scanOne(row *sql.Row) (*models.RefreshToken, error) {
	var (
		t          models.RefreshToken
		revokedAt  sql.NullTime
		reason     sql.NullString
		replacedBy sql.NullString
	)

	err := row.Scan(&t.ID, &t.Token, &t.OwnerID, &t.ExpiryAt, &t.CreatedAt, &t.Revoked, &revokedAt, &reason, &replacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	if reason.Valid {
		rr := models.RevokeReason(reason.String)
		t.RevokedReason = &rr
	}
	if replacedBy.Valid {
		s := replacedBy.String
		t.ReplacedBy = &s
	}
	return &t, nil
}
