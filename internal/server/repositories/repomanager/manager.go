// Package repomanager opens the configured storage backends and vends the
// repositories bound to them. It also runs the embedded goose migrations.
package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
)

var ErrUnknownStore = errors.New("unknown token store")

type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Ping(ctx context.Context) error
	Owners() owners.Repository
	RefreshTokens() refreshtokens.Repository
	Close() error
}

// Options select the backends. Owners live in PostgreSQL whenever
// DatabaseDSN is set and in memory otherwise.
type Options struct {
	DatabaseDSN string
	TokenStore  string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	// RedisRetention keeps token hashes this long past their expiry.
	RedisRetention time.Duration
}

// Manager is the RepositoryManager for any combination of backends.
type Manager struct {
	db     *sql.DB
	redis  *redis.Client
	owners owners.Repository
	tokens refreshtokens.Repository
}

// New opens the connections opts require and verifies them.
func New(ctx context.Context, opts Options) (*Manager, error) {
	var (
		db  *sql.DB
		rdb *redis.Client
		err error
	)

	if opts.DatabaseDSN != "" {
		db, err = sql.Open("pgx", opts.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}
	if opts.TokenStore == common.StoreRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		})
	}

	m, err := newManager(db, rdb, opts)
	if err != nil {
		closeAll(db, rdb)
		return nil, err
	}
	if err := m.Ping(ctx); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

func newManager(db *sql.DB, rdb *redis.Client, opts Options) (*Manager, error) {
	m := &Manager{db: db, redis: rdb}

	if db != nil {
		m.owners = owners.NewPostgresRepository(db)
	} else {
		m.owners = owners.NewMemoryRepository()
	}

	switch opts.TokenStore {
	case common.StorePostgres:
		if db == nil {
			return nil, errors.New("postgres token store requires a database DSN")
		}
		m.tokens = refreshtokens.NewPostgresRepository(db)
	case common.StoreRedis:
		if rdb == nil {
			return nil, errors.New("redis token store requires a redis client")
		}
		m.tokens = refreshtokens.NewRedisRepository(rdb, opts.RedisPrefix, opts.RedisRetention)
	case common.StoreMemory, "":
		m.tokens = refreshtokens.NewMemoryRepository()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStore, opts.TokenStore)
	}

	return m, nil
}

func (m *Manager) Owners() owners.Repository {
	return m.owners
}

func (m *Manager) RefreshTokens() refreshtokens.Repository {
	return m.tokens
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded schema. It is a no-op without a database.
func (m *Manager) RunMigrations(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

// Ping checks every opened backend.
func (m *Manager) Ping(ctx context.Context) error {
	if m.db != nil {
		if err := m.db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
	}
	if m.redis != nil {
		if err := m.redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
	}
	return nil
}

func (m *Manager) Close() error {
	return closeAll(m.db, m.redis)
}

func closeAll(db *sql.DB, rdb *redis.Client) error {
	var errs []error
	if db != nil {
		errs = append(errs, db.Close())
	}
	if rdb != nil {
		errs = append(errs, rdb.Close())
	}
	return errors.Join(errs...)
}
