package repomanager

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/owners"
	"github.com/dmitrijs2005/sessionkeeper/internal/server/repositories/refreshtokens"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

func TestNew_MemoryOnly(t *testing.T) {
	m, err := New(context.Background(), Options{TokenStore: common.StoreMemory})
	require.NoError(t, err)
	defer m.Close()

	var _ RepositoryManager = m
	assert.IsType(t, &owners.MemoryRepository{}, m.Owners())
	assert.IsType(t, &refreshtokens.MemoryRepository{}, m.RefreshTokens())
	assert.NoError(t, m.RunMigrations(context.Background()), "no database means nothing to migrate")
}

func TestNew_UnknownStore(t *testing.T) {
	_, err := New(context.Background(), Options{TokenStore: "etcd"})
	assert.ErrorIs(t, err, ErrUnknownStore)
}

func TestNew_PostgresStoreWithoutDSN(t *testing.T) {
	_, err := New(context.Background(), Options{TokenStore: common.StorePostgres})
	assert.ErrorContains(t, err, "requires a database DSN")
}

func TestNew_RedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	m, err := New(context.Background(), Options{TokenStore: common.StoreRedis, RedisAddr: mr.Addr(), RedisRetention: time.Hour})
	require.NoError(t, err)
	defer m.Close()

	assert.IsType(t, &refreshtokens.RedisRepository{}, m.RefreshTokens())
	assert.IsType(t, &owners.MemoryRepository{}, m.Owners())
}

func TestNew_RedisUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := New(context.Background(), Options{TokenStore: common.StoreRedis, RedisAddr: addr})
	assert.ErrorContains(t, err, "ping redis")
}

func TestNewManager_PostgresBackends(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	m, err := newManager(db, nil, Options{TokenStore: common.StorePostgres})
	require.NoError(t, err)

	assert.IsType(t, &owners.PostgresRepository{}, m.Owners())
	assert.IsType(t, &refreshtokens.PostgresRepository{}, m.RefreshTokens())
}

func TestNewManager_RedisWithPostgresOwners(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	m, err := newManager(db, rdb, Options{TokenStore: common.StoreRedis})
	require.NoError(t, err)

	assert.IsType(t, &owners.PostgresRepository{}, m.Owners())
	assert.IsType(t, &refreshtokens.RedisRepository{}, m.RefreshTokens())
}

func TestPing_Database(t *testing.T) {
	db, mock := newDB(t)
	defer db.Close()

	m, err := newManager(db, nil, Options{TokenStore: common.StoreMemory})
	require.NoError(t, err)

	mock.ExpectPing()
	require.NoError(t, m.Ping(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.ErrorContains(t, m.Ping(context.Background()), "ping database")
}

func TestRunMigrations_Success(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		if dir != "." {
			return errors.New("unexpected dir")
		}
		if len(opts) != 0 {
			return errors.New("unexpected opts")
		}
		return nil
	}
	defer func() { gooseUpContext = orig }()

	m, err := newManager(db, nil, Options{TokenStore: common.StorePostgres})
	require.NoError(t, err)
	if err := m.RunMigrations(context.Background()); err != nil {
		t.Fatalf("RunMigrations error: %v", err)
	}
}

func TestRunMigrations_Error(t *testing.T) {
	db, _ := newDB(t)
	defer db.Close()

	orig := gooseUpContext
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}
	defer func() { gooseUpContext = orig }()

	m, err := newManager(db, nil, Options{TokenStore: common.StorePostgres})
	require.NoError(t, err)
	if err := m.RunMigrations(context.Background()); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestClose_ClosesBackends(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectClose()

	m, err := newManager(db, nil, Options{TokenStore: common.StoreMemory})
	require.NoError(t, err)
	require.NoError(t, m.Close())
	require.NoError(t, mock.ExpectationsWereMet())
}
