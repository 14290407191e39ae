package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gaganv007/polkaagents/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	defaultDBMaxOpenConns    = 25
	defaultDBMaxIdleConns    = 10
	defaultDBConnMaxLifetime = 30 * time.Minute
	defaultDBConnMaxIdleTime = 5 * time.Minute
	defaultDBPingTimeout     = 5 * time.Second
)

var postgresDialect = dialect{
	name:        "postgres",
	blobType:    "BYTEA",
	numbered:    true,
	tableExists: `SELECT to_regclass('public.' || ?::text) IS NOT NULL`,
}

// NewPostgresStore opens a pgx-backed store. The schema is created on first
// use.
func NewPostgresStore(ctx context.Context, dsn string) (*SQLStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, domain.InvalidArgument("store.database_url is required when store.driver=postgres")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open postgres connection", err)
	}
	db.SetMaxOpenConns(defaultDBMaxOpenConns)
	db.SetMaxIdleConns(defaultDBMaxIdleConns)
	db.SetConnMaxLifetime(defaultDBConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultDBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultDBPingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, domain.Internal("failed to connect to postgres", err)
	}

	store := &SQLStore{db: db, dialect: postgresDialect}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
