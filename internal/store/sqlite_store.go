package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"

	"github.com/gaganv007/polkaagents/internal/domain"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name:        "sqlite",
	blobType:    "BLOB",
	tableExists: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?)`,
}

// NewSQLiteStore opens a modernc sqlite database. path may be a file path or
// a full DSN such as "file:registry?mode=memory&cache=shared".
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, domain.InvalidArgument("store.sqlite_path is required when store.driver=sqlite")
	}

	dsn := path
	if !strings.HasPrefix(path, "file:") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, domain.Internal("failed to create sqlite directory", err)
		}
		dsn = path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, domain.Internal("failed to open sqlite database", err)
	}
	// one writer; also keeps ":memory:" on a single connection
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, domain.Internal("failed to connect to sqlite", err)
	}

	store := &SQLStore{db: db, dialect: sqliteDialect}
	if err := store.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}
