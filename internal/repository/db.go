package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/protocol-pilot/internal/common"
)

// Driver names the SQL dialect behind a DB handle.
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DB wraps database/sql with the dialect it speaks. An empty DSN opens
// an embedded SQLite file under the data root; a postgres DSN goes
// through a pgx pool.
type DB struct {
	*sql.DB
	driver Driver
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects the job registry and applies migrations.
func Open(ctx context.Context, cfg common.DatabaseConfig, dataRoot string, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var db *DB
	if cfg.DSN == "" {
		path := filepath.Join(dataRoot, "jobs.db")
		sqlDB, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
		if err != nil {
			return nil, common.NewAppError("DB_OPEN_ERROR", "open sqlite registry", err)
		}
		// modernc sqlite is single-writer
		sqlDB.SetMaxOpenConns(1)
		db = &DB{DB: sqlDB, driver: DriverSQLite, logger: logger}
		logger.Info("registry.open", "driver", DriverSQLite, "path", path)
	} else {
		poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
		if err != nil {
			return nil, common.NewAppError("DB_CONFIG_ERROR", "parse database DSN", err)
		}
		poolCfg.MaxConns = cfg.MaxConns
		poolCfg.MinConns = cfg.MinConns
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
		pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
		if err != nil {
			return nil, common.NewAppError("DB_OPEN_ERROR", "create connection pool", err)
		}
		db = &DB{DB: stdlib.OpenDBFromPool(pool), driver: DriverPostgres, pool: pool, logger: logger}
		logger.Info("registry.open", "driver", DriverPostgres)
	}

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, common.NewAppError("DB_PING_ERROR", "registry unreachable", err)
	}
	if err := db.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Close releases the handle and the pool when one exists.
func (d *DB) Close() error {
	err := d.DB.Close()
	if d.pool != nil {
		d.pool.Close()
	}
	return err
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id          TEXT PRIMARY KEY,
	display_id  TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	modality    TEXT NOT NULL DEFAULT '',
	state       TEXT NOT NULL,
	stop_reason TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_state ON jobs (state);
CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs (created_at);`

func (d *DB) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(jobsSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := d.ExecContext(ctx, stmt); err != nil {
			return common.NewAppError("DB_MIGRATE_ERROR", fmt.Sprintf("apply schema: %s", firstLine(stmt)), err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's form. Queries in
// this package are written with ?; SQLite takes them as-is.
func (d *DB) rebind(query string) string {
	if d.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
