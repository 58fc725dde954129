package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"
)

// DefaultTable is used when no table name is configured
const DefaultTable = "cache_entries"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// PostgresStore keeps entries in a single table with an expires_at column.
// Expired rows are ignored on read and removed by CleanupExpired.
type PostgresStore struct {
	db     *sql.DB
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// NewPostgresStore opens a connection pool for dsn. The pool is not
// verified until Ping.
func NewPostgresStore(dsn, table string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	store, err := NewPostgresStoreFromDB(db, table, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing pool
func NewPostgresStoreFromDB(db *sql.DB, table string, logger *zap.Logger) (*PostgresStore, error) {
	if table == "" {
		table = DefaultTable
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid cache table name %q", table)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: logger,
		now:    time.Now,
	}, nil
}

// Ping verifies the connection and creates the table if it does not exist
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return s.InitSchema(ctx)
}

// InitSchema creates the cache table
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			key TEXT PRIMARY KEY,
			value BYTEA NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(expires_at);
	`, s.table, pq.QuoteIdentifier("idx_"+strings.Trim(s.table, `"`)+"_expires_at"))

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize cache schema: %w", err)
	}

	s.logger.Debug("cache schema initialized", zap.String("table", s.table))
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1 AND expires_at > $2`, s.table)

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (key, value, expires_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`, s.table)

	_, err := s.db.ExecContext(ctx, query, key, value, s.now().Add(ttl))
	return err
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, key)
	return err
}

func (s *PostgresStore) DeletePrefix(ctx context.Context, prefix string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE key LIKE $1 ESCAPE '\'`, s.table)
	_, err := s.db.ExecContext(ctx, query, escapeLike(prefix)+"%")
	return err
}

// FlushAll empties the cache table. Other tables are untouched.
func (s *PostgresStore) FlushAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`TRUNCATE TABLE %s`, s.table))
	return err
}

// CleanupExpired deletes expired rows and returns how many were removed
func (s *PostgresStore) CleanupExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database connection pool
func (s *PostgresStore) Close() error {
	s.logger.Info("closing cache database connection")
	return s.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
