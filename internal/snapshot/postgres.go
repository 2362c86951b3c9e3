package snapshot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/agentworkforce/indicators/internal/analytics"
)

const (
	postgresTableName        = "indicators_snapshot"
	postgresDefaultKey       = "default"
	postgresKeyParam         = "snapshot_key"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// PostgresBackend keeps one row per snapshot key. The table is created on
// first use.
type PostgresBackend struct {
	dsn       string
	tableName string
	key       string
	openDB    sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresBackend accepts a lib/pq URL. A snapshot_key query parameter
// selects the row and is stripped before connecting.
func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	key := postgresDefaultKey
	if parsed, err := url.Parse(dsn); err == nil {
		query := parsed.Query()
		if v := strings.TrimSpace(query.Get(postgresKeyParam)); v != "" {
			key = v
		}
		if query.Has(postgresKeyParam) {
			query.Del(postgresKeyParam)
			parsed.RawQuery = query.Encode()
			dsn = parsed.String()
		}
	}
	return &PostgresBackend{
		dsn:       dsn,
		tableName: postgresTableName,
		key:       key,
		openDB:    sql.Open,
	}, nil
}

func (b *PostgresBackend) Key() string {
	return b.key
}

func (b *PostgresBackend) Load() (*analytics.ResultSet, error) {
	if b == nil {
		return nil, nil
	}
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT snapshot FROM %s WHERE snapshot_key = $1", quoteIdentifier(b.tableName))
	var payload string
	err := b.db.QueryRowContext(ctx, query, b.key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var set analytics.ResultSet
	if err := json.Unmarshal([]byte(payload), &set); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", b.key, err)
	}
	return &set, nil
}

func (b *PostgresBackend) Save(set *analytics.ResultSet) error {
	if b == nil || set == nil {
		return nil
	}
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(set)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (snapshot_key, snapshot, result_count, fetched_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (snapshot_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, result_count = EXCLUDED.result_count,
			fetched_at = EXCLUDED.fetched_at, updated_at = NOW()`, quoteIdentifier(b.tableName))
	_, err = b.db.ExecContext(ctx, query, b.key, string(payload), set.Len(), set.FetchedAt.UTC())
	return err
}

func (b *PostgresBackend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				snapshot_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				result_count INTEGER NOT NULL DEFAULT 0,
				fetched_at TIMESTAMPTZ,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, quoteIdentifier(b.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			b.initErr = err
			return
		}
		b.db = db
	})
	return b.initErr
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
