// Package sqlite stores portfolio documents in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/watch"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	version INTEGER NOT NULL,
	updated_at TEXT NOT NULL,
	body TEXT NOT NULL
);`

// Store implements interfaces.DocumentStore on database/sql.
type Store struct {
	db           *sql.DB
	logger       *common.Logger
	pollInterval time.Duration
	now          func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Open opens (creating if needed) the database at path.
func Open(path string, logger *common.Logger, pollInterval time.Duration) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", path).Msg("SQLite document store initialized")

	return &Store{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}, nil
}

func (s *Store) Backend() string { return "sqlite" }

func (s *Store) Load(ctx context.Context, id string) (*models.Document, error) {
	var version int64
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT version, body FROM documents WHERE id = ?`, id).Scan(&version, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load document %s: %w", id, err)
	}

	doc := &models.Document{}
	if err := json.Unmarshal([]byte(body), doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc.ID = id
	doc.Version = version
	doc.Normalize()
	return doc, nil
}

func (s *Store) Save(ctx context.Context, doc *models.Document) error {
	next := *doc
	next.Version = doc.Version + 1
	next.LastUpdated = s.now().UTC()

	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", doc.ID, err)
	}
	updatedAt := next.LastUpdated.Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", doc.ID, err)
	}
	defer tx.Rollback()

	if doc.Version == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (id, version, updated_at, body) VALUES (?, ?, ?, ?)`,
			doc.ID, next.Version, updatedAt, string(body))
		var sqlErr sqlite3.Error
		if errors.As(err, &sqlErr) && sqlErr.Code == sqlite3.ErrConstraint {
			return fmt.Errorf("create %s: %w", doc.ID, models.ErrVersionConflict)
		}
		if err != nil {
			return fmt.Errorf("failed to insert document %s: %w", doc.ID, err)
		}
	} else {
		res, err := tx.ExecContext(ctx,
			`UPDATE documents SET version = ?, updated_at = ?, body = ? WHERE id = ? AND version = ?`,
			next.Version, updatedAt, string(body), doc.ID, doc.Version)
		if err != nil {
			return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to update document %s: %w", doc.ID, err)
		}
		if n == 0 {
			return fmt.Errorf("save %s at version %d: %w", doc.ID, doc.Version, models.ErrVersionConflict)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", doc.ID, err)
	}

	doc.Version = next.Version
	doc.LastUpdated = next.LastUpdated
	return nil
}

func (s *Store) version(ctx context.Context, id string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx, `SELECT version FROM documents WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, models.ErrNotFound
	}
	return v, err
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM documents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Subscribe polls the stored version so writes from other processes (the
// cron binary) are seen too.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan interfaces.ChangeEvent, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("subscribe %s: store closed", id)
	default:
	}
	return watch.Poll(ctx, s.done, id, s.pollInterval, s.version, s.logger), nil
}

func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.db.Close()
	})
	return err
}

// Ensure Store implements DocumentStore
var _ interfaces.DocumentStore = (*Store)(nil)
