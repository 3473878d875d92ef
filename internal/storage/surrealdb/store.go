// Package surrealdb stores portfolio documents in SurrealDB.
package surrealdb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/surrealdb/surrealdb.go"
	surrealmodels "github.com/surrealdb/surrealdb.go/pkg/models"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/watch"
)

const table = "portfolio"

// documentRecord is the stored row. The document travels as a JSON body so
// both writers share one schema; version and doc_id are top-level fields for
// conditional updates and listing.
type documentRecord struct {
	DocID     string `json:"doc_id"`
	Version   int64  `json:"version"`
	UpdatedAt string `json:"updated_at"`
	Body      string `json:"body"`
}

type versionRow struct {
	Version int64 `json:"version"`
}

type idRow struct {
	DocID string `json:"doc_id"`
}

// Store implements interfaces.DocumentStore on a SurrealDB connection.
type Store struct {
	db           *surrealdb.DB
	logger       *common.Logger
	pollInterval time.Duration
	now          func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// Connect opens and authenticates a SurrealDB connection and selects the
// configured namespace and database.
func Connect(ctx context.Context, cfg common.StorageConfig) (*surrealdb.DB, error) {
	db, err := surrealdb.New(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to SurrealDB: %w", err)
	}

	if _, err := db.SignIn(ctx, map[string]interface{}{
		"user": cfg.Username,
		"pass": cfg.Password,
	}); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to sign in to SurrealDB: %w", err)
	}

	if err := db.Use(ctx, cfg.Namespace, cfg.Database); err != nil {
		db.Close(ctx)
		return nil, fmt.Errorf("failed to select namespace/database: %w", err)
	}
	return db, nil
}

// Open connects using cfg and returns a ready store.
func Open(ctx context.Context, logger *common.Logger, cfg common.StorageConfig) (*Store, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s, err := NewStore(ctx, db, logger, cfg.GetPollInterval())
	if err != nil {
		db.Close(ctx)
		return nil, err
	}

	logger.Info().
		Str("address", cfg.Address).
		Str("namespace", cfg.Namespace).
		Str("database", cfg.Database).
		Msg("SurrealDB document store initialized")
	return s, nil
}

// NewStore wraps an open connection and defines the document table.
func NewStore(ctx context.Context, db *surrealdb.DB, logger *common.Logger, pollInterval time.Duration) (*Store, error) {
	// SurrealDB v3 errors on querying non-existent tables
	sql := fmt.Sprintf("DEFINE TABLE IF NOT EXISTS %s SCHEMALESS", table)
	if _, err := surrealdb.Query[any](ctx, db, sql, nil); err != nil {
		return nil, fmt.Errorf("failed to define table %s: %w", table, err)
	}

	return &Store{
		db:           db,
		logger:       logger,
		pollInterval: pollInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}, nil
}

func (s *Store) Backend() string { return "surrealdb" }

func rid(id string) surrealmodels.RecordID {
	return surrealmodels.NewRecordID(table, id)
}

func (s *Store) Load(ctx context.Context, id string) (*models.Document, error) {
	record, err := surrealdb.Select[documentRecord](ctx, s.db, rid(id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, fmt.Errorf("load %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to select document %s: %w", id, err)
	}
	if record == nil || record.Body == "" {
		return nil, fmt.Errorf("load %s: %w", id, models.ErrNotFound)
	}

	doc := &models.Document{}
	if err := json.Unmarshal([]byte(record.Body), doc); err != nil {
		return nil, fmt.Errorf("decode document %s: %w", id, err)
	}
	doc.ID = id
	doc.Version = record.Version
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
	record := documentRecord{
		DocID:     doc.ID,
		Version:   next.Version,
		UpdatedAt: next.LastUpdated.Format(time.RFC3339Nano),
		Body:      string(body),
	}

	if doc.Version == 0 {
		err = s.create(ctx, doc.ID, record)
	} else {
		err = s.update(ctx, doc.ID, doc.Version, record)
	}
	if err != nil {
		return err
	}

	doc.Version = next.Version
	doc.LastUpdated = next.LastUpdated
	return nil
}

// create inserts a new record. CREATE fails when the record id is taken,
// which means another writer saved first.
func (s *Store) create(ctx context.Context, id string, record documentRecord) error {
	sql := "CREATE $rid CONTENT $record"
	vars := map[string]any{"rid": rid(id), "record": record}

	if _, err := surrealdb.Query[[]documentRecord](ctx, s.db, sql, vars); err != nil {
		if v, verr := s.version(ctx, id); verr == nil {
			return fmt.Errorf("create %s (stored %d): %w", id, v, models.ErrVersionConflict)
		}
		return fmt.Errorf("failed to create document %s: %w", id, err)
	}
	return nil
}

// update replaces the record only while its version still matches. An empty
// result means the WHERE clause filtered it out.
func (s *Store) update(ctx context.Context, id string, expected int64, record documentRecord) error {
	sql := "UPDATE $rid CONTENT $record WHERE version = $expected"
	vars := map[string]any{"rid": rid(id), "record": record, "expected": expected}

	results, err := surrealdb.Query[[]documentRecord](ctx, s.db, sql, vars)
	if err != nil {
		return fmt.Errorf("failed to update document %s: %w", id, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return fmt.Errorf("save %s at version %d: %w", id, expected, models.ErrVersionConflict)
	}
	return nil
}

// version returns the stored version, or models.ErrNotFound.
func (s *Store) version(ctx context.Context, id string) (int64, error) {
	results, err := surrealdb.Query[[]versionRow](ctx, s.db, "SELECT version FROM $rid", map[string]any{"rid": rid(id)})
	if err != nil {
		return 0, fmt.Errorf("failed to read version of %s: %w", id, err)
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, models.ErrNotFound
	}
	return (*results)[0].Result[0].Version, nil
}

func (s *Store) List(ctx context.Context) ([]string, error) {
	sql := fmt.Sprintf("SELECT doc_id FROM %s ORDER BY doc_id", table)
	results, err := surrealdb.Query[[]idRow](ctx, s.db, sql, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	var ids []string
	if results != nil && len(*results) > 0 {
		for _, row := range (*results)[0].Result {
			ids = append(ids, row.DocID)
		}
	}
	return ids, nil
}

// Subscribe polls the record version; SurrealDB live queries are not used so
// the same mechanism serves every remote backend.
func (s *Store) Subscribe(ctx context.Context, id string) (<-chan interfaces.ChangeEvent, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("subscribe %s: store closed", id)
	default:
	}
	return watch.Poll(ctx, s.done, id, s.pollInterval, s.version, s.logger), nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.db.Close(context.Background())
	})
	return nil
}

func isNotFoundError(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "not found")
}

// Ensure Store implements DocumentStore
var _ interfaces.DocumentStore = (*Store)(nil)
