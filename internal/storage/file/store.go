// Package file stores each portfolio document as an indented JSON file,
// keeping a configurable number of previous versions alongside it.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/storage/watch"
)

const (
	lockWait  = 5 * time.Second
	lockStale = 30 * time.Second
)

// Store implements interfaces.DocumentStore on a directory of JSON files.
// Saves by other processes are serialized with a lock file per document.
type Store struct {
	basePath     string
	versions     int
	logger       *common.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu        sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

// Open creates basePath if needed. versions is the number of backups kept
// per document (0 disables them).
func Open(basePath string, versions int, logger *common.Logger, pollInterval time.Duration) (*Store, error) {
	if basePath == "" {
		return nil, errors.New("file store: path is required")
	}
	if versions < 0 {
		versions = 0
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory %s: %w", basePath, err)
	}

	logger.Info().Str("path", basePath).Int("versions", versions).Msg("File document store opened")
	return &Store{
		basePath:     basePath,
		versions:     versions,
		logger:       logger,
		pollInterval: pollInterval,
		now:          time.Now,
		done:         make(chan struct{}),
	}, nil
}

func (s *Store) Backend() string { return "file" }

// sanitizeKey makes an ID safe for use as a filename. Single dots are kept
// for tickers and dotted IDs; ".." is collapsed to prevent traversal.
func sanitizeKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", ":", "_", "..", "_")
	return r.Replace(key)
}

func (s *Store) path(id string) string {
	return filepath.Join(s.basePath, sanitizeKey(id)+".json")
}

func (s *Store) Load(_ context.Context, id string) (*models.Document, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", id, models.ErrNotFound)
		}
		return nil, fmt.Errorf("load %s: %w", id, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("load %s: file is empty", id)
	}

	doc := &models.Document{}
	if err := json.Unmarshal(data, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	doc.Normalize()
	return doc, nil
}

// storedVersion reads only the version field of a document file.
func (s *Store) storedVersion(_ context.Context, id string) (int64, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, models.ErrNotFound
		}
		return 0, err
	}
	var head struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, fmt.Errorf("decode %s: %w", id, err)
	}
	return head.Version, nil
}

func (s *Store) Save(ctx context.Context, doc *models.Document) error {
	select {
	case <-s.done:
		return fmt.Errorf("save %s: store closed", doc.ID)
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("save %s: %w", doc.ID, err)
	}
	defer unlock()

	current, err := s.storedVersion(ctx, doc.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("save %s: %w", doc.ID, err)
	}
	if current != doc.Version {
		return fmt.Errorf("save %s at version %d (stored %d): %w", doc.ID, doc.Version, current, models.ErrVersionConflict)
	}

	next := *doc
	next.Version = current + 1
	next.LastUpdated = s.now().UTC()
	body, err := json.MarshalIndent(&next, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID, err)
	}
	body = append(body, '\n')

	target := s.path(doc.ID)
	if s.versions > 0 {
		s.rotateVersions(target)
	}
	if err := writeAtomic(s.basePath, target, body); err != nil {
		return fmt.Errorf("save %s: %w", doc.ID, err)
	}

	doc.Version = next.Version
	doc.LastUpdated = next.LastUpdated
	s.logger.Debug().Str("document", doc.ID).Int64("version", doc.Version).Msg("Document saved")
	return nil
}

// lock takes the document's lock file, waiting up to lockWait. A lock older
// than lockStale is assumed abandoned by a crashed writer and removed.
func (s *Store) lock(ctx context.Context, id string) (func(), error) {
	path := s.path(id) + ".lock"
	deadline := time.Now().Add(lockWait)

	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			f.Close()
			return func() { os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("lock: %w", err)
		}

		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > lockStale {
			s.logger.Warn().Str("document", id).Msg("Removing stale lock file")
			os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock: timed out waiting for %s", path)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
}

// rotateVersions shifts backups up one slot and moves the current file to
// v1: v{N} is dropped, v{N-1} -> v{N}, ..., current -> v1.
func (s *Store) rotateVersions(target string) {
	os.Remove(fmt.Sprintf("%s.v%d", target, s.versions))
	for i := s.versions; i > 1; i-- {
		os.Rename(fmt.Sprintf("%s.v%d", target, i-1), fmt.Sprintf("%s.v%d", target, i))
	}
	if _, err := os.Stat(target); err == nil {
		os.Rename(target, target+".v1")
	}
}

// writeAtomic writes to a temp file in dir and renames it over target.
func writeAtomic(dir, target string, data []byte) error {
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// List returns document IDs, skipping backups, locks and temp files.
func (s *Store) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", s.basePath, err)
	}

	ids := []string{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".tmp-") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

// Backups returns the stored backup versions of id, newest first.
func (s *Store) Backups(ctx context.Context, id string) ([]*models.Document, error) {
	var out []*models.Document
	target := s.path(id)
	for i := 1; i <= s.versions; i++ {
		data, err := os.ReadFile(fmt.Sprintf("%s.v%d", target, i))
		if os.IsNotExist(err) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read backup %d of %s: %w", i, id, err)
		}
		doc := &models.Document{}
		if err := json.Unmarshal(data, doc); err != nil {
			return nil, fmt.Errorf("decode backup %d of %s: %w", i, id, err)
		}
		doc.Normalize()
		out = append(out, doc)
	}
	return out, nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan interfaces.ChangeEvent, error) {
	select {
	case <-s.done:
		return nil, fmt.Errorf("subscribe %s: store closed", id)
	default:
	}
	return watch.Poll(ctx, s.done, id, s.pollInterval, s.storedVersion, s.logger), nil
}

func (s *Store) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Ensure Store implements DocumentStore
var _ interfaces.DocumentStore = (*Store)(nil)
