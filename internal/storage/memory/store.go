// Package memory provides an in-process DocumentStore for tests and local
// development.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

type entry struct {
	version int64
	body    []byte
}

// Store keeps serialized documents in a map. Documents are copied on the
// way in and out so callers never share state with the store.
type Store struct {
	mu     sync.RWMutex
	docs   map[string]entry
	subs   map[string][]chan interfaces.ChangeEvent
	closed bool
	logger *common.Logger
	now    func() time.Time
}

// NewStore creates an empty store.
func NewStore(logger *common.Logger) *Store {
	return &Store{
		docs:   make(map[string]entry),
		subs:   make(map[string][]chan interfaces.ChangeEvent),
		logger: logger,
		now:    time.Now,
	}
}

func (s *Store) Backend() string { return "memory" }

func (s *Store) Load(_ context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	e, ok := s.docs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", id, models.ErrNotFound)
	}

	doc := &models.Document{}
	if err := json.Unmarshal(e.body, doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", id, err)
	}
	doc.Version = e.version
	doc.Normalize()
	return doc, nil
}

func (s *Store) Save(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("save %s: store closed", doc.ID)
	}

	current := s.docs[doc.ID].version
	if current != doc.Version {
		return fmt.Errorf("save %s at version %d (stored %d): %w", doc.ID, doc.Version, current, models.ErrVersionConflict)
	}

	next := *doc
	next.Version = current + 1
	next.LastUpdated = s.now().UTC()
	body, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("encode %s: %w", doc.ID, err)
	}

	s.docs[doc.ID] = entry{version: next.Version, body: body}
	doc.Version = next.Version
	doc.LastUpdated = next.LastUpdated

	s.notify(interfaces.ChangeEvent{DocumentID: doc.ID, Version: next.Version})
	return nil
}

// notify must be called with s.mu held. Slow subscribers miss events rather
// than block writers; the buffered event still signals a change.
func (s *Store) notify(ev interfaces.ChangeEvent) {
	for _, ch := range s.subs[ev.DocumentID] {
		select {
		case ch <- ev:
		default:
			s.logger.Debug().Str("document", ev.DocumentID).Msg("Subscriber behind, change event dropped")
		}
	}
}

func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) Subscribe(ctx context.Context, id string) (<-chan interfaces.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("subscribe %s: store closed", id)
	}

	ch := make(chan interfaces.ChangeEvent, 1)
	s.subs[id] = append(s.subs[id], ch)

	go func() {
		<-ctx.Done()
		s.unsubscribe(id, ch)
	}()
	return ch, nil
}

func (s *Store) unsubscribe(id string, ch chan interfaces.ChangeEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subs[id]
	for i, c := range subs {
		if c == ch {
			s.subs[id] = append(subs[:i], subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	for id, subs := range s.subs {
		for _, ch := range subs {
			close(ch)
		}
		delete(s.subs, id)
	}
	return nil
}

// Ensure Store implements DocumentStore
var _ interfaces.DocumentStore = (*Store)(nil)
