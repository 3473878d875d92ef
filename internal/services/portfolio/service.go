// Package portfolio coordinates the ledger, quote service, snapshot engine
// and document store for each loaded portfolio.
//
// Each portfolio is a session holding the loaded document. Mutations run on
// a clone which replaces the session document only after the store accepted
// it, so a failed operation never leaves partial state behind. Quote and
// history fetches happen before the session lock is taken.
package portfolio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/ledger"
	"github.com/bobmcallan/folio/internal/services/performance"
	"github.com/bobmcallan/folio/internal/services/pricing"
	"github.com/bobmcallan/folio/internal/services/snapshot"
)

// maxSaveAttempts bounds reload-and-retry on version conflicts.
const maxSaveAttempts = 3

// session is one loaded portfolio. generation increases on every reload;
// a reconciliation started under an older generation is abandoned.
type session struct {
	mu         sync.RWMutex
	doc        *models.Document
	generation uint64
	cancel     context.CancelFunc // in-flight reconciliation
	reconcile  uint64             // identifies the owner of cancel
}

// Service implements the portfolio operations.
type Service struct {
	store         interfaces.DocumentStore
	quotes        interfaces.QuoteService
	calendar      *calendar.Calendar
	ledger        *ledger.Service
	resolver      *pricing.Resolver
	engine        *snapshot.Engine
	aggregator    *performance.Aggregator
	defaultMarket models.Market
	logger        *common.Logger
	now           func() time.Time // injectable clock for testing

	mu       sync.Mutex
	sessions map[string]*session
}

// NewService creates a new portfolio service. market is used for documents
// whose settings do not name one.
func NewService(store interfaces.DocumentStore, quotes interfaces.QuoteService, cal *calendar.Calendar, market models.Market, logger *common.Logger) *Service {
	resolver := pricing.NewResolver(cal, logger)
	return &Service{
		store:         store,
		quotes:        quotes,
		calendar:      cal,
		ledger:        ledger.NewService(logger),
		resolver:      resolver,
		engine:        snapshot.NewEngine(cal, resolver, logger),
		aggregator:    performance.NewAggregator(cal),
		defaultMarket: market,
		logger:        logger,
		now:           time.Now,
		sessions:      make(map[string]*session),
	}
}

// SetClock replaces the clock of the service and the components it owns.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
	s.ledger.SetClock(now)
	s.resolver.SetClock(now)
	s.engine.SetClock(now)
}

// Market returns the market a document is valued in.
func (s *Service) Market(doc *models.Document) models.Market {
	if m, ok := models.ParseMarket(doc.Settings.Market()); ok {
		return m
	}
	return s.defaultMarket
}

func (s *Service) today(market models.Market) string {
	return calendar.Today(market, s.now())
}

// List returns the stored portfolio IDs.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}

// Load (re)reads a portfolio from the store, replacing any loaded state and
// cancelling an in-flight reconciliation. A portfolio that does not exist
// yet loads as an empty document and is created by its first mutation.
func (s *Service) Load(ctx context.Context, id string) (*models.Document, error) {
	sess := s.entry(id)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if err := s.reloadLocked(ctx, id, sess); err != nil {
		return nil, err
	}
	return sess.doc.Clone(), nil
}

// Get returns a copy of the loaded document, loading it on first use.
func (s *Service) Get(ctx context.Context, id string) (*models.Document, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.mu.RLock()
	defer sess.mu.RUnlock()
	return sess.doc.Clone(), nil
}

func (s *Service) entry(id string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		sess = &session{}
		s.sessions[id] = sess
	}
	return sess
}

// session returns the loaded session for id, loading it if necessary.
func (s *Service) session(ctx context.Context, id string) (*session, error) {
	if id == "" {
		return nil, models.NewValidationError("portfolio", models.ErrInvalidField, "portfolio id is required")
	}
	sess := s.entry(id)

	sess.mu.RLock()
	loaded := sess.doc != nil
	sess.mu.RUnlock()
	if loaded {
		return sess, nil
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.doc == nil {
		if err := s.reloadLocked(ctx, id, sess); err != nil {
			return nil, err
		}
	}
	return sess, nil
}

// reloadLocked must be called with sess.mu held.
func (s *Service) reloadLocked(ctx context.Context, id string, sess *session) error {
	doc, err := s.store.Load(ctx, id)
	switch {
	case errors.Is(err, models.ErrNotFound):
		doc = models.NewDocument(id)
	case err != nil:
		return fmt.Errorf("failed to load portfolio %s: %w", id, err)
	}

	sess.doc = doc
	sess.generation++
	if sess.cancel != nil {
		sess.cancel()
		sess.cancel = nil
	}

	s.logger.Debug().
		Str("portfolio", id).
		Int64("version", doc.Version).
		Uint64("generation", sess.generation).
		Msg("Portfolio loaded")
	return nil
}

// commit applies fn to a clone of the session document and saves it with
// the clone's version as the expected version. On a version conflict the
// session is reloaded and fn runs again on the fresh document. When gen is
// non-nil the first attempt fails with ErrReconciliationAbandoned if the
// session was reloaded since gen was read.
func (s *Service) commit(ctx context.Context, id string, gen *uint64, fn func(doc *models.Document) error) (*models.Document, error) {
	sess, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	if gen != nil && sess.generation != *gen {
		return nil, models.ErrReconciliationAbandoned
	}

	for attempt := 1; ; attempt++ {
		work := sess.doc.Clone()
		if err := fn(work); err != nil {
			return nil, err
		}

		err := s.store.Save(ctx, work)
		if err == nil {
			sess.doc = work
			return work.Clone(), nil
		}
		if !errors.Is(err, models.ErrVersionConflict) || attempt >= maxSaveAttempts {
			return nil, fmt.Errorf("failed to save portfolio %s: %w", id, err)
		}

		s.logger.Warn().
			Str("portfolio", id).
			Int("attempt", attempt).
			Msg("Version conflict on save; reloading and retrying")
		if err := s.reloadLocked(ctx, id, sess); err != nil {
			return nil, err
		}
	}
}

// Watch follows store changes for id, reloading the session whenever
// another writer saved a newer version. It returns when ctx is done or the
// subscription ends.
func (s *Service) Watch(ctx context.Context, id string) error {
	events, err := s.store.Subscribe(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", id, err)
	}

	for ev := range events {
		sess := s.entry(id)
		sess.mu.Lock()
		if sess.doc == nil || ev.Version > sess.doc.Version {
			if err := s.reloadLocked(ctx, id, sess); err != nil {
				s.logger.Warn().Err(err).Str("portfolio", id).Msg("Reload after external change failed")
			} else {
				s.logger.Info().
					Str("portfolio", id).
					Int64("version", ev.Version).
					Msg("Portfolio changed externally; reloaded")
			}
		}
		sess.mu.Unlock()
	}
	return ctx.Err()
}
