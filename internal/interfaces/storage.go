// Package interfaces defines service contracts for Folio
package interfaces

import (
	"context"

	"github.com/bobmcallan/folio/internal/models"
)

// DocumentStore persists whole portfolio documents.
type DocumentStore interface {
	// Load returns the stored document, or models.ErrNotFound.
	Load(ctx context.Context, id string) (*models.Document, error)

	// Save writes doc if the stored version still equals doc.Version (0 for
	// a document that does not exist yet). On success doc.Version is
	// incremented and doc.LastUpdated set. A stale version returns
	// models.ErrVersionConflict and nothing is written.
	Save(ctx context.Context, doc *models.Document) error

	// List returns the stored document IDs.
	List(ctx context.Context) ([]string, error)

	// Subscribe delivers an event whenever the stored version of id changes,
	// including changes made by other processes. The channel closes when ctx
	// is done or the store is closed.
	Subscribe(ctx context.Context, id string) (<-chan ChangeEvent, error)

	// Backend names the storage backend (memory, surrealdb, sqlite).
	Backend() string

	Close() error
}

// ChangeEvent reports a new stored version of a document.
type ChangeEvent struct {
	DocumentID string
	Version    int64
}
