// Package storage selects the document store backend.
package storage

import (
	"context"
	"fmt"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/storage/file"
	"github.com/bobmcallan/folio/internal/storage/memory"
	"github.com/bobmcallan/folio/internal/storage/sqlite"
	"github.com/bobmcallan/folio/internal/storage/surrealdb"
)

// Backend type constants.
const (
	BackendMemory    = "memory"
	BackendFile      = "file"
	BackendSurrealDB = "surrealdb"
	BackendSQLite    = "sqlite"
)

// NewDocumentStore creates a document store based on the configuration.
// Supported backends: "memory" (default), "file", "surrealdb", "sqlite".
func NewDocumentStore(ctx context.Context, logger *common.Logger, config *common.Config) (interfaces.DocumentStore, error) {
	backend := config.Storage.Backend
	if backend == "" {
		backend = BackendMemory
	}

	switch backend {
	case BackendMemory:
		logger.Warn().Msg("Using in-memory document store; state is lost on restart")
		return memory.NewStore(logger), nil

	case BackendFile:
		s, err := file.Open(config.Storage.Path, config.Storage.Versions, logger, config.Storage.GetPollInterval())
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendSurrealDB:
		s, err := surrealdb.Open(ctx, logger, config.Storage)
		if err != nil {
			return nil, err
		}
		return s, nil

	case BackendSQLite:
		s, err := sqlite.Open(config.Storage.Path, logger, config.Storage.GetPollInterval())
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (supported: memory, file, surrealdb, sqlite)", backend)
	}
}
