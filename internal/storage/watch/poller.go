// Package watch turns a version lookup into a change subscription for
// backends that cannot push notifications.
package watch

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
)

// VersionFunc returns the stored version of a document, or
// models.ErrNotFound when it does not exist yet.
type VersionFunc func(ctx context.Context, id string) (int64, error)

// Poll emits a ChangeEvent every time the version returned by fn differs
// from the last one seen. The first lookup establishes the baseline and is
// not reported. The channel closes when ctx or done is closed.
func Poll(ctx context.Context, done <-chan struct{}, id string, interval time.Duration, fn VersionFunc, logger *common.Logger) <-chan interfaces.ChangeEvent {
	out := make(chan interfaces.ChangeEvent, 1)

	go func() {
		defer close(out)

		last, err := fn(ctx, id)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			logger.Warn().Err(err).Str("document", id).Msg("Initial version lookup failed")
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
			}

			v, err := fn(ctx, id)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) && ctx.Err() == nil {
					logger.Warn().Err(err).Str("document", id).Msg("Version poll failed")
				}
				continue
			}
			if v == last {
				continue
			}
			last = v

			select {
			case out <- interfaces.ChangeEvent{DocumentID: id, Version: v}:
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return out
}
