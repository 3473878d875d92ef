package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/folio/internal/models"
)

// QuoteClient fetches prices from one market data provider.
type QuoteClient interface {
	// Name identifies the provider in quotes and logs.
	Name() string

	// GetQuote retrieves the latest price and previous close.
	GetQuote(ctx context.Context, ticker string, market models.Market) (*models.Quote, error)

	// GetHistory retrieves daily closes between from and to inclusive, oldest
	// first.
	GetHistory(ctx context.Context, ticker string, market models.Market, from, to time.Time) ([]models.Bar, error)
}
