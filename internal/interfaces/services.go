package interfaces

import (
	"context"
	"time"

	"github.com/bobmcallan/folio/internal/models"
)

// QuoteService resolves quotes across providers.
type QuoteService interface {
	// GetQuote returns a quote from the first provider that answers.
	GetQuote(ctx context.Context, ticker string, market models.Market) (*models.Quote, error)

	// GetHistory returns daily closes from the first provider that answers.
	GetHistory(ctx context.Context, ticker string, market models.Market, from, to time.Time) ([]models.Bar, error)

	// Refresh fetches quotes for tickers. Failures are reported per ticker;
	// the returned map holds only successful quotes.
	Refresh(ctx context.Context, tickers []string, market models.Market) (map[string]*models.Quote, models.RefreshReport)
}
