package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bobmcallan/folio/internal/clients/eodhd"
	"github.com/bobmcallan/folio/internal/clients/yahoo"
	"github.com/bobmcallan/folio/internal/common"
	"github.com/bobmcallan/folio/internal/interfaces"
	"github.com/bobmcallan/folio/internal/models"
	"github.com/bobmcallan/folio/internal/services/calendar"
	"github.com/bobmcallan/folio/internal/services/portfolio"
	"github.com/bobmcallan/folio/internal/services/quote"
	"github.com/bobmcallan/folio/internal/storage"
)

// App holds the initialized store, clients and services.
// It is the shared core used by cmd/folio-server and cmd/folio-cron.
type App struct {
	Config       *common.Config
	Logger       *common.Logger
	Store        interfaces.DocumentStore
	Calendar     *calendar.Calendar
	QuoteService interfaces.QuoteService
	Portfolios   *portfolio.Service
	Market       models.Market
	StartupTime  time.Time

	schedulerCancel context.CancelFunc
	watchCancel     context.CancelFunc
	wg              sync.WaitGroup
}

// getBinaryDir returns the directory containing the executable.
func getBinaryDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolveConfigPath returns configPath, FOLIO_CONFIG, folio.toml next to the
// binary, or config/folio.toml, whichever is found first.
func ResolveConfigPath(configPath string) string {
	if configPath == "" {
		configPath = os.Getenv("FOLIO_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join(getBinaryDir(), "folio.toml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = "config/folio.toml" // fallback for development
		}
	}
	return configPath
}

// NewApp loads configuration and initializes everything.
// configPath may be empty, in which case ResolveConfigPath decides.
func NewApp(ctx context.Context, configPath string) (*App, error) {
	common.LoadVersionFromFile()

	config, err := common.LoadConfig(ResolveConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	binDir := getBinaryDir()
	onDisk := config.Storage.Backend == storage.BackendSQLite || config.Storage.Backend == storage.BackendFile
	if onDisk && config.Storage.Path != "" && !filepath.IsAbs(config.Storage.Path) {
		config.Storage.Path = filepath.Join(binDir, config.Storage.Path)
	}
	if config.Logging.FilePath != "" && !filepath.IsAbs(config.Logging.FilePath) {
		config.Logging.FilePath = filepath.Join(binDir, config.Logging.FilePath)
	}

	logger := common.NewLoggerFromConfig(config.Logging)
	return New(ctx, config, logger)
}

// New initializes the store, quote clients and services from config.
func New(ctx context.Context, config *common.Config, logger *common.Logger) (*App, error) {
	startupStart := time.Now()

	if missing := config.ValidateRequired(); len(missing) > 0 && config.IsProduction() {
		return nil, fmt.Errorf("missing required configuration: %v", missing)
	}

	market, ok := models.ParseMarket(config.Scheduler.Market)
	if !ok {
		return nil, fmt.Errorf("unknown scheduler market %q", config.Scheduler.Market)
	}

	cal := calendar.New()
	if path := config.Calendar.HolidaysFile; path != "" {
		if err := cal.LoadFile(path); err != nil {
			return nil, fmt.Errorf("failed to load holidays: %w", err)
		}
		logger.Info().Str("path", path).Msg("Holiday overrides loaded")
	}

	store, err := storage.NewDocumentStore(ctx, logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	quotes := newQuoteService(config, logger)

	a := &App{
		Config:       config,
		Logger:       logger,
		Store:        store,
		Calendar:     cal,
		QuoteService: quotes,
		Portfolios:   portfolio.NewService(store, quotes, cal, market, logger),
		Market:       market,
		StartupTime:  startupStart,
	}

	logger.Info().
		Str("storage", store.Backend()).
		Str("market", string(market)).
		Dur("startup", time.Since(startupStart)).
		Msg("App initialized")
	return a, nil
}

// newQuoteService builds the Yahoo primary client and, when an API key is
// configured, the EODHD fallback.
func newQuoteService(config *common.Config, logger *common.Logger) *quote.Service {
	primary := yahoo.NewClient(
		yahoo.WithBaseURL(config.Clients.Yahoo.BaseURL),
		yahoo.WithLogger(logger),
		yahoo.WithRateLimit(config.Clients.Yahoo.RateLimit),
		yahoo.WithTimeout(config.Clients.Yahoo.GetTimeout()),
	)

	var fallback interfaces.QuoteClient
	if key := config.Clients.EODHD.APIKey; key != "" {
		fallback = eodhd.NewClient(key,
			eodhd.WithBaseURL(config.Clients.EODHD.BaseURL),
			eodhd.WithLogger(logger),
			eodhd.WithRateLimit(config.Clients.EODHD.RateLimit),
			eodhd.WithTimeout(config.Clients.EODHD.GetTimeout()),
		)
	} else {
		logger.Warn().Msg("EODHD API key not configured - quotes have no fallback source")
	}

	return quote.NewService(primary, fallback, logger)
}

// StartWatchers follows store changes for every configured portfolio so that
// writes by the cron job reload the loaded sessions.
func (a *App) StartWatchers() {
	ctx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	for _, id := range a.Config.Portfolios {
		a.wg.Add(1)
		go func(id string) {
			defer a.wg.Done()
			if err := a.Portfolios.Watch(ctx, id); err != nil && ctx.Err() == nil {
				a.Logger.Warn().Err(err).Str("portfolio", id).Msg("Portfolio watch ended")
			}
		}(id)
	}
}

// StartScheduler launches the background refresh and reconcile loop.
func (a *App) StartScheduler() {
	if !a.Config.Scheduler.Enabled {
		a.Logger.Info().Msg("Scheduler disabled")
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.schedulerCancel = cancel
	s := newScheduler(a.Portfolios, a.Config.Portfolios, a.Market, a.Calendar, a.Logger)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		s.run(ctx, a.Config.Scheduler.GetRefreshInterval())
	}()
}

// Close releases all resources held by the App.
// Shutdown order: cancel scheduler, cancel watchers, close storage.
func (a *App) Close() {
	if a.schedulerCancel != nil {
		a.schedulerCancel()
		a.schedulerCancel = nil
	}
	if a.watchCancel != nil {
		a.watchCancel()
		a.watchCancel = nil
	}
	a.wg.Wait()
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
		a.Store = nil
	}
}
