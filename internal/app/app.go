package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gleaner/internal/common"
	"github.com/ternarybob/gleaner/internal/interfaces"
	"github.com/ternarybob/gleaner/internal/queue"
	"github.com/ternarybob/gleaner/internal/services/cache"
	"github.com/ternarybob/gleaner/internal/services/crawler"
	"github.com/ternarybob/gleaner/internal/services/dedup"
	"github.com/ternarybob/gleaner/internal/services/discovery"
	"github.com/ternarybob/gleaner/internal/services/events"
	"github.com/ternarybob/gleaner/internal/services/extraction"
	"github.com/ternarybob/gleaner/internal/services/llm"
	"github.com/ternarybob/gleaner/internal/services/scheduler"
	"github.com/ternarybob/gleaner/internal/services/search"
	"github.com/ternarybob/gleaner/internal/services/summary"
	"github.com/ternarybob/gleaner/internal/services/validation"
	"github.com/ternarybob/gleaner/internal/storage"
)

// Schedule names registered with the scheduler
const (
	ScheduleDiscovery  = "discovery"
	ScheduleCleanup    = "dedup_cleanup"
	ScheduleStaleSweep = "stale_sweep"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager
	EventService   interfaces.EventService

	// AI backends
	AIService      *llm.Router
	SearchProvider interfaces.SearchProvider

	// Pipeline stages
	SummaryService    *summary.Service
	CacheService      *cache.Service
	CrawlerService    *crawler.Service
	ExtractionService *extraction.Service
	DedupService      *dedup.Service
	DiscoveryService  *discovery.Service

	// Job execution
	Orchestrator     *queue.Orchestrator
	WorkerPool       *queue.WorkerPool
	SchedulerService *scheduler.Service

	renderer          *crawler.ChromeRenderer
	aiOverride        interfaces.AIService
	ingestorOverride  interfaces.Ingestor
	validatorOverride *validation.URLValidator
}

// Option overrides a component, used by tests and offline runs
type Option func(*App)

// WithAIService replaces the configured AI backends
func WithAIService(ai interfaces.AIService) Option {
	return func(a *App) { a.aiOverride = ai }
}

// WithSearchProvider replaces the configured search backend
func WithSearchProvider(provider interfaces.SearchProvider) Option {
	return func(a *App) { a.SearchProvider = provider }
}

// WithIngestor replaces the direct HTTP ingestor of the crawler
func WithIngestor(ingestor interfaces.Ingestor) Option {
	return func(a *App) { a.ingestorOverride = ingestor }
}

// WithURLValidator replaces the SSRF validator of crawler and discovery
func WithURLValidator(validator *validation.URLValidator) Option {
	return func(a *App) { a.validatorOverride = validator }
}

// New wires every component. Nothing runs until Start.
func New(cfg *common.Config, logger arbor.ILogger, opts ...Option) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	app.EventService = events.NewService(app.Logger)
	if err := events.SubscribeLoggerToAllFacts(app.EventService, app.Logger); err != nil {
		return nil, fmt.Errorf("failed to subscribe fact logger: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("model", app.ai().ModelID()).
		Int("workers", cfg.Queue.Concurrency).
		Msg("Application initialization complete")

	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return err
	}
	a.StorageManager = storageManager

	a.Logger.Info().Str("path", a.Config.Storage.Badger.Path).Msg("Storage initialized")
	return nil
}

func (a *App) initServices() error {
	cfg := a.Config

	// 1. AI backends
	if a.aiOverride == nil {
		router, err := llm.NewAIService(cfg, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize AI service: %w", err)
		}
		a.AIService = router
	}
	if a.SearchProvider == nil {
		var gemini *llm.GeminiService
		if a.AIService != nil {
			gemini = a.AIService.Gemini()
		}
		a.SearchProvider = search.NewSearchProvider(gemini, cfg.Search, a.Logger)
	}
	ai := a.ai()

	// 2. Summarizer and content cache share the prompt hash
	pages := a.StorageManager.PageStorage()
	a.SummaryService = summary.NewService(cfg.Summary, pages, ai, a.EventService, a.Logger)
	a.CacheService = cache.NewService(cfg.Cache, pages, a.EventService, a.SummaryService.PromptHash(), a.Logger)

	// 3. Crawler, with headless Chrome for rendered and social pages
	validator := a.validatorOverride
	if validator == nil {
		validator = validation.NewURLValidator(cfg.Crawler.AllowPrivateNetworks)
	}
	crawlerOpts := []crawler.Option{crawler.WithValidator(validator)}
	if cfg.Crawler.EnableJavaScript || cfg.Social.Enabled {
		timeout := common.ParseDurationOr(cfg.Crawler.RequestTimeout, 30*time.Second)
		a.renderer = crawler.NewChromeRenderer(cfg.Crawler.UserAgent, timeout, a.Logger)
		crawlerOpts = append(crawlerOpts, crawler.WithRenderer(a.renderer))
	}
	if a.ingestorOverride != nil {
		crawlerOpts = append(crawlerOpts, crawler.WithIngestor(a.ingestorOverride))
	}
	a.CrawlerService = crawler.NewService(cfg, a.StorageManager.SourceStorage(), a.CacheService, a.SummaryService, a.Logger, crawlerOpts...)

	// 4. Extraction; the fetch_page tool goes through the crawler's guarded ingestors
	a.ExtractionService = extraction.NewService(
		cfg.Extraction,
		pages,
		ai,
		a.SearchProvider,
		a.CrawlerService.NewRunIngestor,
		a.EventService,
		a.Logger,
	)

	// 5. Dedup and sync
	a.DedupService = dedup.NewService(
		cfg.Dedup,
		a.StorageManager.PostStorage(),
		a.StorageManager.ProposalStorage(),
		ai,
		a.EventService,
		a.Logger,
	)

	// 6. Job orchestrator
	a.Orchestrator = queue.NewOrchestrator(queue.NewConfig(cfg.Queue), a.StorageManager.JobStorage(), a.EventService, a.Logger)
	queue.RegisterStages(a.Orchestrator, a.CrawlerService, a.ExtractionService, a.DedupService)

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "gleaner"
	}
	a.WorkerPool = queue.NewWorkerPool(a.Orchestrator, fmt.Sprintf("%s-%d", hostname, os.Getpid()), a.Logger)

	// 7. Discovery
	a.DiscoveryService = discovery.NewService(
		cfg.Discovery,
		cfg.Social.Enabled,
		a.SearchProvider,
		validator,
		a.StorageManager.SourceStorage(),
		a.Orchestrator,
		a.EventService,
		a.Logger,
	)

	// 8. Scheduler
	a.SchedulerService = scheduler.NewService(a.Logger)
	return a.registerSchedules()
}

func (a *App) registerSchedules() error {
	schedules := a.Config.Schedules

	if err := a.SchedulerService.RegisterJob(ScheduleDiscovery, schedules.Discovery, "Search configured queries for new sources",
		func(ctx context.Context) error {
			_, err := a.DiscoveryService.RunDiscovery(ctx)
			return err
		}); err != nil {
		return err
	}

	if err := a.SchedulerService.RegisterJob(ScheduleCleanup, schedules.Cleanup, "Propose merges for duplicate canonical posts",
		func(ctx context.Context) error {
			_, err := a.DedupService.Cleanup(ctx)
			return err
		}); err != nil {
		return err
	}

	return a.SchedulerService.RegisterJob(ScheduleStaleSweep, schedules.StaleSweep, "Reclaim jobs whose worker stopped heartbeating",
		func(ctx context.Context) error {
			_, err := a.Orchestrator.SweepStale(ctx)
			return err
		})
}

func (a *App) ai() interfaces.AIService {
	if a.aiOverride != nil {
		return a.aiOverride
	}
	return a.AIService
}

// Start reclaims jobs abandoned by a previous process, then starts the
// workers and the scheduler
func (a *App) Start(ctx context.Context) error {
	if n, err := a.Orchestrator.SweepStale(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("Startup stale sweep failed")
	} else if n > 0 {
		a.Logger.Info().Int("count", n).Msg("Reclaimed jobs left running by a previous process")
	}

	if err := a.WorkerPool.Start(ctx); err != nil {
		return fmt.Errorf("failed to start worker pool: %w", err)
	}
	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	return nil
}

// Close stops background work and releases storage
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.WorkerPool != nil {
		if err := a.WorkerPool.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop worker pool")
		}
	}

	if a.renderer != nil {
		a.renderer.Close()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
