// Package app initializes and holds the long-lived services of the intake
// process, acting as the dependency injection container for the CLI
// commands.
package app

import (
	"context"
	"fmt"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/jurisia/intake/internal/api"
	gcsblob "github.com/jurisia/intake/internal/blob/gcs"
	localblob "github.com/jurisia/intake/internal/blob/local"
	memblob "github.com/jurisia/intake/internal/blob/memory"
	"github.com/jurisia/intake/internal/calendar"
	"github.com/jurisia/intake/internal/clock/system"
	"github.com/jurisia/intake/internal/config"
	"github.com/jurisia/intake/internal/dedup"
	"github.com/jurisia/intake/internal/extract"
	"github.com/jurisia/intake/internal/hash/sha256"
	"github.com/jurisia/intake/internal/health"
	"github.com/jurisia/intake/internal/id/uuid"
	"github.com/jurisia/intake/internal/normalize"
	memnotify "github.com/jurisia/intake/internal/notify/memory"
	pubsubnotify "github.com/jurisia/intake/internal/notify/pubsub"
	"github.com/jurisia/intake/internal/ocr"
	"github.com/jurisia/intake/internal/pipeline"
	"github.com/jurisia/intake/internal/process"
	"github.com/jurisia/intake/internal/scheduler"
	diariosource "github.com/jurisia/intake/internal/source/diario"
	headlesssource "github.com/jurisia/intake/internal/source/headless"
	restsource "github.com/jurisia/intake/internal/source/rest"
	memstore "github.com/jurisia/intake/internal/store/memory"
	pgstore "github.com/jurisia/intake/internal/store/postgres"
	"github.com/jurisia/intake/internal/taskboard"
	"github.com/jurisia/intake/internal/worker"
	"github.com/jurisia/intake/internal/workitem"
)

// App holds the wired services. It is built once at startup and closed on
// shutdown; commands only touch Scheduler and Server.
type App struct {
	Cfg       config.Config
	Logger    *zap.Logger
	Scheduler *scheduler.Scheduler
	Server    *api.Server
	Monitor   *health.Monitor

	closers []func()
}

// NewApp wires every service from the configuration. It fails fast: a
// misconfigured or unreachable critical dependency aborts startup.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{Cfg: cfg, Logger: logger}

	pubs, runs, dedupStore, err := a.buildStores(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	blobs, err := a.buildBlobStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	notifier, err := a.buildNotifier(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	clock := system.New()
	ids := uuid.New()
	monitor := health.New(health.Config{DegradedAfter: cfg.Scheduler.DegradedAfter}, notifier, clock, logger)
	a.Monitor = monitor

	var ocrClient pipeline.OCRClient
	if cfg.OCR.URL != "" {
		ocrClient = ocr.New(ocr.Config{
			URL:     cfg.OCR.URL,
			Timeout: time.Duration(cfg.OCR.TimeoutSeconds) * time.Second,
		})
	}

	var registry pipeline.ProcessRegistry
	if cfg.Processes.URL != "" {
		registry = process.New(process.Config{
			URL:     cfg.Processes.URL,
			Timeout: time.Duration(cfg.Processes.TimeoutSeconds) * time.Second,
		})
	} else {
		logger.Warn("no process registry configured, every publication will triage as unknown_process")
		registry = process.NewMemoryRegistry(nil)
	}

	var board pipeline.TaskBoard
	if cfg.TaskBoard.URL != "" {
		board = taskboard.New(taskboard.Config{
			URL:     cfg.TaskBoard.URL,
			Timeout: time.Duration(cfg.TaskBoard.TimeoutSeconds) * time.Second,
		})
	} else {
		logger.Warn("no task board configured, using in-memory board")
		board = taskboard.NewMemoryBoard()
	}

	generator := workitem.New(board, pubs, workitem.Config{
		MaxAttempts:    cfg.TaskBoard.MaxAttempts,
		BackoffInitial: time.Duration(cfg.TaskBoard.BackoffInitialMs) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.TaskBoard.BackoffMaxMs) * time.Millisecond,
	}, logger)

	processor := worker.New(
		pubs,
		normalize.New(ocrClient, normalize.Config{
			MinTextLength:    cfg.Pipeline.MinTextLength,
			MinOCRConfidence: cfg.OCR.MinConfidence,
		}, logger),
		registry,
		extract.New(extract.DefaultRules()),
		calendar.New(calendar.Config{Dir: cfg.Calendar.Dir, WeekendDays: cfg.Calendar.WeekendDays}, logger),
		generator,
		notifier,
		clock,
		worker.Config{
			ConfidenceThreshold: cfg.Pipeline.ConfidenceThreshold,
			TriageLinkBase:      cfg.Pipeline.BaseLink,
		},
		logger,
	)

	ingestor := scheduler.NewIngestor(dedupStore, pubs, blobs, sha256.New(), ids, clock, cfg.Storage.Prefix, logger)
	sched := scheduler.New(scheduler.Config{
		Tick:         time.Duration(cfg.Scheduler.TickSeconds) * time.Second,
		Workers:      cfg.Pipeline.Workers,
		QueueSize:    cfg.Pipeline.QueueDepth,
		FetchTimeout: cfg.FetchTimeout(),
		RequeueAfter: cfg.RequeueAfter(),
	}, ingestor, runs, monitor, processor, clock, ids, logger)
	a.Scheduler = sched

	if err := a.registerSources(sched); err != nil {
		a.Close()
		return nil, err
	}

	a.Server = api.NewServer(sched, monitor, runs, pubs, logger)
	return a, nil
}

func (a *App) buildStores(ctx context.Context) (pipeline.PublicationStore, pipeline.RunStore, pipeline.DedupStore, error) {
	if a.Cfg.DB.DSN == "" {
		a.Logger.Warn("no database configured, state is in-memory and lost on restart")
		return memstore.NewPublicationStore(), memstore.NewRunStore(), dedup.NewMemoryStore(), nil
	}

	pgCfg := pgstore.Config{DSN: a.Cfg.DB.DSN, MaxConns: a.Cfg.DB.MaxConns, MinConns: a.Cfg.DB.MinConns}
	pubs, err := pgstore.NewPublicationStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init publication store: %w", err)
	}
	a.closers = append(a.closers, pubs.Close)

	runs, err := pgstore.NewRunStore(ctx, pgCfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init run store: %w", err)
	}
	a.closers = append(a.closers, runs.Close)

	dedupStore, err := dedup.NewPostgresStore(ctx, dedup.PostgresConfig{DSN: a.Cfg.DB.DSN})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init dedup store: %w", err)
	}
	a.closers = append(a.closers, dedupStore.Close)
	return pubs, runs, dedupStore, nil
}

func (a *App) buildBlobStore(ctx context.Context) (pipeline.BlobStore, error) {
	switch a.Cfg.Storage.Provider {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store, err := gcsblob.New(client, gcsblob.Config{Bucket: a.Cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs blob store: %w", err)
		}
		return store, nil
	case "local":
		store, err := localblob.New(localblob.Config{BaseDir: a.Cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local blob store: %w", err)
		}
		return store, nil
	case "", "memory":
		a.Logger.Warn("no blob storage configured, attachments are kept in-memory")
		return memblob.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider: %s", a.Cfg.Storage.Provider)
	}
}

func (a *App) buildNotifier(ctx context.Context) (pipeline.Notifier, error) {
	if a.Cfg.Notify.ProjectID == "" || a.Cfg.Notify.Topic == "" {
		a.Logger.Warn("no notification topic configured, notifications are kept in-memory")
		return memnotify.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, a.Cfg.Notify.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	topic := client.Topic(a.Cfg.Notify.Topic)
	a.closers = append(a.closers, topic.Stop)
	return pubsubnotify.New(topic), nil
}

func (a *App) registerSources(sched *scheduler.Scheduler) error {
	var browser *headlesssource.Browser
	for _, src := range a.Cfg.Sources {
		var (
			adapter pipeline.SourceAdapter
			err     error
		)
		switch src.Kind {
		case config.SourceKindDiario:
			adapter, err = diariosource.New(src, a.Logger)
		case config.SourceKindREST:
			adapter, err = restsource.New(src, a.Logger)
		case config.SourceKindHeadless:
			if browser == nil {
				browser, err = headlesssource.NewBrowser(src.UserAgent, 2)
				if err != nil {
					return fmt.Errorf("start headless browser: %w", err)
				}
				a.closers = append(a.closers, browser.Close)
			}
			adapter, err = headlesssource.New(src, browser, a.Logger)
		default:
			err = fmt.Errorf("unknown source kind %q", src.Kind)
		}
		if err != nil {
			return fmt.Errorf("build source %s: %w", src.ID, err)
		}
		sched.Register(scheduler.Source{
			Adapter:  adapter,
			BaseURL:  src.URL,
			Interval: src.Interval(),
			Enabled:  src.Enabled,
		})
		a.Logger.Info("source registered",
			zap.String("source_id", src.ID),
			zap.String("kind", src.Kind),
			zap.Bool("enabled", src.Enabled),
		)
	}
	return nil
}

// Close releases every long-lived resource in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
