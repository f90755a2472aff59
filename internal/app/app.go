// Package app is the composition root: it turns a config.Config into the
// long-lived services of one harvester run and drives that run end to end.
package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/timeline-harvester/internal/api"
	"github.com/JakeFAU/timeline-harvester/internal/config"
	"github.com/JakeFAU/timeline-harvester/internal/crawler"
	"github.com/JakeFAU/timeline-harvester/internal/cursorlog"
	"github.com/JakeFAU/timeline-harvester/internal/extract"
	"github.com/JakeFAU/timeline-harvester/internal/hash/sha256"
	collyfetcher "github.com/JakeFAU/timeline-harvester/internal/fetcher/colly"
	"github.com/JakeFAU/timeline-harvester/internal/identity"
	"github.com/JakeFAU/timeline-harvester/internal/progress"
	"github.com/JakeFAU/timeline-harvester/internal/progress/sinks"
	"github.com/JakeFAU/timeline-harvester/internal/publisher"
	memorypublisher "github.com/JakeFAU/timeline-harvester/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/timeline-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/timeline-harvester/internal/record"
	"github.com/JakeFAU/timeline-harvester/internal/report"
	"github.com/JakeFAU/timeline-harvester/internal/sink"
	"github.com/JakeFAU/timeline-harvester/internal/storage"
	"github.com/JakeFAU/timeline-harvester/internal/storage/gcs"
	"github.com/JakeFAU/timeline-harvester/internal/storage/local"
)

// DefaultTopic receives run summaries when pubsub.topic_name is unset.
const DefaultTopic = "harvester-runs"

// App holds the services shared by one run.
type App struct {
	cfg          config.Config
	fields       []record.Field
	logger       *zap.Logger
	registry     *prometheus.Registry
	extractor    *extract.Extractor
	sink         *sink.CSVSink
	progress     cursorlog.Log
	progressName string
	fetcher      crawler.Fetcher
	identities   *identity.Rotator
	events       *progress.Fanout
	publisher    publisher.Publisher
	archiver     *storage.Archiver
	closers      []func() error
	closeOnce    sync.Once
}

type overrides struct {
	logger    *zap.Logger
	fetcher   crawler.Fetcher
	publisher publisher.Publisher
	blobStore storage.BlobStore
	registry  *prometheus.Registry
}

// Option replaces a service New would otherwise build from config.
type Option func(*overrides)

// WithLogger sets the logger used by every component.
func WithLogger(logger *zap.Logger) Option {
	return func(o *overrides) {
		o.logger = logger
	}
}

// WithFetcher replaces the colly fetcher.
func WithFetcher(f crawler.Fetcher) Option {
	return func(o *overrides) {
		o.fetcher = f
	}
}

// WithPublisher replaces the run summary publisher.
func WithPublisher(p publisher.Publisher) Option {
	return func(o *overrides) {
		o.publisher = p
	}
}

// WithBlobStore archives outputs to store instead of the configured backend.
func WithBlobStore(store storage.BlobStore) Option {
	return func(o *overrides) {
		o.blobStore = store
	}
}

// WithRegistry sets the Prometheus registry metrics are registered on.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *overrides) {
		o.registry = reg
	}
}

// New builds every service described by cfg. It fails fast: a service that
// cannot be built releases the ones built before it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o overrides
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fields, err := cfg.OutputFields()
	if err != nil {
		return nil, fmt.Errorf("output.fields: %w", err)
	}

	a := &App{
		cfg:      cfg,
		fields:   fields,
		logger:   o.logger,
		registry: o.registry,
	}
	if a.logger == nil {
		a.logger = zap.NewNop()
	}
	if a.registry == nil {
		a.registry = prometheus.NewRegistry()
		a.registry.MustRegister(collectors.NewGoCollector())
	}
	a.logger.Debug("initializing harvester services", zap.String("query", cfg.Crawl.Query))

	if err := a.init(ctx, o); err != nil {
		if cerr := a.Close(); cerr != nil {
			a.logger.Warn("release partially built services", zap.Error(cerr))
		}
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context, o overrides) error {
	cfg := a.cfg
	var err error

	a.extractor, err = extract.New(
		extract.WithItemSelector(cfg.Extract.ItemSelector),
		extract.WithDelimiter(cfg.DelimiterRune()),
		extract.WithLogger(a.logger.Named("extract")),
	)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}

	a.sink, err = sink.NewCSV(sink.Config{
		Path:          cfg.Output.Destination,
		Delimiter:     cfg.DelimiterRune(),
		NullToken:     cfg.Output.NullToken,
		LinkSeparator: cfg.Output.LinkSeparator,
	})
	if err != nil {
		return fmt.Errorf("init sink: %w", err)
	}
	a.closers = append(a.closers, a.sink.Close)

	a.progress, a.progressName, err = OpenProgressLog(ctx, cfg)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, a.progress.Close)

	agents := cfg.Source.UserAgents
	if cfg.Source.UserAgentsFile != "" {
		fromFile, err := identity.LoadAgents(cfg.Source.UserAgentsFile)
		if err != nil {
			return fmt.Errorf("init identities: %w", err)
		}
		agents = append(append([]string(nil), agents...), fromFile...)
	}
	a.identities = identity.NewRotator(agents, cfg.Source.Headers)

	a.fetcher = o.fetcher
	if a.fetcher == nil {
		a.fetcher, err = collyfetcher.New(collyfetcher.Config{
			BaseURL:           cfg.Source.BaseURL,
			QueryParam:        cfg.Source.QueryParam,
			CursorParam:       cfg.Source.CursorParam,
			Params:            cfg.Source.Params,
			Timeout:           cfg.SourceTimeout(),
			RequestsPerSecond: cfg.Source.RequestsPerSecond,
		}, a.logger.Named("fetcher"))
		if err != nil {
			return fmt.Errorf("init fetcher: %w", err)
		}
	}

	promSink, err := sinks.NewPrometheusSink(a.registry)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	a.events = progress.NewFanout(a.logger.Named("progress"), sinks.NewLogSink(a.logger.Named("events")), promSink)
	a.closers = append(a.closers, func() error {
		return a.events.Close(context.Background())
	})

	a.publisher = o.publisher
	if a.publisher == nil {
		a.publisher, err = newPublisher(ctx, cfg, a.logger)
		if err != nil {
			return err
		}
	}
	a.closers = append(a.closers, a.publisher.Close)

	store := o.blobStore
	if store == nil {
		store, err = a.newBlobStore(ctx)
		if err != nil {
			return err
		}
	}
	if store != nil {
		a.archiver = storage.NewArchiver(store, cfg.Storage.Prefix, a.logger.Named("archive"))
	}
	return nil
}

// OpenProgressLog opens the configured progress log for cfg.Crawl.Query and
// returns it with a human-readable location.
func OpenProgressLog(ctx context.Context, cfg config.Config) (cursorlog.Log, string, error) {
	switch cfg.Progress.Backend {
	case config.ProgressBackendPostgres:
		log, err := cursorlog.OpenPostgres(ctx, cursorlog.PostgresConfig{
			DSN:   cfg.Progress.DSN,
			Table: cfg.Progress.Table,
		}, cfg.Crawl.Query)
		if err != nil {
			return nil, "", fmt.Errorf("open progress log: %w", err)
		}
		table := cfg.Progress.Table
		if table == "" {
			table = cursorlog.DefaultTable
		}
		return log, "postgres:" + table, nil
	default:
		log, err := cursorlog.OpenFile(cfg.Progress.Dir, cfg.Crawl.Query)
		if err != nil {
			return nil, "", fmt.Errorf("open progress log: %w", err)
		}
		return log, log.Path(), nil
	}
}

func newPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (publisher.Publisher, error) {
	if cfg.PubSub.ProjectID == "" {
		logger.Debug("pubsub not configured; run summaries stay in memory")
		return memorypublisher.New(), nil
	}
	p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init publisher: %w", err)
	}
	logger.Info("publishing run summaries to pubsub",
		zap.String("project_id", cfg.PubSub.ProjectID),
		zap.String("topic", cfg.PubSub.TopicName),
	)
	return p, nil
}

func (a *App) newBlobStore(ctx context.Context) (storage.BlobStore, error) {
	switch {
	case a.cfg.Storage.GCSBucket != "":
		store, closeFn, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.closers = append(a.closers, closeFn)
		return store, nil
	case a.cfg.Storage.LocalDir != "":
		store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		return store, nil
	default:
		return nil, nil
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Registry returns the Prometheus registry holding the crawl metrics.
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// ProgressLog returns the progress log of the configured query.
func (a *App) ProgressLog() cursorlog.Log {
	return a.progress
}

// ResumeCursor returns the last logged cursor of the configured query, or an
// error wrapping cursorlog.ErrNoProgress.
func (a *App) ResumeCursor(ctx context.Context) (string, error) {
	cursor, err := crawler.ResumeCursor(ctx, a.progress)
	if err != nil {
		return "", fmt.Errorf("resume %q: %w", a.cfg.Crawl.Query, err)
	}
	return cursor, nil
}

// NewEngine builds an engine that starts at seed.
func (a *App) NewEngine(seed string) (*crawler.Engine, error) {
	engine, err := crawler.New(
		crawler.Config{
			Query:      a.cfg.Crawl.Query,
			SeedCursor: seed,
			MaxDepth:   a.cfg.Crawl.MaxDepth,
			Fields:     a.fields,
		},
		a.fetcher,
		a.extractor,
		a.sink,
		a.progress,
		crawler.WithIdentities(a.identities),
		crawler.WithRetryPolicy(crawler.NewExponentialRetryPolicy(
			a.cfg.Crawl.MaxRetries,
			a.cfg.BackoffInitial(),
			a.cfg.BackoffMax(),
		)),
		crawler.WithEmitter(a.events),
		crawler.WithLogger(a.logger.Named("crawler")),
	)
	if err != nil {
		return nil, fmt.Errorf("init engine: %w", err)
	}
	return engine, nil
}

// Run crawls from seed, then archives the outputs and publishes the run
// summary. The returned error is the engine's: archive and publish failures
// are logged and do not change the outcome.
func (a *App) Run(ctx context.Context, seed string) (report.Summary, error) {
	engine, err := a.NewEngine(seed)
	if err != nil {
		return report.Summary{}, err
	}

	stopServer := a.startStatusServer(ctx, engine)
	res, runErr := engine.Run(ctx)
	stopServer()

	summary := report.New(res, a.sink.Path(), a.progressName, runErr)

	// Finalization runs even when the crawl was canceled.
	finalCtx := context.WithoutCancel(ctx)
	if err := a.sink.Sync(); err != nil {
		a.logger.Warn("sync output", zap.Error(err))
	}
	if sum, err := sha256.File(a.sink.Path()); err == nil {
		summary.OutputSHA = sum
	} else if !errors.Is(err, fs.ErrNotExist) {
		a.logger.Warn("checksum output", zap.Error(err))
	}
	summary.Archived = a.archive(finalCtx, summary.RunID)
	a.publish(finalCtx, summary)
	return summary, runErr
}

func (a *App) startStatusServer(ctx context.Context, engine *crawler.Engine) func() {
	addr := a.cfg.Server.MetricsAddr
	if addr == "" {
		return func() {}
	}
	srv, err := api.NewServer(engine, a.registry, a.registry, a.logger.Named("api"))
	if err != nil {
		a.logger.Warn("status server disabled", zap.Error(err))
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(srvCtx, addr); err != nil {
			a.logger.Error("status server failed", zap.String("addr", addr), zap.Error(err))
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *App) archive(ctx context.Context, runID string) []string {
	if a.archiver == nil {
		return nil
	}
	files := []string{a.sink.Path()}
	if fl, ok := a.progress.(*cursorlog.FileLog); ok {
		files = append(files, fl.Path())
	}
	uris, err := a.archiver.Archive(ctx, runID, files...)
	if err != nil {
		a.logger.Warn("archive outputs", zap.String("run_id", runID), zap.Error(err))
	}
	return uris
}

func (a *App) publish(ctx context.Context, summary report.Summary) {
	topic := a.cfg.PubSub.TopicName
	if topic == "" {
		topic = DefaultTopic
	}
	id, err := a.publisher.Publish(ctx, topic, summary)
	if err != nil {
		a.logger.Warn("publish run summary", zap.String("topic", topic), zap.Error(err))
		return
	}
	a.logger.Debug("run summary published", zap.String("topic", topic), zap.String("message_id", id))
}

// Close releases every service in reverse construction order. It is safe to
// call more than once.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		if err := a.logger.Sync(); err != nil && !isIgnorableSyncError(err) {
			errs = append(errs, fmt.Errorf("sync logger: %w", err))
		}
	})
	return errors.Join(errs...)
}

// isIgnorableSyncError filters the EINVAL/ENOTTY zap reports when syncing a
// terminal or pipe.
func isIgnorableSyncError(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}
