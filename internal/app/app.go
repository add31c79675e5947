package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/db"
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/logger"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/sources"
	"benefits_fetcher/internal/stats"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the part of the database the fetch run needs.
type Store interface {
	Sink
	EnsureIndexes(ctx context.Context, collection string, mode config.WriteMode) error
	SaveRunHistory(ctx context.Context, history *models.RunHistory) error
}

type FetcherApp struct {
	config *config.FetcherConfig
	store  Store
	runner *Runner
	stats  stats.Recorder
	log    *logger.Logger
	closer func() error
}

// NewFetcherApp validates cfg and opens the store. Both failures are fatal:
// no source runs without a database to write to.
func NewFetcherApp(cfg *config.FetcherConfig, log *logger.Logger) (*FetcherApp, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	mongoDB, err := db.NewMongoDB(cfg.DB, log)
	if err != nil {
		return nil, err
	}

	recorder, closeStats := newRecorder(cfg.Stats)

	a := newFetcherApp(cfg, mongoDB, NewRequester(cfg.Logic, log), recorder, log)
	a.closer = func() error {
		if err := closeStats(); err != nil {
			log.Warn("stats close failed", "error", err)
		}
		return mongoDB.Close()
	}
	return a, nil
}

func newFetcherApp(cfg *config.FetcherConfig, store Store, doer fetch.Doer, recorder stats.Recorder, log *logger.Logger) *FetcherApp {
	if log == nil {
		log = logger.Discard()
	}
	if recorder == nil {
		recorder = stats.NewMemoryRecorder()
	}
	return &FetcherApp{
		config: cfg,
		store:  store,
		runner: NewRunner(doer, store, cfg.Logic.DumpDir, log),
		stats:  recorder,
		log:    log,
		closer: func() error { return nil },
	}
}

// NewRequester builds the shared requester from the logic section.
func NewRequester(logic config.LogicConfig, log *logger.Logger) *fetch.Requester {
	return fetch.NewRequester(
		fetch.WithMaxRetries(logic.Retries()),
		fetch.WithRetryDelay(time.Duration(logic.RetryDelayMS)*time.Millisecond),
		fetch.WithTimeout(time.Duration(logic.TimeoutSec)*time.Second),
		fetch.WithMinInterval(time.Duration(logic.MinIntervalMS)*time.Millisecond),
		fetch.WithUserAgent(logic.UserAgent),
		fetch.WithLogger(log),
	)
}

func newRecorder(cfg config.StatsConfig) (stats.Recorder, func() error) {
	if cfg.RedisAddr == "" {
		return stats.NewMemoryRecorder(), func() error { return nil }
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	rec := stats.NewRedisRecorder(rdb,
		stats.WithPrefix(cfg.Prefix),
		stats.WithTTL(time.Duration(cfg.TTLHours)*time.Hour),
	)
	return rec, rec.Close
}

// Resolve maps the requested names to source keys. No names means every
// enabled source.
func (a *FetcherApp) Resolve(names []string) ([]string, error) {
	if len(names) == 0 {
		var keys []string
		for _, key := range a.config.SourceNames() {
			if !a.config.Sources[key].Disabled {
				keys = append(keys, key)
			}
		}
		return keys, nil
	}

	keys := make([]string, 0, len(names))
	for _, name := range names {
		found := ""
		for _, key := range a.config.SourceNames() {
			if a.config.Sources[key].Matches(key, name) {
				found = key
				break
			}
		}
		if found == "" {
			return nil, fmt.Errorf("%w %q", config.ErrUnknownSource, name)
		}
		keys = append(keys, found)
	}
	return keys, nil
}

// Run fetches the named sources one after another. A failing source is
// reported in its Result and does not stop the others.
func (a *FetcherApp) Run(ctx context.Context, names []string) ([]Result, error) {
	keys, err := a.Resolve(names)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	a.log.Info("starting run", "run_id", runID, "database", a.config.DB.Database, "sources", strings.Join(keys, ","))

	results := make([]Result, 0, len(keys))
	for _, key := range keys {
		if ctx.Err() != nil {
			a.log.Warn("run interrupted, remaining sources skipped", "next", key)
			break
		}
		res := a.runSource(ctx, a.config.Sources[key])
		a.record(context.WithoutCancel(ctx), runID, res)
		results = append(results, res)
	}
	return results, nil
}

func (a *FetcherApp) runSource(ctx context.Context, cfg config.SourceConfig) Result {
	src, err := sources.New(cfg)
	if err != nil {
		return Result{Source: cfg.Name, Collection: cfg.Collection, Err: err, StartedAt: time.Now()}
	}

	if err := a.store.EnsureIndexes(ctx, cfg.Collection, cfg.WriteMode); err != nil {
		a.log.Warn("index setup failed", "source", cfg.Name, "error", err)
	}

	return a.runner.Run(ctx, src, cfg)
}

func (a *FetcherApp) record(ctx context.Context, runID string, res Result) {
	history := &models.RunHistory{
		ID:           uuid.NewString(),
		RunID:        runID,
		Source:       res.Source,
		Collection:   res.Collection,
		Status:       res.Status(),
		Stop:         string(res.Stop),
		Pages:        res.Pages,
		Collected:    res.Collected,
		Details:      res.Details,
		Normalized:   res.Normalized,
		Skipped:      res.Skipped,
		Persisted:    res.Persisted,
		PageFailures: len(res.Failures),
		StartedAt:    res.StartedAt.UTC(),
		Duration:     res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		history.ErrorMessage = res.Err.Error()
	}

	if err := a.store.SaveRunHistory(ctx, history); err != nil {
		a.log.Warn("run history not saved", "source", res.Source, "error", err)
	}

	ev := stats.RunEvent{
		Source:       res.Source,
		Status:       res.Status(),
		Collected:    res.Collected,
		Normalized:   res.Normalized,
		Skipped:      res.Skipped,
		Persisted:    res.Persisted,
		PageFailures: len(res.Failures),
		At:           res.StartedAt,
	}
	if err := a.stats.Record(ctx, ev); err != nil {
		a.log.Warn("stats not recorded", "source", res.Source, "error", err)
	}
}

func (a *FetcherApp) Close() error {
	return a.closer()
}
