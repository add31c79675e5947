package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/db"
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/logger"
	"benefits_fetcher/internal/models"
)

type Stage int

const (
	StageInit Stage = iota
	StageCollecting
	StageDetailFetch
	StageNormalizing
	StagePersisting
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "INIT"
	case StageCollecting:
		return "COLLECTING"
	case StageDetailFetch:
		return "DETAIL_FETCH"
	case StageNormalizing:
		return "NORMALIZING"
	case StagePersisting:
		return "PERSISTING"
	case StageDone:
		return "DONE"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// Sink stores one normalized batch.
type Sink interface {
	PersistBenefits(ctx context.Context, collection string, mode config.WriteMode, records []models.BenefitRecord) (db.PersistResult, error)
}

// Result is the outcome of one source run. Err is set only when the source
// failed as a whole; page and item failures just shrink the counts.
type Result struct {
	Source     string
	Collection string
	Stage      Stage
	Stop       fetch.StopReason
	Pages      int
	Collected  int
	Details    int
	Normalized int
	Skipped    int
	Persisted  int
	Failures   []fetch.PageFailure
	Err        error
	StartedAt  time.Time
	Duration   time.Duration
}

func (r Result) Status() string {
	if r.Err != nil {
		return "failed"
	}
	return "done"
}

type Runner struct {
	doer    fetch.Doer
	sink    Sink
	dumpDir string
	log     *logger.Logger
}

func NewRunner(doer fetch.Doer, sink Sink, dumpDir string, log *logger.Logger) *Runner {
	if log == nil {
		log = logger.Discard()
	}
	return &Runner{doer: doer, sink: sink, dumpDir: dumpDir, log: log}
}

// Run takes one source from INIT to DONE: collect, fetch details when the
// source needs them, normalize, persist.
func (r *Runner) Run(ctx context.Context, src fetch.Adapter, cfg config.SourceConfig) (res Result) {
	res = Result{Source: src.Name(), Collection: cfg.Collection, Stage: StageInit, StartedAt: time.Now()}
	log := r.log.With("source", src.Name())
	collector := fetch.NewCollector(r.doer, cfg.MaxPages, log)

	defer func() { res.Duration = time.Since(res.StartedAt) }()

	res.Stage = StageCollecting
	log.Info("collecting", "pagination", src.Pagination().Style.String())
	listing := collector.Collect(ctx, src)
	res.Stop = listing.Stop
	res.Pages = listing.Pages
	res.Collected = len(listing.Items)
	res.Failures = append(res.Failures, listing.Failures...)

	items := listing.Items
	if ds, ok := src.(fetch.DetailSource); ok {
		res.Stage = StageDetailFetch
		keys, skipped := collector.IdentityKeys(src, ds, listing.Items)
		res.Skipped += skipped
		log.Info("fetching details", "keys", len(keys))

		detailed := collector.CollectDetails(ctx, src, ds, keys)
		res.Pages += detailed.Pages
		res.Details = len(detailed.Items)
		res.Failures = append(res.Failures, detailed.Failures...)
		items = detailed.Items
	}

	res.Stage = StageNormalizing
	records := make([]models.BenefitRecord, 0, len(items))
	for _, item := range items {
		rec, err := src.Normalize(item)
		if err != nil {
			log.Warn("item skipped", "error", err)
			res.Skipped++
			continue
		}
		records = append(records, rec)
	}
	res.Normalized = len(records)

	if r.dumpDir != "" {
		if err := dumpRecords(r.dumpDir, src.Name(), records); err != nil {
			log.Warn("dump failed", "dir", r.dumpDir, "error", err)
		}
	}

	// what was collected before an interrupt is still stored
	res.Stage = StagePersisting
	written, err := r.sink.PersistBenefits(context.WithoutCancel(ctx), cfg.Collection, cfg.WriteMode, records)
	res.Persisted = written.Written()
	if err != nil {
		res.Err = fmt.Errorf("persist %s: %w", src.Name(), err)
		log.Error("persist failed", "collection", cfg.Collection, "error", err)
		return res
	}

	res.Stage = StageDone
	log.Info("source done",
		"stop", string(res.Stop),
		"collected", res.Collected,
		"normalized", res.Normalized,
		"skipped", res.Skipped,
		"persisted", res.Persisted,
		"page_failures", len(res.Failures),
	)
	return res
}

func dumpRecords(dir, source string, records []models.BenefitRecord) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, strings.ToLower(source)+".json")
	return os.WriteFile(path, data, 0o644)
}
