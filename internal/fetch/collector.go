package fetch

import (
	"context"
	"fmt"

	"benefits_fetcher/internal/keyqueue"
	"benefits_fetcher/internal/logger"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

// Doer performs one logical request, retries included.
type Doer interface {
	Do(ctx context.Context, spec RequestSpec) ([]byte, error)
}

type StopReason string

const (
	StopTerminal   StopReason = "terminal"
	StopError      StopReason = "page_error"
	StopMaxPages   StopReason = "max_pages"
	StopCategories StopReason = "categories_done"
	StopKeys       StopReason = "keys_done"
)

// PageFailure is a recoverable failure of one request. It shrinks the result
// set but never aborts the run.
type PageFailure struct {
	Cursor Cursor
	Err    error
}

func (f PageFailure) Error() string {
	return fmt.Sprintf("%s: %v", f.Cursor, f.Err)
}

func (f PageFailure) Unwrap() error { return f.Err }

type Collection struct {
	Items    []models.RawItem
	Pages    int
	Failures []PageFailure
	Stop     StopReason
}

type collectState int

const (
	stateFetching collectState = iota
	stateDone
)

type Collector struct {
	doer     Doer
	maxPages int
	log      *logger.Logger
}

// NewCollector returns a collector issuing requests through doer. maxPages
// bounds every loop; zero means unbounded.
func NewCollector(doer Doer, maxPages int, log *logger.Logger) *Collector {
	if log == nil {
		log = logger.Discard()
	}
	return &Collector{doer: doer, maxPages: maxPages, log: log}
}

// Collect walks the listing pages of src until its terminal signal, a page
// failure, or the page ceiling.
func (c *Collector) Collect(ctx context.Context, src Adapter) Collection {
	if src.Pagination().Style == CategoryEnumeration {
		if cs, ok := src.(CategorySource); ok {
			return c.collectCategories(ctx, src, cs)
		}
	}
	return c.collectPages(ctx, src)
}

func (c *Collector) collectPages(ctx context.Context, src Adapter) Collection {
	var out Collection
	pagination := src.Pagination()
	log := c.log.With("source", src.Name())

	state := stateFetching
	for step := 0; state == stateFetching; step++ {
		if c.maxPages > 0 && step >= c.maxPages {
			log.Warn("page ceiling reached", "max_pages", c.maxPages)
			out.Stop = StopMaxPages
			break
		}

		cursor := pagination.Cursor(step)
		page, err := c.fetchPage(ctx, src, cursor)
		if err != nil {
			log.Error("page fetch failed, stopping", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			out.Stop = StopError
			break
		}
		out.Pages++

		state, err = c.consume(src, page, &out)
		if err != nil {
			log.Error("page extraction failed, stopping", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			out.Stop = StopError
			break
		}
		if state == stateDone {
			log.Info("end of data", "cursor", cursor.String(), "items", len(out.Items))
			out.Stop = StopTerminal
		} else {
			log.Debug("page collected", "cursor", cursor.String(), "items", len(out.Items))
		}
	}

	return out
}

// consume applies the terminal predicate, then extracts items. An empty page
// is terminal even when the source did not say so.
func (c *Collector) consume(src Adapter, page *RawPage, out *Collection) (collectState, error) {
	if src.IsTerminal(page) {
		return stateDone, nil
	}

	items, err := src.ExtractItems(page)
	if err != nil {
		return stateDone, err
	}
	if len(items) == 0 {
		return stateDone, nil
	}

	out.Items = append(out.Items, items...)
	return stateFetching, nil
}

func (c *Collector) collectCategories(ctx context.Context, src Adapter, cs CategorySource) Collection {
	var out Collection
	log := c.log.With("source", src.Name())

	seeds, err := cs.CategoryRequests()
	if err != nil {
		out.Failures = append(out.Failures, PageFailure{Err: err})
		out.Stop = StopError
		return out
	}

	var categories []Category
	for i, seed := range seeds {
		cursor := Cursor{Step: i, Category: &Category{Name: "*", Params: seed.Params}}

		page, err := c.decode(ctx, src.Format(), seed.Spec, cursor)
		if err == nil {
			var found []Category
			found, err = cs.ExtractCategories(page, seed)
			categories = append(categories, found...)
		}
		if err != nil {
			log.Error("category listing failed", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
		}
	}
	log.Info("categories discovered", "count", len(categories))

	out.Stop = StopCategories
	for i := range categories {
		if c.maxPages > 0 && i >= c.maxPages {
			log.Warn("page ceiling reached", "max_pages", c.maxPages)
			out.Stop = StopMaxPages
			break
		}

		cursor := Cursor{Step: i, Category: &categories[i]}
		if err := ctx.Err(); err != nil {
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			out.Stop = StopError
			break
		}
		page, err := c.fetchPage(ctx, src, cursor)
		if err != nil {
			log.Error("category fetch failed", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			continue
		}
		out.Pages++

		// within a category the terminal signal only ends that category
		if _, err := c.consume(src, page, &out); err != nil {
			log.Error("category extraction failed", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
		}
	}

	return out
}

// IdentityKeys maps listing items to identity keys in discovery order, without
// repeats. Items without a key are dropped and counted.
func (c *Collector) IdentityKeys(src Adapter, ds DetailSource, items []models.RawItem) ([]string, int) {
	queue := keyqueue.NewKeyQueue(src.Name())
	skipped := 0

	for _, item := range items {
		key, err := ds.IdentityOf(item)
		if err != nil {
			c.log.Warn("listing item without identity, skipped", "source", src.Name(), "error", err)
			skipped++
			continue
		}
		queue.Add(key)
	}
	return queue.Keys(), skipped
}

// CollectDetails fetches one record per key, sequentially and in order. A
// repeated key is fetched once. A failing key is recorded and the remaining
// keys are still fetched.
func (c *Collector) CollectDetails(ctx context.Context, src Adapter, ds DetailSource, keys []string) Collection {
	out := Collection{Stop: StopKeys}
	log := c.log.With("source", src.Name())

	queue := keyqueue.NewKeyQueue(src.Name())
	for _, key := range keys {
		queue.Add(key)
	}
	log.Debug("detail stage started", "keys", queue.Size())

	for i := 0; ; i++ {
		key, ok := queue.Get()
		if !ok {
			break
		}
		cursor := Cursor{Step: i, Key: key}
		if err := ctx.Err(); err != nil {
			log.Warn("detail stage cancelled", "cursor", cursor.String(), "remaining", queue.Size())
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			out.Stop = StopError
			break
		}

		item, err := c.fetchDetail(ctx, src, ds, cursor)
		if err != nil {
			log.Error("detail fetch failed", "cursor", cursor.String(), "error", err)
			out.Failures = append(out.Failures, PageFailure{Cursor: cursor, Err: err})
			continue
		}
		out.Pages++
		out.Items = append(out.Items, item)
		log.Debug("detail collected", "cursor", cursor.String())
	}

	return out
}

func (c *Collector) fetchDetail(ctx context.Context, src Adapter, ds DetailSource, cursor Cursor) (models.RawItem, error) {
	spec, err := ds.DetailRequest(cursor.Key)
	if err != nil {
		return nil, err
	}
	page, err := c.decode(ctx, src.Format(), spec, cursor)
	if err != nil {
		return nil, err
	}
	return ds.ExtractDetail(page)
}

func (c *Collector) fetchPage(ctx context.Context, src Adapter, cursor Cursor) (*RawPage, error) {
	spec, err := src.BuildRequest(cursor)
	if err != nil {
		return nil, err
	}
	return c.decode(ctx, src.Format(), spec, cursor)
}

func (c *Collector) decode(ctx context.Context, format normalize.Format, spec RequestSpec, cursor Cursor) (*RawPage, error) {
	body, err := c.doer.Do(ctx, spec)
	if err != nil {
		return nil, err
	}

	doc, err := normalize.Decode(format, body)
	if err != nil {
		return nil, err
	}
	return &RawPage{Cursor: cursor, Body: body, Doc: doc}, nil
}
