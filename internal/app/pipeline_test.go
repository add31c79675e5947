package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/db"
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

type fakeDoer struct {
	responses map[string]string
}

func (f *fakeDoer) Do(_ context.Context, spec fetch.RequestSpec) ([]byte, error) {
	body, ok := f.responses[spec.URL]
	if !ok {
		return nil, &fetch.StatusError{StatusCode: http.StatusNotFound, URL: spec.URL}
	}
	return []byte(body), nil
}

// memStore upserts by identity key like the Mongo sink does.
type memStore struct {
	data    map[string]map[string]models.BenefitRecord
	failOn  map[string]error
	history []*models.RunHistory
	indexed []string
}

func newMemStore() *memStore {
	return &memStore{data: map[string]map[string]models.BenefitRecord{}, failOn: map[string]error{}}
}

func (m *memStore) PersistBenefits(_ context.Context, coll string, mode config.WriteMode, records []models.BenefitRecord) (db.PersistResult, error) {
	res := db.PersistResult{Mode: mode, Batch: len(records)}
	if err := m.failOn[coll]; err != nil {
		return res, err
	}
	if m.data[coll] == nil {
		m.data[coll] = map[string]models.BenefitRecord{}
	}
	for _, r := range db.DedupeRecords(records) {
		if _, ok := m.data[coll][r.IdentityKey]; ok {
			res.Matched++
		} else {
			res.Upserted++
		}
		m.data[coll][r.IdentityKey] = r
	}
	return res, nil
}

func (m *memStore) EnsureIndexes(_ context.Context, coll string, _ config.WriteMode) error {
	m.indexed = append(m.indexed, coll)
	return nil
}

func (m *memStore) SaveRunHistory(_ context.Context, h *models.RunHistory) error {
	m.history = append(m.history, h)
	return nil
}

type pageAdapter struct {
	name string
}

func (a *pageAdapter) Name() string             { return a.name }
func (a *pageAdapter) Format() normalize.Format { return normalize.FormatJSON }

func (a *pageAdapter) Pagination() fetch.Pagination {
	return fetch.Pagination{Style: fetch.PageNumber, Start: 1}
}

func (a *pageAdapter) BuildRequest(c fetch.Cursor) (fetch.RequestSpec, error) {
	return fetch.RequestSpec{URL: fmt.Sprintf("/%s/page/%d", a.name, c.Value)}, nil
}

func (a *pageAdapter) IsTerminal(p *fetch.RawPage) bool {
	return len(normalize.Items(p.Doc, "items")) == 0
}

func (a *pageAdapter) ExtractItems(p *fetch.RawPage) ([]models.RawItem, error) {
	return normalize.Items(p.Doc, "items"), nil
}

func (a *pageAdapter) Normalize(item models.RawItem) (models.BenefitRecord, error) {
	key, err := normalize.RequireKey(item, "id")
	if err != nil {
		return models.BenefitRecord{}, err
	}
	return normalize.Build(a.name, key, item, normalize.Fields{Title: normalize.String(item, "title")})
}

type detailAdapter struct {
	pageAdapter
}

func (a *detailAdapter) IdentityOf(item models.RawItem) (string, error) {
	return normalize.RequireKey(item, "id")
}

func (a *detailAdapter) DetailRequest(key string) (fetch.RequestSpec, error) {
	return fetch.RequestSpec{URL: fmt.Sprintf("/%s/detail/%s", a.name, key)}, nil
}

func (a *detailAdapter) ExtractDetail(p *fetch.RawPage) (models.RawItem, error) {
	return p.Doc, nil
}

func sourceConfig(name string) config.SourceConfig {
	return config.SourceConfig{Name: name, Collection: name, WriteMode: config.WriteUpsert}
}

func TestStageString(t *testing.T) {
	want := []string{"INIT", "COLLECTING", "DETAIL_FETCH", "NORMALIZING", "PERSISTING", "DONE"}
	for i, w := range want {
		if got := Stage(i).String(); got != w {
			t.Errorf("Stage(%d) = %s, want %s", i, got, w)
		}
	}
}

func TestRunner_RerunIsIdempotent(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"/A/page/1": `{"items":[{"id":"a","title":"uno"},{"id":"b"}]}`,
		"/A/page/2": `{"items":[{"id":"c"},{"id":"a","title":"uno bis"}]}`,
		"/A/page/3": `{"items":[]}`,
	}}
	store := newMemStore()
	runner := NewRunner(doer, store, "", nil)
	src := &pageAdapter{name: "A"}

	first := runner.Run(context.Background(), src, sourceConfig("A"))
	if first.Err != nil || first.Stage != StageDone {
		t.Fatalf("first run = %+v", first)
	}
	if first.Collected != 4 || first.Normalized != 4 || first.Persisted != 3 {
		t.Errorf("counts = %+v", first)
	}
	snapshot := len(store.data["A"])

	second := runner.Run(context.Background(), src, sourceConfig("A"))
	if second.Err != nil {
		t.Fatalf("second run: %v", second.Err)
	}
	if len(store.data["A"]) != snapshot || snapshot != 3 {
		t.Errorf("collection size = %d after rerun, want %d", len(store.data["A"]), snapshot)
	}
	if got := store.data["A"]["a"].Title; got != "uno bis" {
		t.Errorf("title = %q, want the last occurrence", got)
	}
}

func TestRunner_DetailFailuresShrinkTheBatch(t *testing.T) {
	doer := &fakeDoer{responses: map[string]string{
		"/D/page/1":   `{"items":[{"id":"1"},{"id":"2"},{"sin":"id"},{"id":"3"}]}`,
		"/D/page/2":   `{"items":[]}`,
		"/D/detail/1": `{"id":"1","title":"uno"}`,
		"/D/detail/3": `{"title":"sin id en el detalle"}`,
	}}
	store := newMemStore()
	src := &detailAdapter{pageAdapter{name: "D"}}

	res := NewRunner(doer, store, "", nil).Run(context.Background(), src, sourceConfig("D"))

	if res.Err != nil || res.Stage != StageDone {
		t.Fatalf("result = %+v", res)
	}
	// key 2 has no detail, key 3 fails normalization, one listing item had no id
	if res.Collected != 4 || res.Details != 2 || res.Normalized != 1 || res.Skipped != 2 {
		t.Errorf("counts = %+v", res)
	}
	if len(res.Failures) != 1 || res.Failures[0].Cursor.Key != "2" {
		t.Errorf("failures = %v", res.Failures)
	}
	if _, ok := store.data["D"]["1"]; !ok || len(store.data["D"]) != 1 {
		t.Errorf("stored = %v", store.data["D"])
	}
}

func TestRunner_PersistErrorFailsSource(t *testing.T) {
	boom := errors.New("write concern timeout")
	doer := &fakeDoer{responses: map[string]string{
		"/P/page/1": `{"items":[{"id":"1"}]}`,
		"/P/page/2": `{"items":[]}`,
	}}
	store := newMemStore()
	store.failOn["P"] = boom

	res := NewRunner(doer, store, "", nil).Run(context.Background(), &pageAdapter{name: "P"}, sourceConfig("P"))

	if !errors.Is(res.Err, boom) || res.Stage != StagePersisting || res.Status() != "failed" {
		t.Errorf("result = %+v", res)
	}
}

func TestRunner_DumpsNormalizedRecords(t *testing.T) {
	dir := t.TempDir()
	doer := &fakeDoer{responses: map[string]string{
		"/Dump/page/1": `{"items":[{"id":"x","title":"<i>hola</i>"}]}`,
		"/Dump/page/2": `{"items":[]}`,
	}}

	NewRunner(doer, newMemStore(), dir, nil).Run(context.Background(), &pageAdapter{name: "Dump"}, sourceConfig("Dump"))

	data, err := os.ReadFile(filepath.Join(dir, "dump.json"))
	if err != nil {
		t.Fatalf("dump file: %v", err)
	}
	var records []models.BenefitRecord
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("dump content: %v", err)
	}
	if len(records) != 1 || records[0].Title != "hola" {
		t.Errorf("records = %+v", records)
	}
}

// slowDoer answers like fakeDoer after a fixed pause.
type slowDoer struct {
	fakeDoer
	pause time.Duration
}

func (s *slowDoer) Do(ctx context.Context, spec fetch.RequestSpec) ([]byte, error) {
	time.Sleep(s.pause)
	return s.fakeDoer.Do(ctx, spec)
}

func TestRunner_ReportsDuration(t *testing.T) {
	doer := &slowDoer{pause: 15 * time.Millisecond, fakeDoer: fakeDoer{responses: map[string]string{
		"/T/page/1": `{"items":[{"id":"1"}]}`,
		"/T/page/2": `{"items":[]}`,
	}}}

	res := NewRunner(doer, newMemStore(), "", nil).Run(context.Background(), &pageAdapter{name: "T"}, sourceConfig("T"))

	if res.Err != nil {
		t.Fatalf("run: %v", res.Err)
	}
	if res.Duration < 30*time.Millisecond {
		t.Errorf("duration = %v, want at least two paused requests", res.Duration)
	}
}

func TestRunner_ReportsDurationOnFailure(t *testing.T) {
	doer := &slowDoer{pause: 15 * time.Millisecond, fakeDoer: fakeDoer{responses: map[string]string{
		"/F/page/1": `{"items":[{"id":"1"}]}`,
		"/F/page/2": `{"items":[]}`,
	}}}
	store := newMemStore()
	store.failOn["F"] = errors.New("disk full")

	res := NewRunner(doer, store, "", nil).Run(context.Background(), &pageAdapter{name: "F"}, sourceConfig("F"))

	if res.Err == nil || res.Duration < 30*time.Millisecond {
		t.Errorf("err = %v, duration = %v", res.Err, res.Duration)
	}
}
