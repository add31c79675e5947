package sources

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/fetch"
	"benefits_fetcher/internal/models"
	"benefits_fetcher/internal/normalize"
)

func newSource(t *testing.T, kind, baseURL string) fetch.Adapter {
	t.Helper()

	cfg := config.DefaultSources()[kind]
	cfg.BaseURL = baseURL
	src, err := New(cfg)
	if err != nil {
		t.Fatalf("New(%s): %v", kind, err)
	}
	return src
}

func newCollector() *fetch.Collector {
	return fetch.NewCollector(fetch.NewRequester(), 0, nil)
}

func readJSON(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		t.Errorf("request body: %v", err)
	}
	return body
}

func normalizeAll(t *testing.T, src fetch.Adapter, items []models.RawItem) []models.BenefitRecord {
	t.Helper()

	out := make([]models.BenefitRecord, 0, len(items))
	for _, item := range items {
		rec, err := src.Normalize(item)
		if err != nil {
			t.Fatalf("Normalize(%v): %v", item, err)
		}
		out = append(out, rec)
	}
	return out
}

func identityKeys(records []models.BenefitRecord) string {
	parts := make([]string, 0, len(records))
	for _, r := range records {
		parts = append(parts, r.IdentityKey)
	}
	return strings.Join(parts, ",")
}

func TestNew_UnknownKind(t *testing.T) {
	_, err := New(config.SourceConfig{Name: "X", Kind: "galicia"})
	if !errors.Is(err, config.ErrUnknownKind) {
		t.Errorf("err = %v, want ErrUnknownKind", err)
	}
}

func TestNew_EveryDefaultSource(t *testing.T) {
	for name, cfg := range config.DefaultSources() {
		src, err := New(cfg)
		if err != nil {
			t.Errorf("%s: %v", name, err)
			continue
		}
		if src.Name() != cfg.Name {
			t.Errorf("%s: name = %s, want %s", name, src.Name(), cfg.Name)
		}
	}
}

func TestCiudad_ListingThenDetails(t *testing.T) {
	pages := map[float64]string{
		1: `{"retorno":{"beneficios":[{"id":1},{"id":2}]}}`,
		2: `{"retorno":{"beneficios":[{"id":2},{"id":3}]}}`,
		3: `{"retorno":{"beneficios":[]}}`,
	}
	details := map[string]string{
		"1": `{"mensaje":"OK","retorno":{"beneficio":{"id":1,"titulo":"<b>Cine</b> 2x1"}}}`,
		"2": `{"mensaje":"ERROR","retorno":null}`,
		"3": `{"mensaje":"OK","retorno":{"beneficio":{"id":3,"titulo":"Teatro"}}}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/beneficios/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		body := readJSON(t, r)
		id := strings.TrimPrefix(r.URL.Path, "/beneficios/")
		if id == "busqueda" {
			data, _ := body["data"].(map[string]any)
			page, _ := data["numero_pagina"].(float64)
			_, _ = io.WriteString(w, pages[page])
			return
		}
		if data, _ := body["data"].(map[string]any); data == nil || len(data) != 2 {
			t.Errorf("detail body = %v", body)
		}
		_, _ = io.WriteString(w, details[id])
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := newSource(t, "ciudad", srv.URL+"/beneficios")
	ds := src.(fetch.DetailSource)
	c := newCollector()
	ctx := context.Background()

	listing := c.Collect(ctx, src)
	if listing.Stop != fetch.StopTerminal || listing.Pages != 3 {
		t.Fatalf("listing stop = %s, pages = %d", listing.Stop, listing.Pages)
	}

	keys, skipped := c.IdentityKeys(src, ds, listing.Items)
	if strings.Join(keys, ",") != "1,2,3" || skipped != 0 {
		t.Fatalf("keys = %v, skipped = %d", keys, skipped)
	}

	detailed := c.CollectDetails(ctx, src, ds, keys)
	if len(detailed.Failures) != 1 || !errors.Is(detailed.Failures[0], ErrDetailNotOK) {
		t.Errorf("failures = %v", detailed.Failures)
	}

	records := normalizeAll(t, src, detailed.Items)
	if identityKeys(records) != "1,3" {
		t.Errorf("records = %s, want 1,3", identityKeys(records))
	}
	if records[0].Title != "Cine 2x1" || records[0].Source != "CIUDAD" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestLaNacion_PagesByNumberAndSynthesizesKeys(t *testing.T) {
	var froms []float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := readJSON(t, r)
		from, _ := body["from"].(float64)
		froms = append(froms, from)
		if body["size"] != float64(50) || body["sort"] != "newest" {
			t.Errorf("body = %v", body)
		}
		switch from {
		case 1:
			_, _ = io.WriteString(w, `{"data":[{"id":"a1","name":"Cafe Tortoni"},{"name":"Sin id"}]}`)
		default:
			_, _ = io.WriteString(w, `{"data":[]}`)
		}
	}))
	defer srv.Close()

	src := newSource(t, "lanacion", srv.URL)
	got := newCollector().Collect(context.Background(), src)

	if !reflect.DeepEqual(froms, []float64{1, 2}) {
		t.Errorf("from values = %v", froms)
	}

	records := normalizeAll(t, src, got.Items)
	if len(records) != 2 {
		t.Fatalf("records = %d", len(records))
	}
	if records[0].IdentityKey != "a1" {
		t.Errorf("key = %s", records[0].IdentityKey)
	}
	if !strings.HasPrefix(records[1].IdentityKey, "lanacion:") {
		t.Errorf("synthesized key = %s", records[1].IdentityKey)
	}

	again, _ := src.Normalize(got.Items[1])
	if again.IdentityKey != records[1].IdentityKey {
		t.Error("synthesized key must be stable")
	}
}

func TestSupervielle_EnumeratesRubrosPerSegment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/rubros/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("esIdentite") {
		case "false":
			_, _ = io.WriteString(w, `{"rubros":[{"nombre":"Moda y Belleza"},{"nombre":"Vacio"}]}`)
		case "true":
			_, _ = io.WriteString(w, `{"rubros":[{"nombre":"Viajes"}]}`)
		}
	})
	mux.HandleFunc("/api/beneficios", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("accept = %q", r.Header.Get("Accept"))
		}
		q := r.URL.Query()
		switch q.Get("rubro") + "|" + q.Get("esIdentite") {
		case "Moda y Belleza|false":
			_, _ = io.WriteString(w, `{"codigo":"OK","beneficios":[{"id":10,"titulo":"Zapatos"},{"id":11}]}`)
		case "Vacio|false":
			_, _ = io.WriteString(w, `{"codigo":"OK","beneficios":[]}`)
		case "Viajes|true":
			_, _ = io.WriteString(w, `{"codigo":"ERROR","beneficios":[{"id":99}]}`)
		default:
			t.Errorf("unexpected query %v", q)
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := newSource(t, "supervielle", srv.URL+"/api")
	got := newCollector().Collect(context.Background(), src)

	if got.Stop != fetch.StopCategories || len(got.Failures) != 0 {
		t.Fatalf("stop = %s, failures = %v", got.Stop, got.Failures)
	}
	if got.Pages != 3 {
		t.Errorf("pages = %d, want 3", got.Pages)
	}
	if keys := identityKeys(normalizeAll(t, src, got.Items)); keys != "10,11" {
		t.Errorf("keys = %s, want 10,11", keys)
	}
}

func TestPersonal_OffsetListingAndDetails(t *testing.T) {
	var offsets []string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/benefits", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		offsets = append(offsets, q.Get("offset"))
		if q.Get("limit") != "20" || q.Get("source") != "club" {
			t.Errorf("query = %v", q)
		}
		switch q.Get("offset") {
		case "0":
			_, _ = io.WriteString(w, `{"data":[{"id":"a"}]}`)
		case "20":
			_, _ = io.WriteString(w, `{"data":[{"id":"b"}]}`)
		default:
			_, _ = io.WriteString(w, `{"data":[]}`)
		}
	})
	mux.HandleFunc("/api/benefits/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/api/benefits/")
		if id == "b" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"title":"Promo %s"}`, id, id)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	src := newSource(t, "personal", srv.URL+"/api/benefits")
	ds := src.(fetch.DetailSource)
	c := newCollector()

	listing := c.Collect(context.Background(), src)
	if strings.Join(offsets, ",") != "0,20,40" {
		t.Errorf("offsets = %v", offsets)
	}

	keys, _ := c.IdentityKeys(src, ds, listing.Items)
	detailed := c.CollectDetails(context.Background(), src, ds, keys)

	var statusErr *fetch.StatusError
	if len(detailed.Failures) != 1 || !errors.As(detailed.Failures[0], &statusErr) {
		t.Errorf("failures = %v", detailed.Failures)
	}
	records := normalizeAll(t, src, detailed.Items)
	if len(records) != 1 || records[0].Title != "Promo a" {
		t.Errorf("records = %+v", records)
	}
	if records[0].Raw["id"] != "a" {
		t.Errorf("raw = %v", records[0].Raw)
	}
}

const santanderPage = `<?xml version="1.0" encoding="UTF-8"?>
<atom:feed xmlns:atom="http://www.w3.org/2005/Atom" xmlns:wplc="http://www.ibm.com/wplc/atom/1.0">
  <atom:entry>
    <atom:id>tsr-1</atom:id>
    <atom:title>Cines 2x1</atom:title>
    <atom:category term="ent" label="Entretenimiento"/>
    <wplc:field id="comercio">Cinemark</wplc:field>
    <wplc:field id="dias">Lunes</wplc:field>
    <wplc:field id="dias">Martes</wplc:field>
    <atom:summary><![CDATA[<p>Todos los <b>lunes</b></p>]]></atom:summary>
  </atom:entry>
  <atom:entry>
    <atom:id>tsr-2</atom:id>
    <atom:title>Libros</atom:title>
  </atom:entry>
</atom:feed>`

func TestSantander_XMLFeed(t *testing.T) {
	var starts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		starts = append(starts, q.Get("start"))
		if q.Get("results") != "100" || q.Get("index") != santanderCatalog {
			t.Errorf("query = %v", q)
		}
		w.Header().Set("Content-Type", "application/atom+xml")
		if q.Get("start") == "0" {
			_, _ = io.WriteString(w, santanderPage)
			return
		}
		_, _ = io.WriteString(w, `<atom:feed xmlns:atom="http://www.w3.org/2005/Atom"></atom:feed>`)
	}))
	defer srv.Close()

	src := newSource(t, "santander", srv.URL)
	got := newCollector().Collect(context.Background(), src)

	if strings.Join(starts, ",") != "0,100" || got.Stop != fetch.StopTerminal {
		t.Fatalf("starts = %v, stop = %s", starts, got.Stop)
	}

	records := normalizeAll(t, src, got.Items)
	if identityKeys(records) != "tsr-1,tsr-2" {
		t.Fatalf("keys = %s", identityKeys(records))
	}

	rec := records[0]
	if rec.Title != "Cines 2x1" || rec.Category != "Entretenimiento" || rec.Merchant != "Cinemark" {
		t.Errorf("record = %+v", rec)
	}
	if rec.Description != "Todos los lunes" {
		t.Errorf("description = %q", rec.Description)
	}
	if want := []string{"Lunes", "Martes"}; !reflect.DeepEqual(rec.Field["dias"], want) {
		t.Errorf("dias = %v, want %v", rec.Field["dias"], want)
	}
	if src.Format() != normalize.FormatXML {
		t.Error("santander should decode XML")
	}
}

func TestICBC_FlattensNestedLists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("filter") != "{}" || q.Get("row_by_page") != "100" {
			t.Errorf("query = %v", q)
		}
		switch q.Get("num_page") {
		case "1":
			_, _ = io.WriteString(w, `{"status":{"code":200},"response":{"beneficio_data":[[{"id":1},{"id":2}],[{"id":3}]]}}`)
		case "2":
			_, _ = io.WriteString(w, `{"status":{"code":200},"response":{"beneficio_data":[[{"titulo":"sin id"}]]}}`)
		default:
			_, _ = io.WriteString(w, `{"status":{"code":404},"response":{"beneficio_data":[[{"id":"stale"}]]}}`)
		}
	}))
	defer srv.Close()

	src := newSource(t, "icbc", srv.URL)
	got := newCollector().Collect(context.Background(), src)

	if got.Pages != 3 || got.Stop != fetch.StopTerminal {
		t.Fatalf("pages = %d, stop = %s", got.Pages, got.Stop)
	}

	records := normalizeAll(t, src, got.Items)
	if len(records) != 4 {
		t.Fatalf("records = %d, want 4", len(records))
	}
	if identityKeys(records[:3]) != "1,2,3" {
		t.Errorf("keys = %s", identityKeys(records[:3]))
	}
	if !strings.HasPrefix(records[3].IdentityKey, "icbc:") {
		t.Errorf("synthesized key = %s", records[3].IdentityKey)
	}
}
