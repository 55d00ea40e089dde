package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rnadiff/rnadiff/internal/annotate"
	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/internal/enrich"
	"github.com/rnadiff/rnadiff/internal/resultstore"
)

func setupRouter(t *testing.T) (*resultstore.Store, http.Handler) {
	t.Helper()

	store, err := resultstore.NewStore(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	cache, err := NewCacheManager(CacheConfig{
		FigureCacheSizeMB: 16,
		FigureTTL:         1 * time.Minute,
		QueryCacheSize:    10,
	})
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	t.Cleanup(func() { cache.Close() })

	router := NewRouter(RouterConfig{
		Store:       store,
		Cache:       cache,
		CORSOrigins: []string{"http://localhost:3000"},
	})
	return store, router
}

func seedRun(t *testing.T, store *resultstore.Store) *resultstore.Run {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Inputs.CountsPath = "counts.tsv"
	cfg.Inputs.MetadataPath = "metadata.tsv"
	cfg.DE.Reference = "control"
	cfg.DE.Contrast = "treated"

	run, err := store.CreateRun(cfg, 3, 6)
	if err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	rows := []annotate.Row{
		{GeneID: "ENSG1", Symbol: "TP53", BaseMean: 50, Log2FoldChange: 3.2, Stat: 9.0, PValue: 1e-9, PAdj: 1e-7},
		{GeneID: "ENSG2", Symbol: "MYC", BaseMean: 120, Log2FoldChange: -2.0, Stat: -5.0, PValue: 1e-4, PAdj: 0.001},
		{GeneID: "ENSG3", Symbol: "ACTB", BaseMean: 900, Log2FoldChange: 0.02, Stat: 0.1, PValue: 0.92, PAdj: 0.95},
	}
	if err := store.InsertDEResults(run.ID, rows); err != nil {
		t.Fatalf("failed to insert DE results: %v", err)
	}

	pathways := []enrich.PathwayResult{
		{Pathway: "HALLMARK_APOPTOSIS", Size: 25, ES: 0.61, NES: 2.1, PValue: 0.0005, PAdj: 0.004,
			Direction: "up", LeadingEdge: []string{"TP53"}},
	}
	if err := store.InsertEnrichment(run.ID, "hallmark", pathways); err != nil {
		t.Fatalf("failed to insert enrichment: %v", err)
	}

	return run
}

func TestStatsEndpoint(t *testing.T) {
	_, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	for _, key := range []string{"figure_cache_len", "figure_cache_cap", "query_cache_len"} {
		if _, ok := payload[key]; !ok {
			t.Errorf("stats payload is missing %q: %v", key, payload)
		}
	}
}

func TestRunsEndpoint(t *testing.T) {
	store, router := setupRouter(t)
	run := seedRun(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var payload struct {
		Runs []resultstore.Run `json:"runs"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(payload.Runs) != 1 || payload.Runs[0].ID != run.ID {
		t.Fatalf("unexpected runs payload: %+v", payload.Runs)
	}
}

func TestRunDetailNotFound(t *testing.T) {
	_, router := setupRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/no-such-run/", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestDETableEndpoint(t *testing.T) {
	store, router := setupRouter(t)
	run := seedRun(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/de?order_by=padj&limit=2", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var payload struct {
		Total int         `json:"total"`
		Rows  []deRowJSON `json:"rows"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if payload.Total != 3 {
		t.Errorf("total = %d, want 3", payload.Total)
	}
	if len(payload.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(payload.Rows))
	}
	if payload.Rows[0].GeneID != "ENSG1" {
		t.Errorf("best padj first: got %s", payload.Rows[0].GeneID)
	}

	// Second identical request should be served from the query cache.
	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/de?order_by=padj&limit=2", nil))
	if rec2.Code != http.StatusOK {
		t.Fatalf("cached request failed: %d", rec2.Code)
	}
	if rec2.Body.String() != rec.Body.String() {
		t.Error("cached response differs from original")
	}
}

func TestEnrichmentEndpoints(t *testing.T) {
	store, router := setupRouter(t)
	run := seedRun(t, store)

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/enrichment", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("collections: expected %d, got %d", http.StatusOK, rec.Code)
	}
	var cols struct {
		Collections []string `json:"collections"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &cols); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(cols.Collections) != 1 || cols.Collections[0] != "hallmark" {
		t.Fatalf("unexpected collections: %v", cols.Collections)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/enrichment/hallmark", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("table: expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var table struct {
		Pathways []pathwayJSON `json:"pathways"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &table); err != nil {
		t.Fatalf("failed to decode JSON: %v", err)
	}
	if len(table.Pathways) != 1 || table.Pathways[0].Pathway != "HALLMARK_APOPTOSIS" {
		t.Fatalf("unexpected pathways: %+v", table.Pathways)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/enrichment/no-such-collection", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing collection: expected %d, got %d", http.StatusNotFound, rec.Code)
	}
}

func TestFigureEndpoints(t *testing.T) {
	store, router := setupRouter(t)
	run := seedRun(t, store)

	pngMagic := []byte{0x89, 'P', 'N', 'G'}

	req := httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/figures/volcano.png", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("volcano: expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if got := rec.Body.Bytes(); len(got) < 4 || string(got[:4]) != string(pngMagic) {
		t.Error("volcano response is not a PNG")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/runs/"+run.ID+"/figures/enrichment/hallmark.png", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("enrichment figure: expected %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if got := rec.Body.Bytes(); len(got) < 4 || string(got[:4]) != string(pngMagic) {
		t.Error("enrichment figure response is not a PNG")
	}
}
