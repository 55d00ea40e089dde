// Package api provides read-only HTTP access to stored analysis runs.
package api

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rnadiff/rnadiff/internal/annotate"
	"github.com/rnadiff/rnadiff/internal/enrich"
	"github.com/rnadiff/rnadiff/internal/report"
	"github.com/rnadiff/rnadiff/internal/resultstore"
)

// RouterConfig contains router configuration.
type RouterConfig struct {
	Store       *resultstore.Store
	Cache       *CacheManager
	CORSOrigins []string
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	r.Get("/api/stats", statsHandler(cfg.Cache))
	r.Get("/api/runs", runsHandler(cfg.Store))
	r.Route("/api/runs/{run_id}", func(r chi.Router) {
		r.Get("/", runDetailHandler(cfg.Store))
		r.Get("/de", deTableHandler(cfg.Store, cfg.Cache))
		r.Get("/enrichment", collectionsHandler(cfg.Store))
		r.Get("/enrichment/{collection}", enrichmentTableHandler(cfg.Store))
		r.Get("/figures/volcano.png", volcanoFigureHandler(cfg.Store, cfg.Cache))
		r.Get("/figures/enrichment/{collection}.png", enrichmentFigureHandler(cfg.Store, cfg.Cache))
	})

	return r
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// deRowJSON mirrors annotate.Row with a nullable adjusted p so rows with an
// undefined padj survive JSON encoding.
type deRowJSON struct {
	GeneID         string   `json:"gene_id"`
	Symbol         string   `json:"symbol"`
	BaseMean       float64  `json:"base_mean"`
	Log2FoldChange float64  `json:"log2fc"`
	Stat           float64  `json:"stat"`
	PValue         float64  `json:"pvalue"`
	PAdj           *float64 `json:"padj"`
}

func toDERowJSON(r annotate.Row) deRowJSON {
	row := deRowJSON{
		GeneID:         r.GeneID,
		Symbol:         r.Symbol,
		BaseMean:       r.BaseMean,
		Log2FoldChange: r.Log2FoldChange,
		Stat:           r.Stat,
		PValue:         r.PValue,
	}
	if !math.IsNaN(r.PAdj) {
		p := r.PAdj
		row.PAdj = &p
	}
	return row
}

type pathwayJSON struct {
	Pathway     string   `json:"pathway"`
	Size        int      `json:"size"`
	ES          float64  `json:"es"`
	NES         *float64 `json:"nes"`
	PValue      float64  `json:"pvalue"`
	PAdj        *float64 `json:"padj"`
	Direction   string   `json:"direction"`
	LeadingEdge []string `json:"leading_edge"`
}

func toPathwayJSON(r enrich.PathwayResult) pathwayJSON {
	p := pathwayJSON{
		Pathway:     r.Pathway,
		Size:        r.Size,
		ES:          r.ES,
		PValue:      r.PValue,
		Direction:   r.Direction,
		LeadingEdge: r.LeadingEdge,
	}
	if !math.IsNaN(r.NES) {
		v := r.NES
		p.NES = &v
	}
	if !math.IsNaN(r.PAdj) {
		v := r.PAdj
		p.PAdj = &v
	}
	return p
}

func statsHandler(cache *CacheManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, cache.Stats())
	}
}

func runsHandler(store *resultstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := store.ListRuns()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if runs == nil {
			runs = []*resultstore.Run{}
		}
		writeJSON(w, map[string]interface{}{"runs": runs})
	}
}

func runDetailHandler(store *resultstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, err := store.GetRun(chi.URLParam(r, "run_id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, run)
	}
}

func deTableHandler(store *resultstore.Store, cache *CacheManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		orderBy := r.URL.Query().Get("order_by")
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 || limit > 1000 {
			limit = 100
		}
		if offset < 0 {
			offset = 0
		}

		key := QueryKey(runID, orderBy, offset, limit)
		if data, ok := cache.GetQuery(key); ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write(data)
			return
		}

		rows, total, err := store.QueryDEResults(runID, orderBy, offset, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		out := make([]deRowJSON, 0, len(rows))
		for _, row := range rows {
			out = append(out, toDERowJSON(row))
		}
		payload, err := json.Marshal(map[string]interface{}{
			"run_id": runID,
			"total":  total,
			"offset": offset,
			"limit":  limit,
			"rows":   out,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cache.SetQuery(key, payload)
		w.Header().Set("Content-Type", "application/json")
		w.Write(payload)
	}
}

func collectionsHandler(store *resultstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		cols, err := store.Collections(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if cols == nil {
			cols = []string{}
		}
		writeJSON(w, map[string]interface{}{"run_id": runID, "collections": cols})
	}
}

func enrichmentTableHandler(store *resultstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		collection := chi.URLParam(r, "collection")

		results, err := store.QueryEnrichment(runID, collection)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(results) == 0 {
			http.NotFound(w, r)
			return
		}

		out := make([]pathwayJSON, 0, len(results))
		for _, res := range results {
			out = append(out, toPathwayJSON(res))
		}
		writeJSON(w, map[string]interface{}{
			"run_id":     runID,
			"collection": collection,
			"pathways":   out,
		})
	}
}

func volcanoFigureHandler(store *resultstore.Store, cache *CacheManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")

		key := FigureKey(runID, "volcano")
		if data, ok := cache.GetFigure(key); ok {
			servePNG(w, data)
			return
		}

		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		rows, _, err := store.QueryDEResults(runID, "padj", 0, run.NumGenes)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(rows) == 0 {
			http.NotFound(w, r)
			return
		}

		renderer := report.NewRenderer(run.Config.Report)
		data, err := renderer.VolcanoPlot(rows, run.Config.Annotate.MinAbsLog2FC)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cache.SetFigure(key, data)
		servePNG(w, data)
	}
}

func enrichmentFigureHandler(store *resultstore.Store, cache *CacheManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "run_id")
		collection := chi.URLParam(r, "collection")

		key := FigureKey(runID, "enrichment:"+collection)
		if data, ok := cache.GetFigure(key); ok {
			servePNG(w, data)
			return
		}

		run, err := store.GetRun(runID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.NotFound(w, r)
			return
		}

		results, err := store.QueryEnrichment(runID, collection)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if len(results) == 0 {
			http.NotFound(w, r)
			return
		}

		items := make([]report.BarItem, 0, len(results))
		for _, res := range results {
			items = append(items, report.BarItem{Label: res.Pathway, Effect: res.NES, PAdj: res.PAdj})
		}
		items = report.SelectBars(items, run.Config.Report.Alpha, run.Config.Report.MaxItems)
		if len(items) == 0 {
			http.NotFound(w, r)
			return
		}

		renderer := report.NewRenderer(run.Config.Report)
		data, err := renderer.BarChart(items, collection+" enrichment", "NES")
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		cache.SetFigure(key, data)
		servePNG(w, data)
	}
}

func servePNG(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=300")
	w.Write(data)
}
