// Package resultstore persists pipeline runs and their result tables in SQLite.
package resultstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rnadiff/rnadiff/internal/annotate"
	"github.com/rnadiff/rnadiff/internal/config"
	"github.com/rnadiff/rnadiff/internal/enrich"
)

// Run is one recorded pipeline execution.
type Run struct {
	ID         string         `json:"run_id"`
	Contrast   string         `json:"contrast"`
	Reference  string         `json:"reference"`
	Config     *config.Config `json:"config,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	NumGenes   int            `json:"num_genes"`
	NumSamples int            `json:"num_samples"`
}

// Store writes and reads run records through a single SQLite database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// NewStore opens (or creates) the database at dbPath and applies the schema.
func NewStore(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		contrast TEXT NOT NULL,
		reference TEXT NOT NULL,
		config_json TEXT NOT NULL,
		num_genes INTEGER DEFAULT 0,
		num_samples INTEGER DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);

	CREATE TABLE IF NOT EXISTS de_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		gene_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		base_mean REAL NOT NULL,
		log2fc REAL NOT NULL,
		stat REAL NOT NULL,
		pvalue REAL NOT NULL,
		padj REAL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_de_results_run ON de_results(run_id);
	CREATE INDEX IF NOT EXISTS idx_de_results_run_padj ON de_results(run_id, padj);

	CREATE TABLE IF NOT EXISTS enrichment_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		collection TEXT NOT NULL,
		pathway TEXT NOT NULL,
		set_size INTEGER NOT NULL,
		es REAL NOT NULL,
		nes REAL,
		pvalue REAL NOT NULL,
		padj REAL,
		direction TEXT NOT NULL,
		leading_edge TEXT NOT NULL,
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_enrichment_run ON enrichment_results(run_id, collection);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun records a new run with a fresh ID and returns it.
func (s *Store) CreateRun(cfg *config.Config, numGenes, numSamples int) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}

	run := &Run{
		ID:         uuid.NewString(),
		Contrast:   cfg.DE.Contrast,
		Reference:  cfg.DE.Reference,
		Config:     cfg,
		CreatedAt:  time.Now().UTC(),
		NumGenes:   numGenes,
		NumSamples: numSamples,
	}

	_, err = s.db.Exec(`
		INSERT INTO runs (run_id, contrast, reference, config_json, num_genes, num_samples, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Contrast,
		run.Reference,
		string(cfgJSON),
		run.NumGenes,
		run.NumSamples,
		run.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

// GetRun retrieves a run by ID, or nil when no such run exists.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT run_id, contrast, reference, config_json, num_genes, num_samples, created_at
		FROM runs WHERE run_id = ?
	`, runID)

	run, err := scanRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]*Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, contrast, reference, config_json, num_genes, num_samples, created_at
		FROM runs ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func scanRun(scan func(dest ...any) error) (*Run, error) {
	var run Run
	var cfgJSON, createdAtStr string

	err := scan(
		&run.ID,
		&run.Contrast,
		&run.Reference,
		&cfgJSON,
		&run.NumGenes,
		&run.NumSamples,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	run.Config = &config.Config{}
	if err := json.Unmarshal([]byte(cfgJSON), run.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAtStr)
	return &run, nil
}

// InsertDEResults inserts annotated DE rows in a batch transaction.
func (s *Store) InsertDEResults(runID string, rows []annotate.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO de_results (run_id, gene_id, symbol, base_mean, log2fc, stat, pvalue, padj)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		_, err := stmt.Exec(
			runID, r.GeneID, r.Symbol,
			r.BaseMean, r.Log2FoldChange, r.Stat, r.PValue, nullableFloat(r.PAdj),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// InsertEnrichment inserts pathway results for one collection in a batch transaction.
func (s *Store) InsertEnrichment(runID, collection string, results []enrich.PathwayResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO enrichment_results (run_id, collection, pathway, set_size, es, nes, pvalue, padj, direction, leading_edge)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range results {
		_, err := stmt.Exec(
			runID, collection, r.Pathway, r.Size,
			r.ES, nullableFloat(r.NES), r.PValue, nullableFloat(r.PAdj),
			r.Direction, strings.Join(r.LeadingEdge, ","),
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// QueryDEResults queries DE rows with pagination and ordering.
func (s *Store) QueryDEResults(runID, orderBy string, offset, limit int) ([]annotate.Row, int, error) {
	// NULLS LAST keeps rows with undefined adjusted p out of the top of the table.
	orderCol := "padj ASC NULLS LAST, ABS(log2fc) DESC"
	switch orderBy {
	case "padj":
		orderCol = "padj ASC NULLS LAST, ABS(log2fc) DESC"
	case "pvalue":
		orderCol = "pvalue ASC, ABS(log2fc) DESC"
	case "abs_log2fc":
		orderCol = "ABS(log2fc) DESC, padj ASC NULLS LAST"
	case "base_mean":
		orderCol = "base_mean DESC, padj ASC NULLS LAST"
	}

	var total int
	err := s.db.QueryRow("SELECT COUNT(*) FROM de_results WHERE run_id = ?", runID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`
		SELECT gene_id, symbol, base_mean, log2fc, stat, pvalue, padj
		FROM de_results
		WHERE run_id = ?
		ORDER BY %s
		LIMIT ? OFFSET ?
	`, orderCol)

	rows, err := s.db.Query(query, runID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []annotate.Row
	for rows.Next() {
		var r annotate.Row
		var padj sql.NullFloat64
		err := rows.Scan(&r.GeneID, &r.Symbol, &r.BaseMean, &r.Log2FoldChange, &r.Stat, &r.PValue, &padj)
		if err != nil {
			return nil, 0, err
		}
		r.PAdj = floatOrNaN(padj)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// QueryEnrichment returns pathway results for one collection, best adjusted p first.
func (s *Store) QueryEnrichment(runID, collection string) ([]enrich.PathwayResult, error) {
	rows, err := s.db.Query(`
		SELECT pathway, set_size, es, nes, pvalue, padj, direction, leading_edge
		FROM enrichment_results
		WHERE run_id = ? AND collection = ?
		ORDER BY padj ASC NULLS LAST, ABS(nes) DESC
	`, runID, collection)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []enrich.PathwayResult
	for rows.Next() {
		var r enrich.PathwayResult
		var nes, padj sql.NullFloat64
		var leading string
		err := rows.Scan(&r.Pathway, &r.Size, &r.ES, &nes, &r.PValue, &padj, &r.Direction, &leading)
		if err != nil {
			return nil, err
		}
		r.NES = floatOrNaN(nes)
		r.PAdj = floatOrNaN(padj)
		if leading != "" {
			r.LeadingEdge = strings.Split(leading, ",")
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// Collections lists the enrichment collections stored for a run.
func (s *Store) Collections(runID string) ([]string, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT collection FROM enrichment_results
		WHERE run_id = ? ORDER BY collection
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteRun deletes a run and its result rows.
func (s *Store) DeleteRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM de_results WHERE run_id = ?", runID); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM enrichment_results WHERE run_id = ?", runID); err != nil {
		return err
	}
	_, err := s.db.Exec("DELETE FROM runs WHERE run_id = ?", runID)
	return err
}

// SQLite has no NaN; non-finite values are stored as NULL.
func nullableFloat(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

func floatOrNaN(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}
