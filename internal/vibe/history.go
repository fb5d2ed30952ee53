package vibe

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// History persists harness runs so success rates and latency can be
// compared across models and over time.
type History struct {
	db     *sql.DB
	logger *zap.Logger
}

// RunSummary is one stored run, without its phrase detail.
type RunSummary struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	Model        string    `json:"model"`
	Iterations   int       `json:"iterations"`
	PhraseCount  int       `json:"phrase_count"`
	SuccessRate  float64   `json:"success_rate"`
	PassFraction float64   `json:"pass_fraction"`
	Passed       bool      `json:"passed"`
	ElapsedMs    int64     `json:"elapsed_ms"`
}

// TrendPoint is one run's aggregate for a single skill.
type TrendPoint struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Model       string    `json:"model"`
	SuccessRate float64   `json:"success_rate"`
	MeanMs      float64   `json:"mean_ms"`
}

const historySchema = `
CREATE TABLE IF NOT EXISTS vibe_runs (
	id            TEXT PRIMARY KEY,
	started_at    TIMESTAMP NOT NULL,
	model         TEXT NOT NULL,
	iterations    INTEGER NOT NULL,
	phrase_count  INTEGER NOT NULL,
	success_rate  REAL NOT NULL,
	pass_fraction REAL NOT NULL,
	passed        INTEGER NOT NULL,
	elapsed_ms    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS vibe_phrase_results (
	run_id       TEXT NOT NULL REFERENCES vibe_runs(id),
	phrase       TEXT NOT NULL,
	skill        TEXT NOT NULL,
	iterations   INTEGER NOT NULL,
	activations  INTEGER NOT NULL,
	param_checks  INTEGER NOT NULL,
	param_matches INTEGER NOT NULL,
	mean_ms      REAL NOT NULL,
	consistency  REAL NOT NULL,
	passed       INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_vibe_phrase_run ON vibe_phrase_results(run_id);
CREATE INDEX IF NOT EXISTS idx_vibe_phrase_skill ON vibe_phrase_results(skill);
`

// OpenHistory opens (or creates) the run store at path.
func OpenHistory(path string, logger *zap.Logger) (*History, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// Single connection keeps writes serialized through one handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("configuring history database: %w", err)
		}
	}
	if _, err := db.Exec(historySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating history schema: %w", err)
	}
	return &History{db: db, logger: logger}, nil
}

// Close releases the database handle.
func (h *History) Close() error {
	return h.db.Close()
}

// Record stores one report and returns its run ID.
func (h *History) Record(report *Report) (string, error) {
	id := uuid.NewString()

	tx, err := h.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO vibe_runs
		 (id, started_at, model, iterations, phrase_count, success_rate, pass_fraction, passed, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.StartedAt, report.Model, report.Iterations, len(report.Phrases),
		report.SuccessRate, report.PassFraction, report.Passed,
		report.Elapsed.Milliseconds(),
	)
	if err != nil {
		return "", fmt.Errorf("recording run: %w", err)
	}

	stmt, err := tx.Prepare(
		`INSERT INTO vibe_phrase_results
		 (run_id, phrase, skill, iterations, activations, param_checks, param_matches, mean_ms, consistency, passed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", err
	}
	defer stmt.Close()

	for _, p := range report.Phrases {
		if _, err := stmt.Exec(
			id, p.Phrase, p.Skill, p.Iterations, p.Activations,
			p.ParamChecks, p.ParamMatches, p.Latency.MeanMs,
			p.Latency.ConsistencyScore, p.Passed,
		); err != nil {
			return "", fmt.Errorf("recording phrase result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	h.logger.Debug("recorded vibe run", zap.String("id", id), zap.String("model", report.Model))
	return id, nil
}

// Recent returns the newest runs, most recent first.
func (h *History) Recent(limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := h.db.Query(
		`SELECT id, started_at, model, iterations, phrase_count, success_rate, pass_fraction, passed, elapsed_ms
		 FROM vibe_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.Model, &r.Iterations, &r.PhraseCount,
			&r.SuccessRate, &r.PassFraction, &r.Passed, &r.ElapsedMs); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SkillTrend returns per-run aggregates for one skill, oldest first, so
// a regression in activation quality shows up as a falling curve.
func (h *History) SkillTrend(skill string, limit int) ([]TrendPoint, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.Query(
		`SELECT r.id, r.started_at, r.model,
		        AVG(p.activations * 100.0 / p.iterations),
		        AVG(p.mean_ms)
		 FROM vibe_phrase_results p
		 JOIN vibe_runs r ON r.id = p.run_id
		 WHERE p.skill = ?
		 GROUP BY r.id
		 ORDER BY r.started_at ASC
		 LIMIT ?`, skill, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var t TrendPoint
		if err := rows.Scan(&t.RunID, &t.StartedAt, &t.Model, &t.SuccessRate, &t.MeanMs); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
