// Package store persists simulation runs to SQLite: the run metadata,
// a mirror of the visualization event stream, and the final per-agent
// results.
package store

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Store provides SQLite persistence for simulation output.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at dbPath and initializes the
// schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		seed INTEGER NOT NULL,
		duration_ms INTEGER NOT NULL,
		warmup_ms INTEGER NOT NULL,
		start_price INTEGER NOT NULL,  -- cents
		final_price INTEGER,           -- cents, set when the run finishes
		matches INTEGER,               -- trade batches executed
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		sim_seconds REAL NOT NULL,
		price INTEGER NOT NULL  -- cents
	);

	CREATE TABLE IF NOT EXISTS book_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL REFERENCES runs(id),
		is_buy INTEGER NOT NULL,
		volume_delta INTEGER NOT NULL,
		price INTEGER NOT NULL  -- cents
	);

	CREATE TABLE IF NOT EXISTS agent_results (
		run_id TEXT NOT NULL REFERENCES runs(id),
		agent_id INTEGER NOT NULL,
		agent_type TEXT NOT NULL,
		inventory INTEGER NOT NULL,
		PRIMARY KEY (run_id, agent_id)
	);

	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run_id);
	CREATE INDEX IF NOT EXISTS idx_book_events_run ON book_events(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Run is one simulation run's metadata.
type Run struct {
	ID         string
	Seed       int64
	DurationMS int64
	WarmupMS   int64
	StartPrice int64
	FinalPrice int64
	Matches    int64
	CreatedAt  time.Time
}

// AgentResult is an agent's final state after a run.
type AgentResult struct {
	RunID     string
	AgentID   int64
	AgentType string
	Inventory int64
}

// TradeRecord is one persisted trade event.
type TradeRecord struct {
	RunID      string
	SimSeconds float64
	Price      int64
}

// CreateRun inserts a new run row and returns its generated id.
func (s *Store) CreateRun(seed, durationMS, warmupMS, startPrice int64) (string, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO runs (id, seed, duration_ms, warmup_ms, start_price) VALUES (?, ?, ?, ?, ?)`,
		id, seed, durationMS, warmupMS, startPrice,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun records the run's closing price and trade batch count.
func (s *Store) FinishRun(runID string, finalPrice, matches int64) error {
	_, err := s.db.Exec(
		`UPDATE runs SET final_price = ?, matches = ? WHERE id = ?`,
		finalPrice, matches, runID,
	)
	return err
}

// GetRun loads one run by id.
func (s *Store) GetRun(runID string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, seed, duration_ms, warmup_ms, start_price,
		        COALESCE(final_price, 0), COALESCE(matches, 0), created_at
		 FROM runs WHERE id = ?`, runID,
	)
	var r Run
	err := row.Scan(&r.ID, &r.Seed, &r.DurationMS, &r.WarmupMS,
		&r.StartPrice, &r.FinalPrice, &r.Matches, &r.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveAgentResult upserts an agent's final inventory for a run.
func (s *Store) SaveAgentResult(runID string, agentID int64, agentType string, inventory int64) error {
	_, err := s.db.Exec(
		`INSERT INTO agent_results (run_id, agent_id, agent_type, inventory)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, agent_id) DO UPDATE SET inventory = excluded.inventory`,
		runID, agentID, agentType, inventory,
	)
	return err
}

// AgentResults returns the saved per-agent results for a run, in agent
// id order.
func (s *Store) AgentResults(runID string) ([]AgentResult, error) {
	rows, err := s.db.Query(
		`SELECT run_id, agent_id, agent_type, inventory
		 FROM agent_results WHERE run_id = ? ORDER BY agent_id`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []AgentResult
	for rows.Next() {
		var r AgentResult
		if err := rows.Scan(&r.RunID, &r.AgentID, &r.AgentType, &r.Inventory); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// RecordTrade appends one trade event for the run.
func (s *Store) RecordTrade(runID string, simSeconds float64, price int64) error {
	_, err := s.db.Exec(
		`INSERT INTO trades (run_id, sim_seconds, price) VALUES (?, ?, ?)`,
		runID, simSeconds, price,
	)
	return err
}

// RecordBookEvent appends one depth-change event for the run.
func (s *Store) RecordBookEvent(runID string, isBuy bool, volumeDelta, price int64) error {
	_, err := s.db.Exec(
		`INSERT INTO book_events (run_id, is_buy, volume_delta, price) VALUES (?, ?, ?, ?)`,
		runID, isBuy, volumeDelta, price,
	)
	return err
}

// TradeCount returns how many trade events a run has persisted.
func (s *Store) TradeCount(runID string) (int64, error) {
	var n int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM trades WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}
