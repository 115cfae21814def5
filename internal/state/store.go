package state

// #region imports
import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/overseer/internal/supervisor"
)

// #endregion

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS projects (
	name               TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	phase_index        INTEGER NOT NULL DEFAULT 0,
	phase_name         TEXT,
	phase_started_at   TEXT,
	todos_total        INTEGER NOT NULL DEFAULT 0,
	todos_done         INTEGER NOT NULL DEFAULT 0,
	todos_left         INTEGER NOT NULL DEFAULT 0,
	problems_json      TEXT,
	session_id         TEXT,
	consecutive_errors INTEGER NOT NULL DEFAULT 0,
	quarantined        INTEGER NOT NULL DEFAULT 0,
	complete           INTEGER NOT NULL DEFAULT 0,
	approved           INTEGER NOT NULL DEFAULT 0,
	stats_json         TEXT,
	updated_at         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS decisions (
	id            TEXT PRIMARY KEY,
	project       TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	action        TEXT NOT NULL,
	command       TEXT,
	remedy        TEXT,
	rationale     TEXT,
	confidence    REAL NOT NULL,
	method        TEXT NOT NULL,
	input_tokens  INTEGER,
	output_tokens INTEGER,
	cost_usd      REAL
);

CREATE INDEX IF NOT EXISTS idx_decisions_project_time
ON decisions(project, created_at);

CREATE TABLE IF NOT EXISTS budget_ledger (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	project    TEXT NOT NULL,
	amount_usd REAL NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_budget_ledger_time
ON budget_ledger(created_at);

CREATE TABLE IF NOT EXISTS recovery_snapshot (
	project     TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	last_active TEXT NOT NULL
);
`

// #endregion schema

// #region time-format

// timeColumnFormat is RFC3339 with a fixed-width fraction. RFC3339Nano
// strips trailing zeros, which makes whole-second timestamps sort after
// fractional ones in the same second under the string comparisons the
// queries rely on.
const timeColumnFormat = "2006-01-02T15:04:05.000000000Z07:00"

// #endregion time-format

// #region store-struct

// Store persists supervision state in SQLite. It implements the
// orchestrator's StateStore and the advisory policy's Ledger.
type Store struct {
	db *sql.DB

	// mu serializes ledger access so concurrent per-project workers
	// cannot tear an increment.
	mu sync.Mutex
}

// #endregion store-struct

// #region constructor

// NewStore opens the database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// #endregion constructor

// #region project-state

// LoadProject reads one project record. found is false when the project
// was never saved.
func (s *Store) LoadProject(name string) (supervisor.ProjectState, bool, error) {
	var ps supervisor.ProjectState
	var problemsJSON, statsJSON, phaseStarted, updated sql.NullString
	var sessionID, phaseName sql.NullString
	var quarantined, complete, approved int

	err := s.db.QueryRow(`
		SELECT name, status, phase_index, phase_name, phase_started_at,
		       todos_total, todos_done, todos_left, problems_json, session_id,
		       consecutive_errors, quarantined, complete, approved, stats_json, updated_at
		FROM projects WHERE name = ?`, name,
	).Scan(&ps.Name, &ps.Status, &ps.PhaseIndex, &phaseName, &phaseStarted,
		&ps.TodosTotal, &ps.TodosDone, &ps.TodosLeft, &problemsJSON, &sessionID,
		&ps.ConsecutiveErrors, &quarantined, &complete, &approved, &statsJSON, &updated)
	if err == sql.ErrNoRows {
		return supervisor.ProjectState{}, false, nil
	}
	if err != nil {
		return supervisor.ProjectState{}, false, fmt.Errorf("load project %s: %w", name, err)
	}

	ps.PhaseName = phaseName.String
	ps.SessionID = sessionID.String
	ps.Quarantined = quarantined != 0
	ps.Complete = complete != 0
	ps.Approved = approved != 0
	if phaseStarted.Valid {
		ps.PhaseStartedAt, _ = time.Parse(time.RFC3339Nano, phaseStarted.String)
	}
	if updated.Valid {
		ps.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated.String)
	}
	// Malformed persisted JSON repairs to the zero value rather than
	// failing the load.
	if problemsJSON.Valid && problemsJSON.String != "" {
		_ = json.Unmarshal([]byte(problemsJSON.String), &ps.Problems)
	}
	if statsJSON.Valid && statsJSON.String != "" {
		_ = json.Unmarshal([]byte(statsJSON.String), &ps.Stats)
	}
	return ps, true, nil
}

// SaveProject upserts one project record.
func (s *Store) SaveProject(ps supervisor.ProjectState) error {
	problemsJSON, err := json.Marshal(ps.Problems)
	if err != nil {
		return fmt.Errorf("marshal problems: %w", err)
	}
	statsJSON, err := json.Marshal(ps.Stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO projects
		(name, status, phase_index, phase_name, phase_started_at,
		 todos_total, todos_done, todos_left, problems_json, session_id,
		 consecutive_errors, quarantined, complete, approved, stats_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			status = excluded.status,
			phase_index = excluded.phase_index,
			phase_name = excluded.phase_name,
			phase_started_at = excluded.phase_started_at,
			todos_total = excluded.todos_total,
			todos_done = excluded.todos_done,
			todos_left = excluded.todos_left,
			problems_json = excluded.problems_json,
			session_id = excluded.session_id,
			consecutive_errors = excluded.consecutive_errors,
			quarantined = excluded.quarantined,
			complete = excluded.complete,
			approved = excluded.approved,
			stats_json = excluded.stats_json,
			updated_at = excluded.updated_at`,
		ps.Name, string(ps.Status), ps.PhaseIndex, ps.PhaseName,
		ps.PhaseStartedAt.Format(timeColumnFormat),
		ps.TodosTotal, ps.TodosDone, ps.TodosLeft, string(problemsJSON), ps.SessionID,
		ps.ConsecutiveErrors, boolInt(ps.Quarantined), boolInt(ps.Complete),
		boolInt(ps.Approved), string(statsJSON),
		ps.UpdatedAt.Format(timeColumnFormat),
	)
	if err != nil {
		return fmt.Errorf("save project %s: %w", ps.Name, err)
	}
	return nil
}

// ListProjects returns every saved project, quarantined ones included.
func (s *Store) ListProjects() ([]supervisor.ProjectState, error) {
	rows, err := s.db.Query(`SELECT name FROM projects ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan project name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []supervisor.ProjectState
	for _, name := range names {
		ps, found, err := s.LoadProject(name)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, ps)
		}
	}
	return out, nil
}

// ClearQuarantine resets the quarantine flag and error counter.
func (s *Store) ClearQuarantine(name string) error {
	res, err := s.db.Exec(
		`UPDATE projects SET quarantined = 0, consecutive_errors = 0 WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("clear quarantine %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("project %s not found", name)
	}
	return nil
}

// #endregion project-state

// #region decisions

// AppendDecision writes one decision row. Rows are never updated or
// deleted: the decision log is the authoritative history.
func (s *Store) AppendDecision(dec supervisor.Decision) error {
	var inTok, outTok sql.NullInt64
	var cost sql.NullFloat64
	if dec.Usage != nil {
		inTok = sql.NullInt64{Int64: dec.Usage.InputTokens, Valid: true}
		outTok = sql.NullInt64{Int64: dec.Usage.OutputTokens, Valid: true}
		cost = sql.NullFloat64{Float64: dec.Usage.CostUSD, Valid: true}
	}
	_, err := s.db.Exec(`
		INSERT INTO decisions
		(id, project, created_at, action, command, remedy, rationale, confidence, method,
		 input_tokens, output_tokens, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		dec.ID, dec.Project, dec.Time.Format(timeColumnFormat),
		string(dec.Action), dec.Command, dec.Remedy, dec.Rationale,
		dec.Confidence, string(dec.Method), inTok, outTok, cost,
	)
	if err != nil {
		return fmt.Errorf("append decision: %w", err)
	}
	return nil
}

// RecentDecisions returns a project's decisions at or after since, oldest
// first. Ordering feeds the loop guard and must stay strictly by time.
func (s *Store) RecentDecisions(project string, since time.Time) ([]supervisor.Decision, error) {
	rows, err := s.db.Query(`
		SELECT id, project, created_at, action, command, remedy, rationale, confidence, method,
		       input_tokens, output_tokens, cost_usd
		FROM decisions
		WHERE project = ? AND created_at >= ?
		ORDER BY created_at ASC`,
		project, since.Format(timeColumnFormat))
	if err != nil {
		return nil, fmt.Errorf("recent decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

// LastDecisions returns a project's newest n decisions, newest first.
// This is the derived view used by the status command.
func (s *Store) LastDecisions(project string, n int) ([]supervisor.Decision, error) {
	rows, err := s.db.Query(`
		SELECT id, project, created_at, action, command, remedy, rationale, confidence, method,
		       input_tokens, output_tokens, cost_usd
		FROM decisions
		WHERE project = ?
		ORDER BY created_at DESC LIMIT ?`, project, n)
	if err != nil {
		return nil, fmt.Errorf("last decisions: %w", err)
	}
	defer rows.Close()
	return scanDecisions(rows)
}

func scanDecisions(rows *sql.Rows) ([]supervisor.Decision, error) {
	var out []supervisor.Decision
	for rows.Next() {
		var dec supervisor.Decision
		var createdAt, action, method string
		var command, remedy, rationale sql.NullString
		var inTok, outTok sql.NullInt64
		var cost sql.NullFloat64

		if err := rows.Scan(&dec.ID, &dec.Project, &createdAt, &action, &command,
			&remedy, &rationale, &dec.Confidence, &method, &inTok, &outTok, &cost); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		dec.Time, _ = time.Parse(time.RFC3339Nano, createdAt)
		dec.Action = supervisor.Action(action)
		dec.Method = supervisor.PolicyMethod(method)
		dec.Command = command.String
		dec.Remedy = remedy.String
		dec.Rationale = rationale.String
		if cost.Valid {
			dec.Usage = &supervisor.AdvisoryUsage{
				InputTokens:  inTok.Int64,
				OutputTokens: outTok.Int64,
				CostUSD:      cost.Float64,
			}
		}
		out = append(out, dec)
	}
	return out, rows.Err()
}

// #endregion decisions

// #region budget-ledger

// SpendSince sums advisory spend across all projects at or after from.
func (s *Store) SpendSince(from time.Time) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total sql.NullFloat64
	err := s.db.QueryRow(
		`SELECT SUM(amount_usd) FROM budget_ledger WHERE created_at >= ?`,
		from.Format(timeColumnFormat),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("spend since: %w", err)
	}
	return total.Float64, nil
}

// AddSpend books one advisory charge against the ledger.
func (s *Store) AddSpend(project string, amount float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.Exec(
		`INSERT INTO budget_ledger (project, amount_usd, created_at) VALUES (?, ?, ?)`,
		project, amount, at.Format(timeColumnFormat))
	if err != nil {
		return fmt.Errorf("add spend: %w", err)
	}
	return nil
}

// #endregion budget-ledger

// #region recovery-snapshot

// SaveSnapshot replaces the recovery snapshot with the given bindings.
func (s *Store) SaveSnapshot(bindings []supervisor.SessionBinding) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM recovery_snapshot`); err != nil {
		return fmt.Errorf("clear snapshot: %w", err)
	}
	for _, b := range bindings {
		_, err := tx.Exec(
			`INSERT INTO recovery_snapshot (project, session_id, last_active) VALUES (?, ?, ?)`,
			b.Project, b.SessionID, b.LastActive.Format(timeColumnFormat))
		if err != nil {
			return fmt.Errorf("insert snapshot row: %w", err)
		}
	}
	return tx.Commit()
}

// LoadSnapshot reads the last written recovery snapshot.
func (s *Store) LoadSnapshot() ([]supervisor.SessionBinding, error) {
	rows, err := s.db.Query(
		`SELECT project, session_id, last_active FROM recovery_snapshot ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	defer rows.Close()

	var out []supervisor.SessionBinding
	for rows.Next() {
		var b supervisor.SessionBinding
		var lastActive string
		if err := rows.Scan(&b.Project, &b.SessionID, &lastActive); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		b.LastActive, _ = time.Parse(time.RFC3339Nano, lastActive)
		out = append(out, b)
	}
	return out, rows.Err()
}

// #endregion recovery-snapshot

// #region helpers
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// #endregion helpers
