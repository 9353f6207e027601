package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Item statuses recorded in the history.
const (
	StatusDone    = "done"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// Run is one invocation of the pipeline.
type Run struct {
	ID         string
	Link       string
	Kind       string
	Title      string
	Succeeded  int
	Failed     int
	StartedAt  time.Time
	FinishedAt *time.Time
}

// Entry is the recorded result of one item.
type Entry struct {
	RunID        string
	Kind         string
	ItemID       string
	Title        string
	FilePath     string
	Status       string
	ErrorKind    string
	ErrorMessage string
	Bytes        int64
	Checksum     string
	Warnings     []string
	RecordedAt   time.Time
}

// HistoryStore keeps a ledger of runs and item results.
type HistoryStore struct {
	db *sql.DB
}

// NewHistoryStore creates a new HistoryStore
func NewHistoryStore(db *sql.DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// BeginRun records the start of a run.
func (hs *HistoryStore) BeginRun(id, link string) error {
	_, err := hs.db.Exec(
		`INSERT INTO runs (id, link, started_at) VALUES (?, ?, ?)`,
		id, link, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to begin run: %w", err)
	}
	return nil
}

// FinishRun stores what the link resolved to and the final counts.
func (hs *HistoryStore) FinishRun(id, kind, title string, succeeded, failed int) error {
	res, err := hs.db.Exec(
		`UPDATE runs SET kind = ?, title = ?, succeeded = ?, failed = ?, finished_at = ? WHERE id = ?`,
		kind, title, succeeded, failed, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

// GetRun returns a run by id.
func (hs *HistoryStore) GetRun(id string) (*Run, error) {
	run := &Run{}
	var kind, title sql.NullString
	var finished sql.NullTime
	err := hs.db.QueryRow(
		`SELECT id, link, kind, title, succeeded, failed, started_at, finished_at FROM runs WHERE id = ?`,
		id,
	).Scan(&run.ID, &run.Link, &kind, &title, &run.Succeeded, &run.Failed, &run.StartedAt, &finished)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	run.Kind = kind.String
	run.Title = title.String
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}

// Record appends an item result.
func (hs *HistoryStore) Record(entry *Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}
	_, err := hs.db.Exec(`
		INSERT INTO download_history (
			run_id, kind, item_id, title, file_path, status,
			error_kind, error_message, bytes, checksum, warnings, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RunID,
		entry.Kind,
		entry.ItemID,
		entry.Title,
		entry.FilePath,
		entry.Status,
		entry.ErrorKind,
		entry.ErrorMessage,
		entry.Bytes,
		entry.Checksum,
		strings.Join(entry.Warnings, "\n"),
		entry.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record history entry: %w", err)
	}
	return nil
}

// ListRun returns the entries of a run in recording order.
func (hs *HistoryStore) ListRun(runID string) ([]*Entry, error) {
	return hs.query(`
		SELECT run_id, kind, item_id, title, file_path, status, error_kind,
			error_message, bytes, checksum, warnings, recorded_at
		FROM download_history WHERE run_id = ? ORDER BY id`, runID)
}

// LastSuccess returns the most recent successful entry for an item, or nil.
func (hs *HistoryStore) LastSuccess(kind, itemID string) (*Entry, error) {
	entries, err := hs.query(`
		SELECT run_id, kind, item_id, title, file_path, status, error_kind,
			error_message, bytes, checksum, warnings, recorded_at
		FROM download_history
		WHERE kind = ? AND item_id = ? AND status != ?
		ORDER BY id DESC LIMIT 1`, kind, itemID, StatusFailed)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return entries[0], nil
}

func (hs *HistoryStore) query(query string, args ...any) ([]*Entry, error) {
	rows, err := hs.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e := &Entry{}
		var path, errKind, errMsg, checksum, warnings sql.NullString
		if err := rows.Scan(
			&e.RunID, &e.Kind, &e.ItemID, &e.Title, &path, &e.Status, &errKind,
			&errMsg, &e.Bytes, &checksum, &warnings, &e.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan history entry: %w", err)
		}
		e.FilePath = path.String
		e.ErrorKind = errKind.String
		e.ErrorMessage = errMsg.String
		e.Checksum = checksum.String
		if warnings.String != "" {
			e.Warnings = strings.Split(warnings.String, "\n")
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
