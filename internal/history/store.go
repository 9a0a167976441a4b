// Package history keeps a SQLite record of every batch and job outcome.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hochfrequenz/replay-orchestrator/internal/domain"
)

var (
	ErrNotFound  = errors.New("batch not found")
	ErrAmbiguous = errors.New("batch id prefix matches more than one batch")
)

// BatchRecord is a stored batch summary
type BatchRecord struct {
	ID         string
	ReplaysDir string
	OutputDir  string
	Reprocess  bool
	Total      int
	StartedAt  time.Time
	FinishedAt *time.Time
	Completed  int
	Skipped    int
	Failed     int
	Abandoned  bool
}

// ShortID returns the first segment of the batch ID
func (r BatchRecord) ShortID() string {
	if len(r.ID) < 8 {
		return r.ID
	}
	return r.ID[:8]
}

// JobRecord is a stored job outcome
type JobRecord struct {
	BatchID    string
	JobID      domain.JobID
	InputPath  string
	OutputPath string
	Status     domain.JobStatus
	ExitCode   *int // nil until the converter has finished
	Stdout     string
	Stderr     string
	Duration   time.Duration
	Error      string
	FinishedAt *time.Time
}

// Store provides SQLite-backed conversion history
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at dbPath. ":memory:" gives a private
// in-memory database.
func Open(dbPath string) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" a single database and serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordBatch inserts a newly started batch
func (s *Store) RecordBatch(b *domain.Batch) error {
	_, err := s.db.Exec(`
		INSERT INTO batches (id, replays_dir, output_dir, reprocess, total, started_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET total = excluded.total
	`,
		b.ID,
		b.ReplaysDir,
		b.OutputDir,
		b.Reprocess,
		b.Progress.Total,
		b.StartedAt,
	)
	return err
}

// RecordJob upserts the latest status of a job. result is nil until the
// job has finished.
func (s *Store) RecordJob(batchID string, job domain.ReplayJob, status domain.JobStatus, result *domain.ConversionResult) error {
	var (
		exitCode   sql.NullInt64
		stdout     sql.NullString
		stderr     sql.NullString
		durationMS sql.NullInt64
		errText    sql.NullString
		finishedAt sql.NullTime
	)
	if result != nil {
		exitCode = sql.NullInt64{Int64: int64(result.ExitCode), Valid: true}
		stdout = sql.NullString{String: result.Stdout, Valid: true}
		stderr = sql.NullString{String: result.Stderr, Valid: true}
		durationMS = sql.NullInt64{Int64: result.Duration.Milliseconds(), Valid: true}
		errText = sql.NullString{String: result.Err, Valid: result.Err != ""}
		finishedAt = sql.NullTime{Time: result.FinishedAt, Valid: !result.FinishedAt.IsZero()}
	} else if status == domain.StatusSkipped {
		finishedAt = sql.NullTime{Time: time.Now(), Valid: true}
	}

	_, err := s.db.Exec(`
		INSERT INTO jobs (batch_id, job_id, input_path, output_path, status, exit_code, stdout, stderr, duration_ms, error, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(batch_id, job_id) DO UPDATE SET
			status = excluded.status,
			exit_code = COALESCE(excluded.exit_code, jobs.exit_code),
			stdout = COALESCE(excluded.stdout, jobs.stdout),
			stderr = COALESCE(excluded.stderr, jobs.stderr),
			duration_ms = COALESCE(excluded.duration_ms, jobs.duration_ms),
			error = COALESCE(excluded.error, jobs.error),
			finished_at = COALESCE(excluded.finished_at, jobs.finished_at)
	`,
		batchID,
		int64(job.ID),
		job.InputPath,
		job.OutputPath,
		string(status),
		exitCode,
		stdout,
		stderr,
		durationMS,
		errText,
		finishedAt,
	)
	return err
}

// FinishBatch stores the final tallies of a batch
func (s *Store) FinishBatch(b *domain.Batch) error {
	counts := b.Counts()
	var finishedAt sql.NullTime
	if b.FinishedAt != nil {
		finishedAt = sql.NullTime{Time: *b.FinishedAt, Valid: true}
	}

	res, err := s.db.Exec(`
		UPDATE batches SET finished_at = ?, completed = ?, skipped = ?, failed = ?, abandoned = ?
		WHERE id = ?
	`,
		finishedAt,
		counts[domain.StatusCompleted],
		counts[domain.StatusSkipped],
		counts[domain.StatusFailed],
		b.Abandoned,
		b.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", b.ShortID(), ErrNotFound)
	}
	return nil
}

const batchColumns = `id, replays_dir, output_dir, reprocess, total, started_at, finished_at, completed, skipped, failed, abandoned`

// ListBatches returns the most recent batches first. limit <= 0 returns all.
func (s *Store) ListBatches(limit int) ([]BatchRecord, error) {
	query := `SELECT ` + batchColumns + ` FROM batches ORDER BY started_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// GetBatch returns the batch whose ID equals or starts with id
func (s *Store) GetBatch(id string) (BatchRecord, error) {
	rows, err := s.db.Query(`SELECT `+batchColumns+` FROM batches WHERE id = ? OR id LIKE ? LIMIT 2`, id, id+"%")
	if err != nil {
		return BatchRecord{}, err
	}
	defer rows.Close()

	var found []BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return BatchRecord{}, err
		}
		found = append(found, b)
	}
	if err := rows.Err(); err != nil {
		return BatchRecord{}, err
	}

	switch len(found) {
	case 0:
		return BatchRecord{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	case 1:
		return found[0], nil
	default:
		for _, b := range found {
			if b.ID == id {
				return b, nil
			}
		}
		return BatchRecord{}, fmt.Errorf("%s: %w", id, ErrAmbiguous)
	}
}

// ListJobs returns the jobs of a batch in ID order
func (s *Store) ListJobs(batchID string) ([]JobRecord, error) {
	rows, err := s.db.Query(`
		SELECT batch_id, job_id, input_path, output_path, status, exit_code, stdout, stderr, duration_ms, error, finished_at
		FROM jobs WHERE batch_id = ? ORDER BY job_id
	`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// FailedInputs returns the input paths of the failed jobs of a batch
func (s *Store) FailedInputs(batchID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT input_path FROM jobs WHERE batch_id = ? AND status = ? ORDER BY job_id`,
		batchID, string(domain.StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var inputs []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		inputs = append(inputs, p)
	}
	return inputs, rows.Err()
}

func scanBatch(rows *sql.Rows) (BatchRecord, error) {
	var b BatchRecord
	var finishedAt sql.NullTime

	err := rows.Scan(&b.ID, &b.ReplaysDir, &b.OutputDir, &b.Reprocess, &b.Total, &b.StartedAt, &finishedAt,
		&b.Completed, &b.Skipped, &b.Failed, &b.Abandoned)
	if err != nil {
		return BatchRecord{}, err
	}
	if finishedAt.Valid {
		t := finishedAt.Time
		b.FinishedAt = &t
	}
	return b, nil
}

func scanJob(rows *sql.Rows) (JobRecord, error) {
	var j JobRecord
	var id int64
	var status string
	var exitCode, durationMS sql.NullInt64
	var stdout, stderr, errText sql.NullString
	var finishedAt sql.NullTime

	err := rows.Scan(&j.BatchID, &id, &j.InputPath, &j.OutputPath, &status, &exitCode, &stdout, &stderr,
		&durationMS, &errText, &finishedAt)
	if err != nil {
		return JobRecord{}, err
	}

	j.JobID = domain.JobID(id)
	j.Status = domain.JobStatus(status)
	if exitCode.Valid {
		code := int(exitCode.Int64)
		j.ExitCode = &code
	}
	j.Stdout = stdout.String
	j.Stderr = stderr.String
	j.Error = errText.String
	j.Duration = time.Duration(durationMS.Int64) * time.Millisecond
	if finishedAt.Valid {
		t := finishedAt.Time
		j.FinishedAt = &t
	}
	return j, nil
}
