package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"lostctl/internal/engine"
)

// Store wraps SQLite-backed persistence for engine invocations, batch jobs
// and identified attitudes.
type Store struct {
	DB  *sql.DB // Export for direct database access
	Log *slog.Logger
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer; concurrent observers queue on the pool
	db.SetMaxOpenConns(1)
	s := &Store{DB: db, Log: slog.Default()}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
            id TEXT PRIMARY KEY,
            operation TEXT NOT NULL,
            args TEXT NOT NULL,
            exit_code INTEGER,
            signal TEXT,
            duration_ms INTEGER,
            error_message TEXT,
            started_at INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            options_json TEXT,
            created_at INTEGER NOT NULL,
            started_at INTEGER,
            completed_at INTEGER,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS attitudes (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            job_id TEXT,
            image_path TEXT NOT NULL,
            variant TEXT,
            known INTEGER,
            ra REAL,
            de REAL,
            roll REAL,
            fields_json TEXT,
            created_at INTEGER NOT NULL
        );`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_started ON invocations(started_at);`,
		`CREATE INDEX IF NOT EXISTS idx_attitudes_image_path ON attitudes(image_path);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// InvocationRecord is one row of engine invocation history.
type InvocationRecord struct {
	ID        string        `json:"id"`
	Operation string        `json:"operation"`
	Args      string        `json:"args"`
	ExitCode  int           `json:"exit_code"`
	Signal    string        `json:"signal,omitempty"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	StartedAt time.Time     `json:"started_at"`
}

// JobRecord captures persisted batch/watch job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// AttitudeRecord is an identification result for one image.
type AttitudeRecord struct {
	JobID     string             `json:"job_id,omitempty"`
	ImagePath string             `json:"image_path"`
	Variant   string             `json:"variant"`
	Known     int                `json:"known"`
	RA        *float64           `json:"ra,omitempty"`
	De        *float64           `json:"de,omitempty"`
	Roll      *float64           `json:"roll,omitempty"`
	Fields    map[string]float64 `json:"fields,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
}

// NewAttitudeRecord flattens a parsed attitude for storage.
func NewAttitudeRecord(jobID, imagePath, variant string, att engine.Attitude) AttitudeRecord {
	rec := AttitudeRecord{JobID: jobID, ImagePath: imagePath, Variant: variant, Fields: map[string]float64{}}
	rec.Known, _ = att.Known()
	for _, name := range att.Names() {
		if v, ok := att.Value(name); ok {
			rec.Fields[name] = v
		}
	}
	if v, ok := att.Value(engine.FieldRA); ok {
		rec.RA = &v
	}
	if v, ok := att.Value(engine.FieldDe); ok {
		rec.De = &v
	}
	if v, ok := att.Value(engine.FieldRoll); ok {
		rec.Roll = &v
	}
	return rec
}

// ObserveInvocation records every finished engine run. It makes Store an
// engine.Observer.
func (s *Store) ObserveInvocation(rec engine.Record) {
	if err := s.RecordInvocation(rec); err != nil && s.Log != nil {
		s.Log.Warn("failed to record invocation", "id", rec.ID, "error", err)
	}
}

// RecordInvocation inserts one invocation history row.
func (s *Store) RecordInvocation(rec engine.Record) error {
	if s == nil {
		return nil
	}
	var errMsg string
	if rec.Err != nil {
		errMsg = rec.Err.Error()
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO invocations (id, operation, args, exit_code, signal, duration_ms, error_message, started_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, string(rec.Operation), strings.Join(rec.Args, " "), rec.Status.Code, rec.Status.Signal,
		rec.Duration.Milliseconds(), errMsg, rec.Started.UnixMilli())
	return err
}

// RecentInvocations returns the latest invocations up to limit, newest first.
// An empty operation matches all.
func (s *Store) RecentInvocations(operation string, limit int) ([]InvocationRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, operation, args, exit_code, signal, duration_ms, error_message, started_at FROM invocations
        WHERE (? = '' OR operation = ?) ORDER BY started_at DESC LIMIT ?;`, operation, operation, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []InvocationRecord
	for rows.Next() {
		var rec InvocationRecord
		var signal, errMsg sql.NullString
		var durationMS, started int64
		if err := rows.Scan(&rec.ID, &rec.Operation, &rec.Args, &rec.ExitCode, &signal, &durationMS, &errMsg, &started); err != nil {
			return nil, err
		}
		rec.Signal = signal.String
		rec.Error = errMsg.String
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.StartedAt = time.UnixMilli(started)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO jobs (id, job_type, status, input_path, options_json, created_at) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OptionsJSON, time.Now().UnixMilli())
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status='running', started_at=? WHERE id=?;`, time.Now().UnixMilli(), id)
	return err
}

// RecordJobResult finalizes a job with status and error message.
func (s *Store) RecordJobResult(id, status, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE jobs SET status=?, completed_at=?, error_message=? WHERE id=?;`, status, time.Now().UnixMilli(), errMsg, id)
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, options_json, created_at, started_at, completed_at, error_message FROM jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created int64
		var input, options, errorMsg sql.NullString
		var started, completed sql.NullInt64
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &input, &options, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.InputPath = input.String
		rec.OptionsJSON = options.String
		rec.Error = errorMsg.String
		rec.CreatedAt = time.UnixMilli(created)
		if started.Valid {
			t := time.UnixMilli(started.Int64)
			rec.StartedAt = &t
		}
		if completed.Valid {
			t := time.UnixMilli(completed.Int64)
			rec.CompletedAt = &t
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordAttitude stores an identification result.
func (s *Store) RecordAttitude(rec AttitudeRecord) error {
	if s == nil {
		return nil
	}
	fieldsJSON, err := json.Marshal(rec.Fields)
	if err != nil {
		return fmt.Errorf("marshal attitude fields: %w", err)
	}
	_, err = s.DB.Exec(`INSERT INTO attitudes (job_id, image_path, variant, known, ra, de, roll, fields_json, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.ImagePath, rec.Variant, rec.Known, nullFloat(rec.RA), nullFloat(rec.De), nullFloat(rec.Roll),
		string(fieldsJSON), time.Now().UnixMilli())
	return err
}

// Attitudes returns the stored results for imagePath, newest first. An empty
// path returns the latest results for all images.
func (s *Store) Attitudes(imagePath string, limit int) ([]AttitudeRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, image_path, variant, known, ra, de, roll, fields_json, created_at FROM attitudes
        WHERE (? = '' OR image_path = ?) ORDER BY created_at DESC, id DESC LIMIT ?;`, imagePath, imagePath, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []AttitudeRecord
	for rows.Next() {
		var rec AttitudeRecord
		var jobID, variant, fieldsJSON sql.NullString
		var ra, de, roll sql.NullFloat64
		var created int64
		if err := rows.Scan(&jobID, &rec.ImagePath, &variant, &rec.Known, &ra, &de, &roll, &fieldsJSON, &created); err != nil {
			return nil, err
		}
		rec.JobID = jobID.String
		rec.Variant = variant.String
		rec.RA = floatPtr(ra)
		rec.De = floatPtr(de)
		rec.Roll = floatPtr(roll)
		rec.CreatedAt = time.UnixMilli(created)
		if fieldsJSON.Valid && fieldsJSON.String != "" {
			if err := json.Unmarshal([]byte(fieldsJSON.String), &rec.Fields); err != nil {
				return nil, fmt.Errorf("unmarshal attitude fields: %w", err)
			}
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
