package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timestampLayout is fixed-width so that lexicographic ordering of the
// stored text matches chronological ordering. RFC3339Nano trims
// trailing fractional zeros, which breaks ORDER BY within a second.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore persists checkpoints in a SQLite database. Suited to runs
// that checkpoint frequently or share a store across processes.
type SQLiteStore struct {
	db      *sql.DB
	dbPath  string
	options SQLiteStoreOptions
}

// SQLiteStoreOptions configures the SQLite checkpoint store.
type SQLiteStoreOptions struct {
	QueryTimeout      time.Duration
	PragmaJournalMode string
	PragmaSyncMode    string
	MaxConnections    int
}

// DefaultSQLiteStoreOptions returns sensible defaults.
func DefaultSQLiteStoreOptions() SQLiteStoreOptions {
	return SQLiteStoreOptions{
		QueryTimeout:      30 * time.Second,
		PragmaJournalMode: "WAL",
		PragmaSyncMode:    "NORMAL",
		MaxConnections:    10,
	}
}

// NewSQLiteStore opens or creates a SQLite-backed checkpoint store.
func NewSQLiteStore(dbPath string, options SQLiteStoreOptions) (*SQLiteStore, error) {
	if options.QueryTimeout == 0 {
		options = DefaultSQLiteStoreOptions()
	}
	store := &SQLiteStore{dbPath: dbPath, options: options}
	if err := store.initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite checkpoint store: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	dsn := fmt.Sprintf("%s?_journal_mode=%s&_sync=%s&_timeout=5000",
		s.dbPath, s.options.PragmaJournalMode, s.options.PragmaSyncMode)

	var err error
	s.db, err = sql.Open("sqlite3", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	s.db.SetMaxOpenConns(s.options.MaxConnections)
	s.db.SetMaxIdleConns(s.options.MaxConnections / 2)
	s.db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), s.options.QueryTimeout)
	defer cancel()
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS checkpoints (
		id TEXT PRIMARY KEY,
		fingerprint TEXT NOT NULL,
		stage TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		outputs JSON NOT NULL,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_checkpoints_fingerprint ON checkpoints(fingerprint);
	CREATE INDEX IF NOT EXISTS idx_checkpoints_timestamp ON checkpoints(fingerprint, timestamp);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Create persists a record.
func (s *SQLiteStore) Create(ctx context.Context, record *Record) error {
	outputs, err := json.Marshal(record.Outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint outputs: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO checkpoints (id, fingerprint, stage, timestamp, outputs, error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		record.ID, record.Fingerprint, record.Stage,
		record.Timestamp.UTC().Format(timestampLayout), string(outputs), record.Error)
	if err != nil {
		return fmt.Errorf("failed to insert checkpoint: %w", err)
	}
	return nil
}

// FindLatest returns the newest record for a fingerprint, or nil.
func (s *SQLiteStore) FindLatest(ctx context.Context, fingerprint string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx,
		`SELECT id, fingerprint, stage, timestamp, outputs, error
		 FROM checkpoints WHERE fingerprint = ?
		 ORDER BY timestamp DESC LIMIT 1`, fingerprint)
	record, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return record, err
}

// List returns every record in the store, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, fingerprint, stage, timestamp, outputs, error
		 FROM checkpoints ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query checkpoints: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Delete removes one record by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

// Clear removes checkpoints and returns the count removed. A non-empty
// fingerprint clears only that run's records.
func (s *SQLiteStore) Clear(ctx context.Context, fingerprint string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.options.QueryTimeout)
	defer cancel()
	var result sql.Result
	var err error
	if fingerprint != "" {
		result, err = s.db.ExecContext(ctx,
			`DELETE FROM checkpoints WHERE fingerprint = ?`, fingerprint)
	} else {
		result, err = s.db.ExecContext(ctx, `DELETE FROM checkpoints`)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to clear checkpoints: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(removed), nil
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var timestamp, outputs string
	var errText sql.NullString
	if err := row.Scan(&record.ID, &record.Fingerprint, &record.Stage,
		&timestamp, &outputs, &errText); err != nil {
		return nil, err
	}
	parsed, err := time.Parse(timestampLayout, timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse checkpoint timestamp: %w", err)
	}
	record.Timestamp = parsed
	if err := json.Unmarshal([]byte(outputs), &record.Outputs); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint outputs: %w", err)
	}
	if errText.Valid {
		record.Error = errText.String
	}
	return &record, nil
}
