package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // registers "sqlite3" (cgo)
	_ "modernc.org/sqlite"          // registers "sqlite" (pure Go)

	"github.com/nugget/hodie/internal/conversation"
)

// timeFormat is fixed-width so text ordering matches time ordering.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLStore keeps snapshots in SQLite through database/sql. Both the
// cgo driver ("sqlite3") and the pure-Go driver ("sqlite") share the
// schema and queries.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL opens (creating if needed) a SQLite database at path with
// the named driver.
func OpenSQL(driver, path string) (*SQLStore, error) {
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids busy errors
	// between concurrent threads.
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS snapshots (
			id            TEXT PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			stage         TEXT NOT NULL,
			created_at    TEXT NOT NULL,
			state_gz      BLOB NOT NULL,
			byte_size     INTEGER NOT NULL,
			message_count INTEGER NOT NULL,
			UNIQUE (thread_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_thread
			ON snapshots(thread_id, seq DESC);
	`)
	return err
}

// Save implements [Store].
func (s *SQLStore) Save(ctx context.Context, threadID, stage string, state *conversation.State) error {
	if threadID == "" {
		return errMissingThreadID
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE thread_id = ?`, threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	meta, err := newSnapshot(threadID, stage, seq, state, data)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, thread_id, seq, stage, created_at, state_gz, byte_size, message_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, meta.ID.String(), threadID, seq, stage, meta.CreatedAt.Format(timeFormat),
		data, meta.ByteSize, meta.MessageCount); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return tx.Commit()
}

// Load implements [Store].
func (s *SQLStore) Load(ctx context.Context, threadID string) (*conversation.State, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state_gz FROM snapshots
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, threadID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return decode(data)
}

// History implements [Store].
func (s *SQLStore) History(ctx context.Context, threadID string, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, thread_id, seq, stage, created_at, byte_size, message_count
		FROM snapshots
		WHERE thread_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap              Snapshot
			idStr, createdStr string
		)
		if err := rows.Scan(&idStr, &snap.ThreadID, &snap.Seq, &snap.Stage, &createdStr,
			&snap.ByteSize, &snap.MessageCount); err != nil {
			return nil, err
		}
		snap.ID, _ = uuid.Parse(idStr)
		snap.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return out, nil
}

// Threads implements [Store].
func (s *SQLStore) Threads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT thread_id, MAX(created_at), COUNT(*)
		FROM snapshots
		GROUP BY thread_id
		ORDER BY MAX(created_at) DESC, thread_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []ThreadInfo
	for rows.Next() {
		var (
			info       ThreadInfo
			updatedStr string
		)
		if err := rows.Scan(&info.ID, &updatedStr, &info.Snapshots); err != nil {
			return nil, err
		}
		info.UpdatedAt, _ = time.Parse(timeFormat, updatedStr)
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune implements [Store].
func (s *SQLStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM snapshots
		WHERE thread_id = ?
		  AND seq <= (SELECT MAX(seq) FROM snapshots WHERE thread_id = ?) - ?
	`, threadID, threadID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// Delete implements [Store].
func (s *SQLStore) Delete(ctx context.Context, threadID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements [Store].
func (s *SQLStore) Close() error {
	return s.db.Close()
}
