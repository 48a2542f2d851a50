package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nugget/hodie/internal/conversation"
)

// PostgresStore keeps snapshots in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS snapshots (
			id            UUID PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			seq           BIGINT NOT NULL,
			stage         TEXT NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			state_gz      BYTEA NOT NULL,
			byte_size     BIGINT NOT NULL,
			message_count INTEGER NOT NULL,
			UNIQUE (thread_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_thread
			ON snapshots(thread_id, seq DESC);
	`)
	return err
}

// Save implements [Store].
func (s *PostgresStore) Save(ctx context.Context, threadID, stage string, state *conversation.State) error {
	if threadID == "" {
		return errMissingThreadID
	}
	data, err := encode(state)
	if err != nil {
		return err
	}

	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int64
		if err := tx.QueryRow(ctx,
			`SELECT COALESCE(MAX(seq), 0) + 1 FROM snapshots WHERE thread_id = $1`, threadID,
		).Scan(&seq); err != nil {
			return fmt.Errorf("next seq: %w", err)
		}

		meta, err := newSnapshot(threadID, stage, seq, state, data)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO snapshots (id, thread_id, seq, stage, created_at, state_gz, byte_size, message_count)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, meta.ID.String(), threadID, seq, stage, meta.CreatedAt, data, meta.ByteSize, meta.MessageCount); err != nil {
			return fmt.Errorf("insert: %w", err)
		}
		return nil
	})
}

// Load implements [Store].
func (s *PostgresStore) Load(ctx context.Context, threadID string) (*conversation.State, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `
		SELECT state_gz FROM snapshots
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, threadID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return decode(data)
}

// History implements [Store].
func (s *PostgresStore) History(ctx context.Context, threadID string, limit int) ([]Snapshot, error) {
	var lim any // NULL means no limit
	if limit > 0 {
		lim = limit
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, thread_id, seq, stage, created_at, byte_size, message_count
		FROM snapshots
		WHERE thread_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`, threadID, lim)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		var (
			snap  Snapshot
			idStr string
		)
		if err := rows.Scan(&idStr, &snap.ThreadID, &snap.Seq, &snap.Stage, &snap.CreatedAt,
			&snap.ByteSize, &snap.MessageCount); err != nil {
			return nil, err
		}
		snap.ID, _ = uuid.Parse(idStr)
		snap.CreatedAt = snap.CreatedAt.UTC()
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
func (s *PostgresStore) Threads(ctx context.Context) ([]ThreadInfo, error) {
	rows, err := s.pool.Query(ctx, `
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
		var info ThreadInfo
		if err := rows.Scan(&info.ID, &info.UpdatedAt, &info.Snapshots); err != nil {
			return nil, err
		}
		info.UpdatedAt = info.UpdatedAt.UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune implements [Store].
func (s *PostgresStore) Prune(ctx context.Context, threadID string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM snapshots
		WHERE thread_id = $1
		  AND seq <= (SELECT MAX(seq) FROM snapshots WHERE thread_id = $1) - $2
	`, threadID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Delete implements [Store].
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM snapshots WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Close implements [Store].
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
