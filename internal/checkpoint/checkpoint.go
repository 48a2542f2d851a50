// Package checkpoint persists conversation state per thread. Every save
// appends a compressed snapshot; loading returns the newest one, so a
// thread can be resumed at the stage where it stopped.
package checkpoint

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/hodie/internal/conversation"
)

// ErrNotFound is returned when a thread has no snapshots.
var ErrNotFound = errors.New("checkpoint: thread not found")

// errMissingThreadID rejects saves without a key.
var errMissingThreadID = errors.New("checkpoint: thread id is required")

// Snapshot describes one saved state. State is populated only by Load
// paths, never by History.
type Snapshot struct {
	ID           uuid.UUID `json:"id"`
	ThreadID     string    `json:"thread_id"`
	Seq          int64     `json:"seq"`   // 1-based, per thread
	Stage        string    `json:"stage"` // stage that produced the state
	CreatedAt    time.Time `json:"created_at"`
	ByteSize     int64     `json:"byte_size"` // compressed
	MessageCount int       `json:"message_count"`
}

// ThreadInfo summarizes one stored thread.
type ThreadInfo struct {
	ID        string    `json:"id"`
	UpdatedAt time.Time `json:"updated_at"`
	Snapshots int       `json:"snapshots"`
}

// Store persists conversation state keyed by thread id. Writes to one
// thread are last-write-wins; callers keep a single writer per thread.
// Implementations are safe for concurrent use across threads.
type Store interface {
	// Save appends a snapshot of state under threadID.
	Save(ctx context.Context, threadID, stage string, state *conversation.State) error
	// Load returns the newest state for threadID or ErrNotFound.
	Load(ctx context.Context, threadID string) (*conversation.State, error)
	// History lists snapshot metadata, newest first. limit <= 0 means all.
	History(ctx context.Context, threadID string, limit int) ([]Snapshot, error)
	// Threads lists stored threads, most recently updated first.
	Threads(ctx context.Context) ([]ThreadInfo, error)
	// Prune deletes all but the newest keep snapshots of threadID and
	// returns how many were removed. keep <= 0 is a no-op.
	Prune(ctx context.Context, threadID string, keep int) (int, error)
	// Delete removes every snapshot of threadID.
	Delete(ctx context.Context, threadID string) error
	Close() error
}

// encode serializes and compresses state.
func encode(state *conversation.State) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, fmt.Errorf("compress: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// decode reverses encode.
func decode(data []byte) (*conversation.State, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer gr.Close()

	raw, err := io.ReadAll(gr)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}

	var state conversation.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal state: %w", err)
	}
	return &state, nil
}

// newSnapshot builds the metadata row for an encoded state.
func newSnapshot(threadID, stage string, seq int64, state *conversation.State, data []byte) (Snapshot, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Snapshot{}, fmt.Errorf("generate id: %w", err)
	}
	return Snapshot{
		ID:           id,
		ThreadID:     threadID,
		Seq:          seq,
		Stage:        stage,
		CreatedAt:    time.Now().UTC(),
		ByteSize:     int64(len(data)),
		MessageCount: len(state.Messages),
	}, nil
}
