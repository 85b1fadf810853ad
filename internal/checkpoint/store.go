// Package checkpoint persists immutable orchestration state snapshots.
// Each checkpoint captures the full deliberation state after a node
// completes, so a session can be resumed, rewound, or inspected after
// the fact. Checkpoints are write-once: a rewind never mutates history,
// it starts a new execution from an old snapshot.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
)

// Checkpoint is one immutable snapshot of a session.
type Checkpoint struct {
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Node      string    `json:"node"`
	CreatedAt time.Time `json:"created_at"`

	State *deliberation.OrchestrationState `json:"state"`
}

// Validate checks internal consistency of a loaded checkpoint.
func (c *Checkpoint) Validate() error {
	if c.SessionID == "" {
		return errors.Wrap(errors.ErrCheckpointCorrupt, "missing session id")
	}
	if c.Seq < 1 {
		return errors.Wrapf(errors.ErrCheckpointCorrupt, "bad sequence %d", c.Seq)
	}
	if c.State == nil {
		return errors.Wrap(errors.ErrCheckpointCorrupt, "missing state")
	}
	if c.State.SessionID != c.SessionID {
		return errors.Wrapf(errors.ErrCheckpointCorrupt,
			"state belongs to session %s", c.State.SessionID)
	}
	if err := c.State.Validate(); err != nil {
		return errors.Wrap(errors.ErrCheckpointCorrupt, err.Error())
	}
	return nil
}

// Store is the checkpoint persistence contract.
type Store interface {
	// Put persists a snapshot and returns the assigned sequence number.
	// The state is deep-copied before writing; callers may keep mutating
	// their state afterwards.
	Put(ctx context.Context, sessionID, node string, state *deliberation.OrchestrationState) (int, error)

	// Get loads one checkpoint by sequence number.
	Get(ctx context.Context, sessionID string, seq int) (*Checkpoint, error)

	// Latest loads the newest valid checkpoint for a session, skipping
	// over corrupt snapshots.
	Latest(ctx context.Context, sessionID string) (*Checkpoint, error)

	// List returns the sequence numbers present for a session, ascending.
	List(ctx context.Context, sessionID string) ([]int, error)

	// Sessions returns the IDs of all sessions that have checkpoints.
	Sessions(ctx context.Context) ([]string, error)

	// Delete removes all checkpoints for a session.
	Delete(ctx context.Context, sessionID string) error
}

// FileStore keeps checkpoints as JSON files, one directory per session:
//
//	<dir>/<sessionID>/checkpoint-000001.json
//
// Writes are atomic (temp file, sync, rename) so a crash mid-write
// never leaves a truncated checkpoint at the target path.
type FileStore struct {
	dir       string
	retention int
	ttl       time.Duration
	mu        sync.Mutex
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithRetention keeps at most n checkpoints per session; older ones are
// pruned after each Put. Zero keeps everything.
func WithRetention(n int) Option {
	return func(fs *FileStore) { fs.retention = n }
}

// WithTTL expires whole session directories whose newest checkpoint is
// older than d. Zero disables expiry.
func WithTTL(d time.Duration) Option {
	return func(fs *FileStore) { fs.ttl = d }
}

// NewFileStore creates a FileStore rooted at dir, creating it if needed.
func NewFileStore(dir string, opts ...Option) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating checkpoint directory")
	}
	fs := &FileStore{dir: dir}
	for _, opt := range opts {
		opt(fs)
	}
	return fs, nil
}

// Put implements Store.
func (fs *FileStore) Put(ctx context.Context, sessionID, node string, state *deliberation.OrchestrationState) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if sessionID == "" {
		return 0, errors.NewValidationError("session id is required")
	}
	if state == nil {
		return 0, errors.NewValidationError("state is required")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	sessionDir := fs.sessionDir(sessionID)
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return 0, errors.NewCheckpointError("creating session directory", err).WithSessionID(sessionID)
	}

	seqs, err := fs.listLocked(sessionID)
	if err != nil {
		return 0, err
	}
	seq := 1
	if len(seqs) > 0 {
		seq = seqs[len(seqs)-1] + 1
	}

	cp := Checkpoint{
		SessionID: sessionID,
		Seq:       seq,
		Node:      node,
		CreatedAt: time.Now().UTC(),
		State:     state.Clone(),
	}
	data, err := json.MarshalIndent(&cp, "", "  ")
	if err != nil {
		return 0, errors.NewCheckpointError("marshaling checkpoint", err).WithSessionID(sessionID).WithSeq(seq)
	}

	path := fs.checkpointPath(sessionID, seq)
	if err := atomicWriteFile(path, data, 0644); err != nil {
		return 0, errors.NewCheckpointError("writing checkpoint", err).WithSessionID(sessionID).WithSeq(seq)
	}

	if fs.retention > 0 {
		fs.pruneLocked(sessionID, append(seqs, seq))
	}
	return seq, nil
}

// Get implements Store.
func (fs *FileStore) Get(ctx context.Context, sessionID string, seq int) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readLocked(sessionID, seq)
}

// Latest implements Store. Corrupt snapshots are skipped, so the newest
// checkpoint that still validates wins; the caller only fails when no
// valid checkpoint remains.
func (fs *FileStore) Latest(ctx context.Context, sessionID string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	seqs, err := fs.listLocked(sessionID)
	if err != nil {
		return nil, err
	}
	if len(seqs) == 0 {
		return nil, errors.NewCheckpointError("no checkpoints", errors.ErrCheckpointNotFound).WithSessionID(sessionID)
	}

	var lastErr error
	for i := len(seqs) - 1; i >= 0; i-- {
		cp, err := fs.readLocked(sessionID, seqs[i])
		if err != nil {
			if errors.Is(err, errors.ErrCheckpointCorrupt) {
				lastErr = err
				continue
			}
			return nil, err
		}
		return cp, nil
	}
	return nil, errors.NewCheckpointError("all checkpoints corrupt", lastErr).WithSessionID(sessionID)
}

// List implements Store.
func (fs *FileStore) List(ctx context.Context, sessionID string) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.listLocked(sessionID)
}

// Sessions implements Store.
func (fs *FileStore) Sessions(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading checkpoint directory")
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete implements Store.
func (fs *FileStore) Delete(ctx context.Context, sessionID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	sessionDir := fs.sessionDir(sessionID)
	if _, err := os.Stat(sessionDir); err != nil {
		if os.IsNotExist(err) {
			return errors.NewCheckpointError("no checkpoints", errors.ErrCheckpointNotFound).WithSessionID(sessionID)
		}
		return errors.Wrap(err, "checking session directory")
	}
	if err := os.RemoveAll(sessionDir); err != nil {
		return errors.NewCheckpointError("deleting checkpoints", err).WithSessionID(sessionID)
	}
	return nil
}

// Expire removes session directories whose newest checkpoint is older
// than the configured TTL. It returns the expired session IDs.
func (fs *FileStore) Expire(ctx context.Context) ([]string, error) {
	if fs.ttl <= 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading checkpoint directory")
	}

	cutoff := time.Now().Add(-fs.ttl)
	var expired []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sessionID := e.Name()
		seqs, err := fs.listLocked(sessionID)
		if err != nil || len(seqs) == 0 {
			continue
		}
		info, err := os.Stat(fs.checkpointPath(sessionID, seqs[len(seqs)-1]))
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.RemoveAll(fs.sessionDir(sessionID)); err == nil {
				expired = append(expired, sessionID)
			}
		}
	}
	return expired, nil
}

func (fs *FileStore) readLocked(sessionID string, seq int) (*Checkpoint, error) {
	data, err := os.ReadFile(fs.checkpointPath(sessionID, seq))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewCheckpointError("checkpoint missing", errors.ErrCheckpointNotFound).
				WithSessionID(sessionID).WithSeq(seq)
		}
		return nil, errors.NewCheckpointError("reading checkpoint", err).WithSessionID(sessionID).WithSeq(seq)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, errors.NewCheckpointError("parsing checkpoint",
			errors.Wrap(errors.ErrCheckpointCorrupt, err.Error())).
			WithSessionID(sessionID).WithSeq(seq)
	}
	if err := cp.Validate(); err != nil {
		return nil, errors.NewCheckpointError("validating checkpoint", err).WithSessionID(sessionID).WithSeq(seq)
	}
	return &cp, nil
}

func (fs *FileStore) listLocked(sessionID string) ([]int, error) {
	entries, err := os.ReadDir(fs.sessionDir(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading session directory")
	}

	var seqs []int
	for _, e := range entries {
		var seq int
		if _, err := fmt.Sscanf(e.Name(), "checkpoint-%06d.json", &seq); err == nil {
			seqs = append(seqs, seq)
		}
	}
	sort.Ints(seqs)
	return seqs, nil
}

func (fs *FileStore) pruneLocked(sessionID string, seqs []int) {
	if len(seqs) <= fs.retention {
		return
	}
	for _, seq := range seqs[:len(seqs)-fs.retention] {
		os.Remove(fs.checkpointPath(sessionID, seq))
	}
}

func (fs *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(fs.dir, sessionID)
}

func (fs *FileStore) checkpointPath(sessionID string, seq int) string {
	return filepath.Join(fs.sessionDir(sessionID), fmt.Sprintf("checkpoint-%06d.json", seq))
}

// atomicWriteFile writes data to a file atomically by writing to a
// temporary file first, then renaming. This ensures the target file is
// never in a partially-written state.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
