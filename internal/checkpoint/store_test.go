package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quorumhq/quorum/internal/deliberation"
	"github.com/quorumhq/quorum/internal/errors"
)

func testState(sessionID string) *deliberation.OrchestrationState {
	problem := deliberation.Problem{
		ID:          "p1",
		Description: "migrate the billing system",
		SubProblems: []deliberation.SubProblem{
			{ID: "sp1", Goal: "choose a data model", Complexity: 5, Panel: []string{"maria", "ahmed"}},
		},
	}
	return deliberation.NewState(sessionID, "owner-1", problem, 7)
}

func newTestStore(t *testing.T, opts ...Option) *FileStore {
	t.Helper()
	fs, err := NewFileStore(t.TempDir(), opts...)
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return fs
}

func TestPutAssignsMonotonicSequence(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	state := testState("s1")

	for want := 1; want <= 3; want++ {
		seq, err := fs.Put(ctx, "s1", "discussion_round", state)
		if err != nil {
			t.Fatalf("Put failed: %v", err)
		}
		if seq != want {
			t.Errorf("seq = %d, want %d", seq, want)
		}
	}

	seqs, err := fs.List(ctx, "s1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Errorf("List = %v, want [1 2 3]", seqs)
	}
}

func TestPutDeepCopiesState(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	state := testState("s1")

	if _, err := fs.Put(ctx, "s1", "initial_round", state); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Mutations after Put must not reach the stored snapshot.
	state.Round = 5
	state.AddCost(1.0, 100)

	cp, err := fs.Get(ctx, "s1", 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if cp.State.Round != 1 {
		t.Errorf("stored Round = %d, want the pre-mutation value 1", cp.State.Round)
	}
	if cp.State.TotalCost != 0 {
		t.Errorf("stored TotalCost = %v, want 0", cp.State.TotalCost)
	}
}

func TestGetMissing(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	_, err := fs.Get(ctx, "s1", 1)
	if !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Errorf("err = %v, want ErrCheckpointNotFound", err)
	}
}

func TestLatestSkipsCorruptCheckpoints(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()
	state := testState("s1")

	if _, err := fs.Put(ctx, "s1", "initial_round", state); err != nil {
		t.Fatal(err)
	}
	state.Round = 2
	if _, err := fs.Put(ctx, "s1", "discussion_round", state); err != nil {
		t.Fatal(err)
	}
	state.Round = 3
	if _, err := fs.Put(ctx, "s1", "discussion_round", state); err != nil {
		t.Fatal(err)
	}

	// Corrupt the newest checkpoint on disk.
	path := filepath.Join(fs.dir, "s1", "checkpoint-000003.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o644); err != nil {
		t.Fatal(err)
	}

	cp, err := fs.Latest(ctx, "s1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if cp.Seq != 2 {
		t.Errorf("Latest seq = %d, want 2 (nearest prior valid)", cp.Seq)
	}
	if cp.State.Round != 2 {
		t.Errorf("Latest Round = %d, want 2", cp.State.Round)
	}
}

func TestLatestAllCorrupt(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if _, err := fs.Put(ctx, "s1", "initial_round", testState("s1")); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(fs.dir, "s1", "checkpoint-000001.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := fs.Latest(ctx, "s1"); err == nil {
		t.Error("expected error when every checkpoint is corrupt")
	}
}

func TestLatestNoCheckpoints(t *testing.T) {
	fs := newTestStore(t)
	_, err := fs.Latest(context.Background(), "absent")
	if !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Errorf("err = %v, want ErrCheckpointNotFound", err)
	}
}

func TestValidateRejectsSessionMismatch(t *testing.T) {
	cp := Checkpoint{
		SessionID: "s1",
		Seq:       1,
		Node:      "initial_round",
		CreatedAt: time.Now(),
		State:     testState("other"),
	}
	if err := cp.Validate(); !errors.Is(err, errors.ErrCheckpointCorrupt) {
		t.Errorf("err = %v, want ErrCheckpointCorrupt", err)
	}
}

func TestRetentionPrunesOldest(t *testing.T) {
	fs := newTestStore(t, WithRetention(2))
	ctx := context.Background()
	state := testState("s1")

	for i := 0; i < 5; i++ {
		if _, err := fs.Put(ctx, "s1", "discussion_round", state); err != nil {
			t.Fatal(err)
		}
	}

	seqs, err := fs.List(ctx, "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(seqs) != 2 || seqs[0] != 4 || seqs[1] != 5 {
		t.Errorf("List = %v, want [4 5]", seqs)
	}

	// Sequence numbering continues past pruned snapshots.
	seq, err := fs.Put(ctx, "s1", "discussion_round", state)
	if err != nil {
		t.Fatal(err)
	}
	if seq != 6 {
		t.Errorf("seq after prune = %d, want 6", seq)
	}
}

func TestSessionsAndDelete(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if _, err := fs.Put(ctx, "s1", "initial_round", testState("s1")); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Put(ctx, "s2", "initial_round", testState("s2")); err != nil {
		t.Fatal(err)
	}

	ids, err := fs.Sessions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != "s1" || ids[1] != "s2" {
		t.Errorf("Sessions = %v, want [s1 s2]", ids)
	}

	if err := fs.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := fs.Delete(ctx, "s1"); !errors.Is(err, errors.ErrCheckpointNotFound) {
		t.Errorf("second Delete = %v, want ErrCheckpointNotFound", err)
	}

	ids, _ = fs.Sessions(ctx)
	if len(ids) != 1 || ids[0] != "s2" {
		t.Errorf("Sessions after delete = %v, want [s2]", ids)
	}
}

func TestExpireRemovesStaleSessions(t *testing.T) {
	fs := newTestStore(t, WithTTL(time.Hour))
	ctx := context.Background()

	if _, err := fs.Put(ctx, "old", "initial_round", testState("old")); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Put(ctx, "fresh", "initial_round", testState("fresh")); err != nil {
		t.Fatal(err)
	}

	// Age the old session's checkpoint past the TTL.
	stale := time.Now().Add(-2 * time.Hour)
	path := filepath.Join(fs.dir, "old", "checkpoint-000001.json")
	if err := os.Chtimes(path, stale, stale); err != nil {
		t.Fatal(err)
	}

	expired, err := fs.Expire(ctx)
	if err != nil {
		t.Fatalf("Expire failed: %v", err)
	}
	if len(expired) != 1 || expired[0] != "old" {
		t.Errorf("expired = %v, want [old]", expired)
	}

	ids, _ := fs.Sessions(ctx)
	if len(ids) != 1 || ids[0] != "fresh" {
		t.Errorf("Sessions = %v, want [fresh]", ids)
	}
}

func TestPutRejectsBadInput(t *testing.T) {
	fs := newTestStore(t)
	ctx := context.Background()

	if _, err := fs.Put(ctx, "", "node", testState("s1")); err == nil {
		t.Error("expected error for empty session id")
	}
	if _, err := fs.Put(ctx, "s1", "node", nil); err == nil {
		t.Error("expected error for nil state")
	}
}
