package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/domain"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func testSession(id string) domain.Session {
	return domain.Session{
		ID:          id,
		Status:      domain.StatusQueued,
		WorkingDir:  "/tmp/project",
		Title:       "project",
		Position:    1,
		CreatedAt:   time.Now().UTC(),
		LastUpdated: time.Now().UTC(),
	}
}

func TestAddAndGetSession(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Empty(t, got.WorkerID)
	assert.Zero(t, got.PID)
}

func TestAddDuplicateSessionConflicts(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))
	err := repo.Add(ctx, testSession("s1"))
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))
}

func TestGetMissingSessionNotFound(t *testing.T) {
	repo := newTestRepo(t)

	_, err := repo.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestMarkActiveThenExited(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))
	require.NoError(t, repo.MarkActive(ctx, "s1", "local", 4242))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, got.Status)
	assert.Equal(t, "local", got.WorkerID)
	assert.Equal(t, 4242, got.PID)
	assert.NotNil(t, got.StartedAt)

	require.NoError(t, repo.MarkExited(ctx, "s1", domain.StatusFailed, "spawn failed"))

	got, err = repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)
	assert.Empty(t, got.WorkerID)
	assert.Zero(t, got.PID)
	assert.Equal(t, "spawn failed", got.FailureReason)
	assert.NotNil(t, got.CompletedAt)
}

func TestRequeueBumpsContinuations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))
	require.NoError(t, repo.MarkActive(ctx, "s1", "local", 1))
	require.NoError(t, repo.MarkExited(ctx, "s1", domain.StatusCompleted, ""))
	require.NoError(t, repo.Requeue(ctx, "s1", 7, true))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Equal(t, 7, got.Position)
	assert.Equal(t, 1, got.Continuations)
	assert.Empty(t, got.FailureReason)
	assert.Nil(t, got.CompletedAt)
}

func TestRequeueActiveRecoversOrphans(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))
	require.NoError(t, repo.Add(ctx, testSession("s2")))
	require.NoError(t, repo.MarkActive(ctx, "s1", "local", 1))

	n, err := repo.RequeueActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, got.Status)
	assert.Empty(t, got.WorkerID)
}

func TestListByStatusOrdersByPosition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	s1 := testSession("s1")
	s1.Position = 3
	s2 := testSession("s2")
	s2.Position = 1
	s3 := testSession("s3")
	s3.Position = 2
	require.NoError(t, repo.Add(ctx, s1))
	require.NoError(t, repo.Add(ctx, s2))
	require.NoError(t, repo.Add(ctx, s3))

	queued, err := repo.ListByStatus(ctx, domain.StatusQueued)
	require.NoError(t, err)
	require.Len(t, queued, 3)
	assert.Equal(t, []string{"s2", "s3", "s1"}, []string{queued[0].ID, queued[1].ID, queued[2].ID})
}

func TestNextPosition(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	pos, err := repo.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, pos)

	s := testSession("s1")
	s.Position = 5
	require.NoError(t, repo.Add(ctx, s))

	pos, err = repo.NextPosition(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, pos)
}

func TestSessionMetadataUpdates(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, testSession("s1")))
	require.NoError(t, repo.UpdateTitle(ctx, "s1", "renamed"))
	require.NoError(t, repo.UpdateLock(ctx, "s1", true))
	require.NoError(t, repo.UpdateNeedsInput(ctx, "s1", true))
	require.NoError(t, repo.UpdateAgentRunID(ctx, "s1", "run-99"))

	got, err := repo.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	assert.True(t, got.Locked)
	assert.True(t, got.NeedsInput)
	assert.Equal(t, "run-99", got.AgentRunID)
}

func TestWorkerCRUD(t *testing.T) {
	repo := newTestRepo(t)
	workers := repo.Workers()
	ctx := context.Background()

	w := domain.Worker{
		ID:          "w1",
		Name:        "build1",
		Kind:        domain.WorkerRemote,
		Host:        "build1.internal",
		Port:        22,
		User:        "dev",
		MaxSessions: 2,
		Status:      domain.WorkerDisconnected,
	}
	require.NoError(t, workers.Add(ctx, w))

	// Duplicate name conflicts
	dup := w
	dup.ID = "w2"
	err := workers.Add(ctx, dup)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindConflict))

	got, err := workers.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, "build1", got.Name)
	assert.Equal(t, 2, got.MaxSessions)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, workers.UpdateStatus(ctx, "w1", domain.WorkerConnected))
	require.NoError(t, workers.UpdateHeartbeat(ctx, "w1", now))

	got, err = workers.Get(ctx, "w1")
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerConnected, got.Status)
	assert.WithinDuration(t, now, got.LastHeartbeat, time.Second)

	require.NoError(t, workers.Delete(ctx, "w1"))
	_, err = workers.Get(ctx, "w1")
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestListWorkersOrderedByID(t *testing.T) {
	repo := newTestRepo(t)
	workers := repo.Workers()
	ctx := context.Background()

	for _, id := range []string{"w3", "w1", "w2"} {
		require.NoError(t, workers.Add(ctx, domain.Worker{
			ID: id, Name: id, Kind: domain.WorkerRemote, MaxSessions: 1,
			Status: domain.WorkerDisconnected,
		}))
	}

	list, err := workers.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "w1", list[0].ID)
	assert.Equal(t, "w2", list[1].ID)
	assert.Equal(t, "w3", list[2].ID)
}
