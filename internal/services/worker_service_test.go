package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helmsman/internal/domain"
)

func newTestWorkerService(t *testing.T) (*WorkerService, *memWorkerRepo, *memSessionRepo, *stubTunnels) {
	t.Helper()
	workers := newMemWorkerRepo()
	sessions := newMemSessionRepo()
	tunnels := newStubTunnels()
	svc := NewWorkerService(workers, sessions, tunnels, nil, 4)
	return svc, workers, sessions, tunnels
}

func TestEnsureLocalRegistersOnce(t *testing.T) {
	svc, workers, _, _ := newTestWorkerService(t)

	require.NoError(t, svc.EnsureLocal(context.Background()))
	require.NoError(t, svc.EnsureLocal(context.Background()))

	all, err := workers.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.LocalWorkerID, all[0].ID)
	assert.Equal(t, domain.WorkerLocal, all[0].Kind)
	assert.Equal(t, domain.WorkerConnected, all[0].Status)
	assert.Equal(t, 4, all[0].MaxSessions)
}

func TestEnsureLocalResetsStaleStatus(t *testing.T) {
	svc, workers, _, _ := newTestWorkerService(t)
	require.NoError(t, svc.EnsureLocal(context.Background()))
	require.NoError(t, workers.UpdateStatus(context.Background(), domain.LocalWorkerID, domain.WorkerError))

	require.NoError(t, svc.EnsureLocal(context.Background()))

	local, err := workers.Get(context.Background(), domain.LocalWorkerID)
	require.NoError(t, err)
	assert.Equal(t, domain.WorkerConnected, local.Status)
}

func TestRegisterStartsTunnel(t *testing.T) {
	svc, _, _, tunnels := newTestWorkerService(t)

	worker, err := svc.Register(context.Background(), RegisterWorkerParams{
		Name:        "build-box",
		Host:        "10.0.0.5",
		User:        "dev",
		MaxSessions: 2,
	})

	require.NoError(t, err)
	assert.Equal(t, domain.WorkerRemote, worker.Kind)
	assert.Equal(t, domain.WorkerDisconnected, worker.Status)
	tunnels.mu.Lock()
	defer tunnels.mu.Unlock()
	assert.Equal(t, []string{worker.ID}, tunnels.ensured)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _, _ := newTestWorkerService(t)

	cases := []struct {
		name   string
		params RegisterWorkerParams
	}{
		{"empty name", RegisterWorkerParams{Host: "h", User: "u"}},
		{"empty host", RegisterWorkerParams{Name: "n", User: "u"}},
		{"empty user", RegisterWorkerParams{Name: "n", Host: "h"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(context.Background(), tc.params)
			require.Error(t, err)
			assert.Equal(t, domain.KindValidation, domain.KindOf(err))
		})
	}
}

func TestRegisterDefaultsMaxSessions(t *testing.T) {
	svc, _, _, _ := newTestWorkerService(t)

	worker, err := svc.Register(context.Background(), RegisterWorkerParams{
		Name: "box", Host: "h", User: "u",
	})

	require.NoError(t, err)
	assert.Equal(t, 1, worker.MaxSessions)
}

func TestUnregisterDropsTunnel(t *testing.T) {
	svc, workers, _, tunnels := newTestWorkerService(t)
	worker, err := svc.Register(context.Background(), RegisterWorkerParams{Name: "box", Host: "h", User: "u"})
	require.NoError(t, err)

	require.NoError(t, svc.Unregister(context.Background(), worker.ID))

	_, err = workers.Get(context.Background(), worker.ID)
	assert.Equal(t, domain.KindNotFound, domain.KindOf(err))
	tunnels.mu.Lock()
	defer tunnels.mu.Unlock()
	assert.Equal(t, []string{worker.ID}, tunnels.dropped)
}

func TestUnregisterWithBoundSessionConflicts(t *testing.T) {
	svc, _, sessions, _ := newTestWorkerService(t)
	worker, err := svc.Register(context.Background(), RegisterWorkerParams{Name: "box", Host: "h", User: "u"})
	require.NoError(t, err)
	require.NoError(t, sessions.Add(context.Background(), domain.Session{
		ID: "s1", Status: domain.StatusQueued, WorkingDir: "/tmp",
	}))
	require.NoError(t, sessions.MarkActive(context.Background(), "s1", worker.ID, 99))

	err = svc.Unregister(context.Background(), worker.ID)

	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestUnregisterWithTerminalSessionsSucceeds(t *testing.T) {
	svc, _, sessions, _ := newTestWorkerService(t)
	worker, err := svc.Register(context.Background(), RegisterWorkerParams{Name: "box", Host: "h", User: "u"})
	require.NoError(t, err)
	require.NoError(t, sessions.Add(context.Background(), domain.Session{
		ID: "s1", Status: domain.StatusCompleted, WorkerID: worker.ID, WorkingDir: "/tmp",
	}))

	// Completed rows keep no worker binding in the real adapter; this
	// exercises the guard on whatever is still attributed.
	assert.NoError(t, svc.Unregister(context.Background(), worker.ID))
}

func TestLocalWorkerCannotBeRemoved(t *testing.T) {
	svc, _, _, _ := newTestWorkerService(t)
	require.NoError(t, svc.EnsureLocal(context.Background()))

	err := svc.Unregister(context.Background(), domain.LocalWorkerID)

	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestTestConnectionUsesInjectedProbe(t *testing.T) {
	workers := newMemWorkerRepo()
	sessions := newMemSessionRepo()
	var probed domain.Worker
	tester := func(_ context.Context, w domain.Worker, _ time.Duration) error {
		probed = w
		return nil
	}
	svc := NewWorkerService(workers, sessions, newStubTunnels(), tester, 4)

	err := svc.TestConnection(context.Background(), RegisterWorkerParams{
		Host: "10.0.0.9", Port: 2202, User: "dev",
	}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, "10.0.0.9", probed.Host)
	assert.Equal(t, 2202, probed.Port)

	all, listErr := workers.List(context.Background())
	require.NoError(t, listErr)
	assert.Empty(t, all, "test-connection must not register anything")
}

func TestResumeTunnelsSkipsLocal(t *testing.T) {
	svc, _, _, tunnels := newTestWorkerService(t)
	require.NoError(t, svc.EnsureLocal(context.Background()))
	worker, err := svc.Register(context.Background(), RegisterWorkerParams{Name: "box", Host: "h", User: "u"})
	require.NoError(t, err)

	require.NoError(t, svc.ResumeTunnels(context.Background()))

	tunnels.mu.Lock()
	defer tunnels.mu.Unlock()
	// One Ensure from Register, one from ResumeTunnels, none for local.
	assert.Equal(t, []string{worker.ID, worker.ID}, tunnels.ensured)
}
