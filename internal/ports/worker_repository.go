package ports

import (
	"context"
	"time"

	"helmsman/internal/domain"
)

// WorkerRepository persists worker records. Connection status is stored so
// the UI can render it, but the source of truth while running is the
// health monitor.
type WorkerRepository interface {
	Add(ctx context.Context, worker domain.Worker) error
	Get(ctx context.Context, id string) (*domain.Worker, error)
	List(ctx context.Context) ([]domain.Worker, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status domain.WorkerStatus) error
	UpdateHeartbeat(ctx context.Context, id string, at time.Time) error
}
