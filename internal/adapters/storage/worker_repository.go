package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"

	"helmsman/internal/domain"
	"helmsman/internal/ports"
)

// WorkerRepo implements ports.WorkerRepository on the shared database
type WorkerRepo struct {
	db *gorm.DB
}

// Verify interface compliance at compile time
var _ ports.WorkerRepository = (*WorkerRepo)(nil)

// Add implements WorkerRepository.Add
func (r *WorkerRepo) Add(ctx context.Context, worker domain.Worker) error {
	return withRetry(func() error {
		model := domainToWorkerModel(worker)
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && (sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique) {
				return domain.ConflictError("worker %s already registered", worker.Name)
			}
			return fmt.Errorf("failed to create worker: %w", err)
		}
		return nil
	}, 3)
}

// Get implements WorkerRepository.Get
func (r *WorkerRepo) Get(ctx context.Context, id string) (*domain.Worker, error) {
	var model WorkerModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	}, 3)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundError("worker %s not found", id)
		}
		return nil, err
	}
	worker := workerModelToDomain(model)
	return &worker, nil
}

// List implements WorkerRepository.List, ordered by id so dispatch
// tie-breaks stay deterministic
func (r *WorkerRepo) List(ctx context.Context) ([]domain.Worker, error) {
	var models []WorkerModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Order("id ASC").Find(&models).Error
	}, 3)
	if err != nil {
		return nil, err
	}
	workers := make([]domain.Worker, 0, len(models))
	for _, m := range models {
		workers = append(workers, workerModelToDomain(m))
	}
	return workers, nil
}

// Delete implements WorkerRepository.Delete
func (r *WorkerRepo) Delete(ctx context.Context, id string) error {
	return withRetry(func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&WorkerModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NotFoundError("worker %s not found", id)
		}
		return nil
	}, 3)
}

// UpdateStatus implements WorkerRepository.UpdateStatus
func (r *WorkerRepo) UpdateStatus(ctx context.Context, id string, status domain.WorkerStatus) error {
	return r.updateWorker(ctx, id, map[string]any{"status": string(status)})
}

// UpdateHeartbeat implements WorkerRepository.UpdateHeartbeat
func (r *WorkerRepo) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	return r.updateWorker(ctx, id, map[string]any{"last_heartbeat": at})
}

func (r *WorkerRepo) updateWorker(ctx context.Context, id string, updates map[string]any) error {
	return withRetry(func() error {
		result := r.db.WithContext(ctx).Model(&WorkerModel{}).
			Where("id = ?", id).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NotFoundError("worker %s not found", id)
		}
		return nil
	}, 3)
}
