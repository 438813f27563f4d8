package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

// SQLiteRepository implements ports.SessionRepository using GORM. Worker
// records live in the same database; see WorkerRepo.
type SQLiteRepository struct {
	db *gorm.DB
}

// Verify interface compliance at compile time
var _ ports.SessionRepository = (*SQLiteRepository)(nil)

// gormLogger wraps the helmsman logger for GORM
type gormLogger struct {
	level logger.LogLevel
}

func (l *gormLogger) LogMode(level logger.LogLevel) logger.Interface {
	return &gormLogger{level: level}
}

func (l *gormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Info {
		logging.Logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Warn {
		logging.Logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= logger.Error {
		logging.Logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level < logger.Info {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()

	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		logging.Logger.Error("gorm query error",
			"error", err,
			"duration", elapsed,
			"sql", sql,
			"rows", rows,
		)
	} else if elapsed > 200*time.Millisecond {
		logging.Logger.Warn("slow query",
			"duration", elapsed,
			"sql", sql,
			"rows", rows,
		)
	} else {
		logging.Logger.Debug("gorm query",
			"duration", elapsed,
			"sql", sql,
			"rows", rows,
		)
	}
}

func newGormLogger() logger.Interface {
	if os.Getenv("HELMSMAN_DEBUG") == "1" {
		return (&gormLogger{}).LogMode(logger.Info)
	}
	return (&gormLogger{}).LogMode(logger.Silent)
}

// NewSQLiteRepository creates a new SQLiteRepository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	// Expand home directory if present
	if len(dbPath) > 0 && dbPath[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dbPath = filepath.Join(homeDir, dbPath[1:])
	}

	// Ensure directory exists (skip for in-memory databases)
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		PrepareStmt: false,
		NowFunc:     func() time.Time { return time.Now().UTC() },
		Logger:      newGormLogger(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode for concurrent access
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")
	db.Exec("PRAGMA synchronous=NORMAL")
	db.Exec("PRAGMA foreign_keys=ON")

	if err := db.AutoMigrate(&SessionModel{}, &WorkerModel{}); err != nil {
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(0)

	return &SQLiteRepository{db: db}, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --- Sessions ---

// Get implements SessionReader.Get
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*domain.Session, error) {
	var model SessionModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	}, 3)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NotFoundError("session %s not found", id)
		}
		return nil, err
	}
	session := sessionModelToDomain(model)
	return &session, nil
}

// List implements SessionReader.List, oldest arrival first
func (r *SQLiteRepository) List(ctx context.Context) ([]domain.Session, error) {
	var models []SessionModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Order("position ASC").Find(&models).Error
	}, 3)
	if err != nil {
		return nil, err
	}
	return sessionsToDomain(models), nil
}

// ListByStatus implements SessionReader.ListByStatus
func (r *SQLiteRepository) ListByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.Session, error) {
	var models []SessionModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).
			Where("status = ?", string(status)).
			Order("position ASC").
			Find(&models).Error
	}, 3)
	if err != nil {
		return nil, err
	}
	return sessionsToDomain(models), nil
}

// ListByWorker implements SessionReader.ListByWorker
func (r *SQLiteRepository) ListByWorker(ctx context.Context, workerID string) ([]domain.Session, error) {
	var models []SessionModel
	err := withRetry(func() error {
		return r.db.WithContext(ctx).
			Where("worker_id = ?", workerID).
			Order("position ASC").
			Find(&models).Error
	}, 3)
	if err != nil {
		return nil, err
	}
	return sessionsToDomain(models), nil
}

func sessionsToDomain(models []SessionModel) []domain.Session {
	sessions := make([]domain.Session, 0, len(models))
	for _, m := range models {
		sessions = append(sessions, sessionModelToDomain(m))
	}
	return sessions
}

// Add implements SessionWriter.Add
func (r *SQLiteRepository) Add(ctx context.Context, session domain.Session) error {
	return withRetry(func() error {
		model := domainToSessionModel(session)
		if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return domain.ConflictError("session %s already exists", session.ID)
			}
			return fmt.Errorf("failed to create session: %w", err)
		}
		return nil
	}, 3)
}

// Delete implements SessionWriter.Delete
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	return withRetry(func() error {
		result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&SessionModel{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NotFoundError("session %s not found", id)
		}
		return nil
	}, 3)
}

// MarkActive implements SessionStateUpdater.MarkActive
func (r *SQLiteRepository) MarkActive(ctx context.Context, id, workerID string, pid int) error {
	now := time.Now().UTC()
	return r.updateSession(ctx, id, map[string]any{
		"status":       string(domain.StatusActive),
		"worker_id":    workerID,
		"pid":          pid,
		"started_at":   now,
		"last_updated": now,
	})
}

// MarkExited implements SessionStateUpdater.MarkExited
func (r *SQLiteRepository) MarkExited(ctx context.Context, id string, status domain.SessionStatus, reason string) error {
	now := time.Now().UTC()
	return r.updateSession(ctx, id, map[string]any{
		"status":         string(status),
		"worker_id":      nil,
		"pid":            0,
		"needs_input":    false,
		"failure_reason": reason,
		"completed_at":   now,
		"last_updated":   now,
	})
}

// Requeue implements SessionStateUpdater.Requeue
func (r *SQLiteRepository) Requeue(ctx context.Context, id string, position int, bumpContinuations bool) error {
	updates := map[string]any{
		"status":         string(domain.StatusQueued),
		"worker_id":      nil,
		"pid":            0,
		"position":       position,
		"failure_reason": "",
		"completed_at":   nil,
		"last_updated":   time.Now().UTC(),
	}
	if bumpContinuations {
		updates["continuations"] = gorm.Expr("continuations + 1")
	}
	return r.updateSession(ctx, id, updates)
}

// RequeueActive implements SessionStateUpdater.RequeueActive. Called once
// at startup: a previously active session cannot be assumed still running.
func (r *SQLiteRepository) RequeueActive(ctx context.Context) (int, error) {
	var affected int64
	err := withRetry(func() error {
		result := r.db.WithContext(ctx).Model(&SessionModel{}).
			Where("status = ?", string(domain.StatusActive)).
			Updates(map[string]any{
				"status":       string(domain.StatusQueued),
				"worker_id":    nil,
				"pid":          0,
				"last_updated": time.Now().UTC(),
			})
		affected = result.RowsAffected
		return result.Error
	}, 3)
	return int(affected), err
}

// UpdateAgentRunID implements SessionStateUpdater.UpdateAgentRunID
func (r *SQLiteRepository) UpdateAgentRunID(ctx context.Context, id, agentRunID string) error {
	return r.updateSession(ctx, id, map[string]any{
		"agent_run_id": agentRunID,
		"last_updated": time.Now().UTC(),
	})
}

// UpdateNeedsInput implements SessionStateUpdater.UpdateNeedsInput
func (r *SQLiteRepository) UpdateNeedsInput(ctx context.Context, id string, needsInput bool) error {
	return r.updateSession(ctx, id, map[string]any{
		"needs_input":  needsInput,
		"last_updated": time.Now().UTC(),
	})
}

// UpdateTitle implements SessionMetadataUpdater.UpdateTitle
func (r *SQLiteRepository) UpdateTitle(ctx context.Context, id, title string) error {
	return r.updateSession(ctx, id, map[string]any{
		"title":        title,
		"last_updated": time.Now().UTC(),
	})
}

// UpdateLock implements SessionMetadataUpdater.UpdateLock
func (r *SQLiteRepository) UpdateLock(ctx context.Context, id string, locked bool) error {
	return r.updateSession(ctx, id, map[string]any{
		"locked":       locked,
		"last_updated": time.Now().UTC(),
	})
}

// UpdatePosition implements SessionMetadataUpdater.UpdatePosition
func (r *SQLiteRepository) UpdatePosition(ctx context.Context, id string, position int) error {
	return r.updateSession(ctx, id, map[string]any{
		"position":     position,
		"last_updated": time.Now().UTC(),
	})
}

// NextPosition returns the next queue arrival position
func (r *SQLiteRepository) NextPosition(ctx context.Context) (int, error) {
	var maxPosition *int
	err := withRetry(func() error {
		return r.db.WithContext(ctx).Model(&SessionModel{}).
			Select("MAX(position)").Scan(&maxPosition).Error
	}, 3)
	if err != nil {
		return 0, err
	}
	if maxPosition == nil {
		return 1, nil
	}
	return *maxPosition + 1, nil
}

func (r *SQLiteRepository) updateSession(ctx context.Context, id string, updates map[string]any) error {
	return withRetry(func() error {
		result := r.db.WithContext(ctx).Model(&SessionModel{}).
			Where("id = ?", id).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return domain.NotFoundError("session %s not found", id)
		}
		return nil
	}, 3)
}

// Workers returns the worker repository sharing this database connection
func (r *SQLiteRepository) Workers() *WorkerRepo {
	return &WorkerRepo{db: r.db}
}

// withRetry retries transient SQLITE_BUSY/SQLITE_LOCKED failures
func withRetry(fn func() error, maxRetries int) error {
	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}

		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && (sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked) {
			time.Sleep(time.Millisecond * time.Duration(50*(i+1)))
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries", maxRetries)
}
