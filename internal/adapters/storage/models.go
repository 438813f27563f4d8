package storage

import "time"

// SessionModel is the GORM model for the sessions table
type SessionModel struct {
	ID            string     `gorm:"primaryKey"`
	AgentRunID    string     `gorm:"not null;default:'';index:idx_agent_run_id"`
	WorkerID      *string    `gorm:"index:idx_worker;default:null"`
	Status        string     `gorm:"not null;default:'queued';index:idx_status;check:status IN ('queued','active','completed','failed')"`
	WorkingDir    string     `gorm:"not null"`
	Title         string     `gorm:"not null;default:''"`
	PID           int        `gorm:"column:pid;not null;default:0"`
	NeedsInput    bool       `gorm:"not null;default:false"`
	Locked        bool       `gorm:"not null;default:false"`
	Continuations int        `gorm:"not null;default:0"`
	Position      int        `gorm:"not null;default:0;index:idx_position"`
	FailureReason string     `gorm:"not null;default:''"`
	StartedAt     *time.Time `gorm:"default:null"`
	CompletedAt   *time.Time `gorm:"default:null"`
	LastUpdated   time.Time  `gorm:"not null;index:idx_last_updated"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName specifies the table name for GORM
func (SessionModel) TableName() string { return "sessions" }

// WorkerModel is the GORM model for the workers table
type WorkerModel struct {
	ID            string `gorm:"primaryKey"`
	Name          string `gorm:"not null;uniqueIndex:idx_worker_name"`
	Kind          string `gorm:"not null;check:kind IN ('local','remote')"`
	Host          string `gorm:"not null;default:''"`
	Port          int    `gorm:"not null;default:22"`
	User          string `gorm:"not null;default:''"`
	KeyPath       string `gorm:"not null;default:''"`
	MaxSessions   int    `gorm:"not null;default:1"`
	Status        string `gorm:"not null;default:'disconnected';check:status IN ('connected','disconnected','error')"`
	LastHeartbeat time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName specifies the table name for GORM
func (WorkerModel) TableName() string { return "workers" }
