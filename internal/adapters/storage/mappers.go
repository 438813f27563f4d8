package storage

import (
	"helmsman/internal/domain"
)

// sessionModelToDomain converts a SessionModel (GORM) to domain.Session
func sessionModelToDomain(m SessionModel) domain.Session {
	workerID := ""
	if m.WorkerID != nil {
		workerID = *m.WorkerID
	}
	return domain.Session{
		ID:            m.ID,
		AgentRunID:    m.AgentRunID,
		WorkerID:      workerID,
		Status:        domain.SessionStatus(m.Status),
		WorkingDir:    m.WorkingDir,
		Title:         m.Title,
		PID:           m.PID,
		NeedsInput:    m.NeedsInput,
		Locked:        m.Locked,
		Continuations: m.Continuations,
		Position:      m.Position,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
		LastUpdated:   m.LastUpdated,
	}
}

// domainToSessionModel converts a domain.Session to SessionModel (GORM)
func domainToSessionModel(s domain.Session) SessionModel {
	var workerID *string
	if s.WorkerID != "" {
		w := s.WorkerID
		workerID = &w
	}
	return SessionModel{
		ID:            s.ID,
		AgentRunID:    s.AgentRunID,
		WorkerID:      workerID,
		Status:        string(s.Status),
		WorkingDir:    s.WorkingDir,
		Title:         s.Title,
		PID:           s.PID,
		NeedsInput:    s.NeedsInput,
		Locked:        s.Locked,
		Continuations: s.Continuations,
		Position:      s.Position,
		FailureReason: s.FailureReason,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
		LastUpdated:   s.LastUpdated,
	}
}

// workerModelToDomain converts a WorkerModel (GORM) to domain.Worker
func workerModelToDomain(m WorkerModel) domain.Worker {
	return domain.Worker{
		ID:            m.ID,
		Name:          m.Name,
		Kind:          domain.WorkerKind(m.Kind),
		Host:          m.Host,
		Port:          m.Port,
		User:          m.User,
		KeyPath:       m.KeyPath,
		MaxSessions:   m.MaxSessions,
		Status:        domain.WorkerStatus(m.Status),
		LastHeartbeat: m.LastHeartbeat,
		CreatedAt:     m.CreatedAt,
	}
}

// domainToWorkerModel converts a domain.Worker to WorkerModel (GORM)
func domainToWorkerModel(w domain.Worker) WorkerModel {
	return WorkerModel{
		ID:            w.ID,
		Name:          w.Name,
		Kind:          string(w.Kind),
		Host:          w.Host,
		Port:          w.Port,
		User:          w.User,
		KeyPath:       w.KeyPath,
		MaxSessions:   w.MaxSessions,
		Status:        string(w.Status),
		LastHeartbeat: w.LastHeartbeat,
	}
}
