package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"helmsman/internal/domain"
	"helmsman/internal/services"
)

// sessionResponse is the wire shape of a session record
type sessionResponse struct {
	ID            string     `json:"id"`
	AgentRunID    string     `json:"agentRunId,omitempty"`
	WorkerID      string     `json:"workerId,omitempty"`
	Status        string     `json:"status"`
	WorkingDir    string     `json:"workingDir"`
	Title         string     `json:"title"`
	PID           int        `json:"pid,omitempty"`
	NeedsInput    bool       `json:"needsInput"`
	Locked        bool       `json:"locked"`
	Continuations int        `json:"continuations"`
	Position      int        `json:"position"`
	FailureReason string     `json:"failureReason,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

func toSessionResponse(s *domain.Session) sessionResponse {
	return sessionResponse{
		ID:            s.ID,
		AgentRunID:    s.AgentRunID,
		WorkerID:      s.WorkerID,
		Status:        string(s.Status),
		WorkingDir:    s.WorkingDir,
		Title:         s.Title,
		PID:           s.PID,
		NeedsInput:    s.NeedsInput,
		Locked:        s.Locked,
		Continuations: s.Continuations,
		Position:      s.Position,
		FailureReason: s.FailureReason,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		CompletedAt:   s.CompletedAt,
	}
}

type workerResponse struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Kind          string    `json:"kind"`
	Host          string    `json:"host,omitempty"`
	Port          int       `json:"port,omitempty"`
	User          string    `json:"user,omitempty"`
	MaxSessions   int       `json:"maxSessions"`
	Status        string    `json:"status"`
	LastHeartbeat time.Time `json:"lastHeartbeat,omitempty"`
}

func toWorkerResponse(w *domain.Worker) workerResponse {
	return workerResponse{
		ID:            w.ID,
		Name:          w.Name,
		Kind:          string(w.Kind),
		Host:          w.Host,
		Port:          w.Port,
		User:          w.User,
		MaxSessions:   w.MaxSessions,
		Status:        string(w.Status),
		LastHeartbeat: w.LastHeartbeat,
	}
}

type createSessionRequest struct {
	WorkingDir string `json:"workingDir"`
	Title      string `json:"title"`
	WorkerID   string `json:"workerId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}

	session, err := s.sessions.Create(r.Context(), services.CreateSessionParams{
		WorkingDir: req.WorkingDir,
		Title:      req.Title,
		WorkerID:   req.WorkerID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	// The session is queued; admission happens asynchronously.
	writeJSON(w, http.StatusAccepted, toSessionResponse(session))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.sessions.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		out = append(out, toSessionResponse(&sessions[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

type updateSessionRequest struct {
	Title    *string `json:"title"`
	Locked   *bool   `json:"locked"`
	Position *int    `json:"position"`
}

func (s *Server) handleUpdateSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}

	if req.Title != nil {
		if err := s.sessions.Rename(r.Context(), id, *req.Title); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Locked != nil {
		if err := s.sessions.SetLocked(r.Context(), id, *req.Locked); err != nil {
			writeError(w, err)
			return
		}
	}
	if req.Position != nil {
		if err := s.sessions.Reorder(r.Context(), id, *req.Position); err != nil {
			writeError(w, err)
			return
		}
	}

	session, err := s.sessions.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(session))
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleContinueSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.sessions.Continue(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toSessionResponse(session))
}

func (s *Server) handleKillSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Kill(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleSessionInput(w http.ResponseWriter, r *http.Request) {
	var req inputRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}
	if err := s.sessions.SendInput(r.Context(), chi.URLParam(r, "id"), []byte(req.Data)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

func (s *Server) handleSessionResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		writeError(w, domain.ValidationError("cols and rows must be positive"))
		return
	}
	if err := s.sessions.Resize(r.Context(), chi.URLParam(r, "id"), req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerWorkerRequest struct {
	Name        string `json:"name"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	KeyPath     string `json:"keyPath"`
	MaxSessions int    `json:"maxSessions"`
}

func (r registerWorkerRequest) toParams() services.RegisterWorkerParams {
	return services.RegisterWorkerParams{
		Name:        r.Name,
		Host:        r.Host,
		Port:        r.Port,
		User:        r.User,
		KeyPath:     r.KeyPath,
		MaxSessions: r.MaxSessions,
	}
}

func (s *Server) handleRegisterWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}
	worker, err := s.workers.Register(r.Context(), req.toParams())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toWorkerResponse(worker))
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := s.workers.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]workerResponse, 0, len(workers))
	for i := range workers {
		out = append(out, toWorkerResponse(&workers[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.workers.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toWorkerResponse(worker))
}

func (s *Server) handleUnregisterWorker(w http.ResponseWriter, r *http.Request) {
	if err := s.workers.Unregister(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTestWorker(w http.ResponseWriter, r *http.Request) {
	var req registerWorkerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, domain.ValidationError("invalid request body: %v", err))
		return
	}
	if err := s.workers.TestConnection(r.Context(), req.toParams(), 10*time.Second); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
