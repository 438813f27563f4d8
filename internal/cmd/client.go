package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"helmsman/internal/config"
	"helmsman/internal/domain"
)

// apiClient is the thin HTTP client the sessions/workers subcommands use
// to talk to a running hub. The hub process owns the queue and live
// process handles, so mutations must go through its control API.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(cli *CLI, addrFlag string) *apiClient {
	addr := addrFlag
	if addr == "" {
		addr = config.DefaultListenAddr
		if cli.settings != nil && cli.settings.ListenAddr != "" {
			addr = cli.settings.ListenAddr
		}
	}
	return &apiClient{
		base: "http://" + addr,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Status  int
	Kind    string
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%s (%s)", e.Message, e.Kind)
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return err
		}
		reqBody = buf
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("is the hub running at %s? %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var e struct {
			Error string `json:"error"`
			Kind  string `json:"kind"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&e); decodeErr != nil || e.Error == "" {
			return &apiError{Status: resp.StatusCode, Kind: "internal", Message: resp.Status}
		}
		return &apiError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// sessionRecord mirrors the control API session shape
type sessionRecord struct {
	ID            string     `json:"id"`
	WorkerID      string     `json:"workerId"`
	Status        string     `json:"status"`
	WorkingDir    string     `json:"workingDir"`
	Title         string     `json:"title"`
	PID           int        `json:"pid"`
	NeedsInput    bool       `json:"needsInput"`
	Continuations int        `json:"continuations"`
	Position      int        `json:"position"`
	FailureReason string     `json:"failureReason"`
	CreatedAt     time.Time  `json:"createdAt"`
	StartedAt     *time.Time `json:"startedAt"`
}

type workerRecord struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	MaxSessions int    `json:"maxSessions"`
	Status      string `json:"status"`
}

func statusGlyph(status string) string {
	switch domain.SessionStatus(status) {
	case domain.StatusQueued:
		return "…"
	case domain.StatusActive:
		return "●"
	case domain.StatusCompleted:
		return "✓"
	case domain.StatusFailed:
		return "✗"
	}
	return "?"
}
