// Package pty spawns interactive agent processes attached to a local
// pseudo-terminal.
package pty

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	creackpty "github.com/creack/pty"

	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/ports"
)

const (
	defaultCols  = 80
	defaultRows  = 24
	killGrace    = 5 * time.Second
	readBufBytes = 16 * 1024
)

// Spawner implements ports.Spawner for the local worker
type Spawner struct {
	// Shell used to interpret session commands. Defaults to $SHELL or
	// /bin/sh.
	shell string
}

// Verify interface compliance at compile time
var _ ports.Spawner = (*Spawner)(nil)

// NewSpawner creates a local PTY spawner
func NewSpawner() *Spawner {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	return &Spawner{shell: shell}
}

// Spawn starts the command under a PTY in the given working directory.
// It returns only once the process is confirmed live, so callers can
// register the handle before the first output callback fires.
func (s *Spawner) Spawn(ctx context.Context, spec ports.SpawnSpec, onOutput ports.OutputFunc, onExit ports.ExitFunc) (ports.ProcessHandle, error) {
	if spec.Command == "" {
		return nil, domain.ValidationError("spawn command is empty")
	}

	info, err := os.Stat(spec.WorkingDir)
	if err != nil {
		return nil, domain.SpawnError(fmt.Sprintf("working directory %s is inaccessible", spec.WorkingDir), err)
	}
	if !info.IsDir() {
		return nil, domain.SpawnError(fmt.Sprintf("%s is not a directory", spec.WorkingDir), nil)
	}

	cols, rows := spec.Cols, spec.Rows
	if cols == 0 {
		cols = defaultCols
	}
	if rows == 0 {
		rows = defaultRows
	}

	cmd := exec.Command(s.shell, "-c", spec.Command)
	cmd.Dir = spec.WorkingDir
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group so Kill reaches the whole tree, not just the shell.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	ptmx, err := creackpty.StartWithSize(cmd, &creackpty.Winsize{Cols: cols, Rows: rows})
	if err != nil {
		return nil, domain.SpawnError(fmt.Sprintf("failed to start %q", spec.Command), err)
	}

	handle := &processHandle{
		sessionID: spec.SessionID,
		ptmx:      ptmx,
		cmd:       cmd,
		exited:    make(chan struct{}),
	}

	logging.Logger.Info("process spawned",
		"session_id", spec.SessionID,
		"pid", cmd.Process.Pid,
		"dir", spec.WorkingDir)

	go handle.readLoop(onOutput, onExit)

	return handle, nil
}

// processHandle controls one live PTY-attached process
type processHandle struct {
	sessionID string
	ptmx      *os.File
	cmd       *exec.Cmd

	writeMu sync.Mutex

	exitOnce sync.Once
	exited   chan struct{}
	exitErr  error
}

// PID implements ProcessHandle.PID
func (h *processHandle) PID() int {
	return h.cmd.Process.Pid
}

// Write implements ProcessHandle.Write, forwarding viewer input to the PTY
func (h *processHandle) Write(data []byte) error {
	select {
	case <-h.exited:
		return domain.ConflictError("process for session %s has exited", h.sessionID)
	default:
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_, err := h.ptmx.Write(data)
	return err
}

// Resize implements ProcessHandle.Resize without restarting the process
func (h *processHandle) Resize(cols, rows uint16) error {
	select {
	case <-h.exited:
		return nil
	default:
	}
	return creackpty.Setsize(h.ptmx, &creackpty.Winsize{Cols: cols, Rows: rows})
}

// Kill signals the process group and is idempotent. SIGTERM first, then
// SIGKILL if the process outlives the grace period.
func (h *processHandle) Kill() error {
	select {
	case <-h.exited:
		return nil
	default:
	}

	pgid := -h.cmd.Process.Pid
	if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil {
		// ESRCH means the group is already gone, which is fine.
		if err == syscall.ESRCH {
			return nil
		}
		return err
	}

	select {
	case <-h.exited:
		return nil
	case <-time.After(killGrace):
		_ = syscall.Kill(pgid, syscall.SIGKILL)
	}
	return nil
}

// readLoop pumps PTY output to the callback until the process exits.
// Output ordering per session is guaranteed by the single reader.
func (h *processHandle) readLoop(onOutput ports.OutputFunc, onExit ports.ExitFunc) {
	buf := make([]byte, readBufBytes)
	for {
		n, err := h.ptmx.Read(buf)
		if n > 0 && onOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			onOutput(h.sessionID, chunk)
		}
		if err != nil {
			break
		}
	}

	waitErr := h.cmd.Wait()
	_ = h.ptmx.Close()

	var exitErr error
	if waitErr != nil {
		exitErr = domain.SpawnError("process exited with error", waitErr)
	}

	h.exitOnce.Do(func() {
		h.exitErr = exitErr
		close(h.exited)
		logging.Logger.Info("process exited",
			"session_id", h.sessionID,
			"pid", h.cmd.Process.Pid,
			"error", waitErr)
		if onExit != nil {
			onExit(h.sessionID, exitErr)
		}
	})
}
