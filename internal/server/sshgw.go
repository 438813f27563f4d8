package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"
	wishlogging "github.com/charmbracelet/wish/logging"

	"helmsman/internal/bus"
	"helmsman/internal/domain"
	"helmsman/internal/logging"
	"helmsman/internal/services"
)

// AttachGateway serves terminal attachment over SSH: `ssh -p <port> hub
// <session-id>` puts the operator's terminal on the session's stream.
type AttachGateway struct {
	sessions *services.SessionService
	streams  *bus.Bus
	wish     *ssh.Server
	addr     string
}

// NewAttachGateway builds the wish server with public key auth against
// the operator's authorized_keys
func NewAttachGateway(addr, hostKeyPath string, sessions *services.SessionService, streams *bus.Bus) (*AttachGateway, error) {
	g := &AttachGateway{
		sessions: sessions,
		streams:  streams,
		addr:     addr,
	}

	if err := os.MkdirAll(filepath.Dir(hostKeyPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create host key directory: %w", err)
	}

	// Middleware executes in reverse order (last to first).
	srv, err := wish.NewServer(
		wish.WithAddress(addr),
		wish.WithHostKeyPath(hostKeyPath),
		wish.WithPublicKeyAuth(authorizeKey),
		wish.WithMiddleware(
			g.attachMiddleware,
			activeterm.Middleware(), // Require PTY
			wishlogging.Middleware(),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create attach gateway: %w", err)
	}
	g.wish = srv
	return g, nil
}

// Run serves until ctx is done, then drains
func (g *AttachGateway) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Logger.Info("attach gateway listening", "addr", g.addr)
		errCh <- g.wish.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err == ssh.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return g.wish.Shutdown(shutdownCtx)
	}
}

func (g *AttachGateway) attachMiddleware(next ssh.Handler) ssh.Handler {
	return func(sess ssh.Session) {
		args := sess.Command()
		if len(args) == 0 {
			g.printSessionList(sess)
			next(sess)
			return
		}

		g.attach(sess, args[0])
		next(sess)
	}
}

func (g *AttachGateway) printSessionList(sess ssh.Session) {
	ctx, cancel := context.WithTimeout(sess.Context(), 5*time.Second)
	defer cancel()

	sessions, err := g.sessions.List(ctx)
	if err != nil {
		fmt.Fprintf(sess.Stderr(), "failed to list sessions: %v\n", err)
		_ = sess.Exit(1)
		return
	}

	if len(sessions) == 0 {
		fmt.Fprintln(sess, "no sessions")
		return
	}
	fmt.Fprintln(sess, "usage: ssh hub <session-id>")
	fmt.Fprintln(sess, "")
	for _, s := range sessions {
		fmt.Fprintf(sess, "%s  %-9s  %s\n", s.ID, s.Status, s.Title)
	}
}

// attach streams the session to the operator's terminal until either
// side disconnects
func (g *AttachGateway) attach(sess ssh.Session, sessionID string) {
	ctx, cancel := context.WithCancel(sess.Context())
	defer cancel()

	session, err := g.sessions.Get(ctx, sessionID)
	if err != nil {
		fmt.Fprintf(sess.Stderr(), "%v\n", err)
		_ = sess.Exit(1)
		return
	}

	logging.Logger.Info("terminal attached",
		"session_id", sessionID,
		"user", sess.User(),
		"remote_addr", sess.RemoteAddr().String())

	pty, winCh, _ := sess.Pty()
	if session.Status == domain.StatusActive {
		if err := g.sessions.Resize(ctx, sessionID, uint16(pty.Window.Width), uint16(pty.Window.Height)); err != nil {
			logging.Logger.Debug("initial resize failed", "session_id", sessionID, "error", err)
		}
	}

	sub := g.streams.Subscribe(sessionID)
	defer g.streams.Unsubscribe(sub)

	// Keystrokes from the operator's terminal.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := sess.Read(buf)
			if n > 0 {
				if sendErr := g.sessions.SendInput(ctx, sessionID, buf[:n]); sendErr != nil {
					logging.Logger.Debug("attach input rejected", "session_id", sessionID, "error", sendErr)
				}
			}
			if err != nil {
				cancel()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case win, ok := <-winCh:
			if !ok {
				continue
			}
			if err := g.sessions.Resize(ctx, sessionID, uint16(win.Width), uint16(win.Height)); err != nil {
				logging.Logger.Debug("attach resize failed", "session_id", sessionID, "error", err)
			}
		case frame, ok := <-sub.Frames():
			if !ok {
				return
			}
			if frame.Type == bus.FrameOutput {
				if _, err := sess.Write(frame.Data); err != nil {
					return
				}
				continue
			}
			g.renderEvent(sess, frame.Event)
		case <-sub.Closed():
			fmt.Fprintln(sess, "\r\nsession stream closed")
			return
		}
	}
}

// renderEvent prints lifecycle frames inline; raw output owns the screen
// so events stay terse
func (g *AttachGateway) renderEvent(sess ssh.Session, event domain.Event) {
	switch event.Type {
	case domain.EventStatus:
		fmt.Fprintf(sess, "\r\n[helmsman] session %s\r\n", event.Status)
	case domain.EventError:
		fmt.Fprintf(sess.Stderr(), "\r\n[helmsman] error: %s\r\n", event.Message)
	}
}
