package domain

import (
	"net"
	"strconv"
	"time"
)

// WorkerKind distinguishes the auto-registered local machine from
// SSH-reachable remotes
type WorkerKind string

const (
	WorkerLocal  WorkerKind = "local"
	WorkerRemote WorkerKind = "remote"
)

// WorkerStatus represents the connection state of a worker
type WorkerStatus string

const (
	WorkerConnected    WorkerStatus = "connected"
	WorkerDisconnected WorkerStatus = "disconnected"
	WorkerError        WorkerStatus = "error"
)

// LocalWorkerID is the fixed id of the auto-registered local worker.
// Exactly one local worker exists per installation.
const LocalWorkerID = "local"

// Worker represents a machine capable of running agent processes
type Worker struct {
	ID            string
	Name          string
	Kind          WorkerKind
	Host          string
	Port          int
	User          string
	KeyPath       string
	MaxSessions   int
	Status        WorkerStatus
	LastHeartbeat time.Time
	CreatedAt     time.Time
}

// Remote reports whether the worker is reached over SSH
func (w *Worker) Remote() bool {
	return w.Kind == WorkerRemote
}

// Addr returns the host:port dial target for a remote worker
func (w *Worker) Addr() string {
	port := w.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(w.Host, strconv.Itoa(port))
}
