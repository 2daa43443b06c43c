package registry

import (
	"time"

	"github.com/google/uuid"
)

// Transport is the outbound half of a session's connection as the registry
// and its consumers see it. *transport.Connection satisfies it.
type Transport interface {
	ID() uuid.UUID
	Send(message []byte)
	Close(err error)
}

// Session is the tracker-side view of one live transport connection. The
// registry hands out snapshot copies; all mutation goes through Registry
// methods.
type Session struct {
	ID         uuid.UUID
	RemoteAddr string
	Transport  Transport

	// Set by RegisterDaemon; zero values until then.
	DaemonID   int64
	DaemonName string // "email?daemonName"
	Identity   string
	Key        string

	// Status is the set of connection names this session currently reports
	// as served. Used for server-side sessions only.
	Status map[string]struct{}

	CreatedAt time.Time
}

// Registered reports whether the session has a bound daemon.
func (s *Session) Registered() bool {
	return s.DaemonID != 0
}

// Daemon is the aggregate identity a session binds to on registration.
type Daemon struct {
	ID        int64
	Name      string
	UserID    int64
	UserEmail string
}

// Waiting is the transient bookkeeping for one connection name: which session
// currently attests readiness as server, and which sessions wait on it as
// clients.
type Waiting struct {
	Server  uuid.UUID // uuid.Nil when no live server attests the name
	Clients []uuid.UUID
}

// Snapshot is a point-in-time view of the registry for the admin surface.
type Snapshot struct {
	Sessions []SessionInfo `json:"sessions"`
	Daemons  []DaemonInfo  `json:"daemons"`
	Waiting  []WaitingInfo `json:"waiting"`
}

type SessionInfo struct {
	ID         string   `json:"id"`
	RemoteAddr string   `json:"remoteAddr"`
	DaemonName string   `json:"daemonName,omitempty"`
	Status     []string `json:"status,omitempty"`
	CreatedAt  string   `json:"createdAt"`
}

type DaemonInfo struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Sessions []string `json:"sessions"`
}

type WaitingInfo struct {
	Name    string   `json:"name"`
	Server  string   `json:"server,omitempty"`
	Clients []string `json:"clients"`
}
