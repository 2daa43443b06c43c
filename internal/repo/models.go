package repo

import "database/sql"

// Acting roles of a daemon-connection association. A connection has at most
// one server association at any time; the check is transactional in
// DaemonRepo.Connect.
const (
	ActingServer = "server"
	ActingClient = "client"
)

type User struct {
	ID    int64
	Name  string
	Email string
	Token string
}

type Daemon struct {
	ID     int64
	UserID int64
	Name   string
	Token  string
}

type Path struct {
	ID       int64
	ParentID sql.NullInt64
	UserID   int64
	Name     string
	Path     string // full '/'-separated name, unique per user
	Token    string
}

type Connection struct {
	ID             int64
	UserID         int64
	PathID         int64
	Token          string
	Encrypted      bool
	Fixed          bool
	ConnectAddress string
	ConnectPort    string
	ListenAddress  string
	ListenPort     string
	// Connection-level default overrides, applied when a peer imports the
	// connection before any association of its own exists.
	AddressOverride string
	PortOverride    string
}

// Association is a daemon joined with its role and overrides on one
// connection.
type Association struct {
	Daemon
	ActingAs        string
	AddressOverride string
	PortOverride    string
}
