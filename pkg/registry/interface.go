package registry

import (
	"errors"

	"github.com/google/uuid"
)

// ErrIdentityConflict is returned by RegisterDaemon when another live session
// already presented the same identity token for a different daemon id.
var ErrIdentityConflict = errors.New("identity token already bound to another daemon")

// Registry is the process-wide index of live sessions, daemon aggregates,
// identity groupings and per-name waiting bookkeeping. It is authoritative
// for "who is live right now"; persisted state remains authoritative for
// users, daemons, paths and connections. Implementations must apply every
// compound read-modify-write as one atomic unit with respect to concurrent
// callers.
type Registry interface {
	// --- Session lifecycle ---
	BindSession(conn Transport, remoteAddr string) *Session
	// UnbindSession purges every reference to the session: identity group,
	// daemon aggregate and waiting entries.
	UnbindSession(id uuid.UUID)
	Session(id uuid.UUID) (*Session, bool)
	SessionCountByAddr(remoteAddr string) int
	OldestSessionByAddr(remoteAddr string) (*Session, bool)

	// --- Daemon registration ---
	RegisterDaemon(id uuid.UUID, daemon Daemon, identity, key string) error
	// DaemonSessions returns snapshots of every live session bound to the
	// daemon, in stable (creation, then id) order.
	DaemonSessions(daemonID int64) []*Session

	// --- Status attestation ---
	// SetStatus replaces the session's served-name set.
	SetStatus(id uuid.UUID, served []string)
	// RemoveStatusNames clears the given names from every session's set.
	RemoveStatusNames(names []string)

	// --- Waiting bookkeeping ---
	SetWaitingServer(name string, id uuid.UUID)
	AddWaitingClient(name string, id uuid.UUID)
	Waiting(name string) (Waiting, bool)
	// PruneWaiting re-validates the named entries against current status
	// attestations and drops stale server/client references.
	PruneWaiting(names []string)

	Snapshot() *Snapshot
}
