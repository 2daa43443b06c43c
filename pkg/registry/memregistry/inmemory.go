package memregistry

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// InMemoryRegistry keeps all live-session state in maps guarded by a single
// mutex, so compound lookups across sessions, identity groups, daemon
// aggregates and waiting entries are atomic with respect to other handlers.
type InMemoryRegistry struct {
	mu sync.RWMutex

	sessions   map[uuid.UUID]*registry.Session
	identities map[string]map[uuid.UUID]struct{}
	daemons    map[int64]*daemonGroup
	waiting    map[string]*waitingEntry

	logger *slog.Logger
}

type daemonGroup struct {
	daemon   registry.Daemon
	sessions map[uuid.UUID]struct{}
}

type waitingEntry struct {
	server  uuid.UUID
	clients map[uuid.UUID]struct{}
}

func NewInMemoryRegistry(logger *slog.Logger) *InMemoryRegistry {
	return &InMemoryRegistry{
		sessions:   make(map[uuid.UUID]*registry.Session),
		identities: make(map[string]map[uuid.UUID]struct{}),
		daemons:    make(map[int64]*daemonGroup),
		waiting:    make(map[string]*waitingEntry),
		logger:     logger.With(slog.String("component", "registry_inmemory")),
	}
}

// compile-time check to ensure InMemoryRegistry implements Registry.
var _ registry.Registry = (*InMemoryRegistry)(nil)

func (m *InMemoryRegistry) BindSession(conn registry.Transport, remoteAddr string) *registry.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := &registry.Session{
		ID:         conn.ID(),
		RemoteAddr: remoteAddr,
		Transport:  conn,
		Status:     make(map[string]struct{}),
		CreatedAt:  time.Now(),
	}
	m.sessions[sess.ID] = sess
	m.logger.Debug("session bound", slog.String("sessionID", sess.ID.String()))
	return copySession(sess)
}

func (m *InMemoryRegistry) UnbindSession(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		// session is already unbound
		return
	}
	delete(m.sessions, id)

	if sess.Identity != "" {
		if group, ok := m.identities[sess.Identity]; ok {
			delete(group, id)
			if len(group) == 0 {
				delete(m.identities, sess.Identity)
			}
		}
	}
	if sess.DaemonID != 0 {
		if group, ok := m.daemons[sess.DaemonID]; ok {
			delete(group.sessions, id)
			if len(group.sessions) == 0 {
				delete(m.daemons, sess.DaemonID)
			}
		}
	}
	for name, entry := range m.waiting {
		if entry.server == id {
			entry.server = uuid.Nil
		}
		delete(entry.clients, id)
		if entry.server == uuid.Nil && len(entry.clients) == 0 {
			delete(m.waiting, name)
		}
	}
	m.logger.Debug("session unbound", slog.String("sessionID", id.String()))
}

func (m *InMemoryRegistry) Session(id uuid.UUID) (*registry.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	return copySession(sess), true
}

func (m *InMemoryRegistry) SessionCountByAddr(remoteAddr string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, sess := range m.sessions {
		if sess.RemoteAddr == remoteAddr {
			count++
		}
	}
	return count
}

func (m *InMemoryRegistry) OldestSessionByAddr(remoteAddr string) (*registry.Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *registry.Session
	for _, sess := range m.sessions {
		if sess.RemoteAddr != remoteAddr {
			continue
		}
		if oldest == nil || sess.CreatedAt.Before(oldest.CreatedAt) {
			oldest = sess
		}
	}
	if oldest == nil {
		return nil, false
	}
	return copySession(oldest), true
}

func (m *InMemoryRegistry) RegisterDaemon(id uuid.UUID, daemon registry.Daemon, identity, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return nil // session died mid-handler; nothing to bind
	}

	// A live session presenting the same identity token for a different
	// daemon id means a token/identity replay. Reject.
	for other := range m.identities[identity] {
		if otherSess, ok := m.sessions[other]; ok && otherSess.DaemonID != 0 && otherSess.DaemonID != daemon.ID {
			return registry.ErrIdentityConflict
		}
	}

	sess.DaemonID = daemon.ID
	sess.DaemonName = daemon.UserEmail + "?" + daemon.Name
	sess.Identity = identity
	sess.Key = key

	group, ok := m.identities[identity]
	if !ok {
		group = make(map[uuid.UUID]struct{})
		m.identities[identity] = group
	}
	group[id] = struct{}{}

	dg, ok := m.daemons[daemon.ID]
	if !ok {
		dg = &daemonGroup{
			daemon:   daemon,
			sessions: make(map[uuid.UUID]struct{}),
		}
		m.daemons[daemon.ID] = dg
	}
	dg.sessions[id] = struct{}{}

	m.logger.Debug("daemon registered",
		slog.String("sessionID", id.String()),
		slog.Int64("daemonID", daemon.ID),
		slog.String("daemonName", sess.DaemonName),
	)
	return nil
}

func (m *InMemoryRegistry) DaemonSessions(daemonID int64) []*registry.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	group, ok := m.daemons[daemonID]
	if !ok {
		return nil
	}
	sessions := make([]*registry.Session, 0, len(group.sessions))
	for id := range group.sessions {
		if sess, ok := m.sessions[id]; ok {
			sessions = append(sessions, copySession(sess))
		}
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
		}
		return sessions[i].ID.String() < sessions[j].ID.String()
	})
	return sessions
}

func (m *InMemoryRegistry) SetStatus(id uuid.UUID, served []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		return
	}
	status := make(map[string]struct{}, len(served))
	for _, name := range served {
		status[name] = struct{}{}
	}
	sess.Status = status
}

func (m *InMemoryRegistry) RemoveStatusNames(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		for _, name := range names {
			delete(sess.Status, name)
		}
	}
}

func (m *InMemoryRegistry) SetWaitingServer(name string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.ensureWaiting(name)
	entry.server = id
}

func (m *InMemoryRegistry) AddWaitingClient(name string, id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.ensureWaiting(name)
	entry.clients[id] = struct{}{}
}

func (m *InMemoryRegistry) ensureWaiting(name string) *waitingEntry {
	entry, ok := m.waiting[name]
	if !ok {
		entry = &waitingEntry{clients: make(map[uuid.UUID]struct{})}
		m.waiting[name] = entry
	}
	return entry
}

func (m *InMemoryRegistry) Waiting(name string) (registry.Waiting, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.waiting[name]
	if !ok {
		return registry.Waiting{}, false
	}
	return registry.Waiting{
		Server:  entry.server,
		Clients: sortedIDs(entry.clients),
	}, true
}

func (m *InMemoryRegistry) PruneWaiting(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		entry, ok := m.waiting[name]
		if !ok {
			continue
		}
		if entry.server != uuid.Nil && !m.attests(entry.server, name) {
			entry.server = uuid.Nil
		}
		for id := range entry.clients {
			if !m.attests(id, name) {
				delete(entry.clients, id)
			}
		}
		if entry.server == uuid.Nil && len(entry.clients) == 0 {
			delete(m.waiting, name)
		}
	}
}

// attests reports whether the session is live and its status set still
// contains the name. Callers must hold the mutex.
func (m *InMemoryRegistry) attests(id uuid.UUID, name string) bool {
	sess, ok := m.sessions[id]
	if !ok {
		return false
	}
	_, ok = sess.Status[name]
	return ok
}

func (m *InMemoryRegistry) Snapshot() *registry.Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &registry.Snapshot{}
	for _, sess := range m.sessions {
		snap.Sessions = append(snap.Sessions, registry.SessionInfo{
			ID:         sess.ID.String(),
			RemoteAddr: sess.RemoteAddr,
			DaemonName: sess.DaemonName,
			Status:     sortedNames(sess.Status),
			CreatedAt:  sess.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	sort.Slice(snap.Sessions, func(i, j int) bool { return snap.Sessions[i].ID < snap.Sessions[j].ID })

	for id, group := range m.daemons {
		info := registry.DaemonInfo{
			ID:    id,
			Name:  group.daemon.Name,
			Email: group.daemon.UserEmail,
		}
		for sid := range group.sessions {
			info.Sessions = append(info.Sessions, sid.String())
		}
		sort.Strings(info.Sessions)
		snap.Daemons = append(snap.Daemons, info)
	}
	sort.Slice(snap.Daemons, func(i, j int) bool { return snap.Daemons[i].ID < snap.Daemons[j].ID })

	for name, entry := range m.waiting {
		info := registry.WaitingInfo{Name: name}
		if entry.server != uuid.Nil {
			info.Server = entry.server.String()
		}
		for _, id := range sortedIDs(entry.clients) {
			info.Clients = append(info.Clients, id.String())
		}
		snap.Waiting = append(snap.Waiting, info)
	}
	sort.Slice(snap.Waiting, func(i, j int) bool { return snap.Waiting[i].Name < snap.Waiting[j].Name })

	return snap
}

func copySession(sess *registry.Session) *registry.Session {
	c := *sess
	c.Status = make(map[string]struct{}, len(sess.Status))
	for name := range sess.Status {
		c.Status[name] = struct{}{}
	}
	return &c
}

func sortedIDs(set map[uuid.UUID]struct{}) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	return ids
}

func sortedNames(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
