package handlers_test

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/breedhub/bhit-node/internal/handlers"
	"github.com/breedhub/bhit-node/internal/notify"
	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry/memregistry"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

// recorder captures every frame sent to a session so tests can decode the
// replies and pushes a handler produced.
type recorder struct {
	id     uuid.UUID
	mu     sync.Mutex
	frames [][]byte
}

func newRecorder() *recorder { return &recorder{id: uuid.New()} }

func (r *recorder) ID() uuid.UUID { return r.id }

func (r *recorder) Send(m []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, m)
}

func (r *recorder) Close(err error) {}

func (r *recorder) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = nil
}

func (r *recorder) messages(t *testing.T) []*protocol.ServerMessage {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*protocol.ServerMessage
	for _, frame := range r.frames {
		msg, err := protocol.DecodeServerMessage(frame)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

// last returns the most recent frame, which for request handlers is the
// reply (notification pushes precede it).
func (r *recorder) last(t *testing.T) *protocol.ServerMessage {
	t.Helper()
	msgs := r.messages(t)
	require.NotEmpty(t, msgs, "handler sent no frames")
	return msgs[len(msgs)-1]
}

// env wires real collaborators (in-memory registry, in-memory SQLite) around
// the handlers; only the transport is a recorder.
type env struct {
	reg  *memregistry.InMemoryRegistry
	db   *repo.DB
	deps handlers.Deps

	user   *repo.User
	home   *repo.Daemon // serving daemon
	laptop *repo.Daemon // consuming daemon
	rootA  *repo.Path
	pathB  *repo.Path
	connAB *repo.Connection
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	logger := newTestLogger()

	db, err := repo.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := memregistry.NewInMemoryRegistry(logger)
	notifier := notify.New(logger, reg, db.Daemons)

	e := &env{
		reg: reg,
		db:  db,
		deps: handlers.Deps{
			Logger:      logger,
			Registry:    reg,
			Users:       db.Users,
			Daemons:     db.Daemons,
			Paths:       db.Paths,
			Connections: db.Connections,
			Notifier:    notifier,
		},
	}

	e.user, err = db.Users.Create(ctx, "alice", "alice@example.com", "user-token")
	require.NoError(t, err)
	e.home, err = db.Daemons.Create(ctx, e.user.ID, "home", "daemon-home")
	require.NoError(t, err)
	e.laptop, err = db.Daemons.Create(ctx, e.user.ID, "laptop", "daemon-laptop")
	require.NoError(t, err)
	e.rootA, err = db.Paths.Create(ctx, 0, e.user.ID, "a", "/a", "path-a")
	require.NoError(t, err)
	e.pathB, err = db.Paths.Create(ctx, e.rootA.ID, e.user.ID, "b", "/a/b", "path-b")
	require.NoError(t, err)
	e.connAB, err = db.Connections.Create(ctx, &repo.Connection{
		UserID:         e.user.ID,
		PathID:         e.pathB.ID,
		Token:          "conn-ab",
		Encrypted:      true,
		ConnectAddress: "10.0.0.1",
		ConnectPort:    "8080",
		ListenAddress:  "127.0.0.1",
		ListenPort:     "9090",
	})
	require.NoError(t, err)
	return e
}

func (e *env) bind(t *testing.T) *recorder {
	t.Helper()
	rec := newRecorder()
	e.reg.BindSession(rec, "203.0.113.7")
	return rec
}

// register binds the session to the daemon owning the token and drains the
// resulting frames.
func (e *env) register(t *testing.T, rec *recorder, daemonToken, identity string) {
	t.Helper()
	h := handlers.NewRegisterDaemon(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeRegisterDaemonRequest,
		MessageID: "reg-1",
		RegisterDaemonRequest: &protocol.RegisterDaemonRequest{
			Token:    daemonToken,
			Identity: identity,
			Key:      "pubkey",
		},
	})
	reply := rec.messages(t)[0]
	require.NotNil(t, reply.RegisterDaemonResponse)
	require.Equal(t, protocol.ResultAccepted, reply.RegisterDaemonResponse.Result)
	rec.clear()
}

func attachMsg(id string, req *protocol.AttachRequest) *protocol.ClientMessage {
	return &protocol.ClientMessage{Type: protocol.TypeAttachRequest, MessageID: id, AttachRequest: req}
}

func TestRegisterDaemonAccepted(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)

	h := handlers.NewRegisterDaemon(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeRegisterDaemonRequest,
		MessageID: "m-1",
		RegisterDaemonRequest: &protocol.RegisterDaemonRequest{
			Token:    "daemon-home",
			Identity: "identity-1",
			Key:      "pubkey",
		},
	})

	msgs := rec.messages(t)
	require.NotEmpty(t, msgs)
	reply := msgs[0]
	assert.Equal(t, protocol.TypeRegisterDaemonResponse, reply.Type)
	assert.Equal(t, "m-1", reply.MessageID)
	require.NotNil(t, reply.RegisterDaemonResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.RegisterDaemonResponse.Result)
	assert.Equal(t, "alice@example.com", reply.RegisterDaemonResponse.Email)
	assert.Equal(t, "alice@example.com?home", reply.RegisterDaemonResponse.Name)

	// registration is followed by the session's first topology push
	require.Len(t, msgs, 2)
	assert.Equal(t, protocol.TypeConnectionsList, msgs[1].Type)

	sess, ok := e.reg.Session(rec.ID())
	require.True(t, ok)
	assert.Equal(t, e.home.ID, sess.DaemonID)
}

func TestRegisterDaemonUnknownToken(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)

	h := handlers.NewRegisterDaemon(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:                  protocol.TypeRegisterDaemonRequest,
		MessageID:             "m-1",
		RegisterDaemonRequest: &protocol.RegisterDaemonRequest{Token: "nope"},
	})

	reply := rec.last(t)
	require.NotNil(t, reply.RegisterDaemonResponse)
	assert.Equal(t, protocol.ResultRejected, reply.RegisterDaemonResponse.Result)
}

func TestRegisterDaemonIdentityConflict(t *testing.T) {
	e := newEnv(t)
	first := e.bind(t)
	e.register(t, first, "daemon-home", "shared-identity")

	second := e.bind(t)
	h := handlers.NewRegisterDaemon(e.deps)
	h.Handle(context.Background(), second.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeRegisterDaemonRequest,
		MessageID: "m-2",
		RegisterDaemonRequest: &protocol.RegisterDaemonRequest{
			Token:    "daemon-laptop",
			Identity: "shared-identity",
		},
	})

	reply := second.last(t)
	require.NotNil(t, reply.RegisterDaemonResponse)
	assert.Equal(t, protocol.ResultRejected, reply.RegisterDaemonResponse.Result)
}

func TestAttachAsServer(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h := handlers.NewAttach(e.deps)
	h.Handle(context.Background(), rec.ID(), attachMsg("m-3", &protocol.AttachRequest{
		Path:       "/a/b",
		DaemonName: "home",
		Token:      "user-token",
		Server:     true,
	}))

	msgs := rec.messages(t)
	reply := msgs[len(msgs)-1]
	assert.Equal(t, protocol.TypeAttachResponse, reply.Type)
	assert.Equal(t, "m-3", reply.MessageID)
	require.NotNil(t, reply.AttachResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.AttachResponse.Result)

	// the notification push precedes the reply and reflects the new state
	push := msgs[0]
	assert.Equal(t, protocol.TypeConnectionsList, push.Type)
	require.NotNil(t, push.ConnectionsList)
	require.Len(t, push.ConnectionsList.ServerConnections, 1)
	assert.Equal(t, "alice@example.com/a/b", push.ConnectionsList.ServerConnections[0].Name)

	serving, err := e.db.Daemons.FindServerByConnection(context.Background(), e.connAB.ID)
	require.NoError(t, err)
	require.NotNil(t, serving)
	assert.Equal(t, e.home.ID, serving.ID)
}

func TestAttachIdempotent(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h := handlers.NewAttach(e.deps)
	req := &protocol.AttachRequest{Path: "/a/b", DaemonName: "home", Token: "user-token", Server: true}
	h.Handle(context.Background(), rec.ID(), attachMsg("m-1", req))
	rec.clear()

	h.Handle(context.Background(), rec.ID(), attachMsg("m-2", req))
	reply := rec.last(t)
	require.NotNil(t, reply.AttachResponse)
	assert.Equal(t, protocol.ResultAlreadyAttached, reply.AttachResponse.Result)
}

func TestAttachRejections(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")
	h := handlers.NewAttach(e.deps)

	tests := []struct {
		name string
		req  *protocol.AttachRequest
		want protocol.Result
	}{
		{
			"malformed path",
			&protocol.AttachRequest{Path: "a//b", DaemonName: "home", Token: "user-token"},
			protocol.ResultInvalidPath,
		},
		{
			"unknown user token",
			&protocol.AttachRequest{Path: "/a/b", DaemonName: "home", Token: "nope"},
			protocol.ResultRejected,
		},
		{
			"foreign email in addressed path",
			&protocol.AttachRequest{Path: "bob@example.com?/a/b", DaemonName: "home", Token: "user-token"},
			protocol.ResultRejected,
		},
		{
			"unknown daemon name",
			&protocol.AttachRequest{Path: "/a/b", DaemonName: "desktop", Token: "user-token"},
			protocol.ResultDaemonNotFound,
		},
		{
			"unknown path",
			&protocol.AttachRequest{Path: "/a/x", DaemonName: "home", Token: "user-token"},
			protocol.ResultPathNotFound,
		},
		{
			"path without connection",
			&protocol.AttachRequest{Path: "/a", DaemonName: "home", Token: "user-token"},
			protocol.ResultPathNotFound,
		},
		{
			"server clearing override",
			&protocol.AttachRequest{Path: "/a/b", DaemonName: "home", Token: "user-token", Server: true, PortOverride: "*"},
			protocol.ResultInvalidAddress,
		},
		{
			"socket port with address override",
			&protocol.AttachRequest{Path: "/a/b", DaemonName: "home", Token: "user-token", AddressOverride: "example.com", PortOverride: "/run/app.sock"},
			protocol.ResultInvalidAddress,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec.clear()
			h.Handle(context.Background(), rec.ID(), attachMsg("m-x", tt.req))
			reply := rec.last(t)
			require.NotNil(t, reply.AttachResponse)
			assert.Equal(t, tt.want, reply.AttachResponse.Result)
		})
	}
}

func TestAttachAsClientRecordsWaiting(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)
	e.register(t, rec, "daemon-laptop", "id-laptop")

	h := handlers.NewAttach(e.deps)
	h.Handle(context.Background(), rec.ID(), attachMsg("m-1", &protocol.AttachRequest{
		Path:       "/a/b",
		DaemonName: "laptop",
		Token:      "user-token",
	}))

	reply := rec.last(t)
	require.NotNil(t, reply.AttachResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.AttachResponse.Result)

	w, ok := e.reg.Waiting("alice@example.com/a/b")
	require.True(t, ok)
	assert.Equal(t, uuid.Nil, w.Server)
	assert.Equal(t, []uuid.UUID{rec.ID()}, w.Clients)
}

func TestSecondServerAlreadyAttached(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.Daemons.Connect(ctx, e.home.ID, e.connAB.ID, repo.ActingServer, "", "")
	require.NoError(t, err)

	rec := e.bind(t)
	e.register(t, rec, "daemon-laptop", "id-laptop")

	h := handlers.NewAttach(e.deps)
	h.Handle(ctx, rec.ID(), attachMsg("m-1", &protocol.AttachRequest{
		Path:       "/a/b",
		DaemonName: "laptop",
		Token:      "user-token",
		Server:     true,
	}))

	reply := rec.last(t)
	require.NotNil(t, reply.AttachResponse)
	assert.Equal(t, protocol.ResultAlreadyAttached, reply.AttachResponse.Result)

	serving, err := e.db.Daemons.FindServerByConnection(ctx, e.connAB.ID)
	require.NoError(t, err)
	require.NotNil(t, serving)
	assert.Equal(t, e.home.ID, serving.ID)
}

func TestRemoteAttachMigratesServer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.Daemons.Connect(ctx, e.home.ID, e.connAB.ID, repo.ActingServer, "", "")
	require.NoError(t, err)

	// the previous server has a live session that must learn about the loss
	homeRec := e.bind(t)
	e.register(t, homeRec, "daemon-home", "id-home")

	rec := e.bind(t)
	e.register(t, rec, "daemon-laptop", "id-laptop")

	h := handlers.NewRemoteAttach(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeRemoteAttachRequest,
		MessageID: "m-1",
		RemoteAttachRequest: &protocol.AttachRequest{
			Path:       "/a/b",
			DaemonName: "laptop",
			Token:      "user-token",
			Server:     true,
		},
	})

	reply := rec.last(t)
	assert.Equal(t, protocol.TypeRemoteAttachResponse, reply.Type)
	require.NotNil(t, reply.RemoteAttachResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.RemoteAttachResponse.Result)

	serving, err := e.db.Daemons.FindServerByConnection(ctx, e.connAB.ID)
	require.NoError(t, err)
	require.NotNil(t, serving)
	assert.Equal(t, e.laptop.ID, serving.ID)

	// the displaced daemon's session saw a topology push without the
	// connection
	msgs := homeRec.messages(t)
	require.NotEmpty(t, msgs)
	lost := msgs[len(msgs)-1]
	require.Equal(t, protocol.TypeConnectionsList, lost.Type)
	assert.Empty(t, lost.ConnectionsList.ServerConnections)
}

func TestDetach(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	_, err := e.db.Daemons.Connect(ctx, e.home.ID, e.connAB.ID, repo.ActingServer, "", "")
	require.NoError(t, err)

	h := handlers.NewDetach(e.deps)
	msg := &protocol.ClientMessage{
		Type:          protocol.TypeDetachRequest,
		MessageID:     "m-1",
		DetachRequest: &protocol.DetachRequest{Path: "/a/b"},
	}
	h.Handle(ctx, rec.ID(), msg)

	reply := rec.last(t)
	require.NotNil(t, reply.DetachResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.DetachResponse.Result)

	rec.clear()
	h.Handle(ctx, rec.ID(), msg)
	reply = rec.last(t)
	assert.Equal(t, protocol.ResultNotAttached, reply.DetachResponse.Result)
}

func TestDetachUnregistered(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)

	h := handlers.NewDetach(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeDetachRequest,
		MessageID:     "m-1",
		DetachRequest: &protocol.DetachRequest{Path: "/a/b"},
	})

	reply := rec.last(t)
	require.NotNil(t, reply.DetachResponse)
	assert.Equal(t, protocol.ResultRejected, reply.DetachResponse.Result)
}

func TestImportPathToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// a second connection deeper in the subtree is aggregated too
	pathD, err := e.db.Paths.Create(ctx, e.pathB.ID, e.user.ID, "d", "/a/b/d", "path-d")
	require.NoError(t, err)
	_, err = e.db.Connections.Create(ctx, &repo.Connection{
		UserID: e.user.ID,
		PathID: pathD.ID,
		Token:  "conn-abd",
	})
	require.NoError(t, err)
	_, err = e.db.Daemons.Connect(ctx, e.home.ID, e.connAB.ID, repo.ActingServer, "", "")
	require.NoError(t, err)

	rec := e.bind(t)
	e.register(t, rec, "daemon-laptop", "id-laptop")

	h := handlers.NewImport(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeImportRequest,
		MessageID:     "m-1",
		ImportRequest: &protocol.ImportRequest{Token: "path-a"},
	})

	reply := rec.last(t)
	assert.Equal(t, protocol.TypeImportResponse, reply.Type)
	require.NotNil(t, reply.ImportResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.ImportResponse.Result)
	require.NotNil(t, reply.ImportResponse.Updates)

	list := reply.ImportResponse.Updates
	assert.Empty(t, list.ServerConnections)
	require.Len(t, list.ClientConnections, 2)
	assert.Equal(t, "alice@example.com/a/b", list.ClientConnections[0].Name)
	assert.Equal(t, "alice@example.com?home", list.ClientConnections[0].Server)
	assert.Equal(t, "alice@example.com/a/b/d", list.ClientConnections[1].Name)
	assert.Empty(t, list.ClientConnections[1].Server)
}

func TestImportConnectionToken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.Daemons.Connect(ctx, e.laptop.ID, e.connAB.ID, repo.ActingClient, "", "")
	require.NoError(t, err)

	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h := handlers.NewImport(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeImportRequest,
		MessageID:     "m-1",
		ImportRequest: &protocol.ImportRequest{Token: "conn-ab"},
	})

	reply := rec.last(t)
	require.NotNil(t, reply.ImportResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.ImportResponse.Result)
	list := reply.ImportResponse.Updates
	require.Len(t, list.ServerConnections, 1)
	assert.Empty(t, list.ClientConnections)
	sc := list.ServerConnections[0]
	assert.Equal(t, "alice@example.com/a/b", sc.Name)
	assert.Equal(t, "10.0.0.1", sc.ConnectAddress)
	assert.Equal(t, []string{"alice@example.com?laptop"}, sc.Clients)
}

func TestImportUnknownToken(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h := handlers.NewImport(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeImportRequest,
		MessageID:     "m-1",
		ImportRequest: &protocol.ImportRequest{Token: "nope"},
	})

	reply := rec.last(t)
	require.NotNil(t, reply.ImportResponse)
	assert.Equal(t, protocol.ResultRejected, reply.ImportResponse.Result)
	assert.Nil(t, reply.ImportResponse.Updates)
}

func TestDeleteSubtree(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	// live state referencing the doomed names must be cleaned up
	e.reg.SetStatus(rec.ID(), []string{"alice@example.com/a/b"})
	e.reg.SetWaitingServer("alice@example.com/a/b", rec.ID())

	h := handlers.NewDelete(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeDeleteRequest,
		MessageID:     "m-1",
		DeleteRequest: &protocol.DeleteRequest{Path: "/a"},
	})

	reply := rec.last(t)
	require.NotNil(t, reply.DeleteResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.DeleteResponse.Result)

	p, err := e.db.Paths.FindByToken(ctx, "path-b")
	require.NoError(t, err)
	assert.Nil(t, p)

	sess, _ := e.reg.Session(rec.ID())
	assert.Empty(t, sess.Status)
	_, ok := e.reg.Waiting("alice@example.com/a/b")
	assert.False(t, ok)
}

func TestDeleteRejections(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	h := handlers.NewDelete(e.deps)

	unregistered := e.bind(t)
	h.Handle(ctx, unregistered.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeDeleteRequest,
		MessageID:     "m-1",
		DeleteRequest: &protocol.DeleteRequest{Path: "/a"},
	})
	assert.Equal(t, protocol.ResultRejected, unregistered.last(t).DeleteResponse.Result)

	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeDeleteRequest,
		MessageID:     "m-2",
		DeleteRequest: &protocol.DeleteRequest{Path: "not-a-path"},
	})
	assert.Equal(t, protocol.ResultInvalidPath, rec.last(t).DeleteResponse.Result)

	rec.clear()
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:          protocol.TypeDeleteRequest,
		MessageID:     "m-3",
		DeleteRequest: &protocol.DeleteRequest{Path: "/missing"},
	})
	assert.Equal(t, protocol.ResultPathNotFound, rec.last(t).DeleteResponse.Result)
}

func TestConnectionsListRequest(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	_, err := e.db.Daemons.Connect(ctx, e.home.ID, e.connAB.ID, repo.ActingServer, "", "")
	require.NoError(t, err)

	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	h := handlers.NewConnectionsList(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeConnectionsListRequest,
		MessageID: "m-1",
	})

	reply := rec.last(t)
	assert.Equal(t, protocol.TypeConnectionsListResponse, reply.Type)
	require.NotNil(t, reply.ConnectionsListResponse)
	assert.Equal(t, protocol.ResultAccepted, reply.ConnectionsListResponse.Result)
	require.NotNil(t, reply.ConnectionsListResponse.List)
	assert.Len(t, reply.ConnectionsListResponse.List.ServerConnections, 1)
}

func TestConnectionsListUnregistered(t *testing.T) {
	e := newEnv(t)
	rec := e.bind(t)

	h := handlers.NewConnectionsList(e.deps)
	h.Handle(context.Background(), rec.ID(), &protocol.ClientMessage{
		Type:      protocol.TypeConnectionsListRequest,
		MessageID: "m-1",
	})

	reply := rec.last(t)
	require.NotNil(t, reply.ConnectionsListResponse)
	assert.Equal(t, protocol.ResultRejected, reply.ConnectionsListResponse.Result)
}

func TestStatusUpdate(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	rec := e.bind(t)
	e.register(t, rec, "daemon-home", "id-home")

	const name = "alice@example.com/a/b"
	h := handlers.NewStatus(e.deps)
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:         protocol.TypeStatusUpdate,
		StatusUpdate: &protocol.StatusUpdate{Served: []string{name}},
	})

	// no reply for status updates
	assert.Empty(t, rec.messages(t))

	sess, _ := e.reg.Session(rec.ID())
	_, ok := sess.Status[name]
	assert.True(t, ok)
	w, ok := e.reg.Waiting(name)
	require.True(t, ok)
	assert.Equal(t, rec.ID(), w.Server)

	// dropping the name releases the waiting entry
	h.Handle(ctx, rec.ID(), &protocol.ClientMessage{
		Type:         protocol.TypeStatusUpdate,
		StatusUpdate: &protocol.StatusUpdate{Served: nil},
	})
	_, ok = e.reg.Waiting(name)
	assert.False(t, ok)
}

func TestStatusUpdateDoesNotStealServer(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	first := e.bind(t)
	e.register(t, first, "daemon-home", "id-home")
	second := e.bind(t)
	e.register(t, second, "daemon-laptop", "id-laptop")

	const name = "alice@example.com/a/b"
	h := handlers.NewStatus(e.deps)
	h.Handle(ctx, first.ID(), &protocol.ClientMessage{
		Type:         protocol.TypeStatusUpdate,
		StatusUpdate: &protocol.StatusUpdate{Served: []string{name}},
	})
	h.Handle(ctx, second.ID(), &protocol.ClientMessage{
		Type:         protocol.TypeStatusUpdate,
		StatusUpdate: &protocol.StatusUpdate{Served: []string{name}},
	})

	w, ok := e.reg.Waiting(name)
	require.True(t, ok)
	assert.Equal(t, first.ID(), w.Server, "an attested server is not displaced")
}
