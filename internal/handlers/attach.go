package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// replyBuilder lets Attach and RemoteAttach share one handler core while
// replying with their own message type.
type replyBuilder func(messageID string, result protocol.Result) *protocol.ServerMessage

// Attach handles ATTACH_REQUEST: it associates a named daemon with the
// connection of a path, acting as client or server.
type Attach struct {
	core attachCore
}

func NewAttach(deps Deps) *Attach {
	return &Attach{core: attachCore{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "attach")),
	}}
}

func (h *Attach) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	h.core.handle(ctx, sessionID, msg.MessageID, msg.AttachRequest, false, protocol.NewAttachResponse)
}

// RemoteAttach handles REMOTE_ATTACH_REQUEST: the same association, but it
// first migrates away any existing attachment of the daemon and, when acting
// as server, of whatever daemon previously served the connection.
type RemoteAttach struct {
	core attachCore
}

func NewRemoteAttach(deps Deps) *RemoteAttach {
	return &RemoteAttach{core: attachCore{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "remote_attach")),
	}}
}

func (h *RemoteAttach) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	h.core.handle(ctx, sessionID, msg.MessageID, msg.RemoteAttachRequest, true, protocol.NewRemoteAttachResponse)
}

type attachCore struct {
	deps Deps
	log  *slog.Logger
}

// handle runs the ordered validation chain of the attach flow. Every step
// short-circuits with its reply code; infrastructure errors terminate the
// handler without a reply.
func (h *attachCore) handle(ctx context.Context, sessionID uuid.UUID, messageID string, req *protocol.AttachRequest, migrate bool, reply replyBuilder) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got ATTACH REQUEST",
		slog.String("remoteAddr", sess.RemoteAddr),
		slog.String("path", req.Path),
		slog.Bool("server", req.Server),
	)

	// 1. target path
	email, userPath, ok := registry.ValidatePath(req.Path)
	if !ok {
		send(h.log, sess, reply(messageID, protocol.ResultInvalidPath))
		return
	}

	// 2. requester identity
	user, err := h.deps.Users.FindByToken(ctx, req.Token)
	if err != nil {
		h.log.Error("user lookup failed", slog.Any("error", err))
		return
	}
	if user == nil || (email != "" && email != user.Email) {
		send(h.log, sess, reply(messageID, protocol.ResultRejected))
		return
	}

	// 3. named daemon under that user
	daemon, err := h.deps.Daemons.FindByUserAndName(ctx, user.ID, req.DaemonName)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.String("daemonName", req.DaemonName), slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, reply(messageID, protocol.ResultDaemonNotFound))
		return
	}

	// 4. path and its connection; the connection comes strictly from this
	// lookup
	path, err := h.deps.Paths.FindByUserAndPath(ctx, user.ID, userPath)
	if err != nil {
		h.log.Error("path lookup failed", slog.String("path", userPath), slog.Any("error", err))
		return
	}
	if path == nil {
		send(h.log, sess, reply(messageID, protocol.ResultPathNotFound))
		return
	}
	connection, err := h.deps.Connections.FindByPath(ctx, path.ID)
	if err != nil {
		h.log.Error("connection lookup failed", slog.Int64("pathID", path.ID), slog.Any("error", err))
		return
	}
	if connection == nil {
		send(h.log, sess, reply(messageID, protocol.ResultPathNotFound))
		return
	}

	// 5. override combinations
	if !registry.ValidOverrides(req.Server, req.AddressOverride, req.PortOverride) {
		send(h.log, sess, reply(messageID, protocol.ResultInvalidAddress))
		return
	}

	actingAs := repo.ActingClient
	if req.Server {
		actingAs = repo.ActingServer
	}

	// 6. migration of superseded attachments
	if migrate {
		if !h.migrate(ctx, daemon.ID, connection.ID, req.Server) {
			return
		}
	}

	// 7. transactional connect; idempotent, single-server enforced inside
	count, err := h.deps.Daemons.Connect(ctx, daemon.ID, connection.ID, actingAs, req.AddressOverride, req.PortOverride)
	if err != nil {
		h.log.Error("connect failed",
			slog.Int64("daemonID", daemon.ID),
			slog.Int64("connectionID", connection.ID),
			slog.Any("error", err),
		)
		return
	}

	// a daemon session attaching as client waits on the name until a server
	// attests it
	if count > 0 && actingAs == repo.ActingClient && sess.DaemonID == daemon.ID {
		h.deps.Registry.AddWaitingClient(user.Email+path.Path, sessionID)
	}

	// 8. notify the affected daemon's sessions, then reply
	h.deps.Notifier.Daemon(ctx, daemon.ID)

	result := protocol.ResultAlreadyAttached
	if count > 0 {
		result = protocol.ResultAccepted
	}
	send(h.log, sess, reply(messageID, result))
}

// migrate disconnects the daemon's prior association for this connection and,
// when claiming the server role, the previous serving daemon. Every affected
// daemon's sessions are notified before the new association is made. Returns
// false when an infrastructure error aborted the handler.
func (h *attachCore) migrate(ctx context.Context, daemonID, connectionID int64, server bool) bool {
	count, err := h.deps.Daemons.Disconnect(ctx, daemonID, connectionID)
	if err != nil {
		h.log.Error("migration disconnect failed", slog.Int64("daemonID", daemonID), slog.Any("error", err))
		return false
	}
	if count > 0 {
		h.deps.Notifier.Daemon(ctx, daemonID)
	}

	if !server {
		return true
	}
	oldDaemon, err := h.deps.Daemons.FindServerByConnection(ctx, connectionID)
	if err != nil {
		h.log.Error("server lookup failed", slog.Int64("connectionID", connectionID), slog.Any("error", err))
		return false
	}
	if oldDaemon == nil {
		return true
	}
	count, err = h.deps.Daemons.Disconnect(ctx, oldDaemon.ID, connectionID)
	if err != nil {
		h.log.Error("migration disconnect of old server failed", slog.Int64("daemonID", oldDaemon.ID), slog.Any("error", err))
		return false
	}
	if count > 0 {
		h.deps.Notifier.Daemon(ctx, oldDaemon.ID)
	}
	return true
}
