package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// Detach handles DETACH_REQUEST: it removes the session's own daemon from
// the connection of a path.
type Detach struct {
	deps Deps
	log  *slog.Logger
}

func NewDetach(deps Deps) *Detach {
	return &Detach{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "detach")),
	}
}

func (h *Detach) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	req := msg.DetachRequest
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got DETACH REQUEST", slog.String("remoteAddr", sess.RemoteAddr), slog.String("path", req.Path))

	email, userPath, ok := registry.ValidatePath(req.Path)
	if !ok {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultInvalidPath))
		return
	}
	if !sess.Registered() {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultRejected))
		return
	}

	daemon, err := h.deps.Daemons.Find(ctx, sess.DaemonID)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.Int64("daemonID", sess.DaemonID), slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultRejected))
		return
	}
	user, err := h.deps.Users.Find(ctx, daemon.UserID)
	if err != nil {
		h.log.Error("user lookup failed", slog.Int64("userID", daemon.UserID), slog.Any("error", err))
		return
	}
	if user == nil || (email != "" && email != user.Email) {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultRejected))
		return
	}

	path, err := h.deps.Paths.FindByUserAndPath(ctx, user.ID, userPath)
	if err != nil {
		h.log.Error("path lookup failed", slog.String("path", userPath), slog.Any("error", err))
		return
	}
	if path == nil {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultPathNotFound))
		return
	}
	connection, err := h.deps.Connections.FindByPath(ctx, path.ID)
	if err != nil {
		h.log.Error("connection lookup failed", slog.Int64("pathID", path.ID), slog.Any("error", err))
		return
	}
	if connection == nil {
		send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, protocol.ResultPathNotFound))
		return
	}

	count, err := h.deps.Daemons.Disconnect(ctx, daemon.ID, connection.ID)
	if err != nil {
		h.log.Error("disconnect failed",
			slog.Int64("daemonID", daemon.ID),
			slog.Int64("connectionID", connection.ID),
			slog.Any("error", err),
		)
		return
	}

	h.deps.Notifier.Daemon(ctx, daemon.ID)

	result := protocol.ResultNotAttached
	if count > 0 {
		result = protocol.ResultAccepted
	}
	send(h.log, sess, protocol.NewDetachResponse(msg.MessageID, result))
}
