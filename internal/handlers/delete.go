package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// Delete handles DELETE_REQUEST: it removes a path and its whole subtree,
// cleaning up in-memory status attestations and waiting entries strictly
// before the persisted recursive delete.
type Delete struct {
	deps Deps
	log  *slog.Logger
}

func NewDelete(deps Deps) *Delete {
	return &Delete{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "delete")),
	}
}

func (h *Delete) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	req := msg.DeleteRequest
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got DELETE REQUEST", slog.String("remoteAddr", sess.RemoteAddr), slog.String("path", req.Path))

	if !sess.Registered() {
		send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultRejected))
		return
	}
	daemon, err := h.deps.Daemons.Find(ctx, sess.DaemonID)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.Int64("daemonID", sess.DaemonID), slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultRejected))
		return
	}

	email, userPath, ok := registry.ValidatePath(req.Path)
	if !ok {
		send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultInvalidPath))
		return
	}

	user, err := h.deps.Users.Find(ctx, daemon.UserID)
	if err != nil {
		h.log.Error("user lookup failed", slog.Int64("userID", daemon.UserID), slog.Any("error", err))
		return
	}
	if user == nil || (email != "" && email != user.Email) {
		send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultRejected))
		return
	}

	path, err := h.deps.Paths.FindByUserAndPath(ctx, user.ID, userPath)
	if err != nil {
		h.log.Error("path lookup failed", slog.String("path", userPath), slog.Any("error", err))
		return
	}
	if path == nil {
		send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultPathNotFound))
		return
	}

	subtree, err := h.deps.Paths.FindSubtree(ctx, path.ID)
	if err != nil {
		h.log.Error("subtree walk failed", slog.Int64("pathID", path.ID), slog.Any("error", err))
		return
	}
	names := make([]string, 0, len(subtree))
	for _, p := range subtree {
		names = append(names, user.Email+p.Path)
	}

	// in-memory cleanup first: no session may keep attesting a name that is
	// about to disappear, and waiting entries must not reference them
	h.deps.Registry.RemoveStatusNames(names)
	h.deps.Registry.PruneWaiting(names)

	if err := h.deps.Paths.DeleteRecursive(ctx, path.ID); err != nil {
		h.log.Error("recursive delete failed", slog.Int64("pathID", path.ID), slog.Any("error", err))
		return
	}

	send(h.log, sess, protocol.NewDeleteResponse(msg.MessageID, protocol.ResultAccepted))
}
