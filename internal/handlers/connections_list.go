package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/google/uuid"
)

// ConnectionsList handles CONNECTIONS_LIST_REQUEST: a pure read of the
// session's bound daemon's materialized connections list.
type ConnectionsList struct {
	deps Deps
	log  *slog.Logger
}

func NewConnectionsList(deps Deps) *ConnectionsList {
	return &ConnectionsList{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "connections_list")),
	}
}

func (h *ConnectionsList) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	h.log.Debug("got CONNECTIONS LIST REQUEST", slog.String("remoteAddr", sess.RemoteAddr))

	if !sess.Registered() {
		send(h.log, sess, protocol.NewConnectionsListResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}
	daemon, err := h.deps.Daemons.Find(ctx, sess.DaemonID)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.Int64("daemonID", sess.DaemonID), slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, protocol.NewConnectionsListResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}

	list, err := h.deps.Daemons.ConnectionsList(ctx, daemon.ID)
	if err != nil {
		h.log.Error("connections list failed", slog.Int64("daemonID", daemon.ID), slog.Any("error", err))
		return
	}

	send(h.log, sess, protocol.NewConnectionsListResponse(msg.MessageID, protocol.ResultAccepted, list))
}
