package handlers

import (
	"context"
	"errors"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// RegisterDaemon handles REGISTER_DAEMON_REQUEST: it resolves the daemon by
// token, guards against identity replay across reconnects and binds the
// session in the registry.
type RegisterDaemon struct {
	deps Deps
	log  *slog.Logger
}

func NewRegisterDaemon(deps Deps) *RegisterDaemon {
	return &RegisterDaemon{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "register_daemon")),
	}
}

func (h *RegisterDaemon) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	req := msg.RegisterDaemonRequest
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got REGISTER DAEMON REQUEST", slog.String("remoteAddr", sess.RemoteAddr))

	daemon, err := h.deps.Daemons.FindByToken(ctx, req.Token)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, protocol.NewRegisterDaemonResponse(msg.MessageID, protocol.ResultRejected, "", ""))
		return
	}

	user, err := h.deps.Users.Find(ctx, daemon.UserID)
	if err != nil {
		h.log.Error("user lookup failed", slog.Int64("userID", daemon.UserID), slog.Any("error", err))
		return
	}
	if user == nil {
		send(h.log, sess, protocol.NewRegisterDaemonResponse(msg.MessageID, protocol.ResultRejected, "", ""))
		return
	}

	err = h.deps.Registry.RegisterDaemon(sessionID, registry.Daemon{
		ID:        daemon.ID,
		Name:      daemon.Name,
		UserID:    user.ID,
		UserEmail: user.Email,
	}, req.Identity, req.Key)
	if errors.Is(err, registry.ErrIdentityConflict) {
		h.log.Warn("identity conflict on registration",
			slog.String("sessionID", sessionID.String()),
			slog.Int64("daemonID", daemon.ID),
		)
		send(h.log, sess, protocol.NewRegisterDaemonResponse(msg.MessageID, protocol.ResultRejected, "", ""))
		return
	}
	if err != nil {
		h.log.Error("registration failed", slog.Any("error", err))
		return
	}

	name := user.Email + "?" + daemon.Name
	send(h.log, sess, protocol.NewRegisterDaemonResponse(msg.MessageID, protocol.ResultAccepted, user.Email, name))

	// the fresh daemon learns its current topology right away
	h.deps.Notifier.Session(ctx, sessionID)
}
