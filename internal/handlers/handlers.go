// Package handlers implements the tracker request-handling state machine:
// one handler per inbound message type. Handlers read and mutate the registry,
// call the persistence repositories and send at most one reply per request.
// Infrastructure failures are logged and terminate the handler without a
// reply; protocol rejections travel as result codes.
package handlers

import (
	"log/slog"

	"github.com/breedhub/bhit-node/internal/notify"
	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
)

// Deps are the collaborators injected into every handler at construction.
type Deps struct {
	Logger      *slog.Logger
	Registry    registry.Registry
	Users       *repo.UserRepo
	Daemons     *repo.DaemonRepo
	Paths       *repo.PathRepo
	Connections *repo.ConnectionRepo
	Notifier    *notify.Notifier
}

// send encodes the reply and queues it on the session's transport. Encoding
// can only fail on a malformed builder result, so failure is logged as an
// internal error.
func send(logger *slog.Logger, sess *registry.Session, msg *protocol.ServerMessage) {
	data, err := protocol.EncodeServerMessage(msg)
	if err != nil {
		logger.Error("failed to encode reply",
			slog.String("type", msg.Type.String()),
			slog.Any("error", err),
		)
		return
	}
	logger.Debug("sending reply",
		slog.String("type", msg.Type.String()),
		slog.String("sessionID", sess.ID.String()),
	)
	sess.Transport.Send(data)
}
