// Package notify implements the connections-list fan-out: whenever topology
// changes for a daemon, every live session bound to it receives a freshly
// materialized list.
package notify

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

type Notifier struct {
	logger  *slog.Logger
	reg     registry.Registry
	daemons *repo.DaemonRepo
}

func New(logger *slog.Logger, reg registry.Registry, daemons *repo.DaemonRepo) *Notifier {
	return &Notifier{
		logger:  logger.With(slog.String("component", "notify")),
		reg:     reg,
		daemons: daemons,
	}
}

// Daemon recomputes the daemon's connections list once and pushes it to every
// live session of the daemon. Failures are logged and swallowed; notification
// is best-effort and a push to a closed session is dropped by the transport.
func (n *Notifier) Daemon(ctx context.Context, daemonID int64) {
	sessions := n.reg.DaemonSessions(daemonID)
	if len(sessions) == 0 {
		return
	}
	data, ok := n.encodeList(ctx, daemonID)
	if !ok {
		return
	}
	for _, sess := range sessions {
		sess.Transport.Send(data)
	}
	n.logger.Debug("pushed connections list",
		slog.Int64("daemonID", daemonID),
		slog.Int("sessions", len(sessions)),
	)
}

// Session pushes the connections list of the session's bound daemon to that
// session only. Used right after a successful registration.
func (n *Notifier) Session(ctx context.Context, sessionID uuid.UUID) {
	sess, ok := n.reg.Session(sessionID)
	if !ok || !sess.Registered() {
		return
	}
	data, ok := n.encodeList(ctx, sess.DaemonID)
	if !ok {
		return
	}
	sess.Transport.Send(data)
}

func (n *Notifier) encodeList(ctx context.Context, daemonID int64) ([]byte, bool) {
	list, err := n.daemons.ConnectionsList(ctx, daemonID)
	if err != nil {
		n.logger.Error("failed to materialize connections list",
			slog.Int64("daemonID", daemonID),
			slog.Any("error", err),
		)
		return nil, false
	}
	data, err := protocol.EncodeServerMessage(protocol.NewConnectionsListPush(list))
	if err != nil {
		n.logger.Error("failed to encode connections list push",
			slog.Int64("daemonID", daemonID),
			slog.Any("error", err),
		)
		return nil, false
	}
	return data, true
}
