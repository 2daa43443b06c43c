package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/google/uuid"
)

// Status handles STATUS_UPDATE: the session reports the set of connection
// names it currently serves. There is no reply. A session attesting a name
// becomes the waiting entry's server when none is attested; names the
// session stopped attesting are pruned from waiting entries.
type Status struct {
	deps Deps
	log  *slog.Logger
}

func NewStatus(deps Deps) *Status {
	return &Status{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "status")),
	}
}

func (h *Status) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	req := msg.StatusUpdate
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got STATUS UPDATE",
		slog.String("remoteAddr", sess.RemoteAddr),
		slog.Int("served", len(req.Served)),
	)

	// names attested before but not anymore must be re-validated below
	dropped := make([]string, 0, len(sess.Status))
	served := make(map[string]struct{}, len(req.Served))
	for _, name := range req.Served {
		served[name] = struct{}{}
	}
	for name := range sess.Status {
		if _, ok := served[name]; !ok {
			dropped = append(dropped, name)
		}
	}

	h.deps.Registry.SetStatus(sessionID, req.Served)

	for _, name := range req.Served {
		w, ok := h.deps.Registry.Waiting(name)
		if !ok || w.Server == uuid.Nil {
			h.deps.Registry.SetWaitingServer(name, sessionID)
		}
	}
	if len(dropped) > 0 {
		h.deps.Registry.PruneWaiting(dropped)
	}
}
