package handlers

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/google/uuid"
)

// Import handles IMPORT_REQUEST: a token resolving to a path imports that
// path's whole subtree of connections (client role); a token resolving to a
// connection imports that single connection (server role).
type Import struct {
	deps Deps
	log  *slog.Logger
}

func NewImport(deps Deps) *Import {
	return &Import{
		deps: deps,
		log:  deps.Logger.With(slog.String("handler", "import")),
	}
}

func (h *Import) Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage) {
	sess, ok := h.deps.Registry.Session(sessionID)
	if !ok {
		return
	}
	req := msg.ImportRequest
	if req == nil {
		h.log.Warn("request without payload", slog.String("sessionID", sessionID.String()))
		return
	}
	h.log.Debug("got IMPORT REQUEST", slog.String("remoteAddr", sess.RemoteAddr))

	if !sess.Registered() {
		send(h.log, sess, protocol.NewImportResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}
	daemon, err := h.deps.Daemons.Find(ctx, sess.DaemonID)
	if err != nil {
		h.log.Error("daemon lookup failed", slog.Int64("daemonID", sess.DaemonID), slog.Any("error", err))
		return
	}
	if daemon == nil {
		send(h.log, sess, protocol.NewImportResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}

	path, err := h.deps.Paths.FindByToken(ctx, req.Token)
	if err != nil {
		h.log.Error("path token lookup failed", slog.Any("error", err))
		return
	}
	connection, err := h.deps.Connections.FindByToken(ctx, req.Token)
	if err != nil {
		h.log.Error("connection token lookup failed", slog.Any("error", err))
		return
	}

	var (
		userID      int64
		actingAs    string
		connections []*repo.Connection
	)
	switch {
	case path != nil:
		actingAs = repo.ActingClient
		userID = path.UserID
		connections, err = h.deps.Connections.FindByPathSubtree(ctx, path.ID)
		if err != nil {
			h.log.Error("subtree walk failed", slog.Int64("pathID", path.ID), slog.Any("error", err))
			return
		}
	case connection != nil:
		actingAs = repo.ActingServer
		userID = connection.UserID
		connections = []*repo.Connection{connection}
	default:
		send(h.log, sess, protocol.NewImportResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}

	user, err := h.deps.Users.Find(ctx, userID)
	if err != nil {
		h.log.Error("user lookup failed", slog.Int64("userID", userID), slog.Any("error", err))
		return
	}
	if user == nil {
		send(h.log, sess, protocol.NewImportResponse(msg.MessageID, protocol.ResultRejected, nil))
		return
	}

	list := &protocol.ConnectionsList{
		ServerConnections: []protocol.ServerConnection{},
		ClientConnections: []protocol.ClientConnection{},
	}
	for _, conn := range connections {
		connPath, err := h.deps.Paths.Find(ctx, conn.PathID)
		if err != nil {
			h.log.Error("path lookup failed", slog.Int64("pathID", conn.PathID), slog.Any("error", err))
			return
		}
		if connPath == nil {
			continue
		}
		name := user.Email + connPath.Path

		if actingAs == repo.ActingServer {
			clients, err := h.deps.Daemons.PeerNames(ctx, conn.ID, repo.ActingClient)
			if err != nil {
				h.log.Error("client peers lookup failed", slog.Int64("connectionID", conn.ID), slog.Any("error", err))
				return
			}
			address, port := registry.AddressOverride(conn.ConnectAddress, conn.ConnectPort, conn.AddressOverride, conn.PortOverride)
			list.ServerConnections = append(list.ServerConnections, protocol.ServerConnection{
				Name:           name,
				ConnectAddress: address,
				ConnectPort:    port,
				Encrypted:      conn.Encrypted,
				Fixed:          conn.Fixed,
				Clients:        clients,
			})
			continue
		}

		servers, err := h.deps.Daemons.PeerNames(ctx, conn.ID, repo.ActingServer)
		if err != nil {
			h.log.Error("server peer lookup failed", slog.Int64("connectionID", conn.ID), slog.Any("error", err))
			return
		}
		var server string
		if len(servers) > 0 {
			server = servers[0]
		}
		address, port := registry.AddressOverride(conn.ListenAddress, conn.ListenPort, conn.AddressOverride, conn.PortOverride)
		list.ClientConnections = append(list.ClientConnections, protocol.ClientConnection{
			Name:          name,
			ListenAddress: address,
			ListenPort:    port,
			Encrypted:     conn.Encrypted,
			Fixed:         conn.Fixed,
			Server:        server,
		})
	}

	send(h.log, sess, protocol.NewImportResponse(msg.MessageID, protocol.ResultAccepted, list))
}
