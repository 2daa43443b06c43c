package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/breedhub/bhit-node/internal/dispatcher"
	"github.com/breedhub/bhit-node/internal/handlers"
	"github.com/breedhub/bhit-node/internal/notify"
	"github.com/breedhub/bhit-node/internal/repo"
	"github.com/breedhub/bhit-node/internal/server/middleware"
	"github.com/breedhub/bhit-node/pkg/config"
	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/breedhub/bhit-node/pkg/registry"
	"github.com/breedhub/bhit-node/pkg/registry/memregistry"
	"github.com/breedhub/bhit-node/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

type App struct {
	logger     *slog.Logger
	registry   registry.Registry
	dispatcher *dispatcher.Dispatcher
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config, db *repo.DB) *App {
	reg := memregistry.NewInMemoryRegistry(logger)
	notifier := notify.New(logger, reg, db.Daemons)

	disp := dispatcher.New(logger)
	deps := handlers.Deps{
		Logger:      logger,
		Registry:    reg,
		Users:       db.Users,
		Daemons:     db.Daemons,
		Paths:       db.Paths,
		Connections: db.Connections,
		Notifier:    notifier,
	}
	disp.Register(protocol.TypeRegisterDaemonRequest, handlers.NewRegisterDaemon(deps))
	disp.Register(protocol.TypeAttachRequest, handlers.NewAttach(deps))
	disp.Register(protocol.TypeRemoteAttachRequest, handlers.NewRemoteAttach(deps))
	disp.Register(protocol.TypeDetachRequest, handlers.NewDetach(deps))
	disp.Register(protocol.TypeImportRequest, handlers.NewImport(deps))
	disp.Register(protocol.TypeDeleteRequest, handlers.NewDelete(deps))
	disp.Register(protocol.TypeConnectionsListRequest, handlers.NewConnectionsList(deps))
	disp.Register(protocol.TypeStatusUpdate, handlers.NewStatus(deps))

	app := &App{
		logger:     logger,
		registry:   reg,
		dispatcher: disp,
		config:     cfg,
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	connCounter := middleware.AddrConnectionCounter(reg.SessionCountByAddr)
	// Create a cycler function that closes over the registry and logger.
	connCycler := func(addr string) {
		oldest, found := reg.OldestSessionByAddr(addr)
		if found {
			logger.Info("Cycling session: closing oldest", "ip", addr, "sessionID", oldest.ID)
			oldest.Transport.Close(errors.New("session cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				connCounter,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
		),
	)
	mux.Handle("/status",
		middleware.Chain(http.HandlerFunc(app.statusHandler),
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewAuthMiddleware(logger, app.config.Server.Admin.JWTSecret),
		),
	)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		a.ctx,
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)
	sess := a.registry.BindSession(conn, reqMeta.IP)
	conn.SetOnMessageHandler(a.dispatcher.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Unbinding session due to closure", slog.String("sessionID", id.String()))
		a.registry.UnbindSession(id)
	})

	connLogger.Info("Session fully established", slog.String("sessionID", sess.ID.String()))
	conn.Run()
	<-conn.Done()
}

// statusHandler serves the admin snapshot of live registry state.
func (a *App) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(a.registry.Snapshot()); err != nil {
		a.logger.Error("Failed to encode status snapshot", slog.Any("error", err))
	}
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket sessions.
	a.logger.Info("Closing all active sessions...")
	snap := a.registry.Snapshot()
	for _, info := range snap.Sessions {
		id, err := uuid.Parse(info.ID)
		if err != nil {
			continue
		}
		if sess, ok := a.registry.Session(id); ok {
			sess.Transport.Close(errors.New("graceful shutdown"))
		}
	}

	// wait for all session goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
