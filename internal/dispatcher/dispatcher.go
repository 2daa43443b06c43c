// Package dispatcher routes decoded tracker envelopes to their handlers by
// message type.
package dispatcher

import (
	"context"
	"log/slog"

	"github.com/breedhub/bhit-node/pkg/protocol"
	"github.com/google/uuid"
)

// Handler processes one inbound message for one session.
type Handler interface {
	Handle(ctx context.Context, sessionID uuid.UUID, msg *protocol.ClientMessage)
}

type Dispatcher struct {
	logger   *slog.Logger
	handlers map[protocol.MessageType]Handler
}

func New(logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		logger:   logger.With(slog.String("component", "dispatcher")),
		handlers: make(map[protocol.MessageType]Handler),
	}
}

// Register binds a handler to a message type. Called during wiring, before
// any traffic flows.
func (d *Dispatcher) Register(t protocol.MessageType, h Handler) {
	if _, exists := d.handlers[t]; exists {
		panic("handler already registered for " + t.String())
	}
	d.handlers[t] = h
}

// HandleMessage is installed as the transport message callback. The read
// pump invokes it synchronously, so one session's messages are processed in
// arrival order while other sessions progress concurrently.
func (d *Dispatcher) HandleMessage(ctx context.Context, sessionID uuid.UUID, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		d.logger.Warn("failed to decode message",
			slog.String("sessionID", sessionID.String()),
			slog.Any("error", err),
		)
		return
	}

	handler, ok := d.handlers[msg.Type]
	if !ok {
		d.logger.Warn("received unknown message type",
			slog.String("type", msg.Type.String()),
			slog.String("sessionID", sessionID.String()),
		)
		return
	}
	d.logger.Debug("dispatching message",
		slog.String("type", msg.Type.String()),
		slog.String("sessionID", sessionID.String()),
	)
	handler.Handle(ctx, sessionID, msg)
}
