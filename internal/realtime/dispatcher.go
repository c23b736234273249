package realtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-room-chat/internal/domain"
	"github.com/tbourn/go-room-chat/internal/services"
)

// Ingester persists one chat message; implemented by services.IngestService.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*domain.ChatMessage, error)
}

// HistoryReader resolves a room's ordered history; implemented by
// services.HistoryService.
type HistoryReader interface {
	History(ctx context.Context, roomID string) ([]domain.ChatMessage, error)
}

// Dispatcher routes decoded client events to the registry and services and
// answers through the gateway. Errors are only ever sent to the participant
// whose frame caused them.
type Dispatcher struct {
	reg     *Registry
	gw      *Gateway
	ingest  Ingester
	history HistoryReader
	log     zerolog.Logger
}

// NewDispatcher wires a dispatcher.
func NewDispatcher(reg *Registry, gw *Gateway, ingest Ingester, history HistoryReader, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{reg: reg, gw: gw, ingest: ingest, history: history, log: log}
}

// Handle processes one raw frame from p. A panic while handling a frame is
// reported to p and does not take the connection down.
func (d *Dispatcher) Handle(ctx context.Context, p Participant, frame []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error().Str("participant", p.ID()).Interface("panic", rec).Msg("panic while handling frame")
			d.fail(p, CodeInternal, "internal error")
		}
	}()

	ev, err := Decode(frame)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			d.fail(p, de.Code, de.Message)
			return
		}
		d.fail(p, CodeBadRequest, err.Error())
		return
	}

	switch e := ev.(type) {
	case *JoinChat:
		d.join(p, e)
	case *LeaveChat:
		d.leave(p, e)
	case *Outgoing:
		d.outgoing(ctx, p, e)
	case *RequestChatHistory:
		d.requestHistory(ctx, p, e)
	}
}

func (d *Dispatcher) join(p Participant, e *JoinChat) {
	if d.reg.Join(e.RID, p) {
		roomJoins.Inc()
	}
	d.log.Debug().Str("participant", p.ID()).Str("room_id", e.RID).Msg("joined room")
	if _, err := d.gw.Broadcast(e.RID, EventJoinedChat, Notice{Msg: e.RID + " is now online."}); err != nil {
		d.log.Error().Err(err).Str("room_id", e.RID).Msg("broadcast joined-chat")
	}
}

func (d *Dispatcher) leave(p Participant, e *LeaveChat) {
	d.reg.Leave(e.RID, p)
	d.send(p, EventLeftChat, Notice{Msg: fmt.Sprintf("left %s.", e.RID)})
}

func (d *Dispatcher) outgoing(ctx context.Context, p Participant, e *Outgoing) {
	msg, err := d.ingest.Ingest(ctx, services.IngestRequest{
		RoomID:         e.RID,
		Content:        *e.Message,
		Timestamp:      e.Timestamp,
		SenderID:       e.SenderID,
		SenderUsername: e.SenderUsername,
	})
	if err != nil {
		d.serviceError(p, err)
		return
	}
	if _, err := d.gw.Broadcast(msg.RoomID, EventMessage, msg); err != nil {
		d.log.Error().Err(err).Str("room_id", msg.RoomID).Msg("broadcast message")
	}
}

func (d *Dispatcher) requestHistory(ctx context.Context, p Participant, e *RequestChatHistory) {
	msgs, err := d.history.History(ctx, e.RoomID)
	if err != nil {
		d.serviceError(p, err)
		return
	}
	d.send(p, EventChatHistory, History(msgs))
}

func (d *Dispatcher) serviceError(p Participant, err error) {
	switch {
	case errors.Is(err, services.ErrValidation):
		d.fail(p, CodeValidation, err.Error())
	default:
		d.log.Error().Err(err).Str("participant", p.ID()).Msg("storage failure")
		d.fail(p, CodeStorage, "message store unavailable, try again")
	}
}

func (d *Dispatcher) fail(p Participant, code, msg string) {
	d.send(p, EventError, ErrorPayload{Code: code, Message: msg})
}

func (d *Dispatcher) send(p Participant, event string, payload any) {
	if err := d.gw.Send(p, event, payload); err != nil {
		d.log.Error().Err(err).Str("event", event).Msg("encode frame")
	}
}
