// Room HTTP handlers.
//
// This file exposes REST endpoints over the same services the websocket
// gateway uses:
//   - GET  /rooms/{room_id}/messages  (history, weak ETag support)
//   - POST /rooms/{room_id}/messages  (send; fans out to websocket members)
//
// Handlers are transport-thin: they bind input, call the services, and map
// service errors to status codes (400 validation, 503 storage).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-room-chat/internal/domain"
	"github.com/tbourn/go-room-chat/internal/http/middleware"
	"github.com/tbourn/go-room-chat/internal/realtime"
	"github.com/tbourn/go-room-chat/internal/services"
)

// Ingester persists one message for a room.
type Ingester interface {
	Ingest(ctx context.Context, req services.IngestRequest) (*domain.ChatMessage, error)
}

// HistoryReader resolves a room's ordered history and its change marker.
type HistoryReader interface {
	History(ctx context.Context, roomID string) ([]domain.ChatMessage, error)
	Stats(ctx context.Context, roomID string) (count int64, lastID int64, err error)
}

// Broadcaster fans an event out to the websocket members of a room.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any) (int, error)
}

// Handlers groups the room endpoints.
type Handlers struct {
	ingest  Ingester
	history HistoryReader
	fanout  Broadcaster
}

// New constructs Handlers. fanout may be nil, in which case messages sent
// over HTTP are stored but not pushed to websocket clients.
func New(ingest Ingester, history HistoryReader, fanout Broadcaster) *Handlers {
	return &Handlers{ingest: ingest, history: history, fanout: fanout}
}

// SendMessageRequest is the JSON payload for posting a message to a room.
type SendMessageRequest struct {
	Timestamp      string  `json:"timestamp"       binding:"required" example:"2024-05-01T12:00:00"`
	Message        *string `json:"message"         binding:"required" example:"hello"`
	SenderID       *int64  `json:"sender_id"       binding:"required" example:"1"`
	SenderUsername string  `json:"sender_username" binding:"required" example:"alice"`
}

// roomETag hashes the room id so any byte it carries stays out of the
// quoted opaque-tag.
func roomETag(roomID string, count, lastID int64) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(roomID))
	return fmt.Sprintf(`W/"room-%016x:%d:%d"`, h.Sum64(), count, lastID)
}

// ListRoomMessages godoc
// @ID          listRoomMessages
// @Summary     Room history
// @Description Returns every message of the room ordered by timestamp. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Rooms
// @Produce     json
//
// @Param       room_id        path    string  true   "Room identifier"             example(lobby)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"  example(W/\"room-1ccae3b6ef72f533:3:42\")
//
// @Success     200  {array}   domain.ChatMessage
// @Header      200  {string}  ETag  "Weak ETag for current history"
// @Success     304  {string}  string "Not Modified"
// @Failure     503  {object}  handlers.ErrorResponse "Storage failure"
// @Router      /rooms/{room_id}/messages [get]
func (h *Handlers) ListRoomMessages(c *gin.Context) {
	ctx := c.Request.Context()
	roomID := c.Param("room_id")

	// Best effort; a failed pre-check falls through to the full read.
	if count, lastID, err := h.history.Stats(ctx, roomID); err == nil {
		etag := roomETag(roomID, count, lastID)
		c.Header("ETag", etag)
		if c.GetHeader("If-None-Match") == etag {
			notModified(c)
			return
		}
	}

	msgs, err := h.history.History(ctx, roomID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	if msgs == nil {
		msgs = []domain.ChatMessage{}
	}
	ok(c, http.StatusOK, msgs)
}

// PostRoomMessage godoc
// @ID          postRoomMessage
// @Summary     Send a message to a room
// @Description Stores the message and broadcasts it to websocket members of the room as a "message" event.
// @Tags        Rooms
// @Accept      json
// @Produce     json
//
// @Param       room_id  path  string                        true  "Room identifier"  example(lobby)
// @Param       body     body  handlers.SendMessageRequest   true  "Message payload"
//
// @Success     201  {object}  domain.ChatMessage
// @Failure     400  {object}  handlers.ErrorResponse "Validation error"
// @Failure     503  {object}  handlers.ErrorResponse "Storage failure"
// @Router      /rooms/{room_id}/messages [post]
func (h *Handlers) PostRoomMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "invalid message body: "+err.Error())
		return
	}

	msg, err := h.ingest.Ingest(c.Request.Context(), services.IngestRequest{
		RoomID:         c.Param("room_id"),
		Content:        *req.Message,
		Timestamp:      req.Timestamp,
		SenderID:       req.SenderID,
		SenderUsername: req.SenderUsername,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}

	if h.fanout != nil {
		n, err := h.fanout.Broadcast(msg.RoomID, realtime.EventMessage, msg)
		if err != nil {
			middleware.LoggerFrom(c).Error().Err(err).Str("room_id", msg.RoomID).Msg("broadcast message")
		} else {
			middleware.LoggerFrom(c).Debug().Int("delivered", n).Int64("message_id", msg.ID).Msg("message fanned out")
		}
	}
	ok(c, http.StatusCreated, msg)
}

func (h *Handlers) serviceError(c *gin.Context, err error) {
	if errors.Is(err, services.ErrValidation) {
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
		return
	}
	_ = c.Error(err)
	fail(c, http.StatusServiceUnavailable, ErrCodeStorage, "message store unavailable, try again")
}
