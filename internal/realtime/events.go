package realtime

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/tbourn/go-room-chat/internal/domain"
)

// Inbound event names.
const (
	EventJoinChat           = "join-chat"
	EventLeaveChat          = "leave-chat"
	EventOutgoing           = "outgoing"
	EventRequestChatHistory = "request_chat_history"
)

// Outbound event names.
const (
	EventJoinedChat  = "joined-chat"
	EventLeftChat    = "left-chat"
	EventMessage     = "message"
	EventChatHistory = "chat_history"
	EventError       = "error"
)

// Error codes carried by EventError frames.
const (
	CodeValidation   = "validation_error"
	CodeStorage      = "storage_failure"
	CodeBadRequest   = "bad_request"
	CodeRateLimited  = "rate_limited"
	CodeUnknownEvent = "unknown_event"
	CodeInternal     = "internal_error"
)

// Envelope is the wire shape of every frame in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Inbound is implemented by every decoded client event.
type Inbound interface {
	eventName() string
}

// JoinChat asks to join room RID.
type JoinChat struct {
	RID string `json:"rid" validate:"required,max=50"`
}

// LeaveChat asks to leave room RID.
type LeaveChat struct {
	RID string `json:"rid" validate:"required,max=50"`
}

// Outgoing submits a chat message to room RID. Length bounds are enforced by
// the ingest service; here only presence is checked.
type Outgoing struct {
	RID            string  `json:"rid" validate:"required"`
	Timestamp      string  `json:"timestamp" validate:"required"`
	Message        *string `json:"message" validate:"required"`
	SenderID       *int64  `json:"sender_id" validate:"required"`
	SenderUsername string  `json:"sender_username" validate:"required"`
}

// RequestChatHistory asks for the full history of RoomID.
type RequestChatHistory struct {
	RoomID   string `json:"room_id" validate:"required,max=50"`
	SenderID *int64 `json:"sender_id" validate:"required"`
}

func (*JoinChat) eventName() string           { return EventJoinChat }
func (*LeaveChat) eventName() string          { return EventLeaveChat }
func (*Outgoing) eventName() string           { return EventOutgoing }
func (*RequestChatHistory) eventName() string { return EventRequestChatHistory }

// Outbound payloads.
type (
	// Notice is the payload of joined-chat and left-chat.
	Notice struct {
		Msg string `json:"msg"`
	}

	// ErrorPayload is sent to the originating connection only.
	ErrorPayload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
)

// History is the chat_history payload: a flat array, never null.
type History []domain.ChatMessage

// MarshalJSON keeps an empty history as [] on the wire.
func (h History) MarshalJSON() ([]byte, error) {
	if h == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]domain.ChatMessage(h))
}

// DecodeError is returned by Decode; Code is one of the Code* constants.
type DecodeError struct {
	Code    string
	Message string
}

func (e *DecodeError) Error() string { return e.Code + ": " + e.Message }

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Decode parses one inbound frame into its typed event. Unknown fields are
// rejected so that typos surface to the client instead of being ignored.
func Decode(frame []byte) (Inbound, error) {
	var env Envelope
	if err := strictUnmarshal(frame, &env); err != nil {
		return nil, &DecodeError{Code: CodeBadRequest, Message: "malformed frame: " + err.Error()}
	}

	var ev Inbound
	switch env.Event {
	case EventJoinChat:
		ev = &JoinChat{}
	case EventLeaveChat:
		ev = &LeaveChat{}
	case EventOutgoing:
		ev = &Outgoing{}
	case EventRequestChatHistory:
		ev = &RequestChatHistory{}
	case "":
		return nil, &DecodeError{Code: CodeBadRequest, Message: "missing event name"}
	default:
		return nil, &DecodeError{Code: CodeUnknownEvent, Message: fmt.Sprintf("unknown event %q", env.Event)}
	}

	if len(env.Data) == 0 || bytes.Equal(env.Data, []byte("null")) {
		return nil, &DecodeError{Code: CodeValidation, Message: "data is required"}
	}
	if err := strictUnmarshal(env.Data, ev); err != nil {
		return nil, &DecodeError{Code: CodeBadRequest, Message: "malformed data: " + err.Error()}
	}
	if err := validate.Struct(ev); err != nil {
		return nil, &DecodeError{Code: CodeValidation, Message: describe(err)}
	}
	return ev, nil
}

func strictUnmarshal(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// describe turns validator output into "field: rule" pairs using JSON names.
func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fe.Field()+": "+fe.Tag())
	}
	return strings.Join(parts, ", ")
}

// Encode builds an outbound frame.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}
