package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-room-chat/internal/domain"
	"github.com/tbourn/go-room-chat/internal/services"
)

type fakeIngester struct {
	got   []services.IngestRequest
	err   error
	panic bool
}

func (f *fakeIngester) Ingest(_ context.Context, req services.IngestRequest) (*domain.ChatMessage, error) {
	if f.panic {
		panic("boom")
	}
	f.got = append(f.got, req)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ChatMessage{
		ID: int64(len(f.got)), RoomID: req.RoomID, Content: req.Content, Timestamp: req.Timestamp,
		SenderID: *req.SenderID, SenderUsername: req.SenderUsername,
	}, nil
}

type fakeHistory struct {
	msgs []domain.ChatMessage
	err  error
}

func (f *fakeHistory) History(context.Context, string) ([]domain.ChatMessage, error) {
	return f.msgs, f.err
}

func newTestDispatcher(in Ingester, h HistoryReader) (*Dispatcher, *Registry) {
	reg := NewRegistry()
	gw := NewGateway(reg, zerolog.Nop())
	return NewDispatcher(reg, gw, in, h, zerolog.Nop()), reg
}

func lastError(t *testing.T, p *fakeParticipant) ErrorPayload {
	t.Helper()
	envs := p.envelopes(t)
	if len(envs) == 0 || envs[len(envs)-1].Event != EventError {
		t.Fatalf("expected an error frame, got %+v", envs)
	}
	var ep ErrorPayload
	if err := json.Unmarshal(envs[len(envs)-1].Data, &ep); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	return ep
}

const outgoingFrame = `{"event":"outgoing","data":{"rid":"lobby","timestamp":"2024-01-01T00:00:00","message":"hi","sender_id":1,"sender_username":"alice"}}`

func TestDispatcher_JoinBroadcastsToRoomIncludingJoiner(t *testing.T) {
	d, reg := newTestDispatcher(&fakeIngester{}, &fakeHistory{})
	a, b := newFake("a"), newFake("b")
	reg.Join("lobby", b)

	d.Handle(context.Background(), a, []byte(`{"event":"join-chat","data":{"rid":"lobby"}}`))

	for _, p := range []*fakeParticipant{a, b} {
		envs := p.envelopes(t)
		if len(envs) != 1 || envs[0].Event != EventJoinedChat {
			t.Fatalf("%s: expected joined-chat, got %+v", p.id, envs)
		}
		var n Notice
		_ = json.Unmarshal(envs[0].Data, &n)
		if n.Msg != "lobby is now online." {
			t.Fatalf("notice = %q", n.Msg)
		}
	}
	if got := reg.RoomsOf(a); len(got) != 1 || got[0] != "lobby" {
		t.Fatalf("a should be in lobby, got %v", got)
	}
}

func TestDispatcher_OutgoingIngestsAndBroadcasts(t *testing.T) {
	in := &fakeIngester{}
	d, reg := newTestDispatcher(in, &fakeHistory{})
	sender, peer, outsider := newFake("s"), newFake("p"), newFake("o")
	reg.Join("lobby", sender)
	reg.Join("lobby", peer)

	d.Handle(context.Background(), sender, []byte(outgoingFrame))

	if len(in.got) != 1 {
		t.Fatalf("expected one ingest call, got %d", len(in.got))
	}
	r := in.got[0]
	if r.RoomID != "lobby" || r.Content != "hi" || r.Timestamp != "2024-01-01T00:00:00" || *r.SenderID != 1 || r.SenderUsername != "alice" {
		t.Fatalf("unexpected ingest request: %+v", r)
	}
	for _, p := range []*fakeParticipant{sender, peer} {
		envs := p.envelopes(t)
		if len(envs) != 1 || envs[0].Event != EventMessage {
			t.Fatalf("%s: expected message frame, got %+v", p.id, envs)
		}
		var m domain.ChatMessage
		if err := json.Unmarshal(envs[0].Data, &m); err != nil || m.Content != "hi" || m.ID != 1 {
			t.Fatalf("%s: bad message payload %s", p.id, envs[0].Data)
		}
	}
	d.Handle(context.Background(), outsider, []byte(outgoingFrame))
	if got := len(outsider.envelopes(t)); got != 0 {
		t.Fatalf("a non-member sender does not receive the room broadcast, got %d frames", got)
	}
}

func TestDispatcher_ErrorsGoToSenderOnly(t *testing.T) {
	in := &fakeIngester{err: &services.ValidationError{Field: "message", Reason: "exceeds maximum length"}}
	d, reg := newTestDispatcher(in, &fakeHistory{})
	sender, peer := newFake("s"), newFake("p")
	reg.Join("lobby", sender)
	reg.Join("lobby", peer)

	d.Handle(context.Background(), sender, []byte(outgoingFrame))

	if ep := lastError(t, sender); ep.Code != CodeValidation || !strings.Contains(ep.Message, "message") {
		t.Fatalf("unexpected error payload: %+v", ep)
	}
	if got := len(peer.envelopes(t)); got != 0 {
		t.Fatalf("peer must not see the sender's error, got %d frames", got)
	}

	in.err = &services.StorageError{Op: "ingest", Err: errors.New("disk full")}
	d.Handle(context.Background(), sender, []byte(outgoingFrame))
	if ep := lastError(t, sender); ep.Code != CodeStorage || strings.Contains(ep.Message, "disk full") {
		t.Fatalf("storage failure must be reported without internals: %+v", ep)
	}
}

func TestDispatcher_DecodeErrorsAreReported(t *testing.T) {
	d, _ := newTestDispatcher(&fakeIngester{}, &fakeHistory{})
	p := newFake("p")

	d.Handle(context.Background(), p, []byte(`{"event":"dance","data":{}}`))
	if ep := lastError(t, p); ep.Code != CodeUnknownEvent {
		t.Fatalf("code = %q", ep.Code)
	}
	d.Handle(context.Background(), p, []byte(`{`))
	if ep := lastError(t, p); ep.Code != CodeBadRequest {
		t.Fatalf("code = %q", ep.Code)
	}
}

func TestDispatcher_HistoryToRequesterOnly(t *testing.T) {
	h := &fakeHistory{msgs: []domain.ChatMessage{{ID: 1, Content: "a", RoomID: "lobby"}, {ID: 2, Content: "b", RoomID: "lobby"}}}
	d, reg := newTestDispatcher(&fakeIngester{}, h)
	req, peer := newFake("r"), newFake("p")
	reg.Join("lobby", req)
	reg.Join("lobby", peer)

	d.Handle(context.Background(), req, []byte(`{"event":"request_chat_history","data":{"room_id":"lobby","sender_id":1}}`))

	envs := req.envelopes(t)
	if len(envs) != 1 || envs[0].Event != EventChatHistory {
		t.Fatalf("expected chat_history, got %+v", envs)
	}
	var got []domain.ChatMessage
	if err := json.Unmarshal(envs[0].Data, &got); err != nil || len(got) != 2 || got[1].Content != "b" {
		t.Fatalf("bad history payload %s", envs[0].Data)
	}
	if len(peer.envelopes(t)) != 0 {
		t.Fatalf("history must only go to the requester")
	}

	h.msgs, h.err = nil, &services.StorageError{Op: "history", Err: errors.New("down")}
	d.Handle(context.Background(), req, []byte(`{"event":"request_chat_history","data":{"room_id":"lobby","sender_id":1}}`))
	if ep := lastError(t, req); ep.Code != CodeStorage {
		t.Fatalf("code = %q", ep.Code)
	}
}

func TestDispatcher_LeaveReplies(t *testing.T) {
	d, reg := newTestDispatcher(&fakeIngester{}, &fakeHistory{})
	p := newFake("p")
	reg.Join("lobby", p)

	d.Handle(context.Background(), p, []byte(`{"event":"leave-chat","data":{"rid":"lobby"}}`))
	envs := p.envelopes(t)
	if len(envs) != 1 || envs[0].Event != EventLeftChat || string(envs[0].Data) != `{"msg":"left lobby."}` {
		t.Fatalf("unexpected frames: %+v", envs)
	}
	if reg.Rooms() != 0 {
		t.Fatalf("room should be retired after its only member left")
	}
}

func TestDispatcher_RecoversFromPanic(t *testing.T) {
	d, _ := newTestDispatcher(&fakeIngester{panic: true}, &fakeHistory{})
	p := newFake("p")

	d.Handle(context.Background(), p, []byte(outgoingFrame))
	if ep := lastError(t, p); ep.Code != CodeInternal {
		t.Fatalf("code = %q", ep.Code)
	}
}
