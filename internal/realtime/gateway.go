package realtime

import (
	"github.com/rs/zerolog"
)

// Gateway fans frames out to the current members of a room.
type Gateway struct {
	reg *Registry
	log zerolog.Logger
}

// NewGateway returns a gateway delivering to reg's rooms.
func NewGateway(reg *Registry, log zerolog.Logger) *Gateway {
	return &Gateway{reg: reg, log: log}
}

// Broadcast encodes payload once and hands it to every member of roomID at
// the time of the call. Delivery is at-most-once: a member whose send buffer
// is full misses the frame. It returns how many members accepted it.
func (g *Gateway) Broadcast(roomID, event string, payload any) (int, error) {
	frame, err := Encode(event, payload)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, p := range g.reg.Members(roomID) {
		if p.Deliver(frame) {
			delivered++
			continue
		}
		broadcastDropped.Inc()
		g.log.Warn().
			Str("room_id", roomID).
			Str("event", event).
			Str("participant", p.ID()).
			Msg("broadcast frame dropped")
	}
	broadcastFrames.WithLabelValues(event).Inc()
	return delivered, nil
}

// Send delivers one frame to a single participant.
func (g *Gateway) Send(p Participant, event string, payload any) error {
	frame, err := Encode(event, payload)
	if err != nil {
		return err
	}
	if !p.Deliver(frame) {
		g.log.Debug().Str("event", event).Str("participant", p.ID()).Msg("direct frame dropped")
	}
	return nil
}
