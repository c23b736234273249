// Package realtime implements the websocket side of the chat backend: room
// membership, event decoding and dispatch, broadcast fan-out, and the
// per-connection read/write pumps.
//
// Nothing in this package is global. A Server owns one Registry and one
// Gateway, so tests can run several independent instances side by side.
package realtime

import (
	"sort"
	"sync"
)

// Participant is one connected client as seen by the registry and gateway.
// Deliver must not block; it reports false when the frame was not queued.
type Participant interface {
	ID() string
	Deliver(frame []byte) bool
}

// room holds the members of one chat room. A room that became empty is
// marked dead and retired from the registry; a joiner that races with the
// retirement sees dead and looks the room up again.
type room struct {
	mu      sync.RWMutex
	members map[string]Participant
	dead    bool
}

// Registry tracks which participants are in which rooms. Mutations of a
// single room are serialized by that room's lock; the registry-wide lock is
// only held to look up, create or retire room objects.
//
// Calls for the same participant are expected to be serialized by the
// caller, which is how a websocket connection's read loop drives them.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room

	idxMu sync.Mutex
	index map[string]map[string]struct{} // participant id -> room ids
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]*room),
		index: make(map[string]map[string]struct{}),
	}
}

func (g *Registry) getOrCreate(roomID string) *room {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		r = &room{members: make(map[string]Participant)}
		g.rooms[roomID] = r
	}
	return r
}

func (g *Registry) lookup(roomID string) *room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[roomID]
}

func (g *Registry) retire(roomID string, r *room) {
	g.mu.Lock()
	if g.rooms[roomID] == r {
		delete(g.rooms, roomID)
	}
	g.mu.Unlock()
}

// Join adds p to roomID. Joining twice is a no-op; the result reports
// whether p was newly added.
func (g *Registry) Join(roomID string, p Participant) bool {
	for {
		r := g.getOrCreate(roomID)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		_, exists := r.members[p.ID()]
		if !exists {
			r.members[p.ID()] = p
		}
		r.mu.Unlock()

		if !exists {
			g.track(p.ID(), roomID)
		}
		return !exists
	}
}

// Leave removes p from roomID. It reports whether p was a member.
func (g *Registry) Leave(roomID string, p Participant) bool {
	r := g.lookup(roomID)
	if r == nil {
		return false
	}

	r.mu.Lock()
	_, ok := r.members[p.ID()]
	delete(r.members, p.ID())
	empty := len(r.members) == 0
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		g.retire(roomID, r)
	}
	if ok {
		g.untrack(p.ID(), roomID)
	}
	return ok
}

// LeaveAll removes p from every room it joined and returns those rooms,
// sorted. It is called when a connection goes away.
func (g *Registry) LeaveAll(p Participant) []string {
	rooms := g.RoomsOf(p)
	for _, id := range rooms {
		g.Leave(id, p)
	}
	return rooms
}

// Members returns a snapshot of the participants in roomID. Deliveries made
// from the snapshot never reach participants who join afterwards.
func (g *Registry) Members(roomID string) []Participant {
	r := g.lookup(roomID)
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Participant, 0, len(r.members))
	for _, p := range r.members {
		out = append(out, p)
	}
	return out
}

// Rooms returns the number of non-empty rooms.
func (g *Registry) Rooms() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}

// RoomsOf returns the rooms p is currently in, sorted.
func (g *Registry) RoomsOf(p Participant) []string {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()
	set := g.index[p.ID()]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (g *Registry) track(pid, roomID string) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()
	set, ok := g.index[pid]
	if !ok {
		set = make(map[string]struct{})
		g.index[pid] = set
	}
	set[roomID] = struct{}{}
}

func (g *Registry) untrack(pid, roomID string) {
	g.idxMu.Lock()
	defer g.idxMu.Unlock()
	set := g.index[pid]
	delete(set, roomID)
	if len(set) == 0 {
		delete(g.index, pid)
	}
}
