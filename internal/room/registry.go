package room

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry is the single source of truth for room membership and message
// history. All mutation goes through it; callers never hold references into
// its internal state (accessors return copies).
//
// Registry methods are safe for concurrent use. Compound operations that must
// be atomic with respect to other events (e.g. remove + broadcast on leave)
// are serialized by the signaling layer's event mutex on top of this.
type Registry struct {
	log *slog.Logger

	mu    sync.Mutex
	rooms map[string]*roomState

	// onEmpty is invoked (outside the registry lock) whenever a removal
	// leaves a room with zero participants. The janitor uses it to schedule
	// the grace-window deletion check.
	onEmpty func(roomID string)
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		log:   log,
		rooms: make(map[string]*roomState),
	}
}

// SetOnEmpty registers the empty-room callback. Must be called during wiring,
// before any traffic.
func (r *Registry) SetOnEmpty(fn func(roomID string)) {
	r.onEmpty = fn
}

// GetOrCreateRoom ensures a room exists and returns its creation time.
func (r *Registry) GetOrCreateRoom(roomID string) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getOrCreateLocked(roomID).createdAt
}

func (r *Registry) getOrCreateLocked(roomID string) *roomState {
	rm, ok := r.rooms[roomID]
	if !ok {
		now := time.Now()
		rm = &roomState{
			id:           roomID,
			participants: make(map[string]*Participant),
			createdAt:    now,
			lastActivity: now,
		}
		r.rooms[roomID] = rm
		r.log.Debug("room created", "room", roomID)
	}
	return rm
}

// AddParticipant adds p to the room, creating the room if needed. Adding an
// id that is already present is a no-op that returns the existing record, so
// duplicate joins cannot clobber state.
func (r *Registry) AddParticipant(roomID string, p Participant) Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getOrCreateLocked(roomID)
	if existing, ok := rm.participants[p.ID]; ok {
		r.log.Warn("participant already in room", "room", roomID, "participant", p.ID)
		return *existing
	}

	p.JoinedAt = time.Now()
	rm.participants[p.ID] = &p
	touchLocked(rm)
	return p
}

// RemoveParticipant removes the participant and reports whether it was
// present. When the removal empties the room the onEmpty callback fires.
func (r *Registry) RemoveParticipant(roomID, participantID string) (Participant, bool) {
	r.mu.Lock()
	rm, ok := r.rooms[roomID]
	if !ok {
		r.mu.Unlock()
		return Participant{}, false
	}
	p, ok := rm.participants[participantID]
	if !ok {
		r.mu.Unlock()
		return Participant{}, false
	}
	delete(rm.participants, participantID)
	touchLocked(rm)
	removed := *p
	empty := len(rm.participants) == 0
	onEmpty := r.onEmpty
	r.mu.Unlock()

	if empty && onEmpty != nil {
		onEmpty(roomID)
	}
	return removed, true
}

// UpdateParticipant merges the patch into the participant's state flags.
func (r *Registry) UpdateParticipant(roomID, participantID string, patch Patch) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := rm.participants[participantID]
	if !ok {
		return Participant{}, false
	}

	if patch.IsMuted != nil {
		p.IsMuted = *patch.IsMuted
	}
	if patch.IsVideoOff != nil {
		p.IsVideoOff = *patch.IsVideoOff
	}
	if patch.IsScreenSharing != nil {
		p.IsScreenSharing = *patch.IsScreenSharing
	}
	touchLocked(rm)
	return *p, true
}

func (r *Registry) GetParticipant(roomID, participantID string) (Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := rm.participants[participantID]
	if !ok {
		return Participant{}, false
	}
	return *p, true
}

// ParticipantIDs returns the ids of everyone currently in the room.
func (r *Registry) ParticipantIDs(roomID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(rm.participants))
	for id := range rm.participants {
		ids = append(ids, id)
	}
	return ids
}

// AddMessage appends to the room's history, creating the room if needed, and
// truncates from the front so the history never exceeds MaxMessages.
func (r *Registry) AddMessage(roomID string, msg Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm := r.getOrCreateLocked(roomID)
	rm.messages = append(rm.messages, msg)
	if len(rm.messages) > MaxMessages {
		rm.messages = append(rm.messages[:0:0], rm.messages[len(rm.messages)-MaxMessages:]...)
	}
	touchLocked(rm)
}

// Snapshot returns copies of the room's participant list and message history,
// as sent in the room-joined event. Participants are ordered by join time so
// the snapshot is stable for clients.
func (r *Registry) Snapshot(roomID string) (participants []Participant, messages []Message, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, exists := r.rooms[roomID]
	if !exists {
		return nil, nil, false
	}

	participants = make([]Participant, 0, len(rm.participants))
	for _, p := range rm.participants {
		participants = append(participants, *p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].ID < participants[j].ID
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	messages = append([]Message(nil), rm.messages...)
	return participants, messages, true
}

// GetUserRooms lists the rooms containing the participant id. Used for the
// disconnect fan-out.
func (r *Registry) GetUserRooms(participantID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string
	for id, rm := range r.rooms {
		if _, ok := rm.participants[participantID]; ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (r *Registry) IsRoomEmpty(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	return !ok || len(rm.participants) == 0
}

// DeleteRoom empties the room's collections and removes it.
func (r *Registry) DeleteRoom(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleteRoomLocked(roomID)
}

// DeleteRoomIfEmpty removes the room only if it has no participants. The
// check and delete happen under one lock acquisition so a concurrent join
// cannot slip in between.
func (r *Registry) DeleteRoomIfEmpty(roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if len(rm.participants) > 0 {
		return false
	}
	r.deleteRoomLocked(roomID)
	return true
}

func (r *Registry) deleteRoomLocked(roomID string) {
	rm, ok := r.rooms[roomID]
	if !ok {
		return
	}
	clear(rm.participants)
	rm.messages = nil
	delete(r.rooms, roomID)
	r.log.Info("room deleted", "room", roomID)
}

// DeleteStaleRooms removes every room that is empty and has been inactive for
// at least staleAfter, returning how many were deleted.
func (r *Registry) DeleteStaleRooms(now time.Time, staleAfter time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	deleted := 0
	for id, rm := range r.rooms {
		if len(rm.participants) != 0 {
			continue
		}
		if now.Sub(rm.lastActivity) < staleAfter {
			continue
		}
		clear(rm.participants)
		rm.messages = nil
		delete(r.rooms, id)
		deleted++
		r.log.Info("stale room deleted", "room", id)
	}
	return deleted
}

// ListRooms summarizes all rooms for GET /api/rooms.
func (r *Registry) ListRooms() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Info, 0, len(r.rooms))
	for id, rm := range r.rooms {
		out = append(out, Info{ID: id, ParticipantCount: len(rm.participants)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RoomStats aggregates counts across all rooms.
func (r *Registry) RoomStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Stats{Rooms: make([]Info, 0, len(r.rooms))}
	for id, rm := range r.rooms {
		s.TotalRooms++
		s.TotalParticipants += len(rm.participants)
		s.TotalMessages += len(rm.messages)
		s.Rooms = append(s.Rooms, Info{ID: id, ParticipantCount: len(rm.participants)})
	}
	sort.Slice(s.Rooms, func(i, j int) bool { return s.Rooms[i].ID < s.Rooms[j].ID })
	return s
}

// LastActivity reports the room's last-activity timestamp.
func (r *Registry) LastActivity(roomID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rm, ok := r.rooms[roomID]
	if !ok {
		return time.Time{}, false
	}
	return rm.lastActivity, true
}

// touchLocked advances lastActivity; it never moves backwards even if the
// wall clock does.
func touchLocked(rm *roomState) {
	if now := time.Now(); now.After(rm.lastActivity) {
		rm.lastActivity = now
	}
}
