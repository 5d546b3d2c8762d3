package signaling

import (
	"log/slog"

	"github.com/meetlite/server/internal/room"
)

// Broadcaster fans events out to the sessions of one room. Membership is
// resolved through the registry at emit time, so a departed participant never
// receives a stale broadcast.
//
// Delivery is best-effort per recipient: a failing session is logged and
// skipped, never blocking delivery to the rest.
type Broadcaster struct {
	rooms *room.Registry
	hub   *Hub
	log   *slog.Logger
}

func NewBroadcaster(rooms *room.Registry, hub *Hub, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{rooms: rooms, hub: hub, log: log}
}

// ToRoom emits the event to every current member of the room, including the
// originator (chat and system messages, so senders see their own message in
// order).
func (b *Broadcaster) ToRoom(roomID, event string, data any) {
	b.sendTo(b.rooms.ParticipantIDs(roomID), roomID, event, data)
}

// ToOthers emits the event to every current member except exceptID (presence
// and state-toggle notifications).
func (b *Broadcaster) ToOthers(roomID, exceptID, event string, data any) {
	ids := b.rooms.ParticipantIDs(roomID)
	recipients := ids[:0]
	for _, id := range ids {
		if id != exceptID {
			recipients = append(recipients, id)
		}
	}
	b.sendTo(recipients, roomID, event, data)
}

// ToSessions emits the event to an explicit recipient list. The leave
// procedure uses it to include the departing session after it has already
// been removed from the registry.
func (b *Broadcaster) ToSessions(ids []string, roomID, event string, data any) {
	b.sendTo(ids, roomID, event, data)
}

func (b *Broadcaster) sendTo(ids []string, roomID, event string, data any) {
	for _, id := range ids {
		sess, ok := b.hub.Get(id)
		if !ok {
			continue
		}
		if err := sess.Send(event, data); err != nil {
			b.log.Warn("broadcast send failed",
				"room", roomID, "event", event, "session", id, "err", err)
		}
	}
}
