package signaling

import (
	"log/slog"

	"github.com/meetlite/server/internal/metrics"
	"github.com/meetlite/server/internal/ratelimit"
	"github.com/meetlite/server/internal/room"
)

// Relay delivers offer/answer/ICE messages from one session to one target
// session. It never inspects the signaling payload and never broadcasts; it
// is stateless per message apart from the offer throttle.
type Relay struct {
	rooms  *room.Registry
	hub    *Hub
	offers *ratelimit.OfferFilter
	stats  *metrics.Metrics
	log    *slog.Logger
}

func NewRelay(rooms *room.Registry, hub *Hub, offers *ratelimit.OfferFilter, stats *metrics.Metrics, log *slog.Logger) *Relay {
	if log == nil {
		log = slog.Default()
	}
	return &Relay{rooms: rooms, hub: hub, offers: offers, stats: stats, log: log}
}

// isOfferEvent reports whether the event is subject to the offer throttle.
// Answers and ICE candidates are never throttled: dropping either deadlocks
// the negotiation the offer started.
func isOfferEvent(event string) bool {
	return event == EventWebRTCOffer || event == EventScreenShareOffer
}

// Forward validates the relay request and delivers it to the target.
//
// All failure modes are silent towards the sender: a target may legitimately
// have left between the client's snapshot and this message, and a NACK would
// only teach clients to retry into the void.
func (r *Relay) Forward(event, senderID string, req signalRequest) {
	if req.RoomID == "" || req.TargetID == "" {
		r.log.Warn("relay missing room or target", "event", event, "sender", senderID)
		r.stats.Inc(metrics.SignalsDropped)
		return
	}

	if _, ok := r.rooms.GetParticipant(req.RoomID, senderID); !ok {
		r.log.Warn("relay from non-member dropped",
			"event", event, "room", req.RoomID, "sender", senderID)
		r.stats.Inc(metrics.SignalsDropped)
		return
	}

	if isOfferEvent(event) {
		key := ratelimit.OfferKey{RoomID: req.RoomID, SenderID: senderID, TargetID: req.TargetID}
		if !r.offers.Admit(key) {
			r.log.Warn("offer throttled",
				"event", event, "room", req.RoomID, "sender", senderID, "target", req.TargetID)
			r.stats.Inc(metrics.OffersThrottled)
			return
		}
	}

	if _, ok := r.rooms.GetParticipant(req.RoomID, req.TargetID); !ok {
		r.log.Warn("relay target not in room",
			"event", event, "room", req.RoomID, "sender", senderID, "target", req.TargetID)
		r.stats.Inc(metrics.SignalsDropped)
		return
	}

	target, ok := r.hub.Get(req.TargetID)
	if !ok {
		r.log.Warn("relay target session gone",
			"event", event, "room", req.RoomID, "target", req.TargetID)
		r.stats.Inc(metrics.SignalsDropped)
		return
	}

	payload := signalPayload{
		SenderID:  senderID,
		Offer:     req.Offer,
		Answer:    req.Answer,
		Candidate: req.Candidate,
	}
	if err := target.Send(event, payload); err != nil {
		r.log.Warn("relay delivery failed",
			"event", event, "room", req.RoomID, "target", req.TargetID, "err", err)
		return
	}
	r.stats.Inc(metrics.SignalsRelayed)
}
