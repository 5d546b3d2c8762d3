package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/meetlite/server/internal/room"
	"github.com/meetlite/server/internal/upload"
)

// Client -> server events. The set is closed; anything else is a protocol
// error answered with an error event.
const (
	EventJoinRoom           = "join-room"
	EventChatMessage        = "chat-message"
	EventFileMessage        = "file-message"
	EventToggleMute         = "toggle-mute"
	EventToggleVideo        = "toggle-video"
	EventLeaveRoom          = "leave-room"
	EventWebRTCOffer        = "webrtc-offer"
	EventWebRTCAnswer       = "webrtc-answer"
	EventWebRTCICECandidate = "webrtc-ice-candidate"
	EventScreenShareStarted = "screen-share-started"
	EventScreenShareStopped = "screen-share-stopped"
	EventScreenShareOffer   = "screen-share-offer"
	EventScreenShareAnswer  = "screen-share-answer"
	EventScreenICECandidate = "screen-ice-candidate"
)

// Server -> client events.
const (
	EventConnected              = "connected"
	EventRoomJoined             = "room-joined"
	EventUserJoined             = "user-joined"
	EventUserLeft               = "user-left"
	EventUserToggleMute         = "user-toggle-mute"
	EventUserToggleVideo        = "user-toggle-video"
	EventUserScreenShareStarted = "user-screen-share-started"
	EventUserScreenShareStopped = "user-screen-share-stopped"
	EventError                  = "error"
)

// Envelope is the framing for every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ParseEnvelope decodes one inbound frame. The envelope itself is strict
// (unknown top-level fields rejected); event payloads are decoded leniently
// by the individual handlers so clients may carry extra fields.
func ParseEnvelope(data []byte) (Envelope, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("missing event name")
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Envelope{}, fmt.Errorf("unexpected trailing data")
	}
	return env, nil
}

type joinRoomRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

type chatMessageRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
	Message  string `json:"message"`
}

type fileMessageRequest struct {
	RoomID   string             `json:"roomId"`
	Username string             `json:"username"`
	FileData *upload.Descriptor `json:"fileData"`
}

type toggleMuteRequest struct {
	RoomID  string `json:"roomId"`
	IsMuted bool   `json:"isMuted"`
}

type toggleVideoRequest struct {
	RoomID     string `json:"roomId"`
	IsVideoOff bool   `json:"isVideoOff"`
}

type screenShareRequest struct {
	RoomID string `json:"roomId"`
}

type leaveRoomRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// signalRequest covers all six targeted relay events; exactly one of Offer,
// Answer, Candidate is set depending on the event.
type signalRequest struct {
	RoomID    string                     `json:"roomId"`
	TargetID  string                     `json:"targetId"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type connectedPayload struct {
	UserID string `json:"userId"`
}

type roomJoinedPayload struct {
	Participants []room.Participant `json:"participants"`
	Messages     []room.Message     `json:"messages"`
}

type userLeftPayload struct {
	UserID string `json:"userId"`
}

type toggleMutePayload struct {
	UserID  string `json:"userId"`
	IsMuted bool   `json:"isMuted"`
}

type toggleVideoPayload struct {
	UserID     string `json:"userId"`
	IsVideoOff bool   `json:"isVideoOff"`
}

type screenSharePayload struct {
	UserID string `json:"userId"`
}

// signalPayload is what the relay delivers to the target: the sender's id
// plus the untouched signaling body.
type signalPayload struct {
	SenderID  string                     `json:"senderId"`
	Offer     *webrtc.SessionDescription `json:"offer,omitempty"`
	Answer    *webrtc.SessionDescription `json:"answer,omitempty"`
	Candidate *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}
