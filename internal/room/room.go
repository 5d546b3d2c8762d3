// Package room holds the authoritative in-memory model of rooms,
// participants, and recent chat history. It performs no I/O; delivery of
// events to connected clients is the signaling layer's concern.
package room

import (
	"time"

	"github.com/meetlite/server/internal/upload"
)

// MaxMessages bounds the chat history kept per room. Older messages are
// dropped from the front once the cap is reached.
const MaxMessages = 100

type Participant struct {
	ID              string    `json:"id"`
	Username        string    `json:"username"`
	IsMuted         bool      `json:"isMuted"`
	IsVideoOff      bool      `json:"isVideoOff"`
	IsScreenSharing bool      `json:"isScreenSharing"`
	JoinedAt        time.Time `json:"joinedAt"`
}

type MessageType string

const (
	MessageTypeSystem MessageType = "system"
	MessageTypeChat   MessageType = "chat"
	MessageTypeFile   MessageType = "file"
)

// Message is the tagged chat-history variant: system notices carry only
// Message, chat entries carry Username+Message, file entries carry
// Username+File.
type Message struct {
	Type      MessageType        `json:"type"`
	Username  string             `json:"username,omitempty"`
	Message   string             `json:"message,omitempty"`
	File      *upload.Descriptor `json:"fileData,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

func SystemMessage(text string) Message {
	return Message{
		Type:      MessageTypeSystem,
		Message:   text,
		Timestamp: time.Now(),
	}
}

func ChatMessage(username, text string) Message {
	return Message{
		Type:      MessageTypeChat,
		Username:  username,
		Message:   text,
		Timestamp: time.Now(),
	}
}

func FileMessage(username string, file *upload.Descriptor) Message {
	return Message{
		Type:      MessageTypeFile,
		Username:  username,
		File:      file,
		Timestamp: time.Now(),
	}
}

// Patch is a partial participant-state update. Nil fields are left unchanged.
type Patch struct {
	IsMuted         *bool
	IsVideoOff      *bool
	IsScreenSharing *bool
}

type roomState struct {
	id           string
	participants map[string]*Participant
	messages     []Message
	createdAt    time.Time
	lastActivity time.Time
}

// Info is the public room summary served by GET /api/rooms.
type Info struct {
	ID               string `json:"id"`
	ParticipantCount int    `json:"participantCount"`
}

// Stats aggregates registry-wide counters for the stats endpoint.
type Stats struct {
	TotalRooms        int    `json:"totalRooms"`
	TotalParticipants int    `json:"totalParticipants"`
	TotalMessages     int    `json:"totalMessages"`
	Rooms             []Info `json:"rooms"`
}
