package signaling

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/meetlite/server/internal/metrics"
	"github.com/meetlite/server/internal/origin"
	"github.com/meetlite/server/internal/ratelimit"
	"github.com/meetlite/server/internal/room"
)

const (
	// maxChatMessageLength caps stored and broadcast chat text.
	maxChatMessageLength = 1000

	// maxUsernameLength bounds the free-form display name.
	maxUsernameLength = 64
)

// Config carries the signaling server's runtime knobs.
type Config struct {
	IdleTimeout  time.Duration
	PingInterval time.Duration

	MaxMessageBytes   int64
	MessagesPerSecond int

	// AllowedOrigins lists browser origins permitted to open sessions.
	// Empty means no Origin restriction.
	AllowedOrigins []string

	// Metrics may be nil.
	Metrics *metrics.Metrics
}

// Server owns the per-session supervisors: it accepts WebSocket sessions,
// dispatches their inbound events, and runs the leave procedure when they
// disconnect.
//
// A single event mutex serializes every registry mutation together with the
// broadcasts it triggers, so compound operations (leave = remove + broadcast
// + detach) are atomic with respect to events from other sessions and
// per-room emit order always matches mutation order.
type Server struct {
	log    *slog.Logger
	rooms  *room.Registry
	hub    *Hub
	relay  *Relay
	bcast  *Broadcaster
	offers *ratelimit.OfferFilter
	stats  *metrics.Metrics

	cfg      Config
	upgrader websocket.Upgrader

	eventMu sync.Mutex

	closing atomic.Bool
}

func NewServer(cfg Config, rooms *room.Registry, hub *Hub, offers *ratelimit.OfferFilter, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout {
		cfg.PingInterval = cfg.IdleTimeout / 3
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 50
	}

	// WebSocket upgrades are not covered by CORS, so the Origin header is
	// checked here instead.
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	checker := origin.NewChecker(origins...)

	s := &Server{
		log:    log,
		rooms:  rooms,
		hub:    hub,
		offers: offers,
		stats:  cfg.Metrics,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return checker.Allow(r.Header.Get("Origin"))
			},
		},
	}
	s.relay = NewRelay(rooms, hub, offers, cfg.Metrics, log)
	s.bcast = NewBroadcaster(rooms, hub, log)
	return s
}

// ServeHTTP upgrades the request and runs the session until disconnect.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.closing.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	sess := newSession(uuid.NewString(), conn, s.log)
	s.hub.Add(sess)
	s.stats.Inc(metrics.SessionsConnected)
	s.log.Info("session connected", "session", sess.ID(), "remote", r.RemoteAddr)

	// Clients derive their own participant id from this handshake.
	if err := sess.Send(EventConnected, connectedPayload{UserID: sess.ID()}); err != nil {
		s.log.Warn("handshake send failed", "session", sess.ID(), "err", err)
	}

	go s.pingLoop(sess)
	s.readLoop(sess)

	s.disconnect(sess)
}

func (s *Server) pingLoop(sess *Session) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := sess.ping(); err != nil {
				return
			}
		case <-sess.Done():
			return
		}
	}
}

func (s *Server) readLoop(sess *Session) {
	limiter := ratelimit.NewTokenBucket(ratelimit.RealClock{},
		int64(s.cfg.MessagesPerSecond), int64(s.cfg.MessagesPerSecond))

	sess.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	sess.conn.SetPongHandler(func(string) error {
		return sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = sess.conn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))

		if !limiter.Allow(1) {
			s.log.Warn("session rate limit exceeded", "session", sess.ID())
			_ = sess.Send(EventError, errorPayload{Message: "rate limit exceeded"})
			return
		}

		env, err := ParseEnvelope(data)
		if err != nil {
			s.log.Warn("bad frame", "session", sess.ID(), "err", err)
			s.stats.Inc(metrics.ProtocolErrors)
			_ = sess.Send(EventError, errorPayload{Message: "malformed message"})
			continue
		}

		s.dispatch(sess, env)
	}
}

// dispatch routes one inbound event. Any panic inside a handler is contained
// here so a single bad event can never take down the session loop, let alone
// the process.
func (s *Server) dispatch(sess *Session, env Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("event handler panicked",
				"session", sess.ID(), "event", env.Event, "recover", rec)
			_ = sess.Send(EventError, errorPayload{Message: "internal server error"})
		}
	}()

	switch env.Event {
	case EventJoinRoom:
		s.handleJoin(sess, env.Data)
	case EventChatMessage:
		s.handleChat(sess, env.Data)
	case EventFileMessage:
		s.handleFileMessage(sess, env.Data)
	case EventToggleMute:
		s.handleToggleMute(sess, env.Data)
	case EventToggleVideo:
		s.handleToggleVideo(sess, env.Data)
	case EventScreenShareStarted:
		s.handleScreenShare(sess, env.Data, true)
	case EventScreenShareStopped:
		s.handleScreenShare(sess, env.Data, false)
	case EventWebRTCOffer, EventWebRTCAnswer, EventWebRTCICECandidate,
		EventScreenShareOffer, EventScreenShareAnswer, EventScreenICECandidate:
		s.handleSignal(sess, env.Event, env.Data)
	case EventLeaveRoom:
		s.handleLeave(sess, env.Data)
	default:
		s.log.Warn("unknown event", "session", sess.ID(), "event", env.Event)
		s.stats.Inc(metrics.ProtocolErrors)
		_ = sess.Send(EventError, errorPayload{Message: fmt.Sprintf("unknown event %q", env.Event)})
	}
}

func (s *Server) handleJoin(sess *Session, data json.RawMessage) {
	var req joinRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		_ = sess.Send(EventError, errorPayload{Message: "malformed join-room payload"})
		return
	}

	req.RoomID = strings.TrimSpace(req.RoomID)
	req.Username = strings.TrimSpace(req.Username)
	if req.RoomID == "" || req.Username == "" {
		_ = sess.Send(EventError, errorPayload{Message: "Room ID and username are required"})
		return
	}
	if utf8.RuneCountInString(req.Username) > maxUsernameLength {
		req.Username = truncateRunes(req.Username, maxUsernameLength)
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	// One room per session: a second join without leaving first is refused so
	// a participant id can never appear in two rooms at once.
	if existing := s.rooms.GetUserRooms(sess.ID()); len(existing) > 0 {
		_ = sess.Send(EventError, errorPayload{Message: "already in a room"})
		return
	}

	p := s.rooms.AddParticipant(req.RoomID, room.Participant{
		ID:       sess.ID(),
		Username: req.Username,
	})

	participants, messages, _ := s.rooms.Snapshot(req.RoomID)
	if err := sess.Send(EventRoomJoined, roomJoinedPayload{
		Participants: participants,
		Messages:     messages,
	}); err != nil {
		s.log.Warn("room-joined send failed", "session", sess.ID(), "err", err)
	}

	s.bcast.ToOthers(req.RoomID, sess.ID(), EventUserJoined, p)

	sysMsg := room.SystemMessage(fmt.Sprintf("%s đã tham gia phòng", req.Username))
	s.rooms.AddMessage(req.RoomID, sysMsg)
	s.bcast.ToRoom(req.RoomID, EventChatMessage, sysMsg)

	s.stats.Inc(metrics.RoomsJoined)
	s.log.Info("participant joined",
		"room", req.RoomID, "session", sess.ID(), "username", req.Username,
		"participants", len(participants))
}

func (s *Server) handleChat(sess *Session, data json.RawMessage) {
	var req chatMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	text := strings.TrimSpace(req.Message)
	if text == "" {
		return
	}
	if utf8.RuneCountInString(text) > maxChatMessageLength {
		text = truncateRunes(text, maxChatMessageLength)
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	p, ok := s.rooms.GetParticipant(req.RoomID, sess.ID())
	if !ok {
		s.log.Warn("chat from non-member dropped", "room", req.RoomID, "session", sess.ID())
		return
	}

	// The author name comes from the registry record, not the payload, so a
	// client cannot send under a different or uncapped name.
	msg := room.ChatMessage(p.Username, text)
	s.rooms.AddMessage(req.RoomID, msg)
	s.bcast.ToRoom(req.RoomID, EventChatMessage, msg)
	s.stats.Inc(metrics.ChatMessages)
}

func (s *Server) handleFileMessage(sess *Session, data json.RawMessage) {
	var req fileMessageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if req.FileData == nil || req.FileData.Filename == "" {
		s.log.Warn("file message without file data", "session", sess.ID())
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	p, ok := s.rooms.GetParticipant(req.RoomID, sess.ID())
	if !ok {
		s.log.Warn("file message from non-member dropped", "room", req.RoomID, "session", sess.ID())
		return
	}

	msg := room.FileMessage(p.Username, req.FileData)
	s.rooms.AddMessage(req.RoomID, msg)
	s.bcast.ToRoom(req.RoomID, EventChatMessage, msg)
	s.stats.Inc(metrics.FileMessages)
}

func (s *Server) handleToggleMute(sess *Session, data json.RawMessage) {
	var req toggleMuteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	if _, ok := s.rooms.UpdateParticipant(req.RoomID, sess.ID(), room.Patch{IsMuted: &req.IsMuted}); !ok {
		return
	}
	s.bcast.ToOthers(req.RoomID, sess.ID(), EventUserToggleMute, toggleMutePayload{
		UserID:  sess.ID(),
		IsMuted: req.IsMuted,
	})
}

func (s *Server) handleToggleVideo(sess *Session, data json.RawMessage) {
	var req toggleVideoRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	if _, ok := s.rooms.UpdateParticipant(req.RoomID, sess.ID(), room.Patch{IsVideoOff: &req.IsVideoOff}); !ok {
		return
	}
	s.bcast.ToOthers(req.RoomID, sess.ID(), EventUserToggleVideo, toggleVideoPayload{
		UserID:     sess.ID(),
		IsVideoOff: req.IsVideoOff,
	})
}

func (s *Server) handleScreenShare(sess *Session, data json.RawMessage, started bool) {
	var req screenShareRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	if _, ok := s.rooms.UpdateParticipant(req.RoomID, sess.ID(), room.Patch{IsScreenSharing: &started}); !ok {
		return
	}

	event := EventUserScreenShareStopped
	if started {
		event = EventUserScreenShareStarted
	}
	s.bcast.ToOthers(req.RoomID, sess.ID(), event, screenSharePayload{UserID: sess.ID()})
}

func (s *Server) handleSignal(sess *Session, event string, data json.RawMessage) {
	var req signalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.log.Warn("malformed signal payload", "event", event, "session", sess.ID())
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.relay.Forward(event, sess.ID(), req)
}

func (s *Server) handleLeave(sess *Session, data json.RawMessage) {
	var req leaveRoomRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	s.eventMu.Lock()
	defer s.eventMu.Unlock()

	s.leaveRoomLocked(sess, req.RoomID, req.Username)
}

// disconnect runs the leave procedure for every room still containing the
// session id, then detaches the session. Robust to a participant somehow
// being in multiple rooms.
func (s *Server) disconnect(sess *Session) {
	s.eventMu.Lock()
	for _, roomID := range s.rooms.GetUserRooms(sess.ID()) {
		username := ""
		if p, ok := s.rooms.GetParticipant(roomID, sess.ID()); ok {
			username = p.Username
		}
		s.leaveRoomLocked(sess, roomID, username)
	}
	s.eventMu.Unlock()

	s.offers.Forget(sess.ID())
	s.hub.Remove(sess.ID())
	_ = sess.Close()
	s.stats.Inc(metrics.SessionsDisconnected)
	s.log.Info("session disconnected", "session", sess.ID())
}

// leaveRoomLocked runs the leave procedure under the event mutex:
// screen-share stop (if applicable), registry removal, system leave message,
// user-left. The recipient list is captured before removal so the departing
// session still receives the system message, matching the to-all contract.
func (s *Server) leaveRoomLocked(sess *Session, roomID, username string) {
	p, ok := s.rooms.GetParticipant(roomID, sess.ID())
	if !ok {
		s.log.Warn("leave for unknown participant", "room", roomID, "session", sess.ID())
		return
	}
	if username == "" {
		username = p.Username
	}

	members := s.rooms.ParticipantIDs(roomID)
	others := make([]string, 0, len(members))
	for _, id := range members {
		if id != sess.ID() {
			others = append(others, id)
		}
	}

	if p.IsScreenSharing {
		s.bcast.ToSessions(others, roomID, EventUserScreenShareStopped, screenSharePayload{UserID: sess.ID()})
	}

	s.rooms.RemoveParticipant(roomID, sess.ID())

	sysMsg := room.SystemMessage(fmt.Sprintf("%s đã rời phòng", username))
	s.rooms.AddMessage(roomID, sysMsg)
	s.bcast.ToSessions(members, roomID, EventChatMessage, sysMsg)

	s.bcast.ToSessions(others, roomID, EventUserLeft, userLeftPayload{UserID: sess.ID()})

	s.stats.Inc(metrics.RoomsLeft)
	s.log.Info("participant left", "room", roomID, "session", sess.ID(), "username", username)
}

// Close stops accepting new sessions and closes every live one. Clients
// observe this as a disconnect and are expected to handle it gracefully.
func (s *Server) Close() {
	s.closing.Store(true)
	for _, sess := range s.hub.All() {
		_ = sess.Close()
	}
}

// truncateRunes cuts text to at most max characters.
func truncateRunes(text string, max int) string {
	if utf8.RuneCountInString(text) <= max {
		return text
	}
	return string([]rune(text)[:max])
}
