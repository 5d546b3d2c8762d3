// Package metrics is a minimal in-process counter registry for the signaling
// server, exposed in Prometheus' text format.
package metrics

import "sync"

// Well-known counter names. Handlers may also record ad-hoc names; the
// exposition handler exports whatever has been incremented.
const (
	SessionsConnected    = "sessions_connected"
	SessionsDisconnected = "sessions_disconnected"
	RoomsJoined          = "rooms_joined"
	RoomsLeft            = "rooms_left"
	ChatMessages         = "chat_messages"
	FileMessages         = "file_messages"
	SignalsRelayed       = "signals_relayed"
	OffersThrottled      = "offers_throttled"
	SignalsDropped       = "signals_dropped"
	UploadsStored        = "uploads_stored"
	UploadsRejected      = "uploads_rejected"
	ProtocolErrors       = "protocol_errors"
)

// Metrics is a concurrency-safe counter map. A nil *Metrics is valid and
// discards everything, so callers never need to guard their Inc calls.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{m: make(map[string]uint64)}
}

func (m *Metrics) Inc(name string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.m[name]++
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
