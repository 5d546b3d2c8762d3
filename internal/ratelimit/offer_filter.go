package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultOfferInterval is the minimum spacing between relayed offers for
	// one (room, sender, target) triple. Renegotiation loops otherwise flood
	// the target with offers faster than it can answer.
	DefaultOfferInterval = 500 * time.Millisecond

	// DefaultOfferEntryMaxAge bounds how long an admission record is kept
	// before the sweep drops it.
	DefaultOfferEntryMaxAge = 5 * time.Second

	// DefaultOfferSweepInterval is how often the janitor runs the sweep.
	DefaultOfferSweepInterval = 10 * time.Second
)

// OfferKey identifies one directed offer stream inside a room.
type OfferKey struct {
	RoomID   string
	SenderID string
	TargetID string
}

// OfferFilter rate-limits WebRTC offer relays per (room, sender, target)
// triple. Answers and ICE candidates must never pass through it: throttling
// those would deadlock negotiation.
type OfferFilter struct {
	clock    Clock
	interval time.Duration
	maxAge   time.Duration

	mu   sync.Mutex
	last map[OfferKey]time.Time
}

func NewOfferFilter(clock Clock, interval, maxAge time.Duration) *OfferFilter {
	if clock == nil {
		clock = RealClock{}
	}
	if interval <= 0 {
		interval = DefaultOfferInterval
	}
	if maxAge < interval {
		maxAge = DefaultOfferEntryMaxAge
	}
	return &OfferFilter{
		clock:    clock,
		interval: interval,
		maxAge:   maxAge,
		last:     make(map[OfferKey]time.Time),
	}
}

// Admit reports whether an offer for the key may be relayed now. The first
// offer for a key is always admitted; subsequent offers are admitted only
// once the interval has elapsed since the last admission.
func (f *OfferFilter) Admit(key OfferKey) bool {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	if last, ok := f.last[key]; ok && now.Sub(last) < f.interval {
		return false
	}
	f.last[key] = now
	return true
}

// Forget drops all records involving the participant id, in any role. Called
// when a session disconnects so its keys don't linger until the sweep.
func (f *OfferFilter) Forget(participantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for key := range f.last {
		if key.SenderID == participantID || key.TargetID == participantID {
			delete(f.last, key)
		}
	}
}

// Sweep evicts admission records older than the filter's max age and returns
// how many were removed. The table stays bounded even under key churn.
func (f *OfferFilter) Sweep() int {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	evicted := 0
	for key, last := range f.last {
		if now.Sub(last) > f.maxAge {
			delete(f.last, key)
			evicted++
		}
	}
	return evicted
}

// Len reports the current number of tracked keys.
func (f *OfferFilter) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.last)
}
