// Package janitor owns the background lifecycle work: grace-window deletion
// of emptied rooms, periodic sweeps of stale rooms and throttle state, and
// cleanup of old uploads.
package janitor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/meetlite/server/internal/ratelimit"
	"github.com/meetlite/server/internal/room"
	"github.com/meetlite/server/internal/upload"
)

const (
	DefaultEmptyRoomGrace        = 5 * time.Minute
	DefaultStaleSweepInterval    = 5 * time.Minute
	DefaultStaleAfter            = 30 * time.Minute
	DefaultOfferSweepInterval    = ratelimit.DefaultOfferSweepInterval
	DefaultUploadCleanupInterval = 6 * time.Hour
	DefaultUploadMaxAge          = 24 * time.Hour
)

// Config carries the janitor's timing knobs. Zero values fall back to the
// defaults above.
type Config struct {
	EmptyRoomGrace        time.Duration
	StaleSweepInterval    time.Duration
	StaleAfter            time.Duration
	OfferSweepInterval    time.Duration
	UploadCleanupInterval time.Duration
	UploadMaxAge          time.Duration
}

func (c *Config) applyDefaults() {
	if c.EmptyRoomGrace <= 0 {
		c.EmptyRoomGrace = DefaultEmptyRoomGrace
	}
	if c.StaleSweepInterval <= 0 {
		c.StaleSweepInterval = DefaultStaleSweepInterval
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.OfferSweepInterval <= 0 {
		c.OfferSweepInterval = DefaultOfferSweepInterval
	}
	if c.UploadCleanupInterval <= 0 {
		c.UploadCleanupInterval = DefaultUploadCleanupInterval
	}
	if c.UploadMaxAge <= 0 {
		c.UploadMaxAge = DefaultUploadMaxAge
	}
}

type Janitor struct {
	log     *slog.Logger
	cfg     Config
	rooms   *room.Registry
	offers  *ratelimit.OfferFilter
	uploads *upload.Store

	mu      sync.Mutex
	pending map[string]*time.Timer
	stopped bool
}

func New(cfg Config, rooms *room.Registry, offers *ratelimit.OfferFilter, uploads *upload.Store, log *slog.Logger) *Janitor {
	if log == nil {
		log = slog.Default()
	}
	cfg.applyDefaults()
	return &Janitor{
		log:     log,
		cfg:     cfg,
		rooms:   rooms,
		offers:  offers,
		uploads: uploads,
		pending: make(map[string]*time.Timer),
	}
}

// ScheduleRoomDeletion arms the grace-window timer for an emptied room. The
// room is only deleted if it is still empty when the timer fires; a rejoin
// within the window effectively cancels the deletion. Wire this up via
// Registry.SetOnEmpty.
func (j *Janitor) ScheduleRoomDeletion(roomID string) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.stopped {
		return
	}
	if _, armed := j.pending[roomID]; armed {
		return
	}

	j.log.Debug("room deletion scheduled", "room", roomID, "grace", j.cfg.EmptyRoomGrace)
	j.pending[roomID] = time.AfterFunc(j.cfg.EmptyRoomGrace, func() {
		j.mu.Lock()
		delete(j.pending, roomID)
		j.mu.Unlock()

		j.rooms.DeleteRoomIfEmpty(roomID)
	})
}

// Run drives the periodic sweeps until ctx is cancelled, then cancels any
// armed grace timers. Blocking; start it in its own goroutine.
func (j *Janitor) Run(ctx context.Context) {
	staleTicker := time.NewTicker(j.cfg.StaleSweepInterval)
	defer staleTicker.Stop()
	offerTicker := time.NewTicker(j.cfg.OfferSweepInterval)
	defer offerTicker.Stop()
	uploadTicker := time.NewTicker(j.cfg.UploadCleanupInterval)
	defer uploadTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.stop()
			return
		case now := <-staleTicker.C:
			if n := j.rooms.DeleteStaleRooms(now, j.cfg.StaleAfter); n > 0 {
				j.log.Info("stale rooms swept", "deleted", n)
			}
		case <-offerTicker.C:
			if n := j.offers.Sweep(); n > 0 {
				j.log.Debug("offer throttle entries swept", "evicted", n)
			}
		case <-uploadTicker.C:
			n, err := j.uploads.CleanupOld(j.cfg.UploadMaxAge)
			if err != nil {
				j.log.Warn("upload cleanup failed", "err", err)
			}
			if n > 0 {
				j.log.Info("old uploads removed", "count", n)
			}
		}
	}
}

func (j *Janitor) stop() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.stopped = true
	for id, timer := range j.pending {
		timer.Stop()
		delete(j.pending, id)
	}
}
