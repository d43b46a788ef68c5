package stats

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	ConnectedDevices int
	TotalConnections int64
	TotalFrames      int64
	TotalPhotos      int64
	TotalAudio       int64
	Uptime           time.Duration
}

// Collector holds process-wide monotonic counters. All methods are safe for
// concurrent use.
type Collector struct {
	connections atomic.Int64
	frames      atomic.Int64
	photos      atomic.Int64
	audio       atomic.Int64
	start       time.Time
	now         func() time.Time
}

// New creates a collector whose uptime starts now
func New() *Collector {
	return &Collector{start: time.Now(), now: time.Now}
}

// IncConnections counts a successful REGISTER
func (c *Collector) IncConnections() { c.connections.Add(1) }

// IncFrames counts a VIDEO_FRAME
func (c *Collector) IncFrames() { c.frames.Add(1) }

// IncPhotos counts a PHOTO
func (c *Collector) IncPhotos() { c.photos.Add(1) }

// IncAudio counts an AUDIO recording
func (c *Collector) IncAudio() { c.audio.Add(1) }

// Uptime returns the time since the collector was created
func (c *Collector) Uptime() time.Duration {
	return c.now().Sub(c.start)
}

// UptimeSeconds returns the uptime in whole seconds
func (c *Collector) UptimeSeconds() int64 {
	return int64(c.Uptime() / time.Second)
}

// Snapshot reads every counter. live is the current registry size, which the
// collector does not track itself.
func (c *Collector) Snapshot(live int) Snapshot {
	return Snapshot{
		ConnectedDevices: live,
		TotalConnections: c.connections.Load(),
		TotalFrames:      c.frames.Load(),
		TotalPhotos:      c.photos.Load(),
		TotalAudio:       c.audio.Load(),
		Uptime:           c.Uptime(),
	}
}

// FormatUptime renders d as "<hours>h <minutes>m"
func FormatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int64(d / time.Hour)
	minutes := int64((d % time.Hour) / time.Minute)
	return fmt.Sprintf("%dh %dm", hours, minutes)
}
