package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountersAreAtomic(t *testing.T) {
	c := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncConnections()
			c.IncFrames()
			c.IncFrames()
			c.IncPhotos()
			c.IncAudio()
		}()
	}
	wg.Wait()

	snap := c.Snapshot(7)
	assert.Equal(t, 7, snap.ConnectedDevices)
	assert.EqualValues(t, 100, snap.TotalConnections)
	assert.EqualValues(t, 200, snap.TotalFrames)
	assert.EqualValues(t, 100, snap.TotalPhotos)
	assert.EqualValues(t, 100, snap.TotalAudio)
}

func TestUptime(t *testing.T) {
	c := New()
	start := c.start
	c.now = func() time.Time { return start.Add(2*time.Hour + 5*time.Minute + 59*time.Second) }

	assert.EqualValues(t, 2*3600+5*60+59, c.UptimeSeconds())
	assert.Equal(t, "2h 5m", FormatUptime(c.Snapshot(0).Uptime))
}

func TestFormatUptime(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0h 0m"},
		{59 * time.Second, "0h 0m"},
		{61 * time.Minute, "1h 1m"},
		{49*time.Hour + 30*time.Minute, "49h 30m"},
		{-time.Minute, "0h 0m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatUptime(tt.in))
	}
}
