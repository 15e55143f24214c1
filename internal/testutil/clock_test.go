package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 12, 1, 8, 0, 0, 0, time.UTC)

func TestManualClock_StartsAtStart(t *testing.T) {
	c := NewManualClock(epoch)
	assert.Equal(t, epoch, c.Now())
	assert.Equal(t, epoch, c.Now(), "reading does not advance")
}

func TestManualClock_AdvanceAndReset(t *testing.T) {
	c := NewManualClock(epoch)

	c.Advance(time.Minute)
	c.Advance(30 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), c.Now())

	c.Set(epoch.Add(-time.Hour))
	assert.Equal(t, epoch.Add(-time.Hour), c.Now())

	c.Reset()
	assert.Equal(t, epoch, c.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	c := NewManualClock(epoch)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Advance(time.Millisecond)
			_ = c.Now()
		}()
	}
	wg.Wait()
	assert.Equal(t, epoch.Add(50*time.Millisecond), c.Now())
}
