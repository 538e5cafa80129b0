package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestState(t *testing.T) {
	s := NewState()
	assert.False(t, s.Ready())
	assert.True(t, s.LastTick().IsZero())

	snap := s.Snapshot()
	assert.True(t, snap.OK)
	assert.Equal(t, int64(0), snap.LastTickUnix)

	now := time.Unix(1700000000, 0)
	s.SetReady(true)
	s.TouchTick(now)
	s.TouchScan(now.Add(time.Second))

	snap = s.Snapshot()
	assert.True(t, snap.Ready)
	assert.Equal(t, int64(1700000000), snap.LastTickUnix)
	assert.Equal(t, int64(1700000001), snap.LastScanUnix)
	assert.GreaterOrEqual(t, s.Uptime(), time.Duration(0))
}
