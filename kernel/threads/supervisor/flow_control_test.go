package supervisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlowController_Thresholds(t *testing.T) {
	fc := NewFlowController()
	fc.RegisterPeer("peer-1", 100)

	assert.True(t, fc.CanSend("peer-1"))

	fc.UpdateQueueDepth("peer-1", 85)
	assert.False(t, fc.CanSend("peer-1"))

	// Congestion persists until the queue drains below 50% (hysteresis).
	fc.UpdateQueueDepth("peer-1", 60)
	assert.False(t, fc.CanSend("peer-1"))

	fc.UpdateQueueDepth("peer-1", 40)
	assert.True(t, fc.CanSend("peer-1"))
}

func TestFlowController_UnknownPeerAllowed(t *testing.T) {
	fc := NewFlowController()
	assert.True(t, fc.CanSend("unregistered"))
}

func TestFlowController_Stats(t *testing.T) {
	fc := NewFlowController()
	fc.RegisterPeer("peer-1", 100)
	fc.RegisterPeer("peer-2", 200)

	fc.UpdateQueueDepth("peer-1", 10)
	fc.UpdateQueueDepth("peer-2", 50)

	stats := fc.GetStats()
	assert.Equal(t, 2, stats.TotalPeers)
	assert.Equal(t, float32(30.0), stats.AvgQueueDepth)
	assert.Equal(t, uint32(50), stats.MaxQueueDepth)
}
