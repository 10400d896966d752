package supervisor

import (
	"sync"
	"sync/atomic"
	"time"
)

// FlowController manages backpressure and congestion control between the
// local supervisor and its delegation peers (spec §10 "Peer coordination").
type FlowController struct {
	peers map[string]*PeerState
	mu    sync.RWMutex
}

// PeerState tracks load and congestion for one delegation peer.
type PeerState struct {
	peerID         string
	queueDepth     uint32
	processingRate uint32 // messages/ms
	capacity       uint32
	lastUpdate     time.Time
	isCongested    uint32 // 0 = not congested, 1 = congested (atomic)
}

// NewFlowController creates a new flow controller.
func NewFlowController() *FlowController {
	return &FlowController{
		peers: make(map[string]*PeerState),
	}
}

// RegisterPeer registers a delegation peer for flow control.
func (fc *FlowController) RegisterPeer(peerID string, capacity uint32) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	fc.peers[peerID] = &PeerState{
		peerID:     peerID,
		capacity:   capacity,
		lastUpdate: time.Now(),
	}
}

// CanSend reports whether the peer can currently accept more work.
func (fc *FlowController) CanSend(peerID string) bool {
	fc.mu.RLock()
	state, exists := fc.peers[peerID]
	fc.mu.RUnlock()

	if !exists {
		return true // Unknown peer, allow
	}

	if state.queueDepth > state.capacity*8/10 {
		atomic.StoreUint32(&state.isCongested, 1)
		return false
	}

	if atomic.LoadUint32(&state.isCongested) != 0 {
		// Allow once the queue has drained below 50% (hysteresis).
		if state.queueDepth < state.capacity/2 {
			atomic.StoreUint32(&state.isCongested, 0)
			return true
		}
		return false
	}

	return true
}

// UpdateCongestion updates congestion state based on delegation feedback.
func (fc *FlowController) UpdateCongestion(peerID string, latency time.Duration, success bool) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	state, exists := fc.peers[peerID]
	if !exists {
		return
	}

	if !success {
		atomic.StoreUint32(&state.isCongested, 1)
	} else if latency < time.Microsecond {
		atomic.StoreUint32(&state.isCongested, 0)
	}

	state.lastUpdate = time.Now()
}

// UpdateQueueDepth updates the observed queue depth for a peer.
func (fc *FlowController) UpdateQueueDepth(peerID string, depth uint32) {
	fc.mu.RLock()
	state, exists := fc.peers[peerID]
	fc.mu.RUnlock()

	if exists {
		atomic.StoreUint32(&state.queueDepth, depth)
	}
}

// GetPeerState returns a snapshot of a peer's current flow state.
func (fc *FlowController) GetPeerState(peerID string) *PeerState {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	state, exists := fc.peers[peerID]
	if !exists {
		return nil
	}

	return &PeerState{
		peerID:         state.peerID,
		queueDepth:     atomic.LoadUint32(&state.queueDepth),
		processingRate: atomic.LoadUint32(&state.processingRate),
		capacity:       state.capacity,
		lastUpdate:     state.lastUpdate,
		isCongested:    atomic.LoadUint32(&state.isCongested),
	}
}

// FlowStats summarizes flow-control state across all registered peers.
type FlowStats struct {
	TotalPeers     int
	CongestedCount int
	AvgQueueDepth  float32
	MaxQueueDepth  uint32
}

func (fc *FlowController) GetStats() FlowStats {
	fc.mu.RLock()
	defer fc.mu.RUnlock()

	stats := FlowStats{TotalPeers: len(fc.peers)}

	totalDepth := uint32(0)
	for _, state := range fc.peers {
		depth := atomic.LoadUint32(&state.queueDepth)
		totalDepth += depth

		if depth > stats.MaxQueueDepth {
			stats.MaxQueueDepth = depth
		}
		if atomic.LoadUint32(&state.isCongested) != 0 {
			stats.CongestedCount++
		}
	}

	if len(fc.peers) > 0 {
		stats.AvgQueueDepth = float32(totalDepth) / float32(len(fc.peers))
	}

	return stats
}
