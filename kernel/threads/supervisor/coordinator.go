package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
)

// Peer is a delegation target for work this supervisor cannot or should not
// execute locally. Its wire transport is deliberately abstracted away: spec
// §10 excludes network I/O from this module's scope, so a Peer may be
// in-process, loopback, or (outside this module) backed by a real transport
// without the Coordinator knowing the difference.
type Peer interface {
	SendJob(ctx context.Context, job *foundation.Job) (*foundation.Result, error)
}

// PeerInfo tracks what the coordinator knows about a registered peer.
type PeerInfo struct {
	id           string
	peer         Peer
	capabilities []string
	loadFactor   float32 // 0.0-1.0 (1.0 = fully loaded)
	latency      time.Duration
	lastSeen     time.Time
}

// SelectionStrategy picks among capable peers for a given delegation.
type SelectionStrategy int

const (
	StrategyRoundRobin SelectionStrategy = iota
	StrategyLeastLoaded
	StrategyLowestLatency
	StrategyCapabilityMatch
)

// PeerSelector applies a SelectionStrategy over a candidate peer set.
type PeerSelector struct {
	strategy     SelectionStrategy
	lastSelected int
}

// Coordinator routes delegated jobs to capability-matched peers, tracking
// load and latency so it can steer future delegations away from congested
// or slow peers (spec §10 "Peer coordination / delegation").
type Coordinator struct {
	supervisorID string

	flowControl  *FlowController
	peers        map[string]*PeerInfo
	peerSelector *PeerSelector
	mu           sync.RWMutex
}

// NewCoordinator creates a new coordinator for supervisorID.
func NewCoordinator(supervisorID string) *Coordinator {
	return &Coordinator{
		supervisorID: supervisorID,
		flowControl:  NewFlowController(),
		peers:        make(map[string]*PeerInfo),
		peerSelector: &PeerSelector{strategy: StrategyLeastLoaded},
	}
}

// SetStrategy changes the peer selection strategy.
func (c *Coordinator) SetStrategy(strategy SelectionStrategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peerSelector.strategy = strategy
}

// RegisterPeer registers a delegation peer with its declared capabilities.
func (c *Coordinator) RegisterPeer(id string, peer Peer, capabilities []string, capacity uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.peers[id] = &PeerInfo{
		id:           id,
		peer:         peer,
		capabilities: capabilities,
		lastSeen:     time.Now(),
	}
	c.flowControl.RegisterPeer(id, capacity)
}

// Coordinate delegates job to the best available capable peer and returns
// its result, implementing spec §4.5's coordinate(job).
func (c *Coordinator) Coordinate(ctx context.Context, job *foundation.Job) (*foundation.Result, error) {
	capable := c.getCapablePeers(job.Operation())
	if len(capable) == 0 {
		return nil, fmt.Errorf("no capable peers for operation %q", job.Operation())
	}

	c.mu.Lock()
	selected := c.peerSelector.Select(capable)
	c.mu.Unlock()

	if selected == nil {
		return nil, fmt.Errorf("no suitable peer available")
	}

	if !c.flowControl.CanSend(selected.id) {
		return nil, fmt.Errorf("peer %s is congested", selected.id)
	}

	start := time.Now()
	result, err := selected.peer.SendJob(ctx, job)
	latency := time.Since(start)

	c.updatePeerStats(selected.id, latency, err == nil)
	return result, err
}

// getCapablePeers returns peers whose declared capabilities match operation,
// supporting wildcard matching ("compute" matches "compute:ml").
func (c *Coordinator) getCapablePeers(operation string) []*PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	capable := make([]*PeerInfo, 0, len(c.peers))
	for _, peer := range c.peers {
		if c.hasCapability(peer, operation) {
			capable = append(capable, peer)
		}
	}
	return capable
}

func (c *Coordinator) hasCapability(peer *PeerInfo, capability string) bool {
	if capability == "" {
		return true
	}

	for _, cap := range peer.capabilities {
		if cap == capability {
			return true
		}
		// Wildcard: "compute" matches "compute:ml", "compute:gpu".
		if len(cap) > len(capability) &&
			cap[:len(capability)] == capability &&
			cap[len(capability)] == ':' {
			return true
		}
	}
	return false
}

func (c *Coordinator) updatePeerStats(peerID string, latency time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	peer, exists := c.peers[peerID]
	if !exists {
		return
	}

	if peer.latency == 0 {
		peer.latency = latency
	} else {
		peer.latency = (peer.latency*3 + latency) / 4
	}

	if !success {
		peer.loadFactor = minFloat32(peer.loadFactor+0.1, 1.0)
	} else if latency < time.Microsecond {
		peer.loadFactor = maxFloat32(peer.loadFactor-0.05, 0.0)
	}

	peer.lastSeen = time.Now()
	c.flowControl.UpdateCongestion(peerID, latency, success)
}

// Select picks one peer from the candidate set per the configured strategy.
func (ps *PeerSelector) Select(peers []*PeerInfo) *PeerInfo {
	if len(peers) == 0 {
		return nil
	}

	switch ps.strategy {
	case StrategyRoundRobin:
		ps.lastSelected = (ps.lastSelected + 1) % len(peers)
		return peers[ps.lastSelected]

	case StrategyLeastLoaded:
		var selected *PeerInfo
		minLoad := float32(1.1)
		for _, peer := range peers {
			if peer.loadFactor < minLoad {
				minLoad = peer.loadFactor
				selected = peer
			}
		}
		return selected

	case StrategyLowestLatency:
		var selected *PeerInfo
		minLatency := time.Hour
		for _, peer := range peers {
			if peer.latency < minLatency || peer.latency == 0 {
				minLatency = peer.latency
				selected = peer
			}
		}
		return selected

	default: // StrategyCapabilityMatch: any capable peer already qualifies
		return peers[0]
	}
}

func minFloat32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func maxFloat32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

// PeerStats is a snapshot of one peer's coordination state.
type PeerStats struct {
	PeerID     string
	LoadFactor float32
	Latency    time.Duration
	LastSeen   time.Time
}

// GetPeerStats returns statistics for all registered peers.
func (c *Coordinator) GetPeerStats() []PeerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := make([]PeerStats, 0, len(c.peers))
	for _, peer := range c.peers {
		stats = append(stats, PeerStats{
			PeerID:     peer.id,
			LoadFactor: peer.loadFactor,
			Latency:    peer.latency,
			LastSeen:   peer.lastSeen,
		})
	}
	return stats
}
