package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubPeer struct {
	result *foundation.Result
	err    error
	delay  time.Duration
}

func (p *stubPeer) SendJob(ctx context.Context, job *foundation.Job) (*foundation.Result, error) {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func TestCoordinator_CapablePeers(t *testing.T) {
	coord := NewCoordinator("sup-1")
	coord.RegisterPeer("peer-1", &stubPeer{}, []string{"compute:ml", "learning"}, 10)
	coord.RegisterPeer("peer-2", &stubPeer{}, []string{"compute:gpu"}, 10)

	capable := coord.getCapablePeers("compute")
	assert.Len(t, capable, 2)

	capableLearning := coord.getCapablePeers("learning")
	require.Len(t, capableLearning, 1)
	assert.Equal(t, "peer-1", capableLearning[0].id)
}

func TestCoordinator_SelectionStrategies(t *testing.T) {
	coord := NewCoordinator("sup-1")
	p1 := &PeerInfo{id: "p1", loadFactor: 0.8, latency: 100 * time.Millisecond}
	p2 := &PeerInfo{id: "p2", loadFactor: 0.2, latency: 200 * time.Millisecond}
	peers := []*PeerInfo{p1, p2}

	coord.peerSelector.strategy = StrategyLeastLoaded
	selected := coord.peerSelector.Select(peers)
	assert.Equal(t, "p2", selected.id)

	coord.peerSelector.strategy = StrategyLowestLatency
	selected = coord.peerSelector.Select(peers)
	assert.Equal(t, "p1", selected.id)

	coord.peerSelector.strategy = StrategyRoundRobin
	s1 := coord.peerSelector.Select(peers)
	s2 := coord.peerSelector.Select(peers)
	assert.NotEqual(t, s1.id, s2.id)
}

func TestCoordinator_CapabilityMatching(t *testing.T) {
	coord := NewCoordinator("sup-1")
	peer := &PeerInfo{capabilities: []string{"compute:ml", "storage:ssd", "networking"}}

	assert.True(t, coord.hasCapability(peer, "compute"))
	assert.True(t, coord.hasCapability(peer, "compute:ml"))
	assert.False(t, coord.hasCapability(peer, "compute:gpu"))
	assert.True(t, coord.hasCapability(peer, "storage"))
	assert.True(t, coord.hasCapability(peer, ""))
}

func TestCoordinator_StatsUpdate(t *testing.T) {
	coord := NewCoordinator("sup-1")
	coord.RegisterPeer("p1", &stubPeer{}, nil, 100)

	coord.updatePeerStats("p1", 50*time.Millisecond, true)
	stats := coord.GetPeerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, 50*time.Millisecond, stats[0].Latency)

	// Moving average: (50*3 + 150) / 4 = 75
	coord.updatePeerStats("p1", 150*time.Millisecond, true)
	stats = coord.GetPeerStats()
	assert.Equal(t, 75*time.Millisecond, stats[0].Latency)
}

func TestCoordinator_CoordinateNoCapablePeers(t *testing.T) {
	coord := NewCoordinator("sup-1")
	job := &foundation.Job{ID: "j1", Library: "compute", Method: "run"}

	_, err := coord.Coordinate(context.Background(), job)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no capable peers")
}

func TestCoordinator_CoordinateDelegatesToCapablePeer(t *testing.T) {
	coord := NewCoordinator("sup-1")
	want := &foundation.Result{JobID: "j1", Status: foundation.StatusSuccess}
	coord.RegisterPeer("p1", &stubPeer{result: want}, []string{"compute.run"}, 100)

	job := &foundation.Job{ID: "j1", Library: "compute", Method: "run"}
	got, err := coord.Coordinate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestCoordinator_CoordinateRespectsCongestion(t *testing.T) {
	coord := NewCoordinator("sup-1")
	coord.RegisterPeer("p1", &stubPeer{result: &foundation.Result{}}, []string{"compute.run"}, 100)
	coord.flowControl.UpdateQueueDepth("p1", 85)

	job := &foundation.Job{ID: "j1", Library: "compute", Method: "run"}
	_, err := coord.Coordinate(context.Background(), job)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "congested")
}
