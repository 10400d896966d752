package supervisor_test

import (
	"context"
	"testing"
	"time"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSupervisor(name string, capabilities []string) *supervisor.UnifiedSupervisor {
	return supervisor.NewUnifiedSupervisor(name, capabilities, nil)
}

func TestUnifiedSupervisor_Creation(t *testing.T) {
	testCases := []struct {
		name         string
		capabilities []string
	}{
		{"audio", []string{"audio.encode", "audio.decode"}},
		{"crypto", []string{"crypto.hash", "crypto.sign"}},
		{"data", []string{"data.compress", "data.parse"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			sup := newTestSupervisor(tc.name, tc.capabilities)
			assert.NotNil(t, sup)
			assert.Equal(t, tc.capabilities, sup.Capabilities())
			assert.True(t, sup.SupportsOperation(tc.capabilities[0]))
		})
	}
}

func TestUnifiedSupervisor_StartStop(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = sup.Start(ctx)
	}()
	time.Sleep(10 * time.Millisecond)

	health := sup.Health()
	assert.NotNil(t, health)

	cancel()
	err := sup.Stop()
	assert.NoError(t, err)
}

func TestUnifiedSupervisor_JobSubmission(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = sup.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	defer sup.Stop()

	job := &foundation.Job{
		ID:       "test-job-1",
		Library:  "test",
		Method:   "run",
		Input:    []byte("test data"),
		Deadline: time.Now().Add(1 * time.Second),
	}

	resultChan, err := sup.Submit(job)
	require.NoError(t, err)
	require.NotNil(t, resultChan)

	select {
	case result := <-resultChan:
		require.NotNil(t, result)
		assert.True(t, result.Success())
		assert.Equal(t, job.Input, result.Output)
	case <-time.After(1 * time.Second):
		t.Fatal("job execution timeout")
	}
}

func TestUnifiedSupervisor_BatchSubmission(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() { _ = sup.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	defer sup.Stop()

	jobs := make([]*foundation.Job, 5)
	for i := range jobs {
		jobs[i] = &foundation.Job{
			ID:       string(rune('a' + i)),
			Library:  "test",
			Method:   "run",
			Deadline: time.Now().Add(3 * time.Second),
		}
	}

	results, err := sup.SubmitBatch(ctx, jobs)
	require.NoError(t, err)
	require.Len(t, results, 5)
	for _, r := range results {
		assert.True(t, r.Success())
	}
}

func TestUnifiedSupervisor_InvalidJob(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = sup.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	defer sup.Stop()

	_, err := sup.Submit(nil)
	assert.Error(t, err)

	unsupported := &foundation.Job{
		ID:       "unsupported",
		Library:  "other",
		Method:   "op",
		Deadline: time.Now().Add(1 * time.Second),
	}

	resultChan, err := sup.Submit(unsupported)
	require.NoError(t, err)
	select {
	case result := <-resultChan:
		assert.False(t, result.Success())
		assert.Contains(t, result.ErrorMessage, "capability not supported")
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for unsupported-operation result")
	}
}

func TestUnifiedSupervisor_ExpiredDeadline(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go func() { _ = sup.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	defer sup.Stop()

	expired := &foundation.Job{
		ID:       "expired",
		Library:  "test",
		Method:   "run",
		Deadline: time.Now().Add(-1 * time.Second),
	}

	resultChan, err := sup.Submit(expired)
	require.NoError(t, err)
	select {
	case result := <-resultChan:
		assert.False(t, result.Success())
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for expired-job result")
	}
}

func TestUnifiedSupervisor_ConcurrentSubmissions(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go func() { _ = sup.Start(ctx) }()
	time.Sleep(10 * time.Millisecond)
	defer sup.Stop()

	numJobs := 100
	resultChans := make([]<-chan *foundation.Result, numJobs)

	for i := 0; i < numJobs; i++ {
		job := &foundation.Job{
			ID:       string(rune(i)),
			Library:  "test",
			Method:   "run",
			Deadline: time.Now().Add(5 * time.Second),
		}
		ch, err := sup.Submit(job)
		require.NoError(t, err)
		resultChans[i] = ch
	}

	successCount := 0
	for _, ch := range resultChans {
		select {
		case result := <-ch:
			if result.Success() {
				successCount++
			}
		case <-time.After(6 * time.Second):
			t.Fatal("timeout waiting for concurrent job")
		}
	}

	assert.Greater(t, successCount, 0)
}

func TestUnifiedSupervisor_CapabilityCheck(t *testing.T) {
	capabilities := []string{"encode", "decode", "transform"}
	sup := newTestSupervisor("test", capabilities)

	for _, cap := range capabilities {
		assert.True(t, sup.SupportsOperation(cap))
	}
	assert.False(t, sup.SupportsOperation("nonexistent"))
}

func TestUnifiedSupervisor_CoordinateWithoutPeers(t *testing.T) {
	sup := newTestSupervisor("test", []string{"test.run"})

	job := &foundation.Job{ID: "j1", Library: "test", Method: "run"}
	_, err := sup.Coordinate(context.Background(), job)
	assert.Error(t, err)
}

func TestUnifiedSupervisor_Metrics(t *testing.T) {
	sup := newTestSupervisor("metrics-test", []string{"test.run"})
	metrics := sup.Metrics()
	assert.NotNil(t, metrics)
	assert.Equal(t, uint64(0), metrics.JobsSubmitted)
}
