package foundation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEpochFlags_SignalAndRead(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	assert.Equal(t, int32(0), flags.Read(IdxInboxDirty))
	flags.Signal(IdxInboxDirty)
	assert.Equal(t, int32(1), flags.Read(IdxInboxDirty))
}

func TestEpochFlags_MasterHeartbeat(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	flags.Signal(IdxInboxDirty)
	flags.Signal(IdxInboxDirty)
	assert.Equal(t, int32(2), flags.Read(IdxInboxDirty), "signal(idx); signal(idx); read(idx) == prior + 2")
	assert.Equal(t, int32(2), flags.Read(IdxSystemEpoch), "non-system signal must also advance SYSTEM_EPOCH")
}

func TestEpochFlags_SystemIndicesDoNotDoubleSignal(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	flags.Signal(IdxSystemEpoch)
	assert.Equal(t, int32(1), flags.Read(IdxSystemEpoch))

	flags.Signal(IdxSystemPulse)
	assert.Equal(t, int32(1), flags.Read(IdxSystemPulse))
	assert.Equal(t, int32(1), flags.Read(IdxSystemEpoch), "SYSTEM_PULSE must not also bump SYSTEM_EPOCH")
}

func TestEpochFlags_WaitFastPath(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)
	flags.Signal(IdxMetricsEpoch)

	outcome := flags.Wait(context.Background(), IdxMetricsEpoch, 0, time.Second)
	assert.Equal(t, Changed, outcome)
}

func TestEpochFlags_WaitZeroTimeoutNonBlocking(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	outcome := flags.Wait(context.Background(), IdxMetricsEpoch, 0, 0)
	assert.Equal(t, Timeout, outcome)

	flags.Signal(IdxMetricsEpoch)
	outcome = flags.Wait(context.Background(), IdxMetricsEpoch, 0, 0)
	assert.Equal(t, Changed, outcome)
}

func TestEpochFlags_WaitTimeout(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	start := time.Now()
	outcome := flags.Wait(context.Background(), IdxMetricsEpoch, 0, 20*time.Millisecond)
	assert.Equal(t, Timeout, outcome)
	assert.WithinDuration(t, start.Add(20*time.Millisecond), time.Now(), 50*time.Millisecond)
}

func TestEpochFlags_WaitWakesOnSignal(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		flags.Signal(IdxBirdEpoch)
	}()

	outcome := flags.Wait(context.Background(), IdxBirdEpoch, 0, time.Second)
	require.Equal(t, Changed, outcome)
	assert.WithinDuration(t, start.Add(20*time.Millisecond), time.Now(), 100*time.Millisecond)
}

func TestEpochFlags_ConcurrentWaiters(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlags(buf)

	const triggers = 10
	const waiters = 5

	var wg sync.WaitGroup
	wg.Add(waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			defer wg.Done()
			var last int32
			for {
				outcome := flags.Wait(context.Background(), IdxEvolutionEpoch, last, time.Second)
				require.Equal(t, Changed, outcome)
				last = flags.Read(IdxEvolutionEpoch)
				if last >= triggers {
					return
				}
			}
		}()
	}

	for i := 0; i < triggers; i++ {
		time.Sleep(5 * time.Millisecond)
		flags.Signal(IdxEvolutionEpoch)
	}
	wg.Wait()
}

func TestEpochFlags_PollingFallback(t *testing.T) {
	buf := make([]byte, int(NumNamedFlags)*4)
	flags := NewEpochFlagsPolling(buf)

	go func() {
		time.Sleep(10 * time.Millisecond)
		flags.Signal(IdxMetricsEpoch)
	}()

	outcome := flags.Wait(context.Background(), IdxMetricsEpoch, 0, time.Second)
	assert.Equal(t, Changed, outcome)
}
