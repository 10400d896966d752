package supervisor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
)

// UnifiedSupervisor is the base supervisor implementation every
// capability supervisor embeds (spec §4.5), running four cooperative
// loops (monitor/schedule/learning/health) off the shared region's epoch
// flags, with a wall-clock fallback when constructed without one.
type UnifiedSupervisor struct {
	name         string
	capabilities []string

	epoch       *foundation.EpochFlags // nil falls back to wall-clock timers
	coordinator *Coordinator           // nil disables Coordinate delegation

	channels *ChannelSet

	running       atomic.Bool
	jobsSubmitted atomic.Uint64
	jobsCompleted atomic.Uint64
	jobsFailed    atomic.Uint64

	jobQueue    *JobQueue
	resultCache *ResultCache

	latencies []time.Duration
	mu        sync.RWMutex

	// Epoch thresholds: run the given loop's work every N system-epoch
	// increments, matching spec §4.5 exactly (10/100/1000).
	monitorEpochThreshold  int32
	learningEpochThreshold int32
	healthEpochThreshold   int32

	metrics *supervisorMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type supervisorMetrics struct {
	submitted prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	queueDepth prometheus.Gauge
	latency    prometheus.Histogram
	registry   *prometheus.Registry
}

// newSupervisorMetrics gives each supervisor instance its own registry
// rather than registering into prometheus.DefaultRegisterer, so creating
// two supervisors of the same name (e.g. across tests) never collides on
// duplicate metric registration. A host process that wants to expose
// these collectors process-wide can fold Registry() into its own registry.
func newSupervisorMetrics(name string) *supervisorMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	labels := prometheus.Labels{"supervisor": name}

	return &supervisorMetrics{
		registry: reg,
		submitted: factory.NewCounter(prometheus.CounterOpts{
			Name:        "inos_supervisor_jobs_submitted_total",
			Help:        "Total jobs submitted to this supervisor.",
			ConstLabels: labels,
		}),
		completed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "inos_supervisor_jobs_completed_total",
			Help:        "Total jobs completed successfully by this supervisor.",
			ConstLabels: labels,
		}),
		failed: factory.NewCounter(prometheus.CounterOpts{
			Name:        "inos_supervisor_jobs_failed_total",
			Help:        "Total jobs failed on this supervisor.",
			ConstLabels: labels,
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name:        "inos_supervisor_queue_depth",
			Help:        "Current job queue depth for this supervisor.",
			ConstLabels: labels,
		}),
		latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:        "inos_supervisor_job_latency_seconds",
			Help:        "Job execution latency in seconds.",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}),
	}
}

// NewUnifiedSupervisor creates a supervisor named name with the given
// capabilities. epoch may be nil, in which case the monitor, health and
// learning loops fall back to wall-clock tickers (1s/30s/60s) instead of
// epoch-threshold gating; the schedule loop is driven by the job channel
// either way.
func NewUnifiedSupervisor(name string, capabilities []string, epoch *foundation.EpochFlags) *UnifiedSupervisor {
	return &UnifiedSupervisor{
		name:                   name,
		capabilities:           capabilities,
		epoch:                  epoch,
		coordinator:            NewCoordinator(name),
		channels:               NewChannelSet(100),
		jobQueue:               NewJobQueue(),
		resultCache:            NewResultCache(),
		latencies:              make([]time.Duration, 0, 1000),
		monitorEpochThreshold:  10,
		learningEpochThreshold: 1000,
		healthEpochThreshold:   100,
		metrics:                newSupervisorMetrics(name),
	}
}

// Coordinator exposes the peer-delegation coordinator so capability
// supervisors and callers can register peers.
func (us *UnifiedSupervisor) Coordinator() *Coordinator {
	return us.coordinator
}

// Registry exposes this supervisor's Prometheus collectors so a host
// process can fold them into a process-wide registry.
func (us *UnifiedSupervisor) Registry() *prometheus.Registry {
	return us.metrics.registry
}

// Start runs the supervisor's four cooperative loops until ctx is
// cancelled or Stop is called.
func (us *UnifiedSupervisor) Start(ctx context.Context) error {
	if us.running.Load() {
		return fmt.Errorf("supervisor %s already running", us.name)
	}

	us.ctx, us.cancel = context.WithCancel(ctx)
	us.running.Store(true)

	us.wg.Add(4)
	go us.monitorLoop()
	go us.scheduleLoop()
	go us.learningLoop()
	go us.healthLoop()

	<-us.ctx.Done()
	return nil
}

// Stop halts the supervisor's loops and closes its channels.
func (us *UnifiedSupervisor) Stop() error {
	if !us.running.Load() {
		return fmt.Errorf("supervisor %s not running", us.name)
	}

	us.cancel()
	us.running.Store(false)
	us.wg.Wait()
	us.channels.Close()

	return nil
}

// Submit queues a job for asynchronous execution and returns a channel
// that receives its result.
func (us *UnifiedSupervisor) Submit(job *foundation.Job) (<-chan *foundation.Result, error) {
	if job == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}
	if !us.running.Load() {
		return nil, fmt.Errorf("supervisor %s not running", us.name)
	}

	if !job.Deadline.IsZero() && time.Now().After(job.Deadline) {
		resultChan := make(chan *foundation.Result, 1)
		resultChan <- foundation.FailedResult(job.ID, "job deadline already expired")
		close(resultChan)
		return resultChan, nil
	}

	resultChan := make(chan *foundation.Result, 1)
	job.ResultChan = resultChan
	job.SubmittedAt = time.Now()

	us.jobsSubmitted.Add(1)
	us.metrics.submitted.Inc()

	select {
	case us.channels.Jobs <- job:
		us.metrics.queueDepth.Set(float64(len(us.channels.Jobs)))
		return resultChan, nil
	case <-time.After(100 * time.Millisecond):
		// QueueFull is surfaced inside the Result, not as a throwing error,
		// the same way the deadline-expired case above is (spec §4.5/§10).
		resultChan <- foundation.FailedResult(job.ID, "job queue full")
		close(resultChan)
		return resultChan, nil
	}
}

// SubmitBatch submits every job in jobs and waits for all results,
// fanning out with errgroup so one slow or cancelled job cannot wedge the
// others.
func (us *UnifiedSupervisor) SubmitBatch(ctx context.Context, jobs []*foundation.Job) ([]*foundation.Result, error) {
	results := make([]*foundation.Result, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			resultChan, err := us.Submit(job)
			if err != nil {
				results[i] = foundation.FailedResult(job.ID, err.Error())
				return nil
			}
			select {
			case results[i] = <-resultChan:
				return nil
			case <-ctx.Done():
				results[i] = foundation.FailedResult(job.ID, "cancelled")
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// Coordinate delegates job to a capability-matched peer via the
// coordinator (spec §10).
func (us *UnifiedSupervisor) Coordinate(ctx context.Context, job *foundation.Job) (*foundation.Result, error) {
	if us.coordinator == nil {
		return nil, fmt.Errorf("no coordinator configured for supervisor %s", us.name)
	}
	return us.coordinator.Coordinate(ctx, job)
}

// Health reports the supervisor's current health status.
func (us *UnifiedSupervisor) Health() *foundation.HealthStatus {
	submitted := us.jobsSubmitted.Load()
	completed := us.jobsCompleted.Load()
	failed := us.jobsFailed.Load()

	errorRate := 0.0
	if submitted > 0 {
		errorRate = float64(failed) / float64(submitted)
	}

	return &foundation.HealthStatus{
		Healthy:       errorRate < 0.1,
		Issues:        make([]string, 0),
		LastCheck:     time.Now(),
		JobsProcessed: completed,
		ErrorRate:     errorRate,
	}
}

// Metrics reports the supervisor's current throughput/latency metrics.
func (us *UnifiedSupervisor) Metrics() *foundation.SupervisorMetrics {
	us.mu.RLock()
	defer us.mu.RUnlock()

	avgLatency := time.Duration(0)
	if len(us.latencies) > 0 {
		total := time.Duration(0)
		for _, lat := range us.latencies {
			total += lat
		}
		avgLatency = total / time.Duration(len(us.latencies))
	}

	return &foundation.SupervisorMetrics{
		JobsSubmitted:  us.jobsSubmitted.Load(),
		JobsCompleted:  us.jobsCompleted.Load(),
		JobsFailed:     us.jobsFailed.Load(),
		AverageLatency: avgLatency,
		QueueDepth:     us.jobQueue.Len(),
	}
}

// Anomalies returns any anomalies currently flagged for this supervisor.
// The base implementation never flags anything on its own; capability
// supervisors with richer health signals may override it.
func (us *UnifiedSupervisor) Anomalies() []string {
	return make([]string, 0)
}

// Capabilities returns the operations this supervisor declares support for.
func (us *UnifiedSupervisor) Capabilities() []string {
	return us.capabilities
}

// SupportsOperation reports whether op is among this supervisor's
// declared capabilities.
func (us *UnifiedSupervisor) SupportsOperation(op string) bool {
	for _, cap := range us.capabilities {
		if cap == op {
			return true
		}
	}
	return false
}

// ExecuteJob is the base dispatch: it validates the operation is
// supported and echoes the input as output. Capability supervisors
// override this to perform real work.
func (us *UnifiedSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !us.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, fmt.Sprintf("capability not supported: %s", job.Operation()))
	}

	return &foundation.Result{
		JobID:       job.ID,
		Status:      foundation.StatusSuccess,
		Output:      job.Input,
		CompletedAt: time.Now(),
	}
}

// Goroutine loops. Epoch-driven when us.epoch is set (each wait times out
// after 50ms and is re-armed, so an idle loop still wakes periodically);
// fall back to wall-clock tickers otherwise (spec §4.5).

func (us *UnifiedSupervisor) monitorLoop() {
	defer us.wg.Done()

	if us.epoch == nil {
		us.runWallClockLoop(time.Second, us.runMonitor)
		return
	}
	us.runEpochLoop(&us.monitorEpochThreshold, us.runMonitor)
}

func (us *UnifiedSupervisor) scheduleLoop() {
	defer us.wg.Done()

	for {
		select {
		case <-us.ctx.Done():
			us.drainCancelled()
			return
		case job := <-us.channels.Jobs:
			us.processJob(job)
		}
	}
}

// drainCancelled flushes any jobs still sitting in the queue when the
// supervisor shuts down, so in-flight callers blocked on their result
// channel complete with Cancelled rather than hanging forever (spec:169).
func (us *UnifiedSupervisor) drainCancelled() {
	for {
		select {
		case job := <-us.channels.Jobs:
			result := foundation.FailedResult(job.ID, "cancelled")
			us.resultCache.Set(job.ID, result)
			job.ResultChan <- result
		default:
			return
		}
	}
}

func (us *UnifiedSupervisor) learningLoop() {
	defer us.wg.Done()

	if us.epoch == nil {
		us.runWallClockLoop(time.Minute, func() {})
		return
	}
	us.runEpochLoop(&us.learningEpochThreshold, func() {})
}

func (us *UnifiedSupervisor) healthLoop() {
	defer us.wg.Done()

	if us.epoch == nil {
		us.runWallClockLoop(30*time.Second, us.runMonitor)
		return
	}
	us.runEpochLoop(&us.healthEpochThreshold, us.runMonitor)
}

func (us *UnifiedSupervisor) runWallClockLoop(interval time.Duration, work func()) {
	for {
		select {
		case <-us.ctx.Done():
			return
		case <-time.After(interval):
			work()
		}
	}
}

func (us *UnifiedSupervisor) runEpochLoop(threshold *int32, work func()) {
	var lastEpoch int32
	var workEpoch int32

	for {
		select {
		case <-us.ctx.Done():
			return
		case outcome := <-us.epoch.WaitChan(us.ctx, foundation.IdxSystemEpoch, lastEpoch, 50*time.Millisecond):
			if outcome != foundation.Changed {
				continue
			}
			currentEpoch := us.epoch.Read(foundation.IdxSystemEpoch)
			if currentEpoch-workEpoch >= *threshold {
				work()
				workEpoch = currentEpoch
			}
			lastEpoch = currentEpoch
		}
	}
}

func (us *UnifiedSupervisor) runMonitor() {
	health := us.Health()
	if !health.Healthy {
		// Degraded health is surfaced via Health()/Anomalies(); the
		// monitor loop itself never returns an error to its caller.
		_ = health
	}
}

func (us *UnifiedSupervisor) processJob(job *foundation.Job) {
	startTime := time.Now()

	var result *foundation.Result
	if !job.Deadline.IsZero() && time.Now().After(job.Deadline) {
		// The submit-time check in Submit only catches a deadline that has
		// already passed before queuing; a job that was still on time then
		// but expired while waiting in us.channels.Jobs must be dropped
		// here instead of dispatched (spec §4.5).
		result = foundation.FailedResult(job.ID, "deadline expired")
	} else {
		result = us.ExecuteJob(job)
	}

	latency := time.Since(startTime)
	us.recordLatency(latency)
	us.metrics.latency.Observe(latency.Seconds())
	us.metrics.queueDepth.Set(float64(len(us.channels.Jobs)))

	if result.Success() {
		us.jobsCompleted.Add(1)
		us.metrics.completed.Inc()
	} else {
		us.jobsFailed.Add(1)
		us.metrics.failed.Inc()
	}

	us.resultCache.Set(job.ID, result)
	job.ResultChan <- result
}

func (us *UnifiedSupervisor) recordLatency(latency time.Duration) {
	us.mu.Lock()
	defer us.mu.Unlock()

	us.latencies = append(us.latencies, latency)
	if len(us.latencies) > 1000 {
		us.latencies = us.latencies[1:]
	}
}
