// Package kernel wires the Shared Memory Coordination Core's region
// catalogue, epoch waiter, and ring transport into a single portable
// Bridge Facade (spec §4.2/§4.3): the seam every supervisor and
// capability goes through to exchange jobs and results across the
// shared region, independent of any particular host environment.
//
// This replaces the teacher's //go:build wasm singleton
// (supervisor/sab_bridge.go), which reached JS's SharedArrayBuffer
// through syscall/js and Atomics.wait/notify directly. SPEC_FULL
// explicitly excludes any JS/WASM-host-specific transport, so the
// facade here is expressed purely over sab.MemoryProvider instead.
package kernel

import (
	"context"
	"encoding/base64"
	"errors"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/sab"
)

// Bridge is the shared-region facade: three named rings (Inbox,
// OutboxHost, OutboxKernel) plus the Atomic Flags epoch waiter that
// signals their dirty bits on every commit.
type Bridge struct {
	mem   sab.MemoryProvider
	epoch *foundation.EpochFlags

	inbox        *sab.Ring
	outboxHost   *sab.Ring
	outboxKernel *sab.Ring
}

// epochSignaller adapts foundation.EpochFlags to sab.EpochFlagsSignaller
// (a no-arg Signal() uint32), binding a fixed named flag index. sab
// stays free of any dependency on foundation (spec §3 layering); this
// adapter is the one place that crosses the boundary.
type epochSignaller struct {
	flags *foundation.EpochFlags
	idx   foundation.FlagIndex
}

func (s epochSignaller) Signal() uint32 { return s.flags.Signal(s.idx) }

// NewBridge opens the three job/result rings over mem, reading the
// Atomic Flags region out as the byte-backed epoch waiter every ring
// signals on commit.
func NewBridge(mem sab.MemoryProvider) (*Bridge, error) {
	flagBytes, err := mem.Bytes(sab.OffsetAtomicFlags, sab.SizeAtomicFlags)
	if err != nil {
		return nil, err
	}
	epoch := foundation.NewEpochFlags(flagBytes)

	inbox, err := sab.NewRing(mem, sab.OffsetInbox, sab.SizeInbox, epochSignaller{epoch, foundation.IdxInboxDirty})
	if err != nil {
		return nil, err
	}
	outboxHost, err := sab.NewRing(mem, sab.OffsetOutboxHost, sab.SizeOutboxHost, epochSignaller{epoch, foundation.IdxOutboxHostDirty})
	if err != nil {
		return nil, err
	}
	outboxKernel, err := sab.NewRing(mem, sab.OffsetOutboxKernel, sab.SizeOutboxKernel, epochSignaller{epoch, foundation.IdxOutboxKernelDirty})
	if err != nil {
		return nil, err
	}

	return &Bridge{
		mem:          mem,
		epoch:        epoch,
		inbox:        inbox,
		outboxHost:   outboxHost,
		outboxKernel: outboxKernel,
	}, nil
}

// Epoch exposes the bridge's epoch waiter so supervisors can drive
// their epoch-threshold loops (spec §4.5) off the same region.
func (b *Bridge) Epoch() *foundation.EpochFlags { return b.epoch }

// WriteJob enqueues job onto the Inbox ring (host/kernel -> module),
// signalling IdxInboxDirty on commit.
func (b *Bridge) WriteJob(job *foundation.Job) error {
	payload, err := encodeJob(job)
	if err != nil {
		return err
	}
	return b.inbox.Enqueue(payload)
}

// ReadJob dequeues the oldest job from the Inbox ring, or (nil, false)
// if empty.
func (b *Bridge) ReadJob() (*foundation.Job, bool) {
	payload, ok := b.inbox.Dequeue()
	if !ok {
		return nil, false
	}
	job, err := decodeJob(payload)
	if err != nil {
		return nil, false
	}
	return job, true
}

// WriteResult enqueues result onto the OutboxHost ring (kernel/module
// -> host) or OutboxKernel ring (module -> kernel) depending on toHost.
func (b *Bridge) WriteResult(result *foundation.Result, toHost bool) error {
	payload, err := encodeResult(result)
	if err != nil {
		return err
	}
	if toHost {
		return b.outboxHost.Enqueue(payload)
	}
	return b.outboxKernel.Enqueue(payload)
}

// ReadResult dequeues the oldest result from OutboxHost (fromHost=true)
// or OutboxKernel (fromHost=false), or (nil, false) if empty.
func (b *Bridge) ReadResult(fromHost bool) (*foundation.Result, bool) {
	ring := b.outboxKernel
	if fromHost {
		ring = b.outboxHost
	}
	payload, ok := ring.Dequeue()
	if !ok {
		return nil, false
	}
	result, err := decodeResult(payload)
	if err != nil {
		return nil, false
	}
	return result, true
}

// WaitForEpoch blocks until idx's counter differs from lastSeen or
// timeout elapses — the reactive
// primitive every supervisor loop (spec §4.5) and Coordinator poll
// ultimately rests on.
func (b *Bridge) WaitForEpoch(ctx context.Context, idx foundation.FlagIndex, lastSeen int32, timeout time.Duration) foundation.WaitOutcome {
	return b.epoch.Wait(ctx, idx, lastSeen, timeout)
}

var errEmptyJob = errors.New("kernel: cannot encode nil job")

// encodeJob/decodeJob round-trip a Job through a structpb.Struct so the
// wire format reuses the same protobuf dependency the Job.Params field
// already carries, rather than inventing a second bespoke binary codec.
func encodeJob(job *foundation.Job) ([]byte, error) {
	if job == nil {
		return nil, errEmptyJob
	}
	fields := map[string]interface{}{
		"id":           job.ID,
		"library":      job.Library,
		"method":       job.Method,
		"input":        base64.StdEncoding.EncodeToString(job.Input),
		"priority":     float64(job.Priority),
		"deadline_ns":  float64(job.Deadline.UnixNano()),
		"source":       job.Source,
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	if job.Params != nil {
		s.Fields["params"] = structpb.NewStructValue(job.Params)
	}
	return proto.Marshal(s)
}

func decodeJob(payload []byte) (*foundation.Job, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	input, err := base64.StdEncoding.DecodeString(s.Fields["input"].GetStringValue())
	if err != nil {
		return nil, err
	}
	job := &foundation.Job{
		ID:       s.Fields["id"].GetStringValue(),
		Library:  s.Fields["library"].GetStringValue(),
		Method:   s.Fields["method"].GetStringValue(),
		Input:    input,
		Priority: foundation.Priority(int(s.Fields["priority"].GetNumberValue())),
		Deadline: time.Unix(0, int64(s.Fields["deadline_ns"].GetNumberValue())),
		Source:   s.Fields["source"].GetStringValue(),
	}
	if params := s.Fields["params"].GetStructValue(); params != nil {
		job.Params = params
	}
	return job, nil
}

func encodeResult(result *foundation.Result) ([]byte, error) {
	s, err := structpb.NewStruct(map[string]interface{}{
		"job_id":            result.JobID,
		"status":            float64(result.Status),
		"output":            base64.StdEncoding.EncodeToString(result.Output),
		"error_message":     result.ErrorMessage,
		"execution_time_ns": float64(result.ExecutionTimeNs),
		"completed_at_ns":   float64(result.CompletedAt.UnixNano()),
	})
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func decodeResult(payload []byte) (*foundation.Result, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, err
	}
	output, err := base64.StdEncoding.DecodeString(s.Fields["output"].GetStringValue())
	if err != nil {
		return nil, err
	}
	return &foundation.Result{
		JobID:           s.Fields["job_id"].GetStringValue(),
		Status:          foundation.Status(int(s.Fields["status"].GetNumberValue())),
		Output:          output,
		ErrorMessage:    s.Fields["error_message"].GetStringValue(),
		ExecutionTimeNs: uint64(s.Fields["execution_time_ns"].GetNumberValue()),
		CompletedAt:     time.Unix(0, int64(s.Fields["completed_at_ns"].GetNumberValue())),
	}, nil
}
