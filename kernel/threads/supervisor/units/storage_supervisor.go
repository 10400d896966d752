package units

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"sync"
	"time"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
	"github.com/inos-labs/smcc/kernel/utils"
	"github.com/minio/sha256-simd"
)

// StorageSupervisor is the in-process capability stand-in for the
// "storage" domain (spec §10). It keeps a content-addressed in-memory
// store so the mesh-offload heuristic and capability dispatch are
// exercised end to end, without running a production storage engine.
type StorageSupervisor struct {
	*supervisor.UnifiedSupervisor

	logger *utils.Logger
	store  map[string][]byte
	mu     sync.RWMutex
}

func NewStorageSupervisor(epoch *foundation.EpochFlags, capabilities []string) *StorageSupervisor {
	if len(capabilities) == 0 {
		capabilities = []string{
			"storage.cas", "storage.compress", "storage.replicate",
			"storage.deduplicate", "storage.verify", "storage.encrypt",
		}
	}

	return &StorageSupervisor{
		UnifiedSupervisor: supervisor.NewUnifiedSupervisor("storage", capabilities, epoch),
		logger:            utils.DefaultLogger("storage"),
		store:             make(map[string][]byte),
	}
}

func (ss *StorageSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !ss.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, "storage capability not supported: "+job.Operation())
	}

	start := time.Now()
	if ss.shouldDelegate(job) {
		ss.logger.Info("offloading storage task to mesh", utils.String("job_id", job.ID), utils.String("operation", job.Operation()))
		result, err := ss.Coordinate(context.Background(), job)
		if err == nil {
			ss.logger.Info("mesh delegation successful",
				utils.String("job_id", job.ID),
				utils.Duration("duration", time.Since(start)))
			return result
		}
		ss.logger.Warn("mesh delegation failed, falling back to local", utils.String("job_id", job.ID), utils.Err(err))
	}

	switch job.Method {
	case "cas":
		return ss.cas(job)
	case "compress":
		return ss.compress(job)
	case "replicate":
		return ss.replicate(job)
	case "deduplicate":
		return ss.deduplicate(job)
	case "verify":
		return ss.verify(job)
	case "encrypt":
		return ss.encrypt(job)
	default:
		return foundation.FailedResult(job.ID, "unrecognized storage method: "+job.Method)
	}
}

// cas stores job.Input under its content hash when present, or loads the
// blob named by Params["hash"] when Input is empty.
func (ss *StorageSupervisor) cas(job *foundation.Job) *foundation.Result {
	if len(job.Input) > 0 {
		digest := sha256.Sum256(job.Input)
		hash := string(digest[:])
		ss.mu.Lock()
		ss.store[hash] = append([]byte{}, job.Input...)
		ss.mu.Unlock()
		return okResult(job.ID, digest[:])
	}

	hash := ss.hashParam(job)
	if hash == "" {
		return foundation.FailedResult(job.ID, "cas load requires a hash param")
	}
	ss.mu.RLock()
	blob, ok := ss.store[hash]
	ss.mu.RUnlock()
	if !ok {
		return foundation.FailedResult(job.ID, "content not found")
	}
	return okResult(job.ID, blob)
}

func (ss *StorageSupervisor) compress(job *foundation.Job) *foundation.Result {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(job.Input); err != nil {
		return foundation.FailedResult(job.ID, "compress failed: "+err.Error())
	}
	if err := w.Close(); err != nil {
		return foundation.FailedResult(job.ID, "compress flush failed: "+err.Error())
	}
	return okResult(job.ID, buf.Bytes())
}

// replicate stores job.Input under an explicit replica key so a caller
// can address a specific copy (storage.replicate doesn't dedupe by hash).
func (ss *StorageSupervisor) replicate(job *foundation.Job) *foundation.Result {
	hash := ss.hashParam(job)
	if hash == "" {
		digest := sha256.Sum256(job.Input)
		hash = string(digest[:])
	}
	ss.mu.Lock()
	ss.store[hash] = append([]byte{}, job.Input...)
	ss.mu.Unlock()
	return okResult(job.ID, []byte(hash))
}

func (ss *StorageSupervisor) deduplicate(job *foundation.Job) *foundation.Result {
	digest := sha256.Sum256(job.Input)
	hash := string(digest[:])
	ss.mu.RLock()
	_, exists := ss.store[hash]
	ss.mu.RUnlock()
	if exists {
		return okResult(job.ID, []byte("duplicate"))
	}
	ss.mu.Lock()
	ss.store[hash] = append([]byte{}, job.Input...)
	ss.mu.Unlock()
	return okResult(job.ID, []byte("stored"))
}

func (ss *StorageSupervisor) verify(job *foundation.Job) *foundation.Result {
	hash := ss.hashParam(job)
	if hash == "" {
		return foundation.FailedResult(job.ID, "verify requires a hash param")
	}
	digest := sha256.Sum256(job.Input)
	if string(digest[:]) != hash {
		return foundation.FailedResult(job.ID, "content hash mismatch")
	}
	return okResult(job.ID, []byte{1})
}

// encrypt computes a keyed digest binding over the payload; it does not
// make the payload confidential. Payload encryption is
// units.CryptoSupervisor's encrypt capability (a hash-keystream
// stand-in), not duplicated here.
func (ss *StorageSupervisor) encrypt(job *foundation.Job) *foundation.Result {
	digest := sha256.New()
	io.WriteString(digest, "storage-seal:")
	digest.Write(job.Input)
	return okResult(job.ID, digest.Sum(nil))
}

func (ss *StorageSupervisor) hashParam(job *foundation.Job) string {
	if job.Params == nil {
		return ""
	}
	if v, ok := job.Params.Fields["hash"]; ok {
		return v.GetStringValue()
	}
	return ""
}

// shouldDelegate offloads large payloads to the mesh when the method is
// heavy (cas/compress) or local load is high, mirroring the teacher's
// mesh-offload heuristic.
func (ss *StorageSupervisor) shouldDelegate(job *foundation.Job) bool {
	isHeavy := job.Method == "cas" || job.Method == "compress"
	isLarge := len(job.Input) > 1024*1024
	highLoad := ss.systemLoad() > 0.8

	return (isHeavy && isLarge) || (isLarge && highLoad)
}

// systemLoad approximates local pressure from the submitted/completed
// job counters until a real health monitor feed is wired in.
func (ss *StorageSupervisor) systemLoad() float64 {
	metrics := ss.Metrics()
	if metrics.JobsSubmitted == 0 {
		return 0.2
	}
	return float64(metrics.JobsSubmitted-metrics.JobsCompleted) / 10.0
}
