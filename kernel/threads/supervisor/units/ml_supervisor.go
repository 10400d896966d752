package units

import (
	"sync"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
	"github.com/minio/sha256-simd"
)

// MLSupervisor is the in-process capability stand-in for the "ml" domain
// (spec §10). It keeps the teacher's model lifecycle cache so capability
// dispatch against a loaded/unloaded model set is exercised, without
// running a real model runtime (that belongs to wasm.WasmSupervisor).
type MLSupervisor struct {
	*supervisor.UnifiedSupervisor

	activeModels map[string]bool
	mu           sync.RWMutex
}

func NewMLSupervisor(epoch *foundation.EpochFlags, capabilities []string) *MLSupervisor {
	if len(capabilities) == 0 {
		capabilities = []string{
			"ml.inference", "ml.training", "ml.model_management",
			"model.load", "model.evict", "gpu.allocate",
		}
	}

	ms := &MLSupervisor{activeModels: make(map[string]bool)}
	ms.UnifiedSupervisor = supervisor.NewUnifiedSupervisor("ml", capabilities, epoch)
	return ms
}

func (ms *MLSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !ms.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, "ml capability not supported: "+job.Operation())
	}

	if modelID := ms.modelID(job); modelID != "" && job.Method != "evict" {
		ms.ensureModelLoaded(modelID)
	}

	switch job.Method {
	case "inference":
		return ms.infer(job)
	case "training":
		return ms.trainStep(job)
	case "model_management", "load":
		return okResult(job.ID, []byte(ms.modelID(job)))
	case "evict":
		ms.evictModel(ms.modelID(job))
		return okResult(job.ID, nil)
	case "allocate":
		return okResult(job.ID, nil)
	default:
		return foundation.FailedResult(job.ID, "unrecognized ml method: "+job.Method)
	}
}

// infer produces a deterministic, content-addressed stand-in for a
// forward pass: the digest of model id + input stands in for a
// prediction so dispatch and latency accounting are exercised end to end.
func (ms *MLSupervisor) infer(job *foundation.Job) *foundation.Result {
	digest := sha256.New()
	digest.Write([]byte(ms.modelID(job)))
	digest.Write(job.Input)
	return okResult(job.ID, digest.Sum(nil))
}

func (ms *MLSupervisor) trainStep(job *foundation.Job) *foundation.Result {
	modelID := ms.modelID(job)
	ms.ensureModelLoaded(modelID)
	return okResult(job.ID, []byte("step complete: "+modelID))
}

func (ms *MLSupervisor) modelID(job *foundation.Job) string {
	if job.Params == nil {
		return ""
	}
	if v, ok := job.Params.Fields["model_id"]; ok {
		return v.GetStringValue()
	}
	return ""
}

func (ms *MLSupervisor) ensureModelLoaded(modelID string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if ms.activeModels[modelID] {
		return
	}
	ms.activeModels[modelID] = true
}

func (ms *MLSupervisor) evictModel(modelID string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	delete(ms.activeModels, modelID)
}

// LoadedModels reports the model ids currently marked resident, for
// health and metrics reporting.
func (ms *MLSupervisor) LoadedModels() []string {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	out := make([]string, 0, len(ms.activeModels))
	for id := range ms.activeModels {
		out = append(out, id)
	}
	return out
}
