// Package wasm provides the generic "unknown business logic" capability:
// a supervisor that executes an arbitrary WASM module's main export
// instead of a fixed domain operation.
package wasm

import (
	"sync"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/threads/supervisor"
)

// Execute runs a WASM module with the given input and returns the
// bytes its main export produced, grounded verbatim on the teacher's
// algorithm (engine/store/module/instance/call sequence).
func Execute(wasmBytes, input []byte) ([]byte, error) {
	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, wasmBytes)
	if err != nil {
		return nil, err
	}
	instance, err := wasmer.NewInstance(module, wasmer.NewImportObject())
	if err != nil {
		return nil, err
	}
	mainFunc, err := instance.Exports.GetFunction("main")
	if err != nil {
		return nil, err
	}
	result, err := mainFunc(input)
	if err != nil {
		return nil, err
	}
	if bytes, ok := result.([]byte); ok {
		return bytes, nil
	}
	return nil, nil
}

// WasmSupervisor is the capability supervisor for arbitrary WASM
// modules (spec §10): it registers a module by name once, then runs it
// against job input on each dispatch. This is the module's escape
// hatch for business logic the core never needs to know the shape of.
type WasmSupervisor struct {
	*supervisor.UnifiedSupervisor

	modules map[string][]byte
	mu      sync.RWMutex
}

func NewWasmSupervisor(epoch *foundation.EpochFlags) *WasmSupervisor {
	return &WasmSupervisor{
		UnifiedSupervisor: supervisor.NewUnifiedSupervisor("wasm", []string{"wasm.execute", "wasm.register"}, epoch),
		modules:           make(map[string][]byte),
	}
}

// RegisterModule makes a compiled WASM module available under name for
// subsequent wasm.execute jobs.
func (ws *WasmSupervisor) RegisterModule(name string, wasmBytes []byte) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.modules[name] = wasmBytes
}

func (ws *WasmSupervisor) ExecuteJob(job *foundation.Job) *foundation.Result {
	if !ws.SupportsOperation(job.Operation()) {
		return foundation.FailedResult(job.ID, "wasm capability not supported: "+job.Operation())
	}

	switch job.Method {
	case "register":
		name := ws.moduleName(job)
		if name == "" {
			return foundation.FailedResult(job.ID, "register requires a module_name param")
		}
		ws.RegisterModule(name, job.Input)
		return &foundation.Result{JobID: job.ID, Status: foundation.StatusSuccess}

	case "execute":
		name := ws.moduleName(job)
		ws.mu.RLock()
		wasmBytes, ok := ws.modules[name]
		ws.mu.RUnlock()
		if !ok {
			return foundation.FailedResult(job.ID, "unknown wasm module: "+name)
		}
		output, err := Execute(wasmBytes, job.Input)
		if err != nil {
			return foundation.FailedResult(job.ID, "wasm execution failed: "+err.Error())
		}
		return &foundation.Result{JobID: job.ID, Status: foundation.StatusSuccess, Output: output}

	default:
		return foundation.FailedResult(job.ID, "unrecognized wasm method: "+job.Method)
	}
}

func (ws *WasmSupervisor) moduleName(job *foundation.Job) string {
	if job.Params == nil {
		return ""
	}
	if v, ok := job.Params.Fields["module_name"]; ok {
		return v.GetStringValue()
	}
	return ""
}
