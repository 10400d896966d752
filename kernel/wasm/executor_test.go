package wasm_test

import (
	"testing"

	"github.com/inos-labs/smcc/kernel/threads/foundation"
	"github.com/inos-labs/smcc/kernel/wasm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/structpb"
)

func TestWasmSupervisor_RegisterAndExecuteUnknownModule(t *testing.T) {
	sup := wasm.NewWasmSupervisor(nil)

	params, err := structpb.NewStruct(map[string]interface{}{"module_name": "greeter"})
	require.NoError(t, err)

	reg := sup.ExecuteJob(&foundation.Job{ID: "r1", Library: "wasm", Method: "register", Input: []byte("fake wasm bytes"), Params: params})
	require.True(t, reg.Success())

	execOtherModule := sup.ExecuteJob(&foundation.Job{ID: "e1", Library: "wasm", Method: "execute", Params: mustParams(t, "not-registered")})
	assert.False(t, execOtherModule.Success())
	assert.Contains(t, execOtherModule.ErrorMessage, "unknown wasm module")
}

func TestWasmSupervisor_UnsupportedMethod(t *testing.T) {
	sup := wasm.NewWasmSupervisor(nil)
	res := sup.ExecuteJob(&foundation.Job{ID: "x1", Library: "wasm", Method: "compile"})
	assert.False(t, res.Success())
}

func mustParams(t *testing.T, moduleName string) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(map[string]interface{}{"module_name": moduleName})
	require.NoError(t, err)
	return s
}
