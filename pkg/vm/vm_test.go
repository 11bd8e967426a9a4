package vm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Itz-Agasta/ljprofile/pkg/vm"
)

func TestStateClampedCollapsesAtTrace(t *testing.T) {
	assert.Equal(t, vm.StateTrace, vm.StateTrace.Clamped())
	assert.Equal(t, vm.StateTrace, vm.State(vm.StateTrace+5).Clamped())
	assert.Equal(t, vm.StateInterp, vm.StateInterp.Clamped())
	assert.Equal(t, vm.StateASM, vm.StateASM.Clamped())
}

func TestStateStringNames(t *testing.T) {
	cases := map[vm.State]string{
		vm.StateInterp: "INTERP",
		vm.StateLFunc:  "LFUNC",
		vm.StateFFunc:  "FFUNC",
		vm.StateCFunc:  "CFUNC",
		vm.StateGC:     "GC",
		vm.StateExit:   "EXIT",
		vm.StateRecord: "RECORD",
		vm.StateOpt:    "OPT",
		vm.StateASM:    "ASM",
		vm.StateTrace:  "TRACE",
	}
	for st, want := range cases {
		assert.Equal(t, want, st.String())
	}
	assert.Equal(t, "UNKNOWN", vm.State(999).String())
}

func TestFunctionKindDistinguishesProtoFromNative(t *testing.T) {
	proto := vm.Prototype{ID: 1, ChunkName: "main.lua", FirstLine: 3}
	luaFn := vm.Function{Kind: vm.FuncLua, Proto: &proto}
	cFn := vm.Function{Kind: vm.FuncC, NativeAddr: 0xdead}

	assert.Equal(t, vm.FuncLua, luaFn.Kind)
	assert.Same(t, &proto, luaFn.Proto)
	assert.Equal(t, vm.FuncC, cFn.Kind)
	assert.Nil(t, cFn.Proto)
}
