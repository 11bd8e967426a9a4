package symtab_test

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/decode"
	"github.com/Itz-Agasta/ljprofile/pkg/metrics"
	"github.com/Itz-Agasta/ljprofile/pkg/symtab"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

type fakeHooks struct {
	protos []vm.Prototype
	traces []vm.Trace
}

func (h *fakeHooks) State() vm.State                         { return vm.StateInterp }
func (h *fakeHooks) CurrentFrame() (vm.Frame, bool)           { return vm.Frame{}, false }
func (h *fakeHooks) PreviousFrame() (vm.Frame, bool)          { return vm.Frame{}, false }
func (h *fakeHooks) Allocator() (vm.AllocFunc, uintptr)       { return nil, 0 }
func (h *fakeHooks) SetAllocator(fn vm.AllocFunc, st uintptr) {}
func (h *fakeHooks) CurrentTrace() (vm.Trace, bool)           { return vm.Trace{}, false }
func (h *fakeHooks) Metrics() metrics.Snapshot                { return metrics.Snapshot{} }

func (h *fakeHooks) WalkGCRoots(yield func(vm.Prototype)) {
	for _, pt := range h.protos {
		yield(pt)
	}
}

func (h *fakeHooks) WalkTraces(yield func(vm.Trace)) {
	for _, tr := range h.traces {
		yield(tr)
	}
}

func TestWritePreambleRoundTripsLFuncTraceAndCFuncEntries(t *testing.T) {
	hooks := &fakeHooks{
		protos: []vm.Prototype{{ID: 1, ChunkName: "main.lua", FirstLine: 3}},
		traces: []vm.Trace{{Number: 7, StartProtoID: 1, StartLine: 5}},
	}
	natives := []symtab.NativeSymbol{{Addr: 0x1000, Name: "libc_malloc"}}

	var sink bytes.Buffer
	b := wbuf.New(&sink, nil)
	symtab.WritePreamble(b, hooks, natives)
	b.Flush()
	require.False(t, b.Halted())

	tab, err := decode.DecodeSymtabPreamble(bufio.NewReader(&sink))
	require.NoError(t, err)
	require.Len(t, tab.Entries, 3)

	lfunc := tab.Entries[0]
	assert.Equal(t, wire.SymKindLFunc, lfunc.Kind)
	assert.EqualValues(t, 1, lfunc.ProtoID)
	assert.Equal(t, "main.lua", lfunc.ChunkName)
	assert.EqualValues(t, 3, lfunc.FirstLine)

	trace := tab.Entries[1]
	assert.Equal(t, wire.SymKindTrace, trace.Kind)
	assert.EqualValues(t, 7, trace.TraceNo)
	assert.EqualValues(t, 1, trace.StartProtoID)
	assert.EqualValues(t, 5, trace.StartLine)

	cfunc := tab.Entries[2]
	assert.Equal(t, wire.SymKindCFunc, cfunc.Kind)
	assert.EqualValues(t, 0x1000, cfunc.Addr)
	assert.Equal(t, "libc_malloc", cfunc.Name)
}

func TestWritePreambleWithNoLiveStateIsJustMagicAndFinal(t *testing.T) {
	hooks := &fakeHooks{}

	var sink bytes.Buffer
	b := wbuf.New(&sink, nil)
	symtab.WritePreamble(b, hooks, nil)
	b.Flush()

	tab, err := decode.DecodeSymtabPreamble(bufio.NewReader(&sink))
	require.NoError(t, err)
	assert.Empty(t, tab.Entries)
}

func TestEncodeIncrementalLFuncMatchesPreambleEntryShape(t *testing.T) {
	var sink bytes.Buffer
	b := wbuf.New(&sink, nil)
	symtab.EncodeIncrementalLFunc(b, vm.Prototype{ID: 42, ChunkName: "lib.lua", FirstLine: 9})
	b.Flush()

	r := bufio.NewReader(&sink)
	hdr, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, wire.AEventSymtab|wire.ASourceLFunc, hdr)
}

func TestEncodeIncrementalTraceMatchesPreambleEntryShape(t *testing.T) {
	var sink bytes.Buffer
	b := wbuf.New(&sink, nil)
	symtab.EncodeIncrementalTrace(b, vm.Trace{Number: 2, StartProtoID: 42, StartLine: 9})
	b.Flush()

	r := bufio.NewReader(&sink)
	hdr, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, wire.AEventSymtab|wire.ASourceTrace, hdr)
}
