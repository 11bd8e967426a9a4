package memprof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itz-Agasta/ljprofile/pkg/metrics"
	"github.com/Itz-Agasta/ljprofile/pkg/profiler"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

// fakeHooks is a minimal, comparable (pointer-typed) vm.Hooks for exercising
// memprof without a real VM. It models a single allocator slot and a fixed
// execution state set per test.
type fakeHooks struct {
	st        vm.State
	frame     vm.Frame
	hasFrame  bool
	prev      vm.Frame
	hasPrev   bool
	trace     vm.Trace
	hasTrace  bool
	allocator vm.AllocFunc
	allocSt   uintptr
}

func newFakeHooks() *fakeHooks {
	h := &fakeHooks{st: vm.StateInterp}
	h.allocator = func(state uintptr, ptr uintptr, oldSize, newSize uint64) uintptr {
		if newSize == 0 {
			return 0
		}
		return ptr + 1
	}
	return h
}

func (h *fakeHooks) State() vm.State                      { return h.st }
func (h *fakeHooks) CurrentFrame() (vm.Frame, bool)        { return h.frame, h.hasFrame }
func (h *fakeHooks) PreviousFrame() (vm.Frame, bool)       { return h.prev, h.hasPrev }
func (h *fakeHooks) Allocator() (vm.AllocFunc, uintptr)    { return h.allocator, h.allocSt }
func (h *fakeHooks) SetAllocator(fn vm.AllocFunc, st uintptr) {
	h.allocator, h.allocSt = fn, st
}
func (h *fakeHooks) WalkGCRoots(yield func(vm.Prototype)) {}
func (h *fakeHooks) WalkTraces(yield func(vm.Trace))      {}
func (h *fakeHooks) CurrentTrace() (vm.Trace, bool)       { return h.trace, h.hasTrace }
func (h *fakeHooks) Metrics() metrics.Snapshot            { return metrics.Snapshot{} }

func resetState(t *testing.T) {
	t.Helper()
	mu.Lock()
	state = idle
	hooksRef = nil
	out = nil
	origAlloc = nil
	origState = 0
	onStop = nil
	savedErr = nil
	mu.Unlock()
}

func TestStartStopRoundTrip(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	var sink bytes.Buffer
	stopped := false

	err := Start(hooks, Options{
		Writer: &sink,
		OnStop: func() error { stopped = true; return nil },
	})
	require.Nil(t, err)
	assert.True(t, Running())

	n := hooks.allocator(0, 0, 0, 64)
	assert.NotZero(t, n)

	serr := Stop(hooks)
	require.Nil(t, serr)
	assert.True(t, stopped)
	assert.False(t, Running())
	assert.NotZero(t, sink.Len())
}

func TestStartMissingOptionsReturnsErrUse(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	cbRan := false

	err := Start(hooks, Options{OnStop: func() error { cbRan = true; return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrUse, err.Status)
	assert.True(t, cbRan, "OnStop must still run so the caller doesn't leak resources")
}

func TestStartWhileRunningReturnsErrRun(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	var sink bytes.Buffer
	require.Nil(t, Start(hooks, Options{Writer: &sink, OnStop: func() error { return nil }}))
	defer Stop(hooks)

	secondCleanupRan := false
	err := Start(hooks, Options{Writer: &sink, OnStop: func() error { secondCleanupRan = true; return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrRun, err.Status)
	assert.True(t, secondCleanupRan)
}

func TestStopWhileIdleReturnsErrRun(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	err := Stop(hooks)
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrRun, err.Status)
}

func TestStopWrongVMReturnsErrUse(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	var sink bytes.Buffer
	require.Nil(t, Start(hooks, Options{Writer: &sink, OnStop: func() error { return nil }}))
	defer Stop(hooks)

	other := newFakeHooks()
	err := Stop(other)
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrUse, err.Status)
}

// stoppingWriter returns ErrStopped after allowing n bytes through, modeling
// a sink that deliberately ends the stream mid-run.
type stoppingWriter struct {
	allow int
	n     int
}

func (w *stoppingWriter) Write(p []byte) (int, error) {
	if w.n >= w.allow {
		return 0, wbuf.ErrStopped
	}
	w.n += len(p)
	return len(p), nil
}

func TestAllocHookHaltsThenStopReportsErrIO(t *testing.T) {
	resetState(t)
	hooks := newFakeHooks()
	w := &stoppingWriter{allow: 0}

	// 15 bytes exactly fits the symtab preamble (8 bytes: magic+FINAL) plus
	// the memprof prologue (7 bytes) with zero flushes, so the run reaches
	// the running state before the first Write call happens on the event
	// that follows.
	require.Nil(t, Start(hooks, Options{Buf: make([]byte, 0, 15), OnStop: func() error { return nil }, Writer: w}))

	// Force the sink into STREAM_STOP via a failing allocation event.
	hooks.allocator(0, 0, 0, 128)

	assert.False(t, Running(), "a halted run must not still read as running")

	err := Stop(hooks)
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrIO, err.Status)
}

func TestAddProtoNoOpWhenIdle(t *testing.T) {
	resetState(t)
	// Must not panic even though out is nil: AddProto is a no-op unless running.
	AddProto(vm.Prototype{ID: 1})
	AddTrace(vm.Trace{Number: 1})
}
