package sysprof

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Itz-Agasta/ljprofile/pkg/metrics"
	"github.com/Itz-Agasta/ljprofile/pkg/profiler"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
)

type fakeHooks struct {
	st vm.State
}

func (h *fakeHooks) State() vm.State                         { return h.st }
func (h *fakeHooks) CurrentFrame() (vm.Frame, bool)           { return vm.Frame{}, false }
func (h *fakeHooks) PreviousFrame() (vm.Frame, bool)          { return vm.Frame{}, false }
func (h *fakeHooks) Allocator() (vm.AllocFunc, uintptr)       { return nil, 0 }
func (h *fakeHooks) SetAllocator(fn vm.AllocFunc, st uintptr) {}
func (h *fakeHooks) WalkGCRoots(yield func(vm.Prototype))     {}
func (h *fakeHooks) WalkTraces(yield func(vm.Trace))          {}
func (h *fakeHooks) CurrentTrace() (vm.Trace, bool)           { return vm.Trace{}, false }
func (h *fakeHooks) Metrics() metrics.Snapshot                { return metrics.Snapshot{} }

func resetState(t *testing.T) {
	t.Helper()
	mu.Lock()
	state = idle
	mode = Default
	hooksRef = nil
	backtracer = nil
	out = nil
	onStop = nil
	savedErr = nil
	counters = Counters{}
	frameBuf = nil
	mu.Unlock()
}

func TestDefaultModeCountsWithoutStream(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{st: vm.StateInterp}
	require.Nil(t, Start(hooks, Options{Mode: Default, IntervalMS: 10, OnStop: func() error { return nil }}))

	for i := 0; i < 5; i++ {
		Tick(hooks)
	}
	hooks.st = vm.StateGC
	Tick(hooks)

	require.Nil(t, Stop(hooks))

	c := Report()
	assert.EqualValues(t, 6, c.Samples)
	assert.EqualValues(t, 5, c.VMSTInterp)
	assert.EqualValues(t, 1, c.VMSTGC)
	assertPartition(t, c)
}

func TestReportReadableAfterStop(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{st: vm.StateLFunc}
	require.Nil(t, Start(hooks, Options{Mode: Default, IntervalMS: 1, OnStop: func() error { return nil }}))
	Tick(hooks)
	require.Nil(t, Stop(hooks))
	assert.EqualValues(t, 1, Report().Samples)
}

func TestLeafModeEmitsOneRecordPerTick(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{st: vm.StateInterp}
	var sink bytes.Buffer
	require.Nil(t, Start(hooks, Options{
		Mode: Leaf, IntervalMS: 1, Writer: &sink, OnStop: func() error { return nil },
	}))
	Tick(hooks)
	Tick(hooks)
	require.Nil(t, Stop(hooks))
	assert.NotZero(t, sink.Len())
}

func TestCallgraphWithoutBacktracerDegradesToLeaf(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{st: vm.StateInterp}
	var sink bytes.Buffer
	require.Nil(t, Start(hooks, Options{
		Mode: Callgraph, IntervalMS: 1, Writer: &sink, OnStop: func() error { return nil },
	}))
	Tick(hooks)
	require.Nil(t, Stop(hooks))
	assert.NotZero(t, sink.Len())
}

func TestStartValidation(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{}

	err := Start(hooks, Options{Mode: Mode(0x40), IntervalMS: 10, OnStop: func() error { return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrUse, err.Status)

	err = Start(hooks, Options{Mode: Callgraph, IntervalMS: 10, OnStop: func() error { return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrUse, err.Status)

	err = Start(hooks, Options{Mode: Default, IntervalMS: 0, OnStop: func() error { return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrUse, err.Status)

	require.Nil(t, Start(hooks, Options{Mode: Default, IntervalMS: 11, OnStop: func() error { return nil }}))

	err = Start(hooks, Options{Mode: Default, IntervalMS: 11, OnStop: func() error { return nil }})
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrRun, err.Status)

	require.Nil(t, Stop(hooks))

	err = Stop(hooks)
	require.NotNil(t, err)
	assert.Equal(t, profiler.ErrRun, err.Status)
}

func TestReportInvariantAfterManyTicks(t *testing.T) {
	resetState(t)
	hooks := &fakeHooks{st: vm.StateInterp}
	require.Nil(t, Start(hooks, Options{Mode: Default, IntervalMS: 1, OnStop: func() error { return nil }}))

	states := []vm.State{
		vm.StateInterp, vm.StateLFunc, vm.StateFFunc, vm.StateCFunc, vm.StateGC,
		vm.StateExit, vm.StateRecord, vm.StateOpt, vm.StateASM, vm.StateTrace,
	}
	for i := 0; i < 20; i++ {
		hooks.st = states[i%len(states)]
		Tick(hooks)
	}
	require.Nil(t, Stop(hooks))

	c := Report()
	assert.EqualValues(t, 20, c.Samples)
	assert.Greater(t, int(c.Samples), 1)
	assertPartition(t, c)
}

func assertPartition(t *testing.T, c Counters) {
	t.Helper()
	sum := c.VMSTInterp + c.VMSTLFunc + c.VMSTFFunc + c.VMSTCFunc + c.VMSTGC +
		c.VMSTExit + c.VMSTRecord + c.VMSTOpt + c.VMSTASM + c.VMSTTrace
	assert.Equal(t, c.Samples, sum)
}
