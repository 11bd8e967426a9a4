// Package fakevm is a small, deterministic in-memory implementation of
// vm.Hooks. It stands in for a real embedding VM (a cgo-wrapped LuaJIT)
// so pkg/memprof, pkg/sysprof and pkg/symtab can be exercised by
// cmd/ljdemo without one. The package tests use their own small
// vm.Hooks fakes instead.
package fakevm

import (
	"sync"

	"github.com/Itz-Agasta/ljprofile/pkg/metrics"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
)

// VM is a toy call stack plus a toy bump allocator. Every mutating method
// is safe for concurrent use since a real embedding VM calls into its
// hooks from arbitrary threads (e.g. a signal handler delivering a
// sysprof tick while the main thread is mid-allocation).
type VM struct {
	mu sync.Mutex

	state  vm.State
	frames []vm.Frame

	protos []vm.Prototype
	traces []vm.Trace
	trace  vm.Trace
	inTrace bool

	allocFn  vm.AllocFunc
	allocSt  uintptr
	nextAddr uint64
	snapshot metrics.Snapshot
}

// New returns a VM parked in StateInterp with an empty call stack and a
// default pass-through allocator.
func New() *VM {
	v := &VM{state: vm.StateInterp}
	v.allocFn = func(state uintptr, ptr uintptr, oldSize, newSize uint64) uintptr {
		if newSize == 0 {
			return 0
		}
		v.nextAddr++
		return uintptr(v.nextAddr)
	}
	return v
}

// SetState changes the VM's reported execution state, as if the
// interpreter had transitioned into a new phase.
func (v *VM) SetState(s vm.State) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.state = s
}

// PushFrame simulates a call, making f the new topmost activation.
func (v *VM) PushFrame(f vm.Frame) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.frames = append(v.frames, f)
}

// PopFrame simulates a return.
func (v *VM) PopFrame() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.frames) > 0 {
		v.frames = v.frames[:len(v.frames)-1]
	}
}

// DefineProto registers a new prototype with the next sequential id and
// adds it to the GC root walk.
func (v *VM) DefineProto(chunk string, firstLine uint64) vm.Prototype {
	v.mu.Lock()
	defer v.mu.Unlock()
	pt := vm.Prototype{ID: uint64(len(v.protos)) + 1, ChunkName: chunk, FirstLine: firstLine}
	v.protos = append(v.protos, pt)
	return pt
}

// DefineTrace registers a new JIT trace with the next sequential number.
func (v *VM) DefineTrace(startProto vm.Prototype, startLine uint64) vm.Trace {
	v.mu.Lock()
	defer v.mu.Unlock()
	tr := vm.Trace{Number: uint64(len(v.traces)) + 1, StartProtoID: startProto.ID, StartLine: startLine}
	v.traces = append(v.traces, tr)
	return tr
}

// EnterTrace marks tr as the currently executing trace and sets state to
// StateTrace.
func (v *VM) EnterTrace(tr vm.Trace) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.trace, v.inTrace, v.state = tr, true, vm.StateTrace
}

// ExitTrace clears the currently executing trace.
func (v *VM) ExitTrace() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inTrace = false
}

// Alloc drives the currently installed allocator as the VM itself would:
// a real allocation site calling into whatever hook memprof has installed.
func (v *VM) Alloc(ptr, oldSize, newSize uint64) uint64 {
	v.mu.Lock()
	fn, st := v.allocFn, v.allocSt
	v.mu.Unlock()
	return uint64(fn(st, uintptr(ptr), oldSize, newSize))
}

// SetMetrics overrides the snapshot Metrics() returns, for demos/tests
// that want specific counter values.
func (v *VM) SetMetrics(s metrics.Snapshot) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.snapshot = s
}

func (v *VM) State() vm.State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

func (v *VM) CurrentFrame() (vm.Frame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.frames) == 0 {
		return vm.Frame{}, false
	}
	return v.frames[len(v.frames)-1], true
}

func (v *VM) PreviousFrame() (vm.Frame, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.frames) < 2 {
		return vm.Frame{}, false
	}
	return v.frames[len(v.frames)-2], true
}

func (v *VM) Allocator() (vm.AllocFunc, uintptr) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allocFn, v.allocSt
}

func (v *VM) SetAllocator(fn vm.AllocFunc, state uintptr) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.allocFn, v.allocSt = fn, state
}

func (v *VM) WalkGCRoots(yield func(vm.Prototype)) {
	v.mu.Lock()
	protos := append([]vm.Prototype(nil), v.protos...)
	v.mu.Unlock()
	for _, pt := range protos {
		yield(pt)
	}
}

func (v *VM) WalkTraces(yield func(vm.Trace)) {
	v.mu.Lock()
	traces := append([]vm.Trace(nil), v.traces...)
	v.mu.Unlock()
	for _, tr := range traces {
		yield(tr)
	}
}

func (v *VM) CurrentTrace() (vm.Trace, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.trace, v.inTrace
}

func (v *VM) Metrics() metrics.Snapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.snapshot
}
