// Package vm defines the VM-facing hook contract the profilers are built
// against (spec §6). Nothing in this package talks to a real VM; it exists
// so pkg/memprof, pkg/sysprof and pkg/symtab can be written once against an
// interface and exercised against small in-process fakes (the tests' own
// fakeHooks types, and internal/fakevm for cmd/ljdemo), with a real
// embedding VM (e.g. a cgo-wrapped LuaJIT) implementing the same contract
// as an out-of-tree adapter.
package vm

import "github.com/Itz-Agasta/ljprofile/pkg/metrics"

// State is the VM's current execution state, classified into the fixed
// enumeration spec.md §3/§4.4 requires. Values from StateTrace upward all
// collapse to StateTrace at the classification boundary (lj_memprof.c's
// memprof_write_caller clamps vmstate at LJ_VMST_TRACE the same way).
type State uint32

const (
	StateInterp State = iota
	StateLFunc
	StateFFunc
	StateCFunc
	StateGC
	StateExit
	StateRecord
	StateOpt
	StateASM
	StateTrace
)

// Clamped returns s, or StateTrace if s is at or beyond it. Use this at any
// boundary that must preserve the "collapse to TRACE" invariant even if an
// adapter reports a state value past the known enumeration.
func (s State) Clamped() State {
	if s >= StateTrace {
		return StateTrace
	}
	return s
}

func (s State) String() string {
	switch s {
	case StateInterp:
		return "INTERP"
	case StateLFunc:
		return "LFUNC"
	case StateFFunc:
		return "FFUNC"
	case StateCFunc:
		return "CFUNC"
	case StateGC:
		return "GC"
	case StateExit:
		return "EXIT"
	case StateRecord:
		return "RECORD"
	case StateOpt:
		return "OPT"
	case StateASM:
		return "ASM"
	case StateTrace:
		return "TRACE"
	default:
		return "UNKNOWN"
	}
}

// FuncKind distinguishes the three callable shapes a Function can take.
type FuncKind uint8

const (
	FuncLua FuncKind = iota
	FuncFast
	FuncC
)

// Prototype is a live compiled representation of a source-level function,
// identified by a stable handle (in a real VM, a pointer value) for its
// lifetime. See spec.md's GLOSSARY.
type Prototype struct {
	ID        uint64
	ChunkName string
	FirstLine uint64
}

// Trace is a JIT-compiled linear region of recorded execution, identified
// by a small integer trace number. JIT-only; absent in non-JIT builds.
type Trace struct {
	Number       uint64
	StartProtoID uint64
	StartLine    uint64
}

// Function names one callable value. Proto is non-nil only when Kind is
// FuncLua; NativeAddr is meaningful when Kind is FuncFast or FuncC.
type Function struct {
	Kind       FuncKind
	Proto      *Prototype
	NativeAddr uint64
}

// Frame is one activation record on the VM's call stack.
type Frame struct {
	Fn      Function
	Line    uint64
	HasLine bool // false means "no active bytecode position" (BC_NOPOS)
}

// AllocFunc is the VM's allocator entry point: given the allocator's own
// opaque state, the previous pointer (0 for a fresh allocation), the old
// and new sizes, it performs the allocation/reallocation/free and returns
// the resulting address (0 for a free). Addresses are modeled as uintptr
// and sizes as uint64, never as unsafe.Pointer, because the profiler never
// dereferences them — it only ever records them.
type AllocFunc func(state uintptr, ptr uintptr, oldSize, newSize uint64) uintptr

// Backtracer walks the VM stack top to bottom for a CALLGRAPH sample,
// appending frames to dst and returning the extended slice. A nil
// Backtracer (or one that appends nothing) degrades sysprof's CALLGRAPH
// mode to behave like LEAF, per spec.md §4.5.
type Backtracer func(dst []Frame) []Frame

// Hooks is the full VM-facing surface spec.md §6 lists. An embedding VM
// implements this once; pkg/memprof, pkg/sysprof and pkg/symtab consume it
// without knowing anything about the concrete VM.
type Hooks interface {
	// State returns the VM's current execution state.
	State() State

	// CurrentFrame returns the topmost activation, if any are live.
	CurrentFrame() (Frame, bool)

	// PreviousFrame returns the activation below the current one. Used
	// only when classifying a FuncFast caller (spec.md §4.4 step 3).
	PreviousFrame() (Frame, bool)

	// Allocator returns the VM's currently installed allocator and its
	// opaque state pointer.
	Allocator() (AllocFunc, uintptr)

	// SetAllocator installs a replacement allocator, atomically from the
	// VM's point of view (the VM must not call the old allocator
	// concurrently with this call). It returns nothing; callers read the
	// previous allocator with Allocator first.
	SetAllocator(fn AllocFunc, state uintptr)

	// WalkGCRoots calls yield once per live prototype reachable from the
	// VM's GC root list, for the initial symtab dump. Order is
	// unspecified; the decoder joins by ID, not position.
	WalkGCRoots(yield func(Prototype))

	// WalkTraces calls yield once per live JIT trace, for the initial
	// symtab dump. No-op on non-JIT builds/VMs.
	WalkTraces(yield func(Trace))

	// CurrentTrace returns the JIT trace presently executing, when State
	// reports StateTrace (or any state that clamps to it). Used to
	// attribute an allocation to its originating trace per spec.md
	// §4.4 step 3's TRACE case.
	CurrentTrace() (Trace, bool)

	// Metrics returns the VM's current metrics snapshot (spec.md §6).
	Metrics() metrics.Snapshot
}
