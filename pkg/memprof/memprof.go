// Package memprof implements the memory-allocation profiler (C4): it
// intercepts the VM's allocator, classifies the caller against the VM's
// current execution state, and emits one ALLOC/REALLOC/FREE record per
// call, preceded by a symtab preamble and punctuated by incremental symtab
// entries for prototypes/traces born during profiling.
//
// Ported from lj_memprof.c's memprof_allocf/memprof_write_caller/
// lj_memprof_start/lj_memprof_stop. There is exactly one memprof instance
// per process (spec.md §3's singleton invariant: the VM's allocator slot
// is itself a singleton, so an unexported package-level state word models
// this honestly instead of adding an indirection nothing else could use).
package memprof

import (
	"io"
	"sync"

	"github.com/Itz-Agasta/ljprofile/internal/classify"
	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/profiler"
	"github.com/Itz-Agasta/ljprofile/pkg/symtab"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

// Options configures a Start call.
type Options struct {
	// Writer is the sink for the encoded byte stream. Required.
	Writer io.Writer
	// Buf is an optional preallocated accumulator; wbuf.DefaultSize is
	// used when nil.
	Buf []byte
	// Natives optionally contributes CFUNC entries to the symtab
	// preamble (e.g. from pkg/elfsym). May be nil.
	Natives []symtab.NativeSymbol
	// OnStop is invoked exactly once, at the matching Stop or at a
	// failed Start, to release caller-owned resources. Required.
	OnStop func() error
}

type lifecycle uint32

const (
	idle lifecycle = iota
	running
	halted
)

var (
	mu        sync.Mutex
	state     lifecycle
	hooksRef  vm.Hooks
	out       *wbuf.Buf
	origAlloc vm.AllocFunc
	origState uintptr
	onStop    func() error
	savedErr  error
)

// Running reports whether a memprof run is currently active.
func Running() bool {
	mu.Lock()
	defer mu.Unlock()
	return state == running
}

// Start begins profiling hooks's allocator. Fails with ErrUse if a
// required option is missing, ErrRun if a profile is already running (in
// which case opt.OnStop is still invoked so the caller's resources aren't
// leaked), or ErrIO if writing the symtab/prologue fails (in which case
// state is restored to idle and the cause is preserved).
func Start(hooks vm.Hooks, opt Options) *profiler.Error {
	mu.Lock()
	if state != idle {
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrRun, profiler.ErrAlreadyRunning)
	}
	if opt.Writer == nil || opt.OnStop == nil || hooks == nil {
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrUse, profiler.ErrMissingOption)
	}
	mu.Unlock()

	// Unlocked: the symtab preamble and memprof prologue can flush to a
	// sink that blocks, and nothing is published for Running/Report to
	// observe until the buffer is committed below.
	buf := wbuf.New(opt.Writer, opt.Buf)
	symtab.WritePreamble(buf, hooks, opt.Natives)
	buf.AddRaw(wire.MemprofPrologue[:])

	mu.Lock()
	if state != idle {
		mu.Unlock()
		buf.Terminate()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrRun, profiler.ErrAlreadyRunning)
	}
	if buf.Halted() {
		cause := buf.Err()
		buf.Terminate()
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrIO, cause)
	}

	savedErr = nil
	hooksRef = hooks
	onStop = opt.OnStop
	out = buf
	origAlloc, origState = hooks.Allocator()
	hooks.SetAllocator(allocHook, origState)
	state = running

	mu.Unlock()
	return nil
}

// Stop ends profiling. Returns ErrRun if not running, ErrUse if hooks
// names a different VM than the one being profiled, or ErrIO if the sink
// halted mid-run (errno/cause preserved) or fails to flush the epilogue.
func Stop(hooks vm.Hooks) *profiler.Error {
	mu.Lock()

	if state == halted {
		cause := savedErr
		state = idle
		buf := out
		cb := onStop
		mu.Unlock()

		cbErr := runCleanup(cb)
		if buf != nil {
			buf.Terminate()
		}
		if cause == nil {
			cause = cbErr
		}
		return profiler.New(profiler.ErrIO, cause)
	}

	if state != running {
		mu.Unlock()
		return profiler.New(profiler.ErrRun, profiler.ErrNotRunning)
	}
	if hooks != hooksRef {
		mu.Unlock()
		return profiler.New(profiler.ErrUse, profiler.ErrWrongVM)
	}

	state = idle
	hooksRef.SetAllocator(origAlloc, origState)
	buf := out
	cb := onStop
	mu.Unlock()

	// Unlocked: the epilogue byte and its flush can block on a slow sink.
	// The allocator was already restored above, so spec.md §3's
	// single-producer invariant means nothing else still writes to buf.
	if buf.Halted() {
		cause := buf.Err()
		runCleanup(cb)
		buf.Terminate()
		return profiler.New(profiler.ErrIO, cause)
	}

	buf.AddByte(wire.EpilogueHeader)
	buf.Flush()

	cbErr := runCleanup(cb)
	if buf.Halted() || cbErr != nil {
		cause := buf.Err()
		if cause == nil {
			cause = cbErr
		}
		buf.Terminate()
		return profiler.New(profiler.ErrIO, cause)
	}
	buf.Terminate()
	return nil
}

// AddProto notifies memprof that a new prototype was created. No-op
// unless a profile is running. The embedding VM is expected to call this
// unconditionally from its prototype constructor.
func AddProto(pt vm.Prototype) {
	mu.Lock()
	if state != running {
		mu.Unlock()
		return
	}
	buf := out
	mu.Unlock()

	// Unlocked: encoding can flush to a blocking sink.
	symtab.EncodeIncrementalLFunc(buf, pt)

	mu.Lock()
	haltIfStopped()
	mu.Unlock()
}

// AddTrace notifies memprof that a new JIT trace was created. No-op
// unless a profile is running.
func AddTrace(tr vm.Trace) {
	mu.Lock()
	if state != running {
		mu.Unlock()
		return
	}
	buf := out
	mu.Unlock()

	// Unlocked: encoding can flush to a blocking sink.
	symtab.EncodeIncrementalTrace(buf, tr)

	mu.Lock()
	haltIfStopped()
	mu.Unlock()
}

// allocHook wraps the VM's original allocator: delegate first, classify
// and emit second, check for a sink stop last. Per spec.md §9's design
// note, the original allocator is restored before any further code that
// could itself allocate (here: before returning control to the VM).
func allocHook(state uintptr, ptr uintptr, oldSize, newSize uint64) uintptr {
	mu.Lock()
	hooks := hooksRef
	orig := origAlloc
	buf := out
	mu.Unlock()

	nptr := orig(state, ptr, oldSize, newSize)

	// Unlocked: classification is pure, and encoding the event can flush
	// to a blocking sink. spec.md §3's single-producer invariant means no
	// other goroutine writes to buf while this one does.
	src := classify.Caller(hooks)
	switch {
	case newSize == 0:
		writeEvent(buf, wire.AEventFree, src, ptr, oldSize, 0, 0)
	case ptr == 0:
		writeEvent(buf, wire.AEventAlloc, src, 0, 0, nptr, newSize)
	default:
		writeEvent(buf, wire.AEventRealloc, src, ptr, oldSize, nptr, newSize)
	}

	mu.Lock()
	haltIfStopped()
	mu.Unlock()

	return nptr
}

// haltIfStopped must be called with mu held. It implements the HALT
// transition: if the sink has entered STREAM_STOP, restore the original
// allocator immediately (so no further allocation is intercepted) and
// move to the halted state, leaving cleanup to the next explicit Stop
// call so its cause can still be reported there (spec.md §3's lifecycle:
// "moves to HALT ... so that the next stop call can report the preserved
// errno").
func haltIfStopped() {
	if state != running || !out.Halted() {
		return
	}
	hooksRef.SetAllocator(origAlloc, origState)
	savedErr = out.Err()
	state = halted
}

func writeEvent(out *wbuf.Buf, kind uint8, src classify.Source, oldAddr, oldSize, newAddr, newSize uint64) {
	out.AddByte(kind | src.HeaderBits())
	src.WritePayload(out)
	switch kind {
	case wire.AEventFree:
		out.AddUint64(oldAddr)
		out.AddUint64(oldSize)
	case wire.AEventAlloc:
		out.AddUint64(newAddr)
		out.AddUint64(newSize)
	case wire.AEventRealloc:
		out.AddUint64(oldAddr)
		out.AddUint64(oldSize)
		out.AddUint64(newAddr)
		out.AddUint64(newSize)
	}
}

func runCleanup(cb func() error) error {
	if cb == nil {
		return nil
	}
	return cb()
}
