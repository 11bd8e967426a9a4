// Package sysprof implements the sampling system profiler (C5): a tick
// handler invoked synchronously on the profiled thread (by a host-delivered
// signal or timer) that always updates per-state counters and, in LEAF or
// CALLGRAPH mode, additionally emits one record per tick. Ported from
// lj_sysprof.c's sysprof_tick/sysprof_add_backtrace/sysprof_record_sample.
package sysprof

import (
	"io"
	"sync"

	"github.com/Itz-Agasta/ljprofile/internal/classify"
	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/profiler"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

// Mode selects what a tick produces besides the counter update.
type Mode uint8

const (
	// Default maintains counters only; no stream output.
	Default Mode = iota
	// Leaf emits one record per tick: the VM state plus the top frame's
	// classified source.
	Leaf
	// Callgraph emits one record per tick: the VM state plus the full
	// frame list from Options.Backtracer, top to bottom. Degrades to Leaf
	// behavior when Backtracer is nil or returns no frames.
	Callgraph
)

func (m Mode) valid() bool { return m == Default || m == Leaf || m == Callgraph }

// Counters partitions every tick by the VM's execution state at sample
// time. Samples always equals the sum of the ten VMState fields (spec.md
// §4.5's counters invariant), in every mode.
type Counters struct {
	Samples    uint64
	VMSTInterp uint64
	VMSTLFunc  uint64
	VMSTFFunc  uint64
	VMSTCFunc  uint64
	VMSTGC     uint64
	VMSTExit   uint64
	VMSTRecord uint64
	VMSTOpt    uint64
	VMSTASM    uint64
	VMSTTrace  uint64
}

// Options configures a Start call. Writer/Buf/Backtracer are meaningful
// only for Leaf/Callgraph; spec.md's separate "configure once" step is
// collapsed into this single call, since Go has no equivalent to a
// process-wide configuration struct set up before the first start.
type Options struct {
	Mode       Mode
	IntervalMS uint64
	Writer     io.Writer
	Buf        []byte
	Backtracer vm.Backtracer
	OnStop     func() error
}

type lifecycle uint32

const (
	idle lifecycle = iota
	running
	halted
)

var (
	mu         sync.Mutex
	state      lifecycle
	mode       Mode
	hooksRef   vm.Hooks
	backtracer vm.Backtracer
	out        *wbuf.Buf
	onStop     func() error
	savedErr   error
	counters   Counters
	frameBuf   []vm.Frame
)

// Running reports whether a sysprof run is currently active.
func Running() bool {
	mu.Lock()
	defer mu.Unlock()
	return state == running
}

// Start begins sampling. Fails with ErrUse for an unknown mode, a nil
// Writer in a non-Default mode, or IntervalMS < 1; ErrRun if already
// running; ErrIO if the prologue write fails for a streaming mode.
func Start(hooks vm.Hooks, opt Options) *profiler.Error {
	mu.Lock()
	if state != idle {
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrRun, profiler.ErrAlreadyRunning)
	}
	if !opt.Mode.valid() || opt.IntervalMS < 1 || hooks == nil || opt.OnStop == nil {
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrUse, profiler.ErrMissingOption)
	}
	if opt.Mode != Default && opt.Writer == nil {
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrUse, profiler.ErrMissingOption)
	}
	mu.Unlock()

	// Unlocked: the sysprof prologue can flush to a blocking sink, and
	// nothing is published for Running/Report to observe until the buffer
	// is committed below.
	var buf *wbuf.Buf
	if opt.Mode != Default {
		buf = wbuf.New(opt.Writer, opt.Buf)
		buf.AddRaw(wire.SysprofPrologue[:])
	}

	mu.Lock()
	if state != idle {
		mu.Unlock()
		if buf != nil {
			buf.Terminate()
		}
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrRun, profiler.ErrAlreadyRunning)
	}
	if buf != nil && buf.Halted() {
		cause := buf.Err()
		buf.Terminate()
		mu.Unlock()
		runCleanup(opt.OnStop)
		return profiler.New(profiler.ErrIO, cause)
	}

	savedErr = nil
	hooksRef = hooks
	onStop = opt.OnStop
	mode = opt.Mode
	backtracer = opt.Backtracer
	counters = Counters{}
	frameBuf = frameBuf[:0]
	out = buf
	state = running
	mu.Unlock()
	return nil
}

// Tick runs one sample. No-op if not currently running (late or spurious
// ticks after Stop are silently dropped, per spec.md's "late ticks are
// dropped" scheduling contract).
func Tick(hooks vm.Hooks) {
	mu.Lock()
	if state != running || hooks != hooksRef {
		mu.Unlock()
		return
	}

	st := hooks.State()
	bump(&counters, st)

	if mode == Default {
		mu.Unlock()
		return
	}
	buf := out
	bt := backtracer
	m := mode
	mu.Unlock()

	// Unlocked: encoding the record can flush to a blocking sink. spec.md
	// §3's single-producer invariant means no other goroutine writes to
	// buf while this one does.
	buf.AddUint64(uint64(st))
	switch m {
	case Leaf:
		src := classify.Caller(hooks)
		buf.AddByte(src.HeaderBits())
		src.WritePayload(buf)
	case Callgraph:
		writeCallgraph(buf, bt, hooks)
	}

	mu.Lock()
	if buf.Halted() {
		savedErr = buf.Err()
		state = halted
	}
	mu.Unlock()
}

func writeCallgraph(buf *wbuf.Buf, bt vm.Backtracer, hooks vm.Hooks) {
	frameBuf = frameBuf[:0]
	if bt != nil {
		frameBuf = bt(frameBuf)
	}
	if len(frameBuf) == 0 {
		// No backtracer, or it walked nothing: degrade to Leaf (spec.md
		// §4.5's explicit fallback).
		src := classify.Caller(hooks)
		buf.AddByte(src.HeaderBits())
		src.WritePayload(buf)
		buf.AddByte(wire.FrameListEnd)
		return
	}
	for _, f := range frameBuf {
		src := classify.FrameSource(f)
		buf.AddByte(src.HeaderBits())
		src.WritePayload(buf)
	}
	buf.AddByte(wire.FrameListEnd)
}

func bump(c *Counters, st vm.State) {
	c.Samples++
	switch st.Clamped() {
	case vm.StateInterp:
		c.VMSTInterp++
	case vm.StateLFunc:
		c.VMSTLFunc++
	case vm.StateFFunc:
		c.VMSTFFunc++
	case vm.StateCFunc:
		c.VMSTCFunc++
	case vm.StateGC:
		c.VMSTGC++
	case vm.StateExit:
		c.VMSTExit++
	case vm.StateRecord:
		c.VMSTRecord++
	case vm.StateOpt:
		c.VMSTOpt++
	case vm.StateASM:
		c.VMSTASM++
	case vm.StateTrace:
		c.VMSTTrace++
	}
}

// Stop ends sampling. Returns ErrRun if not running, ErrUse if hooks names
// a different VM, or ErrIO if the stream halted mid-run, fails to flush its
// epilogue, or OnStop returns an error (in Default mode, having no stream,
// only a failing OnStop produces ErrIO). Counters remain readable via
// Report after Stop returns, successfully or not.
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
	m := mode
	buf := out
	cb := onStop
	mu.Unlock()

	if m == Default {
		if err := runCleanup(cb); err != nil {
			return profiler.New(profiler.ErrIO, err)
		}
		return nil
	}

	// Unlocked: the epilogue byte and its flush can block on a slow sink.
	// spec.md §3's single-producer invariant means nothing else still
	// writes to buf once Stop has taken over the running slot above.
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

// Report returns the current counters. Valid at any time, including after
// Stop, per spec.md §4.5.
func Report() Counters {
	mu.Lock()
	defer mu.Unlock()
	return counters
}

func runCleanup(cb func() error) error {
	if cb == nil {
		return nil
	}
	return cb()
}
