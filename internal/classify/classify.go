// Package classify implements the caller-classification algorithm spec.md
// §4.4 describes for memprof and §4.5 reuses verbatim for sysprof's LEAF
// and CALLGRAPH top-frame source. Kept in one place so both profilers
// agree on what "the current allocation/sample site" means.
package classify

import (
	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

// Kind is the resolved source tag (spec.md §3's tagged union).
type Kind uint8

const (
	Int Kind = iota
	LFunc
	CFunc
	Trace
)

// Source is the fully resolved allocation/sample source.
type Source struct {
	Kind       Kind
	ProtoID    uint64 // valid when Kind == LFunc
	Line       uint64 // valid when Kind == LFunc
	NativeAddr uint64 // valid when Kind == CFunc
	TraceNo    uint64 // valid when Kind == Trace
}

// Caller resolves hooks' current execution context into a Source,
// implementing spec.md §4.4 steps 2-3 in full:
//
//   - LFUNC: topmost activation; Internal if no debug position.
//   - FFUNC: if the previous activation is a Lua function, attribute to
//     it (more useful for call-site aggregation); otherwise attribute to
//     the fast function's own native entry point.
//   - CFUNC: the native entry point.
//   - INTERP/GC/EXIT/RECORD/OPT/ASM: Internal.
//   - TRACE: the currently executing trace's number.
func Caller(hooks vm.Hooks) Source {
	switch hooks.State().Clamped() {
	case vm.StateLFunc:
		frame, ok := hooks.CurrentFrame()
		if !ok {
			return Source{Kind: Int}
		}
		return lfuncSource(frame)

	case vm.StateFFunc:
		if prev, ok := hooks.PreviousFrame(); ok && prev.Fn.Kind == vm.FuncLua {
			return lfuncSource(prev)
		}
		frame, ok := hooks.CurrentFrame()
		if !ok {
			return Source{Kind: Int}
		}
		return Source{Kind: CFunc, NativeAddr: frame.Fn.NativeAddr}

	case vm.StateCFunc:
		frame, ok := hooks.CurrentFrame()
		if !ok {
			return Source{Kind: Int}
		}
		return Source{Kind: CFunc, NativeAddr: frame.Fn.NativeAddr}

	case vm.StateTrace:
		tr, ok := hooks.CurrentTrace()
		if !ok {
			return Source{Kind: Int}
		}
		return Source{Kind: Trace, TraceNo: tr.Number}

	default: // StateInterp, StateGC, StateExit, StateRecord, StateOpt, StateASM
		return Source{Kind: Int}
	}
}

// FrameSource classifies a single stack frame in isolation, independent of
// the VM's current execution state. Used by sysprof's CALLGRAPH mode to
// classify every backtraced frame the same way memprof classifies the
// current allocation site (spec.md §4.5 mandates "the same classification
// rules as §4.4").
func FrameSource(f vm.Frame) Source {
	if f.Fn.Kind == vm.FuncLua {
		return lfuncSource(f)
	}
	return Source{Kind: CFunc, NativeAddr: f.Fn.NativeAddr}
}

func lfuncSource(frame vm.Frame) Source {
	if !frame.HasLine || frame.Fn.Proto == nil {
		return Source{Kind: Int}
	}
	return Source{Kind: LFunc, ProtoID: frame.Fn.Proto.ID, Line: frame.Line}
}

// HeaderBits returns the SS bits (already shifted) to OR into an event
// header alongside an EE (event-kind) value.
func (s Source) HeaderBits() uint8 {
	switch s.Kind {
	case Int:
		return wire.ASourceInt
	case LFunc:
		return wire.ASourceLFunc
	case CFunc:
		return wire.ASourceCFunc
	case Trace:
		return wire.ASourceTrace
	default:
		return wire.ASourceInt
	}
}

// WritePayload writes the source's payload (nothing for Int) to b.
func (s Source) WritePayload(b *wbuf.Buf) {
	switch s.Kind {
	case LFunc:
		b.AddUint64(s.ProtoID)
		b.AddUint64(s.Line)
	case CFunc:
		b.AddUint64(s.NativeAddr)
	case Trace:
		b.AddUint64(s.TraceNo)
	}
}
