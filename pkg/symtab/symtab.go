// Package symtab emits the symtab preamble (C2): one entry per live
// prototype and JIT trace, optionally followed by native-function entries
// contributed by pkg/elfsym, terminated by FINAL. It also exposes the two
// incremental-entry encoders pkg/memprof calls inline in its own event
// stream when a new prototype or trace is born during profiling (spec.md
// §4.2's "incremental updates"). Grounded on lj_memprof.c's dump_symtab.
package symtab

import (
	"github.com/Itz-Agasta/ljprofile/internal/wire"
	"github.com/Itz-Agasta/ljprofile/pkg/vm"
	"github.com/Itz-Agasta/ljprofile/pkg/wbuf"
)

// NativeSymbol is one resolved native function, contributed by an optional
// resolver such as pkg/elfsym. Kept in this package (rather than re-used
// from elfsym) so symtab has no dependency on the platform-specific
// resolver; elfsym depends on symtab, not the reverse.
type NativeSymbol struct {
	Addr uint64
	Name string
}

// WritePreamble writes the symtab prologue, one LFUNC entry per live
// prototype and one TRACE entry per live JIT trace (via hooks.WalkGCRoots/
// WalkTraces), then one CFUNC entry per entry in natives, then FINAL.
// natives may be nil — native symbol resolution is optional per spec.md
// §4.3.
func WritePreamble(b *wbuf.Buf, hooks vm.Hooks, natives []NativeSymbol) {
	b.AddRaw(wire.SymtabPrologue[:])

	hooks.WalkGCRoots(func(pt vm.Prototype) {
		writeLFuncEntry(b, pt)
	})
	hooks.WalkTraces(func(tr vm.Trace) {
		writeTraceEntry(b, tr)
	})
	for _, sym := range natives {
		writeCFuncEntry(b, sym)
	}

	b.AddByte(wire.SymFinal)
}

func writeLFuncEntry(b *wbuf.Buf, pt vm.Prototype) {
	b.AddByte(wire.SymKindLFunc)
	b.AddUint64(pt.ID)
	b.AddString(pt.ChunkName)
	b.AddUint64(pt.FirstLine)
}

func writeTraceEntry(b *wbuf.Buf, tr vm.Trace) {
	b.AddByte(wire.SymKindTrace)
	b.AddUint64(tr.Number)
	b.AddUint64(tr.StartProtoID)
	b.AddUint64(tr.StartLine)
}

func writeCFuncEntry(b *wbuf.Buf, sym NativeSymbol) {
	b.AddByte(wire.SymKindCFunc)
	b.AddUint64(sym.Addr)
	b.AddString(sym.Name)
}

// EncodeIncrementalLFunc writes an AEVENT_SYMTAB|ASOURCE_LFUNC entry inline
// in the memprof event stream, called when the VM notifies the profiler of
// a newly created prototype (vm.Hooks-side: the embedding VM calls
// pkg/memprof.AddProto, which in turn calls this). Guarantees the id is
// resolvable at or before its first reference, per spec.md §4.2.
func EncodeIncrementalLFunc(b *wbuf.Buf, pt vm.Prototype) {
	b.AddByte(wire.AEventSymtab | wire.ASourceLFunc)
	b.AddUint64(pt.ID)
	b.AddString(pt.ChunkName)
	b.AddUint64(pt.FirstLine)
}

// EncodeIncrementalTrace writes an AEVENT_SYMTAB|ASOURCE_TRACE entry inline
// in the memprof event stream for a newly created trace.
func EncodeIncrementalTrace(b *wbuf.Buf, tr vm.Trace) {
	b.AddByte(wire.AEventSymtab | wire.ASourceTrace)
	b.AddUint64(tr.Number)
	b.AddUint64(tr.StartProtoID)
	b.AddUint64(tr.StartLine)
}
