// Package wire holds the byte-level constants shared by the symtab and
// memprof/sysprof encoders (pkg/symtab, pkg/memprof, pkg/sysprof) and their
// decode-side counterpart (pkg/decode). Keeping the bit layout in one place
// means the producer and consumer can never drift apart.
package wire

// Stream prologue/epilogue magic. Each is 7 bytes: three tag bytes, a
// version byte, and three reserved zero bytes.
var (
	SymtabPrologue  = [7]byte{'l', 'j', 's', SymtabVersion, 0, 0, 0}
	MemprofPrologue = [7]byte{'l', 'j', 'm', MemprofVersion, 0, 0, 0}
	SysprofPrologue = [7]byte{'l', 'j', 'p', SysprofVersion, 0, 0, 0}
)

const (
	SymtabVersion  = 0x01
	MemprofVersion = 0x01
	SysprofVersion = 0x01
)

// Symtab entry header: [F|UUUUU|TT], hi -> lo. TT is the 2-bit entry type,
// F marks the terminal FINAL entry.
const (
	SymKindLFunc uint8 = 0
	SymKindTrace uint8 = 2
	SymKindCFunc uint8 = 3

	SymFinal uint8 = 0x80
)

// Memprof event header: [F|UUU|SS|EE], hi -> lo. EE is the event kind, SS
// the source kind (when EE is AEventSymtab, SS instead tells an inline
// LFUNC entry from a TRACE entry), F marks the epilogue.
const (
	AEventSymtab  uint8 = 0
	AEventAlloc   uint8 = 1
	AEventFree    uint8 = 2
	AEventRealloc uint8 = AEventAlloc | AEventFree

	ASourceInt   uint8 = 1 << 2
	ASourceLFunc uint8 = 2 << 2
	ASourceCFunc uint8 = 3 << 2
	ASourceTrace uint8 = 0 << 2 // trace source; with AEventSymtab, an inline TRACE entry

	EpilogueHeader uint8 = 0x80

	eeMask uint8 = 0x03
	ssMask uint8 = 0x0c
)

// EventKind extracts the EE bits from a memprof/sysprof event header.
func EventKind(header uint8) uint8 { return header & eeMask }

// SourceKind extracts the SS bits from a memprof/sysprof event header.
func SourceKind(header uint8) uint8 { return header & ssMask }

// IsFinal reports whether the F bit is set (symtab FINAL / epilogue).
func IsFinal(header uint8) bool { return header&0x80 != 0 }

// A sysprof per-sample record starts with the VM state tag, ULEB128-encoded,
// followed by one source header byte (reusing the source-kind bits above)
// and its payload per frame, so callgraph records (a variable-length frame
// list) don't have to steal bits from a fixed header.
const (
	SysModeDefault   uint8 = 0
	SysModeLeaf      uint8 = 1
	SysModeCallgraph uint8 = 2

	// FrameListEnd terminates the frame sequence of a CALLGRAPH record.
	FrameListEnd uint8 = 0xff
)
