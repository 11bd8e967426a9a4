package decode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Itz-Agasta/ljprofile/internal/wire"
)

// AllocEvent is one decoded ALLOC/FREE/REALLOC record, or an inline
// incremental symtab update (Kind == wire.AEventSymtab), from a memprof
// stream.
type AllocEvent struct {
	Kind   uint8 // wire.AEventAlloc/Free/Realloc/Symtab
	Source Source

	OldAddr, OldSize uint64 // Free, Realloc
	NewAddr, NewSize uint64 // Alloc, Realloc

	Sym SymEntry // Kind == AEventSymtab only
}

// MemprofStream is a fully decoded memprof run: its leading symtab
// preamble plus every event recorded before the epilogue.
type MemprofStream struct {
	Preamble Symtab
	Events   []AllocEvent
}

// DecodeMemprofStream reads one complete memprof stream: symtab preamble,
// memprof prologue, zero or more events, and the epilogue byte.
func DecodeMemprofStream(r io.Reader) (MemprofStream, error) {
	br := bufio.NewReader(r)

	preamble, err := DecodeSymtabPreamble(br)
	if err != nil {
		return MemprofStream{}, err
	}
	if err := expectMagic(br, 'l', 'j', 'm', wire.MemprofVersion); err != nil {
		return MemprofStream{}, err
	}

	stream := MemprofStream{Preamble: preamble}
	for {
		hdr, err := br.ReadByte()
		if err != nil {
			if err == io.EOF {
				return stream, fmt.Errorf("decode: memprof stream missing epilogue: %w", io.ErrUnexpectedEOF)
			}
			return MemprofStream{}, err
		}
		if wire.IsFinal(hdr) {
			return stream, nil
		}

		ev, err := decodeAllocEvent(br, hdr)
		if err != nil {
			return MemprofStream{}, err
		}
		stream.Events = append(stream.Events, ev)
	}
}

func decodeAllocEvent(r *bufio.Reader, hdr uint8) (AllocEvent, error) {
	kind := wire.EventKind(hdr)
	ssKind := wire.SourceKind(hdr)

	if kind == wire.AEventSymtab {
		sym, err := decodeSymEntry(r, symKindForSource(ssKind))
		if err != nil {
			return AllocEvent{}, err
		}
		return AllocEvent{Kind: kind, Sym: sym}, nil
	}

	src, err := decodeSource(r, ssKind)
	if err != nil {
		return AllocEvent{}, err
	}
	ev := AllocEvent{Kind: kind, Source: src}

	switch kind {
	case wire.AEventFree:
		if ev.OldAddr, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
		if ev.OldSize, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
	case wire.AEventAlloc:
		if ev.NewAddr, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
		if ev.NewSize, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
	case wire.AEventRealloc:
		if ev.OldAddr, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
		if ev.OldSize, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
		if ev.NewAddr, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
		if ev.NewSize, err = binary.ReadUvarint(r); err != nil {
			return AllocEvent{}, err
		}
	default:
		return AllocEvent{}, fmt.Errorf("decode: unknown memprof event kind %d", kind)
	}
	return ev, nil
}

// symKindForSource maps an incremental AEVENT_SYMTAB entry's SS bits back
// to the symtab entry kind pkg/symtab.EncodeIncrementalLFunc/Trace used
// when writing it (spec.md §4.2): LFUNC and TRACE are the only two kinds
// ever carried inline.
func symKindForSource(ssKind uint8) uint8 {
	if ssKind == wire.ASourceTrace {
		return wire.SymKindTrace
	}
	return wire.SymKindLFunc
}
