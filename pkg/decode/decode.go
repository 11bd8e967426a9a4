// Package decode is the consumer-side counterpart to pkg/symtab,
// pkg/memprof and pkg/sysprof: it turns the byte streams those packages
// produce back into structured Go values, for tooling (cmd/ljdump) and for
// tests that want to assert on what a producer actually wrote rather than
// re-deriving the wire format by hand.
package decode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Itz-Agasta/ljprofile/internal/wire"
)

// SymEntry is one decoded symtab entry, from either the preamble or an
// incremental update inline in a memprof stream. Only the fields relevant
// to Kind are populated.
type SymEntry struct {
	Kind uint8 // wire.SymKindLFunc, wire.SymKindTrace or wire.SymKindCFunc

	ProtoID   uint64 // LFunc
	ChunkName string // LFunc
	FirstLine uint64 // LFunc

	TraceNo      uint64 // Trace
	StartProtoID uint64 // Trace
	StartLine    uint64 // Trace

	Addr uint64 // CFunc
	Name string // CFunc
}

// Symtab is a decoded preamble: every LFUNC/TRACE/CFUNC entry it carried,
// in stream order.
type Symtab struct {
	Entries []SymEntry
}

// DecodeSymtabPreamble reads one complete symtab stream: magic, zero or
// more entries, and the FINAL terminator. r is left positioned right after
// the terminator, so callers that know a memprof/sysprof stream follows
// can keep reading from the same reader.
func DecodeSymtabPreamble(r *bufio.Reader) (Symtab, error) {
	if err := expectMagic(r, 'l', 'j', 's', wire.SymtabVersion); err != nil {
		return Symtab{}, err
	}

	var tab Symtab
	for {
		hdr, err := r.ReadByte()
		if err != nil {
			return Symtab{}, fmt.Errorf("decode: reading symtab entry header: %w", err)
		}
		if wire.IsFinal(hdr) {
			return tab, nil
		}

		entry, err := decodeSymEntry(r, hdr&0x3)
		if err != nil {
			return Symtab{}, err
		}
		tab.Entries = append(tab.Entries, entry)
	}
}

func decodeSymEntry(r *bufio.Reader, kind uint8) (SymEntry, error) {
	switch kind {
	case wire.SymKindLFunc:
		id, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		name, err := readString(r)
		if err != nil {
			return SymEntry{}, err
		}
		first, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		return SymEntry{Kind: kind, ProtoID: id, ChunkName: name, FirstLine: first}, nil

	case wire.SymKindTrace:
		num, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		sp, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		sl, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		return SymEntry{Kind: kind, TraceNo: num, StartProtoID: sp, StartLine: sl}, nil

	case wire.SymKindCFunc:
		addr, err := binary.ReadUvarint(r)
		if err != nil {
			return SymEntry{}, err
		}
		name, err := readString(r)
		if err != nil {
			return SymEntry{}, err
		}
		return SymEntry{Kind: kind, Addr: addr, Name: name}, nil

	default:
		return SymEntry{}, fmt.Errorf("decode: unknown symtab entry kind %d", kind)
	}
}

func expectMagic(r *bufio.Reader, tag0, tag1, tag2, version byte) error {
	magic := make([]byte, 7)
	if _, err := io.ReadFull(r, magic); err != nil {
		return fmt.Errorf("decode: reading magic: %w", err)
	}
	if magic[0] != tag0 || magic[1] != tag1 || magic[2] != tag2 {
		return fmt.Errorf("decode: bad magic %q", magic[:3])
	}
	if magic[3] != version {
		return fmt.Errorf("decode: unsupported version %d (want %d)", magic[3], version)
	}
	return nil
}

func readString(r *bufio.Reader) (string, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Source is a decoded classify.Source, mirroring internal/classify's
// encoding so decode doesn't need to depend on that internal package.
type Source struct {
	Kind       uint8 // wire SS value: ASourceInt/LFunc/CFunc/Trace
	ProtoID    uint64
	Line       uint64
	NativeAddr uint64
	TraceNo    uint64
}

func decodeSource(r *bufio.Reader, ssKind uint8) (Source, error) {
	src := Source{Kind: ssKind}
	switch ssKind {
	case wire.ASourceLFunc:
		id, err := binary.ReadUvarint(r)
		if err != nil {
			return Source{}, err
		}
		line, err := binary.ReadUvarint(r)
		if err != nil {
			return Source{}, err
		}
		src.ProtoID, src.Line = id, line
	case wire.ASourceCFunc:
		addr, err := binary.ReadUvarint(r)
		if err != nil {
			return Source{}, err
		}
		src.NativeAddr = addr
	case wire.ASourceTrace:
		no, err := binary.ReadUvarint(r)
		if err != nil {
			return Source{}, err
		}
		src.TraceNo = no
	}
	return src, nil
}
