package decode

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Itz-Agasta/ljprofile/internal/wire"
)

// SysprofRecord is one decoded sysprof sample: the VM state at sample
// time, plus the classified source(s). Leaf records carry exactly one
// Sources entry; Callgraph records carry the full top-to-bottom frame
// list; a DEFAULT-mode run never reaches the decoder (it has no stream).
type SysprofRecord struct {
	VMState uint64
	Sources []Source
}

// SysprofStream is a fully decoded sysprof run.
type SysprofStream struct {
	Records []SysprofRecord
}

// DecodeSysprofStream reads one complete sysprof stream: prologue, zero or
// more records, and the epilogue byte. Since a sysprof record carries no
// explicit length or mode tag, the caller must say whether each record is
// a single LEAF source or a CALLGRAPH frame list terminated by
// wire.FrameListEnd — matching whatever mode the stream was produced
// under, which DEFAULT-mode runs never need since they emit no stream.
func DecodeSysprofStream(r io.Reader, callgraph bool) (SysprofStream, error) {
	br := bufio.NewReader(r)
	if err := expectMagic(br, 'l', 'j', 'p', wire.SysprofVersion); err != nil {
		return SysprofStream{}, err
	}

	var stream SysprofStream
	for {
		peek, err := br.Peek(1)
		if err != nil {
			if err == io.EOF {
				return stream, fmt.Errorf("decode: sysprof stream missing epilogue: %w", io.ErrUnexpectedEOF)
			}
			return SysprofStream{}, err
		}
		if wire.IsFinal(peek[0]) {
			br.ReadByte()
			return stream, nil
		}

		rec, err := decodeSysprofRecord(br, callgraph)
		if err != nil {
			return SysprofStream{}, err
		}
		stream.Records = append(stream.Records, rec)
	}
}

func decodeSysprofRecord(r *bufio.Reader, callgraph bool) (SysprofRecord, error) {
	st, err := binary.ReadUvarint(r)
	if err != nil {
		return SysprofRecord{}, err
	}
	rec := SysprofRecord{VMState: st}

	if !callgraph {
		hdr, err := r.ReadByte()
		if err != nil {
			return SysprofRecord{}, err
		}
		src, err := decodeSource(r, wire.SourceKind(hdr))
		if err != nil {
			return SysprofRecord{}, err
		}
		rec.Sources = []Source{src}
		return rec, nil
	}

	for {
		hdr, err := r.ReadByte()
		if err != nil {
			return SysprofRecord{}, err
		}
		if hdr == wire.FrameListEnd {
			return rec, nil
		}
		src, err := decodeSource(r, wire.SourceKind(hdr))
		if err != nil {
			return SysprofRecord{}, err
		}
		rec.Sources = append(rec.Sources, src)
	}
}
