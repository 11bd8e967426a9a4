// Package wbuf implements the single-producer streaming write buffer (C1):
// a byte-oriented accumulator with ULEB128/string encoding, backpressure
// against a possibly-slow sink, and sticky stop/error flags. Ported from
// lj_memprof.c's buffer_writer_default plus lj_wbuf.h's contract, rendered
// against the standard io.Writer interface instead of a raw C callback.
package wbuf

import (
	"encoding/binary"
	"errors"
	"io"

	"golang.org/x/sys/unix"
)

// DefaultSize is the default accumulator size: 8 MiB, tuned (per the
// original C comment) to amortize syscall cost against the sink, not to
// bound memory.
const DefaultSize = 8 << 20

// ErrStopped is the sentinel a sink returns to signal a deliberate,
// non-error end of the stream (the Go analogue of io.EOF for a writer).
// Any other non-nil error is classified as an I/O error instead. A short
// write returned with a nil error is treated as a stop, the same as
// ErrStopped. See SPEC_FULL.md §4.1 for the
// rationale; this resolves spec.md §9's Open Question about short-write
// handling.
var ErrStopped = errors.New("wbuf: sink stopped the stream")

// Buf is the write-buffer accumulator. It is not safe for concurrent use;
// spec.md's concurrency model has exactly one producer per profiler run.
type Buf struct {
	w   io.Writer
	buf []byte
	pos int

	stopped bool // STREAM_STOP: sink declined further bytes, not an error
	ioErr   bool // STREAM_ERRIO: sink returned a genuine error
	err     error
}

// New wraps w with an accumulator of buf's capacity. buf's length is reset
// to zero; its capacity becomes the flush threshold. If buf is nil or has
// no capacity, a DefaultSize buffer is allocated.
func New(w io.Writer, buf []byte) *Buf {
	if cap(buf) == 0 {
		buf = make([]byte, 0, DefaultSize)
	}
	return &Buf{w: w, buf: buf[:0]}
}

// Stopped reports whether the sink has entered STREAM_STOP.
func (b *Buf) Stopped() bool { return b.stopped }

// IOError reports whether the sink has entered STREAM_ERRIO.
func (b *Buf) IOError() bool { return b.ioErr }

// Halted reports whether either sticky flag is set; once true, every
// Add* method becomes a no-op.
func (b *Buf) Halted() bool { return b.stopped || b.ioErr }

// Err returns the error captured from the sink, preserved across whatever
// the caller does next (e.g. an on_stop callback that itself fails). Nil
// if neither sticky flag is set.
func (b *Buf) Err() error { return b.err }

// AddByte appends a single byte.
func (b *Buf) AddByte(v byte) {
	if b.Halted() {
		return
	}
	b.ensure(1)
	b.buf = append(b.buf, v)
}

// AddUint64 appends v as ULEB128. encoding/binary's unsigned varint is
// bit-for-bit the same encoding (7-bit groups, 0x80 continuation bit), so
// no bespoke codec is needed here.
func (b *Buf) AddUint64(v uint64) {
	if b.Halted() {
		return
	}
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	b.ensure(n)
	b.buf = append(b.buf, tmp[:n]...)
}

// AddString appends a ULEB128 length prefix followed by s's raw bytes (no
// trailing NUL).
func (b *Buf) AddString(s string) {
	if b.Halted() {
		return
	}
	b.AddUint64(uint64(len(s)))
	b.AddRaw([]byte(s))
}

// AddRaw appends p verbatim.
func (b *Buf) AddRaw(p []byte) {
	if b.Halted() {
		return
	}
	if len(p) > cap(b.buf) {
		// Larger than the whole accumulator: flush what's pending, then
		// write directly through rather than grow the buffer unbounded.
		b.Flush()
		if b.Halted() {
			return
		}
		b.writeThrough(p)
		return
	}
	b.ensure(len(p))
	b.buf = append(b.buf, p...)
}

// ensure flushes the accumulator if appending n more bytes would overflow
// its capacity.
func (b *Buf) ensure(n int) {
	if b.pos+n <= cap(b.buf) && len(b.buf)+n <= cap(b.buf) {
		return
	}
	b.Flush()
}

// Flush drains the accumulated region through the sink. No-op if the
// buffer is empty or a sticky flag is already set.
func (b *Buf) Flush() {
	if len(b.buf) == 0 || b.Halted() {
		return
	}
	b.writeThrough(b.buf)
	b.buf = b.buf[:0]
}

// writeThrough performs one logical write of p to the sink, classifying
// the result per the rule in ErrStopped's doc comment. A sink backed by a
// raw fd-based writer can surface EINTR as a Go error on some platforms;
// buffer_writer_default retries in that case rather than treating it as a
// real I/O failure, resuming from whatever was already written rather than
// resending it, so this does too.
func (b *Buf) writeThrough(p []byte) {
	for {
		n, err := b.w.Write(p)
		switch {
		case errors.Is(err, unix.EINTR):
			p = p[n:]
			if len(p) == 0 {
				return
			}
			continue
		case errors.Is(err, ErrStopped):
			b.stopped = true
			b.err = err
		case err != nil:
			b.ioErr = true
			b.err = err
		case n < len(p):
			// A conforming io.Writer must return a non-nil error here; a
			// sink that doesn't is treated defensively as a deliberate
			// stop.
			b.stopped = true
			b.err = ErrStopped
		}
		return
	}
}

// Terminate releases the buffer reference. After Terminate the Buf must
// not be used again; this mirrors lj_wbuf_terminate invalidating the
// profiler's held reference once the stream is done.
func (b *Buf) Terminate() {
	b.buf = nil
	b.w = nil
}
