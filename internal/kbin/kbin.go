// Package kbin implements the primitive and composite wire encodings used
// by the Kafka protocol subset this server speaks: fixed-width big-endian
// integers, zig-zag varints, length-prefixed strings/bytes in both their
// legacy and "compact" flexible forms, and tagged-field trailers.
//
// Decoding is speculative: a Reader is handed a byte slice that may hold an
// incomplete message, and every decode method reports whether the slice ran
// out before a value could be fully read via ErrIncomplete. Callers that see
// ErrIncomplete must leave their underlying buffer untouched and retry once
// more bytes arrive; any other error is fatal and the connection should be
// closed.
package kbin

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrIncomplete is returned (optionally wrapped) when a Reader ran out of
// bytes before a value could be fully decoded. It signals "come back with
// more data", never "the data is malformed".
var ErrIncomplete = errors.New("kbin: incomplete")

func incompletef(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrIncomplete)...)
}

// Reader decodes primitive and composite Kafka wire values from a byte
// slice. It never mutates or retains the slice beyond reading from it.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader wraps buf for decoding from the start.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Off returns the number of bytes consumed so far. Callers use this to
// advance their own buffer once a full message has decoded successfully.
func (r *Reader) Off() int { return r.off }

// Err returns the first error encountered, if any. Once set, all further
// decode calls are no-ops that keep returning it.
func (r *Reader) Err() error { return r.err }

// Complete reports whether every byte of the wrapped slice was consumed and
// no error occurred. Used after decoding a self-delimited message to detect
// trailing garbage.
func (r *Reader) Complete() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("kbin: %d trailing byte(s) after decode", len(r.buf)-r.off)
	}
	return nil
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *Reader) need(n int) ([]byte, bool) {
	if r.err != nil {
		return nil, false
	}
	if n < 0 {
		r.fail(fmt.Errorf("kbin: negative length %d", n))
		return nil, false
	}
	if len(r.buf)-r.off < n {
		r.fail(incompletef("kbin: need %d byte(s), have %d", n, len(r.buf)-r.off))
		return nil, false
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, true
}

// PeekInt8 reports the next byte as a signed int8 without consuming it,
// and whether a byte was available at all. Used by callers that must
// decide how to decode a field based on a sentinel value in its first
// byte (e.g. the 0xFF null-cursor convention) before committing to a
// decode path.
func (r *Reader) PeekInt8() (int8, bool) {
	if r.err != nil || len(r.buf)-r.off < 1 {
		return 0, false
	}
	return int8(r.buf[r.off]), true
}

// Raw reads exactly n raw bytes with the same bounds checking as every
// other decode method (short input reports ErrIncomplete). Used by callers
// that have already decoded a length from a varint or other non-standard
// prefix and just need the following span.
func (r *Reader) Raw(n int) []byte {
	b, ok := r.need(n)
	if !ok {
		return nil
	}
	return b
}

// Int8 reads a single signed byte.
func (r *Reader) Int8() int8 {
	b, ok := r.need(1)
	if !ok {
		return 0
	}
	return int8(b[0])
}

// Int16 reads a big-endian signed 16-bit integer.
func (r *Reader) Int16() int16 {
	b, ok := r.need(2)
	if !ok {
		return 0
	}
	return int16(binary.BigEndian.Uint16(b))
}

// Uint16 reads a big-endian unsigned 16-bit integer.
func (r *Reader) Uint16() uint16 {
	b, ok := r.need(2)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

// Int32 reads a big-endian signed 32-bit integer.
func (r *Reader) Int32() int32 {
	b, ok := r.need(4)
	if !ok {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b))
}

// Uint32 reads a big-endian unsigned 32-bit integer.
func (r *Reader) Uint32() uint32 {
	b, ok := r.need(4)
	if !ok {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// Int64 reads a big-endian signed 64-bit integer.
func (r *Reader) Int64() int64 {
	b, ok := r.need(8)
	if !ok {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b))
}

// UUID reads 16 raw bytes as a UUID with no length prefix.
func (r *Reader) UUID() uuid.UUID {
	b, ok := r.need(16)
	if !ok {
		return uuid.Nil
	}
	var u uuid.UUID
	copy(u[:], b)
	return u
}

// Uvarint reads a base-128 unsigned varint (little-endian group order, MSB
// continuation bit), as used for compact-array/string/bytes length prefixes
// and tag/size pairs.
func (r *Reader) Uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	var x uint64
	var shift uint
	for {
		if shift >= 64 {
			r.fail(errors.New("kbin: uvarint overflows 64 bits"))
			return 0
		}
		b, ok := r.need(1)
		if !ok {
			return 0
		}
		x |= uint64(b[0]&0x7f) << shift
		if b[0]&0x80 == 0 {
			return x
		}
		shift += 7
	}
}

// Varint reads a zig-zag encoded signed 32-bit varint.
func (r *Reader) Varint() int32 {
	u := r.Uvarint()
	return int32((u >> 1) ^ -(u & 1))
}

// Varlong reads a zig-zag encoded signed 64-bit varint.
func (r *Reader) Varlong() int64 {
	u := r.Uvarint()
	return int64(u>>1) ^ -int64(u&1)
}

// String reads a legacy (non-flexible) length-prefixed UTF-8 string: an
// int16 length followed by that many bytes. A length of -1 is not valid
// here; callers wanting nullability use NullableString.
func (r *Reader) String() string {
	n := r.Int16()
	if r.err != nil {
		return ""
	}
	if n < 0 {
		r.fail(fmt.Errorf("kbin: negative string length %d", n))
		return ""
	}
	b, ok := r.need(int(n))
	if !ok {
		return ""
	}
	return string(b)
}

// NullableString reads a legacy nullable string: int16 length, -1 meaning
// null (reported as ok=false).
func (r *Reader) NullableString() (s string, ok bool) {
	n := r.Int16()
	if r.err != nil {
		return "", false
	}
	if n < -1 {
		r.fail(fmt.Errorf("kbin: invalid nullable string length %d", n))
		return "", false
	}
	if n == -1 {
		return "", false
	}
	b, got := r.need(int(n))
	if !got {
		return "", false
	}
	return string(b), true
}

// CompactString reads a flexible-protocol string: a uvarint length+1, with
// raw value 0 reserved for null (invalid here — use CompactNullableString)
// and raw value 1 meaning an empty string.
func (r *Reader) CompactString() string {
	n := r.Uvarint()
	if r.err != nil {
		return ""
	}
	if n == 0 {
		r.fail(errors.New("kbin: compact string length 0 is reserved for null"))
		return ""
	}
	b, ok := r.need(int(n - 1))
	if !ok {
		return ""
	}
	return string(b)
}

// CompactNullableString reads a flexible-protocol nullable string: uvarint
// length+1, with raw value 0 meaning null (reported as ok=false) and raw
// value 1 meaning an empty string.
func (r *Reader) CompactNullableString() (s string, ok bool) {
	n := r.Uvarint()
	if r.err != nil {
		return "", false
	}
	if n == 0 {
		return "", false
	}
	b, got := r.need(int(n - 1))
	if !got {
		return "", false
	}
	return string(b), true
}

// Bytes reads a legacy length-prefixed byte span: an int32 length followed
// by that many bytes. A length of -1 is not valid here; callers wanting
// nullability use NullableBytes.
func (r *Reader) Bytes() []byte {
	n := r.Int32()
	if r.err != nil {
		return nil
	}
	if n < 0 {
		r.fail(fmt.Errorf("kbin: negative bytes length %d", n))
		return nil
	}
	b, _ := r.need(int(n))
	return b
}

// NullableBytes reads a legacy nullable byte span: int32 length, -1 meaning
// null (reported as ok=false).
func (r *Reader) NullableBytes() (b []byte, ok bool) {
	n := r.Int32()
	if r.err != nil {
		return nil, false
	}
	if n < -1 {
		r.fail(fmt.Errorf("kbin: invalid nullable bytes length %d", n))
		return nil, false
	}
	if n == -1 {
		return nil, false
	}
	got, success := r.need(int(n))
	if !success {
		return nil, false
	}
	return got, true
}

// CompactBytes reads a flexible-protocol byte span: uvarint length+1, raw
// value 0 reserved for null (invalid here).
func (r *Reader) CompactBytes() []byte {
	n := r.Uvarint()
	if r.err != nil {
		return nil
	}
	if n == 0 {
		r.fail(errors.New("kbin: compact bytes length 0 is reserved for null"))
		return nil
	}
	b, _ := r.need(int(n - 1))
	return b
}

// CompactNullableBytes reads a flexible-protocol nullable byte span: uvarint
// length+1, raw value 0 meaning null.
func (r *Reader) CompactNullableBytes() (b []byte, ok bool) {
	n := r.Uvarint()
	if r.err != nil {
		return nil, false
	}
	if n == 0 {
		return nil, false
	}
	got, success := r.need(int(n - 1))
	if !success {
		return nil, false
	}
	return got, true
}

// ArrayLen reads a legacy int32 array length. -1 (null array) is reported
// as ok=false; callers that cannot accept null arrays should reject that
// case themselves.
func (r *Reader) ArrayLen() (n int, ok bool) {
	v := r.Int32()
	if r.err != nil {
		return 0, false
	}
	if v < -1 {
		r.fail(fmt.Errorf("kbin: invalid array length %d", v))
		return 0, false
	}
	if v == -1 {
		return 0, false
	}
	return int(v), true
}

// CompactArrayLen reads a flexible-protocol uvarint array length+1. Raw
// value 0 means null, reported as ok=false; raw value 1 means an empty
// (non-null) array.
func (r *Reader) CompactArrayLen() (n int, ok bool) {
	v := r.Uvarint()
	if r.err != nil {
		return 0, false
	}
	if v == 0 {
		return 0, false
	}
	return int(v - 1), true
}

// TagBuffer reads and discards a flexible-protocol tagged-field trailer:
// a uvarint count of (tag uvarint, size uvarint, raw span) triples. This
// server has no tagged fields of its own to interpret, so every tag is
// skipped unread, matching the protocol's forward-compatibility contract.
func (r *Reader) TagBuffer() {
	n := r.Uvarint()
	if r.err != nil {
		return
	}
	for i := uint64(0); i < n; i++ {
		r.Uvarint() // tag id, unused
		size := r.Uvarint()
		if r.err != nil {
			return
		}
		r.need(int(size))
		if r.err != nil {
			return
		}
	}
}

// Writer builds up a Kafka wire message by appending primitive and
// composite values to an in-memory buffer.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with no preallocated capacity.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the buffer accumulated so far. The returned slice aliases
// the Writer's internal storage.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

func (w *Writer) AppendInt8(v int8) { w.buf = append(w.buf, byte(v)) }

func (w *Writer) AppendBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
	} else {
		w.buf = append(w.buf, 0)
	}
}

func (w *Writer) AppendInt16(v int16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) AppendUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) AppendInt32(v int32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) AppendUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) AppendInt64(v int64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *Writer) AppendUUID(u uuid.UUID) {
	w.buf = append(w.buf, u[:]...)
}

// AppendUvarint appends a base-128 unsigned varint.
func (w *Writer) AppendUvarint(v uint64) {
	for v >= 0x80 {
		w.buf = append(w.buf, byte(v)|0x80)
		v >>= 7
	}
	w.buf = append(w.buf, byte(v))
}

// AppendVarint appends a zig-zag encoded signed 32-bit varint.
func (w *Writer) AppendVarint(v int32) {
	w.AppendUvarint(uint64(uint32((v << 1) ^ (v >> 31))))
}

// AppendVarlong appends a zig-zag encoded signed 64-bit varint.
func (w *Writer) AppendVarlong(v int64) {
	w.AppendUvarint(uint64((v << 1) ^ (v >> 63)))
}

// AppendString appends a legacy int16-length-prefixed string.
func (w *Writer) AppendString(s string) {
	w.AppendInt16(int16(len(s)))
	w.buf = append(w.buf, s...)
}

// AppendNullableString appends a legacy nullable string; ok=false writes
// the -1 null sentinel.
func (w *Writer) AppendNullableString(s string, ok bool) {
	if !ok {
		w.AppendInt16(-1)
		return
	}
	w.AppendString(s)
}

// AppendCompactString appends a flexible-protocol string as uvarint
// length+1.
func (w *Writer) AppendCompactString(s string) {
	w.AppendUvarint(uint64(len(s)) + 1)
	w.buf = append(w.buf, s...)
}

// AppendCompactNullableString appends a flexible-protocol nullable string;
// ok=false writes the 0 null sentinel.
func (w *Writer) AppendCompactNullableString(s string, ok bool) {
	if !ok {
		w.AppendUvarint(0)
		return
	}
	w.AppendCompactString(s)
}

// AppendBytes appends a legacy int32-length-prefixed byte span.
func (w *Writer) AppendBytes(b []byte) {
	w.AppendInt32(int32(len(b)))
	w.buf = append(w.buf, b...)
}

// AppendNullableBytes appends a legacy nullable byte span; ok=false writes
// the -1 null sentinel.
func (w *Writer) AppendNullableBytes(b []byte, ok bool) {
	if !ok {
		w.AppendInt32(-1)
		return
	}
	w.AppendBytes(b)
}

// AppendCompactBytes appends a flexible-protocol byte span as uvarint
// length+1.
func (w *Writer) AppendCompactBytes(b []byte) {
	w.AppendUvarint(uint64(len(b)) + 1)
	w.buf = append(w.buf, b...)
}

// AppendCompactNullableBytes appends a flexible-protocol nullable byte
// span; ok=false writes the 0 null sentinel.
func (w *Writer) AppendCompactNullableBytes(b []byte, ok bool) {
	if !ok {
		w.AppendUvarint(0)
		return
	}
	w.AppendCompactBytes(b)
}

// AppendArrayLen appends a legacy int32 array length; ok=false writes the
// -1 null-array sentinel.
func (w *Writer) AppendArrayLen(n int, ok bool) {
	if !ok {
		w.AppendInt32(-1)
		return
	}
	w.AppendInt32(int32(n))
}

// AppendCompactArrayLen appends a flexible-protocol uvarint array
// length+1; ok=false writes the 0 null-array sentinel.
func (w *Writer) AppendCompactArrayLen(n int, ok bool) {
	if !ok {
		w.AppendUvarint(0)
		return
	}
	w.AppendUvarint(uint64(n) + 1)
}

// AppendTagBuffer appends an empty tagged-field trailer. No request or
// response this server builds has tagged fields of its own to emit.
func (w *Writer) AppendTagBuffer() {
	w.AppendUvarint(0)
}

// AppendRaw appends raw bytes verbatim, for fields already encoded
// elsewhere (e.g. a pass-through record batch).
func (w *Writer) AppendRaw(b []byte) {
	w.buf = append(w.buf, b...)
}
