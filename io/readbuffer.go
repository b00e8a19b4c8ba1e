// Package io owns the cursor-based byte buffer the block decoder reads
// a map file through. It deliberately shadows the standard library's io
// package (callers import it under the mio alias): one resizable buffer,
// refilled from the backing file on demand, with typed cursor-advancing
// readers layered on top.
package io

import (
	"github.com/hauke96/sigolo/v2"
	"github.com/pkg/errors"
	"mapsforge/tag"
	"os"
)

// MaximumBufferSize bounds how large a single readFromFile call may grow
// the buffer to. A block whose declared size exceeds this is abandoned
// rather than risking an oversized allocation off a corrupt file.
const MaximumBufferSize = 2_500_000

// ReadBuffer is a single reusable byte buffer paired with a cursor. One
// decoder owns exactly one ReadBuffer for its whole lifetime; nothing
// here is safe for concurrent use, matching this package's "one caller
// at a time" contract.
type ReadBuffer struct {
	file   *os.File
	buffer []byte
	cursor int
	size   int
}

func NewReadBuffer(file *os.File) *ReadBuffer {
	return &ReadBuffer{file: file}
}

// ReadFromFile replaces the buffer contents with the n bytes starting at
// absolute file offset at. Fails if n exceeds MaximumBufferSize or the
// file is shorter than requested.
func (r *ReadBuffer) ReadFromFile(at int64, n int) error {
	if n <= 0 {
		return errors.Errorf("invalid block size %d", n)
	}
	if n > MaximumBufferSize {
		return errors.Errorf("block size %d exceeds maximum buffer size %d", n, MaximumBufferSize)
	}
	if cap(r.buffer) < n {
		r.buffer = make([]byte, n)
	} else {
		r.buffer = r.buffer[:n]
	}

	read, err := r.file.ReadAt(r.buffer, at)
	if err != nil && read < n {
		return errors.Wrapf(err, "reading %d bytes at file offset %d", n, at)
	}

	r.cursor = 0
	r.size = n
	return nil
}

// Position returns the current cursor offset into the buffer.
func (r *ReadBuffer) Position() int {
	return r.cursor
}

// SetPosition rewinds or fast-forwards the cursor, e.g. to replay a tag
// array recorded via skipWays.
func (r *ReadBuffer) SetPosition(position int) {
	r.cursor = position
}

// Size returns the number of valid bytes currently in the buffer.
func (r *ReadBuffer) Size() int {
	return r.size
}

func (r *ReadBuffer) ensure(n int) error {
	if r.cursor+n > r.size {
		return errors.Errorf("buffer underrun: need %d bytes at position %d, have %d", n, r.cursor, r.size)
	}
	return nil
}

// ReadByte reads one signed byte and advances the cursor.
func (r *ReadBuffer) ReadByte() (int8, error) {
	if err := r.ensure(1); err != nil {
		return 0, err
	}
	b := int8(r.buffer[r.cursor])
	r.cursor++
	return b, nil
}

// ReadShort reads a big-endian unsigned 16-bit value.
func (r *ReadBuffer) ReadShort() (uint16, error) {
	if err := r.ensure(2); err != nil {
		return 0, err
	}
	v := uint16(r.buffer[r.cursor])<<8 | uint16(r.buffer[r.cursor+1])
	r.cursor += 2
	return v, nil
}

// ReadUnsignedInt reads a VBE-U value: 7 payload bits per byte,
// continuation indicated by the high bit, up to 5 bytes.
func (r *ReadBuffer) ReadUnsignedInt() (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		if err := r.ensure(1); err != nil {
			return 0, err
		}
		b := r.buffer[r.cursor]
		r.cursor++
		result |= int32(b&0x7F) << shift
		if b&0x80 == 0 {
			return result, nil
		}
		shift += 7
	}
	return 0, errors.Errorf("VBE-U value at position %d did not terminate within 5 bytes", r.cursor)
}

// ReadSignedInt reads a VBE-S value: 7 payload bits per byte,
// continuation indicated by the high bit; the terminating byte's bit 6
// is the sign, the rest is magnitude (sign-and-magnitude, not zig-zag).
func (r *ReadBuffer) ReadSignedInt() (int32, error) {
	var result int32
	var shift uint
	for i := 0; i < 5; i++ {
		if err := r.ensure(1); err != nil {
			return 0, err
		}
		b := r.buffer[r.cursor]
		r.cursor++
		if b&0x80 == 0 {
			result |= int32(b&0x3F) << shift
			if b&0x40 != 0 {
				return -result, nil
			}
			return result, nil
		}
		result |= int32(b&0x7F) << shift
		shift += 7
	}
	return 0, errors.Errorf("VBE-S value at position %d did not terminate within 5 bytes", r.cursor)
}

// ReadSignedIntsInto fills the first length entries of into with
// successive VBE-S values - the batch form used for coordinate blocks.
func (r *ReadBuffer) ReadSignedIntsInto(into []int32, length int) error {
	for i := 0; i < length; i++ {
		v, err := r.ReadSignedInt()
		if err != nil {
			return err
		}
		into[i] = v
	}
	return nil
}

// ReadUTF8EncodedString reads a VBE-U byte length prefix followed by
// that many UTF-8 bytes, advancing the cursor.
func (r *ReadBuffer) ReadUTF8EncodedString() (string, error) {
	length, err := r.ReadUnsignedInt()
	if err != nil {
		return "", err
	}
	return r.readFixedString(int(length))
}

// ReadUTF8EncodedStringAt reads a length-prefixed string starting at an
// absolute buffer offset without disturbing the current cursor -
// string pool back-references use this.
func (r *ReadBuffer) ReadUTF8EncodedStringAt(absOffset int) (string, error) {
	saved := r.cursor
	defer func() { r.cursor = saved }()

	r.cursor = absOffset
	return r.ReadUTF8EncodedString()
}

// ReadUTF8EncodedStringFixed reads exactly fixedLen bytes as UTF-8, used
// for the fixed-width debug signatures.
func (r *ReadBuffer) ReadUTF8EncodedStringFixed(fixedLen int) (string, error) {
	return r.readFixedString(fixedLen)
}

func (r *ReadBuffer) readFixedString(length int) (string, error) {
	if length < 0 {
		return "", errors.Errorf("negative string length %d", length)
	}
	if err := r.ensure(length); err != nil {
		return "", err
	}
	s := string(r.buffer[r.cursor : r.cursor+length])
	r.cursor += length
	return s, nil
}

// ReadTags reads n VBE-U tag indices and resolves each against table,
// failing if any index falls outside it.
func (r *ReadBuffer) ReadTags(table []tag.Tag, n int) ([]tag.Tag, error) {
	tags := make([]tag.Tag, 0, n)
	for i := 0; i < n; i++ {
		index, err := r.ReadUnsignedInt()
		if err != nil {
			return nil, err
		}
		if index < 0 || int(index) >= len(table) {
			return nil, errors.Errorf("tag index %d out of range for table of size %d", index, len(table))
		}
		tags = append(tags, table[index])
	}
	return tags, nil
}

// SkipWays walks forward over ways whose 16-bit sub-tile bitmask has no
// bits in common with bitmask, until it finds one that does or runs out
// of ways. It returns the remaining way count once positioned at the
// start (size field) of a matching way (or a count of zero, positioned
// just past the last way, if none matched), along with the buffer position of the last *skipped*
// way's flag byte - i.e. the byte immediately following that way's
// 16-bit tile bitmask - so its tags can be decoded from there on a
// later replay if the following kept way turns out to have none of its
// own. Zero means no way was skipped.
func (r *ReadBuffer) SkipWays(bitmask uint16, remaining int) (int, int, error) {
	lastTagPosition := 0
	for remaining > 0 {
		wayStart := r.cursor
		wayDataSize, err := r.ReadUnsignedInt()
		if err != nil {
			return 0, 0, err
		}
		wayMask, err := r.ReadShort()
		if err != nil {
			return 0, 0, err
		}

		if wayMask&bitmask == 0 {
			flagBytePosition := r.cursor
			skip := int(wayDataSize) - 2
			if r.cursor+skip > r.size || skip < 0 {
				return 0, 0, errors.Errorf("way skip of %d bytes at position %d overruns buffer", skip, r.cursor)
			}
			r.cursor += skip
			lastTagPosition = flagBytePosition
			remaining--
			continue
		}

		r.cursor = wayStart
		return remaining, lastTagPosition, nil
	}
	return remaining, lastTagPosition, nil
}

// RawBytesFrom returns a view of the buffer's valid bytes starting at
// position, for callers that decode a run of fixed-width fields via
// package binschema rather than this type's own cursor-advancing
// readers. The returned slice aliases the buffer; callers must not
// retain it past the next ReadFromFile call.
func (r *ReadBuffer) RawBytesFrom(position int) []byte {
	return r.buffer[position:r.size]
}

// SkipBytes advances the cursor by n bytes without interpreting them.
func (r *ReadBuffer) SkipBytes(n int) error {
	if err := r.ensure(n); err != nil {
		return err
	}
	r.cursor += n
	return nil
}

// FatalCheck is a fail-fast helper for call sites that have decided a
// decode error is unrecoverable for the whole process (e.g. CLI tools),
// as opposed to library call sites that always return the error to the
// caller.
func FatalCheck(err error) {
	sigolo.FatalCheck(err)
}
