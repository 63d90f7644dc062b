package embedding

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Binary layout of an encoded vector:
//
//	[0:3]  magic "FSV"
//	[3]    format version
//	[4:8]  dimension, uint32 little-endian
//	[8:]   dimension * float64 little-endian
const (
	codecMagic   = "FSV"
	headerSize   = 8
	componentLen = 8
)

// CodecVersion is the current encoding format version.
const CodecVersion byte = 1

// ErrBadEncoding is returned when a blob cannot be decoded.
var ErrBadEncoding = errors.New("invalid vector encoding")

// Encode serializes v into the versioned fixed-length binary format.
func Encode(v Vector) []byte {
	buf := make([]byte, headerSize+len(v)*componentLen)
	copy(buf, codecMagic)
	buf[3] = CodecVersion
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(v))) //nolint:gosec // dimensions are small
	for i, x := range v {
		off := headerSize + i*componentLen
		binary.LittleEndian.PutUint64(buf[off:off+componentLen], math.Float64bits(x))
	}
	return buf
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (Vector, error) {
	if len(data) < headerSize {
		return nil, fmt.Errorf("%w: %d bytes is shorter than the header", ErrBadEncoding, len(data))
	}
	if string(data[:3]) != codecMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadEncoding, data[:3])
	}
	if data[3] != CodecVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadEncoding, data[3])
	}
	dim := int(binary.LittleEndian.Uint32(data[4:8]))
	if len(data) != headerSize+dim*componentLen {
		return nil, fmt.Errorf("%w: dimension %d needs %d bytes, got %d",
			ErrBadEncoding, dim, headerSize+dim*componentLen, len(data))
	}
	v := make(Vector, dim)
	for i := range v {
		off := headerSize + i*componentLen
		v[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[off : off+componentLen]))
	}
	return v, nil
}
