package amf3

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when fewer bytes are available than the value
// being decoded requires.
var ErrShortBuffer = errors.New("amf3: buffer too short for marker")

// ErrUnknownMarker is returned for any byte this codec does not recognize.
// Decode never guesses past an unknown marker.
type ErrUnknownMarker struct{ Marker byte }

func (e ErrUnknownMarker) Error() string {
	return fmt.Sprintf("amf3: cannot decode value with marker 0x%02x", e.Marker)
}

// Decode reads one AMF3 value from the front of b and returns it along with
// the number of bytes consumed.
func Decode(b []byte) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrShortBuffer
	}
	switch b[0] {
	case TypeUndefined:
		return Undefined{}, 1, nil
	case TypeNull:
		return nil, 1, nil
	case TypeFalse:
		return false, 1, nil
	case TypeTrue:
		return true, 1, nil
	case TypeInteger:
		raw, n, err := decodeU29(b[1:])
		if err != nil {
			return nil, 0, err
		}
		return int(signExtend29(raw)), 1 + n, nil
	case TypeDouble:
		if len(b) < 9 {
			return nil, 0, ErrShortBuffer
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[1:9])), 9, nil
	case TypeString:
		s, n, err := decodeString(b[1:])
		if err != nil {
			return nil, 0, err
		}
		return s, 1 + n, nil
	case TypeDate:
		return decodeDate(b)
	case TypeArray:
		return decodeArray(b)
	case TypeObject:
		return decodeObject(b)
	default:
		return nil, 0, ErrUnknownMarker{Marker: b[0]}
	}
}

// decodeU29 reads a raw variable-length U29 integer (no leading type
// marker) and returns its value and the number of bytes consumed.
func decodeU29(b []byte) (uint32, int, error) {
	var v uint32
	for i := 0; i < 4; i++ {
		if len(b) <= i {
			return 0, 0, ErrShortBuffer
		}
		byteVal := b[i]
		if i == 3 {
			// The 4th byte contributes all 8 bits and never has a
			// continuation flag.
			v = (v << 8) | uint32(byteVal)
			return v, i + 1, nil
		}
		v = (v << 7) | uint32(byteVal&0x7F)
		if byteVal&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return v, 4, nil
}

// signExtend29 converts a 29-bit two's-complement value to a Go int.
func signExtend29(v uint32) int32 {
	v &= 0x1FFFFFFF
	if v&0x10000000 != 0 {
		return int32(v) - 0x20000000
	}
	return int32(v)
}

// decodeRefHeader reads a U29 ref-or-inline header (low bit 1 = inline
// count follows, low bit 0 = back-reference index). This codec never
// writes references and rejects reading them, since neither this server
// nor the RTMP clients it targets rely on AMF3's reference tables.
func decodeRefHeader(b []byte) (count int, n int, err error) {
	raw, n, err := decodeU29(b)
	if err != nil {
		return 0, 0, err
	}
	if raw&1 == 0 {
		return 0, 0, errors.Wrap(ErrUnsupported, "amf3: object/array/string back-references are not supported")
	}
	return int(raw >> 1), n, nil
}

func decodeString(b []byte) (string, int, error) {
	count, n, err := decodeRefHeader(b)
	if err != nil {
		return "", 0, err
	}
	if len(b[n:]) < count {
		return "", 0, ErrShortBuffer
	}
	return string(b[n : n+count]), n + count, nil
}

func decodeDate(b []byte) (interface{}, int, error) {
	_, n, err := decodeRefHeader(b[1:])
	if err != nil {
		return nil, 0, err
	}
	offset := 1 + n
	if len(b) < offset+8 {
		return nil, 0, ErrShortBuffer
	}
	millis := int64(math.Float64frombits(binary.BigEndian.Uint64(b[offset : offset+8])))
	return time.Unix(0, millis*int64(time.Millisecond)), offset + 8, nil
}

func decodeArray(b []byte) (interface{}, int, error) {
	count, n, err := decodeRefHeader(b[1:])
	if err != nil {
		return nil, 0, err
	}
	offset := 1 + n

	// Skip the associative portion: a run of string keys terminated by an
	// empty key. RTMP command arrays are always dense, so a non-empty key
	// here means a shape this codec doesn't support.
	if len(b) <= offset {
		return nil, 0, ErrShortBuffer
	}
	if b[offset] != UTF8Empty {
		return nil, 0, errors.Wrap(ErrUnsupported, "amf3: associative array elements are not supported")
	}
	offset++

	arr := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		val, vn, err := Decode(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += vn
		arr = append(arr, val)
	}
	return arr, offset, nil
}

func decodeObject(b []byte) (interface{}, int, error) {
	if len(b) < 3 {
		return nil, 0, ErrShortBuffer
	}
	if b[1] != traitsDynamic {
		return nil, 0, errors.Wrap(ErrUnsupported, "amf3: only anonymous dynamic objects are supported")
	}
	className, n, err := decodeString(b[2:])
	if err != nil {
		return nil, 0, err
	}
	if className != "" {
		return nil, 0, errors.Wrap(ErrUnsupported, "amf3: typed (non-anonymous) objects are not supported")
	}
	offset := 2 + n

	m := make(map[string]interface{})
	for {
		if len(b) <= offset {
			return nil, 0, ErrShortBuffer
		}
		key, kn, err := decodeString(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += kn
		if key == "" {
			return m, offset, nil
		}
		val, vn, err := Decode(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += vn
		m[key] = val
	}
}
