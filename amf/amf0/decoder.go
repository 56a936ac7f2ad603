package amf0

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrShortBuffer is returned when fewer bytes are available than the marker
// being decoded requires.
var ErrShortBuffer = errors.New("amf0: buffer too short for marker")

// ErrUnknownMarker is returned for any byte 0 marker this codec does not
// recognize. Decode never advances past an unknown marker: the caller's
// session is closed as a protocol error (§7), not resynchronized.
type ErrUnknownMarker struct{ Marker byte }

func (e ErrUnknownMarker) Error() string {
	return fmt.Sprintf("amf0: cannot decode value with marker 0x%02x", e.Marker)
}

// Decode reads one AMF0 value from the front of b and returns it along with
// the number of bytes consumed. Possible returned types: float64, bool,
// string, map[string]interface{}, nil, ECMAArray, []interface{}, Undefined,
// ObjectEnd, time.Time.
func Decode(b []byte) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, ErrShortBuffer
	}
	if len(b) >= 3 && b[0] == 0x00 && b[1] == 0x00 && b[2] == TypeObjectEnd {
		return ObjectEnd{}, 3, nil
	}
	switch b[0] {
	case TypeNumber:
		if len(b) < 9 {
			return nil, 0, ErrShortBuffer
		}
		return math.Float64frombits(binary.BigEndian.Uint64(b[1:9])), 9, nil
	case TypeBoolean:
		if len(b) < 2 {
			return nil, 0, ErrShortBuffer
		}
		return b[1] != 0, 2, nil
	case TypeString:
		if len(b) < 3 {
			return nil, 0, ErrShortBuffer
		}
		length := int(binary.BigEndian.Uint16(b[1:3]))
		if len(b) < 3+length {
			return nil, 0, ErrShortBuffer
		}
		return string(b[3 : 3+length]), 3 + length, nil
	case TypeLongString, TypeXMLDocument:
		if len(b) < 5 {
			return nil, 0, ErrShortBuffer
		}
		length := int(binary.BigEndian.Uint32(b[1:5]))
		if len(b) < 5+length {
			return nil, 0, ErrShortBuffer
		}
		return string(b[5 : 5+length]), 5 + length, nil
	case TypeNull:
		return nil, 1, nil
	case TypeUndefined:
		return Undefined{}, 1, nil
	case TypeObject:
		return decodeObject(b[1:], 1)
	case TypeECMAArray:
		return decodeECMAArray(b[1:])
	case TypeStrictArray:
		return decodeStrictArray(b[1:])
	case TypeDate:
		if len(b) < 11 {
			return nil, 0, ErrShortBuffer
		}
		millis := int64(math.Float64frombits(binary.BigEndian.Uint64(b[1:9])))
		return time.Unix(0, millis*int64(time.Millisecond)), 11, nil
	default:
		return nil, 0, ErrUnknownMarker{Marker: b[0]}
	}
}

// decodeKeyedValues decodes key/value pairs until the end-of-object marker,
// used by both Object and ECMAArray bodies. Returns the map and the number
// of bytes consumed, NOT including the leading type marker of the caller.
func decodeKeyedValues(b []byte) (map[string]interface{}, int, error) {
	m := make(map[string]interface{})
	offset := 0
	for {
		if len(b[offset:]) >= 3 && b[offset] == 0x00 && b[offset+1] == 0x00 && b[offset+2] == TypeObjectEnd {
			offset += 3
			return m, offset, nil
		}
		if len(b[offset:]) < 2 {
			return nil, 0, ErrShortBuffer
		}
		keyLen := int(binary.BigEndian.Uint16(b[offset : offset+2]))
		offset += 2
		if len(b[offset:]) < keyLen {
			return nil, 0, ErrShortBuffer
		}
		key := string(b[offset : offset+keyLen])
		offset += keyLen

		val, n, err := Decode(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		m[key] = val
	}
}

func decodeObject(b []byte, headerLen int) (interface{}, int, error) {
	m, n, err := decodeKeyedValues(b)
	if err != nil {
		return nil, 0, err
	}
	return m, headerLen + n, nil
}

func decodeECMAArray(b []byte) (interface{}, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrShortBuffer
	}
	m, n, err := decodeKeyedValues(b[4:])
	if err != nil {
		return nil, 0, err
	}
	return ECMAArray(m), 1 + 4 + n, nil
}

func decodeStrictArray(b []byte) (interface{}, int, error) {
	if len(b) < 4 {
		return nil, 0, ErrShortBuffer
	}
	count := int(binary.BigEndian.Uint32(b[:4]))
	offset := 4
	arr := make([]interface{}, 0, count)
	for i := 0; i < count; i++ {
		val, n, err := Decode(b[offset:])
		if err != nil {
			return nil, 0, err
		}
		offset += n
		arr = append(arr, val)
	}
	return arr, 1 + offset, nil
}
