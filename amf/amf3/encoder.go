package amf3

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encode writes v as an AMF3-encoded byte slice. Supported types: nil,
// Undefined, bool, int, float64, string, time.Time, []interface{},
// map[string]interface{}.
//
// Integers outside [MinInt, MaxInt] are encoded as a Double, per the AMF3
// spec's U29 range limit.
func Encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte{TypeNull}, nil
	case Undefined:
		return []byte{TypeUndefined}, nil
	case bool:
		return encodeBool(t), nil
	case int:
		return encodeInt(t), nil
	case uint:
		return encodeInt(int(t)), nil
	case float64:
		return encodeDouble(t), nil
	case string:
		return encodeString(t), nil
	case time.Time:
		return encodeDate(t), nil
	case []interface{}:
		return encodeArray(t)
	case map[string]interface{}:
		return encodeObject(t)
	default:
		return nil, errors.Errorf("amf3: cannot encode type %T", v)
	}
}

// encodeU29 writes the raw variable-length U29 bits with no leading type
// marker, used for array/string/object length-or-reference headers.
func encodeU29(i uint32) []byte {
	i &= 0x1FFFFFFF
	const cont = 0x80
	switch {
	case i <= 0x7F:
		return []byte{byte(i)}
	case i <= 0x3FFF:
		return []byte{byte((i>>7)&0x7F) | cont, byte(i & 0x7F)}
	case i <= 0x1FFFFF:
		return []byte{byte((i>>14)&0x7F) | cont, byte((i>>7)&0x7F) | cont, byte(i & 0x7F)}
	default:
		return []byte{byte((i>>22)&0x7F) | cont, byte((i>>15)&0x7F) | cont, byte((i>>8)&0x7F) | cont, byte(i)}
	}
}

// inlineRef encodes n shifted left one bit with the inline flag set, the
// form used by String/Array/Object U29 headers to mean "n items follow,
// this is not a back-reference."
func inlineRef(n int) []byte {
	return encodeU29(uint32(n)<<1 | 1)
}

func encodeInt(i int) []byte {
	if i >= MinInt && i <= MaxInt {
		var v uint32
		if i < 0 {
			v = uint32(i) & 0x1FFFFFFF
		} else {
			v = uint32(i)
		}
		return append([]byte{TypeInteger}, encodeU29(v)...)
	}
	return encodeDouble(float64(i))
}

func encodeDouble(f float64) []byte {
	var buf [9]byte
	buf[0] = TypeDouble
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(f))
	return buf[:]
}

func encodeBool(b bool) []byte {
	if b {
		return []byte{TypeTrue}
	}
	return []byte{TypeFalse}
}

func encodeString(s string) []byte {
	if s == "" {
		return []byte{TypeString, UTF8Empty}
	}
	buf := append([]byte{TypeString}, inlineRef(len(s))...)
	return append(buf, s...)
}

func encodeDate(t time.Time) []byte {
	timestamp := t.UnixNano() / int64(time.Millisecond)
	buf := append([]byte{TypeDate}, encodeU29(1)...) // 1: inline, not a reference
	var d [8]byte
	binary.BigEndian.PutUint64(d[:], math.Float64bits(float64(timestamp)))
	return append(buf, d[:]...)
}

func encodeArray(arr []interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(TypeArray)
	buf.Write(inlineRef(len(arr)))
	buf.WriteByte(UTF8Empty) // empty key terminates the associative portion
	for _, elem := range arr {
		enc, err := Encode(elem)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	return buf.Bytes(), nil
}

// encodeObject writes m as an anonymous dynamic AMF3 object: traits byte,
// empty class name, then key/value pairs terminated by an empty key.
func encodeObject(m map[string]interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte(TypeObject)
	buf.WriteByte(traitsDynamic)
	buf.WriteByte(UTF8Empty) // empty class name: anonymous object

	for key, val := range m {
		buf.Write(inlineRef(len(key)))
		buf.WriteString(key)
		enc, err := Encode(val)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	buf.WriteByte(UTF8Empty)
	return buf.Bytes(), nil
}
