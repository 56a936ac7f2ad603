package amf0

import (
	"bytes"
	"encoding/binary"
	"math"
	"time"

	"github.com/pkg/errors"
)

// Encode writes a single Go value as an AMF0-encoded byte slice. Supported
// types: float64, int, bool, string, map[string]interface{}, nil, ECMAArray,
// []interface{} (StrictArray), Undefined, time.Time.
func Encode(v interface{}) ([]byte, error) {
	switch t := v.(type) {
	case float64:
		return encodeNumber(t), nil
	case int:
		return encodeNumber(float64(t)), nil
	case bool:
		return encodeBoolean(t), nil
	case string:
		return encodeString(t), nil
	case map[string]interface{}:
		return encodeObject(t), nil
	case nil:
		return encodeNull(), nil
	case Undefined:
		return []byte{TypeUndefined}, nil
	case ECMAArray:
		return encodeECMAArray(t), nil
	case []interface{}:
		return encodeStrictArray(t)
	case time.Time:
		return encodeDate(t), nil
	default:
		return nil, errors.Errorf("amf0: cannot encode type %T", v)
	}
}

func encodeDate(t time.Time) []byte {
	timestamp := t.UnixNano() / 1000000
	var buf [11]byte
	buf[0] = TypeDate
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(float64(timestamp)))
	// bytes 9-10 are the time zone offset, always 0 per the AMF0 spec.
	return buf[:]
}

func encodeECMAArray(ecmaArray ECMAArray) []byte {
	obj := encodeObject(ecmaArray)
	// obj's payload is everything but the leading type byte, including the
	// trailing end-object marker; an ECMAArray is that payload prefixed by a
	// count.
	payloadLen := len(obj) - 1
	buf := make([]byte, 1+4+payloadLen)
	buf[0] = TypeECMAArray
	binary.BigEndian.PutUint32(buf[1:5], uint32(len(ecmaArray)))
	copy(buf[5:], obj[1:])
	return buf
}

func encodeStrictArray(arr []interface{}) ([]byte, error) {
	buf := &bytes.Buffer{}
	for _, elem := range arr {
		enc, err := Encode(elem)
		if err != nil {
			return nil, err
		}
		buf.Write(enc)
	}
	out := make([]byte, 5+buf.Len())
	out[0] = TypeStrictArray
	binary.BigEndian.PutUint32(out[1:5], uint32(len(arr)))
	copy(out[5:], buf.Bytes())
	return out, nil
}

func encodeNull() []byte {
	return []byte{TypeNull}
}

func encodeObject(m map[string]interface{}) []byte {
	buf := &bytes.Buffer{}
	for key, val := range m {
		writeKey(buf, key)
		enc, err := Encode(val)
		if err != nil {
			// A value this codec cannot encode is dropped from the
			// object rather than failing the whole message; callers
			// that need strict behavior should pre-validate values.
			continue
		}
		buf.Write(enc)
	}
	buf.Write(encodeObjectEnd())

	obj := make([]byte, 1+buf.Len())
	obj[0] = TypeObject
	copy(obj[1:], buf.Bytes())
	return obj
}

func writeKey(buf *bytes.Buffer, key string) {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(key)))
	buf.Write(lenBuf[:])
	buf.WriteString(key)
}

func encodeObjectEnd() []byte {
	return []byte{0x00, 0x00, TypeObjectEnd}
}

func encodeString(s string) []byte {
	if len(s) < 65535 {
		str := make([]byte, 3+len(s))
		str[0] = TypeString
		binary.BigEndian.PutUint16(str[1:3], uint16(len(s)))
		copy(str[3:], s)
		return str
	}
	str := make([]byte, 5+len(s))
	str[0] = TypeLongString
	binary.BigEndian.PutUint32(str[1:5], uint32(len(s)))
	copy(str[5:], s)
	return str
}

func encodeBoolean(b bool) []byte {
	if b {
		return []byte{TypeBoolean, 1}
	}
	return []byte{TypeBoolean, 0}
}

func encodeNumber(n float64) []byte {
	var buf [9]byte
	buf[0] = TypeNumber
	binary.BigEndian.PutUint64(buf[1:], math.Float64bits(n))
	return buf[:]
}
