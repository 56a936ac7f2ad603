// Package amf3 implements encoding and decoding of the subset of AMF3
// (Action Message Format version 3) values that RTMP command/data messages
// on chunk type 15/17 actually carry: Undefined, Null, Boolean, Integer,
// Double, String, Date, Array, and dynamic (trait-less) Object.
package amf3

import "github.com/pkg/errors"

// MaxInt and MinInt bound the range an AMF3 U29 integer can represent.
// Values outside this range are encoded as a Double instead.
const (
	MaxInt = 268435455
	MinInt = -268435456
)

const (
	TypeUndefined    byte = 0x00
	TypeNull         byte = 0x01
	TypeFalse        byte = 0x02
	TypeTrue         byte = 0x03
	TypeInteger      byte = 0x04
	TypeDouble       byte = 0x05
	TypeString       byte = 0x06
	TypeXMLDoc       byte = 0x07
	TypeDate         byte = 0x08
	TypeArray        byte = 0x09
	TypeObject       byte = 0x0A
	TypeXML          byte = 0x0B
	TypeByteArray    byte = 0x0C
	TypeVectorInt    byte = 0x0D
	TypeVectorUint   byte = 0x0E
	TypeVectorDouble byte = 0x0F
	TypeVectorObject byte = 0x10
	TypeDictionary   byte = 0x11
)

// traitsDynamic is the single trait byte this codec ever writes: dynamic
// member count, no sealed members, not a trait reference. Every object this
// server emits or accepts is an anonymous dynamic object (AMF3 §3.12),
// matching what RTMP clients actually send on the command channel.
const traitsDynamic byte = 0x0B

// UTF8Empty is the U29S-value header for a zero-length inline string
// (an empty string is never a reference, so this is always a single byte).
const UTF8Empty byte = 0x01

// Undefined represents the AMF3 "undefined" value, distinct from nil (Null).
type Undefined struct{}

// ErrUnsupported is returned for AMF3 markers this codec intentionally does
// not implement (XML, ByteArray, vectors, dictionaries, typed objects with
// sealed members) — none of which appear on the RTMP command channel.
var ErrUnsupported = errors.New("amf3: unsupported or non-dynamic value")
