package amf0

import (
	"reflect"
	"testing"
	"time"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		in   interface{}
	}{
		{"number", 3.0},
		{"boolean true", true},
		{"boolean false", false},
		{"string", "connect"},
		{"null", nil},
		{"undefined", Undefined{}},
		{"object", map[string]interface{}{"app": "live", "level": 2.0}},
		{"ecma array", ECMAArray{"code": "NetConnection.Connect.Success", "level": "status"}},
		{"strict array", []interface{}{1.0, "two", true}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			encoded, err := Encode(c.in)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			decoded, n, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if n != len(encoded) {
				t.Fatalf("consumed %d bytes, want %d", n, len(encoded))
			}
			if !reflect.DeepEqual(decoded, c.in) {
				t.Fatalf("got %#v, want %#v", decoded, c.in)
			}
		})
	}
}

func TestEncodeDecodeNestedObject(t *testing.T) {
	in := map[string]interface{}{
		"app":  "live",
		"tcUrl": "rtmp://example.com/live",
		"meta": map[string]interface{}{
			"width":  1920.0,
			"height": 1080.0,
		},
	}
	encoded, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d of %d bytes", n, len(encoded))
	}
	if !reflect.DeepEqual(decoded, in) {
		t.Fatalf("got %#v, want %#v", decoded, in)
	}
}

func TestDecodeDate(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	encoded := encodeDate(now)
	decoded, n, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if n != len(encoded) {
		t.Fatalf("consumed %d of %d bytes", n, len(encoded))
	}
	got, ok := decoded.(time.Time)
	if !ok {
		t.Fatalf("got %T, want time.Time", decoded)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v, want %v", got, now)
	}
}

func TestDecodeUnknownMarkerSurfacesError(t *testing.T) {
	_, _, err := Decode([]byte{0xFE})
	if err == nil {
		t.Fatal("expected an error for an unknown marker")
	}
	var unknown ErrUnknownMarker
	if e, ok := err.(ErrUnknownMarker); ok {
		unknown = e
	} else {
		t.Fatalf("got error %T, want ErrUnknownMarker", err)
	}
	if unknown.Marker != 0xFE {
		t.Fatalf("got marker 0x%02x, want 0xFE", unknown.Marker)
	}
}

func TestDecodeShortBuffer(t *testing.T) {
	_, _, err := Decode([]byte{TypeNumber, 0x00, 0x00})
	if err != ErrShortBuffer {
		t.Fatalf("got %v, want ErrShortBuffer", err)
	}
}
