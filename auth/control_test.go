package auth

import (
	"testing"

	"go.uber.org/zap"
)

func TestControlMessageSerializeParseRoundTrip(t *testing.T) {
	msg := newControlMessage("PUBLISH")
	msg = withParam(msg, "Request-Id", "42")
	msg = withParam(msg, "Stream-Channel", "chan1")

	parsed := parseControlMessage(msg.serialize())
	if parsed.msgType != "PUBLISH" {
		t.Fatalf("got msgType %q, want PUBLISH", parsed.msgType)
	}
	if parsed.get("Request-Id") != "42" {
		t.Fatalf("got Request-Id %q, want 42", parsed.get("Request-Id"))
	}
	if parsed.get("Stream-Channel") != "chan1" {
		t.Fatalf("got Stream-Channel %q, want chan1", parsed.get("Stream-Channel"))
	}
}

func TestControlMessageParseTypeOnly(t *testing.T) {
	parsed := parseControlMessage("HEARTBEAT")
	if parsed.msgType != "HEARTBEAT" {
		t.Fatalf("got %q, want HEARTBEAT", parsed.msgType)
	}
	if parsed.get("anything") != "" {
		t.Fatalf("expected no parameters on a bare heartbeat message")
	}
}

func TestControlMessageParseIsCaseInsensitiveOnKeys(t *testing.T) {
	parsed := parseControlMessage("PUBLISH-ACCEPT\nStream-Id: abc123\nRequest-Id: 7")
	if parsed.get("stream-id") != "abc123" {
		t.Fatalf("got %q, want abc123", parsed.get("stream-id"))
	}
	if parsed.get("REQUEST-ID") != "7" {
		t.Fatalf("got %q, want 7", parsed.get("REQUEST-ID"))
	}
}

func TestHandleMessageDispatchesStreamKill(t *testing.T) {
	a := NewControlAuthorizer(zap.NewNop(), "wss://example.invalid", "secret", "", "", false)
	var gotChannel, gotStreamID string
	a.OnKill = func(channel, streamID string) {
		gotChannel = channel
		gotStreamID = streamID
	}
	a.handleMessage(parseControlMessage("STREAM-KILL\nStream-Channel: chan1\nStream-Id: sid-1"))
	if gotChannel != "chan1" || gotStreamID != "sid-1" {
		t.Fatalf("got channel=%q streamID=%q", gotChannel, gotStreamID)
	}
}
