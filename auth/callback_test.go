package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

func TestCallbackSignVerifyRoundTrip(t *testing.T) {
	a := NewCallbackAuthorizer(zap.NewNop(), "http://example.invalid", "s3cr3t", "rtmp_event", "rtmp.example", 1935)
	rec := Record{Channel: "chan1", Key: "k1", ClientIP: "10.0.0.1", Event: EventStart}

	token, err := a.sign(rec)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(token, &callbackClaims{}, func(t *jwt.Token) (interface{}, error) {
		return []byte("s3cr3t"), nil
	})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	claims := parsed.Claims.(*callbackClaims)
	if claims.Channel != "chan1" || claims.Key != "k1" || claims.Event != "start" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.RTMPHost != "rtmp.example" || claims.RTMPPort != 1935 {
		t.Fatalf("unexpected rtmp host/port in claims: %+v", claims)
	}
}

func TestCallbackAuthorizeAccept(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("rtmp-event") == "" {
			t.Error("expected rtmp-event header to be set")
		}
		w.Header().Set("stream-id", "abcdef")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewCallbackAuthorizer(zap.NewNop(), srv.URL, "s3cr3t", "rtmp_event", "rtmp.example", 1935)
	result, err := a.Authorize(Record{Channel: "chan1", Key: "k1", Event: EventStart})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !result.Accepted || result.StreamID != "abcdef" {
		t.Fatalf("got %+v, want accepted with stream-id abcdef", result)
	}
}

func TestCallbackAuthorizeRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	a := NewCallbackAuthorizer(zap.NewNop(), srv.URL, "s3cr3t", "rtmp_event", "rtmp.example", 1935)
	result, err := a.Authorize(Record{Channel: "chan1", Key: "k1", Event: EventStart})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected rejection on non-200 response")
	}
}

func TestCallbackAuthorizeRejectsMissingStreamID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := NewCallbackAuthorizer(zap.NewNop(), srv.URL, "s3cr3t", "rtmp_event", "rtmp.example", 1935)
	result, err := a.Authorize(Record{Channel: "chan1", Key: "k1", Event: EventStart})
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if result.Accepted {
		t.Fatal("expected rejection when stream-id header is absent")
	}
}
