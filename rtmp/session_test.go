package rtmp

import (
	"bufio"
	"bytes"
	"fmt"
	"net"
	"regexp"
	"testing"

	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/config"
	"github.com/riverfeed/rtmpcast/hub"
	"github.com/riverfeed/rtmpcast/rtmp/rand"
)

// newTestSession builds a Session with its protocol collaborators wired up
// but no real network loop running, so command handlers can be exercised
// directly without a handshake or a peer on the other end.
func newTestSession(t *testing.T, h *hub.Hub) *Session {
	t.Helper()
	serverConn, clientConn := net.Pipe()
	t.Cleanup(func() {
		_ = serverConn.Close()
		_ = clientConn.Close()
	})

	cfg := &config.Config{
		IDMaxLength:   32,
		RTMPChunkSize: 4096,
		RTMPHost:      "localhost",
		RTMPPort:      1935,
		MsgBufferSize: 8,
	}

	return &Session{
		id:        rand.SessionID(),
		logger:    zap.NewNop(),
		conn:      serverConn,
		hub:       h,
		cfg:       cfg,
		idPattern: regexp.MustCompile(fmt.Sprintf("^[a-z0-9_-]{1,%d}$", cfg.IDMaxLength)),
		cw:        NewChunkWriter(bufio.NewWriter(new(bytes.Buffer))),
		outbound:  make(chan func(cw *ChunkWriter) error, cfg.MsgBufferSize),
		state:     StateConnecting,
	}
}

func TestOnConnectTransitionsToIdle(t *testing.T) {
	s := newTestSession(t, hub.NewHub(zap.NewNop(), 16))
	if err := s.onConnect(1, map[string]interface{}{"app": "live"}); err != nil {
		t.Fatalf("onConnect: %v", err)
	}
	if got := s.getState(); got != StateIdle {
		t.Fatalf("got state %v, want StateIdle", got)
	}
	if s.channel != "live" {
		t.Fatalf("got channel %q, want %q", s.channel, "live")
	}
}

func TestOnPublishRejectsInvalidPattern(t *testing.T) {
	s := newTestSession(t, hub.NewHub(zap.NewNop(), 16))
	s.state = StateIdle
	s.channel = "Not Valid!"

	if err := s.onPublish(1, "key"); err != ErrUnauthorized {
		t.Fatalf("got %v, want ErrUnauthorized", err)
	}
}

func TestOnPublishAcceptsAndTransitionsToPublishing(t *testing.T) {
	h := hub.NewHub(zap.NewNop(), 16)
	s := newTestSession(t, h)
	s.state = StateIdle
	s.channel = "live"

	if err := s.onPublish(1, "secret"); err != nil {
		t.Fatalf("onPublish: %v", err)
	}
	if got := s.getState(); got != StatePublishing {
		t.Fatalf("got state %v, want StatePublishing", got)
	}
	if !h.ChannelExists("live") {
		t.Fatal("hub should report an active publisher for the channel")
	}
}

func TestDuplicatePublishRejectedAtSessionLevel(t *testing.T) {
	h := hub.NewHub(zap.NewNop(), 16)

	first := newTestSession(t, h)
	first.state = StateIdle
	first.channel = "live"
	if err := first.onPublish(1, "secret"); err != nil {
		t.Fatalf("first onPublish: %v", err)
	}

	second := newTestSession(t, h)
	second.state = StateIdle
	second.channel = "live"
	if err := second.onPublish(1, "other-secret"); err != ErrUnauthorized {
		t.Fatalf("got %v, want ErrUnauthorized for a duplicate publisher", err)
	}
	if got := second.getState(); got == StatePublishing {
		t.Fatal("second session should not have transitioned to publishing")
	}
}

func TestOnPlayRejectsInvalidPattern(t *testing.T) {
	s := newTestSession(t, hub.NewHub(zap.NewNop(), 16))
	s.state = StateIdle
	s.channel = "live"

	if err := s.onPlay(1, "Not Valid!"); err != ErrInvalidID {
		t.Fatalf("got %v, want ErrInvalidID", err)
	}
}

func TestOnPlayAcceptsBeforeAnyPublisherExists(t *testing.T) {
	h := hub.NewHub(zap.NewNop(), 16)
	s := newTestSession(t, h)
	s.state = StateIdle
	s.channel = "live"

	if err := s.onPlay(1, "viewer"); err != nil {
		t.Fatalf("onPlay: %v", err)
	}
	if got := s.getState(); got != StatePlaying {
		t.Fatalf("got state %v, want StatePlaying", got)
	}
}
