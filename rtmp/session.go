package rtmp

import (
	"bufio"
	"fmt"
	"net"
	"regexp"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/admission"
	"github.com/riverfeed/rtmpcast/auth"
	"github.com/riverfeed/rtmpcast/config"
	"github.com/riverfeed/rtmpcast/hub"
	"github.com/riverfeed/rtmpcast/rtmp/rand"
)

// State is a position in the per-connection RTMP conversation.
type State int

const (
	StateHandshaking State = iota
	StateConnecting
	StateIdle
	StatePublishing
	StatePlaying
	StateClosed
)

// Deps are the collaborators a Session needs beyond the raw connection.
// Authorizer and Admission may be nil: a nil Authorizer accepts every
// publish attempt (useful for local development with neither callback nor
// control-channel auth configured); a nil Admission skips the play
// whitelist check.
type Deps struct {
	Hub        *hub.Hub
	Authorizer auth.Authorizer
	Admission  *admission.Controller
	Config     *config.Config
	Logger     *zap.Logger
}

// Session is one RTMP connection: the connect/createStream/publish-or-play
// state machine, the chunk codec driving it, and the bounded outbound queue
// that decouples this connection's write path from every other session's.
type Session struct {
	id     string
	logger *zap.Logger
	conn   net.Conn

	hub        *hub.Hub
	authorizer auth.Authorizer
	admission  *admission.Controller
	cfg        *config.Config
	idPattern  *regexp.Regexp

	remoteIP string

	cr *ChunkReader
	cw *ChunkWriter

	mu            sync.Mutex
	state         State
	channel       string
	key           string
	streamID      string
	isPublisher   bool
	isPlayer      bool
	mediaStreamID uint32

	outboundMu     sync.Mutex
	outboundClosed bool
	outbound       chan func(cw *ChunkWriter) error

	closeOnce sync.Once
}

// NewSession wires a freshly accepted connection to its collaborators. The
// caller still must call Start to drive the handshake and message loop.
func NewSession(conn net.Conn, deps Deps) *Session {
	host := conn.RemoteAddr().String()
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return &Session{
		id:         rand.SessionID(),
		logger:     deps.Logger,
		conn:       conn,
		hub:        deps.Hub,
		authorizer: deps.Authorizer,
		admission:  deps.Admission,
		cfg:        deps.Config,
		idPattern:  regexp.MustCompile(fmt.Sprintf("^[a-z0-9_-]{1,%d}$", deps.Config.IDMaxLength)),
		remoteIP:   host,
		outbound:   make(chan func(cw *ChunkWriter) error, deps.Config.MsgBufferSize),
		state:      StateHandshaking,
	}
}

func (s *Session) SessionID() string { return s.id }

// Start performs the handshake and then services inbound messages until
// the connection closes or a protocol error occurs. The outbound writer
// runs on its own goroutine for the lifetime of the session.
func (s *Session) Start() error {
	defer s.Close()

	_ = s.conn.SetDeadline(time.Now().Add(config.DefaultHandshakeTimeout))
	br := bufio.NewReader(s.conn)
	bw := bufio.NewWriter(s.conn)
	if err := Handshake(br, bw); err != nil {
		return errors.Wrap(err, "rtmp: handshake")
	}
	_ = s.conn.SetDeadline(time.Time{})

	s.cr = NewChunkReader(br)
	s.cw = NewChunkWriter(bw)
	s.setState(StateConnecting)

	go s.writeLoop()

	for {
		header, payload, err := s.cr.ReadMessage()
		if err != nil {
			return err
		}
		if err := s.dispatch(header, payload); err != nil {
			return err
		}
		if s.getState() == StateClosed {
			return nil
		}
	}
}

func (s *Session) writeLoop() {
	for fn := range s.outbound {
		if err := fn(s.cw); err != nil {
			s.logger.Debug("rtmp: outbound write failed", zap.String("session", s.id), zap.Error(err))
			_ = s.Close()
			return
		}
	}
}

// enqueue hands fn to the writer goroutine without blocking. A full queue
// means this session's consumer (or the session itself, if it is a
// publisher receiving acks) is too slow to keep up; per the slow-consumer
// policy the session is dropped rather than stalling its producer.
func (s *Session) enqueue(fn func(cw *ChunkWriter) error) error {
	s.outboundMu.Lock()
	if s.outboundClosed {
		s.outboundMu.Unlock()
		return ErrSessionClosed
	}
	select {
	case s.outbound <- fn:
		s.outboundMu.Unlock()
		return nil
	default:
		s.outboundMu.Unlock()
		s.logger.Warn("rtmp: outbound queue full, dropping session", zap.String("session", s.id))
		_ = s.Close()
		return ErrOutboundQueueFull
	}
}

// Close tears the session down exactly once: it stops the writer, closes
// the socket, and unregisters from the Hub under whatever role (publisher
// or player) the session held.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.setState(StateClosed)

		s.outboundMu.Lock()
		s.outboundClosed = true
		close(s.outbound)
		s.outboundMu.Unlock()

		_ = s.conn.Close()
		s.teardown()
	})
	return nil
}

func (s *Session) teardown() {
	s.mu.Lock()
	channel := s.channel
	key := s.key
	streamID := s.streamID
	wasPublisher := s.isPublisher
	wasPlayer := s.isPlayer
	s.mu.Unlock()

	if wasPublisher && channel != "" {
		s.hub.ReleasePublisher(channel, streamID)
		if s.authorizer != nil {
			_, err := s.authorizer.Authorize(auth.Record{
				Channel: channel, Key: key, ClientIP: s.remoteIP,
				RTMPHost: s.cfg.RTMPHost, RTMPPort: s.cfg.RTMPPort,
				Event: auth.EventStop, StreamID: streamID,
			})
			if err != nil {
				s.logger.Debug("rtmp: stop notification failed", zap.Error(err))
			}
		}
	}
	if wasPlayer && channel != "" {
		s.hub.Unsubscribe(channel, s.id)
	}
	if s.admission != nil {
		s.admission.Release(s.remoteIP)
	}
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) getState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) isPublishing() bool {
	return s.getState() == StatePublishing
}

func (s *Session) setChannel(channel string) {
	s.mu.Lock()
	s.channel = channel
	s.mu.Unlock()
}

func (s *Session) getMediaStreamID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaStreamID
}

// SendAudio, SendVideo, SendMetadata, and SendUnpublishNotify implement
// hub.Player: they queue an outbound write rather than writing directly,
// so a slow player never makes the Hub (and therefore the publisher)
// block.
func (s *Session) SendAudio(payload []byte, timestamp uint32) error {
	streamID := s.getMediaStreamID()
	return s.enqueue(func(cw *ChunkWriter) error {
		return sendAudio(cw, streamID, payload, timestamp)
	})
}

func (s *Session) SendVideo(payload []byte, timestamp uint32) error {
	streamID := s.getMediaStreamID()
	return s.enqueue(func(cw *ChunkWriter) error {
		return sendVideo(cw, streamID, payload, timestamp)
	})
}

func (s *Session) SendMetadata(metadata map[string]interface{}) error {
	streamID := s.getMediaStreamID()
	return s.enqueue(func(cw *ChunkWriter) error {
		return sendMetadata(cw, streamID, metadata)
	})
}

// SendUnpublishNotify tells a player its channel's publisher went away.
// The player itself stays subscribed: a later publish on the same channel
// picks it back up without it having to replay.
func (s *Session) SendUnpublishNotify() error {
	streamID := s.getMediaStreamID()
	return s.enqueue(func(cw *ChunkWriter) error {
		return sendStatusMessage(cw, streamID, "status", "NetStream.Play.UnpublishNotify", "Publisher stopped streaming.")
	})
}
