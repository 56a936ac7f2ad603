package auth

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	controlAuthTokenLifetime = time.Hour
	controlHeartbeatInterval = 20 * time.Second
	controlReadTimeout       = 60 * time.Second
	controlReconnectDelay    = 10 * time.Second
)

// controlMessage is the line-oriented message exchanged on the control
// channel: an uppercase type line followed by zero or more "key: value"
// parameter lines.
type controlMessage struct {
	msgType    string
	parameters map[string]string
}

func newControlMessage(msgType string) controlMessage {
	return controlMessage{msgType: msgType}
}

func parseControlMessage(raw string) controlMessage {
	lines := strings.Split(raw, "\n")
	var nonEmpty []string
	for _, l := range lines {
		if l != "" {
			nonEmpty = append(nonEmpty, l)
		}
	}
	if len(nonEmpty) == 0 {
		return newControlMessage("")
	}
	msg := controlMessage{msgType: strings.ToUpper(nonEmpty[0])}
	if len(nonEmpty) == 1 {
		return msg
	}
	msg.parameters = make(map[string]string, len(nonEmpty)-1)
	for _, line := range nonEmpty[1:] {
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		val := strings.TrimSpace(line[idx+1:])
		msg.parameters[key] = val
	}
	return msg
}

func (m controlMessage) get(name string) string {
	if m.parameters == nil {
		return ""
	}
	return m.parameters[strings.ToLower(name)]
}

func (m controlMessage) serialize() string {
	var b strings.Builder
	b.WriteString(strings.ToUpper(m.msgType))
	for k, v := range m.parameters {
		b.WriteByte('\n')
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(v)
	}
	return b.String()
}

func withParam(msg controlMessage, key, value string) controlMessage {
	if msg.parameters == nil {
		msg.parameters = make(map[string]string)
	}
	msg.parameters[key] = value
	return msg
}

// ControlAuthorizer maintains a persistent WebSocket connection to an
// external coordinator. Publish attempts are turned into PUBLISH requests
// correlated by a request id, and the coordinator may asynchronously
// request that a live stream be killed.
type ControlAuthorizer struct {
	logger *zap.Logger

	url          string
	secret       string
	externalIP   string
	externalPort string
	externalSSL  bool

	// OnKill is invoked when the coordinator sends STREAM-KILL. channel is
	// always set; streamID is empty for a whole-channel kill.
	OnKill func(channel, streamID string)

	mu          sync.Mutex
	connected   bool
	conn        *websocket.Conn
	requestSeq  uint64
	pending     map[uint64]chan Result
}

func NewControlAuthorizer(logger *zap.Logger, url, secret, externalIP, externalPort string, externalSSL bool) *ControlAuthorizer {
	return &ControlAuthorizer{
		logger:       logger,
		url:          url,
		secret:       secret,
		externalIP:   externalIP,
		externalPort: externalPort,
		externalSSL:  externalSSL,
		pending:      make(map[uint64]chan Result),
	}
}

// Run dials the control server and services the connection until stop is
// closed, reconnecting with a fixed back-off on every disconnect.
func (a *ControlAuthorizer) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		if err := a.runOnce(stop); err != nil {
			a.logger.Warn("control channel disconnected", zap.Error(err))
		}
		select {
		case <-stop:
			return
		case <-time.After(controlReconnectDelay):
		}
	}
}

func (a *ControlAuthorizer) runOnce(stop <-chan struct{}) error {
	header := http.Header{}
	header.Set("x-control-auth-token", a.authToken())
	if a.externalIP != "" {
		header.Set("x-external-ip", a.externalIP)
	}
	if a.externalPort != "" {
		header.Set("x-custom-port", a.externalPort)
	}
	if a.externalSSL {
		header.Set("x-ssl-use", "true")
	}

	conn, _, err := websocket.DefaultDialer.Dial(a.url, header)
	if err != nil {
		return err
	}
	a.logger.Info("control channel connected", zap.String("url", a.url))

	a.setConn(conn)
	defer a.clearConn()

	heartbeatStop := make(chan struct{})
	go a.heartbeatLoop(heartbeatStop)
	defer close(heartbeatStop)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(controlReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			a.rejectAllPending()
			return err
		}
		a.handleMessage(parseControlMessage(string(data)))

		select {
		case <-stop:
			return nil
		default:
		}
	}
}

func (a *ControlAuthorizer) authToken() string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "rtmp-control",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(controlAuthTokenLifetime)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(a.secret))
	if err != nil {
		a.logger.Error("failed to sign control auth token", zap.Error(err))
		return ""
	}
	return signed
}

func (a *ControlAuthorizer) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(controlHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			_ = a.send(newControlMessage("HEARTBEAT"))
		}
	}
}

func (a *ControlAuthorizer) setConn(conn *websocket.Conn) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conn = conn
	a.connected = true
}

func (a *ControlAuthorizer) clearConn() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.conn = nil
	a.connected = false
}

func (a *ControlAuthorizer) send(msg controlMessage) error {
	a.mu.Lock()
	conn := a.conn
	connected := a.connected
	a.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("auth: control channel not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(msg.serialize()))
}

func (a *ControlAuthorizer) handleMessage(msg controlMessage) {
	switch msg.msgType {
	case "PUBLISH-ACCEPT":
		a.completeRequest(msg, Result{Accepted: true, StreamID: msg.get("Stream-Id")})
	case "PUBLISH-DENY":
		a.completeRequest(msg, Reject)
	case "STREAM-KILL":
		channel := msg.get("Stream-Channel")
		streamID := msg.get("Stream-Id")
		if a.OnKill != nil && channel != "" {
			a.OnKill(channel, streamID)
		}
	case "ERROR":
		a.logger.Warn("control channel reported an error",
			zap.String("code", msg.get("Error-Code")), zap.String("message", msg.get("Error-Message")))
	case "HEARTBEAT":
	default:
		a.logger.Debug("unrecognized control message", zap.String("type", msg.msgType))
	}
}

func (a *ControlAuthorizer) completeRequest(msg controlMessage, result Result) {
	id, err := strconv.ParseUint(msg.get("Request-Id"), 10, 64)
	if err != nil {
		a.logger.Warn("control message missing a valid Request-Id", zap.String("type", msg.msgType))
		return
	}
	a.mu.Lock()
	ch, ok := a.pending[id]
	delete(a.pending, id)
	a.mu.Unlock()
	if ok {
		ch <- result
	}
}

func (a *ControlAuthorizer) rejectAllPending() {
	a.mu.Lock()
	pending := a.pending
	a.pending = make(map[uint64]chan Result)
	a.mu.Unlock()
	for _, ch := range pending {
		ch <- Reject
	}
}

// Authorize implements Authorizer by sending a PUBLISH request over the
// control channel and blocking for a correlated response. A Stop event sends
// UNPUBLISH and returns at once without waiting for a reply.
func (a *ControlAuthorizer) Authorize(rec Record) (Result, error) {
	if rec.Event == EventStop {
		msg := newControlMessage("UNPUBLISH")
		msg = withParam(msg, "Stream-Channel", rec.Channel)
		msg = withParam(msg, "Stream-Key", rec.Key)
		msg = withParam(msg, "Stream-Id", rec.StreamID)
		_ = a.send(msg)
		return Result{Accepted: true}, nil
	}

	a.mu.Lock()
	a.requestSeq++
	id := a.requestSeq
	respCh := make(chan Result, 1)
	a.pending[id] = respCh
	a.mu.Unlock()

	msg := newControlMessage("PUBLISH")
	msg = withParam(msg, "Request-Id", strconv.FormatUint(id, 10))
	msg = withParam(msg, "Stream-Channel", rec.Channel)
	msg = withParam(msg, "Stream-Key", rec.Key)
	msg = withParam(msg, "Client-Ip", rec.ClientIP)

	if err := a.send(msg); err != nil {
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return Reject, nil
	}

	select {
	case result := <-respCh:
		return result, nil
	case <-time.After(10 * time.Second):
		a.mu.Lock()
		delete(a.pending, id)
		a.mu.Unlock()
		return Reject, nil
	}
}
