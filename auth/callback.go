package auth

import (
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const callbackJWTLifetime = 120 * time.Second

// callbackClaims mirrors the payload the control server validates: a
// standard set of registered claims plus the publish-attempt details.
type callbackClaims struct {
	jwt.RegisteredClaims
	Event     string `json:"event"`
	Channel   string `json:"channel"`
	Key       string `json:"key"`
	ClientIP  string `json:"client_ip,omitempty"`
	StreamID  string `json:"stream_id,omitempty"`
	RTMPPort  int    `json:"rtmp_port"`
	RTMPHost  string `json:"rtmp_host"`
}

// CallbackAuthorizer validates publish attempts by POSTing a signed JWT to
// an HTTP endpoint. A 200 response with a stream-id header accepts the
// request; anything else, including a transport error, rejects it.
type CallbackAuthorizer struct {
	logger      *zap.Logger
	client      *http.Client
	url         string
	secret      []byte
	subject     string
	rtmpHost    string
	rtmpPort    int
}

func NewCallbackAuthorizer(logger *zap.Logger, url, secret, subject, rtmpHost string, rtmpPort int) *CallbackAuthorizer {
	return &CallbackAuthorizer{
		logger:   logger,
		client:   &http.Client{Timeout: 10 * time.Second},
		url:      url,
		secret:   []byte(secret),
		subject:  subject,
		rtmpHost: rtmpHost,
		rtmpPort: rtmpPort,
	}
}

func (a *CallbackAuthorizer) Authorize(rec Record) (Result, error) {
	token, err := a.sign(rec)
	if err != nil {
		return Reject, errors.Wrap(err, "auth: signing callback token")
	}

	req, err := http.NewRequest(http.MethodPost, a.url, nil)
	if err != nil {
		return Reject, errors.Wrap(err, "auth: building callback request")
	}
	req.Header.Set("rtmp-event", token)

	resp, err := a.client.Do(req)
	if err != nil {
		if rec.Event == EventStart {
			a.logger.Warn("callback request failed, rejecting", zap.Error(err))
			return Reject, nil
		}
		// Stop events are fire-and-forget: the session is tearing down
		// regardless of whether the callback was reachable.
		a.logger.Warn("callback stop notification failed", zap.Error(err))
		return Result{Accepted: true}, nil
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if rec.Event == EventStop {
		return Result{Accepted: true}, nil
	}

	if resp.StatusCode != http.StatusOK {
		a.logger.Info("callback rejected publish attempt", zap.Int("status", resp.StatusCode))
		return Reject, nil
	}
	streamID := resp.Header.Get("stream-id")
	if streamID == "" {
		a.logger.Warn("callback accepted but returned no stream-id header")
		return Reject, nil
	}
	return Result{Accepted: true, StreamID: streamID}, nil
}

func (a *CallbackAuthorizer) sign(rec Record) (string, error) {
	now := time.Now()
	claims := callbackClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   a.subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(callbackJWTLifetime)),
		},
		Event:    string(rec.Event),
		Channel:  rec.Channel,
		Key:      rec.Key,
		ClientIP: rec.ClientIP,
		StreamID: rec.StreamID,
		RTMPPort: a.rtmpPort,
		RTMPHost: a.rtmpHost,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}
