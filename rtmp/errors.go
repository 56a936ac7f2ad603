package rtmp

import "github.com/pkg/errors"

var (
	ErrInvalidID          = errors.New("rtmp: channel or key does not match the allowed id pattern")
	ErrUnauthorized       = errors.New("rtmp: publish attempt rejected")
	ErrChannelBusy        = errors.New("rtmp: channel already has an active publisher")
	ErrOutboundQueueFull  = errors.New("rtmp: outbound queue full, dropping session")
	ErrUnknownCommand     = errors.New("rtmp: received a command with no registered handler")
	ErrUnknownMessageType = errors.New("rtmp: message payload too short for its type")
	ErrSessionClosed      = errors.New("rtmp: session is closed")
)
