// Package command ingests externally issued termination commands over a
// Redis pub/sub channel and routes them to the Channel Hub.
package command

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/config"
)

// HubKiller is the one Hub operation the command subscriber needs. Both
// recognized command grammars map onto it: an empty streamID tears down the
// whole channel, a non-empty one only closes a matching publish attempt.
type HubKiller interface {
	KillChannel(channel, streamID string)
}

const reconnectDelay = 10 * time.Second

// Subscriber maintains a Redis subscription to config.RedisChannel,
// reconnecting with a fixed back-off whenever the connection drops.
type Subscriber struct {
	logger  *zap.Logger
	client  *redis.Client
	channel string
	hub     HubKiller
}

func New(logger *zap.Logger, cfg *config.Config, hub HubKiller) *Subscriber {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return &Subscriber{
		logger:  logger,
		client:  redis.NewClient(opts),
		channel: cfg.RedisChannel,
		hub:     hub,
	}
}

// Run subscribes and processes commands until ctx is canceled, reconnecting
// on any disconnection. It blocks; callers run it on its own goroutine.
func (s *Subscriber) Run(ctx context.Context) {
	for {
		if err := s.runOnce(ctx); err != nil {
			s.logger.Warn("command: subscriber disconnected", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

func (s *Subscriber) runOnce(ctx context.Context) error {
	pubsub := s.client.Subscribe(ctx, s.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return errors.Wrap(err, "command: subscribe")
	}
	s.logger.Info("command: subscribed", zap.String("channel", s.channel))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("command: subscription channel closed")
			}
			s.handle(msg.Payload)
		}
	}
}

func (s *Subscriber) handle(raw string) {
	name, args := parseCommand(raw)
	switch name {
	case "kill-session":
		if len(args) != 1 || args[0] == "" {
			s.logger.Debug("command: malformed kill-session", zap.String("raw", raw))
			return
		}
		s.hub.KillChannel(args[0], "")
	case "close-stream":
		if len(args) != 2 || args[0] == "" || args[1] == "" {
			s.logger.Debug("command: malformed close-stream", zap.String("raw", raw))
			return
		}
		s.hub.KillChannel(args[0], args[1])
	default:
		s.logger.Debug("command: unrecognized command", zap.String("raw", raw))
	}
}

// parseCommand splits "name>arg1|arg2|..." into the command name and its
// argument list; a bare name with no ">" has no arguments.
func parseCommand(raw string) (string, []string) {
	name, rest, found := strings.Cut(raw, ">")
	if !found {
		return raw, nil
	}
	if rest == "" {
		return name, nil
	}
	return name, strings.Split(rest, "|")
}
