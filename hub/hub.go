// Package hub fans out a channel's published media to its subscribed
// players, enforcing at most one active publisher per channel and caching
// the current group of pictures so new players start on a keyframe
// immediately instead of waiting for the next one.
package hub

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/rtmp/rand"
)

// ErrChannelBusy is returned by AcquirePublisher when the channel already
// has an active publisher.
var ErrChannelBusy = errors.New("hub: channel already has an active publisher")

// Hub owns the set of live channels. Each channel is locked independently,
// so publishing on one channel never contends with another.
type Hub struct {
	logger *zap.Logger

	gopCacheSizeMB int

	mu       sync.Mutex
	channels map[string]*channel
}

func NewHub(logger *zap.Logger, gopCacheSizeMB int) *Hub {
	return &Hub{
		logger:         logger,
		gopCacheSizeMB: gopCacheSizeMB,
		channels:       make(map[string]*channel),
	}
}

func (h *Hub) channelFor(name string) *channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.channels[name]
	if !ok {
		c = newChannel(h.gopCacheSizeMB)
		h.channels[name] = c
	}
	return c
}

// reapIfEmpty removes a channel from the registry once both its publisher
// and players are gone, so long-lived servers don't accumulate one channel
// entry per stream key ever seen.
func (h *Hub) reapIfEmpty(name string, c *channel) {
	if !c.isEmpty() {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.channels[name]; ok && cur == c && c.isEmpty() {
		delete(h.channels, name)
	}
}

// AcquirePublisher attaches sessionID as channel's publisher and returns the
// stream ID for this publish attempt. If streamID is empty (no external
// authorizer assigned one), a fresh one is generated. The stream ID is
// scoped to the session, not the channel: republishing the same channel
// later gets a new one, so close-stream commands can target exactly one
// publish attempt.
func (h *Hub) AcquirePublisher(channelName, sessionID, streamID string, handle Player) (string, error) {
	c := h.channelFor(channelName)
	if streamID == "" {
		streamID = rand.SessionID()
	}
	if !c.tryAcquirePublisher(sessionID, streamID, handle) {
		return "", ErrChannelBusy
	}
	h.logger.Info("publisher acquired", zap.String("channel", channelName), zap.String("streamID", streamID))
	return streamID, nil
}

// ReleasePublisher detaches the publisher for channelName if streamID is
// still the current one, then reaps the channel if it's now unused.
func (h *Hub) ReleasePublisher(channelName, streamID string) {
	c := h.channelFor(channelName)
	c.releasePublisher(streamID)
	h.reapIfEmpty(channelName, c)
}

// Subscribe registers p as a player on channelName and immediately
// replays any cached sequence headers and GOP so it can render right away.
func (h *Hub) Subscribe(channelName string, p Player) {
	c := h.channelFor(channelName)
	c.subscribe(p)
}

// Unsubscribe removes a player and reaps the channel if it's now unused.
func (h *Hub) Unsubscribe(channelName, sessionID string) {
	c := h.channelFor(channelName)
	c.unsubscribe(sessionID)
	h.reapIfEmpty(channelName, c)
}

func (h *Hub) ChannelExists(channelName string) bool {
	h.mu.Lock()
	c, ok := h.channels[channelName]
	h.mu.Unlock()
	return ok && c.hasPublisher()
}

func (h *Hub) CurrentStreamID(channelName string) string {
	return h.channelFor(channelName).currentStreamID()
}

func (h *Hub) PublishAudio(channelName string, payload []byte, timestamp uint32) {
	h.channelFor(channelName).publishAudio(payload, timestamp)
}

func (h *Hub) PublishVideo(channelName string, payload []byte, timestamp uint32, isKeyframe bool) {
	h.channelFor(channelName).publishVideo(payload, timestamp, isKeyframe)
}

func (h *Hub) PublishMetadata(channelName string, metadata map[string]interface{}) {
	h.channelFor(channelName).publishMetadata(metadata)
}

func (h *Hub) SetAVCSequenceHeader(channelName string, payload []byte) {
	h.channelFor(channelName).setAVCSequenceHeader(payload)
}

func (h *Hub) SetAACSequenceHeader(channelName string, payload []byte) {
	h.channelFor(channelName).setAACSequenceHeader(payload)
}

// KillChannel implements both command grammars the command subscriber
// receives: with an empty streamID it tears down the whole channel
// (kill-session) — publisher and every player. With a non-empty one
// (close-stream) it only acts if that stream ID is still the channel's
// current publish attempt, and only closes that publisher: players are
// left subscribed, same as an ordinary unpublish, so a later publisher on
// the same channel name picks them back up.
func (h *Hub) KillChannel(channelName, streamID string) {
	h.mu.Lock()
	c, ok := h.channels[channelName]
	h.mu.Unlock()
	if !ok {
		return
	}

	current := c.currentStreamID()
	if streamID != "" && current != streamID {
		return
	}

	if streamID == "" {
		for _, p := range c.snapshotPlayers() {
			_ = p.Close()
		}
	}
	if pub := c.publisherForClose(); pub != nil {
		_ = pub.Close()
	}
	c.releasePublisher(current)
	h.logger.Info("channel killed", zap.String("channel", channelName), zap.String("streamID", streamID))
	h.reapIfEmpty(channelName, c)
}
