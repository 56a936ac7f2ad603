package hub

import "sync"

// Player receives media fanned out from a channel's publisher. Sessions
// implement this interface directly; the hub never imports the rtmp
// package, so any type with this shape can subscribe.
type Player interface {
	SessionID() string
	SendAudio(payload []byte, timestamp uint32) error
	SendVideo(payload []byte, timestamp uint32) error
	SendMetadata(metadata map[string]interface{}) error
	SendUnpublishNotify() error
	Close() error
}

// channel is one named stream: at most one active publisher, zero or more
// players, and the GOP cache that lets new players catch up instantly.
type channel struct {
	mu sync.Mutex

	publisherSessionID string
	publisherHandle    Player
	streamID           string

	players map[string]Player
	cache   *gopCache
}

func newChannel(gopCacheSizeMB int) *channel {
	return &channel{
		players: make(map[string]Player),
		cache:   newGopCache(gopCacheSizeMB),
	}
}

func (c *channel) hasPublisher() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publisherSessionID != ""
}

// tryAcquirePublisher attaches sessionID as this channel's publisher if
// none is currently attached. Returns false if a publisher is already
// active, enforcing the at-most-one-publisher-per-channel invariant.
func (c *channel) tryAcquirePublisher(sessionID, streamID string, handle Player) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.publisherSessionID != "" {
		return false
	}
	c.publisherSessionID = sessionID
	c.streamID = streamID
	c.publisherHandle = handle
	return true
}

// releasePublisher detaches the publisher if streamID matches the one
// currently attached (a stale session from a previous publish attempt
// cannot release a publisher that superseded it), then notifies every
// current player with NetStream.Play.UnpublishNotify. Players stay
// subscribed: a subsequent publish on the same channel reuses them rather
// than requiring them to resubscribe.
func (c *channel) releasePublisher(streamID string) {
	c.mu.Lock()
	released := false
	if c.streamID == streamID {
		c.publisherSessionID = ""
		c.publisherHandle = nil
		c.streamID = ""
		c.cache.frames = nil
		c.cache.size = 0
		released = true
	}
	c.mu.Unlock()

	if !released {
		return
	}
	for _, p := range c.snapshotPlayers() {
		_ = p.SendUnpublishNotify()
	}
}

// publisherForClose returns the currently attached publisher handle, or
// nil if none is attached.
func (c *channel) publisherForClose() Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publisherHandle
}

func (c *channel) currentStreamID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.streamID
}

// subscribe registers p and replays the cache atomically under c.mu, so a
// publish racing this call either lands entirely before the replay (and is
// part of it) or entirely after (and arrives as a live frame once this
// call returns) — never interleaved ahead of the GOP cache. Send* on a
// Player only enqueues to a buffered channel, so holding the lock across
// the replay doesn't stall a concurrent publisher for long.
func (c *channel) subscribe(p Player) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.players[p.SessionID()] = p
	c.cache.Flush(p)
}

func (c *channel) unsubscribe(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.players, sessionID)
}

func (c *channel) isEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.publisherSessionID == "" && len(c.players) == 0
}

func (c *channel) snapshotPlayers() []Player {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Player, 0, len(c.players))
	for _, p := range c.players {
		out = append(out, p)
	}
	return out
}

func (c *channel) publishAudio(payload []byte, timestamp uint32) {
	c.mu.Lock()
	c.cache.AddAudio(payload, timestamp)
	c.mu.Unlock()
	for _, p := range c.snapshotPlayers() {
		_ = p.SendAudio(payload, timestamp)
	}
}

func (c *channel) publishVideo(payload []byte, timestamp uint32, isKeyframe bool) {
	c.mu.Lock()
	c.cache.AddVideo(payload, timestamp, isKeyframe)
	c.mu.Unlock()
	for _, p := range c.snapshotPlayers() {
		_ = p.SendVideo(payload, timestamp)
	}
}

func (c *channel) publishMetadata(metadata map[string]interface{}) {
	c.mu.Lock()
	c.cache.SetMetadata(metadata)
	c.mu.Unlock()
	for _, p := range c.snapshotPlayers() {
		_ = p.SendMetadata(metadata)
	}
}

func (c *channel) setAVCSequenceHeader(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetAVCSequenceHeader(payload)
}

func (c *channel) setAACSequenceHeader(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.SetAACSequenceHeader(payload)
}
