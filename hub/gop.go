package hub

// frameKind distinguishes the media carried by a cached frame; metadata is
// cached separately from the ring, as it is not part of a GOP.
type frameKind uint8

const (
	frameAudio frameKind = iota
	frameVideo
)

// cachedFrame is one audio or video payload captured for the benefit of a
// player that subscribes mid-stream.
type cachedFrame struct {
	kind      frameKind
	payload   []byte
	timestamp uint32
}

// gopCache buffers media since the last keyframe so a newly subscribed
// player can be caught up instantly instead of waiting for the next one.
// It always starts at a keyframe: the arrival of a new keyframe discards
// whatever was buffered and starts fresh. A cache bounded at 0 bytes never
// retains anything, matching GOP_CACHE_SIZE_MB=0 disabling the feature.
type gopCache struct {
	capBytes int
	size     int
	frames   []cachedFrame

	metadata          map[string]interface{}
	avcSequenceHeader []byte
	aacSequenceHeader []byte
}

func newGopCache(capMB int) *gopCache {
	return &gopCache{capBytes: capMB * 1024 * 1024}
}

func (c *gopCache) enabled() bool {
	return c.capBytes > 0
}

// AddVideo appends a video frame to the cache. A keyframe always resets the
// buffer first, so the cache is never left holding a partial GOP with no
// keyframe at its head.
func (c *gopCache) AddVideo(payload []byte, timestamp uint32, isKeyframe bool) {
	if !c.enabled() {
		return
	}
	if isKeyframe {
		c.frames = c.frames[:0]
		c.size = 0
	} else if len(c.frames) == 0 {
		// Nothing buffered yet and this isn't a keyframe: there is no
		// valid GOP to start, so there is nothing useful to cache.
		return
	}
	c.append(cachedFrame{kind: frameVideo, payload: payload, timestamp: timestamp})
}

// AddAudio appends an audio frame, interleaved with the buffered GOP. Audio
// preceding the first keyframe is dropped along with the rest of the
// incomplete GOP.
func (c *gopCache) AddAudio(payload []byte, timestamp uint32) {
	if !c.enabled() || len(c.frames) == 0 {
		return
	}
	c.append(cachedFrame{kind: frameAudio, payload: payload, timestamp: timestamp})
}

func (c *gopCache) append(f cachedFrame) {
	if c.size+len(f.payload) > c.capBytes {
		// The GOP no longer fits the budget: drop it entirely rather than
		// truncating, so a late subscriber never gets a replay that looks
		// complete but is missing frames from the middle. Buffering stays
		// off until the next keyframe starts a fresh GOP.
		c.frames = nil
		c.size = 0
		return
	}
	c.frames = append(c.frames, f)
	c.size += len(f.payload)
}

func (c *gopCache) SetAVCSequenceHeader(payload []byte) { c.avcSequenceHeader = payload }
func (c *gopCache) SetAACSequenceHeader(payload []byte) { c.aacSequenceHeader = payload }

// SetMetadata records the most recent onMetaData payload published on the
// channel, so a player that subscribes later still sees it.
func (c *gopCache) SetMetadata(metadata map[string]interface{}) { c.metadata = metadata }

// Flush replays the retained metadata, sequence headers, and GOP, in that
// order, to a newly subscribed player.
func (c *gopCache) Flush(p Player) {
	if c.metadata != nil {
		_ = p.SendMetadata(c.metadata)
	}
	if c.avcSequenceHeader != nil {
		_ = p.SendVideo(c.avcSequenceHeader, 0)
	}
	if c.aacSequenceHeader != nil {
		_ = p.SendAudio(c.aacSequenceHeader, 0)
	}
	for _, f := range c.frames {
		if f.kind == frameVideo {
			_ = p.SendVideo(f.payload, f.timestamp)
		} else {
			_ = p.SendAudio(f.payload, f.timestamp)
		}
	}
}
