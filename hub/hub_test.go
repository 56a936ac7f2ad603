package hub

import (
	"testing"

	"go.uber.org/zap"
)

type fakePlayer struct {
	id               string
	audio            [][]byte
	video            [][]byte
	metadata         []map[string]interface{}
	unpublishNotices int
	closed           bool
}

func (f *fakePlayer) SessionID() string { return f.id }
func (f *fakePlayer) SendAudio(payload []byte, timestamp uint32) error {
	f.audio = append(f.audio, payload)
	return nil
}
func (f *fakePlayer) SendVideo(payload []byte, timestamp uint32) error {
	f.video = append(f.video, payload)
	return nil
}
func (f *fakePlayer) SendMetadata(metadata map[string]interface{}) error {
	f.metadata = append(f.metadata, metadata)
	return nil
}
func (f *fakePlayer) SendUnpublishNotify() error { f.unpublishNotices++; return nil }
func (f *fakePlayer) Close() error               { f.closed = true; return nil }

func TestDuplicatePublisherRejected(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	if _, err := h.AcquirePublisher("live", "session-1", "", &fakePlayer{id: "session-1"}); err != nil {
		t.Fatalf("first publisher should be accepted: %v", err)
	}
	if _, err := h.AcquirePublisher("live", "session-2", "", &fakePlayer{id: "session-2"}); err != ErrChannelBusy {
		t.Fatalf("got %v, want ErrChannelBusy", err)
	}
}

func TestAcquirePublisherHonorsExternallyAssignedStreamID(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	streamID, err := h.AcquirePublisher("live", "pub", "authorizer-assigned-id", &fakePlayer{id: "pub"})
	if err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	if streamID != "authorizer-assigned-id" {
		t.Fatalf("got streamID %q, want the externally assigned one", streamID)
	}
}

func TestReleaseThenReacquire(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	streamID, err := h.AcquirePublisher("live", "session-1", "", &fakePlayer{id: "session-1"})
	if err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	h.ReleasePublisher("live", streamID)
	if _, err := h.AcquirePublisher("live", "session-2", "", &fakePlayer{id: "session-2"}); err != nil {
		t.Fatalf("expected reacquire to succeed: %v", err)
	}
}

func TestGopCacheReplaysToNewPlayer(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	if _, err := h.AcquirePublisher("live", "pub", "", &fakePlayer{id: "pub"}); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}

	h.PublishVideo("live", []byte("not-a-keyframe"), 0, false) // dropped: no keyframe yet
	h.PublishVideo("live", []byte("keyframe"), 10, true)
	h.PublishAudio("live", []byte("audio-1"), 15)
	h.PublishVideo("live", []byte("interframe"), 40, false)

	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)

	if len(player.video) != 2 {
		t.Fatalf("got %d cached video frames, want 2", len(player.video))
	}
	if string(player.video[0]) != "keyframe" {
		t.Fatalf("first replayed video frame should be the keyframe, got %q", player.video[0])
	}
	if len(player.audio) != 1 {
		t.Fatalf("got %d cached audio frames, want 1", len(player.audio))
	}
}

func TestGopCacheDisabledAtZero(t *testing.T) {
	h := NewHub(zap.NewNop(), 0)
	if _, err := h.AcquirePublisher("live", "pub", "", &fakePlayer{id: "pub"}); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	h.PublishVideo("live", []byte("keyframe"), 0, true)

	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)
	if len(player.video) != 0 {
		t.Fatalf("expected no cached frames with GOP cache disabled, got %d", len(player.video))
	}
}

func TestKillChannelClosesPublisherAndPlayers(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	pub := &fakePlayer{id: "pub"}
	streamID, err := h.AcquirePublisher("live", "pub", "", pub)
	if err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)

	h.KillChannel("live", "")

	if !pub.closed {
		t.Fatal("publisher should be closed by kill-session")
	}
	if !player.closed {
		t.Fatal("player should be closed by kill-session")
	}
	if h.ChannelExists("live") {
		t.Fatal("channel should no longer have an active publisher")
	}

	_ = streamID
}

func TestGopCacheReplaysMetadataBeforeSequenceHeadersAndFrames(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	if _, err := h.AcquirePublisher("live", "pub", "", &fakePlayer{id: "pub"}); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}

	h.PublishMetadata("live", map[string]interface{}{"width": 1280})
	h.SetAVCSequenceHeader("live", []byte("avc-header"))
	h.PublishVideo("live", []byte("keyframe"), 10, true)

	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)

	if len(player.metadata) != 1 {
		t.Fatalf("got %d replayed metadata payloads, want 1", len(player.metadata))
	}
	if player.metadata[0]["width"] != 1280 {
		t.Fatalf("got metadata %v, want the retained onMetaData payload", player.metadata[0])
	}
	if len(player.video) != 2 {
		t.Fatalf("got %d replayed video frames, want avc header + keyframe", len(player.video))
	}
	if string(player.video[0]) != "avc-header" {
		t.Fatalf("sequence header should replay before GOP frames, got %q first", player.video[0])
	}
}

func TestMetadataRetainedAcrossLateSubscribe(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	if _, err := h.AcquirePublisher("live", "pub", "", &fakePlayer{id: "pub"}); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	h.PublishMetadata("live", map[string]interface{}{"codec": "h264"})

	early := &fakePlayer{id: "player-early"}
	h.Subscribe("live", early)
	late := &fakePlayer{id: "player-late"}
	h.Subscribe("live", late)

	if len(late.metadata) != 1 {
		t.Fatalf("late subscriber should still receive the retained metadata, got %d payloads", len(late.metadata))
	}
}

func TestReleasePublisherNotifiesPlayersAndKeepsThemSubscribed(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	streamID, err := h.AcquirePublisher("live", "pub", "", &fakePlayer{id: "pub"})
	if err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)

	h.ReleasePublisher("live", streamID)

	if player.unpublishNotices != 1 {
		t.Fatalf("got %d unpublish notices, want 1", player.unpublishNotices)
	}

	// A later publisher on the same channel picks the player back up
	// without it having to resubscribe.
	if _, err := h.AcquirePublisher("live", "pub-2", "", &fakePlayer{id: "pub-2"}); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	h.PublishVideo("live", []byte("frame-after-republish"), 20, true)
	if len(player.video) != 1 || string(player.video[0]) != "frame-after-republish" {
		t.Fatalf("reused player should keep receiving live frames, got %v", player.video)
	}
}

func TestKillChannelCloseStreamFiltersByStreamID(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	pub := &fakePlayer{id: "pub"}
	if _, err := h.AcquirePublisher("live", "pub", "", pub); err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}

	h.KillChannel("live", "some-other-stream-id")
	if pub.closed {
		t.Fatal("close-stream with a mismatched stream ID must not close the current publisher")
	}

	current := h.CurrentStreamID("live")
	h.KillChannel("live", current)
	if !pub.closed {
		t.Fatal("close-stream with the matching stream ID must close the publisher")
	}
}

func TestKillChannelCloseStreamLeavesPlayersSubscribed(t *testing.T) {
	h := NewHub(zap.NewNop(), 16)
	pub := &fakePlayer{id: "pub"}
	streamID, err := h.AcquirePublisher("live", "pub", "", pub)
	if err != nil {
		t.Fatalf("AcquirePublisher: %v", err)
	}
	player := &fakePlayer{id: "player-1"}
	h.Subscribe("live", player)

	h.KillChannel("live", streamID)

	if !pub.closed {
		t.Fatal("close-stream should close the matching publisher")
	}
	if player.closed {
		t.Fatal("close-stream must not close players, only kill-session should")
	}
	if player.unpublishNotices != 1 {
		t.Fatalf("got %d unpublish notices, want 1", player.unpublishNotices)
	}
}
