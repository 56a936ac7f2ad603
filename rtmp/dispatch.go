package rtmp

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/riverfeed/rtmpcast/amf/amf0"
	"github.com/riverfeed/rtmpcast/amf/amf3"
	"github.com/riverfeed/rtmpcast/auth"
	"github.com/riverfeed/rtmpcast/config"
	"github.com/riverfeed/rtmpcast/rtmp/audio"
	"github.com/riverfeed/rtmpcast/rtmp/video"
)

// dispatch interprets one fully assembled message according to its type,
// mirroring the RTMP message type table: protocol control messages carry
// chunk-stream bookkeeping, command messages drive the connect/publish/play
// state machine, and audio/video/data messages carry media once a publisher
// is established.
func (s *Session) dispatch(header ChunkHeader, payload []byte) error {
	switch header.MessageHeader.MessageTypeID {
	case SetChunkSize:
		if len(payload) < 4 {
			return ErrUnknownMessageType
		}
		s.cr.SetChunkSize(beUint32(payload) & 0x7FFFFFFF)
		return nil
	case AbortMessage:
		return nil
	case Acknowledgement:
		return nil
	case UserControlMessage:
		return nil
	case WindowAckSize:
		if len(payload) < 4 {
			return ErrUnknownMessageType
		}
		size := beUint32(payload)
		s.cr.SetWindowAckSize(size, func(seq uint32) {
			_ = s.enqueue(func(cw *ChunkWriter) error {
				return sendAcknowledgement(cw, seq)
			})
		})
		return nil
	case SetPeerBandwidth:
		return nil
	case AudioMessage:
		return s.handleAudio(payload, header.ElapsedTime)
	case VideoMessage:
		return s.handleVideo(payload, header.ElapsedTime)
	case DataMessageAMF0:
		return s.handleDataMessage(payload, false)
	case DataMessageAMF3:
		return s.handleDataMessage(payload, true)
	case CommandMessageAMF0:
		return s.handleCommand(header, payload, false)
	case CommandMessageAMF3:
		// The leading byte on an AMF3 command message is an encoding marker
		// that doesn't itself decode as AMF3; the command name, transaction
		// ID, and command object that follow are AMF0 regardless.
		if len(payload) < 1 {
			return ErrUnknownMessageType
		}
		return s.handleCommand(header, payload[1:], false)
	case SharedObjectMessageAMF0, SharedObjectMessageAMF3, AggregateMessage:
		return nil
	default:
		return nil
	}
}

func (s *Session) handleCommand(header ChunkHeader, payload []byte, isAMF3 bool) error {
	decode := amf0.Decode
	if isAMF3 {
		decode = amf3.Decode
	}

	name, n, err := decode(payload)
	if err != nil {
		return errors.Wrap(err, "rtmp: decoding command name")
	}
	payload = payload[n:]
	commandName, _ := name.(string)

	txn, n, err := decode(payload)
	if err != nil {
		return errors.Wrap(err, "rtmp: decoding command transaction id")
	}
	payload = payload[n:]
	transactionID, _ := txn.(float64)

	msgStreamID := header.MessageHeader.MessageStreamID

	switch commandName {
	case "connect":
		commandObject, _, err := decode(payload)
		if err != nil {
			return errors.Wrap(err, "rtmp: decoding connect command object")
		}
		return s.onConnect(transactionID, toStringMap(commandObject))
	case "createStream":
		return s.onCreateStream(transactionID)
	case "publish":
		// command object (null), then publish name, then publish type.
		payload = skipValue(decode, payload)
		streamKey, _, err := decode(payload)
		if err != nil {
			return errors.Wrap(err, "rtmp: decoding publish stream key")
		}
		key, _ := streamKey.(string)
		return s.onPublish(msgStreamID, key)
	case "play":
		payload = skipValue(decode, payload)
		streamKey, _, err := decode(payload)
		if err != nil {
			return errors.Wrap(err, "rtmp: decoding play stream key")
		}
		key, _ := streamKey.(string)
		return s.onPlay(msgStreamID, key)
	case "deleteStream", "closeStream", "FCUnpublish":
		return s.onUnpublish()
	case "pause", "seek", "releaseStream", "FCPublish", "FCSubscribe", "_checkbw", "_result", "_error":
		return nil
	default:
		s.logger.Debug("rtmp: unrecognized command", zap.String("command", commandName))
		return nil
	}
}

// skipValue advances past one AMF-encoded value without caring what it
// decodes to; several commands carry an always-null command object in this
// position that no handler needs.
func skipValue(decode func([]byte) (interface{}, int, error), payload []byte) []byte {
	_, n, err := decode(payload)
	if err != nil {
		return payload
	}
	return payload[n:]
}

func (s *Session) onConnect(transactionID float64, commandObject map[string]interface{}) error {
	if s.getState() != StateConnecting {
		return errors.New("rtmp: connect received outside the connecting state")
	}

	app, _ := commandObject["app"].(string)
	s.setChannel(app)

	if err := sendWindowAckSize(s.cw, config.DefaultClientWindowSize); err != nil {
		return err
	}
	if err := sendSetPeerBandwidth(s.cw, config.DefaultClientWindowSize, LimitDynamic); err != nil {
		return err
	}
	if err := sendStreamBegin(s.cw, 0); err != nil {
		return err
	}
	if err := sendSetChunkSize(s.cw, s.cfg.RTMPChunkSize); err != nil {
		return err
	}
	s.cw.SetChunkSize(s.cfg.RTMPChunkSize)
	if err := sendConnectSuccess(s.cw, transactionID); err != nil {
		return err
	}
	s.setState(StateIdle)
	return nil
}

// defaultStreamID is always 1: a session may hold at most one active
// publish or play at a time, so there is no need to hand out more than one.
const defaultStreamID = 1

func (s *Session) onCreateStream(transactionID float64) error {
	return sendCreateStreamResult(s.cw, transactionID, float64(defaultStreamID))
}

func (s *Session) onPublish(msgStreamID uint32, streamKey string) error {
	if s.getState() != StateIdle {
		return s.rejectPublish(msgStreamID, "Publish attempted outside the idle state.")
	}

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if !s.idPattern.MatchString(channel) || !s.idPattern.MatchString(streamKey) {
		return s.rejectPublish(msgStreamID, "Channel or stream key does not match the allowed pattern.")
	}

	result := auth.Result{Accepted: true}
	if s.authorizer != nil {
		var err error
		result, err = s.authorizer.Authorize(auth.Record{
			Channel: channel, Key: streamKey, ClientIP: s.remoteIP,
			RTMPHost: s.cfg.RTMPHost, RTMPPort: s.cfg.RTMPPort, Event: auth.EventStart,
		})
		if err != nil {
			s.logger.Warn("rtmp: authorizer error, rejecting publish", zap.Error(err))
			result = auth.Reject
		}
	}
	if !result.Accepted {
		return s.rejectPublish(msgStreamID, "Publish rejected by the authorization service.")
	}

	streamID, err := s.hub.AcquirePublisher(channel, s.id, result.StreamID, s)
	if err != nil {
		return s.rejectPublish(msgStreamID, "Channel already has an active publisher.")
	}

	s.mu.Lock()
	s.key = streamKey
	s.streamID = streamID
	s.isPublisher = true
	s.mediaStreamID = msgStreamID
	s.state = StatePublishing
	s.mu.Unlock()

	s.logger.Info("rtmp: publish accepted", zap.String("channel", channel), zap.String("key", streamKey), zap.String("streamID", streamID))
	return sendStatusMessage(s.cw, msgStreamID, "status", "NetStream.Publish.Start", "Publishing "+channel+"/"+streamKey+".")
}

func (s *Session) rejectPublish(msgStreamID uint32, description string) error {
	_ = sendStatusMessage(s.cw, msgStreamID, "error", "NetStream.Publish.BadName", description)
	return ErrUnauthorized
}

func (s *Session) onPlay(msgStreamID uint32, streamKey string) error {
	if s.getState() != StateIdle {
		return errors.New("rtmp: play received outside the idle state")
	}

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	if s.admission != nil && !s.admission.AllowPlay(s.remoteIP) {
		_ = sendStatusMessage(s.cw, msgStreamID, "error", "NetStream.Play.Failed", "This address is not whitelisted for playback.")
		return errors.New("rtmp: play rejected by whitelist")
	}
	if !s.idPattern.MatchString(channel) || !s.idPattern.MatchString(streamKey) {
		_ = sendStatusMessage(s.cw, msgStreamID, "error", "NetStream.Play.Failed", "Channel or stream key does not match the allowed pattern.")
		return ErrInvalidID
	}

	s.mu.Lock()
	s.key = streamKey
	s.isPlayer = true
	s.mediaStreamID = msgStreamID
	s.state = StatePlaying
	s.mu.Unlock()

	if err := sendStreamBegin(s.cw, msgStreamID); err != nil {
		return err
	}
	if err := sendStatusMessage(s.cw, msgStreamID, "status", "NetStream.Play.Reset", "Playback reset."); err != nil {
		return err
	}
	if err := sendStatusMessage(s.cw, msgStreamID, "status", "NetStream.Play.Start", "Playing "+channel+"."); err != nil {
		return err
	}

	s.hub.Subscribe(channel, s)
	s.logger.Info("rtmp: play started", zap.String("channel", channel), zap.String("key", streamKey))
	return nil
}

func (s *Session) onUnpublish() error {
	return s.Close()
}

func (s *Session) handleAudio(payload []byte, timestamp uint32) error {
	if len(payload) == 0 || !s.isPublishing() {
		return nil
	}
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	format, _, _, _ := audio.Header(payload[0])
	if audio.IsAACSequenceHeader(format, payload) {
		s.hub.SetAACSequenceHeader(channel, payload)
	}
	s.hub.PublishAudio(channel, payload, timestamp)
	return nil
}

func (s *Session) handleVideo(payload []byte, timestamp uint32) error {
	if len(payload) == 0 || !s.isPublishing() {
		return nil
	}
	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()

	frameType, codec := video.Header(payload[0])
	if video.IsAVCSequenceHeader(codec, payload) {
		s.hub.SetAVCSequenceHeader(channel, payload)
	}
	s.hub.PublishVideo(channel, payload, timestamp, video.IsKeyframe(frameType))
	return nil
}

func (s *Session) handleDataMessage(payload []byte, isAMF3 bool) error {
	decode := amf0.Decode
	if isAMF3 {
		decode = amf3.Decode
	}

	name, n, err := decode(payload)
	if err != nil {
		return errors.Wrap(err, "rtmp: decoding data message name")
	}
	dataName, _ := name.(string)
	payload = payload[n:]

	if dataName != "@setDataFrame" {
		return nil
	}

	_, n, err = decode(payload) // the literal "onMetaData" frame name
	if err != nil {
		return errors.Wrap(err, "rtmp: decoding data frame name")
	}
	payload = payload[n:]

	metaValue, _, err := decode(payload)
	if err != nil {
		return errors.Wrap(err, "rtmp: decoding metadata body")
	}
	if !s.isPublishing() {
		return nil
	}

	s.mu.Lock()
	channel := s.channel
	s.mu.Unlock()
	s.hub.PublishMetadata(channel, toStringMap(metaValue))
	return nil
}

func toStringMap(v interface{}) map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return t
	case amf0.ECMAArray:
		return map[string]interface{}(t)
	default:
		return nil
	}
}
