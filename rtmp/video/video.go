// Package video holds the FLV video tag constants needed to interpret the
// first byte of an RTMP video message payload.
// https://www.adobe.com/content/dam/acom/en/devnet/flv/video_file_format_spec_v10_1.pdf
package video

type FrameType uint8

const (
	KeyFrame             FrameType = 1
	InterFrame           FrameType = 2
	DisposableInterFrame FrameType = 3
	GeneratedKeyFrame    FrameType = 4
	CommandFrame         FrameType = 5
)

type Codec uint8

const (
	SorensonH263    Codec = 2
	ScreenVideo     Codec = 3
	VP6             Codec = 4
	VP6AlphaChannel Codec = 5
	ScreenVideoV2   Codec = 6
	H264            Codec = 7
)

type AVCPacketType uint8

const (
	AVCSequenceHeader AVCPacketType = 0
	AVCNALU           AVCPacketType = 1
	AVCEndOfSequence  AVCPacketType = 2
)

// Header unpacks the first byte of a video message payload.
func Header(b byte) (frameType FrameType, codec Codec) {
	frameType = FrameType((b >> 4) & 0x0F)
	codec = Codec(b & 0x0F)
	return
}

// IsKeyframe reports whether frameType marks a video message as a keyframe,
// which the GOP cache uses to decide when to reset.
func IsKeyframe(frameType FrameType) bool {
	return frameType == KeyFrame || frameType == GeneratedKeyFrame
}

// IsAVCSequenceHeader reports whether payload is an H.264 sequence header,
// which must be cached and replayed to every late-joining player.
func IsAVCSequenceHeader(codec Codec, payload []byte) bool {
	return codec == H264 && len(payload) > 1 && AVCPacketType(payload[1]) == AVCSequenceHeader
}
