package rtmp

import (
	"github.com/pkg/errors"

	"github.com/riverfeed/rtmpcast/amf/amf0"
)

// FlashMediaServerVersion and Capabilities are reported in the connect
// response's properties object; real clients don't gate behavior on them,
// but several expect the fields to be present.
const (
	FlashMediaServerVersion = "FMS/3,0,1,123"
	Capabilities            = 31
	FMSMode                 = 1
)

func encodeAll(values ...interface{}) ([]byte, error) {
	var out []byte
	for _, v := range values {
		b, err := amf0.Encode(v)
		if err != nil {
			return nil, errors.Wrap(err, "rtmp: encoding command argument")
		}
		out = append(out, b...)
	}
	return out, nil
}

func sendCommand(cw *ChunkWriter, streamID uint32, values ...interface{}) error {
	payload, err := encodeAll(values...)
	if err != nil {
		return err
	}
	return cw.WriteMessage(CommandChunkStreamID, CommandMessageAMF0, streamID, 0, payload)
}

func sendWindowAckSize(cw *ChunkWriter, size uint32) error {
	var b [4]byte
	putUint32BE(b[:], size)
	return cw.WriteMessage(ProtocolChunkStreamID, WindowAckSize, 0, 0, b[:])
}

func sendSetPeerBandwidth(cw *ChunkWriter, size uint32, limitType uint8) error {
	var b [5]byte
	putUint32BE(b[:4], size)
	b[4] = limitType
	return cw.WriteMessage(ProtocolChunkStreamID, SetPeerBandwidth, 0, 0, b[:])
}

func sendSetChunkSize(cw *ChunkWriter, size uint32) error {
	var b [4]byte
	putUint32BE(b[:], size)
	return cw.WriteMessage(ProtocolChunkStreamID, SetChunkSize, 0, 0, b[:])
}

func sendStreamBegin(cw *ChunkWriter, streamID uint32) error {
	b := make([]byte, 6)
	b[0] = byte(EventStreamBegin >> 8)
	b[1] = byte(EventStreamBegin)
	putUint32BE(b[2:], streamID)
	return cw.WriteMessage(ProtocolChunkStreamID, UserControlMessage, 0, 0, b)
}

func sendConnectSuccess(cw *ChunkWriter, transactionID float64) error {
	properties := map[string]interface{}{
		"fmsVer":       FlashMediaServerVersion,
		"capabilities": float64(Capabilities),
		"mode":         float64(FMSMode),
	}
	info := map[string]interface{}{
		"level":          "status",
		"code":           "NetConnection.Connect.Success",
		"description":    "Connection succeeded.",
		"objectEncoding": float64(0),
	}
	return sendCommand(cw, 0, "_result", transactionID, properties, info)
}

func sendConnectRejected(cw *ChunkWriter, transactionID float64, description string) error {
	info := map[string]interface{}{
		"level":       "error",
		"code":        "NetConnection.Connect.Rejected",
		"description": description,
	}
	return sendCommand(cw, 0, "_error", transactionID, nil, info)
}

func sendCreateStreamResult(cw *ChunkWriter, transactionID float64, streamID float64) error {
	return sendCommand(cw, 0, "_result", transactionID, nil, streamID)
}

// sendStatusMessage sends an onStatus command to the client on the given
// message stream, the mechanism used for both publish and play
// acknowledgements and failures.
func sendStatusMessage(cw *ChunkWriter, streamID uint32, level, code, description string) error {
	info := map[string]interface{}{
		"level":       level,
		"code":        code,
		"description": description,
	}
	return sendCommand(cw, streamID, "onStatus", float64(0), nil, info)
}

func sendMetadata(cw *ChunkWriter, streamID uint32, metadata map[string]interface{}) error {
	payload, err := encodeAll("onMetaData", amf0.ECMAArray(metadata))
	if err != nil {
		return err
	}
	return cw.WriteMessage(CommandChunkStreamID, DataMessageAMF0, streamID, 0, payload)
}

func sendAudio(cw *ChunkWriter, streamID uint32, payload []byte, timestamp uint32) error {
	return cw.WriteMessage(AudioChunkStreamID, AudioMessage, streamID, timestamp, payload)
}

func sendVideo(cw *ChunkWriter, streamID uint32, payload []byte, timestamp uint32) error {
	return cw.WriteMessage(VideoChunkStreamID, VideoMessage, streamID, timestamp, payload)
}

// sendAcknowledgement reports the running byte count back to the peer once
// it has sent windowAckSize bytes, as required for the peer's own send
// window accounting.
func sendAcknowledgement(cw *ChunkWriter, sequenceNumber uint32) error {
	var b [4]byte
	putUint32BE(b[:], sequenceNumber)
	return cw.WriteMessage(ProtocolChunkStreamID, Acknowledgement, 0, 0, b[:])
}
