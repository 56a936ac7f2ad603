package rtmp

import (
	"bufio"

	"github.com/riverfeed/rtmpcast/rtmp/internal/binary24"
)

type sentHeader struct {
	timestamp       uint32
	messageLength   uint32
	messageTypeID   MessageType
	messageStreamID uint32
}

// ChunkWriter encodes outbound RTMP messages into the chunk stream,
// choosing the cheapest header form (fmt 0-3) that correctly represents
// each message relative to the last one sent on the same chunk stream ID,
// and splitting payloads larger than outChunkSize across continuation
// chunks. One ChunkWriter exists per session; it is not safe for
// concurrent use.
type ChunkWriter struct {
	w            *bufio.Writer
	prevSent     map[uint32]sentHeader
	outChunkSize uint32
}

func NewChunkWriter(w *bufio.Writer) *ChunkWriter {
	return &ChunkWriter{
		w:            w,
		prevSent:     make(map[uint32]sentHeader),
		outChunkSize: DefaultChunkSize,
	}
}

func (cw *ChunkWriter) SetChunkSize(size uint32) {
	cw.outChunkSize = size
}

// WriteMessage writes a single RTMP message, selecting a compressed chunk
// header when the previous message on this chunk stream ID allows it.
func (cw *ChunkWriter) WriteMessage(csid uint32, messageType MessageType, streamID uint32, timestamp uint32, payload []byte) error {
	prev, exists := cw.prevSent[csid]
	var fmtType uint8
	var tsField uint32 // the timestamp or timestamp-delta field to encode (pre extended-timestamp handling)

	switch {
	case !exists || prev.messageStreamID != streamID:
		fmtType = 0
		tsField = timestamp
	case prev.messageTypeID != messageType || prev.messageLength != uint32(len(payload)):
		fmtType = 1
		tsField = timestamp - prev.timestamp
	case timestamp != prev.timestamp:
		fmtType = 2
		tsField = timestamp - prev.timestamp
	default:
		fmtType = 3
		tsField = 0
	}

	cw.prevSent[csid] = sentHeader{
		timestamp:       timestamp,
		messageLength:   uint32(len(payload)),
		messageTypeID:   messageType,
		messageStreamID: streamID,
	}

	header, err := cw.encodeHeader(fmtType, csid, tsField, uint32(len(payload)), messageType, streamID)
	if err != nil {
		return err
	}
	if _, err := cw.w.Write(header); err != nil {
		return err
	}

	if err := cw.writeChunkedPayload(csid, payload, tsField >= 0xFFFFFF, tsField); err != nil {
		return err
	}
	return cw.w.Flush()
}

func (cw *ChunkWriter) encodeHeader(fmtType uint8, csid uint32, tsField uint32, length uint32, messageType MessageType, streamID uint32) ([]byte, error) {
	extended := tsField >= 0xFFFFFF
	basic := cw.encodeBasicHeader(fmtType, csid)

	var mh []byte
	switch fmtType {
	case 0:
		mh = make([]byte, 11)
		writeTimestampField(mh[0:3], tsField, extended)
		binary24.BigEndian.PutUint24(mh[3:6], length)
		mh[6] = byte(messageType)
		putUint32LE(mh[7:11], streamID)
	case 1:
		mh = make([]byte, 7)
		writeTimestampField(mh[0:3], tsField, extended)
		binary24.BigEndian.PutUint24(mh[3:6], length)
		mh[6] = byte(messageType)
	case 2:
		mh = make([]byte, 3)
		writeTimestampField(mh, tsField, extended)
	case 3:
		mh = nil
	}

	out := append(basic, mh...)
	if extended {
		var ext [4]byte
		putUint32BE(ext[:], tsField)
		out = append(out, ext[:]...)
	}
	return out, nil
}

func (cw *ChunkWriter) encodeBasicHeader(fmtType uint8, csid uint32) []byte {
	switch {
	case csid <= 63:
		return []byte{fmtType<<6 | byte(csid)}
	case csid <= 319:
		return []byte{fmtType << 6, byte(csid - 64)}
	default:
		// Little-endian per the spec: secondByte then thirdByte.
		id := csid - 64
		return []byte{fmtType<<6 | 1, byte(id), byte(id >> 8)}
	}
}

// writeChunkedPayload splits payload across fmt-3 continuation chunks when
// it exceeds the negotiated chunk size. A message that used an extended
// timestamp repeats that same 4-byte field after every continuation's
// basic header, matching the reader's expectation on the other end.
func (cw *ChunkWriter) writeChunkedPayload(csid uint32, payload []byte, extended bool, tsField uint32) error {
	if len(payload) == 0 {
		return nil
	}
	chunkSize := int(cw.outChunkSize)
	if len(payload) <= chunkSize {
		_, err := cw.w.Write(payload)
		return err
	}

	continuation := cw.encodeBasicHeader(3, csid)
	var ext [4]byte
	if extended {
		putUint32BE(ext[:], tsField)
	}
	written := 0
	first := true
	for written < len(payload) {
		if !first {
			if _, err := cw.w.Write(continuation); err != nil {
				return err
			}
			if extended {
				if _, err := cw.w.Write(ext[:]); err != nil {
					return err
				}
			}
		}
		first = false
		end := written + chunkSize
		if end > len(payload) {
			end = len(payload)
		}
		if _, err := cw.w.Write(payload[written:end]); err != nil {
			return err
		}
		written = end
	}
	return nil
}

func writeTimestampField(b []byte, ts uint32, extended bool) {
	if extended {
		binary24.BigEndian.PutUint24(b, 0xFFFFFF)
		return
	}
	binary24.BigEndian.PutUint24(b, ts)
}

func putUint32LE(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putUint32BE(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}
