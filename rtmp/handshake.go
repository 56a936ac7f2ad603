package rtmp

import (
	"bufio"
	"bytes"
	"io"

	"github.com/pkg/errors"

	"github.com/riverfeed/rtmpcast/rtmp/rand"
)

// RTMPVersion is the only handshake version this server speaks. RTMP's
// encrypted handshake variants are not implemented; every real client
// falls back to this one when talking plain RTMP/RTMPS.
const RTMPVersion = 3

var (
	ErrUnsupportedRTMPVersion = errors.New("rtmp: unsupported handshake version")
	ErrHandshakeMismatch      = errors.New("rtmp: c2 does not echo s1")
)

// Handshake performs the server side of the simple (non-encrypted) RTMP
// handshake: read C0+C1, send S0+S1+S2, read C2, and verify C2 echoes S1.
func Handshake(r *bufio.Reader, w *bufio.Writer) error {
	c1, err := readC0C1(r)
	if err != nil {
		return err
	}
	s1, err := sendS0S1S2(w, c1)
	if err != nil {
		return err
	}
	c2, err := readC2(r)
	if err != nil {
		return err
	}
	if !bytes.Equal(s1, c2) {
		return ErrHandshakeMismatch
	}
	return nil
}

func readC0C1(r *bufio.Reader) ([]byte, error) {
	var c0c1 [1537]byte
	if _, err := io.ReadFull(r, c0c1[:]); err != nil {
		return nil, err
	}
	if c0c1[0] != RTMPVersion {
		return nil, ErrUnsupportedRTMPVersion
	}
	return c0c1[1:], nil
}

func readC2(r *bufio.Reader) ([]byte, error) {
	var c2 [1536]byte
	if _, err := io.ReadFull(r, c2[:]); err != nil {
		return nil, err
	}
	return c2[:], nil
}

// sendS0S1S2 writes S0, S1 (random padding, time field left at zero, as
// this server never validates a peer's echoed epoch), and S2 (an echo of
// C1), returning the S1 payload for later comparison against C2.
func sendS0S1S2(w *bufio.Writer, c1 []byte) ([]byte, error) {
	var out [1 + 2*1536]byte
	out[0] = RTMPVersion
	s1 := out[1:1537]
	if err := rand.Fill(s1[8:]); err != nil {
		return nil, err
	}
	copy(out[1537:], c1)

	if _, err := w.Write(out[:]); err != nil {
		return nil, err
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	return s1, nil
}
