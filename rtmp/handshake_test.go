package rtmp

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"testing"

	"github.com/riverfeed/rtmpcast/rtmp/rand"
)

func TestHandshakeRoundTrip(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Handshake(bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
	}()

	c1 := make([]byte, 1536)
	if err := rand.Fill(c1); err != nil {
		t.Fatalf("rand.Fill: %v", err)
	}
	if _, err := clientConn.Write(append([]byte{RTMPVersion}, c1...)); err != nil {
		t.Fatalf("writing c0c1: %v", err)
	}

	var s0s1s2 [1 + 2*1536]byte
	if _, err := io.ReadFull(clientConn, s0s1s2[:]); err != nil {
		t.Fatalf("reading s0s1s2: %v", err)
	}
	if s0s1s2[0] != RTMPVersion {
		t.Fatalf("got s0 version %d, want %d", s0s1s2[0], RTMPVersion)
	}
	s1 := s0s1s2[1:1537]
	s2 := s0s1s2[1537:]
	if !bytes.Equal(s2, c1) {
		t.Fatal("s2 should echo c1")
	}

	if _, err := clientConn.Write(s1); err != nil {
		t.Fatalf("writing c2: %v", err)
	}

	if err := <-errCh; err != nil {
		t.Fatalf("Handshake: %v", err)
	}
}

func TestHandshakeRejectsMismatchedC2(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Handshake(bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
	}()

	c1 := make([]byte, 1536)
	if _, err := clientConn.Write(append([]byte{RTMPVersion}, c1...)); err != nil {
		t.Fatalf("writing c0c1: %v", err)
	}

	var s0s1s2 [1 + 2*1536]byte
	if _, err := io.ReadFull(clientConn, s0s1s2[:]); err != nil {
		t.Fatalf("reading s0s1s2: %v", err)
	}

	bogus := make([]byte, 1536)
	if _, err := clientConn.Write(bogus); err != nil {
		t.Fatalf("writing bogus c2: %v", err)
	}

	if err := <-errCh; err != ErrHandshakeMismatch {
		t.Fatalf("got %v, want ErrHandshakeMismatch", err)
	}
}

func TestHandshakeRejectsUnsupportedVersion(t *testing.T) {
	serverConn, clientConn := net.Pipe()
	defer serverConn.Close()
	defer clientConn.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- Handshake(bufio.NewReader(serverConn), bufio.NewWriter(serverConn))
	}()

	c0c1 := make([]byte, 1537)
	c0c1[0] = 6 // an encrypted-handshake version this server doesn't speak
	if _, err := clientConn.Write(c0c1); err != nil {
		t.Fatalf("writing c0c1: %v", err)
	}

	if err := <-errCh; err != ErrUnsupportedRTMPVersion {
		t.Fatalf("got %v, want ErrUnsupportedRTMPVersion", err)
	}
}
