package p2p

import (
	"net"
	"testing"
)

// TestWriteReadFrameRoundTrip checks a frame written on one end of a pipe is
// read back byte-for-byte on the other.
func TestWriteReadFrameRoundTrip(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := []byte("hello consensus")
	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(client, payload) }()

	got, err := readFrame(server, DefaultMaxFrameBytes)
	if err != nil {
		t.Fatal(err)
	}
	if err := <-errCh; err != nil {
		t.Fatal(err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

// TestReadFrameRejectsOversized closes out a frame whose declared length
// exceeds maxBytes, per §4.6.5's max_frame_bytes limit.
func TestReadFrameRejectsOversized(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 100)
	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(client, payload) }()

	_, err := readFrame(server, 10)
	if err == nil {
		t.Fatal("expected oversized frame to be rejected")
	}
	server.Close() // the caller closes the connection; this also unblocks the writer
	<-errCh
}

// TestReadFrameExactlyAtLimit confirms a frame exactly at maxBytes is
// accepted, not rejected by an off-by-one boundary check.
func TestReadFrameExactlyAtLimit(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	payload := make([]byte, 64)
	errCh := make(chan error, 1)
	go func() { errCh <- writeFrame(client, payload) }()

	got, err := readFrame(server, 64)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 64 {
		t.Fatalf("got %d bytes, want 64", len(got))
	}
	<-errCh
}
