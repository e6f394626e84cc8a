package p2p

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// DefaultMaxFrameBytes is the §4.6.5 max_frame_bytes default: frames larger
// than this close the connection.
const DefaultMaxFrameBytes = 16 << 20

// writeFrame writes a length-prefixed frame: 4-byte big-endian length then
// payload.
func writeFrame(conn net.Conn, payload []byte) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return fmt.Errorf("p2p: write frame header: %w", err)
	}
	if _, err := conn.Write(payload); err != nil {
		return fmt.Errorf("p2p: write frame payload: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame. No read deadline is set: per
// §5, per-socket reads have no explicit timeout, and the heartbeat-based
// Peer Health check is the authoritative liveness signal instead. A length
// exceeding maxBytes is a protocol violation; the caller must close the
// connection.
func readFrame(conn net.Conn, maxBytes uint32) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return nil, fmt.Errorf("p2p: read frame header: %w", err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxBytes {
		return nil, fmt.Errorf("p2p: frame of %d bytes exceeds max %d", n, maxBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return nil, fmt.Errorf("p2p: read frame payload: %w", err)
	}
	return payload, nil
}
