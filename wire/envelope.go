// Package wire defines the typed envelope and payload shapes exchanged over
// the Message Layer (§4.4, §6), grounded on teacher's network/peer.go
// Message type and on original_source's src/p2p/messages.py envelope
// fields and factory functions.
package wire

import (
	"time"

	"github.com/chainrelay/chainrelay/codec"
)

// MsgType is the closed set of wire message tokens (§6). Unlike teacher's
// bare string MsgType, construction is confined to the constants below and
// the dispatcher in p2p treats unknown tokens as a protocol violation
// rather than silently accepting any string (§9's redesign note on
// string-typed message enumeration).
type MsgType string

const (
	Hello         MsgType = "HELLO"
	Heartbeat     MsgType = "HEARTBEAT"
	Tx            MsgType = "TX"
	Propose       MsgType = "PROPOSE"
	Ack           MsgType = "ACK"
	Commit        MsgType = "COMMIT"
	ViewChange    MsgType = "VIEWCHANGE"
	SyncRequest   MsgType = "SYNC_REQUEST"
	SyncResponse  MsgType = "SYNC_RESPONSE"
	MempoolSync   MsgType = "MEMPOOL_SYNC"
	GetHeaders    MsgType = "GETHEADERS"
	Headers       MsgType = "HEADERS"
	GetBlocks     MsgType = "GETBLOCKS"
	BlockMsg      MsgType = "BLOCK"
)

// KnownTypes lists every valid MsgType, for validating inbound frames.
var KnownTypes = map[MsgType]bool{
	Hello: true, Heartbeat: true, Tx: true, Propose: true, Ack: true,
	Commit: true, ViewChange: true, SyncRequest: true, SyncResponse: true,
	MempoolSync: true, GetHeaders: true, Headers: true, GetBlocks: true,
	BlockMsg: true,
}

// Envelope is the canonical ordered record carried inside every frame.
type Envelope struct {
	Type      MsgType `msgpack:"type"`
	SenderID  string  `msgpack:"sender_id"`
	Timestamp float64 `msgpack:"timestamp"`
	Signature string  `msgpack:"signature"`
	Payload   []byte  `msgpack:"payload"` // canonical encoding of a type-specific payload
}

// NewEnvelope builds an envelope wrapping payload (already codec-encoded),
// stamped with the current time.
func NewEnvelope(typ MsgType, senderID string, payload []byte) Envelope {
	return Envelope{
		Type:      typ,
		SenderID:  senderID,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Payload:   payload,
	}
}

// Encode returns the canonical byte encoding of the envelope.
func (e Envelope) Encode() ([]byte, error) {
	return codec.Encode(e)
}

// DecodeEnvelope decodes a frame payload into an Envelope.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var e Envelope
	err := codec.Decode(b, &e)
	return e, err
}

// DecodePayload decodes the envelope's payload field into v.
func (e Envelope) DecodePayload(v any) error {
	return codec.Decode(e.Payload, v)
}

// EncodePayload encodes v and returns bytes suitable for Envelope.Payload.
func EncodePayload(v any) ([]byte, error) {
	return codec.Encode(v)
}
