// Package codec provides the canonical byte encoding, hashing, and
// signing/verification capability shared by every replica. Encoding must be
// order-stable across replicas: a map-like record is encoded by a fixed
// field order, never by hash-table iteration, or I3/I4 break.
package codec

import (
	"encoding/hex"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/chainrelay/chainrelay/crypto"
)

// Encode returns the canonical msgpack encoding of v. v must be a struct (or
// pointer to one) with a fixed field order; msgpack visits struct fields in
// declaration order, so the same Go type always encodes to the same bytes
// for the same field values, on every replica.
func Encode(v any) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return b, nil
}

// Decode is the inverse of Encode.
func Decode(b []byte, v any) error {
	if err := msgpack.Unmarshal(b, v); err != nil {
		return fmt.Errorf("codec: decode: %w", err)
	}
	return nil
}

// Hash returns the 32-byte SHA-256 digest of b.
func Hash(b []byte) [32]byte {
	sum := crypto.HashBytes(b)
	var out [32]byte
	copy(out[:], sum)
	return out
}

// HashHex is Hash, hex-encoded.
func HashHex(b []byte) string {
	return crypto.Hash(b)
}

// txBody is the exact field set and order hashed to derive a tx_id: the
// transaction minus its own id and signature.
type txBody struct {
	Sender    string  `msgpack:"sender"`
	Recipient string  `msgpack:"recipient"`
	Amount    uint64  `msgpack:"amount"`
	Timestamp float64 `msgpack:"timestamp"`
}

// TxID computes tx_id = hex(hash(encode({sender, recipient, amount, timestamp}))).
func TxID(sender, recipient string, amount uint64, timestamp float64) (string, error) {
	b, err := Encode(txBody{Sender: sender, Recipient: recipient, Amount: amount, Timestamp: timestamp})
	if err != nil {
		return "", err
	}
	return HashHex(b), nil
}

// blockBody is the exact field set and order hashed to derive a block_hash.
type blockBody struct {
	Height    uint64  `msgpack:"height"`
	PrevHash  string  `msgpack:"prev_hash"`
	TxHashes  string  `msgpack:"tx_hashes"`
	Timestamp float64 `msgpack:"timestamp"`
	Proposer  string  `msgpack:"proposer_id"`
}

// BlockHash computes block_hash over {height, prev_hash, concat(tx_hashes),
// timestamp, proposer_id}. prevHash is the hex-encoded 32-byte parent hash;
// txIDs are the hex tx_id of each transaction in block order.
func BlockHash(height uint64, prevHash string, txIDs []string, timestamp float64, proposerID string) (string, error) {
	concat := ""
	for _, id := range txIDs {
		concat += id
	}
	b, err := Encode(blockBody{
		Height:    height,
		PrevHash:  prevHash,
		TxHashes:  concat,
		Timestamp: timestamp,
		Proposer:  proposerID,
	})
	if err != nil {
		return "", err
	}
	return HashHex(b), nil
}

// Sign returns a hex-encoded ed25519 signature over data.
func Sign(priv crypto.PrivateKey, data []byte) string {
	return crypto.Sign(priv, data)
}

// Verify checks a hex-encoded ed25519 signature over data.
func Verify(pub crypto.PublicKey, data []byte, sigHex string) error {
	return crypto.Verify(pub, data, sigHex)
}

// ZeroHash is the all-zero 32-byte hash used as prev_hash for the genesis
// block, hex-encoded.
var ZeroHash = hex.EncodeToString(make([]byte, 32))
