package chain

import (
	"errors"
	"time"

	"github.com/chainrelay/chainrelay/codec"
	"github.com/chainrelay/chainrelay/crypto"
)

// Transaction is content-addressed and immutable once constructed: TxID is
// derived from {Sender, Recipient, Amount, Timestamp} and never recomputed.
type Transaction struct {
	TxID      string  `msgpack:"tx_id" json:"tx_id"`
	Sender    string  `msgpack:"sender" json:"sender"`
	Recipient string  `msgpack:"recipient" json:"recipient"`
	Amount    uint64  `msgpack:"amount" json:"amount"`
	Timestamp float64 `msgpack:"timestamp" json:"timestamp"`
	Signature string  `msgpack:"signature" json:"signature"`
}

// NewTransaction derives TxID from the body fields and leaves Signature
// empty; call Sign to produce a signed transaction.
func NewTransaction(sender, recipient string, amount uint64) (*Transaction, error) {
	ts := float64(time.Now().UnixNano()) / 1e9
	id, err := codec.TxID(sender, recipient, amount, ts)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		TxID:      id,
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: ts,
	}, nil
}

// Sign signs the transaction body with priv and sets Signature.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	tx.Signature = codec.Sign(priv, tx.signingBytes())
}

// Verify checks the transaction's content address and, if sig is non-empty,
// its signature against pub. An empty signature is accepted as valid in the
// simplified profile (§3): the core treats signature checking as an
// optional boundary check.
func (tx *Transaction) Verify(pub crypto.PublicKey) error {
	wantID, err := codec.TxID(tx.Sender, tx.Recipient, tx.Amount, tx.Timestamp)
	if err != nil {
		return err
	}
	if wantID != tx.TxID {
		return errors.New("chain: tx_id does not match body")
	}
	if tx.Signature == "" {
		return nil
	}
	return codec.Verify(pub, tx.signingBytes(), tx.Signature)
}

func (tx *Transaction) signingBytes() []byte {
	b, _ := codec.Encode(struct {
		Sender    string  `msgpack:"sender"`
		Recipient string  `msgpack:"recipient"`
		Amount    uint64  `msgpack:"amount"`
		Timestamp float64 `msgpack:"timestamp"`
	}{tx.Sender, tx.Recipient, tx.Amount, tx.Timestamp})
	return b
}
