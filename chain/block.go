package chain

import (
	"errors"
	"time"

	"github.com/chainrelay/chainrelay/codec"
	"github.com/chainrelay/chainrelay/crypto"
)

// GenesisProposer is the fixed proposer_id of the deterministic genesis
// block, so every replica computes the same block_hash for height 0.
const GenesisProposer = "genesis"

// Block is immutable once its Hash has been computed; height, links, and
// contents are never mutated after construction.
type Block struct {
	Height       uint64         `msgpack:"height" json:"height"`
	PrevHash     string         `msgpack:"prev_hash" json:"prev_hash"`
	Timestamp    float64        `msgpack:"timestamp" json:"timestamp"`
	ProposerID   string         `msgpack:"proposer_id" json:"proposer_id"`
	Transactions []*Transaction `msgpack:"tx_list" json:"tx_list"`
	BlockHash    string         `msgpack:"block_hash" json:"block_hash"`
	Signature    string         `msgpack:"signature" json:"signature"`
}

// NewBlock builds an unsigned block with BlockHash already computed over
// the given fields; txs must not be mutated afterward.
func NewBlock(height uint64, prevHash string, proposerID string, txs []*Transaction) (*Block, error) {
	if txs == nil {
		txs = []*Transaction{}
	}
	b := &Block{
		Height:       height,
		PrevHash:     prevHash,
		Timestamp:    float64(time.Now().UnixNano()) / 1e9,
		ProposerID:   proposerID,
		Transactions: txs,
	}
	h, err := b.computeHash()
	if err != nil {
		return nil, err
	}
	b.BlockHash = h
	return b, nil
}

// GenesisBlock returns the deterministic genesis block: height 0, all-zero
// prev_hash, timestamp 0.0, proposer "genesis", no transactions. Every
// replica with the same codec computes the same block_hash for it.
func GenesisBlock() *Block {
	b := &Block{
		Height:       0,
		PrevHash:     codec.ZeroHash,
		Timestamp:    0,
		ProposerID:   GenesisProposer,
		Transactions: []*Transaction{},
	}
	h, err := b.computeHash()
	if err != nil {
		// Genesis encoding can never fail: it has no dynamic inputs.
		panic("chain: genesis block hash: " + err.Error())
	}
	b.BlockHash = h
	return b
}

func (b *Block) computeHash() (string, error) {
	txIDs := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		txIDs[i] = tx.TxID
	}
	return codec.BlockHash(b.Height, b.PrevHash, txIDs, b.Timestamp, b.ProposerID)
}

// VerifyIntegrity checks I3: block_hash == H(block). It does not check
// linkage to a parent (I1) or signatures; callers combine checks as needed.
func (b *Block) VerifyIntegrity() error {
	want, err := b.computeHash()
	if err != nil {
		return err
	}
	if want != b.BlockHash {
		return errors.New("chain: block_hash does not match contents")
	}
	return nil
}

// Sign signs BlockHash with priv and sets Signature.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Signature = codec.Sign(priv, []byte(b.BlockHash))
}

// VerifySignature checks Signature against pub, when signature checking is
// enabled at the call site. An empty signature is accepted.
func (b *Block) VerifySignature(pub crypto.PublicKey) error {
	if b.Signature == "" {
		return nil
	}
	return codec.Verify(pub, []byte(b.BlockHash), b.Signature)
}
