package codec

import (
	"testing"

	"github.com/chainrelay/chainrelay/crypto"
)

// TestTxIDDeterministic ensures the same body always yields the same tx_id.
func TestTxIDDeterministic(t *testing.T) {
	a, err := TxID("alice", "bob", 10, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := TxID("alice", "bob", 10, 1.5)
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Errorf("tx_id not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("tx_id length: got %d want 64", len(a))
	}
}

// TestTxIDSensitiveToFields ensures every field change affects the tx_id.
func TestTxIDSensitiveToFields(t *testing.T) {
	base, _ := TxID("alice", "bob", 10, 1.5)
	cases := []string{}
	if id, _ := TxID("mallory", "bob", 10, 1.5); id != base {
		cases = append(cases, id)
	}
	if id, _ := TxID("alice", "eve", 10, 1.5); id != base {
		cases = append(cases, id)
	}
	if id, _ := TxID("alice", "bob", 11, 1.5); id != base {
		cases = append(cases, id)
	}
	if id, _ := TxID("alice", "bob", 10, 1.6); id != base {
		cases = append(cases, id)
	}
	if len(cases) != 4 {
		t.Errorf("expected all 4 field changes to change tx_id, got %d distinct", len(cases))
	}
}

// TestBlockHashOrderSensitive ensures tx order within a block affects
// block_hash, since concat(tx_hashes) is positional.
func TestBlockHashOrderSensitive(t *testing.T) {
	h1, err := BlockHash(1, ZeroHash, []string{"aa", "bb"}, 100, "node1")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := BlockHash(1, ZeroHash, []string{"bb", "aa"}, 100, "node1")
	if err != nil {
		t.Fatal(err)
	}
	if h1 == h2 {
		t.Error("block_hash should depend on tx order")
	}
}

// TestSignVerifyRoundTrip exercises the ed25519 wrapper end to end.
func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	sig := Sign(priv, []byte("payload"))
	if err := Verify(pub, []byte("payload"), sig); err != nil {
		t.Errorf("Verify: %v", err)
	}
	if err := Verify(pub, []byte("other"), sig); err == nil {
		t.Error("Verify should reject mismatched data")
	}
}
