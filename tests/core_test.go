package tests

import (
	"testing"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/mempool"
	"github.com/chainrelay/chainrelay/wallet"
)

// TestKeyGenAndAddress verifies that key generation and address derivation work.
func TestKeyGenAndAddress(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if len(pub.Hex()) != 64 {
		t.Errorf("pubkey hex length: got %d want 64", len(pub.Hex()))
	}
	addr := pub.Address()
	if len(addr) != 40 {
		t.Errorf("address length: got %d want 40", len(addr))
	}
	derived := priv.Public()
	if derived.Hex() != pub.Hex() {
		t.Error("derived public key does not match")
	}
}

// TestSignVerify ensures Sign/Verify round-trips correctly.
func TestSignVerify(t *testing.T) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	data := []byte("hello chainrelay")
	sig := crypto.Sign(priv, data)
	if err := crypto.Verify(pub, data, sig); err != nil {
		t.Errorf("valid signature failed: %v", err)
	}
	if err := crypto.Verify(pub, []byte("tampered"), sig); err == nil {
		t.Error("tampered data should fail verification")
	}
}

// TestTransactionSignVerify ensures transaction signing and verification work.
func TestTransactionSignVerify(t *testing.T) {
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}

	tx, err := w.Transfer("deadbeef", 100)
	if err != nil {
		t.Fatalf("Transfer: %v", err)
	}
	if tx.TxID == "" {
		t.Error("tx ID should be set after construction")
	}
	pub := w.PrivKey().Public()
	if err := tx.Verify(pub); err != nil {
		t.Errorf("Verify failed: %v", err)
	}

	tx.Amount = 999
	if err := tx.Verify(pub); err == nil {
		t.Error("tampered tx should fail content-address verification")
	}
}

// TestBlockHash ensures that hashing a block is deterministic and that
// VerifyIntegrity catches tampering (I3).
func TestBlockHash(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	block, err := chain.NewBlock(1, chain.GenesisBlock().BlockHash, "node1", nil)
	if err != nil {
		t.Fatalf("NewBlock: %v", err)
	}
	block.Sign(priv)

	if block.BlockHash == "" {
		t.Error("hash should be set after construction")
	}
	if err := block.VerifyIntegrity(); err != nil {
		t.Errorf("VerifyIntegrity: %v", err)
	}

	block.ProposerID = "tampered"
	if err := block.VerifyIntegrity(); err == nil {
		t.Error("tampered block should fail integrity check")
	}
}

// TestGenesisBlockDeterministic ensures every call to GenesisBlock produces
// the same hash, as required for I4 (new replicas must agree on genesis).
func TestGenesisBlockDeterministic(t *testing.T) {
	a := chain.GenesisBlock()
	b := chain.GenesisBlock()
	if a.BlockHash != b.BlockHash {
		t.Errorf("genesis hash not deterministic: %s != %s", a.BlockHash, b.BlockHash)
	}
}

// TestMempool verifies add/dedupe/take/remove behavior.
func TestMempool(t *testing.T) {
	mp := mempool.New()
	w, _ := wallet.Generate()

	tx, _ := w.Transfer("aa", 1)
	if !mp.Add(tx) {
		t.Fatal("Add should succeed for a new transaction")
	}
	if mp.Size() != 1 {
		t.Errorf("size: got %d want 1", mp.Size())
	}
	if mp.Add(tx) {
		t.Error("adding duplicate tx should be a no-op")
	}

	taken := mp.Take(10)
	if len(taken) != 1 {
		t.Errorf("take: got %d want 1", len(taken))
	}

	mp.RemoveMany([]string{tx.TxID})
	if mp.Size() != 0 {
		t.Error("pool should be empty after RemoveMany")
	}
	if mp.Add(tx) {
		t.Error("re-adding a purged tx should be rejected via the seen set")
	}
}
