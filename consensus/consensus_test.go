package consensus

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/mempool"
	"github.com/chainrelay/chainrelay/wire"
)

// fakeNetwork records outbound envelopes instead of sending them over a
// socket, for unit-testing Consensus in isolation.
type fakeNetwork struct {
	broadcasts []wire.Envelope
	sentTo     map[string][]wire.Envelope
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{sentTo: make(map[string][]wire.Envelope)}
}

func (f *fakeNetwork) Broadcast(env wire.Envelope) {
	f.broadcasts = append(f.broadcasts, env)
}

func (f *fakeNetwork) SendTo(peerID string, env wire.Envelope) error {
	f.sentTo[peerID] = append(f.sentTo[peerID], env)
	return nil
}

func (f *fakeNetwork) SendToLeader(env wire.Envelope, leaderID string) error {
	return f.SendTo(leaderID, env)
}

func testEntry() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func newTestConsensus(t *testing.T, selfID string, validators []string) *Consensus {
	t.Helper()
	return newTestConsensusWithKeys(t, selfID, validators, DefaultConfig(), nil)
}

func newTestConsensusWithKeys(t *testing.T, selfID string, validators []string, cfg Config, pubKeys map[string]crypto.PublicKey) *Consensus {
	t.Helper()
	store := chain.NewStore(t.TempDir(), testEntry())
	if err := store.Load(); err != nil {
		t.Fatal(err)
	}
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	return New(selfID, NormalizeValidators(validators), cfg, store, mempool.New(),
		newFakeNetwork(), events.New(testEntry()), priv, pubKeys, testEntry())
}

// TestEffectiveLeaderRotatesRoundRobin checks the leader formula of §4.6.1:
// (height + current_view) mod n_active over the sorted active set.
func TestEffectiveLeaderRotatesRoundRobin(t *testing.T) {
	c := newTestConsensus(t, "node0", []string{"node0", "node1", "node2"})
	active := c.ActiveValidators()
	if len(active) != 3 {
		t.Fatalf("expected 3 active validators, got %d", len(active))
	}
	for h := uint64(0); h < 6; h++ {
		got := c.EffectiveLeader(h)
		want := active[h%3]
		if got != want {
			t.Errorf("height %d: leader = %s, want %s", h, got, want)
		}
	}
}

// TestEffectiveLeaderFallsBackWhenAllFailed ensures the leader formula falls
// back to the full validator set rather than panicking on an empty active
// set (§4.6.1's edge case).
func TestEffectiveLeaderFallsBackWhenAllFailed(t *testing.T) {
	c := newTestConsensus(t, "node0", []string{"node0", "node1", "node2"})
	for _, v := range c.validatorSet {
		c.failedValidators[v] = true
	}
	leader := c.EffectiveLeader(0)
	found := false
	for _, v := range c.validatorSet {
		if v == leader {
			found = true
		}
	}
	if !found {
		t.Errorf("leader %q with all-failed active set should still come from validatorSet", leader)
	}
}

// TestOnPeerFailureInitiatesViewChangeWhenLeader ensures a failure of the
// current effective leader triggers a VIEWCHANGE broadcast (§4.6.3 trigger 1).
func TestOnPeerFailureInitiatesViewChangeWhenLeader(t *testing.T) {
	c := newTestConsensus(t, "node0", []string{"node0", "node1", "node2"})
	nextHeight := c.store.Height() + 1
	leader := c.EffectiveLeader(nextHeight)

	c.OnPeerFailure(leader)

	net := c.net.(*fakeNetwork)
	found := false
	for _, env := range net.broadcasts {
		if env.Type == wire.ViewChange {
			found = true
		}
	}
	if !found {
		t.Error("expected a VIEWCHANGE broadcast after the effective leader failed")
	}
}

// TestViewChangeQuorumAdvancesView ensures quorum (floor(n/2)+1 over the
// full validator set) advances current_view exactly once.
func TestViewChangeQuorumAdvancesView(t *testing.T) {
	c := newTestConsensus(t, "node0", []string{"node0", "node1", "node2"})
	payload := wire.ViewChangePayload{NewView: 1, Height: 1, FailedLeader: "node1", Reason: "test"}

	c.HandleViewChange("node0", payload)
	if c.CurrentView() != 0 {
		t.Fatal("view should not advance before quorum")
	}
	c.HandleViewChange("node1", payload)
	if c.CurrentView() != 1 {
		t.Errorf("view should advance to 1 once quorum (2 of 3) is reached, got %d", c.CurrentView())
	}
}

// buildSignedProposal builds a height-1 PROPOSE payload from leaderID,
// signed with leaderPriv, carrying txs, against c's current head.
func buildSignedProposal(t *testing.T, c *Consensus, leaderID string, leaderPriv crypto.PrivateKey, txs []*chain.Transaction) wire.ProposePayload {
	t.Helper()
	block, err := chain.NewBlock(1, c.store.HeadHash(), leaderID, txs)
	if err != nil {
		t.Fatal(err)
	}
	block.Sign(leaderPriv)
	return wire.ProposePayload{
		Height:     block.Height,
		PrevHash:   block.PrevHash,
		TxList:     block.Transactions,
		ProposerID: leaderID,
		BlockHash:  block.BlockHash,
		Timestamp:  block.Timestamp,
		Signature:  block.Signature,
	}
}

// setUpSignedPropose builds a two-validator pair with VerifySignatures on
// and a leader keypair registered in pubKeys, returning the follower
// Consensus (the one that will run HandlePropose) and the leader's id/key.
func setUpSignedPropose(t *testing.T) (follower *Consensus, leaderID string, leaderPriv crypto.PrivateKey, pubKeys map[string]crypto.PublicKey) {
	t.Helper()
	validators := []string{"v0", "v1"}
	cfg := DefaultConfig()
	cfg.VerifySignatures = true

	leaderPriv, leaderPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	pubKeys = map[string]crypto.PublicKey{}

	probe := newTestConsensusWithKeys(t, "v0", validators, cfg, nil)
	leaderID = probe.EffectiveLeader(1)
	followerID := "v0"
	if leaderID == "v0" {
		followerID = "v1"
	}
	pubKeys[leaderID] = leaderPub

	follower = newTestConsensusWithKeys(t, followerID, validators, cfg, pubKeys)
	return follower, leaderID, leaderPriv, pubKeys
}

// TestHandleProposeAcceptsValidLeaderAndTxSignatures covers the
// VerifySignatures=true, valid-signatures mode of spec.md §4.6.2 and §8's
// "test vectors should cover both modes": a correctly signed leader and a
// correctly signed transaction both pass, and the follower ACKs.
func TestHandleProposeAcceptsValidLeaderAndTxSignatures(t *testing.T) {
	c, leaderID, leaderPriv, pubKeys := setUpSignedPropose(t)

	senderPriv, senderPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := chain.NewTransaction("wallet1", "wallet2", 10)
	if err != nil {
		t.Fatal(err)
	}
	tx.Sign(senderPriv)
	pubKeys["wallet1"] = senderPub

	payload := buildSignedProposal(t, c, leaderID, leaderPriv, []*chain.Transaction{tx})
	c.HandlePropose(leaderID, payload)

	net := c.net.(*fakeNetwork)
	if len(net.sentTo[leaderID]) != 1 {
		t.Fatalf("expected one ACK sent to leader, got %d", len(net.sentTo[leaderID]))
	}
}

// TestHandleProposeRejectsBadLeaderSignature covers the VerifySignatures=true,
// invalid-leader-signature mode: the PROPOSE must be dropped and no ACK sent.
func TestHandleProposeRejectsBadLeaderSignature(t *testing.T) {
	c, leaderID, _, _ := setUpSignedPropose(t)

	otherPriv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	// Sign with a key that doesn't match the registered leader pubkey.
	payload := buildSignedProposal(t, c, leaderID, otherPriv, nil)
	c.HandlePropose(leaderID, payload)

	net := c.net.(*fakeNetwork)
	if len(net.sentTo[leaderID]) != 0 {
		t.Fatalf("expected no ACK for a bad leader signature, got %d", len(net.sentTo[leaderID]))
	}
}

// TestHandleProposeRejectsBadTxSignature covers the invalid-transaction-
// signature half of §4.6.2's "verify ... each transaction's signature": a
// valid leader signature does not excuse a tampered transaction signature.
func TestHandleProposeRejectsBadTxSignature(t *testing.T) {
	c, leaderID, leaderPriv, pubKeys := setUpSignedPropose(t)

	_, senderPub, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	tx, err := chain.NewTransaction("wallet1", "wallet2", 10)
	if err != nil {
		t.Fatal(err)
	}
	tx.Signature = "00" // never produced by senderPub's key
	pubKeys["wallet1"] = senderPub

	payload := buildSignedProposal(t, c, leaderID, leaderPriv, []*chain.Transaction{tx})
	c.HandlePropose(leaderID, payload)

	net := c.net.(*fakeNetwork)
	if len(net.sentTo[leaderID]) != 0 {
		t.Fatalf("expected no ACK for a bad transaction signature, got %d", len(net.sentTo[leaderID]))
	}
}
