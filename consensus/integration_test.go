package consensus

import (
	"testing"
	"time"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/internal/testutil"
	"github.com/chainrelay/chainrelay/mempool"
)

// TestHappyPathThreeNodeCommit exercises scenario S1: three replicas, one
// submitted transaction, the effective leader proposes a block, the other
// two ACK it, and every replica's Chain Store ends up at height 1 with the
// same block_hash.
func TestHappyPathThreeNodeCommit(t *testing.T) {
	ids := []string{"node0", "node1", "node2"}
	net := testutil.NewMemNetwork()

	nodes := make(map[string]*Consensus, len(ids))
	for _, id := range ids {
		store := chain.NewStore(t.TempDir(), testEntry())
		if err := store.Load(); err != nil {
			t.Fatal(err)
		}
		priv, _, err := crypto.GenerateKeyPair()
		if err != nil {
			t.Fatal(err)
		}
		cfg := DefaultConfig()
		cfg.BlockInterval = 0 // propose immediately in the test
		c := New(id, NormalizeValidators(ids), cfg, store, mempool.New(),
			net.For(id), events.New(testEntry()), priv, nil, testEntry())
		nodes[id] = c
		net.Register(id, c)
	}

	leaderID := nodes["node0"].EffectiveLeader(1)
	leader := nodes[leaderID]

	tx, err := chain.NewTransaction("alice", "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	leader.mempool.Add(tx)

	leader.Tick(time.Now().Add(time.Hour))

	for _, c := range nodes {
		if c.store.Height() != 1 {
			t.Errorf("node %s: height = %d, want 1", c.selfID, c.store.Height())
		}
	}

	headHash := nodes[ids[0]].store.HeadHash()
	for _, id := range ids[1:] {
		if nodes[id].store.HeadHash() != headHash {
			t.Errorf("node %s: head hash diverges from %s", id, ids[0])
		}
	}
}
