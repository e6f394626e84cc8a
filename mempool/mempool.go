// Package mempool holds unconfirmed transactions (§4.3), grounded on
// teacher's core/mempool.go for the locking shape, generalized to the
// simplified content-addressed Transaction and a "seen" set so a
// transaction purged by inclusion in a committed block cannot be re-added
// from stale gossip.
package mempool

import (
	"sync"

	"github.com/chainrelay/chainrelay/chain"
)

// Mempool is a set of unconfirmed transactions keyed by tx_id. All
// operations serialize under a single mutex; none are reentrant.
type Mempool struct {
	mu   sync.Mutex
	txs  map[string]*chain.Transaction
	ord  []string // insertion order, for stable Take
	seen map[string]struct{}
}

// New returns an empty Mempool.
func New() *Mempool {
	return &Mempool{
		txs:  make(map[string]*chain.Transaction),
		seen: make(map[string]struct{}),
	}
}

// Add inserts tx if its tx_id is not already present and has not been
// purged by a committed block. Returns false (idempotent no-op) on either
// duplicate condition.
func (m *Mempool) Add(tx *chain.Transaction) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.TxID]; ok {
		return false
	}
	if _, ok := m.seen[tx.TxID]; ok {
		return false
	}
	m.txs[tx.TxID] = tx
	m.ord = append(m.ord, tx.TxID)
	return true
}

// Get returns the transaction for id, if present.
func (m *Mempool) Get(id string) (*chain.Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Take returns up to limit transactions in stable insertion order, without
// removing them. A leader calls Take then, on commit, RemoveMany.
func (m *Mempool) Take(limit int) []*chain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		return nil
	}
	out := make([]*chain.Transaction, 0, limit)
	for _, id := range m.ord {
		tx, ok := m.txs[id]
		if !ok {
			continue
		}
		out = append(out, tx)
		if len(out) == limit {
			break
		}
	}
	return out
}

// RemoveMany deletes ids from the pool and marks them seen, so stale gossip
// of an already-committed transaction is not re-added.
func (m *Mempool) RemoveMany(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(ids) == 0 {
		return
	}
	for _, id := range ids {
		delete(m.txs, id)
		m.seen[id] = struct{}{}
	}
	kept := m.ord[:0]
	for _, id := range m.ord {
		if _, ok := m.txs[id]; ok {
			kept = append(kept, id)
		}
	}
	m.ord = kept
}

// Size returns the number of unconfirmed transactions.
func (m *Mempool) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}

// All returns every pending transaction, for MEMPOOL_SYNC.
func (m *Mempool) All() []*chain.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*chain.Transaction, 0, len(m.ord))
	for _, id := range m.ord {
		if tx, ok := m.txs[id]; ok {
			out = append(out, tx)
		}
	}
	return out
}
