// Package consensus is the Consensus Core (§4.6): leader rotation,
// proposal lifecycle, quorum, view change, and sync/recovery. Grounded
// primarily on original_source's src/node/node.py and src/consensus/poa.py
// for control-flow semantics (the teacher's consensus/poa.go has no view
// change at all), expressed with teacher's struct/constructor/mutex idiom.
package consensus

import (
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/codec"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/mempool"
	"github.com/chainrelay/chainrelay/wire"
)

// ackKey identifies an ack-dedup/commit-dedup bucket. Consolidates what the
// original keeps as several parallel string-keyed bool maps (§9's redesign
// note) into one typed key used consistently for acksSent.
type ackKey struct {
	height uint64
	leader string
}

// Consensus is the per-replica consensus state machine. All mutable fields
// below are guarded by mu, matching §5's single-logical-mutex requirement;
// handlers are invoked concurrently from one receive loop per connection.
type Consensus struct {
	selfID       string
	validatorSet []string // fixed, sorted, canonical
	cfg          Config
	store        *chain.Store
	mempool      *mempool.Mempool
	net          Network
	emitter      *events.Emitter
	priv         crypto.PrivateKey
	pubKeys      map[string]crypto.PublicKey // validator id -> pubkey, only used if cfg.VerifySignatures
	log          *logrus.Entry

	mu sync.Mutex

	currentView      uint64
	failedValidators map[string]bool
	pendingProposal  *chain.Block
	pendingLeader    string
	acksReceived     map[uint64]map[string]bool
	acksSent         map[ackKey]bool
	committing       map[uint64]bool
	commitsProcessing map[uint64]bool
	commitsBroadcast  map[uint64]bool

	viewChangeVotes         map[uint64]map[string]bool
	viewChangeInitiatedFor  map[string]bool
	lastViewChangeInitiation time.Time

	lastBlockTime time.Time

	recovering      bool
	recoveryDeadline time.Time
}

// New constructs a Consensus with consensus state seeded from the store's
// current height (§3: "Consensus state is created at startup from the
// loaded chain height").
func New(selfID string, validatorSet []string, cfg Config, store *chain.Store, mp *mempool.Mempool, net Network, emitter *events.Emitter, priv crypto.PrivateKey, pubKeys map[string]crypto.PublicKey, log *logrus.Entry) *Consensus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Consensus{
		selfID:            selfID,
		validatorSet:      validatorSet,
		cfg:               cfg,
		store:             store,
		mempool:           mp,
		net:               net,
		emitter:           emitter,
		priv:              priv,
		pubKeys:           pubKeys,
		log:               log.WithField("component", "consensus").WithField("node", selfID),
		failedValidators:  make(map[string]bool),
		acksReceived:      make(map[uint64]map[string]bool),
		acksSent:          make(map[ackKey]bool),
		committing:        make(map[uint64]bool),
		commitsProcessing: make(map[uint64]bool),
		commitsBroadcast:  make(map[uint64]bool),
		viewChangeVotes:        make(map[uint64]map[string]bool),
		viewChangeInitiatedFor: make(map[string]bool),
		lastBlockTime:          time.Now(),
	}
}

// sortedActiveLocked returns the active validator subset of validatorSet,
// in sorted order, falling back to the full set when every validator has
// been marked failed (§4.6.1).
func (c *Consensus) sortedActiveLocked() []string {
	active := make([]string, 0, len(c.validatorSet))
	for _, v := range c.validatorSet {
		if !c.failedValidators[v] {
			active = append(active, v)
		}
	}
	if len(active) == 0 {
		return append([]string(nil), c.validatorSet...)
	}
	return active
}

// EffectiveLeader returns the leader for height per §4.6.1.
func (c *Consensus) EffectiveLeader(height uint64) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effectiveLeaderLocked(height)
}

func (c *Consensus) effectiveLeaderLocked(height uint64) string {
	active := c.sortedActiveLocked()
	idx := (height + c.currentView) % uint64(len(active))
	return active[idx]
}

func (c *Consensus) isEffectiveLeaderLocked(height uint64) bool {
	return c.effectiveLeaderLocked(height) == c.selfID
}

// CurrentView returns the current view number.
func (c *Consensus) CurrentView() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentView
}

// ActiveValidators returns the sorted active set.
func (c *Consensus) ActiveValidators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedActiveLocked()
}

// FailedValidators returns the sorted failed set.
func (c *Consensus) FailedValidators() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.failedValidators))
	for id, failed := range c.failedValidators {
		if failed {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// IsRecovering reports whether the node is still in its startup grace
// period (§4.6.4).
func (c *Consensus) IsRecovering() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recovering
}

// --- Proposal lifecycle (§4.6.2) -------------------------------------------

// Tick drives the leader proposal check. Call it from the Node
// Orchestrator's proposal loop (§4.7) on a short period (e.g. 1s); it is a
// no-op unless this replica is the effective leader for the next height,
// enough time has elapsed, and there is no proposal already pending there.
func (c *Consensus) Tick(now time.Time) {
	c.mu.Lock()
	nextHeight := c.store.Height() + 1
	isLeader := c.isEffectiveLeaderLocked(nextHeight)
	elapsed := now.Sub(c.lastBlockTime)
	alreadyPending := c.pendingProposal != nil && c.pendingProposal.Height == nextHeight
	c.mu.Unlock()

	if !isLeader || elapsed < c.cfg.BlockInterval || alreadyPending {
		return
	}
	c.tryPropose(nextHeight)
}

func (c *Consensus) tryPropose(height uint64) {
	if c.cfg.MaxBlockSize <= 0 {
		return
	}
	txs := c.mempool.Take(c.cfg.MaxBlockSize)
	if len(txs) == 0 {
		return
	}

	c.mu.Lock()
	prevHash := c.store.HeadHash()
	c.mu.Unlock()

	block, err := chain.NewBlock(height, prevHash, c.selfID, txs)
	if err != nil {
		c.log.WithError(err).Error("failed to build block")
		return
	}
	if c.priv != nil {
		block.Sign(c.priv)
	}

	c.mu.Lock()
	c.pendingProposal = block
	c.pendingLeader = c.selfID
	key := ackKey{height: height, leader: c.selfID}
	c.acksSent[key] = true
	if c.acksReceived[height] == nil {
		c.acksReceived[height] = make(map[string]bool)
	}
	c.acksReceived[height][c.selfID] = true
	c.mu.Unlock()

	c.broadcastPropose(block)
	c.log.WithField("height", height).WithField("txs", len(txs)).Info("proposed block")
}

func (c *Consensus) broadcastPropose(block *chain.Block) {
	payload, err := wire.EncodePayload(wire.ProposePayload{
		Height:     block.Height,
		PrevHash:   block.PrevHash,
		TxList:     block.Transactions,
		ProposerID: block.ProposerID,
		BlockHash:  block.BlockHash,
		Timestamp:  block.Timestamp,
		Signature:  block.Signature,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to encode PROPOSE payload")
		return
	}
	c.net.Broadcast(wire.NewEnvelope(wire.Propose, c.selfID, payload))
}

// HandlePropose processes an inbound PROPOSE from any replica (§4.6.2).
func (c *Consensus) HandlePropose(senderID string, p wire.ProposePayload) {
	if p.Height == 0 {
		c.log.Warn("rejecting PROPOSE for height 0: genesis is fixed")
		return
	}

	c.mu.Lock()
	expectHeight := c.store.Height() + 1
	expectPrev := c.store.HeadHash()
	leader := c.effectiveLeaderLocked(p.Height)
	c.mu.Unlock()

	if p.Height != expectHeight {
		c.log.WithField("height", p.Height).Debug("rejecting PROPOSE: height mismatch")
		return
	}
	if p.PrevHash != expectPrev {
		c.log.WithField("height", p.Height).Warn("rejecting PROPOSE: prev_hash mismatch")
		return
	}
	if CanonicalID(p.ProposerID, c.validatorSet) != leader || CanonicalID(senderID, c.validatorSet) != leader {
		c.log.WithField("height", p.Height).WithField("proposer", p.ProposerID).Warn("rejecting PROPOSE: not the effective leader")
		return
	}

	wantHash, err := codec.BlockHash(p.Height, p.PrevHash, txIDsOf(p.TxList), p.Timestamp, p.ProposerID)
	if err != nil || wantHash != p.BlockHash {
		c.log.WithField("height", p.Height).Warn("rejecting PROPOSE: bad block_hash")
		return
	}

	block := &chain.Block{
		Height:       p.Height,
		PrevHash:     p.PrevHash,
		Timestamp:    p.Timestamp,
		ProposerID:   p.ProposerID,
		Transactions: p.TxList,
		BlockHash:    p.BlockHash,
		Signature:    p.Signature,
	}

	if c.cfg.VerifySignatures {
		if pub, ok := c.pubKeys[leader]; ok {
			if err := block.VerifySignature(pub); err != nil {
				c.log.WithField("height", p.Height).Warn("rejecting PROPOSE: bad leader signature")
				return
			}
		}
		for _, tx := range block.Transactions {
			pub, ok := c.pubKeys[tx.Sender]
			if !ok {
				continue // opaque sender not a known validator, nothing to verify against
			}
			if err := tx.Verify(pub); err != nil {
				c.log.WithField("height", p.Height).WithField("tx_id", tx.TxID).Warn("rejecting PROPOSE: bad transaction signature")
				return
			}
		}
	}

	c.mu.Lock()
	c.pendingProposal = block
	c.pendingLeader = leader
	key := ackKey{height: p.Height, leader: leader}
	alreadyAcked := c.acksSent[key]
	if !alreadyAcked {
		c.acksSent[key] = true
	}
	c.mu.Unlock()

	if alreadyAcked {
		return // duplicate PROPOSE: idempotent, second pass short-circuits (§4.6.2)
	}
	c.sendAck(block, leader)
}

func (c *Consensus) sendAck(block *chain.Block, leader string) {
	sig := ""
	if c.priv != nil {
		sig = codec.Sign(c.priv, []byte(block.BlockHash))
	}
	payload, err := wire.EncodePayload(wire.AckPayload{
		Height:    block.Height,
		BlockHash: block.BlockHash,
		VoterID:   c.selfID,
		Signature: sig,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to encode ACK payload")
		return
	}
	if err := c.net.SendToLeader(wire.NewEnvelope(wire.Ack, c.selfID, payload), leader); err != nil {
		c.log.WithError(err).WithField("leader", leader).Warn("failed to send ACK")
	}
}

// HandleAck processes an inbound ACK. Only the effective leader of the
// height acts on it; any other replica drops it (§4.6.2).
func (c *Consensus) HandleAck(senderID string, p wire.AckPayload) {
	c.mu.Lock()
	leader := c.effectiveLeaderLocked(p.Height)
	if leader != c.selfID {
		c.mu.Unlock()
		return
	}
	voter := CanonicalID(p.VoterID, c.validatorSet)
	if c.acksReceived[p.Height] == nil {
		c.acksReceived[p.Height] = make(map[string]bool)
	}
	c.acksReceived[p.Height][voter] = true
	quorum := len(c.sortedActiveLocked())
	have := len(c.acksReceived[p.Height])
	pending := c.pendingProposal
	alreadyCommitting := c.committing[p.Height]
	reachedQuorum := have >= quorum && pending != nil && pending.Height == p.Height
	if reachedQuorum && !alreadyCommitting {
		c.committing[p.Height] = true
	}
	c.mu.Unlock()

	if !reachedQuorum || alreadyCommitting {
		return
	}
	c.commitAsLeader(pending)
}

func (c *Consensus) commitAsLeader(block *chain.Block) {
	ok, reason := c.store.Append(block)
	c.mu.Lock()
	delete(c.committing, block.Height)
	if !ok {
		c.mu.Unlock()
		c.log.WithField("height", block.Height).WithField("reason", reason).Error("leader failed to append committed block")
		return
	}
	c.clearHeightBookkeepingLocked(block.Height)
	c.lastBlockTime = time.Now()
	broadcastNeeded := !c.commitsBroadcast[block.Height]
	c.commitsBroadcast[block.Height] = true
	c.mu.Unlock()

	c.finishCommit(block)
	if broadcastNeeded {
		c.broadcastCommit(block)
	}
}

func (c *Consensus) broadcastCommit(block *chain.Block) {
	sig := ""
	if c.priv != nil {
		sig = codec.Sign(c.priv, []byte(block.BlockHash))
	}
	payload, err := wire.EncodePayload(wire.CommitPayload{
		Height:    block.Height,
		BlockHash: block.BlockHash,
		LeaderID:  c.selfID,
		Signature: sig,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to encode COMMIT payload")
		return
	}
	c.net.Broadcast(wire.NewEnvelope(wire.Commit, c.selfID, payload))
}

// HandleCommit processes an inbound COMMIT on a follower (§4.6.2).
func (c *Consensus) HandleCommit(senderID string, p wire.CommitPayload) {
	c.mu.Lock()
	if c.commitsProcessing[p.Height] {
		c.mu.Unlock()
		return
	}
	c.commitsProcessing[p.Height] = true
	pending := c.pendingProposal
	match := pending != nil && pending.Height == p.Height && pending.BlockHash == p.BlockHash
	alreadyHave := c.store.Height() >= p.Height
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.commitsProcessing, p.Height)
		c.mu.Unlock()
	}()

	if alreadyHave {
		return // already applied: COMMIT for an existing block is a no-op
	}
	if !match {
		c.log.WithField("height", p.Height).Warn("COMMIT does not match pending proposal, awaiting sync")
		return
	}

	ok, reason := c.store.Append(pending)
	if !ok {
		c.log.WithField("height", p.Height).WithField("reason", reason).Error("follower failed to append committed block")
		return
	}
	c.mu.Lock()
	c.clearHeightBookkeepingLocked(p.Height)
	c.lastBlockTime = time.Now()
	c.mu.Unlock()
	c.finishCommit(pending)
}

// clearHeightBookkeepingLocked releases the bookkeeping for height after a
// successful commit. Caller holds mu.
func (c *Consensus) clearHeightBookkeepingLocked(height uint64) {
	if c.pendingProposal != nil && c.pendingProposal.Height == height {
		c.pendingProposal = nil
		c.pendingLeader = ""
	}
	delete(c.acksReceived, height)
}

func (c *Consensus) finishCommit(block *chain.Block) {
	ids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		ids[i] = tx.TxID
	}
	c.mempool.RemoveMany(ids)
	c.emitter.Emit(events.Event{Type: events.BlockCommitted, Height: block.Height, Data: map[string]any{"block": block}})
	c.log.WithField("height", block.Height).WithField("hash", block.BlockHash).Info("block committed")
}

func txIDsOf(txs []*chain.Transaction) []string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.TxID
	}
	return ids
}
