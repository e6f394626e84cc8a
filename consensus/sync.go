package consensus

import (
	"time"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/wire"
)

// StartRecovery enters RECOVERING mode for the configured grace period and
// broadcasts a SYNC_REQUEST (§4.6.4). The Node Orchestrator calls this once
// at startup, and suppresses Peer Health detection for the same duration.
func (c *Consensus) StartRecovery() {
	c.mu.Lock()
	c.recovering = true
	c.recoveryDeadline = time.Now().Add(c.cfg.RecoveryGracePeriod)
	height := c.store.Height()
	hash := c.store.HeadHash()
	c.mu.Unlock()

	c.requestSync(height, hash)
}

func (c *Consensus) requestSync(height uint64, hash string) {
	payload, err := wire.EncodePayload(wire.SyncRequestPayload{Height: height, LatestHash: hash})
	if err != nil {
		c.log.WithError(err).Error("failed to encode SYNC_REQUEST payload")
		return
	}
	c.net.Broadcast(wire.NewEnvelope(wire.SyncRequest, c.selfID, payload))
}

// CheckRecoveryTimeout completes recovery once the grace period elapses,
// even if the node never caught up to a peer's height. Call from the
// health-check loop.
func (c *Consensus) CheckRecoveryTimeout(now time.Time) {
	c.mu.Lock()
	done := c.recovering && !now.Before(c.recoveryDeadline)
	if done {
		c.recovering = false
	}
	c.mu.Unlock()
	if done {
		c.emitter.Emit(events.Event{Type: events.RecoveryDone})
	}
}

// HandleSyncRequest always responds, even if the requester is already at
// the same height (§4.6.4), and additionally pushes MEMPOOL_SYNC.
func (c *Consensus) HandleSyncRequest(senderID string, p wire.SyncRequestPayload) {
	c.mu.Lock()
	height := c.store.Height()
	hash := c.store.HeadHash()
	view := c.currentView
	failed := make([]string, 0, len(c.failedValidators))
	for id, f := range c.failedValidators {
		if f {
			failed = append(failed, id)
		}
	}
	c.mu.Unlock()

	var blocks []*chain.Block
	if height > p.Height {
		blocks = c.store.BlocksRange(p.Height+1, height)
	}

	resp, err := wire.EncodePayload(wire.SyncResponsePayload{
		Height:           height,
		LatestHash:       hash,
		Blocks:           blocks,
		CurrentView:      view,
		FailedValidators: failed,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to encode SYNC_RESPONSE payload")
		return
	}
	if err := c.net.SendTo(senderID, wire.NewEnvelope(wire.SyncResponse, c.selfID, resp)); err != nil {
		c.log.WithError(err).WithField("peer", senderID).Warn("failed to send SYNC_RESPONSE")
	}

	mempoolPayload, err := wire.EncodePayload(wire.MempoolSyncPayload{Transactions: c.mempool.All()})
	if err == nil {
		c.net.Broadcast(wire.NewEnvelope(wire.MempoolSync, c.selfID, mempoolPayload))
	}
}

// HandleSyncResponse applies a peer's catch-up state (§4.6.4). It adopts a
// higher view unconditionally, but only adopts failed_validators once this
// node has left RECOVERING (stale failure lists from peers could otherwise
// corrupt a newcomer's view).
func (c *Consensus) HandleSyncResponse(senderID string, p wire.SyncResponsePayload) {
	c.mu.Lock()
	if p.CurrentView > c.currentView {
		c.currentView = p.CurrentView
	}
	if !c.recovering {
		for _, id := range p.FailedValidators {
			c.failedValidators[CanonicalID(id, c.validatorSet)] = true
		}
	}
	c.mu.Unlock()

	for _, b := range p.Blocks {
		c.applySyncedBlock(b)
	}

	c.mu.Lock()
	caughtUp := c.recovering && c.store.Height() >= p.Height
	if caughtUp {
		c.recovering = false
	}
	c.mu.Unlock()
	if caughtUp {
		c.emitter.Emit(events.Event{Type: events.RecoveryDone})
	}
}

// applySyncedBlock validates one block against the current tip (I1-I3) and
// appends it, discarding on mismatch rather than aborting the whole batch
// (a later block in the same response may still apply after a gap is
// filled by a subsequent round).
func (c *Consensus) applySyncedBlock(b *chain.Block) {
	c.mu.Lock()
	tipHeight := c.store.Height()
	tipHash := c.store.HeadHash()
	c.mu.Unlock()

	if b.Height != tipHeight+1 || b.PrevHash != tipHash {
		return
	}
	if err := b.VerifyIntegrity(); err != nil {
		return
	}

	ok, reason := c.store.Append(b)
	if !ok {
		c.log.WithField("height", b.Height).WithField("reason", reason).Warn("discarding unsyncable block")
		return
	}

	ids := make([]string, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.TxID
	}
	c.mempool.RemoveMany(ids)

	c.mu.Lock()
	c.lastBlockTime = time.Now()
	c.mu.Unlock()
}

// HandleMempoolSync merges a peer's pending transactions into the local
// mempool; Add is idempotent so duplicates are harmless.
func (c *Consensus) HandleMempoolSync(senderID string, p wire.MempoolSyncPayload) {
	for _, tx := range p.Transactions {
		c.mempool.Add(tx)
	}
}

// BuildHeartbeat returns this replica's current HEARTBEAT payload (§6).
func (c *Consensus) BuildHeartbeat() wire.HeartbeatPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	failed := make([]string, 0, len(c.failedValidators))
	for id, f := range c.failedValidators {
		if f {
			failed = append(failed, id)
		}
	}
	return wire.HeartbeatPayload{
		Height:           c.store.Height(),
		LastBlockHash:    c.store.HeadHash(),
		CurrentView:      c.currentView,
		FailedValidators: failed,
	}
}

// HandleHeartbeat adopts a higher view carried on a heartbeat (grounded on
// original_source's node.py, which does this beyond what §4.6.4 states
// explicitly for SYNC_RESPONSE) and requests a sync if the sender is
// significantly ahead.
func (c *Consensus) HandleHeartbeat(senderID string, p wire.HeartbeatPayload) {
	c.mu.Lock()
	if p.CurrentView > c.currentView {
		c.currentView = p.CurrentView
	}
	myHeight := c.store.Height()
	myHash := c.store.HeadHash()
	c.mu.Unlock()

	const aheadThreshold = 1
	if p.Height > myHeight+aheadThreshold {
		c.requestSync(myHeight, myHash)
	}
}

// HandleGetHeaders answers a GETHEADERS request.
func (c *Consensus) HandleGetHeaders(senderID string, p wire.GetHeadersPayload) {
	headers := c.store.HeadersRange(p.FromHeight, p.ToHeight)
	payload, err := wire.EncodePayload(wire.HeadersPayload{Headers: headers})
	if err != nil {
		c.log.WithError(err).Error("failed to encode HEADERS payload")
		return
	}
	if err := c.net.SendTo(senderID, wire.NewEnvelope(wire.Headers, c.selfID, payload)); err != nil {
		c.log.WithError(err).WithField("peer", senderID).Warn("failed to send HEADERS")
	}
}

// HandleGetBlocks answers a GETBLOCKS request.
func (c *Consensus) HandleGetBlocks(senderID string, p wire.GetBlocksPayload) {
	blocks := c.store.BlocksRange(p.FromHeight, p.ToHeight)
	payload, err := wire.EncodePayload(wire.BlocksPayload{Blocks: blocks})
	if err != nil {
		c.log.WithError(err).Error("failed to encode BLOCK payload")
		return
	}
	if err := c.net.SendTo(senderID, wire.NewEnvelope(wire.BlockMsg, c.selfID, payload)); err != nil {
		c.log.WithError(err).WithField("peer", senderID).Warn("failed to send BLOCK")
	}
}

// HandleTx adds a gossiped transaction to the mempool.
func (c *Consensus) HandleTx(senderID string, p wire.TxPayload) {
	if p.Tx == nil {
		return
	}
	c.mempool.Add(p.Tx)
}
