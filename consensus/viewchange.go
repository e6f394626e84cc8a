package consensus

import (
	"time"

	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/wire"
)

// CheckTimeouts drives the leader-timeout view-change trigger (§4.6.3
// trigger 2). Call it from the Node Orchestrator's health-check loop.
func (c *Consensus) CheckTimeouts(now time.Time) {
	c.mu.Lock()
	nextHeight := c.store.Height() + 1
	leader := c.effectiveLeaderLocked(nextHeight)
	elapsed := now.Sub(c.lastBlockTime)
	leaderFailed := c.failedValidators[leader]
	c.mu.Unlock()

	if elapsed > c.cfg.BlockInterval+c.cfg.ProposalTimeout && leaderFailed {
		c.InitiateViewChange(leader, nextHeight, "timeout")
	}
}

// OnPeerFailure is the Peer Health failure callback (§4.6.3 trigger 1): it
// marks the peer failed in the validator partition and, if the peer is the
// current effective leader, initiates a view change.
func (c *Consensus) OnPeerFailure(peerID string) {
	id := CanonicalID(peerID, c.validatorSet)

	c.mu.Lock()
	if c.recovering {
		c.mu.Unlock()
		return
	}
	nextHeight := c.store.Height() + 1
	leader := c.effectiveLeaderLocked(nextHeight)
	c.failedValidators[id] = true
	c.mu.Unlock()

	c.emitter.Emit(events.Event{Type: events.PeerFailed, Data: map[string]any{"peer": id}})

	if leader == id {
		c.InitiateViewChange(id, nextHeight, "leader_failure")
	}
}

// OnPeerRecovery is the Peer Health recovery callback: re-activates the
// peer and clears its one-shot view-change-initiated flag.
func (c *Consensus) OnPeerRecovery(peerID string) {
	id := CanonicalID(peerID, c.validatorSet)

	c.mu.Lock()
	delete(c.failedValidators, id)
	delete(c.viewChangeInitiatedFor, id)
	c.mu.Unlock()

	c.emitter.Emit(events.Event{Type: events.PeerRecovered, Data: map[string]any{"peer": id}})
}

// ReactivateOnFrame implements §4.6.4's last paragraph: any inbound frame
// from a validator currently in failed_validators, received outside
// recovery, re-activates it. The Node Orchestrator calls this for every
// accepted envelope, before type-specific dispatch.
func (c *Consensus) ReactivateOnFrame(senderID string) {
	id := CanonicalID(senderID, c.validatorSet)

	c.mu.Lock()
	recovering := c.recovering
	wasFailed := c.failedValidators[id]
	if wasFailed && !recovering {
		delete(c.failedValidators, id)
		delete(c.viewChangeInitiatedFor, id)
	}
	c.mu.Unlock()

	if wasFailed && !recovering {
		c.emitter.Emit(events.Event{Type: events.PeerRecovered, Data: map[string]any{"peer": id}})
	}
}

// InitiateViewChange starts a view change nominating failedLeader as
// having failed at height. At most one initiation per failed leader is
// allowed, subject to a cooldown between any two initiations by this node
// (§4.6.3).
func (c *Consensus) InitiateViewChange(failedLeader string, height uint64, reason string) {
	c.mu.Lock()
	if c.viewChangeInitiatedFor[failedLeader] {
		c.mu.Unlock()
		return
	}
	if time.Since(c.lastViewChangeInitiation) < c.cfg.ViewChangeCooldown {
		c.mu.Unlock()
		return
	}
	newView := c.currentView + 1
	c.viewChangeInitiatedFor[failedLeader] = true
	c.lastViewChangeInitiation = time.Now()
	c.mu.Unlock()

	c.log.WithField("new_view", newView).WithField("failed_leader", failedLeader).Warn("initiating view change")

	payload, err := wire.EncodePayload(wire.ViewChangePayload{
		NewView:      newView,
		Height:       height,
		FailedLeader: failedLeader,
		Reason:       reason,
	})
	if err != nil {
		c.log.WithError(err).Error("failed to encode VIEWCHANGE payload")
		return
	}
	c.net.Broadcast(wire.NewEnvelope(wire.ViewChange, c.selfID, payload))

	// Self-vote: the initiator already agrees the nominated leader failed.
	c.HandleViewChange(c.selfID, wire.ViewChangePayload{
		NewView:      newView,
		Height:       height,
		FailedLeader: failedLeader,
		Reason:       reason,
	})
}

// HandleViewChange processes an inbound VIEWCHANGE vote (§4.6.3).
func (c *Consensus) HandleViewChange(senderID string, p wire.ViewChangePayload) {
	voter := CanonicalID(senderID, c.validatorSet)

	c.mu.Lock()
	if p.NewView <= c.currentView || p.NewView > c.currentView+1 {
		c.mu.Unlock()
		return
	}
	if c.viewChangeVotes[p.NewView] == nil {
		c.viewChangeVotes[p.NewView] = make(map[string]bool)
	}
	c.viewChangeVotes[p.NewView][voter] = true

	quorumNeeded := len(c.validatorSet)/2 + 1
	have := len(c.viewChangeVotes[p.NewView])
	reachedQuorum := have >= quorumNeeded
	var currentHeight uint64
	if reachedQuorum {
		currentHeight = c.store.Height()
		c.currentView = p.NewView
		c.failedValidators[p.FailedLeader] = true
		c.clearStaleBookkeepingLocked(currentHeight)
		c.viewChangeVotes = make(map[uint64]map[string]bool)
		c.viewChangeInitiatedFor = make(map[string]bool)
	}
	c.mu.Unlock()

	if reachedQuorum {
		c.log.WithField("view", p.NewView).Warn("view change quorum reached")
		c.emitter.Emit(events.Event{Type: events.ViewChanged, Height: currentHeight, Data: map[string]any{"view": p.NewView, "failed_leader": p.FailedLeader}})
	}
}

// clearStaleBookkeepingLocked implements the view-change cleanup of §4.6.3:
// acksSent for heights beyond the committed tip, the pending proposal
// (it came from the old leader), and commit-dedup guards for uncommitted
// heights. Caller holds mu.
func (c *Consensus) clearStaleBookkeepingLocked(currentHeight uint64) {
	for k := range c.acksSent {
		if k.height > currentHeight {
			delete(c.acksSent, k)
		}
	}
	c.pendingProposal = nil
	c.pendingLeader = ""
	for h := range c.commitsProcessing {
		if h > currentHeight {
			delete(c.commitsProcessing, h)
		}
	}
	for h := range c.commitsBroadcast {
		if h > currentHeight {
			delete(c.commitsBroadcast, h)
		}
	}
	for h := range c.committing {
		if h > currentHeight {
			delete(c.committing, h)
		}
	}
}
