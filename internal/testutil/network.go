package testutil

import (
	"sync"

	"github.com/chainrelay/chainrelay/wire"
)

// Inbox is the subset of a consensus.Consensus the MemNetwork dispatches
// inbound envelopes to, matching the per-type Handle* methods.
type Inbox interface {
	HandlePropose(senderID string, p wire.ProposePayload)
	HandleAck(senderID string, p wire.AckPayload)
	HandleCommit(senderID string, p wire.CommitPayload)
	HandleViewChange(senderID string, p wire.ViewChangePayload)
	HandleHeartbeat(senderID string, p wire.HeartbeatPayload)
	HandleSyncRequest(senderID string, p wire.SyncRequestPayload)
	HandleSyncResponse(senderID string, p wire.SyncResponsePayload)
	HandleMempoolSync(senderID string, p wire.MempoolSyncPayload)
	HandleTx(senderID string, p wire.TxPayload)
}

// MemNetwork links several Consensus instances in-process, implementing
// consensus.Network for each registered replica without opening a single
// TCP socket. Delivery is synchronous and on the caller's goroutine, which
// is sufficient for deterministic multi-node consensus tests.
type MemNetwork struct {
	mu    sync.Mutex
	peers map[string]Inbox
}

// NewMemNetwork returns an empty MemNetwork.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{peers: make(map[string]Inbox)}
}

// Register adds a replica's inbox under id. MemNetwork.For returns a
// per-replica handle that stamps outbound envelopes with id as sender.
func (n *MemNetwork) Register(id string, inbox Inbox) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers[id] = inbox
}

// For returns a consensus.Network-shaped handle for replica id.
func (n *MemNetwork) For(id string) *memNetworkHandle {
	return &memNetworkHandle{net: n, selfID: id}
}

type memNetworkHandle struct {
	net    *MemNetwork
	selfID string
}

func (h *memNetworkHandle) Broadcast(env wire.Envelope) {
	h.net.mu.Lock()
	targets := make(map[string]Inbox, len(h.net.peers))
	for id, inbox := range h.net.peers {
		if id != h.selfID {
			targets[id] = inbox
		}
	}
	h.net.mu.Unlock()
	for _, inbox := range targets {
		deliver(inbox, env)
	}
}

func (h *memNetworkHandle) SendTo(peerID string, env wire.Envelope) error {
	h.net.mu.Lock()
	inbox, ok := h.net.peers[peerID]
	h.net.mu.Unlock()
	if !ok {
		return nil
	}
	deliver(inbox, env)
	return nil
}

func (h *memNetworkHandle) SendToLeader(env wire.Envelope, leaderID string) error {
	return h.SendTo(leaderID, env)
}

func deliver(inbox Inbox, env wire.Envelope) {
	switch env.Type {
	case wire.Propose:
		var p wire.ProposePayload
		if env.DecodePayload(&p) == nil {
			inbox.HandlePropose(env.SenderID, p)
		}
	case wire.Ack:
		var p wire.AckPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleAck(env.SenderID, p)
		}
	case wire.Commit:
		var p wire.CommitPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleCommit(env.SenderID, p)
		}
	case wire.ViewChange:
		var p wire.ViewChangePayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleViewChange(env.SenderID, p)
		}
	case wire.Heartbeat:
		var p wire.HeartbeatPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleHeartbeat(env.SenderID, p)
		}
	case wire.SyncRequest:
		var p wire.SyncRequestPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleSyncRequest(env.SenderID, p)
		}
	case wire.SyncResponse:
		var p wire.SyncResponsePayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleSyncResponse(env.SenderID, p)
		}
	case wire.MempoolSync:
		var p wire.MempoolSyncPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleMempoolSync(env.SenderID, p)
		}
	case wire.Tx:
		var p wire.TxPayload
		if env.DecodePayload(&p) == nil {
			inbox.HandleTx(env.SenderID, p)
		}
	}
}
