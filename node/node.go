// Package node is the Node Orchestrator (§4.7): it wires the other six
// components together, owns the long-running loops, installs the
// message-dispatch table, and exposes the administrative read-only
// accessors used by §6's collaborator interfaces. Grounded on teacher's
// cmd/node/main.go for construction order and original_source's
// src/node/node.py for the loop/dispatch shape.
package node

import (
	"crypto/tls"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/consensus"
	"github.com/chainrelay/chainrelay/crypto"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/health"
	"github.com/chainrelay/chainrelay/mempool"
	"github.com/chainrelay/chainrelay/p2p"
	"github.com/chainrelay/chainrelay/wire"
)

// tickInterval is how often the proposal and health-check loops wake up to
// re-evaluate their conditions; the protocol's real pacing comes from the
// timing parameters in consensus.Config, not from this constant.
const tickInterval = 1 * time.Second

// Options configures a Node at construction.
type Options struct {
	SelfID        string
	ListenAddr    string
	ListeningPort int
	Peers         []health.PeerAddr
	ValidatorSet  []string // pre-normalization; Node canonicalizes
	Consensus     consensus.Config
	TLSConfig     *tls.Config // nil falls back to plain TCP
	PrivateKey    crypto.PrivateKey
	PublicKeys    map[string]crypto.PublicKey
	DataDir       string
	Log           *logrus.Entry
}

// Node owns the P2P transport, the health tracker, the reconnector, the
// chain store, the mempool, and the Consensus Core, and drives every
// long-running loop.
type Node struct {
	opts    Options
	log     *logrus.Entry
	p2p     *p2p.Node
	store   *chain.Store
	mempool *mempool.Mempool
	health  *health.Tracker
	reconn  *health.Reconnector
	emitter *events.Emitter
	cons    *consensus.Consensus

	stopCh chan struct{}
}

// New wires every component but does not start any loop or socket; call
// Start for that.
func New(opts Options) (*Node, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	log = log.WithField("node", opts.SelfID)

	store := chain.NewStore(opts.DataDir, log)
	if err := store.Load(); err != nil {
		return nil, fmt.Errorf("node: load chain store: %w", err)
	}

	mp := mempool.New()
	emitter := events.New(log)

	validatorSet := consensus.NormalizeValidators(opts.ValidatorSet)

	transport := p2p.New(opts.SelfID, opts.ListenAddr, opts.TLSConfig, opts.Consensus.MaxFrameBytes, log)

	n := &Node{
		opts:    opts,
		log:     log,
		p2p:     transport,
		store:   store,
		mempool: mp,
		emitter: emitter,
		stopCh:  make(chan struct{}),
	}

	n.cons = consensus.New(opts.SelfID, validatorSet, opts.Consensus, store, mp, transport, emitter, opts.PrivateKey, opts.PublicKeys, log)

	n.health = health.New(opts.Consensus.HeartbeatTimeout, n.cons.OnPeerFailure, n.cons.OnPeerRecovery, log)
	n.reconn = health.NewReconnector(transport, opts.Peers, opts.Consensus.ReconnectInterval, log)

	n.installHandlers()
	return n, nil
}

// installHandlers wires every wire.MsgType to its Consensus Core handler,
// with Peer Health recording and reactivation applied uniformly first
// (§4.5's "receiving is the authoritative liveness signal" and §4.6.4's
// "any inbound frame ... re-activates that validator").
func (n *Node) installHandlers() {
	wrap := func(h func(senderID string, env wire.Envelope)) p2p.Handler {
		return func(peerID string, env wire.Envelope) {
			n.health.RecordFrame(env.SenderID)
			n.cons.ReactivateOnFrame(env.SenderID)
			h(env.SenderID, env)
		}
	}

	n.p2p.Handle(wire.Hello, wrap(func(senderID string, env wire.Envelope) {}))

	n.p2p.Handle(wire.Heartbeat, wrap(func(senderID string, env wire.Envelope) {
		var p wire.HeartbeatPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleHeartbeat(senderID, p)
	}))

	n.p2p.Handle(wire.Tx, wrap(func(senderID string, env wire.Envelope) {
		var p wire.TxPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleTx(senderID, p)
	}))

	n.p2p.Handle(wire.Propose, wrap(func(senderID string, env wire.Envelope) {
		var p wire.ProposePayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandlePropose(senderID, p)
	}))

	n.p2p.Handle(wire.Ack, wrap(func(senderID string, env wire.Envelope) {
		var p wire.AckPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleAck(senderID, p)
	}))

	n.p2p.Handle(wire.Commit, wrap(func(senderID string, env wire.Envelope) {
		var p wire.CommitPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleCommit(senderID, p)
	}))

	n.p2p.Handle(wire.ViewChange, wrap(func(senderID string, env wire.Envelope) {
		var p wire.ViewChangePayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleViewChange(senderID, p)
	}))

	n.p2p.Handle(wire.SyncRequest, wrap(func(senderID string, env wire.Envelope) {
		var p wire.SyncRequestPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleSyncRequest(senderID, p)
	}))

	n.p2p.Handle(wire.SyncResponse, wrap(func(senderID string, env wire.Envelope) {
		var p wire.SyncResponsePayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleSyncResponse(senderID, p)
	}))

	n.p2p.Handle(wire.MempoolSync, wrap(func(senderID string, env wire.Envelope) {
		var p wire.MempoolSyncPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleMempoolSync(senderID, p)
	}))

	n.p2p.Handle(wire.GetHeaders, wrap(func(senderID string, env wire.Envelope) {
		var p wire.GetHeadersPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleGetHeaders(senderID, p)
	}))

	n.p2p.Handle(wire.GetBlocks, wrap(func(senderID string, env wire.Envelope) {
		var p wire.GetBlocksPayload
		if err := env.DecodePayload(&p); err != nil {
			return
		}
		n.cons.HandleGetBlocks(senderID, p)
	}))
}

// Start binds the listener, connects configured peers, enters recovery, and
// launches the proposal, heartbeat, and health-check loops.
func (n *Node) Start() error {
	if err := n.p2p.Start(); err != nil {
		return err
	}

	for _, p := range n.opts.Peers {
		if err := n.p2p.AddPeer(p.ID, p.Addr, n.opts.ListeningPort); err != nil {
			n.log.WithError(err).WithField("peer", p.ID).Warn("initial connect failed, reconnector will retry")
		}
	}

	n.health.SetSuppressed(true)
	n.cons.StartRecovery()
	n.emitter.Subscribe(events.RecoveryDone, func(events.Event) {
		n.health.SetSuppressed(false)
		n.log.Info("recovery complete")
	})

	go n.reconn.Run()
	go n.proposalLoop()
	go n.heartbeatLoop()
	go n.healthCheckLoop()
	return nil
}

// Stop halts every loop and closes the transport.
func (n *Node) Stop() {
	close(n.stopCh)
	n.reconn.Stop()
	n.p2p.Stop()
}

func (n *Node) proposalLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case now := <-ticker.C:
			n.cons.Tick(now)
		}
	}
}

func (n *Node) heartbeatLoop() {
	ticker := time.NewTicker(n.opts.Consensus.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			payload, err := wire.EncodePayload(n.cons.BuildHeartbeat())
			if err != nil {
				continue
			}
			n.p2p.Broadcast(wire.NewEnvelope(wire.Heartbeat, n.opts.SelfID, payload))
		}
	}
}

func (n *Node) healthCheckLoop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stopCh:
			return
		case now := <-ticker.C:
			n.health.CheckTimeouts()
			n.cons.CheckTimeouts(now)
			n.cons.CheckRecoveryTimeout(now)
		}
	}
}

// SubmitTx adds tx to the local mempool and gossips it to peers.
func (n *Node) SubmitTx(tx *chain.Transaction) (bool, error) {
	if !n.mempool.Add(tx) {
		return false, nil
	}
	payload, err := wire.EncodePayload(wire.TxPayload{Tx: tx})
	if err != nil {
		return true, err
	}
	n.p2p.Broadcast(wire.NewEnvelope(wire.Tx, n.opts.SelfID, payload))
	return true, nil
}

// --- Administrative read accessors (§6) ------------------------------------

func (n *Node) Height() uint64                { return n.store.Height() }
func (n *Node) HeadHash() string              { return n.store.HeadHash() }
func (n *Node) MempoolSize() int              { return n.mempool.Size() }
func (n *Node) MempoolContents() []*chain.Transaction { return n.mempool.All() }
func (n *Node) BlockAt(height uint64) (*chain.Block, error) { return n.store.Get(height) }
func (n *Node) LeaderAt(height uint64) string { return n.cons.EffectiveLeader(height) }
func (n *Node) ActiveValidators() []string    { return n.cons.ActiveValidators() }
func (n *Node) FailedValidators() []string    { return n.cons.FailedValidators() }
func (n *Node) CurrentView() uint64           { return n.cons.CurrentView() }
func (n *Node) ConnectionCount() int          { return n.p2p.ConnectionCount() }

// Subscribe exposes the Consensus Core's event stream to collaborators
// such as the indexer without giving them a reference to Consensus itself.
func (n *Node) Subscribe(typ events.Type, h events.Handler) {
	n.emitter.Subscribe(typ, h)
}
