// Package p2p is the Message Layer (§4.4): framed TCP transport, typed
// envelopes, broadcast/unicast dispatch. Grounded on teacher's
// network/node.go for the connection table, accept loop, and per-connection
// receive loop shape; the handler table is keyed by wire.MsgType instead of
// teacher's bare string MsgType.
package p2p

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/chainrelay/chainrelay/wire"
)

// DefaultMaxPeers bounds inbound connections accepted by Start.
const DefaultMaxPeers = 64

// Handler processes one decoded envelope from peerID. Handlers must not
// block on network I/O; long work should be handed off.
type Handler func(peerID string, env wire.Envelope)

// Node owns the listening socket and the live connection table. It has no
// reference to Consensus or Node Orchestrator types: callers register
// Handlers and call Broadcast/SendTo/SendToLeader, keeping the dependency
// direction one-way (§9's redesign note on the Node/Consensus cycle).
type Node struct {
	id         string
	listenAddr string
	tlsConfig  *tls.Config
	maxFrame   uint32
	maxPeers   int
	log        *logrus.Entry

	mu       sync.RWMutex
	conns    map[string]*Conn
	handlers map[wire.MsgType]Handler

	listener net.Listener
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New returns a Node bound to listenAddr once Start is called.
func New(id, listenAddr string, tlsCfg *tls.Config, maxFrame uint32, log *logrus.Entry) *Node {
	if maxFrame == 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Node{
		id:         id,
		listenAddr: listenAddr,
		tlsConfig:  tlsCfg,
		maxFrame:   maxFrame,
		maxPeers:   DefaultMaxPeers,
		log:        log.WithField("component", "p2p"),
		conns:      make(map[string]*Conn),
		handlers:   make(map[wire.MsgType]Handler),
		stopCh:     make(chan struct{}),
	}
}

// Handle registers the handler for typ, overwriting any previous one.
func (n *Node) Handle(typ wire.MsgType, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[typ] = h
}

// Start binds the listener and begins accepting connections.
func (n *Node) Start() error {
	var ln net.Listener
	var err error
	if n.tlsConfig != nil {
		ln, err = tls.Listen("tcp", n.listenAddr, n.tlsConfig)
	} else {
		ln, err = net.Listen("tcp", n.listenAddr)
	}
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", n.listenAddr, err)
	}
	n.listener = ln

	n.wg.Add(1)
	go n.acceptLoop()
	return nil
}

// Stop closes the listener and every connection, unblocking any reads in
// progress, and waits for loops to exit.
func (n *Node) Stop() {
	close(n.stopCh)
	if n.listener != nil {
		n.listener.Close()
	}
	n.mu.Lock()
	for id, c := range n.conns {
		c.Close()
		delete(n.conns, id)
	}
	n.mu.Unlock()
	n.wg.Wait()
}

func (n *Node) acceptLoop() {
	defer n.wg.Done()
	for {
		raw, err := n.listener.Accept()
		if err != nil {
			select {
			case <-n.stopCh:
				return
			default:
				n.log.WithError(err).Warn("accept failed")
				continue
			}
		}
		n.mu.RLock()
		full := len(n.conns) >= n.maxPeers
		n.mu.RUnlock()
		if full {
			raw.Close()
			continue
		}
		c := newConn(raw.RemoteAddr().String(), raw.RemoteAddr().String(), raw, n.maxFrame)
		n.wg.Add(1)
		go n.readLoop(c)
	}
}

// AddPeer dials addr, registers the connection under id, sends HELLO, and
// starts its receive loop.
func (n *Node) AddPeer(id, addr string, listeningPort int) error {
	c, err := Dial(id, addr, n.tlsConfig, n.maxFrame)
	if err != nil {
		return err
	}
	c.ID = id

	n.mu.Lock()
	n.conns[id] = c
	n.mu.Unlock()

	payload, err := wire.EncodePayload(wire.HelloPayload{Version: 1, ListeningPort: listeningPort})
	if err == nil {
		c.Send(wire.NewEnvelope(wire.Hello, n.id, payload))
	}

	n.wg.Add(1)
	go n.readLoop(c)
	return nil
}

func (n *Node) readLoop(c *Conn) {
	defer n.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("panic", r).Error("p2p readLoop panicked")
		}
		c.Close()
		n.mu.Lock()
		if n.conns[c.ID] == c {
			delete(n.conns, c.ID)
		}
		n.mu.Unlock()
	}()

	for {
		env, err := c.Receive()
		if err != nil {
			n.log.WithError(err).WithField("peer", c.ID).Debug("connection closed")
			return
		}
		if env.SenderID != "" {
			n.mu.Lock()
			if c.ID != env.SenderID {
				// First frame from an inbound connection carries the
				// peer's real identity; re-key the connection table.
				delete(n.conns, c.ID)
				c.ID = env.SenderID
				n.conns[c.ID] = c
			}
			n.mu.Unlock()
		}
		if !wire.KnownTypes[env.Type] {
			n.log.WithField("type", env.Type).Warn("dropping envelope of unknown type")
			continue
		}

		n.mu.RLock()
		h, ok := n.handlers[env.Type]
		n.mu.RUnlock()
		if !ok {
			continue
		}
		n.dispatch(h, c.ID, env)
	}
}

func (n *Node) dispatch(h Handler, peerID string, env wire.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			n.log.WithField("panic", r).WithField("type", env.Type).Error("handler panicked")
		}
	}()
	h(peerID, env)
}

// Broadcast sends env to every live connection, isolating per-peer errors.
func (n *Node) Broadcast(env wire.Envelope) {
	n.mu.RLock()
	conns := make([]*Conn, 0, len(n.conns))
	for _, c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.RUnlock()

	for _, c := range conns {
		if err := c.Send(env); err != nil {
			n.log.WithError(err).WithField("peer", c.ID).Warn("broadcast send failed")
		}
	}
}

// SendTo unicasts env to the named peer, if connected.
func (n *Node) SendTo(peerID string, env wire.Envelope) error {
	n.mu.RLock()
	c, ok := n.conns[peerID]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("p2p: no connection to peer %q", peerID)
	}
	return c.Send(env)
}

// SendToLeader unicasts env to leaderID. It is the same as SendTo; the name
// documents intent and keeps the dedup guarantee (at most one send even if
// a future connection table holds more than one route to the same logical
// peer) local to this one function.
func (n *Node) SendToLeader(env wire.Envelope, leaderID string) error {
	return n.SendTo(leaderID, env)
}

// ConnectionCount returns the number of live connections, for the
// Administrative read API.
func (n *Node) ConnectionCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.conns)
}

// Connected reports whether peerID currently has a live connection.
func (n *Node) Connected(peerID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.conns[peerID]
	return ok
}
