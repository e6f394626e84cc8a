package health

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Dialer is the narrow capability Reconnector needs from the Message
// Layer: whether a logical peer is currently connected, and how to
// (re)connect it. Keeping this as an interface rather than importing p2p
// directly keeps health decoupled from the transport's concrete type.
type Dialer interface {
	Connected(peerID string) bool
	AddPeer(id, addr string, listeningPort int) error
}

// PeerAddr is a statically configured peer this node should maintain a
// connection to.
type PeerAddr struct {
	ID   string
	Addr string
}

// Reconnector wakes periodically and dials every configured peer that is
// not currently connected, bounded by the dial's own connect timeout.
// Grounded on original_source's src/node/node.py reconnection loop.
type Reconnector struct {
	dialer   Dialer
	peers    []PeerAddr
	interval time.Duration
	log      *logrus.Entry
	stopCh   chan struct{}
}

// NewReconnector returns a Reconnector that retries dials every interval.
func NewReconnector(dialer Dialer, peers []PeerAddr, interval time.Duration, log *logrus.Entry) *Reconnector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Reconnector{
		dialer:   dialer,
		peers:    peers,
		interval: interval,
		log:      log.WithField("component", "reconnector"),
		stopCh:   make(chan struct{}),
	}
}

// Run blocks, attempting reconnects every interval, until Stop is called.
func (r *Reconnector) Run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.attemptAll()
		}
	}
}

// Stop ends the reconnect loop.
func (r *Reconnector) Stop() {
	close(r.stopCh)
}

func (r *Reconnector) attemptAll() {
	for _, p := range r.peers {
		if r.dialer.Connected(p.ID) {
			continue
		}
		if err := r.dialer.AddPeer(p.ID, p.Addr, 0); err != nil {
			r.log.WithError(err).WithField("peer", p.ID).Debug("reconnect attempt failed")
		}
	}
}
