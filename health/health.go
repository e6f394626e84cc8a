// Package health implements Peer Health (§4.5): heartbeat tracking and the
// UNKNOWN/ALIVE/FAILED state machine. Grounded on original_source's
// src/node/node.py peer-failure/recovery handling, expressed with teacher's
// mutex-guarded-map idiom (network/node.go's connection table).
package health

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is a peer's liveness state.
type State int

const (
	Unknown State = iota
	Alive
	Failed
)

func (s State) String() string {
	switch s {
	case Alive:
		return "ALIVE"
	case Failed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type peerRecord struct {
	state         State
	lastHeartbeat time.Time
}

// Tracker maintains last-heartbeat time and an alive bit per peer. Frame
// receipt of any type is the authoritative liveness signal (§4.5); callers
// feed every accepted inbound frame to RecordFrame, not just HEARTBEAT.
type Tracker struct {
	mu          sync.Mutex
	peers       map[string]*peerRecord
	timeout     time.Duration
	onFailure   func(peerID string)
	onRecovery  func(peerID string)
	log         *logrus.Entry
	suppressed  bool // true while the local node is RECOVERING (§4.6.4)
}

// New returns a Tracker that marks a peer FAILED after timeout without any
// received frame. onFailure/onRecovery are invoked outside the lock, at
// most once per failure episode, in a manner matching §5's callback
// dispatch requirement.
func New(timeout time.Duration, onFailure, onRecovery func(peerID string), log *logrus.Entry) *Tracker {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Tracker{
		peers:      make(map[string]*peerRecord),
		timeout:    timeout,
		onFailure:  onFailure,
		onRecovery: onRecovery,
		log:        log.WithField("component", "health"),
	}
}

// SetSuppressed toggles failure detection and recovery callbacks while the
// local node is itself RECOVERING (§4.6.4): the node's own view of peer
// state is not yet trustworthy, so it must not emit failure/recovery
// events, though it still records heartbeat timestamps.
func (t *Tracker) SetSuppressed(suppressed bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.suppressed = suppressed
}

// RecordFrame marks peerID alive as of now. UNKNOWN/FAILED -> ALIVE. A
// FAILED -> ALIVE transition fires onRecovery, unless suppressed.
func (t *Tracker) RecordFrame(peerID string) {
	t.mu.Lock()
	r, ok := t.peers[peerID]
	if !ok {
		r = &peerRecord{}
		t.peers[peerID] = r
	}
	wasFailed := r.state == Failed
	r.state = Alive
	r.lastHeartbeat = time.Now()
	suppressed := t.suppressed
	t.mu.Unlock()

	if wasFailed && !suppressed && t.onRecovery != nil {
		t.onRecovery(peerID)
	}
}

// CheckTimeouts scans every known peer and marks ALIVE peers FAILED when
// the heartbeat timeout has elapsed, firing onFailure exactly once per
// failure episode, unless suppressed.
func (t *Tracker) CheckTimeouts() {
	now := time.Now()

	var failed []string
	t.mu.Lock()
	suppressed := t.suppressed
	for id, r := range t.peers {
		if r.state == Alive && now.Sub(r.lastHeartbeat) > t.timeout {
			r.state = Failed
			failed = append(failed, id)
		}
	}
	t.mu.Unlock()

	if suppressed {
		return
	}
	for _, id := range failed {
		if t.onFailure != nil {
			t.onFailure(id)
		}
	}
}

// State returns peerID's current state (UNKNOWN if never observed).
func (t *Tracker) State(peerID string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.peers[peerID]
	if !ok {
		return Unknown
	}
	return r.state
}

// Failed returns the set of peers currently in the FAILED state.
func (t *Tracker) Failed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for id, r := range t.peers {
		if r.state == Failed {
			out = append(out, id)
		}
	}
	return out
}
