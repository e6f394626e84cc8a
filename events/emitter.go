// Package events lets the Consensus Core publish outbound notifications
// without holding a reference back to the Node Orchestrator (§9's redesign
// note on the Node/Consensus cycle): Consensus emits events; Node and other
// collaborators (the indexer) subscribe. Grounded on
// teacher's events/emitter.go, generalized past its blockchain-game event
// set to the consensus lifecycle.
package events

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Type is a closed set of events the Consensus Core publishes.
type Type string

const (
	BlockCommitted Type = "block_committed"
	PeerFailed     Type = "peer_failed"
	PeerRecovered  Type = "peer_recovered"
	ViewChanged    Type = "view_changed"
	RecoveryDone   Type = "recovery_done"
)

// Event carries a type tag plus loosely typed data; subscribers type-assert
// the fields they need.
type Event struct {
	Type   Type
	Height uint64
	Data   map[string]any
}

// Handler processes one Event. A panicking handler is isolated; it cannot
// crash the emitter or block commit path.
type Handler func(Event)

// Emitter is a synchronous, in-process pub/sub point.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	log      *logrus.Entry
}

// New returns an empty Emitter.
func New(log *logrus.Entry) *Emitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Emitter{handlers: make(map[Type][]Handler), log: log.WithField("component", "events")}
}

// Subscribe registers h to run on every Emit of typ.
func (e *Emitter) Subscribe(typ Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit dispatches ev to every subscriber of ev.Type synchronously, on the
// caller's goroutine. Each subscriber is wrapped in its own panic recovery
// so a misbehaving subscriber cannot halt block production.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	hs := append([]Handler(nil), e.handlers[ev.Type]...)
	e.mu.RUnlock()

	for _, h := range hs {
		e.safeCall(h, ev)
	}
}

func (e *Emitter) safeCall(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.WithField("panic", r).WithField("event", ev.Type).Error("event subscriber panicked")
		}
	}()
	h(ev)
}
