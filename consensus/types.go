package consensus

import (
	"sort"
	"strings"
	"time"

	"github.com/chainrelay/chainrelay/wire"
)

// Config holds the timing parameters of §4.6.5, all configurable.
type Config struct {
	BlockInterval       time.Duration
	ProposalTimeout     time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
	ReconnectInterval   time.Duration
	RecoveryGracePeriod time.Duration
	ViewChangeCooldown  time.Duration
	MaxBlockSize        int
	MaxFrameBytes       uint32
	VerifySignatures    bool
}

// DefaultConfig returns the §4.6.5 defaults.
func DefaultConfig() Config {
	return Config{
		BlockInterval:       5 * time.Second,
		ProposalTimeout:     10 * time.Second,
		HeartbeatInterval:   3 * time.Second,
		HeartbeatTimeout:    10 * time.Second,
		ReconnectInterval:   5 * time.Second,
		RecoveryGracePeriod: 30 * time.Second,
		ViewChangeCooldown:  15 * time.Second,
		MaxBlockSize:        100,
		MaxFrameBytes:       16 << 20,
	}
}

// Network is the narrow capability the Consensus Core needs from the
// Message Layer. Consensus depends on this interface, never on a concrete
// p2p.Node, so it carries no reference back to the Node Orchestrator
// (§9's redesign note on the Node/Consensus cycle).
type Network interface {
	Broadcast(env wire.Envelope)
	SendTo(peerID string, env wire.Envelope) error
	SendToLeader(env wire.Envelope, leaderID string) error
}

// NormalizeValidators canonicalizes a configured validator list per §3:
// when the same replica appears under both its short hostname and its
// fully-qualified form, the FQDN is kept; the result is sorted by string
// order. Normalization happens once, here, at construction — not at every
// comparison site (§9's redesign note on scattered hostname normalization).
func NormalizeValidators(ids []string) []string {
	byShort := make(map[string]string, len(ids))
	for _, id := range ids {
		short := shortName(id)
		existing, ok := byShort[short]
		if !ok || (!strings.Contains(existing, ".") && strings.Contains(id, ".")) {
			byShort[short] = id
		}
	}
	out := make([]string, 0, len(byShort))
	for _, id := range byShort {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func shortName(id string) string {
	if i := strings.IndexByte(id, '.'); i >= 0 {
		return id[:i]
	}
	return id
}

// CanonicalID maps id to its canonical form within validatorSet, matching
// by exact value or by short hostname. Returns id unchanged if no
// validator matches.
func CanonicalID(id string, validatorSet []string) string {
	for _, v := range validatorSet {
		if v == id {
			return v
		}
	}
	short := shortName(id)
	for _, v := range validatorSet {
		if shortName(v) == short {
			return v
		}
	}
	return id
}
