// Package indexer maintains secondary LevelDB-backed indexes over consensus
// events: a tx-id -> height lookup (so a client can find which block
// confirmed a transaction without scanning the chain store) and a
// peer-failure episode log (for post-mortem on view changes).
package indexer

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/events"
	"github.com/chainrelay/chainrelay/storage"
)

const (
	prefixTxHeight  = "idx:tx:"
	prefixFailEpoch = "idx:fail:"
)

type failureEpisode struct {
	Peer string    `json:"peer"`
	At   time.Time `json:"at"`
	Kind string    `json:"kind"` // "failed" or "recovered"
}

// Indexer subscribes to the Node Orchestrator's event stream and updates its
// lookup tables as blocks commit and peers fail or recover.
type Indexer struct {
	db  storage.DB
	log *logrus.Entry
}

// Subscriber is the subset of *node.Node's event API the indexer needs.
type Subscriber interface {
	Subscribe(typ events.Type, h events.Handler)
}

// New creates an Indexer backed by db and subscribes it to n's events.
func New(db storage.DB, n Subscriber, log *logrus.Entry) *Indexer {
	idx := &Indexer{db: db, log: log}
	n.Subscribe(events.BlockCommitted, idx.onBlockCommitted)
	n.Subscribe(events.PeerFailed, idx.onPeerFailed)
	n.Subscribe(events.PeerRecovered, idx.onPeerRecovered)
	return idx
}

// HeightOf returns the height of the block that confirmed txID, or
// storage.ErrNotFound if it hasn't been indexed.
func (idx *Indexer) HeightOf(txID string) (uint64, error) {
	data, err := idx.db.Get([]byte(prefixTxHeight + txID))
	if err != nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("indexer: corrupt height record for %s", txID)
	}
	return binary.BigEndian.Uint64(data), nil
}

func (idx *Indexer) onBlockCommitted(ev events.Event) {
	block, _ := ev.Data["block"].(*chain.Block)
	if block == nil {
		return
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, block.Height)
	for _, tx := range block.Transactions {
		if err := idx.db.Set([]byte(prefixTxHeight+tx.TxID), buf); err != nil {
			idx.log.WithError(err).WithField("tx", tx.TxID).Warn("tx index write failed")
		}
	}
}

func (idx *Indexer) onPeerFailed(ev events.Event) {
	idx.recordEpisode(ev, "failed")
}

func (idx *Indexer) onPeerRecovered(ev events.Event) {
	idx.recordEpisode(ev, "recovered")
}

func (idx *Indexer) recordEpisode(ev events.Event, kind string) {
	peer, _ := ev.Data["peer"].(string)
	if peer == "" {
		return
	}
	episode := failureEpisode{Peer: peer, At: time.Now(), Kind: kind}
	data, err := json.Marshal(episode)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s%s:%d", prefixFailEpoch, peer, episode.At.UnixNano())
	if err := idx.db.Set([]byte(key), data); err != nil {
		idx.log.WithError(err).WithField("peer", peer).Warn("failure episode write failed")
	}
}

// Episodes returns all recorded failure/recovery episodes for peer, in
// insertion (roughly chronological) order.
func (idx *Indexer) Episodes(peer string) ([]failureEpisode, error) {
	it := idx.db.NewIterator([]byte(prefixFailEpoch + peer + ":"))
	defer it.Release()

	var out []failureEpisode
	for it.Next() {
		var ep failureEpisode
		if err := json.Unmarshal(it.Value(), &ep); err != nil {
			continue
		}
		out = append(out, ep)
	}
	if err := it.Error(); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return out, err
	}
	return out, nil
}
