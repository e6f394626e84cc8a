// Chain Store: an append-only, durable, recoverable log stored as a single
// JSON file per node data directory (§4.2). Grounded on teacher's
// core/blockchain.go for the validate-then-append shape and locking
// discipline, and on original_source's minichain/store.py for the
// corrupt-backup-on-load behavior that src/chain/blockchain.py lacks.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrNotFound is returned by Get for a height outside the stored range.
var ErrNotFound = errors.New("chain: block not found")

const fileName = "chain.json"

type fileFormat struct {
	Blocks []*Block `json:"blocks"`
}

// Store is the append-only hash-chained log. All exported methods are safe
// for concurrent use; Append holds the lock across validate + write +
// in-memory update per §5.
type Store struct {
	mu   sync.RWMutex
	dir  string
	path string
	log  *logrus.Entry

	blocks []*Block // index i holds the block at height i
}

// NewStore returns a store rooted at dir, which is created if missing. Call
// Load to populate it from disk (or deterministic genesis).
func NewStore(dir string, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{dir: dir, path: filepath.Join(dir, fileName), log: log}
}

// Load reads the chain file if present. A missing, empty, or malformed file
// is backed up (renamed with a timestamped suffix, when it exists) and the
// store is reinitialized from the deterministic genesis block.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("chain: create data dir: %w", err)
	}

	raw, err := os.ReadFile(s.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s.initGenesisLocked()
	case err != nil:
		return fmt.Errorf("chain: read store: %w", err)
	}

	if len(raw) == 0 {
		s.log.Warn("chain store file is empty, reinitializing from genesis")
		s.backupCorruptLocked()
		return s.initGenesisLocked()
	}

	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		s.log.WithError(err).Warn("chain store file is malformed, reinitializing from genesis")
		s.backupCorruptLocked()
		return s.initGenesisLocked()
	}
	if len(ff.Blocks) == 0 {
		s.log.Warn("chain store file has no blocks, reinitializing from genesis")
		s.backupCorruptLocked()
		return s.initGenesisLocked()
	}

	s.blocks = ff.Blocks
	return nil
}

func (s *Store) initGenesisLocked() error {
	s.blocks = []*Block{GenesisBlock()}
	return s.persistLocked()
}

func (s *Store) backupCorruptLocked() {
	backup := fmt.Sprintf("%s.bak.%d", s.path, time.Now().Unix())
	if err := os.Rename(s.path, backup); err != nil {
		s.log.WithError(err).Warn("failed to back up corrupt chain store")
		return
	}
	s.log.WithField("backup", backup).Warn("backed up corrupt chain store")
}

// Height returns the index of the tip (0 for genesis-only).
func (s *Store) Height() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.blocks) - 1)
}

// HeadHash returns the tip's block_hash.
func (s *Store) HeadHash() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blocks[len(s.blocks)-1].BlockHash
}

// Get returns the block at height, or ErrNotFound.
func (s *Store) Get(height uint64) (*Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if height >= uint64(len(s.blocks)) {
		return nil, ErrNotFound
	}
	return s.blocks[height], nil
}

// Append validates I1-I3 against the current tip and, on success, writes
// the file atomically (write-temp + rename) and updates in-memory state. A
// failed append leaves the store unchanged; never overwrites a committed
// block.
func (s *Store) Append(b *Block) (ok bool, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tip := s.blocks[len(s.blocks)-1]
	if b.Height != tip.Height+1 {
		return false, "height_mismatch"
	}
	if b.PrevHash != tip.BlockHash {
		return false, "prev_hash_mismatch"
	}
	if err := b.VerifyIntegrity(); err != nil {
		return false, "bad_block_hash"
	}

	s.blocks = append(s.blocks, b)
	if err := s.persistLocked(); err != nil {
		s.blocks = s.blocks[:len(s.blocks)-1]
		s.log.WithError(err).Error("chain store append failed to persist")
		return false, "store_write_failed"
	}
	return true, "committed"
}

func (s *Store) persistLocked() error {
	raw, err := json.MarshalIndent(fileFormat{Blocks: s.blocks}, "", "  ")
	if err != nil {
		return fmt.Errorf("chain: marshal store: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, fileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("chain: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chain: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chain: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("chain: rename temp file: %w", err)
	}
	return nil
}

// Header is the lightweight metadata-only view of a Block used by
// HeadersRange, GETHEADERS/HEADERS, and admin listings.
type Header struct {
	Height     uint64 `json:"height"`
	BlockHash  string `json:"block_hash"`
	PrevHash   string `json:"prev_hash"`
	ProposerID string `json:"proposer_id"`
	Timestamp  float64 `json:"timestamp"`
	TxCount    int    `json:"tx_count"`
}

// HeadersRange returns lightweight headers for [from,to], clamped to the
// store's range, for sync.
func (s *Store) HeadersRange(from, to uint64) []Header {
	blocks := s.BlocksRange(from, to)
	out := make([]Header, len(blocks))
	for i, b := range blocks {
		out[i] = Header{
			Height:     b.Height,
			BlockHash:  b.BlockHash,
			PrevHash:   b.PrevHash,
			ProposerID: b.ProposerID,
			Timestamp:  b.Timestamp,
			TxCount:    len(b.Transactions),
		}
	}
	return out
}

// BlocksRange returns full blocks for [from,to], clamped to the store's
// range, for sync.
func (s *Store) BlocksRange(from, to uint64) []*Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tip := uint64(len(s.blocks) - 1)
	if to > tip {
		to = tip
	}
	if from > to {
		return nil
	}
	out := make([]*Block, 0, to-from+1)
	for h := from; h <= to; h++ {
		out = append(out, s.blocks[h])
	}
	return out
}
