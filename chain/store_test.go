package chain

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

// TestStoreGenesisInit ensures a fresh store initializes from the
// deterministic genesis block.
func TestStoreGenesisInit(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLog())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Height() != 0 {
		t.Errorf("height: got %d want 0", s.Height())
	}
	if s.HeadHash() != GenesisBlock().BlockHash {
		t.Error("head hash should match the deterministic genesis hash")
	}
}

// TestStoreAppendRejectsBadLinkage verifies I1/I2: height and prev_hash must
// chain from the current tip.
func TestStoreAppendRejectsBadLinkage(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLog())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	b, err := NewBlock(5, s.HeadHash(), "node1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, reason := s.Append(b); ok {
		t.Errorf("expected height mismatch rejection, got ok with reason %q", reason)
	}

	b2, err := NewBlock(1, "wrong-prev-hash", "node1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if ok, reason := s.Append(b2); ok {
		t.Errorf("expected prev_hash mismatch rejection, got ok with reason %q", reason)
	}
}

// TestStoreAppendAndReload verifies a valid append persists across reload.
func TestStoreAppendAndReload(t *testing.T) {
	dir := t.TempDir()
	s := NewStore(dir, testLog())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}

	b, err := NewBlock(1, s.HeadHash(), "node1", nil)
	if err != nil {
		t.Fatal(err)
	}
	ok, reason := s.Append(b)
	if !ok {
		t.Fatalf("append failed: %s", reason)
	}
	if s.Height() != 1 {
		t.Errorf("height: got %d want 1", s.Height())
	}

	s2 := NewStore(dir, testLog())
	if err := s2.Load(); err != nil {
		t.Fatal(err)
	}
	if s2.Height() != 1 {
		t.Errorf("reloaded height: got %d want 1", s2.Height())
	}
	if s2.HeadHash() != b.BlockHash {
		t.Error("reloaded head hash mismatch")
	}
}

// TestStoreCorruptFileReinitializes ensures a malformed chain.json is backed
// up and the store falls back to genesis rather than failing to start.
func TestStoreCorruptFileReinitializes(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, fileName), []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	s := NewStore(dir, testLog())
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if s.Height() != 0 {
		t.Errorf("height after recovery: got %d want 0", s.Height())
	}

	matches, _ := filepath.Glob(filepath.Join(dir, fileName+".bak.*"))
	if len(matches) != 1 {
		t.Errorf("expected exactly one backup file, found %d", len(matches))
	}
}
