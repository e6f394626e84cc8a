package health

import (
	"testing"
	"time"
)

// TestRecordFrameAliveTransition checks an unseen peer becomes ALIVE on
// first frame and does not fire onRecovery (it was never FAILED).
func TestRecordFrameAliveTransition(t *testing.T) {
	var recovered []string
	tr := New(time.Hour, nil, func(id string) { recovered = append(recovered, id) }, nil)

	tr.RecordFrame("node1")
	if tr.State("node1") != Alive {
		t.Fatalf("state = %v, want Alive", tr.State("node1"))
	}
	if len(recovered) != 0 {
		t.Fatalf("unexpected recovery callback: %v", recovered)
	}
}

// TestCheckTimeoutsMarksFailedAndFires confirms a peer with a stale
// heartbeat transitions to FAILED and the callback fires exactly once.
func TestCheckTimeoutsMarksFailedAndFires(t *testing.T) {
	var failed []string
	tr := New(time.Millisecond, func(id string) { failed = append(failed, id) }, nil, nil)

	tr.RecordFrame("node1")
	time.Sleep(5 * time.Millisecond)
	tr.CheckTimeouts()
	tr.CheckTimeouts() // second call must not re-fire for the same episode

	if tr.State("node1") != Failed {
		t.Fatalf("state = %v, want Failed", tr.State("node1"))
	}
	if len(failed) != 1 || failed[0] != "node1" {
		t.Fatalf("onFailure fired %v times, want exactly [node1]", failed)
	}
}

// TestRecordFrameFiresRecoveryFromFailed confirms FAILED -> ALIVE fires
// onRecovery.
func TestRecordFrameFiresRecoveryFromFailed(t *testing.T) {
	var recovered []string
	tr := New(time.Millisecond, nil, func(id string) { recovered = append(recovered, id) }, nil)

	tr.RecordFrame("node1")
	time.Sleep(5 * time.Millisecond)
	tr.CheckTimeouts()
	if tr.State("node1") != Failed {
		t.Fatalf("precondition: state = %v, want Failed", tr.State("node1"))
	}

	tr.RecordFrame("node1")
	if tr.State("node1") != Alive {
		t.Fatalf("state = %v, want Alive", tr.State("node1"))
	}
	if len(recovered) != 1 || recovered[0] != "node1" {
		t.Fatalf("onRecovery fired %v times, want exactly [node1]", recovered)
	}
}

// TestSuppressedSkipsCallbacks confirms §4.6.4's RECOVERING grace period:
// heartbeat bookkeeping still happens but failure/recovery callbacks do not
// fire while suppressed.
func TestSuppressedSkipsCallbacks(t *testing.T) {
	var failed, recovered []string
	tr := New(time.Millisecond,
		func(id string) { failed = append(failed, id) },
		func(id string) { recovered = append(recovered, id) },
		nil)

	tr.SetSuppressed(true)
	tr.RecordFrame("node1")
	time.Sleep(5 * time.Millisecond)
	tr.CheckTimeouts()

	if tr.State("node1") != Failed {
		t.Fatalf("state = %v, want Failed (suppression only gates callbacks)", tr.State("node1"))
	}
	if len(failed) != 0 {
		t.Fatalf("onFailure fired while suppressed: %v", failed)
	}

	tr.RecordFrame("node1")
	if len(recovered) != 0 {
		t.Fatalf("onRecovery fired while suppressed: %v", recovered)
	}

	tr.SetSuppressed(false)
}

// TestFailedListsOnlyFailedPeers checks Failed() reflects exactly the set
// of peers in the FAILED state.
func TestFailedListsOnlyFailedPeers(t *testing.T) {
	tr := New(time.Millisecond, nil, nil, nil)
	tr.RecordFrame("alive-peer")
	tr.RecordFrame("dead-peer")
	time.Sleep(5 * time.Millisecond)
	tr.RecordFrame("alive-peer") // refresh, stays alive
	tr.CheckTimeouts()

	got := tr.Failed()
	if len(got) != 1 || got[0] != "dead-peer" {
		t.Fatalf("Failed() = %v, want [dead-peer]", got)
	}
}

// TestUnknownStateForUnseenPeer confirms a peer never observed reports
// UNKNOWN rather than zero-valuing to ALIVE.
func TestUnknownStateForUnseenPeer(t *testing.T) {
	tr := New(time.Hour, nil, nil, nil)
	if tr.State("ghost") != Unknown {
		t.Fatalf("state = %v, want Unknown", tr.State("ghost"))
	}
}
