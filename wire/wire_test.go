package wire

import (
	"testing"

	"github.com/chainrelay/chainrelay/chain"
	"github.com/chainrelay/chainrelay/codec"
)

// TestEnvelopeRoundTrip checks an envelope survives Encode/DecodeEnvelope.
func TestEnvelopeRoundTrip(t *testing.T) {
	payload, err := EncodePayload(HeartbeatPayload{
		Height:           5,
		LastBlockHash:    "abc123",
		CurrentView:      1,
		FailedValidators: []string{"node1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	env := NewEnvelope(Heartbeat, "node0", payload)
	env.Signature = "sig"

	data, err := env.Encode()
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := DecodeEnvelope(data)
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Type != Heartbeat || decoded.SenderID != "node0" || decoded.Signature != "sig" {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}

	var hb HeartbeatPayload
	if err := decoded.DecodePayload(&hb); err != nil {
		t.Fatal(err)
	}
	if hb.Height != 5 || hb.LastBlockHash != "abc123" || hb.CurrentView != 1 {
		t.Fatalf("heartbeat payload mismatch: %+v", hb)
	}
	if len(hb.FailedValidators) != 1 || hb.FailedValidators[0] != "node1" {
		t.Fatalf("failed_validators mismatch: %+v", hb.FailedValidators)
	}
}

// TestKnownTypesCoversConstants ensures every MsgType constant is reachable
// through the validation map used by the Message Layer's dispatcher.
func TestKnownTypesCoversConstants(t *testing.T) {
	all := []MsgType{
		Hello, Heartbeat, Tx, Propose, Ack, Commit, ViewChange,
		SyncRequest, SyncResponse, MempoolSync, GetHeaders, Headers,
		GetBlocks, BlockMsg,
	}
	for _, typ := range all {
		if !KnownTypes[typ] {
			t.Errorf("MsgType %q missing from KnownTypes", typ)
		}
	}
	if KnownTypes[MsgType("BOGUS")] {
		t.Error("KnownTypes accepted an unknown token")
	}
}

// TestProposePayloadRoundTrip exercises a payload carrying nested chain
// types, not just scalars.
func TestProposePayloadRoundTrip(t *testing.T) {
	tx, err := chain.NewTransaction("alice", "bob", 10)
	if err != nil {
		t.Fatal(err)
	}
	p := ProposePayload{
		Height:     2,
		PrevHash:   "prev",
		TxList:     []*chain.Transaction{tx},
		ProposerID: "node0",
		BlockHash:  "blockhash",
	}
	encoded, err := EncodePayload(p)
	if err != nil {
		t.Fatal(err)
	}
	var decoded ProposePayload
	if err := codec.Decode(encoded, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Height != 2 || decoded.PrevHash != "prev" || decoded.ProposerID != "node0" {
		t.Fatalf("propose payload mismatch: %+v", decoded)
	}
	if len(decoded.TxList) != 1 || decoded.TxList[0].TxID != tx.TxID {
		t.Fatalf("propose payload tx_list mismatch: %+v", decoded.TxList)
	}
}
