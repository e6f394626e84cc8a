package wire

import "github.com/chainrelay/chainrelay/chain"

// HelloPayload announces a dialing peer's protocol version and listen port.
// The receiving node does not act on either field; the frame itself counts
// as a liveness signal.
type HelloPayload struct {
	Version       int `msgpack:"version"`
	ListeningPort int `msgpack:"listening_port"`
}

// HeartbeatPayload is broadcast periodically so peers can track liveness,
// height, and view without waiting for a block.
type HeartbeatPayload struct {
	Height          uint64   `msgpack:"height"`
	LastBlockHash   string   `msgpack:"last_block_hash"`
	CurrentView     uint64   `msgpack:"current_view"`
	FailedValidators []string `msgpack:"failed_validators"`
}

// TxPayload carries one gossiped transaction.
type TxPayload struct {
	Tx *chain.Transaction `msgpack:"tx"`
}

// ProposePayload is the leader's block proposal.
type ProposePayload struct {
	Height     uint64               `msgpack:"height"`
	PrevHash   string               `msgpack:"prev_hash"`
	TxList     []*chain.Transaction `msgpack:"tx_list"`
	ProposerID string               `msgpack:"proposer_id"`
	BlockHash  string               `msgpack:"block_hash"`
	Timestamp  float64              `msgpack:"timestamp"`
	Signature  string               `msgpack:"signature"`
}

// AckPayload is a follower's vote for a proposed block, unicast to the
// leader (broadcast is tolerated; non-leader receivers ignore it).
type AckPayload struct {
	Height    uint64 `msgpack:"height"`
	BlockHash string `msgpack:"block_hash"`
	VoterID   string `msgpack:"voter_id"`
	Signature string `msgpack:"signature"`
}

// CommitPayload announces that the leader has reached quorum and appended
// the block.
type CommitPayload struct {
	Height    uint64 `msgpack:"height"`
	BlockHash string `msgpack:"block_hash"`
	LeaderID  string `msgpack:"leader_id"`
	Signature string `msgpack:"signature"`
}

// ViewChangePayload nominates a new view because the expected leader has
// failed.
type ViewChangePayload struct {
	NewView     uint64 `msgpack:"new_view"`
	Height      uint64 `msgpack:"height"`
	FailedLeader string `msgpack:"failed_leader"`
	Reason      string `msgpack:"reason"`
}

// SyncRequestPayload is broadcast by a recovering node soliciting catch-up
// state.
type SyncRequestPayload struct {
	Height     uint64 `msgpack:"height"`
	LatestHash string `msgpack:"latest_hash"`
}

// SyncResponsePayload answers a SyncRequestPayload with the replying peer's
// state and any blocks the requester is missing.
type SyncResponsePayload struct {
	Height           uint64         `msgpack:"height"`
	LatestHash       string         `msgpack:"latest_hash"`
	Blocks           []*chain.Block `msgpack:"blocks"`
	CurrentView      uint64         `msgpack:"current_view"`
	FailedValidators []string       `msgpack:"failed_validators"`
}

// MempoolSyncPayload pushes a peer's pending transactions to a rejoining
// node so it is not starved of transactions to propose.
type MempoolSyncPayload struct {
	Transactions []*chain.Transaction `msgpack:"transactions"`
}

// GetHeadersPayload / HeadersPayload request and return lightweight block
// metadata for out-of-band chain inspection, distinct from the recovery
// sync path.
type GetHeadersPayload struct {
	FromHeight uint64 `msgpack:"from_height"`
	ToHeight   uint64 `msgpack:"to_height"`
}

type HeadersPayload struct {
	Headers []chain.Header `msgpack:"headers"`
}

// GetBlocksPayload / BlocksPayload request and return full blocks for a
// height range.
type GetBlocksPayload struct {
	FromHeight uint64 `msgpack:"from_height"`
	ToHeight   uint64 `msgpack:"to_height"`
}

type BlocksPayload struct {
	Blocks []*chain.Block `msgpack:"blocks"`
}
