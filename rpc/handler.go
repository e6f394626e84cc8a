package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/chainrelay/chainrelay/chain"
)

// NodeView is the subset of *node.Node the admin read API needs. Declaring
// it here (rather than importing package node) keeps rpc a pure
// presentation layer with no dependency on node wiring.
type NodeView interface {
	Height() uint64
	HeadHash() string
	MempoolSize() int
	MempoolContents() []*chain.Transaction
	BlockAt(height uint64) (*chain.Block, error)
	LeaderAt(height uint64) string
	ActiveValidators() []string
	FailedValidators() []string
	CurrentView() uint64
	ConnectionCount() int
	SubmitTx(tx *chain.Transaction) (bool, error)
}

// Handler serves the administrative read API of §6 plus one write method,
// submitTx, for operator convenience.
type Handler struct {
	node NodeView
}

// NewHandler creates an RPC Handler backed by a node.
func NewHandler(n NodeView) *Handler {
	return &Handler{node: n}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getHeight":
		return okResponse(req.ID, h.node.Height())

	case "getHeadHash":
		return okResponse(req.ID, h.node.HeadHash())

	case "getBlock":
		return h.getBlock(req)

	case "getLeader":
		return h.getLeader(req)

	case "getActiveValidators":
		return okResponse(req.ID, h.node.ActiveValidators())

	case "getFailedValidators":
		return okResponse(req.ID, h.node.FailedValidators())

	case "getCurrentView":
		return okResponse(req.ID, h.node.CurrentView())

	case "getConnectionCount":
		return okResponse(req.ID, h.node.ConnectionCount())

	case "getMempoolSize":
		return okResponse(req.ID, h.node.MempoolSize())

	case "getMempoolContents":
		return okResponse(req.ID, h.node.MempoolContents())

	case "submitTx":
		return h.submitTx(req)

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	block, err := h.node.BlockAt(params.Height)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getLeader(req Request) Response {
	var params struct {
		Height uint64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}
	return okResponse(req.ID, h.node.LeaderAt(params.Height))
}

func (h *Handler) submitTx(req Request) Response {
	var tx chain.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	added, err := h.node.SubmitTx(&tx)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"tx_id": tx.TxID, "added": added})
}
