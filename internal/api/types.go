package api

import (
	"encoding/json"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/proofs"
)

// 数额一律以十进制字符串传输，避免超过 2^53 时丢失精度。
type claimRequest struct {
	ID     string   `json:"id,omitempty"`
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

func (req claimRequest) decode() (*big.Int, []common.Hash, error) {
	amount, err := proofs.ParseAmount(req.Amount)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "数额格式非法")
	}
	proof, err := proofs.ParseHexProof(req.Proof)
	if err != nil {
		return nil, nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "证明格式非法")
	}
	return amount, proof, nil
}

type receiptResponse struct {
	Distributor string `json:"distributor"`
	Claimant    string `json:"claimant"`
	Amount      string `json:"amount"`
	Leaf        string `json:"leaf"`
	ClaimedAt   int64  `json:"claimed_at"`
}

type infoResponse struct {
	Distributor    string `json:"distributor"`
	Token          string `json:"token"`
	MerkleRoot     string `json:"merkle_root"`
	Owner          string `json:"owner"`
	Balance        string `json:"balance"`
	Recipients     int    `json:"recipients,omitempty"`
	TotalAllocated string `json:"total_allocated,omitempty"`
}

type proofResponse struct {
	Address string   `json:"address"`
	Amount  string   `json:"amount"`
	Leaf    string   `json:"leaf"`
	Proof   []string `json:"proof"`
}

type errorResponse struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError 使用错误码映射 HTTP 状态，响应体中的 error 为错误码的描述文本。
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, xerrors.HTTPStatusOf(err), errorResponse{
		Code:  string(xerrors.CodeOf(err)),
		Error: xerrors.MessageOf(err),
	})
}
