package airdrop

import (
	"net/http"

	xerrors "merkle-airdrop/internal/errors"
)

const (
	CodeInvalidProof   xerrors.Code = "INVALID_PROOF"
	CodeAlreadyClaimed xerrors.Code = "ALREADY_CLAIMED"
	CodeUnauthorized   xerrors.Code = "UNAUTHORIZED"
	CodeTransferFailed xerrors.Code = "TRANSFER_FAILED"
	CodeInvalidClaim   xerrors.Code = "INVALID_CLAIM"
)

var (
	// ErrInvalidProof 表示证明无法重建出配置的 Merkle 根。
	ErrInvalidProof = xerrors.New(CodeInvalidProof, "Invalid proof.")
	// ErrAlreadyClaimed 表示该地址已经领取过。
	ErrAlreadyClaimed = xerrors.New(CodeAlreadyClaimed, "Airdrop already claimed.")
	// ErrUnauthorized 表示调用者不是 owner。
	ErrUnauthorized = xerrors.New(CodeUnauthorized, "Caller is not the owner.")
	// ErrTransferFailed 表示分发器余额不足以支付。
	ErrTransferFailed = xerrors.New(CodeTransferFailed, "Token transfer failed.")
	// ErrInvalidClaim 表示领取数额不是正整数。
	ErrInvalidClaim = xerrors.New(CodeInvalidClaim, "Claim amount must be positive.")
)

func init() {
	for code, attr := range map[xerrors.Code]xerrors.Attributes{
		CodeInvalidProof:   {Message: "Invalid proof.", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
		CodeAlreadyClaimed: {Message: "Airdrop already claimed.", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusConflict},
		CodeUnauthorized:   {Message: "Caller is not the owner.", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusForbidden},
		CodeTransferFailed: {Message: "Token transfer failed.", Severity: xerrors.SeverityCritical, Alert: true, HTTPStatus: http.StatusUnprocessableEntity},
		CodeInvalidClaim:   {Message: "Claim amount must be positive.", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusBadRequest},
	} {
		xerrors.Register(code, attr)
	}
}
