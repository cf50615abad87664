// Package token models the fungible token ledger the airdrop pays out of.
// The in-memory ledger mirrors a standard ERC-20 (the original test suite
// deploys an ERC20Mock minting the whole supply to the owner) and supports
// batched transfers that commit or discard as a unit.
package token

import (
	"context"
	"math/big"
	"net/http"

	xerrors "merkle-airdrop/internal/errors"

	"github.com/ethereum/go-ethereum/common"
)

// Info 描述代币的元数据。
type Info struct {
	Address  common.Address `json:"address"`
	Name     string         `json:"name"`
	Symbol   string         `json:"symbol"`
	Decimals uint8          `json:"decimals"`
}

// Ledger 是分发器依赖的最小代币账本接口。
type Ledger interface {
	Info() Info
	TotalSupply(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
}

const (
	CodeInsufficientBalance xerrors.Code = "INSUFFICIENT_BALANCE"
	CodeInvalidAmount       xerrors.Code = "INVALID_AMOUNT"
	CodeUnknownToken        xerrors.Code = "UNKNOWN_TOKEN"
)

var (
	// ErrInsufficientBalance 表示转出方余额不足。
	ErrInsufficientBalance = xerrors.New(CodeInsufficientBalance, "transfer amount exceeds balance")
	// ErrInvalidAmount 表示数额为空或为负。
	ErrInvalidAmount = xerrors.New(CodeInvalidAmount, "amount must be a non-negative integer")
	// ErrUnknownToken 表示账本不管理该代币。
	ErrUnknownToken = xerrors.New(CodeUnknownToken, "token not managed by ledger")
)

func init() {
	xerrors.Register(CodeInsufficientBalance, xerrors.Attributes{
		Message:    "transfer amount exceeds balance",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusUnprocessableEntity,
	})
	xerrors.Register(CodeInvalidAmount, xerrors.Attributes{
		Message:    "amount must be a non-negative integer",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeUnknownToken, xerrors.Attributes{
		Message:    "token not managed by ledger",
		Severity:   xerrors.SeverityCritical,
		Alert:      true,
		HTTPStatus: http.StatusInternalServerError,
	})
}

// ValidateAmount 检查数额非空、非负且不超过 uint256。
func ValidateAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 || amount.BitLen() > 256 {
		return ErrInvalidAmount
	}
	return nil
}
