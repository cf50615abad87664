package airdrop

import "math/big"

// Observer 接收分发器的结果统计，由指标模块实现。
type Observer interface {
	ObserveClaim(outcome string, amount *big.Int)
	ObserveWithdraw(amount *big.Int)
}

// 领取结果标签。
const (
	OutcomeClaimed        = "claimed"
	OutcomeInvalidProof   = "invalid_proof"
	OutcomeAlreadyClaimed = "already_claimed"
	OutcomeTransferFailed = "transfer_failed"
	OutcomeError          = "error"
)

type nopObserver struct{}

func (nopObserver) ObserveClaim(string, *big.Int) {}
func (nopObserver) ObserveWithdraw(*big.Int)      {}
