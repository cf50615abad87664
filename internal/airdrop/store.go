package airdrop

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Claim 是一条已完成的领取记录。
type Claim struct {
	Distributor common.Address `json:"distributor"`
	Claimant    common.Address `json:"claimant"`
	Amount      *big.Int       `json:"amount"`
	Leaf        common.Hash    `json:"leaf"`
	ClaimedAt   int64          `json:"claimed_at"`
}

// Tx 是一次工作单元内可见的状态视图。Update 中的写入要么全部提交，要么全部回滚。
type Tx interface {
	IsClaimed(ctx context.Context, distributor, claimant common.Address) (bool, error)
	// MarkClaimed 记录领取；地址已领取时返回 ErrAlreadyClaimed。
	MarkClaimed(ctx context.Context, claim Claim) error
	BalanceOf(ctx context.Context, token, holder common.Address) (*big.Int, error)
	// Transfer 余额不足时返回 token.ErrInsufficientBalance。
	Transfer(ctx context.Context, token, from, to common.Address, amount *big.Int) error
	// RecordFunding 记录分发器的初始注资；已记录过时返回 false 且不做修改。
	RecordFunding(ctx context.Context, distributor common.Address, amount *big.Int) (bool, error)
}

// Store 持久化领取集合与代币余额。
type Store interface {
	// Update 在单个事务中执行 fn，fn 返回错误时回滚。
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View 执行只读访问，fn 内的写入不会生效。
	View(ctx context.Context, fn func(tx Tx) error) error
	ListClaims(ctx context.Context, distributor common.Address, limit, offset int) ([]Claim, error)
	Close() error
}

// Funder 由支持直接铸币的存储实现，用于本地部署时初始化账本。
type Funder interface {
	Mint(ctx context.Context, token, to common.Address, amount *big.Int) error
	TotalSupply(ctx context.Context, token common.Address) (*big.Int, error)
}

func cloneClaim(c Claim) Claim {
	if c.Amount != nil {
		c.Amount = new(big.Int).Set(c.Amount)
	}
	return c
}
