package token

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryLedger 以内存方式保存余额，主要用于测试与单机部署。
type MemoryLedger struct {
	info     Info
	mu       sync.RWMutex
	balances map[common.Address]*big.Int
	supply   *big.Int
}

// NewMemoryLedger 创建账本，并把 initialSupply 全部铸造给 owner。
func NewMemoryLedger(info Info, owner common.Address, initialSupply *big.Int) (*MemoryLedger, error) {
	l := &MemoryLedger{
		info:     info,
		balances: make(map[common.Address]*big.Int),
		supply:   new(big.Int),
	}
	if initialSupply != nil && initialSupply.Sign() != 0 {
		if err := l.Mint(owner, initialSupply); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Info 实现 Ledger 接口。
func (l *MemoryLedger) Info() Info {
	return l.info
}

// Mint 增发代币。
func (l *MemoryLedger) Mint(to common.Address, amount *big.Int) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[to] = new(big.Int).Add(l.balanceLocked(to), amount)
	l.supply.Add(l.supply, amount)
	return nil
}

// TotalSupply 实现 Ledger 接口。
func (l *MemoryLedger) TotalSupply(context.Context) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.supply), nil
}

// BalanceOf 实现 Ledger 接口。
func (l *MemoryLedger) BalanceOf(_ context.Context, holder common.Address) (*big.Int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.balanceLocked(holder)), nil
}

// Transfer 实现 Ledger 接口。
func (l *MemoryLedger) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	batch := l.Begin()
	if err := batch.Transfer(ctx, from, to, amount); err != nil {
		return err
	}
	return batch.Commit()
}

// Begin 开启一个批次，批次内的转账在 Commit 前对外不可见。
func (l *MemoryLedger) Begin() *Batch {
	return &Batch{ledger: l, deltas: make(map[common.Address]*big.Int)}
}

func (l *MemoryLedger) balanceLocked(holder common.Address) *big.Int {
	if balance, ok := l.balances[holder]; ok {
		return balance
	}
	return new(big.Int)
}

// Batch 记录一组余额变动，Commit 时在账本锁内重新校验后整体生效。
type Batch struct {
	ledger *MemoryLedger
	deltas map[common.Address]*big.Int
	done   bool
}

// BalanceOf 返回叠加本批次变动后的余额。
func (b *Batch) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	base, err := b.ledger.BalanceOf(ctx, holder)
	if err != nil {
		return nil, err
	}
	if delta, ok := b.deltas[holder]; ok {
		base.Add(base, delta)
	}
	return base, nil
}

// Transfer 在批次内记录一次转账。
func (b *Batch) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	balance, err := b.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	b.add(from, new(big.Int).Neg(amount))
	b.add(to, amount)
	return nil
}

func (b *Batch) add(holder common.Address, delta *big.Int) {
	current, ok := b.deltas[holder]
	if !ok {
		current = new(big.Int)
		b.deltas[holder] = current
	}
	current.Add(current, delta)
}

// Commit 应用本批次；任一账户余额将变为负数时整体失败。
func (b *Batch) Commit() error {
	if b.done {
		return nil
	}
	b.done = true

	l := b.ledger
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[common.Address]*big.Int, len(b.deltas))
	for holder, delta := range b.deltas {
		updated := new(big.Int).Add(l.balanceLocked(holder), delta)
		if updated.Sign() < 0 {
			return ErrInsufficientBalance
		}
		next[holder] = updated
	}
	for holder, balance := range next {
		l.balances[holder] = balance
	}
	return nil
}

// Discard 丢弃本批次的所有变动。
func (b *Batch) Discard() {
	b.done = true
	b.deltas = nil
}

var _ Ledger = (*MemoryLedger)(nil)
