package airdrop

import (
	"context"
	"math/big"
	"sort"
	"sync"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/token"

	"github.com/ethereum/go-ethereum/common"
)

type claimKey struct {
	distributor common.Address
	claimant    common.Address
}

// MemoryStore 使用 token.MemoryLedger 与内存领取集合实现 Store。
type MemoryStore struct {
	mu     sync.Mutex
	ledger *token.MemoryLedger
	claims map[claimKey]Claim
	order  []claimKey
	funded map[common.Address]*big.Int
}

// NewMemoryStore 创建内存存储，ledger 管理唯一的一种代币。
func NewMemoryStore(ledger *token.MemoryLedger) *MemoryStore {
	return &MemoryStore{
		ledger: ledger,
		claims: make(map[claimKey]Claim),
		funded: make(map[common.Address]*big.Int),
	}
}

// Ledger 返回底层账本。
func (s *MemoryStore) Ledger() *token.MemoryLedger {
	return s.ledger
}

// Update 实现 Store 接口。
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	if s.ledger == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "内存账本未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, batch: s.ledger.Begin(), pending: make(map[claimKey]Claim)}
	if err := fn(tx); err != nil {
		tx.batch.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.batch.Discard()
		return err
	}
	if err := tx.batch.Commit(); err != nil {
		return err
	}
	for _, key := range tx.pendingOrder {
		s.claims[key] = tx.pending[key]
		s.order = append(s.order, key)
	}
	for distributor, amount := range tx.funded {
		s.funded[distributor] = amount
	}
	return nil
}

// View 实现 Store 接口。
func (s *MemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	if s.ledger == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "内存账本未初始化")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{store: s, batch: s.ledger.Begin(), pending: make(map[claimKey]Claim)}
	defer tx.batch.Discard()
	return fn(tx)
}

// ListClaims 按领取顺序返回记录。
func (s *MemoryStore) ListClaims(_ context.Context, distributor common.Address, limit, offset int) ([]Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit, offset = normalizePage(limit, offset)
	matched := make([]Claim, 0, len(s.order))
	for _, key := range s.order {
		if key.distributor == distributor {
			matched = append(matched, cloneClaim(s.claims[key]))
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].ClaimedAt < matched[j].ClaimedAt })
	if offset >= len(matched) {
		return []Claim{}, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Mint 实现 Funder 接口。
func (s *MemoryStore) Mint(_ context.Context, tokenAddr, to common.Address, amount *big.Int) error {
	if err := s.checkToken(tokenAddr); err != nil {
		return err
	}
	return s.ledger.Mint(to, amount)
}

// TotalSupply 实现 Funder 接口。
func (s *MemoryStore) TotalSupply(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	if err := s.checkToken(tokenAddr); err != nil {
		return nil, err
	}
	return s.ledger.TotalSupply(ctx)
}

// Close 对内存存储无需操作。
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) checkToken(tokenAddr common.Address) error {
	if s.ledger == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "内存账本未初始化")
	}
	if s.ledger.Info().Address != tokenAddr {
		return token.ErrUnknownToken
	}
	return nil
}

type memoryTx struct {
	store        *MemoryStore
	batch        *token.Batch
	pending      map[claimKey]Claim
	pendingOrder []claimKey
	funded       map[common.Address]*big.Int
}

func (tx *memoryTx) IsClaimed(_ context.Context, distributor, claimant common.Address) (bool, error) {
	key := claimKey{distributor: distributor, claimant: claimant}
	if _, ok := tx.pending[key]; ok {
		return true, nil
	}
	_, ok := tx.store.claims[key]
	return ok, nil
}

func (tx *memoryTx) MarkClaimed(ctx context.Context, claim Claim) error {
	claimed, err := tx.IsClaimed(ctx, claim.Distributor, claim.Claimant)
	if err != nil {
		return err
	}
	if claimed {
		return ErrAlreadyClaimed
	}
	key := claimKey{distributor: claim.Distributor, claimant: claim.Claimant}
	tx.pending[key] = cloneClaim(claim)
	tx.pendingOrder = append(tx.pendingOrder, key)
	return nil
}

func (tx *memoryTx) BalanceOf(ctx context.Context, tokenAddr, holder common.Address) (*big.Int, error) {
	if err := tx.store.checkToken(tokenAddr); err != nil {
		return nil, err
	}
	return tx.batch.BalanceOf(ctx, holder)
}

func (tx *memoryTx) Transfer(ctx context.Context, tokenAddr, from, to common.Address, amount *big.Int) error {
	if err := tx.store.checkToken(tokenAddr); err != nil {
		return err
	}
	return tx.batch.Transfer(ctx, from, to, amount)
}

func (tx *memoryTx) RecordFunding(_ context.Context, distributor common.Address, amount *big.Int) (bool, error) {
	if err := token.ValidateAmount(amount); err != nil {
		return false, err
	}
	if _, ok := tx.store.funded[distributor]; ok {
		return false, nil
	}
	if _, ok := tx.funded[distributor]; ok {
		return false, nil
	}
	if tx.funded == nil {
		tx.funded = make(map[common.Address]*big.Int)
	}
	tx.funded[distributor] = new(big.Int).Set(amount)
	return true, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var (
	_ Store  = (*MemoryStore)(nil)
	_ Funder = (*MemoryStore)(nil)
)
