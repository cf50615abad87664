package mysql

import (
	"context"
	"database/sql"
	stdErrors "errors"
	"math/big"
	"sort"
	"strings"
	"time"

	"merkle-airdrop/internal/airdrop"
	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

// Store 使用 MySQL 实现 airdrop.Store 与 airdrop.Funder。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open 建立连接池、执行迁移并返回 Store。
func Open(ctx context.Context, cfg Config) (*Store, error) {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewStore(db), nil
}

// NewStore 基于已有连接创建 Store，不执行迁移。
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// DB 返回底层连接池，供同库的其他仓库复用。
func (s *Store) DB() *sql.DB {
	return s.db
}

// Update 实现 airdrop.Store 接口。
func (s *Store) Update(ctx context.Context, fn func(tx airdrop.Tx) error) error {
	return s.run(ctx, false, fn)
}

// View 实现 airdrop.Store 接口，事务总是回滚。
func (s *Store) View(ctx context.Context, fn func(tx airdrop.Tx) error) error {
	return s.run(ctx, true, fn)
}

func (s *Store) run(ctx context.Context, readOnly bool, fn func(tx airdrop.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: readOnly})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}
	tx := &ledgerTx{tx: sqlTx, forUpdate: !readOnly, now: s.now}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if readOnly {
		_ = sqlTx.Rollback()
		return nil
	}
	if err := sqlTx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// ListClaims 实现 airdrop.Store 接口。
func (s *Store) ListClaims(ctx context.Context, distributor common.Address, limit, offset int) ([]airdrop.Claim, error) {
	limit, offset = normalizePage(limit, offset)
	rows, err := s.db.QueryContext(ctx, `SELECT distributor, claimant, amount, leaf, claimed_at
        FROM airdrop_claims WHERE distributor = ? ORDER BY claimed_at ASC, claimant ASC LIMIT ? OFFSET ?`,
		addressKey(distributor), limit, offset)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询领取记录失败")
	}
	defer rows.Close()

	claims := make([]airdrop.Claim, 0)
	for rows.Next() {
		var (
			distributorHex, claimantHex, amount, leaf string
			claimedAt                                 int64
		)
		if err := rows.Scan(&distributorHex, &claimantHex, &amount, &leaf, &claimedAt); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "解析领取记录失败")
		}
		value, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		claims = append(claims, airdrop.Claim{
			Distributor: common.HexToAddress(distributorHex),
			Claimant:    common.HexToAddress(claimantHex),
			Amount:      value,
			Leaf:        common.HexToHash(leaf),
			ClaimedAt:   claimedAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "遍历领取记录失败")
	}
	return claims, nil
}

// Mint 实现 airdrop.Funder 接口。
func (s *Store) Mint(ctx context.Context, tokenAddr, to common.Address, amount *big.Int) error {
	if err := token.ValidateAmount(amount); err != nil {
		return err
	}
	return s.Update(ctx, func(tx airdrop.Tx) error {
		ltx := tx.(*ledgerTx)
		balance, err := ltx.BalanceOf(ctx, tokenAddr, to)
		if err != nil {
			return err
		}
		if err := ltx.writeBalance(ctx, tokenAddr, to, new(big.Int).Add(balance, amount)); err != nil {
			return err
		}
		supply, err := ltx.supply(ctx, tokenAddr)
		if err != nil {
			return err
		}
		_, err = ltx.tx.ExecContext(ctx, `INSERT INTO token_supply (token, total, updated_at) VALUES (?, ?, ?)
        ON DUPLICATE KEY UPDATE total = VALUES(total), updated_at = VALUES(updated_at)`,
			addressKey(tokenAddr), new(big.Int).Add(supply, amount).String(), ltx.now().Unix())
		if err != nil {
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "更新代币总量失败")
		}
		return nil
	})
}

// TotalSupply 实现 airdrop.Funder 接口。
func (s *Store) TotalSupply(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	var total *big.Int
	err := s.View(ctx, func(tx airdrop.Tx) error {
		var err error
		total, err = tx.(*ledgerTx).supply(ctx, tokenAddr)
		return err
	})
	return total, err
}

// Close 关闭底层数据库连接。
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type ledgerTx struct {
	tx        *sql.Tx
	forUpdate bool
	now       func() time.Time
}

func (t *ledgerTx) lockClause() string {
	if t.forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (t *ledgerTx) IsClaimed(ctx context.Context, distributor, claimant common.Address) (bool, error) {
	var one int
	err := t.tx.QueryRowContext(ctx, `SELECT 1 FROM airdrop_claims WHERE distributor = ? AND claimant = ?`+t.lockClause(),
		addressKey(distributor), addressKey(claimant)).Scan(&one)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询领取状态失败")
	}
	return true, nil
}

func (t *ledgerTx) MarkClaimed(ctx context.Context, claim airdrop.Claim) error {
	if claim.Amount == nil {
		return token.ErrInvalidAmount
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO airdrop_claims (distributor, claimant, amount, leaf, claimed_at)
        VALUES (?, ?, ?, ?, ?)`,
		addressKey(claim.Distributor), addressKey(claim.Claimant), claim.Amount.String(), claim.Leaf.Hex(), claim.ClaimedAt)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if stdErrors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry {
			return airdrop.ErrAlreadyClaimed
		}
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入领取记录失败")
	}
	return nil
}

func (t *ledgerTx) BalanceOf(ctx context.Context, tokenAddr, holder common.Address) (*big.Int, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT balance FROM token_balances WHERE token = ? AND holder = ?`+t.lockClause(),
		addressKey(tokenAddr), addressKey(holder)).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询余额失败")
	}
	return parseAmount(raw)
}

// Transfer 按地址顺序锁定两端余额行，避免交叉转账时死锁。
func (t *ledgerTx) Transfer(ctx context.Context, tokenAddr, from, to common.Address, amount *big.Int) error {
	if err := token.ValidateAmount(amount); err != nil {
		return err
	}
	holders := []common.Address{from, to}
	sort.Slice(holders, func(i, j int) bool { return addressKey(holders[i]) < addressKey(holders[j]) })

	balances := make(map[common.Address]*big.Int, 2)
	for _, holder := range holders {
		if _, ok := balances[holder]; ok {
			continue
		}
		balance, err := t.BalanceOf(ctx, tokenAddr, holder)
		if err != nil {
			return err
		}
		balances[holder] = balance
	}
	if balances[from].Cmp(amount) < 0 {
		return token.ErrInsufficientBalance
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	if err := t.writeBalance(ctx, tokenAddr, from, new(big.Int).Sub(balances[from], amount)); err != nil {
		return err
	}
	return t.writeBalance(ctx, tokenAddr, to, new(big.Int).Add(balances[to], amount))
}

func (t *ledgerTx) RecordFunding(ctx context.Context, distributor common.Address, amount *big.Int) (bool, error) {
	if err := token.ValidateAmount(amount); err != nil {
		return false, err
	}
	res, err := t.tx.ExecContext(ctx, `INSERT IGNORE INTO airdrop_funding (distributor, amount, funded_at) VALUES (?, ?, ?)`,
		addressKey(distributor), amount.String(), t.now().Unix())
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入注资记录失败")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取注资记录结果失败")
	}
	return affected == 1, nil
}

func (t *ledgerTx) writeBalance(ctx context.Context, tokenAddr, holder common.Address, balance *big.Int) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO token_balances (token, holder, balance, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE balance = VALUES(balance), updated_at = VALUES(updated_at)`,
		addressKey(tokenAddr), addressKey(holder), balance.String(), t.now().Unix())
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入余额失败")
	}
	return nil
}

func (t *ledgerTx) supply(ctx context.Context, tokenAddr common.Address) (*big.Int, error) {
	var raw string
	err := t.tx.QueryRowContext(ctx, `SELECT total FROM token_supply WHERE token = ?`+t.lockClause(),
		addressKey(tokenAddr)).Scan(&raw)
	if stdErrors.Is(err, sql.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "查询代币总量失败")
	}
	return parseAmount(raw)
}

func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func parseAmount(raw string) (*big.Int, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok || value.Sign() < 0 {
		return nil, xerrors.New(xerrors.CodeStorageFailure, "数据库中的数额格式非法: "+raw)
	}
	return value, nil
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
	_ airdrop.Store  = (*Store)(nil)
	_ airdrop.Funder = (*Store)(nil)
)
