package mysql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	stdErrors "errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/internal/token"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-sql-driver/mysql"
)

var (
	distributorAddr = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	tokenAddr       = common.HexToAddress("0x001AaBE36BBA3C25796bB9B19AE21950a4e6B87E")
	ownerAddr       = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	claimantAddr    = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

const (
	isClaimedSQL   = `SELECT 1 FROM airdrop_claims WHERE distributor = ? AND claimant = ? FOR UPDATE`
	insertClaimSQL = `INSERT INTO airdrop_claims (distributor, claimant, amount, leaf, claimed_at) VALUES (?, ?, ?, ?, ?)`
	balanceSQL     = `SELECT balance FROM token_balances WHERE token = ? AND holder = ? FOR UPDATE`
	writeBalance   = `INSERT INTO token_balances (token, holder, balance, updated_at) VALUES (?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE balance = VALUES(balance), updated_at = VALUES(updated_at)`
	supplySQL      = `SELECT total FROM token_supply WHERE token = ?`
	recordFunding  = `INSERT IGNORE INTO airdrop_funding (distributor, amount, funded_at) VALUES (?, ?, ?)`
)

func claimInTx(ctx context.Context, tx airdrop.Tx, amount int64) error {
	claimed, err := tx.IsClaimed(ctx, distributorAddr, claimantAddr)
	if err != nil {
		return err
	}
	if claimed {
		return airdrop.ErrAlreadyClaimed
	}
	if err := tx.MarkClaimed(ctx, airdrop.Claim{
		Distributor: distributorAddr,
		Claimant:    claimantAddr,
		Amount:      big.NewInt(amount),
		ClaimedAt:   1,
	}); err != nil {
		return err
	}
	return tx.Transfer(ctx, tokenAddr, distributorAddr, claimantAddr, big.NewInt(amount))
}

func TestStoreClaimCommitsAsUnit(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(isClaimedSQL, mockRowsData{columns: []string{"1"}}),
		execOp(insertClaimSQL, mockResult{rowsAffected: 1}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}, values: [][]driver.Value{{"600"}}}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}}),
		execOp(writeBalance, mockResult{rowsAffected: 2}),
		execOp(writeBalance, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()
	if err := store.Update(ctx, func(tx airdrop.Tx) error { return claimInTx(ctx, tx, 100) }); err != nil {
		t.Fatalf("update failed: %v", err)
	}
}

func TestStoreInsufficientBalanceRollsBack(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(isClaimedSQL, mockRowsData{columns: []string{"1"}}),
		execOp(insertClaimSQL, mockResult{rowsAffected: 1}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}, values: [][]driver.Value{{"50"}}}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}}),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()
	err := store.Update(ctx, func(tx airdrop.Tx) error { return claimInTx(ctx, tx, 100) })
	if !stdErrors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
}

func TestStoreMapsDuplicateClaim(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(isClaimedSQL, mockRowsData{columns: []string{"1"}}),
		{typ: opExec, query: insertClaimSQL, err: &mysql.MySQLError{Number: mysqlDuplicateEntry, Message: "Duplicate entry"}},
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()
	err := store.Update(ctx, func(tx airdrop.Tx) error { return claimInTx(ctx, tx, 100) })
	if !stdErrors.Is(err, airdrop.ErrAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
}

func bootstrapConfig() airdrop.Config {
	return airdrop.Config{
		Address: distributorAddr,
		Token:   tokenAddr,
		Root:    common.HexToHash("0x98f7727888ddb130b9691cda2871bd56cd09064585b1ad030320b54df930b5d5"),
		Owner:   ownerAddr,
	}
}

func TestBootstrapRecordsFundingWithTransfer(t *testing.T) {
	t.Parallel()

	// 余额行按地址排序加锁：分发器 0x5fc8... 在 owner 0xf39f... 之前。
	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(supplySQL, mockRowsData{columns: []string{"total"}, values: [][]driver.Value{{"1000"}}}),
		rollbackOp(),
		beginOp(),
		execOp(recordFunding, mockResult{rowsAffected: 1}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}}),
		queryOp(balanceSQL, mockRowsData{columns: []string{"balance"}, values: [][]driver.Value{{"1000"}}}),
		execOp(writeBalance, mockResult{rowsAffected: 2}),
		execOp(writeBalance, mockResult{rowsAffected: 1}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	if err := airdrop.Bootstrap(context.Background(), store, store, bootstrapConfig(), airdrop.Funding{Amount: big.NewInt(600)}); err != nil {
		t.Fatalf("bootstrap failed: %v", err)
	}
}

func TestBootstrapSkipsRecordedFunding(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(supplySQL, mockRowsData{columns: []string{"total"}, values: [][]driver.Value{{"1000"}}}),
		rollbackOp(),
		beginOp(),
		execOp(recordFunding, mockResult{rowsAffected: 0}),
		commitOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	funding := airdrop.Funding{InitialSupply: big.NewInt(1000), Amount: big.NewInt(600)}
	if err := airdrop.Bootstrap(context.Background(), store, store, bootstrapConfig(), funding); err != nil {
		t.Fatalf("bootstrap on funded store failed: %v", err)
	}
}

func TestStoreViewAlwaysRollsBack(t *testing.T) {
	t.Parallel()

	db, drv := newMockDB(t, []mockOperation{
		beginOp(),
		queryOp(`SELECT balance FROM token_balances WHERE token = ? AND holder = ?`,
			mockRowsData{columns: []string{"balance"}, values: [][]driver.Value{{"115792089237316195423570985008687907853269984665640564039457584007913129639935"}}}),
		rollbackOp(),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()
	var balance *big.Int
	err := store.View(ctx, func(tx airdrop.Tx) error {
		var err error
		balance, err = tx.BalanceOf(ctx, tokenAddr, distributorAddr)
		return err
	})
	if err != nil {
		t.Fatalf("view failed: %v", err)
	}
	if balance.BitLen() != 256 {
		t.Fatalf("expected uint256 max, got %s", balance)
	}
}

func TestStoreListClaims(t *testing.T) {
	t.Parallel()

	leaf := "0x98f7727888ddb130b9691cda2871bd56cd09064585b1ad030320b54df930b5d5"
	db, drv := newMockDB(t, []mockOperation{
		queryOp(`SELECT distributor, claimant, amount, leaf, claimed_at
        FROM airdrop_claims WHERE distributor = ? ORDER BY claimed_at ASC, claimant ASC LIMIT ? OFFSET ?`,
			mockRowsData{
				columns: []string{"distributor", "claimant", "amount", "leaf", "claimed_at"},
				values:  [][]driver.Value{{addressKey(distributorAddr), addressKey(claimantAddr), "100", leaf, int64(42)}},
			}),
	})
	defer drv.assertConsumed(t)
	defer db.Close()

	claims, err := NewStore(db).ListClaims(context.Background(), distributorAddr, 0, 0)
	if err != nil {
		t.Fatalf("list claims failed: %v", err)
	}
	if len(claims) != 1 || claims[0].Claimant != claimantAddr || claims[0].Amount.Int64() != 100 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims[0].Leaf != common.HexToHash(leaf) {
		t.Fatalf("unexpected leaf %s", claims[0].Leaf.Hex())
	}
}

func TestMigrateAppliesEmbeddedFiles(t *testing.T) {
	t.Parallel()

	files, err := loadMigrationFiles()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) < 2 || files[0].version != "0001" {
		t.Fatalf("unexpected migration files: %+v", files)
	}

	ops := []mockOperation{
		execOp(`CREATE TABLE IF NOT EXISTS schema_migrations (
        version VARCHAR(32) NOT NULL PRIMARY KEY,
        applied_at BIGINT NOT NULL
)`, mockResult{}),
		queryOp(`SELECT version FROM schema_migrations`, mockRowsData{
			columns: []string{"version"},
			values:  [][]driver.Value{{"0001"}},
		}),
	}
	for _, file := range files[1:] {
		ops = append(ops, beginOp())
		for _, stmt := range file.statements {
			ops = append(ops, execOp(stmt, mockResult{}))
		}
		ops = append(ops,
			execOp(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, mockResult{rowsAffected: 1}),
			commitOp(),
		)
	}
	db, drv := newMockDB(t, ops)
	defer drv.assertConsumed(t)
	defer db.Close()

	if err := Migrate(context.Background(), db); err != nil {
		t.Fatalf("migrate failed: %v", err)
	}
}

func TestSplitStatementsAndVersions(t *testing.T) {
	t.Parallel()

	statements := splitSQLStatements("CREATE TABLE a (id INT);\n\n CREATE TABLE b (id INT);  ;")
	if len(statements) != 2 || statements[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", statements)
	}
	for name, want := range map[string]string{
		"0003_add_index.sql": "0003",
		"0004.sql":           "0004",
		"seed":               "seed",
	} {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("version of %s: want %s got %s", name, want, got)
		}
	}
}

func TestOpenRejectsEmptyDSN(t *testing.T) {
	t.Parallel()
	if _, err := Open(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

// TestStoreAgainstMySQL 需要真实数据库，通过 AIRDROP_TEST_MYSQL_DSN 启用。
func TestStoreAgainstMySQL(t *testing.T) {
	dsn := os.Getenv("AIRDROP_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("AIRDROP_TEST_MYSQL_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := Open(ctx, Config{DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	// 每次运行使用新的分发器与代币地址，避免与历史数据冲突。
	suffix := time.Now().UnixNano()
	dist := common.BigToAddress(big.NewInt(suffix))
	tok := common.BigToAddress(big.NewInt(suffix + 1))

	tree, err := proofs.NewTree([]proofs.Allocation{
		{Address: claimantAddr, Amount: big.NewInt(100)},
		{Address: ownerAddr, Amount: big.NewInt(200)},
	})
	if err != nil {
		t.Fatalf("build tree: %v", err)
	}
	cfg := airdrop.Config{Address: dist, Token: tok, Root: tree.Root(), Owner: ownerAddr}
	funding := airdrop.Funding{InitialSupply: big.NewInt(1000), Amount: big.NewInt(300)}
	for i := 0; i < 2; i++ {
		if err := airdrop.Bootstrap(ctx, store, store, cfg, funding); err != nil {
			t.Fatalf("bootstrap #%d: %v", i+1, err)
		}
	}

	distributor, err := airdrop.NewDistributor(cfg, store)
	if err != nil {
		t.Fatalf("new distributor: %v", err)
	}
	proof, err := tree.ProofFor(claimantAddr, big.NewInt(100))
	if err != nil {
		t.Fatalf("proof: %v", err)
	}
	if _, err := distributor.ClaimTokens(ctx, claimantAddr, big.NewInt(100), proof); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := distributor.ClaimTokens(ctx, claimantAddr, big.NewInt(100), proof); !stdErrors.Is(err, airdrop.ErrAlreadyClaimed) {
		t.Fatalf("expected already claimed, got %v", err)
	}
	withdrawn, err := distributor.WithdrawRemainingTokens(ctx, ownerAddr)
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if withdrawn.Int64() != 200 {
		t.Fatalf("expected 200 withdrawn, got %s", withdrawn)
	}
	supply, err := store.TotalSupply(ctx, tok)
	if err != nil || supply.Int64() != 1000 {
		t.Fatalf("unexpected supply %v err %v", supply, err)
	}
}

type operationType int

const (
	opExec operationType = iota
	opQuery
	opBegin
	opCommit
	opRollback
)

type mockOperation struct {
	typ    operationType
	query  string
	result mockResult
	rows   mockRowsData
	err    error
}

type mockResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r mockResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r mockResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

type mockRowsData struct {
	columns []string
	values  [][]driver.Value
}

type queueDriver struct {
	ops []mockOperation
	idx int32
}

var driverSeq atomic.Int32

func newMockDB(t *testing.T, ops []mockOperation) (*sql.DB, *queueDriver) {
	t.Helper()

	drv := &queueDriver{ops: ops}
	name := fmt.Sprintf("mock-mysql-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, drv
}

func execOp(query string, result mockResult) mockOperation {
	return mockOperation{typ: opExec, query: query, result: result}
}

func queryOp(query string, rows mockRowsData) mockOperation {
	return mockOperation{typ: opQuery, query: query, rows: rows}
}

func beginOp() mockOperation { return mockOperation{typ: opBegin} }

func commitOp() mockOperation { return mockOperation{typ: opCommit} }

func rollbackOp() mockOperation { return mockOperation{typ: opRollback} }

func (d *queueDriver) assertConsumed(t *testing.T) {
	t.Helper()

	if int(atomic.LoadInt32(&d.idx)) != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", atomic.LoadInt32(&d.idx), len(d.ops))
	}
}

func (d *queueDriver) Open(string) (driver.Conn, error) {
	return &mockConn{driver: d}, nil
}

func (d *queueDriver) next(expected operationType, query string) (*mockOperation, error) {
	idx := int(atomic.LoadInt32(&d.idx))
	if idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v", expected)
	}
	op := &d.ops[idx]
	if op.typ != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.typ, expected)
	}
	atomic.AddInt32(&d.idx, 1)
	if op.query != "" && normalizeSQL(op.query) != normalizeSQL(query) {
		return nil, fmt.Errorf("unexpected query. want %q got %q", normalizeSQL(op.query), normalizeSQL(query))
	}
	return op, nil
}

type mockConn struct {
	driver *queueDriver
}

func (c *mockConn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *mockConn) Close() error { return nil }

func (c *mockConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *mockConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(opBegin, "")
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockTx{driver: c.driver}, nil
}

func (c *mockConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(opExec, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return op.result, nil
}

func (c *mockConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(opQuery, query)
	if err != nil {
		return nil, err
	}
	if op.err != nil {
		return nil, op.err
	}
	return &mockRows{columns: op.rows.columns, values: op.rows.values}, nil
}

func (c *mockConn) Ping(context.Context) error { return nil }

type mockTx struct {
	driver *queueDriver
}

func (t *mockTx) Commit() error {
	op, err := t.driver.next(opCommit, "")
	if err != nil {
		return err
	}
	return op.err
}

func (t *mockTx) Rollback() error {
	op, err := t.driver.next(opRollback, "")
	if err != nil {
		return err
	}
	return op.err
}

type mockRows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *mockRows) Columns() []string { return r.columns }
func (r *mockRows) Close() error      { return nil }

func (r *mockRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

func normalizeSQL(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
