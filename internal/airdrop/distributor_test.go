package airdrop

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/events"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/internal/token"
)

var (
	ownerAddr       = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	distributorAddr = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	tokenAddr       = common.HexToAddress("0x001AaBE36BBA3C25796bB9B19AE21950a4e6B87E")
	addrA           = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	addrB           = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	addrC           = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
	outsider        = common.HexToAddress("0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65")
)

type fixture struct {
	tree      *proofs.Tree
	store     *MemoryStore
	dist      *Distributor
	publisher *events.MemoryPublisher
	observer  *recordingObserver
}

type recordingObserver struct {
	mu        sync.Mutex
	outcomes  []string
	withdrawn []*big.Int
}

func (o *recordingObserver) ObserveClaim(outcome string, _ *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

func (o *recordingObserver) ObserveWithdraw(amount *big.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.withdrawn = append(o.withdrawn, amount)
}

func newFixture(t *testing.T, funded int64) *fixture {
	t.Helper()

	tree, err := proofs.NewTree([]proofs.Allocation{
		{Address: addrA, Amount: big.NewInt(100)},
		{Address: addrB, Amount: big.NewInt(200)},
		{Address: addrC, Amount: big.NewInt(300)},
	})
	require.NoError(t, err)

	ledger, err := token.NewMemoryLedger(token.Info{Address: tokenAddr, Name: "Mock", Symbol: "MCK", Decimals: 18}, common.Address{}, nil)
	require.NoError(t, err)
	store := NewMemoryStore(ledger)

	cfg := Config{Address: distributorAddr, Token: tokenAddr, Root: tree.Root(), Owner: ownerAddr}
	require.NoError(t, Bootstrap(context.Background(), store, store, cfg, Funding{
		InitialSupply: big.NewInt(1000),
		Amount:        big.NewInt(funded),
	}))

	publisher := events.NewMemoryPublisher()
	observer := &recordingObserver{}
	dist, err := NewDistributor(cfg, store, WithPublisher(publisher), WithObserver(observer))
	require.NoError(t, err)

	return &fixture{tree: tree, store: store, dist: dist, publisher: publisher, observer: observer}
}

func (f *fixture) balance(t *testing.T, holder common.Address) int64 {
	t.Helper()
	balance, err := f.dist.BalanceOf(context.Background(), holder)
	require.NoError(t, err)
	return balance.Int64()
}

func (f *fixture) proof(t *testing.T, claimant common.Address, amount int64) []common.Hash {
	t.Helper()
	proof, err := f.tree.ProofFor(claimant, big.NewInt(amount))
	require.NoError(t, err)
	return proof
}

func TestClaimWithdrawScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)
	require.Equal(t, int64(600), f.balance(t, distributorAddr))
	require.Equal(t, int64(400), f.balance(t, ownerAddr))

	receipt, err := f.dist.ClaimTokens(ctx, addrA, big.NewInt(100), f.proof(t, addrA, 100))
	require.NoError(t, err)
	assert.Equal(t, addrA, receipt.Claimant)
	assert.Equal(t, int64(100), f.balance(t, addrA))
	assert.Equal(t, int64(500), f.balance(t, distributorAddr))

	claimed, err := f.dist.IsClaimed(ctx, addrA)
	require.NoError(t, err)
	assert.True(t, claimed)

	_, err = f.dist.ClaimTokens(ctx, addrA, big.NewInt(100), f.proof(t, addrA, 100))
	require.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, "Airdrop already claimed.", xerrors.MessageOf(err))
	assert.Equal(t, int64(100), f.balance(t, addrA))

	withdrawn, err := f.dist.WithdrawRemainingTokens(ctx, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(500), withdrawn.Int64())
	assert.Equal(t, int64(900), f.balance(t, ownerAddr))
	assert.Equal(t, int64(0), f.balance(t, distributorAddr))

	emitted := f.publisher.Events()
	require.Len(t, emitted, 2)
	assert.Equal(t, events.TypeClaimed, emitted[0].Type)
	assert.Equal(t, "100", emitted[0].Amount)
	assert.Equal(t, events.TypeWithdrawn, emitted[1].Type)
	assert.Equal(t, []string{OutcomeClaimed, OutcomeAlreadyClaimed}, f.observer.outcomes)
}

func TestSecondClaimFailsWithAnyProof(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)

	_, err := f.dist.ClaimTokens(ctx, addrA, big.NewInt(100), f.proof(t, addrA, 100))
	require.NoError(t, err)

	cases := []struct {
		name   string
		amount int64
		proof  []common.Hash
	}{
		{name: "same proof", amount: 100, proof: f.proof(t, addrA, 100)},
		{name: "empty proof", amount: 100, proof: nil},
		{name: "proof of another leaf", amount: 100, proof: f.proof(t, addrB, 200)},
		{name: "different amount", amount: 300, proof: f.proof(t, addrC, 300)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dist.ClaimTokens(ctx, addrA, big.NewInt(tc.amount), tc.proof)
			require.ErrorIs(t, err, ErrAlreadyClaimed)
		})
	}
	assert.Equal(t, int64(100), f.balance(t, addrA))
	assert.Equal(t, int64(500), f.balance(t, distributorAddr))
}

func TestBootstrapFundsOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)
	cfg := f.dist.Config()
	funding := Funding{InitialSupply: big.NewInt(1000), Amount: big.NewInt(600)}

	for i := 0; i < 2; i++ {
		require.NoError(t, Bootstrap(ctx, f.store, f.store, cfg, funding))
	}
	assert.Equal(t, int64(400), f.balance(t, ownerAddr))
	assert.Equal(t, int64(600), f.balance(t, distributorAddr))

	supply, err := f.store.TotalSupply(ctx, tokenAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), supply.Int64())

	// 注资在提取后也不会重复发生。
	_, err = f.dist.WithdrawRemainingTokens(ctx, ownerAddr)
	require.NoError(t, err)
	require.NoError(t, Bootstrap(ctx, f.store, f.store, cfg, funding))
	assert.Equal(t, int64(1000), f.balance(t, ownerAddr))
	assert.Equal(t, int64(0), f.balance(t, distributorAddr))
}

func TestBootstrapFailedFundingIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 0)
	cfg := f.dist.Config()

	err := Bootstrap(ctx, f.store, f.store, cfg, Funding{Amount: big.NewInt(5000)})
	require.ErrorIs(t, err, ErrTransferFailed)

	require.NoError(t, Bootstrap(ctx, f.store, f.store, cfg, Funding{Amount: big.NewInt(600)}))
	assert.Equal(t, int64(600), f.balance(t, distributorAddr))
	assert.Equal(t, int64(400), f.balance(t, ownerAddr))
}

func TestClaimRejectsInvalidProofs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)

	cases := []struct {
		name   string
		caller common.Address
		amount int64
		proof  []common.Hash
	}{
		{name: "empty proof", caller: addrA, amount: 100, proof: nil},
		{name: "wrong amount", caller: addrA, amount: 101, proof: f.proof(t, addrA, 100)},
		{name: "foreign proof", caller: outsider, amount: 100, proof: f.proof(t, addrA, 100)},
		{name: "proof of another leaf", caller: addrA, amount: 100, proof: f.proof(t, addrB, 200)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.dist.ClaimTokens(ctx, tc.caller, big.NewInt(tc.amount), tc.proof)
			require.ErrorIs(t, err, ErrInvalidProof)
			assert.Equal(t, "Invalid proof.", xerrors.MessageOf(err))
		})
	}

	claimed, err := f.dist.IsClaimed(ctx, addrA)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Equal(t, int64(600), f.balance(t, distributorAddr))
}

func TestClaimRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t, 600)
	for _, amount := range []*big.Int{nil, big.NewInt(0), big.NewInt(-1)} {
		_, err := f.dist.ClaimTokens(context.Background(), addrA, amount, f.proof(t, addrA, 100))
		require.ErrorIs(t, err, ErrInvalidClaim)
	}
}

func TestUnfundedClaimRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 150)

	_, err := f.dist.ClaimTokens(ctx, addrB, big.NewInt(200), f.proof(t, addrB, 200))
	require.ErrorIs(t, err, ErrTransferFailed)
	assert.ErrorIs(t, err, token.ErrInsufficientBalance)

	claimed, err := f.dist.IsClaimed(ctx, addrB)
	require.NoError(t, err)
	assert.False(t, claimed, "claimed flag must roll back with the transfer")
	assert.Equal(t, int64(150), f.balance(t, distributorAddr))
	assert.Equal(t, int64(0), f.balance(t, addrB))

	_, err = f.dist.ClaimTokens(ctx, addrA, big.NewInt(100), f.proof(t, addrA, 100))
	require.NoError(t, err)
	assert.Empty(t, mustClaims(t, f, addrB))
}

func mustClaims(t *testing.T, f *fixture, claimant common.Address) []Claim {
	t.Helper()
	claims, err := f.dist.Claims(context.Background(), 0, 0)
	require.NoError(t, err)
	var matched []Claim
	for _, c := range claims {
		if c.Claimant == claimant {
			matched = append(matched, c)
		}
	}
	return matched
}

func TestWithdrawRequiresOwner(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)

	_, err := f.dist.WithdrawRemainingTokens(ctx, addrA)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int64(600), f.balance(t, distributorAddr))

	withdrawn, err := f.dist.WithdrawRemainingTokens(ctx, ownerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(600), withdrawn.Int64())

	withdrawn, err = f.dist.WithdrawRemainingTokens(ctx, ownerAddr)
	require.NoError(t, err)
	assert.Zero(t, withdrawn.Sign())
	assert.Len(t, f.publisher.Events(), 1)
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 600)

	const workers = 16
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimant, amount := addrA, int64(100)
			switch i % 3 {
			case 1:
				claimant, amount = addrB, 200
			case 2:
				claimant, amount = addrC, 300
			}
			proof, err := f.tree.ProofFor(claimant, big.NewInt(amount))
			if err != nil {
				return
			}
			if _, err := f.dist.ClaimTokens(ctx, claimant, big.NewInt(amount), proof); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, successes)
	assert.Equal(t, int64(0), f.balance(t, distributorAddr))
	assert.Equal(t, int64(100), f.balance(t, addrA))
	assert.Equal(t, int64(200), f.balance(t, addrB))
	assert.Equal(t, int64(300), f.balance(t, addrC))
	assert.Len(t, mustClaims(t, f, addrC), 1)
}

func TestNewDistributorValidatesConfig(t *testing.T) {
	ledger, err := token.NewMemoryLedger(token.Info{Address: tokenAddr}, ownerAddr, big.NewInt(1))
	require.NoError(t, err)
	store := NewMemoryStore(ledger)

	_, err = NewDistributor(Config{Address: distributorAddr, Token: tokenAddr, Owner: ownerAddr}, store)
	require.Error(t, err)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))

	_, err = NewDistributor(Config{Address: distributorAddr, Token: tokenAddr, Owner: ownerAddr, Root: common.HexToHash("0x01")}, nil)
	require.Error(t, err)
}

func TestLocalSequencerHonoursContext(t *testing.T) {
	seq := NewLocalSequencer()
	release, err := seq.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = seq.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)

	release()
	release()
	again, err := seq.Acquire(context.Background())
	require.NoError(t, err)
	again()
}
