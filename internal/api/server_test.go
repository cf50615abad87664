package api

import (
	"bytes"
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/auth"
	"merkle-airdrop/internal/claims"
	"merkle-airdrop/internal/observability/metrics"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/internal/token"
)

const (
	ownerKeyHex   = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	claimerKeyHex = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
)

var (
	distributorAddr = common.HexToAddress("0x5FC8d32690cc91D4c39d9d3abcBD16989F875707")
	tokenAddr       = common.HexToAddress("0x001AaBE36BBA3C25796bB9B19AE21950a4e6B87E")
	addrA           = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	addrB           = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")
	addrC           = common.HexToAddress("0x90F79bf6EB2c4f870365E785982E1f101E93b906")
)

type fixture struct {
	handler http.Handler
	tree    *proofs.Tree
	jobs    *claims.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ownerKey, err := crypto.HexToECDSA(ownerKeyHex)
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)

	tree, err := proofs.NewTree([]proofs.Allocation{
		{Address: addrA, Amount: big.NewInt(100)},
		{Address: addrB, Amount: big.NewInt(200)},
		{Address: addrC, Amount: big.NewInt(300)},
	})
	require.NoError(t, err)

	ledger, err := token.NewMemoryLedger(token.Info{Address: tokenAddr, Name: "Mock", Symbol: "MCK"}, owner, big.NewInt(1000))
	require.NoError(t, err)
	store := airdrop.NewMemoryStore(ledger)
	cfg := airdrop.Config{Address: distributorAddr, Token: tokenAddr, Root: tree.Root(), Owner: owner}
	require.NoError(t, airdrop.Bootstrap(context.Background(), store, store, cfg, airdrop.Funding{Amount: big.NewInt(600)}))

	m, err := metrics.New()
	require.NoError(t, err)
	dist, err := airdrop.NewDistributor(cfg, store, airdrop.WithObserver(m))
	require.NoError(t, err)

	queue := claims.NewMemoryQueue(8)
	jobs := claims.NewService(claims.NewMemoryStore(), queue, distributorAddr, 3)
	t.Cleanup(func() { _ = jobs.Close() })

	authSvc, err := auth.NewService(auth.Config{Mode: auth.ModeSignature})
	require.NoError(t, err)
	server, err := NewServer(":0", dist, WithTree(tree), WithJobs(jobs), WithAuth(authSvc), WithMetrics(m))
	require.NoError(t, err)
	return &fixture{handler: server.Handler(), tree: tree, jobs: jobs}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func signed(t *testing.T, keyHex, method, path string, payload any) *http.Request {
	t.Helper()
	key, err := crypto.HexToECDSA(keyHex)
	require.NoError(t, err)

	var body []byte
	if payload != nil {
		body, err = json.Marshal(payload)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	ts := time.Now().Unix()
	sig, err := auth.Sign(key, method, req.URL.Path, ts, body)
	require.NoError(t, err)
	req.Header.Set(auth.HeaderAddress, crypto.PubkeyToAddress(key.PublicKey).Hex())
	req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
	req.Header.Set(auth.HeaderSignature, sig)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestClaimLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/proofs/"+addrA.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	proof := decode[proofResponse](t, rec)
	assert.Equal(t, "100", proof.Amount)

	claim := claimRequest{Amount: proof.Amount, Proof: proof.Proof}
	rec = f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/claims", claim))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	receipt := decode[receiptResponse](t, rec)
	assert.Equal(t, addrA.Hex(), receipt.Claimant)
	assert.Equal(t, proof.Leaf, receipt.Leaf)

	rec = f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/claims", claim))
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "Airdrop already claimed.", decode[errorResponse](t, rec).Error)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claims/"+addrA.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["claimed"])

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/airdrop", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	info := decode[infoResponse](t, rec)
	assert.Equal(t, "500", info.Balance)
	assert.Equal(t, "600", info.TotalAllocated)
	assert.Equal(t, f.tree.Root().Hex(), info.MerkleRoot)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claims?limit=10", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]receiptResponse](t, rec), 1)
}

func TestClaimRejections(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/claims", claimRequest{Amount: "200"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid proof.", decode[errorResponse](t, rec).Error)

	rec = f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/claims", claimRequest{Amount: "abc"}))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_ARGUMENT", decode[errorResponse](t, rec).Code)

	unsigned := httptest.NewRequest(http.MethodPost, "/api/v1/claims", bytes.NewReader([]byte(`{"amount":"100"}`)))
	rec = f.do(t, unsigned)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/proofs/not-an-address", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/proofs/0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWithdrawRequiresOwner(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/withdraw", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Caller is not the owner.", decode[errorResponse](t, rec).Error)

	rec = f.do(t, signed(t, ownerKeyHex, http.MethodPost, "/api/v1/withdraw", nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "600", decode[map[string]string](t, rec)["withdrawn"])

	rec = f.do(t, signed(t, ownerKeyHex, http.MethodPost, "/api/v1/withdraw", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", decode[map[string]string](t, rec)["withdrawn"])
}

func TestClaimJobEndpoints(t *testing.T) {
	f := newFixture(t)

	_, proof, ok := f.tree.Lookup(addrA)
	require.True(t, ok)
	req := claimRequest{ID: "job-1", Amount: "100", Proof: proofs.HexProof(proof)}
	rec := f.do(t, signed(t, claimerKeyHex, http.MethodPost, "/api/v1/claim-jobs", req))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	job := decode[claims.Job](t, rec)
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, claims.StatusPending, job.Status)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claim-jobs/job-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "job-1", decode[claims.Job](t, rec).ID)

	rec = f.do(t, signed(t, ownerKeyHex, http.MethodPost, "/api/v1/claim-jobs", claimRequest{ID: "job-1", Amount: "100"}))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "CLAIM_JOB_CONFLICT", decode[errorResponse](t, rec).Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claim-jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claim-jobs?status=pending&claimant="+addrA.Hex(), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]claims.Job](t, rec), 1)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claim-jobs?status=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/api/v1/claim-jobs/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[claims.JobStats](t, rec).Pending)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `airdrop_http_requests_total{code="200",handler="healthz",method="GET"} 1`)
}
