// Package airdrop is a Go client for the airdropd REST API. Mutating calls
// are signed with the caller's key using the X-Airdrop-* headers.
package airdrop

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"merkle-airdrop/internal/auth"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Client wraps the HTTP interactions with the airdrop REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	key        *ecdsa.PrivateKey
	now        func() time.Time
}

// Info describes the distributor.
type Info struct {
	Distributor    string `json:"distributor"`
	Token          string `json:"token"`
	MerkleRoot     string `json:"merkle_root"`
	Owner          string `json:"owner"`
	Balance        string `json:"balance"`
	Recipients     int    `json:"recipients,omitempty"`
	TotalAllocated string `json:"total_allocated,omitempty"`
}

// Proof is a recipient's entitlement as served by the API.
type Proof struct {
	Address string   `json:"address"`
	Amount  string   `json:"amount"`
	Leaf    string   `json:"leaf"`
	Proof   []string `json:"proof"`
}

// Receipt describes a completed claim.
type Receipt struct {
	Distributor string `json:"distributor"`
	Claimant    string `json:"claimant"`
	Amount      string `json:"amount"`
	Leaf        string `json:"leaf"`
	ClaimedAt   int64  `json:"claimed_at"`
}

// ClaimRequest is the payload for synchronous claims and claim jobs.
type ClaimRequest struct {
	ID     string   `json:"id,omitempty"`
	Amount string   `json:"amount"`
	Proof  []string `json:"proof"`
}

// Job is an asynchronous claim job.
type Job struct {
	ID          string   `json:"id"`
	Distributor string   `json:"distributor"`
	Claimant    string   `json:"claimant"`
	Amount      string   `json:"amount"`
	Proof       []string `json:"proof"`
	Status      string   `json:"status"`
	Attempts    int      `json:"attempts"`
	MaxRetries  int      `json:"max_retries"`
	LastError   string   `json:"last_error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	Leaf        string   `json:"leaf,omitempty"`
	CreatedAt   int64    `json:"created_at"`
	UpdatedAt   int64    `json:"updated_at"`
}

// Finished reports whether the job reached a terminal status.
func (j Job) Finished() bool {
	return j.Status == "succeeded" || j.Status == "failed"
}

// APIError represents server side validation or internal errors. Message
// carries the revert text for airdrop failures, e.g. "Invalid proof.".
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"error"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("airdrop api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("airdrop api error (%d): %s", e.StatusCode, e.Message)
}

// ErrSignerRequired is returned by mutating calls on a client without a key.
var ErrSignerRequired = errors.New("airdrop: signing key is not set")

// NewClient instantiates a client. key may be nil for read-only use; when
// httpClient is nil a default client with DefaultHTTPTimeout is used.
func NewClient(rawURL string, key *ecdsa.PrivateKey, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, key: key, now: time.Now}, nil
}

// Address returns the signer address, or the zero address without a key.
func (c *Client) Address() common.Address {
	if c.key == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// Info fetches the distributor configuration and balance.
func (c *Client) Info(ctx context.Context) (Info, error) {
	var info Info
	err := c.do(ctx, http.MethodGet, "/api/v1/airdrop", nil, &info, false)
	return info, err
}

// Proof fetches the entitlement and proof for address.
func (c *Client) Proof(ctx context.Context, address common.Address) (Proof, error) {
	var proof Proof
	err := c.do(ctx, http.MethodGet, "/api/v1/proofs/"+address.Hex(), nil, &proof, false)
	return proof, err
}

// IsClaimed reports whether address has already claimed.
func (c *Client) IsClaimed(ctx context.Context, address common.Address) (bool, error) {
	var status struct {
		Claimed bool `json:"claimed"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/claims/"+address.Hex(), nil, &status, false)
	return status.Claimed, err
}

// Claim submits a synchronous claim signed by the client's key.
func (c *Client) Claim(ctx context.Context, req ClaimRequest) (Receipt, error) {
	var receipt Receipt
	err := c.do(ctx, http.MethodPost, "/api/v1/claims", req, &receipt, true)
	return receipt, err
}

// ClaimOwn looks up the caller's proof and claims it in one step.
func (c *Client) ClaimOwn(ctx context.Context) (Receipt, error) {
	if c.key == nil {
		return Receipt{}, ErrSignerRequired
	}
	proof, err := c.Proof(ctx, c.Address())
	if err != nil {
		return Receipt{}, err
	}
	return c.Claim(ctx, ClaimRequest{Amount: proof.Amount, Proof: proof.Proof})
}

// SubmitClaimJob enqueues an asynchronous claim.
func (c *Client) SubmitClaimJob(ctx context.Context, req ClaimRequest) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodPost, "/api/v1/claim-jobs", req, &job, true)
	return job, err
}

// GetClaimJob fetches a claim job by identifier.
func (c *Client) GetClaimJob(ctx context.Context, id string) (Job, error) {
	var job Job
	err := c.do(ctx, http.MethodGet, "/api/v1/claim-jobs/"+url.PathEscape(id), nil, &job, false)
	return job, err
}

// WaitForClaimJob polls until the job finishes or ctx is done.
func (c *Client) WaitForClaimJob(ctx context.Context, id string, interval time.Duration) (Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		job, err := c.GetClaimJob(ctx, id)
		if err != nil {
			return Job{}, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return job, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Withdraw sweeps the remaining distributor balance; the key must be the owner's.
func (c *Client) Withdraw(ctx context.Context) (*big.Int, error) {
	var resp struct {
		Withdrawn string `json:"withdrawn"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/v1/withdraw", nil, &resp, true); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(resp.Withdrawn, 10)
	if !ok {
		return nil, fmt.Errorf("decode withdrawn amount %q", resp.Withdrawn)
	}
	return amount, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload any, out any, signed bool) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = encoded
	}

	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if signed {
		if c.key == nil {
			return ErrSignerRequired
		}
		ts := c.now().Unix()
		signature, err := auth.Sign(c.key, method, u.Path, ts, body)
		if err != nil {
			return err
		}
		req.Header.Set(auth.HeaderAddress, c.Address().Hex())
		req.Header.Set(auth.HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(auth.HeaderSignature, signature)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &apiErr)
		}
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return &apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
