package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/auth"
	"merkle-airdrop/internal/claims"
	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/observability/metrics"
	"merkle-airdrop/internal/proofs"
)

// Distributor 是 API 依赖的分发器能力，由 airdrop.Distributor 实现。
type Distributor interface {
	ClaimTokens(ctx context.Context, caller common.Address, amount *big.Int, proof []common.Hash) (*airdrop.Receipt, error)
	WithdrawRemainingTokens(ctx context.Context, caller common.Address) (*big.Int, error)
	IsClaimed(ctx context.Context, claimant common.Address) (bool, error)
	Info(ctx context.Context) (airdrop.Info, error)
	Claims(ctx context.Context, limit, offset int) ([]airdrop.Claim, error)
}

// Server 负责暴露空投的 REST 接口。
type Server struct {
	addr        string
	distributor Distributor
	tree        *proofs.Tree
	jobs        *claims.Service
	auth        *auth.Service
	metrics     *metrics.Metrics
}

// Option 定义可选配置。
type Option func(*Server)

// WithTree 启用证明查询接口。
func WithTree(tree *proofs.Tree) Option {
	return func(s *Server) {
		s.tree = tree
	}
}

// WithJobs 启用异步领取接口。
func WithJobs(jobs *claims.Service) Option {
	return func(s *Server) {
		s.jobs = jobs
	}
}

// WithAuth 指定身份认证服务，未设置时使用签名模式的默认配置。
func WithAuth(svc *auth.Service) Option {
	return func(s *Server) {
		s.auth = svc
	}
}

// WithMetrics 启用请求指标与 /metrics。
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer 构造 API 服务实例。
func NewServer(addr string, distributor Distributor, opts ...Option) (*Server, error) {
	if distributor == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "分发器未初始化")
	}
	s := &Server{addr: addr, distributor: distributor}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.auth == nil {
		svc, err := auth.NewService(auth.Config{Mode: auth.ModeSignature})
		if err != nil {
			return nil, err
		}
		s.auth = svc
	}
	return s, nil
}

// Handler 返回注册了全部路由的 http.Handler。
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.route(mux, "GET /healthz", "healthz", false, s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	s.route(mux, "GET /api/v1/airdrop", "airdrop_info", false, s.handleInfo)
	s.route(mux, "GET /api/v1/proofs/{address}", "proof", false, s.handleProof)
	s.route(mux, "GET /api/v1/claims", "claims_list", false, s.handleListClaims)
	s.route(mux, "GET /api/v1/claims/{address}", "claim_status", false, s.handleClaimStatus)
	s.route(mux, "POST /api/v1/claims", "claim", true, s.handleClaim)
	s.route(mux, "POST /api/v1/claim-jobs", "claim_job_submit", true, s.handleSubmitJob)
	s.route(mux, "GET /api/v1/claim-jobs", "claim_job_list", false, s.handleListJobs)
	s.route(mux, "GET /api/v1/claim-jobs/stats", "claim_job_stats", false, s.handleJobStats)
	s.route(mux, "GET /api/v1/claim-jobs/{id}", "claim_job_detail", false, s.handleJobDetail)
	s.route(mux, "POST /api/v1/withdraw", "withdraw", true, s.handleWithdraw)
	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern, name string, protected bool, fn http.HandlerFunc) {
	var handler http.Handler = fn
	if protected {
		handler = s.auth.Middleware(auth.MiddlewareConfig{AuditEvent: name})(handler)
	}
	if s.metrics != nil {
		handler = s.metrics.Middleware(name, handler)
	}
	mux.Handle(pattern, handler)
}

// Start 启动 HTTP 服务，直到上下文取消或出现错误。
func (s *Server) Start(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           withContext(ctx, s.Handler()),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.distributor.Info(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	resp := infoResponse{
		Distributor: info.Address.Hex(),
		Token:       info.Token.Hex(),
		MerkleRoot:  info.Root.Hex(),
		Owner:       info.Owner.Hex(),
		Balance:     info.Balance.String(),
	}
	if s.tree != nil {
		resp.Recipients = len(s.tree.Allocations())
		resp.TotalAllocated = s.tree.Total().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleProof(w http.ResponseWriter, r *http.Request) {
	if s.tree == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "未加载分配清单"))
		return
	}
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	alloc, proof, ok := s.tree.Lookup(address)
	if !ok {
		writeError(w, xerrors.New(xerrors.CodeNotFound, "地址不在空投名单中"))
		return
	}
	leaf, err := proofs.LeafHash(alloc.Address, alloc.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proofResponse{
		Address: alloc.Address.Hex(),
		Amount:  alloc.Amount.String(),
		Leaf:    leaf.Hex(),
		Proof:   proofs.HexProof(proof),
	})
}

func (s *Server) handleClaimStatus(w http.ResponseWriter, r *http.Request) {
	address, err := pathAddress(r)
	if err != nil {
		writeError(w, err)
		return
	}
	claimed, err := s.distributor.IsClaimed(r.Context(), address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"address": address.Hex(), "claimed": claimed})
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r)
	list, err := s.distributor.Claims(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]receiptResponse, 0, len(list))
	for _, c := range list {
		out = append(out, receiptResponse{
			Distributor: c.Distributor.Hex(),
			Claimant:    c.Claimant.Hex(),
			Amount:      c.Amount.String(),
			Leaf:        c.Leaf.Hex(),
			ClaimedAt:   c.ClaimedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	amount, proof, err := req.decode()
	if err != nil {
		writeError(w, err)
		return
	}
	receipt, err := s.distributor.ClaimTokens(r.Context(), subject.Address, amount, proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receiptResponse{
		Distributor: receipt.Distributor.Hex(),
		Claimant:    receipt.Claimant.Hex(),
		Amount:      receipt.Amount.String(),
		Leaf:        receipt.Leaf.Hex(),
		ClaimedAt:   receipt.ClaimedAt,
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "异步领取未启用"))
		return
	}
	subject := auth.SubjectFromContext(r.Context())
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求体解析失败"))
		return
	}
	amount, proof, err := req.decode()
	if err != nil {
		writeError(w, err)
		return
	}
	job, err := s.jobs.Submit(r.Context(), claims.SubmitRequest{
		ID:       req.ID,
		Claimant: subject.Address,
		Amount:   amount,
		Proof:    proof,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "异步领取未启用"))
		return
	}
	opts, err := jobFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	jobs, err := s.jobs.List(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "异步领取未启用"))
		return
	}
	opts, err := jobFilters(r)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.jobs.Stats(r.Context(), opts...)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "异步领取未启用"))
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		writeError(w, xerrors.New(xerrors.CodeInvalidArgument, "缺少任务 ID"))
		return
	}
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	subject := auth.SubjectFromContext(r.Context())
	withdrawn, err := s.distributor.WithdrawRemainingTokens(r.Context(), subject.Address)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": subject.Hex(), "withdrawn": withdrawn.String()})
}

func pathAddress(r *http.Request) (common.Address, error) {
	raw := strings.TrimSpace(r.PathValue("address"))
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.New(xerrors.CodeInvalidArgument, "地址格式非法")
	}
	return common.HexToAddress(raw), nil
}

func pageParams(r *http.Request) (int, int) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))
	return limit, offset
}

func jobFilters(r *http.Request) ([]claims.ListOption, error) {
	query := r.URL.Query()
	limit, offset := pageParams(r)
	opts := []claims.ListOption{claims.WithLimit(limit), claims.WithOffset(offset)}

	if raw := query.Get("status"); raw != "" {
		var statuses []claims.Status
		for _, part := range strings.Split(raw, ",") {
			status := claims.Status(strings.ToLower(strings.TrimSpace(part)))
			if !claims.IsValidStatus(status) {
				return nil, xerrors.New(xerrors.CodeInvalidArgument, "未知的任务状态: "+part)
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, claims.WithStatuses(statuses...))
	}
	if raw := query.Get("claimant"); raw != "" {
		if !common.IsHexAddress(raw) {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "地址格式非法")
		}
		opts = append(opts, claims.WithClaimant(common.HexToAddress(raw).Hex()))
	}
	for key, apply := range map[string]func(time.Time) claims.ListOption{
		"since": claims.WithUpdatedSince,
		"until": claims.WithUpdatedUntil,
	} {
		raw := query.Get(key)
		if raw == "" {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, key+" 必须为 Unix 秒")
		}
		opts = append(opts, apply(time.Unix(ts, 0)))
	}
	if strings.EqualFold(query.Get("order"), "asc") {
		opts = append(opts, claims.WithSortOrder(claims.SortByUpdatedAsc))
	}
	return opts, nil
}

// withContext 确保请求处理能够感知根上下文取消。
func withContext(ctx context.Context, handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-ctx.Done():
			writeError(w, xerrors.New(xerrors.CodeInitializationFailure, "服务已关闭"))
			return
		default:
		}
		handler.ServeHTTP(w, r)
	})
}
