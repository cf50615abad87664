package claims

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/pkg/logger"
)

// SubmitRequest 描述一次异步领取请求。
type SubmitRequest struct {
	// ID 为空时自动生成；重复提交相同 ID 返回已有任务。
	ID       string
	Claimant common.Address
	Amount   *big.Int
	Proof    []common.Hash
}

// Service 负责领取任务的创建与查询。
type Service struct {
	store       Store
	producer    Producer
	distributor common.Address
	maxRetries  int
}

// NewService 构造任务服务。
func NewService(store Store, producer Producer, distributor common.Address, maxRetries int) *Service {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Service{store: store, producer: producer, distributor: distributor, maxRetries: maxRetries}
}

// Submit 创建一个新的领取任务并推送到队列。
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if req.Claimant == (common.Address{}) {
		return nil, xerrors.New(CodeJobValidation, "领取地址不能为空")
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 || req.Amount.BitLen() > 256 {
		return nil, xerrors.New(CodeJobValidation, "领取数额必须为正整数")
	}
	if s.store == nil || s.producer == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "领取任务服务未初始化")
	}

	jobID := strings.TrimSpace(req.ID)
	if jobID != "" {
		job, err := s.store.Get(ctx, jobID)
		if err == nil {
			return ownedBy(job, req.Claimant)
		}
		if !stdErrors.Is(err, ErrJobNotFound) {
			return nil, err
		}
	} else {
		jobID = uuid.NewString()
	}

	job := &Job{
		ID:          jobID,
		Distributor: strings.ToLower(s.distributor.Hex()),
		Claimant:    strings.ToLower(req.Claimant.Hex()),
		Amount:      req.Amount.String(),
		Proof:       proofs.HexProof(req.Proof),
		Status:      StatusPending,
		MaxRetries:  s.maxRetries,
	}
	if err := s.store.Create(ctx, job); err != nil {
		if stdErrors.Is(err, ErrJobConflict) {
			existing, getErr := s.store.Get(ctx, jobID)
			if getErr == nil {
				return ownedBy(existing, req.Claimant)
			}
			if !stdErrors.Is(getErr, ErrJobNotFound) {
				return nil, getErr
			}
		}
		return nil, err
	}
	if err := s.producer.Publish(ctx, jobID); err != nil {
		logger.L().Error("领取任务入队失败", slog.Any("error", err), slog.String("job_id", jobID))
		wrapped := xerrors.Wrap(CodeJobPublish, err, "发布领取任务到队列失败")
		_ = s.store.MarkFailed(ctx, jobID, CodeJobPublish, wrapped.Error(), true)
		return nil, wrapped
	}
	logger.Audit().Info("claim_job_submitted",
		slog.String("job_id", jobID),
		slog.String("claimant", job.Claimant),
		slog.String("amount", job.Amount),
		slog.Int("max_retries", job.MaxRetries),
	)
	return job, nil
}

// ownedBy 只把重复提交的任务返回给它的领取人，其他地址复用任务 ID 时返回 ErrJobConflict。
func ownedBy(job *Job, claimant common.Address) (*Job, error) {
	if !strings.EqualFold(job.Claimant, claimant.Hex()) {
		return nil, ErrJobConflict
	}
	return job, nil
}

// Get 返回指定任务的状态。
func (s *Service) Get(ctx context.Context, id string) (*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "领取任务存储未初始化")
	}
	return s.store.Get(ctx, id)
}

// List 返回符合过滤条件的任务列表。
func (s *Service) List(ctx context.Context, opts ...ListOption) ([]*Job, error) {
	if s.store == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "领取任务存储未初始化")
	}
	return s.store.List(ctx, BuildListOptions(opts...))
}

// Stats 返回符合过滤条件的任务统计信息。
func (s *Service) Stats(ctx context.Context, opts ...ListOption) (JobStats, error) {
	if s.store == nil {
		return JobStats{}, xerrors.New(xerrors.CodeInitializationFailure, "领取任务存储未初始化")
	}
	return s.store.Stats(ctx, BuildListOptions(opts...))
}

// Close 释放资源。
func (s *Service) Close() error {
	var err error
	if s.store != nil {
		err = s.store.Close()
	}
	if s.producer != nil {
		err = stdErrors.Join(err, s.producer.Close())
	}
	return err
}

// WaitUntilCompleted 轮询任务直到成功或终止失败。
func (s *Service) WaitUntilCompleted(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		job, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Finished() {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
