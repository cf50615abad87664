package claims

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"merkle-airdrop/internal/airdrop"
	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/internal/observability/alerting"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/pkg/logger"
)

// Executor 定义了处理器所需的领取能力，由 airdrop.Distributor 实现。
type Executor interface {
	ClaimTokens(ctx context.Context, caller common.Address, amount *big.Int, proof []common.Hash) (*airdrop.Receipt, error)
}

// JobObserver 接收任务处理结果，由指标模块实现。
type JobObserver interface {
	ObserveJob(status Status, code xerrors.Code)
}

// Processor 负责从队列消费领取任务并交给分发器执行。
type Processor struct {
	executor    Executor
	store       Store
	consumer    Consumer
	producer    Producer
	workerCount int
	logger      *slog.Logger
	alerter     alerting.Dispatcher
	observer    JobObserver
}

// ProcessorOption 定义可选配置。
type ProcessorOption func(*Processor)

// WithProcessorLogger 指定日志输出。
func WithProcessorLogger(logger *slog.Logger) ProcessorOption {
	return func(p *Processor) {
		p.logger = logger
	}
}

// WithWorkerCount 设置消费协程数量。
func WithWorkerCount(workers int) ProcessorOption {
	return func(p *Processor) {
		if workers > 0 {
			p.workerCount = workers
		}
	}
}

// WithAlertDispatcher 配置告警派发器。
func WithAlertDispatcher(dispatcher alerting.Dispatcher) ProcessorOption {
	return func(p *Processor) {
		p.alerter = dispatcher
	}
}

// WithJobObserver 配置任务结果观察者。
func WithJobObserver(observer JobObserver) ProcessorOption {
	return func(p *Processor) {
		p.observer = observer
	}
}

// NewProcessor 构造 Processor。
func NewProcessor(executor Executor, store Store, consumer Consumer, producer Producer, opts ...ProcessorOption) *Processor {
	p := &Processor{
		executor:    executor,
		store:       store,
		consumer:    consumer,
		producer:    producer,
		workerCount: 1,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	if p.logger == nil {
		p.logger = logger.Named("claims")
	}
	return p
}

// Start 启动任务处理循环，直到 ctx 结束。
func (p *Processor) Start(ctx context.Context) error {
	if p.consumer == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "未配置任务消费者")
	}
	return p.consumer.Consume(ctx, p.workerCount, p.handle)
}

func (p *Processor) handle(ctx context.Context, jobID string) error {
	if p.store == nil || p.executor == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "处理器未初始化")
	}
	job, err := p.store.Claim(ctx, jobID)
	if err != nil {
		if stdErrors.Is(err, ErrJobNotFound) || stdErrors.Is(err, ErrJobCompleted) || stdErrors.Is(err, ErrJobExhausted) || stdErrors.Is(err, ErrJobConflict) {
			p.logger.Debug("跳过领取任务", slog.String("job_id", jobID), slog.String("reason", err.Error()))
			return nil
		}
		p.logger.Error("领取任务状态切换失败", slog.Any("error", err), slog.String("job_id", jobID))
		p.emitAlert(ctx, &Job{ID: jobID}, CodeJobProcessing, err, "claim")
		return err
	}

	claimant, amount, proof, err := decodeJob(job)
	if err != nil {
		return p.handleFailure(ctx, job, err)
	}
	receipt, execErr := p.executor.ClaimTokens(ctx, claimant, amount, proof)
	if execErr != nil {
		return p.handleFailure(ctx, job, execErr)
	}

	leaf := receipt.Leaf.Hex()
	if err := p.store.MarkSucceeded(ctx, job.ID, leaf); err != nil {
		// 领取已经落账，不能重投；再尝试一次回写状态。
		if retryErr := p.store.MarkSucceeded(ctx, job.ID, leaf); retryErr != nil {
			p.logger.Error("回写领取成功状态失败", slog.Any("error", retryErr), slog.String("job_id", job.ID))
			p.emitAlert(ctx, job, xerrors.CodeStorageFailure, retryErr, "mark_succeeded")
			return retryErr
		}
	}
	p.observe(StatusSucceeded, "")
	logger.Audit().Info("claim_job_succeeded",
		slog.String("job_id", job.ID),
		slog.String("claimant", job.Claimant),
		slog.String("amount", job.Amount),
		slog.String("leaf", leaf),
	)
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, job *Job, execErr error) error {
	code := xerrors.CodeOf(execErr)
	if code == xerrors.CodeUnknown {
		code = CodeJobProcessing
	}
	retryable := xerrors.RetryableError(execErr)
	terminal := job.Attempts >= job.MaxRetries || !retryable

	if storeErr := p.store.MarkFailed(ctx, job.ID, code, execErr.Error(), terminal); storeErr != nil {
		p.logger.Error("标记领取任务失败状态出错", slog.Any("error", storeErr), slog.String("job_id", job.ID))
		return storeErr
	}
	p.observe(StatusFailed, code)
	logger.Audit().Warn("claim_job_failed",
		slog.String("job_id", job.ID),
		slog.String("claimant", job.Claimant),
		slog.Bool("terminal", terminal),
		slog.String("error", execErr.Error()),
		slog.String("error_code", string(code)),
		slog.Int("attempts", job.Attempts),
		slog.Int("max_retries", job.MaxRetries),
	)

	if xerrors.ShouldAlert(execErr) || (terminal && retryable) {
		stage := "retry"
		if terminal {
			stage = "terminal"
		}
		p.emitAlert(ctx, job, code, execErr, stage)
	}

	if !terminal {
		if pubErr := p.producer.Publish(ctx, job.ID); pubErr != nil {
			return xerrors.Wrap(CodeJobPublish, pubErr, fmt.Sprintf("领取任务 %s 重投失败", job.ID))
		}
		p.logger.Debug("领取任务已重新排队", slog.String("job_id", job.ID), slog.Int("attempts", job.Attempts))
	}
	return nil
}

func (p *Processor) observe(status Status, code xerrors.Code) {
	if p.observer != nil {
		p.observer.ObserveJob(status, code)
	}
}

func (p *Processor) emitAlert(ctx context.Context, job *Job, code xerrors.Code, cause error, stage string) {
	if p == nil || p.alerter == nil || job == nil {
		return
	}
	attrs := xerrors.AttributesOf(code)
	message := attrs.Message
	metadata := map[string]string{"stage": stage}
	if cause != nil {
		message = cause.Error()
		metadata["cause"] = cause.Error()
	}
	event := alerting.Event{
		Code:       code,
		Message:    message,
		Severity:   attrs.Severity,
		JobID:      job.ID,
		Claimant:   job.Claimant,
		Attempts:   job.Attempts,
		MaxRetries: job.MaxRetries,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
	if err := p.alerter.Notify(ctx, event); err != nil {
		p.logger.Error("告警通知失败",
			slog.Any("error", err),
			slog.String("job_id", job.ID),
			slog.String("stage", stage),
		)
	}
}

func decodeJob(job *Job) (common.Address, *big.Int, []common.Hash, error) {
	if !common.IsHexAddress(job.Claimant) {
		return common.Address{}, nil, nil, xerrors.New(CodeJobValidation, "任务中的领取地址非法")
	}
	amount, err := proofs.ParseAmount(job.Amount)
	if err != nil {
		return common.Address{}, nil, nil, xerrors.Wrap(CodeJobValidation, err, "任务中的数额非法")
	}
	proof, err := proofs.ParseHexProof(job.Proof)
	if err != nil {
		return common.Address{}, nil, nil, xerrors.Wrap(CodeJobValidation, err, "任务中的证明非法")
	}
	return common.HexToAddress(job.Claimant), amount, proof, nil
}
