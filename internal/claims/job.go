package claims

import (
	"net/http"

	xerrors "merkle-airdrop/internal/errors"
)

// Status 表示领取任务在生命周期中的状态。
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Job 描述一次排队执行的领取请求。
type Job struct {
	ID          string   `json:"id"`
	Distributor string   `json:"distributor"`
	Claimant    string   `json:"claimant"`
	Amount      string   `json:"amount"`
	Proof       []string `json:"proof"`
	Status      Status   `json:"status"`
	Attempts    int      `json:"attempts"`
	MaxRetries  int      `json:"max_retries"`
	LastError   string   `json:"last_error,omitempty"`
	ErrorCode   string   `json:"error_code,omitempty"`
	// Leaf 在领取成功后写入。
	Leaf      string `json:"leaf,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}

// Finished 表示任务不会再被执行。
func (j *Job) Finished() bool {
	if j == nil {
		return false
	}
	if j.Status == StatusSucceeded {
		return true
	}
	return j.Status == StatusFailed && j.Attempts >= j.MaxRetries
}

const (
	CodeJobNotFound   xerrors.Code = "CLAIM_JOB_NOT_FOUND"
	CodeJobConflict   xerrors.Code = "CLAIM_JOB_CONFLICT"
	CodeJobCompleted  xerrors.Code = "CLAIM_JOB_COMPLETED"
	CodeJobExhausted  xerrors.Code = "CLAIM_JOB_RETRIES_EXHAUSTED"
	CodeJobValidation xerrors.Code = "CLAIM_JOB_VALIDATION_FAILED"
	CodeJobPublish    xerrors.Code = "CLAIM_JOB_PUBLISH_FAILED"
	CodeJobProcessing xerrors.Code = "CLAIM_JOB_PROCESSING_FAILED"
)

var (
	// ErrJobNotFound 表示指定的任务不存在。
	ErrJobNotFound = xerrors.New(CodeJobNotFound, "claim job not found")
	// ErrJobConflict 表示任务在当前状态下无法执行所请求的操作。
	ErrJobConflict = xerrors.New(CodeJobConflict, "claim job conflict")
	// ErrJobCompleted 表示任务已经成功完成。
	ErrJobCompleted = xerrors.New(CodeJobCompleted, "claim job already completed")
	// ErrJobExhausted 表示任务的重试次数已经耗尽。
	ErrJobExhausted = xerrors.New(CodeJobExhausted, "claim job retries exhausted")
)

func init() {
	xerrors.Register(CodeJobNotFound, xerrors.Attributes{
		Message:    "claim job not found",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusNotFound,
	})
	xerrors.Register(CodeJobConflict, xerrors.Attributes{
		Message:    "claim job conflict",
		Severity:   xerrors.SeverityWarning,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeJobCompleted, xerrors.Attributes{
		Message:    "claim job already completed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeJobExhausted, xerrors.Attributes{
		Message:    "claim job retries exhausted",
		Severity:   xerrors.SeverityCritical,
		Alert:      true,
		HTTPStatus: http.StatusConflict,
	})
	xerrors.Register(CodeJobValidation, xerrors.Attributes{
		Message:    "claim job validation failed",
		Severity:   xerrors.SeverityInfo,
		HTTPStatus: http.StatusBadRequest,
	})
	xerrors.Register(CodeJobPublish, xerrors.Attributes{
		Message:    "failed to publish claim job",
		Severity:   xerrors.SeverityCritical,
		Retryable:  true,
		Alert:      true,
		HTTPStatus: http.StatusServiceUnavailable,
	})
	xerrors.Register(CodeJobProcessing, xerrors.Attributes{
		Message:    "claim job execution failed",
		Severity:   xerrors.SeverityWarning,
		Retryable:  true,
		Alert:      true,
		HTTPStatus: http.StatusInternalServerError,
	})
}

// IsValidStatus 检查状态是否为支持的枚举值。
func IsValidStatus(status Status) bool {
	switch status {
	case StatusPending, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	default:
		return false
	}
}

func cloneJob(job *Job) *Job {
	clone := *job
	if job.Proof != nil {
		clone.Proof = append([]string(nil), job.Proof...)
	}
	return &clone
}
