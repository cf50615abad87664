package metrics

import (
	"math/big"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/claims"
	xerrors "merkle-airdrop/internal/errors"
)

const namespace = "airdrop"

// Metrics 汇总服务暴露的全部 Prometheus 指标。
type Metrics struct {
	reg *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpErrors   *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	claims        *prometheus.CounterVec
	claimedTokens prometheus.Counter
	withdrawals   prometheus.Counter
	withdrawn     prometheus.Counter
	jobs          *prometheus.CounterVec
}

var (
	_ airdrop.Observer   = (*Metrics)(nil)
	_ claims.JobObserver = (*Metrics)(nil)
)

// New 在独立的 Registry 上注册指标，避免与进程内其他组件冲突。
func New() (*Metrics, error) {
	return NewWithRegistry(prometheus.NewRegistry())
}

// NewWithRegistry 在给定的 Registry 上注册指标。
func NewWithRegistry(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		reg: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests processed.",
		}, []string{"handler", "method", "code"}),
		httpErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_request_errors_total",
			Help:      "Total number of HTTP requests that resulted in a server error.",
		}, []string{"handler", "method"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"handler", "method"}),
		claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_total",
			Help:      "Claim attempts by outcome.",
		}, []string{"outcome"}),
		claimedTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claimed_tokens_total",
			Help:      "Sum of token base units paid out by successful claims.",
		}),
		withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawals_total",
			Help:      "Number of owner withdrawals, including empty ones.",
		}),
		withdrawn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawn_tokens_total",
			Help:      "Sum of token base units returned to the owner.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claim_jobs_total",
			Help:      "Processed claim jobs by status and error code.",
		}, []string{"status", "code"}),
	}

	for _, c := range []prometheus.Collector{
		m.httpRequests,
		m.httpErrors,
		m.httpDuration,
		m.claims,
		m.claimedTokens,
		m.withdrawals,
		m.withdrawn,
		m.jobs,
	} {
		if err := reg.Register(c); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "注册指标失败")
		}
	}
	return m, nil
}

// Registry 返回底层 Registry。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveClaim 实现 airdrop.Observer。
func (m *Metrics) ObserveClaim(outcome string, amount *big.Int) {
	m.claims.WithLabelValues(outcome).Inc()
	if outcome == airdrop.OutcomeClaimed {
		m.claimedTokens.Add(toFloat(amount))
	}
}

// ObserveWithdraw 实现 airdrop.Observer。
func (m *Metrics) ObserveWithdraw(amount *big.Int) {
	m.withdrawals.Inc()
	m.withdrawn.Add(toFloat(amount))
}

// ObserveJob 实现 claims.JobObserver。
func (m *Metrics) ObserveJob(status claims.Status, code xerrors.Code) {
	m.jobs.WithLabelValues(string(status), string(code)).Inc()
}

func (m *Metrics) observeHTTP(handler, method string, status int, seconds float64) {
	m.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		m.httpErrors.WithLabelValues(handler, method).Inc()
	}
	m.httpDuration.WithLabelValues(handler, method).Observe(seconds)
}

// 数额可能超过 float64 精度，指标只需要量级。
func toFloat(amount *big.Int) float64 {
	if amount == nil || amount.Sign() <= 0 {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}
