package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	xerrors "merkle-airdrop/internal/errors"
)

// Mode 表示身份认证模式。
type Mode string

const (
	// ModeDisabled 信任 X-Airdrop-Address 头，仅用于本地调试。
	ModeDisabled Mode = "disabled"
	// ModeSignature 要求请求携带 EIP-191 签名。
	ModeSignature Mode = "signature"
)

// 请求头名称。
const (
	HeaderAddress   = "X-Airdrop-Address"
	HeaderTimestamp = "X-Airdrop-Timestamp"
	HeaderSignature = "X-Airdrop-Signature"
)

const (
	CodeMissingSignature xerrors.Code = "AUTH_MISSING_SIGNATURE"
	CodeInvalidSignature xerrors.Code = "AUTH_INVALID_SIGNATURE"
	CodeStaleSignature   xerrors.Code = "AUTH_STALE_SIGNATURE"
)

var (
	ErrMissingSignature = xerrors.New(CodeMissingSignature, "missing signature headers")
	ErrInvalidSignature = xerrors.New(CodeInvalidSignature, "signature does not match address")
	ErrStaleSignature   = xerrors.New(CodeStaleSignature, "signature timestamp outside allowed window")
)

func init() {
	xerrors.Register(CodeMissingSignature, xerrors.Attributes{Message: "missing signature headers", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusUnauthorized})
	xerrors.Register(CodeInvalidSignature, xerrors.Attributes{Message: "signature does not match address", Severity: xerrors.SeverityWarning, HTTPStatus: http.StatusUnauthorized})
	xerrors.Register(CodeStaleSignature, xerrors.Attributes{Message: "signature timestamp outside allowed window", Severity: xerrors.SeverityInfo, HTTPStatus: http.StatusUnauthorized})
}

// Config 描述身份认证配置。
type Config struct {
	Mode Mode `json:"mode"`
	// MaxSkewSeconds 为签名时间戳允许的最大偏差，默认 300 秒。
	MaxSkewSeconds int `json:"max_skew_seconds"`
	// MaxBodyBytes 为参与签名的请求体上限，默认 1 MiB。
	MaxBodyBytes int64 `json:"max_body_bytes"`
}

func (c Config) maxSkew() time.Duration {
	if c.MaxSkewSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MaxSkewSeconds) * time.Second
}

func (c Config) maxBody() int64 {
	if c.MaxBodyBytes <= 0 {
		return 1 << 20
	}
	return c.MaxBodyBytes
}

// Subject 是通过认证的调用者。
type Subject struct {
	Address  common.Address
	Mode     Mode
	SignedAt time.Time
}

// Hex 返回调用者地址的 EIP-55 形式。
func (s *Subject) Hex() string {
	if s == nil {
		return ""
	}
	return s.Address.Hex()
}

func normaliseMode(mode Mode) Mode {
	switch Mode(strings.ToLower(strings.TrimSpace(string(mode)))) {
	case ModeDisabled:
		return ModeDisabled
	case ModeSignature, "":
		return ModeSignature
	default:
		return mode
	}
}
