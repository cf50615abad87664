package auth

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/pkg/logger"
)

// Service 负责从 HTTP 请求中恢复调用者地址。
type Service struct {
	mode    Mode
	maxSkew time.Duration
	maxBody int64
	now     func() time.Time
	audit   *slog.Logger
}

// NewService 构造身份认证服务实例。
func NewService(cfg Config) (*Service, error) {
	mode := normaliseMode(cfg.Mode)
	if mode != ModeDisabled && mode != ModeSignature {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("不支持的认证模式: %s", cfg.Mode))
	}
	return &Service{
		mode:    mode,
		maxSkew: cfg.maxSkew(),
		maxBody: cfg.maxBody(),
		now:     time.Now,
		audit:   logger.Audit(),
	}, nil
}

// Mode 返回当前身份认证服务的工作模式。
func (s *Service) Mode() Mode {
	if s == nil {
		return ModeDisabled
	}
	return s.mode
}

// SignatureMessage 返回请求签名覆盖的原文：方法、路径、时间戳与请求体哈希各占一行。
func SignatureMessage(method, path string, timestamp int64, body []byte) []byte {
	bodyHash := crypto.Keccak256Hash(body)
	return []byte(fmt.Sprintf("%s\n%s\n%d\n%s", strings.ToUpper(method), path, timestamp, bodyHash.Hex()))
}

// Sign 使用私钥对请求进行 EIP-191 签名，返回 0x 前缀的 65 字节签名。
func Sign(key *ecdsa.PrivateKey, method, path string, timestamp int64, body []byte) (string, error) {
	if key == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "签名私钥不能为空")
	}
	digest := accounts.TextHash(SignatureMessage(method, path, timestamp, body))
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "请求签名失败")
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// Recover 从签名中恢复签名者地址，兼容 v 为 0/1 与 27/28 两种写法。
func Recover(message []byte, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil || len(sig) != crypto.SignatureLength {
		return common.Address{}, ErrInvalidSignature
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(message), sig)
	if err != nil {
		return common.Address{}, ErrInvalidSignature
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// AuthenticateRequest 校验请求头并返回调用者。请求体会被读取后原样放回。
func (s *Service) AuthenticateRequest(_ context.Context, r *http.Request) (*Subject, error) {
	rawAddress := strings.TrimSpace(r.Header.Get(HeaderAddress))
	if !common.IsHexAddress(rawAddress) {
		return nil, ErrMissingSignature
	}
	address := common.HexToAddress(rawAddress)
	if s == nil || s.mode == ModeDisabled {
		return &Subject{Address: address, Mode: ModeDisabled}, nil
	}

	rawTimestamp := strings.TrimSpace(r.Header.Get(HeaderTimestamp))
	signature := strings.TrimSpace(r.Header.Get(HeaderSignature))
	if rawTimestamp == "" || signature == "" {
		return nil, ErrMissingSignature
	}
	timestamp, err := strconv.ParseInt(rawTimestamp, 10, 64)
	if err != nil {
		return nil, ErrStaleSignature
	}
	signedAt := time.Unix(timestamp, 0)
	if skew := s.now().Sub(signedAt); skew > s.maxSkew || skew < -s.maxSkew {
		return nil, ErrStaleSignature
	}

	body, err := s.readBody(r)
	if err != nil {
		return nil, err
	}
	signer, err := Recover(SignatureMessage(r.Method, r.URL.Path, timestamp, body), signature)
	if err != nil {
		return nil, err
	}
	if signer != address {
		return nil, ErrInvalidSignature
	}
	return &Subject{Address: address, Mode: ModeSignature, SignedAt: signedAt}, nil
}

func (s *Service) readBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "读取请求体失败")
	}
	if int64(len(body)) > s.maxBody {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "请求体超过签名上限")
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}
