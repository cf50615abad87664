package redis

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"merkle-airdrop/internal/airdrop"
	xerrors "merkle-airdrop/internal/errors"
	"merkle-airdrop/pkg/logger"
)

const (
	defaultLockKey   = "airdrop:lock"
	defaultLockTTL   = 15 * time.Second
	defaultRetryWait = 50 * time.Millisecond
)

// 仅当锁仍由自己持有时才删除。
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockerConfig 描述分布式锁的连接参数。
type LockerConfig struct {
	Address   string        `json:"address"`
	Password  string        `json:"password"`
	DB        int           `json:"db"`
	Key       string        `json:"key"`
	TTL       time.Duration `json:"ttl"`
	RetryWait time.Duration `json:"retry_wait"`
}

// Locker 基于 SET NX PX 实现 airdrop.Sequencer。
type Locker struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	retry  time.Duration
	owned  bool
}

// NewLocker 建立 Redis 连接并创建锁。
func NewLocker(ctx context.Context, cfg LockerConfig) (*Locker, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "连接 Redis 失败")
	}
	l := NewLockerWithClient(client, cfg)
	l.owned = true
	return l, nil
}

// NewLockerWithClient 复用已有客户端，Close 不会关闭该客户端。
func NewLockerWithClient(client *redis.Client, cfg LockerConfig) *Locker {
	key := cfg.Key
	if key == "" {
		key = defaultLockKey
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	retry := cfg.RetryWait
	if retry <= 0 {
		retry = defaultRetryWait
	}
	return &Locker{client: client, key: key, ttl: ttl, retry: retry}
}

// Acquire 轮询获取锁直到成功或 ctx 结束。
func (l *Locker) Acquire(ctx context.Context) (func(), error) {
	token := uuid.NewString()
	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待分布式锁超时")
			}
			return nil, xerrors.Wrap(xerrors.CodeLockFailure, err, "获取分布式锁失败")
		}
		if ok {
			return l.releaser(token), nil
		}
		select {
		case <-ctx.Done():
			return nil, xerrors.Wrap(xerrors.CodeTimeout, ctx.Err(), "等待分布式锁超时")
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
			logger.Named("redis").Warn("释放分布式锁失败", "key", l.key, "error", err)
		}
	}
}

// Close 关闭自己创建的 Redis 连接。
func (l *Locker) Close() error {
	if l == nil || l.client == nil || !l.owned {
		return nil
	}
	return l.client.Close()
}

var _ airdrop.Sequencer = (*Locker)(nil)
