package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"merkle-airdrop/internal/auth"
	"merkle-airdrop/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AIRDROP_CONFIG"

// DefaultPath 是未设置环境变量时使用的配置文件。
const DefaultPath = "configs/airdrop.json"

// Config 描述了空投服务在启动阶段需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server"`
	Logging   logger.Config   `json:"logging"`
	Airdrop   AirdropConfig   `json:"airdrop"`
	Storage   StorageConfig   `json:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue"`
	Lock      LockConfig      `json:"lock"`
	Events    EventsConfig    `json:"events"`
	Auth      auth.Config     `json:"auth"`
	Metrics   MetricsConfig   `json:"metrics"`
	Alerting  AlertingConfig  `json:"alerting"`
	Web3      Web3Config      `json:"web3"`
	Runtime   RuntimeConfig   `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AirdropConfig 描述分发器实例。token 与 merkle_root 可以来自部署参数文件，
// 也可以直接内联；两者同时存在时内联值优先。
type AirdropConfig struct {
	ParametersFile  string      `json:"parameters_file"`
	TokenAddress    string      `json:"token_address"`
	MerkleRoot      string      `json:"merkle_root"`
	Owner           string      `json:"owner"`
	Distributor     string      `json:"distributor"`
	AllocationsFile string      `json:"allocations_file"`
	Token           TokenConfig `json:"token"`
	// FundingAmount 为启动时从 owner 转入分发器的数额，空字符串表示不注资。
	FundingAmount string `json:"funding_amount"`
}

// TokenConfig 描述本地账本中的代币。
type TokenConfig struct {
	Name          string `json:"name"`
	Symbol        string `json:"symbol"`
	Decimals      uint8  `json:"decimals"`
	InitialSupply string `json:"initial_supply"`
}

// StorageConfig 描述领取状态与任务的持久化后端。
type StorageConfig struct {
	Driver string      `json:"driver"`
	MySQL  MySQLConfig `json:"mysql"`
}

// MySQLConfig 为 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// TaskQueueConfig 描述异步领取任务的队列。
type TaskQueueConfig struct {
	Driver     string              `json:"driver"`
	Workers    int                 `json:"workers"`
	MaxRetries int                 `json:"max_retries"`
	BufferSize int                 `json:"buffer_size"`
	Redis      RedisQueueConfig    `json:"redis"`
	RabbitMQ   RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 为 Redis list 队列参数。
type RedisQueueConfig struct {
	Address          string `json:"address"`
	Password         string `json:"password"`
	DB               int    `json:"db"`
	Queue            string `json:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds"`
}

// RabbitMQQueueConfig 为 RabbitMQ 队列参数。
type RabbitMQQueueConfig struct {
	URL      string `json:"url"`
	Queue    string `json:"queue"`
	Prefetch int    `json:"prefetch"`
	Durable  bool   `json:"durable"`
}

// LockConfig 描述领取串行化方式。
type LockConfig struct {
	Driver string          `json:"driver"`
	Redis  RedisLockConfig `json:"redis"`
}

// RedisLockConfig 为 Redis 分布式锁参数。
type RedisLockConfig struct {
	Address         string `json:"address"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	Key             string `json:"key"`
	TTLSeconds      int    `json:"ttl_seconds"`
	RetryWaitMillis int    `json:"retry_wait_millis"`
}

// EventsConfig 描述领取与提取事件的发布方式。
type EventsConfig struct {
	Driver   string               `json:"driver"`
	RabbitMQ RabbitMQEventsConfig `json:"rabbitmq"`
}

// RabbitMQEventsConfig 为事件交换机参数。
type RabbitMQEventsConfig struct {
	URL                   string `json:"url"`
	Exchange              string `json:"exchange"`
	Durable               bool   `json:"durable"`
	PublishTimeoutSeconds int    `json:"publish_timeout_seconds"`
}

// MetricsConfig 控制 Prometheus 指标。Address 为空时挂在 API 端口的 /metrics 上。
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Address string `json:"address"`
}

// AlertingConfig 控制领取任务告警的去向。
type AlertingConfig struct {
	Log            bool              `json:"log"`
	WebhookURL     string            `json:"webhook_url"`
	WebhookHeaders map[string]string `json:"webhook_headers"`
	TimeoutSeconds int               `json:"timeout_seconds"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainConfig  string `json:"chain_config"`
	DefaultChain string `json:"default_chain"`
	RPCURL       string `json:"rpc_url"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// PathFromEnv 返回环境变量指定的配置路径，未设置时返回默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(EnvConfigPath)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	c.Storage.Driver = lowerOr(c.Storage.Driver, "memory")
	c.TaskQueue.Driver = lowerOr(c.TaskQueue.Driver, "memory")
	c.Lock.Driver = lowerOr(c.Lock.Driver, "local")
	c.Events.Driver = lowerOr(c.Events.Driver, "memory")

	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.MaxRetries <= 0 {
		c.TaskQueue.MaxRetries = 3
	}
	if c.TaskQueue.BufferSize <= 0 {
		c.TaskQueue.BufferSize = 128
	}

	if c.Airdrop.Token.Name == "" {
		c.Airdrop.Token.Name = "Mock Token"
	}
	if c.Airdrop.Token.Symbol == "" {
		c.Airdrop.Token.Symbol = "MCK"
	}

	c.Airdrop.ParametersFile = resolve(baseDir, c.Airdrop.ParametersFile)
	c.Airdrop.AllocationsFile = resolve(baseDir, c.Airdrop.AllocationsFile)
	c.Web3.ChainConfig = resolve(baseDir, c.Web3.ChainConfig)
	if c.Logging.Audit.Enabled {
		c.Logging.Audit.Path = resolve(baseDir, c.Logging.Audit.Path)
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else {
		c.Runtime.DataDir = resolve(baseDir, c.Runtime.DataDir)
	}
}

// Validate 检查驱动名称与必填项。
func (c *Config) Validate() error {
	checks := []struct {
		field   string
		value   string
		allowed []string
	}{
		{"storage.driver", c.Storage.Driver, []string{"memory", "mysql"}},
		{"task_queue.driver", c.TaskQueue.Driver, []string{"memory", "redis", "rabbitmq"}},
		{"lock.driver", c.Lock.Driver, []string{"local", "redis"}},
		{"events.driver", c.Events.Driver, []string{"memory", "rabbitmq", "none"}},
	}
	for _, check := range checks {
		if !contains(check.allowed, check.value) {
			return fmt.Errorf("%s 不支持 %q，可选值: %s", check.field, check.value, strings.Join(check.allowed, ", "))
		}
	}
	if c.Storage.Driver == "mysql" && strings.TrimSpace(c.Storage.MySQL.DSN) == "" {
		return errors.New("storage.mysql.dsn 不能为空")
	}
	if c.TaskQueue.Driver == "redis" && strings.TrimSpace(c.TaskQueue.Redis.Address) == "" {
		return errors.New("task_queue.redis.address 不能为空")
	}
	if c.TaskQueue.Driver == "rabbitmq" && strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
		return errors.New("task_queue.rabbitmq.url 不能为空")
	}
	if c.Lock.Driver == "redis" && strings.TrimSpace(c.Lock.Redis.Address) == "" {
		return errors.New("lock.redis.address 不能为空")
	}
	if c.Events.Driver == "rabbitmq" && strings.TrimSpace(c.Events.RabbitMQ.URL) == "" {
		return errors.New("events.rabbitmq.url 不能为空")
	}
	return nil
}

// Seconds 把配置中的整数秒转换为 time.Duration，非正数返回 0。
func Seconds(v int) time.Duration {
	if v <= 0 {
		return 0
	}
	return time.Duration(v) * time.Second
}

func resolve(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func lowerOr(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
