package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"merkle-airdrop/internal/airdrop"
	"merkle-airdrop/internal/api"
	"merkle-airdrop/internal/auth"
	"merkle-airdrop/internal/claims"
	"merkle-airdrop/internal/config"
	"merkle-airdrop/internal/deploy"
	"merkle-airdrop/internal/events"
	"merkle-airdrop/internal/observability/alerting"
	"merkle-airdrop/internal/observability/metrics"
	"merkle-airdrop/internal/proofs"
	"merkle-airdrop/internal/storage/mysql"
	"merkle-airdrop/internal/storage/redis"
	"merkle-airdrop/internal/token"
	"merkle-airdrop/internal/web3/provider"
	"merkle-airdrop/pkg/logger"
)

// main 是空投分发守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("airdropd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.PathFromEnv())
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("airdropd")

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	var tree *proofs.Tree
	if cfg.Airdrop.AllocationsFile != "" {
		tree, err = proofs.LoadTree(cfg.Airdrop.AllocationsFile)
		if err != nil {
			return err
		}
		log.Info("已加载空投名单",
			slog.Int("recipients", len(tree.Allocations())),
			slog.String("total", tree.Total().String()),
			slog.String("root", tree.Root().Hex()),
		)
	}

	distCfg, err := distributorConfig(cfg.Airdrop, tree)
	if err != nil {
		return err
	}

	store, funder, err := openStore(ctx, cfg, distCfg)
	if err != nil {
		return err
	}
	defer store.Close()

	funding, err := fundingFromConfig(cfg.Airdrop)
	if err != nil {
		return err
	}
	if err := airdrop.Bootstrap(ctx, store, funder, distCfg, funding); err != nil {
		return err
	}

	sequencer, err := openSequencer(ctx, cfg.Lock)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSequencer(sequencer); err != nil {
			log.Warn("关闭分布式锁失败", slog.Any("error", err))
		}
	}()

	publisher, err := openPublisher(cfg.Events)
	if err != nil {
		return err
	}
	defer publisher.Close()

	var collector *metrics.Metrics
	if cfg.Metrics.Enabled {
		collector, err = metrics.New()
		if err != nil {
			return err
		}
	}

	distOpts := []airdrop.Option{
		airdrop.WithSequencer(sequencer),
		airdrop.WithPublisher(publisher),
		airdrop.WithLogger(logger.Named("airdrop")),
	}
	if collector != nil {
		distOpts = append(distOpts, airdrop.WithObserver(collector))
	}
	distributor, err := airdrop.NewDistributor(distCfg, store, distOpts...)
	if err != nil {
		return err
	}

	jobStore, err := openJobStore(cfg, store)
	if err != nil {
		return err
	}
	defer jobStore.Close()

	queue, err := openQueue(ctx, cfg.TaskQueue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Warn("关闭任务队列失败", slog.Any("error", err))
		}
	}()

	jobService := claims.NewService(jobStore, queue, distCfg.Address, cfg.TaskQueue.MaxRetries)
	procOpts := []claims.ProcessorOption{
		claims.WithWorkerCount(cfg.TaskQueue.Workers),
		claims.WithProcessorLogger(logger.Named("claims")),
		claims.WithAlertDispatcher(alertDispatcher(cfg.Alerting)),
	}
	if collector != nil {
		procOpts = append(procOpts, claims.WithJobObserver(collector))
	}
	processor := claims.NewProcessor(distributor, jobStore, queue, queue, procOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("领取任务处理器异常退出", slog.Any("error", err))
		}
	}()

	if collector != nil && cfg.Metrics.Address != "" {
		go func() {
			if err := collector.StartServer(ctx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("指标服务异常退出", slog.Any("error", err))
			}
		}()
	}

	if cfg.Web3.ChainConfig != "" || cfg.Web3.RPCURL != "" {
		reportChain(ctx, cfg.Web3, log)
	}

	authService, err := auth.NewService(cfg.Auth)
	if err != nil {
		return err
	}
	serverOpts := []api.Option{api.WithJobs(jobService), api.WithAuth(authService)}
	if tree != nil {
		serverOpts = append(serverOpts, api.WithTree(tree))
	}
	if collector != nil && cfg.Metrics.Address == "" {
		serverOpts = append(serverOpts, api.WithMetrics(collector))
	}
	server, err := api.NewServer(cfg.Server.Address, distributor, serverOpts...)
	if err != nil {
		return err
	}

	log.Info("airdropd 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("distributor", distCfg.Address.Hex()),
		slog.String("token", distCfg.Token.Hex()),
		slog.String("merkle_root", distCfg.Root.Hex()),
		slog.String("auth_mode", string(authService.Mode())),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// distributorConfig 合并部署参数文件与内联配置；未给出根时使用名单计算出的根。
func distributorConfig(cfg config.AirdropConfig, tree *proofs.Tree) (airdrop.Config, error) {
	tokenAddress := strings.TrimSpace(cfg.TokenAddress)
	merkleRoot := strings.TrimSpace(cfg.MerkleRoot)
	if cfg.ParametersFile != "" {
		params, err := deploy.LoadParameters(cfg.ParametersFile)
		if err != nil {
			return airdrop.Config{}, err
		}
		if tokenAddress == "" {
			tokenAddress = params.TokenAddress.Hex()
		}
		if merkleRoot == "" {
			merkleRoot = params.MerkleRoot.Hex()
		}
	}
	if merkleRoot == "" && tree != nil {
		merkleRoot = tree.Root().Hex()
	}

	params, err := deploy.ResolveParameters(tokenAddress, merkleRoot)
	if err != nil {
		return airdrop.Config{}, err
	}
	if tree != nil && tree.Root() != params.MerkleRoot {
		return airdrop.Config{}, fmt.Errorf("名单计算出的 Merkle 根 %s 与配置 %s 不一致", tree.Root().Hex(), params.MerkleRoot.Hex())
	}

	if !common.IsHexAddress(cfg.Owner) {
		return airdrop.Config{}, fmt.Errorf("airdrop.owner 非法: %q", cfg.Owner)
	}
	owner := common.HexToAddress(cfg.Owner)

	// 未配置分发器地址时沿用 owner 首次部署合约会得到的地址。
	address := crypto.CreateAddress(owner, 0)
	if strings.TrimSpace(cfg.Distributor) != "" {
		if !common.IsHexAddress(cfg.Distributor) {
			return airdrop.Config{}, fmt.Errorf("airdrop.distributor 非法: %q", cfg.Distributor)
		}
		address = common.HexToAddress(cfg.Distributor)
	}

	distCfg := airdrop.Config{
		Address: address,
		Token:   params.TokenAddress,
		Root:    params.MerkleRoot,
		Owner:   owner,
	}
	return distCfg, distCfg.Validate()
}

func fundingFromConfig(cfg config.AirdropConfig) (airdrop.Funding, error) {
	var funding airdrop.Funding
	parse := func(field, raw string) (*big.Int, error) {
		if strings.TrimSpace(raw) == "" {
			return nil, nil
		}
		amount, err := proofs.ParseAmount(raw)
		if err != nil {
			return nil, fmt.Errorf("%s 非法: %w", field, err)
		}
		return amount, nil
	}
	var err error
	if funding.InitialSupply, err = parse("airdrop.token.initial_supply", cfg.Token.InitialSupply); err != nil {
		return funding, err
	}
	if funding.Amount, err = parse("airdrop.funding_amount", cfg.FundingAmount); err != nil {
		return funding, err
	}
	return funding, nil
}

func openStore(ctx context.Context, cfg *config.Config, distCfg airdrop.Config) (airdrop.Store, airdrop.Funder, error) {
	switch cfg.Storage.Driver {
	case "mysql":
		store, err := mysql.Open(ctx, mysqlConfig(cfg.Storage.MySQL))
		if err != nil {
			return nil, nil, err
		}
		return store, store, nil
	default:
		ledger, err := token.NewMemoryLedger(token.Info{
			Address:  distCfg.Token,
			Name:     cfg.Airdrop.Token.Name,
			Symbol:   cfg.Airdrop.Token.Symbol,
			Decimals: cfg.Airdrop.Token.Decimals,
		}, distCfg.Owner, nil)
		if err != nil {
			return nil, nil, err
		}
		store := airdrop.NewMemoryStore(ledger)
		return store, store, nil
	}
}

func mysqlConfig(cfg config.MySQLConfig) mysql.Config {
	return mysql.Config{
		DSN:             cfg.DSN,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: config.Seconds(cfg.ConnMaxLifetimeSeconds),
		ConnMaxIdleTime: config.Seconds(cfg.ConnMaxIdleTimeSeconds),
	}
}

// openJobStore 与状态存储共用同一个 MySQL 连接池。
func openJobStore(cfg *config.Config, store airdrop.Store) (claims.Store, error) {
	if cfg.Storage.Driver != "mysql" {
		return claims.NewMemoryStore(), nil
	}
	sqlStore, ok := store.(*mysql.Store)
	if !ok {
		return nil, errors.New("mysql 任务存储需要 mysql 状态存储")
	}
	return claims.NewMySQLStore(sqlStore.DB())
}

func openQueue(ctx context.Context, cfg config.TaskQueueConfig) (claims.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return claims.NewRedisQueue(ctx, claims.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: config.Seconds(cfg.Redis.BlockWaitSeconds),
		})
	case "rabbitmq":
		return claims.NewRabbitMQQueue(claims.RabbitMQConfig{
			URL:      cfg.RabbitMQ.URL,
			Queue:    cfg.RabbitMQ.Queue,
			Prefetch: cfg.RabbitMQ.Prefetch,
			Durable:  cfg.RabbitMQ.Durable,
		})
	default:
		return claims.NewMemoryQueue(cfg.BufferSize), nil
	}
}

func openSequencer(ctx context.Context, cfg config.LockConfig) (airdrop.Sequencer, error) {
	if cfg.Driver != "redis" {
		return airdrop.NewLocalSequencer(), nil
	}
	return redis.NewLocker(ctx, redis.LockerConfig{
		Address:   cfg.Redis.Address,
		Password:  cfg.Redis.Password,
		DB:        cfg.Redis.DB,
		Key:       cfg.Redis.Key,
		TTL:       config.Seconds(cfg.Redis.TTLSeconds),
		RetryWait: time.Duration(cfg.Redis.RetryWaitMillis) * time.Millisecond,
	})
}

// closeSequencer 释放持有外部连接的锁实现，进程内锁无需关闭。
func closeSequencer(seq airdrop.Sequencer) error {
	if closer, ok := seq.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func openPublisher(cfg config.EventsConfig) (events.Publisher, error) {
	switch cfg.Driver {
	case "rabbitmq":
		return events.NewRabbitMQPublisher(events.RabbitMQConfig{
			URL:            cfg.RabbitMQ.URL,
			Exchange:       cfg.RabbitMQ.Exchange,
			Durable:        cfg.RabbitMQ.Durable,
			PublishTimeout: config.Seconds(cfg.RabbitMQ.PublishTimeoutSeconds),
		})
	case "none":
		return events.NopPublisher{}, nil
	default:
		return events.NewMemoryPublisher(), nil
	}
}

func alertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Log {
		notifiers = append(notifiers, alerting.LogNotifier{})
	}
	if cfg.WebhookURL != "" {
		webhook := alerting.NewWebhookNotifier(cfg.WebhookURL, config.Seconds(cfg.TimeoutSeconds))
		webhook.Headers = cfg.WebhookHeaders
		notifiers = append(notifiers, webhook)
	}
	return alerting.NewFanout(notifiers...)
}

// reportChain 记录默认链的快照，节点不可达时仅告警。
func reportChain(ctx context.Context, cfg config.Web3Config, log *slog.Logger) {
	registry, err := provider.NewRegistry(ctx, cfg)
	if err != nil {
		log.Warn("初始化链客户端失败", slog.Any("error", err))
		return
	}
	defer registry.Close()

	client, err := registry.DefaultClient()
	if err != nil {
		log.Warn("获取默认链失败", slog.Any("error", err))
		return
	}
	snapshotCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	snapshot, err := client.FetchChainSnapshot(snapshotCtx)
	if err != nil {
		log.Warn("读取链快照失败", slog.Any("error", err))
		return
	}
	log.Info("链快照",
		slog.Any("chains", registry.Chains()),
		slog.String("chain_id", snapshot.ChainID),
		slog.String("block_number", snapshot.BlockNumber),
	)
}
