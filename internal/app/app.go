// Package app 提供彩票服务的应用入口
//
// ## 服务信息
// - 服务名: eidos-lottery
// - HTTP 端口: 8091 (参与、查询、猜硬币、管理接口, /metrics)
// - gRPC 端口: 50061 (健康检查)
// - 数据库: PostgreSQL (轮次、参与、待提取余额、跨链待确认、猜硬币、管理操作)
//
// ## 依赖
// - Redis: 交易 nonce 分配锁、替代资产汇率缓存、玩家操作限流、定时任务分布式锁
// - Kafka: 跨链消息 (crosschain-<chain_id>) 与随机数回调 (randomness-fulfilled)
// - 区块链 RPC: 平台代币划转、兑换路由、流动性池与喂价读取、随机数协调合约
//
// ## 部署角色
// - main: 持有权威轮次, 处理远端参与请求, 轮次完成后向卫星链广播
// - satellite: 乐观占位后向主链发送参与请求, 按主链通知结算本链贡献
package app

import (
	"context"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos-lottery/internal/blockchain"
	"github.com/eidos-exchange/eidos-lottery/internal/config"
	"github.com/eidos-exchange/eidos-lottery/internal/contract"
	"github.com/eidos-exchange/eidos-lottery/internal/crosschain"
	"github.com/eidos-exchange/eidos-lottery/internal/handler"
	"github.com/eidos-exchange/eidos-lottery/internal/kafka"
	"github.com/eidos-exchange/eidos-lottery/internal/middleware"
	"github.com/eidos-exchange/eidos-lottery/internal/oracle"
	"github.com/eidos-exchange/eidos-lottery/internal/pricing"
	"github.com/eidos-exchange/eidos-lottery/internal/repository"
	"github.com/eidos-exchange/eidos-lottery/internal/router"
	"github.com/eidos-exchange/eidos-lottery/internal/scheduler"
	"github.com/eidos-exchange/eidos-lottery/internal/service"
	"github.com/eidos-exchange/eidos-lottery/internal/swap"
	"github.com/eidos-exchange/eidos-lottery/pkg/logger"
)

// App 彩票服务应用
type App struct {
	cfg     *config.Config
	chainID uint64

	// 基础设施
	db          *gorm.DB
	redisClient redis.UniversalClient
	chain       *blockchain.Client
	producer    *kafka.Producer
	consumer    *kafka.Consumer
	httpServer  *http.Server
	grpcServer  *grpc.Server
	health      *handler.HealthHandler

	// 仓储层
	repos *repositories

	// 服务层
	rounds     *service.RoundService
	crosschain *service.CrossChainService
	ledger     *service.LedgerService
	coinflip   *service.CoinflipService
	randomness *service.RandomnessService
	admin      *service.AdminService
	queries    *service.QueryService
	assetRates *pricing.AssetRates
	slippage   *pricing.SlippageController
	oracle     *oracle.Adapter

	scheduler *scheduler.Scheduler

	ctx    context.Context
	cancel context.CancelFunc
}

type repositories struct {
	tx         repository.TxManager
	rounds     repository.RoundRepository
	randomness repository.RandomnessRepository
	state      repository.StateRepository
	players    repository.PlayerRepository
	pending    repository.PendingEntryRepository
	pricing    repository.PricingRepository
	coinflip   repository.CoinflipRepository
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:     cfg,
		chainID: uint64(cfg.Blockchain.ChainID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Run 启动应用
func (a *App) Run() error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	if err := a.initRedis(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}
	a.initRepositories()

	if err := a.initChain(); err != nil {
		return fmt.Errorf("failed to init blockchain client: %w", err)
	}
	if err := a.initKafkaProducer(); err != nil {
		return fmt.Errorf("failed to init kafka producer: %w", err)
	}
	if err := a.initServices(); err != nil {
		return fmt.Errorf("failed to init services: %w", err)
	}
	if err := Bootstrap(a.ctx, a.cfg, a.repos.state, a.rounds, a.slippage); err != nil {
		return fmt.Errorf("failed to bootstrap state: %w", err)
	}
	if err := a.initKafkaConsumer(); err != nil {
		return fmt.Errorf("failed to init kafka consumer: %w", err)
	}

	a.initScheduler()
	if err := a.startHTTP(); err != nil {
		return fmt.Errorf("failed to start http: %w", err)
	}
	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	go a.watchChain()

	a.health.SetReady(true)
	logger.Info("lottery service started",
		zap.String("role", a.cfg.Chain.Role),
		logger.ChainID(a.chainID),
		zap.Int("http_port", a.cfg.Service.HTTPPort),
		zap.Int("grpc_port", a.cfg.Service.GRPCPort))
	return nil
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down lottery service...")
	if a.health != nil {
		a.health.SetReady(false)
	}

	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Error("http server shutdown", zap.Error(err))
		}
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(); err != nil {
			logger.Error("kafka consumer stop", zap.Error(err))
		}
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Error("kafka producer close", zap.Error(err))
		}
	}
	a.cancel()

	if a.chain != nil {
		a.chain.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}
	logger.Info("lottery service stopped")
	return nil
}

// initDB 初始化数据库
func (a *App) initDB() error {
	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", a.cfg.Postgres.Host),
		zap.String("database", a.cfg.Postgres.Database))

	if err := AutoMigrate(a.db); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	logger.Info("database migrated")
	return nil
}

// initRedis 初始化 Redis
func (a *App) initRedis() error {
	a.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    a.cfg.Redis.Addresses,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}
	logger.Info("redis connected", zap.Strings("addresses", a.cfg.Redis.Addresses))
	return nil
}

// initRepositories 初始化仓储层
func (a *App) initRepositories() {
	a.repos = &repositories{
		tx:         repository.NewRepository(a.db),
		rounds:     repository.NewRoundRepository(a.db),
		randomness: repository.NewRandomnessRepository(a.db),
		state:      repository.NewStateRepository(a.db),
		players:    repository.NewPlayerRepository(a.db),
		pending:    repository.NewPendingEntryRepository(a.db),
		pricing:    repository.NewPricingRepository(a.db),
		coinflip:   repository.NewCoinflipRepository(a.db),
	}
}

// initChain 连接区块链节点
func (a *App) initChain() error {
	bc := a.cfg.Blockchain
	ctx, cancel := context.WithTimeout(a.ctx, 15*time.Second)
	defer cancel()

	client, err := blockchain.NewClient(ctx, &blockchain.ClientConfig{
		ChainID:    bc.ChainID,
		PrivateKey: bc.PrivateKey,
		RPCURLs:    append([]string{bc.RPCURL}, bc.BackupRPCURLs...),
	})
	if err != nil {
		return err
	}
	if !client.CanSign() {
		client.Close()
		return blockchain.ErrNoSigner
	}
	a.chain = client
	return nil
}

// initKafkaProducer 初始化 Kafka 生产者
func (a *App) initKafkaProducer() error {
	if !a.cfg.Kafka.Enabled {
		logger.Warn("kafka disabled, cross-chain messages and randomness callbacks are unavailable")
		return nil
	}
	p, err := kafka.NewProducer(&kafka.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
		SASL:     a.cfg.Kafka.SASL,
	})
	if err != nil {
		return err
	}
	a.producer = p
	return nil
}

// initServices 组装合约、定价与业务服务
func (a *App) initServices() error {
	bc := a.cfg.Blockchain
	ct := bc.Contracts

	nonces := blockchain.NewNonceManager(a.chain, a.redisClient, &blockchain.NonceManagerConfig{
		Wallet:  a.chain.Address(),
		ChainID: bc.ChainID,
	})
	if err := nonces.Sync(a.ctx); err != nil {
		return fmt.Errorf("sync nonce: %w", err)
	}
	sender := blockchain.NewTransactor(a.chain, nonces, &blockchain.TransactorConfig{})

	token, err := contract.NewERC20Contract(common.HexToAddress(ct.PlatformToken), a.chain)
	if err != nil {
		return err
	}
	pool, err := contract.NewPoolContract(common.HexToAddress(ct.Pool), a.chain)
	if err != nil {
		return err
	}
	feed, err := contract.NewFeedContract(common.HexToAddress(ct.PriceFeed), a.chain)
	if err != nil {
		return err
	}
	routerContract, err := contract.NewRouterContract(common.HexToAddress(ct.Router), a.chain)
	if err != nil {
		return err
	}
	coordinator, err := contract.NewVRFCoordinatorContract(common.HexToAddress(ct.VRFCoordinator), a.chain)
	if err != nil {
		return err
	}
	var credential service.CredentialChecker
	if ct.Credential != "" {
		nft, err := contract.NewERC721Contract(common.HexToAddress(ct.Credential), a.chain)
		if err != nil {
			return err
		}
		credential = nft
	}
	subID, err := strconv.ParseUint(a.cfg.VRF.SubscriptionID, 10, 64)
	if err != nil && a.cfg.VRF.SubscriptionID != "" {
		return fmt.Errorf("invalid vrf subscription id: %w", err)
	}

	p := a.cfg.Pricing
	a.oracle = oracle.NewAdapter(pool, feed, oracle.Config{
		MinPoolPrice:          config.Amount(p.MinPoolPrice),
		MaxPoolPrice:          config.Amount(p.MaxPoolPrice),
		PlatformTokenIsToken0: p.PlatformTokenIsToken0,
		FeedStaleness:         time.Duration(p.FeedStalenessSec) * time.Second,
		FallbackFeedPrice:     config.Amount(p.FallbackFeedPrice),
	})
	a.slippage = pricing.NewSlippageController(a.repos.pricing, pricing.SlippageConfig{
		Baseline:        p.BaselineSlippageBps,
		Min:             p.MinSlippageBps,
		Max:             p.MaxSlippageBps,
		SuccessStep:     p.SuccessStepBps,
		FailureStep:     p.FailureStepBps,
		MinNativeAmount: decimal.NewFromBigInt(config.Amount(p.MinNativeAmount), 0),
		MaxNativeAmount: decimal.NewFromBigInt(config.Amount(p.MaxNativeAmount), 0),
	})
	entryFee := config.Amount(a.cfg.Round.EntryFee)
	fees := pricing.NewFeeCalculator(a.oracle, a.slippage, entryFee, p.SafetyBufferBps)
	a.assetRates = pricing.NewAssetRates(a.repos.pricing, pricing.NewContractPoolReader(a.chain),
		a.redisClient, time.Duration(p.RateCacheTTLSec)*time.Second)

	swapper := swap.NewExecutor(routerContract, token, sender, swap.Config{
		WrappedNative: common.HexToAddress(ct.WrappedNative),
		PlatformToken: common.HexToAddress(ct.PlatformToken),
		PoolFee:       ct.PoolFee,
	})
	treasury := service.NewChainTreasury(sender, token, a.chain, common.HexToAddress(ct.Treasury))
	provider := service.NewVRFProvider(coordinator, sender, a.chain, common.HexToHash(a.cfg.VRF.KeyHash), subID)
	deposits := service.NewChainDeposits(a.chain, big.NewInt(a.cfg.Blockchain.ChainID), sender.From())

	serial := service.NewSerializer()
	limiter := service.NewRateLimiter(a.redisClient, time.Duration(a.cfg.Round.MinActionIntervalSec)*time.Second)
	minProviderBalance := config.Amount(a.cfg.VRF.MinBalance)

	a.ledger = service.NewLedgerService(a.repos.players, a.repos.tx, treasury, serial)
	funds := service.NewNativeFunds(a.ledger, a.repos.tx, deposits)

	r := a.cfg.Round
	if unpaid := r.UnpaidShares(); len(unpaid) > 0 {
		logger.Warn("prize shares without recipient are retained as dust", zap.Strings("shares", unpaid))
	}
	a.rounds = service.NewRoundService(service.RoundDeps{
		Rounds:     a.repos.rounds,
		Randomness: a.repos.randomness,
		State:      a.repos.state,
		Tx:         a.repos.tx,
		Ledger:     a.ledger,
		Funds:      funds,
		Fees:       fees,
		Slippage:   a.slippage,
		Swapper:    swapper,
		Tokens:     treasury,
		Credential: credential,
		Provider:   provider,
		Serial:     serial,
		Limiter:    limiter,
	}, service.RoundConfig{
		ChainID:  a.chainID,
		Role:     a.cfg.Chain.Role,
		Capacity: r.Capacity,
		EntryFee: entryFee,
		Shares: service.Shares{
			WinnersPct: r.WinnersSharePct,
			DevPct:     r.DevSharePct,
			FundingPct: r.FundingSharePct,
			BurnPct:    r.BurnSharePct,
		},
		DevAddress:         r.DevAddress,
		FundingAddresses:   r.FundingAddresses,
		BurnAddress:        r.BurnAddress,
		PointsPerEntry:     r.PointsPerEntry,
		MinProviderBalance: minProviderBalance,
	})

	transport := crosschain.NewTransport(a.publisher(), a.repos.state, crosschain.TransportConfig{
		ChainID:    a.chainID,
		Sender:     a.chain.Address().Hex(),
		BaseFee:    config.Amount(a.cfg.Chain.MessageBaseFee),
		PerByteFee: config.Amount(a.cfg.Chain.MessagePerByteFee),
	})
	a.crosschain = service.NewCrossChainService(a.rounds, a.repos.pending, a.repos.state, a.repos.tx,
		a.ledger, transport, serial, limiter, service.CrossChainConfig{
			ChainID:           a.chainID,
			Role:              a.cfg.Chain.Role,
			MainChainID:       a.cfg.Chain.MainChainID,
			PendingExpiry:     time.Duration(a.cfg.Chain.PendingExpirySec) * time.Second,
			RejectPolicy:      a.cfg.Chain.RejectPolicy,
			FallbackRecipient: r.FallbackRecipient,
			SweepBatchSize:    a.cfg.Chain.SweepBatchSize,
		})
	if a.cfg.Chain.IsMain() {
		a.rounds.SetNotifier(a.crosschain)
	}

	if a.cfg.Coinflip.Enabled {
		cf := a.cfg.Coinflip
		a.coinflip = service.NewCoinflipService(a.repos.coinflip, a.repos.randomness, a.repos.state, a.repos.tx,
			a.ledger, funds, treasury, a.assetRates, provider, serial, limiter, service.CoinflipConfig{
				ChainID:            a.chainID,
				MinStake:           config.Amount(cf.MinStake),
				MaxStake:           config.Amount(cf.MaxStake),
				HouseFeePct:        cf.HouseFeePct,
				CreationFee:        config.Amount(cf.CreationFee),
				DevAddress:         r.DevAddress,
				MinProviderBalance: minProviderBalance,
			})
	}
	a.randomness = service.NewRandomnessService(a.repos.randomness, a.rounds, a.coinflip, provider)

	a.admin = service.NewAdminService(a.repos.state, a.repos.pricing, a.repos.tx, a.slippage,
		a.rounds, a.crosschain, treasury, serial, service.AdminConfig{
			ChainID:   a.chainID,
			Role:      a.cfg.Chain.Role,
			Principal: a.cfg.Admin.Principal,
			Timelock:  time.Duration(a.cfg.Admin.TimelockSec) * time.Second,
		})
	a.queries = service.NewQueryService(a.rounds, a.crosschain, a.ledger, fees, a.oracle, a.assetRates)

	logger.Info("services initialized",
		zap.Bool("coinflip", a.coinflip != nil),
		zap.Bool("credential_gate", credential != nil))
	return nil
}

// publisher Kafka 未启用时发送直接失败, 由跨链服务回退占位
func (a *App) publisher() crosschain.Publisher {
	if a.producer != nil {
		return a.producer
	}
	return disabledPublisher{}
}

type disabledPublisher struct{}

func (disabledPublisher) Send(ctx context.Context, topic, key string, value []byte) error {
	return fmt.Errorf("kafka disabled: cannot publish to %s", topic)
}

// initKafkaConsumer 订阅本链跨链消息与随机数回调
func (a *App) initKafkaConsumer() error {
	if !a.cfg.Kafka.Enabled {
		return nil
	}
	c, err := kafka.NewConsumer(&kafka.ConsumerConfig{
		Brokers:     a.cfg.Kafka.Brokers,
		GroupID:     fmt.Sprintf("%s-%d", a.cfg.Kafka.GroupID, a.chainID),
		ClientID:    a.cfg.Kafka.ClientID,
		ChainID:     a.chainID,
		SASL:        a.cfg.Kafka.SASL,
		Envelopes:   a.crosschain,
		Fulfillment: a.randomness,
	})
	if err != nil {
		return err
	}
	if err := c.Start(a.ctx); err != nil {
		return err
	}
	a.consumer = c
	return nil
}

// initScheduler 注册定时任务
func (a *App) initScheduler() {
	if !a.cfg.Scheduler.Enabled {
		return
	}
	sc := a.cfg.Scheduler
	timeout := time.Duration(sc.JobTimeoutSec) * time.Second
	a.scheduler = scheduler.New(&scheduler.Config{RedisClient: a.redisClient})

	register := func(job scheduler.Job, spec string) {
		if err := a.scheduler.RegisterJob(job, spec); err != nil {
			logger.Error("failed to register job", zap.String("job", job.Name()), zap.Error(err))
		}
	}
	if !a.cfg.Chain.IsMain() {
		register(scheduler.NewSweepPendingJob(a.crosschain, a.cfg.Chain.SweepBatchSize, timeout), sc.SweepCron)
	}
	register(scheduler.NewRateRefreshJob(a.assetRates, timeout), sc.RateRefreshCron)
	register(scheduler.NewRandomnessRetryJob(a.rounds, 20, timeout), sc.RandomnessRetryCron)
	register(scheduler.NewFundingCheckJob(a.rounds, timeout), sc.FundingCheckCron)
	register(scheduler.NewSettlementResumeJob(a.rounds, 20, timeout), sc.SettleResumeCron)

	a.scheduler.Start()
}

// startHTTP 启动 HTTP 服务
func (a *App) startHTTP() error {
	if a.cfg.Service.Env != "dev" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()

	a.health = handler.NewHealthHandler(&handler.HealthDeps{
		Database: handler.PingFunc(func(ctx context.Context) error {
			sqlDB, err := a.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}),
		Redis: handler.PingFunc(func(ctx context.Context) error {
			return a.redisClient.Ping(ctx).Err()
		}),
		Chain: handler.PingFunc(func(ctx context.Context) error {
			_, err := a.chain.BlockNumber(ctx)
			return err
		}),
	})

	var jobs handler.JobScheduler
	if a.scheduler != nil {
		jobs = a.scheduler
	}
	handlers := &router.Handlers{
		Health: a.health,
		Round:  handler.NewRoundHandler(a.rounds, a.crosschain, a.cfg.Chain.Role),
		Player: handler.NewPlayerHandler(a.queries, a.ledger),
		Admin:  handler.NewAdminHandler(a.admin, jobs),
	}
	if a.coinflip != nil {
		handlers.Coinflip = handler.NewCoinflipHandler(a.coinflip)
	}

	r := router.New(engine, !a.cfg.Chain.IsMain())
	r.RegisterMiddleware()
	r.RegisterRoutes(handlers)

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.HTTPPort))
	if err != nil {
		return err
	}
	a.httpServer = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := a.httpServer.Serve(lis); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", zap.Error(err))
		}
	}()
	logger.Info("http server started", zap.Int("port", a.cfg.Service.HTTPPort))
	return nil
}

// startGRPC 启动 gRPC 健康检查服务
func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return err
	}
	a.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(
		middleware.UnaryServerRecoveryInterceptor(),
		middleware.UnaryServerErrorInterceptor(),
	))
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, healthServer)
	healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	logger.Info("gRPC server started", zap.Int("port", a.cfg.Service.GRPCPort))
	return nil
}

// watchChain 定期检查 RPC 节点可用性
func (a *App) watchChain() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(a.ctx, 10*time.Second)
			a.chain.HealthCheck(ctx)
			cancel()
			if a.chain.HealthyEndpoints() == 0 {
				logger.Error("no healthy rpc endpoint")
			}
		}
	}
}
