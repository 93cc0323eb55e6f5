package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// 部署角色
const (
	RoleMain      = "main"
	RoleSatellite = "satellite"
)

// 跨链拒绝后的入场费处理策略
const (
	RejectPolicyRefund  = "refund"
	RejectPolicyForfeit = "forfeit"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Chain      ChainConfig      `yaml:"chain" json:"chain"`
	Round      RoundConfig      `yaml:"round" json:"round"`
	VRF        VRFConfig        `yaml:"vrf" json:"vrf"`
	Pricing    PricingConfig    `yaml:"pricing" json:"pricing"`
	Coinflip   CoinflipConfig   `yaml:"coinflip" json:"coinflip"`
	Admin      AdminConfig      `yaml:"admin" json:"admin"`
	Scheduler  SchedulerConfig  `yaml:"scheduler" json:"scheduler"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
}

// DSN 连接串
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Database)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Enabled  bool       `yaml:"enabled" json:"enabled"`
	Brokers  []string   `yaml:"brokers" json:"brokers"`
	GroupID  string     `yaml:"group_id" json:"group_id"`
	ClientID string     `yaml:"client_id" json:"client_id"`
	SASL     SASLConfig `yaml:"sasl" json:"sasl"`
}

// SASLConfig SASL/SCRAM 认证
type SASLConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	Mechanism string `yaml:"mechanism" json:"mechanism"` // SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"-"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL        string          `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs []string        `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID       int64           `yaml:"chain_id" json:"chain_id"`
	PrivateKey    string          `yaml:"private_key" json:"-"`
	Confirmations int             `yaml:"confirmations" json:"confirmations"`
	Contracts     ContractsConfig `yaml:"contracts" json:"contracts"`
}

// ContractsConfig 外部合约地址
type ContractsConfig struct {
	PlatformToken  string `yaml:"platform_token" json:"platform_token"`
	Credential     string `yaml:"credential" json:"credential"` // ERC721 参与凭证
	Pool           string `yaml:"pool" json:"pool"`             // 平台代币/原生币 流动性池
	PriceFeed      string `yaml:"price_feed" json:"price_feed"` // 原生币/USD 喂价
	Router         string `yaml:"router" json:"router"`
	WrappedNative  string `yaml:"wrapped_native" json:"wrapped_native"`
	PoolFee        uint32 `yaml:"pool_fee" json:"pool_fee"`
	VRFCoordinator string `yaml:"vrf_coordinator" json:"vrf_coordinator"`
	Treasury       string `yaml:"treasury" json:"treasury"` // 奖池托管地址
}

// ChainConfig 跨链配置
type ChainConfig struct {
	Role              string       `yaml:"role" json:"role"`
	MainChainID       uint64       `yaml:"main_chain_id" json:"main_chain_id"`
	Peers             []PeerConfig `yaml:"peers" json:"peers"`
	MessageBaseFee    string       `yaml:"message_base_fee" json:"message_base_fee"`
	MessagePerByteFee string       `yaml:"message_per_byte_fee" json:"message_per_byte_fee"`
	PendingExpirySec  int          `yaml:"pending_expiry_sec" json:"pending_expiry_sec"`
	RejectPolicy      string       `yaml:"reject_policy" json:"reject_policy"`
	SweepBatchSize    int          `yaml:"sweep_batch_size" json:"sweep_batch_size"`
}

// PeerConfig 远端链部署
type PeerConfig struct {
	ChainID uint64 `yaml:"chain_id" json:"chain_id"`
	Address string `yaml:"address" json:"address"`
}

// IsMain 是否为主链部署
func (c ChainConfig) IsMain() bool {
	return c.Role == RoleMain
}

// RoundConfig 轮次配置
type RoundConfig struct {
	Capacity             int      `yaml:"capacity" json:"capacity"`
	EntryFee             string   `yaml:"entry_fee" json:"entry_fee"`
	WinnersSharePct      int      `yaml:"winners_share_pct" json:"winners_share_pct"`
	DevSharePct          int      `yaml:"dev_share_pct" json:"dev_share_pct"`
	FundingSharePct      int      `yaml:"funding_share_pct" json:"funding_share_pct"`
	BurnSharePct         int      `yaml:"burn_share_pct" json:"burn_share_pct"`
	DevAddress           string   `yaml:"dev_address" json:"dev_address"`
	FundingAddresses     []string `yaml:"funding_addresses" json:"funding_addresses"`
	BurnAddress          string   `yaml:"burn_address" json:"burn_address"`
	FallbackRecipient    string   `yaml:"fallback_recipient" json:"fallback_recipient"`
	PointsPerEntry       int64    `yaml:"points_per_entry" json:"points_per_entry"`
	MinActionIntervalSec int      `yaml:"min_action_interval_sec" json:"min_action_interval_sec"`
}

// VRFConfig 随机数服务配置
type VRFConfig struct {
	KeyHash        string `yaml:"key_hash" json:"key_hash"`
	SubscriptionID string `yaml:"subscription_id" json:"subscription_id"`
	CallbackGas    uint32 `yaml:"callback_gas" json:"callback_gas"`
	Confirmations  uint16 `yaml:"confirmations" json:"confirmations"`
	NumWords       uint32 `yaml:"num_words" json:"num_words"`
	MinBalance     string `yaml:"min_balance" json:"min_balance"`
}

// PricingConfig 定价配置, 价格均为 1e18 精度
type PricingConfig struct {
	BaselineSlippageBps   int64  `yaml:"baseline_slippage_bps" json:"baseline_slippage_bps"`
	MinSlippageBps        int64  `yaml:"min_slippage_bps" json:"min_slippage_bps"`
	MaxSlippageBps        int64  `yaml:"max_slippage_bps" json:"max_slippage_bps"`
	SuccessStepBps        int64  `yaml:"success_step_bps" json:"success_step_bps"`
	FailureStepBps        int64  `yaml:"failure_step_bps" json:"failure_step_bps"`
	SafetyBufferBps       int64  `yaml:"safety_buffer_bps" json:"safety_buffer_bps"`
	MinPoolPrice          string `yaml:"min_pool_price" json:"min_pool_price"`
	MaxPoolPrice          string `yaml:"max_pool_price" json:"max_pool_price"`
	MinNativeAmount       string `yaml:"min_native_amount" json:"min_native_amount"`
	MaxNativeAmount       string `yaml:"max_native_amount" json:"max_native_amount"`
	PlatformTokenIsToken0 bool   `yaml:"platform_token_is_token0" json:"platform_token_is_token0"`
	FeedStalenessSec      int    `yaml:"feed_staleness_sec" json:"feed_staleness_sec"`
	FallbackFeedPrice     string `yaml:"fallback_feed_price" json:"fallback_feed_price"`
	RateCacheTTLSec       int    `yaml:"rate_cache_ttl_sec" json:"rate_cache_ttl_sec"`
}

// CoinflipConfig 猜硬币配置
type CoinflipConfig struct {
	Enabled     bool   `yaml:"enabled" json:"enabled"`
	MinStake    string `yaml:"min_stake" json:"min_stake"`
	MaxStake    string `yaml:"max_stake" json:"max_stake"`
	HouseFeePct int    `yaml:"house_fee_pct" json:"house_fee_pct"`
	CreationFee string `yaml:"creation_fee" json:"creation_fee"` // 原生币计价
}

// AdminConfig 管理员配置
type AdminConfig struct {
	Principal   string `yaml:"principal" json:"principal"`
	TimelockSec int    `yaml:"timelock_sec" json:"timelock_sec"`
}

// SchedulerConfig 定时任务配置
type SchedulerConfig struct {
	Enabled             bool   `yaml:"enabled" json:"enabled"`
	SweepCron           string `yaml:"sweep_cron" json:"sweep_cron"`
	RateRefreshCron     string `yaml:"rate_refresh_cron" json:"rate_refresh_cron"`
	RandomnessRetryCron string `yaml:"randomness_retry_cron" json:"randomness_retry_cron"`
	FundingCheckCron    string `yaml:"funding_check_cron" json:"funding_check_cron"`
	SettleResumeCron    string `yaml:"settle_resume_cron" json:"settle_resume_cron"`
	JobTimeoutSec       int    `yaml:"job_timeout_sec" json:"job_timeout_sec"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse 解析配置内容
func Parse(data []byte) (*Config, error) {
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	var b strings.Builder
	rest := s
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		name, def, _ := strings.Cut(rest[start+2:end], ":")
		value := os.Getenv(name)
		if value == "" {
			value = def
		}
		b.WriteString(rest[:start])
		b.WriteString(value)
		rest = rest[end+1:]
	}
	return b.String()
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-lottery"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50061
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8091
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "eidos-lottery"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "eidos-lottery"
	}
	if cfg.Kafka.SASL.Mechanism == "" {
		cfg.Kafka.SASL.Mechanism = "SCRAM-SHA-512"
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 31337 // 本地开发
	}
	if cfg.Blockchain.Contracts.PoolFee == 0 {
		cfg.Blockchain.Contracts.PoolFee = 3000
	}

	if cfg.Chain.Role == "" {
		cfg.Chain.Role = RoleMain
	}
	if cfg.Chain.MainChainID == 0 && cfg.Chain.Role == RoleMain {
		cfg.Chain.MainChainID = uint64(cfg.Blockchain.ChainID)
	}
	if cfg.Chain.MessageBaseFee == "" {
		cfg.Chain.MessageBaseFee = "100000000000000" // 0.0001
	}
	if cfg.Chain.MessagePerByteFee == "" {
		cfg.Chain.MessagePerByteFee = "1000000000"
	}
	if cfg.Chain.PendingExpirySec == 0 {
		cfg.Chain.PendingExpirySec = 3600
	}
	if cfg.Chain.RejectPolicy == "" {
		cfg.Chain.RejectPolicy = RejectPolicyRefund
	}
	if cfg.Chain.SweepBatchSize == 0 {
		cfg.Chain.SweepBatchSize = 50
	}

	if cfg.Round.Capacity == 0 {
		cfg.Round.Capacity = 10
	}
	if cfg.Round.EntryFee == "" {
		cfg.Round.EntryFee = "100000000000000000000" // 100 平台代币
	}
	if cfg.Round.WinnersSharePct == 0 && cfg.Round.DevSharePct == 0 && cfg.Round.FundingSharePct == 0 && cfg.Round.BurnSharePct == 0 {
		cfg.Round.WinnersSharePct = 50
		cfg.Round.DevSharePct = 10
		cfg.Round.FundingSharePct = 30
		cfg.Round.BurnSharePct = 10
	}
	if cfg.Round.PointsPerEntry == 0 {
		cfg.Round.PointsPerEntry = 10
	}

	if cfg.VRF.CallbackGas == 0 {
		cfg.VRF.CallbackGas = 500000
	}
	if cfg.VRF.Confirmations == 0 {
		cfg.VRF.Confirmations = 3
	}
	if cfg.VRF.NumWords == 0 {
		cfg.VRF.NumWords = 3
	}
	if cfg.VRF.MinBalance == "" {
		cfg.VRF.MinBalance = "1000000000000000000"
	}

	if cfg.Pricing.BaselineSlippageBps == 0 {
		cfg.Pricing.BaselineSlippageBps = 2500
	}
	if cfg.Pricing.MinSlippageBps == 0 {
		cfg.Pricing.MinSlippageBps = 500
	}
	if cfg.Pricing.MaxSlippageBps == 0 {
		cfg.Pricing.MaxSlippageBps = 5000
	}
	if cfg.Pricing.SuccessStepBps == 0 {
		cfg.Pricing.SuccessStepBps = 50
	}
	if cfg.Pricing.FailureStepBps == 0 {
		cfg.Pricing.FailureStepBps = 200
	}
	if cfg.Pricing.SafetyBufferBps == 0 {
		cfg.Pricing.SafetyBufferBps = 2000
	}
	if cfg.Pricing.MinPoolPrice == "" {
		cfg.Pricing.MinPoolPrice = "1000000000000000000" // 1 token / native
	}
	if cfg.Pricing.MaxPoolPrice == "" {
		cfg.Pricing.MaxPoolPrice = "100000000000000000000000000" // 1e8 token / native
	}
	if cfg.Pricing.MinNativeAmount == "" {
		cfg.Pricing.MinNativeAmount = "1000000000000" // 1e-6 native
	}
	if cfg.Pricing.MaxNativeAmount == "" {
		cfg.Pricing.MaxNativeAmount = "10000000000000000000" // 10 native
	}
	if cfg.Pricing.FeedStalenessSec == 0 {
		cfg.Pricing.FeedStalenessSec = 3600
	}
	if cfg.Pricing.FallbackFeedPrice == "" {
		cfg.Pricing.FallbackFeedPrice = "2000000000000000000000" // 2000 USD
	}
	if cfg.Pricing.RateCacheTTLSec == 0 {
		cfg.Pricing.RateCacheTTLSec = 300
	}

	if cfg.Coinflip.MinStake == "" {
		cfg.Coinflip.MinStake = "1000000000000000000"
	}
	if cfg.Coinflip.MaxStake == "" {
		cfg.Coinflip.MaxStake = "10000000000000000000000"
	}
	if cfg.Coinflip.HouseFeePct == 0 {
		cfg.Coinflip.HouseFeePct = 5
	}
	if cfg.Coinflip.CreationFee == "" {
		cfg.Coinflip.CreationFee = "0"
	}

	if cfg.Admin.TimelockSec == 0 {
		cfg.Admin.TimelockSec = 48 * 3600
	}

	if cfg.Scheduler.SweepCron == "" {
		cfg.Scheduler.SweepCron = "0 */5 * * * *"
	}
	if cfg.Scheduler.RateRefreshCron == "" {
		cfg.Scheduler.RateRefreshCron = "0 * * * * *"
	}
	if cfg.Scheduler.RandomnessRetryCron == "" {
		cfg.Scheduler.RandomnessRetryCron = "*/30 * * * * *"
	}
	if cfg.Scheduler.FundingCheckCron == "" {
		cfg.Scheduler.FundingCheckCron = "0 */10 * * * *"
	}
	if cfg.Scheduler.SettleResumeCron == "" {
		cfg.Scheduler.SettleResumeCron = "0 * * * * *"
	}
	if cfg.Scheduler.JobTimeoutSec == 0 {
		cfg.Scheduler.JobTimeoutSec = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

// UnpaidShares 比例大于 0 但没有收款地址的份额, 这些份额结算时计入留存余数
func (r *RoundConfig) UnpaidShares() []string {
	var unpaid []string
	if r.DevSharePct > 0 && r.DevAddress == "" {
		unpaid = append(unpaid, "dev")
	}
	if r.FundingSharePct > 0 && len(r.FundingAddresses) == 0 {
		unpaid = append(unpaid, "funding")
	}
	if r.BurnSharePct > 0 && r.BurnAddress == "" {
		unpaid = append(unpaid, "burn")
	}
	return unpaid
}

// Validate 校验配置
func (c *Config) Validate() error {
	r := c.Round
	if r.WinnersSharePct < 0 || r.DevSharePct < 0 || r.FundingSharePct < 0 || r.BurnSharePct < 0 {
		return fmt.Errorf("round shares must be non-negative")
	}
	if sum := r.WinnersSharePct + r.DevSharePct + r.FundingSharePct + r.BurnSharePct; sum > 100 {
		return fmt.Errorf("round shares sum to %d%%, must be <= 100%%", sum)
	}
	if r.Capacity < 1 {
		return fmt.Errorf("round capacity must be positive")
	}
	for key, addr := range map[string]string{
		"round.dev_address":        r.DevAddress,
		"round.burn_address":       r.BurnAddress,
		"round.fallback_recipient": r.FallbackRecipient,
	} {
		if addr != "" && !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid address %q", key, addr)
		}
	}
	for _, addr := range r.FundingAddresses {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("round.funding_addresses: invalid address %q", addr)
		}
	}

	p := c.Pricing
	if p.MinSlippageBps > p.MaxSlippageBps {
		return fmt.Errorf("min_slippage_bps %d exceeds max_slippage_bps %d", p.MinSlippageBps, p.MaxSlippageBps)
	}
	if p.BaselineSlippageBps < p.MinSlippageBps || p.BaselineSlippageBps > p.MaxSlippageBps {
		return fmt.Errorf("baseline_slippage_bps %d outside [%d, %d]", p.BaselineSlippageBps, p.MinSlippageBps, p.MaxSlippageBps)
	}

	switch c.Chain.Role {
	case RoleMain, RoleSatellite:
	default:
		return fmt.Errorf("unknown chain role %q", c.Chain.Role)
	}
	if c.Chain.Role == RoleSatellite && c.Chain.MainChainID == 0 {
		return fmt.Errorf("satellite deployment requires main_chain_id")
	}
	switch c.Chain.RejectPolicy {
	case RejectPolicyRefund, RejectPolicyForfeit:
	default:
		return fmt.Errorf("unknown reject_policy %q", c.Chain.RejectPolicy)
	}

	amounts := map[string]string{
		"round.entry_fee":             r.EntryFee,
		"chain.message_base_fee":      c.Chain.MessageBaseFee,
		"chain.message_per_byte_fee":  c.Chain.MessagePerByteFee,
		"vrf.min_balance":             c.VRF.MinBalance,
		"pricing.min_pool_price":      p.MinPoolPrice,
		"pricing.max_pool_price":      p.MaxPoolPrice,
		"pricing.min_native_amount":   p.MinNativeAmount,
		"pricing.max_native_amount":   p.MaxNativeAmount,
		"pricing.fallback_feed_price": p.FallbackFeedPrice,
		"coinflip.min_stake":          c.Coinflip.MinStake,
		"coinflip.max_stake":          c.Coinflip.MaxStake,
		"coinflip.creation_fee":       c.Coinflip.CreationFee,
	}
	for key, v := range amounts {
		if _, err := ParseAmount(v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// ParseAmount 解析十进制整数金额 (最小单位)
func ParseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %q", s)
	}
	return v, nil
}

// Amount 解析已校验的金额, 非法值返回 0
func Amount(s string) *big.Int {
	v, err := ParseAmount(s)
	if err != nil {
		return new(big.Int)
	}
	return v
}

// ResolvePath 确定配置文件路径
// 优先级: 命令行参数 > CONFIG_PATH > ./config/config.yaml > 可执行文件目录
func ResolvePath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigFile); err == nil {
		return defaultConfigFile
	}
	if exe, err := os.Executable(); err == nil {
		path := filepath.Join(filepath.Dir(exe), defaultConfigFile)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return defaultConfigFile
}

const defaultConfigFile = "config/config.yaml"
