package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	xerrors "CrabDAO-Agent/internal/errors"
	"CrabDAO-Agent/internal/web3"

	"github.com/spf13/viper"
)

// EnvPrefix 是所有环境变量覆盖项的前缀，例如 CRABDAO_AGENT_MAX_TX_PER_DAY。
const EnvPrefix = "CRABDAO"

// Config 描述了 CrabDAO 代理在启动阶段需要加载的全部配置。
type Config struct {
	Agent   AgentConfig   `mapstructure:"agent"`
	Chain   ChainConfig   `mapstructure:"chain"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Social  SocialConfig  `mapstructure:"social"`
	Storage StorageConfig `mapstructure:"storage"`
	Events  EventsConfig  `mapstructure:"events"`
	Alerts  AlertsConfig  `mapstructure:"alerts"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
}

// AgentConfig 控制决策周期、配额和提及处理。
type AgentConfig struct {
	Name             string        `mapstructure:"name"`
	IntervalMinutes  int           `mapstructure:"interval_minutes"`
	MaxTxPerDay      int           `mapstructure:"max_tx_per_day"`
	MaxEthPerTx      string        `mapstructure:"max_eth_per_tx"`
	MentionLimit     int           `mapstructure:"mention_limit"`
	MentionPause     time.Duration `mapstructure:"mention_pause"`
	DedupThreshold   int           `mapstructure:"dedup_threshold"`
	MinDeployBalance string        `mapstructure:"min_deploy_balance"`
	AnnounceStartup  bool          `mapstructure:"announce_startup"`
	PersistQuota     bool          `mapstructure:"persist_quota"`
}

// Interval 返回两次决策周期之间的间隔。
func (a AgentConfig) Interval() time.Duration {
	return time.Duration(a.IntervalMinutes) * time.Minute
}

// ChainConfig 包含访问 Base 网络和部署合约所需的信息。
type ChainConfig struct {
	ChainConfig    string        `mapstructure:"chain_config"`
	DefaultChain   string        `mapstructure:"default_chain"`
	RPCURL         string        `mapstructure:"rpc_url"`
	UseTestnet     bool          `mapstructure:"use_testnet"`
	ExplorerURL    string        `mapstructure:"explorer_url"`
	PrivateKey     string        `mapstructure:"private_key"`
	PrivateKeyEnv  string        `mapstructure:"private_key_env"`
	ERC20Artifact  string        `mapstructure:"erc20_artifact"`
	ERC721Artifact string        `mapstructure:"erc721_artifact"`
	TokenSupply    string        `mapstructure:"token_supply"`
	ReceiptTimeout time.Duration `mapstructure:"receipt_timeout"`
}

// LLMConfig 用于配置主推理服务与可选的 OpenMind 次级服务。
type LLMConfig struct {
	OpenAI   ProviderConfig `mapstructure:"openai"`
	OpenMind ProviderConfig `mapstructure:"openmind"`
}

// ProviderConfig 描述一个 OpenAI 兼容的推理端点。
type ProviderConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	APIKeyEnv   string        `mapstructure:"api_key_env"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float32       `mapstructure:"temperature"`
	Features    []string      `mapstructure:"features"`
}

// Enabled 表示该端点是否配置了凭证。
func (p ProviderConfig) Enabled() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// SocialConfig 描述 Farcaster（Neynar）访问参数。
type SocialConfig struct {
	Neynar NeynarConfig `mapstructure:"neynar"`
}

// NeynarConfig 包含 Neynar API 的凭证与限流设置。
type NeynarConfig struct {
	APIKey        string        `mapstructure:"api_key"`
	APIKeyEnv     string        `mapstructure:"api_key_env"`
	SignerUUID    string        `mapstructure:"signer_uuid"`
	SignerUUIDEnv string        `mapstructure:"signer_uuid_env"`
	FID           int64         `mapstructure:"fid"`
	BaseURL       string        `mapstructure:"base_url"`
	Timeout       time.Duration `mapstructure:"timeout"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
}

// StorageConfig 统一描述状态持久化后端。
type StorageConfig struct {
	State StateStoreConfig `mapstructure:"state"`
}

// StateStoreConfig 支持 file、mysql 与 redis 三种驱动。
type StateStoreConfig struct {
	Driver        string `mapstructure:"driver"`
	Path          string `mapstructure:"path"`
	DSN           string `mapstructure:"dsn"`
	RedisAddress  string `mapstructure:"redis_address"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisKey      string `mapstructure:"redis_key"`
}

// EventsConfig 控制活动事件的发布方式。
type EventsConfig struct {
	Driver  string `mapstructure:"driver"`
	URL     string `mapstructure:"url"`
	Queue   string `mapstructure:"queue"`
	Durable bool   `mapstructure:"durable"`
}

// AlertsConfig 控制告警通知。webhook_url 留空时只写审计日志。
type AlertsConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	WebhookURL string        `mapstructure:"webhook_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// ServerConfig 控制状态 API 的监听地址，留空表示不启动。
type ServerConfig struct {
	Address     string `mapstructure:"address"`
	APIToken    string `mapstructure:"api_token"`
	APITokenEnv string `mapstructure:"api_token_env"`
}

// LoggingConfig 对应 pkg/logger 的配置。
type LoggingConfig struct {
	Level   string      `mapstructure:"level"`
	Format  string      `mapstructure:"format"`
	Outputs []string    `mapstructure:"outputs"`
	Audit   AuditConfig `mapstructure:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// Load 解析配置文件并叠加环境变量。path 为空时依次尝试 CRABDAO_CONFIG 与
// configs/crabdao.yaml，二者都不存在时仅使用默认值和环境变量。
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path = resolvePath(path)
	baseDir := "."
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
		}
		baseDir = filepath.Dir(path)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
	}
	cfg.applyDefaults(baseDir)
	return &cfg, nil
}

func resolvePath(path string) string {
	if path = strings.TrimSpace(path); path != "" {
		return path
	}
	if env := strings.TrimSpace(os.Getenv(EnvPrefix + "_CONFIG")); env != "" {
		return env
	}
	const fallback = "configs/crabdao.yaml"
	if _, err := os.Stat(fallback); err == nil {
		return fallback
	}
	return ""
}

// SetDefaults 注册全部配置键的默认值。viper 只会为已知键读取环境变量，
// 因此没有默认值的键也以零值登记。
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.name", "CrabDAO Agent")
	v.SetDefault("agent.interval_minutes", 30)
	v.SetDefault("agent.max_tx_per_day", 10)
	v.SetDefault("agent.max_eth_per_tx", "0.001")
	v.SetDefault("agent.mention_limit", 20)
	v.SetDefault("agent.mention_pause", "2s")
	v.SetDefault("agent.dedup_threshold", 1000)
	v.SetDefault("agent.min_deploy_balance", "0.001")
	v.SetDefault("agent.announce_startup", true)
	v.SetDefault("agent.persist_quota", true)

	v.SetDefault("chain.chain_config", "")
	v.SetDefault("chain.default_chain", "")
	v.SetDefault("chain.rpc_url", "")
	v.SetDefault("chain.use_testnet", false)
	v.SetDefault("chain.explorer_url", "")
	v.SetDefault("chain.private_key", "")
	v.SetDefault("chain.private_key_env", "PRIVATE_KEY")
	v.SetDefault("chain.erc20_artifact", "")
	v.SetDefault("chain.erc721_artifact", "")
	v.SetDefault("chain.token_supply", "1000000")
	v.SetDefault("chain.receipt_timeout", "3m")

	v.SetDefault("llm.openai.api_key", "")
	v.SetDefault("llm.openai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("llm.openai.base_url", "")
	v.SetDefault("llm.openai.model", "gpt-4-turbo-preview")
	v.SetDefault("llm.openai.timeout", "60s")
	v.SetDefault("llm.openai.temperature", 0.8)
	v.SetDefault("llm.openmind.api_key", "")
	v.SetDefault("llm.openmind.api_key_env", "OPENMIND_API_KEY")
	v.SetDefault("llm.openmind.base_url", "https://api.openmind.network/v1")
	v.SetDefault("llm.openmind.model", "openmind-1")
	v.SetDefault("llm.openmind.timeout", "60s")
	v.SetDefault("llm.openmind.temperature", 0.8)
	v.SetDefault("llm.openmind.features", []string{})

	v.SetDefault("social.neynar.api_key", "")
	v.SetDefault("social.neynar.api_key_env", "NEYNAR_API_KEY")
	v.SetDefault("social.neynar.signer_uuid", "")
	v.SetDefault("social.neynar.signer_uuid_env", "FARCASTER_SIGNER_UUID")
	v.SetDefault("social.neynar.fid", 0)
	v.SetDefault("social.neynar.base_url", "https://api.neynar.com/v2")
	v.SetDefault("social.neynar.timeout", "30s")
	v.SetDefault("social.neynar.rate_per_second", 5)
	v.SetDefault("social.neynar.burst", 5)

	v.SetDefault("storage.state.driver", "file")
	v.SetDefault("storage.state.path", "")
	v.SetDefault("storage.state.dsn", "")
	v.SetDefault("storage.state.redis_address", "127.0.0.1:6379")
	v.SetDefault("storage.state.redis_password", "")
	v.SetDefault("storage.state.redis_db", 0)
	v.SetDefault("storage.state.redis_key", "crabdao:agent-state")

	v.SetDefault("events.driver", "none")
	v.SetDefault("events.url", "")
	v.SetDefault("events.queue", "crabdao.activity")
	v.SetDefault("events.durable", true)

	v.SetDefault("alerts.enabled", true)
	v.SetDefault("alerts.webhook_url", "")
	v.SetDefault("alerts.timeout", "10s")

	v.SetDefault("server.address", "")
	v.SetDefault("server.api_token", "")
	v.SetDefault("server.api_token_env", "CRABDAO_API_TOKEN")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputs", []string{"stdout"})
	v.SetDefault("logging.audit.enabled", false)
	v.SetDefault("logging.audit.path", "")
	v.SetDefault("logging.audit.max_size_mb", 100)
	v.SetDefault("logging.audit.max_backups", 7)
	v.SetDefault("logging.audit.max_age_days", 30)
	v.SetDefault("logging.audit.compress", false)

	v.SetDefault("runtime.data_dir", "")
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，并解析以环境变量名
// 引用的密钥。
func (c *Config) applyDefaults(baseDir string) {
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Storage.State.Driver == "" {
		c.Storage.State.Driver = "file"
	}
	c.Storage.State.Driver = strings.ToLower(c.Storage.State.Driver)
	if c.Storage.State.Path == "" {
		c.Storage.State.Path = filepath.Join(c.Runtime.DataDir, "agent-state.json")
	} else if !filepath.IsAbs(c.Storage.State.Path) {
		c.Storage.State.Path = filepath.Join(baseDir, c.Storage.State.Path)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit", "actions.log")
	}

	c.Chain.ChainConfig = resolveRelative(baseDir, c.Chain.ChainConfig)
	c.Chain.ERC20Artifact = resolveRelative(baseDir, c.Chain.ERC20Artifact)
	c.Chain.ERC721Artifact = resolveRelative(baseDir, c.Chain.ERC721Artifact)

	c.Chain.PrivateKey = resolveSecret(c.Chain.PrivateKey, c.Chain.PrivateKeyEnv)
	c.LLM.OpenAI.APIKey = resolveSecret(c.LLM.OpenAI.APIKey, c.LLM.OpenAI.APIKeyEnv)
	c.LLM.OpenMind.APIKey = resolveSecret(c.LLM.OpenMind.APIKey, c.LLM.OpenMind.APIKeyEnv)
	c.Social.Neynar.APIKey = resolveSecret(c.Social.Neynar.APIKey, c.Social.Neynar.APIKeyEnv)
	c.Social.Neynar.SignerUUID = resolveSecret(c.Social.Neynar.SignerUUID, c.Social.Neynar.SignerUUIDEnv)
	c.Server.APIToken = resolveSecret(c.Server.APIToken, c.Server.APITokenEnv)
}

func resolveRelative(baseDir, path string) string {
	path = strings.TrimSpace(path)
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

func resolveSecret(value, envName string) string {
	if value = strings.TrimSpace(value); value != "" {
		return value
	}
	if envName = strings.TrimSpace(envName); envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}

// Validate 检查必需的凭证与数值范围，所有问题会合并成一个致命错误返回。
func (c *Config) Validate() error {
	var problems []error
	missing := func(name, env string) {
		if env != "" {
			problems = append(problems, fmt.Errorf("缺少 %s（环境变量 %s）", name, env))
			return
		}
		problems = append(problems, fmt.Errorf("缺少 %s", name))
	}

	if c.Chain.PrivateKey == "" {
		missing("钱包私钥", c.Chain.PrivateKeyEnv)
	}
	if !c.LLM.OpenAI.Enabled() {
		missing("OpenAI API Key", c.LLM.OpenAI.APIKeyEnv)
	}
	if c.Social.Neynar.APIKey == "" {
		missing("Neynar API Key", c.Social.Neynar.APIKeyEnv)
	}
	if c.Social.Neynar.SignerUUID == "" {
		missing("Farcaster signer UUID", c.Social.Neynar.SignerUUIDEnv)
	}
	if c.Social.Neynar.FID < 0 {
		problems = append(problems, errors.New("social.neynar.fid 不能为负数"))
	}

	if c.Agent.IntervalMinutes <= 0 {
		problems = append(problems, errors.New("agent.interval_minutes 必须大于 0"))
	}
	if c.Agent.MaxTxPerDay < 0 {
		problems = append(problems, errors.New("agent.max_tx_per_day 不能为负数"))
	}
	if c.Agent.MentionLimit <= 0 {
		problems = append(problems, errors.New("agent.mention_limit 必须大于 0"))
	}
	if _, err := web3.ParseEther(c.Agent.MaxEthPerTx); err != nil {
		problems = append(problems, fmt.Errorf("agent.max_eth_per_tx 无效: %w", err))
	}
	if _, err := web3.ParseEther(c.Agent.MinDeployBalance); err != nil {
		problems = append(problems, fmt.Errorf("agent.min_deploy_balance 无效: %w", err))
	}

	switch c.Storage.State.Driver {
	case "file":
	case "mysql":
		if strings.TrimSpace(c.Storage.State.DSN) == "" {
			problems = append(problems, errors.New("mysql 状态存储需要配置 storage.state.dsn"))
		}
	case "redis":
		if strings.TrimSpace(c.Storage.State.RedisAddress) == "" {
			problems = append(problems, errors.New("redis 状态存储需要配置 storage.state.redis_address"))
		}
	default:
		problems = append(problems, fmt.Errorf("不支持的状态存储驱动 %q", c.Storage.State.Driver))
	}

	switch strings.ToLower(c.Events.Driver) {
	case "", "none":
	case "rabbitmq":
		if strings.TrimSpace(c.Events.URL) == "" {
			problems = append(problems, errors.New("rabbitmq 事件发布需要配置 events.url"))
		}
	default:
		problems = append(problems, fmt.Errorf("不支持的事件驱动 %q", c.Events.Driver))
	}

	if hook := strings.TrimSpace(c.Alerts.WebhookURL); hook != "" {
		if u, err := url.Parse(hook); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			problems = append(problems, fmt.Errorf("alerts.webhook_url 无效: %q", hook))
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return xerrors.Wrap(xerrors.CodeConfigInvalid, errors.Join(problems...), "配置校验失败")
}
