package luckydraw

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"
)

// Config 完整配置结构
type Config struct {
	// 抽奖引擎配置
	Engine *EngineConfig `mapstructure:"engine"`

	// 存储配置
	Storage *StorageConfig `mapstructure:"storage"`

	// Redis 配置
	Redis *RedisConfig `mapstructure:"redis"`

	// 熔断器配置
	CircuitBreaker *CircuitBreakerConfig `mapstructure:"circuit_breaker"`

	// HTTP 配置
	HTTP *HTTPConfig `mapstructure:"http"`
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Engine == nil {
		return ErrConfigInvalid.WithDetails("engine section is required")
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}

	if c.Storage != nil {
		switch c.Storage.Driver {
		case StorageDriverMemory, StorageDriverRedis, StorageDriverSQLite:
		default:
			return ErrConfigInvalid.WithDetails(fmt.Sprintf("unknown storage driver %q", c.Storage.Driver))
		}
		if c.Storage.Driver == StorageDriverSQLite && c.Storage.SQLiteDSN == "" {
			return ErrConfigInvalid.WithDetails("storage.sqlite_dsn is required for the sqlite driver")
		}
	}

	if c.Redis != nil && c.Storage != nil && c.Storage.Driver == StorageDriverRedis {
		if c.Redis.Addr == "" {
			return ErrConfigInvalid.WithDetails("redis address is required")
		}
		if c.Redis.PoolSize <= 0 {
			return ErrConfigInvalid.WithDetails("redis pool size must be positive")
		}
	}

	if c.CircuitBreaker != nil && c.CircuitBreaker.Enabled {
		if c.CircuitBreaker.FailureRatio <= 0 || c.CircuitBreaker.FailureRatio > 1 {
			return ErrConfigInvalid.WithDetails("circuit_breaker.failure_ratio must be in (0, 1]")
		}
	}

	return nil
}

// EngineConfig 抽奖引擎配置
type EngineConfig struct {
	LockWaitTimeout      time.Duration `mapstructure:"lock_wait_timeout"`
	LockExpiration       time.Duration `mapstructure:"lock_expiration"`
	RetryAttempts        int           `mapstructure:"retry_attempts"`
	RetryInterval        time.Duration `mapstructure:"retry_interval"`
	MaxDrawCount         int           `mapstructure:"max_draw_count"`
	SerializeUserBatches bool          `mapstructure:"serialize_user_batches"`
}

// DefaultEngineConfig 返回默认引擎配置
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		LockWaitTimeout:      DefaultLockWaitTimeout,
		LockExpiration:       DefaultLockExpiration,
		RetryAttempts:        DefaultRetryAttempts,
		RetryInterval:        DefaultRetryInterval,
		MaxDrawCount:         DefaultMaxDrawCount,
		SerializeUserBatches: true,
	}
}

// Validate validates the engine configuration
func (ec *EngineConfig) Validate() error {
	if ec.LockWaitTimeout < MinLockWaitTimeout || ec.LockWaitTimeout > MaxLockWaitTimeout {
		return ErrInvalidLockWaitTimeout
	}
	if ec.RetryAttempts < 0 || ec.RetryAttempts > MaxRetryAttempts {
		return ErrInvalidRetryAttempts
	}
	if ec.RetryInterval < 0 {
		return ErrInvalidRetryInterval
	}
	if ec.MaxDrawCount < 1 || ec.MaxDrawCount > MaxDrawCountLimit {
		return ErrInvalidMaxDrawCount
	}
	return nil
}

// StorageConfig 存储配置
type StorageConfig struct {
	Driver    string `mapstructure:"driver"`
	SQLiteDSN string `mapstructure:"sqlite_dsn"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接配置
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	// 连接池配置
	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
	MaxRetries   int `mapstructure:"max_retries"`

	// 超时配置
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolTimeout  time.Duration `mapstructure:"pool_timeout"`
}

// DefaultRedisConfig 返回默认的Redis配置
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         DefaultRedisAddr,
		Password:     DefaultRedisPassword,
		DB:           DefaultRedisDB,
		PoolSize:     DefaultRedisPoolSize,
		MinIdleConns: DefaultRedisMinIdleConns,
		MaxRetries:   DefaultRedisMaxRetries,
		DialTimeout:  DefaultRedisDialTimeout,
		ReadTimeout:  DefaultRedisReadTimeout,
		WriteTimeout: DefaultRedisWriteTimeout,
		PoolTimeout:  DefaultRedisPoolTimeout,
	}
}

// NewRedisClientFromConfig 从配置创建Redis客户端
func NewRedisClientFromConfig(config *RedisConfig) *redis.Client {
	if config == nil {
		config = DefaultRedisConfig()
	}

	return redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		MaxRetries:   config.MaxRetries,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		PoolTimeout:  config.PoolTimeout,
	})
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Name          string        `mapstructure:"name"`
	MaxRequests   uint32        `mapstructure:"max_requests"`
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	FailureRatio  float64       `mapstructure:"failure_ratio"`
	MinRequests   uint32        `mapstructure:"min_requests"`
	OnStateChange bool          `mapstructure:"on_state_change"`
}

// DefaultCircuitBreakerConfig 返回默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Enabled:       true,
		Name:          DefaultCircuitBreakerName,
		MaxRequests:   DefaultCircuitBreakerMaxRequests,
		Interval:      DefaultCircuitBreakerInterval,
		Timeout:       DefaultCircuitBreakerTimeout,
		FailureRatio:  DefaultCircuitBreakerFailureRatio,
		MinRequests:   DefaultCircuitBreakerMinRequests,
		OnStateChange: true,
	}
}

// HTTPConfig HTTP 服务配置
type HTTPConfig struct {
	Addr      string `mapstructure:"addr"`
	JWTSecret string `mapstructure:"jwt_secret"`
	Mode      string `mapstructure:"mode"`
}

// DefaultConfig 返回全部默认配置
func DefaultConfig() *Config {
	return &Config{
		Engine:         DefaultEngineConfig(),
		Storage:        &StorageConfig{Driver: StorageDriverMemory, SQLiteDSN: DefaultSQLiteDSN},
		Redis:          DefaultRedisConfig(),
		CircuitBreaker: DefaultCircuitBreakerConfig(),
		HTTP:           &HTTPConfig{Addr: DefaultHTTPAddr, Mode: "release"},
	}
}

// ================================================================================

// ConfigManager 配置管理器
type ConfigManager struct {
	mu     sync.RWMutex
	viper  *viper.Viper
	config *Config
}

// NewConfigManager 创建配置管理器
func NewConfigManager() *ConfigManager {
	v := viper.New()

	// 设置配置文件名和路径
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/luckydraw")
	v.AddConfigPath("$HOME/.luckydraw")

	// 设置环境变量前缀, 例如 LUCKYDRAW_ENGINE_MAX_DRAW_COUNT
	v.SetEnvPrefix("LUCKYDRAW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cm := &ConfigManager{viper: v}
	cm.setDefaults()
	return cm
}

// NewDefaultConfigManager 创建使用默认配置的配置管理器, 不读取文件
func NewDefaultConfigManager() *ConfigManager {
	cm := NewConfigManager()
	cm.config = DefaultConfig()
	return cm
}

// NewConfigManagerFromConfig 从已有配置创建配置管理器
func NewConfigManagerFromConfig(config *Config) (*ConfigManager, error) {
	if config == nil {
		return nil, ErrConfigInvalid.WithDetails("config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	cm := NewConfigManager()
	cm.config = config
	return cm, nil
}

// SetConfigFile 指定配置文件路径
func (cm *ConfigManager) SetConfigFile(path string) { cm.viper.SetConfigFile(path) }

// LoadConfig 加载配置
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	// 读取配置文件
	if err := cm.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// 配置文件不存在时使用默认值和环境变量
	}

	config, err := cm.unmarshal()
	if err != nil {
		return nil, err
	}

	cm.mu.Lock()
	cm.config = config
	cm.mu.Unlock()
	return config, nil
}

func (cm *ConfigManager) unmarshal() (*Config, error) {
	config := &Config{}
	if err := cm.viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// setDefaults 设置默认配置值
func (cm *ConfigManager) setDefaults() {
	// 抽奖引擎默认配置
	cm.viper.SetDefault("engine.lock_wait_timeout", DefaultLockWaitTimeout.String())
	cm.viper.SetDefault("engine.lock_expiration", DefaultLockExpiration.String())
	cm.viper.SetDefault("engine.retry_attempts", DefaultRetryAttempts)
	cm.viper.SetDefault("engine.retry_interval", DefaultRetryInterval.String())
	cm.viper.SetDefault("engine.max_draw_count", DefaultMaxDrawCount)
	cm.viper.SetDefault("engine.serialize_user_batches", true)

	// 存储默认配置
	cm.viper.SetDefault("storage.driver", StorageDriverMemory)
	cm.viper.SetDefault("storage.sqlite_dsn", DefaultSQLiteDSN)

	// Redis 默认配置
	cm.viper.SetDefault("redis.addr", DefaultRedisAddr)
	cm.viper.SetDefault("redis.password", DefaultRedisPassword)
	cm.viper.SetDefault("redis.db", DefaultRedisDB)
	cm.viper.SetDefault("redis.pool_size", DefaultRedisPoolSize)
	cm.viper.SetDefault("redis.min_idle_conns", DefaultRedisMinIdleConns)
	cm.viper.SetDefault("redis.max_retries", DefaultRedisMaxRetries)
	cm.viper.SetDefault("redis.dial_timeout", DefaultRedisDialTimeout.String())
	cm.viper.SetDefault("redis.read_timeout", DefaultRedisReadTimeout.String())
	cm.viper.SetDefault("redis.write_timeout", DefaultRedisWriteTimeout.String())
	cm.viper.SetDefault("redis.pool_timeout", DefaultRedisPoolTimeout.String())

	// 熔断器默认配置
	cm.viper.SetDefault("circuit_breaker.enabled", true)
	cm.viper.SetDefault("circuit_breaker.name", DefaultCircuitBreakerName)
	cm.viper.SetDefault("circuit_breaker.max_requests", DefaultCircuitBreakerMaxRequests)
	cm.viper.SetDefault("circuit_breaker.interval", DefaultCircuitBreakerInterval.String())
	cm.viper.SetDefault("circuit_breaker.timeout", DefaultCircuitBreakerTimeout.String())
	cm.viper.SetDefault("circuit_breaker.failure_ratio", DefaultCircuitBreakerFailureRatio)
	cm.viper.SetDefault("circuit_breaker.min_requests", DefaultCircuitBreakerMinRequests)
	cm.viper.SetDefault("circuit_breaker.on_state_change", true)

	// HTTP 默认配置
	cm.viper.SetDefault("http.addr", DefaultHTTPAddr)
	cm.viper.SetDefault("http.jwt_secret", "")
	cm.viper.SetDefault("http.mode", "release")
}

// WatchConfig 监听配置变化; 无效的新配置被丢弃, 继续使用旧配置
func (cm *ConfigManager) WatchConfig(logger Logger, callback func(*Config)) {
	if logger == nil {
		logger = NewSilentLogger()
	}

	cm.viper.OnConfigChange(func(e fsnotify.Event) {
		logger.Info("Config file changed: %s (%s)", e.Name, e.Op)

		config, err := cm.unmarshal()
		if err != nil {
			logger.Error("Config reload rejected: %v", err)
			return
		}

		cm.mu.Lock()
		cm.config = config
		cm.mu.Unlock()

		if callback != nil {
			callback(config)
		}
	})
	cm.viper.WatchConfig()
}

// GetConfig 获取当前配置
func (cm *ConfigManager) GetConfig() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// ReloadConfig 重新加载配置
func (cm *ConfigManager) ReloadConfig() (*Config, error) { return cm.LoadConfig() }

func (cm *ConfigManager) setConfig(config *Config) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.config = config
}
