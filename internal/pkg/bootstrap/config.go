// internal/pkg/bootstrap/config.go
package bootstrap

import (
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"flashmart/internal/pkg/logger"
)

// Config 是所有服务共享的配置结构，从 YAML 文件加载。
type Config struct {
	App struct {
		FeatureFlags struct {
			// EnableCouponClaim 控制 /claim_coupon 入口是否开放（秒杀开关）
			EnableCouponClaim bool `yaml:"enableCouponClaim"`
		} `yaml:"featureFlags"`
	} `yaml:"app"`

	Infra struct {
		Jaeger struct {
			Endpoint string `yaml:"endpoint"`
			// SamplerRatio 为 1 时全采，(0,1) 时按 TraceID 比例采样
			SamplerRatio float64 `yaml:"samplerRatio"`
		} `yaml:"jaeger"`
		Kafka struct {
			Brokers           []string `yaml:"brokers"`
			NotificationTopic string   `yaml:"notificationTopic"`
		} `yaml:"kafka"`
		Mysql struct {
			Enabled bool   `yaml:"enabled"`
			DSN     string `yaml:"dsn"`
		} `yaml:"mysql"`
		Redis struct {
			Addr string `yaml:"addr"`
		} `yaml:"redis"`
		Zookeeper struct {
			Addrs []string `yaml:"addrs"`
		} `yaml:"zookeeper"`
		Nacos struct {
			Enabled     bool   `yaml:"enabled"`
			ServerAddrs string `yaml:"serverAddrs"`
			Namespace   string `yaml:"namespace"`
			Group       string `yaml:"group"`
		} `yaml:"nacos"`
	} `yaml:"infra"`

	Order struct {
		// CouponLock 选择优惠券发放的串行化实现: local | redis | zookeeper
		CouponLock string `yaml:"couponLock"`
		Outbox     struct {
			PollInterval time.Duration `yaml:"pollInterval"`
			BatchSize    int           `yaml:"batchSize"`
			MaxRetries   int           `yaml:"maxRetries"`
			Concurrency  int           `yaml:"concurrency"`
		} `yaml:"outbox"`
	} `yaml:"order"`
}

var (
	currentConfig *Config
	configOnce    sync.Once
)

func defaultConfig() *Config {
	cfg := &Config{}
	cfg.Infra.Jaeger.Endpoint = getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces")
	cfg.Infra.Jaeger.SamplerRatio = 1
	cfg.Infra.Kafka.Brokers = []string{getEnv("KAFKA_BROKERS", "localhost:9092")}
	cfg.Infra.Kafka.NotificationTopic = "order-notifications"
	cfg.Infra.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Infra.Nacos.ServerAddrs = getEnv("NACOS_SERVER_ADDRS", "localhost:8848")
	cfg.Infra.Nacos.Namespace = getEnv("NACOS_NAMESPACE", "")
	cfg.Infra.Nacos.Group = getEnv("NACOS_GROUP", "DEFAULT_GROUP")
	cfg.App.FeatureFlags.EnableCouponClaim = true
	cfg.Order.CouponLock = "local"
	cfg.Order.Outbox.PollInterval = 500 * time.Millisecond
	cfg.Order.Outbox.BatchSize = 50
	cfg.Order.Outbox.MaxRetries = 5
	cfg.Order.Outbox.Concurrency = 8
	return cfg
}

// Init 加载配置。路径来自 CONFIG_PATH 环境变量；
// 文件不存在时使用默认值，保证本地开发开箱即用。
func Init() {
	configOnce.Do(func() {
		cfg := defaultConfig()
		path := os.Getenv("CONFIG_PATH")
		if path != "" {
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Logger().Fatal().Err(err).Str("path", path).Msg("failed to read config file")
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				logger.Logger().Fatal().Err(err).Str("path", path).Msg("failed to parse config file")
			}
			logger.Logger().Info().Str("path", path).Msg("config loaded")
		}
		currentConfig = cfg
	})
}

// GetCurrentConfig 返回进程配置，必须先调用 Init。
func GetCurrentConfig() *Config {
	if currentConfig == nil {
		Init()
	}
	return currentConfig
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
