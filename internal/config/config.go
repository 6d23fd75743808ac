// Package config 加载 pipeline-worker 的配置
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/elie-6/AI-Email-Parsing-API/internal/classifier"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/circuitbreaker"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/config"
	"github.com/elie-6/AI-Email-Parsing-API/pkg/logger"
)

// 存储驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type StorageConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type GoogleConfig struct {
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Timeout      time.Duration `yaml:"timeout"`
	// Endpoint 覆盖 Gmail API 地址，留空使用默认
	Endpoint string                `yaml:"endpoint"`
	Breaker  circuitbreaker.Config `yaml:"breaker"`
}

type SMTPConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	From           string        `yaml:"from"`
	FromName       string        `yaml:"from_name"`
	TLS            string        `yaml:"tls"` // none, starttls, tls
	Timeout        time.Duration `yaml:"timeout"`
	SendRatePerSec float64       `yaml:"send_rate_per_sec"`
}

type PipelineConfig struct {
	FetchLimit       int           `yaml:"fetch_limit"`
	BatchSize        int           `yaml:"batch_size"`
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	ScheduleInterval time.Duration `yaml:"schedule_interval"`
	ClassifyLockTTL  time.Duration `yaml:"classify_lock_ttl"`
	StaleAfter       time.Duration `yaml:"stale_after"`
}

type Config struct {
	DB         config.DBConfig     `yaml:"db"`
	MQ         config.MQConfig     `yaml:"mq"`
	Redis      config.RedisConfig  `yaml:"redis"`
	Server     config.ServerConfig `yaml:"server"`
	Log        logger.Config       `yaml:"log"`
	Storage    StorageConfig       `yaml:"storage"`
	Google     GoogleConfig        `yaml:"google"`
	Classifier classifier.Config   `yaml:"classifier"`
	SMTP       SMTPConfig          `yaml:"smtp"`
	Pipeline   PipelineConfig      `yaml:"pipeline"`
}

// Load 从 CONFIG_DIR（默认 config）按 CONFIG_ENV 加载，失败直接退出
func Load() *Config {
	cfg, err := LoadFrom(config.GetConfigEnv(), config.GetEnv("CONFIG_DIR", "config"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// LoadFrom 合并配置文件、应用环境变量覆盖并填充默认值
func LoadFrom(env, dir string) (*Config, error) {
	cfgMap, err := config.LoadConfig(env, dir)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := config.Decode(cfgMap, &cfg); err != nil {
		return nil, err
	}

	// 环境变量覆盖（优先级最高）
	config.OverrideDBFromEnv(&cfg.DB)
	config.OverrideMQFromEnv(&cfg.MQ)
	config.OverrideRedisFromEnv(&cfg.Redis)
	config.OverrideServerFromEnv(&cfg.Server)
	overrideFromEnv(&cfg)

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func overrideFromEnv(cfg *Config) {
	if driver := os.Getenv("STORAGE_DRIVER"); driver != "" {
		cfg.Storage.Driver = driver
	}
	if path := os.Getenv("SQLITE_PATH"); path != "" {
		cfg.Storage.SQLitePath = path
	}
	if id := os.Getenv("GOOGLE_CLIENT_ID"); id != "" {
		cfg.Google.ClientID = id
	}
	if secret := os.Getenv("GOOGLE_CLIENT_SECRET"); secret != "" {
		cfg.Google.ClientSecret = secret
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		cfg.Classifier.APIKey = key
	}
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		cfg.Classifier.Model = m
	}
	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if user := os.Getenv("SMTP_USERNAME"); user != "" {
		cfg.SMTP.Username = user
	}
	if password := os.Getenv("SMTP_PASSWORD"); password != "" {
		cfg.SMTP.Password = password
	}
}

func (c *Config) applyDefaults() {
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/pipeline.db"
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Google.Timeout <= 0 {
		c.Google.Timeout = 30 * time.Second
	}
	if c.Google.Breaker == (circuitbreaker.Config{}) {
		c.Google.Breaker = circuitbreaker.DefaultConfig()
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 587
	}
	if c.Pipeline.FetchLimit <= 0 {
		c.Pipeline.FetchLimit = 10
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 10
	}
	if c.Pipeline.MaxAttempts <= 0 {
		c.Pipeline.MaxAttempts = 3
	}
	if c.Pipeline.RetryDelay <= 0 {
		c.Pipeline.RetryDelay = 2 * time.Second
	}
	if c.Pipeline.ClassifyLockTTL <= 0 {
		c.Pipeline.ClassifyLockTTL = 10 * time.Minute
	}
	if c.Pipeline.StaleAfter <= 0 {
		c.Pipeline.StaleAfter = time.Hour
	}
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.MQ.URL == "" {
		return fmt.Errorf("mq.url is required")
	}
	return nil
}
