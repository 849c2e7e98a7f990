package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version   string          `yaml:"version"`
	AgentName string          `yaml:"agentName" env:"HOOKGUARD_AGENT_NAME"`
	Rulespack string          `yaml:"rulespack" env:"HOOKGUARD_RULESPACK"`
	Listen    string          `yaml:"listen" env:"HOOKGUARD_LISTEN"`
	AdminPath string          `yaml:"adminPath" env:"HOOKGUARD_ADMIN_PATH"`
	Sqlite    SqliteConfig    `yaml:"sqlite" envPrefix:"HOOKGUARD_SQLITE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"HOOKGUARD_REDIS_"`
	Log       LogConfig       `yaml:"log" envPrefix:"HOOKGUARD_LOG_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"HOOKGUARD_TELEMETRY_"`
	Whitelist []string        `yaml:"whitelist" env:"HOOKGUARD_WHITELIST" envSeparator:","`

	// TrustProxy 为 true 时客户端地址取 X-Forwarded-For / X-Real-IP，仅在可信反向代理之后开启
	TrustProxy bool `yaml:"trustProxy" env:"HOOKGUARD_TRUST_PROXY"`
}

// SqliteConfig 本地事件库配置，Db 为空表示不落库
type SqliteConfig struct {
	Db     string `yaml:"db" env:"DB"`
	Prefix string `yaml:"prefix" env:"PREFIX"`
}

// RedisConfig 采集端 Redis 配置，Addr 为空表示不启用
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	Key      string `yaml:"key" env:"KEY"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string   `yaml:"level" env:"LEVEL"`
	Writer []string `yaml:"writer" env:"WRITER" envSeparator:","`
	File   string   `yaml:"file" env:"FILE"`
}

// TelemetryConfig 上报管道配置
type TelemetryConfig struct {
	AttackQueueSize      int           `yaml:"attackQueueSize" env:"ATTACK_QUEUE_SIZE"`
	ObservationQueueSize int           `yaml:"observationQueueSize" env:"OBSERVATION_QUEUE_SIZE"`
	ControlQueueSize     int           `yaml:"controlQueueSize" env:"CONTROL_QUEUE_SIZE"`
	BatchSize            int           `yaml:"batchSize" env:"BATCH_SIZE"`
	FlushInterval        time.Duration `yaml:"flushInterval" env:"FLUSH_INTERVAL"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Version:   "1.0.0",
		AgentName: "hookguard",
		Listen:    ":8080",
		AdminPath: "/_hookguard/rpc",
		Sqlite: SqliteConfig{
			Db:     "",
			Prefix: "hookguard_",
		},
		Redis: RedisConfig{
			Key: "hookguard",
		},
		Log: LogConfig{
			Level:  "info",
			Writer: []string{"console"},
		},
		Telemetry: TelemetryConfig{
			AttackQueueSize:      100,
			ObservationQueueSize: 1000,
			ControlQueueSize:     10,
			BatchSize:            20,
			FlushInterval:        10 * time.Second,
		},
	}
}

// Load 依次加载默认值、YAML 文件、.env 文件与环境变量，后者覆盖前者
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := godotenv.Load(); err != nil {
		var pathErr *os.PathError
		if !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("load .env file: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	cfg.Sanitize()
	return cfg, nil
}

// Sanitize 修正非法取值
func (c *Config) Sanitize() {
	def := NewConfig()

	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch c.Log.Level {
	case "debug", "info", "warn", "error", "disabled":
	default:
		c.Log.Level = def.Log.Level
	}

	if c.Telemetry.AttackQueueSize <= 0 {
		c.Telemetry.AttackQueueSize = def.Telemetry.AttackQueueSize
	}
	if c.Telemetry.ObservationQueueSize <= 0 {
		c.Telemetry.ObservationQueueSize = def.Telemetry.ObservationQueueSize
	}
	if c.Telemetry.ControlQueueSize <= 0 {
		c.Telemetry.ControlQueueSize = def.Telemetry.ControlQueueSize
	}
	if c.Telemetry.BatchSize <= 0 {
		c.Telemetry.BatchSize = def.Telemetry.BatchSize
	}
	if c.Telemetry.FlushInterval <= 0 {
		c.Telemetry.FlushInterval = def.Telemetry.FlushInterval
	}
	if c.Redis.Key == "" {
		c.Redis.Key = def.Redis.Key
	}
	if c.AgentName == "" {
		c.AgentName = def.AgentName
	}

	patterns := c.Whitelist[:0]
	for _, p := range c.Whitelist {
		if p = strings.TrimSpace(p); p != "" {
			patterns = append(patterns, p)
		}
	}
	c.Whitelist = patterns
}
