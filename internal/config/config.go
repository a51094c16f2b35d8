package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AIJudge-Chain/internal/auth"
	"AIJudge-Chain/internal/observability/tracing"
	"AIJudge-Chain/pkg/logger"
)

// EnvConfigPath 指定配置文件路径的环境变量。
const EnvConfigPath = "AIJUDGE_CONFIG"

// Config 描述了 AIJudge 守护进程启动时需要加载的核心配置。
type Config struct {
	Server    ServerConfig    `json:"server" yaml:"server"`
	Storage   StorageConfig   `json:"storage" yaml:"storage"`
	TaskQueue TaskQueueConfig `json:"task_queue" yaml:"task_queue"`
	Judge     JudgeConfig     `json:"judge" yaml:"judge"`
	Alerting  AlertingConfig  `json:"alerting" yaml:"alerting"`
	Tracing   tracing.Config  `json:"tracing" yaml:"tracing"`
	Logging   logger.Config   `json:"logging" yaml:"logging"`
	Runtime   RuntimeConfig   `json:"runtime" yaml:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址。
type ServerConfig struct {
	Address string `json:"address" yaml:"address"`
	// MetricsAddress 非空时额外启动独立的指标端口。
	MetricsAddress string      `json:"metrics_address" yaml:"metrics_address"`
	Auth           auth.Config `json:"auth" yaml:"auth"`

	// SubmitRate 为每个调用方每秒允许的提交次数，0 表示不限制。
	SubmitRate  float64 `json:"submit_rate" yaml:"submit_rate"`
	SubmitBurst int     `json:"submit_burst" yaml:"submit_burst"`
}

// StorageConfig 描述证明记录与任务状态的存储后端。
type StorageConfig struct {
	Attestations DatabaseConfig `json:"attestations" yaml:"attestations"`
	TaskStore    DatabaseConfig `json:"task_store" yaml:"task_store"`
}

// DatabaseConfig 描述单个存储后端，driver 为 memory 或 mysql。
type DatabaseConfig struct {
	Driver                 string `json:"driver" yaml:"driver"`
	DSN                    string `json:"dsn" yaml:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds" yaml:"conn_max_lifetime_seconds"`
	Retries                int    `json:"retries" yaml:"retries"`
}

// ConnMaxLifetime 返回连接最大存活时间。
func (d DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(d.ConnMaxLifetimeSeconds) * time.Second
}

// TaskQueueConfig 描述任务队列驱动。
type TaskQueueConfig struct {
	Driver   string         `json:"driver" yaml:"driver"`
	Workers  int            `json:"workers" yaml:"workers"`
	Buffer   int            `json:"buffer" yaml:"buffer"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq" yaml:"rabbitmq"`
	Kafka    KafkaConfig    `json:"kafka" yaml:"kafka"`
}

// RedisConfig 描述 Redis 队列的连接信息。
type RedisConfig struct {
	Address          string `json:"address" yaml:"address"`
	Password         string `json:"password" yaml:"password"`
	DB               int    `json:"db" yaml:"db"`
	Queue            string `json:"queue" yaml:"queue"`
	BlockWaitSeconds int    `json:"block_wait_seconds" yaml:"block_wait_seconds"`
}

// RabbitMQConfig 描述 RabbitMQ 队列的连接信息。
type RabbitMQConfig struct {
	URL        string `json:"url" yaml:"url"`
	Queue      string `json:"queue" yaml:"queue"`
	Prefetch   int    `json:"prefetch" yaml:"prefetch"`
	Durable    bool   `json:"durable" yaml:"durable"`
	AutoDelete bool   `json:"auto_delete" yaml:"auto_delete"`
}

// KafkaConfig 描述 Kafka 队列的 broker、topic 与消费组。
type KafkaConfig struct {
	Brokers []string `json:"brokers" yaml:"brokers"`
	Topic   string   `json:"topic" yaml:"topic"`
	Group   string   `json:"group" yaml:"group"`
}

// JudgeConfig 控制结果证明流程。
type JudgeConfig struct {
	// MinSaltLength 是宿主侧对承诺盐值的最小长度要求。
	MinSaltLength  int    `json:"min_salt_length" yaml:"min_salt_length"`
	AllowWeakSalt  bool   `json:"allow_weak_salt" yaml:"allow_weak_salt"`
	StrictMarkers  bool   `json:"strict_markers" yaml:"strict_markers"`
	Structured     bool   `json:"structured_results" yaml:"structured_results"`
	StaticAnalysis string `json:"static_analysis" yaml:"static_analysis"`
	SourceTimeout  int    `json:"source_timeout_seconds" yaml:"source_timeout_seconds"`
}

// AlertingConfig 控制失败告警的投递渠道，日志渠道始终开启。
type AlertingConfig struct {
	WebhookURL            string `json:"webhook_url" yaml:"webhook_url"`
	WebhookSecret         string `json:"webhook_secret" yaml:"webhook_secret"`
	WebhookTimeoutSeconds int    `json:"webhook_timeout_seconds" yaml:"webhook_timeout_seconds"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"`
}

// Load 解析指定路径的配置文件，.yaml/.yml 使用 YAML，其余按 JSON 解析。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(content, &cfg)
	default:
		err = json.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default 返回全部使用默认值的配置，baseDir 用于解析相对路径。
func Default(baseDir string) *Config {
	cfg := &Config{}
	cfg.applyDefaults(baseDir)
	return cfg
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	for _, db := range []*DatabaseConfig{&c.Storage.Attestations, &c.Storage.TaskStore} {
		if db.Driver == "" {
			db.Driver = "memory"
		}
	}
	if c.Storage.TaskStore.Retries <= 0 {
		c.Storage.TaskStore.Retries = 3
	}

	if c.TaskQueue.Driver == "" {
		c.TaskQueue.Driver = "memory"
	}
	if c.TaskQueue.Workers <= 0 {
		c.TaskQueue.Workers = 4
	}
	if c.TaskQueue.Buffer <= 0 {
		c.TaskQueue.Buffer = 1024
	}

	if c.Judge.MinSaltLength <= 0 {
		c.Judge.MinSaltLength = 16
	}

	if c.Alerting.WebhookTimeoutSeconds <= 0 {
		c.Alerting.WebhookTimeoutSeconds = 5
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path != "" && !filepath.IsAbs(c.Logging.Audit.Path) {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, c.Logging.Audit.Path)
	}
}

// Validate 检查驱动名称与必填字段。
func (c *Config) Validate() error {
	for name, db := range map[string]DatabaseConfig{"attestations": c.Storage.Attestations, "task_store": c.Storage.TaskStore} {
		switch db.Driver {
		case "memory":
		case "mysql":
			if strings.TrimSpace(db.DSN) == "" {
				return fmt.Errorf("storage.%s 使用 mysql 时必须配置 dsn", name)
			}
		default:
			return fmt.Errorf("storage.%s 不支持的驱动: %s", name, db.Driver)
		}
	}
	switch c.TaskQueue.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.TaskQueue.Redis.Address) == "" {
			return errors.New("task_queue.redis.address 不能为空")
		}
	case "rabbitmq":
		if strings.TrimSpace(c.TaskQueue.RabbitMQ.URL) == "" {
			return errors.New("task_queue.rabbitmq.url 不能为空")
		}
	case "kafka":
		if len(c.TaskQueue.Kafka.Brokers) == 0 {
			return errors.New("task_queue.kafka.brokers 不能为空")
		}
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.TaskQueue.Driver)
	}
	if c.Server.SubmitRate < 0 {
		return errors.New("server.submit_rate 不能为负数")
	}
	if c.Tracing.Enabled && strings.TrimSpace(c.Tracing.Endpoint) == "" {
		return errors.New("tracing.endpoint 不能为空")
	}
	if url := strings.TrimSpace(c.Alerting.WebhookURL); url != "" &&
		!strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return fmt.Errorf("alerting.webhook_url 必须为 http(s) 地址: %s", url)
	}
	return nil
}
