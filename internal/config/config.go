package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"

	StoreElasticsearch = "elasticsearch"
	StoreRedis         = "redis"
	StoreMemory        = "memory"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Broker string `mapstructure:"BROKER"`

	RabbitMQHost     string `mapstructure:"RABBITMQ_HOST"`
	RabbitMQPort     int    `mapstructure:"RABBITMQ_PORT"`
	RabbitMQUser     string `mapstructure:"RABBITMQ_USER"`
	RabbitMQPass     string `mapstructure:"RABBITMQ_PASS"`
	RabbitMQVhost    string `mapstructure:"RABBITMQ_VHOST"`
	RabbitMQPrefetch int    `mapstructure:"RABBITMQ_PREFETCH"`

	KafkaBrokers []string `mapstructure:"KAFKA_BROKERS"`
	KafkaGroupID string   `mapstructure:"KAFKA_GROUP_ID"`

	UpdateQueue        string `mapstructure:"UPDATE_QUEUE"`
	DeleteQueue        string `mapstructure:"DELETE_QUEUE"`
	UpdateQueueDurable bool   `mapstructure:"UPDATE_QUEUE_DURABLE"`
	DeleteQueueDurable bool   `mapstructure:"DELETE_QUEUE_DURABLE"`
	DeadLetterQueue    string `mapstructure:"DEAD_LETTER_QUEUE"` // 空字串表示不轉送

	Store                 string  `mapstructure:"STORE"`
	ElasticsearchURI      string  `mapstructure:"ELASTICSEARCH_URI"`
	ElasticsearchUser     string  `mapstructure:"ELASTICSEARCH_USER"`
	ElasticsearchPassword string  `mapstructure:"ELASTICSEARCH_PASSWORD"`
	ElasticsearchIndex    string  `mapstructure:"ELASTICSEARCH_INDEX"`
	RedisAddr             string  `mapstructure:"REDIS_ADDR"`
	RedisPassword         string  `mapstructure:"REDIS_PASSWORD"`
	RedisDB               int     `mapstructure:"REDIS_DB"`
	StoreWriteRate        float64 `mapstructure:"STORE_WRITE_RATE"` // 每秒寫入上限, 0 表示不限
	StoreWriteBurst       int     `mapstructure:"STORE_WRITE_BURST"`

	ProcessTimeout     time.Duration `mapstructure:"PROCESS_TIMEOUT"`
	RetryBackoffMin    time.Duration `mapstructure:"RETRY_BACKOFF_MIN"`
	RetryBackoffMax    time.Duration `mapstructure:"RETRY_BACKOFF_MAX"`
	RetryBackoffFactor float64       `mapstructure:"RETRY_BACKOFF_FACTOR"`
	ShutdownTimeout    time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`
}

var defaults = map[string]any{
	"BROKER": BrokerRabbitMQ,

	"RABBITMQ_HOST":     "localhost",
	"RABBITMQ_PORT":     5672,
	"RABBITMQ_USER":     "user",
	"RABBITMQ_PASS":     "userpass",
	"RABBITMQ_VHOST":    "/",
	"RABBITMQ_PREFETCH": 1,

	"KAFKA_BROKERS":  []string{"localhost:9092"},
	"KAFKA_GROUP_ID": "product-indexer",

	"UPDATE_QUEUE":         "productQueue",
	"DELETE_QUEUE":         "productDeleteQueue",
	"UPDATE_QUEUE_DURABLE": true,
	"DELETE_QUEUE_DURABLE": false,
	"DEAD_LETTER_QUEUE":    "",

	"STORE":                  StoreElasticsearch,
	"ELASTICSEARCH_URI":      "http://localhost:9200",
	"ELASTICSEARCH_USER":     "",
	"ELASTICSEARCH_PASSWORD": "",
	"ELASTICSEARCH_INDEX":    "products",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_PASSWORD":         "",
	"REDIS_DB":               0,
	"STORE_WRITE_RATE":       0.0,
	"STORE_WRITE_BURST":      100,

	"PROCESS_TIMEOUT":      "10s",
	"RETRY_BACKOFF_MIN":    "100ms",
	"RETRY_BACKOFF_MAX":    "5s",
	"RETRY_BACKOFF_FACTOR": 2.0,
	"SHUTDOWN_TIMEOUT":     "30s",

	"LOG_LEVEL":  "info",
	"LOG_FORMAT": "json",
}

/*
Loader 讀取順序: 預設值 < CONFIG_FILE < 環境變數
每個 Loader 使用自己的 viper instance
*/
type Loader struct {
	v    *viper.Viper
	file string
	mu   sync.RWMutex
	cf   *Config
}

func NewLoader() *Loader {
	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.SetDefault("CONFIG_FILE", "")
	v.AutomaticEnv()
	return &Loader{v: v, file: v.GetString("CONFIG_FILE")}
}

// 單純回傳錯誤  由外部決定要不要Fatal
func (l *Loader) Load() (*Config, error) {
	if l.file != "" {
		l.v.SetConfigFile(l.file)
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", l.file, err)
		}
	}

	cf, err := l.unmarshal()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cf = cf
	l.mu.Unlock()
	return cf, nil
}

func (l *Loader) unmarshal() (*Config, error) {
	cf := &Config{}
	if err := l.v.Unmarshal(cf); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cf.normalize()
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	return cf, nil
}

func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cf
}

/*
Watch 監看 CONFIG_FILE，檔案變更時重新讀取並呼叫 onChange
新設定不合法時 onChange 收到 error，Current 保持舊值
沒有設定 CONFIG_FILE 時不做任何事
*/
func (l *Loader) Watch(onChange func(*Config, error)) bool {
	if l.file == "" {
		return false
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cf, err := l.unmarshal()
		if err != nil {
			onChange(nil, err)
			return
		}
		l.mu.Lock()
		l.cf = cf
		l.mu.Unlock()
		onChange(cf, nil)
	})
	l.v.WatchConfig()
	return true
}

func (c *Config) normalize() {
	c.Broker = strings.ToLower(strings.TrimSpace(c.Broker))
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	brokers := make([]string, 0, len(c.KafkaBrokers))
	for _, b := range c.KafkaBrokers {
		for _, part := range strings.Split(b, ",") {
			if part = strings.TrimSpace(part); part != "" {
				brokers = append(brokers, part)
			}
		}
	}
	c.KafkaBrokers = brokers
}

func (c *Config) Validate() error {
	switch c.Broker {
	case BrokerRabbitMQ:
		if c.RabbitMQHost == "" {
			return fmt.Errorf("%w: RABBITMQ_HOST is empty", ErrInvalidConfig)
		}
	case BrokerKafka:
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("%w: KAFKA_BROKERS is empty", ErrInvalidConfig)
		}
		if c.KafkaGroupID == "" {
			return fmt.Errorf("%w: KAFKA_GROUP_ID is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown BROKER %q", ErrInvalidConfig, c.Broker)
	}

	switch c.Store {
	case StoreElasticsearch:
		if c.ElasticsearchURI == "" {
			return fmt.Errorf("%w: ELASTICSEARCH_URI is empty", ErrInvalidConfig)
		}
	case StoreRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("%w: REDIS_ADDR is empty", ErrInvalidConfig)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("%w: unknown STORE %q", ErrInvalidConfig, c.Store)
	}

	if strings.TrimSpace(c.UpdateQueue) == "" || strings.TrimSpace(c.DeleteQueue) == "" {
		return fmt.Errorf("%w: UPDATE_QUEUE and DELETE_QUEUE are required", ErrInvalidConfig)
	}
	if c.UpdateQueue == c.DeleteQueue {
		return fmt.Errorf("%w: UPDATE_QUEUE and DELETE_QUEUE must differ", ErrInvalidConfig)
	}
	if c.ProcessTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return fmt.Errorf("%w: PROCESS_TIMEOUT and SHUTDOWN_TIMEOUT must be positive", ErrInvalidConfig)
	}
	if c.RetryBackoffMin <= 0 || c.RetryBackoffMax < c.RetryBackoffMin {
		return fmt.Errorf("%w: RETRY_BACKOFF_MIN must be positive and not above RETRY_BACKOFF_MAX", ErrInvalidConfig)
	}
	if c.StoreWriteRate < 0 || (c.StoreWriteRate > 0 && c.StoreWriteBurst <= 0) {
		return fmt.Errorf("%w: STORE_WRITE_RATE must be >= 0 with a positive STORE_WRITE_BURST", ErrInvalidConfig)
	}
	if c.RetryBackoffFactor < 1 {
		return fmt.Errorf("%w: RETRY_BACKOFF_FACTOR must be >= 1", ErrInvalidConfig)
	}
	return nil
}
