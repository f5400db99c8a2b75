package kafka_queue

import (
	"errors"
	"time"
)

var (
	ErrNoBrokers = errors.New("no brokers provided")
	ErrNoTopic   = errors.New("no topic provided")
	ErrNoGroup   = errors.New("no consumer group provided")
)

// Config represents the configuration for one topic subscription
type Config struct {
	// Broker 配置
	Brokers []string
	Topic   string

	// 消費者配置
	ConsumerGroup  string
	MinBytes       int
	MaxBytes       int
	MaxWait        time.Duration
	CommitInterval time.Duration // 0 表示同步 commit

	// 重試相關配置
	RetryBackoffMin    time.Duration // 最小重試間隔
	RetryBackoffMax    time.Duration // 最大重試間隔
	RetryBackoffFactor float64       // 重試間隔增長因子

	WriteTimeout  time.Duration
	RetryAttempts int
}

// DefaultConfig returns a Config with default settings
func DefaultConfig() *Config {
	return &Config{
		MinBytes:           1,
		MaxBytes:           10e6, // 10MB
		MaxWait:            time.Second,
		RetryBackoffMin:    100 * time.Millisecond,
		RetryBackoffMax:    10 * time.Second,
		RetryBackoffFactor: 2,
		WriteTimeout:       10 * time.Second,
		RetryAttempts:      3,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return ErrNoBrokers
	}
	if c.Topic == "" {
		return ErrNoTopic
	}
	return nil
}

// calculateBackoff 計算下一次重試的等待時間
func (c *Config) calculateBackoff(attempt int) time.Duration {
	backoff := float64(c.RetryBackoffMin)
	factor := c.RetryBackoffFactor
	if factor < 1 {
		factor = 1
	}
	for i := 1; i < attempt && backoff < float64(c.RetryBackoffMax); i++ {
		backoff *= factor
	}
	if backoff > float64(c.RetryBackoffMax) {
		backoff = float64(c.RetryBackoffMax)
	}
	return time.Duration(backoff)
}
