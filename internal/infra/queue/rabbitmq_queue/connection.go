package rabbitmq_queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Channel is the subset of *amqp.Channel used by this package.
type Channel interface {
	Qos(prefetchCount, prefetchSize int, global bool) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// ChannelOpener 每次呼叫都開一個新的 channel
type ChannelOpener func() (Channel, error)

type ConnConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Vhost    string
	Timeout  time.Duration
}

func (c ConnConfig) URI() string {
	return amqp.URI{
		Scheme:   "amqp",
		Host:     c.Host,
		Port:     c.Port,
		Username: c.User,
		Password: c.Password,
		Vhost:    c.Vhost,
	}.String()
}

// RabbitError 代表 RabbitMQ 操作錯誤
type RabbitError struct {
	Operation string
	Queue     string
	Err       error
}

func (e *RabbitError) Error() string {
	return fmt.Sprintf("rabbitmq operation %s on queue %s failed: %v", e.Operation, e.Queue, e.Err)
}

func (e *RabbitError) Unwrap() error {
	return e.Err
}

// Fatal 帳號密碼或權限錯誤不可重試
func (e *RabbitError) Fatal() bool {
	var amqpErr *amqp.Error
	if errors.As(e.Err, &amqpErr) {
		return amqpErr.Code == amqp.AccessRefused || amqpErr.Code == amqp.NotAllowed
	}
	return false
}

/*
Connection 共用一條 TCP 連線，每個 consumer 各自開 channel
連線斷掉後，下一次開 channel 時重新連線
*/
type Connection struct {
	cfg  ConnConfig
	mu   sync.Mutex
	conn *amqp.Connection
}

func NewConnection(cfg ConnConfig) *Connection {
	return &Connection{cfg: cfg}
}

func (c *Connection) Channel() (Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		amqpCfg := amqp.Config{
			Heartbeat: 10 * time.Second,
			Locale:    "en_US",
		}
		if c.cfg.Timeout > 0 {
			amqpCfg.Dial = amqp.DefaultDial(c.cfg.Timeout)
		}
		conn, err := amqp.DialConfig(c.cfg.URI(), amqpCfg)
		if err != nil {
			return nil, &RabbitError{Operation: "dial", Queue: "", Err: err}
		}
		c.conn = conn
	}

	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &RabbitError{Operation: "channel", Queue: "", Err: err}
	}
	return ch, nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil || c.conn.IsClosed() {
		return nil
	}
	return c.conn.Close()
}
