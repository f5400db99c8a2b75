package queue

import (
	"context"
	"errors"
)

var (
	// ErrSourceClosed 來源已關閉，consumer 應結束
	ErrSourceClosed = errors.New("queue source closed")
)

// Delivery is one fetched message. Exactly one of Ack or Nack should be called.
type Delivery interface {
	Body() []byte
	// Key 用於 log，例如 kafka key 或 rabbitmq delivery tag
	Key() string
	Ack(ctx context.Context) error
	// Nack 不確認，訊息會重新投遞
	Nack(ctx context.Context) error
}

// Source pulls messages from a single queue.
// A Source is used by one goroutine only.
type Source interface {
	Fetch(ctx context.Context) (Delivery, error)
	Close() error
}

// DeadLetter receives payloads that can never be decoded.
type DeadLetter interface {
	Publish(ctx context.Context, key string, body []byte, reason string) error
	Close() error
}

// IsFatal reports whether err is marked as non-retryable by the broker adapter.
func IsFatal(err error) bool {
	var f interface{ Fatal() bool }
	if errors.As(err, &f) {
		return f.Fatal()
	}
	return false
}
