package kafka_queue

import (
	"context"

	"github.com/segmentio/kafka-go"
)

// 注意, kafka reader 並非併發安全，一個goroutine要使用一個reader
type KafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Writer is the subset of *kafka.Writer used for dead letters.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}
