package kafka_queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

/*
Source 以 consumer group 讀取單一 topic

	FetchMessage -> 處理 -> CommitMessages

Kafka 無法針對單一訊息 nack，commit 之後的 offset 會連同前面未 commit 的一起確認，
所以 Nack 的訊息留在本地，下一次 Fetch 先退避再重新交付同一則訊息。
*/
type Source struct {
	reader   KafkaReader
	cfg      *Config
	closed   atomic.Bool
	pending  *kafka.Message
	attempts int
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewSource creates a kafka.Reader for cfg.Topic in cfg.ConsumerGroup.
func NewSource(cfg *Config) (*Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ConsumerGroup == "" {
		return nil, ErrNoGroup
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		MinBytes:       cfg.MinBytes,
		MaxBytes:       cfg.MaxBytes,
		MaxWait:        cfg.MaxWait,
		CommitInterval: cfg.CommitInterval,
		StartOffset:    kafka.FirstOffset,

		// 重連機制設定
		Dialer: &kafka.Dialer{
			Timeout:   10 * time.Second,
			DualStack: true,
			KeepAlive: 30 * time.Second,
		},

		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("topic", cfg.Topic).Msgf("kafka reader error: "+msg, args...)
		}),

		ReadBackoffMin: cfg.RetryBackoffMin,
		ReadBackoffMax: cfg.RetryBackoffMax,
	})

	return NewSourceWithReader(reader, cfg), nil
}

func NewSourceWithReader(reader KafkaReader, cfg *Config) *Source {
	return &Source{
		reader: reader,
		cfg:    cfg,
		sleep:  sleepContext,
	}
}

func (s *Source) Fetch(ctx context.Context) (queue.Delivery, error) {
	if s.closed.Load() {
		return nil, queue.ErrSourceClosed
	}

	if s.pending != nil {
		if err := s.sleep(ctx, s.cfg.calculateBackoff(s.attempts)); err != nil {
			return nil, err
		}
		msg := *s.pending
		s.pending = nil
		return &delivery{src: s, msg: msg, redelivered: true}, nil
	}

	msg, err := s.reader.FetchMessage(ctx)
	if err != nil {
		switch {
		case errors.Is(err, io.EOF):
			return nil, queue.ErrSourceClosed
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil, err
		}
		return nil, NewKafkaError("fetch", s.cfg.Topic, err)
	}
	return &delivery{src: s, msg: msg}, nil
}

func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.reader.Close()
}

type delivery struct {
	src         *Source
	msg         kafka.Message
	redelivered bool
}

func (d *delivery) Body() []byte {
	return d.msg.Value
}

func (d *delivery) Key() string {
	return fmt.Sprintf("%s/%d/%d", d.msg.Topic, d.msg.Partition, d.msg.Offset)
}

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.src.reader.CommitMessages(ctx, d.msg); err != nil {
		return NewKafkaError("commit", d.src.cfg.Topic, err)
	}
	d.src.attempts = 0
	return nil
}

func (d *delivery) Nack(ctx context.Context) error {
	msg := d.msg
	d.src.pending = &msg
	d.src.attempts++
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ queue.Source = (*Source)(nil)
