package kafka_queue

import (
	"context"
	"net"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const PoisonReasonHeader = "x-poison-reason"

// DeadLetter 將無法解析的訊息寫到另一個 topic 保留
type DeadLetter struct {
	w     Writer
	topic string
}

func NewDeadLetter(cfg *Config) (*DeadLetter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     NewProductIDBalancer(),
		RequiredAcks: kafka.RequireAll, // 等待所有副本確認
		MaxAttempts:  cfg.RetryAttempts,
		WriteTimeout: cfg.WriteTimeout,
		Transport: &kafka.Transport{
			Dial: func(ctx context.Context, network string, address string) (net.Conn, error) {
				dialer := &kafka.Dialer{
					Timeout:   10 * time.Second,
					DualStack: true,
					KeepAlive: 30 * time.Second,
				}
				return dialer.DialContext(ctx, network, address)
			},
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			log.Error().Str("topic", cfg.Topic).Msgf("kafka dead letter writer error: "+msg, args...)
		}),
	}

	return NewDeadLetterWithWriter(w, cfg.Topic), nil
}

func NewDeadLetterWithWriter(w Writer, topic string) *DeadLetter {
	return &DeadLetter{w: w, topic: topic}
}

func (d *DeadLetter) Publish(ctx context.Context, key string, body []byte, reason string) error {
	err := d.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: PoisonReasonHeader, Value: []byte(reason)},
		},
	})
	if err != nil {
		return NewKafkaError("dead letter", d.topic, err)
	}
	return nil
}

func (d *DeadLetter) Close() error {
	return d.w.Close()
}

var _ queue.DeadLetter = (*DeadLetter)(nil)
