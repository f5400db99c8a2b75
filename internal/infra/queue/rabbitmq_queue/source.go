package rabbitmq_queue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueConfig struct {
	Name        string
	Durable     bool
	Prefetch    int
	ConsumerTag string
}

// Source consumes one queue with manual acknowledgement.
// Nack 會 requeue，由 broker 重新投遞
type Source struct {
	open       ChannelOpener
	cfg        QueueConfig
	mu         sync.Mutex // 保護 ch, Close 可能由其他 goroutine 呼叫
	ch         Channel
	deliveries <-chan amqp.Delivery
	closed     atomic.Bool
}

func NewSource(open ChannelOpener, cfg QueueConfig) *Source {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Source{open: open, cfg: cfg}
}

func (s *Source) subscribe() error {
	ch, err := s.open()
	if err != nil {
		return err
	}

	if err := ch.Qos(s.cfg.Prefetch, 0, false); err != nil {
		ch.Close()
		return &RabbitError{Operation: "qos", Queue: s.cfg.Name, Err: err}
	}

	if _, err := ch.QueueDeclare(s.cfg.Name, s.cfg.Durable, false, false, false, nil); err != nil {
		ch.Close()
		return &RabbitError{Operation: "declare", Queue: s.cfg.Name, Err: err}
	}

	deliveries, err := ch.Consume(s.cfg.Name, s.cfg.ConsumerTag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return &RabbitError{Operation: "consume", Queue: s.cfg.Name, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		ch.Close()
		return queue.ErrSourceClosed
	}
	s.ch = ch
	s.deliveries = deliveries
	return nil
}

func (s *Source) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		s.ch.Close()
	}
	s.ch = nil
	s.deliveries = nil
}

func (s *Source) Fetch(ctx context.Context) (queue.Delivery, error) {
	if s.closed.Load() {
		return nil, queue.ErrSourceClosed
	}

	if s.deliveries == nil {
		if err := s.subscribe(); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case d, ok := <-s.deliveries:
		if !ok {
			s.reset()
			if s.closed.Load() {
				return nil, queue.ErrSourceClosed
			}
			// 連線中斷，下一次 Fetch 重新訂閱
			return nil, &RabbitError{Operation: "consume", Queue: s.cfg.Name, Err: amqp.ErrClosed}
		}
		return &delivery{queue: s.cfg.Name, d: d}, nil
	}
}

func (s *Source) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return nil
	}
	return s.ch.Close()
}

type delivery struct {
	queue string
	d     amqp.Delivery
}

func (d *delivery) Body() []byte {
	return d.d.Body
}

func (d *delivery) Key() string {
	return fmt.Sprintf("%s/%d", d.queue, d.d.DeliveryTag)
}

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.d.Ack(false); err != nil {
		return &RabbitError{Operation: "ack", Queue: d.queue, Err: err}
	}
	return nil
}

func (d *delivery) Nack(ctx context.Context) error {
	if err := d.d.Nack(false, true); err != nil {
		return &RabbitError{Operation: "nack", Queue: d.queue, Err: err}
	}
	return nil
}

var _ queue.Source = (*Source)(nil)
