package rabbitmq_queue

import (
	"context"
	"sync"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	amqp "github.com/rabbitmq/amqp091-go"
)

const PoisonReasonHeader = "x-poison-reason"

// DeadLetter 透過 default exchange 發佈到指定 queue
// 兩個 consumer 共用，所以需要鎖
type DeadLetter struct {
	open  ChannelOpener
	queue string
	mu    sync.Mutex
	ch    Channel
}

func NewDeadLetter(open ChannelOpener, queueName string) *DeadLetter {
	return &DeadLetter{open: open, queue: queueName}
}

func (d *DeadLetter) Publish(ctx context.Context, key string, body []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		ch, err := d.open()
		if err != nil {
			return err
		}
		if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
			ch.Close()
			return &RabbitError{Operation: "declare", Queue: d.queue, Err: err}
		}
		d.ch = ch
	}

	err := d.ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "text/plain",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		MessageId:    key,
		Body:         body,
		Headers:      amqp.Table{PoisonReasonHeader: reason},
	})
	if err != nil {
		// channel 可能已失效，下次重開
		d.ch.Close()
		d.ch = nil
		return &RabbitError{Operation: "publish", Queue: d.queue, Err: err}
	}
	return nil
}

func (d *DeadLetter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return nil
	}
	err := d.ch.Close()
	d.ch = nil
	return err
}

var _ queue.DeadLetter = (*DeadLetter)(nil)
