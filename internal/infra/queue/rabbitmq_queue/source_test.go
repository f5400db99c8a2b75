package rabbitmq_queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChannel struct {
	mu         sync.Mutex
	deliveries chan amqp.Delivery
	qos        int
	declared   map[string]bool
	published  []amqp.Publishing
	publishErr error
	declareErr error
	closed     bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		deliveries: make(chan amqp.Delivery, 10),
		declared:   map[string]bool{},
	}
}

func (f *fakeChannel) Qos(prefetchCount, prefetchSize int, global bool) error {
	f.qos = prefetchCount
	return nil
}

func (f *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if f.declareErr != nil {
		return amqp.Queue{}, f.declareErr
	}
	f.declared[name] = durable
	return amqp.Queue{Name: name}, nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	if autoAck {
		return nil, errors.New("auto ack not expected")
	}
	return f.deliveries, nil
}

func (f *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.deliveries)
	}
	return nil
}

// fakeAcknowledger 記錄 ack / nack 結果
type fakeAcknowledger struct {
	acked   []uint64
	nacked  []uint64
	requeue bool
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.acked = append(a.acked, tag)
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.nacked = append(a.nacked, tag)
	a.requeue = requeue
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	return nil
}

func openerFor(channels ...*fakeChannel) (ChannelOpener, *int) {
	opened := 0
	return func() (Channel, error) {
		if opened >= len(channels) {
			return nil, errors.New("no more channels")
		}
		ch := channels[opened]
		opened++
		return ch, nil
	}, &opened
}

func TestSourceFetchAckNack(t *testing.T) {
	ch := newFakeChannel()
	open, _ := openerFor(ch)
	src := NewSource(open, QueueConfig{Name: "productQueue", Durable: true, Prefetch: 5})

	ack := &fakeAcknowledger{}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(`{"id":1}`)}
	ch.deliveries <- amqp.Delivery{Acknowledger: ack, DeliveryTag: 2, Body: []byte(`{"id":2}`)}

	ctx := context.Background()
	d, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte(`{"id":1}`), d.Body())
	require.Equal(t, "productQueue/1", d.Key())
	require.NoError(t, d.Ack(ctx))

	d, err = src.Fetch(ctx)
	require.NoError(t, err)
	require.NoError(t, d.Nack(ctx))

	require.Equal(t, []uint64{1}, ack.acked)
	require.Equal(t, []uint64{2}, ack.nacked)
	require.True(t, ack.requeue)
	require.Equal(t, 5, ch.qos)
	require.True(t, ch.declared["productQueue"])
}

func TestSourceDeclaresNonDurableQueue(t *testing.T) {
	ch := newFakeChannel()
	open, _ := openerFor(ch)
	src := NewSource(open, QueueConfig{Name: "productDeleteQueue", Durable: false})

	ch.deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, DeliveryTag: 1, Body: []byte("42")}
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	durable, ok := ch.declared["productDeleteQueue"]
	require.True(t, ok)
	require.False(t, durable)
	require.Equal(t, 1, ch.qos)
}

func TestSourceFetchCanceled(t *testing.T) {
	ch := newFakeChannel()
	open, _ := openerFor(ch)
	src := NewSource(open, QueueConfig{Name: "productQueue"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := src.Fetch(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceResubscribesAfterChannelClosed(t *testing.T) {
	first := newFakeChannel()
	second := newFakeChannel()
	open, opened := openerFor(first, second)
	src := NewSource(open, QueueConfig{Name: "productQueue"})

	ctx := context.Background()
	first.deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, DeliveryTag: 1}
	_, err := src.Fetch(ctx)
	require.NoError(t, err)

	// broker 端關閉 channel
	first.Close()
	_, err = src.Fetch(ctx)
	var rabbitErr *RabbitError
	require.ErrorAs(t, err, &rabbitErr)
	require.ErrorIs(t, err, amqp.ErrClosed)
	assert.False(t, queue.IsFatal(err))

	second.deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, DeliveryTag: 1, Body: []byte("again")}
	d, err := src.Fetch(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("again"), d.Body())
	require.Equal(t, 2, *opened)
}

func TestSourceClose(t *testing.T) {
	ch := newFakeChannel()
	open, _ := openerFor(ch)
	src := NewSource(open, QueueConfig{Name: "productQueue"})

	ch.deliveries <- amqp.Delivery{Acknowledger: &fakeAcknowledger{}, DeliveryTag: 1}
	_, err := src.Fetch(context.Background())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	require.True(t, ch.closed)

	_, err = src.Fetch(context.Background())
	require.ErrorIs(t, err, queue.ErrSourceClosed)
}

func TestSourceSubscribeError(t *testing.T) {
	ch := newFakeChannel()
	ch.declareErr = &amqp.Error{Code: amqp.AccessRefused, Reason: "ACCESS_REFUSED"}
	open, _ := openerFor(ch)
	src := NewSource(open, QueueConfig{Name: "productQueue"})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	require.True(t, queue.IsFatal(err))
	require.True(t, ch.closed)
}

func TestConnConfigURI(t *testing.T) {
	cfg := ConnConfig{Host: "rabbit.local", Port: 5673, User: "indexer", Password: "s3cret", Vhost: "products"}

	uri, err := amqp.ParseURI(cfg.URI())
	require.NoError(t, err)
	require.Equal(t, "rabbit.local", uri.Host)
	require.Equal(t, 5673, uri.Port)
	require.Equal(t, "indexer", uri.Username)
	require.Equal(t, "s3cret", uri.Password)
	require.Equal(t, "products", uri.Vhost)
}
