package appcontext

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/config"
	"github.com/RoyceAzure/lab/rj_indexer/internal/consumer"
	"github.com/RoyceAzure/lab/rj_indexer/internal/decoder"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore/elsearch"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore/redis_repo"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue/kafka_queue"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue/rabbitmq_queue"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/ratelimit"
	"github.com/RoyceAzure/lab/rj_indexer/internal/reconciler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const setupTimeout = 30 * time.Second

type Option func(*ApplicationContext)

// WithStore 略過依 STORE 建立儲存層
func WithStore(store docstore.Store) Option {
	return func(app *ApplicationContext) {
		app.Store = store
	}
}

// WithSources 略過依 BROKER 建立 source，dead letter 也不會建立
func WithSources(update, del queue.Source) Option {
	return func(app *ApplicationContext) {
		app.UpdateSource = update
		app.DeleteSource = del
		app.sourcesInjected = true
	}
}

func WithDeadLetter(dl queue.DeadLetter) Option {
	return func(app *ApplicationContext) {
		app.DeadLetter = dl
	}
}

type ApplicationContext struct {
	Cf             *config.Config
	Logger         *zerolog.Logger
	Store          docstore.Store
	Reconciler     *reconciler.Reconciler
	UpdateSource   queue.Source
	DeleteSource   queue.Source
	DeadLetter     queue.DeadLetter
	UpdateConsumer *consumer.Consumer
	DeleteConsumer *consumer.Consumer

	sourcesInjected bool
	closers         []namedCloser // 依建立順序，關閉時反向
}

type namedCloser struct {
	name  string
	close func() error
}

func NewApplicationContext(cf *config.Config, logger *zerolog.Logger, opts ...Option) (*ApplicationContext, error) {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	app := &ApplicationContext{
		Cf:     cf,
		Logger: logger,
	}
	for _, opt := range opts {
		opt(app)
	}

	if err := app.Init(); err != nil {
		app.closeAll()
		return nil, err
	}
	return app, nil
}

func (app *ApplicationContext) Init() error {
	if err := app.setUpStore(); err != nil {
		return err
	}
	if err := app.setUpThrottle(); err != nil {
		return err
	}
	if err := app.setUpReconciler(); err != nil {
		return err
	}
	if err := app.setUpBroker(); err != nil {
		return err
	}
	return app.setUpConsumers()
}

func (app *ApplicationContext) addCloser(name string, fn func() error) {
	app.closers = append(app.closers, namedCloser{name: name, close: fn})
}

func (app *ApplicationContext) setUpStore() error {
	if app.Store != nil {
		return nil
	}
	app.Logger.Info().Str("store", app.Cf.Store).Msg("Start setup document store")

	ctx, cancel := context.WithTimeout(context.Background(), setupTimeout)
	defer cancel()

	switch app.Cf.Store {
	case config.StoreElasticsearch:
		client, err := elsearch.NewClient(elsearch.Config{
			URI:      app.Cf.ElasticsearchURI,
			User:     app.Cf.ElasticsearchUser,
			Password: app.Cf.ElasticsearchPassword,
			Index:    app.Cf.ElasticsearchIndex,
			Timeout:  setupTimeout,
		})
		if err != nil {
			return err
		}
		app.addCloser("elasticsearch client", func() error {
			client.Stop()
			return nil
		})
		dao := elsearch.NewProductDao(client, app.Cf.ElasticsearchIndex)
		if err := dao.EnsureIndex(ctx); err != nil {
			return err
		}
		app.Store = dao
	case config.StoreRedis:
		client, err := redis_repo.NewClient(ctx, app.Cf.RedisAddr,
			redis_repo.WithPassword(app.Cf.RedisPassword),
			redis_repo.WithDB(app.Cf.RedisDB),
		)
		if err != nil {
			return err
		}
		app.addCloser("redis client", client.Close)
		app.Store = redis_repo.NewProductRepo(client, redis_repo.DefaultPrefix)
	case config.StoreMemory:
		app.Store = docstore.NewMemoryStore()
	default:
		return fmt.Errorf("unsupported store %q", app.Cf.Store)
	}

	app.Logger.Info().Msg("Finish setup document store")
	return nil
}

// 兩個 consumer 共用同一個 token bucket
func (app *ApplicationContext) setUpThrottle() error {
	if app.Cf.StoreWriteRate <= 0 {
		return nil
	}
	bucket := ratelimit.NewTokenBucket(ratelimit.Config{
		Capacity:   app.Cf.StoreWriteBurst,
		RatePS:     app.Cf.StoreWriteRate,
		RefillRate: 10 * time.Millisecond,
	})
	app.addCloser("write throttle", func() error {
		bucket.Stop()
		return nil
	})
	app.Store = docstore.NewThrottledStore(app.Store, bucket)
	app.Logger.Info().Float64("rate", app.Cf.StoreWriteRate).Int("burst", app.Cf.StoreWriteBurst).Msg("store writes throttled")
	return nil
}

func (app *ApplicationContext) setUpReconciler() error {
	app.Reconciler = reconciler.NewReconciler(app.Store, app.Logger)
	return nil
}

func (app *ApplicationContext) setUpBroker() error {
	if app.sourcesInjected {
		return nil
	}
	app.Logger.Info().Str("broker", app.Cf.Broker).Msg("Start setup broker")

	switch app.Cf.Broker {
	case config.BrokerRabbitMQ:
		app.setUpRabbitMQ()
	case config.BrokerKafka:
		if err := app.setUpKafka(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported broker %q", app.Cf.Broker)
	}

	app.Logger.Info().Msg("Finish setup broker")
	return nil
}

// channel 與 queue 在第一次 Fetch 時才建立，連線失敗由 consumer 重試
func (app *ApplicationContext) setUpRabbitMQ() {
	conn := rabbitmq_queue.NewConnection(rabbitmq_queue.ConnConfig{
		Host:     app.Cf.RabbitMQHost,
		Port:     app.Cf.RabbitMQPort,
		User:     app.Cf.RabbitMQUser,
		Password: app.Cf.RabbitMQPass,
		Vhost:    app.Cf.RabbitMQVhost,
		Timeout:  setupTimeout,
	})
	app.addCloser("rabbitmq connection", conn.Close)

	app.UpdateSource = rabbitmq_queue.NewSource(conn.Channel, rabbitmq_queue.QueueConfig{
		Name:        app.Cf.UpdateQueue,
		Durable:     app.Cf.UpdateQueueDurable,
		Prefetch:    app.Cf.RabbitMQPrefetch,
		ConsumerTag: "indexer-" + app.Cf.UpdateQueue,
	})
	app.addCloser("update source", app.UpdateSource.Close)

	app.DeleteSource = rabbitmq_queue.NewSource(conn.Channel, rabbitmq_queue.QueueConfig{
		Name:        app.Cf.DeleteQueue,
		Durable:     app.Cf.DeleteQueueDurable,
		Prefetch:    app.Cf.RabbitMQPrefetch,
		ConsumerTag: "indexer-" + app.Cf.DeleteQueue,
	})
	app.addCloser("delete source", app.DeleteSource.Close)

	if app.DeadLetter == nil && app.Cf.DeadLetterQueue != "" {
		dl := rabbitmq_queue.NewDeadLetter(conn.Channel, app.Cf.DeadLetterQueue)
		app.DeadLetter = dl
		app.addCloser("dead letter", dl.Close)
	}
}

func (app *ApplicationContext) kafkaConfig(topic string) *kafka_queue.Config {
	cfg := kafka_queue.DefaultConfig()
	cfg.Brokers = app.Cf.KafkaBrokers
	cfg.Topic = topic
	cfg.ConsumerGroup = app.Cf.KafkaGroupID
	cfg.RetryBackoffMin = app.Cf.RetryBackoffMin
	cfg.RetryBackoffMax = app.Cf.RetryBackoffMax
	cfg.RetryBackoffFactor = app.Cf.RetryBackoffFactor
	return cfg
}

func (app *ApplicationContext) setUpKafka() error {
	update, err := kafka_queue.NewSource(app.kafkaConfig(app.Cf.UpdateQueue))
	if err != nil {
		return err
	}
	app.UpdateSource = update
	app.addCloser("update source", update.Close)

	del, err := kafka_queue.NewSource(app.kafkaConfig(app.Cf.DeleteQueue))
	if err != nil {
		return err
	}
	app.DeleteSource = del
	app.addCloser("delete source", del.Close)

	if app.DeadLetter == nil && app.Cf.DeadLetterQueue != "" {
		dl, err := kafka_queue.NewDeadLetter(app.kafkaConfig(app.Cf.DeadLetterQueue))
		if err != nil {
			return err
		}
		app.DeadLetter = dl
		app.addCloser("dead letter", dl.Close)
	}
	return nil
}

func (app *ApplicationContext) setUpConsumers() error {
	base := consumer.Config{
		ProcessTimeout:     app.Cf.ProcessTimeout,
		RetryBackoffMin:    app.Cf.RetryBackoffMin,
		RetryBackoffMax:    app.Cf.RetryBackoffMax,
		RetryBackoffFactor: app.Cf.RetryBackoffFactor,
	}

	updateCfg := base
	updateCfg.Queue = app.Cf.UpdateQueue
	updateCfg.Kind = decoder.KindUpdate
	app.UpdateConsumer = consumer.New(updateCfg, app.UpdateSource, app.Reconciler, app.DeadLetter, app.Logger)

	deleteCfg := base
	deleteCfg.Queue = app.Cf.DeleteQueue
	deleteCfg.Kind = decoder.KindDelete
	app.DeleteConsumer = consumer.New(deleteCfg, app.DeleteSource, app.Reconciler, app.DeadLetter, app.Logger)
	return nil
}

func (app *ApplicationContext) Start() {
	app.Logger.Info().Str("update_queue", app.Cf.UpdateQueue).Str("delete_queue", app.Cf.DeleteQueue).Msg("Start consumers")
	app.UpdateConsumer.Start()
	app.DeleteConsumer.Start()
}

/*
Shutdown 同時停止兩個 consumer，等處理中的訊息 ack/nack 後
再關閉 source、dead letter 與儲存層連線
*/
func (app *ApplicationContext) Shutdown(ctx context.Context) error {
	app.Logger.Info().Msg("Start application shutdown")

	timeout := app.Cf.ShutdownTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remain := time.Until(deadline); remain < timeout {
			timeout = remain
		}
	}

	var g errgroup.Group
	for _, c := range []*consumer.Consumer{app.UpdateConsumer, app.DeleteConsumer} {
		if c == nil {
			continue
		}
		c := c
		g.Go(func() error {
			return c.Stop(timeout)
		})
	}
	stopErr := g.Wait()
	if stopErr != nil {
		app.Logger.Error().Err(stopErr).Msg("consumer did not stop in time")
	}

	closeErr := app.closeAll()
	app.Logger.Info().Msg("Finish application shutdown")
	return errors.Join(stopErr, closeErr)
}

func (app *ApplicationContext) closeAll() error {
	var errs []error
	for i := len(app.closers) - 1; i >= 0; i-- {
		c := app.closers[i]
		if err := c.close(); err != nil {
			app.Logger.Error().Err(err).Str("resource", c.name).Msg("close failed")
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	app.closers = nil
	return errors.Join(errs...)
}
