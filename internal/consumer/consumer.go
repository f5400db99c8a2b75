package consumer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/RoyceAzure/lab/rj_indexer/internal/decoder"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/docstore"
	"github.com/RoyceAzure/lab/rj_indexer/internal/infra/queue"
	"github.com/RoyceAzure/lab/rj_indexer/internal/model"
	"github.com/RoyceAzure/lab/rj_indexer/internal/reconciler"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrStopTimeout = errors.New("consumer stop timeout")

type Reconciler interface {
	ApplyUpdate(ctx context.Context, incoming model.Product) (reconciler.Outcome, error)
	ApplyDelete(ctx context.Context, id int) (reconciler.Outcome, error)
}

type State int32

const (
	StateIdle State = iota
	StateFetching
	StateDecoding
	StateReconciling
	StateAcking
	StateNacking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StateDecoding:
		return "decoding"
	case StateReconciling:
		return "reconciling"
	case StateAcking:
		return "acking"
	case StateNacking:
		return "nacking"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

type Config struct {
	Queue              string
	Kind               decoder.Kind
	ProcessTimeout     time.Duration
	RetryBackoffMin    time.Duration
	RetryBackoffMax    time.Duration
	RetryBackoffFactor float64
}

func (c *Config) setDefaults() {
	if c.ProcessTimeout <= 0 {
		c.ProcessTimeout = 10 * time.Second
	}
	if c.RetryBackoffMin <= 0 {
		c.RetryBackoffMin = 100 * time.Millisecond
	}
	if c.RetryBackoffMax < c.RetryBackoffMin {
		c.RetryBackoffMax = c.RetryBackoffMin
	}
	if c.RetryBackoffFactor < 1 {
		c.RetryBackoffFactor = 2
	}
}

// Consumer 每個 queue 一個，單一 goroutine 依序處理訊息
// fetch -> decode -> reconcile -> ack/nack
type Consumer struct {
	cfg        Config
	source     queue.Source
	reconciler Reconciler
	deadLetter queue.DeadLetter
	logger     zerolog.Logger

	state     atomic.Int32
	isRunning atomic.Bool
	stopping  atomic.Bool
	failures  int // 連續 fetch 失敗次數, 只由 loop goroutine 存取
	ctx       context.Context
	cancel    context.CancelFunc
	isStopped chan struct{}
}

// deadLetter 可以為 nil
func New(cfg Config, source queue.Source, r Reconciler, deadLetter queue.DeadLetter, logger *zerolog.Logger) *Consumer {
	if source == nil || r == nil {
		panic("consumer: source and reconciler are required")
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	cfg.setDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	return &Consumer{
		ctx:        ctx,
		cancel:     cancel,
		cfg:        cfg,
		source:     source,
		reconciler: r,
		deadLetter: deadLetter,
		logger:     logger.With().Str("component", "consumer").Str("queue", cfg.Queue).Logger(),
		isStopped:  make(chan struct{}),
	}
}

// Start 只能啟動一次，Stop 之後不可再啟動
func (c *Consumer) Start() {
	if c.stopping.Load() || !c.isRunning.CompareAndSwap(false, true) {
		return
	}
	go c.run(c.ctx)
}

/*
Stop 取消 fetch，正在處理的訊息會處理完並 ack/nack 後才退出
timeout 內沒有退出回傳 ErrStopTimeout
*/
func (c *Consumer) Stop(timeout time.Duration) error {
	if !c.isRunning.CompareAndSwap(true, false) {
		return nil
	}
	c.stopping.Store(true)
	c.cancel()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.isStopped:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: queue %s", ErrStopTimeout, c.cfg.Queue)
	}
}

// C 在 loop 結束時關閉
func (c *Consumer) C() <-chan struct{} {
	return c.isStopped
}

func (c *Consumer) State() State {
	return State(c.state.Load())
}

func (c *Consumer) setState(s State) {
	c.state.Store(int32(s))
}

func (c *Consumer) run(ctx context.Context) {
	defer func() {
		if c.stopping.Load() {
			c.setState(StateStopped)
		} else {
			c.setState(StateIdle)
		}
		close(c.isStopped)
	}()

	c.logger.Info().Msg("consumer started")

	for {
		if ctx.Err() != nil {
			c.logger.Info().Msg("consumer stopping")
			return
		}

		c.setState(StateFetching)
		d, err := c.source.Fetch(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrSourceClosed) {
				c.logger.Info().Msg("source closed, consumer exit")
				return
			}
			if ctx.Err() != nil {
				c.logger.Info().Msg("consumer stopping")
				return
			}

			fatal := queue.IsFatal(err)
			c.logger.Error().Err(err).Bool("fatal", fatal).Msg("fetch message failed")
			c.setState(StateIdle)
			if !c.retryBackoff(ctx, fatal) {
				return
			}
			continue
		}

		c.failures = 0
		c.handle(d)
		c.setState(StateIdle)
	}
}

// 連續失敗時指數退避，權限類錯誤直接等最大間隔
// ctx 結束回傳 false
func (c *Consumer) retryBackoff(ctx context.Context, fatal bool) bool {
	c.failures++
	delay := c.backoff(c.failures)
	if fatal {
		delay = c.cfg.RetryBackoffMax
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Consumer) backoff(attempt int) time.Duration {
	if attempt <= 1 {
		return c.cfg.RetryBackoffMin
	}
	d := float64(c.cfg.RetryBackoffMin) * math.Pow(c.cfg.RetryBackoffFactor, float64(attempt-1))
	if d > float64(c.cfg.RetryBackoffMax) {
		return c.cfg.RetryBackoffMax
	}
	return time.Duration(d)
}

// 處理中的訊息不受 shutdown 影響，只受 ProcessTimeout 限制
func (c *Consumer) handle(d queue.Delivery) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), c.cfg.ProcessTimeout)
	defer cancel()

	logger := c.logger.With().
		Str("trace_id", uuid.NewString()).
		Str("delivery", d.Key()).
		Logger()

	if c.process(ctx, d, &logger) {
		c.setState(StateAcking)
		if err := d.Ack(ctx); err != nil {
			logger.Error().Err(err).Msg("ack failed")
		}
		return
	}

	c.setState(StateNacking)
	if err := d.Nack(ctx); err != nil {
		logger.Error().Err(err).Msg("nack failed")
	}
}

// 回傳 true 表示 ack
func (c *Consumer) process(ctx context.Context, d queue.Delivery, logger *zerolog.Logger) (ack bool) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("recovered from panic while processing message")
			ack = false
		}
	}()

	c.setState(StateDecoding)
	body := d.Body()
	event, err := decoder.Decode(c.cfg.Kind, body)
	if err != nil {
		if errors.Is(err, decoder.ErrMalformedPayload) {
			logger.Warn().Err(err).Bytes("payload", body).Msg("drop malformed message")
			c.publishDeadLetter(ctx, d.Key(), body, err, logger)
			return true
		}
		logger.Error().Err(err).Msg("decode message failed")
		return false
	}

	c.setState(StateReconciling)
	var (
		outcome reconciler.Outcome
		id      int
	)
	switch event.Kind {
	case decoder.KindUpdate:
		id = event.Product.ID
		outcome, err = c.reconciler.ApplyUpdate(ctx, event.Product)
	case decoder.KindDelete:
		id = event.ID
		outcome, err = c.reconciler.ApplyDelete(ctx, event.ID)
	default:
		logger.Error().Str("kind", string(event.Kind)).Msg("unsupported event kind")
		return false
	}

	if err != nil {
		if errors.Is(err, docstore.ErrStoreUnavailable) {
			logger.Error().Err(err).Int("product_id", id).Msg("document store unavailable, message will be redelivered")
		} else {
			logger.Error().Err(err).Int("product_id", id).Msg("reconcile failed")
		}
		return false
	}

	logger.Debug().Int("product_id", id).Str("outcome", outcome.String()).Msg("message processed")
	return true
}

func (c *Consumer) publishDeadLetter(ctx context.Context, key string, body []byte, cause error, logger *zerolog.Logger) {
	if c.deadLetter == nil {
		return
	}
	if err := c.deadLetter.Publish(ctx, key, body, cause.Error()); err != nil {
		logger.Error().Err(err).Msg("publish to dead letter failed")
	}
}
