package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	Capacity   int           // 桶子容量, 也就是允許的 burst
	RatePS     float64       // tokens/秒
	RefillRate time.Duration // 補充時間間隔
}

func DefaultConfig() Config {
	return Config{
		Capacity:   100,
		RatePS:     100,
		RefillRate: 10 * time.Millisecond,
	}
}

/*
TokenBucket 由背景 goroutine 定期補充 token
請使用 defer 呼叫 Stop()
*/
type TokenBucket struct {
	cfg          Config
	current      atomic.Int64
	lastRefilled atomic.Int64
	remainder    float64 // 不足一個 token 的部分, 只由背景 goroutine 存取
	cancel       chan struct{}
	once         sync.Once
}

func NewTokenBucket(cfg Config) *TokenBucket {
	def := DefaultConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.RatePS <= 0 {
		cfg.RatePS = def.RatePS
	}
	if cfg.RefillRate <= 0 {
		cfg.RefillRate = def.RefillRate
	}

	t := &TokenBucket{
		cfg:    cfg,
		cancel: make(chan struct{}),
	}
	t.current.Store(int64(cfg.Capacity))
	t.lastRefilled.Store(time.Now().UnixNano())
	go t.background()
	return t
}

func (t *TokenBucket) Allow() bool {
	for {
		current := t.current.Load()
		if current <= 0 {
			return false
		}
		if t.current.CompareAndSwap(current, current-1) {
			return true
		}
	}
}

// Wait 等到拿到 token 或 ctx 結束
func (t *TokenBucket) Wait(ctx context.Context) error {
	if t.Allow() {
		return nil
	}

	ticker := time.NewTicker(t.cfg.RefillRate)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.cancel:
			// 已停止就不再限流
			return nil
		case <-ticker.C:
			if t.Allow() {
				return nil
			}
		}
	}
}

func (t *TokenBucket) Available() int {
	return int(t.current.Load())
}

func (t *TokenBucket) countNewTokens(now int64) int64 {
	elapsed := time.Duration(now - t.lastRefilled.Load())
	tokens := elapsed.Seconds()*t.cfg.RatePS + t.remainder
	whole := int64(tokens)
	t.remainder = tokens - float64(whole)
	return whole
}

func (t *TokenBucket) background() {
	ticker := time.NewTicker(t.cfg.RefillRate)
	defer ticker.Stop()

	for {
		select {
		case <-t.cancel:
			return
		case <-ticker.C:
			now := time.Now().UnixNano()
			toAdd := t.countNewTokens(now)
			t.lastRefilled.Store(now)
			if toAdd == 0 {
				continue
			}
			for {
				current := t.current.Load()
				newTokens := current + toAdd
				if newTokens > int64(t.cfg.Capacity) {
					newTokens = int64(t.cfg.Capacity)
					t.remainder = 0
				}
				if t.current.CompareAndSwap(current, newTokens) {
					break
				}
			}
		}
	}
}

func (t *TokenBucket) Stop() {
	t.once.Do(func() {
		close(t.cancel)
	})
}
