package llm

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sprite-ai/mistborn/internal/metrics"
)

// Middleware decorates a Client with a cross-cutting concern.
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order: Wrap(c, A, B) == A(B(c)).
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		out = mws[i](out)
	}
	return out
}

// -------- Timeout --------

// WithTimeout bounds every call. d <= 0 disables it.
func WithTimeout(d time.Duration) Middleware {
	return func(next Client) Client {
		if d <= 0 {
			return next
		}
		return &timed{next: next, d: d}
	}
}

type timed struct {
	next Client
	d    time.Duration
}

func (t *timed) Complete(ctx context.Context, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.next.Complete(ctx, prompt)
	return out, serviceError("complete", err)
}

func (t *timed) Embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, t.d)
	defer cancel()
	out, err := t.next.Embed(ctx, text)
	return out, serviceError("embed", err)
}

// -------- Rate limiting --------

// RateLimit throttles calls to rps with the given burst. rps <= 0 disables it.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		if rps <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		return &rateLimited{next: next, rl: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type rateLimited struct {
	next Client
	rl   *rate.Limiter
}

func (r *rateLimited) Complete(ctx context.Context, prompt string) (string, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return "", serviceError("complete", err)
	}
	return r.next.Complete(ctx, prompt)
}

func (r *rateLimited) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := r.rl.Wait(ctx); err != nil {
		return nil, serviceError("embed", err)
	}
	return r.next.Embed(ctx, text)
}

// -------- Logging & metrics --------

// WithLogging logs request sizes, latency and errors, and records them in
// the Prometheus collectors.
func WithLogging(log *zap.Logger) Middleware {
	if log == nil {
		log = zap.NewNop()
	}
	return func(next Client) Client {
		return &logging{next: next, log: log.Named("llm")}
	}
}

type logging struct {
	next Client
	log  *zap.Logger
}

func (l *logging) Complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	out, err := l.next.Complete(ctx, prompt)
	l.observe("complete", start, len(prompt), len(out), err)
	return out, err
}

func (l *logging) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	out, err := l.next.Embed(ctx, text)
	l.observe("embed", start, len(text), len(out), err)
	return out, err
}

func (l *logging) observe(op string, start time.Time, in, out int, err error) {
	elapsed := time.Since(start)
	metrics.ModelLatency.WithLabelValues(op).Observe(elapsed.Seconds())
	if err != nil {
		metrics.ModelCalls.WithLabelValues(op, metrics.OutcomeError).Inc()
		l.log.Warn("model call failed", zap.String("op", op), zap.Duration("elapsed", elapsed), zap.Error(err))
		return
	}
	metrics.ModelCalls.WithLabelValues(op, metrics.OutcomeOK).Inc()
	l.log.Debug("model call", zap.String("op", op), zap.Int("in", in), zap.Int("out", out), zap.Duration("elapsed", elapsed))
}

// -------- Embedding cache --------

// CacheEmbeddings memoizes Embed results for the last size distinct texts.
// Completions are never cached.
func CacheEmbeddings(size int) Middleware {
	return func(next Client) Client {
		if size <= 0 {
			return next
		}
		cache, err := lru.New[string, []float32](size)
		if err != nil {
			panic(fmt.Sprintf("llm: embedding cache: %v", err))
		}
		return &cachedEmbeddings{next: next, cache: cache}
	}
}

type cachedEmbeddings struct {
	next  Client
	cache *lru.Cache[string, []float32]
}

func (c *cachedEmbeddings) Complete(ctx context.Context, prompt string) (string, error) {
	return c.next.Complete(ctx, prompt)
}

func (c *cachedEmbeddings) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		metrics.EmbedCacheHits.Inc()
		return v, nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, v)
	return v, nil
}
