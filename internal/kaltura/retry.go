package kaltura

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/zoharbabin/video-exploratorium/internal/logger"
)

// Kind 单次尝试的结果分类
type Kind int

const (
	KindOk Kind = iota
	KindRetryable
	KindFatal
)

// Result 一次受保护尝试的结果：Ok(value) | Retryable(err) | Fatal(err)
type Result[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

func Ok[T any](v T) Result[T]              { return Result[T]{Kind: KindOk, Value: v} }
func Retryable[T any](err error) Result[T] { return Result[T]{Kind: KindRetryable, Err: err} }
func Fatal[T any](err error) Result[T]     { return Result[T]{Kind: KindFatal, Err: err} }

// Retrier 有界重试策略。MaxRetries 为总尝试次数，最后一次尝试不受保护，错误直接返回。
type Retrier struct {
	MaxRetries   int
	Delay        time.Duration
	Backoff      float64
	NonRetryable map[string]bool

	sleeper func(context.Context, time.Duration) error
}

// RetrierOption 自定义 Retrier
type RetrierOption func(*Retrier)

// WithSleeper 替换重试等待的实现（测试中使用）
func WithSleeper(sleeper func(context.Context, time.Duration) error) RetrierOption {
	return func(r *Retrier) {
		r.sleeper = sleeper
	}
}

func NewRetrier(maxRetries int, delay time.Duration, backoff float64, nonRetryable []string, opts ...RetrierOption) *Retrier {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if backoff < 1 {
		backoff = 1
	}
	codes := make(map[string]bool, len(nonRetryable))
	for _, code := range nonRetryable {
		codes[code] = true
	}
	r := &Retrier{
		MaxRetries:   maxRetries,
		Delay:        delay,
		Backoff:      backoff,
		NonRetryable: codes,
		sleeper:      sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Classify 将一次尝试的返回值归类
func Classify[T any](r *Retrier, v T, err error) Result[T] {
	if err == nil {
		return Ok(v)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Fatal[T](err)
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if r.NonRetryable[apiErr.Code] {
			return Fatal[T](err)
		}
		return Retryable[T](err)
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return Retryable[T](err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Retryable[T](err)
	}
	return Fatal[T](err)
}

// Do 按 Retrier 的策略执行 fn
func Do[T any](ctx context.Context, r *Retrier, op string, fn func(context.Context) (T, error)) (T, error) {
	tries, delay := r.MaxRetries, r.Delay
	for tries > 1 {
		v, err := fn(ctx)
		res := Classify(r, v, err)
		switch res.Kind {
		case KindOk:
			return res.Value, nil
		case KindFatal:
			return res.Value, res.Err
		}

		attempt := r.MaxRetries - tries + 1
		logger.Warnf("[Kaltura] %s 第 %d 次调用失败, %v, %v 后重试", op, attempt, res.Err, delay)
		if err := r.sleeper(ctx, delay); err != nil {
			var zero T
			return zero, err
		}
		tries--
		delay = time.Duration(float64(delay) * r.Backoff)
	}

	// 最后一次尝试，失败直接返回
	return fn(ctx)
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
