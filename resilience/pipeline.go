package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/itsneelabh/bloxgate/core"
	"github.com/itsneelabh/bloxgate/upstream"
)

// CallClass separates cacheable reads from mutations.
type CallClass int

const (
	ClassRead CallClass = iota
	ClassMutate
)

// Call describes one tool invocation to run through the pipeline.
type Call struct {
	Tool    string
	Service string // upstream service family, selects the breaker
	Class   CallClass

	// CacheTTL enables the cache stage for read calls. Zero disables
	// caching for this call.
	CacheTTL time.Duration
	// CacheArgs are the validated arguments with defaults applied; the
	// cache key is derived from them.
	CacheArgs map[string]interface{}

	// RetryConflict opts 409 responses into the retry loop.
	RetryConflict bool

	Do func(ctx context.Context) (json.RawMessage, error)
}

// Result carries the call outcome plus pipeline metadata.
type Result struct {
	Data     json.RawMessage
	Cached   bool
	Attempts int
	Duration time.Duration
}

// Observer receives one record per completed call, one per cache lookup, and
// one per scheduled retry.
type Observer interface {
	ObserveCall(tool, service, outcome string, cached bool, duration time.Duration)
	ObserveCache(tool string, hit bool)
	ObserveRetry(tool, service string)
}

// Pipeline composes the stages every upstream-bound call passes through:
// deadline, breaker gate, cache lookup, retried execution, breaker update,
// cache insert, observation. Mutations skip the cache stages.
type Pipeline struct {
	breakers *BreakerGroup
	cache    Cache
	retry    RetryConfig
	timeout  time.Duration
	logger   core.Logger
	observer Observer
	tracer   trace.Tracer
}

// NewPipeline builds a pipeline. A nil cache disables caching, a nil
// observer disables metrics emission.
func NewPipeline(breakers *BreakerGroup, cache Cache, retry RetryConfig, timeout time.Duration, logger core.Logger, observer Observer) *Pipeline {
	if cache == nil {
		cache = NoOpCache{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Pipeline{
		breakers: breakers,
		cache:    cache,
		retry:    retry,
		timeout:  timeout,
		logger:   logger,
		observer: observer,
		tracer:   otel.Tracer("bloxgate/resilience"),
	}
}

// Breakers exposes the breaker group for the admin surface.
func (p *Pipeline) Breakers() *BreakerGroup { return p.breakers }

// Cache exposes cache stats for the admin surface.
func (p *Pipeline) Cache() Cache { return p.cache }

// Execute runs one call through the pipeline.
func (p *Pipeline) Execute(ctx context.Context, call Call) (*Result, error) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := p.tracer.Start(ctx, "tool."+call.Tool, trace.WithAttributes(
		attribute.String("tool.name", call.Tool),
		attribute.String("upstream.service", call.Service),
	))
	defer span.End()

	cacheable := call.Class == ClassRead && call.CacheTTL > 0
	var cacheKey string
	if cacheable {
		cacheKey = CacheKey(call.CacheArgs)
		if data, ok := p.cache.Get(ctx, call.Tool, cacheKey); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			result := &Result{Data: data, Cached: true, Duration: time.Since(start)}
			if p.observer != nil {
				p.observer.ObserveCache(call.Tool, true)
			}
			p.observe(call, "success", true, result.Duration)
			p.logger.Debug("cache_hit", map[string]interface{}{
				"tool": call.Tool,
			})
			return result, nil
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
		if p.observer != nil {
			p.observer.ObserveCache(call.Tool, false)
		}
		p.logger.Debug("cache_miss", map[string]interface{}{
			"tool": call.Tool,
		})
	}

	breaker := p.breakers.Get(call.Service)

	var data json.RawMessage
	attempts := 0
	retryCfg := p.retry
	retryCfg.RetryConflict = call.RetryConflict
	if p.observer != nil {
		retryCfg.OnRetry = func(attempt int, err error) {
			p.observer.ObserveRetry(call.Tool, call.Service)
		}
	}

	err := Retry(ctx, retryCfg, p.logger, func(ctx context.Context) error {
		attempts++
		if err := breaker.Allow(); err != nil {
			return err
		}
		var callErr error
		data, callErr = call.Do(ctx)
		if callErr == nil {
			breaker.RecordSuccess()
			return nil
		}
		if upstream.CountsTowardBreaker(callErr) {
			breaker.RecordFailure()
		}
		return callErr
	})

	duration := time.Since(start)
	if err != nil {
		outcome := classifyOutcome(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		p.observe(call, outcome, false, duration)
		p.logger.Error("tool_failed", map[string]interface{}{
			"tool":        call.Tool,
			"service":     call.Service,
			"outcome":     outcome,
			"attempts":    attempts,
			"duration_ms": duration.Milliseconds(),
			"error":       err.Error(),
		})
		return nil, err
	}

	if cacheable {
		p.cache.Set(ctx, call.Tool, cacheKey, data, call.CacheTTL)
	}

	span.SetStatus(codes.Ok, "")
	p.observe(call, "success", false, duration)
	p.logger.Info("tool_call_completed", map[string]interface{}{
		"tool":        call.Tool,
		"service":     call.Service,
		"attempts":    attempts,
		"duration_ms": duration.Milliseconds(),
	})
	return &Result{Data: data, Attempts: attempts, Duration: duration}, nil
}

func (p *Pipeline) observe(call Call, outcome string, cached bool, duration time.Duration) {
	if p.observer != nil {
		p.observer.ObserveCall(call.Tool, call.Service, outcome, cached, duration)
	}
}

func classifyOutcome(err error) string {
	var cl *upstream.ClientError
	var rl *upstream.RateLimitedError
	var to *upstream.TimeoutError
	switch {
	case errors.Is(err, core.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &to):
		return "timeout"
	case errors.Is(err, context.Canceled), errors.Is(err, upstream.ErrCanceled):
		return "canceled"
	case errors.Is(err, core.ErrMaxRetriesExceeded):
		return "retries_exhausted"
	case errors.As(err, &rl):
		return "rate_limited"
	case errors.As(err, &cl):
		return "client_error"
	default:
		return "upstream_error"
	}
}
