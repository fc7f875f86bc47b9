package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/config"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/errs"
	"github.com/EdgarTomas2001/FinGPT-Ollama/internal/logging"
)

// CallFunc is one invocation of an external dependency.
type CallFunc func(ctx context.Context) (interface{}, error)

// Dependency bundles the protection applied to one external endpoint.
type Dependency struct {
	name    string
	limiter *RateLimiter
	breaker *CircuitBreaker
	retry   RetryPolicy
	timeout time.Duration
}

// DependencyStats is the monitoring view of one guarded dependency.
type DependencyStats struct {
	Breaker   BreakerStats     `json:"breaker"`
	RateLimit RateLimiterStats `json:"rate_limit"`
}

// Layer gatekeeps every external call behind a fixed middleware order:
// cache lookup, rate-limit admission, circuit-breaker gate, then invocation
// with timeout and bounded retry. One Layer is shared by all workers; its
// cache, limiters and breakers are concurrent-safe.
type Layer struct {
	cfg    *config.Config
	cache  *Cache
	logger logging.Logger

	mu   sync.RWMutex
	deps map[string]*Dependency
}

// NewLayer builds a layer and registers every dependency configured under
// resilience.dependencies.
func NewLayer(cfg *config.Config, logger logging.Logger) *Layer {
	l := &Layer{
		cfg:    cfg,
		cache:  NewCache(cfg.Resilience.Cache.MaxSize, cfg.Resilience.Cache.TTL),
		logger: logger.WithComponent("resilience"),
		deps:   make(map[string]*Dependency),
	}
	for name, dc := range cfg.Resilience.Dependencies {
		l.Register(name, dc)
	}
	return l
}

// Register installs protection for a dependency id, replacing any previous
// registration.
func (l *Layer) Register(name string, dc config.DependencyConfig) {
	dep := newDependency(name, dc, l.logger)
	l.mu.Lock()
	l.deps[name] = dep
	l.mu.Unlock()
}

func newDependency(name string, dc config.DependencyConfig, logger logging.Logger) *Dependency {
	return &Dependency{
		name:    name,
		limiter: NewRateLimiter(dc.RateLimit.MaxCalls, dc.RateLimit.Interval),
		breaker: NewCircuitBreaker(name, dc.Breaker.FailureThreshold, dc.Breaker.ResetTimeout, logger),
		retry: RetryPolicy{
			MaxRetries:    dc.Retry.MaxRetries,
			InitialDelay:  dc.Retry.InitialDelay,
			MaxDelay:      dc.Retry.MaxDelay,
			BackoffFactor: dc.Retry.BackoffFactor,
			JitterEnabled: true,
		},
		timeout: dc.Timeout,
	}
}

// dependency returns the protection for a dependency id, lazily installing
// conservative defaults for ids that were never configured.
func (l *Layer) dependency(name string) *Dependency {
	l.mu.RLock()
	dep, ok := l.deps[name]
	l.mu.RUnlock()
	if ok {
		return dep
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if dep, ok := l.deps[name]; ok {
		return dep
	}
	l.logger.WithDependency(name).Warn("dependency not configured, applying default protection")
	dep = newDependency(name, l.cfg.DependencyOrDefault(name), l.logger)
	l.deps[name] = dep
	return dep
}

// Call runs fn behind the dependency's full protection chain. A non-empty
// key enables caching of successful results. Rate-limit and breaker denials
// surface as Unavailable, distinct from call failures, and never count
// against the breaker. Dependencies never registered get default protection
// on first use.
func (l *Layer) Call(ctx context.Context, dependency, key string, fn CallFunc) (interface{}, error) {
	dep := l.dependency(dependency)

	if key != "" {
		if v, hit := l.cache.Get(cacheKey(dependency, key)); hit {
			return v, nil
		}
	}

	if !dep.limiter.Admit() {
		return nil, errs.Newf(errs.KindUnavailable, "rate limit exceeded for %s", dependency)
	}

	if !dep.breaker.Allow() {
		return nil, errs.Newf(errs.KindUnavailable, "circuit breaker open for %s", dependency)
	}

	v, err := l.invoke(ctx, dep, fn)
	if err != nil {
		return nil, err
	}

	if key != "" {
		l.cache.Put(cacheKey(dependency, key), v)
	}
	return v, nil
}

// invoke runs fn with timeout and bounded retry, reporting every attempt's
// outcome to the breaker. Only transient failures are retried.
func (l *Layer) invoke(ctx context.Context, dep *Dependency, fn CallFunc) (interface{}, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, dep.timeout)
		v, err := fn(attemptCtx)
		cancel()

		err = classify(err)
		if err == nil {
			dep.breaker.RecordSuccess()
			return v, nil
		}

		// Every attempt resolves the breaker one way or the other; a
		// half-open trial slot must never outlive its call.
		if errs.CountsAgainstBreaker(err) {
			dep.breaker.RecordFailure()
		} else {
			dep.breaker.RecordNonCounting()
		}
		lastErr = err

		if !errs.IsTransient(err) || attempt >= dep.retry.MaxRetries {
			return nil, lastErr
		}

		l.logger.WithDependency(dep.name).WithFields(map[string]interface{}{
			"attempt": attempt + 1,
			"error":   err.Error(),
		}).Warn("transient failure, retrying")

		// The half-open trial slot was released by RecordFailure; when the
		// breaker reopened we stop retrying instead of hammering it.
		if dep.breaker.State() == Open {
			return nil, lastErr
		}
		if !dep.breaker.Allow() {
			return nil, lastErr
		}

		if err := sleep(ctx, dep.retry.Delay(attempt)); err != nil {
			return nil, errs.Wrap(errs.KindTransient, "retry interrupted", err)
		}
	}
}

// classify maps raw transport errors onto the taxonomy. Deadline and
// cancellation become transient timeouts; already-classified errors pass
// through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errs.KindOf(err) != errs.KindUnknown {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTransient, "call timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindTransient, "call cancelled", err)
	}
	return errs.Wrap(errs.KindConnection, "call failed", err)
}

// Invalidate drops a cached result so the next call goes through to the
// dependency again.
func (l *Layer) Invalidate(dependency, key string) {
	l.cache.Delete(cacheKey(dependency, key))
}

// Breaker returns the breaker guarding a dependency, or nil.
func (l *Layer) Breaker(dependency string) *CircuitBreaker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if dep, ok := l.deps[dependency]; ok {
		return dep.breaker
	}
	return nil
}

// CacheStats returns the shared cache counters.
func (l *Layer) CacheStats() CacheStats {
	return l.cache.Stats()
}

// Stats returns per-dependency monitoring data.
func (l *Layer) Stats() map[string]DependencyStats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]DependencyStats, len(l.deps))
	for name, dep := range l.deps {
		out[name] = DependencyStats{
			Breaker:   dep.breaker.Stats(),
			RateLimit: dep.limiter.Stats(),
		}
	}
	return out
}

func cacheKey(dependency, key string) string {
	return dependency + ":" + key
}
