package backend

import (
	"context"
	"errors"
	"time"

	filecache "github.com/wolfeidau/file-cache"
	"github.com/wolfeidau/file-cache/telemetry"
)

// missMarker is passed as the default to the wrapped cache so a miss can be
// told apart from any stored value.
type missMarker struct{}

var miss = &missMarker{}

// InstrumentedCache wraps a Cache with metrics recording.
type InstrumentedCache struct {
	cache filecache.Cache
	name  string
}

// NewInstrumentedCache creates a new instrumented cache wrapper.
func NewInstrumentedCache(c filecache.Cache, name string) *InstrumentedCache {
	return &InstrumentedCache{cache: c, name: name}
}

func (ic *InstrumentedCache) Get(ctx context.Context, key string, def any) (any, error) {
	start := time.Now()
	v, err := ic.cache.Get(ctx, key, miss)
	outcome := outcomeFromError(err)
	if err == nil {
		outcome = telemetry.OutcomeHit
		if v == miss {
			outcome = telemetry.OutcomeMiss
			v = def
		}
	}
	telemetry.RecordCacheOp(ctx, ic.name, "get", outcome, time.Since(start))
	return v, err
}

func (ic *InstrumentedCache) Set(ctx context.Context, key string, value any, ttl filecache.TTL) error {
	start := time.Now()
	err := ic.cache.Set(ctx, key, value, ttl)
	telemetry.RecordCacheOp(ctx, ic.name, "set", outcomeFromError(err), time.Since(start))
	return err
}

func (ic *InstrumentedCache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := ic.cache.Delete(ctx, key)
	telemetry.RecordCacheOp(ctx, ic.name, "delete", outcomeFromError(err), time.Since(start))
	return err
}

func (ic *InstrumentedCache) Clear(ctx context.Context) error {
	start := time.Now()
	err := ic.cache.Clear(ctx)
	telemetry.RecordCacheOp(ctx, ic.name, "clear", outcomeFromError(err), time.Since(start))
	return err
}

func (ic *InstrumentedCache) GetMultiple(ctx context.Context, keys []string, def any) (map[string]any, error) {
	start := time.Now()
	values, err := ic.cache.GetMultiple(ctx, keys, def)
	telemetry.RecordCacheOp(ctx, ic.name, "get_multiple", outcomeFromError(err), time.Since(start))
	return values, err
}

func (ic *InstrumentedCache) SetMultiple(ctx context.Context, values map[string]any, ttl filecache.TTL) error {
	start := time.Now()
	err := ic.cache.SetMultiple(ctx, values, ttl)
	telemetry.RecordCacheOp(ctx, ic.name, "set_multiple", outcomeFromError(err), time.Since(start))
	return err
}

func (ic *InstrumentedCache) DeleteMultiple(ctx context.Context, keys []string) error {
	start := time.Now()
	err := ic.cache.DeleteMultiple(ctx, keys)
	telemetry.RecordCacheOp(ctx, ic.name, "delete_multiple", outcomeFromError(err), time.Since(start))
	return err
}

func (ic *InstrumentedCache) Has(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := ic.cache.Has(ctx, key)
	outcome := outcomeFromError(err)
	if err == nil {
		outcome = telemetry.OutcomeMiss
		if ok {
			outcome = telemetry.OutcomeHit
		}
	}
	telemetry.RecordCacheOp(ctx, ic.name, "has", outcome, time.Since(start))
	return ok, err
}

func (ic *InstrumentedCache) Increment(ctx context.Context, key string, step int64) (int64, error) {
	start := time.Now()
	n, err := ic.cache.Increment(ctx, key, step)
	telemetry.RecordCacheOp(ctx, ic.name, "increment", outcomeFromError(err), time.Since(start))
	return n, err
}

func (ic *InstrumentedCache) Decrement(ctx context.Context, key string, step int64) (int64, error) {
	start := time.Now()
	n, err := ic.cache.Decrement(ctx, key, step)
	telemetry.RecordCacheOp(ctx, ic.name, "decrement", outcomeFromError(err), time.Since(start))
	return n, err
}

func (ic *InstrumentedCache) CleanExpired(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := ic.cache.CleanExpired(ctx)
	duration := time.Since(start)
	telemetry.RecordCacheOp(ctx, ic.name, "clean_expired", outcomeFromError(err), duration)
	telemetry.RecordSweep(ctx, ic.name, n, duration)
	return n, err
}

// Unwrap returns the underlying cache.
func (ic *InstrumentedCache) Unwrap() filecache.Cache {
	return ic.cache
}

func outcomeFromError(err error) string {
	if err == nil {
		return telemetry.OutcomeSuccess
	}
	var verr *filecache.ValidationError
	if errors.As(err, &verr) {
		return telemetry.OutcomeInvalid
	}
	return telemetry.OutcomeError
}

// Compile-time interface checks
var _ filecache.Cache = (*InstrumentedCache)(nil)
