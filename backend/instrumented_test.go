package backend

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	filecache "github.com/wolfeidau/file-cache"
	"github.com/wolfeidau/file-cache/telemetry"
)

func newTestInstrumentedCache(t *testing.T) *InstrumentedCache {
	t.Helper()
	fs, cleanup := newTestFilesystem(t)
	t.Cleanup(cleanup)
	return NewInstrumentedCache(fs, "filesystem")
}

func TestInstrumentedCache_GetHitAndMiss(t *testing.T) {
	ic := newTestInstrumentedCache(t)
	ctx := context.Background()

	require.NoError(t, ic.Set(ctx, "key", "value", filecache.DefaultTTL))

	got, err := ic.Get(ctx, "key", "default")
	require.NoError(t, err)
	require.Equal(t, "value", got)

	got, err = ic.Get(ctx, "missing", "default")
	require.NoError(t, err)
	require.Equal(t, "default", got)
}

func TestInstrumentedCache_GetStoredMapIsNotAMiss(t *testing.T) {
	ic := newTestInstrumentedCache(t)
	ctx := context.Background()

	want := map[string]any{"a": int64(1)}
	require.NoError(t, ic.Set(ctx, "map", want, filecache.DefaultTTL))

	got, err := ic.Get(ctx, "map", nil)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestInstrumentedCache_Delegates(t *testing.T) {
	ic := newTestInstrumentedCache(t)
	ctx := context.Background()

	require.NoError(t, ic.SetMultiple(ctx, map[string]any{"a": 1, "b": 2}, filecache.DefaultTTL))

	values, err := ic.GetMultiple(ctx, []string{"a", "b"}, nil)
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": 1, "b": 2}, values)

	ok, err := ic.Has(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	n, err := ic.Increment(ctx, "n", 5)
	require.NoError(t, err)
	require.EqualValues(t, 5, n)

	n, err = ic.Decrement(ctx, "n", 2)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	require.NoError(t, ic.Delete(ctx, "a"))
	require.NoError(t, ic.DeleteMultiple(ctx, []string{"b"}))

	removed, err := ic.CleanExpired(ctx)
	require.NoError(t, err)
	require.Zero(t, removed)

	require.NoError(t, ic.Clear(ctx))

	ok, err = ic.Has(ctx, "n")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestInstrumentedCache_Unwrap(t *testing.T) {
	fs, cleanup := newTestFilesystem(t)
	defer cleanup()

	ic := NewInstrumentedCache(fs, "filesystem")
	require.Same(t, fs, ic.Unwrap())
}

func TestOutcomeFromError(t *testing.T) {
	require.Equal(t, telemetry.OutcomeSuccess, outcomeFromError(nil))
	require.Equal(t, telemetry.OutcomeInvalid, outcomeFromError(filecache.ValidateKey("a:b")))
	require.Equal(t, telemetry.OutcomeInvalid, outcomeFromError(fmt.Errorf("wrap: %w", filecache.ValidateKey(""))))
	require.Equal(t, telemetry.OutcomeError, outcomeFromError(errors.New("some other error")))
}
