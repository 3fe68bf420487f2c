package store

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

var redisT0 = time.Date(2025, 7, 1, 14, 30, 0, 0, time.UTC)

func TestSnapshotVersion_OrdersLikeLatestPrice(t *testing.T) {
	snap := func(ts time.Time, seq int64) *model.PriceSnapshot {
		return &model.PriceSnapshot{Timestamp: ts, Seq: seq}
	}
	tests := []struct {
		name         string
		older, newer *model.PriceSnapshot
	}{
		{"later timestamp", snap(redisT0, 9), snap(redisT0.Add(time.Second), 1)},
		{"same timestamp higher seq", snap(redisT0, 9), snap(redisT0, 10)},
		{"nanosecond apart", snap(redisT0, 1), snap(redisT0.Add(time.Nanosecond), 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Less(t, snapshotVersion(tt.older), snapshotVersion(tt.newer))
		})
	}
}

// pausingPrices blocks the first armed read after it has loaded its result,
// so a test can slip an append in before the read is cached.
type pausingPrices struct {
	PriceStore
	armed   atomic.Bool
	loaded  chan struct{}
	release chan struct{}
}

func newPausingPrices(inner PriceStore) *pausingPrices {
	return &pausingPrices{PriceStore: inner, loaded: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingPrices) pause() {
	if p.armed.CompareAndSwap(true, false) {
		close(p.loaded)
		<-p.release
	}
}

func (p *pausingPrices) LatestPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error) {
	snap, err := p.PriceStore.LatestPrice(ctx, ticker)
	p.pause()
	return snap, err
}

func (p *pausingPrices) LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	snaps, err := p.PriceStore.LatestPrices(ctx)
	p.pause()
	return snaps, err
}

// testRedis connects to TEST_REDIS_URL, which should point at a scratch
// database.
func testRedis(t *testing.T, ticker string) *redis.Client {
	t.Helper()
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	keys := []string{latestPriceKey(ticker), latestPricesKey, pricesGenKey}
	require.NoError(t, rdb.Del(context.Background(), keys...).Err())
	t.Cleanup(func() {
		rdb.Del(context.Background(), keys...)
		rdb.Close()
	})
	return rdb
}

func appendAt(t *testing.T, s PriceStore, ticker, price string, at time.Time) {
	t.Helper()
	snap := &model.PriceSnapshot{Ticker: ticker, Price: decimal.RequireFromString(price), Timestamp: at, Kind: model.Stock}
	require.NoError(t, s.AppendPrice(context.Background(), snap))
}

func TestCachedPriceStore_SlowReadCannotRestoreSupersededPrice(t *testing.T) {
	const ticker = "CACHETEST"
	ctx := context.Background()
	rdb := testRedis(t, ticker)
	primary := newPausingPrices(NewMemoryStore())
	cached := NewCachedPriceStore(primary, rdb, time.Minute, zerolog.Nop())

	appendAt(t, cached, ticker, "100", redisT0)
	require.NoError(t, rdb.Del(ctx, latestPriceKey(ticker)).Err())

	primary.armed.Store(true)
	done := make(chan *model.PriceSnapshot)
	go func() {
		snap, _ := cached.LatestPrice(ctx, ticker)
		done <- snap
	}()
	<-primary.loaded

	appendAt(t, cached, ticker, "105", redisT0.Add(time.Minute))
	close(primary.release)
	stale := <-done
	require.NotNil(t, stale)
	assert.Equal(t, "100", stale.Price.String())

	got, err := cached.LatestPrice(ctx, ticker)
	require.NoError(t, err)
	assert.Equal(t, "105", got.Price.String())
}

func TestCachedPriceStore_SlowListCannotRestoreSupersededPrices(t *testing.T) {
	const ticker = "CACHETEST"
	ctx := context.Background()
	rdb := testRedis(t, ticker)
	primary := newPausingPrices(NewMemoryStore())
	cached := NewCachedPriceStore(primary, rdb, time.Minute, zerolog.Nop())

	appendAt(t, cached, ticker, "100", redisT0)

	primary.armed.Store(true)
	done := make(chan struct{})
	go func() {
		defer close(done)
		cached.LatestPrices(ctx)
	}()
	<-primary.loaded

	appendAt(t, cached, ticker, "105", redisT0.Add(time.Minute))
	close(primary.release)
	<-done

	got, err := cached.LatestPrices(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "105", got[0].Price.String())
}

func TestCachedPriceStore_OlderAppendKeepsLatest(t *testing.T) {
	const ticker = "CACHETEST"
	ctx := context.Background()
	rdb := testRedis(t, ticker)
	cached := NewCachedPriceStore(NewMemoryStore(), rdb, time.Minute, zerolog.Nop())

	appendAt(t, cached, ticker, "105", redisT0.Add(time.Minute))
	appendAt(t, cached, ticker, "100", redisT0)

	got, err := cached.LatestPrice(ctx, ticker)
	require.NoError(t, err)
	assert.Equal(t, "105", got.Price.String())
}
