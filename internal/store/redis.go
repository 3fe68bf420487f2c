package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/peterluvCS/portfolio-manager/internal/model"
)

// CachedPriceStore wraps a primary PriceStore with a Redis cache of latest
// prices. Appends go to the primary store and then write the ticker's new
// latest through; reads check Redis first then fall back to the primary.
// Ledger reads are never cached.
//
// Per-ticker entries carry a (timestamp, seq) version and are only ever
// replaced by a newer one, so a slow read-through cannot put back a price
// an append has superseded. The all-tickers entry is tied to a generation
// counter that every append bumps.
type CachedPriceStore struct {
	primary PriceStore
	rdb     *redis.Client
	ttl     time.Duration
	log     zerolog.Logger
}

// NewCachedPriceStore creates a cached wrapper around a primary price store.
func NewCachedPriceStore(primary PriceStore, rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *CachedPriceStore {
	return &CachedPriceStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		log:     log.With().Str("component", "price_cache").Logger(),
	}
}

// --- Write-through ---

func (s *CachedPriceStore) AppendPrice(ctx context.Context, snap *model.PriceSnapshot) error {
	if err := s.primary.AppendPrice(ctx, snap); err != nil {
		return err
	}

	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, pricesGenKey)
		p.Del(ctx, latestPricesKey)
		return nil
	})
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", snap.Ticker).Msg("cache invalidation failed")
	}

	// The appended row is not necessarily the latest (older timestamp), so
	// write through whatever the primary now reports.
	latest, err := s.primary.LatestPrice(ctx, snap.Ticker)
	if err != nil {
		s.log.Warn().Err(err).Str("ticker", snap.Ticker).Msg("cache refresh failed")
		return nil
	}
	s.cacheLatest(ctx, latest)
	return nil
}

// --- Read-through ---

func (s *CachedPriceStore) LatestPrice(ctx context.Context, ticker string) (*model.PriceSnapshot, error) {
	data, err := s.rdb.HGet(ctx, latestPriceKey(ticker), "snap").Bytes()
	if err == nil {
		var cached cachedSnapshot
		if json.Unmarshal(data, &cached) == nil {
			snap := model.PriceSnapshot(cached)
			return &snap, nil
		}
	}

	snap, err := s.primary.LatestPrice(ctx, ticker)
	if err != nil {
		return nil, err
	}
	s.cacheLatest(ctx, snap)
	return snap, nil
}

func (s *CachedPriceStore) LatestPrices(ctx context.Context) ([]model.PriceSnapshot, error) {
	data, err := s.rdb.Get(ctx, latestPricesKey).Bytes()
	if err == nil {
		var cached []cachedSnapshot
		if json.Unmarshal(data, &cached) == nil {
			out := make([]model.PriceSnapshot, len(cached))
			for i, c := range cached {
				out[i] = model.PriceSnapshot(c)
			}
			return out, nil
		}
	}

	// Read the generation before the primary so an append in between
	// makes the write below a no-op.
	gen, genErr := s.rdb.Get(ctx, pricesGenKey).Result()
	if errors.Is(genErr, redis.Nil) {
		gen, genErr = "", nil
	}

	snaps, err := s.primary.LatestPrices(ctx)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return snaps, nil
	}
	cached := make([]cachedSnapshot, len(snaps))
	for i, p := range snaps {
		cached[i] = cachedSnapshot(p)
	}
	if data, err := json.Marshal(cached); err == nil {
		err = setIfGeneration.Run(ctx, s.rdb, []string{pricesGenKey, latestPricesKey},
			gen, data, s.ttl.Milliseconds()).Err()
		if err != nil {
			s.log.Warn().Err(err).Str("key", latestPricesKey).Msg("cache write failed")
		}
	}
	return snaps, nil
}

// --- Cache helpers ---

// cachedSnapshot keeps Seq, which the wire form of PriceSnapshot omits.
type cachedSnapshot model.PriceSnapshot

func (c cachedSnapshot) MarshalJSON() ([]byte, error) {
	type wire struct {
		Seq int64 `json:"seq"`
		model.PriceSnapshot
	}
	return json.Marshal(wire{Seq: c.Seq, PriceSnapshot: model.PriceSnapshot(c)})
}

func (c *cachedSnapshot) UnmarshalJSON(data []byte) error {
	var w struct {
		Seq int64 `json:"seq"`
		model.PriceSnapshot
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	w.PriceSnapshot.Seq = w.Seq
	*c = cachedSnapshot(w.PriceSnapshot)
	return nil
}

// cacheLatest stores snap unless the entry already holds a newer version.
func (s *CachedPriceStore) cacheLatest(ctx context.Context, snap *model.PriceSnapshot) {
	data, err := json.Marshal(cachedSnapshot(*snap))
	if err != nil {
		return
	}
	key := latestPriceKey(snap.Ticker)
	err = setIfNewer.Run(ctx, s.rdb, []string{key}, snapshotVersion(snap), data, s.ttl.Milliseconds()).Err()
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}

// snapshotVersion orders snapshots the way LatestPrice does: timestamp,
// then insertion seq. Fixed width keeps string comparison numeric.
func snapshotVersion(snap *model.PriceSnapshot) string {
	return fmt.Sprintf("%020d.%020d", snap.Timestamp.UnixNano(), snap.Seq)
}

// KEYS[1] entry hash; ARGV version, payload, ttl in ms (0 keeps no expiry).
var setIfNewer = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'ver')
if cur and cur > ARGV[1] then
	return 0
end
redis.call('HSET', KEYS[1], 'ver', ARGV[1], 'snap', ARGV[2])
if tonumber(ARGV[3]) > 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// KEYS[1] generation counter, KEYS[2] entry; ARGV generation seen before
// the primary read, payload, ttl in ms.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[1]) or ''
if gen ~= ARGV[1] then
	return 0
end
if tonumber(ARGV[3]) > 0 then
	redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
else
	redis.call('SET', KEYS[2], ARGV[2])
end
return 1
`)

const (
	latestPricesKey = "prices:latest"
	pricesGenKey    = "prices:gen"
)

func latestPriceKey(ticker string) string { return fmt.Sprintf("price:snap:%s", ticker) }
