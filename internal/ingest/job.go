package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/peterluvCS/portfolio-manager/internal/instrument"
	"github.com/peterluvCS/portfolio-manager/internal/metrics"
	"github.com/peterluvCS/portfolio-manager/internal/model"
	"github.com/peterluvCS/portfolio-manager/internal/store"
)

// Result statuses.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped" // quote time equals the stored latest
	StatusError   = "error"
)

// Result is the outcome of updating one ticker.
type Result struct {
	Ticker  string          `json:"ticker"`
	Status  string          `json:"status"`
	Price   decimal.Decimal `json:"price,omitzero"`
	Time    time.Time       `json:"time,omitzero"`
	Message string          `json:"message,omitempty"`
}

// Listener is told about every snapshot the job appends.
type Listener func(snap model.PriceSnapshot)

// Job fetches a quote for every catalogued instrument and appends it to
// the price store. One ticker failing never stops the others.
type Job struct {
	prices    store.PriceStore
	fetcher   Fetcher
	catalogue *instrument.Catalogue
	log       zerolog.Logger
	now       func() time.Time

	listeners []Listener

	// run serializes runs so a scheduled update and a manual one never
	// race on the same tickers.
	run sync.Mutex
}

// NewJob creates a price update job.
func NewJob(prices store.PriceStore, fetcher Fetcher, catalogue *instrument.Catalogue, log zerolog.Logger) *Job {
	return &Job{
		prices:    prices,
		fetcher:   fetcher,
		catalogue: catalogue,
		log:       log.With().Str("component", "ingest").Str("provider", fetcher.Name()).Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OnSnapshot registers a listener. Not safe to call once runs have started.
func (j *Job) OnSnapshot(l Listener) {
	j.listeners = append(j.listeners, l)
}

func (j *Job) Name() string { return "price-update" }

// Run satisfies the scheduler's job shape; it fails only if every ticker failed.
func (j *Job) Run() error {
	results := j.RunOnce(context.Background())
	for _, r := range results {
		if r.Status != StatusError {
			return nil
		}
	}
	if len(results) == 0 {
		return nil
	}
	return errors.New("ingest: every ticker failed")
}

// RunOnce updates every instrument and returns one result per ticker, in
// ticker order.
func (j *Job) RunOnce(ctx context.Context) []Result {
	j.run.Lock()
	defer j.run.Unlock()

	start := time.Now()
	defer func() { metrics.IngestDuration.Observe(time.Since(start).Seconds()) }()

	instruments := j.catalogue.All()
	results := make([]Result, 0, len(instruments))
	for _, in := range instruments {
		if ctx.Err() != nil {
			results = append(results, Result{Ticker: in.Ticker, Status: StatusError, Message: ctx.Err().Error()})
			continue
		}
		r := j.update(ctx, in)
		metrics.PriceSnapshots.WithLabelValues(in.Ticker, r.Status).Inc()
		results = append(results, r)
	}

	j.log.Info().Int("tickers", len(results)).Dur("took", time.Since(start)).Msg("price update finished")
	return results
}

func (j *Job) update(ctx context.Context, in instrument.Instrument) Result {
	q, err := j.fetcher.FetchQuote(ctx, in.Symbol)
	if err != nil {
		j.log.Warn().Err(err).Str("ticker", in.Ticker).Msg("quote fetch failed")
		return Result{Ticker: in.Ticker, Status: StatusError, Message: err.Error()}
	}

	ts := q.Time
	if ts.IsZero() {
		ts = j.now()
	}
	ts = ts.Truncate(time.Second)

	prev, err := j.prices.LatestPrice(ctx, in.Ticker)
	switch {
	case err == nil && prev.Timestamp.Equal(ts):
		j.log.Debug().Str("ticker", in.Ticker).Time("time", ts).Msg("quote unchanged, skipped")
		return Result{Ticker: in.Ticker, Status: StatusSkipped, Price: prev.Price, Time: ts}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		j.log.Error().Err(err).Str("ticker", in.Ticker).Msg("load latest price failed")
		return Result{Ticker: in.Ticker, Status: StatusError, Message: err.Error()}
	}

	name := q.Name
	if name == "" {
		name = in.Ticker
	}
	snap := model.PriceSnapshot{
		Ticker:    in.Ticker,
		Name:      name,
		Price:     q.Price,
		Timestamp: ts,
		Kind:      in.Kind,
	}
	if err := j.prices.AppendPrice(ctx, &snap); err != nil {
		j.log.Error().Err(err).Str("ticker", in.Ticker).Msg("append price failed")
		return Result{Ticker: in.Ticker, Status: StatusError, Message: err.Error()}
	}

	j.log.Debug().Str("ticker", in.Ticker).Str("price", snap.Price.String()).Time("time", ts).Msg("price appended")
	for _, l := range j.listeners {
		l(snap)
	}
	return Result{Ticker: in.Ticker, Status: StatusSuccess, Price: snap.Price, Time: ts}
}
