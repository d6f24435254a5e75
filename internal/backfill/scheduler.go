package backfill

import (
	"context"
	"errors"
	"time"

	"marketpulse/config"
	"marketpulse/internal/market"
	"marketpulse/pkg/binance"

	"go.uber.org/zap"
)

// KlineFetcher is the REST surface the scheduler needs.
type KlineFetcher interface {
	GetKlines(ctx context.Context, symbol string, interval binance.Interval, limit int) ([]market.Candle, error)
}

// Scheduler populates the candle store over REST: an initial load for the
// top-ranked symbols, then a continuous rotation that alternates between the
// top tier and the next tier so no single cycle refreshes everyone.
type Scheduler struct {
	fetcher   KlineFetcher
	candles   *market.CandleStore
	discovery *market.DiscoveryTracker
	cfg       config.BackfillConfig

	intervals   []binance.Interval
	limits      map[string]int // interval -> klines to request
	restTimeout time.Duration

	cycle  int
	logger *zap.Logger
}

func NewScheduler(
	fetcher KlineFetcher,
	candles *market.CandleStore,
	discovery *market.DiscoveryTracker,
	cfg config.BackfillConfig,
	intervals []binance.Interval,
	limits map[string]int,
	restTimeout time.Duration,
	logger *zap.Logger,
) *Scheduler {
	if restTimeout <= 0 {
		restTimeout = 10 * time.Second
	}
	return &Scheduler{
		fetcher:     fetcher,
		candles:     candles,
		discovery:   discovery,
		cfg:         cfg,
		intervals:   intervals,
		limits:      limits,
		restTimeout: restTimeout,
		logger:      logger,
	}
}

// Run performs the initial load and then rotates until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.InitialLoad(ctx)

	ticker := time.NewTicker(s.cfg.RotationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Rotate(ctx)
		}
	}
}

// InitialLoad fetches history for the current top symbols, falling back to
// the configured seed list while discovery is still empty. Symbol/interval
// pairs with recent-enough data are skipped.
func (s *Scheduler) InitialLoad(ctx context.Context) {
	symbols := s.discovery.TopSymbols(s.cfg.TopSymbols)
	if len(symbols) == 0 {
		symbols = s.cfg.SeedSymbols
		s.logger.Info("discovery empty, using seed symbols",
			zap.Int("count", len(symbols)))
	}
	s.loadSymbols(ctx, symbols, true)
}

// Rotate refreshes one tier of the ranking. Even cycles take the top tier,
// odd cycles the next one, spreading REST load across cycles.
func (s *Scheduler) Rotate(ctx context.Context) {
	size := s.cfg.RotationSize
	ranked := s.discovery.TopSymbols(2 * size)
	if len(ranked) == 0 {
		ranked = s.cfg.SeedSymbols
	}

	var subset []string
	if s.cycle%2 == 0 || len(ranked) <= size {
		if len(ranked) < size {
			size = len(ranked)
		}
		subset = ranked[:size]
	} else {
		subset = ranked[size:]
	}
	s.cycle++

	s.logger.Info("backfill rotation", zap.Int("cycle", s.cycle), zap.Int("symbols", len(subset)))
	s.loadSymbols(ctx, subset, false)
}

// loadSymbols walks symbols × intervals in fixed-size batches with delays
// between requests and batches. Per-pair failures are logged and skipped.
func (s *Scheduler) loadSymbols(ctx context.Context, symbols []string, skipFresh bool) {
	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(symbols)
	}

	var ok, failed, skipped int
	for start := 0; start < len(symbols); start += batchSize {
		end := start + batchSize
		if end > len(symbols) {
			end = len(symbols)
		}

		for _, symbol := range symbols[start:end] {
			for _, interval := range s.intervals {
				if ctx.Err() != nil {
					return
				}
				if skipFresh && s.isFresh(symbol, interval) {
					skipped++
					continue
				}
				if err := s.fetchOne(ctx, symbol, interval); err != nil {
					failed++
					s.logger.Warn("backfill failed for pair",
						zap.String("symbol", symbol),
						zap.String("interval", string(interval)),
						zap.Error(err))
				} else {
					ok++
				}
				if !sleepCtx(ctx, s.cfg.RequestDelay) {
					return
				}
			}
		}

		if end < len(symbols) && !sleepCtx(ctx, s.cfg.BatchDelay) {
			return
		}
	}

	s.logger.Info("backfill pass finished",
		zap.Int("ok", ok), zap.Int("failed", failed), zap.Int("skipped", skipped))
}

// isFresh reports whether the newest stored candle is younger than one
// interval, meaning a refetch would add nothing.
func (s *Scheduler) isFresh(symbol string, interval binance.Interval) bool {
	latest := s.candles.LatestOpenTime(symbol, string(interval))
	if latest == 0 {
		return false
	}
	d, err := interval.Duration()
	if err != nil {
		return false
	}
	return time.Since(time.UnixMilli(latest)) < d
}

// fetchOne fetches one symbol/interval pair. A 429 pauses and retries the
// same request instead of counting as a failure, up to a few attempts.
func (s *Scheduler) fetchOne(ctx context.Context, symbol string, interval binance.Interval) error {
	limit := s.limits[string(interval)]
	if limit <= 0 {
		limit = 100
	}

	const maxRateLimitRetries = 3
	var lastErr error
	for attempt := 0; attempt <= maxRateLimitRetries; attempt++ {
		reqCtx, cancel := context.WithTimeout(ctx, s.restTimeout)
		candles, err := s.fetcher.GetKlines(reqCtx, symbol, interval, limit)
		cancel()
		if err == nil {
			s.candles.SetSeries(symbol, string(interval), candles)
			return nil
		}
		lastErr = err

		var rle *binance.RateLimitError
		if !errors.As(err, &rle) {
			return err
		}
		pause := s.cfg.RateLimitPause
		if rle.RetryAfter > pause {
			pause = rle.RetryAfter
		}
		s.logger.Warn("rate limited, pausing backfill",
			zap.String("symbol", symbol), zap.Duration("pause", pause))
		if !sleepCtx(ctx, pause) {
			return ctx.Err()
		}
	}
	return lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
