package market

import (
	"sort"
	"sync"

	"go.uber.org/zap"
)

// seriesKey identifies one candle series.
type seriesKey struct {
	symbol   string
	interval string
}

type candleSeries struct {
	mu      sync.Mutex
	candles []Candle
}

// CandleStore holds a bounded candle series per (symbol, interval).
// The outer map is guarded by globalMu; each series carries its own lock so
// writers to different keys never block each other.
type CandleStore struct {
	globalMu sync.RWMutex
	data     map[seriesKey]*candleSeries

	maxCounts       map[string]int
	defaultMaxCount int
	logger          *zap.Logger
}

// NewCandleStore creates a store with per-interval retention limits.
// Intervals absent from maxCounts fall back to defaultMax.
func NewCandleStore(maxCounts map[string]int, defaultMax int, logger *zap.Logger) *CandleStore {
	if defaultMax <= 0 {
		defaultMax = 100
	}
	return &CandleStore{
		data:            make(map[seriesKey]*candleSeries),
		maxCounts:       maxCounts,
		defaultMaxCount: defaultMax,
		logger:          logger,
	}
}

func (s *CandleStore) maxCount(interval string) int {
	if n, ok := s.maxCounts[interval]; ok && n > 0 {
		return n
	}
	return s.defaultMaxCount
}

func (s *CandleStore) series(key seriesKey, create bool) *candleSeries {
	// Fast path: shared lock on the map shape only
	s.globalMu.RLock()
	sr, ok := s.data[key]
	s.globalMu.RUnlock()
	if ok || !create {
		return sr
	}

	// Need to initialize a new series (exclusive lock)
	s.globalMu.Lock()
	if sr, ok = s.data[key]; !ok {
		sr = &candleSeries{}
		s.data[key] = sr
	}
	s.globalMu.Unlock()
	return sr
}

// normalize builds a clean series from candles: one candle per openTime
// (later entries win), ascending order, trimmed to the interval's retention
// limit. Both write paths funnel through it so the invariants stay identical.
func (s *CandleStore) normalize(interval string, candles []Candle) []Candle {
	byOpen := make(map[int64]Candle, len(candles))
	for _, c := range candles {
		byOpen[c.OpenTime] = c
	}

	out := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })

	if max := s.maxCount(interval); len(out) > max {
		out = out[len(out)-max:]
	}
	return out
}

// SetSeries replaces the stored series for (symbol, interval). The input is
// deduplicated by openTime, sorted, and trimmed to the interval's retention
// limit. Malformed input is logged and ignored.
func (s *CandleStore) SetSeries(symbol, interval string, candles []Candle) {
	if symbol == "" || interval == "" {
		s.logger.Warn("set series with missing symbol or interval",
			zap.String("symbol", symbol), zap.String("interval", interval))
		return
	}

	sr := s.series(seriesKey{symbol, interval}, true)
	sr.mu.Lock()
	sr.candles = s.normalize(interval, candles)
	sr.mu.Unlock()
}

// AppendClosed appends a single candle only if the feed flagged it closed.
// The whole read-modify-write runs under the series lock, so a concurrent
// SetSeries from the backfill path and a streamed candle never lose each
// other; a re-delivered bucket replaces the stored candle with the same
// openTime.
func (s *CandleStore) AppendClosed(symbol, interval string, c Candle, closed bool) {
	if !closed {
		return // in-progress candles are never persisted
	}
	if symbol == "" || interval == "" {
		s.logger.Warn("append with missing symbol or interval",
			zap.String("symbol", symbol), zap.String("interval", interval))
		return
	}

	sr := s.series(seriesKey{symbol, interval}, true)
	sr.mu.Lock()
	sr.candles = s.normalize(interval, append(sr.candles, c))
	sr.mu.Unlock()
}

// GetSeries returns a copy of the stored series, or nil if absent.
func (s *CandleStore) GetSeries(symbol, interval string) []Candle {
	sr := s.series(seriesKey{symbol, interval}, false)
	if sr == nil {
		return nil
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	cp := make([]Candle, len(sr.candles))
	copy(cp, sr.candles)
	return cp
}

// CloseNIntervalsAgo returns the close price n intervals back from the most
// recent candle. ok is false when the series holds fewer than n+1 candles;
// that is a normal state for newly-discovered symbols, not an error.
func (s *CandleStore) CloseNIntervalsAgo(symbol, interval string, n int) (float64, bool) {
	if n < 0 {
		return 0, false
	}
	sr := s.series(seriesKey{symbol, interval}, false)
	if sr == nil {
		return 0, false
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	idx := len(sr.candles) - 1 - n
	if idx < 0 {
		return 0, false
	}
	return sr.candles[idx].Close, true
}

// Summary reports per-series counts and time bounds for observability.
func (s *CandleStore) Summary() []SeriesSummary {
	s.globalMu.RLock()
	keys := make([]seriesKey, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	s.globalMu.RUnlock()

	out := make([]SeriesSummary, 0, len(keys))
	for _, k := range keys {
		sr := s.series(k, false)
		if sr == nil {
			continue
		}
		sr.mu.Lock()
		if n := len(sr.candles); n > 0 {
			out = append(out, SeriesSummary{
				Symbol:          k.symbol,
				Interval:        k.interval,
				Count:           n,
				OldestOpenTime:  sr.candles[0].OpenTime,
				LatestCloseTime: sr.candles[n-1].CloseTime,
			})
		}
		sr.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// LatestOpenTime returns the openTime of the newest candle, or 0 when the
// series is empty. Used by the backfill scheduler for freshness checks.
func (s *CandleStore) LatestOpenTime(symbol, interval string) int64 {
	sr := s.series(seriesKey{symbol, interval}, false)
	if sr == nil {
		return 0
	}

	sr.mu.Lock()
	defer sr.mu.Unlock()

	if len(sr.candles) == 0 {
		return 0
	}
	return sr.candles[len(sr.candles)-1].OpenTime
}

// CountAll returns the total number of candles stored across all series.
func (s *CandleStore) CountAll() int {
	s.globalMu.RLock()
	defer s.globalMu.RUnlock()

	total := 0
	for _, sr := range s.data {
		sr.mu.Lock()
		total += len(sr.candles)
		sr.mu.Unlock()
	}
	return total
}

// Reset drops every stored series.
func (s *CandleStore) Reset() {
	s.globalMu.Lock()
	s.data = make(map[seriesKey]*candleSeries)
	s.globalMu.Unlock()
}
