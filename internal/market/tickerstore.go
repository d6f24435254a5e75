package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TickerStore keeps the latest known ticker per symbol. Records missing from
// an upsert batch are retained until the expiry sweep removes them, so a
// partial feed snapshot never shrinks the set.
type TickerStore struct {
	mu      sync.RWMutex
	records map[string]TickerRecord

	expiry time.Duration
	logger *zap.Logger
}

func NewTickerStore(expiry time.Duration, logger *zap.Logger) *TickerStore {
	return &TickerStore{
		records: make(map[string]TickerRecord),
		expiry:  expiry,
		logger:  logger,
	}
}

// Upsert applies a batch of records, last write wins per symbol.
func (s *TickerStore) Upsert(records []TickerRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		if r.Symbol == "" {
			s.logger.Warn("ticker record without symbol dropped")
			continue
		}
		s.records[r.Symbol] = r
	}
}

// Get returns the record for symbol. Absence means "unknown", not "zero".
func (s *TickerStore) Get(symbol string) (TickerRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[symbol]
	return r, ok
}

// All returns a snapshot sorted by 24h quote volume descending. The sort is
// done at read time so upserts stay O(1) amortized.
func (s *TickerStore) All() []TickerRecord {
	s.mu.RLock()
	out := make([]TickerRecord, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].QuoteVolume != out[j].QuoteVolume {
			return out[i].QuoteVolume > out[j].QuoteVolume
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// Count returns the number of live records.
func (s *TickerStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Sweep removes records whose lastUpdated is older than the expiry window
// and returns how many were removed. Keys are snapshotted first so no lock
// is held across the full scan.
func (s *TickerStore) Sweep(now time.Time) int {
	s.mu.RLock()
	var stale []string
	for sym, r := range s.records {
		if now.Sub(r.UpdatedAt) > s.expiry {
			stale = append(stale, sym)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, sym := range stale {
		s.mu.Lock()
		// Re-check: an upsert may have refreshed the record meanwhile.
		if r, ok := s.records[sym]; ok && now.Sub(r.UpdatedAt) > s.expiry {
			delete(s.records, sym)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}

// StartSweeper runs Sweep on the given interval until ctx is cancelled.
func (s *TickerStore) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Sweep(time.Now()); n > 0 {
					s.logger.Info("expired stale tickers", zap.Int("count", n))
				}
			}
		}
	}()
}
