package market

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DiscoveryTracker derives an actively-traded, volume-ranked symbol set from
// the live ticker feed. The ranked list is rebuilt after every batch and
// published by swapping a snapshot slice, so readers never observe a rank
// recomputation in progress.
type DiscoveryTracker struct {
	mu      sync.Mutex
	seen    map[string]*SymbolStats
	ranked  []SymbolStats // published snapshot, rank ascending
	rankedM sync.RWMutex

	minQuoteVolume float64
	expiry         time.Duration
	logger         *zap.Logger
}

func NewDiscoveryTracker(minQuoteVolume float64, expiry time.Duration, logger *zap.Logger) *DiscoveryTracker {
	return &DiscoveryTracker{
		seen:           make(map[string]*SymbolStats),
		minQuoteVolume: minQuoteVolume,
		expiry:         expiry,
		logger:         logger,
	}
}

// Observe ingests one ticker batch: symbols over the volume threshold are
// inserted or refreshed, stale entries are expired, and dense ranks are
// recomputed and published.
func (t *DiscoveryTracker) Observe(records []TickerRecord, now time.Time) {
	t.mu.Lock()

	for _, r := range records {
		if r.Symbol == "" || r.QuoteVolume < t.minQuoteVolume {
			continue
		}
		if st, ok := t.seen[r.Symbol]; ok {
			st.QuoteVolume = r.QuoteVolume
			st.LastSeen = now
		} else {
			t.seen[r.Symbol] = &SymbolStats{
				Symbol:      r.Symbol,
				QuoteVolume: r.QuoteVolume,
				LastSeen:    now,
			}
		}
	}

	// Expire entries not seen within the window.
	expired := 0
	for sym, st := range t.seen {
		if now.Sub(st.LastSeen) > t.expiry {
			delete(t.seen, sym)
			expired++
		}
	}

	// Recompute dense ranks over the remaining set.
	next := make([]SymbolStats, 0, len(t.seen))
	for _, st := range t.seen {
		next = append(next, *st)
	}
	t.mu.Unlock()

	sort.Slice(next, func(i, j int) bool {
		if next[i].QuoteVolume != next[j].QuoteVolume {
			return next[i].QuoteVolume > next[j].QuoteVolume
		}
		return next[i].Symbol < next[j].Symbol
	})
	for i := range next {
		next[i].Rank = i + 1
	}

	t.rankedM.Lock()
	t.ranked = next
	t.rankedM.Unlock()

	if expired > 0 {
		t.logger.Info("expired stale symbols", zap.Int("count", expired))
	}
}

// TopSymbols returns up to n symbols by rank from the published snapshot.
func (t *DiscoveryTracker) TopSymbols(n int) []string {
	t.rankedM.RLock()
	defer t.rankedM.RUnlock()

	if n > len(t.ranked) {
		n = len(t.ranked)
	}
	out := make([]string, 0, n)
	for _, st := range t.ranked[:n] {
		out = append(out, st.Symbol)
	}
	return out
}

// Stats returns the full published ranking.
func (t *DiscoveryTracker) Stats() []SymbolStats {
	t.rankedM.RLock()
	defer t.rankedM.RUnlock()

	out := make([]SymbolStats, len(t.ranked))
	copy(out, t.ranked)
	return out
}

// Count returns the number of tracked symbols.
func (t *DiscoveryTracker) Count() int {
	t.rankedM.RLock()
	defer t.rankedM.RUnlock()
	return len(t.ranked)
}
