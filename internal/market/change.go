package market

import "math"

// Horizon names one change window and where its reference price comes from:
// the close PeriodsBack intervals ago in the Interval series.
type Horizon struct {
	Name        string
	Interval    string
	PeriodsBack int
}

// ChangeCalculator derives percent price changes for a set of configured
// horizons by looking back in the candle store. It performs no I/O; results
// are fully determined by store state and the supplied current price.
type ChangeCalculator struct {
	store    *CandleStore
	horizons []Horizon
}

func NewChangeCalculator(store *CandleStore, horizons []Horizon) *ChangeCalculator {
	return &ChangeCalculator{store: store, horizons: horizons}
}

// Horizons returns the configured horizon table.
func (c *ChangeCalculator) Horizons() []Horizon {
	return c.horizons
}

// Compute returns one percent change per horizon, keyed by horizon name.
// A nil value means insufficient history for that horizon; horizons are
// independent, so one missing series never blanks the others.
func (c *ChangeCalculator) Compute(symbol string, currentPrice float64) map[string]*float64 {
	out := make(map[string]*float64, len(c.horizons))
	for _, h := range c.horizons {
		out[h.Name] = c.computeOne(symbol, h, currentPrice)
	}
	return out
}

func (c *ChangeCalculator) computeOne(symbol string, h Horizon, currentPrice float64) *float64 {
	historical, ok := c.store.CloseNIntervalsAgo(symbol, h.Interval, h.PeriodsBack)
	if !ok {
		return nil
	}
	if historical == 0 {
		if currentPrice == 0 {
			zero := 0.0
			return &zero
		}
		return nil // division-by-zero guard
	}

	change := round2((currentPrice - historical) / historical * 100)
	return &change
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
