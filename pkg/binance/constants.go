package binance

import (
	"fmt"
	"strings"
	"time"
)

// Interval is the kline interval token used in API requests and stream names.
type Interval string

const (
	Interval1Min  Interval = "1m"
	Interval3Min  Interval = "3m"
	Interval5Min  Interval = "5m"
	Interval15Min Interval = "15m"
	Interval30Min Interval = "30m"
	Interval1H    Interval = "1h"
	Interval2H    Interval = "2h"
	Interval4H    Interval = "4h"
	Interval6H    Interval = "6h"
	Interval12H   Interval = "12h"
	Interval1D    Interval = "1d"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1Min:  time.Minute,
	Interval3Min:  3 * time.Minute,
	Interval5Min:  5 * time.Minute,
	Interval15Min: 15 * time.Minute,
	Interval30Min: 30 * time.Minute,
	Interval1H:    time.Hour,
	Interval2H:    2 * time.Hour,
	Interval4H:    4 * time.Hour,
	Interval6H:    6 * time.Hour,
	Interval12H:   12 * time.Hour,
	Interval1D:    24 * time.Hour,
}

// IsValid checks if the Interval is a recognized interval token.
func (i Interval) IsValid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the wall-clock length of one interval bucket.
func (i Interval) Duration() (time.Duration, error) {
	d, ok := intervalDurations[i]
	if !ok {
		return 0, fmt.Errorf("invalid interval: %s", i)
	}
	return d, nil
}

// TickerArrStream is the combined-stream name for the all-symbols 24h
// ticker array.
const TickerArrStream = "!ticker@arr"

// KlineStream builds the combined-stream name for a symbol/interval kline
// stream, e.g. "btcusdt@kline_5m".
func KlineStream(symbol string, interval Interval) string {
	return fmt.Sprintf("%s@kline_%s", strings.ToLower(symbol), interval)
}
