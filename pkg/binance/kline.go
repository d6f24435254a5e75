package binance

import (
	"encoding/json"
	"strconv"

	"marketpulse/internal/market"
)

// ParseKlineRows converts positional REST kline rows to []market.Candle.
// Rows mix JSON numbers (times) and strings (prices); incomplete or
// malformed rows are skipped rather than failing the batch.
func ParseKlineRows(symbol string, interval Interval, rows [][]json.RawMessage) ([]market.Candle, error) {
	var out []market.Candle

	for _, row := range rows {
		if len(row) < 7 {
			continue // skip incomplete row
		}

		openTime, err := parseMillis(row[0])
		if err != nil {
			continue
		}
		open, err := parsePrice(row[1])
		if err != nil {
			continue
		}
		high, err := parsePrice(row[2])
		if err != nil {
			continue
		}
		low, err := parsePrice(row[3])
		if err != nil {
			continue
		}
		closeVal, err := parsePrice(row[4])
		if err != nil {
			continue
		}
		volume, err := parsePrice(row[5])
		if err != nil {
			continue
		}
		closeTime, err := parseMillis(row[6])
		if err != nil {
			continue
		}

		out = append(out, market.Candle{
			Symbol:    symbol,
			Interval:  string(interval),
			OpenTime:  openTime,
			CloseTime: closeTime,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     closeVal,
			Volume:    volume,
		})
	}
	return out, nil
}

// parseMillis decodes a JSON number timestamp.
func parseMillis(raw json.RawMessage) (int64, error) {
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// parsePrice decodes a quoted decimal string like "42001.53".
func parsePrice(raw json.RawMessage) (float64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(s, 64)
}
