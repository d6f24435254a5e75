package market

import "time"

// Candle represents a single finalized candlestick for one interval bucket.
// Times are milliseconds since epoch, as delivered by the exchange.
type Candle struct {
	Symbol    string  `json:"symbol"`
	Interval  string  `json:"interval"`
	OpenTime  int64   `json:"openTime"`
	CloseTime int64   `json:"closeTime"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// TickerRecord is the latest known 24h ticker for a symbol, enriched with
// lookback-based percent changes. A nil change means insufficient candle
// history for that horizon, not a zero change.
type TickerRecord struct {
	Symbol         string  `json:"symbol"`
	LastPrice      float64 `json:"lastPrice"`
	OpenPrice      float64 `json:"openPrice"`
	HighPrice      float64 `json:"highPrice"`
	LowPrice       float64 `json:"lowPrice"`
	Volume         float64 `json:"volume"`      // base asset volume, 24h
	QuoteVolume    float64 `json:"quoteVolume"` // quote asset volume, 24h
	PriceChangePct float64 `json:"priceChangePercent"`

	Change1h  *float64 `json:"change1h"`
	Change4h  *float64 `json:"change4h"`
	Change8h  *float64 `json:"change8h"`
	Change12h *float64 `json:"change12h"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// SymbolStats tracks one actively-traded symbol seen on the ticker feed.
// Rank is a dense ordering by quote volume, 1 = highest.
type SymbolStats struct {
	Symbol      string    `json:"symbol"`
	QuoteVolume float64   `json:"quoteVolume"`
	LastSeen    time.Time `json:"lastSeen"`
	Rank        int       `json:"rank"`
}

// SeriesSummary describes one stored candle series for observability.
type SeriesSummary struct {
	Symbol          string `json:"symbol"`
	Interval        string `json:"interval"`
	Count           int    `json:"count"`
	OldestOpenTime  int64  `json:"oldestOpenTime"`
	LatestCloseTime int64  `json:"latestCloseTime"`
}
