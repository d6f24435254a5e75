package binance

import "encoding/json"

// StreamEnvelope is the combined-stream wrapper: every data message carries
// the stream name it belongs to. Subscription acks carry result/id instead.
type StreamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`

	// Set on subscription acknowledgements only.
	Result json.RawMessage `json:"result"`
	ID     *int64          `json:"id"`
}

// TickerEvent is one entry of the "!ticker@arr" payload. Prices and volumes
// arrive as strings.
type TickerEvent struct {
	EventType        string `json:"e"` // "24hrTicker"
	EventTime        int64  `json:"E"`
	Symbol           string `json:"s"`
	PriceChange      string `json:"p"`
	PriceChangePct   string `json:"P"`
	OpenPrice        string `json:"o"`
	HighPrice        string `json:"h"`
	LowPrice         string `json:"l"`
	LastPrice        string `json:"c"`
	Volume           string `json:"v"` // base asset volume
	QuoteVolume      string `json:"q"` // quote asset volume
	StatsOpenTime    int64  `json:"O"`
	StatsCloseTime   int64  `json:"C"`
	TotalTradeCount  int64  `json:"n"`
	WeightedAvgPrice string `json:"w"`
}

// KlineEvent is the per-symbol kline stream payload.
type KlineEvent struct {
	EventType string  `json:"e"` // "kline"
	EventTime int64   `json:"E"`
	Symbol    string  `json:"s"`
	Kline     KlineWS `json:"k"`
}

// KlineWS is the nested candle object of a kline event. IsClosed is true
// only on the final update of an interval bucket.
type KlineWS struct {
	OpenTime    int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
	IsClosed    bool   `json:"x"`
}
