package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"marketpulse/internal/market"

	"go.uber.org/zap"
)

type capturingPersister struct {
	candles []market.Candle
	err     error
}

func (p *capturingPersister) InsertCandle(_ context.Context, c market.Candle) error {
	p.candles = append(p.candles, c)
	return p.err
}

func testIngestor(t *testing.T, persister CandlePersister) (*Ingestor, *market.CandleStore, *market.TickerStore, *market.DiscoveryTracker) {
	t.Helper()
	log := zap.NewNop()
	candles := market.NewCandleStore(map[string]int{"5m": 144, "30m": 48, "1h": 24}, 100, log)
	tickers := market.NewTickerStore(30*time.Minute, log)
	discovery := market.NewDiscoveryTracker(1000, 30*time.Minute, log)
	calc := market.NewChangeCalculator(candles, []market.Horizon{
		{Name: "1h", Interval: "5m", PeriodsBack: 12},
		{Name: "4h", Interval: "30m", PeriodsBack: 8},
		{Name: "8h", Interval: "30m", PeriodsBack: 16},
		{Name: "12h", Interval: "1h", PeriodsBack: 12},
	})
	return NewIngestor(candles, tickers, discovery, calc, persister, log), candles, tickers, discovery
}

func tickerJSON(symbol, last, quoteVolume string) string {
	return fmt.Sprintf(`{"e":"24hrTicker","s":%q,"c":%q,"o":"100","h":"120","l":"90",
		"v":"1000","q":%q,"P":"1.5","p":"1.2"}`, symbol, last, quoteVolume)
}

func TestHandleTickerArrayEndToEnd(t *testing.T) {
	ing, candles, tickers, _ := testIngestor(t, nil)

	// 13 five-minute candles, closes rising 100 -> 112 linearly.
	series := make([]market.Candle, 13)
	for i := range series {
		openTime := int64(i) * 300_000
		series[i] = market.Candle{
			Symbol: "BTCUSDT", Interval: "5m",
			OpenTime: openTime, CloseTime: openTime + 299_999,
			Close: 100 + float64(i),
		}
	}
	candles.SetSeries("BTCUSDT", "5m", series)

	ing.HandleTickerArray(json.RawMessage("[" + tickerJSON("BTCUSDT", "112", "5000000") + "]"))

	rec, ok := tickers.Get("BTCUSDT")
	if !ok {
		t.Fatal("ticker not published")
	}
	if rec.LastPrice != 112 {
		t.Errorf("last price: got %v, want 112", rec.LastPrice)
	}
	if rec.Change1h == nil || *rec.Change1h != 12.00 {
		t.Errorf("1h change: got %v, want +12.00", rec.Change1h)
	}
	if rec.Change4h != nil || rec.Change8h != nil || rec.Change12h != nil {
		t.Error("horizons without 30m/1h history must be nil")
	}
}

func TestHandleTickerArrayFeedsDiscovery(t *testing.T) {
	ing, _, _, discovery := testIngestor(t, nil)

	batch := "[" +
		tickerJSON("BIGUSDT", "10", "900000") + "," +
		tickerJSON("DUSTUSDT", "1", "50") + // below the 1000 threshold
		"]"
	ing.HandleTickerArray(json.RawMessage(batch))

	top := discovery.TopSymbols(10)
	if len(top) != 1 || top[0] != "BIGUSDT" {
		t.Errorf("discovery should hold BIGUSDT only, got %v", top)
	}
}

func TestHandleTickerArrayDropsBadEntries(t *testing.T) {
	ing, _, tickers, _ := testIngestor(t, nil)

	batch := "[" +
		tickerJSON("GOODUSDT", "10", "900000") + "," +
		`{"e":"24hrTicker","s":"BADUSDT","c":"not-a-number","o":"1","h":"1","l":"1","v":"1","q":"1","P":"0"}` +
		"]"
	ing.HandleTickerArray(json.RawMessage(batch))

	if _, ok := tickers.Get("GOODUSDT"); !ok {
		t.Error("good entry must survive a bad sibling")
	}
	if _, ok := tickers.Get("BADUSDT"); ok {
		t.Error("unparsable entry must be dropped")
	}
}

func TestHandleTickerArrayMalformedPayload(t *testing.T) {
	ing, _, tickers, _ := testIngestor(t, nil)

	ing.HandleTickerArray(json.RawMessage(`{"not":"an array"}`))

	if tickers.Count() != 0 {
		t.Error("malformed payload must not publish anything")
	}
}

func klineJSON(symbol, interval string, openTime int64, close string, isClosed bool) string {
	return fmt.Sprintf(`{"e":"kline","s":%q,"k":{"t":%d,"T":%d,"s":%q,"i":%q,
		"o":"100","c":%q,"h":"101","l":"99","v":"12.5","x":%t}}`,
		symbol, openTime, openTime+299_999, symbol, interval, close, isClosed)
}

func TestHandleKlineClosedOnly(t *testing.T) {
	ing, candles, _, _ := testIngestor(t, nil)

	ing.HandleKline(json.RawMessage(klineJSON("BTCUSDT", "5m", 0, "100.5", false)))
	if got := candles.GetSeries("BTCUSDT", "5m"); got != nil {
		t.Fatalf("in-progress kline must not be stored: %+v", got)
	}

	ing.HandleKline(json.RawMessage(klineJSON("BTCUSDT", "5m", 0, "100.5", true)))
	got := candles.GetSeries("BTCUSDT", "5m")
	if len(got) != 1 || got[0].Close != 100.5 {
		t.Fatalf("closed kline not stored: %+v", got)
	}
	if got[0].Interval != "5m" || got[0].OpenTime != 0 {
		t.Errorf("kline fields not mapped: %+v", got[0])
	}
}

func TestHandleKlinePersists(t *testing.T) {
	p := &capturingPersister{}
	ing, _, _, _ := testIngestor(t, p)

	ing.HandleKline(json.RawMessage(klineJSON("ETHUSDT", "1h", 3_600_000, "2000", true)))

	if len(p.candles) != 1 || p.candles[0].Symbol != "ETHUSDT" {
		t.Fatalf("closed candle not persisted: %+v", p.candles)
	}
}

func TestHandleKlinePersistFailureDoesNotBlockStore(t *testing.T) {
	p := &capturingPersister{err: fmt.Errorf("db down")}
	ing, candles, _, _ := testIngestor(t, p)

	ing.HandleKline(json.RawMessage(klineJSON("ETHUSDT", "1h", 3_600_000, "2000", true)))

	if got := candles.GetSeries("ETHUSDT", "1h"); len(got) != 1 {
		t.Error("in-memory append must succeed even when persistence fails")
	}
}
