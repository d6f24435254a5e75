package stream

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"marketpulse/internal/market"
	"marketpulse/pkg/binance"

	"go.uber.org/zap"
)

// CandlePersister mirrors closed candles to a backing store. The in-memory
// path never depends on it succeeding.
type CandlePersister interface {
	InsertCandle(ctx context.Context, c market.Candle) error
}

// Ingestor turns raw stream payloads into store updates. Ticker batches are
// enriched with lookback changes before they are published, so a consumer
// never sees a partially-enriched record.
type Ingestor struct {
	candles   *market.CandleStore
	tickers   *market.TickerStore
	discovery *market.DiscoveryTracker
	calc      *market.ChangeCalculator
	persister CandlePersister // optional
	logger    *zap.Logger
}

func NewIngestor(
	candles *market.CandleStore,
	tickers *market.TickerStore,
	discovery *market.DiscoveryTracker,
	calc *market.ChangeCalculator,
	persister CandlePersister,
	logger *zap.Logger,
) *Ingestor {
	return &Ingestor{
		candles:   candles,
		tickers:   tickers,
		discovery: discovery,
		calc:      calc,
		persister: persister,
		logger:    logger,
	}
}

// HandleTickerArray processes one "!ticker@arr" payload: parse, enrich,
// upsert, feed discovery. Bad entries are dropped individually.
func (in *Ingestor) HandleTickerArray(data json.RawMessage) {
	var events []binance.TickerEvent
	if err := json.Unmarshal(data, &events); err != nil {
		in.logger.Warn("failed to parse ticker array", zap.Error(err))
		return
	}

	now := time.Now()
	records := make([]market.TickerRecord, 0, len(events))
	dropped := 0
	for _, ev := range events {
		rec, err := in.toRecord(ev, now)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}

	in.tickers.Upsert(records)
	in.discovery.Observe(records, now)

	if dropped > 0 {
		in.logger.Warn("ticker batch finished with drops",
			zap.Int("ok", len(records)), zap.Int("dropped", dropped))
	} else {
		in.logger.Debug("ticker batch ingested", zap.Int("count", len(records)))
	}
}

func (in *Ingestor) toRecord(ev binance.TickerEvent, now time.Time) (market.TickerRecord, error) {
	last, err := strconv.ParseFloat(ev.LastPrice, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	open, err := strconv.ParseFloat(ev.OpenPrice, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	high, err := strconv.ParseFloat(ev.HighPrice, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	low, err := strconv.ParseFloat(ev.LowPrice, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	volume, err := strconv.ParseFloat(ev.Volume, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	quoteVolume, err := strconv.ParseFloat(ev.QuoteVolume, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}
	pct, err := strconv.ParseFloat(ev.PriceChangePct, 64)
	if err != nil {
		return market.TickerRecord{}, err
	}

	rec := market.TickerRecord{
		Symbol:         ev.Symbol,
		LastPrice:      last,
		OpenPrice:      open,
		HighPrice:      high,
		LowPrice:       low,
		Volume:         volume,
		QuoteVolume:    quoteVolume,
		PriceChangePct: pct,
		UpdatedAt:      now,
	}

	// Synchronous enrichment: all derived fields are set before the record
	// is visible to any reader.
	changes := in.calc.Compute(ev.Symbol, last)
	rec.Change1h = changes["1h"]
	rec.Change4h = changes["4h"]
	rec.Change8h = changes["8h"]
	rec.Change12h = changes["12h"]

	return rec, nil
}

// HandleKline processes one kline stream payload. Only candles flagged
// closed by the feed are appended.
func (in *Ingestor) HandleKline(data json.RawMessage) {
	var ev binance.KlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		in.logger.Warn("failed to parse kline payload", zap.Error(err))
		return
	}

	k := ev.Kline
	if !k.IsClosed {
		return
	}

	candle, err := toCandle(ev.Symbol, k)
	if err != nil {
		in.logger.Warn("failed to convert kline",
			zap.String("symbol", ev.Symbol), zap.Error(err))
		return
	}

	in.candles.AppendClosed(candle.Symbol, candle.Interval, candle, true)

	if in.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := in.persister.InsertCandle(ctx, candle); err != nil {
			in.logger.Warn("failed to persist candle",
				zap.String("symbol", candle.Symbol), zap.Error(err))
		}
	}
}

func toCandle(symbol string, k binance.KlineWS) (market.Candle, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return market.Candle{}, err
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return market.Candle{}, err
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return market.Candle{}, err
	}
	closeVal, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return market.Candle{}, err
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return market.Candle{}, err
	}

	return market.Candle{
		Symbol:    symbol,
		Interval:  k.Interval,
		OpenTime:  k.OpenTime,
		CloseTime: k.CloseTime,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closeVal,
		Volume:    volume,
	}, nil
}
