package postgres

import (
	"context"
	"time"

	"marketpulse/internal/market"

	"gorm.io/gorm/clause"
)

// InsertCandle stores one closed candle, silently skipping duplicates of the
// same (symbol, interval, open_time) bucket.
func (p *Client) InsertCandle(ctx context.Context, c market.Candle) error {
	record := ToCandleRecord(c)

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "open_time"},
		},
		DoNothing: true,
	}).Create(record)

	return tx.Error
}

// InsertCandles stores a backfill batch with the same conflict policy.
func (p *Client) InsertCandles(ctx context.Context, candles []market.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	records := make([]*CandleRecord, 0, len(candles))
	for _, c := range candles {
		records = append(records, ToCandleRecord(c))
	}

	tx := p.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "symbol"},
			{Name: "interval"},
			{Name: "open_time"},
		},
		DoNothing: true,
	}).CreateInBatches(records, 100)

	return tx.Error
}

// GetCandles returns stored candles for a series, openTime ascending.
func (p *Client) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]market.Candle, error) {
	var records []CandleRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ? AND interval = ?", symbol, interval).
		Order("open_time DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, err
	}

	// Reverse into ascending order for the store.
	out := make([]market.Candle, len(records))
	for i, r := range records {
		out[len(records)-1-i] = FromCandleRecord(r)
	}
	return out, nil
}

// DeleteOldCandles removes candles that opened before the cutoff.
func (p *Client) DeleteOldCandles(ctx context.Context, before time.Time) error {
	return p.DB.WithContext(ctx).
		Where("open_time < ?", before).
		Delete(&CandleRecord{}).Error
}

// ToCandleRecord converts a market candle into its database row.
func ToCandleRecord(c market.Candle) *CandleRecord {
	return &CandleRecord{
		Symbol:    c.Symbol,
		Interval:  c.Interval,
		OpenTime:  time.UnixMilli(c.OpenTime),
		CloseTime: time.UnixMilli(c.CloseTime),
		Open:      c.Open,
		High:      c.High,
		Low:       c.Low,
		Close:     c.Close,
		Volume:    c.Volume,
	}
}

// FromCandleRecord converts a database row back into a market candle.
func FromCandleRecord(r CandleRecord) market.Candle {
	return market.Candle{
		Symbol:    r.Symbol,
		Interval:  r.Interval,
		OpenTime:  r.OpenTime.UnixMilli(),
		CloseTime: r.CloseTime.UnixMilli(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}
