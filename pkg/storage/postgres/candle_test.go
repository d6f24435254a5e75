package postgres

import (
	"testing"
	"time"

	"marketpulse/internal/market"
)

func TestCandleRecordConversion(t *testing.T) {
	c := market.Candle{
		Symbol:    "BTCUSDT",
		Interval:  "5m",
		OpenTime:  1690000000000,
		CloseTime: 1690000299999,
		Open:      100.1,
		High:      101.0,
		Low:       99.5,
		Close:     100.5,
		Volume:    12.3,
	}

	rec := ToCandleRecord(c)
	if rec.Symbol != "BTCUSDT" || rec.Interval != "5m" {
		t.Errorf("identity fields wrong: %+v", rec)
	}
	if !rec.OpenTime.Equal(time.UnixMilli(1690000000000)) {
		t.Errorf("open time wrong: %v", rec.OpenTime)
	}
	if rec.Close != 100.5 || rec.Volume != 12.3 {
		t.Errorf("numeric fields wrong: %+v", rec)
	}

	back := FromCandleRecord(*rec)
	if back != c {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", back, c)
	}
}
