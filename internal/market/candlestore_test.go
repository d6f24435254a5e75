package market

import (
	"fmt"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func testCandles(symbol, interval string, closes ...float64) []Candle {
	out := make([]Candle, 0, len(closes))
	for i, c := range closes {
		openTime := int64(i) * 300_000 // 5m buckets
		out = append(out, Candle{
			Symbol:    symbol,
			Interval:  interval,
			OpenTime:  openTime,
			CloseTime: openTime + 299_999,
			Open:      c,
			High:      c,
			Low:       c,
			Close:     c,
			Volume:    1,
		})
	}
	return out
}

func TestSetSeriesTrimsOldest(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 3}, 100, zap.NewNop())

	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2, 3, 4, 5))

	got := store.GetSeries("BTCUSDT", "5m")
	if len(got) != 3 {
		t.Fatalf("expected 3 candles after trim, got %d", len(got))
	}
	// The most recent candles must survive, oldest evicted.
	if got[0].Close != 3 || got[2].Close != 5 {
		t.Errorf("unexpected retained window: %+v", got)
	}
	for i := 1; i < len(got); i++ {
		if got[i].OpenTime <= got[i-1].OpenTime {
			t.Errorf("openTime not ascending at %d: %+v", i, got)
		}
	}
}

func TestSetSeriesRejectsMalformedInput(t *testing.T) {
	store := NewCandleStore(nil, 100, zap.NewNop())

	store.SetSeries("", "5m", testCandles("", "5m", 1))
	store.SetSeries("BTCUSDT", "", testCandles("BTCUSDT", "", 1))

	if got := store.GetSeries("BTCUSDT", ""); got != nil {
		t.Errorf("expected no series for empty interval, got %v", got)
	}
	if n := store.CountAll(); n != 0 {
		t.Errorf("expected empty store, got %d candles", n)
	}
}

func TestAppendClosedOnly(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 10}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2))

	open := Candle{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 600_000, Close: 3}
	store.AppendClosed("BTCUSDT", "5m", open, false)

	if got := store.GetSeries("BTCUSDT", "5m"); len(got) != 2 {
		t.Fatalf("in-progress candle must not be stored, got %d candles", len(got))
	}

	store.AppendClosed("BTCUSDT", "5m", open, true)
	got := store.GetSeries("BTCUSDT", "5m")
	if len(got) != 3 || got[2].Close != 3 {
		t.Fatalf("closed candle not appended: %+v", got)
	}
}

func TestAppendClosedHonorsMaxCount(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 3}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2, 3))

	store.AppendClosed("BTCUSDT", "5m",
		Candle{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 900_000, Close: 4}, true)

	got := store.GetSeries("BTCUSDT", "5m")
	if len(got) != 3 {
		t.Fatalf("append must preserve retention limit, got %d", len(got))
	}
	if got[0].Close != 2 || got[2].Close != 4 {
		t.Errorf("unexpected window after append: %+v", got)
	}
}

func TestAppendClosedReplacesSameBucket(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 10}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2))

	// Same openTime delivered again: replaces, never duplicates.
	store.AppendClosed("BTCUSDT", "5m",
		Candle{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 300_000, Close: 9}, true)

	got := store.GetSeries("BTCUSDT", "5m")
	if len(got) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(got))
	}
	if got[1].Close != 9 {
		t.Errorf("trailing candle not replaced: %+v", got)
	}
}

func TestAppendClosedReplacesNonTrailingBucket(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 10}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2, 3))

	// Late re-delivery of the middle bucket: still one candle per openTime.
	store.AppendClosed("BTCUSDT", "5m",
		Candle{Symbol: "BTCUSDT", Interval: "5m", OpenTime: 300_000, Close: 9}, true)

	got := store.GetSeries("BTCUSDT", "5m")
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d: %+v", len(got), got)
	}
	if got[1].OpenTime != 300_000 || got[1].Close != 9 {
		t.Errorf("middle candle not replaced: %+v", got)
	}
}

func TestConcurrentWritersSameKey(t *testing.T) {
	// A backfill SetSeries and a streamed append racing on one series must
	// both land: whichever order they run in, the fresh series survives.
	fresh := testCandles("BTCUSDT", "5m", 10, 11, 12, 13)
	newest := fresh[len(fresh)-1].OpenTime

	for i := 0; i < 200; i++ {
		store := NewCandleStore(map[string]int{"5m": 50}, 100, zap.NewNop())
		store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2))

		streamed := Candle{
			Symbol: "BTCUSDT", Interval: "5m",
			OpenTime: newest + 300_000, Close: 99,
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			store.SetSeries("BTCUSDT", "5m", fresh)
		}()
		go func() {
			defer wg.Done()
			store.AppendClosed("BTCUSDT", "5m", streamed, true)
		}()
		wg.Wait()

		got := store.GetSeries("BTCUSDT", "5m")
		found := false
		for _, c := range got {
			if c.OpenTime == newest {
				found = true
			}
		}
		if !found {
			t.Fatalf("iteration %d: backfill series lost, final %+v", i, got)
		}
	}
}

func TestCloseNIntervalsAgo(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 10}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 100, 102, 101, 105))

	if price, ok := store.CloseNIntervalsAgo("BTCUSDT", "5m", 0); !ok || price != 105 {
		t.Errorf("n=0: got %v %v, want 105 true", price, ok)
	}
	if price, ok := store.CloseNIntervalsAgo("BTCUSDT", "5m", 3); !ok || price != 100 {
		t.Errorf("n=3: got %v %v, want 100 true", price, ok)
	}
	if _, ok := store.CloseNIntervalsAgo("BTCUSDT", "5m", 4); ok {
		t.Error("n=4 beyond history must report absent")
	}
	if _, ok := store.CloseNIntervalsAgo("ETHUSDT", "5m", 0); ok {
		t.Error("unknown symbol must report absent")
	}
	if _, ok := store.CloseNIntervalsAgo("BTCUSDT", "5m", -1); ok {
		t.Error("negative lookback must report absent")
	}
}

func TestSummary(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 10}, 100, zap.NewNop())
	store.SetSeries("BTCUSDT", "5m", testCandles("BTCUSDT", "5m", 1, 2, 3))
	store.SetSeries("ETHUSDT", "1h", testCandles("ETHUSDT", "1h", 4))

	sum := store.Summary()
	if len(sum) != 2 {
		t.Fatalf("expected 2 series, got %d", len(sum))
	}
	if sum[0].Symbol != "BTCUSDT" || sum[0].Count != 3 {
		t.Errorf("unexpected first summary: %+v", sum[0])
	}
	if sum[0].OldestOpenTime != 0 || sum[0].LatestCloseTime != 899_999 {
		t.Errorf("unexpected time bounds: %+v", sum[0])
	}
}

func TestConcurrentWritersDistinctKeys(t *testing.T) {
	store := NewCandleStore(map[string]int{"5m": 50}, 100, zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			symbol := fmt.Sprintf("SYM%dUSDT", i)
			for j := 0; j < 50; j++ {
				store.SetSeries(symbol, "5m", testCandles(symbol, "5m", float64(j)))
				store.GetSeries(symbol, "5m")
				store.CloseNIntervalsAgo(symbol, "5m", 0)
			}
		}(i)
	}
	wg.Wait()

	if n := len(store.Summary()); n != 8 {
		t.Errorf("expected 8 series, got %d", n)
	}
}
