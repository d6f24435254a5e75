package binance

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v3/klines" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("symbol") != "BTCUSDT" || q.Get("interval") != "5m" || q.Get("limit") != "2" {
			t.Errorf("unexpected query: %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			[1690000000000,"100.1","101.0","99.5","100.5","12.3",1690000299999,"1234.5",10,"6.1","610.0","0"],
			[1690000300000,"100.5","102.0","100.2","101.7","8.0",1690000599999,"812.0",7,"4.0","406.0","0"]
		]`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	candles, err := client.GetKlines(context.Background(), "BTCUSDT", Interval5Min, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("expected 2 candles, got %d", len(candles))
	}
	if candles[1].Close != 101.7 {
		t.Errorf("unexpected close: %+v", candles[1])
	}
}

func TestGetKlinesRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	_, err := client.GetKlines(context.Background(), "BTCUSDT", Interval5Min, 10)
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rle.RetryAfter != 7*time.Second {
		t.Errorf("retry-after: got %s, want 7s", rle.RetryAfter)
	}
}

func TestGetKlinesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	_, err := client.GetKlines(context.Background(), "NOPEUSDT", Interval5Min, 10)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	var rle *RateLimitError
	if errors.As(err, &rle) {
		t.Error("a 400 must not be classified as rate limiting")
	}
}
