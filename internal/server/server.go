package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"marketpulse/internal/market"
	"marketpulse/pkg/binance"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
)

// Server exposes the in-memory stores as a read-only JSON API. Every
// endpoint is a synchronous, non-blocking read; missing data answers 404,
// never 500, since partial data is the steady state of a live feed.
type Server struct {
	candles   *market.CandleStore
	tickers   *market.TickerStore
	discovery *market.DiscoveryTracker
	ws        *binance.WSClient
	logger    *zap.Logger
}

func New(
	candles *market.CandleStore,
	tickers *market.TickerStore,
	discovery *market.DiscoveryTracker,
	ws *binance.WSClient,
	logger *zap.Logger,
) *Server {
	return &Server{
		candles:   candles,
		tickers:   tickers,
		discovery: discovery,
		ws:        ws,
		logger:    logger,
	}
}

// Router builds the chi mux with logging, recovery and permissive CORS for
// read-only consumers.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/tickers", s.handleTickers)
		r.Get("/tickers/{symbol}", s.handleTicker)
		r.Get("/candles/summary", s.handleCandleSummary)
		r.Get("/candles/{symbol}/{interval}", s.handleCandles)
		r.Get("/discovery", s.handleDiscovery)
		r.Get("/status", s.handleStatus)
	})

	return r
}

func (s *Server) handleTickers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tickers.All())
}

func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	rec, ok := s.tickers.Get(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown symbol: "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCandles(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))
	interval := chi.URLParam(r, "interval")

	candles := s.candles.GetSeries(symbol, interval)
	if candles == nil {
		writeError(w, http.StatusNotFound, "no candles for "+symbol+"/"+interval)
		return
	}
	writeJSON(w, http.StatusOK, candles)
}

func (s *Server) handleCandleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.candles.Summary())
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.discovery.Stats())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connection":  s.ws.Status(),
		"tickerCount": s.tickers.Count(),
		"candleCount": s.candles.CountAll(),
		"symbolCount": s.discovery.Count(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
