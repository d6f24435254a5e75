package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"marketpulse/config"
	"marketpulse/internal/backfill"
	"marketpulse/internal/market"
	"marketpulse/internal/server"
	"marketpulse/internal/stream"
	"marketpulse/pkg/binance"
	"marketpulse/pkg/storage/postgres"

	"go.uber.org/zap"
)

// App owns the stores and the components around them. Everything is built
// here and passed by reference, so tests can assemble the same pipeline
// from parts.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	candles   *market.CandleStore
	tickers   *market.TickerStore
	discovery *market.DiscoveryTracker

	ws        *binance.WSClient
	scheduler *backfill.Scheduler
	httpSrv   *http.Server
	pg        *postgres.Client

	cancel context.CancelFunc
}

// New wires the full pipeline from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	candles := market.NewCandleStore(cfg.Market.MaxCounts, 100, logger)
	tickers := market.NewTickerStore(cfg.Market.TickerExpiry, logger)
	discovery := market.NewDiscoveryTracker(cfg.Market.MinQuoteVolume, cfg.Market.SymbolExpiry, logger)

	horizons := make([]market.Horizon, 0, len(cfg.Market.Horizons))
	for _, h := range cfg.Market.Horizons {
		if !binance.Interval(h.Interval).IsValid() {
			return nil, fmt.Errorf("horizon %q uses invalid interval %q", h.Name, h.Interval)
		}
		horizons = append(horizons, market.Horizon{
			Name:        h.Name,
			Interval:    h.Interval,
			PeriodsBack: h.PeriodsBack,
		})
	}
	calc := market.NewChangeCalculator(candles, horizons)

	// Optional candle mirror
	var pg *postgres.Client
	var persister stream.CandlePersister
	if cfg.Postgres.Enabled {
		client, err := postgres.InitializeAndMigrate(cfg.Postgres, cfg.Log.Environment, true)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to DB: %w", err)
		}
		pg = client
		persister = client
	}

	ingestor := stream.NewIngestor(candles, tickers, discovery, calc, persister, logger)

	ws := binance.NewWSClient(
		cfg.Exchange.WS.URL,
		cfg.Exchange.WS.ReconnectDelay,
		cfg.Exchange.WS.MaxReconnectAttempts,
		logger,
	)
	ws.RegisterHandler(binance.TickerArrStream, ingestor.HandleTickerArray)

	// One kline stream per seed symbol and horizon interval; everything
	// else is kept current by the backfill rotation.
	intervals := horizonIntervals(horizons)
	for _, symbol := range cfg.Backfill.SeedSymbols {
		for _, interval := range intervals {
			ws.RegisterHandler(binance.KlineStream(symbol, interval), ingestor.HandleKline)
		}
	}

	rest := binance.NewRESTClient(cfg.Exchange.REST.BaseURL, cfg.Exchange.REST.Timeout)
	scheduler := backfill.NewScheduler(
		rest, candles, discovery,
		cfg.Backfill, intervals, cfg.Market.MaxCounts,
		cfg.Exchange.REST.Timeout, logger,
	)

	srv := server.New(candles, tickers, discovery, ws, logger)
	httpSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &App{
		cfg:       cfg,
		logger:    logger,
		candles:   candles,
		tickers:   tickers,
		discovery: discovery,
		ws:        ws,
		scheduler: scheduler,
		httpSrv:   httpSrv,
		pg:        pg,
	}, nil
}

func horizonIntervals(horizons []market.Horizon) []binance.Interval {
	seen := map[string]bool{}
	var out []binance.Interval
	for _, h := range horizons {
		if !seen[h.Interval] {
			seen[h.Interval] = true
			out = append(out, binance.Interval(h.Interval))
		}
	}
	return out
}

// Run starts every background component and the HTTP server. It returns
// once startup is done; failures after that are handled by the components
// themselves.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	a.warmFromMirror(ctx)

	a.tickers.StartSweeper(ctx, a.cfg.Market.SweepInterval)
	go a.scheduler.Run(ctx)
	go a.statsLoop(ctx)

	if err := a.ws.Connect(); err != nil {
		// The client has already armed its own reconnect timer; startup
		// proceeds and the feed catches up when the connection lands.
		a.logger.Warn("initial stream connect failed, retrying in background", zap.Error(err))
	}

	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.httpSrv.Addr))
		if err := a.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("http server failed", zap.Error(err))
		}
	}()

	return nil
}

// warmFromMirror pre-seeds the candle store from Postgres so lookbacks work
// right after a restart instead of waiting for backfill.
func (a *App) warmFromMirror(ctx context.Context) {
	if a.pg == nil {
		return
	}

	warmed := 0
	for _, symbol := range a.cfg.Backfill.SeedSymbols {
		for interval, limit := range a.cfg.Market.MaxCounts {
			loadCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			candles, err := a.pg.GetCandles(loadCtx, symbol, interval, limit)
			cancel()
			if err != nil {
				a.logger.Warn("failed to warm candles from mirror",
					zap.String("symbol", symbol), zap.String("interval", interval), zap.Error(err))
				continue
			}
			if len(candles) > 0 {
				a.candles.SetSeries(symbol, interval, candles)
				warmed++
			}
		}
	}
	if warmed > 0 {
		a.logger.Info("warmed candle series from mirror", zap.Int("series", warmed))
	}
}

// statsLoop periodically logs store sizes and connection state.
func (a *App) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.logger.Info("store stats",
				zap.Int("candles", a.candles.CountAll()),
				zap.Int("tickers", a.tickers.Count()),
				zap.Int("symbols", a.discovery.Count()),
				zap.String("connection", a.ws.Status().State))
		}
	}
}

// Shutdown stops components in order: suppress reconnects and close the
// stream, stop timers and sweeps, then drain the HTTP server. In-flight
// REST fetches finish or time out on their own.
func (a *App) Shutdown(ctx context.Context) {
	a.ws.Disconnect()
	if a.cancel != nil {
		a.cancel()
	}
	if err := a.httpSrv.Shutdown(ctx); err != nil {
		a.logger.Warn("http shutdown incomplete", zap.Error(err))
	}
	if a.pg != nil {
		if err := a.pg.Close(); err != nil {
			a.logger.Warn("failed to close DB", zap.Error(err))
		}
	}
	a.logger.Info("shutdown complete")
}
