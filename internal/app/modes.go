package app

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/lendcore/internal/domain"
	"github.com/alanyoungcy/lendcore/internal/feed"
	"github.com/alanyoungcy/lendcore/internal/lend"
	"github.com/alanyoungcy/lendcore/internal/liquidator"
	"github.com/alanyoungcy/lendcore/internal/observer"
	"github.com/alanyoungcy/lendcore/internal/platform/ammswap"
	"github.com/alanyoungcy/lendcore/internal/server"
	"github.com/alanyoungcy/lendcore/internal/server/handler"
)

// CoreMode runs the lending engine headless: price feed, interest
// accrual, liquidation observers, and the executor. No HTTP API.
func (a *App) CoreMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting core mode")

	g, ctx := errgroup.WithContext(ctx)
	fanout := a.startFeed(ctx, g, deps)
	a.startAccrual(ctx, g, deps)
	a.startObservers(ctx, g, deps, fanout, a.cfg.AMM.DetectOnly)
	a.startArchiver(ctx, g, deps)
	return g.Wait()
}

// MonitorMode watches positions without liquidating: the observers run
// detect-only and the HTTP API serves reads.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)
	fanout := a.startFeed(ctx, g, deps)
	a.startAccrual(ctx, g, deps)
	a.startObservers(ctx, g, deps, fanout, true)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// ServerMode serves the HTTP API only. Useful behind a core-mode
// process that owns the feed and liquidations.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: feed, accrual, observers, executor,
// archiver, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	fanout := a.startFeed(ctx, g, deps)
	a.startAccrual(ctx, g, deps)
	a.startObservers(ctx, g, deps, fanout, a.cfg.AMM.DetectOnly)
	a.startArchiver(ctx, g, deps)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps)
	}
	return g.Wait()
}

// startFeed connects the websocket price feed for every pool underlying
// against the compare currency and returns the fanout observers
// subscribe to.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) *feed.Fanout {
	fanout := feed.NewFanout()

	compare := domain.Brand(a.cfg.Compare)
	var pairs []feed.Pair
	for _, p := range deps.Registry.List() {
		pairs = append(pairs, feed.Pair{Asset: p.Underlying(), Compare: compare})
	}

	wsFeed := feed.NewWSFeed(a.cfg.Feed.WsURL, pairs, fanout, deps.QuoteCache, a.logger)
	g.Go(func() error {
		defer wsFeed.Close()
		return wsFeed.Run(ctx)
	})
	return fanout
}

// startAccrual charges interest on every pool at the configured cadence.
func (a *App) startAccrual(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	period := a.cfg.Interest.ChargingPeriod.Duration
	g.Go(func() error {
		ticker := time.NewTicker(period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case now := <-ticker.C:
				deps.Engine.ChargeInterest(ctx, now)
			}
		}
	})
}

// startObservers builds the liquidation executor and runs one observer
// per watchable pool pair against the price fanout.
func (a *App) startObservers(ctx context.Context, g *errgroup.Group, deps *Dependencies, fanout *feed.Fanout, detectOnly bool) {
	var amm liquidator.AMM
	if a.cfg.AMM.BaseURL != "" {
		client := ammswap.NewClient(a.cfg.AMM.BaseURL, a.cfg.AMM.APIKey)
		if a.cfg.AMM.RateLimit > 0 {
			client.SetRateLimiter(deps.RateLimiter, a.cfg.AMM.RateLimit, a.cfg.AMM.RateWindow.Duration)
		}
		amm = client
	}

	exec := liquidator.New(liquidator.Deps{
		Registry:   deps.Registry,
		AMM:        amm,
		Audits:     deps.LiquidationStore,
		Bus:        deps.SignalBus,
		Notifier:   deps.Notifier,
		Logger:     a.logger,
		DetectOnly: detectOnly,
	})

	mgr := observer.NewManager(
		deps.Registry,
		domain.Brand(a.cfg.Compare),
		fanout,
		func(ctx context.Context, loan *lend.Loan, collatQuote, debtQuote domain.PriceQuote) {
			exec.Liquidate(ctx, loan, collatQuote, debtQuote)
		},
		a.logger,
	)
	g.Go(func() error {
		return mgr.Run(ctx)
	})
}

// startArchiver sweeps settled liquidations to object storage when S3
// is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// startHTTPServer adds the HTTP API goroutines to the given errgroup.
// The server is shut down gracefully when the context is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:       handler.NewHealthHandler(deps.PGClient, deps.RedisClient, a.logger),
		Pools:        handler.NewPoolHandler(deps.Engine, a.logger),
		Loans:        handler.NewLoanHandler(deps.Engine, deps.LoanStore, a.logger),
		Liquidations: handler.NewLiquidationHandler(deps.LiquidationStore, a.logger),
		Governance:   handler.NewGovernanceHandler(deps.Engine, a.cfg.Governance.Address, a.logger),
		Status:       handler.NewStatusHandler(a.cfg.Mode, deps.Engine),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKeys:     a.cfg.Server.APIKeys,
		RateLimiter: deps.RateLimiter,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
