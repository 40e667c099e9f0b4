package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"main/internal/config"
	"main/internal/engine"
	"main/internal/feed"
	"main/internal/model"
	"main/internal/notify"
	"main/internal/obs"
	"main/internal/store"
	"main/internal/store/pgstore"
	"main/internal/store/redisstore"
	"main/internal/trade"
	"main/pkg/conn"

	pyroscope "github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"
)

type stores struct {
	prices   store.CurrentPriceStore
	active   store.ActiveCandleStore
	series   store.CandleSeriesStore
	trades   store.TradeStore
	accounts store.AccountStore
	close    func()
}

func main() {
	configPath := flag.String("config", "config.json", "Path to JSON config")
	profileAddr := flag.String("profile-addr", "", "Pyroscope server address (empty=disabled)")
	metricsEvery := flag.Duration("metrics-interval", time.Minute, "Counter snapshot log interval (0=disable)")
	demoTrades := flag.Int("demo-trades", 0, "Number of demo trades to open against the first account")
	demoInterval := flag.Duration("demo-interval", 10*time.Second, "Delay between demo trades")
	flag.Parse()

	loaded, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *profileAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "options-platform",
			ServerAddress:   *profileAddr,
		})
		if err != nil {
			log.Fatalf("profiler start failed: %v", err)
		}
		defer func() { _ = profiler.Stop() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := buildStores(ctx, loaded)
	if err != nil {
		log.Fatalf("store setup failed: %v", err)
	}
	defer st.close()

	metrics := obs.NewMetrics()
	registry := notify.NewRegistry(metrics)

	var hub *feed.Hub
	if loaded.FeedURL != "" {
		hub = feed.NewHub(feed.WebsocketDialer(loaded.FeedURL), st.prices,
			feed.WithBackoff(loaded.Backoff),
			feed.WithMetrics(metrics),
		)
	}

	manager := engine.NewManager(st.prices, st.active, st.series, hub, loaded.Timeframes)
	manager.Start(ctx, loaded.Instruments)

	forwardCtx, stopForward := context.WithCancel(ctx)
	for _, id := range manager.InstrumentIDs() {
		b, err := manager.Bus(id)
		if err != nil {
			continue
		}
		go registry.ForwardBus(forwardCtx, id, b)
	}

	openSvc := trade.NewOpenService(manager, st.trades, st.accounts, registry, loaded.PayoutRate)
	if *demoTrades > 0 {
		go runDemoTrades(ctx, openSvc, manager, loaded, *demoTrades, *demoInterval)
	}

	settler := trade.NewSettler(manager, st.trades, st.accounts, registry,
		trade.WithSettleInterval(loaded.SettleInterval),
		trade.WithSettleMetrics(metrics),
	)
	settler.Start(ctx)

	if *metricsEvery > 0 {
		go logMetrics(ctx, metrics, *metricsEvery)
	}

	logs.Infof("platform up, %d instruments", len(manager.InstrumentIDs()))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logs.Infof("shutting down")

	settler.Stop()
	stopForward()
	manager.Stop()
}

// buildStores selects durable backends when configured and falls back
// to in-memory stores for local runs.
func buildStores(ctx context.Context, loaded config.Loaded) (stores, error) {
	memAccounts := store.NewMemoryAccounts()
	st := stores{
		prices:   store.NewMemoryPrices(),
		active:   store.NewMemoryActiveCandles(),
		series:   store.NewMemorySeries(),
		trades:   store.NewMemoryTrades(memAccounts),
		accounts: memAccounts,
		close:    func() {},
	}
	for _, ac := range loaded.Accounts {
		memAccounts.Put(model.Account{
			ID:       ac.ID,
			UserID:   ac.UserID,
			Balance:  decimal.NewFromFloat(ac.Balance),
			Currency: ac.Currency,
		})
	}

	closers := make([]func(), 0, 2)

	if loaded.Redis.Host != "" {
		client, err := conn.NewRedis(ctx, conn.RedisOption{
			Host:     loaded.Redis.Host,
			Port:     loaded.Redis.Port,
			Password: loaded.Redis.Password,
			DB:       loaded.Redis.DB,
		})
		if err != nil {
			return stores{}, err
		}
		st.prices = redisstore.NewPrices(client, 0)
		st.active = redisstore.NewActiveCandles(client, 0)
		closers = append(closers, func() { _ = client.Close() })
	}

	if loaded.Postgres.Host != "" {
		client, err := conn.NewPostgres(conn.PostgresOption{
			Host:     loaded.Postgres.Host,
			Port:     loaded.Postgres.Port,
			User:     loaded.Postgres.User,
			Password: loaded.Postgres.Password,
			Database: loaded.Postgres.Database,
		})
		if err != nil {
			return stores{}, err
		}
		if err := pgstore.AutoMigrate(client.DB()); err != nil {
			return stores{}, err
		}
		st.series = pgstore.NewSeries(client.DB())
		st.trades = pgstore.NewTrades(client.DB())
		st.accounts = pgstore.NewAccounts(client.DB())
		closers = append(closers, func() { _ = client.Close() })
	}

	st.close = func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	return st, nil
}

// runDemoTrades opens a few alternating CALL/PUT trades against the
// first configured account so a local run exercises the full
// open-to-settle lifecycle.
func runDemoTrades(ctx context.Context, openSvc *trade.OpenService, manager *engine.Manager, loaded config.Loaded, count int, interval time.Duration) {
	if len(loaded.Accounts) == 0 {
		logs.Errorf("demo trades need at least one configured account")
		return
	}
	ids := manager.InstrumentIDs()
	if len(ids) == 0 {
		logs.Errorf("demo trades need at least one running instrument")
		return
	}
	account := loaded.Accounts[0]

	for i := 0; i < count; i++ {
		if ctx.Err() != nil {
			return
		}
		direction := "CALL"
		if i%2 == 1 {
			direction = "PUT"
		}
		opened, err := openSvc.Open(ctx, trade.OpenRequest{
			UserID:            account.UserID,
			AccountID:         account.ID,
			Direction:         direction,
			Instrument:        ids[i%len(ids)],
			Amount:            decimal.NewFromInt(10),
			ExpirationSeconds: 15,
		})
		if err != nil {
			logs.Errorf("open demo trade: %v", err)
		} else {
			logs.Infof("demo trade %s opened on %s", opened.ID, opened.Instrument)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func logMetrics(ctx context.Context, metrics *obs.Metrics, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := metrics.Snapshot()
			logs.Infof("counters ticks=%d reconnects=%d drops=%d win=%d loss=%d tie=%d skip=%d notify_drops=%d",
				s.TicksIngested, s.FeedReconnects, s.FeedDrops,
				s.SettlementWins, s.SettlementLoss, s.SettlementTies, s.SettlementSkips, s.NotifyDrops)
		}
	}
}
