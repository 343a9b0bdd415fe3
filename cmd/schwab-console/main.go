// Command schwab-console connects the adapter to a live account, streams
// order events and level-one quotes to the terminal, and captures ticks to
// Parquet. With -simulate it runs against the in-memory broker instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"schwabbridge/internal/broker"
	"schwabbridge/internal/config"
	"schwabbridge/internal/domain"
	"schwabbridge/internal/schwab"
	"schwabbridge/internal/store"
	"schwabbridge/internal/util"
)

const tickFlushInterval = 30 * time.Second

func main() {
	// Credentials usually live in .env during development.
	_ = godotenv.Load()

	cfgPath := flag.String("config", "config/schwabbridge.yaml", "path to the YAML config file")
	symbolsArg := flag.String("symbols", "", "comma-separated equity tickers to stream")
	simulate := flag.Bool("simulate", false, "run against the in-memory simulator")
	flag.Parse()
	if p := os.Getenv("SCHWABBRIDGE_CONFIG"); p != "" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "loading config: %v\n", err)
		os.Exit(1)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if *simulate {
		runSimulated(ctx, logger.With("broker", "simulator"))
		return
	}

	var journal store.Journal
	if cfg.Storage.SQLitePath != "" {
		j, err := store.NewSQLiteJournal(cfg.Storage.SQLitePath)
		if err != nil {
			logger.Error("opening journal", "error", err)
			os.Exit(1)
		}
		defer j.Close()
		journal = j
	}

	holdings := newHoldingsView()
	b := schwab.NewBrokerage(schwab.Options{
		Log:               logger,
		AppKey:            cfg.Schwab.AppKey,
		AppSecret:         cfg.Schwab.AppSecret,
		RefreshToken:      cfg.Schwab.RefreshToken,
		AccountNumber:     cfg.Schwab.AccountNumber,
		BaseURL:           cfg.Schwab.BaseURL,
		AuthURL:           cfg.Schwab.AuthURL,
		Holdings:          holdings,
		Journal:           journal,
		OpenOrderLookback: cfg.Trading.OpenOrderLookback,
		UpdateTimeout:     cfg.Trading.UpdateTimeout,
		EventBuffer:       cfg.Trading.EventBuffer,
	})

	if err := b.Connect(ctx); err != nil {
		logger.Error("connecting brokerage", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	positions, err := b.GetPositions(ctx)
	if err != nil {
		logger.Error("fetching positions", "error", err)
		os.Exit(1)
	}
	holdings.replace(positions)
	logger.Info("account loaded", "positions", len(positions))

	open, err := b.GetOpenOrders(ctx)
	if err != nil {
		logger.Error("fetching open orders", "error", err)
		os.Exit(1)
	}
	for _, o := range open {
		logger.Info("working order", "orderID", o.ID, "instrument", o.Instrument.String(),
			"quantity", o.Quantity.String(), "status", string(o.Status))
	}

	if *symbolsArg != "" {
		var instruments []domain.Instrument
		for _, ticker := range strings.Split(*symbolsArg, ",") {
			instruments = append(instruments, domain.NewEquity(strings.ToUpper(strings.TrimSpace(ticker))))
		}
		if err := b.Subscribe(ctx, instruments); err != nil {
			logger.Error("subscribing market data", "error", err)
			os.Exit(1)
		}
		logger.Info("market data subscribed", "symbols", *symbolsArg)
	}

	// Capture ticks to Parquet in the background.
	if cfg.Storage.DataDir != "" {
		ticks := store.NewParquetTickStore(cfg.Storage.DataDir)
		go captureTicks(ctx, b, ticks, logger)
	}

	printEvents(ctx, b.Events(), logger)
	logger.Info("shutting down")
}

// runSimulated places a demo order against the in-memory broker and prints
// the resulting event flow.
func runSimulated(ctx context.Context, logger interface {
	Info(string, ...any)
	Error(string, ...any)
}) {
	sim := broker.NewSimulatorBroker(64)
	o := &domain.Order{
		ID:         1,
		Instrument: domain.NewEquity("AAPL"),
		Quantity:   decimal.NewFromInt(10),
		Kind:       domain.OrderLimit,
		LimitPrice: decimal.RequireFromString("190"),
		TIF:        domain.TIFDay,
	}
	if err := sim.PlaceOrder(ctx, o); err != nil {
		logger.Error("simulated place failed", "error", err)
		return
	}
	for {
		select {
		case e := <-sim.Events():
			logger.Info("order event", "orderID", e.OrderID, "status", string(e.Status))
			if e.Status.IsTerminal() {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// printEvents drains the order event feed until shutdown.
func printEvents(ctx context.Context, events <-chan domain.OrderEvent, logger interface {
	Info(string, ...any)
	Warn(string, ...any)
}) {
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			switch e.Kind {
			case domain.EventStatusChanged:
				logger.Info("order status", "orderID", e.OrderID, "status", string(e.Status), "message", e.Message)
			case domain.EventIDChanged:
				logger.Info("order replaced", "orderID", e.OrderID, "oldBrokerID", e.OldBrokerID, "newBrokerID", e.NewBrokerID)
			case domain.EventBrokerMessage:
				logger.Warn("brokerage message", "message", e.Message)
			}
		case <-ctx.Done():
			return
		}
	}
}

// captureTicks batches book updates and flushes them to Parquet.
func captureTicks(ctx context.Context, b *schwab.Brokerage, ticks store.TickStore, logger interface {
	Error(string, ...any)
}) {
	id, ch := b.Book().Subscribe(1024)
	defer b.Book().Unsubscribe(id)

	cal := util.NewTradingCalendar(domain.MarketUS)
	var batch []domain.QuoteTick
	flush := time.NewTicker(tickFlushInterval)
	defer flush.Stop()

	for {
		select {
		case tick := <-ch:
			// Drop ticks outside regular and extended sessions.
			if !cal.IsMarketOpen(tick.Time) && !cal.IsExtendedHours(tick.Time) {
				continue
			}
			batch = append(batch, tick)
		case <-flush.C:
			if len(batch) == 0 {
				continue
			}
			if err := ticks.WriteTicks(ctx, batch); err != nil {
				logger.Error("flushing ticks", "error", err)
			}
			batch = batch[:0]
		case <-ctx.Done():
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				if err := ticks.WriteTicks(flushCtx, batch); err != nil {
					logger.Error("flushing ticks at shutdown", "error", err)
				}
				cancel()
			}
			return
		}
	}
}

// holdingsView is a mutable snapshot of account positions satisfying the
// builder's holdings lookup.
type holdingsView struct {
	mu  sync.RWMutex
	qty map[string]decimal.Decimal
}

func newHoldingsView() *holdingsView {
	return &holdingsView{qty: make(map[string]decimal.Decimal)}
}

func (h *holdingsView) replace(positions []domain.Position) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.qty = make(map[string]decimal.Decimal, len(positions))
	for _, p := range positions {
		h.qty[p.Instrument.String()] = p.Quantity
	}
}

// HoldingsQuantity returns the signed held quantity, zero when flat.
func (h *holdingsView) HoldingsQuantity(inst domain.Instrument) decimal.Decimal {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.qty[inst.String()]
}
