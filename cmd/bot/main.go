package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"multi-strategy-bot-go/internal/config"
	"multi-strategy-bot-go/internal/exchange"
	"multi-strategy-bot-go/internal/logger"
	"multi-strategy-bot-go/internal/models"
	"multi-strategy-bot-go/internal/orchestrator"
	"multi-strategy-bot-go/internal/reporter"
	"multi-strategy-bot-go/internal/tradelog"

	"github.com/adshao/go-binance/v2"
	"github.com/joho/godotenv"
)

const (
	defaultLiveAPIURL    = "https://api.binance.com"
	defaultLiveWSURL     = "wss://stream.binance.com:9443"
	defaultTestnetAPIURL = "https://testnet.binance.vision"
	defaultTestnetWSURL  = "wss://stream.testnet.binance.vision"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or paper")
	flag.Parse()

	// A default logger first, so config loading itself can log.
	logger.InitLogger(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from the environment")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config: %v", err)
	}

	// Re-initialize with the configured logging setup.
	logger.InitLogger(cfg.LogConfig)
	defer logger.S().Sync()

	var rec tradelog.Recorder = tradelog.NewNopRecorder()
	if cfg.TradeLogPath != "" {
		rec, err = tradelog.NewBadgerRecorder(cfg.TradeLogPath)
		if err != nil {
			logger.S().Fatalf("failed to open trade log at %s: %v", cfg.TradeLogPath, err)
		}
	}
	defer rec.Close()

	var (
		ex         exchange.Exchange
		stopFeeder func()
	)
	switch *mode {
	case "live":
		ex = buildLiveExchange(cfg)
	case "paper":
		paper := exchange.NewPaperExchange(logger.S())
		stopFeeder = startPriceFeeder(paper, collectSymbols(cfg))
		ex = paper
	default:
		logger.S().Fatalf("unknown mode %q, want live or paper", *mode)
	}

	if err := ex.Connect(); err != nil {
		logger.S().Fatalf("failed to connect to the exchange: %v", err)
	}
	defer ex.Disconnect()

	orch, err := orchestrator.New(cfg, ex, rec, logger.S())
	if err != nil {
		logger.S().Fatalf("failed to build the bot fleet: %v", err)
	}
	if err := orch.StartAll(); err != nil {
		logger.S().Fatalf("failed to start the bot fleet: %v", err)
	}

	rep := reporter.New(orch, time.Duration(cfg.ReportIntervalSec)*time.Second, logger.S())
	rep.Start()

	logger.S().Infof("running %d bot(s) in %s mode", len(orch.Bots()), *mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.S().Infof("received %s, shutting down", sig)

	rep.Stop()
	orch.StopAll()
	if stopFeeder != nil {
		stopFeeder()
	}
	rep.Report()
}

func buildLiveExchange(cfg *models.Config) exchange.Exchange {
	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set for live mode")
	}

	apiURL, wsURL := cfg.LiveAPIURL, cfg.LiveWSURL
	if cfg.IsTestnet {
		apiURL, wsURL = cfg.TestnetAPIURL, cfg.TestnetWSURL
		if apiURL == "" {
			apiURL = defaultTestnetAPIURL
		}
		if wsURL == "" {
			wsURL = defaultTestnetWSURL
		}
	} else {
		if apiURL == "" {
			apiURL = defaultLiveAPIURL
		}
		if wsURL == "" {
			wsURL = defaultLiveWSURL
		}
	}
	return exchange.NewLiveExchange(apiKey, secretKey, apiURL, wsURL, logger.S())
}

// collectSymbols gathers every symbol the fleet trades, including the
// portfolio constituents nested in the strategy section.
func collectSymbols(cfg *models.Config) []string {
	seen := make(map[string]bool)
	for _, bc := range cfg.Bots {
		if bc.Symbol != "" {
			seen[bc.Symbol] = true
		}
		if targets, ok := bc.Strategy["target_allocations"].(map[string]interface{}); ok {
			for sym := range targets {
				seen[sym] = true
			}
		}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	return symbols
}

// startPriceFeeder polls the public ticker endpoint and drives the paper
// exchange with real prices. No API keys are needed.
func startPriceFeeder(paper *exchange.PaperExchange, symbols []string) func() {
	client := binance.NewClient("", "")
	stop := make(chan struct{})

	poll := func() {
		for _, sym := range symbols {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			prices, err := client.NewListPricesService().Symbol(sym).Do(ctx)
			cancel()
			if err != nil {
				logger.S().Warnw("price poll failed", "symbol", sym, "err", err)
				continue
			}
			for _, p := range prices {
				v, err := strconv.ParseFloat(p.Price, 64)
				if err != nil {
					continue
				}
				paper.SetPrice(p.Symbol, v)
			}
		}
	}

	poll()
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				poll()
			case <-stop:
				return
			}
		}
	}()
	return func() { close(stop) }
}
