package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"delta-grid-bot/internal/config"
	"delta-grid-bot/internal/delta"
	"delta-grid-bot/internal/grid"
	"delta-grid-bot/internal/logging"

	"github.com/shopspring/decimal"
)

const (
	defaultRESTTimeout   = 10 * time.Second
	defaultProductID     = 27
	defaultVerifyEnvFile = ".env"
)

// verify checks credentials and connectivity without trading: it prints the
// signature for a sample request, then reads the position and open orders.
func main() {
	configPath := flag.String("config", "", "optional config path for REST and product settings")
	showPlan := flag.Bool("plan", false, "print the grid that would be placed for the current position")
	offline := flag.Bool("offline", false, "print the sample signature and exit")
	flag.Parse()

	if err := config.LoadEnv(defaultVerifyEnvFile); err != nil {
		fatal(err)
	}

	logCfg := config.LoggingConfig{Level: "info"}
	baseURL := strings.TrimSpace(os.Getenv(config.EnvBaseURL))
	timeout := defaultRESTTimeout
	productID := int64(defaultProductID)
	if raw := strings.TrimSpace(os.Getenv(config.EnvProductID)); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			fatal(fmt.Errorf("invalid %s: %w", config.EnvProductID, err))
		}
		productID = parsed
	}
	apiKey := strings.TrimSpace(os.Getenv(config.EnvAPIKey))
	apiSecret := strings.TrimSpace(os.Getenv(config.EnvAPISecret))
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		logCfg = cfg.Log
		baseURL = cfg.REST.BaseURL
		timeout = cfg.REST.Timeout
		productID = cfg.Delta.ProductID
		apiKey, apiSecret = cfg.Delta.APIKey, cfg.Delta.APISecret
	}
	if apiKey == "" || apiSecret == "" {
		fatal(errors.New(config.EnvAPIKey + " and " + config.EnvAPISecret + " are required"))
	}

	log := logging.New(logCfg)
	defer func() { _ = log.Sync() }()

	signer, err := delta.NewSigner(apiKey, apiSecret)
	if err != nil {
		fatal(err)
	}
	ts := time.Now().Unix()
	query := "?product_id=" + strconv.FormatInt(productID, 10)
	fmt.Printf("sample prehash: %s\n", delta.Prehash("GET", ts, "/v2/positions", query))
	fmt.Printf("sample signature: %s\n", signer.Sign("GET", ts, "/v2/positions", query))
	if *offline {
		return
	}

	client, err := delta.NewClient(baseURL, timeout, signer, log.Named("delta"))
	if err != nil {
		fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*timeout)
	defer cancel()

	pos, err := client.Position(ctx, productID)
	if err != nil {
		fatal(fmt.Errorf("position: %w", err))
	}
	switch {
	case pos == nil:
		fmt.Println("position: none reported")
	case !pos.HasEntry:
		fmt.Printf("position: size=%d entry=none (dead zone)\n", pos.Size)
	default:
		fmt.Printf("position: size=%d entry=%s\n", pos.Size, pos.EntryPrice)
	}

	orders, err := client.OpenOrders(ctx, productID)
	if err != nil {
		fatal(fmt.Errorf("open orders: %w", err))
	}
	fmt.Printf("open orders: %d\n", len(orders))
	for _, order := range orders {
		fmt.Printf("  id=%d side=%s size=%d limit_price=%s\n", order.ID, order.Side, order.Size, order.LimitPrice)
	}

	if *showPlan && pos != nil && pos.HasEntry {
		printPlan(pos.EntryPrice, pos.Size)
	}
}

func printPlan(entry decimal.Decimal, size int64) {
	orders := grid.Plan(entry, size)
	if len(orders) == 0 {
		fmt.Printf("plan: no legs for size %d\n", size)
		return
	}
	fmt.Printf("plan: %d legs around %s\n", len(orders), entry.Truncate(0))
	for _, order := range orders {
		fmt.Printf("  %s %d @ %s leverage=%d\n", order.Side, order.Size, order.LimitPrice, order.Leverage)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
