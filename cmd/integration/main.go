package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/lmorandi/gateway_desk/internal/config"
	"github.com/lmorandi/gateway_desk/internal/contracts"
	"github.com/lmorandi/gateway_desk/internal/gateway"
	"github.com/lmorandi/gateway_desk/internal/greeks"
	"github.com/lmorandi/gateway_desk/internal/marketdata"
	"github.com/lmorandi/gateway_desk/internal/mock"
	"github.com/lmorandi/gateway_desk/internal/models"
	"github.com/lmorandi/gateway_desk/internal/orders"
)

// End-to-end smoke run against the paper session: connect, resolve, quote,
// estimate volatility, build a greeks table and submit a strangle.
func main() {
	fmt.Println("=== Gateway Desk - End-to-End Integration Run ===")
	fmt.Println()

	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.IsPaperTrading() {
		log.Fatalf("Integration runs must use paper mode. Set environment.mode: 'paper' in config.yaml")
	}

	logger := log.New(os.Stdout, "[E2E] ", log.LstdFlags)

	mgr := gateway.NewManager(mock.NewPaperSession(), logger)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := mgr.Connect(ctx, cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.ClientID, cfg.ConnectTimeout()); err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer mgr.Disconnect()
	logger.Printf("Connected, state=%s", mgr.State())

	resolver := contracts.NewResolver(mgr, logger)
	data := marketdata.NewClient(mgr, resolver, logger, marketdata.Config{
		PollInterval: cfg.QuotePollInterval(),
		PollTimeout:  cfg.QuotePollTimeout(),
	})

	const symbol = "SPX"

	// Underlying quote.
	quote, qc, err := data.GetQuoteForSpec(models.StockSpec(symbol))
	if err != nil {
		log.Fatalf("Quote failed: %v", err)
	}
	mid, ok := quote.Mid()
	if !ok {
		log.Fatalf("No valid underlying quote: bid=%.2f ask=%.2f", quote.Bid, quote.Ask)
	}
	logger.Printf("Underlying %s (conID %d): mid %.2f", symbol, qc.ConID, mid)

	// Chain.
	chain, err := data.GetOptionChain(symbol)
	if err != nil {
		log.Fatalf("Chain lookup failed: %v", err)
	}
	if len(chain.Expirations) == 0 || len(chain.Strikes) == 0 {
		log.Fatalf("Empty chain for %s", symbol)
	}
	expiry := chain.Expirations[0]
	logger.Printf("Chain: %d expirations, %d strikes; using %s", len(chain.Expirations), len(chain.Strikes), expiry)

	// Volatility.
	est, err := data.GetImpliedVolatility(symbol, nil)
	if err != nil {
		log.Fatalf("Volatility estimate failed: %v", err)
	}
	sigma := greeks.DefaultVolatility
	if est.Average != nil {
		sigma = *est.Average
	} else if est.Implied != nil {
		sigma = *est.Implied
	}
	logger.Printf("Volatility estimate: %.4f", sigma)

	// Greeks table over a strike band around spot.
	strikes, err := data.GetStrikesForExpiration(symbol, expiry)
	if err != nil {
		log.Fatalf("Strike lookup failed: %v", err)
	}
	band := nearSpot(strikes, mid, 5)
	rows := data.GreeksTable(symbol, expiry, band, mid, cfg.Analytics.RiskFreeRate, sigma)
	for _, row := range rows {
		logger.Printf("  strike %.0f: call delta %+.3f put delta %+.3f theta %.4f",
			row.Strike, row.Call.Delta, row.Put.Delta, row.Call.Theta)
	}

	// Short strangle: sell the band's outermost strikes.
	putStrike, callStrike := band[0], band[len(band)-1]
	builder := orders.NewBuilder(mgr, resolver, logger, orders.Config{
		PollInterval: cfg.OrderPollInterval(),
		PollTimeout:  cfg.OrderPollTimeout(),
	})
	result, err := builder.Submit(models.Strategy{
		Legs: []models.StrategyLeg{
			{Option: models.OptionSpec(symbol, expiry, putStrike, models.RightPut), Action: models.ActionSell, Quantity: 1},
			{Option: models.OptionSpec(symbol, expiry, callStrike, models.RightCall), Action: models.ActionSell, Quantity: 1},
		},
		OrderType: models.OrderMarket,
		Quantity:  1,
	})
	if err != nil {
		log.Fatalf("Order submission failed: %v", err)
	}
	if result.Status != models.ResultSuccess {
		log.Fatalf("Order rejected: %s", result.Message)
	}
	logger.Printf("Strangle %.0f/%.0f submitted: order %d, %s", putStrike, callStrike, result.OrderID, result.Message)

	fmt.Println()
	fmt.Println("=== All integration checks passed ===")
}

// nearSpot returns up to n listed strikes closest to spot, ascending.
func nearSpot(strikes []float64, spot float64, n int) []float64 {
	sorted := append([]float64(nil), strikes...)
	sort.Slice(sorted, func(i, j int) bool {
		di, dj := sorted[i]-spot, sorted[j]-spot
		if di < 0 {
			di = -di
		}
		if dj < 0 {
			dj = -dj
		}
		return di < dj
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	sort.Float64s(sorted)
	return sorted
}
