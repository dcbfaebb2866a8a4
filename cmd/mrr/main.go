// Command mrr prints the revenue metrics behind a restricted Stripe key
// without registering it, which is handy when a founder reports numbers
// that look off on their startup page.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"trustmymrr/internal/config"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/revenue"
)

var (
	rootCmd = &cobra.Command{
		Use:          "mrr",
		Short:        "Inspect Stripe revenue the way Trust My MRR computes it",
		SilenceUsage: true,
	}
	metricsCmd = &cobra.Command{
		Use:   "metrics",
		Short: "Print MRR, total revenue, customers and currency",
		RunE:  cmdMetrics,
	}
	businessCmd = &cobra.Command{
		Use:   "business",
		Short: "Print business profile and metrics, counting every customer",
		RunE:  cmdBusiness,
	}
	chartCmd = &cobra.Command{
		Use:   "chart",
		Short: "Print the daily revenue series for a range",
		RunE:  cmdChart,
	}

	apiKey     string
	chartRange string
	chartSince string
	timeout    time.Duration
)

func init() {
	rootCmd.PersistentFlags().StringVar(&apiKey, "key", os.Getenv("STRIPE_KEY"), "restricted Stripe API key (default $STRIPE_KEY)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 2*time.Minute, "overall deadline")
	chartCmd.Flags().StringVar(&chartRange, "range", string(revenue.Range30Days), "7d, 14d, 30d or all")
	chartCmd.Flags().StringVar(&chartSince, "since", "", "first day (YYYY-MM-DD) of an \"all\" chart, one year back when empty")

	rootCmd.AddCommand(metricsCmd, businessCmd, chartCmd)
}

func main() {
	logging.Init()
	defer logging.Sync()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func provider() (revenue.Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("an API key is required: pass --key or set STRIPE_KEY")
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	factory := revenue.NewStripeProviderFactory(revenue.StripeConfig{
		MaxNetworkRetries: cfg.StripeMaxRetries,
		Timeout:           cfg.StripeTimeout,
		APIURL:            cfg.StripeAPIURL,
	})
	return factory(apiKey), nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func cmdMetrics(cmd *cobra.Command, args []string) error {
	p, err := provider()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	m, err := revenue.Aggregate(ctx, p, revenue.Options{})
	if err != nil {
		logging.L().Error("failed to aggregate metrics", zap.Error(err))
		return err
	}
	return printJSON(m)
}

func cmdBusiness(cmd *cobra.Command, args []string) error {
	p, err := provider()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	data, err := revenue.FetchBusinessData(ctx, p)
	if err != nil {
		logging.L().Error("failed to fetch business data", zap.Error(err))
		return err
	}
	return printJSON(data)
}

func cmdChart(cmd *cobra.Command, args []string) error {
	r, err := revenue.ParseRange(chartRange)
	if err != nil {
		return err
	}
	var since time.Time
	if chartSince != "" {
		since, err = time.Parse("2006-01-02", chartSince)
		if err != nil {
			return fmt.Errorf("invalid --since: %w", err)
		}
	}
	p, err := provider()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext(cmd)
	defer cancel()

	series, err := revenue.RevenueSeries(ctx, p, r, time.Now(), since)
	if err != nil {
		logging.L().Error("failed to build revenue series", zap.Error(err))
		return err
	}
	return printJSON(series)
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
