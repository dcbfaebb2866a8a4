package revenue

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
)

// DefaultCurrency is reported when no subscription or charge names one.
const DefaultCurrency = "usd"

var (
	hundred       = decimal.NewFromInt(100)
	daysPerMonth  = decimal.NewFromInt(30)
	weeksPerMonth = decimal.RequireFromString("4.33")
	monthsPerYear = decimal.NewFromInt(12)
)

// Metrics is the aggregated snapshot of one billing account.
// Money is in major currency units rounded to cents.
type Metrics struct {
	MonthlyRecurringRevenue float64 `json:"monthly_recurring_revenue"`
	TotalRevenue            float64 `json:"total_revenue"`
	TotalCustomers          int64   `json:"total_customers"`
	Currency                string  `json:"currency"`
}

// Options controls how much of the account is read.
type Options struct {
	// CountAllCustomers paginates the customer list. Otherwise only the first
	// page is counted, which caps the count at PageSize.
	CountAllCustomers bool
}

// MonthlyEquivalent converts amount billed once per interval to a monthly figure.
// Unknown or empty intervals are treated as monthly.
func MonthlyEquivalent(amount decimal.Decimal, interval string) decimal.Decimal {
	switch interval {
	case "day":
		return amount.Mul(daysPerMonth)
	case "week":
		return amount.Mul(weeksPerMonth)
	case "year":
		return amount.Div(monthsPerYear)
	default:
		return amount
	}
}

// ItemMRR returns the monthly-equivalent value of a subscription item in major units.
func ItemMRR(item *stripe.SubscriptionItem) decimal.Decimal {
	if item == nil || item.Price == nil {
		return decimal.Zero
	}

	quantity := item.Quantity
	if quantity == 0 {
		quantity = 1
	}

	amount := decimal.NewFromInt(item.Price.UnitAmount).Div(hundred).Mul(decimal.NewFromInt(quantity))

	interval := ""
	if item.Price.Recurring != nil {
		interval = string(item.Price.Recurring.Interval)
	}
	return MonthlyEquivalent(amount, interval)
}

// SubscriptionMRR sums ItemMRR over all items of a subscription.
func SubscriptionMRR(sub *stripe.Subscription) decimal.Decimal {
	total := decimal.Zero
	if sub == nil || sub.Items == nil {
		return total
	}
	for _, item := range sub.Items.Data {
		total = total.Add(ItemMRR(item))
	}
	return total
}

// countsAsRevenue reports whether a charge contributes to revenue.
func countsAsRevenue(ch *stripe.Charge) bool {
	return ch != nil && string(ch.Status) == "succeeded" && ch.Paid
}

// ChargeAmount returns the charge amount in major units.
func ChargeAmount(ch *stripe.Charge) decimal.Decimal {
	return decimal.NewFromInt(ch.Amount).Div(hundred)
}

// paginate drives a cursor-paginated list until the provider reports no more
// results, handing each item to visit in order.
func paginate[T any](ctx context.Context, fetch func(cursor string) (*Page[T], error), id func(T) string, visit func(T)) error {
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := fetch(cursor)
		if err != nil {
			return err
		}
		for _, item := range page.Data {
			visit(item)
		}
		if !page.HasMore || len(page.Data) == 0 {
			return nil
		}
		cursor = id(page.Data[len(page.Data)-1])
	}
}

type subscriptionTotals struct {
	mrr      decimal.Decimal
	currency string
}

func sumSubscriptions(ctx context.Context, p Provider) (subscriptionTotals, error) {
	totals := subscriptionTotals{mrr: decimal.Zero}
	err := paginate(ctx,
		func(cursor string) (*Page[*stripe.Subscription], error) {
			return p.ListActiveSubscriptions(ctx, cursor)
		},
		func(s *stripe.Subscription) string { return s.ID },
		func(s *stripe.Subscription) {
			if s == nil || s.Items == nil || len(s.Items.Data) == 0 {
				return
			}
			totals.mrr = totals.mrr.Add(SubscriptionMRR(s))
			if s.Currency != "" {
				totals.currency = string(s.Currency)
			}
		},
	)
	return totals, err
}

type chargeTotals struct {
	revenue  decimal.Decimal
	currency string
}

func sumCharges(ctx context.Context, p Provider, q ChargeQuery) (chargeTotals, error) {
	totals := chargeTotals{revenue: decimal.Zero}
	err := paginate(ctx,
		func(cursor string) (*Page[*stripe.Charge], error) {
			q.Cursor = cursor
			return p.ListCharges(ctx, q)
		},
		func(c *stripe.Charge) string { return c.ID },
		func(c *stripe.Charge) {
			if !countsAsRevenue(c) {
				return
			}
			totals.revenue = totals.revenue.Add(ChargeAmount(c))
			if c.Currency != "" {
				totals.currency = string(c.Currency)
			}
		},
	)
	return totals, err
}

func countCustomers(ctx context.Context, p Provider, all bool) (int64, error) {
	if !all {
		page, err := p.ListCustomers(ctx, "")
		if err != nil {
			return 0, err
		}
		return int64(len(page.Data)), nil
	}

	var count int64
	err := paginate(ctx,
		func(cursor string) (*Page[*stripe.Customer], error) {
			return p.ListCustomers(ctx, cursor)
		},
		func(c *stripe.Customer) string { return c.ID },
		func(*stripe.Customer) { count++ },
	)
	return count, err
}

// Aggregate reads subscriptions, charges and customers in parallel and folds
// them into a Metrics snapshot. Any provider error fails the whole aggregate
// and returns nil; callers must report metrics as unavailable, not as zero.
func Aggregate(ctx context.Context, p Provider, opts Options) (*Metrics, error) {
	var (
		subs      subscriptionTotals
		charges   chargeTotals
		customers int64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		subs, err = sumSubscriptions(gctx, p)
		return err
	})
	g.Go(func() error {
		var err error
		charges, err = sumCharges(gctx, p, ChargeQuery{})
		return err
	})
	g.Go(func() error {
		var err error
		customers, err = countCustomers(gctx, p, opts.CountAllCustomers)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Subscriptions are visited before charges, so a charge currency wins.
	currency := DefaultCurrency
	if subs.currency != "" {
		currency = subs.currency
	}
	if charges.currency != "" {
		currency = charges.currency
	}

	return &Metrics{
		MonthlyRecurringRevenue: subs.mrr.Round(2).InexactFloat64(),
		TotalRevenue:            charges.revenue.Round(2).InexactFloat64(),
		TotalCustomers:          customers,
		Currency:                strings.ToLower(currency),
	}, nil
}

// Fetcher resolves API keys to providers and aggregates their metrics.
type Fetcher struct {
	newProvider ProviderFactory
}

// NewFetcher creates a Fetcher using factory to build per-key providers.
func NewFetcher(factory ProviderFactory) *Fetcher {
	return &Fetcher{newProvider: factory}
}

// Provider returns a provider bound to apiKey.
func (f *Fetcher) Provider(apiKey string) Provider {
	return f.newProvider(apiKey)
}

// FetchMetrics aggregates list-view metrics (first customer page only) for apiKey.
func (f *Fetcher) FetchMetrics(ctx context.Context, apiKey string) (*Metrics, error) {
	start := time.Now()
	m, err := Aggregate(ctx, f.newProvider(apiKey), Options{})
	metrics.Get().RecordStripeFetch("metrics", err, time.Since(start))
	if err != nil {
		logging.L().Warn("stripe metrics unavailable", zap.Error(err))
		return nil, err
	}
	return m, nil
}
