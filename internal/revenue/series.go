package revenue

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
)

const dayLayout = "2006-01-02"

// Range is a named chart window.
type Range string

const (
	Range7Days  Range = "7d"
	Range14Days Range = "14d"
	Range30Days Range = "30d"
	RangeAll    Range = "all"
)

// ParseRange validates a chart window, defaulting to 30 days.
func ParseRange(s string) (Range, error) {
	switch Range(s) {
	case "":
		return Range30Days, nil
	case Range7Days, Range14Days, Range30Days, RangeAll:
		return Range(s), nil
	default:
		return "", fmt.Errorf("unsupported range %q", s)
	}
}

// Days returns the number of days covered by a fixed window. "all" has no
// fixed length and reports a year, which is used when the start is unknown.
func (r Range) Days() int {
	switch r {
	case Range7Days:
		return 7
	case Range14Days:
		return 14
	case RangeAll:
		return 365
	default:
		return 30
	}
}

// StartDay returns the first UTC day of the window ending at now. "all"
// starts on the day of since, the startup's creation time.
func (r Range) StartDay(now, since time.Time) time.Time {
	end := now.UTC()
	today := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
	if r == RangeAll && !since.IsZero() {
		since = since.UTC()
		start := time.Date(since.Year(), since.Month(), since.Day(), 0, 0, 0, 0, time.UTC)
		if start.After(today) {
			return today
		}
		return start
	}
	return today.AddDate(0, 0, -(r.Days() - 1))
}

// SeriesPoint is one UTC day of a revenue chart.
type SeriesPoint struct {
	Date    string  `json:"date"`
	Revenue float64 `json:"revenue"`
	MRR     float64 `json:"mrr"`
}

// Series is a daily revenue chart.
type Series struct {
	Points   []SeriesPoint `json:"data"`
	Currency string        `json:"currency"`
}

// RevenueSeries builds one point per UTC day from the window start to now.
// Revenue is the sum of counted charges created that day. MRR is the same on
// every point: the monthly-equivalent value of active subscriptions created
// since the window start. since is only read for RangeAll.
func RevenueSeries(ctx context.Context, p Provider, r Range, now, since time.Time) (*Series, error) {
	end := now.UTC()
	startDay := r.StartDay(end, since)

	revenueByDay := map[string]decimal.Decimal{}
	currency := ""

	err := paginate(ctx,
		func(cursor string) (*Page[*stripe.Charge], error) {
			return p.ListCharges(ctx, ChargeQuery{Cursor: cursor, CreatedAfter: startDay, CreatedBefore: end})
		},
		func(c *stripe.Charge) string { return c.ID },
		func(c *stripe.Charge) {
			if !countsAsRevenue(c) || c.Amount <= 0 {
				return
			}
			day := time.Unix(c.Created, 0).UTC().Format(dayLayout)
			revenueByDay[day] = revenueByDay[day].Add(ChargeAmount(c))
			if c.Currency != "" {
				currency = string(c.Currency)
			}
		},
	)
	if err != nil {
		return nil, err
	}

	windowMRR := decimal.Zero
	err = paginate(ctx,
		func(cursor string) (*Page[*stripe.Subscription], error) {
			return p.ListActiveSubscriptions(ctx, cursor)
		},
		func(s *stripe.Subscription) string { return s.ID },
		func(s *stripe.Subscription) {
			if time.Unix(s.Created, 0).UTC().Before(startDay) {
				return
			}
			windowMRR = windowMRR.Add(SubscriptionMRR(s))
		},
	)
	if err != nil {
		return nil, err
	}

	if currency == "" {
		currency = DefaultCurrency
	}

	mrr := windowMRR.Round(2).InexactFloat64()
	series := &Series{
		Points:   make([]SeriesPoint, 0, int(end.Sub(startDay).Hours()/24)+1),
		Currency: strings.ToUpper(currency),
	}
	for d := startDay; !d.After(end); d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		series.Points = append(series.Points, SeriesPoint{
			Date:    key,
			Revenue: revenueByDay[key].Round(2).InexactFloat64(),
			MRR:     mrr,
		})
	}
	return series, nil
}

// RevenueSince sums counted charges created at or after since.
func RevenueSince(ctx context.Context, p Provider, since time.Time) (float64, error) {
	totals, err := sumCharges(ctx, p, ChargeQuery{CreatedAfter: since})
	if err != nil {
		return 0, err
	}
	return totals.revenue.Round(2).InexactFloat64(), nil
}
