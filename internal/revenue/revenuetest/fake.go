// Package revenuetest provides an in-memory revenue.Provider for tests of
// packages that sit on top of the aggregator.
package revenuetest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76"

	"trustmymrr/internal/revenue"
)

// ErrInvalidKey is returned by every call of a provider for an unknown key.
var ErrInvalidKey = errors.New("invalid API key provided")

// Provider serves fixtures as a single page per list call.
type Provider struct {
	mu    sync.Mutex
	calls int

	Account       *stripe.Account
	Subscriptions []*stripe.Subscription
	Charges       []*stripe.Charge
	Customers     []*stripe.Customer
	Files         map[string][]byte

	// Err fails every call.
	Err error
}

// Calls reports how many list or account calls the provider served.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *Provider) hit() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.Err
}

func (p *Provider) ListActiveSubscriptions(ctx context.Context, cursor string) (*revenue.Page[*stripe.Subscription], error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	return &revenue.Page[*stripe.Subscription]{Data: p.Subscriptions}, nil
}

func (p *Provider) ListCharges(ctx context.Context, q revenue.ChargeQuery) (*revenue.Page[*stripe.Charge], error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	var out []*stripe.Charge
	for _, c := range p.Charges {
		created := time.Unix(c.Created, 0)
		if !q.CreatedAfter.IsZero() && created.Before(q.CreatedAfter) {
			continue
		}
		if !q.CreatedBefore.IsZero() && created.After(q.CreatedBefore) {
			continue
		}
		out = append(out, c)
	}
	return &revenue.Page[*stripe.Charge]{Data: out}, nil
}

func (p *Provider) ListCustomers(ctx context.Context, cursor string) (*revenue.Page[*stripe.Customer], error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	return &revenue.Page[*stripe.Customer]{Data: p.Customers}, nil
}

func (p *Provider) GetAccount(ctx context.Context) (*stripe.Account, error) {
	if err := p.hit(); err != nil {
		return nil, err
	}
	if p.Account == nil {
		return &stripe.Account{}, nil
	}
	return p.Account, nil
}

func (p *Provider) FileURL(ctx context.Context, fileID string) (string, error) {
	if _, ok := p.Files[fileID]; !ok {
		return "", errors.New("no such file")
	}
	return "https://files.stripe.com/links/" + fileID, nil
}

func (p *Provider) OpenFile(ctx context.Context, fileID string) (*revenue.FileContent, error) {
	body, ok := p.Files[fileID]
	if !ok {
		return nil, errors.New("no such file")
	}
	return &revenue.FileContent{
		Body:        io.NopCloser(bytes.NewReader(body)),
		ContentType: "image/png",
		Extension:   "png",
	}, nil
}

// Registry maps API keys to providers. Unknown keys get a provider that
// rejects every call.
type Registry struct {
	mu        sync.Mutex
	providers map[string]*Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: map[string]*Provider{}}
}

// Add registers p for apiKey and returns it.
func (r *Registry) Add(apiKey string, p *Provider) *Provider {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[apiKey] = p
	return p
}

// Factory returns a revenue.ProviderFactory backed by the registry.
func (r *Registry) Factory() revenue.ProviderFactory {
	return func(apiKey string) revenue.Provider {
		r.mu.Lock()
		defer r.mu.Unlock()
		if p, ok := r.providers[apiKey]; ok {
			return p
		}
		return &Provider{Err: ErrInvalidKey}
	}
}

// NamedAccount returns an account with a business profile.
func NamedAccount(name, url string) *stripe.Account {
	return &stripe.Account{BusinessProfile: &stripe.AccountBusinessProfile{Name: name, URL: url}}
}

// MonthlySubscription is an active subscription of amount cents per month.
func MonthlySubscription(id, currency string, amount int64) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Status:   stripe.SubscriptionStatusActive,
		Currency: stripe.Currency(currency),
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			Quantity: 1,
			Price: &stripe.Price{
				UnitAmount: amount,
				Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			},
		}}},
	}
}

// PaidCharge is a succeeded, paid charge created at created.
func PaidCharge(id, currency string, amount int64, created time.Time) *stripe.Charge {
	return &stripe.Charge{
		ID:       id,
		Amount:   amount,
		Currency: stripe.Currency(currency),
		Status:   stripe.ChargeStatusSucceeded,
		Paid:     true,
		Created:  created.Unix(),
	}
}
