package revenue

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/stripe/stripe-go/v76"
)

var errProvider = errors.New("stripe unavailable")

// fakeProvider serves fixtures in pages of pageSize, honoring cursors.
type fakeProvider struct {
	mu sync.Mutex

	pageSize      int
	subscriptions []*stripe.Subscription
	charges       []*stripe.Charge
	customers     []*stripe.Customer
	account       *stripe.Account
	files         map[string]string

	subscriptionsErr error
	chargesErr       error
	customersErr     error
	accountErr       error

	calls map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{pageSize: PageSize, calls: map[string]int{}, files: map[string]string{}}
}

func (f *fakeProvider) record(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
}

func (f *fakeProvider) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func pageOf[T any](items []T, cursor string, size int, id func(T) string) *Page[T] {
	start := 0
	if cursor != "" {
		for i, item := range items {
			if id(item) == cursor {
				start = i + 1
				break
			}
		}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return &Page[T]{Data: items[start:end], HasMore: end < len(items)}
}

func (f *fakeProvider) ListActiveSubscriptions(_ context.Context, cursor string) (*Page[*stripe.Subscription], error) {
	f.record("subscriptions")
	if f.subscriptionsErr != nil {
		return nil, f.subscriptionsErr
	}
	return pageOf(f.subscriptions, cursor, f.pageSize, func(s *stripe.Subscription) string { return s.ID }), nil
}

func (f *fakeProvider) ListCharges(_ context.Context, q ChargeQuery) (*Page[*stripe.Charge], error) {
	f.record("charges")
	if f.chargesErr != nil {
		return nil, f.chargesErr
	}
	filtered := make([]*stripe.Charge, 0, len(f.charges))
	for _, c := range f.charges {
		created := time.Unix(c.Created, 0)
		if !q.CreatedAfter.IsZero() && created.Before(q.CreatedAfter) {
			continue
		}
		if !q.CreatedBefore.IsZero() && created.After(q.CreatedBefore) {
			continue
		}
		filtered = append(filtered, c)
	}
	return pageOf(filtered, q.Cursor, f.pageSize, func(c *stripe.Charge) string { return c.ID }), nil
}

func (f *fakeProvider) ListCustomers(_ context.Context, cursor string) (*Page[*stripe.Customer], error) {
	f.record("customers")
	if f.customersErr != nil {
		return nil, f.customersErr
	}
	return pageOf(f.customers, cursor, f.pageSize, func(c *stripe.Customer) string { return c.ID }), nil
}

func (f *fakeProvider) GetAccount(context.Context) (*stripe.Account, error) {
	f.record("account")
	if f.accountErr != nil {
		return nil, f.accountErr
	}
	if f.account == nil {
		return &stripe.Account{}, nil
	}
	return f.account, nil
}

func (f *fakeProvider) FileURL(_ context.Context, fileID string) (string, error) {
	url, ok := f.files[fileID]
	if !ok {
		return "", errors.New("no such file")
	}
	return url, nil
}

func (f *fakeProvider) OpenFile(_ context.Context, fileID string) (*FileContent, error) {
	if _, ok := f.files[fileID]; !ok {
		return nil, errors.New("no such file")
	}
	return &FileContent{Body: io.NopCloser(strings.NewReader("png")), ContentType: "image/png", Extension: "png"}, nil
}

func subscription(id string, currency string, items ...*stripe.SubscriptionItem) *stripe.Subscription {
	return &stripe.Subscription{
		ID:       id,
		Currency: stripe.Currency(currency),
		Items:    &stripe.SubscriptionItemList{Data: items},
	}
}

func item(unitAmount, quantity int64, interval string) *stripe.SubscriptionItem {
	price := &stripe.Price{UnitAmount: unitAmount}
	if interval != "" {
		price.Recurring = &stripe.PriceRecurring{Interval: stripe.PriceRecurringInterval(interval)}
	}
	return &stripe.SubscriptionItem{Price: price, Quantity: quantity}
}

func charge(id string, amount int64, status string, paid bool, currency string) *stripe.Charge {
	return &stripe.Charge{
		ID:       id,
		Amount:   amount,
		Status:   stripe.ChargeStatus(status),
		Paid:     paid,
		Currency: stripe.Currency(currency),
	}
}
