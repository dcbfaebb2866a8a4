// Package revenue aggregates billing metrics (MRR, revenue, customers) from a
// connected Stripe account identified by a restricted API key.
package revenue

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"trustmymrr/internal/logging"
)

// PageSize is the list page size requested from the provider.
const PageSize = 100

// Page is one page of a cursor-paginated list.
type Page[T any] struct {
	Data    []T
	HasMore bool
}

// ChargeQuery selects a page of charges. Zero times leave that bound open.
type ChargeQuery struct {
	Cursor        string
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// FileContent is a downloaded account file.
type FileContent struct {
	Body        io.ReadCloser
	ContentType string
	Extension   string
}

// Provider is the subset of the billing API the aggregator reads.
// Each list call returns a single page; callers drive pagination.
type Provider interface {
	ListActiveSubscriptions(ctx context.Context, cursor string) (*Page[*stripe.Subscription], error)
	ListCharges(ctx context.Context, q ChargeQuery) (*Page[*stripe.Charge], error)
	ListCustomers(ctx context.Context, cursor string) (*Page[*stripe.Customer], error)
	GetAccount(ctx context.Context) (*stripe.Account, error)
	FileURL(ctx context.Context, fileID string) (string, error)
	OpenFile(ctx context.Context, fileID string) (*FileContent, error)
}

// ProviderFactory builds a Provider bound to one API key.
type ProviderFactory func(apiKey string) Provider

// StripeConfig tunes the stripe-go backends used per key.
type StripeConfig struct {
	MaxNetworkRetries int64
	Timeout           time.Duration
	// APIURL overrides the Stripe API endpoint, e.g. stripe-mock.
	APIURL string
}

// DefaultStripeConfig returns sensible defaults.
func DefaultStripeConfig() StripeConfig {
	return StripeConfig{
		MaxNetworkRetries: 2,
		Timeout:           30 * time.Second,
	}
}

// NewStripeProviderFactory returns a factory creating isolated stripe-go clients per key.
func NewStripeProviderFactory(cfg StripeConfig) ProviderFactory {
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout

	backendConfig := &stripe.BackendConfig{
		HTTPClient:        httpClient,
		LeveledLogger:     logging.S(),
		MaxNetworkRetries: stripe.Int64(cfg.MaxNetworkRetries),
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}
	backends := &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	}

	downloads := retryablehttp.NewClient()
	downloads.HTTPClient = httpClient
	downloads.RetryMax = int(cfg.MaxNetworkRetries)
	downloads.Logger = nil

	return func(apiKey string) Provider {
		return &stripeProvider{
			key:       apiKey,
			api:       client.New(apiKey, backends),
			downloads: downloads,
		}
	}
}

type stripeProvider struct {
	key       string
	api       *client.API
	downloads *retryablehttp.Client
}

func listParams(ctx context.Context, cursor string) stripe.ListParams {
	lp := stripe.ListParams{
		Context: ctx,
		Limit:   stripe.Int64(PageSize),
		Single:  true,
	}
	if cursor != "" {
		lp.StartingAfter = stripe.String(cursor)
	}
	return lp
}

func (p *stripeProvider) ListActiveSubscriptions(ctx context.Context, cursor string) (*Page[*stripe.Subscription], error) {
	params := &stripe.SubscriptionListParams{
		ListParams: listParams(ctx, cursor),
		Status:     stripe.String(string(stripe.SubscriptionStatusActive)),
	}

	it := p.api.Subscriptions.List(params)
	page := &Page[*stripe.Subscription]{}
	for it.Next() {
		page.Data = append(page.Data, it.Subscription())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	if list := it.SubscriptionList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}

func (p *stripeProvider) ListCharges(ctx context.Context, q ChargeQuery) (*Page[*stripe.Charge], error) {
	params := &stripe.ChargeListParams{ListParams: listParams(ctx, q.Cursor)}
	if !q.CreatedAfter.IsZero() || !q.CreatedBefore.IsZero() {
		params.CreatedRange = &stripe.RangeQueryParams{}
		if !q.CreatedAfter.IsZero() {
			params.CreatedRange.GreaterThanOrEqual = q.CreatedAfter.Unix()
		}
		if !q.CreatedBefore.IsZero() {
			params.CreatedRange.LesserThanOrEqual = q.CreatedBefore.Unix()
		}
	}

	it := p.api.Charges.List(params)
	page := &Page[*stripe.Charge]{}
	for it.Next() {
		page.Data = append(page.Data, it.Charge())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list charges: %w", err)
	}
	if list := it.ChargeList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}

func (p *stripeProvider) ListCustomers(ctx context.Context, cursor string) (*Page[*stripe.Customer], error) {
	params := &stripe.CustomerListParams{ListParams: listParams(ctx, cursor)}

	it := p.api.Customers.List(params)
	page := &Page[*stripe.Customer]{}
	for it.Next() {
		page.Data = append(page.Data, it.Customer())
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}
	if list := it.CustomerList(); list != nil {
		page.HasMore = list.HasMore
	}
	return page, nil
}

// GetAccount reads the account behind the key. The account client's Get
// takes no params, so the call goes through the backend to carry ctx.
func (p *stripeProvider) GetAccount(ctx context.Context) (*stripe.Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct := &stripe.Account{}
	err := p.api.Accounts.B.Call(http.MethodGet, "/v1/account", p.api.Accounts.Key, params, acct)
	if err != nil {
		return nil, fmt.Errorf("retrieve account: %w", err)
	}
	return acct, nil
}

func (p *stripeProvider) getFile(ctx context.Context, fileID string) (*stripe.File, error) {
	params := &stripe.FileParams{}
	params.Context = ctx
	f, err := p.api.Files.Get(fileID, params)
	if err != nil {
		return nil, fmt.Errorf("retrieve file %s: %w", fileID, err)
	}
	return f, nil
}

func (p *stripeProvider) FileURL(ctx context.Context, fileID string) (string, error) {
	f, err := p.getFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	return f.URL, nil
}

// OpenFile downloads file contents. Stripe file URLs require the key as basic auth.
func (p *stripeProvider) OpenFile(ctx context.Context, fileID string) (*FileContent, error) {
	f, err := p.getFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.URL == "" {
		return nil, fmt.Errorf("file %s has no download url", fileID)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build file request: %w", err)
	}
	req.SetBasicAuth(p.key, "")

	resp, err := p.downloads.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file %s: %w", fileID, err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("download file %s: unexpected status %d", fileID, resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &FileContent{
		Body:        resp.Body,
		ContentType: contentType,
		Extension:   f.Type,
	}, nil
}
