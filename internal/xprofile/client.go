// Package xprofile looks up founder profiles (display name and avatar) on X.
package xprofile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"trustmymrr/internal/cache"
	"trustmymrr/internal/logging"
)

var (
	ErrNotConfigured   = errors.New("X API credentials are not configured")
	ErrNotFound        = errors.New("X user not found")
	ErrInvalidUsername = errors.New("invalid X username")
)

const (
	DefaultBaseURL  = "https://api.twitter.com"
	DefaultCacheTTL = 24 * time.Hour

	bulkConcurrency = 5
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]{1,15}$`)

// Profile is the public part of an X account.
type Profile struct {
	Username        string `json:"username"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Config configures the client. A static BearerToken wins over client
// credentials.
type Config struct {
	BaseURL           string
	BearerToken       string
	ClientID          string
	ClientSecret      string
	TokenURL          string
	RequestsPerMinute int
	CacheTTL          time.Duration
	RetryMax          int
}

// Client fetches profiles with caching, retries and client-side throttling.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	cache   cache.Cache
	ttl     time.Duration
}

// NewClient builds a client. Without credentials every lookup returns
// ErrNotConfigured.
func NewClient(cfg Config, c cache.Cache) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.RetryMax == 0 {
		cfg.RetryMax = 2
	}

	pooled := cleanhttp.DefaultPooledClient()
	pooled.Timeout = 15 * time.Second

	rc := &retryablehttp.Client{
		HTTPClient:   pooled,
		Logger:       retryLogger{logging.S()},
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
		RetryMax:     cfg.RetryMax,
		CheckRetry:   retryablehttp.DefaultRetryPolicy,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	var tokens oauth2.TokenSource
	switch {
	case cfg.BearerToken != "":
		tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.BearerToken, TokenType: "Bearer"})
	case cfg.ClientID != "" && cfg.ClientSecret != "":
		tokenURL := cfg.TokenURL
		if tokenURL == "" {
			tokenURL = cfg.BaseURL + "/oauth2/token"
		}
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, pooled)
		tokens = cc.TokenSource(ctx)
	}

	perMinute := cfg.RequestsPerMinute
	return &Client{
		http:    rc,
		baseURL: cfg.BaseURL,
		tokens:  tokens,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		cache:   c,
		ttl:     cfg.CacheTTL,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.tokens != nil
}

// NormalizeUsername strips whitespace and a leading @.
func NormalizeUsername(username string) string {
	return strings.TrimPrefix(strings.TrimSpace(username), "@")
}

// ValidUsername reports whether username is a well-formed X handle.
func ValidUsername(username string) bool {
	return usernamePattern.MatchString(NormalizeUsername(username))
}

// LargeImage swaps the 48px "_normal" avatar for the 400px variant.
func LargeImage(imageURL string) string {
	return strings.Replace(imageURL, "_normal", "_400x400", 1)
}

type userResponse struct {
	Data *struct {
		ID              string `json:"id"`
		Name            string `json:"name"`
		Username        string `json:"username"`
		ProfileImageURL string `json:"profile_image_url"`
	} `json:"data"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// GetProfile returns the profile for username, from cache when fresh.
func (c *Client) GetProfile(ctx context.Context, username string) (*Profile, error) {
	username = NormalizeUsername(username)
	if !usernamePattern.MatchString(username) {
		return nil, ErrInvalidUsername
	}

	if c.cache != nil {
		var cached Profile
		if err := c.cache.GetJSON(ctx, cache.XProfileKey(username), &cached); err == nil {
			return &cached, nil
		}
	}

	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	profile, err := c.fetch(ctx, username)
	if err != nil {
		return nil, err
	}

	if c.cache != nil {
		if err := c.cache.SetJSON(ctx, cache.XProfileKey(username), profile, c.ttl); err != nil {
			logging.L().Warn("failed to cache X profile", zap.String("username", username), zap.Error(err))
		}
	}
	return profile, nil
}

func (c *Client) fetch(ctx context.Context, username string) (*Profile, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to obtain X API token: %w", err)
	}

	endpoint := fmt.Sprintf("%s/2/users/by/username/%s?%s", c.baseURL, url.PathEscape(username),
		url.Values{"user.fields": {"profile_image_url,name"}}.Encode())
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	token.SetAuthHeader(req.Request)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("X API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read X API response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("X API returned status %d", resp.StatusCode)
	}

	var parsed userResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode X API response: %w", err)
	}
	if parsed.Data == nil {
		return nil, ErrNotFound
	}

	profile := &Profile{
		Username:        parsed.Data.Username,
		DisplayName:     parsed.Data.Name,
		ProfileImageURL: LargeImage(parsed.Data.ProfileImageURL),
	}
	if profile.Username == "" {
		profile.Username = username
	}
	if profile.DisplayName == "" {
		profile.DisplayName = username
	}
	return profile, nil
}

// GetProfiles fetches several profiles in parallel. Failed lookups are
// logged and left out. The result is keyed by lower-cased username.
func (c *Client) GetProfiles(ctx context.Context, usernames []string) map[string]*Profile {
	var (
		mu      sync.Mutex
		results = make(map[string]*Profile, len(usernames))
		seen    = make(map[string]bool, len(usernames))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)

	for _, u := range usernames {
		u = NormalizeUsername(u)
		key := strings.ToLower(u)
		if u == "" || seen[key] {
			continue
		}
		seen[key] = true

		g.Go(func() error {
			profile, err := c.GetProfile(gctx, u)
			if err != nil {
				logging.L().Debug("X profile lookup failed", zap.String("username", u), zap.Error(err))
				return nil
			}
			mu.Lock()
			results[key] = profile
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Invalidate drops cached profiles; no usernames means nothing is dropped.
func (c *Client) Invalidate(ctx context.Context, usernames ...string) error {
	if c.cache == nil || len(usernames) == 0 {
		return nil
	}
	keys := make([]string, 0, len(usernames))
	for _, u := range usernames {
		keys = append(keys, cache.XProfileKey(NormalizeUsername(u)))
	}
	return c.cache.Delete(ctx, keys...)
}

// retryLogger adapts zap to retryablehttp.LeveledLogger.
type retryLogger struct {
	s *zap.SugaredLogger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
