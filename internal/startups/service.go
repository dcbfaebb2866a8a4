// Package startups manages registered startups: registration with a
// restricted Stripe key, listing with live metrics, and edits gated by a
// management token.
package startups

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trustmymrr/internal/auth"
	"trustmymrr/internal/cache"
	"trustmymrr/internal/logging"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/secrets"
	"trustmymrr/internal/storage"
	"trustmymrr/internal/xprofile"
	"trustmymrr/pkg/models"
)

var (
	ErrStartupNotFound = errors.New("startup not found")
	ErrFounderNotFound = errors.New("founder not found")
	ErrFounderExists   = errors.New("founder already added to this startup")
	ErrAPIKeyExists    = errors.New("this API key is already registered")
	ErrInvalidAPIKey   = errors.New("invalid Stripe API key")
	ErrAPIKeyRequired  = errors.New("api key is required")
	ErrInvalidFounder  = errors.New("invalid X username")
	ErrInvalidName     = errors.New("name cannot be empty")
)

// MetricsErrorMessage is reported in place of metrics that could not be fetched.
const MetricsErrorMessage = "Failed to fetch metrics"

// Sort keys accepted by List.
const (
	SortName      = "name"
	SortMRR       = "mrr"
	SortRevenue   = "revenue"
	SortCustomers = "customers"
	SortCreatedAt = "createdAt"
)

const (
	defaultMetricsTTL  = time.Hour
	defaultConcurrency = 8
	slugAttempts       = 5
)

// ProfileLookup resolves X profiles in bulk, keyed by lower-cased username.
type ProfileLookup interface {
	GetProfiles(ctx context.Context, usernames []string) map[string]*xprofile.Profile
}

// StartupWithMetrics is a startup with its live metrics. Metrics is nil when
// the fetch failed.
type StartupWithMetrics struct {
	models.Startup
	Metrics      *revenue.Metrics `json:"metrics"`
	MetricsError string           `json:"metrics_error,omitempty"`
}

// StartupDetail adds the trailing 30 day revenue.
type StartupDetail struct {
	StartupWithMetrics
	Last30DaysRevenue float64 `json:"last_30_days_revenue"`
}

// Options holds the optional collaborators of a Service.
type Options struct {
	Cache       cache.Cache
	Storage     storage.Storage
	Profiles    ProfileLookup
	MetricsTTL  time.Duration
	Concurrency int
}

// Service implements startup registration, listing and management.
type Service struct {
	db          *gorm.DB
	fetcher     *revenue.Fetcher
	secrets     *secrets.Manager
	tokens      *auth.TokenService
	cache       cache.Cache
	storage     storage.Storage
	profiles    ProfileLookup
	metricsTTL  time.Duration
	concurrency int
	now         func() time.Time
}

// NewService wires a Service. Zero option values fall back to defaults.
func NewService(db *gorm.DB, fetcher *revenue.Fetcher, sealer *secrets.Manager, tokens *auth.TokenService, opts Options) *Service {
	if opts.MetricsTTL <= 0 {
		opts.MetricsTTL = defaultMetricsTTL
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	return &Service{
		db:          db,
		fetcher:     fetcher,
		secrets:     sealer,
		tokens:      tokens,
		cache:       opts.Cache,
		storage:     opts.Storage,
		profiles:    opts.Profiles,
		metricsTTL:  opts.MetricsTTL,
		concurrency: opts.Concurrency,
		now:         time.Now,
	}
}

// CreateInput registers a startup.
type CreateInput struct {
	APIKey   string
	Website  string
	Founders []string
}

// CreateResult carries the new startup and its management token. The token
// is only ever returned here and from RotateManagementToken.
type CreateResult struct {
	Startup         *models.Startup `json:"startup"`
	ManagementToken string          `json:"management_token"`
}

// Create validates the key against Stripe and stores the startup with its founders.
func (s *Service) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	key := strings.TrimSpace(in.APIKey)
	if key == "" {
		return nil, ErrAPIKeyRequired
	}

	founders, err := normalizeFounders(in.Founders)
	if err != nil {
		return nil, err
	}

	hash := s.secrets.Hash(key)
	if exists, err := s.keyRegistered(ctx, hash, ""); err != nil {
		return nil, err
	} else if exists {
		return nil, ErrAPIKeyExists
	}

	provider := s.fetcher.Provider(key)
	info, err := revenue.FetchBusinessInfo(ctx, provider)
	if err != nil {
		logging.L().Info("rejected startup api key", zap.Error(err))
		return nil, ErrInvalidAPIKey
	}

	id := uuid.NewString()
	sealed, err := s.secrets.Seal(id, key)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt api key: %w", err)
	}

	website := NormalizeWebsite(in.Website)
	if website == "" {
		website = NormalizeWebsite(info.URL)
	}

	st := &models.Startup{
		ID:                 id,
		Name:               info.Name,
		Description:        info.Description,
		Website:            website,
		APIKeyHash:         hash,
		EncryptedAPIKey:    sealed.Ciphertext,
		APIKeySalt:         sealed.Salt,
		APIKeyFingerprint:  sealed.Fingerprint,
		ManagementTokenRev: 1,
	}
	st.Logo, st.LogoObjectKey = s.mirrorLogo(ctx, provider, id, info)
	st.Founders = s.buildFounders(ctx, founders)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slug, err := availableSlug(tx, GenerateSlug(website, info.Name))
		if err != nil {
			return err
		}
		st.Slug = slug
		return tx.Create(st).Error
	})
	if err != nil {
		if exists, _ := s.keyRegistered(ctx, hash, ""); exists {
			return nil, ErrAPIKeyExists
		}
		return nil, fmt.Errorf("failed to create startup: %w", err)
	}

	token, err := s.tokens.Issue(st.ID, st.ManagementTokenRev)
	if err != nil {
		return nil, err
	}

	logging.ForStartup(st.ID).Info("startup registered",
		zap.String("slug", st.Slug),
		zap.Int("founders", len(st.Founders)))

	return &CreateResult{Startup: st, ManagementToken: token}, nil
}

func (s *Service) keyRegistered(ctx context.Context, hash, exceptID string) (bool, error) {
	q := s.db.WithContext(ctx).Model(&models.Startup{}).Where("api_key_hash = ?", hash)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, fmt.Errorf("failed to check api key: %w", err)
	}
	return count > 0, nil
}

func availableSlug(tx *gorm.DB, base string) (string, error) {
	slug := base
	for i := 0; i < slugAttempts; i++ {
		var count int64
		if err := tx.Model(&models.Startup{}).Where("slug = ?", slug).Count(&count).Error; err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if count == 0 {
			return slug, nil
		}
		slug = base + "-" + randomSuffix(6)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}

// mirrorLogo copies the Stripe logo file into object storage and returns the
// public URL and object key. Without storage, or on failure, the Stripe file
// link is kept.
func (s *Service) mirrorLogo(ctx context.Context, p revenue.Provider, startupID string, info *revenue.BusinessInfo) (string, string) {
	if s.storage == nil || info.LogoFileID == "" {
		return info.LogoURL, ""
	}

	file, err := p.OpenFile(ctx, info.LogoFileID)
	if err != nil {
		logging.ForStartup(startupID).Warn("logo download failed", zap.Error(err))
		return info.LogoURL, ""
	}
	defer file.Body.Close()

	key := storage.LogoKey(startupID, file.Extension)
	url, err := s.storage.Upload(ctx, key, file.Body, file.ContentType)
	if err != nil {
		logging.ForStartup(startupID).Warn("logo upload failed", zap.Error(err))
		return info.LogoURL, ""
	}
	return url, key
}

func normalizeFounders(usernames []string) ([]string, error) {
	seen := make(map[string]bool, len(usernames))
	out := make([]string, 0, len(usernames))
	for _, u := range usernames {
		u = xprofile.NormalizeUsername(u)
		if u == "" {
			continue
		}
		if !xprofile.ValidUsername(u) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidFounder, u)
		}
		if key := strings.ToLower(u); !seen[key] {
			seen[key] = true
			out = append(out, u)
		}
	}
	return out, nil
}

// buildFounders enriches usernames with X profiles when a lookup is configured.
func (s *Service) buildFounders(ctx context.Context, usernames []string) []models.Founder {
	if len(usernames) == 0 {
		return nil
	}
	var profiles map[string]*xprofile.Profile
	if s.profiles != nil {
		profiles = s.profiles.GetProfiles(ctx, usernames)
	}

	founders := make([]models.Founder, 0, len(usernames))
	for _, u := range usernames {
		f := models.Founder{XUsername: u}
		if p := profiles[strings.ToLower(u)]; p != nil {
			f.DisplayName = p.DisplayName
			f.ProfileImageURL = p.ProfileImageURL
		}
		founders = append(founders, f)
	}
	return founders
}

// ListParams filters and orders List.
type ListParams struct {
	Search string
	Sort   string
	Order  string
}

// normalize applies the defaults: createdAt desc, name asc. Unknown values
// fall back to the defaults.
func (p ListParams) normalize() ListParams {
	switch p.Sort {
	case SortName, SortMRR, SortRevenue, SortCustomers, SortCreatedAt:
	default:
		p.Sort = SortCreatedAt
	}
	p.Order = strings.ToLower(p.Order)
	if p.Order != "asc" && p.Order != "desc" {
		if p.Sort == SortName {
			p.Order = "asc"
		} else {
			p.Order = "desc"
		}
	}
	p.Search = strings.TrimSpace(p.Search)
	return p
}

// List returns startups with metrics. Metrics failures are reported per
// startup and never fail the listing.
func (s *Service) List(ctx context.Context, params ListParams) ([]StartupWithMetrics, error) {
	params = params.normalize()

	q := s.db.WithContext(ctx).Preload("Founders")
	if params.Search != "" {
		like := "%" + strings.ToLower(params.Search) + "%"
		q = q.Where("LOWER(name) LIKE ? OR LOWER(description) LIKE ? OR LOWER(website) LIKE ?", like, like, like)
	}
	desc := params.Order == "desc"
	switch params.Sort {
	case SortName:
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: "name"}, Desc: desc})
	case SortCreatedAt:
		q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: "created_at"}, Desc: desc})
	default:
		q = q.Order("created_at DESC")
	}

	var list []models.Startup
	if err := q.Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to list startups: %w", err)
	}

	out := s.WithMetrics(ctx, list)

	switch params.Sort {
	case SortMRR, SortRevenue, SortCustomers:
		sort.SliceStable(out, func(i, j int) bool {
			a, b := metricValue(out[i], params.Sort), metricValue(out[j], params.Sort)
			if desc {
				return a > b
			}
			return a < b
		})
	}
	return out, nil
}

func metricValue(s StartupWithMetrics, key string) float64 {
	if s.Metrics == nil {
		return 0
	}
	switch key {
	case SortMRR:
		return s.Metrics.MonthlyRecurringRevenue
	case SortRevenue:
		return s.Metrics.TotalRevenue
	case SortCustomers:
		return float64(s.Metrics.TotalCustomers)
	}
	return 0
}

// WithMetrics attaches metrics to each startup, fetching with bounded
// parallelism. Order is preserved.
func (s *Service) WithMetrics(ctx context.Context, list []models.Startup) []StartupWithMetrics {
	out := make([]StartupWithMetrics, len(list))

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range list {
		out[i].Startup = list[i]
		g.Go(func() error {
			m, err := s.Metrics(ctx, &list[i])
			if err != nil {
				out[i].MetricsError = MetricsErrorMessage
				return nil
			}
			out[i].Metrics = m
			return nil
		})
	}
	_ = g.Wait()

	return out
}

// Metrics returns cached metrics for st, fetching them on a miss. Failures
// are not cached.
func (s *Service) Metrics(ctx context.Context, st *models.Startup) (*revenue.Metrics, error) {
	if s.cache != nil {
		var m revenue.Metrics
		if err := s.cache.GetJSON(ctx, cache.StartupMetricsKey(st.ID), &m); err == nil {
			return &m, nil
		}
	}
	return s.RefreshMetrics(ctx, st)
}

// RefreshMetrics fetches metrics from Stripe and overwrites the cache entry.
func (s *Service) RefreshMetrics(ctx context.Context, st *models.Startup) (*revenue.Metrics, error) {
	key, err := s.apiKey(st)
	if err != nil {
		return nil, err
	}
	m, err := s.fetcher.FetchMetrics(ctx, key)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, cache.StartupMetricsKey(st.ID), m, s.metricsTTL); err != nil {
			logging.ForStartup(st.ID).Debug("metrics cache write failed", zap.Error(err))
		}
	}
	return m, nil
}

func (s *Service) apiKey(st *models.Startup) (string, error) {
	key, err := s.secrets.Open(st.ID, st.EncryptedAPIKey, st.APIKeySalt)
	if err != nil {
		logging.ForStartup(st.ID).Error("api key decryption failed", zap.Error(err))
		return "", fmt.Errorf("failed to decrypt api key: %w", err)
	}
	return key, nil
}

func (s *Service) invalidateMetrics(ctx context.Context, startupID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, cache.StartupMetricsKey(startupID)); err != nil {
		logging.ForStartup(startupID).Warn("metrics cache invalidation failed", zap.Error(err))
	}
}

// Get loads a startup with its founders.
func (s *Service) Get(ctx context.Context, id string) (*models.Startup, error) {
	return s.first(ctx, "id = ?", id)
}

// GetBySlug loads a startup by slug with its founders.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Startup, error) {
	return s.first(ctx, "slug = ?", slug)
}

func (s *Service) first(ctx context.Context, query string, arg string) (*models.Startup, error) {
	var st models.Startup
	err := s.db.WithContext(ctx).Preload("Founders").Where(query, arg).First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStartupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load startup: %w", err)
	}
	return &st, nil
}

// DetailBySlug returns a startup with metrics and trailing 30 day revenue,
// fetched concurrently.
func (s *Service) DetailBySlug(ctx context.Context, slug string) (*StartupDetail, error) {
	st, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	detail := &StartupDetail{StartupWithMetrics: StartupWithMetrics{Startup: *st}}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m, err := s.Metrics(ctx, st)
		if err != nil {
			detail.MetricsError = MetricsErrorMessage
			return
		}
		detail.Metrics = m
	}()
	go func() {
		defer wg.Done()
		detail.Last30DaysRevenue = s.Last30DaysRevenue(ctx, st)
	}()
	wg.Wait()

	return detail, nil
}

// Last30DaysRevenue sums counted charges from the last 30 days. Failures
// are logged and reported as zero.
func (s *Service) Last30DaysRevenue(ctx context.Context, st *models.Startup) float64 {
	key, err := s.apiKey(st)
	if err != nil {
		return 0
	}
	total, err := revenue.RevenueSince(ctx, s.fetcher.Provider(key), s.now().UTC().AddDate(0, 0, -30))
	if err != nil {
		logging.ForStartup(st.ID).Warn("last 30 days revenue unavailable", zap.Error(err))
		return 0
	}
	return total
}

// RevenueChart builds the daily revenue series for the startup at slug.
func (s *Service) RevenueChart(ctx context.Context, slug string, r revenue.Range) (*revenue.Series, error) {
	st, err := s.GetBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	key, err := s.apiKey(st)
	if err != nil {
		return nil, err
	}
	return revenue.RevenueSeries(ctx, s.fetcher.Provider(key), r, s.now(), st.CreatedAt)
}

// UpdateInput holds optional edits; nil fields are left unchanged.
type UpdateInput struct {
	Name        *string
	Description *string
	Website     *string
	APIKey      *string
}

// Update applies in to the startup. A replacement key must produce metrics.
func (s *Service) Update(ctx context.Context, id string, in UpdateInput) (*models.Startup, error) {
	st, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, ErrInvalidName
		}
		st.Name = name
	}
	if in.Description != nil {
		st.Description = strings.TrimSpace(*in.Description)
	}
	if in.Website != nil {
		st.Website = NormalizeWebsite(*in.Website)
	}

	keyChanged := false
	if in.APIKey != nil {
		key := strings.TrimSpace(*in.APIKey)
		if key == "" {
			return nil, ErrAPIKeyRequired
		}
		hash := s.secrets.Hash(key)
		if hash != st.APIKeyHash {
			exists, err := s.keyRegistered(ctx, hash, st.ID)
			if err != nil {
				return nil, err
			}
			if exists {
				return nil, ErrAPIKeyExists
			}
			m, err := s.fetcher.FetchMetrics(ctx, key)
			if err != nil || m == nil {
				return nil, ErrInvalidAPIKey
			}
			sealed, err := s.secrets.Seal(st.ID, key)
			if err != nil {
				return nil, fmt.Errorf("failed to encrypt api key: %w", err)
			}
			st.APIKeyHash = hash
			st.EncryptedAPIKey = sealed.Ciphertext
			st.APIKeySalt = sealed.Salt
			st.APIKeyFingerprint = sealed.Fingerprint
			keyChanged = true
		}
	}

	if err := s.db.WithContext(ctx).Omit(clause.Associations).Save(st).Error; err != nil {
		return nil, fmt.Errorf("failed to update startup: %w", err)
	}
	if keyChanged {
		s.invalidateMetrics(ctx, st.ID)
	}
	return st, nil
}

// Delete removes a startup with its founders, ads, cached metrics and logo.
func (s *Service) Delete(ctx context.Context, id string) error {
	st, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("startup_id = ?", id).Delete(&models.Founder{}).Error; err != nil {
			return err
		}
		if err := tx.Where("startup_id = ?", id).Delete(&models.Ad{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Startup{}, "id = ?", id).Error
	})
	if err != nil {
		return fmt.Errorf("failed to delete startup: %w", err)
	}

	s.invalidateMetrics(ctx, id)
	if s.storage != nil && st.LogoObjectKey != "" {
		if err := s.storage.Delete(ctx, st.LogoObjectKey); err != nil {
			logging.ForStartup(id).Warn("logo cleanup failed", zap.Error(err))
		}
	}
	logging.ForStartup(id).Info("startup deleted", zap.String("slug", st.Slug))
	return nil
}

// AddFounder attaches an X account to the startup.
func (s *Service) AddFounder(ctx context.Context, startupID, username string) (*models.Founder, error) {
	usernames, err := normalizeFounders([]string{username})
	if err != nil {
		return nil, err
	}
	if len(usernames) == 0 {
		return nil, ErrInvalidFounder
	}
	if _, err := s.Get(ctx, startupID); err != nil {
		return nil, err
	}

	var count int64
	err = s.db.WithContext(ctx).Model(&models.Founder{}).
		Where("startup_id = ? AND LOWER(x_username) = ?", startupID, strings.ToLower(usernames[0])).
		Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("failed to check founder: %w", err)
	}
	if count > 0 {
		return nil, ErrFounderExists
	}

	founder := s.buildFounders(ctx, usernames)[0]
	founder.StartupID = startupID
	if err := s.db.WithContext(ctx).Create(&founder).Error; err != nil {
		return nil, fmt.Errorf("failed to add founder: %w", err)
	}
	return &founder, nil
}

// RemoveFounder detaches a founder from the startup.
func (s *Service) RemoveFounder(ctx context.Context, startupID, founderID string) error {
	res := s.db.WithContext(ctx).Where("id = ? AND startup_id = ?", founderID, startupID).Delete(&models.Founder{})
	if res.Error != nil {
		return fmt.Errorf("failed to remove founder: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrFounderNotFound
	}
	return nil
}

// AuthorizeManagement checks token against the startup's current token revision.
func (s *Service) AuthorizeManagement(ctx context.Context, startupID, token string) (*models.Startup, error) {
	st, err := s.Get(ctx, startupID)
	if err != nil {
		return nil, err
	}
	if _, err := s.tokens.Authorize(token, st.ID, st.ManagementTokenRev); err != nil {
		return nil, err
	}
	return st, nil
}

// RotateManagementToken revokes every outstanding token and issues a new one.
func (s *Service) RotateManagementToken(ctx context.Context, startupID string) (string, error) {
	var rev int
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Startup{}).Where("id = ?", startupID).
			UpdateColumn("management_token_rev", gorm.Expr("management_token_rev + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStartupNotFound
		}
		return tx.Model(&models.Startup{}).Where("id = ?", startupID).
			Pluck("management_token_rev", &rev).Error
	})
	if err != nil {
		if errors.Is(err, ErrStartupNotFound) {
			return "", err
		}
		return "", fmt.Errorf("failed to rotate token: %w", err)
	}
	return s.tokens.Issue(startupID, rev)
}

// LeaderboardEntry is one ranked startup.
type LeaderboardEntry struct {
	Rank     int     `json:"rank"`
	ID       string  `json:"id"`
	Slug     string  `json:"slug"`
	Name     string  `json:"name"`
	Logo     string  `json:"logo,omitempty"`
	MRR      float64 `json:"mrr"`
	Currency string  `json:"currency"`
}

// Leaderboard ranks startups with metrics by MRR. limit <= 0 returns all.
func (s *Service) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	list, err := s.List(ctx, ListParams{Sort: SortMRR, Order: "desc"})
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(list))
	for _, st := range list {
		if st.Metrics == nil {
			continue
		}
		if limit > 0 && len(entries) == limit {
			break
		}
		entries = append(entries, LeaderboardEntry{
			Rank:     len(entries) + 1,
			ID:       st.ID,
			Slug:     st.Slug,
			Name:     st.Name,
			Logo:     st.Logo,
			MRR:      st.Metrics.MonthlyRecurringRevenue,
			Currency: st.Metrics.Currency,
		})
	}
	return entries, nil
}

// WarmResult summarizes a metrics warm cycle.
type WarmResult struct {
	Startups   int
	Failed     int
	TrackedMRR map[string]float64
}

// WarmMetrics refreshes the cached metrics of every startup. TrackedMRR is
// the summed MRR per currency of the startups that succeeded.
func (s *Service) WarmMetrics(ctx context.Context) (*WarmResult, error) {
	var list []models.Startup
	if err := s.db.WithContext(ctx).Find(&list).Error; err != nil {
		return nil, fmt.Errorf("failed to load startups: %w", err)
	}

	var (
		mu     sync.Mutex
		result = &WarmResult{Startups: len(list), TrackedMRR: map[string]float64{}}
	)

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for i := range list {
		g.Go(func() error {
			m, err := s.RefreshMetrics(ctx, &list[i])
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				return nil
			}
			result.TrackedMRR[m.Currency] += m.MonthlyRecurringRevenue
			return nil
		})
	}
	_ = g.Wait()

	return result, nil
}

// SitemapEntry is the slug and last modification of a startup page.
type SitemapEntry struct {
	Slug      string
	UpdatedAt time.Time
}

// SitemapEntries lists every startup slug, most recently updated first.
func (s *Service) SitemapEntries(ctx context.Context) ([]SitemapEntry, error) {
	var entries []SitemapEntry
	err := s.db.WithContext(ctx).Model(&models.Startup{}).
		Select("slug", "updated_at").
		Order("updated_at DESC").
		Scan(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list slugs: %w", err)
	}
	return entries, nil
}
