// Package founders exposes founder pages (a founder may appear on several
// startups) and keeps their X profiles in sync.
package founders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/revenue"
	"trustmymrr/internal/startups"
	"trustmymrr/internal/xprofile"
	"trustmymrr/pkg/models"
)

var ErrFounderNotFound = errors.New("founder not found")

const detailConcurrency = 4

// ProfileSource fetches X profiles in bulk and drops cached copies.
type ProfileSource interface {
	GetProfiles(ctx context.Context, usernames []string) map[string]*xprofile.Profile
	Invalidate(ctx context.Context, usernames ...string) error
}

// StartupMetrics is the subset of the startups service founder pages read.
type StartupMetrics interface {
	Metrics(ctx context.Context, st *models.Startup) (*revenue.Metrics, error)
	Last30DaysRevenue(ctx context.Context, st *models.Startup) float64
}

// Summary is one founder in the directory, merged across startups.
type Summary struct {
	ID              string `json:"id"`
	XUsername       string `json:"x_username"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	StartupsCount   int    `json:"startups_count"`
}

// AggregatedMetrics totals a founder's startups that reported metrics.
type AggregatedMetrics struct {
	TotalRevenue            float64 `json:"total_revenue"`
	Last30DaysRevenue       float64 `json:"last_30_days_revenue"`
	MonthlyRecurringRevenue float64 `json:"monthly_recurring_revenue"`
	TotalCustomers          int64   `json:"total_customers"`
	StartupsCount           int     `json:"startups_count"`
	Currency                string  `json:"currency"`
}

// Detail is a founder page.
type Detail struct {
	Founder  Summary                  `json:"founder"`
	Startups []startups.StartupDetail `json:"startups"`
	Metrics  AggregatedMetrics        `json:"metrics"`
}

// Service reads and syncs founders.
type Service struct {
	db       *gorm.DB
	startups StartupMetrics
	profiles ProfileSource
}

// NewService creates the founders service. profiles may be nil, in which
// case Sync is a no-op.
func NewService(db *gorm.DB, st StartupMetrics, profiles ProfileSource) *Service {
	return &Service{db: db, startups: st, profiles: profiles}
}

// List returns every founder once, grouped case-insensitively by username
// and ordered by display name, falling back to the username.
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	var rows []models.Founder
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list founders: %w", err)
	}

	byUsername := make(map[string]*Summary, len(rows))
	var order []string
	for _, f := range rows {
		key := strings.ToLower(f.XUsername)
		if existing, ok := byUsername[key]; ok {
			existing.StartupsCount++
			if existing.DisplayName == "" {
				existing.DisplayName = f.DisplayName
			}
			if existing.ProfileImageURL == "" {
				existing.ProfileImageURL = f.ProfileImageURL
			}
			continue
		}
		byUsername[key] = &Summary{
			ID:              f.ID,
			XUsername:       f.XUsername,
			DisplayName:     f.DisplayName,
			ProfileImageURL: f.ProfileImageURL,
			StartupsCount:   1,
		}
		order = append(order, key)
	}

	out := make([]Summary, 0, len(order))
	for _, key := range order {
		out = append(out, *byUsername[key])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return sortName(out[i]) < sortName(out[j])
	})
	return out, nil
}

func sortName(s Summary) string {
	if s.DisplayName != "" {
		return strings.ToLower(s.DisplayName)
	}
	return strings.ToLower(s.XUsername)
}

// Usernames returns each distinct username, lower-cased, for the sitemap.
func (s *Service) Usernames(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Raw("SELECT DISTINCT LOWER(x_username) AS username FROM founders ORDER BY username").
		Scan(&names).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list founder usernames: %w", err)
	}
	return names, nil
}

// Detail returns the founder with all their startups and aggregated metrics.
func (s *Service) Detail(ctx context.Context, username string) (*Detail, error) {
	key := strings.ToLower(xprofile.NormalizeUsername(username))
	if key == "" {
		return nil, ErrFounderNotFound
	}

	var rows []models.Founder
	err := s.db.WithContext(ctx).
		Where("LOWER(x_username) = ?", key).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load founder: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrFounderNotFound
	}

	ids := make([]string, 0, len(rows))
	for _, f := range rows {
		ids = append(ids, f.StartupID)
	}
	var list []models.Startup
	err = s.db.WithContext(ctx).Preload("Founders").
		Where("id IN ?", ids).
		Order("created_at ASC").
		Find(&list).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load founder startups: %w", err)
	}

	details := make([]startups.StartupDetail, len(list))
	var g errgroup.Group
	g.SetLimit(detailConcurrency)
	for i := range list {
		details[i].Startup = list[i]
		g.Go(func() error {
			m, err := s.startups.Metrics(ctx, &list[i])
			if err != nil {
				details[i].MetricsError = startups.MetricsErrorMessage
				return nil
			}
			details[i].Metrics = m
			details[i].Last30DaysRevenue = s.startups.Last30DaysRevenue(ctx, &list[i])
			return nil
		})
	}
	_ = g.Wait()

	founder := Summary{
		ID:            rows[0].ID,
		XUsername:     rows[0].XUsername,
		StartupsCount: len(list),
	}
	for _, f := range rows {
		if founder.DisplayName == "" {
			founder.DisplayName = f.DisplayName
		}
		if founder.ProfileImageURL == "" {
			founder.ProfileImageURL = f.ProfileImageURL
		}
	}

	return &Detail{
		Founder:  founder,
		Startups: details,
		Metrics:  Aggregate(details),
	}, nil
}

// Aggregate totals startups with metrics. The currency is the first one
// reported, defaulting to usd.
func Aggregate(list []startups.StartupDetail) AggregatedMetrics {
	var agg AggregatedMetrics
	for _, st := range list {
		if st.Metrics == nil {
			continue
		}
		agg.StartupsCount++
		agg.TotalRevenue += st.Metrics.TotalRevenue
		agg.MonthlyRecurringRevenue += st.Metrics.MonthlyRecurringRevenue
		agg.TotalCustomers += st.Metrics.TotalCustomers
		agg.Last30DaysRevenue += st.Last30DaysRevenue
		if agg.Currency == "" {
			agg.Currency = st.Metrics.Currency
		}
	}
	if agg.Currency == "" {
		agg.Currency = revenue.DefaultCurrency
	}
	return agg
}

// SyncResult reports how many founder rows were refreshed.
type SyncResult struct {
	Total  int `json:"total"`
	Synced int `json:"synced"`
}

// SyncFounder refreshes a single founder row.
func (s *Service) SyncFounder(ctx context.Context, founderID string) (*SyncResult, error) {
	var f models.Founder
	err := s.db.WithContext(ctx).Where("id = ?", founderID).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrFounderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load founder: %w", err)
	}
	return s.sync(ctx, []models.Founder{f})
}

// SyncStartup refreshes the founders of one startup.
func (s *Service) SyncStartup(ctx context.Context, startupID string) (*SyncResult, error) {
	var rows []models.Founder
	if err := s.db.WithContext(ctx).Where("startup_id = ?", startupID).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load founders: %w", err)
	}
	return s.sync(ctx, rows)
}

// SyncAll refreshes every founder. Individual failures are collected and do
// not stop the run.
func (s *Service) SyncAll(ctx context.Context) (*SyncResult, error) {
	var rows []models.Founder
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load founders: %w", err)
	}
	return s.sync(ctx, rows)
}

func (s *Service) sync(ctx context.Context, rows []models.Founder) (*SyncResult, error) {
	result := &SyncResult{Total: len(rows)}
	if s.profiles == nil || len(rows) == 0 {
		return result, nil
	}

	usernames := make([]string, 0, len(rows))
	for _, f := range rows {
		usernames = append(usernames, f.XUsername)
	}
	if err := s.profiles.Invalidate(ctx, usernames...); err != nil {
		logging.L().Debug("X profile cache invalidation failed", zap.Error(err))
	}
	profiles := s.profiles.GetProfiles(ctx, usernames)

	var errs *multierror.Error
	for _, f := range rows {
		p := profiles[strings.ToLower(f.XUsername)]
		if p == nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: no X profile", f.XUsername))
			continue
		}
		err := s.db.WithContext(ctx).Model(&models.Founder{}).Where("id = ?", f.ID).
			Updates(map[string]interface{}{
				"display_name":      p.DisplayName,
				"profile_image_url": p.ProfileImageURL,
			}).Error
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", f.XUsername, err))
			continue
		}
		result.Synced++
	}

	logging.L().Info("founder profiles synced",
		zap.Int("total", result.Total),
		zap.Int("synced", result.Synced))

	return result, errs.ErrorOrNil()
}
