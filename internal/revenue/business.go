package revenue

import (
	"context"
	"time"

	"go.uber.org/zap"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/metrics"
)

// UnknownBusinessName is used when the account exposes no display name.
const UnknownBusinessName = "Unknown Business"

// BusinessInfo is the public profile of a connected account.
type BusinessInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	URL         string `json:"url,omitempty"`
	LogoURL     string `json:"logo_url,omitempty"`
	LogoFileID  string `json:"-"`
}

// BusinessData bundles profile and metrics for one account.
type BusinessData struct {
	BusinessName string `json:"business_name"`
	BusinessLogo string `json:"business_logo,omitempty"`
	BusinessURL  string `json:"business_url,omitempty"`
	Metrics
	LastUpdated time.Time `json:"last_updated"`
}

// FetchBusinessInfo reads the account profile in a single call. The logo is
// best effort: a failed file lookup leaves LogoURL empty.
func FetchBusinessInfo(ctx context.Context, p Provider) (*BusinessInfo, error) {
	acct, err := p.GetAccount(ctx)
	if err != nil {
		return nil, err
	}

	info := &BusinessInfo{Name: UnknownBusinessName}
	if bp := acct.BusinessProfile; bp != nil {
		if bp.Name != "" {
			info.Name = bp.Name
		}
		info.URL = bp.URL
		info.Description = bp.ProductDescription
	}
	if info.Name == UnknownBusinessName && acct.Settings != nil && acct.Settings.Dashboard != nil &&
		acct.Settings.Dashboard.DisplayName != "" {
		info.Name = acct.Settings.Dashboard.DisplayName
	}

	if acct.Settings != nil && acct.Settings.Branding != nil {
		branding := acct.Settings.Branding
		switch {
		case branding.Logo != nil && branding.Logo.ID != "":
			info.LogoFileID = branding.Logo.ID
		case branding.Icon != nil && branding.Icon.ID != "":
			info.LogoFileID = branding.Icon.ID
		}
	}

	if info.LogoFileID != "" {
		url, err := p.FileURL(ctx, info.LogoFileID)
		if err != nil {
			logging.L().Debug("account logo unavailable", zap.String("file", info.LogoFileID), zap.Error(err))
		} else {
			info.LogoURL = url
		}
	}

	return info, nil
}

// FetchBusinessData returns the account profile plus fully paginated metrics.
// Profile failures fall back to defaults; metrics failures are returned.
func FetchBusinessData(ctx context.Context, p Provider) (*BusinessData, error) {
	start := time.Now()

	m, err := Aggregate(ctx, p, Options{CountAllCustomers: true})
	metrics.Get().RecordStripeFetch("business_data", err, time.Since(start))
	if err != nil {
		return nil, err
	}

	data := &BusinessData{
		BusinessName: UnknownBusinessName,
		Metrics:      *m,
		LastUpdated:  time.Now().UTC(),
	}

	info, err := FetchBusinessInfo(ctx, p)
	if err != nil {
		logging.L().Warn("business profile unavailable", zap.Error(err))
		return data, nil
	}
	data.BusinessName = info.Name
	data.BusinessLogo = info.LogoURL
	data.BusinessURL = info.URL
	return data, nil
}
