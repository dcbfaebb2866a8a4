package revenue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func TestFetchBusinessInfo(t *testing.T) {
	tests := []struct {
		name     string
		account  *stripe.Account
		files    map[string]string
		expected BusinessInfo
	}{
		{
			name: "business profile",
			account: &stripe.Account{
				BusinessProfile: &stripe.AccountBusinessProfile{
					Name:               "Acme",
					URL:                "https://acme.io",
					ProductDescription: "Rockets",
				},
				Settings: &stripe.AccountSettings{
					Branding: &stripe.AccountSettingsBranding{Logo: &stripe.File{ID: "file_logo"}},
				},
			},
			files: map[string]string{"file_logo": "https://files.stripe.com/file_logo"},
			expected: BusinessInfo{
				Name:        "Acme",
				URL:         "https://acme.io",
				Description: "Rockets",
				LogoURL:     "https://files.stripe.com/file_logo",
				LogoFileID:  "file_logo",
			},
		},
		{
			name: "dashboard display name and icon",
			account: &stripe.Account{
				Settings: &stripe.AccountSettings{
					Dashboard: &stripe.AccountSettingsDashboard{DisplayName: "Acme Dashboard"},
					Branding:  &stripe.AccountSettingsBranding{Icon: &stripe.File{ID: "file_icon"}},
				},
			},
			files: map[string]string{"file_icon": "https://files.stripe.com/file_icon"},
			expected: BusinessInfo{
				Name:       "Acme Dashboard",
				LogoURL:    "https://files.stripe.com/file_icon",
				LogoFileID: "file_icon",
			},
		},
		{
			name:     "nothing set",
			account:  &stripe.Account{},
			expected: BusinessInfo{Name: UnknownBusinessName},
		},
		{
			name: "logo lookup fails",
			account: &stripe.Account{
				BusinessProfile: &stripe.AccountBusinessProfile{Name: "Acme"},
				Settings: &stripe.AccountSettings{
					Branding: &stripe.AccountSettingsBranding{Logo: &stripe.File{ID: "file_missing"}},
				},
			},
			expected: BusinessInfo{Name: "Acme", LogoFileID: "file_missing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newFakeProvider()
			p.account = tt.account
			if tt.files != nil {
				p.files = tt.files
			}

			info, err := FetchBusinessInfo(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, *info)
		})
	}
}

func TestFetchBusinessInfoAccountError(t *testing.T) {
	p := newFakeProvider()
	p.accountErr = errProvider

	info, err := FetchBusinessInfo(context.Background(), p)
	assert.ErrorIs(t, err, errProvider)
	assert.Nil(t, info)
}

func TestFetchBusinessData(t *testing.T) {
	p := newFakeProvider()
	p.pageSize = 2
	p.account = &stripe.Account{BusinessProfile: &stripe.AccountBusinessProfile{Name: "Acme", URL: "https://acme.io"}}
	p.subscriptions = []*stripe.Subscription{subscription("sub_1", "eur", item(4900, 1, "month"))}
	p.charges = []*stripe.Charge{charge("ch_1", 4900, "succeeded", true, "eur")}
	p.customers = []*stripe.Customer{{ID: "cus_1"}, {ID: "cus_2"}, {ID: "cus_3"}, {ID: "cus_4"}, {ID: "cus_5"}}

	data, err := FetchBusinessData(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, "Acme", data.BusinessName)
	assert.Equal(t, "https://acme.io", data.BusinessURL)
	assert.Equal(t, 49.0, data.MonthlyRecurringRevenue)
	assert.Equal(t, 49.0, data.TotalRevenue)
	assert.Equal(t, int64(5), data.TotalCustomers)
	assert.Equal(t, "eur", data.Currency)
	assert.WithinDuration(t, time.Now(), data.LastUpdated, time.Minute)
}

func TestFetchBusinessDataDegradesProfile(t *testing.T) {
	p := newFakeProvider()
	p.accountErr = errProvider

	data, err := FetchBusinessData(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, UnknownBusinessName, data.BusinessName)
	assert.Empty(t, data.BusinessLogo)
}

func TestFetchBusinessDataMetricsError(t *testing.T) {
	p := newFakeProvider()
	p.subscriptionsErr = errProvider

	data, err := FetchBusinessData(context.Background(), p)
	assert.Error(t, err)
	assert.Nil(t, data)
}
