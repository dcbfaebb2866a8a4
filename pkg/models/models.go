package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Ad statuses
const (
	AdStatusPending   = "pending"
	AdStatusActive    = "active"
	AdStatusExpired   = "expired"
	AdStatusCancelled = "cancelled"
)

// ValidAdStatus reports whether s is a known ad status.
func ValidAdStatus(s string) bool {
	switch s {
	case AdStatusPending, AdStatusActive, AdStatusExpired, AdStatusCancelled:
		return true
	}
	return false
}

// Startup is a company on the leaderboard, identified by its restricted Stripe key.
type Startup struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`
	UpdatedAt time.Time `json:"updated_at"`

	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	Name        string `json:"name" gorm:"not null"`
	Description string `json:"description"`
	Logo        string `json:"logo"`
	Website     string `json:"website"`

	// Object key of the mirrored logo, when one was uploaded.
	LogoObjectKey string `json:"-"`

	// The key is stored encrypted; the hash enforces one startup per key.
	APIKeyHash         string `json:"-" gorm:"uniqueIndex;not null"`
	EncryptedAPIKey    string `json:"-" gorm:"type:text;not null"`
	APIKeySalt         string `json:"-" gorm:"not null"`
	APIKeyFingerprint  string `json:"-"`
	ManagementTokenRev int    `json:"-" gorm:"default:1"`

	Founders []Founder `json:"founders" gorm:"foreignKey:StartupID;constraint:OnDelete:CASCADE"`
	Ads      []Ad      `json:"-" gorm:"foreignKey:StartupID;constraint:OnDelete:CASCADE"`
}

// BeforeCreate assigns a UUID when none is set.
func (s *Startup) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// Founder is an X (Twitter) account attached to a startup.
type Founder struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	XUsername       string `json:"x_username" gorm:"index;not null"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
	StartupID       string `json:"startup_id" gorm:"index;type:varchar(36);not null"`
}

// BeforeCreate assigns a UUID when none is set.
func (f *Founder) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	return nil
}

// Ad is a purchased placement in an ad spot.
type Ad struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SpotID    string    `json:"spot_id" gorm:"index;not null"`
	StartupID string    `json:"startup_id" gorm:"index;type:varchar(36);not null"`
	Startup   *Startup  `json:"startup,omitempty" gorm:"foreignKey:StartupID"`
	Tagline   string    `json:"tagline"`
	Status    string    `json:"status" gorm:"index;not null;default:'pending'"`
	StartsAt  time.Time `json:"starts_at"`
	ExpiresAt time.Time `json:"expires_at" gorm:"index"`

	StripeSessionID      string `json:"-" gorm:"index"`
	StripeSubscriptionID string `json:"-" gorm:"index"`
}

// BeforeCreate assigns a UUID when none is set.
func (a *Ad) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}

// IsLive reports whether the ad should be displayed at t.
func (a *Ad) IsLive(t time.Time) bool {
	return a.Status == AdStatusActive && a.ExpiresAt.After(t)
}
