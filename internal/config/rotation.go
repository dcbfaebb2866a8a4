package config

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/secrets"
	"trustmymrr/pkg/models"
)

// RotationResult tracks the outcome of a key rotation
type RotationResult struct {
	Total           int       `json:"total"`
	Migrated        int       `json:"migrated"`
	Failed          int       `json:"failed"`
	Errors          []string  `json:"errors,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
}

// maxRotationFailureRatio rolls the rotation back when exceeded.
const maxRotationFailureRatio = 0.1

// RotateMasterKey re-seals every stored Stripe key from oldKey to newKey and
// recomputes the duplicate-detection hash. It runs in one transaction.
func RotateMasterKey(db *gorm.DB, oldKeyBase64, newKeyBase64 string, opts ...secrets.Option) (*RotationResult, error) {
	log := logging.L()
	result := &RotationResult{StartedAt: time.Now()}

	oldManager, err := secrets.NewManager(oldKeyBase64, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init old key manager: %w", err)
	}
	newManager, err := secrets.NewManager(newKeyBase64, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to init new key manager: %w", err)
	}

	var startups []models.Startup
	if err := db.Select("id", "encrypted_api_key", "api_key_salt").Find(&startups).Error; err != nil {
		return nil, fmt.Errorf("failed to query startups: %w", err)
	}
	result.Total = len(startups)
	log.Info("key rotation started", zap.Int("startups", result.Total))

	fail := func(id, msg string, err error) {
		result.Failed++
		result.Errors = append(result.Errors, fmt.Sprintf("startup %s: %s: %v", id, msg, err))
		log.Warn("key rotation failed for startup", zap.String("startup_id", id), zap.String("step", msg), zap.Error(err))
	}

	txErr := db.Transaction(func(tx *gorm.DB) error {
		for _, s := range startups {
			plaintext, err := oldManager.Open(s.ID, s.EncryptedAPIKey, s.APIKeySalt)
			if err != nil {
				fail(s.ID, "decrypt", err)
				continue
			}
			sealed, err := newManager.Seal(s.ID, plaintext)
			if err != nil {
				fail(s.ID, "re-encrypt", err)
				continue
			}

			if err := tx.Model(&models.Startup{}).Where("id = ?", s.ID).Updates(map[string]interface{}{
				"encrypted_api_key":   sealed.Ciphertext,
				"api_key_salt":        sealed.Salt,
				"api_key_fingerprint": sealed.Fingerprint,
				"api_key_hash":        newManager.Hash(plaintext),
			}).Error; err != nil {
				fail(s.ID, "update", err)
				continue
			}
			result.Migrated++
		}

		if result.Total > 0 && float64(result.Failed)/float64(result.Total) > maxRotationFailureRatio {
			return fmt.Errorf("too many failures (%d/%d)", result.Failed, result.Total)
		}
		return nil
	})

	result.CompletedAt = time.Now()
	result.DurationSeconds = result.CompletedAt.Sub(result.StartedAt).Seconds()

	if txErr != nil {
		return result, fmt.Errorf("key rotation rolled back: %w", txErr)
	}

	log.Info("key rotation complete",
		zap.Int("migrated", result.Migrated),
		zap.Int("failed", result.Failed),
		zap.Float64("duration_seconds", result.DurationSeconds))
	return result, nil
}

// ValidateRotation counts the stored keys that open with the given master key.
func ValidateRotation(db *gorm.DB, keyBase64 string, opts ...secrets.Option) (ok, failed int, err error) {
	manager, err := secrets.NewManager(keyBase64, opts...)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to init key manager: %w", err)
	}

	var startups []models.Startup
	if err := db.Select("id", "encrypted_api_key", "api_key_salt").Find(&startups).Error; err != nil {
		return 0, 0, fmt.Errorf("failed to query startups: %w", err)
	}

	for _, s := range startups {
		if _, err := manager.Open(s.ID, s.EncryptedAPIKey, s.APIKeySalt); err != nil {
			failed++
		} else {
			ok++
		}
	}
	return ok, failed, nil
}
