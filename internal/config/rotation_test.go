package config

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"trustmymrr/internal/secrets"
	"trustmymrr/pkg/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

func TestRotateMasterKey(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.Startup{}, &models.Founder{}, &models.Ad{}))

	oldKey, newKey := strongMasterKey(t), strongMasterKey(t)
	opt := secrets.WithIterations(1000)

	oldManager, err := secrets.NewManager(oldKey, opt)
	require.NoError(t, err)

	keys := map[string]string{"acme": "rk_live_acme", "globex": "rk_live_globex"}
	for slug, apiKey := range keys {
		s := models.Startup{ID: slug + "-id", Slug: slug, Name: slug}
		sealed, err := oldManager.Seal(s.ID, apiKey)
		require.NoError(t, err)
		s.EncryptedAPIKey, s.APIKeySalt, s.APIKeyFingerprint = sealed.Ciphertext, sealed.Salt, sealed.Fingerprint
		s.APIKeyHash = oldManager.Hash(apiKey)
		require.NoError(t, db.Create(&s).Error)
	}

	result, err := RotateMasterKey(db, oldKey, newKey, opt)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Migrated)
	assert.Zero(t, result.Failed)

	newManager, err := secrets.NewManager(newKey, opt)
	require.NoError(t, err)

	var stored models.Startup
	require.NoError(t, db.First(&stored, "slug = ?", "acme").Error)
	plain, err := newManager.Open(stored.ID, stored.EncryptedAPIKey, stored.APIKeySalt)
	require.NoError(t, err)
	assert.Equal(t, "rk_live_acme", plain)
	assert.Equal(t, newManager.Hash("rk_live_acme"), stored.APIKeyHash)

	ok, failed, err := ValidateRotation(db, newKey, opt)
	require.NoError(t, err)
	assert.Equal(t, 2, ok)
	assert.Zero(t, failed)

	ok, failed, err = ValidateRotation(db, oldKey, opt)
	require.NoError(t, err)
	assert.Zero(t, ok)
	assert.Equal(t, 2, failed)
}

func TestRotateMasterKeyRollsBack(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, db.AutoMigrate(&models.Startup{}))

	require.NoError(t, db.Create(&models.Startup{
		ID: "broken", Slug: "broken", Name: "Broken",
		EncryptedAPIKey: "bm9wZQ==", APIKeySalt: "bm9wZQ==", APIKeyHash: "h",
	}).Error)

	result, err := RotateMasterKey(db, strongMasterKey(t), strongMasterKey(t), secrets.WithIterations(1000))
	require.Error(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Len(t, result.Errors, 1)
}
