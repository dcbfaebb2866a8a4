package xprofile

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustmymrr/internal/cache"
)

type fakeX struct {
	calls int32
	token string
}

func (f *fakeX) handler() http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/oauth2/token", func(c *gin.Context) {
		id, secret, ok := c.Request.BasicAuth()
		if !ok || id != "client" || secret != "s3cret" {
			c.Status(http.StatusUnauthorized)
			return
		}
		c.JSON(http.StatusOK, gin.H{"token_type": "bearer", "access_token": "app-token"})
	})
	r.GET("/2/users/by/username/:username", func(c *gin.Context) {
		atomic.AddInt32(&f.calls, 1)
		if c.GetHeader("Authorization") != "Bearer "+f.token {
			c.Status(http.StatusUnauthorized)
			return
		}
		if c.Query("user.fields") != "profile_image_url,name" {
			c.Status(http.StatusBadRequest)
			return
		}
		switch strings.ToLower(c.Param("username")) {
		case "levelsio":
			c.JSON(http.StatusOK, gin.H{"data": gin.H{
				"id":                "1",
				"name":              "Pieter Levels",
				"username":          "levelsio",
				"profile_image_url": "https://pbs.twimg.com/profile_images/1/a_normal.jpg",
			}})
		case "marc_louvion":
			c.JSON(http.StatusOK, gin.H{"data": gin.H{
				"id":                "2",
				"username":          "marc_louvion",
				"profile_image_url": "https://pbs.twimg.com/profile_images/2/b_normal.png",
			}})
		case "flaky":
			c.Status(http.StatusInternalServerError)
		default:
			c.JSON(http.StatusOK, gin.H{"errors": []gin.H{{"title": "Not Found Error"}}})
		}
	})
	return r
}

func newTestClient(t *testing.T, cfg Config) (*Client, *fakeX) {
	t.Helper()
	fx := &fakeX{token: "static-token"}
	if cfg.BearerToken == "" {
		fx.token = "app-token"
	}
	srv := httptest.NewServer(fx.handler())
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL
	cfg.RequestsPerMinute = 6000
	cfg.RetryMax = -1
	mem := cache.NewRedisCache(nil)
	t.Cleanup(func() { _ = mem.Close() })
	return NewClient(cfg, mem), fx
}

func TestGetProfile(t *testing.T) {
	c, fx := newTestClient(t, Config{BearerToken: "static-token"})
	ctx := context.Background()

	p, err := c.GetProfile(ctx, " @levelsio ")
	require.NoError(t, err)
	assert.Equal(t, "levelsio", p.Username)
	assert.Equal(t, "Pieter Levels", p.DisplayName)
	assert.Equal(t, "https://pbs.twimg.com/profile_images/1/a_400x400.jpg", p.ProfileImageURL)

	_, err = c.GetProfile(ctx, "LevelsIO")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fx.calls), "second lookup is served from cache")

	p, err = c.GetProfile(ctx, "marc_louvion")
	require.NoError(t, err)
	assert.Equal(t, "marc_louvion", p.DisplayName, "missing name falls back to the username")
}

func TestGetProfileClientCredentials(t *testing.T) {
	c, _ := newTestClient(t, Config{ClientID: "client", ClientSecret: "s3cret"})

	p, err := c.GetProfile(context.Background(), "levelsio")
	require.NoError(t, err)
	assert.Equal(t, "Pieter Levels", p.DisplayName)
}

func TestGetProfileErrors(t *testing.T) {
	c, _ := newTestClient(t, Config{BearerToken: "static-token"})
	ctx := context.Background()

	_, err := c.GetProfile(ctx, "nobody_here")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = c.GetProfile(ctx, "not a handle!")
	assert.ErrorIs(t, err, ErrInvalidUsername)

	_, err = c.GetProfile(ctx, "flaky")
	assert.Error(t, err)
}

func TestGetProfileNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	assert.False(t, c.Configured())

	_, err := c.GetProfile(context.Background(), "levelsio")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGetProfiles(t *testing.T) {
	c, fx := newTestClient(t, Config{BearerToken: "static-token"})

	got := c.GetProfiles(context.Background(), []string{"levelsio", "@LevelsIO", "marc_louvion", "nobody_here", ""})
	require.Len(t, got, 2)
	assert.Equal(t, "Pieter Levels", got["levelsio"].DisplayName)
	assert.Contains(t, got, "marc_louvion")
	assert.Equal(t, int32(3), atomic.LoadInt32(&fx.calls))
}

func TestInvalidate(t *testing.T) {
	c, fx := newTestClient(t, Config{BearerToken: "static-token", CacheTTL: time.Hour})
	ctx := context.Background()

	_, err := c.GetProfile(ctx, "levelsio")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "LEVELSIO"))
	_, err = c.GetProfile(ctx, "levelsio")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&fx.calls))
}

func TestLargeImage(t *testing.T) {
	assert.Equal(t, "https://x/a_400x400.jpg", LargeImage("https://x/a_normal.jpg"))
	assert.Equal(t, "https://x/a.jpg", LargeImage("https://x/a.jpg"))
	assert.Equal(t, "", LargeImage(""))
}

func TestValidUsername(t *testing.T) {
	assert.True(t, ValidUsername("@levels_io"))
	assert.False(t, ValidUsername("this_handle_is_way_too_long"))
	assert.False(t, ValidUsername("bad-dash"))
}
