package startups

import (
	"crypto/rand"
	"math/big"
	"net/url"
	"regexp"
	"strings"
)

const slugAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

var (
	nonSlugChars   = regexp.MustCompile(`[^\w\s-]`)
	slugSeparators = regexp.MustCompile(`[\s_-]+`)
)

// Slugify lower-cases text and joins its words with hyphens.
func Slugify(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = nonSlugChars.ReplaceAllString(s, "")
	s = slugSeparators.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// SlugFromURL turns a website into a slug: https://www.acme.io/x -> acme-io.
func SlugFromURL(website string) string {
	host := strings.TrimSpace(website)
	if u, err := url.Parse(NormalizeWebsite(host)); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	return Slugify(strings.ReplaceAll(host, ".", "-"))
}

// randomSuffix returns n characters from [a-z0-9].
func randomSuffix(n int) string {
	var b strings.Builder
	limit := big.NewInt(int64(len(slugAlphabet)))
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, limit)
		if err != nil {
			idx = big.NewInt(int64(i))
		}
		b.WriteByte(slugAlphabet[idx.Int64()])
	}
	return b.String()
}

// UniqueSlug appends a random 6 character suffix to the slug of text.
func UniqueSlug(text string) string {
	base := Slugify(text)
	if base == "" {
		base = "startup"
	}
	return base + "-" + randomSuffix(6)
}

// GenerateSlug prefers the website domain and falls back to the name.
func GenerateSlug(website, name string) string {
	if w := strings.TrimSpace(website); w != "" && w != "https://" && w != "http://" {
		if slug := SlugFromURL(w); slug != "" {
			return slug
		}
	}
	return UniqueSlug(name)
}

// NormalizeWebsite adds https:// when no scheme is given. A bare scheme is
// treated as empty.
func NormalizeWebsite(website string) string {
	w := strings.TrimSpace(website)
	switch w {
	case "", "https://", "http://":
		return ""
	}
	if !strings.HasPrefix(w, "http://") && !strings.HasPrefix(w, "https://") {
		w = "https://" + w
	}
	return w
}
