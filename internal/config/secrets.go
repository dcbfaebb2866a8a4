// Package config loads process configuration and validates the secrets the
// service needs before it starts serving.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"trustmymrr/internal/logging"
	"trustmymrr/internal/secrets"
)

// Environment constants
const (
	EnvProduction  = "production"
	EnvStaging     = "staging"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

const (
	MinJWTSecretLength   = 32
	MinMasterKeyBytes    = 32
	MinDatabaseURLLength = 10
	MinStripeKeyLength   = 20
	MinAdminKeyLength    = 24
)

// SecretRequirement defines a secret and its validation rules.
type SecretRequirement struct {
	EnvVar   string
	Required bool // in production
	// RequiredIf makes the secret required in production when it reports true.
	RequiredIf func(*Config) bool
	MinLength  int
	Value     func(*Config) string
	Validator func(string) error
}

// DefaultSecretRequirements lists the secrets checked at startup.
func DefaultSecretRequirements() []SecretRequirement {
	return []SecretRequirement{
		{
			EnvVar:    "JWT_SECRET",
			Required:  true,
			MinLength: MinJWTSecretLength,
			Value:     func(c *Config) string { return c.JWTSecret },
			Validator: validateJWTSecret,
		},
		{
			EnvVar:    "SECRETS_MASTER_KEY",
			Required:  true,
			Value:     func(c *Config) string { return c.SecretsMasterKey },
			Validator: validateMasterKey,
		},
		{
			EnvVar:    "DATABASE_URL",
			Required:  true,
			MinLength: MinDatabaseURLLength,
			Value:     func(c *Config) string { return c.DatabaseURL },
			Validator: validateDatabaseURL,
		},
		{
			EnvVar:    "STRIPE_SECRET_KEY",
			MinLength: MinStripeKeyLength,
			Value:     func(c *Config) string { return c.StripeSecretKey },
			Validator: validateStripeKey,
		},
		{
			EnvVar:     "STRIPE_WEBHOOK_SECRET",
			RequiredIf: func(c *Config) bool { return c.StripeSecretKey != "" },
			MinLength:  MinStripeKeyLength,
			Value:      func(c *Config) string { return c.StripeWebhookSecret },
			Validator:  validateStripeWebhookSecret,
		},
		{
			EnvVar:    "ADMIN_API_KEY",
			Required:  true,
			MinLength: MinAdminKeyLength,
			Value:     func(c *Config) string { return c.AdminAPIKey },
		},
	}
}

// ValidateSecrets checks cfg against DefaultSecretRequirements. In production
// every problem is returned as one aggregated error. Elsewhere problems are
// returned as warnings and the error is nil.
func ValidateSecrets(cfg *Config) (warnings []string, err error) {
	production := cfg.IsProduction()
	staging := cfg.Environment == EnvStaging || cfg.Environment == "stage"

	var result *multierror.Error
	for _, req := range DefaultSecretRequirements() {
		value := req.Value(cfg)

		if value == "" {
			required := req.Required || (req.RequiredIf != nil && req.RequiredIf(cfg))
			switch {
			case required && (production || staging):
				result = multierror.Append(result, fmt.Errorf("%s: missing", req.EnvVar))
			case required:
				warnings = append(warnings, fmt.Sprintf("%s not set, using development default", req.EnvVar))
			}
			continue
		}

		var problems []error
		if len(value) < req.MinLength {
			problems = append(problems, fmt.Errorf("too short (min %d characters)", req.MinLength))
		}
		if req.Validator != nil {
			if verr := req.Validator(value); verr != nil {
				problems = append(problems, verr)
			}
		}
		for _, p := range problems {
			if production {
				result = multierror.Append(result, fmt.Errorf("%s: %w", req.EnvVar, p))
			} else {
				warnings = append(warnings, fmt.Sprintf("%s: %s (allowed outside production)", req.EnvVar, p))
			}
		}
	}

	return warnings, result.ErrorOrNil()
}

// MustValidateSecrets validates and logs the secret status, exiting on failure.
func MustValidateSecrets(cfg *Config) {
	log := logging.L()

	warnings, err := ValidateSecrets(cfg)
	if err != nil {
		log.Fatal("secrets validation failed", zap.Error(err))
	}
	for _, w := range warnings {
		log.Warn(w)
	}

	log.Info("secrets configuration",
		zap.String("environment", cfg.Environment),
		zap.Bool("jwt_secret", cfg.JWTSecret != ""),
		zap.Bool("master_key", cfg.SecretsMasterKey != ""),
		zap.Bool("stripe_secret_key", cfg.StripeSecretKey != ""),
		zap.Bool("stripe_webhook_secret", cfg.StripeWebhookSecret != ""),
		zap.Bool("admin_api_key", cfg.AdminAPIKey != ""),
		zap.Bool("x_api", cfg.XBearerToken != "" || cfg.XClientID != ""),
	)
}

// GetEnvironment returns the current environment name, lower-cased.
func GetEnvironment() string {
	for _, key := range []string{"GO_ENV", "APP_ENV", "ENVIRONMENT", "ENV"} {
		if env := os.Getenv(key); env != "" {
			return strings.ToLower(env)
		}
	}
	return EnvDevelopment
}

// IsProductionEnvironment returns true if running in production
func IsProductionEnvironment() bool {
	env := GetEnvironment()
	return env == EnvProduction || env == "prod"
}

// GenerateMasterKey returns a new base64 AES-256 master key.
func GenerateMasterKey() (string, error) {
	return secrets.GenerateMasterKey()
}

// --- Validators ---

var weakSecrets = []string{
	"secret",
	"changeme",
	"password",
	"example",
	"default",
	"placeholder",
	"replace-me",
	"trustmymrr",
}

func validateJWTSecret(secret string) error {
	lower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(lower, weak) {
			return fmt.Errorf("contains weak/placeholder value %q", weak)
		}
	}

	allAlpha, allDigit := true, true
	for _, c := range secret {
		if !unicode.IsLetter(c) {
			allAlpha = false
		}
		if !unicode.IsDigit(c) {
			allDigit = false
		}
	}
	if allAlpha || allDigit {
		return errors.New("must mix letters with digits or symbols")
	}

	if entropy := shannonEntropy(secret); entropy < 3.0 {
		return fmt.Errorf("entropy too low (%.1f bits/char, need >= 3.0)", entropy)
	}
	if hasRepeatingPattern(secret) {
		return errors.New("appears to contain a repeating pattern")
	}
	return nil
}

func validateMasterKey(key string) error {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return fmt.Errorf("must be valid base64: %w", err)
	}
	if len(decoded) != MinMasterKeyBytes {
		return fmt.Errorf("must decode to exactly %d bytes (got %d)", MinMasterKeyBytes, len(decoded))
	}
	if byteEntropy(decoded) < 4.0 {
		return errors.New("master key byte entropy too low")
	}
	return nil
}

func validateDatabaseURL(rawURL string) error {
	if !strings.HasPrefix(rawURL, "postgres://") && !strings.HasPrefix(rawURL, "postgresql://") {
		return errors.New("must be a PostgreSQL connection URL (postgres:// or postgresql://)")
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("malformed URL: %w", err)
	}
	if parsed.Hostname() == "" {
		return errors.New("database URL must include a hostname")
	}
	if parsed.User != nil {
		if password, ok := parsed.User.Password(); ok {
			for _, weak := range []string{"password", "postgres", "changeme", "example"} {
				if strings.EqualFold(password, weak) {
					return fmt.Errorf("database password %q is a known default", weak)
				}
			}
		}
	}
	return nil
}

var stripePlaceholder = regexp.MustCompile(`^(sk|rk)_(live|test)_[xX]+$`)

// validateStripeKey accepts secret (sk_) and restricted (rk_) keys.
func validateStripeKey(key string) error {
	if !strings.HasPrefix(key, "sk_") && !strings.HasPrefix(key, "rk_") {
		return errors.New("must start with sk_ or rk_")
	}
	if stripePlaceholder.MatchString(key) {
		return errors.New("appears to be a placeholder value")
	}
	if len(key) < 30 {
		return errors.New("key appears truncated (expected 30+ characters)")
	}
	return nil
}

func validateStripeWebhookSecret(secret string) error {
	if !strings.HasPrefix(secret, "whsec_") {
		return errors.New("must start with whsec_")
	}
	if len(secret) < 30 {
		return errors.New("webhook secret appears truncated")
	}
	return nil
}

// --- Entropy helpers ---

func shannonEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	freq := make(map[rune]float64)
	for _, c := range s {
		freq[c]++
	}
	length := float64(len([]rune(s)))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

func byteEntropy(data []byte) float64 {
	if len(data) == 0 {
		return 0
	}
	freq := make(map[byte]float64)
	for _, b := range data {
		freq[b]++
	}
	length := float64(len(data))
	entropy := 0.0
	for _, count := range freq {
		p := count / length
		entropy -= p * math.Log2(p)
	}
	return entropy
}

// hasRepeatingPattern detects inputs like "abcabc".
func hasRepeatingPattern(s string) bool {
	n := len(s)
	if n < 6 {
		return false
	}
	for patLen := 1; patLen <= n/2; patLen++ {
		isRepeat := true
		for i := patLen; i < n; i++ {
			if s[i] != s[i%patLen] {
				isRepeat = false
				break
			}
		}
		if isRepeat {
			return true
		}
	}
	return false
}
