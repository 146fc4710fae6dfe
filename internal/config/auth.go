// Package config loads the four on-disk configuration files spec §6's
// configuration table enumerates, one loader per file, each grounded on
// app_teacher_ref/server/auth/config.go's LoadConfig(path, validator)
// idiom: read bytes, validate (where a validator exists), unmarshal.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AuthConfig is config/auth.yaml: JWT signing/TTL settings, lockout policy,
// and password policy — spec §6's jwt_*, max_failed_attempts,
// lockout_duration_minutes, and password_min_length rows. Struct tags carry
// jsonschema directives exactly as the teacher's UserConfig/TokenConfig do,
// now actually consumed by NewAuthConfigValidator (see schema.go).
type AuthConfig struct {
	JWTSecret            string `yaml:"jwt_secret" json:"jwt_secret" jsonschema:"required,description=HMAC signing key for access/refresh tokens"`
	JWTAccessTTLMinutes  int    `yaml:"jwt_access_ttl_minutes" json:"jwt_access_ttl_minutes" jsonschema:"description=access token TTL in minutes,default=15"`
	JWTRefreshTTLHours   int    `yaml:"jwt_refresh_ttl_hours" json:"jwt_refresh_ttl_hours" jsonschema:"description=refresh token TTL in hours,default=24"`
	JWTLeewaySeconds     int    `yaml:"jwt_leeway_seconds" json:"jwt_leeway_seconds" jsonschema:"description=clock skew tolerance in seconds,default=5"`
	MaxFailedAttempts    int    `yaml:"max_failed_attempts" json:"max_failed_attempts" jsonschema:"description=failed logins before lockout,default=5"`
	LockoutDurationMins  int    `yaml:"lockout_duration_minutes" json:"lockout_duration_minutes" jsonschema:"description=lockout span in minutes,default=30"`
	PasswordMinLength    int    `yaml:"password_min_length" json:"password_min_length" jsonschema:"description=minimum password length,default=8"`
	PasswordMinZxcvbn    int    `yaml:"password_min_zxcvbn_score" json:"password_min_zxcvbn_score" jsonschema:"description=minimum zxcvbn strength score 0-4,default=3"`
}

// AccessTTL returns the configured access-token TTL, defaulting per spec §6.
func (c AuthConfig) AccessTTL() time.Duration {
	if c.JWTAccessTTLMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.JWTAccessTTLMinutes) * time.Minute
}

// RefreshTTL returns the configured refresh-token TTL, defaulting per spec §6.
func (c AuthConfig) RefreshTTL() time.Duration {
	if c.JWTRefreshTTLHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.JWTRefreshTTLHours) * time.Hour
}

// Leeway returns the configured clock-skew tolerance, defaulting per spec §6.
// Token validation in internal/token does not read this value: expiry is
// checked with no leeway.
func (c AuthConfig) Leeway() time.Duration {
	if c.JWTLeewaySeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.JWTLeewaySeconds) * time.Second
}

// LockoutDuration returns the configured lockout span, defaulting per spec §6.
func (c AuthConfig) LockoutDuration() time.Duration {
	if c.LockoutDurationMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.LockoutDurationMins) * time.Minute
}

// Validator validates raw config bytes against a schema before unmarshal,
// mirroring the teacher's ConfigValidator func(data []byte) error.
type Validator func(data []byte) error

// LoadAuthConfig reads and parses config/auth.yaml.
func LoadAuthConfig(path string, validator Validator) (*AuthConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is an operator-supplied CLI flag
	if err != nil {
		return nil, fmt.Errorf("failed to read auth config file: %w", err)
	}

	if validator != nil {
		if err := validator(data); err != nil {
			return nil, fmt.Errorf("auth config schema validation failed: %w", err)
		}
	}

	var cfg AuthConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse auth config file: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("auth config: jwt_secret is required")
	}

	return &cfg, nil
}
