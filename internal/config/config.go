// Package config resolves process configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"time"
)

// Config holds every external dependency address and tunable the indexer
// and migration tool need at startup. Required fields have no default and
// missing values are fatal, matching the upstream Rust implementation's
// env::var(...).expect(...) convention.
type Config struct {
	ClientID     string
	ClientSecret string

	ClickHouseURL      string
	ClickHouseUser     string
	ClickHousePassword string
	ClickHouseDatabase string

	RedisURL string

	BaseURL      string
	BootstrapURL string
	TokenURL     string
	HTTPPort     string

	UserAgentName    string
	UserAgentVersion string
	UserAgentContact string
}

const (
	defaultBaseURL      = "https://api.pathofexile.com"
	defaultBootstrapURL = "https://poe.ninja/api/data/getstats"
	defaultTokenURL     = "https://www.pathofexile.com/oauth/token"
	defaultHTTPPort     = "8080"
)

// Load reads the process environment and returns a Config. It returns an
// error naming every missing required variable rather than stopping at the
// first one, so a misconfigured deployment can be fixed in one pass.
func Load() (Config, error) {
	var missing []string
	req := func(name string) string {
		v := os.Getenv(name)
		if v == "" {
			missing = append(missing, name)
		}
		return v
	}

	cfg := Config{
		ClientID:           req("CLIENT_ID"),
		ClientSecret:       req("CLIENT_SECRET"),
		ClickHouseURL:      req("CLICKHOUSE_URL"),
		ClickHouseUser:     req("CLICKHOUSE_USER"),
		ClickHousePassword: req("CLICKHOUSE_PASSWORD"),
		ClickHouseDatabase: req("CLICKHOUSE_DATABASE"),
		RedisURL:           req("REDIS_URL"),

		BaseURL:      envOr("BASE_URL", defaultBaseURL),
		BootstrapURL: envOr("BOOTSTRAP_URL", defaultBootstrapURL),
		TokenURL:     envOr("TOKEN_URL", defaultTokenURL),
		HTTPPort:     envOr("HTTP_PORT", defaultHTTPPort),

		UserAgentName:    envOr("USER_AGENT_NAME", "stash-indexer"),
		UserAgentVersion: envOr("USER_AGENT_VERSION", "dev"),
		UserAgentContact: envOr("USER_AGENT_CONTACT", "unset@example.com"),
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}
	return cfg, nil
}

// UserAgent formats the upstream-mandated identification string.
func (c Config) UserAgent() string {
	return fmt.Sprintf("OAuth %s/%s (contact: %s)", c.UserAgentName, c.UserAgentVersion, c.UserAgentContact)
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

// TokenCacheTTL is how long a fetched bearer token is cached before the
// provider is asked to refresh it.
const TokenCacheTTL = 27 * 24 * time.Hour
