package auth

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

const defaultRefreshInterval = 10 * time.Minute

// Config holds JWKS-based token validation settings for the control API
type Config struct {
	JWKSURL         string
	Issuer          string
	Audience        []string
	RefreshInterval time.Duration
}

// NewConfigFromEnv reads AUTH_JWKS_URL, AUTH_ISSUER and AUTH_AUDIENCE
// (comma separated). It returns nil without error when AUTH_JWKS_URL is
// unset, which leaves the API unauthenticated.
func NewConfigFromEnv() (*Config, error) {
	jwksURL := strings.TrimSpace(os.Getenv("AUTH_JWKS_URL"))
	if jwksURL == "" {
		return nil, nil
	}

	config := &Config{
		JWKSURL:         jwksURL,
		Issuer:          strings.TrimSpace(os.Getenv("AUTH_ISSUER")),
		Audience:        splitList(os.Getenv("AUTH_AUDIENCE")),
		RefreshInterval: defaultRefreshInterval,
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate ensures all required configuration is present
func (c *Config) Validate() error {
	if c.JWKSURL == "" {
		return fmt.Errorf("JWKSURL is required")
	}
	u, err := url.Parse(c.JWKSURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("JWKSURL must be an absolute http(s) URL")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
