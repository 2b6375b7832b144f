package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	// HTTP
	Addr           string
	AllowedOrigins []string

	// Store
	DBPath string

	// Shared secrets
	SigningSecret    string // HS256 connection credential verification
	EncryptionSecret string // content codec key derivation
	TokenIssuer      string

	// External collaborators
	DirectoryBaseURL string
	DirectoryTimeout time.Duration
}

// Load reads the environment. Missing secrets are fatal: the codec and the
// connection gateway cannot run without them.
func Load() (Config, error) {
	cfg := Config{
		Addr:             getenv("ADDR", ":5000"),
		DBPath:           getenv("DB_PATH", "lilyapper.db"),
		SigningSecret:    os.Getenv("SIGNING_SECRET"),
		EncryptionSecret: os.Getenv("ENCRYPTION_SECRET"),
		TokenIssuer:      getenv("TOKEN_ISSUER", "lilyapper-auth"),
		DirectoryBaseURL: getenv("DIRECTORY_BASE_URL", "http://localhost:5001"),
		DirectoryTimeout: getdur("DIRECTORY_TIMEOUT", 5*time.Second),
	}

	if cfg.SigningSecret == "" {
		return Config{}, fmt.Errorf("SIGNING_SECRET environment variable is required")
	}
	if len(cfg.SigningSecret) < 32 {
		return Config{}, fmt.Errorf("SIGNING_SECRET must be at least 32 characters")
	}
	if cfg.EncryptionSecret == "" {
		return Config{}, fmt.Errorf("ENCRYPTION_SECRET environment variable is required")
	}

	origins, err := ParseAllowedOrigins(getenv("ALLOWED_ORIGINS", "http://localhost:3000"))
	if err != nil {
		return Config{}, err
	}
	cfg.AllowedOrigins = origins

	return cfg, nil
}

// ParseAllowedOrigins validates a comma-separated origin list. Entries must
// be full scheme://host origins; wildcards are rejected.
func ParseAllowedOrigins(raw string) ([]string, error) {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))

	for _, entry := range parts {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "*" || strings.HasPrefix(entry, "*.") {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entries must be full origins; wildcard values are not allowed: %q", entry)
		}

		normalized, ok := NormalizeOrigin(entry)
		if !ok {
			return nil, fmt.Errorf("ALLOWED_ORIGINS entry is invalid (%q); use full origins, e.g. https://chat.example.com", entry)
		}

		if _, exists := seen[normalized]; exists {
			continue
		}
		seen[normalized] = struct{}{}
		origins = append(origins, normalized)
	}

	if len(origins) == 0 {
		return nil, fmt.Errorf("ALLOWED_ORIGINS must include at least one full origin")
	}
	return origins, nil
}

// NormalizeOrigin reduces an origin to lowercase scheme://host with no path,
// query, fragment or userinfo.
func NormalizeOrigin(origin string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || u.Host == "" {
		return "", false
	}
	if !strings.EqualFold(u.Scheme, "https") && !strings.EqualFold(u.Scheme, "http") {
		return "", false
	}
	if (u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", false
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), true
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		slog.Warn("invalid duration, using default", "key", k, "value", v, "default", def)
	}
	return def
}
