package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	// DefaultStorageScope is the capability set requested for the
	// service token used by the storage gateway.
	DefaultStorageScope = "bucket:create bucket:read bucket:update bucket:delete data:read data:write data:create"

	// signingKeyMinLen is the minimum length of SESSION_SIGNING_KEY.
	// HS256 keys shorter than the hash output weaken the MAC.
	signingKeyMinLen = 32

	// maxSaveAttempts caps SAVE_MAX_ATTEMPTS so a misconfiguration cannot
	// hold a request open for minutes.
	maxSaveAttempts = 10
)

// Config holds all environment-based configuration for castlink.
type Config struct {
	// Platform application credentials.
	ClientID     string `env:"PLATFORM_CLIENT_ID"`
	ClientSecret string `env:"PLATFORM_CLIENT_SECRET"`

	AuthURL      string        `env:"PLATFORM_AUTH_URL" envDefault:"https://developer.api.autodesk.com/authentication/v2/token"`
	OSSURL       string        `env:"PLATFORM_OSS_URL" envDefault:"https://developer.api.autodesk.com/oss/v2"`
	StorageScope string        `env:"PLATFORM_STORAGE_SCOPE" envDefault:"bucket:create bucket:read bucket:update bucket:delete data:read data:write data:create"`
	HTTPTimeout  time.Duration `env:"PLATFORM_HTTP_TIMEOUT" envDefault:"30s"`

	// Session credential signing.
	SigningKey      string        `env:"SESSION_SIGNING_KEY"`
	SessionIssuer   string        `env:"SESSION_ISSUER" envDefault:"castlink"`
	SessionAudience string        `env:"SESSION_AUDIENCE" envDefault:"castlink-web"`
	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"1h"`

	// Redirect URIs accepted by the code exchange. Empty allows any.
	AllowedRedirectURIs []string `env:"ALLOWED_REDIRECT_URIS" envSeparator:","`

	BucketPrefix string `env:"BUCKET_PREFIX" envDefault:"metromont"`

	// Path to the local offline cache. Defaults to ~/.castlink/state.db.
	StatePath string `env:"STATE_PATH"`

	ListenAddr string `env:"LISTEN_ADDR" envDefault:":8080"`
	EnableMCP  bool   `env:"ENABLE_MCP" envDefault:"false"`

	SaveMaxAttempts  int   `env:"SAVE_MAX_ATTEMPTS" envDefault:"3"`
	MaxDownloadBytes int64 `env:"MAX_DOWNLOAD_BYTES" envDefault:"67108864"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		p, err := DefaultStatePath()
		if err != nil {
			return nil, err
		}

		cfg.StatePath = p
	}

	absPath, err := filepath.Abs(cfg.StatePath)
	if err != nil {
		return nil, fmt.Errorf("resolving state path to absolute path: %w", err)
	}

	cfg.StatePath = absPath

	return cfg, nil
}

func (c *Config) normalize() {
	c.ClientID = strings.TrimSpace(c.ClientID)
	c.BucketPrefix = strings.ToLower(strings.TrimSpace(c.BucketPrefix))
	c.OSSURL = strings.TrimRight(c.OSSURL, "/")

	uris := c.AllowedRedirectURIs[:0]
	for _, u := range c.AllowedRedirectURIs {
		if u = strings.TrimSpace(u); u != "" {
			uris = append(uris, u)
		}
	}

	c.AllowedRedirectURIs = uris
}

func (c *Config) validate() error {
	if c.ClientID == "" {
		return fmt.Errorf("PLATFORM_CLIENT_ID is required")
	}

	if c.ClientSecret == "" {
		return fmt.Errorf("PLATFORM_CLIENT_SECRET is required")
	}

	if c.SigningKey == "" {
		return fmt.Errorf("SESSION_SIGNING_KEY is required (generate one with: castlink-gateway gen-signing-key)")
	}

	if len(c.SigningKey) < signingKeyMinLen {
		return fmt.Errorf("SESSION_SIGNING_KEY too short (minimum %d bytes)", signingKeyMinLen)
	}

	for name, raw := range map[string]string{"PLATFORM_AUTH_URL": c.AuthURL, "PLATFORM_OSS_URL": c.OSSURL} {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			return fmt.Errorf("%s must be an absolute http(s) URL", name)
		}
	}

	if strings.TrimSpace(c.StorageScope) == "" {
		return fmt.Errorf("PLATFORM_STORAGE_SCOPE must not be empty")
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("PLATFORM_HTTP_TIMEOUT must be positive")
	}

	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}

	if c.BucketPrefix == "" {
		return fmt.Errorf("BUCKET_PREFIX must not be empty")
	}

	for _, r := range c.BucketPrefix {
		if !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-' || r == '_' || r == '.') {
			return fmt.Errorf("BUCKET_PREFIX may only contain [-_.a-z0-9]")
		}
	}

	if len(c.BucketPrefix) > 64 {
		return fmt.Errorf("BUCKET_PREFIX too long (maximum 64 characters)")
	}

	if c.SaveMaxAttempts < 1 || c.SaveMaxAttempts > maxSaveAttempts {
		return fmt.Errorf("SAVE_MAX_ATTEMPTS must be between 1 and %d", maxSaveAttempts)
	}

	if c.MaxDownloadBytes <= 0 {
		return fmt.Errorf("MAX_DOWNLOAD_BYTES must be positive")
	}

	return nil
}

// DefaultStatePath returns ~/.castlink/state.db.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".castlink", "state.db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Warnings lists settings that load fine but are unsafe for the
// environment.
func (c *Config) Warnings() []string {
	var warnings []string

	if c.IsProduction() && len(c.AllowedRedirectURIs) == 0 {
		warnings = append(warnings, "ALLOWED_REDIRECT_URIS is empty, so any redirect URI is accepted in production")
	}

	return warnings
}

// RedirectAllowed reports whether uri may be used in a code exchange.
func (c *Config) RedirectAllowed(uri string) bool {
	if len(c.AllowedRedirectURIs) == 0 {
		return true
	}

	for _, allowed := range c.AllowedRedirectURIs {
		if uri == allowed {
			return true
		}
	}

	return false
}
