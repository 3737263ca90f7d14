package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// TokenEnv overrides the profile's token when set.
const TokenEnv = "CHATSYNC_TOKEN"

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
}

// Profile holds the settings of one account, read from
// ~/.chatsync/profiles/<name>/profile.toml.
type Profile struct {
	UserID     int64  `toml:"user_id"`
	Token      string `toml:"token"`
	APIBaseURL string `toml:"api_base_url"`
	ChatURL    string `toml:"chat_url"`
	NotifyURL  string `toml:"notify_url"`

	RequestTimeout     time.Duration `toml:"request_timeout"`
	RetryMaxElapsed    time.Duration `toml:"retry_max_elapsed"`
	ReconnectInterval  time.Duration `toml:"reconnect_interval"`
	WriteTimeout       time.Duration `toml:"write_timeout"`
	BreakerMaxFailures uint32        `toml:"breaker_max_failures"`
	BreakerOpenTimeout time.Duration `toml:"breaker_open_timeout"`

	RecentNotifications int    `toml:"recent_notifications"`
	MetricsAddr         string `toml:"metrics_addr"`
}

// Defaults for settings a profile leaves unset.
const (
	DefaultRequestTimeout      = 10 * time.Second
	DefaultRetryMaxElapsed     = 15 * time.Second
	DefaultReconnectInterval   = 2 * time.Second
	DefaultWriteTimeout        = 5 * time.Second
	DefaultBreakerMaxFailures  = 5
	DefaultBreakerOpenTimeout  = 30 * time.Second
	DefaultRecentNotifications = 20
)

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return save(path, cfg)
}

// LoadProfile reads a profile, fills in defaults, applies the token
// override from the environment and validates the result.
func LoadProfile(path string) (*Profile, error) {
	var p Profile
	md, err := toml.DecodeFile(path, &p)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown keys %v", path, undecoded)
	}
	if tok := os.Getenv(TokenEnv); tok != "" {
		p.Token = tok
	}
	p.ApplyDefaults()
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &p, nil
}

// SaveProfile writes a profile with owner-only permissions; it holds a token.
func SaveProfile(path string, p *Profile) error {
	return save(path, p)
}

// ApplyDefaults fills every unset tunable.
func (p *Profile) ApplyDefaults() {
	if p.RequestTimeout <= 0 {
		p.RequestTimeout = DefaultRequestTimeout
	}
	if p.RetryMaxElapsed <= 0 {
		p.RetryMaxElapsed = DefaultRetryMaxElapsed
	}
	if p.ReconnectInterval <= 0 {
		p.ReconnectInterval = DefaultReconnectInterval
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = DefaultWriteTimeout
	}
	if p.BreakerMaxFailures == 0 {
		p.BreakerMaxFailures = DefaultBreakerMaxFailures
	}
	if p.BreakerOpenTimeout <= 0 {
		p.BreakerOpenTimeout = DefaultBreakerOpenTimeout
	}
	if p.RecentNotifications <= 0 {
		p.RecentNotifications = DefaultRecentNotifications
	}
}

// Validate checks the settings that have no sensible default.
func (p *Profile) Validate() error {
	var errs []error
	if p.UserID <= 0 {
		errs = append(errs, errors.New("user_id must be positive"))
	}
	if p.Token == "" {
		errs = append(errs, fmt.Errorf("token is empty (set it in the profile or %s)", TokenEnv))
	}
	errs = append(errs,
		checkURL("api_base_url", p.APIBaseURL, "http", "https"),
		checkURL("chat_url", p.ChatURL, "ws", "wss"),
		checkURL("notify_url", p.NotifyURL, "ws", "wss"),
	)
	return errors.Join(errs...)
}

func checkURL(key, raw string, schemes ...string) error {
	if raw == "" {
		return fmt.Errorf("%s is empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	for _, s := range schemes {
		if u.Scheme == s && u.Host != "" {
			return nil
		}
	}
	return fmt.Errorf("%s %q: want a %v URL", key, raw, schemes)
}

func save(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
