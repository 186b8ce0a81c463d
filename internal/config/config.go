// Package config loads and validates the MediaRelay YAML configuration.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/mediarelay/internal/model"
	syncp "github.com/njoerd114/mediarelay/internal/sync"
)

const (
	defaultPollInterval  = time.Hour
	minPollInterval      = time.Minute
	maxPollInterval      = 24 * time.Hour
	defaultMaxConcurrent = 2
	defaultPageSize      = syncp.DefaultPageSize
	maxPageSize          = syncp.BackfillPageLimit
	defaultTitleMaxLen   = 100
	maxTitleMaxLen       = 250

	// EnvPrefix prefixes the environment variables that override secrets and
	// paths, e.g. MEDIARELAY_INSTAGRAM_TOKEN.
	EnvPrefix = "MEDIARELAY"
)

// Config holds the full application configuration loaded from YAML.
type Config struct {
	// PollInterval controls how often every source is polled.
	// Minimum 1m, maximum 24h. Defaults to 1h if unset.
	PollInterval time.Duration `yaml:"poll_interval"`

	// StateDB is the SQLite ledger path. Empty selects the default under
	// ~/.local/share/mediarelay.
	StateDB string `yaml:"state_db"`

	// ContentDir is the root of the Markdown content store.
	ContentDir string `yaml:"content_dir"`

	// CommitPolicy is "all_or_nothing" (default) or "partial".
	CommitPolicy string `yaml:"commit_policy"`

	// MaxConcurrentSources bounds how many sources are synced at once.
	MaxConcurrentSources int `yaml:"max_concurrent_sources"`

	Instagram *InstagramConfig `yaml:"instagram,omitempty"`
	YouTube   *YouTubeConfig   `yaml:"youtube,omitempty"`

	// Sources lists the accounts and channels to import from.
	Sources []SourceConfig `yaml:"sources"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// InstagramConfig configures the photo feed client.
type InstagramConfig struct {
	// APIBaseURL overrides the Graph API root.
	APIBaseURL  string `yaml:"api_base_url"`
	AccessToken string `yaml:"access_token"`
	PageSize    int    `yaml:"page_size"`

	// TitleMaxLen is the longest caption line used as an entry title; longer
	// captions get an "<author> – <date>" title. 1..250, default 100.
	TitleMaxLen int `yaml:"title_max_len"`
}

// YouTubeConfig configures the video feed client.
type YouTubeConfig struct {
	APIKey string `yaml:"api_key"`
	// Endpoint overrides the Data API root.
	Endpoint string `yaml:"endpoint"`
	PageSize int    `yaml:"page_size"`
}

// SourceConfig is one configured account or channel.
type SourceConfig struct {
	// Provider is "photo" or "video"; "instagram" and "youtube" are accepted
	// and normalised on load.
	Provider string `yaml:"provider"`
	ID       string `yaml:"id"`

	// PostTarget is "dedicated" (default) or "post".
	PostTarget      string `yaml:"post_target"`
	ContentInstance string `yaml:"content_instance"`
	CategoryID      string `yaml:"category_id"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// Insecure disables TLS for the collector connection. Use for local collectors.
	Insecure bool `yaml:"insecure"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "mediarelay".
	ServiceName string `yaml:"service_name"`

	// Headers contains key-value pairs sent as gRPC metadata on every OTLP
	// request, e.g. Authorization: "Bearer <token>".
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the default config file path: ~/.config/mediarelay/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "mediarelay", "config.yaml"), nil
}

// DefaultContentDir returns ~/.local/share/mediarelay/content.
func DefaultContentDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "mediarelay", "content"), nil
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, EnvOverrides())
}

// EnvOverrides returns a viper instance bound to the supported environment
// variables:
//
//	MEDIARELAY_INSTAGRAM_TOKEN  instagram.access_token
//	MEDIARELAY_YOUTUBE_API_KEY  youtube.api_key
//	MEDIARELAY_STATE_DB         state_db
//	MEDIARELAY_CONTENT_DIR      content_dir
func EnvOverrides() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	for _, key := range []string{"instagram_token", "youtube_api_key", "state_db", "content_dir"} {
		_ = v.BindEnv(key)
	}
	return v
}

// LoadWithEnv is [Load] with an explicit override source. Keys set in env
// replace the file's values before validation.
func LoadWithEnv(path string, env *viper.Viper) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file %q: %w", path, err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if env != nil {
		cfg.applyEnv(env)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv(v *viper.Viper) {
	if s := v.GetString("instagram_token"); s != "" {
		if c.Instagram == nil {
			c.Instagram = &InstagramConfig{}
		}
		c.Instagram.AccessToken = s
	}
	if s := v.GetString("youtube_api_key"); s != "" {
		if c.YouTube == nil {
			c.YouTube = &YouTubeConfig{}
		}
		c.YouTube.APIKey = s
	}
	if s := v.GetString("state_db"); s != "" {
		c.StateDB = s
	}
	if s := v.GetString("content_dir"); s != "" {
		c.ContentDir = s
	}
}

// SyncPolicy returns the parsed commit policy.
func (c *Config) SyncPolicy() syncp.CommitPolicy {
	p, _ := syncp.ParseCommitPolicy(c.CommitPolicy)
	return p
}

// HasProvider reports whether any source uses p.
func (c *Config) HasProvider(p model.Provider) bool {
	for _, s := range c.Sources {
		if s.Provider == string(p) {
			return true
		}
	}
	return false
}

// validate checks that all required fields are present and well-formed, and
// fills in defaults.
func (c *Config) validate() error {
	if c.PollInterval == 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.PollInterval < minPollInterval {
		return fmt.Errorf("poll_interval %v is too short (minimum 1m)", c.PollInterval)
	}
	if c.PollInterval > maxPollInterval {
		return fmt.Errorf("poll_interval %v is too long (maximum 24h)", c.PollInterval)
	}

	if c.ContentDir == "" {
		dir, err := DefaultContentDir()
		if err != nil {
			return err
		}
		c.ContentDir = dir
	}

	if _, err := syncp.ParseCommitPolicy(c.CommitPolicy); err != nil {
		return fmt.Errorf("commit_policy: %w", err)
	}

	if c.MaxConcurrentSources == 0 {
		c.MaxConcurrentSources = defaultMaxConcurrent
	}
	if c.MaxConcurrentSources < 1 {
		return fmt.Errorf("max_concurrent_sources must be at least 1")
	}

	if err := c.validateSources(); err != nil {
		return err
	}

	if c.HasProvider(model.ProviderPhoto) {
		if c.Instagram == nil || c.Instagram.AccessToken == "" {
			return fmt.Errorf("instagram.access_token is required when a photo source is configured")
		}
	}
	if c.Instagram != nil {
		if c.Instagram.APIBaseURL != "" {
			if err := checkURL("instagram.api_base_url", c.Instagram.APIBaseURL); err != nil {
				return err
			}
		}
		if err := pageSize("instagram.page_size", &c.Instagram.PageSize); err != nil {
			return err
		}
		if c.Instagram.TitleMaxLen == 0 {
			c.Instagram.TitleMaxLen = defaultTitleMaxLen
		}
		if c.Instagram.TitleMaxLen < 1 || c.Instagram.TitleMaxLen > maxTitleMaxLen {
			return fmt.Errorf("instagram.title_max_len %d out of range (1..%d)", c.Instagram.TitleMaxLen, maxTitleMaxLen)
		}
	}

	if c.HasProvider(model.ProviderVideo) {
		if c.YouTube == nil || c.YouTube.APIKey == "" {
			return fmt.Errorf("youtube.api_key is required when a video source is configured")
		}
	}
	if c.YouTube != nil {
		if c.YouTube.Endpoint != "" {
			if err := checkURL("youtube.endpoint", c.YouTube.Endpoint); err != nil {
				return err
			}
		}
		if err := pageSize("youtube.page_size", &c.YouTube.PageSize); err != nil {
			return err
		}
	}

	if c.Telemetry != nil {
		if c.Telemetry.OTLPEndpoint == "" {
			return fmt.Errorf("telemetry.otlp_endpoint is required when telemetry is configured")
		}
	}

	return nil
}

func (c *Config) validateSources() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("sources must contain at least one entry")
	}
	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		p, err := model.ParseProvider(s.Provider)
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		s.Provider = string(p)

		if s.ID == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		key := s.Provider + "/" + s.ID
		if seen[key] {
			return fmt.Errorf("sources[%d]: duplicate %s source %q", i, s.Provider, s.ID)
		}
		seen[key] = true

		target, err := model.ParsePostTarget(s.PostTarget)
		if err != nil {
			return fmt.Errorf("sources[%d]: %w", i, err)
		}
		s.PostTarget = string(target)
	}
	return nil
}

func pageSize(key string, n *int) error {
	if *n == 0 {
		*n = defaultPageSize
	}
	if *n < 1 || *n > maxPageSize {
		return fmt.Errorf("%s %d out of range (1..%d)", key, *n, maxPageSize)
	}
	return nil
}

func checkURL(key, raw string) error {
	u, err := url.ParseRequestURI(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s %q must be a valid http or https URL", key, raw)
	}
	return nil
}
