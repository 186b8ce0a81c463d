package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/njoerd114/mediarelay/internal/model"
	syncp "github.com/njoerd114/mediarelay/internal/sync"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("creating temp config: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	f.Close()
	return f.Name()
}

// load reads a config without environment overrides so the developer's
// environment cannot leak into tests.
func load(t *testing.T, content string) (*Config, error) {
	t.Helper()
	return LoadWithEnv(writeConfig(t, content), nil)
}

const minimal = `
content_dir: /tmp/mediarelay-content
youtube:
  api_key: "yt-key"
sources:
  - provider: youtube
    id: UC123
`

func TestLoad_Valid(t *testing.T) {
	cfg, err := load(t, `
poll_interval: 30m
state_db: /var/lib/mediarelay/state.db
content_dir: /srv/content
commit_policy: partial
max_concurrent_sources: 4
instagram:
  access_token: "ig-token"
  page_size: 25
  title_max_len: 80
youtube:
  api_key: "yt-key"
  endpoint: "http://localhost:8080/"
sources:
  - provider: instagram
    id: "17841400000000001"
    post_target: post
    category_id: "7"
  - provider: video
    id: UC123
    content_instance: cooking
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != 30*time.Minute {
		t.Errorf("PollInterval = %v, want 30m", cfg.PollInterval)
	}
	if cfg.StateDB != "/var/lib/mediarelay/state.db" || cfg.ContentDir != "/srv/content" {
		t.Errorf("paths = %q, %q", cfg.StateDB, cfg.ContentDir)
	}
	if cfg.SyncPolicy() != syncp.CommitPartial {
		t.Errorf("SyncPolicy = %v, want partial", cfg.SyncPolicy())
	}
	if cfg.MaxConcurrentSources != 4 {
		t.Errorf("MaxConcurrentSources = %d, want 4", cfg.MaxConcurrentSources)
	}
	if cfg.Instagram.PageSize != 25 || cfg.Instagram.TitleMaxLen != 80 {
		t.Errorf("Instagram = %+v", cfg.Instagram)
	}
	if cfg.YouTube.PageSize != syncp.DefaultPageSize {
		t.Errorf("YouTube.PageSize = %d, want default %d", cfg.YouTube.PageSize, syncp.DefaultPageSize)
	}
	if len(cfg.Sources) != 2 {
		t.Fatalf("Sources len = %d, want 2", len(cfg.Sources))
	}
	if cfg.Sources[0].Provider != string(model.ProviderPhoto) || cfg.Sources[0].PostTarget != string(model.GenericPost) {
		t.Errorf("Sources[0] = %+v, want normalised photo/post", cfg.Sources[0])
	}
	if cfg.Sources[1].PostTarget != string(model.DedicatedContentType) {
		t.Errorf("Sources[1].PostTarget = %q, want dedicated", cfg.Sources[1].PostTarget)
	}
	if !cfg.HasProvider(model.ProviderPhoto) || !cfg.HasProvider(model.ProviderVideo) {
		t.Error("HasProvider false for a configured provider")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(t, minimal)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.PollInterval != time.Hour {
		t.Errorf("PollInterval = %v, want default 1h", cfg.PollInterval)
	}
	if cfg.SyncPolicy() != syncp.CommitAllOrNothing {
		t.Errorf("SyncPolicy = %v, want all_or_nothing", cfg.SyncPolicy())
	}
	if cfg.MaxConcurrentSources != 2 {
		t.Errorf("MaxConcurrentSources = %d, want 2", cfg.MaxConcurrentSources)
	}
	if cfg.HasProvider(model.ProviderPhoto) {
		t.Error("HasProvider(photo) = true without photo sources")
	}
}

func TestLoad_DefaultContentDir(t *testing.T) {
	cfg, err := load(t, strings.Replace(minimal, "content_dir: /tmp/mediarelay-content\n", "", 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(cfg.ContentDir, "mediarelay/content") {
		t.Errorf("ContentDir = %q, want default", cfg.ContentDir)
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"poll interval too short", minimal + "poll_interval: 30s\n"},
		{"poll interval too long", minimal + "poll_interval: 25h\n"},
		{"unknown commit policy", minimal + "commit_policy: sometimes\n"},
		{"negative concurrency", minimal + "max_concurrent_sources: -1\n"},
		{"unknown key", minimal + "poll_intervall: 1h\n"},
		{"no sources", "youtube:\n  api_key: k\nsources: []\n"},
		{"unknown provider", "sources:\n  - provider: flickr\n    id: x\n"},
		{"missing id", "youtube:\n  api_key: k\nsources:\n  - provider: video\n"},
		{"bad post target", "youtube:\n  api_key: k\nsources:\n  - provider: video\n    id: a\n    post_target: page\n"},
		{"duplicate source", "youtube:\n  api_key: k\nsources:\n  - {provider: video, id: a}\n  - {provider: youtube, id: a}\n"},
		{"missing youtube key", "sources:\n  - provider: video\n    id: a\n"},
		{"missing instagram token", "sources:\n  - provider: photo\n    id: a\n"},
		{"page size too large", "youtube:\n  api_key: k\n  page_size: 51\nsources:\n  - {provider: video, id: a}\n"},
		{"title max len too large", "instagram:\n  access_token: t\n  title_max_len: 251\nsources:\n  - {provider: photo, id: a}\n"},
		{"bad instagram url", "instagram:\n  access_token: t\n  api_base_url: not-a-url\nsources:\n  - {provider: photo, id: a}\n"},
		{"telemetry without endpoint", minimal + "telemetry:\n  insecure: true\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := load(t, tt.content); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MEDIARELAY_INSTAGRAM_TOKEN", "env-token")
	t.Setenv("MEDIARELAY_YOUTUBE_API_KEY", "env-key")
	t.Setenv("MEDIARELAY_STATE_DB", "/env/state.db")

	cfg, err := Load(writeConfig(t, `
youtube:
  api_key: "file-key"
sources:
  - {provider: photo, id: acct}
  - {provider: video, id: UC1}
`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Instagram == nil || cfg.Instagram.AccessToken != "env-token" {
		t.Errorf("Instagram = %+v, want token from environment", cfg.Instagram)
	}
	if cfg.YouTube.APIKey != "env-key" {
		t.Errorf("YouTube.APIKey = %q, want env-key", cfg.YouTube.APIKey)
	}
	if cfg.StateDB != "/env/state.db" {
		t.Errorf("StateDB = %q, want /env/state.db", cfg.StateDB)
	}
	if cfg.Instagram.TitleMaxLen != defaultTitleMaxLen {
		t.Errorf("TitleMaxLen = %d, want default", cfg.Instagram.TitleMaxLen)
	}
}

func TestLoad_Telemetry(t *testing.T) {
	cfg, err := load(t, minimal+`
telemetry:
  otlp_endpoint: "localhost:4317"
  insecure: true
  headers:
    Authorization: "Bearer x"
`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Telemetry == nil || cfg.Telemetry.OTLPEndpoint != "localhost:4317" || !cfg.Telemetry.Insecure {
		t.Errorf("Telemetry = %+v", cfg.Telemetry)
	}
	if cfg.Telemetry.Headers["Authorization"] != "Bearer x" {
		t.Errorf("Headers = %v", cfg.Telemetry.Headers)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := LoadWithEnv("/nonexistent/config.yaml", nil); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestDefaultPath(t *testing.T) {
	p, err := DefaultPath()
	if err != nil {
		t.Fatalf("DefaultPath: %v", err)
	}
	if !strings.HasSuffix(p, ".config/mediarelay/config.yaml") {
		t.Errorf("DefaultPath = %q", p)
	}
}
