// Package config loads gateway configuration: compiled defaults, then an
// optional YAML file, then EMBY_GATE_* environment variables, each layer
// overriding the previous one.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix is stripped from environment keys; a double underscore maps to a
// nesting level, e.g. EMBY_GATE_EMBY__BASE_URL -> emby.base_url.
const envPrefix = "EMBY_GATE_"

// Emby is the host media server the gateway fronts.
type Emby struct {
	BaseURL string `koanf:"base_url"` // e.g. http://emby:8096
	APIKey  string `koanf:"api_key"`
	// Timeout for host API calls that return JSON (not byte streams).
	Timeout time.Duration `koanf:"timeout"`
}

// Storage is the cloud-storage provider whose handles we resolve.
type Storage struct {
	ResolveURL string `koanf:"resolve_url"` // resolution endpoint; handle appended
	// The provider scopes direct links to the requesting signature, so the
	// resolver forges the referrer/origin it expects.
	Referrer string `koanf:"referrer"`
	Origin   string `koanf:"origin"`
	// HandlePrefix identifies storage-backed media paths inside host
	// payloads, e.g. "/api/storage/play/". The handle follows the prefix.
	HandlePrefix string        `koanf:"handle_prefix"`
	PositiveTTL  time.Duration `koanf:"positive_ttl"`
	NegativeTTL  time.Duration `koanf:"negative_ttl"`
	RatePerSec   float64       `koanf:"rate_per_sec"`
	Burst        int           `koanf:"burst"`
	Timeout      time.Duration `koanf:"timeout"`
}

// Views controls how virtual collections are merged into the host's view list.
type Views struct {
	MergeNative     bool     `koanf:"merge_native"`
	NativeSelection []string `koanf:"native_selection"` // empty = none when merging
	NativeOrder     string   `koanf:"native_order"`     // "before" | "after" virtual views
	// ShowMissingPlaceholders renders curated entries absent from the host
	// library as placeholder items.
	ShowMissingPlaceholders bool `koanf:"show_missing_placeholders"`
}

// Compositor tunes pagination strategy selection.
type Compositor struct {
	// HostDelegatedByteLimit caps the serialized candidate-ID list sent to
	// the host; beyond it the in-memory fallback kicks in.
	HostDelegatedByteLimit int `koanf:"host_delegated_byte_limit"`
	DetailChunkSize        int `koanf:"detail_chunk_size"`
}

// Config is the full gateway configuration.
type Config struct {
	ListenAddr string `koanf:"listen_addr"`
	LogLevel   string `koanf:"log_level"`
	LogConsole bool   `koanf:"log_console"`

	// StorePath is the sqlite database holding collection definitions and
	// the synchronised media index (read-only for this process).
	StorePath string `koanf:"store_path"`

	Emby       Emby       `koanf:"emby"`
	Storage    Storage    `koanf:"storage"`
	Views      Views      `koanf:"views"`
	Compositor Compositor `koanf:"compositor"`

	// RedirectPerMinute rate-limits the public redirect endpoint per client
	// IP (on top of the upstream token bucket).
	RedirectPerMinute int `koanf:"redirect_per_minute"`
}

// Defaults returns a Config with every tunable at its shipped default.
func Defaults() *Config {
	return &Config{
		ListenAddr: ":8097",
		LogLevel:   "info",
		LogConsole: false,
		StorePath:  "./emby-gate.db",
		Emby: Emby{
			Timeout: 25 * time.Second,
		},
		Storage: Storage{
			HandlePrefix: "/api/storage/play/",
			Referrer:     "https://www.115.com/",
			Origin:       "https://www.115.com",
			PositiveTTL:  2 * time.Hour,
			NegativeTTL:  10 * time.Second,
			RatePerSec:   1.5,
			Burst:        3,
			Timeout:      15 * time.Second,
		},
		Views: Views{
			MergeNative: true,
			NativeOrder: "before",
		},
		Compositor: Compositor{
			HostDelegatedByteLimit: 1800,
			DetailChunkSize:        200,
		},
		RedirectPerMinute: 120,
	}
}

// Load builds the configuration from defaults, the optional YAML file at
// path (missing file is not an error when path is empty), and environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("config: load env: %w", err)
	}

	cfg := Defaults()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// Validate checks the fields the gateway cannot run without.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Emby.BaseURL) == "" {
		return fmt.Errorf("config: emby.base_url is required")
	}
	if strings.TrimSpace(c.Emby.APIKey) == "" {
		return fmt.Errorf("config: emby.api_key is required")
	}
	switch c.Views.NativeOrder {
	case "before", "after":
	default:
		return fmt.Errorf("config: views.native_order must be before or after, got %q", c.Views.NativeOrder)
	}
	if c.Storage.Burst < 1 {
		return fmt.Errorf("config: storage.burst must be >= 1")
	}
	if c.Storage.NegativeTTL >= c.Storage.PositiveTTL {
		return fmt.Errorf("config: storage.negative_ttl must be shorter than positive_ttl")
	}
	return nil
}
