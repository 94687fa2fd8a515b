// Package config handles TOML configuration loading, environment-variable
// overrides, and path resolution for the dispatch proxy.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the full decoded configuration. TOML-decoded fields may be
// overridden afterward by the environment variables of spec §6.
type Config struct {
	Bot       BotConfig      `toml:"bot"`
	LLM       LLMConfig      `toml:"llm"`
	Dispatch  DispatchConfig `toml:"dispatch"`
	Web       WebConfig      `toml:"web"`
	DataDir   string         `toml:"data_dir"`
}

// BotConfig carries the platform adapter's own credentials.
type BotConfig struct {
	Token          string   `toml:"token" json:"-"`
	SelfBotID      string   `toml:"self_bot_id"`
	KnownProxyApps []string `toml:"known_proxy_app_ids"`
}

// LLMConfig carries the external inference endpoint's wiring.
type LLMConfig struct {
	Endpoint              string `toml:"endpoint"`
	Model                 string `toml:"model"`
	RequestTimeoutSeconds int    `toml:"request_timeout_seconds"`
}

// DispatchConfig carries every Dispatcher/component tunable named in
// spec §6.
type DispatchConfig struct {
	CommandPrefix      string  `toml:"command_prefix"`
	MaxRefDepth        int     `toml:"max_ref_depth"`
	MaxMediaPerRequest int     `toml:"max_media_per_request"`
	DedupWindowMs      int     `toml:"dedup_window_ms"`
	ConvTTLMs          int     `toml:"conv_ttl_ms"`
	PostCacheSeconds   int     `toml:"post_cache_seconds"`
	CooldownSeconds    int     `toml:"cooldown_seconds"`
	RateLimitPerMinute float64 `toml:"rate_limit_per_minute"`
	RateLimitBurst     int     `toml:"rate_limit_burst"`
}

// WebConfig carries the admin status server's listen address.
type WebConfig struct {
	Addr string `toml:"addr"`
}

// ExpandPath expands environment variables and a leading ~ in path.
func ExpandPath(path string) string {
	path = os.ExpandEnv(path)
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, path[2:])
	}
	return path
}

// ResolveDataDir returns the directory holding personalities.json,
// auth.json, and the history database, defaulting to
// ~/.local/share/personabridge when unset.
func ResolveDataDir(dataDir string) string {
	if dataDir != "" {
		return ExpandPath(dataDir)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "personabridge")
}

func (d DispatchConfig) dedupWindow() time.Duration {
	return time.Duration(d.DedupWindowMs) * time.Millisecond
}

func (d DispatchConfig) convTTL() time.Duration {
	return time.Duration(d.ConvTTLMs) * time.Millisecond
}

func (c *Config) withDefaults() {
	if c.LLM.RequestTimeoutSeconds <= 0 {
		c.LLM.RequestTimeoutSeconds = 60
	}
	if c.Dispatch.CommandPrefix == "" {
		c.Dispatch.CommandPrefix = "!"
	}
	if c.Dispatch.MaxRefDepth <= 0 {
		c.Dispatch.MaxRefDepth = 10
	}
	if c.Dispatch.MaxMediaPerRequest <= 0 {
		c.Dispatch.MaxMediaPerRequest = 10
	}
	if c.Dispatch.DedupWindowMs <= 0 {
		c.Dispatch.DedupWindowMs = 30_000
	}
	if c.Dispatch.ConvTTLMs <= 0 {
		c.Dispatch.ConvTTLMs = 15 * 60 * 1000
	}
	if c.Dispatch.PostCacheSeconds <= 0 {
		c.Dispatch.PostCacheSeconds = 10
	}
	if c.Dispatch.CooldownSeconds <= 0 {
		c.Dispatch.CooldownSeconds = 30
	}
	if c.Web.Addr == "" {
		c.Web.Addr = ":8080"
	}
}

func (c *Config) validate() error {
	if c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required")
	}
	if c.LLM.Endpoint == "" {
		return fmt.Errorf("llm.endpoint is required")
	}
	return nil
}

// applyEnvOverrides applies spec §6's environment variables over the
// TOML-decoded config, env var taking priority over the file, matching the
// teacher's VESPRA_DB_PATH/BRAVE_API_KEY override idiom.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SELF_BOT_ID"); v != "" {
		c.Bot.SelfBotID = v
	}
	if v := os.Getenv("KNOWN_PROXY_APP_IDS"); v != "" {
		c.Bot.KnownProxyApps = splitNonEmpty(v, ",")
	}
	if v := os.Getenv("LLM_ENDPOINT"); v != "" {
		c.LLM.Endpoint = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			c.LLM.RequestTimeoutSeconds = ms / 1000
		}
	}
	if v := os.Getenv("COMMAND_PREFIX"); v != "" {
		c.Dispatch.CommandPrefix = v
	}
	if v := os.Getenv("MAX_REF_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.MaxRefDepth = n
		}
	}
	if v := os.Getenv("MAX_MEDIA_PER_REQUEST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.MaxMediaPerRequest = n
		}
	}
	if v := os.Getenv("DEDUP_WINDOW_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.DedupWindowMs = n
		}
	}
	if v := os.Getenv("CONV_TTL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Dispatch.ConvTTLMs = n
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		c.DataDir = v
	}
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load decodes path as TOML, applies environment overrides, fills in
// defaults, and validates the result.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyEnvOverrides()
	cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Resolve returns the config file path from the PERSONABRIDGE_CONFIG env
// var, falling back to ~/.config/personabridge/config.toml.
func Resolve() string {
	path := os.Getenv("PERSONABRIDGE_CONFIG")
	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, ".config", "personabridge", "config.toml")
	}
	path = ExpandPath(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}

// Store holds a Config behind a read/write mutex so a background reload
// never races a concurrent Get.
type Store struct {
	mu   sync.RWMutex
	cfg  *Config
	path string
}

// NewStoreFromConfig builds a Store around an already-constructed Config,
// for tests.
func NewStoreFromConfig(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// NewStore loads path and wraps the result in a Store.
func NewStore(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, path: path}, nil
}

// Get returns the current Config.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Reload re-decodes the backing file and swaps it in atomically.
func (s *Store) Reload() (*Config, error) {
	cfg, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return cfg, nil
}

// DedupWindow and ConvTTL expose the millisecond env-var fields as
// time.Duration, so main.go can wire dedup.Config/convstate.Config without
// those packages importing config.

func (d DispatchConfig) DedupWindow() time.Duration { return d.dedupWindow() }
func (d DispatchConfig) ConvTTL() time.Duration      { return d.convTTL() }
