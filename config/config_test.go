package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTestConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFillsDefaults(t *testing.T) {
	path := writeTestConfig(t, "[bot]\ntoken=\"tok\"\n[llm]\nendpoint=\"http://llm.internal\"\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Dispatch.CommandPrefix != "!" {
		t.Errorf("CommandPrefix = %q, want !", cfg.Dispatch.CommandPrefix)
	}
	if cfg.Dispatch.MaxRefDepth != 10 {
		t.Errorf("MaxRefDepth = %d, want 10", cfg.Dispatch.MaxRefDepth)
	}
	if cfg.Web.Addr != ":8080" {
		t.Errorf("Web.Addr = %q, want :8080", cfg.Web.Addr)
	}
}

func TestLoadRejectsMissingToken(t *testing.T) {
	path := writeTestConfig(t, "[llm]\nendpoint=\"http://llm.internal\"\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error when bot.token is missing")
	}
}

func TestLoadRejectsMissingLLMEndpoint(t *testing.T) {
	path := writeTestConfig(t, "[bot]\ntoken=\"tok\"\n")
	if _, err := Load(path); err == nil {
		t.Error("expected an error when llm.endpoint is missing")
	}
}

func TestEnvOverridesTakePriorityOverFile(t *testing.T) {
	path := writeTestConfig(t, "[bot]\ntoken=\"tok\"\n[llm]\nendpoint=\"http://file-endpoint\"\nmodel=\"file-model\"\n")
	t.Setenv("LLM_ENDPOINT", "http://env-endpoint")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("COMMAND_PREFIX", "?")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.Endpoint != "http://env-endpoint" {
		t.Errorf("LLM.Endpoint = %q, want env override", cfg.LLM.Endpoint)
	}
	if cfg.LLM.Model != "env-model" {
		t.Errorf("LLM.Model = %q, want env override", cfg.LLM.Model)
	}
	if cfg.Dispatch.CommandPrefix != "?" {
		t.Errorf("CommandPrefix = %q, want env override", cfg.Dispatch.CommandPrefix)
	}
}

func TestEnvOverridesParsesKnownProxyAppIDs(t *testing.T) {
	path := writeTestConfig(t, "[bot]\ntoken=\"tok\"\n[llm]\nendpoint=\"http://x\"\n")
	t.Setenv("KNOWN_PROXY_APP_IDS", "app1, app2 ,app3")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := []string{"app1", "app2", "app3"}
	if len(cfg.Bot.KnownProxyApps) != len(want) {
		t.Fatalf("KnownProxyApps = %v, want %v", cfg.Bot.KnownProxyApps, want)
	}
	for i, v := range want {
		if cfg.Bot.KnownProxyApps[i] != v {
			t.Errorf("KnownProxyApps[%d] = %q, want %q", i, cfg.Bot.KnownProxyApps[i], v)
		}
	}
}

func TestStoreReloadPicksUpFileChanges(t *testing.T) {
	path := writeTestConfig(t, "[bot]\ntoken=\"tok\"\n[llm]\nendpoint=\"http://x\"\nmodel=\"v1\"\n")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if store.Get().LLM.Model != "v1" {
		t.Fatalf("initial model = %q, want v1", store.Get().LLM.Model)
	}

	if err := os.WriteFile(path, []byte("[bot]\ntoken=\"tok\"\n[llm]\nendpoint=\"http://x\"\nmodel=\"v2\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Reload(); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if store.Get().LLM.Model != "v2" {
		t.Errorf("reloaded model = %q, want v2", store.Get().LLM.Model)
	}
}

func TestResolveDataDirDefaultsUnderHome(t *testing.T) {
	dir := ResolveDataDir("")
	if dir == "" {
		t.Fatal("expected a non-empty default data dir")
	}
}

func TestResolveDataDirExpandsEnv(t *testing.T) {
	t.Setenv("CUSTOM_DATA_ROOT", "/tmp/custom-root")
	dir := ResolveDataDir("$CUSTOM_DATA_ROOT/personabridge")
	if dir != "/tmp/custom-root/personabridge" {
		t.Errorf("ResolveDataDir = %q, want /tmp/custom-root/personabridge", dir)
	}
}
