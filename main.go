package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tomasmach/personabridge/authstore"
	"github.com/tomasmach/personabridge/bot"
	"github.com/tomasmach/personabridge/clock"
	"github.com/tomasmach/personabridge/coalesce"
	"github.com/tomasmach/personabridge/config"
	"github.com/tomasmach/personabridge/convstate"
	"github.com/tomasmach/personabridge/dedup"
	"github.com/tomasmach/personabridge/dispatch"
	"github.com/tomasmach/personabridge/history"
	"github.com/tomasmach/personabridge/identity"
	"github.com/tomasmach/personabridge/llm"
	"github.com/tomasmach/personabridge/logstore"
	"github.com/tomasmach/personabridge/oauthclient"
	"github.com/tomasmach/personabridge/reference"
	"github.com/tomasmach/personabridge/registry"
	"github.com/tomasmach/personabridge/web"
	"github.com/tomasmach/personabridge/webhook"
)

func main() {
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfgPath := config.Resolve()
	if *configPath != "" {
		cfgPath = *configPath
	}

	cfgStore, err := config.NewStore(cfgPath)
	if err != nil {
		// setupLogger not yet called; write to stderr via default slog
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	cfg := cfgStore.Get()
	dataDir := config.ResolveDataDir(cfg.DataDir)

	logsDBPath := filepath.Join(dataDir, "logs.db")
	ls, err := logstore.Open(logsDBPath)
	if err != nil {
		slog.Error("failed to open log store", "error", err)
		os.Exit(1)
	}
	setupLogger(*logLevel, *logFormat, ls)
	slog.Info("config loaded", "path", cfgPath)
	slog.Info("log store opened", "path", logsDBPath)

	hist, err := history.Open(filepath.Join(dataDir, "history.db"))
	if err != nil {
		slog.Error("failed to open history store", "error", err)
		os.Exit(1)
	}

	reg, err := registry.New(registry.NewFileStore(filepath.Join(dataDir, "personalities.json")), nil)
	if err != nil {
		slog.Error("failed to open personality registry", "error", err)
		os.Exit(1)
	}
	defer reg.Close()

	tokens, err := authstore.New(authstore.NewJSONFileStore(filepath.Join(dataDir, "auth.json")), buildRefresher(), time.Now)
	if err != nil {
		slog.Error("failed to open token store", "error", err)
		os.Exit(1)
	}

	realClock := clock.Real{}

	proxyPatterns, err := compileProxyUsernamePatterns(os.Getenv("PROXY_USERNAME_PATTERNS"))
	if err != nil {
		slog.Error("failed to compile proxy username patterns", "error", err)
		os.Exit(1)
	}
	identityTracker := identity.New(cfg.Bot.SelfBotID, cfg.Bot.KnownProxyApps, proxyPatterns, reg)

	deduplicator := dedup.New(dedup.Config{MessageIDTTL: cfg.Dispatch.DedupWindow()}, realClock)
	convState := convstate.New(convstate.Config{AutoRespondTTL: cfg.Dispatch.ConvTTL()}, realClock)

	coalesceCfg := coalesce.Config{
		PostCache:      time.Duration(cfg.Dispatch.PostCacheSeconds) * time.Second,
		Cooldown:       time.Duration(cfg.Dispatch.CooldownSeconds) * time.Second,
		RequestTimeout: time.Duration(cfg.LLM.RequestTimeoutSeconds) * time.Second,
	}
	coalescer := coalesce.New(coalesceCfg, realClock)

	defaultBot, err := bot.New(cfg.Bot.Token)
	if err != nil {
		slog.Error("failed to create bot", "error", err)
		os.Exit(1)
	}

	resolver := reference.New(defaultBot, identityTracker, cfg.Dispatch.MaxRefDepth, cfg.Dispatch.MaxMediaPerRequest)
	sender := webhook.New(defaultBot, identityTracker, convState, cfg.Bot.SelfBotID)
	llmClient := llm.New(cfg.LLM.Endpoint, cfg.LLM.Model, time.Duration(cfg.LLM.RequestTimeoutSeconds)*time.Second)

	dispatchCfg := dispatch.Config{
		CommandPrefix:      cfg.Dispatch.CommandPrefix,
		Model:              cfg.LLM.Model,
		RateLimitPerMinute: cfg.Dispatch.RateLimitPerMinute,
		RateLimitBurst:     cfg.Dispatch.RateLimitBurst,
	}
	dispatcher := dispatch.New(identityTracker, deduplicator, reg, convState, resolver, tokens, coalescer, llmClient, sender, defaultBot, realClock, dispatchCfg, hist)
	defaultBot.SetHandler(dispatcher)

	sweeper := cron.New()
	if _, err := dedup.ScheduleSweep(sweeper, deduplicator); err != nil {
		slog.Error("failed to schedule dedup sweep", "error", err)
		os.Exit(1)
	}
	if _, err := convstate.ScheduleSweep(sweeper, convState); err != nil {
		slog.Error("failed to schedule conversation state sweep", "error", err)
		os.Exit(1)
	}
	if _, err := coalesce.ScheduleSweep(sweeper, coalescer); err != nil {
		slog.Error("failed to schedule coalescer sweep", "error", err)
		os.Exit(1)
	}
	sweeper.Start()

	if err := defaultBot.Start(); err != nil {
		slog.Error("failed to start bot", "error", err)
		os.Exit(1)
	}
	slog.Info("bot started")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	webServer := web.New(cfg.Web.Addr, cfgStore, cfgPath, reg, convState, hist, ls)
	webServer.StartStatusPoller(ctx)
	go func() {
		if err := webServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("web server", "error", err)
		}
	}()
	slog.Info("web server started", "addr", cfg.Web.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	slog.Info("shutting down")
	shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutCancel()
	_ = webServer.Shutdown(shutCtx)
	<-sweeper.Stop().Done()
	if err := defaultBot.Stop(); err != nil {
		slog.Warn("failed to stop bot", "error", err)
	}
	cancel()
	if err := hist.Close(); err != nil {
		slog.Warn("failed to close history store", "error", err)
	}
	if err := ls.Close(); err != nil {
		slog.Warn("failed to close log store", "error", err)
	}
	slog.Info("shutdown complete")
}

// buildRefresher wires an oauthclient.Client as the token store's Refresher
// when OAUTH_CLIENT_ID/OAUTH_CLIENT_SECRET/OAUTH_TOKEN_URL are all set.
// Without them the Store has no Refresher. In either case nothing in the
// dispatch path calls Store.Refresh, so an expired token is not renewed
// automatically and the user must re-authenticate.
func buildRefresher() authstore.Refresher {
	clientID := os.Getenv("OAUTH_CLIENT_ID")
	clientSecret := os.Getenv("OAUTH_CLIENT_SECRET")
	tokenURL := os.Getenv("OAUTH_TOKEN_URL")
	if clientID == "" || clientSecret == "" || tokenURL == "" {
		return nil
	}
	return oauthclient.New(clientID, clientSecret, tokenURL)
}

// compileProxyUsernamePatterns parses a comma-separated list of regexes
// from PROXY_USERNAME_PATTERNS (spec §4.1's proxy-username heuristic).
func compileProxyUsernamePatterns(raw string) ([]*regexp.Regexp, error) {
	if raw == "" {
		return nil, nil
	}
	var out []*regexp.Regexp
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		re, err := regexp.Compile(part)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}

func setupLogger(level, format string, ls *logstore.Store) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: l}
	var h slog.Handler
	if format == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	if ls != nil {
		h = logstore.NewHandler(h, ls)
	}
	slog.SetDefault(slog.New(h))
}
