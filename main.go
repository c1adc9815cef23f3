// go_tube is a privacy-preserving YouTube front-end MCP server.
//
// Exposes search, channel, playlist, related, video and caption tools plus HLS
// playlist synthesis. Upstream responses go through a disk cache; media
// URLs in tool output are routed through PROXY_PREFIX.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/anatolykoptev/go-kit/env"
	"github.com/anatolykoptev/go-mcpserver"
	stealth "github.com/anatolykoptev/go-stealth"
	"github.com/anatolykoptev/go-stealth/proxypool"
	"github.com/anatolykoptev/go_tube/internal/engine"
	"github.com/anatolykoptev/go_tube/internal/engine/sources"
	"github.com/anatolykoptev/go_tube/internal/tubeserver"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	version = "dev"
	mcpPort = env.Str("MCP_PORT", "8893")
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := loadConfig()
	svc, err := engine.NewServices(c)
	if err != nil {
		slog.Error("engine init failed", slog.Any("error", err))
		os.Exit(1)
	}
	go svc.Cache.RunPruner(ctx, c.CachePruneInterval, c.CacheMaxBytes)

	slog.Info("starting go_tube",
		slog.String("port", mcpPort),
		slog.String("cache_dir", c.CacheDir),
	)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "go_tube",
		Version: version,
	}, nil)

	yt := sources.NewYouTube(svc, sources.WithBaseURL(c.YouTubeBaseURL))
	tubeserver.New(yt, c.ProxyPrefix).RegisterTools(server)
	slog.Info("tools registered", slog.Int("count", tubeserver.ToolCount))

	if err := mcpserver.Run(server, mcpserver.Config{
		Name:         "go_tube",
		Version:      version,
		Port:         mcpPort,
		WriteTimeout: 300 * time.Second,
		Metrics:      engine.FormatMetrics,
	}); err != nil {
		slog.Error("server failed", slog.Any("error", err))
	}
}

func loadConfig() engine.Config {
	c := engine.Config{
		CacheDir:           env.Str("CACHE_DIR", defaultCacheDir()),
		CacheTTL:           env.Duration("CACHE_TTL", time.Hour),
		CacheMaxBytes:      int64(env.Int("CACHE_MAX_BYTES", 512<<20)),
		CachePruneInterval: env.Duration("CACHE_PRUNE_INTERVAL", 5*time.Minute),
		WorkerPoolSize:     env.Int("WORKER_POOL_SIZE", 16),
		HostParallelism:    env.Int("HOST_PARALLELISM", 16),
		HostRPS:            env.Float("HOST_RPS", 0),
		FetchTimeout:       env.Duration("FETCH_TIMEOUT", 15*time.Second),
		YouTubeBaseURL:     env.Str("YT_BASE_URL", "https://www.youtube.com"),
		ProxyPrefix:        env.Str("PROXY_PREFIX", "/proxy?url="),
	}

	var opts []stealth.ClientOption
	opts = append(opts, stealth.WithTimeout(15))

	if apiKey := env.Str("WEBSHARE_API_KEY", ""); apiKey != "" {
		pool, err := proxypool.NewWebshare(apiKey)
		if err != nil {
			slog.Warn("proxy pool init failed, running without proxy", slog.Any("error", err))
		} else {
			opts = append(opts, stealth.WithProxyPool(pool))
			slog.Info("proxy pool initialized", slog.Int("proxies", pool.Len()))
		}
	}

	bc, err := stealth.NewClient(opts...)
	if err != nil {
		slog.Warn("stealth client init failed, using net/http", slog.Any("error", err))
	} else {
		c.BrowserClient = bc
		slog.Info("stealth browser client initialized")
	}
	return c
}

func defaultCacheDir() string {
	if xdg := env.Str("XDG_CACHE_HOME", ""); xdg != "" {
		return filepath.Join(xdg, "go_tube")
	}
	return filepath.Join(os.TempDir(), "go_tube-cache")
}
