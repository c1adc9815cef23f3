package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Metrics tracks operational counters across the engine.
var metrics struct {
	UpstreamRequests   atomic.Int64
	UpstreamErrors     atomic.Int64
	SearchRequests     atomic.Int64
	ChannelRequests    atomic.Int64
	PlaylistRequests   atomic.Int64
	VideoRequests      atomic.Int64
	TranscriptRequests atomic.Int64
	SearchFallbacks    atomic.Int64
	RelatedPages       atomic.Int64
	RelatedSubFailures atomic.Int64
	ManifestsGenerated atomic.Int64
	ManifestsFailed    atomic.Int64
}

// GetMetrics returns a snapshot of all metrics including cache stats.
func GetMetrics() map[string]int64 {
	hits, misses := CacheStats()
	return map[string]int64{
		"upstream_requests":    metrics.UpstreamRequests.Load(),
		"upstream_errors":      metrics.UpstreamErrors.Load(),
		"search_requests":      metrics.SearchRequests.Load(),
		"channel_requests":     metrics.ChannelRequests.Load(),
		"playlist_requests":    metrics.PlaylistRequests.Load(),
		"video_requests":       metrics.VideoRequests.Load(),
		"transcript_requests":  metrics.TranscriptRequests.Load(),
		"search_fallbacks":     metrics.SearchFallbacks.Load(),
		"related_pages":        metrics.RelatedPages.Load(),
		"related_sub_failures": metrics.RelatedSubFailures.Load(),
		"manifests_generated":  metrics.ManifestsGenerated.Load(),
		"manifests_failed":     metrics.ManifestsFailed.Load(),
		"cache_hits":           hits,
		"cache_misses":         misses,
		"cache_writes":         cacheWrites.Load(),
		"cache_corruptions":    cacheCorruptions.Load(),
		"cache_pruned":         cachePruned.Load(),
	}
}

// FormatMetrics returns metrics as a simple text format for HTTP endpoint.
func FormatMetrics() string {
	m := GetMetrics()
	var sb strings.Builder
	keys := []string{
		"upstream_requests", "upstream_errors",
		"search_requests", "channel_requests", "playlist_requests", "video_requests",
		"transcript_requests", "search_fallbacks",
		"related_pages", "related_sub_failures",
		"manifests_generated", "manifests_failed",
		"cache_hits", "cache_misses", "cache_writes", "cache_corruptions", "cache_pruned",
	}
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s %d\n", k, m[k])
	}
	return sb.String()
}

// Incrementors for sources/ sub-package.
func IncrUpstreamRequests() { metrics.UpstreamRequests.Add(1) }
func IncrUpstreamErrors()   { metrics.UpstreamErrors.Add(1) }
func IncrSearch()           { metrics.SearchRequests.Add(1) }
func IncrChannel()          { metrics.ChannelRequests.Add(1) }
func IncrPlaylist()         { metrics.PlaylistRequests.Add(1) }
func IncrVideo()            { metrics.VideoRequests.Add(1) }
func IncrTranscript()       { metrics.TranscriptRequests.Add(1) }
func IncrSearchFallback()   { metrics.SearchFallbacks.Add(1) }

// Incrementors for related/ and streaming callers.
func IncrRelatedPages()       { metrics.RelatedPages.Add(1) }
func IncrRelatedSubFailures() { metrics.RelatedSubFailures.Add(1) }
func IncrManifests()          { metrics.ManifestsGenerated.Add(1) }
func IncrManifestFailures()   { metrics.ManifestsFailed.Add(1) }

// TrackOperation logs a warning if an operation takes longer than threshold.
func TrackOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	if elapsed > 5*time.Second {
		slog.Warn("slow operation", slog.String("op", name), slog.Duration("elapsed", elapsed))
	}
	return err
}
