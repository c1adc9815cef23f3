package sources

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/kkdai/youtube/v2"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// Video fetches player metadata and formats. When the video is recent, every
// cache entry written while extracting it expires early so live and upcoming
// state refreshes.
func (y *YouTube) Video(ctx context.Context, id string, skipCache bool) (*engine.Video, error) {
	engine.IncrVideo()
	if skipCache {
		ctx = engine.WithSkipCache(ctx)
	}
	ctx, batch := engine.WithExpiryBatch(ctx)

	v, err := retryNoData(ctx, y, "video", func(ctx context.Context) (*engine.Video, error) {
		yv, err := y.player.GetVideoContext(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("player: %w", err)
		}
		if len(yv.Formats) == 0 && yv.HLSManifestURL == "" {
			return nil, fmt.Errorf("player returned no formats: %w", engine.ErrNoData)
		}
		return y.convertVideo(ctx, yv), nil
	})
	if err != nil {
		return nil, fmt.Errorf("video %s: %w", id, err)
	}

	if reload, ok := v.MetadataReloadTime(y.now()); ok && batch.Len() > 0 {
		ttl := min(reload, y.cacheTTL)
		if err := batch.ExpireIn(ttl); err != nil {
			slog.Warn("youtube: shorten video cache lifetime failed",
				slog.String("id", id), slog.Any("error", err))
		} else {
			slog.Debug("youtube: video cache lifetime shortened",
				slog.String("id", id), slog.Duration("ttl", ttl), slog.Int("entries", batch.Len()))
		}
	}
	return v, nil
}

func (y *YouTube) convertVideo(ctx context.Context, yv *youtube.Video) *engine.Video {
	thumbs := make([]engine.Thumbnail, 0, len(yv.Thumbnails))
	for _, t := range yv.Thumbnails {
		thumbs = append(thumbs, engine.Thumbnail{URL: t.URL, Width: int(t.Width), Height: int(t.Height)})
	}

	entry := engine.NewVideo(yv.ID, yv.Title, y.baseURL+"/watch?v="+yv.ID, thumbs)
	entry.Description = yv.Description
	entry.ChannelID = yv.ChannelID
	entry.ChannelName = yv.Author
	if yv.ChannelID != "" {
		entry.ChannelURL = y.baseURL + "/channel/" + yv.ChannelID
	}
	entry.UploaderID = yv.ChannelHandle
	entry.Duration = yv.Duration
	entry.Views = int64(yv.Views)
	entry.Released = yv.PublishDate
	entry.Live = engine.LiveNot
	if yv.HLSManifestURL != "" && yv.Duration == 0 {
		entry.Live = engine.LiveNow
	}

	v := &engine.Video{
		VideoEntry:      entry,
		HLSManifestURL:  yv.HLSManifestURL,
		DASHManifestURL: yv.DASHManifestURL,
	}
	for i := range yv.Formats {
		f := &yv.Formats[i]
		if f.URL == "" {
			u, err := y.player.GetStreamURLContext(ctx, yv, f)
			if err != nil {
				slog.Debug("youtube: stream url unresolved",
					slog.String("id", yv.ID), slog.Int("itag", f.ItagNo), slog.Any("error", err))
				continue
			}
			f.URL = u
		}
		v.Formats = append(v.Formats, convertFormat(f))
	}
	return v
}

// convertFormat maps a player format onto engine.Format. Adaptive formats
// become "<ext>_dash" containers with the missing stream marked "none".
func convertFormat(f *youtube.Format) engine.Format {
	out := engine.Format{
		ID:            strconv.Itoa(f.ItagNo),
		Protocol:      "https",
		URL:           f.URL,
		Width:         f.Width,
		Height:        f.Height,
		FPS:           float64(f.FPS),
		AudioChannels: f.AudioChannels,
		Filesize:      f.ContentLength,
	}
	bitrate := f.AverageBitrate
	if bitrate == 0 {
		bitrate = f.Bitrate
	}
	out.Bitrate = float64(bitrate) / 1000

	mt, params, err := mime.ParseMediaType(f.MimeType)
	if err != nil {
		return out
	}
	kind, ext, _ := strings.Cut(mt, "/")
	var codecs []string
	for c := range strings.SplitSeq(params["codecs"], ",") {
		if c = strings.TrimSpace(c); c != "" {
			codecs = append(codecs, c)
		}
	}

	switch {
	case kind == "audio":
		out.Name = f.AudioQuality
		out.VideoCodec = "none"
		if len(codecs) > 0 {
			out.AudioCodec = codecs[0]
		}
		out.Container = ext + "_dash"
		if ext == "mp4" {
			out.Container = "m4a_dash"
		}
		if f.AudioTrack != nil {
			out.Language, _, _ = strings.Cut(f.AudioTrack.ID, ".")
		}
	case len(codecs) >= 2:
		out.Name = f.QualityLabel
		out.VideoCodec, out.AudioCodec = codecs[0], codecs[1]
		out.Container = ext
	default:
		out.Name = f.QualityLabel
		out.AudioCodec = "none"
		if len(codecs) > 0 {
			out.VideoCodec = codecs[0]
		}
		out.Container = ext + "_dash"
		out.DynamicRange = "SDR"
		if strings.Contains(f.QualityLabel, "HDR") {
			out.DynamicRange = "HDR"
		}
	}
	return out
}

// OpenStream starts a direct (uncached) GET of a media URL. The caller closes
// the body.
func (y *YouTube) OpenStream(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", engine.UserAgentChrome)
	engine.IncrUpstreamRequests()
	resp, err := y.direct.Do(req)
	if err != nil {
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		engine.IncrUpstreamErrors()
		return nil, fmt.Errorf("open stream: HTTP %d", resp.StatusCode)
	}
	return resp, nil
}
