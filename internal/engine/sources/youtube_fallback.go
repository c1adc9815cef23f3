package sources

import (
	"context"
	"time"

	"github.com/raitonoberu/ytsearch"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// ytsearchFallback serves the first page of a plain video search through
// ytsearch. The library has no context support, so a cancelled ctx is only
// honoured before and after the call.
func ytsearchFallback(ctx context.Context, query string) ([]engine.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := ytsearch.VideoSearch(query).Next()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries := make([]engine.Entry, 0, len(res.Videos))
	for _, v := range res.Videos {
		if v.ID == "" {
			continue
		}
		var thumbs []engine.Thumbnail
		if len(v.Thumbnails) > 0 {
			thumbs = []engine.Thumbnail{{URL: v.Thumbnails[0].URL}}
		}
		e := engine.NewVideo(v.ID, v.Title, defaultBaseURL+"/watch?v="+v.ID, thumbs)
		e.ChannelName = v.Channel.Title
		e.Duration = time.Duration(v.Duration) * time.Second
		if v.Duration == 0 {
			e.Live = engine.LiveNow
		}
		entries = append(entries, e)
	}
	return entries, nil
}
