package tubeserver

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// SearchInput is the input of youtube_search.
type SearchInput struct {
	Query        string   `json:"query" jsonschema:"Search query"`
	Sort         string   `json:"sort,omitempty" jsonschema:"relevance (default), rating, date, views"`
	Date         string   `json:"date,omitempty" jsonschema:"any (default), hour, today, week, month, year"`
	Type         string   `json:"type,omitempty" jsonschema:"any (default), video, channel, playlist, movie"`
	Duration     string   `json:"duration,omitempty" jsonschema:"any (default), short (<4 min), medium (4-20 min), long (>20 min)"`
	Features     []string `json:"features,omitempty" jsonschema:"Any of: live, 4k, hd, subtitles, creative_commons, 360, vr180, 3d, hdr, location, purchased"`
	SP           string   `json:"sp,omitempty" jsonschema:"Raw YouTube sp filter parameter; overrides the filter fields"`
	PaginationID string   `json:"pagination_id,omitempty" jsonschema:"Cursor id from a previous call; omit to start a new listing"`
	Page         int      `json:"page,omitempty" jsonschema:"First page of a new listing (default 1)"`
	PerPage      int      `json:"per_page,omitempty" jsonschema:"Items per page (default 12, max 100)"`
}

var (
	sortNames = map[string]engine.SearchSort{
		"": engine.SortRelevance, "relevance": engine.SortRelevance, "rating": engine.SortRating,
		"date": engine.SortDate, "views": engine.SortViews,
	}
	dateNames = map[string]engine.SearchDate{
		"": engine.DateAny, "any": engine.DateAny, "hour": engine.DateLastHour, "today": engine.DateToday,
		"week": engine.DateThisWeek, "month": engine.DateThisMonth, "year": engine.DateThisYear,
	}
	typeNames = map[string]engine.SearchType{
		"": engine.TypeAny, "any": engine.TypeAny, "video": engine.TypeVideo, "channel": engine.TypeChannel,
		"playlist": engine.TypePlaylist, "movie": engine.TypeMovie,
	}
	durationNames = map[string]engine.SearchDuration{
		"": engine.DurationAny, "any": engine.DurationAny, "short": engine.DurationUnder4Min,
		"medium": engine.DurationFrom4To20Min, "long": engine.DurationOver20Min,
	}
	featureNames = map[string]engine.SearchFeature{
		"live": engine.FeatureLive, "4k": engine.Feature4K, "hd": engine.FeatureHD,
		"subtitles": engine.FeatureSubtitles, "creative_commons": engine.FeatureCreativeCommons,
		"360": engine.Feature360, "vr180": engine.FeatureVR180, "3d": engine.Feature3D,
		"hdr": engine.FeatureHDR, "location": engine.FeatureLocation, "purchased": engine.FeaturePurchased,
	}
)

func lookup[T any](names map[string]T, field, value string) (T, error) {
	v, ok := names[strings.ToLower(strings.TrimSpace(value))]
	if !ok {
		var zero T
		return zero, fmt.Errorf("unknown %s %q", field, value)
	}
	return v, nil
}

// filter builds the search filter from the input fields or the raw sp value.
func (in SearchInput) filter() (engine.SearchFilter, error) {
	if in.SP != "" {
		return engine.ParseSearchFilter(in.SP)
	}
	var f engine.SearchFilter
	var err error
	if f.Sort, err = lookup(sortNames, "sort", in.Sort); err != nil {
		return f, err
	}
	if f.Date, err = lookup(dateNames, "date", in.Date); err != nil {
		return f, err
	}
	if f.Type, err = lookup(typeNames, "type", in.Type); err != nil {
		return f, err
	}
	if f.Duration, err = lookup(durationNames, "duration", in.Duration); err != nil {
		return f, err
	}
	for _, name := range in.Features {
		feat, err := lookup(featureNames, "feature", name)
		if err != nil {
			return f, err
		}
		f.Features |= feat
	}
	return f, nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (ListOutput, error) {
	if strings.TrimSpace(in.Query) == "" {
		return ListOutput{}, fmt.Errorf("query is required")
	}
	filter, err := in.filter()
	if err != nil {
		return ListOutput{}, err
	}
	p := pageParams{id: in.PaginationID, page: in.Page, perPage: in.PerPage}
	out, _, err := s.page(ctx, s.searches, p, func(ctx context.Context, w engine.Window) (*engine.Listing, error) {
		return s.src.Search(ctx, in.Query, filter, w)
	})
	return out, err
}

func (s *Server) registerSearch(server *mcp.Server) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "youtube_search",
		Description: "Search YouTube videos, shorts, channels and playlists. Returns a page of results with a pagination_id; call again with it to get the next page until done is true. Supports sort, upload date, type, duration and feature filters.",
		Annotations: &mcp.ToolAnnotations{ReadOnlyHint: true},
	}, func(ctx context.Context, req *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, ListOutput, error) {
		out, err := s.search(ctx, input)
		return nil, out, err
	})
}
