package engine

import "testing"

func TestSearchFilterURLParameter(t *testing.T) {
	tests := []struct {
		name   string
		filter SearchFilter
		want   string
	}{
		{"zero", SearchFilter{}, ""},
		{"playlists only", SearchFilter{Type: TypePlaylist}, "EgIQAw%3D%3D"},
		{"videos only", SearchFilter{Type: TypeVideo}, "EgIQAQ%3D%3D"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.URLParameter(); got != tt.want {
				t.Errorf("URLParameter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSearchFilter(t *testing.T) {
	orig := SearchFilter{
		Date:                 DateThisWeek,
		Type:                 TypeVideo,
		Duration:             DurationOver20Min,
		Features:             FeatureHD | FeatureSubtitles | FeatureVR180,
		Sort:                 SortViews,
		AllowSelfHarmResults: true,
	}
	got, err := ParseSearchFilter(orig.URLParameter())
	if err != nil {
		t.Fatalf("ParseSearchFilter: %v", err)
	}
	if got != orig {
		t.Errorf("ParseSearchFilter() = %+v, want %+v", got, orig)
	}

	if _, err := ParseSearchFilter("%%%not-base64"); err == nil {
		t.Error("expected error for garbage parameter")
	}
}
