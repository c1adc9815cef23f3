package engine

import (
	"encoding/base64"
	"fmt"
	"net/url"

	"google.golang.org/protobuf/encoding/protowire"
)

// Search filter enums, encoded as protobuf varints in the "sp" query parameter.
type (
	SearchDate     int
	SearchType     int
	SearchDuration int
	SearchSort     int
	SearchFeature  uint32
)

const (
	DateAny SearchDate = iota
	DateLastHour
	DateToday
	DateThisWeek
	DateThisMonth
	DateThisYear
)

const (
	TypeAny SearchType = iota
	TypeVideo
	TypeChannel
	TypePlaylist
	TypeMovie
)

const (
	DurationAny SearchDuration = iota
	DurationUnder4Min
	DurationOver20Min
	DurationFrom4To20Min
)

const (
	SortRelevance SearchSort = iota
	SortRating
	SortDate
	SortViews
)

const (
	FeatureLive SearchFeature = 1 << iota
	Feature4K
	FeatureHD
	FeatureSubtitles
	FeatureCreativeCommons
	Feature360
	FeatureVR180
	Feature3D
	FeatureHDR
	FeatureLocation
	FeaturePurchased
)

// featureFields maps each feature flag to its field number inside the nested filters message.
var featureFields = []struct {
	flag  SearchFeature
	field protowire.Number
}{
	{FeatureHD, 4},
	{FeatureSubtitles, 5},
	{FeatureCreativeCommons, 6},
	{Feature3D, 7},
	{FeatureLive, 8},
	{FeaturePurchased, 9},
	{Feature4K, 14},
	{Feature360, 15},
	{FeatureLocation, 23},
	{FeatureHDR, 25},
	{FeatureVR180, 26},
}

// SearchFilter narrows a site-wide search.
type SearchFilter struct {
	Date                 SearchDate
	Type                 SearchType
	Duration             SearchDuration
	Features             SearchFeature
	Sort                 SearchSort
	AllowSelfHarmResults bool
}

// IsZero reports whether the filter adds nothing to a plain search.
func (f SearchFilter) IsZero() bool { return f == SearchFilter{} }

// Encode returns the raw protobuf message.
func (f SearchFilter) Encode() []byte {
	var inner []byte
	if f.Date != DateAny {
		inner = appendVarintField(inner, 1, uint64(f.Date))
	}
	if f.Type != TypeAny {
		inner = appendVarintField(inner, 2, uint64(f.Type))
	}
	if f.Duration != DurationAny {
		inner = appendVarintField(inner, 3, uint64(f.Duration))
	}
	for _, ff := range featureFields {
		if f.Features&ff.flag != 0 {
			inner = appendVarintField(inner, ff.field, 1)
		}
	}

	var b []byte
	if len(inner) > 0 {
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, inner)
	}
	if f.Sort != SortRelevance {
		b = appendVarintField(b, 1, uint64(f.Sort))
	}
	if f.AllowSelfHarmResults {
		b = appendVarintField(b, 9, 1)
	}
	return b
}

// URLParameter returns the query-escaped base64 form used as "sp".
func (f SearchFilter) URLParameter() string {
	return url.QueryEscape(base64.URLEncoding.EncodeToString(f.Encode()))
}

// ParseSearchFilter decodes an "sp" parameter, escaped or not.
func ParseSearchFilter(param string) (SearchFilter, error) {
	var f SearchFilter
	if unescaped, err := url.QueryUnescape(param); err == nil {
		param = unescaped
	}
	raw, err := base64.URLEncoding.DecodeString(param)
	if err != nil {
		if raw, err = base64.RawURLEncoding.DecodeString(param); err != nil {
			return f, fmt.Errorf("search filter: %w", err)
		}
	}

	err = walkFields(raw, func(num protowire.Number, v uint64, nested []byte) error {
		switch num {
		case 1:
			f.Sort = SearchSort(v)
		case 9:
			f.AllowSelfHarmResults = v != 0
		case 2:
			return walkFields(nested, func(num protowire.Number, v uint64, _ []byte) error {
				switch num {
				case 1:
					f.Date = SearchDate(v)
				case 2:
					f.Type = SearchType(v)
				case 3:
					f.Duration = SearchDuration(v)
				default:
					for _, ff := range featureFields {
						if ff.field == num && v != 0 {
							f.Features |= ff.flag
						}
					}
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return SearchFilter{}, fmt.Errorf("search filter: %w", err)
	}
	return f, nil
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// walkFields calls fn for every varint or length-delimited field of a message.
func walkFields(b []byte, fn func(num protowire.Number, v uint64, nested []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
			if err := fn(num, 0, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			b = b[n:]
		}
	}
	return nil
}
