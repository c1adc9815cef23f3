// Package streaming synthesizes HLS playlists from a video's DASH formats so
// players without DASH support can stream them.
package streaming

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

// HLS media types. Both are accepted on input.
const (
	HLSMime    = "application/x-mpegURL"
	HLSAltMime = "application/vnd.apple.mpegurl"
)

const playlistHeader = "#EXTM3U\n#EXT-X-VERSION:7\n"

const drcSuffix = "-drc"

// MasterPlaylist builds an HLS master playlist over formats. Each rendition
// URI is api followed by the format id, which the caller routes to the
// variant endpoint. Formats that cannot be served as HLS are skipped.
func MasterPlaylist(api string, formats []engine.Format) string {
	sorted := slices.Clone(formats)
	sort.SliceStable(sorted, func(i, j int) bool {
		return qualityLess(sorted[i], sorted[j])
	})

	m := master{api: api, usable: usability(formats)}
	m.groupAudio(formats)

	var sb strings.Builder
	for _, f := range sorted {
		m.entry(&sb, f)
	}
	return playlistHeader + strings.TrimRightFunc(sb.String(), unicode.IsSpace)
}

func qualityLess(a, b engine.Format) bool {
	ah, bh := orDefault(float64(a.Height), 480), orDefault(float64(b.Height), 480)
	if ah != bh {
		return ah < bh
	}
	af, bf := orDefault(a.FPS, 30), orDefault(b.FPS, 30)
	if af != bf {
		return af < bf
	}
	return a.Bitrate < b.Bitrate
}

func orDefault(v, def float64) float64 {
	if v == 0 {
		return def
	}
	return v
}

// usability returns the rule deciding which formats may appear in a master
// playlist. A set with any DASH-segmented format may not mix in progressive
// ones, and its audio-only formats must be the "-dash" variants.
func usability(all []engine.Format) func(engine.Format) bool {
	anyDash := slices.ContainsFunc(all, engine.Format.HasDash)
	return func(f engine.Format) bool {
		if anyDash && !f.HasDash() {
			return false
		}
		if anyDash && f.VCodec() == "" && !strings.Contains(f.ID, "-dash") {
			return false
		}
		return f.Container == "mp4_dash" || f.Container == "m4a_dash"
	}
}

type audioGroup struct {
	id      string
	formats []engine.Format
}

type master struct {
	api    string
	usable func(engine.Format) bool
	groups []audioGroup // insertion order
}

func (m *master) groupAudio(all []engine.Format) {
	for _, f := range all {
		if !m.usable(f) || f.VCodec() != "" || f.ACodec() == "" {
			continue
		}
		id := strings.TrimSuffix(f.ID, drcSuffix)
		i := slices.IndexFunc(m.groups, func(g audioGroup) bool { return g.id == id })
		if i < 0 {
			m.groups = append(m.groups, audioGroup{id: id})
			i = len(m.groups) - 1
		}
		m.groups[i].formats = append(m.groups[i].formats, f)
	}
}

func (m *master) entry(sb *strings.Builder, f engine.Format) {
	if !m.usable(f) {
		return
	}
	if f.VCodec() == "" {
		m.media(sb, f)
		return
	}
	if f.ACodec() != "" || len(m.groups) == 0 {
		m.stream(sb, f, nil)
		return
	}
	for i := range m.groups {
		m.stream(sb, f, &m.groups[i])
	}
}

func (m *master) media(sb *strings.Builder, f engine.Format) {
	name := f.Name
	if name == "" {
		name = "default"
	}
	name = strings.ReplaceAll(capitalize(name), ", drc", ", compressed dynamics")

	sb.WriteString("#EXT-X-MEDIA:TYPE=AUDIO,")
	fmt.Fprintf(sb, "NAME=%q,", name)
	fmt.Fprintf(sb, "GROUP-ID=%q,", strings.TrimSuffix(f.ID, drcSuffix))
	if f.AudioChannels > 0 {
		fmt.Fprintf(sb, "CHANNELS=\"%d\",", f.AudioChannels)
	}
	if f.Language != "" {
		fmt.Fprintf(sb, "LANGUAGE=%q,", f.Language)
	}
	if !strings.HasSuffix(f.ID, drcSuffix) {
		sb.WriteString("DEFAULT=YES,AUTOSELECT=YES,")
	}
	fmt.Fprintf(sb, "URI=%q\n", m.api+f.ID)
}

func (m *master) stream(sb *strings.Builder, f engine.Format, group *audioGroup) {
	bitrate := f.Bitrate
	sb.WriteString("#EXT-X-STREAM-INF:")
	if f.Width > 0 && f.Height > 0 {
		fmt.Fprintf(sb, "RESOLUTION=%dx%d,", f.Width, f.Height)
	}
	if f.FPS > 0 {
		fps := math.Round(f.FPS*1000) / 1000
		sb.WriteString("FRAME-RATE=" + strconv.FormatFloat(fps, 'f', -1, 64) + ",")
	}
	if f.DynamicRange != "" {
		sb.WriteString("VIDEO-RANGE=" + f.DynamicRange + ",")
	}

	if group != nil && len(group.formats) > 0 {
		var codecs []string
		var audioRate float64
		for _, a := range group.formats {
			if !slices.Contains(codecs, a.ACodec()) {
				codecs = append(codecs, a.ACodec())
			}
			audioRate = max(audioRate, a.Bitrate)
		}
		sort.Strings(codecs)
		fmt.Fprintf(sb, "CODECS=\"%s,%s\",", f.VCodec(), strings.Join(codecs, ","))
		fmt.Fprintf(sb, "AUDIO=%q,", group.id)
		bitrate += audioRate
	} else {
		fmt.Fprintf(sb, "CODECS=%q,", f.VCodec())
	}

	fmt.Fprintf(sb, "BANDWIDTH=%d\n", int64(math.Ceil(bitrate*1000)))
	sb.WriteString(m.api + f.ID + "\n")
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	r := []rune(strings.ToLower(s))
	r[0] = []rune(strings.ToUpper(string(r[0])))[0]
	return string(r)
}
