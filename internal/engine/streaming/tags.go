package streaming

import (
	"mime"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const streamInf = "#EXT-X-STREAM-INF:"

var (
	streamTagRe = regexp.MustCompile(`([A-Z\d_-]+=(?:".*?"|'.*?'|.*?))(?:,|$)`)
	absURLRe    = regexp.MustCompile(`(?m)(^|")(https?://[^"\n]+?)($|")`)
)

// IsHLSMime reports whether a Content-Type names an HLS playlist.
func IsHLSMime(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mt, HLSMime) || strings.EqualFold(mt, HLSAltMime)
}

// streamTags parses the attribute list of an EXT-X-STREAM-INF line.
// Quoted values may contain commas.
func streamTags(line string) map[string]string {
	tags := map[string]string{}
	for _, m := range streamTagRe.FindAllStringSubmatch(strings.TrimPrefix(line, streamInf), -1) {
		if k, v, ok := strings.Cut(m[1], "="); ok {
			tags[k] = v
		}
	}
	return tags
}

// streamQuality is the sort key of one stream block.
type streamQuality struct {
	height    int
	fps       float64
	bandwidth int64
}

// parseQuality reads height, frame rate and bandwidth from tags. Missing
// values default to 0 height, 30 fps and 0 bandwidth. ok is false when a
// present value is malformed; the returned key then holds zero for it.
func parseQuality(tags map[string]string) (q streamQuality, ok bool) {
	ok = true
	q.fps = 30
	if res, has := tags["RESOLUTION"]; has {
		_, h, cut := strings.Cut(res, "x")
		n, err := strconv.Atoi(h)
		if !cut || err != nil {
			ok = false
		}
		q.height = n
	}
	if fr, has := tags["FRAME-RATE"]; has {
		f, err := strconv.ParseFloat(fr, 64)
		if err != nil {
			ok = false
		}
		q.fps = f
	}
	bw, has := tags["AVERAGE-BANDWIDTH"]
	if !has || bw == "" {
		bw, has = tags["BANDWIDTH"]
	}
	if has {
		n, err := strconv.ParseInt(bw, 10, 64)
		if err != nil {
			ok = false
		}
		q.bandwidth = n
	}
	return q, ok
}

func (a streamQuality) less(b streamQuality) bool {
	if a.height != b.height {
		return a.height < b.height
	}
	if a.fps != b.fps {
		return a.fps < b.fps
	}
	return a.bandwidth < b.bandwidth
}

// SortMasterPlaylist moves every stream block (EXT-X-STREAM-INF line plus its
// URI line) after the other lines, ordered by height, frame rate and
// bandwidth ascending. Some players pick renditions assuming this order.
func SortMasterPlaylist(content string) string {
	var lines []string
	type block struct {
		text string
		q    streamQuality
	}
	var streams []block
	inStream := false

	for line := range strings.SplitSeq(strings.TrimSuffix(content, "\n"), "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case inStream:
			streams[len(streams)-1].text += "\n" + line
			inStream = false
		case strings.HasPrefix(line, streamInf):
			q, _ := parseQuality(streamTags(line))
			streams = append(streams, block{text: line, q: q})
			inStream = true
		default:
			lines = append(lines, line)
		}
	}

	sort.SliceStable(streams, func(i, j int) bool { return streams[i].q.less(streams[j].q) })
	for _, s := range streams {
		lines = append(lines, s.text)
	}
	return strings.Join(lines, "\n")
}

// FilterMasterPlaylist keeps only the stream blocks matching height and fps
// exactly. Blocks with malformed attributes are dropped. Other lines are kept.
func FilterMasterPlaylist(content string, height int, fps float64) string {
	var lines []string
	skip := false
	for line := range strings.SplitSeq(strings.TrimSuffix(content, "\n"), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if skip {
			skip = false
			continue
		}
		if strings.HasPrefix(line, streamInf) {
			q, ok := parseQuality(streamTags(line))
			if !ok || q.height != height || q.fps != fps {
				skip = true
				continue
			}
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// PatchManifest rewrites every absolute URL of an upstream playlist, on its
// own line or inside a quoted attribute, to go through proxyPrefix, then
// sorts the stream blocks.
func PatchManifest(content, proxyPrefix string) string {
	patched := absURLRe.ReplaceAllStringFunc(content, func(m string) string {
		sub := absURLRe.FindStringSubmatch(m)
		return sub[1] + proxyPrefix + url.QueryEscape(sub[2]) + sub[3]
	})
	return SortMasterPlaylist(patched)
}
