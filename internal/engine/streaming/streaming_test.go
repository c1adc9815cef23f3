package streaming

import (
	"bytes"
	"encoding/binary"
	"io"
	"strconv"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

const api = "/hls/abc/"

func dashVideo(id string, height int, fps, tbr float64) engine.Format {
	return engine.Format{
		ID: id, Protocol: engine.DashProtocol, Container: "mp4_dash",
		VideoCodec: "avc1.4d401f", AudioCodec: "none",
		Width: height * 16 / 9, Height: height, FPS: fps, Bitrate: tbr,
	}
}

func dashAudio(id, name string, tbr float64) engine.Format {
	return engine.Format{
		ID: id, Name: name, Protocol: engine.DashProtocol, Container: "m4a_dash",
		VideoCodec: "none", AudioCodec: "mp4a.40.2", Bitrate: tbr, AudioChannels: 2,
	}
}

func TestMasterPlaylistExcludesProgressive(t *testing.T) {
	progressive := engine.Format{
		ID: "18", Protocol: "https", Container: "mp4_dash",
		VideoCodec: "avc1", AudioCodec: "mp4a.40.2", Width: 640, Height: 360,
	}
	got := MasterPlaylist(api, []engine.Format{progressive, dashVideo("137", 1080, 30, 4000)})

	assert.NotContains(t, got, api+"18")
	assert.Contains(t, got, api+"137")
	assert.True(t, strings.HasPrefix(got, "#EXTM3U\n#EXT-X-VERSION:7\n"))
}

func TestMasterPlaylistAudioGroups(t *testing.T) {
	formats := []engine.Format{
		dashVideo("137", 1080, 30, 4000),
		dashAudio("140-dash", "English original, DRC", 128),
		dashAudio("140-dash-drc", "english ORIGINAL, drc", 130),
		dashVideo("136", 720, 29.97002, 2000),
		{ID: "251", Container: "webm_dash", Protocol: engine.DashProtocol, AudioCodec: "opus"},
	}
	got := MasterPlaylist(api, formats)

	want := "#EXTM3U\n#EXT-X-VERSION:7\n" +
		`#EXT-X-MEDIA:TYPE=AUDIO,NAME="English original, compressed dynamics",GROUP-ID="140-dash",CHANNELS="2",DEFAULT=YES,AUTOSELECT=YES,URI="/hls/abc/140-dash"` + "\n" +
		`#EXT-X-MEDIA:TYPE=AUDIO,NAME="English original, compressed dynamics",GROUP-ID="140-dash",CHANNELS="2",URI="/hls/abc/140-dash-drc"` + "\n" +
		`#EXT-X-STREAM-INF:RESOLUTION=1280x720,FRAME-RATE=29.97,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="140-dash",BANDWIDTH=2130000` + "\n" +
		"/hls/abc/136\n" +
		`#EXT-X-STREAM-INF:RESOLUTION=1920x1080,FRAME-RATE=30,CODECS="avc1.4d401f,mp4a.40.2",AUDIO="140-dash",BANDWIDTH=4130000` + "\n" +
		"/hls/abc/137"
	assert.Equal(t, want, got)
}

func TestMasterPlaylistMuxedStandalone(t *testing.T) {
	muxed := engine.Format{
		ID: "22", Container: "mp4_dash", VideoCodec: "avc1", AudioCodec: "mp4a.40.2",
		Width: 1280, Height: 720, Bitrate: 1500.5,
	}
	got := MasterPlaylist(api, []engine.Format{muxed})
	assert.Equal(t, "#EXTM3U\n#EXT-X-VERSION:7\n"+
		`#EXT-X-STREAM-INF:RESOLUTION=1280x720,CODECS="avc1",BANDWIDTH=1500500`+"\n/hls/abc/22", got)
}

func TestMasterPlaylistEmpty(t *testing.T) {
	assert.Equal(t, "#EXTM3U\n#EXT-X-VERSION:7\n", MasterPlaylist(api, nil))
}

func box(name string, payload []byte) []byte {
	b := make([]byte, 8, 8+len(payload))
	binary.BigEndian.PutUint32(b, uint32(8+len(payload)))
	copy(b[4:], name)
	return append(b, payload...)
}

// largeBox returns a 64-bit size box header with no payload.
func largeBox(name string, size uint64) []byte {
	b := make([]byte, 16)
	binary.BigEndian.PutUint32(b, 1)
	copy(b[4:], name)
	binary.BigEndian.PutUint64(b[8:], size)
	return b
}

type sidxRef struct{ size, duration uint32 }

func sidxBox(timescale uint32, firstOffset uint32, refs []sidxRef) []byte {
	var p bytes.Buffer
	w := func(v any) { _ = binary.Write(&p, binary.BigEndian, v) }
	w(uint32(0)) // version 0, flags
	w(uint32(1)) // reference id
	w(timescale)
	w(uint32(0)) // earliest presentation time
	w(firstOffset)
	w(uint16(0))
	w(uint16(len(refs)))
	for _, r := range refs {
		w(r.size & 0x7fffffff)
		w(r.duration)
		w(uint32(0x90000000)) // starts with SAP, type 1
	}
	return box("sidx", p.Bytes())
}

func initSegment(refs []sidxRef) (data []byte, initLen int) {
	ftyp := box("ftyp", []byte("iso6\x00\x00\x00\x00iso6mp41"))
	moov := box("moov", bytes.Repeat([]byte{0xAB}, 300))
	sidx := sidxBox(2, 0, refs)
	data = append(append(append(data, ftyp...), moov...), sidx...)
	initLen = len(data)
	return append(data, box("mdat", make([]byte, 64))...), initLen
}

func TestVariantPlaylist(t *testing.T) {
	refs := []sidxRef{{1000, 4}, {1000, 4}, {750, 3}}
	data, initLen := initSegment(refs)

	got, err := VariantPlaylist("/v/x", iotest.OneByteReader(bytes.NewReader(data)))
	require.NoError(t, err)

	lines := strings.Split(got, "\n")
	assert.Equal(t, []string{
		"#EXTM3U",
		"#EXT-X-VERSION:7",
		"#EXT-X-INDEPENDENT-SEGMENTS",
		`#EXT-X-MAP:URI="/v/x",BYTERANGE="` + strconv.Itoa(initLen) + `@0"`,
		"#EXT-X-TARGETDURATION:2",
		"#EXTINF:2.000000,",
		"#EXT-X-BYTERANGE:1000@" + strconv.Itoa(initLen),
		"/v/x",
		"#EXTINF:2.000000,",
		"#EXT-X-BYTERANGE:1000@" + strconv.Itoa(initLen+1000),
		"/v/x",
		"#EXTINF:1.500000,",
		"#EXT-X-BYTERANGE:750@" + strconv.Itoa(initLen+2000),
		"/v/x",
		"#EXT-X-ENDLIST",
	}, lines)
}

func TestVariantPlaylistMissingBoxes(t *testing.T) {
	data, initLen := initSegment([]sidxRef{{10, 2}})
	tests := []struct {
		name string
		data []byte
	}{
		{"empty", nil},
		{"no sidx", data[:initLen-44]},
		{"truncated sidx", data[:initLen-3]},
		{"only mdat", box("mdat", make([]byte, 16))},
		{"huge sidx", largeBox("sidx", 0x4000000000000000)},
		{"sidx over limit", largeBox("sidx", maxSidxBytes+1)},
		{"size overflows int64", append(box("ftyp", nil), largeBox("moov", 1<<63)...)},
		{"size below header", largeBox("moov", 8)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VariantPlaylist("/v", bytes.NewReader(tt.data))
			require.ErrorIs(t, err, ErrMissingBoxes)
		})
	}
}

func TestVariantPlaylistReadError(t *testing.T) {
	_, err := VariantPlaylist("/v", iotest.ErrReader(io.ErrClosedPipe))
	require.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestDashVariantPlaylist(t *testing.T) {
	f := engine.Format{
		ID:              "137",
		FragmentBaseURL: "https://rr1.googlevideo.com/videoplayback/id/1/",
		Fragments: []engine.Fragment{
			{Path: "sq/0"},
			{Path: "sq/1", Duration: 5.005},
			{Path: "sq/2", Duration: 4.5},
			{Duration: 2}, // no path
		},
	}
	got, err := DashVariantPlaylist("/proxy/%s", f)
	require.NoError(t, err)

	base := "/proxy/https%3A//rr1.googlevideo.com/videoplayback/id/1/"
	assert.Equal(t, "#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-INDEPENDENT-SEGMENTS\n"+
		`#EXT-X-MAP:URI="`+base+`sq/0"`+"\n"+
		"#EXT-X-TARGETDURATION:5\n"+
		"#EXTINF:5.005000,\n"+base+"sq/1\n"+
		"#EXTINF:4.500000,\n"+base+"sq/2\n"+
		"#EXT-X-ENDLIST", got)
}

func TestDashVariantPlaylistInvalid(t *testing.T) {
	tests := []struct {
		name string
		f    engine.Format
	}{
		{"no base", engine.Format{Fragments: []engine.Fragment{{Path: "init"}}}},
		{"no fragments", engine.Format{FragmentBaseURL: "https://x/"}},
		{"no init", engine.Format{FragmentBaseURL: "https://x/", Fragments: []engine.Fragment{{Path: "a", Duration: 1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DashVariantPlaylist("%s", tt.f)
			require.ErrorIs(t, err, ErrInvalidDashFormat)
		})
	}
}

const upstreamMaster = `#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-STREAM-INF:BANDWIDTH=2000000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=30
https://manifest.googlevideo.com/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=900000,CODECS="avc1.4d401e,mp4a.40.2",RESOLUTION=640x360,FRAME-RATE=30
https://manifest.googlevideo.com/360.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,CODECS="avc1.64001f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=60
https://manifest.googlevideo.com/720p60.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=1280x720
https://manifest.googlevideo.com/720low.m3u8
`

func TestStreamTagsQuotedCommas(t *testing.T) {
	tags := streamTags(`#EXT-X-STREAM-INF:BANDWIDTH=1,CODECS="avc1,mp4a",NAME='a,b',RESOLUTION=2x3`)
	assert.Equal(t, map[string]string{
		"BANDWIDTH":  "1",
		"CODECS":     `"avc1,mp4a"`,
		"NAME":       "'a,b'",
		"RESOLUTION": "2x3",
	}, tags)
}

func TestSortMasterPlaylist(t *testing.T) {
	got := SortMasterPlaylist(upstreamMaster)
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 10)
	assert.Equal(t, "#EXTM3U", lines[0])
	assert.Equal(t, "#EXT-X-INDEPENDENT-SEGMENTS", lines[1])
	var uris []string
	for i := 3; i < len(lines); i += 2 {
		uris = append(uris, lines[i])
	}
	assert.Equal(t, []string{
		"https://manifest.googlevideo.com/360.m3u8",
		"https://manifest.googlevideo.com/720low.m3u8",
		"https://manifest.googlevideo.com/720.m3u8",
		"https://manifest.googlevideo.com/720p60.m3u8",
	}, uris)
}

func TestSortMasterPlaylistMalformed(t *testing.T) {
	in := "#EXTM3U\n#EXT-X-STREAM-INF:RESOLUTION=big,BANDWIDTH=1\nb\n#EXT-X-STREAM-INF:RESOLUTION=2x1\na"
	assert.Equal(t, "#EXTM3U\n#EXT-X-STREAM-INF:RESOLUTION=big,BANDWIDTH=1\nb\n#EXT-X-STREAM-INF:RESOLUTION=2x1\na",
		SortMasterPlaylist(in))
}

func TestFilterMasterPlaylist(t *testing.T) {
	once := FilterMasterPlaylist(upstreamMaster, 720, 30)
	assert.Equal(t, `#EXTM3U
#EXT-X-INDEPENDENT-SEGMENTS
#EXT-X-STREAM-INF:BANDWIDTH=2000000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=1280x720,FRAME-RATE=30
https://manifest.googlevideo.com/720.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=1500000,RESOLUTION=1280x720
https://manifest.googlevideo.com/720low.m3u8`, once)
	assert.Equal(t, once, FilterMasterPlaylist(once, 720, 30), "filtering is idempotent")

	malformed := "#EXTM3U\n#EXT-X-STREAM-INF:RESOLUTION=1280x720,FRAME-RATE=fast\nx"
	assert.Equal(t, "#EXTM3U", FilterMasterPlaylist(malformed, 720, 30))
}

func TestPatchManifest(t *testing.T) {
	in := "#EXTM3U\n" +
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="a",URI="https://host/a.m3u8?x=1"` + "\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=2,RESOLUTION=2x2\nhttps://host/hi.m3u8\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=1x1\nhttp://host/lo.m3u8\n" +
		"relative.m3u8"
	got := PatchManifest(in, "/proxy?url=")
	assert.Equal(t, "#EXTM3U\n"+
		`#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="a",URI="/proxy?url=https%3A%2F%2Fhost%2Fa.m3u8%3Fx%3D1"`+"\n"+
		"relative.m3u8\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=1,RESOLUTION=1x1\n/proxy?url=http%3A%2F%2Fhost%2Flo.m3u8\n"+
		"#EXT-X-STREAM-INF:BANDWIDTH=2,RESOLUTION=2x2\n/proxy?url=https%3A%2F%2Fhost%2Fhi.m3u8", got)
}

func TestIsHLSMime(t *testing.T) {
	assert.True(t, IsHLSMime("application/x-mpegURL"))
	assert.True(t, IsHLSMime("application/vnd.apple.mpegurl; charset=utf-8"))
	assert.False(t, IsHLSMime("video/mp4"))
	assert.False(t, IsHLSMime(""))
}
