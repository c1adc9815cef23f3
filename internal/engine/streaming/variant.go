package streaming

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"strings"

	"github.com/Eyevinn/mp4ff/mp4"

	"github.com/anatolykoptev/go_tube/internal/engine"
)

var (
	// ErrMissingBoxes is returned when a stream ends before its ftyp, moov
	// and sidx boxes were all seen.
	ErrMissingBoxes = errors.New("streaming: missing mp4 boxes")
	// ErrInvalidDashFormat is returned for formats lacking an init fragment
	// or a fragment base URL.
	ErrInvalidDashFormat = errors.New("streaming: invalid dash format")
)

// maxSidxBytes bounds the segment index buffered in memory.
const maxSidxBytes = 1 << 20

// initBoxes are the leading boxes of a progressive fragmented mp4.
type initBoxes struct {
	ftyp, moov, sidx uint64 // serialized sizes
	index            *mp4.SidxBox
}

func (b *initBoxes) complete() bool {
	return b.ftyp > 0 && b.moov > 0 && b.index != nil
}

func (b *initBoxes) String() string {
	return fmt.Sprintf("ftyp=%t moov=%t sidx=%t", b.ftyp > 0, b.moov > 0, b.index != nil)
}

// readInitBoxes consumes top-level boxes from r until ftyp, moov and sidx
// are found. Only the sidx payload is kept; other boxes are skipped as
// their bytes arrive.
func readInitBoxes(r io.Reader) (*initBoxes, error) {
	br := bufio.NewReader(r)
	var boxes initBoxes
	var pos uint64

	for !boxes.complete() {
		name, size, hdr, err := readBoxHeader(br)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil, fmt.Errorf("%w: %s", ErrMissingBoxes, &boxes)
			}
			return nil, err
		}
		if size == 0 {
			// Box runs to the end of the stream; nothing can follow it.
			return nil, fmt.Errorf("%w: %s", ErrMissingBoxes, &boxes)
		}
		if size < uint64(len(hdr)) || size > math.MaxInt64 {
			return nil, fmt.Errorf("%w: %s box has size %d", ErrMissingBoxes, name, size)
		}

		switch name {
		case "sidx":
			if size > maxSidxBytes {
				return nil, fmt.Errorf("%w: sidx box of %d bytes exceeds %d", ErrMissingBoxes, size, maxSidxBytes)
			}
			full := make([]byte, size)
			copy(full, hdr)
			if _, err := io.ReadFull(br, full[len(hdr):]); err != nil {
				return nil, fmt.Errorf("%w: truncated sidx: %w", ErrMissingBoxes, err)
			}
			box, err := mp4.DecodeBox(pos, bytes.NewReader(full))
			if err != nil {
				return nil, fmt.Errorf("decode sidx: %w", err)
			}
			sidx, ok := box.(*mp4.SidxBox)
			if !ok {
				return nil, fmt.Errorf("decode sidx: unexpected box %T", box)
			}
			boxes.sidx, boxes.index = size, sidx
		default:
			if _, err := io.CopyN(io.Discard, br, int64(size)-int64(len(hdr))); err != nil {
				return nil, fmt.Errorf("%w: truncated %s: %w", ErrMissingBoxes, name, err)
			}
			switch name {
			case "ftyp":
				boxes.ftyp = size
			case "moov":
				boxes.moov = size
			}
		}
		pos += size
	}

	slog.Debug("streaming: found init boxes", slog.Uint64("bytes", pos))
	return &boxes, nil
}

// readBoxHeader reads a box header, returning its type, total size and the
// raw header bytes. A size of 0 means the box extends to the end of the stream.
func readBoxHeader(r io.Reader) (string, uint64, []byte, error) {
	hdr := make([]byte, 8, 16)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return "", 0, nil, err
	}
	size := uint64(binary.BigEndian.Uint32(hdr[:4]))
	name := string(hdr[4:8])
	if size == 1 {
		hdr = hdr[:16]
		if _, err := io.ReadFull(r, hdr[8:]); err != nil {
			return "", 0, nil, io.ErrUnexpectedEOF
		}
		size = binary.BigEndian.Uint64(hdr[8:])
	}
	return name, size, hdr, nil
}

// VariantPlaylist reads the start of a progressive fragmented mp4 from r and
// returns a single-variant media playlist addressing its segments by byte
// range of uri.
func VariantPlaylist(uri string, r io.Reader) (string, error) {
	boxes, err := readInitBoxes(r)
	if err != nil {
		return "", err
	}
	sidx := boxes.index
	initEnd := boxes.ftyp + boxes.moov + boxes.sidx
	offset := initEnd + sidx.FirstOffset
	timescale := float64(sidx.Timescale)
	if timescale == 0 {
		timescale = 1
	}

	var target float64
	for _, ref := range sidx.SidxRefs {
		target = max(target, math.RoundToEven(float64(ref.SubSegmentDuration)/timescale))
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-INDEPENDENT-SEGMENTS\n")
	fmt.Fprintf(&sb, "#EXT-X-MAP:URI=%q,BYTERANGE=\"%d@0\"\n", uri, initEnd)
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int64(target))
	for _, ref := range sidx.SidxRefs {
		fmt.Fprintf(&sb, "#EXTINF:%f,\n", float64(ref.SubSegmentDuration)/timescale)
		fmt.Fprintf(&sb, "#EXT-X-BYTERANGE:%d@%d\n", ref.ReferencedSize, offset)
		sb.WriteString(uri + "\n")
		offset += uint64(ref.ReferencedSize)
	}
	sb.WriteString("#EXT-X-ENDLIST")
	return sb.String(), nil
}

// DashVariantPlaylist builds a media playlist for a DASH-segmented format.
// api must contain one %s, replaced by the escaped fragment base URL.
func DashVariantPlaylist(api string, f engine.Format) (string, error) {
	switch {
	case f.FragmentBaseURL == "":
		return "", fmt.Errorf("%w: %s has no fragment base url", ErrInvalidDashFormat, f.ID)
	case len(f.Fragments) == 0:
		return "", fmt.Errorf("%w: %s has no fragments", ErrInvalidDashFormat, f.ID)
	case f.Fragments[0].Path == "" || f.Fragments[0].Duration != 0:
		return "", fmt.Errorf("%w: %s does not start with an init fragment", ErrInvalidDashFormat, f.ID)
	}

	base := ProxyURL(api, f.FragmentBaseURL)

	var target float64
	for _, frag := range f.Fragments {
		if frag.Duration > 0 {
			target = max(target, math.RoundToEven(frag.Duration))
		}
	}

	var sb strings.Builder
	sb.WriteString("#EXTM3U\n#EXT-X-VERSION:7\n#EXT-X-INDEPENDENT-SEGMENTS\n")
	fmt.Fprintf(&sb, "#EXT-X-MAP:URI=%q\n", base+quote(f.Fragments[0].Path))
	fmt.Fprintf(&sb, "#EXT-X-TARGETDURATION:%d\n", int64(target))
	for _, frag := range f.Fragments {
		if frag.Duration > 0 && frag.Path != "" {
			fmt.Fprintf(&sb, "#EXTINF:%f,\n", frag.Duration)
			sb.WriteString(base + quote(frag.Path) + "\n")
		}
	}
	sb.WriteString("#EXT-X-ENDLIST")
	return sb.String(), nil
}

// ProxyURL substitutes the escaped media URL for the first %s of api.
func ProxyURL(api, mediaURL string) string {
	return strings.Replace(api, "%s", quote(mediaURL), 1)
}

// quote percent-encodes s, leaving unreserved characters and "/" intact.
func quote(s string) string {
	const hex = "0123456789ABCDEF"
	var sb strings.Builder
	for i := range len(s) {
		c := s[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~', c == '/':
			sb.WriteByte(c)
		default:
			sb.WriteByte('%')
			sb.WriteByte(hex[c>>4])
			sb.WriteByte(hex[c&15])
		}
	}
	return sb.String()
}
