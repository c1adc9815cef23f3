package engine

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/anatolykoptev/go-kit/strutil"
)

// UserAgentChrome is sent on page scrapes and media requests.
const UserAgentChrome = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

var nonWordRe = regexp.MustCompile(`[^\p{L}\p{N}_]+`)

// CleanTitle replaces punctuation runs with single spaces so a title can be
// used as a search query. Titles made only of punctuation are returned as-is.
func CleanTitle(title string) string {
	cleaned := strings.TrimSpace(nonWordRe.ReplaceAllString(title, " "))
	if cleaned == "" {
		return title
	}
	return cleaned
}

// HalfTitle returns the first ceil(n/2) words of s.
func HalfTitle(s string) string {
	words := strings.Fields(s)
	n := int(math.Ceil(float64(len(words)) / 2))
	return strings.Join(words[:n], " ")
}

// TruncateRunes caps s at limit runes, appending suffix if truncated.
// Pass suffix="" for no suffix. Safe for UTF-8 (Cyrillic, CJK, emoji).
func TruncateRunes(s string, limit int, suffix string) string {
	return strutil.TruncateWith(s, limit, suffix)
}

// TruncateAtWord truncates a string to maxLen runes at a word boundary.
func TruncateAtWord(s string, maxLen int) string {
	return strutil.TruncateAtWord(s, maxLen)
}

var countRe = regexp.MustCompile(`([\d.,]+)\s*([KMB]?)`)

// ParseCount reads human counters such as "1,234 views", "12K watching" or "1.2M".
func ParseCount(s string) int64 {
	m := countRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	num := m[1]
	mult := 1.0
	switch m[2] {
	case "K":
		mult = 1e3
	case "M":
		mult = 1e6
	case "B":
		mult = 1e9
	}
	if mult == 1 {
		n, _ := strconv.ParseInt(strings.NewReplacer(",", "", ".", "").Replace(num), 10, 64)
		return n
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
	if err != nil {
		return 0
	}
	return int64(f * mult)
}

// ParseClock reads "1:02:03" or "4:05" style durations.
func ParseClock(s string) time.Duration {
	var total int
	for part := range strings.SplitSeq(strings.TrimSpace(s), ":") {
		n, err := strconv.Atoi(part)
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
