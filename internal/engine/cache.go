package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
)

// pruneHysteresis is the fraction of the size limit a prune shrinks the cache to.
const pruneHysteresis = 0.66

// Cache metrics.
var (
	cacheHits        atomic.Int64
	cacheMisses      atomic.Int64
	cacheWrites      atomic.Int64
	cacheCorruptions atomic.Int64
	cachePruned      atomic.Int64
)

// CacheKey identifies one upstream request in the CacheStore.
type CacheKey string

// CachedResponse is the stored form of one upstream HTTP response.
type CachedResponse struct {
	AccessedAt time.Time
	ExpiresAt  time.Time
	URL        string
	Header     http.Header
	StatusCode int
	Reason     string
	Body       []byte
}

// CacheStore is a size-bounded, TTL-based disk cache of raw upstream responses.
// One file per key; contents are zstd-compressed newline-delimited fields.
type CacheStore struct {
	dir   string
	ttl   time.Duration
	now   func() time.Time
	locks keyLocks
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// CacheOption customizes a CacheStore.
type CacheOption func(*CacheStore)

// WithClock replaces time.Now, used by tests to control expiry and access order.
func WithClock(now func() time.Time) CacheOption {
	return func(s *CacheStore) { s.now = now }
}

// NewCacheStore creates the cache directory if needed.
// ttl is the default lifetime of entries written through Put with ttl <= 0.
func NewCacheStore(dir string, ttl time.Duration, opts ...CacheOption) (*CacheStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("cache encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("cache decoder: %w", err)
	}
	s := &CacheStore{dir: dir, ttl: ttl, now: time.Now, enc: enc, dec: dec}
	for _, opt := range opts {
		opt(s)
	}
	slog.Info("cache: initialized", slog.String("dir", dir), slog.Duration("ttl", ttl))
	return s, nil
}

// Dir returns the cache root directory.
func (s *CacheStore) Dir() string { return s.dir }

// TTL returns the default entry lifetime.
func (s *CacheStore) TTL() time.Duration { return s.ttl }

// KeyFor builds a deterministic key from an upstream request.
func (s *CacheStore) KeyFor(method, rawURL string, body []byte) CacheKey {
	h := sha256.New()
	h.Write([]byte(strings.ToUpper(method)))
	h.Write([]byte{0})
	h.Write([]byte(rawURL))
	h.Write([]byte{0})
	h.Write(body)
	return CacheKey(hex.EncodeToString(h.Sum(nil)))
}

// Get returns the entry stored under key. Missing, expired and corrupted entries
// report false; corrupted files are deleted. A hit rewrites the access time.
func (s *CacheStore) Get(key CacheKey) (*CachedResponse, bool) {
	defer s.locks.lock(key)()

	entry, err := s.read(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.heal(key, err)
		}
		cacheMisses.Add(1)
		return nil, false
	}
	now := s.now()
	if !now.Before(entry.ExpiresAt) {
		cacheMisses.Add(1)
		return nil, false
	}

	entry.AccessedAt = now
	if err := s.write(key, entry); err != nil {
		slog.Debug("cache: touch failed", slog.String("key", string(key)), slog.Any("error", err))
	}
	slog.Debug("cache: hit", slog.String("key", string(key)), slog.String("url", entry.URL))
	cacheHits.Add(1)
	return entry, true
}

// Put stores resp under key for ttl (the store default when ttl <= 0).
// The returned handle lets the caller shorten or extend the lifetime later.
func (s *CacheStore) Put(key CacheKey, resp *CachedResponse, ttl time.Duration) (*CacheHandle, error) {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	entry := *resp
	entry.AccessedAt = now
	entry.ExpiresAt = now.Add(ttl)

	defer s.locks.lock(key)()
	if err := s.write(key, &entry); err != nil {
		return nil, err
	}
	cacheWrites.Add(1)
	return &CacheHandle{store: s, key: key}, nil
}

// CacheHandle refers to one entry written by Put.
type CacheHandle struct {
	store *CacheStore
	key   CacheKey
}

// Key returns the entry's key.
func (h *CacheHandle) Key() CacheKey { return h.key }

// ExpireIn sets the entry's expiry to now+d. A vanished entry is not an error.
func (h *CacheHandle) ExpireIn(d time.Duration) error {
	s := h.store
	defer s.locks.lock(h.key)()

	entry, err := s.read(h.key)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		s.heal(h.key, err)
		return nil
	}
	entry.ExpiresAt = s.now().Add(d)
	if entry.AccessedAt.After(entry.ExpiresAt) {
		entry.AccessedAt = entry.ExpiresAt
	}
	return s.write(h.key, entry)
}

// PruneStats summarizes one Prune pass.
type PruneStats struct {
	SizeBefore int64
	SizeAfter  int64
	Expired    int
	Corrupted  int
	Evicted    int
}

// Prune shrinks the cache when its total size reaches limit: expired and
// corrupted entries go first, then the least recently accessed ones until the
// total is at most limit*0.66.
func (s *CacheStore) Prune(limit int64) (PruneStats, error) {
	var st PruneStats
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return st, fmt.Errorf("cache prune: %w", err)
	}

	sizes := make(map[CacheKey]int64, len(files))
	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		sizes[CacheKey(f.Name())] = info.Size()
		st.SizeBefore += info.Size()
	}
	st.SizeAfter = st.SizeBefore
	if st.SizeBefore < limit {
		return st, nil
	}

	type aged struct {
		key    CacheKey
		access time.Time
		size   int64
	}
	var live []aged
	now := s.now()
	for key, size := range sizes {
		access, expired, err := s.inspect(key)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			st.SizeAfter -= size
		case err != nil:
			st.Corrupted++
			st.SizeAfter -= size
		case !now.Before(expired):
			if s.remove(key) == nil {
				st.Expired++
				st.SizeAfter -= size
			}
		default:
			live = append(live, aged{key: key, access: access, size: size})
		}
	}

	target := int64(float64(limit) * pruneHysteresis)
	if st.SizeAfter > target {
		sort.Slice(live, func(i, j int) bool { return live[i].access.Before(live[j].access) })
		for _, e := range live {
			if st.SizeAfter <= target {
				break
			}
			if s.remove(e.key) == nil {
				st.Evicted++
				st.SizeAfter -= e.size
			}
		}
	}

	cachePruned.Add(int64(st.Expired + st.Corrupted + st.Evicted))
	slog.Info("cache: pruned",
		slog.Int64("before", st.SizeBefore), slog.Int64("after", st.SizeAfter),
		slog.Int("expired", st.Expired), slog.Int("corrupted", st.Corrupted),
		slog.Int("evicted", st.Evicted))
	return st, nil
}

// RunPruner prunes the cache every interval until ctx is done.
func (s *CacheStore) RunPruner(ctx context.Context, interval time.Duration, limit int64) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Prune(limit); err != nil {
				slog.Warn("cache: prune failed", slog.Any("error", err))
			}
		}
	}
}

// CacheStats returns current cache hit/miss counters.
func CacheStats() (hits, misses int64) {
	return cacheHits.Load(), cacheMisses.Load()
}

// inspect reads the access and expiry times of one entry under its lock,
// deleting it when corrupted.
func (s *CacheStore) inspect(key CacheKey) (access, expires time.Time, err error) {
	defer s.locks.lock(key)()

	entry, err := s.read(key)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.heal(key, err)
		}
		return time.Time{}, time.Time{}, err
	}
	return entry.AccessedAt, entry.ExpiresAt, nil
}

// keyLocks hands out one mutex per key. A mutex lives only while some caller
// holds or waits for it, so the table stays as small as the in-flight keys.
type keyLocks struct {
	mu sync.Mutex
	m  map[CacheKey]*keyLock
}

type keyLock struct {
	sync.Mutex
	refs int
}

// lock acquires key's mutex and returns its release func.
func (l *keyLocks) lock(key CacheKey) (unlock func()) {
	l.mu.Lock()
	if l.m == nil {
		l.m = make(map[CacheKey]*keyLock)
	}
	kl, ok := l.m[key]
	if !ok {
		kl = &keyLock{}
		l.m[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	kl.Lock()
	return func() {
		kl.Unlock()
		l.mu.Lock()
		if kl.refs--; kl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}

// len reports the number of live key mutexes.
func (l *keyLocks) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}

func (s *CacheStore) path(key CacheKey) string {
	return filepath.Join(s.dir, string(key))
}

// heal deletes a corrupted entry. Callers hold the key lock.
func (s *CacheStore) heal(key CacheKey, cause error) {
	cacheCorruptions.Add(1)
	slog.Warn("cache: deleting corrupted entry", slog.String("key", string(key)), slog.Any("error", cause))
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("cache: delete failed", slog.String("key", string(key)), slog.Any("error", err))
	}
}

func (s *CacheStore) remove(key CacheKey) error {
	defer s.locks.lock(key)()
	err := os.Remove(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// errCorrupt marks structurally invalid cache files.
var errCorrupt = errors.New("corrupted cache entry")

// read loads and decodes one entry. Callers hold the key lock.
func (s *CacheStore) read(key CacheKey) (*CachedResponse, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errCorrupt, err)
	}
	return decodeEntry(data)
}

// write encodes and atomically replaces one entry. Callers hold the key lock.
func (s *CacheStore) write(key CacheKey, entry *CachedResponse) error {
	data, err := encodeEntry(entry)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck // no-op after a successful rename

	if _, err := tmp.Write(s.enc.EncodeAll(data, nil)); err != nil {
		tmp.Close()
		return fmt.Errorf("cache write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(key)); err != nil {
		return fmt.Errorf("cache write: %w", err)
	}
	return nil
}

// Entry layout: access, expiry, url, headers (JSON), status, reason, body.
const entryFields = 7

func encodeEntry(e *CachedResponse) ([]byte, error) {
	header := e.Header
	if header == nil {
		header = http.Header{}
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("cache encode headers: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString(strconv.FormatInt(e.AccessedAt.UnixNano(), 10))
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(e.ExpiresAt.UnixNano(), 10))
	buf.WriteByte('\n')
	buf.WriteString(strings.ReplaceAll(e.URL, "\n", ""))
	buf.WriteByte('\n')
	buf.Write(headerJSON)
	buf.WriteByte('\n')
	buf.WriteString(strconv.Itoa(e.StatusCode))
	buf.WriteByte('\n')
	buf.WriteString(strings.ReplaceAll(e.Reason, "\n", " "))
	buf.WriteByte('\n')
	buf.Write(e.Body)
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*CachedResponse, error) {
	parts := bytes.SplitN(data, []byte{'\n'}, entryFields)
	if len(parts) != entryFields {
		return nil, fmt.Errorf("%w: %d fields", errCorrupt, len(parts))
	}
	access, err := strconv.ParseInt(string(parts[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: access time: %w", errCorrupt, err)
	}
	expires, err := strconv.ParseInt(string(parts[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: expiry time: %w", errCorrupt, err)
	}
	var header http.Header
	if err := json.Unmarshal(parts[3], &header); err != nil {
		return nil, fmt.Errorf("%w: headers: %w", errCorrupt, err)
	}
	status, err := strconv.Atoi(string(parts[4]))
	if err != nil {
		return nil, fmt.Errorf("%w: status: %w", errCorrupt, err)
	}
	return &CachedResponse{
		AccessedAt: time.Unix(0, access),
		ExpiresAt:  time.Unix(0, expires),
		URL:        string(parts[2]),
		Header:     header,
		StatusCode: status,
		Reason:     string(parts[5]),
		Body:       parts[6],
	}, nil
}
