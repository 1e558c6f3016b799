// Package cache is the content-addressed result store. Analysis entries
// (transcript + validated moments) never expire and are overwritten
// explicitly; media blobs expire after a TTL, checked lazily on read
// and removed in bulk by Sweep.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/clipforge/clipforge/internal/types"
)

const mediaExt = ".mp4"

// Entry is the durable analysis result for one source.
type Entry struct {
	SourceURL      string                `json:"source_url"`
	Title          string                `json:"title,omitempty"`
	Duration       float64               `json:"duration_seconds"`
	Classification types.Classification  `json:"content_type"`
	Transcript     types.Transcript      `json:"transcript"`
	Moments        []types.AcceptedClip  `json:"moments"`
	Model          string                `json:"model_used,omitempty"`
	CachedAt       time.Time             `json:"cached_at"`
}

// Store serializes all access: render workers and the orchestrator
// share it concurrently.
type Store struct {
	mu       sync.Mutex
	dir      string
	mediaDir string
	ttl      time.Duration
	now      func() time.Time
}

func New(dir string, mediaTTL time.Duration) (*Store, error) {
	mediaDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{dir: dir, mediaDir: mediaDir, ttl: mediaTTL, now: time.Now}, nil
}

// Dir is the cache root, shared with sidecar files like job history.
func (s *Store) Dir() string { return s.dir }

var youtubeIDRE = regexp.MustCompile(`(?:v=|youtu\.be/|shorts/)([A-Za-z0-9_-]{11})`)

// ContentID derives a stable id from the source locator. YouTube URLs
// map to the video id so different URL forms share one cache slot;
// everything else hashes.
func ContentID(locator string) string {
	if m := youtubeIDRE.FindStringSubmatch(locator); m != nil {
		return m[1]
	}
	sum := sha256.Sum256([]byte(locator))
	return hex.EncodeToString(sum[:])[:12]
}

// Get returns the analysis entry for id, or nil on a miss.
func (s *Store) Get(id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.entryPath(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache entry %s: %w", id, err)
	}
	var e Entry
	if err := json.Unmarshal(b, &e); err != nil {
		// A corrupt entry behaves like a miss; the fresh run overwrites it.
		return nil, nil
	}
	return &e, nil
}

// Put writes (or explicitly overwrites) the analysis entry for id.
func (s *Store) Put(id string, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.CachedAt.IsZero() {
		e.CachedAt = s.now().UTC()
	}
	b, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry %s: %w", id, err)
	}
	return writeFileAtomic(s.entryPath(id), b)
}

// MediaPath returns the cached media blob for id, or "" when missing or
// expired. Expired blobs are deleted on the spot.
func (s *Store) MediaPath(id string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := filepath.Join(s.mediaDir, id+mediaExt)
	fi, err := os.Stat(p)
	if err != nil {
		return ""
	}
	if s.expired(fi) {
		_ = os.Remove(p)
		return ""
	}
	return p
}

// PutMedia copies a freshly downloaded blob into the cache and returns
// its cached path. An existing blob is kept as-is.
func (s *Store) PutMedia(id, srcPath string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dst := filepath.Join(s.mediaDir, id+mediaExt)
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}
	if err := copyFile(srcPath, dst); err != nil {
		return "", fmt.Errorf("cache media %s: %w", id, err)
	}
	return dst, nil
}

// Sweep removes every expired media blob and reports how many went.
func (s *Store) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.mediaDir)
	if err != nil {
		return 0, fmt.Errorf("read media dir: %w", err)
	}
	removed := 0
	for _, de := range entries {
		fi, err := de.Info()
		if err != nil {
			continue
		}
		if s.expired(fi) {
			if os.Remove(filepath.Join(s.mediaDir, de.Name())) == nil {
				removed++
			}
		}
	}
	return removed, nil
}

func (s *Store) expired(fi os.FileInfo) bool {
	if s.ttl <= 0 {
		return false
	}
	return s.now().Sub(fi.ModTime()) > s.ttl
}

func (s *Store) entryPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// writeFileAtomic stages into a temp file and renames it into place so
// concurrent readers never observe a partial entry.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".cache-tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("atomic rename for %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".partial"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dst)
}
