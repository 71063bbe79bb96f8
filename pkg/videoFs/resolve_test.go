package videoFs

import (
	"context"
	"crypto/md5"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flow-texture/pkg/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestResolveLocalPaths(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "clip.mp4")
	writeFile(t, clip, "x")
	writeFile(t, filepath.Join(dir, "assets", "intro.mov"), "x")
	cfg := config.Config{AssetsDir: filepath.Join(dir, "assets")}
	ctx := context.Background()

	got, err := Resolve(ctx, clip, cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, clip, got)

	got, err = Resolve(ctx, "file://"+filepath.ToSlash(clip), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, clip, got)

	got, err = Resolve(ctx, "res://intro.mov", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "assets", "intro.mov"), got)
}

func TestResolveDirectoryPicksFirstVideo(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "x")
	writeFile(t, filepath.Join(dir, "b.mkv"), "x")
	writeFile(t, filepath.Join(dir, "a.MP4"), "x")

	got, err := Resolve(context.Background(), dir, config.Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "a.MP4"), got)

	_, err = Resolve(context.Background(), t.TempDir(), config.Config{}, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveErrors(t *testing.T) {
	cfg := config.Config{AssetsDir: t.TempDir()}
	ctx := context.Background()

	_, err := Resolve(ctx, filepath.Join(t.TempDir(), "missing.mp4"), cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Resolve(ctx, "res://missing.mp4", cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = Resolve(ctx, "res://../../etc/x.mp4", cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorContains(t, err, "outside the assets directory")

	_, err = Resolve(ctx, "ftp://host/clip.mp4", cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnsupportedScheme)

	_, err = Resolve(ctx, "s3://bucket/clip.mp4", cfg, zerolog.Nop())
	assert.ErrorContains(t, err, "AWS_DEFAULT_REGION")
}

// fakeS3 serves path-style requests for a single bucket.
type fakeS3 struct {
	bucket   string
	mu       sync.Mutex
	objects  map[string]string
	modified time.Time
	gets     atomic.Int32
}

func (f *fakeS3) put(key, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = body
	f.modified = f.modified.Add(time.Minute)
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.TrimPrefix(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		notFound(w, r, "NoSuchBucket")
		return
	}
	if key == "" && r.URL.Query().Get("list-type") == "2" {
		prefix := r.URL.Query().Get("prefix")
		var b strings.Builder
		fmt.Fprintf(&b, `<?xml version="1.0" encoding="UTF-8"?><ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/"><Name>%s</Name><Prefix>%s</Prefix><IsTruncated>false</IsTruncated>`, f.bucket, prefix)
		for k, v := range f.objects {
			if strings.HasPrefix(k, prefix) {
				fmt.Fprintf(&b, `<Contents><Key>%s</Key><Size>%d</Size></Contents>`, k, len(v))
			}
		}
		b.WriteString(`</ListBucketResult>`)
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(b.String()))
		return
	}
	body, ok := f.objects[key]
	if !ok {
		notFound(w, r, "NoSuchKey")
		return
	}
	w.Header().Set("Content-Length", fmt.Sprint(len(body)))
	w.Header().Set("ETag", fmt.Sprintf(`"%x"`, md5.Sum([]byte(body))))
	w.Header().Set("Last-Modified", f.modified.UTC().Format(http.TimeFormat))
	if r.Method == http.MethodHead {
		return
	}
	f.gets.Add(1)
	_, _ = w.Write([]byte(body))
}

func newFakeS3(bucket string, objects map[string]string) *fakeS3 {
	return &fakeS3{
		bucket:   bucket,
		objects:  objects,
		modified: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func notFound(w http.ResponseWriter, r *http.Request, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusNotFound)
	if r.Method != http.MethodHead {
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>%s</Code><Message>not found</Message></Error>`, code)
	}
}

func s3Config(t *testing.T, srv *httptest.Server) config.Config {
	t.Helper()
	return config.Config{
		CacheDir:     t.TempDir(),
		AWSRegion:    "us-east-1",
		AWSAccessKey: "test",
		AWSSecretKey: "test",
		AWSEndpoint:  srv.URL,
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestResolveS3Object(t *testing.T) {
	fake := newFakeS3("art", map[string]string{"clips/sunset.mp4": "video-bytes"})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfg := s3Config(t, srv)

	got, err := Resolve(context.Background(), "s3://art/clips/sunset.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "art", "clips", "sunset.mp4"), got)
	assert.Equal(t, "video-bytes", readString(t, got))

	// Unchanged object: served from the cache.
	_, err = Resolve(context.Background(), "s3://art/clips/sunset.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.EqualValues(t, 1, fake.gets.Load())

	_, err = Resolve(context.Background(), "s3://art/clips/missing.mp4", cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveS3SameNameDifferentKeys(t *testing.T) {
	fake := newFakeS3("art", map[string]string{
		"a/clip.mp4": "AAAA",
		"b/clip.mp4": "BBBB",
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfg := s3Config(t, srv)
	ctx := context.Background()

	first, err := Resolve(ctx, "s3://art/a/clip.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)
	second, err := Resolve(ctx, "s3://art/b/clip.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, "AAAA", readString(t, first))
	assert.Equal(t, "BBBB", readString(t, second))
	assert.EqualValues(t, 2, fake.gets.Load())
}

func TestResolveS3RefetchesChangedObject(t *testing.T) {
	fake := newFakeS3("art", map[string]string{"clip.mp4": "AAAA"})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfg := s3Config(t, srv)
	ctx := context.Background()

	got, err := Resolve(ctx, "s3://art/clip.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "AAAA", readString(t, got))

	// Same size, new content.
	fake.put("clip.mp4", "CCCC")
	got, err = Resolve(ctx, "s3://art/clip.mp4", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "CCCC", readString(t, got))
	assert.EqualValues(t, 2, fake.gets.Load())
}

func TestResolveS3Prefix(t *testing.T) {
	fake := newFakeS3("art", map[string]string{
		"clips/b.mp4":      "bbb",
		"clips/a.mov":      "aa",
		"clips/readme.txt": "r",
		"other/c.mp4":      "c",
	})
	srv := httptest.NewServer(fake)
	defer srv.Close()
	cfg := s3Config(t, srv)

	got, err := Resolve(context.Background(), "s3://art/clips/", cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.CacheDir, "art", "clips", "a.mov"), got)
	assert.Equal(t, "aa", readString(t, got))

	// Only the selected video is fetched.
	assert.EqualValues(t, 1, fake.gets.Load())
	videos, err := VideosIn(filepath.Join(cfg.CacheDir, "art", "clips"))
	require.NoError(t, err)
	assert.Equal(t, []string{got}, videos)

	_, err = Resolve(context.Background(), "s3://art/empty/", cfg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrNotFound)
}
