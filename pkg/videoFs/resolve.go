// Package videoFs turns a media URI into a local file the decoder can open,
// downloading it from S3 first when needed.
package videoFs

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"flow-texture/pkg/config"
	"flow-texture/pkg/logging"
)

var (
	ErrUnsupportedScheme = errors.New("videoFs: unsupported URI scheme")
	ErrNotFound          = errors.New("videoFs: media not found")
)

// Schemes Resolve understands besides plain paths.
const (
	SchemeFile     = "file"
	SchemeResource = "res"
	SchemeS3       = "s3"
)

var videoExtensions = map[string]bool{
	".mp4": true, ".m4v": true, ".mov": true, ".mkv": true,
	".webm": true, ".mpg": true, ".mpeg": true, ".ts": true,
}

// IsVideo reports whether name has a known video file extension.
func IsVideo(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// Resolve returns a local path for uri:
//
//	/path/clip.mp4, file:///path/clip.mp4   the file itself
//	res://clip.mp4                          clip.mp4 under cfg.AssetsDir
//	s3://bucket/key                         downloaded to cfg.CacheDir/bucket/key
//	s3://bucket/prefix/                     the first video under prefix, downloaded
//
// A local directory resolves to the first video it contains.
func Resolve(ctx context.Context, uri string, cfg config.Config, log zerolog.Logger) (string, error) {
	log = logging.Component(log, "videoFs")

	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		// No scheme, or a Windows drive letter.
		return localFile(uri)
	}

	switch u.Scheme {
	case SchemeFile:
		return localFile(u.Path)
	case SchemeResource:
		name := strings.TrimPrefix(u.Host+u.Path, "/")
		if name == "" {
			return "", fmt.Errorf("%w: empty resource name in %q", ErrNotFound, uri)
		}
		path := filepath.Join(cfg.AssetsDir, filepath.FromSlash(name))
		if rel, err := filepath.Rel(cfg.AssetsDir, path); err != nil || escapes(rel) {
			return "", fmt.Errorf("%w: resource %q is outside the assets directory", ErrNotFound, name)
		}
		return localFile(path)
	case SchemeS3:
		client, err := newS3Client(cfg)
		if err != nil {
			return "", err
		}
		bucket, key := u.Host, strings.TrimPrefix(u.Path, "/")
		if bucket == "" {
			return "", fmt.Errorf("videoFs: missing bucket in %q", uri)
		}
		if key == "" || strings.HasSuffix(key, "/") {
			return FirstVideo(ctx, client, bucket, key, cfg.CacheDir, log)
		}
		return DownloadObject(ctx, client, bucket, key, cfg.CacheDir, log)
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
}

// escapes reports whether a filepath.Rel result leaves its base directory.
func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func localFile(path string) (string, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return path, nil
	}
	videos, err := VideosIn(path)
	if err != nil {
		return "", err
	}
	if len(videos) == 0 {
		return "", fmt.Errorf("%w: no videos in %s", ErrNotFound, path)
	}
	return videos[0], nil
}

// VideosIn lists the video files directly inside dir, sorted by name.
func VideosIn(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var videos []string
	for _, entry := range entries {
		if !entry.IsDir() && IsVideo(entry.Name()) {
			videos = append(videos, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(videos)
	return videos, nil
}
