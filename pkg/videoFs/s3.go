package videoFs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/rs/zerolog"

	"flow-texture/pkg/config"
)

func newS3Client(cfg config.Config) (*s3.S3, error) {
	if cfg.AWSRegion == "" {
		return nil, errors.New("videoFs: AWS_DEFAULT_REGION is required for s3:// media")
	}
	awsCfg := &aws.Config{Region: aws.String(cfg.AWSRegion)}
	// Without explicit keys the SDK's default chain applies.
	if cfg.AWSAccessKey != "" || cfg.AWSSecretKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AWSAccessKey, cfg.AWSSecretKey, "")
	}
	if cfg.AWSEndpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.AWSEndpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("videoFs: aws session: %w", err)
	}
	return s3.New(sess), nil
}

func isNotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	return errors.As(err, &aerr) && (aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == s3.ErrCodeNoSuchBucket)
}

// cachePath mirrors bucket/key under targetDir.
func cachePath(targetDir, bucket, key string) (string, error) {
	root := filepath.Join(targetDir, bucket)
	path := filepath.Join(root, filepath.FromSlash(key))
	if rel, err := filepath.Rel(root, path); err != nil || rel == "." || escapes(rel) {
		return "", fmt.Errorf("videoFs: object key %q escapes the cache", key)
	}
	return path, nil
}

func etagPath(localPath string) string {
	return localPath + ".etag"
}

// cached reports whether localPath already holds the object head describes:
// same size, same ETag, and a modification time matching LastModified.
func cached(localPath string, head *s3.HeadObjectOutput) bool {
	info, err := os.Stat(localPath)
	if err != nil || info.Size() != aws.Int64Value(head.ContentLength) {
		return false
	}
	if head.LastModified != nil && !info.ModTime().Equal(*head.LastModified) {
		return false
	}
	etag := aws.StringValue(head.ETag)
	if etag == "" {
		return head.LastModified != nil
	}
	stored, err := os.ReadFile(etagPath(localPath))
	return err == nil && string(stored) == etag
}

// DownloadObject copies s3://bucket/key to targetDir/bucket/key and returns
// the local path. A cached copy is reused while its size, ETag and
// modification time still match the object.
func DownloadObject(ctx context.Context, client *s3.S3, bucket, key, targetDir string, log zerolog.Logger) (string, error) {
	localPath, err := cachePath(targetDir, bucket, key)
	if err != nil {
		return "", err
	}

	head, err := client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return "", fmt.Errorf("videoFs: head s3://%s/%s: %w", bucket, key, err)
	}
	if cached(localPath, head) {
		log.Debug().Str("path", localPath).Msg("using cached download")
		return localPath, nil
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	result, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, key)
		}
		return "", fmt.Errorf("videoFs: get s3://%s/%s: %w", bucket, key, err)
	}
	defer result.Body.Close()

	// Drop the old ETag first so an interrupted download never looks cached.
	_ = os.Remove(etagPath(localPath))
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return "", err
	}
	n, err := io.Copy(tmp, result.Body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil && result.LastModified != nil {
		err = os.Chtimes(tmp.Name(), *result.LastModified, *result.LastModified)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), localPath)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("videoFs: write %s: %w", localPath, err)
	}
	if etag := aws.StringValue(result.ETag); etag != "" {
		if err := os.WriteFile(etagPath(localPath), []byte(etag), 0o644); err != nil {
			log.Warn().Err(err).Str("path", localPath).Msg("could not record etag")
		}
	}

	log.Info().Str("bucket", bucket).Str("key", key).Int64("bytes", n).Str("path", localPath).Msg("downloaded media")
	return localPath, nil
}

// FirstVideo lists the videos under prefix and downloads the first one, in
// key order, that can be fetched. Objects that fail to download are logged
// and skipped.
func FirstVideo(ctx context.Context, client *s3.S3, bucket, prefix, targetDir string, log zerolog.Logger) (string, error) {
	var keys []string
	err := client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if key == "" || strings.HasSuffix(key, "/") || !IsVideo(key) {
				continue
			}
			keys = append(keys, key)
		}
		return !lastPage
	})
	if err != nil {
		if isNotFound(err) {
			return "", fmt.Errorf("%w: s3://%s/%s", ErrNotFound, bucket, prefix)
		}
		return "", fmt.Errorf("videoFs: list s3://%s/%s: %w", bucket, prefix, err)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path, err := DownloadObject(ctx, client, bucket, key, targetDir, log)
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			log.Warn().Err(err).Str("key", key).Msg("skipping object")
			continue
		}
		log.Info().Str("bucket", bucket).Str("prefix", prefix).Int("listed", len(keys)).Str("key", key).Msg("selected video under prefix")
		return path, nil
	}
	return "", fmt.Errorf("%w: no videos under s3://%s/%s", ErrNotFound, bucket, prefix)
}
