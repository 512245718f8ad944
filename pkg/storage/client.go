// Package storage implements the optional S3 mirror source for image
// artifacts. Mirrors lay out objects as <prefix><version>/<filename>, with
// the checksum sidecar stored next to the artifact.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/raspi-ops/sdflash/pkg/errors"
)

var (
	versionKeyPattern = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})/`)
	imageKeyPattern   = regexp.MustCompile(`[\w.-]*raspios[\w.-]*\.img\.xz$`)
)

// ErrImageNotFound is returned when a version directory in the mirror holds
// no compressed image.
var ErrImageNotFound = fmt.Errorf("no image found in mirror")

// Mirror provides read access to an S3 image mirror.
type Mirror struct {
	s3Client *s3.Client
	bucket   string
	prefix   string
}

// NewMirror creates an anonymous-access client for the given bucket. Public
// image mirrors do not require credentials.
func NewMirror(ctx context.Context, bucket, region, prefix string) (*Mirror, error) {
	slog.Info("mirror_client_init", "bucket", bucket, "region", region, "prefix", prefix)

	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(aws.AnonymousCredentials{}),
	)
	if err != nil {
		slog.Error("aws_config_load_failed", "error", err)
		return nil, errors.Wrap(err, "failed to load AWS config")
	}

	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	return &Mirror{
		s3Client: s3.NewFromConfig(cfg),
		bucket:   bucket,
		prefix:   prefix,
	}, nil
}

// DownloadResult contains download metadata.
type DownloadResult struct {
	LocalPath string
	SHA256    string
	Size      int64
}

// Download fetches version/filename from the mirror into localPath,
// computing the SHA-256 of the bytes as they stream through.
func (m *Mirror) Download(ctx context.Context, version, filename, localPath string) (*DownloadResult, error) {
	key := m.key(version, filename)
	slog.Info("mirror_download_start", "bucket", m.bucket, "key", key)

	result, err := m.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		slog.Error("mirror_get_object_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to get object from mirror")
	}
	defer result.Body.Close()

	f, err := os.Create(localPath)
	if err != nil {
		slog.Error("local_file_creation_failed", "path", localPath, "error", err)
		return nil, errors.Wrap(err, "failed to create local file")
	}
	defer f.Close()

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(f, hash), result.Body)
	if err != nil {
		slog.Error("mirror_download_failed", "key", key, "error", err)
		return nil, errors.Wrap(err, "failed to download file")
	}

	checksum := hex.EncodeToString(hash.Sum(nil))
	slog.Info("mirror_download_complete",
		"key", key,
		"size_mb", size/1024/1024,
		"local_path", localPath,
		"sha256", checksum[:16]+"...",
	)

	return &DownloadResult{
		LocalPath: localPath,
		SHA256:    checksum,
		Size:      size,
	}, nil
}

// Sidecar fetches the checksum sidecar next to version/filename and returns
// its raw contents.
func (m *Mirror) Sidecar(ctx context.Context, version, filename string) (string, error) {
	key := m.key(version, filename) + ".sha256"

	result, err := m.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get sidecar from mirror")
	}
	defer result.Body.Close()

	body, err := io.ReadAll(io.LimitReader(result.Body, 4096))
	if err != nil {
		return "", errors.Wrap(err, "failed to read sidecar")
	}
	return string(body), nil
}

// ListVersions returns the release dates present in the mirror, oldest
// first. Version directories are date-named, anything else under the prefix
// is ignored.
func (m *Mirror) ListVersions(ctx context.Context) ([]string, error) {
	slog.Info("mirror_list_start", "bucket", m.bucket, "prefix", m.prefix)

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(m.prefix),
	}

	seen := make(map[string]bool)
	paginator := s3.NewListObjectsV2Paginator(m.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			slog.Error("mirror_list_failed", "prefix", m.prefix, "error", err)
			return nil, errors.Wrap(err, "failed to list objects")
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			rel := strings.TrimPrefix(*obj.Key, m.prefix)
			if match := versionKeyPattern.FindStringSubmatch(rel); match != nil {
				seen[match[1]] = true
			}
		}
	}

	versions := make([]string, 0, len(seen))
	for v := range seen {
		versions = append(versions, v)
	}
	sort.Strings(versions)

	slog.Info("mirror_list_complete", "prefix", m.prefix, "version_count", len(versions))
	return versions, nil
}

// FindImage returns the file name of the compressed image stored under the
// given version directory.
func (m *Mirror) FindImage(ctx context.Context, version string) (string, error) {
	prefix := m.prefix + version + "/"
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(m.bucket),
		Prefix: aws.String(prefix),
	}

	paginator := s3.NewListObjectsV2Paginator(m.s3Client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", errors.Wrap(err, "failed to list version directory")
		}
		for _, obj := range page.Contents {
			if obj.Key == nil {
				continue
			}
			name := strings.TrimPrefix(*obj.Key, prefix)
			if imageKeyPattern.MatchString(name) && !strings.Contains(name, "/") {
				slog.Info("mirror_image_found", "version", version, "file_name", name)
				return name, nil
			}
		}
	}

	return "", fmt.Errorf("%w: version %s", ErrImageNotFound, version)
}

// ObjectURL renders the s3:// location of version/filename, for provenance
// records.
func (m *Mirror) ObjectURL(version, filename string) string {
	return "s3://" + m.bucket + "/" + m.key(version, filename)
}

// Exists checks whether version/filename is present in the mirror.
func (m *Mirror) Exists(ctx context.Context, version, filename string) (bool, error) {
	key := m.key(version, filename)
	_, err := m.s3Client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(m.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if strings.Contains(err.Error(), "NotFound") {
			slog.Info("mirror_object_not_found", "key", key)
			return false, nil
		}
		slog.Error("mirror_head_object_failed", "key", key, "error", err)
		return false, errors.Wrap(err, "failed to check object existence")
	}
	return true, nil
}

func (m *Mirror) key(version, filename string) string {
	return m.prefix + version + "/" + filename
}
