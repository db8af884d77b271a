package bundle

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const archiveName = "rvm-configuration.zip"

// Fetcher retrieves a configuration bundle and makes its contents available
// as a local directory.
type Fetcher interface {
	Fetch(ctx context.Context, bucket, key string) (string, error)
}

// S3API is the slice of the S3 client the fetcher needs.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Fetcher downloads a zip bundle from S3 and extracts it to a temporary
// directory.
type S3Fetcher struct {
	client S3API
}

func NewS3Fetcher(client S3API) *S3Fetcher {
	return &S3Fetcher{client: client}
}

// Fetch downloads bucket/key and extracts it. The returned directory holds
// the manifest document and the template bodies it references; the caller
// owns cleanup.
func (f *S3Fetcher) Fetch(ctx context.Context, bucket, key string) (string, error) {
	tempDir, err := os.MkdirTemp("", "rvm-bundle-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp dir: %w", err)
	}

	zipPath := filepath.Join(tempDir, archiveName)
	slog.Info("downloading bundle", "component", "bundle", "bucket", bucket, "key", key, "path", zipPath)

	out, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to download s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	file, err := os.Create(zipPath)
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to create %s: %w", zipPath, err)
	}
	_, err = io.Copy(file, out.Body)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.RemoveAll(tempDir)
		return "", fmt.Errorf("failed to write %s: %w", zipPath, err)
	}

	slog.Info("extracting bundle", "component", "bundle", "dir", tempDir)
	if err := Extract(zipPath, tempDir); err != nil {
		os.RemoveAll(tempDir)
		return "", err
	}
	return tempDir, nil
}

// Extract unpacks a zip archive into destDir, rejecting entries that would
// escape it.
func Extract(zipPath, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open bundle archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target := filepath.Join(destDir, entry.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			return fmt.Errorf("bundle entry escapes extraction dir: %s", entry.Name)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return fmt.Errorf("failed to create dir %s: %w", target, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("failed to create dir for %s: %w", target, err)
		}
		if err := extractFile(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open bundle entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	_, err = io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return nil
}
