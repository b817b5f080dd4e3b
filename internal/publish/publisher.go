package publish

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Publisher uploads every file under a rendition directory, preserving
// relative paths as storage keys. Partial failure surfaces as a single error;
// no per-file rollback is attempted.
type Publisher interface {
	PublishAll(ctx context.Context, dir, keyPrefix string) (int, error)
}

// S3PublisherConfig configures the directory publisher.
type S3PublisherConfig struct {
	Storage     S3Config
	Concurrency int
	Logger      *slog.Logger
}

// S3Publisher walks a local rendition directory and uploads its files to
// object storage with bounded parallelism.
type S3Publisher struct {
	client      objectClient
	concurrency int
	logger      *slog.Logger
}

const defaultUploadConcurrency = 4

// NewS3Publisher constructs a publisher for the configured bucket. With no
// endpoint or bucket configured the publisher is disabled and PublishAll
// reports zero uploads.
func NewS3Publisher(cfg S3PublisherConfig) *S3Publisher {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultUploadConcurrency
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &S3Publisher{
		client:      newObjectClient(cfg.Storage),
		concurrency: concurrency,
		logger:      logger,
	}
}

// Enabled reports whether uploads will actually reach object storage.
func (p *S3Publisher) Enabled() bool {
	return p != nil && p.client.Enabled()
}

// PublishAll uploads every regular file under dir. Symlinks abort the walk so
// a crafted rendition directory cannot leak files from elsewhere on disk.
func (p *S3Publisher) PublishAll(ctx context.Context, dir, keyPrefix string) (int, error) {
	if strings.TrimSpace(dir) == "" {
		return 0, fmt.Errorf("rendition directory is required")
	}
	if !p.client.Enabled() {
		p.logger.Debug("object storage disabled, skipping publish", "dir", dir)
		return 0, nil
	}

	var files []string
	err := filepath.WalkDir(dir, func(current string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return fmt.Errorf("symlinks not supported: %s", current)
		}
		files = append(files, current)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("walk renditions %s: %w", dir, err)
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(p.concurrency)
	for _, file := range files {
		file := file
		group.Go(func() error {
			rel, err := filepath.Rel(dir, file)
			if err != nil {
				return err
			}
			key := joinKey(keyPrefix, filepath.ToSlash(rel))
			body, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("read rendition %s: %w", file, err)
			}
			ref, err := p.client.Upload(groupCtx, key, contentTypeFor(file), body)
			if err != nil {
				return err
			}
			p.logger.Debug("rendition uploaded", "key", ref.Key, "bytes", len(body))
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, fmt.Errorf("publish renditions: %w", err)
	}
	return len(files), nil
}

func joinKey(prefix, rel string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	rel = strings.TrimLeft(rel, "/")
	if prefix == "" {
		return rel
	}
	if rel == "" {
		return prefix
	}
	return prefix + "/" + rel
}

func contentTypeFor(file string) string {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".m3u8":
		return "application/vnd.apple.mpegurl"
	case ".ts":
		return "video/mp2t"
	case ".mp4":
		return "video/mp4"
	case ".json":
		return "application/json"
	default:
		return "application/octet-stream"
	}
}
