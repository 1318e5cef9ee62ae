package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// FileInfo describes a stored export artifact.
type FileInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// Storage holds rendered room exports.
type Storage interface {
	// Write stores r under key. size is -1 when unknown.
	Write(ctx context.Context, key string, r io.Reader, size int64, contentType string) error

	// Read opens the object; the caller closes it.
	Read(ctx context.Context, key string) (io.ReadCloser, error)

	Delete(ctx context.Context, key string) error

	// List returns objects whose keys start with prefix.
	List(ctx context.Context, prefix string) ([]FileInfo, error)

	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns a URL the artifact can be fetched from.
	GetURL(ctx context.Context, key string, expires time.Duration) (string, error)
}

type Config struct {
	Driver string      `mapstructure:"driver"` // "local", "s3"
	Local  LocalConfig `mapstructure:"local"`
	S3     S3Config    `mapstructure:"s3"`
}

func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocalStorage(cfg.Local)
	case "s3":
		return NewS3Storage(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// ExportKey is where an artifact for a room is stored.
func ExportKey(roomID, id, ext string) string {
	return fmt.Sprintf("exports/%s/%s%s", roomID, id, ext)
}
