package storage

import (
	"context"
	"fmt"
	"strings"

	"fairytale-server/shared/interfaces"
)

const (
	DriverLocal = "local"
	DriverS3    = "s3"
)

// Config описывает, где лежат входные файлы, озвучка и обложки.
type Config struct {
	Driver   string
	LocalDir string
	S3Region string
	S3Bucket string
	S3Prefix string
	KMSKeyID string
}

// New выбирает реализацию хранилища по драйверу.
func New(ctx context.Context, cfg Config) (interfaces.ObjectStore, error) {
	switch strings.ToLower(cfg.Driver) {
	case "", DriverLocal:
		return NewLocalStore(cfg.LocalDir), nil
	case DriverS3:
		return NewS3Store(ctx, cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix, cfg.KMSKeyID)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// StoryObjectKey строит ключ объекта истории: stories/<id>/<name>.
func StoryObjectKey(storyID, name string) string {
	return "stories/" + storyID + "/" + name
}
