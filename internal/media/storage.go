package media

import (
	"Parley/internal/model"
	"context"
	"io"
)

// Storage 对象存储
type Storage interface {
	Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string, progress func(sent int64)) error
	Delete(ctx context.Context, paths []string) error
	PublicURL(path string) string
}

// OrphanLedger 记录删除失败的对象，由定时任务补偿
type OrphanLedger interface {
	Record(ctx context.Context, conversationID string, paths []string) error
	List(ctx context.Context) ([]model.OrphanUpload, error)
	Forget(ctx context.Context, paths ...string) error
}
