package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/minio/minio-go/v7"
)

// progressReader minio 每上传一段就从 Progress 读取同样长度的字节
type progressReader struct {
	sent   atomic.Int64
	notify func(sent int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n := p.sent.Add(int64(len(b)))
	if p.notify != nil {
		p.notify(n)
	}
	return len(b), nil
}

// Upload 上传对象，progress 回调已上传字节数
func (s *Storage) Upload(ctx context.Context, path string, reader io.Reader, size int64, contentType string, progress func(sent int64)) error {
	opts := minio.PutObjectOptions{ContentType: contentType}
	if progress != nil {
		opts.Progress = &progressReader{notify: progress}
	}
	if _, err := s.client.PutObject(ctx, s.bucket, path, reader, size, opts); err != nil {
		return fmt.Errorf("failed to upload file: %w", err)
	}
	return nil
}

// Delete 批量删除，任一失败返回合并后的错误
func (s *Storage) Delete(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	objects := make(chan minio.ObjectInfo, len(paths))
	for _, p := range paths {
		objects <- minio.ObjectInfo{Key: p}
	}
	close(objects)

	var errs []error
	for e := range s.client.RemoveObjects(ctx, s.bucket, objects, minio.RemoveObjectsOptions{}) {
		errs = append(errs, fmt.Errorf("delete %s: %w", e.ObjectName, e.Err))
	}
	return errors.Join(errs...)
}

// PublicURL 获取文件的公共访问URL
func (s *Storage) PublicURL(path string) string {
	return s.publicBase + path
}
