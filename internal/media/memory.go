package media

import (
	"Parley/internal/model"
	"bytes"
	"context"
	"io"
	"maps"
	"slices"
	"sync"
	"time"
)

// MemoryStorage 进程内存储，上传按块推进以产生进度
type MemoryStorage struct {
	mu        sync.Mutex
	objects   map[string][]byte
	chunk     int
	delay     time.Duration
	uploadErr error
	deleteErr error
	gate      chan struct{}
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte), chunk: 32 * 1024}
}

// Throttle 每块之间等待 delay，便于观察进度与取消
func (s *MemoryStorage) Throttle(chunk int, delay time.Duration) {
	s.mu.Lock()
	s.chunk, s.delay = chunk, delay
	s.mu.Unlock()
}

// Hold 上传写完第一块后阻塞，直到 Release
func (s *MemoryStorage) Hold() {
	s.mu.Lock()
	s.gate = make(chan struct{})
	s.mu.Unlock()
}

func (s *MemoryStorage) Release() {
	s.mu.Lock()
	if s.gate != nil {
		close(s.gate)
		s.gate = nil
	}
	s.mu.Unlock()
}

func (s *MemoryStorage) FailUploads(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

func (s *MemoryStorage) FailDeletes(err error) {
	s.mu.Lock()
	s.deleteErr = err
	s.mu.Unlock()
}

func (s *MemoryStorage) Upload(ctx context.Context, path string, reader io.Reader, size int64, _ string, progress func(sent int64)) error {
	s.mu.Lock()
	chunk, delay, gate, failErr := s.chunk, s.delay, s.gate, s.uploadErr
	s.mu.Unlock()
	if failErr != nil {
		return failErr
	}

	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	if size <= 0 {
		size = int64(len(data))
	}

	var sent int64
	for off := 0; off < len(data) || off == 0; off += chunk {
		end := min(off+chunk, len(data))
		sent = int64(end)
		if progress != nil {
			progress(sent)
		}
		if gate != nil && off == 0 {
			select {
			case <-gate:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if end >= len(data) {
			break
		}
	}

	s.mu.Lock()
	s.objects[path] = bytes.Clone(data)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Delete(_ context.Context, paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	for _, p := range paths {
		delete(s.objects, p)
	}
	return nil
}

func (s *MemoryStorage) PublicURL(path string) string {
	return "mem://" + path
}

func (s *MemoryStorage) Paths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Sorted(maps.Keys(s.objects))
}

func (s *MemoryStorage) Object(path string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.objects[path]
	return b, ok
}

// MemoryLedger 进程内孤儿对象记录
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]model.OrphanUpload
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]model.OrphanUpload)}
}

func (l *MemoryLedger) Record(_ context.Context, conversationID string, paths []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		l.entries[p] = model.OrphanUpload{Path: p, ConversationID: conversationID, RecordedAt: time.Now()}
	}
	return nil
}

func (l *MemoryLedger) List(context.Context) ([]model.OrphanUpload, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]model.OrphanUpload, 0, len(l.entries))
	for _, k := range slices.Sorted(maps.Keys(l.entries)) {
		out = append(out, l.entries[k])
	}
	return out, nil
}

func (l *MemoryLedger) Forget(_ context.Context, paths ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range paths {
		delete(l.entries, p)
	}
	return nil
}
