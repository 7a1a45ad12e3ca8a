package redis

import (
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"context"
	log "log/slog"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// OrphanLedger 以哈希记录孤儿对象，field 为对象路径
type OrphanLedger struct {
	rdb redis.Cmdable
}

func NewOrphanLedger(rdb redis.Cmdable) *OrphanLedger {
	return &OrphanLedger{rdb: rdb}
}

func (s *OrphanLedger) Record(ctx context.Context, conversationID string, paths []string) error {
	now := time.Now()
	values := make(map[string]string, len(paths))
	for _, p := range paths {
		b, err := json.Marshal(model.OrphanUpload{Path: p, ConversationID: conversationID, RecordedAt: now})
		if err != nil {
			return err
		}
		values[p] = string(b)
	}
	return HSet(ctx, s.rdb, consts.OrphanUploadKey, values)
}

func (s *OrphanLedger) List(ctx context.Context) ([]model.OrphanUpload, error) {
	raw, err := HGetAll(ctx, s.rdb, consts.OrphanUploadKey)
	if err != nil {
		return nil, err
	}
	out := make([]model.OrphanUpload, 0, len(raw))
	for path, v := range raw {
		var o model.OrphanUpload
		if err := json.Unmarshal([]byte(v), &o); err != nil {
			log.Warn("invalid orphan upload record", "path", path, "err", err)
			o = model.OrphanUpload{Path: path}
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *OrphanLedger) Forget(ctx context.Context, paths ...string) error {
	return HDel(ctx, s.rdb, consts.OrphanUploadKey, paths...)
}
