package job

import (
	"Parley/internal/media"
	"Parley/internal/pkg/logger"
	"Parley/internal/pkg/metrics"
	"context"
	"errors"
	log "log/slog"

	"github.com/google/uuid"
)

// MediaCleanupJob 清理取消或失败的上传中未能及时删除的对象
type MediaCleanupJob struct {
	storage media.Storage
	ledger  media.OrphanLedger
}

func NewMediaCleanupJob(storage media.Storage, ledger media.OrphanLedger) *MediaCleanupJob {
	return &MediaCleanupJob{storage: storage, ledger: ledger}
}

func (s *MediaCleanupJob) Run() {
	ctx := logger.WithTraceID(context.Background(), "job-media-"+uuid.NewString())
	cleaned, err := s.Sweep(ctx)
	metrics.JobRuns.WithLabelValues("media_cleanup", metrics.Result(err)).Inc()
	if err != nil {
		log.ErrorContext(ctx, "media cleanup error", "cleaned_count", cleaned, "err", err)
		return
	}
	if cleaned > 0 {
		log.InfoContext(ctx, "media cleanup job finished", "cleaned_count", cleaned)
	}
}

// Sweep 逐个删除孤儿对象，删除成功后从清单移除；返回清理数量
func (s *MediaCleanupJob) Sweep(ctx context.Context) (int, error) {
	orphans, err := s.ledger.List(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	count := 0
	for _, o := range orphans {
		if err := s.storage.Delete(ctx, []string{o.Path}); err != nil {
			log.WarnContext(ctx, "failed to delete orphan upload", "path", o.Path, "conversation_id", o.ConversationID, "err", err)
			errs = append(errs, err)
			continue
		}
		if err := s.ledger.Forget(ctx, o.Path); err != nil {
			errs = append(errs, err)
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}
