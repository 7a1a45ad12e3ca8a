package job

import (
	"Parley/internal/cache"
	"Parley/internal/pkg/logger"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/security"
	"context"
	log "log/slog"
	"time"

	"github.com/google/uuid"
)

const reconcileTimeout = 30 * time.Second

// UnreadReconcileJob 定期用服务端会话列表校正本地未读数与摘要
type UnreadReconcileJob struct {
	convs *cache.Conversations
	auth  security.AuthContext
}

func NewUnreadReconcileJob(convs *cache.Conversations, auth security.AuthContext) *UnreadReconcileJob {
	return &UnreadReconcileJob{convs: convs, auth: auth}
}

func (s *UnreadReconcileJob) Run() {
	ctx := logger.WithTraceID(context.Background(), "job-reconcile-"+uuid.NewString())
	ctx, cancel := context.WithTimeout(ctx, reconcileTimeout)
	defer cancel()

	if _, ok := s.auth.CurrentUserID(); !ok {
		log.DebugContext(ctx, "skip reconcile without session")
		return
	}

	err := s.convs.Reconcile(ctx)
	metrics.JobRuns.WithLabelValues("unread_reconcile", metrics.Result(err)).Inc()
	if err != nil {
		log.ErrorContext(ctx, "reconcile conversations error", "err", err)
		return
	}
	log.InfoContext(ctx, "reconcile conversations success")
}
