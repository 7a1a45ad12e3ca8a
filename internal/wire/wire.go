package wire

import (
	"Parley/internal/api"
	"Parley/internal/api/config"
	"Parley/internal/api/handler"
	"Parley/internal/cache"
	"Parley/internal/job"
	"Parley/internal/media"
	"Parley/internal/pkg/cron"
	"Parley/internal/pkg/database"
	"Parley/internal/pkg/linkpreview"
	"Parley/internal/pkg/minio"
	"Parley/internal/pkg/mongo"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/security"
	"Parley/internal/realtime"
	"Parley/internal/repository"
	"Parley/internal/service"
	"Parley/internal/store"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router   *gin.Engine
	CronMgr  *cron.Manager
	closers  []func()
	released bool
}

// BuildApplication 按配置选择远端、推送通道与对象存储，组装同步引擎
func BuildApplication(cfg *config.Config) (_ *ApplicationContainer, err error) {
	app := &ApplicationContainer{}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	issuer := security.NewTokenIssuer(cfg.Session.Secret, cfg.Session.TTL)
	session := security.NewSession(issuer)

	// Redis 与 Kafka 均可选，缺省时推送与孤儿账本都走进程内实现
	var rdb *goredis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		app.onClose(func() { _ = rdb.Close() })
	}

	var channel realtime.Channel
	var publisher realtime.Publisher
	switch {
	case len(cfg.Kafka.Brokers) > 0:
		kc, err := realtime.NewKafkaChannel(kafkaOptions(cfg.Kafka))
		if err != nil {
			return nil, fmt.Errorf("connect kafka: %w", err)
		}
		app.onClose(func() { _ = kc.Close() })
		channel, publisher = kc, kc
	case rdb != nil:
		rc := realtime.NewRedisChannel(context.Background(), rdb)
		app.onClose(func() { _ = rc.Close() })
		channel, publisher = rc, rc
	default:
		mc := realtime.NewMemoryChannel()
		channel, publisher = mc, mc
	}

	remote, err := buildRemote(app, cfg, session)
	if err != nil {
		return nil, err
	}
	// 托管后端自己推送，其余后端由本进程在写入后发布事件
	if cfg.Remote.Backend != config.BackendHTTP {
		remote = realtime.WithPublisher(remote, publisher)
	}

	var storage media.Storage = media.NewMemoryStorage()
	if cfg.MinIO.InternalEndpoint != "" {
		s, err := minio.New(cfg.MinIO)
		if err != nil {
			return nil, fmt.Errorf("connect minio: %w", err)
		}
		storage = s
	}
	var ledger media.OrphanLedger = media.NewMemoryLedger()
	if rdb != nil {
		ledger = redis.NewOrphanLedger(rdb)
	}

	st := store.New()
	opts := []cache.Option{cache.WithPageSize(cfg.Sync.PageSize), cache.WithFreshWindow(cfg.Sync.FreshWindow)}
	qc := cache.NewQueryCache(remote, st, opts...)
	convs := cache.NewConversations(remote, session, opts...)
	rt := realtime.NewManager(channel, qc, convs, session, realtime.Options{
		TypingTTL:      cfg.Sync.TypingTTL,
		TypingInterval: cfg.Sync.TypingInterval,
	})

	processor := media.NewProcessor(cfg.Media.MaxEdge, cfg.Media.Quality, cfg.Media.ThumbEdge, cfg.LibPath.FFmpeg)
	resolver := linkpreview.NewResolver(cfg.LinkPreview.Timeout, cfg.LinkPreview.Proxy, cfg.LinkPreview.MaxLinks)

	sendService := service.NewSendService(session, remote, qc, convs, storage, ledger, processor, resolver,
		service.SendOptions{UploadPrefix: cfg.Media.UploadPrefix})
	receipts := service.NewReceiptBatcher(remote, qc, convs, session, cfg.Sync.ReceiptDebounce)
	conversationService := service.NewConversationService(session, remote, qc, convs, rt)
	sessionService := service.NewSessionService(session, issuer, qc, convs, rt, receipts,
		cfg.Remote.Backend == config.BackendMemory)

	// 逆序释放：先停发送与回执，再撤订阅，最后关缓存
	app.onClose(convs.Close)
	app.onClose(qc.Close)
	app.onClose(rt.Dispose)
	app.onClose(receipts.Close)
	app.onClose(sendService.Close)

	handlers := &api.HandlersGroup{
		SessionHandler:      handler.NewSessionHandler(sessionService),
		ConversationHandler: handler.NewConversationHandler(conversationService),
		MessageHandler:      handler.NewMessageHandler(sendService, conversationService, receipts),
		EventsHandler:       handler.NewEventsHandler(st, convs, rt),
	}

	app.Router = api.SetupRouter(handlers, sessionService)
	app.CronMgr = cron.NewCronManager(
		cron.Entry{Name: "unread_reconcile", Spec: cfg.Sync.ReconcileSpec, Job: job.NewUnreadReconcileJob(convs, session)},
		cron.Entry{Name: "media_cleanup", Spec: cfg.Sync.OrphanSweepSpec, Job: job.NewMediaCleanupJob(storage, ledger), RunOnStart: true},
	)
	return app, nil
}

func buildRemote(app *ApplicationContainer, cfg *config.Config, session *security.Session) (repository.RemoteRepo, error) {
	switch cfg.Remote.Backend {
	case config.BackendDB:
		dbCfg := cfg.DB
		db, err := database.NewGormDB(&dbCfg)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		app.onClose(func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		})

		mdb, err := mongo.InitMongo(cfg.Mongo)
		if err != nil {
			return nil, fmt.Errorf("connect mongo: %w", err)
		}
		app.onClose(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mdb.Client().Disconnect(ctx)
		})
		return repository.NewDBRemote(repository.NewConversationRepo(db), mongo.NewMessageRepo(mdb)), nil
	case config.BackendHTTP:
		return repository.NewHTTPRemote(cfg.Remote.BaseURL, cfg.Remote.Timeout, session.Token), nil
	default:
		log.Warn("using in-memory remote, data will not survive restart")
		return repository.NewMemoryRepo(), nil
	}
}

// kafkaOptions 每个进程一个独立消费组，保证都能收到全量事件
func kafkaOptions(cfg config.KafkaConfig) realtime.KafkaOptions {
	opts := realtime.KafkaOptions{
		Brokers:           cfg.Brokers,
		Topic:             cfg.Topic,
		GroupID:           cfg.GroupPrefix + "-" + uuid.NewString(),
		SessionTimeout:    cfg.Consumer.SessionTimeout,
		HeartbeatInterval: cfg.Consumer.HeartbeatInterval,
	}
	if cfg.Sasl.Enable {
		opts.Username = cfg.Sasl.Username
		opts.Password = cfg.Sasl.Password
	}
	return opts
}

func (a *ApplicationContainer) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close 按注册的逆序释放资源，可重复调用
func (a *ApplicationContainer) Close() {
	if a.released {
		return
	}
	a.released = true
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}
