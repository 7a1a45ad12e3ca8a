package service

import (
	"Parley/internal/cache"
	"Parley/internal/media"
	"Parley/internal/model"
	"Parley/internal/pkg/consts"
	"Parley/internal/pkg/metrics"
	"Parley/internal/pkg/security"
	"Parley/internal/pkg/util"
	"Parley/internal/repository"
	"Parley/internal/store"
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SendParams 一次发送意图
type SendParams struct {
	ConversationID string            `validate:"required"`
	Content        string            `validate:"max=4000"`
	Type           model.MessageType `validate:"omitempty,msgtype"`
	ReplyToID      string
	Attachments    []media.Asset
}

// PreviewResolver 链接预览
type PreviewResolver interface {
	Resolve(ctx context.Context, content string) []model.LinkPreview
}

// Preparer 上传前的媒体处理
type Preparer interface {
	Prepare(ctx context.Context, kind model.MessageType, in media.Asset) (*media.Prepared, error)
}

// SendService 出站消息从发送意图到服务端确认的完整生命周期
type SendService interface {
	// Send 同步发送，失败时返回失败状态的消息以及 ErrSendFailed
	Send(ctx context.Context, p SendParams) (*model.Message, error)
	// SendAsync 立即返回乐观消息，后台完成发送
	SendAsync(ctx context.Context, p SendParams) (*model.Message, error)
	// Retry 以原 tempId 重新发送失败的消息
	Retry(ctx context.Context, conversationID, tempID string) (*model.Message, error)
	RetryAsync(ctx context.Context, conversationID, tempID string) error
	// CancelUpload 取消上传中的媒体消息
	CancelUpload(conversationID, tempID string) bool
	Close()
}

type phase int8

const (
	phaseIdle phase = iota
	phaseUploading
	phaseInserting
)

// outbox 一条未确认消息的原始负载，重试时复用
type outbox struct {
	params    SendParams
	createdAt time.Time
	prepared  []*media.Prepared
	mediaURLs []string
	thumbURL  string
	previews  []model.LinkPreview
	resolved  bool

	phase  phase
	cancel context.CancelFunc
}

type SendOptions struct {
	UploadPrefix string
}

type sendServiceImpl struct {
	auth     security.AuthContext
	remote   repository.RemoteRepo
	cache    *cache.QueryCache
	convs    *cache.Conversations
	storage  media.Storage
	ledger   media.OrphanLedger
	preparer Preparer
	previews PreviewResolver
	prefix   string

	mu       sync.Mutex
	outboxes map[string]*outbox
	inflight map[string]struct{}
	closed   bool
	wg       sync.WaitGroup
}

func NewSendService(
	auth security.AuthContext,
	remote repository.RemoteRepo,
	qc *cache.QueryCache,
	convs *cache.Conversations,
	storage media.Storage,
	ledger media.OrphanLedger,
	preparer Preparer,
	previews PreviewResolver,
	opts SendOptions,
) SendService {
	prefix := strings.Trim(opts.UploadPrefix, "/")
	if prefix == "" {
		prefix = "chat"
	}
	return &sendServiceImpl{
		auth:     auth,
		remote:   remote,
		cache:    qc,
		convs:    convs,
		storage:  storage,
		ledger:   ledger,
		preparer: preparer,
		previews: previews,
		prefix:   prefix,
		outboxes: make(map[string]*outbox),
		inflight: make(map[string]struct{}),
	}
}

func (s *sendServiceImpl) store() *store.Store { return s.cache.Store() }

func (s *sendServiceImpl) validate(p *SendParams) error {
	if p.Type == "" {
		p.Type = model.MessageText
		if len(p.Attachments) > 0 {
			p.Type = typeOf(p.Attachments[0].ContentType)
		}
	}
	if err := util.ValidateDTO(p); err != nil {
		return fmt.Errorf("%w: %s", ErrParamInvalid, err.Error())
	}
	if p.Type.IsMedia() {
		if len(p.Attachments) == 0 {
			return fmt.Errorf("%w: 媒体消息缺少附件", ErrParamInvalid)
		}
		if s.storage == nil {
			return ErrFileNotSupported
		}
		return nil
	}
	if len(p.Attachments) > 0 {
		return fmt.Errorf("%w: %s 类型不支持附件", ErrParamInvalid, p.Type)
	}
	if strings.TrimSpace(p.Content) == "" {
		return fmt.Errorf("%w: 内容不能为空", ErrParamInvalid)
	}
	return nil
}

// typeOf 未指定类型时按首个附件的 MIME 推断
func typeOf(contentType string) model.MessageType {
	switch strings.SplitN(contentType, "/", 2)[0] {
	case consts.MimePrefixImage:
		return model.MessageImage
	case consts.MimePrefixVideo:
		return model.MessageVideo
	case consts.MimePrefixAudio:
		return model.MessageAudio
	}
	return model.MessageFile
}

// begin 未登录时直接失败且不创建乐观消息；否则同步写入 store 后返回
func (s *sendServiceImpl) begin(p SendParams) (*model.Message, error) {
	senderID, ok := s.auth.CurrentUserID()
	if !ok {
		return nil, ErrUnauthenticated
	}
	if err := s.validate(&p); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	msg := &model.Message{
		TempID:         uuid.NewString(),
		ConversationID: p.ConversationID,
		SenderID:       senderID,
		Content:        p.Content,
		Type:           p.Type,
		ReplyToID:      p.ReplyToID,
		CreatedAt:      now,
		UpdatedAt:      now,
		DeliveryStatus: model.StatusSending,
		State:          model.StateSending,
	}
	if p.Type.IsMedia() {
		msg.SetProgress(0)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSendFailed
	}
	s.outboxes[msg.TempID] = &outbox{params: p, createdAt: now}
	s.inflight[msg.TempID] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	s.store().Upsert(p.ConversationID, msg)
	log.Debug("optimistic message created", "conversation_id", p.ConversationID, "temp_id", msg.TempID)
	return msg.Clone(), nil
}

func (s *sendServiceImpl) Send(ctx context.Context, p SendParams) (*model.Message, error) {
	msg, err := s.begin(p)
	if err != nil {
		return nil, err
	}
	defer s.wg.Done()
	return s.deliver(ctx, msg.ConversationID, msg.TempID)
}

func (s *sendServiceImpl) SendAsync(ctx context.Context, p SendParams) (*model.Message, error) {
	msg, err := s.begin(p)
	if err != nil {
		return nil, err
	}
	s.spawn(ctx, msg.ConversationID, msg.TempID)
	return msg, nil
}

// spawn 请求结束不影响后台发送，保留 trace 信息。wg 已在 begin 或 acquireRetry 中登记
func (s *sendServiceImpl) spawn(ctx context.Context, conversationID, tempID string) {
	bg := context.WithoutCancel(ctx)
	go func() {
		defer s.wg.Done()
		if _, err := s.deliver(bg, conversationID, tempID); err != nil {
			log.WarnContext(bg, "async send failed", "conversation_id", conversationID, "temp_id", tempID, "err", err)
		}
	}()
}

// acquireRetry 只有失败的乐观消息可以重试，同一条消息同时只能有一次重试。
// 成功时已登记到 wg，调用方负责 Done
func (s *sendServiceImpl) acquireRetry(conversationID, tempID string) error {
	if _, ok := s.auth.CurrentUserID(); !ok {
		return ErrUnauthenticated
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSendFailed
	}
	if _, busy := s.inflight[tempID]; busy {
		return ErrRetryInProgress
	}
	if _, ok := s.outboxes[tempID]; !ok {
		return ErrNotRetryable
	}
	msg, ok := s.store().Get(conversationID, tempID)
	if !ok || !msg.Failed() {
		return ErrNotRetryable
	}
	if !s.store().MarkSending(conversationID, tempID) {
		return ErrNotRetryable
	}
	s.inflight[tempID] = struct{}{}
	s.wg.Add(1)
	return nil
}

func (s *sendServiceImpl) Retry(ctx context.Context, conversationID, tempID string) (*model.Message, error) {
	if err := s.acquireRetry(conversationID, tempID); err != nil {
		return nil, err
	}
	defer s.wg.Done()
	return s.deliver(ctx, conversationID, tempID)
}

func (s *sendServiceImpl) RetryAsync(ctx context.Context, conversationID, tempID string) error {
	if err := s.acquireRetry(conversationID, tempID); err != nil {
		return err
	}
	s.spawn(ctx, conversationID, tempID)
	return nil
}

func (s *sendServiceImpl) CancelUpload(conversationID, tempID string) bool {
	s.mu.Lock()
	ob, ok := s.outboxes[tempID]
	if !ok || ob.phase != phaseUploading || ob.cancel == nil {
		s.mu.Unlock()
		return false
	}
	cancel := ob.cancel
	s.mu.Unlock()

	// 先标记失败，之后到达的进度会被 store 丢弃
	s.store().MarkFailed(conversationID, tempID)
	cancel()
	log.Info("upload cancelled", "conversation_id", conversationID, "temp_id", tempID)
	return true
}

func (s *sendServiceImpl) setPhase(tempID string, ph phase, cancel context.CancelFunc) {
	s.mu.Lock()
	if ob, ok := s.outboxes[tempID]; ok {
		ob.phase, ob.cancel = ph, cancel
	}
	s.mu.Unlock()
}

func (s *sendServiceImpl) finish(tempID string, confirmed bool) {
	s.mu.Lock()
	delete(s.inflight, tempID)
	if confirmed {
		delete(s.outboxes, tempID)
	} else if ob, ok := s.outboxes[tempID]; ok {
		ob.phase, ob.cancel = phaseIdle, nil
	}
	s.mu.Unlock()
}

func (s *sendServiceImpl) deliver(ctx context.Context, conversationID, tempID string) (*model.Message, error) {
	s.mu.Lock()
	ob := s.outboxes[tempID]
	s.mu.Unlock()
	if ob == nil {
		s.finish(tempID, false)
		return nil, ErrNotRetryable
	}
	current, ok := s.store().Get(conversationID, tempID)
	if !ok {
		s.finish(tempID, false)
		return nil, ErrMessageNotFound
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if ob.params.Type.IsMedia() && len(ob.mediaURLs) == 0 {
		s.setPhase(tempID, phaseUploading, cancel)
		if err := s.upload(attemptCtx, ob, conversationID, tempID); err != nil {
			return s.fail(ctx, conversationID, tempID, err)
		}
	}
	s.setPhase(tempID, phaseInserting, nil)

	if ob.params.Type == model.MessageLink && !ob.resolved && s.previews != nil {
		ob.previews = s.previews.Resolve(attemptCtx, ob.params.Content)
		ob.resolved = true
	}

	payload := &model.Message{
		TempID:         tempID,
		ConversationID: conversationID,
		SenderID:       current.SenderID,
		Content:        ob.params.Content,
		Type:           ob.params.Type,
		MediaURLs:      ob.mediaURLs,
		ThumbnailURL:   ob.thumbURL,
		LinkPreviews:   ob.previews,
		ReplyToID:      ob.params.ReplyToID,
		CreatedAt:      ob.createdAt,
		UpdatedAt:      ob.createdAt,
		State:          model.StateSending,
	}
	confirmed, err := s.remote.InsertMessage(attemptCtx, payload)
	if err != nil {
		return s.fail(ctx, conversationID, tempID, err)
	}

	st := s.store()
	st.ReplaceOptimistic(conversationID, tempID, confirmed)
	s.finish(tempID, true)
	metrics.MessagesSent.WithLabelValues("ok").Inc()

	out, ok := st.Get(conversationID, tempID)
	if !ok {
		out = confirmed.Clone()
	}
	s.convs.OnMessage(out, true)
	log.InfoContext(ctx, "message sent", "conversation_id", conversationID, "temp_id", tempID, "message_id", out.ID)
	return out, nil
}

func (s *sendServiceImpl) fail(ctx context.Context, conversationID, tempID string, cause error) (*model.Message, error) {
	st := s.store()
	st.MarkFailed(conversationID, tempID)
	s.finish(tempID, false)

	result := "failed"
	err := fmt.Errorf("%w: %w", ErrSendFailed, cause)
	if errors.Is(cause, context.Canceled) || errors.Is(cause, ErrUploadCancelled) {
		result = "cancelled"
		err = ErrUploadCancelled
	}
	metrics.MessagesSent.WithLabelValues(result).Inc()
	log.WarnContext(ctx, "message send failed", "conversation_id", conversationID, "temp_id", tempID, "err", cause)

	out, ok := st.Get(conversationID, tempID)
	if !ok {
		return nil, err
	}
	return out, err
}

// upload 处理并上传全部附件，进度按总字节数折算
func (s *sendServiceImpl) upload(ctx context.Context, ob *outbox, conversationID, tempID string) error {
	if ob.prepared == nil {
		for _, a := range ob.params.Attachments {
			prepared := &media.Prepared{Main: a}
			if s.preparer != nil {
				p, err := s.preparer.Prepare(ctx, ob.params.Type, a)
				if err != nil {
					return fmt.Errorf("%w: %w", ErrUploadFailed, err)
				}
				prepared = p
			}
			ob.prepared = append(ob.prepared, prepared)
		}
	}

	var total, done int64
	for _, p := range ob.prepared {
		total += int64(len(p.Main.Data))
		if p.Thumb != nil {
			total += int64(len(p.Thumb.Data))
		}
	}
	total = max(total, 1)
	report := func(sent int64) {
		s.store().SetUploadProgress(conversationID, tempID, int((done+sent)*100/total))
	}

	base := path.Join(s.prefix, conversationID, tempID)
	var uploaded, urls []string
	var thumbURL string
	put := func(name string, a media.Asset) (string, error) {
		p := path.Join(base, name)
		uploaded = append(uploaded, p)
		err := s.storage.Upload(ctx, p, bytesReader(a.Data), int64(len(a.Data)), a.ContentType, report)
		if err != nil {
			return "", err
		}
		done += int64(len(a.Data))
		metrics.UploadedBytes.Add(float64(len(a.Data)))
		return s.storage.PublicURL(p), nil
	}

	for i, p := range ob.prepared {
		url, err := put(fmt.Sprintf("%d-%s", i, safeName(p.Main.Filename)), p.Main)
		if err == nil && p.Thumb != nil {
			var turl string
			turl, err = put(fmt.Sprintf("%d-thumb-%s", i, safeName(p.Thumb.Filename)), *p.Thumb)
			if thumbURL == "" {
				thumbURL = turl
			}
		}
		if err != nil {
			s.cleanup(conversationID, uploaded)
			if ctx.Err() != nil {
				return ErrUploadCancelled
			}
			return fmt.Errorf("%w: %w", ErrUploadFailed, err)
		}
		urls = append(urls, url)
	}

	ob.mediaURLs, ob.thumbURL = urls, thumbURL
	s.store().SetUploadProgress(conversationID, tempID, 100)
	return nil
}

// cleanup 尽力删除已上传的对象，失败时记入孤儿清单交给定时任务
func (s *sendServiceImpl) cleanup(conversationID string, paths []string) {
	if len(paths) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.storage.Delete(ctx, paths); err != nil {
		log.Warn("delete partial upload failed", "conversation_id", conversationID, "paths", paths, "err", err)
		if s.ledger != nil {
			if err := s.ledger.Record(ctx, conversationID, paths); err != nil {
				log.Error("record orphan upload failed", "paths", paths, "err", err)
			}
		}
	}
}

// Close 拒绝新的发送并等待进行中的发送结束
func (s *sendServiceImpl) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wg.Wait()
}
