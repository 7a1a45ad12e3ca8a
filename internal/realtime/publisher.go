package realtime

import (
	"Parley/internal/cache"
	"Parley/internal/model"
	"Parley/internal/repository"
	"context"
	log "log/slog"
	"time"
)

// publishingRemote 在远端写入成功后向推送通道发出对应事件。
// 托管后端自带推送，自建库与内存后端由它补齐。
type publishingRemote struct {
	repository.RemoteRepo
	pub Publisher
}

func WithPublisher(remote repository.RemoteRepo, pub Publisher) repository.RemoteRepo {
	return &publishingRemote{RemoteRepo: remote, pub: pub}
}

func (r *publishingRemote) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	out, err := r.RemoteRepo.InsertMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	// 行存储没有投递状态列，推送出去的消息不带状态
	echo := out.Clone()
	echo.DeliveryStatus = model.StatusNone
	if err := r.pub.PublishMessage(ctx, echo); err != nil {
		log.WarnContext(ctx, "publish message failed", "conversation_id", out.ConversationID, "message_id", out.ID, "err", err)
	}
	r.publishSummaries(ctx, out.SenderID, out.ConversationID)
	return out, nil
}

func (r *publishingRemote) publishSummaries(ctx context.Context, senderID, conversationID string) {
	conv, err := r.RemoteRepo.FetchConversation(ctx, senderID, conversationID)
	if err != nil {
		log.WarnContext(ctx, "load conversation for publish failed", "conversation_id", conversationID, "err", err)
		return
	}
	for _, uid := range conv.ParticipantIDs {
		view := conv
		if uid != senderID {
			if view, err = r.RemoteRepo.FetchConversation(ctx, uid, conversationID); err != nil {
				continue
			}
		}
		r.publishChange(ctx, uid, cache.ListUpdate, view)
	}
}

func (r *publishingRemote) publishChange(ctx context.Context, userID string, op cache.ListOp, conv *model.Conversation) {
	if err := r.pub.PublishConversation(ctx, userID, ConversationChange{Op: op, Conversation: conv}); err != nil {
		log.WarnContext(ctx, "publish conversation change failed", "user_id", userID, "conversation_id", conv.ID, "err", err)
	}
}

func (r *publishingRemote) MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	if err := r.RemoteRepo.MarkMessagesRead(ctx, userID, conversationID, messageIDs); err != nil {
		return err
	}
	err := r.pub.PublishReadReceipt(ctx, ReadReceipt{
		ConversationID: conversationID,
		ReaderID:       userID,
		MessageIDs:     messageIDs,
		ReadAt:         time.Now().UTC(),
	})
	if err != nil {
		log.WarnContext(ctx, "publish read receipt failed", "conversation_id", conversationID, "err", err)
	}
	return nil
}

func (r *publishingRemote) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (*model.Conversation, error) {
	conv, err := r.RemoteRepo.CreateOrGetConversation(ctx, userID, otherUserID)
	if err != nil {
		return nil, err
	}
	// 对方只收到 id，客户端会定向拉取摘要
	r.publishChange(ctx, otherUserID, cache.ListInsert, &model.Conversation{ID: conv.ID})
	return conv, nil
}

func (r *publishingRemote) UpdateMembership(ctx context.Context, userID, conversationID string, patch model.MembershipPatch) error {
	if err := r.RemoteRepo.UpdateMembership(ctx, userID, conversationID, patch); err != nil {
		return err
	}
	if conv, err := r.RemoteRepo.FetchConversation(ctx, userID, conversationID); err == nil {
		r.publishChange(ctx, userID, cache.ListUpdate, conv)
	}
	return nil
}
