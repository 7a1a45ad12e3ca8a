package repository

import (
	"Parley/internal/model"
	"Parley/internal/pkg/mongo"
	"context"
	"slices"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson/primitive"
	mongodrv "go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"
)

// dbRemote 自建后端：会话与成员在 MySQL，消息明细在 MongoDB
type dbRemote struct {
	convRepo    ConversationRepo
	messageRepo mongo.MessageRepo
}

func NewDBRemote(convRepo ConversationRepo, messageRepo mongo.MessageRepo) RemoteRepo {
	return &dbRemote{convRepo: convRepo, messageRepo: messageRepo}
}

func (s *dbRemote) FetchMessages(ctx context.Context, q MessageQuery) (*MessagePage, error) {
	var beforeSeq uint64
	if q.BeforeID != "" {
		cur, err := s.messageRepo.GetByID(ctx, q.BeforeID)
		switch {
		case errors.Is(err, mongodrv.ErrNoDocuments) || (err == nil && cur.ConversationID != q.ConversationID):
			if q.Before.IsZero() {
				return nil, ErrCursorNotFound
			}
		case err != nil:
			return nil, errors.Wrap(err, "load cursor message")
		default:
			beforeSeq = cur.Seq
		}
	}

	size := q.PageSize
	if size <= 0 {
		size = 25
	}
	docs, err := s.messageRepo.GetHistory(ctx, q.ConversationID, beforeSeq, q.Before, size+1)
	if err != nil {
		return nil, errors.Wrap(err, "fetch message history")
	}

	page := &MessagePage{HasMore: len(docs) > size}
	if page.HasMore {
		docs = docs[:size]
	}
	// 降序转升序
	slices.Reverse(docs)
	for _, d := range docs {
		page.Messages = append(page.Messages, messageFromDoc(d))
	}
	return page, nil
}

func (s *dbRemote) InsertMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	ok, err := s.convRepo.IsMember(ctx, msg.ConversationID, msg.SenderID)
	if err != nil {
		return nil, errors.Wrap(err, "check membership")
	}
	if !ok {
		return nil, ErrNotMember
	}

	// 同一个 tempId 重试时返回已落库的消息
	if msg.TempID != "" {
		prev, err := s.messageRepo.GetByClientID(ctx, msg.ConversationID, msg.TempID)
		if err != nil {
			return nil, errors.Wrap(err, "lookup client id")
		}
		if prev != nil {
			return messageFromDoc(prev), nil
		}
	}

	now := time.Now().UTC()
	saved := msg.Clone()
	saved.ID = primitive.NewObjectID().Hex()
	saved.CreatedAt = now
	saved.UpdatedAt = now

	seq, err := s.convRepo.IncrMaxSeq(ctx, msg.ConversationID, saved)
	if err != nil {
		return nil, errors.Wrap(err, "allocate message seq")
	}
	doc := messageToDoc(saved)
	doc.Seq = seq
	if err := s.messageRepo.SaveMessage(ctx, doc); err != nil {
		if mongodrv.IsDuplicateKeyError(err) && msg.TempID != "" {
			if prev, _ := s.messageRepo.GetByClientID(ctx, msg.ConversationID, msg.TempID); prev != nil {
				return messageFromDoc(prev), nil
			}
		}
		return nil, errors.Wrap(err, "save message")
	}
	return messageFromDoc(doc), nil
}

func (s *dbRemote) MarkMessagesRead(ctx context.Context, userID, conversationID string, messageIDs []string) error {
	seq, err := s.messageRepo.MaxSeqOf(ctx, conversationID, messageIDs)
	if err != nil {
		return errors.Wrap(err, "resolve read seq")
	}
	if seq == 0 {
		return nil
	}
	return errors.Wrap(s.convRepo.UpdateReadSeq(ctx, conversationID, userID, seq), "update read seq")
}

func (s *dbRemote) FetchConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	members, err := s.convRepo.GetUserConversationMemList(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "list conversations")
	}
	if len(members) == 0 {
		return []*model.Conversation{}, nil
	}
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.ConversationID)
	}
	participants, err := s.convRepo.ListMemberIDs(ctx, ids)
	if err != nil {
		return nil, errors.Wrap(err, "list participants")
	}
	out := make([]*model.Conversation, 0, len(members))
	for _, m := range members {
		out = append(out, conversationFromMember(m, participants[m.ConversationID]))
	}
	return out, nil
}

func (s *dbRemote) FetchConversation(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	m, err := s.convRepo.GetUserConversationMem(ctx, userID, conversationID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get conversation")
	}
	participants, err := s.convRepo.ListMemberIDs(ctx, []string{conversationID})
	if err != nil {
		return nil, errors.Wrap(err, "list participants")
	}
	return conversationFromMember(m, participants[conversationID]), nil
}

// CreateOrGetConversation 单聊按 peerKey 查找或创建，并发创建时唯一索引兜底
func (s *dbRemote) CreateOrGetConversation(ctx context.Context, userID, otherUserID string) (*model.Conversation, error) {
	peerKey := PeerKey(userID, otherUserID)
	conv, err := s.convRepo.GetConversationByPeerKey(ctx, peerKey)
	if err == nil {
		return s.FetchConversation(ctx, userID, conv.ID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(err, "get conversation by peer key")
	}

	record := &model.ConversationRecord{
		ID:      uuid.NewString(),
		Type:    string(model.ConversationDirect),
		PeerKey: &peerKey,
	}
	members := []*model.ConversationMember{{UserID: userID}, {UserID: otherUserID}}
	if err := s.convRepo.CreateConversation(ctx, record, members); err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == 1062 {
			conv, err = s.convRepo.GetConversationByPeerKey(ctx, peerKey)
			if err != nil {
				return nil, errors.Wrap(err, "reload conversation after duplicate")
			}
			return s.FetchConversation(ctx, userID, conv.ID)
		}
		return nil, errors.Wrap(err, "create conversation")
	}
	return s.FetchConversation(ctx, userID, record.ID)
}

func (s *dbRemote) UpdateMembership(ctx context.Context, userID, conversationID string, patch model.MembershipPatch) error {
	err := s.convRepo.UpdateMembership(ctx, conversationID, userID, patch)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotMember
	}
	return errors.Wrap(err, "update membership")
}

func messageToDoc(m *model.Message) *mongo.Message {
	doc := &mongo.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		ClientID:       m.TempID,
		MsgType:        string(m.Type),
		Content:        m.Content,
		ThumbnailURL:   m.ThumbnailURL,
		ReplyTo:        m.ReplyToID,
		IsEdited:       m.IsEdited,
		IsDeleted:      m.IsDeleted,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
	for _, u := range m.MediaURLs {
		doc.Payload = append(doc.Payload, mongo.Payload{MediaURL: u})
	}
	for _, p := range m.LinkPreviews {
		doc.LinkPreviews = append(doc.LinkPreviews, mongo.LinkPreview(p))
	}
	return doc
}

func messageFromDoc(d *mongo.Message) *model.Message {
	m := &model.Message{
		ID:             d.ID,
		TempID:         d.ClientID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		Type:           model.MessageType(d.MsgType),
		ThumbnailURL:   d.ThumbnailURL,
		ReplyToID:      d.ReplyTo,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		IsEdited:       d.IsEdited,
		IsDeleted:      d.IsDeleted,
		DeliveryStatus: model.StatusSent,
		State:          model.StateConfirmed,
	}
	for _, p := range d.Payload {
		m.MediaURLs = append(m.MediaURLs, p.MediaURL)
	}
	for _, p := range d.LinkPreviews {
		m.LinkPreviews = append(m.LinkPreviews, model.LinkPreview(p))
	}
	return m
}

func conversationFromMember(m *model.ConversationMember, participants []string) *model.Conversation {
	c := &model.Conversation{
		ID:             m.ConversationID,
		Type:           model.ConversationType(m.Conversation.Type),
		ParticipantIDs: participants,
		UnreadCount:    int(m.UnreadCount),
		IsMuted:        m.IsMuted == 1,
		IsPinned:       m.IsPinned == 1,
		IsArchived:     m.IsArchived == 1,
		UpdatedAt:      m.Conversation.UpdatedAt,
	}
	if m.Conversation.LastMessageAt != nil {
		c.LastMessage = &model.MessageSnapshot{
			ID:        m.Conversation.LastMsgID,
			SenderID:  m.Conversation.LastSenderID,
			Content:   m.Conversation.LastMsgContent,
			Type:      model.MessageType(m.Conversation.LastMsgType),
			CreatedAt: *m.Conversation.LastMessageAt,
		}
		c.UpdatedAt = *m.Conversation.LastMessageAt
	}
	return c
}
