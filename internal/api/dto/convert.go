package dto

import (
	"Parley/internal/model"
	"slices"

	"github.com/jinzhu/copier"
)

// FromMessage copier 复制同名字段，枚举与状态单独处理
func FromMessage(m *model.Message) *MessageDTO {
	if m == nil {
		return nil
	}
	out := &MessageDTO{}
	_ = copier.CopyWithOption(out, m, copier.Option{DeepCopy: true})
	out.Key = m.Key()
	out.MediaURLs = slices.Clone(m.MediaURLs)
	out.Type = string(m.Type)
	out.DeliveryStatus = string(m.DeliveryStatus)
	out.State = m.State.String()
	if len(m.Reactions) > 0 {
		out.Reactions = make(map[string][]string, len(m.Reactions))
		for k, v := range m.Reactions {
			out.Reactions[k] = slices.Clone(v)
		}
	}
	return out
}

func FromMessages(msgs []*model.Message) []*MessageDTO {
	out := make([]*MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, FromMessage(m))
	}
	return out
}

func FromConversation(c *model.Conversation, self string) *ConversationDTO {
	if c == nil {
		return nil
	}
	out := &ConversationDTO{}
	_ = copier.Copy(out, c)
	out.Type = string(c.Type)
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.Type == model.ConversationDirect {
		out.PeerID = c.Peer(self)
	}
	if c.LastMessage != nil {
		out.LastMessage = &MessageSnapshotDTO{
			ID:        c.LastMessage.ID,
			SenderID:  c.LastMessage.SenderID,
			Content:   c.LastMessage.Content,
			Type:      string(c.LastMessage.Type),
			CreatedAt: c.LastMessage.CreatedAt,
			IsDeleted: c.LastMessage.IsDeleted,
		}
	}
	return out
}

func FromConversations(convs []*model.Conversation, self string) []*ConversationDTO {
	out := make([]*ConversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, FromConversation(c, self))
	}
	return out
}
