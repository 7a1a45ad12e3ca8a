package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MessageRepo interface {
	SaveMessage(ctx context.Context, msg *Message) error
	// GetHistory beforeSeq 为 0 时按 before 时间过滤，两者都为空则取最新一页
	GetHistory(ctx context.Context, convID string, beforeSeq uint64, before time.Time, limit int) ([]*Message, error)
	GetByID(ctx context.Context, id string) (*Message, error)
	GetByClientID(ctx context.Context, convID, clientID string) (*Message, error)
	MaxSeqOf(ctx context.Context, convID string, ids []string) (uint64, error)
	EnsureIndexes(ctx context.Context) error
}

type messageRepoImpl struct {
	col *mongo.Collection
}

func NewMessageRepo(db *mongo.Database) MessageRepo {
	return &messageRepoImpl{
		col: db.Collection("message"),
	}
}

// EnsureIndexes 会话内序号与客户端 ID 唯一
func (s *messageRepoImpl) EnsureIndexes(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: -1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "client_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"client_id": bson.M{"$type": "string"}}),
		},
	})
	return err
}

// SaveMessage 将消息存入 MongoDB
func (s *messageRepoImpl) SaveMessage(ctx context.Context, msg *Message) error {
	_, err := s.col.InsertOne(ctx, msg)
	return err
}

// GetHistory 按 seq 降序取 limit 条
func (s *messageRepoImpl) GetHistory(ctx context.Context, convID string, beforeSeq uint64, before time.Time, limit int) ([]*Message, error) {
	filter := bson.M{"conversation_id": convID}
	switch {
	case beforeSeq > 0:
		filter["seq"] = bson.M{"$lt": beforeSeq}
	case !before.IsZero():
		filter["created_at"] = bson.M{"$lt": before}
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.col.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = cursor.Close(ctx)
	}()

	var messages []*Message
	if err := cursor.All(ctx, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *messageRepoImpl) GetByID(ctx context.Context, id string) (*Message, error) {
	var msg Message
	if err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// GetByClientID 找不到时返回 nil, nil
func (s *messageRepoImpl) GetByClientID(ctx context.Context, convID, clientID string) (*Message, error) {
	var msg Message
	err := s.col.FindOne(ctx, bson.M{"conversation_id": convID, "client_id": clientID}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// MaxSeqOf 一批消息中最大的序号，用于推进已读进度
func (s *messageRepoImpl) MaxSeqOf(ctx context.Context, convID string, ids []string) (uint64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	opts := options.FindOne().
		SetSort(bson.D{{Key: "seq", Value: -1}}).
		SetProjection(bson.M{"seq": 1})
	var msg Message
	err := s.col.FindOne(ctx, bson.M{"conversation_id": convID, "_id": bson.M{"$in": ids}}, opts).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return msg.Seq, nil
}
