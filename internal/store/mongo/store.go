// Package mongo is the durable Store adapter backed by MongoDB.
package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcore/internal/domain/chat"
	"chatcore/internal/store"
)

type Store struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	receipts      *mongo.Collection
	reactions     *mongo.Collection
}

var _ store.Store = (*Store)(nil)

func NewStore(db *mongo.Database) *Store {
	s := &Store{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		receipts:      db.Collection("read_receipts"),
		reactions:     db.Collection("reactions"),
	}
	ctx := context.Background()
	_, _ = s.conversations.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "participants", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = s.receipts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "conversation_id", Value: 1}, {Key: "user_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	_, _ = s.reactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "message_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "emoji", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return s
}

func (s *Store) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	convo, err := s.GetConversation(ctx, conversationID)
	if err != nil {
		return false, err
	}
	return convo.HasParticipant(userID), nil
}

func (s *Store) GetOrCreateConversation(ctx context.Context, kind chat.Kind, participants []string) (chat.Conversation, bool, error) {
	normalized := chat.NormalizeParticipants(participants)
	filter := bson.M{"kind": kind, "participants": normalized}
	var existing chat.Conversation
	err := s.conversations.FindOne(ctx, filter).Decode(&existing)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Conversation{}, false, err
	}
	convo := chat.Conversation{
		ID:           newID(),
		Kind:         kind,
		Participants: normalized,
		CreatedAt:    time.Now().UTC(),
	}
	if _, err := s.conversations.InsertOne(ctx, convo); err != nil {
		// Lost a create race: the unique index caught the duplicate pair.
		if mongo.IsDuplicateKeyError(err) {
			if findErr := s.conversations.FindOne(ctx, filter).Decode(&existing); findErr == nil {
				return existing, false, nil
			}
		}
		return chat.Conversation{}, false, err
	}
	return convo, true, nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var convo chat.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&convo)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Conversation{}, chat.ErrNotFound
		}
		return chat.Conversation{}, err
	}
	return convo, nil
}

func (s *Store) ListConversations(ctx context.Context, userID string) ([]chat.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cur, err := s.conversations.Find(ctx, bson.M{"participants": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]chat.Conversation, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) error {
	_, err := s.messages.InsertOne(ctx, msg)
	return err
}

func (s *Store) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	var msg chat.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.Message{}, chat.ErrNotFound
		}
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, beforeSeq uint64) ([]chat.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if beforeSeq > 0 {
		filter["seq"] = bson.M{"$lt": beforeSeq}
	}
	opts := options.Find().SetSort(bson.D{{Key: "seq", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	page := make([]chat.Message, 0)
	if err := cur.All(ctx, &page); err != nil {
		return nil, err
	}
	// Stored newest-first for the page cut; callers get ascending order.
	for i, j := 0, len(page)-1; i < j; i, j = i+1, j-1 {
		page[i], page[j] = page[j], page[i]
	}
	return page, nil
}

func (s *Store) SearchMessages(ctx context.Context, filter store.SearchFilter) ([]chat.Message, error) {
	query := bson.M{"deleted": false}
	if filter.ConversationID != "" {
		query["conversation_id"] = filter.ConversationID
	}
	if filter.SenderID != "" {
		query["sender_id"] = filter.SenderID
	}
	if filter.MessageType != "" {
		query["message_type"] = filter.MessageType
	}
	created := bson.M{}
	if !filter.From.IsZero() {
		created["$gte"] = filter.From
	}
	if !filter.To.IsZero() {
		created["$lte"] = filter.To
	}
	if len(created) > 0 {
		query["created_at"] = created
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.messages.Find(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]chat.Message, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) UpdateMessage(ctx context.Context, msg chat.Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func (s *Store) LastSequence(ctx context.Context, conversationID string) (uint64, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})
	var msg chat.Message
	err := s.messages.FindOne(ctx, bson.M{"conversation_id": conversationID}, opts).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, nil
		}
		return 0, err
	}
	return msg.Seq, nil
}

func (s *Store) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.messages.UpdateMany(ctx,
		bson.M{"deleted": false, "created_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"deleted": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *Store) SaveReadPointer(ctx context.Context, rp chat.ReadPointer) error {
	filter := bson.M{"conversation_id": rp.ConversationID, "user_id": rp.UserID}
	update := bson.M{"$set": bson.M{"seq": rp.Seq, "updated_at": rp.UpdatedAt}}
	opts := options.Update().SetUpsert(true)
	_, err := s.receipts.UpdateOne(ctx, filter, update, opts)
	return err
}

func (s *Store) GetReadPointer(ctx context.Context, conversationID, userID string) (chat.ReadPointer, error) {
	var rp chat.ReadPointer
	err := s.receipts.FindOne(ctx, bson.M{"conversation_id": conversationID, "user_id": userID}).Decode(&rp)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return chat.ReadPointer{ConversationID: conversationID, UserID: userID}, nil
		}
		return chat.ReadPointer{}, err
	}
	return rp, nil
}

func (s *Store) AddReaction(ctx context.Context, r chat.Reaction) (bool, error) {
	_, err := s.reactions.InsertOne(ctx, r)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Store) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	res, err := s.reactions.DeleteOne(ctx, bson.M{"message_id": messageID, "user_id": userID, "emoji": emoji})
	if err != nil {
		return false, err
	}
	return res.DeletedCount > 0, nil
}

func (s *Store) ListReactions(ctx context.Context, messageID string) ([]chat.Reaction, error) {
	cur, err := s.reactions.Find(ctx, bson.M{"message_id": messageID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := make([]chat.Reaction, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
