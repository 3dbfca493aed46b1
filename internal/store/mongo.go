// ABOUTME: MongoDB-backed Store implementation over the conversations and messages collections
// ABOUTME: Document-per-entity with query-by-filter, sort, skip/limit, and whole-document replace

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"

	connectTimeout = 10 * time.Second
)

// MongoStore implements Store on top of MongoDB. No multi-document
// transactions are used; callers sequence writes to keep previews consistent.
type MongoStore struct {
	client        *mongo.Client
	db            *mongo.Database
	conversations *mongo.Collection
	messages      *mongo.Collection
	logger        *slog.Logger
}

// NewMongoStore connects to MongoDB, verifies the connection, and ensures the
// indexes the query surface relies on. Pass nil logger for default.
func NewMongoStore(ctx context.Context, uri, dbName string, maxPoolSize uint64, logger *slog.Logger) (*MongoStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := options.Client().ApplyURI(uri)
	if maxPoolSize > 0 {
		opts.SetMaxPoolSize(maxPoolSize)
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, opts)
	if err != nil {
		return nil, fmt.Errorf("connecting to mongodb: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongodb: %w", err)
	}

	db := client.Database(dbName)
	s := &MongoStore{
		client:        client,
		db:            db,
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		logger:        logger.With("component", "store"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("ensuring indexes: %w", err)
	}

	return s, nil
}

// Close disconnects the underlying client.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Database exposes the underlying database handle so sibling components, such
// as the user directory, can share the connection pool.
func (s *MongoStore) Database() *mongo.Database {
	return s.db
}

// ensureIndexes creates the indexes backing the store's query surface. The
// unique sparse index on direct_key is what makes concurrent direct-chat
// creation race-safe: the loser gets a duplicate-key error and re-looks-up.
func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.conversations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "direct_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "participants.user_id", Value: 1}}},
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
	})
	if err != nil {
		return err
	}

	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return err
}

// InsertConversation stores a new conversation. Inserting a direct
// conversation whose pair already exists returns ErrDuplicateConversation.
func (s *MongoStore) InsertConversation(ctx context.Context, conv *Conversation) error {
	_, err := s.conversations.InsertOne(ctx, conv)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateConversation
		}
		return fmt.Errorf("inserting conversation: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by id.
func (s *MongoStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting conversation: %w", err)
	}
	return &conv, nil
}

// ReplaceConversation saves the whole conversation document.
func (s *MongoStore) ReplaceConversation(ctx context.Context, conv *Conversation) error {
	res, err := s.conversations.ReplaceOne(ctx, bson.M{"_id": conv.ID}, conv)
	if err != nil {
		return fmt.Errorf("replacing conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindDirectConversation matches a non-group conversation by its exact
// two-member set, order-insensitive.
func (s *MongoStore) FindDirectConversation(ctx context.Context, userA, userB string) (*Conversation, error) {
	var conv Conversation
	filter := bson.M{"direct_key": DirectKey(userA, userB), "is_group": false}
	err := s.conversations.FindOne(ctx, filter).Decode(&conv)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("finding direct conversation: %w", err)
	}
	return &conv, nil
}

// ListConversationsForUser returns the user's conversations sorted by
// updatedAt descending.
func (s *MongoStore) ListConversationsForUser(ctx context.Context, userID string) ([]*Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}})
	cursor, err := s.conversations.Find(ctx, bson.M{"participants.user_id": userID}, opts)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer cursor.Close(ctx)

	var convs []*Conversation
	if err := cursor.All(ctx, &convs); err != nil {
		return nil, fmt.Errorf("decoding conversations: %w", err)
	}
	return convs, nil
}

// AddSeen idempotently adds userID to the conversation's seenBy set.
func (s *MongoStore) AddSeen(ctx context.Context, conversationID, userID string) error {
	res, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": conversationID},
		bson.M{"$addToSet": bson.M{"seen_by": userID}},
	)
	if err != nil {
		return fmt.Errorf("adding seen marker: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// InsertMessage stores a new message.
func (s *MongoStore) InsertMessage(ctx context.Context, msg *Message) error {
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("inserting message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by id.
func (s *MongoStore) GetMessage(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting message: %w", err)
	}
	return &msg, nil
}

// ReplaceMessage saves the whole message document.
func (s *MongoStore) ReplaceMessage(ctx context.Context, msg *Message) error {
	res, err := s.messages.ReplaceOne(ctx, bson.M{"_id": msg.ID}, msg)
	if err != nil {
		return fmt.Errorf("replacing message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ListMessages returns messages sorted by createdAt descending, restricted to
// those created strictly after the caller's delete horizon when one is set.
func (s *MongoStore) ListMessages(ctx context.Context, conversationID string, after *time.Time, skip, limit int64) ([]*Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if after != nil {
		filter["created_at"] = bson.M{"$gt": *after}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip)
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer cursor.Close(ctx)

	var msgs []*Message
	if err := cursor.All(ctx, &msgs); err != nil {
		return nil, fmt.Errorf("decoding messages: %w", err)
	}
	return msgs, nil
}
