package msglog

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const collectionName = "messages"

var _ Store = (*MongoStore)(nil)

// MongoStore implements Store on a MongoDB collection keyed by the
// sender-assigned message id.
type MongoStore struct {
	coll   *mongo.Collection
	client *mongo.Client
	now    func() time.Time
}

// Open connects to MongoDB and prepares the messages collection, including
// the conversation/read-state index used by every query in this package.
func Open(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, err
	}
	coll := client.Database(database).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "conversation_id", Value: 1},
			{Key: "created_at", Value: -1},
			{Key: "_id", Value: -1},
		},
	})
	if err != nil {
		return nil, err
	}
	s := NewMongoStore(coll)
	s.client = client
	return s, nil
}

// NewMongoStore wraps an existing collection (tests inject their own).
func NewMongoStore(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll, now: time.Now}
}

// Ping checks the connection for readiness probes.
func (s *MongoStore) Ping(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Ping(ctx, nil)
}

// Close disconnects the underlying client. No-op when the store wraps a
// caller-owned collection.
func (s *MongoStore) Close(ctx context.Context) error {
	if s.client == nil {
		return nil
	}
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Append(ctx context.Context, msg *Message) error {
	if msg.Type == "" {
		msg.Type = MessageTypeText
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now().UTC()
	}
	msg.UpdatedAt = msg.CreatedAt
	_, err := s.coll.InsertOne(ctx, msg)
	if mongo.IsDuplicateKeyError(err) {
		return ErrDuplicateID
	}
	return err
}

func (s *MongoStore) Find(ctx context.Context, id string) (*Message, error) {
	var msg Message
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *MongoStore) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(offset)).
		SetLimit(int64(limit))
	cur, err := s.coll.Find(ctx, bson.M{"conversation_id": conversationID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var msgs []*Message
	if err := cur.All(ctx, &msgs); err != nil {
		return nil, err
	}
	// Fetched newest-first for the page window; presented oldest-to-newest.
	return reverse(msgs), nil
}

func (s *MongoStore) MarkReadExcept(ctx context.Context, conversationID, readerID string) (int64, error) {
	res, err := s.coll.UpdateMany(ctx,
		bson.M{
			"conversation_id": conversationID,
			"sender_id":       bson.M{"$ne": readerID},
			"read":            false,
		},
		bson.M{"$set": bson.M{"read": true, "updated_at": s.now().UTC()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (s *MongoStore) CountUnread(ctx context.Context, conversationID, readerID string) (int64, error) {
	return s.coll.CountDocuments(ctx, bson.M{
		"conversation_id": conversationID,
		"sender_id":       bson.M{"$ne": readerID},
		"read":            false,
	})
}
