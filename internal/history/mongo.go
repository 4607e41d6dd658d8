package history

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	usersCollection         = "users"
	conversationsCollection = "conversations"
)

type MongoRecorder struct {
	client        *mongo.Client
	users         *mongo.Collection
	conversations *mongo.Collection
	now           func() time.Time
}

func NewMongoRecorder(ctx context.Context, uri, database string) (*MongoRecorder, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetServerSelectionTimeout(10*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	db := client.Database(database)
	return &MongoRecorder{
		client:        client,
		users:         db.Collection(usersCollection),
		conversations: db.Collection(conversationsCollection),
		now:           time.Now,
	}, nil
}

// TouchUser делает upsert профиля: created_at выставляется только при вставке.
func (m *MongoRecorder) TouchUser(ctx context.Context, user User) error {
	now := m.now()
	update := bson.M{
		"$set": bson.M{
			"username":    user.Username,
			"first_name":  user.FirstName,
			"last_active": now,
		},
		"$setOnInsert": bson.M{
			"created_at": now,
		},
	}
	_, err := m.users.UpdateOne(ctx, bson.M{"user_id": user.UserID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", user.UserID, err)
	}
	return nil
}

func (m *MongoRecorder) SaveInteraction(ctx context.Context, rec Record) error {
	if rec.Timestamp.IsZero() {
		rec.Timestamp = m.now()
	}
	if _, err := m.conversations.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	return nil
}

func (m *MongoRecorder) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
