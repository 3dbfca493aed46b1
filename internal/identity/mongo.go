// ABOUTME: MongoDB-backed Directory reading the users collection
// ABOUTME: The only write is the $pull pruning an invalid device token

package identity

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const usersCollection = "users"

// userDoc is the stored user shape; only the fields this subsystem consumes.
type userDoc struct {
	ID           string   `bson:"_id"`
	Username     string   `bson:"username"`
	DisplayName  string   `bson:"display_name"`
	AvatarURL    string   `bson:"avatar_url,omitempty"`
	DeviceTokens []string `bson:"device_tokens,omitempty"`
	Status       string   `bson:"status,omitempty"`
}

func (d *userDoc) toUser() *User {
	return &User{
		ID:           d.ID,
		Username:     d.Username,
		DisplayName:  d.DisplayName,
		AvatarURL:    d.AvatarURL,
		DeviceTokens: d.DeviceTokens,
		Deleted:      d.Status == "deleted",
	}
}

// MongoDirectory implements Directory over the users collection.
type MongoDirectory struct {
	users *mongo.Collection
}

// NewMongoDirectory creates a directory reading from the given database.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{users: db.Collection(usersCollection)}
}

// GetUser retrieves a single user by id.
func (d *MongoDirectory) GetUser(ctx context.Context, id string) (*User, error) {
	var doc userDoc
	err := d.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("getting user: %w", err)
	}
	return doc.toUser(), nil
}

// GetUsers retrieves users by id; missing ids are silently omitted.
func (d *MongoDirectory) GetUsers(ctx context.Context, ids []string) ([]*User, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cursor, err := d.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []userDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decoding users: %w", err)
	}

	users := make([]*User, len(docs))
	for i := range docs {
		users[i] = docs[i].toUser()
	}
	return users, nil
}

// RemoveDeviceToken prunes one device registration from the user's profile.
func (d *MongoDirectory) RemoveDeviceToken(ctx context.Context, userID, token string) error {
	_, err := d.users.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"device_tokens": token}},
	)
	if err != nil {
		return fmt.Errorf("removing device token: %w", err)
	}
	return nil
}
