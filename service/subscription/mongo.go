package subscription

import (
	"context"
	"errors"
	"time"

	"PRelay/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// subscriptionDoc 一个用户一条，_id 即 userId
type subscriptionDoc struct {
	UserID       string    `bson:"_id"`
	Subscription string    `bson:"subscription"` // 原始 JSON
	UpdateTime   time.Time `bson:"update_time"`
}

// Mongo stores one document per user, upserted by _id.
type Mongo struct {
	coll *mongo.Collection
	now  func() time.Time
}

func NewMongo(db *mongo.Database, collection string) *Mongo {
	if collection == "" {
		collection = "push_subscriptions"
	}
	return &Mongo{coll: db.Collection(collection), now: time.Now}
}

func (m *Mongo) Save(ctx context.Context, userID string, d Descriptor) error {
	filter := bson.M{"_id": userID}
	update := bson.M{"$set": bson.M{
		"subscription": string(d),
		"update_time":  m.now(),
	}}
	_, err := m.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		return errs.WrapMsg(err, "mongo save subscription", "user", userID)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, userID string) (Descriptor, bool, error) {
	var doc subscriptionDoc
	err := m.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errs.WrapMsg(err, "mongo get subscription", "user", userID)
	}
	return Descriptor(doc.Subscription), true, nil
}
