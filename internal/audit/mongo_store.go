package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type mongoEntry struct {
	Seq          int64             `bson:"seq"`
	ID           string            `bson:"_id"`
	UserID       *string           `bson:"userId"`
	Action       string            `bson:"action"`
	Result       string            `bson:"result"`
	Timestamp    string            `bson:"timestamp"`
	Details      map[string]string `bson:"details,omitempty"`
	PreviousHash string            `bson:"previousHash"`
	Hash         string            `bson:"hash"`
}

// MongoStore persists the chain in a collection with a unique index on seq.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(ctx context.Context, db *mongo.Database, collName string) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("audit: mongo database is nil")
	}
	coll := db.Collection(collName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "seq", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("audit: create seq index: %w", err)
	}
	return &MongoStore{coll: coll}, nil
}

func (m *MongoStore) Tail(ctx context.Context) (Entry, bool, error) {
	var doc mongoEntry
	err := m.coll.FindOne(ctx, bson.M{}, options.FindOne().SetSort(bson.D{{Key: "seq", Value: -1}})).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	e, err := doc.entry()
	if err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

func (m *MongoStore) Append(ctx context.Context, e Entry) error {
	doc := mongoEntry{
		Seq:          e.Seq,
		ID:           e.ID,
		UserID:       e.UserID,
		Action:       e.Action,
		Result:       e.Result,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Details:      e.Details,
		PreviousHash: e.PreviousHash,
		Hash:         e.Hash,
	}
	_, err := m.coll.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return ErrSeqConflict
	}
	return err
}

func (m *MongoStore) Entries(ctx context.Context) ([]Entry, error) {
	cur, err := m.coll.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []Entry
	for cur.Next(ctx) {
		var doc mongoEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		e, err := doc.entry()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, cur.Err()
}

func (d mongoEntry) entry() (Entry, error) {
	ts, err := time.Parse(time.RFC3339Nano, d.Timestamp)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: entry %s: bad timestamp: %w", d.ID, err)
	}
	return Entry{
		Seq:          d.Seq,
		ID:           d.ID,
		UserID:       d.UserID,
		Action:       d.Action,
		Result:       d.Result,
		Timestamp:    ts.UTC(),
		Details:      d.Details,
		PreviousHash: d.PreviousHash,
		Hash:         d.Hash,
	}, nil
}
