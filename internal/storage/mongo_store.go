package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ConnectMongo dials uri and checks the connection with a short ping. When
// only the ping fails the client is still returned alongside the error: the
// driver keeps selecting servers on every operation, so callers that can
// fall back may hold on to it until the server comes back.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is empty")
	}
	cli, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cli.Ping(pctx, nil); err != nil {
		return cli, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return cli, nil
}

// ---------- BLOB STORE (durable ciphertext) ----------

// MongoBlobStore keeps each blob as one document in a bucket collection,
// keyed by _id. Driver errors surface as ErrBackendUnavailable.
type MongoBlobStore struct {
	coll *mongo.Collection
}

func NewMongoBlobStore(db *mongo.Database, bucket string) *MongoBlobStore {
	return &MongoBlobStore{coll: db.Collection(bucket)}
}

func (m *MongoBlobStore) Location() Location { return Durable }

func (m *MongoBlobStore) Put(ctx context.Context, hint string, data []byte) (string, error) {
	if hint == "" {
		return "", ErrInvalidRef
	}
	_, err := m.coll.InsertOne(ctx, bson.M{
		"_id":       hint,
		"data":      data,
		"createdAt": time.Now().UTC(),
	})
	if err != nil {
		return "", unavailable(err)
	}
	return hint, nil
}

func (m *MongoBlobStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if ref == "" {
		return nil, ErrInvalidRef
	}
	var doc struct {
		Data []byte `bson:"data"`
	}
	err := m.coll.FindOne(ctx, bson.M{"_id": ref}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable(err)
	}
	return doc.Data, nil
}

func (m *MongoBlobStore) Delete(ctx context.Context, ref string) error {
	if ref == "" {
		return ErrInvalidRef
	}
	if _, err := m.coll.DeleteOne(ctx, bson.M{"_id": ref}); err != nil {
		return unavailable(err)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
}

// ---------- RECORD STORE (file metadata) ----------

// mongoRecord keeps CreatedAt as RFC3339Nano text; BSON dates would drop
// sub-millisecond precision.
type mongoRecord struct {
	ID              string `bson:"_id"`
	OwnerID         string `bson:"ownerId"`
	OriginalName    string `bson:"originalName"`
	PlainSize       int64  `bson:"plainSize"`
	StorageLocation string `bson:"storageLocation"`
	StorageRef      string `bson:"storageRef"`
	CipherSuiteID   string `bson:"cipherSuiteId"`
	CreatedAt       string `bson:"createdAt"`
}

type MongoRecordStore struct {
	coll *mongo.Collection
}

func NewMongoRecordStore(ctx context.Context, db *mongo.Database, collName string) (*MongoRecordStore, error) {
	coll := db.Collection(collName)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return nil, unavailable(err)
	}
	return &MongoRecordStore{coll: coll}, nil
}

func (m *MongoRecordStore) Insert(ctx context.Context, r Record) error {
	_, err := m.coll.InsertOne(ctx, mongoRecord{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		OriginalName:    r.OriginalName,
		PlainSize:       r.PlainSize,
		StorageLocation: string(r.StorageLocation),
		StorageRef:      r.StorageRef,
		CipherSuiteID:   r.CipherSuiteID,
		CreatedAt:       r.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if mongo.IsDuplicateKeyError(err) {
		return ErrRecordExists
	}
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (m *MongoRecordStore) Get(ctx context.Context, id string) (Record, error) {
	var doc mongoRecord
	err := m.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, ErrRecordNotFound
	}
	if err != nil {
		return Record{}, unavailable(err)
	}
	return doc.record()
}

func (m *MongoRecordStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	cur, err := m.coll.Find(ctx, bson.M{"ownerId": ownerID})
	if err != nil {
		return nil, unavailable(err)
	}
	defer cur.Close(ctx)

	out := make([]Record, 0)
	for cur.Next(ctx) {
		var doc mongoRecord
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		r, err := doc.record()
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := cur.Err(); err != nil {
		return nil, unavailable(err)
	}
	sortRecords(out)
	return out, nil
}

func (m *MongoRecordStore) Delete(ctx context.Context, id string) error {
	res, err := m.coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return unavailable(err)
	}
	if res.DeletedCount == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (d mongoRecord) record() (Record, error) {
	t, err := time.Parse(time.RFC3339Nano, d.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("record %s: bad createdAt: %w", d.ID, err)
	}
	return Record{
		ID:              d.ID,
		OwnerID:         d.OwnerID,
		OriginalName:    d.OriginalName,
		PlainSize:       d.PlainSize,
		StorageLocation: Location(d.StorageLocation),
		StorageRef:      d.StorageRef,
		CipherSuiteID:   d.CipherSuiteID,
		CreatedAt:       t.UTC(),
	}, nil
}
