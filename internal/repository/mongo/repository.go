package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"otagent/internal/domain"
)

// Repository persists update-attempt history. Used on fleet-gateway
// deployments; standalone devices run with the in-memory repository instead.
type Repository struct {
	collection *mongo.Collection
}

type updateDoc struct {
	ID             string `bson:"_id"`
	DeviceID       string `bson:"deviceId"`
	FromVersion    string `bson:"fromVersion"`
	ToVersion      string `bson:"toVersion"`
	Status         string `bson:"status"`
	Reason         string `bson:"reason,omitempty"`
	BytesWritten   int64  `bson:"bytesWritten"`
	DeclaredLength int64  `bson:"declaredLength"`
	StartedAt      int64  `bson:"startedAt"`
	FinishedAt     int64  `bson:"finishedAt"`
}

func NewRepository(client *mongo.Client, dbName, collectionName string) *Repository {
	return &Repository{collection: client.Database(dbName).Collection(collectionName)}
}

func Connect(ctx context.Context, uri string, extra ...*options.ClientOptions) (*mongo.Client, error) {
	opts := append([]*options.ClientOptions{options.Client().ApplyURI(uri)}, extra...)
	client, err := mongo.Connect(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return client, nil
}

func (r *Repository) EnsureIndexes(ctx context.Context) error {
	if r == nil || r.collection == nil {
		return nil
	}
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "deviceId", Value: 1}, {Key: "startedAt", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

func (r *Repository) Insert(ctx context.Context, rec domain.UpdateRecord) error {
	_, err := r.collection.InsertOne(ctx, toDoc(rec))
	if err != nil && mongo.IsDuplicateKeyError(err) {
		return domain.ErrAlreadyExists
	}
	return err
}

func (r *Repository) List(ctx context.Context, limit int) ([]domain.UpdateRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}
	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []domain.UpdateRecord
	for cursor.Next(ctx) {
		var doc updateDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		records = append(records, fromDoc(doc))
	}
	return records, cursor.Err()
}

func (r *Repository) Latest(ctx context.Context) (domain.UpdateRecord, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "startedAt", Value: -1}})
	var doc updateDoc
	if err := r.collection.FindOne(ctx, bson.M{}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return domain.UpdateRecord{}, domain.ErrNotFound
		}
		return domain.UpdateRecord{}, err
	}
	return fromDoc(doc), nil
}

func toDoc(rec domain.UpdateRecord) updateDoc {
	return updateDoc{
		ID:             rec.ID,
		DeviceID:       rec.DeviceID,
		FromVersion:    rec.FromVersion,
		ToVersion:      rec.ToVersion,
		Status:         string(rec.Status),
		Reason:         string(rec.Reason),
		BytesWritten:   rec.BytesWritten,
		DeclaredLength: rec.DeclaredLength,
		StartedAt:      rec.StartedAt.UTC().UnixMilli(),
		FinishedAt:     rec.FinishedAt.UTC().UnixMilli(),
	}
}

func fromDoc(doc updateDoc) domain.UpdateRecord {
	return domain.UpdateRecord{
		ID:             doc.ID,
		DeviceID:       doc.DeviceID,
		FromVersion:    doc.FromVersion,
		ToVersion:      doc.ToVersion,
		Status:         domain.UpdateStatus(doc.Status),
		Reason:         domain.FailureReason(doc.Reason),
		BytesWritten:   doc.BytesWritten,
		DeclaredLength: doc.DeclaredLength,
		StartedAt:      time.UnixMilli(doc.StartedAt).UTC(),
		FinishedAt:     time.UnixMilli(doc.FinishedAt).UTC(),
	}
}
