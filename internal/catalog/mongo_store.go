package catalog

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	errx "github.com/travel-sense/server/internal/core/error"
	logx "github.com/travel-sense/server/pkg/logger"
)

// MongoStore keeps each collection as a MongoDB collection of plain documents.
type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

func (s *MongoStore) Load(ctx context.Context, collection string) ([]Record, error) {
	cur, err := s.db.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		logx.Error().Err(err).Str("collection", collection).Msg("failed to query catalog collection")
		return nil, errx.WrapMongo(err)
	}
	defer cur.Close(ctx)

	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, errx.WrapMongo(err)
	}

	records := make([]Record, 0, len(docs))
	for _, d := range docs {
		delete(d, "_id")
		r, err := toRecord(d)
		if err != nil {
			return nil, fmt.Errorf("normalise %s document: %w", collection, err)
		}
		records = append(records, r)
	}
	return records, nil
}

// Save replaces the collection content inside a session transaction when the
// deployment supports it, otherwise as delete-then-insert.
func (s *MongoStore) Save(ctx context.Context, collection string, records []Record) error {
	coll := s.db.Collection(collection)
	replace := func(ctx context.Context) error {
		if _, err := coll.DeleteMany(ctx, bson.M{}); err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		docs := make([]any, 0, len(records))
		for _, r := range records {
			docs = append(docs, bson.M(r))
		}
		_, err := coll.InsertMany(ctx, docs)
		return err
	}

	sess, err := s.db.Client().StartSession()
	if err != nil {
		return errx.WrapMongo(replace(ctx))
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		return nil, replace(sc)
	})
	if err != nil {
		logx.Warn().Err(err).Str("collection", collection).Msg("transactional replace failed, retrying without transaction")
		return errx.WrapMongo(replace(ctx))
	}
	return nil
}

var _ Store = (*MongoStore)(nil)
