package storage

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	migerr "github.com/acme-corp/pg-mongo-migrator/internal/errors"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
)

// MongoOptions identifies the target collection.
type MongoOptions struct {
	URI        string
	Database   string
	Collection string
	// MaxPoolSize bounds driver connections; zero keeps the driver default.
	MaxPoolSize uint64
}

// MongoWriter inserts batches into one collection. The driver client is
// pooled and safe for concurrent use.
type MongoWriter struct {
	opts       MongoOptions
	client     *mongo.Client
	collection *mongo.Collection
}

func NewMongoWriter(opts MongoOptions) *MongoWriter {
	return &MongoWriter{opts: opts}
}

// Open connects and pings the primary so an unreachable sink fails before
// any batch work starts.
func (w *MongoWriter) Open(ctx context.Context) error {
	clientOpts := options.Client().ApplyURI(w.opts.URI)
	if w.opts.MaxPoolSize > 0 {
		clientOpts.SetMaxPoolSize(w.opts.MaxPoolSize)
	}
	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return migerr.NewFatal("mongo: connect", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return migerr.NewFatal("mongo: ping", err)
	}
	w.client = client
	w.collection = client.Database(w.opts.Database).Collection(w.opts.Collection)
	return nil
}

func (w *MongoWriter) InsertMany(ctx context.Context, records []ingestion.Record) error {
	if len(records) == 0 {
		return nil
	}
	if w.collection == nil {
		return migerr.NewFatal("mongo: insert", fmt.Errorf("writer for %s.%s is not open", w.opts.Database, w.opts.Collection))
	}
	// Unordered, so a replayed batch still inserts the rows that are missing
	// after the first duplicate.
	opts := options.InsertMany().SetOrdered(false)
	if _, err := w.collection.InsertMany(ctx, Documents(records), opts); err != nil {
		if onlyDuplicates(err) {
			return nil
		}
		return classifyMongoError(err)
	}
	return nil
}

func (w *MongoWriter) Close(ctx context.Context) error {
	if w.client == nil {
		return nil
	}
	err := w.client.Disconnect(ctx)
	w.client = nil
	w.collection = nil
	return err
}

// Documents converts records to ordered BSON documents.
func Documents(records []ingestion.Record) []interface{} {
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		doc := make(bson.D, len(rec))
		for j, f := range rec {
			doc[j] = bson.E{Key: f.Name, Value: f.Value}
		}
		docs[i] = doc
	}
	return docs
}

// onlyDuplicates reports whether every write error of a bulk insert is a
// unique index violation. Those rows are already in the collection, so the
// batch has landed.
func onlyDuplicates(err error) bool {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) {
		return false
	}
	if bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return false
	}
	for _, we := range bwe.WriteErrors {
		if !isDuplicateKeyCode(we.Code) {
			return false
		}
	}
	return true
}

func isDuplicateKeyCode(code int) bool {
	return code == 11000 || code == 11001 || code == 12582
}

// classifyMongoError treats every driver failure (duplicate key, network,
// timeout, server error) as retryable except a value the BSON codec cannot
// encode, which will never succeed.
func classifyMongoError(err error) error {
	var noEnc bsoncodec.ErrNoEncoder
	if errors.As(err, &noEnc) {
		return migerr.NewConfiguration("mongo: insert", err)
	}
	if mongo.IsDuplicateKeyError(err) {
		return migerr.NewTransient("mongo: insert duplicate key", err)
	}
	return migerr.NewTransient("mongo: insert", err)
}
