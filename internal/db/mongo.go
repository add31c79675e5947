package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"benefits_fetcher/internal/config"
	"benefits_fetcher/internal/logger"
	"benefits_fetcher/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type MongoDB struct {
	client     *mongo.Client
	database   *mongo.Database
	runHistory *mongo.Collection
	log        *logger.Logger
}

// PersistResult counts what one batch did to its collection.
type PersistResult struct {
	Mode     config.WriteMode
	Batch    int
	Upserted int
	Modified int
	Matched  int
	Inserted int
}

// Written is the number of records now present for the batch.
func (r PersistResult) Written() int {
	if r.Mode == config.WriteInsert {
		return r.Inserted
	}
	return r.Upserted + r.Matched
}

func NewMongoDB(cfg config.DBConfig, log *logger.Logger) (*MongoDB, error) {
	if log == nil {
		log = logger.Discard()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.Connection))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("can't ping MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)

	return &MongoDB{
		client:     client,
		database:   db,
		runHistory: db.Collection(cfg.Collections.RunHistory),
		log:        log,
	}, nil
}

// EnsureIndexes creates the identity index of a benefits collection. It is
// unique only for upsert collections; insert collections accept repeats.
func (d *MongoDB) EnsureIndexes(ctx context.Context, collection string, mode config.WriteMode) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	indexes := d.database.Collection(collection).Indexes()

	_, err := indexes.CreateOne(ctx, identityIndex(mode))
	if err != nil {
		// an index created under the other write mode keeps working, it just
		// cannot be redefined in place
		if mongo.IsDuplicateKeyError(err) || isIndexConflict(err) {
			d.log.Warn("identity index not recreated", "collection", collection, "error", err)
			return nil
		}
		return fmt.Errorf("create identity index on %s: %w", collection, err)
	}

	_, err = indexes.CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "fetched_at", Value: -1}},
	})
	if err != nil {
		d.log.Warn("fetched_at index not created", "collection", collection, "error", err)
	}
	return nil
}

func identityIndex(mode config.WriteMode) mongo.IndexModel {
	model := mongo.IndexModel{Keys: bson.D{{Key: "identity_key", Value: 1}}}
	if mode != config.WriteInsert {
		model.Options = options.Index().SetUnique(true)
	}
	return model
}

func isIndexConflict(err error) bool {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		// IndexOptionsConflict, IndexKeySpecsConflict
		return cmdErr.Code == 85 || cmdErr.Code == 86
	}
	return false
}

// DedupeRecords keeps the last record of every identity key, at the position
// of its first occurrence.
func DedupeRecords(records []models.BenefitRecord) []models.BenefitRecord {
	pos := make(map[string]int, len(records))
	out := make([]models.BenefitRecord, 0, len(records))

	for _, r := range records {
		if i, ok := pos[r.IdentityKey]; ok {
			out[i] = r
			continue
		}
		pos[r.IdentityKey] = len(out)
		out = append(out, r)
	}
	return out
}

// UpsertModels returns one replace-or-insert model per distinct identity key.
func UpsertModels(records []models.BenefitRecord) []mongo.WriteModel {
	unique := DedupeRecords(records)
	writes := make([]mongo.WriteModel, 0, len(unique))

	for _, r := range unique {
		writes = append(writes, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"identity_key": r.IdentityKey}).
			SetReplacement(r).
			SetUpsert(true))
	}
	return writes
}

// PersistBenefits writes one batch to collection. Upserting the same batch
// twice leaves the collection as after the first write.
func (d *MongoDB) PersistBenefits(ctx context.Context, collection string, mode config.WriteMode, records []models.BenefitRecord) (PersistResult, error) {
	result := PersistResult{Mode: mode, Batch: len(records)}
	if len(records) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	coll := d.database.Collection(collection)

	if mode == config.WriteInsert {
		docs := make([]any, 0, len(records))
		for _, r := range records {
			docs = append(docs, r)
		}
		res, err := coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
		if res != nil {
			result.Inserted = len(res.InsertedIDs)
		}
		if err != nil {
			return result, fmt.Errorf("insert into %s: %w", collection, err)
		}
		return result, nil
	}

	res, err := coll.BulkWrite(ctx, UpsertModels(records), options.BulkWrite().SetOrdered(false))
	if res != nil {
		result.Upserted = int(res.UpsertedCount)
		result.Modified = int(res.ModifiedCount)
		result.Matched = int(res.MatchedCount)
	}
	if err != nil {
		return result, fmt.Errorf("upsert into %s: %w", collection, err)
	}
	return result, nil
}

// ListBySource returns every document of one source collection.
func (d *MongoDB) ListBySource(ctx context.Context, collection string) ([]models.BenefitRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cursor, err := d.database.Collection(collection).Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	records := []models.BenefitRecord{}
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", collection, err)
	}
	return records, nil
}

// ListAll returns the documents of every named collection, keyed by source.
func (d *MongoDB) ListAll(ctx context.Context, collections map[string]string) (map[string][]models.BenefitRecord, error) {
	out := make(map[string][]models.BenefitRecord, len(collections))
	for source, collection := range collections {
		records, err := d.ListBySource(ctx, collection)
		if err != nil {
			return nil, err
		}
		out[source] = records
	}
	return out, nil
}

// CollectionStats summarizes one benefits collection.
func (d *MongoDB) CollectionStats(ctx context.Context, collection string) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pipeline := mongo.Pipeline{
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total_documents", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "last_fetched_at", Value: bson.D{{Key: "$max", Value: "$fetched_at"}}},
			{Key: "keys", Value: bson.D{{Key: "$addToSet", Value: "$identity_key"}}},
		}}},
		bson.D{{Key: "$project", Value: bson.D{
			{Key: "_id", Value: 0},
			{Key: "total_documents", Value: 1},
			{Key: "last_fetched_at", Value: 1},
			{Key: "distinct_keys", Value: bson.D{{Key: "$size", Value: "$keys"}}},
		}}},
	}

	cursor, err := d.database.Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var results []map[string]any
	if err := cursor.All(ctx, &results); err != nil {
		return nil, err
	}

	if len(results) == 0 {
		return map[string]any{"total_documents": 0}, nil
	}
	return results[0], nil
}

func (d *MongoDB) SaveRunHistory(ctx context.Context, history *models.RunHistory) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := d.runHistory.InsertOne(ctx, history)
	return err
}

// RecentRuns returns the latest run history entries of a source, newest first.
func (d *MongoDB) RecentRuns(ctx context.Context, source string, limit int64) ([]models.RunHistory, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(limit)

	cursor, err := d.runHistory.Find(ctx, bson.M{"source": source}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	runs := []models.RunHistory{}
	if err := cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

func (d *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return d.client.Disconnect(ctx)
}
