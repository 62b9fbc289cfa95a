package docstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const nodesCollection = "nodes"

// nodeRecord is one tree node. Children are found through the parent field;
// intermediate nodes without a value have no record.
type nodeRecord struct {
	ID        string    `bson:"_id"`
	Parent    string    `bson:"parent"`
	Key       string    `bson:"key"`
	Value     bson.M    `bson:"value"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore implements Store on a single MongoDB collection. Subscribe uses
// change streams, so the server must run as a replica set.
type MongoStore struct {
	client *mongo.Client
	nodes  *mongo.Collection

	baseCtx context.Context
	stopAll context.CancelFunc
	wg      sync.WaitGroup
}

// ConnectMongo dials MongoDB and verifies the connection.
func ConnectMongo(ctx context.Context, uri, database string) (*MongoStore, error) {
	clientOpts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(5 * time.Second).
		SetMaxPoolSize(100).
		SetMinPoolSize(10)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return NewMongoStore(client.Database(database)), nil
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	ctx, cancel := context.WithCancel(context.Background())
	return &MongoStore{
		client:  db.Client(),
		nodes:   db.Collection(nodesCollection),
		baseCtx: ctx,
		stopAll: cancel,
	}
}

func (m *MongoStore) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "parent", Value: 1}, {Key: "key", Value: 1}}},
	}

	_, err := m.nodes.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

func (m *MongoStore) Get(ctx context.Context, path string, q Query) (Snapshot, error) {
	if err := ValidatePath(path); err != nil {
		return Snapshot{}, err
	}

	snap := Snapshot{Path: path, Key: KeyOf(path)}

	var rec nodeRecord
	err := m.nodes.FindOne(ctx, bson.M{"_id": path}).Decode(&rec)
	switch {
	case err == nil:
		snap.Value = normalizeDocument(rec.Value)
	case !errors.Is(err, mongo.ErrNoDocuments):
		return Snapshot{}, fmt.Errorf("failed to get %s: %w", path, err)
	}

	sortBy := bson.D{{Key: "key", Value: 1}}
	if q.OrderByChild != "" {
		sortBy = bson.D{{Key: "value." + q.OrderByChild, Value: 1}, {Key: "key", Value: 1}}
	}
	cur, err := m.nodes.Find(ctx, bson.M{"parent": path}, options.Find().SetSort(sortBy))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to list children of %s: %w", path, err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var child nodeRecord
		if err := cur.Decode(&child); err != nil {
			return Snapshot{}, fmt.Errorf("failed to decode child of %s: %w", path, err)
		}
		snap.Children = append(snap.Children, Snapshot{
			Path:  child.ID,
			Key:   child.Key,
			Value: normalizeDocument(child.Value),
		})
	}
	if err := cur.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("failed to list children of %s: %w", path, err)
	}

	// Mongo orders mixed numeric types on its own; keep the in-process order identical.
	sortChildren(snap.Children, q)
	return snap, nil
}

func (m *MongoStore) Set(ctx context.Context, path string, doc Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}
	if doc == nil {
		return m.Delete(ctx, path)
	}

	update := bson.M{
		"$set": bson.M{
			"parent":     ParentOf(path),
			"key":        KeyOf(path),
			"value":      map[string]any(doc),
			"updated_at": time.Now(),
		},
		"$inc": bson.M{"version": 1},
	}
	_, err := m.nodes.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func (m *MongoStore) Update(ctx context.Context, path string, fields Document) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	set := bson.M{"updated_at": time.Now()}
	for k, v := range fields {
		set["value."+k] = v
	}
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"parent": ParentOf(path), "key": KeyOf(path)},
		"$inc":         bson.M{"version": 1},
	}
	_, err := m.nodes.UpdateOne(ctx, bson.M{"_id": path}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	return nil
}

func (m *MongoStore) Delete(ctx context.Context, path string) error {
	if err := ValidatePath(path); err != nil {
		return err
	}

	_, err := m.nodes.DeleteMany(ctx, subtreeFilter(path))
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

func (m *MongoStore) NewKey(string) (string, error) {
	id := primitive.NewObjectID()
	if id.IsZero() {
		return "", ErrKeyGeneration
	}
	return id.Hex(), nil
}

// Transact commits fn's result with a version-guarded write. A lost race shows
// up as zero matched documents or a duplicate _id on insert and is retried.
func (m *MongoStore) Transact(ctx context.Context, path string, fn TransactFunc) (Document, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < MaxTransactAttempts; attempt++ {
		var (
			rec    nodeRecord
			exists = true
		)
		if err := m.nodes.FindOne(ctx, bson.M{"_id": path}).Decode(&rec); err != nil {
			if !errors.Is(err, mongo.ErrNoDocuments) {
				return nil, fmt.Errorf("failed to read %s: %w", path, err)
			}
			exists = false
		}

		var current Document
		if exists {
			current = normalizeDocument(rec.Value)
		}

		next, err := fn(current)
		if err != nil {
			return nil, err
		}

		committed, err := m.commit(ctx, path, exists, rec.Version, next)
		if err != nil {
			return nil, err
		}
		if committed {
			return next, nil
		}
	}
	return nil, ErrTooManyRetries
}

func (m *MongoStore) commit(ctx context.Context, path string, exists bool, version int64, next Document) (bool, error) {
	guard := bson.M{"_id": path, "version": version}

	switch {
	case next == nil && !exists:
		return true, nil

	case next == nil:
		res, err := m.nodes.DeleteOne(ctx, guard)
		if err != nil {
			return false, fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return res.DeletedCount == 1, nil

	case exists:
		update := bson.M{
			"$set": bson.M{"value": map[string]any(next), "updated_at": time.Now()},
			"$inc": bson.M{"version": 1},
		}
		res, err := m.nodes.UpdateOne(ctx, guard, update)
		if err != nil {
			return false, fmt.Errorf("failed to write %s: %w", path, err)
		}
		return res.MatchedCount == 1, nil

	default:
		_, err := m.nodes.InsertOne(ctx, bson.M{
			"_id":        path,
			"parent":     ParentOf(path),
			"key":        KeyOf(path),
			"value":      map[string]any(next),
			"version":    int64(1),
			"updated_at": time.Now(),
		})
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to create %s: %w", path, err)
		}
		return true, nil
	}
}

// Subscribe opens a change stream on the subtree before the first read, so no
// change between the initial snapshot and the stream start is lost.
func (m *MongoStore) Subscribe(path string, q Query, onChange func(Snapshot), onCancel func(error)) (Subscription, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	if m.baseCtx.Err() != nil {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(m.baseCtx)
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$match", Value: bson.D{{Key: "documentKey._id", Value: subtreeRegex(path)}}}},
	}
	stream, err := m.nodes.Watch(ctx, pipeline)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer stream.Close(context.Background())

		fail := func(err error) {
			if onCancel == nil {
				return
			}
			switch {
			case m.baseCtx.Err() != nil:
				onCancel(ErrClosed)
			case ctx.Err() == nil:
				onCancel(err)
			}
		}

		deliver := func() bool {
			snap, err := m.Get(ctx, path, q)
			if err != nil {
				fail(err)
				return false
			}
			if onChange != nil && ctx.Err() == nil {
				onChange(snap)
			}
			return true
		}

		if !deliver() {
			return
		}
		for stream.Next(ctx) {
			for stream.TryNext(ctx) {
			}
			if !deliver() {
				return
			}
		}
		fail(stream.Err())
	}()

	return &mongoSubscription{cancel: cancel}, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) Close(ctx context.Context) error {
	m.stopAll()
	m.wg.Wait()
	return m.client.Disconnect(ctx)
}

type mongoSubscription struct {
	cancel context.CancelFunc
}

func (s *mongoSubscription) Close() {
	s.cancel()
}

func subtreeRegex(path string) primitive.Regex {
	return primitive.Regex{Pattern: "^" + regexp.QuoteMeta(path) + "(/|$)"}
}

func subtreeFilter(path string) bson.M {
	return bson.M{"_id": subtreeRegex(path)}
}

// normalizeDocument converts driver types back to the JSON shape the rest of
// the package works with.
func normalizeDocument(m bson.M) Document {
	if m == nil {
		return nil
	}
	out := make(Document, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case bson.M:
		return map[string]any(normalizeDocument(t))
	case map[string]any:
		return map[string]any(normalizeDocument(t))
	case bson.D:
		return map[string]any(normalizeDocument(t.Map()))
	case primitive.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case primitive.DateTime:
		return float64(t)
	default:
		return v
	}
}
