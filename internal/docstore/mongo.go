package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const sequencesCollection = "document_sequences"

// Mongo maps each collection to a MongoDB collection. Timestamps come back as
// primitive.DateTime and subscriptions are driven by change streams, which require
// a replica set.
type Mongo struct {
	db     *mongo.Database
	logger *slog.Logger
	subs   *registry

	mu       sync.Mutex
	watching map[string]bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewMongo constructs a gateway on an already connected database handle.
func NewMongo(database *mongo.Database, logger *slog.Logger) *Mongo {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Mongo{
		db:       database,
		logger:   logger,
		subs:     newRegistry(),
		watching: make(map[string]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ConnectMongo dials uri and verifies the connection.
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore/mongo: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore/mongo: ping: %w", err)
	}
	return client, nil
}

// Create inserts doc using its "id" field as _id when present.
func (m *Mongo) Create(ctx context.Context, collection string, doc Document) (string, error) {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}
	body := bson.M(stripID(doc))
	body["_id"] = id
	if _, err := m.db.Collection(collection).InsertOne(ctx, body); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", ErrDuplicate
		}
		return "", fmt.Errorf("docstore/mongo: create: %w", err)
	}
	return id, nil
}

// Get loads one document.
func (m *Mongo) Get(ctx context.Context, collection, id string) (Document, error) {
	var raw bson.M
	err := m.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("docstore/mongo: get: %w", err)
	}
	return fromBSONDocument(raw), nil
}

// Update sets the top-level fields of partial.
func (m *Mongo) Update(ctx context.Context, collection, id string, partial Document) error {
	return m.UpdateIf(ctx, collection, id, nil, partial)
}

// UpdateIf sets partial only on a document that also matches expect.
func (m *Mongo) UpdateIf(ctx context.Context, collection, id string, expect, partial Document) error {
	filter := bson.M{"_id": id}
	for k, v := range expect {
		filter[k] = v
	}
	set := stripID(partial)
	if len(set) == 0 {
		_, err := m.Get(ctx, collection, id)
		return err
	}
	res, err := m.db.Collection(collection).UpdateOne(ctx, filter, bson.M{"$set": bson.M(set)})
	if err != nil {
		return fmt.Errorf("docstore/mongo: update: %w", err)
	}
	if res.MatchedCount == 0 {
		count, err := m.db.Collection(collection).CountDocuments(ctx, bson.M{"_id": id})
		if err != nil {
			return fmt.Errorf("docstore/mongo: update check: %w", err)
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// Delete removes one document.
func (m *Mongo) Delete(ctx context.Context, collection, id string) error {
	res, err := m.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("docstore/mongo: delete: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Query runs a find with equality filters, one sort key and a limit.
func (m *Mongo) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	filter := bson.M{}
	for _, f := range q.Where {
		filter[f.Field] = f.Value
	}
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Desc {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: q.OrderBy, Value: dir}, {Key: "_id", Value: 1}})
	} else {
		opts.SetSort(bson.D{{Key: "_id", Value: 1}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	cursor, err := m.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("docstore/mongo: query: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var out []Document
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, fmt.Errorf("docstore/mongo: decode: %w", err)
		}
		out = append(out, fromBSONDocument(raw))
	}
	return out, cursor.Err()
}

// Subscribe delivers the current snapshot and then one snapshot per change event.
func (m *Mongo) Subscribe(ctx context.Context, target Target, onChange func(Snapshot), onError func(error)) (func(), error) {
	if err := validateTarget(target); err != nil {
		return nil, err
	}
	if m.ctx.Err() != nil {
		return nil, ErrClosed
	}
	snap, err := m.load(ctx, target)
	if err != nil {
		return nil, err
	}
	sub := newSubscription(target, onChange, onError)
	cancel := m.subs.add(sub)
	sub.push(snap)
	m.ensureWatch(target.Collection)

	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-sub.done:
		}
	}()
	return cancel, nil
}

// Next advances the named sequence to max(seq, floor) + 1 with a single
// findOneAndUpdate using an update pipeline.
func (m *Mongo) Next(ctx context.Context, counter string, floor int64) (int64, error) {
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{{Key: "seq", Value: bson.D{{Key: "$add", Value: bson.A{
			bson.D{{Key: "$max", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$seq", int64(0)}}},
				floor,
			}}},
			int64(1),
		}}}}}}},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var out struct {
		Seq int64 `bson:"seq"`
	}
	err := m.db.Collection(sequencesCollection).FindOneAndUpdate(ctx, bson.M{"_id": counter}, update, opts).Decode(&out)
	if err != nil {
		return 0, fmt.Errorf("docstore/mongo: next %s: %w", counter, err)
	}
	return out.Seq, nil
}

// Close stops change streams and subscriptions. The client is owned by the caller.
func (m *Mongo) Close(ctx context.Context) error {
	m.cancel()
	m.subs.closeAll()
	return nil
}

func (m *Mongo) load(ctx context.Context, target Target) (Snapshot, error) {
	snap := Snapshot{Collection: target.Collection, ID: target.ID, Docs: []Document{}}
	if target.ID != "" {
		doc, err := m.Get(ctx, target.Collection, target.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return snap, nil
			}
			return snap, err
		}
		snap.Docs = append(snap.Docs, doc)
		return snap, nil
	}
	docs, err := m.Query(ctx, target.Collection, Query{})
	if err != nil {
		return snap, err
	}
	snap.Docs = append(snap.Docs, docs...)
	return snap, nil
}

func (m *Mongo) ensureWatch(collection string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.watching[collection] {
		return
	}
	m.watching[collection] = true
	go m.watch(collection)
}

func (m *Mongo) watch(collection string) {
	for m.ctx.Err() == nil {
		err := m.watchOnce(collection)
		if err == nil || m.ctx.Err() != nil {
			continue
		}
		m.logger.Warn("docstore change stream", slog.String("collection", collection), slog.Any("error", err))
		for _, sub := range m.subs.matching(collection, "") {
			sub.fail(err)
		}
		select {
		case <-m.ctx.Done():
		case <-time.After(time.Second):
		}
	}
}

func (m *Mongo) watchOnce(collection string) error {
	stream, err := m.db.Collection(collection).Watch(m.ctx, mongo.Pipeline{})
	if err != nil {
		return err
	}
	defer func() { _ = stream.Close(context.Background()) }()
	for stream.Next(m.ctx) {
		var event struct {
			DocumentKey struct {
				ID any `bson:"_id"`
			} `bson:"documentKey"`
		}
		if err := stream.Decode(&event); err != nil {
			m.logger.Warn("docstore change event", slog.Any("error", err))
			continue
		}
		id, _ := event.DocumentKey.ID.(string)
		for _, sub := range m.subs.matching(collection, id) {
			snap, err := m.load(m.ctx, sub.target)
			if err != nil {
				sub.fail(err)
				continue
			}
			sub.push(snap)
		}
	}
	return stream.Err()
}

func fromBSONDocument(raw bson.M) Document {
	doc := Document{}
	for k, v := range raw {
		if k == "_id" {
			doc[FieldID] = fmt.Sprint(v)
			continue
		}
		doc[k] = fromBSON(v)
	}
	return doc
}

// fromBSON converts driver container types to plain maps and slices. Temporal
// values stay primitive.DateTime.
func fromBSON(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromBSON(e)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = fromBSON(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromBSON(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	}
	return v
}

var _ Gateway = (*Mongo)(nil)
