// Package mongoadapter implements persist.Value and persist.List against
// MongoDB, for embedders who prefer a shared database over the filesystem
// default (spec §6 names the filesystem layout as the default adapter but
// leaves other persistence backends pluggable). Grounded on the teacher's
// features/memory/mongo/clients/mongo client.go: one document per key,
// upsert-based writes, a thin collection interface for testability.
package mongoadapter

import (
	"context"
	"errors"
	"reflect"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultTimeout = 5 * time.Second

// Options configures an Adapter.
type Options struct {
	Client     *mongo.Client
	Database   string
	Collection string
	Timeout    time.Duration
}

// Adapter persists Values and Lists as documents in a single Mongo
// collection, keyed by the caller-supplied string key.
type Adapter struct {
	coll    *mongo.Collection
	timeout time.Duration
}

type valueDoc struct {
	Key   string `bson:"_id"`
	Value bson.Raw `bson:"value"`
}

type listDoc struct {
	Key   string           `bson:"_id"`
	Items []bson.Raw       `bson:"items"`
}

// New constructs an Adapter backed by opts.Client.
func New(opts Options) (*Adapter, error) {
	if opts.Client == nil {
		return nil, errors.New("mongoadapter: client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("mongoadapter: database is required")
	}
	collection := opts.Collection
	if collection == "" {
		collection = "agentswarm_persist"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Adapter{
		coll:    opts.Client.Database(opts.Database).Collection(collection),
		timeout: timeout,
	}, nil
}

func (a *Adapter) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.timeout)
}

// Get implements persist.Value.
func (a *Adapter) Get(ctx context.Context, key string, dst any) (bool, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	var doc valueDoc
	err := a.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := bson.Unmarshal(doc.Value, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Set implements persist.Value.
func (a *Adapter) Set(ctx context.Context, key string, val any) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	raw, err := bson.Marshal(val)
	if err != nil {
		return err
	}
	_, err = a.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$set": bson.M{"value": raw}},
		options.UpdateOne().SetUpsert(true))
	return err
}

// Remove implements persist.Value.
func (a *Adapter) Remove(ctx context.Context, key string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := a.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}

// Push implements persist.List.
func (a *Adapter) Push(ctx context.Context, key string, item any) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	raw, err := bson.Marshal(item)
	if err != nil {
		return err
	}
	_, err = a.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$push": bson.M{"items": raw}},
		options.UpdateOne().SetUpsert(true))
	return err
}

// Pop implements persist.List.
func (a *Adapter) Pop(ctx context.Context, key string, dst any) (bool, error) {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	var doc listDoc
	if err := a.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, err
	}
	if len(doc.Items) == 0 {
		return false, nil
	}
	last := doc.Items[len(doc.Items)-1]
	if err := bson.Unmarshal(last, dst); err != nil {
		return false, err
	}
	_, err := a.coll.UpdateOne(ctx,
		bson.M{"_id": key},
		bson.M{"$pop": bson.M{"items": 1}})
	return true, err
}

// All implements persist.List. dstSlice must be a pointer to a slice; each
// stored item is decoded into a fresh element of the slice's element type.
func (a *Adapter) All(ctx context.Context, key string, dstSlice any) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	var doc listDoc
	err := a.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil
	}
	if err != nil {
		return err
	}

	ptr := reflect.ValueOf(dstSlice)
	if ptr.Kind() != reflect.Ptr || ptr.Elem().Kind() != reflect.Slice {
		return errors.New("mongoadapter: All requires a pointer to a slice")
	}
	sliceVal := ptr.Elem()
	elemType := sliceVal.Type().Elem()
	out := reflect.MakeSlice(sliceVal.Type(), 0, len(doc.Items))
	for _, raw := range doc.Items {
		elem := reflect.New(elemType)
		if err := bson.Unmarshal(raw, elem.Interface()); err != nil {
			return err
		}
		out = reflect.Append(out, elem.Elem())
	}
	sliceVal.Set(out)
	return nil
}

// Clear implements persist.List.
func (a *Adapter) Clear(ctx context.Context, key string) error {
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	_, err := a.coll.DeleteOne(ctx, bson.M{"_id": key})
	return err
}
