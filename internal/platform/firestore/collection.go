package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Collection is a typed view over one Firestore collection. T is the
// document struct with firestore tags.
type Collection[T any] struct {
	provider *Provider
	name     string
}

// NewCollection binds a typed collection to provider.
func NewCollection[T any](provider *Provider, name string) *Collection[T] {
	return &Collection[T]{provider: provider, name: name}
}

// Name returns the collection path.
func (c *Collection[T]) Name() string { return c.name }

// Ref returns the document reference for id.
func (c *Collection[T]) Ref(ctx context.Context, id string) (*firestore.DocumentRef, error) {
	if id == "" {
		return nil, WrapError(c.op("ref"), errors.New("document id is required"))
	}
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.Collection(c.name).Doc(id), nil
}

// Get loads and decodes the document with id.
func (c *Collection[T]) Get(ctx context.Context, id string) (T, error) {
	var out T
	snap, err := c.Snapshot(ctx, id)
	if err != nil {
		return out, err
	}
	return Decode[T](snap)
}

// Snapshot loads the document with id without decoding it.
func (c *Collection[T]) Snapshot(ctx context.Context, id string) (*firestore.DocumentSnapshot, error) {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if err != nil {
		return nil, WrapError(c.op("get"), err)
	}
	return snap, nil
}

// Create writes doc under id, failing with a conflict when it already exists.
func (c *Collection[T]) Create(ctx context.Context, id string, doc T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Create(ctx, doc)
	return WrapError(c.op("create"), err)
}

// Set overwrites the document with id.
func (c *Collection[T]) Set(ctx context.Context, id string, doc T) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, doc)
	return WrapError(c.op("set"), err)
}

// SetRaw overwrites the document with id using fields exactly as stored,
// including any that T does not model.
func (c *Collection[T]) SetRaw(ctx context.Context, id string, fields map[string]any) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Set(ctx, fields)
	return WrapError(c.op("set"), err)
}

// Delete removes the document with id. Deleting a missing document succeeds.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	ref, err := c.Ref(ctx, id)
	if err != nil {
		return err
	}
	_, err = ref.Delete(ctx)
	return WrapError(c.op("delete"), err)
}

// Query runs the query built from the collection and decodes every match.
func (c *Collection[T]) Query(ctx context.Context, build func(firestore.Query) firestore.Query) ([]T, []string, error) {
	client, err := c.provider.Client(ctx)
	if err != nil {
		return nil, nil, err
	}
	query := client.Collection(c.name).Query
	if build != nil {
		query = build(query)
	}
	iter := query.Documents(ctx)
	defer iter.Stop()

	var (
		docs []T
		ids  []string
	)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, WrapError(c.op("query"), err)
		}
		doc, err := Decode[T](snap)
		if err != nil {
			return nil, nil, err
		}
		docs = append(docs, doc)
		ids = append(ids, snap.Ref.ID)
	}
	return docs, ids, nil
}

// Decode converts a snapshot into T.
func Decode[T any](snap *firestore.DocumentSnapshot) (T, error) {
	var out T
	if err := snap.DataTo(&out); err != nil {
		return out, fmt.Errorf("firestore: decode %s: %w", snap.Ref.Path, err)
	}
	return out, nil
}

func (c *Collection[T]) op(action string) string {
	return c.name + "." + action
}
