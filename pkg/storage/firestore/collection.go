package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

// Collection is a typed view over a Firestore collection. T must carry
// `firestore` struct tags.
type Collection[T any] struct {
	Ref *firestore.CollectionRef
}

func (c *Collection[T]) Doc(id string) *DocumentRef[T] {
	return &DocumentRef[T]{Ref: c.Ref.Doc(id)}
}

func (c *Collection[T]) NewDoc() *DocumentRef[T] {
	return &DocumentRef[T]{Ref: c.Ref.NewDoc()}
}

// Query returns the underlying query for Where/OrderBy chaining.
func (c *Collection[T]) Query() firestore.Query {
	return c.Ref.Query
}

// GetAll runs q and decodes every document.
func (c *Collection[T]) GetAll(ctx context.Context, q firestore.Query) ([]T, error) {
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(snaps))
	for _, snap := range snaps {
		var v T
		if err := snap.DataTo(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type DocumentRef[T any] struct {
	Ref *firestore.DocumentRef
}

func (d *DocumentRef[T]) ID() string {
	return d.Ref.ID
}

func (d *DocumentRef[T]) Get(ctx context.Context) (*T, error) {
	snap, err := d.Ref.Get(ctx)
	if err != nil {
		return nil, err
	}
	var v T
	if err := snap.DataTo(&v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (d *DocumentRef[T]) Set(ctx context.Context, data *T) error {
	_, err := d.Ref.Set(ctx, data)
	return err
}

// Update merges a partial map into the document. Keys must match the
// Firestore snake_case field names; no converter runs here.
func (d *DocumentRef[T]) Update(ctx context.Context, updates map[string]interface{}) error {
	_, err := d.Ref.Set(ctx, updates, firestore.MergeAll)
	return err
}

func (d *DocumentRef[T]) Delete(ctx context.Context) error {
	_, err := d.Ref.Delete(ctx)
	return err
}
