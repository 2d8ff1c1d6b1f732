package repository

import (
	"context"
	"errors"
	"io"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/reagent/pkg/adapter"
)

// Object is a KeyValue that keeps each key as a separate object in an
// adapter.Storage, e.g. a Cloud Storage bucket.
type Object struct {
	storage adapter.Storage
}

var _ KeyValue = (*Object)(nil)

func NewObject(storage adapter.Storage) *Object {
	return &Object{storage: storage}
}

func (r *Object) Get(ctx context.Context, key string) (string, bool, error) {
	reader, err := r.storage.Get(ctx, key)
	if errors.Is(err, adapter.ErrObjectNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to open state object", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", false, goerr.Wrap(err, "failed to read state object", goerr.V("key", key))
	}
	return string(data), true, nil
}

func (r *Object) Set(ctx context.Context, key, value string) error {
	writer, err := r.storage.Put(ctx, key)
	if err != nil {
		return goerr.Wrap(err, "failed to create state writer", goerr.V("key", key))
	}

	if _, err := io.WriteString(writer, value); err != nil {
		_ = writer.Close()
		return goerr.Wrap(err, "failed to write state object", goerr.V("key", key))
	}
	if err := writer.Close(); err != nil {
		return goerr.Wrap(err, "failed to close state writer", goerr.V("key", key))
	}
	return nil
}

func (r *Object) Delete(ctx context.Context, key string) error {
	if err := r.storage.Delete(ctx, key); err != nil {
		return goerr.Wrap(err, "failed to delete state object", goerr.V("key", key))
	}
	return nil
}

// Close closes the underlying storage
func (r *Object) Close() error {
	return r.storage.Close()
}
