// internal/docdb/docdb.go
package docdb

import (
	"bytes"
	"context"
	"encoding/json"
)

// Document is one metadata record. Every document carries a string
// "_id".
type Document map[string]interface{}

func (d Document) ID() string {
	id, _ := d["_id"].(string)
	return id
}

// Equal compares documents by stable JSON. Go's encoder emits map keys
// sorted, so byte equality is canonical equality.
func Equal(a, b Document) bool {
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// Collection is a set of documents addressable by id, with lookups over
// named fields.
type Collection interface {
	Name() string
	InsertOne(ctx context.Context, doc Document) error
	ReplaceOne(ctx context.Context, id string, doc Document) error
	UpdateOne(ctx context.Context, id, field string, value interface{}) error
	DeleteOne(ctx context.Context, id string) error
	FindByIndex(ctx context.Context, field string, value interface{}) ([]Document, error)
	GetSorted(ctx context.Context, field string) ([]Document, error)
	All(ctx context.Context) ([]Document, error)
}

// Database enumerates collections.
type Database interface {
	Collection(name string) Collection
	Collections(ctx context.Context) ([]string, error)
}

// DbUpdate is a database mutation as plain data, so updates can cross
// worker boundaries as messages.
type DbUpdate interface{ isDbUpdate() }

type Upsert struct {
	Collection string
	ID         string
	Doc        Document
}

type FieldSet struct {
	Collection string
	ID         string
	Field      string
	Value      interface{}
}

type Delete struct {
	Collection string
	ID         string
}

func (Upsert) isDbUpdate()   {}
func (FieldSet) isDbUpdate() {}
func (Delete) isDbUpdate()   {}

// Apply dispatches one update.
func Apply(ctx context.Context, db Database, update DbUpdate) error {
	switch u := update.(type) {
	case Upsert:
		coll := db.Collection(u.Collection)
		if err := coll.ReplaceOne(ctx, u.ID, u.Doc); err == nil {
			return nil
		}
		return coll.InsertOne(ctx, u.Doc)
	case FieldSet:
		return db.Collection(u.Collection).UpdateOne(ctx, u.ID, u.Field, u.Value)
	case Delete:
		return db.Collection(u.Collection).DeleteOne(ctx, u.ID)
	}
	return nil
}
