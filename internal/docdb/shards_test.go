// internal/docdb/shards_test.go
package docdb

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"media-vault/internal/storage"
)

func newDB(t *testing.T) *StorageDatabase {
	t.Helper()
	st, err := storage.NewFileStorage(t.TempDir(), false)
	require.NoError(t, err)
	return NewStorageDatabase(st)
}

func TestInsertFindReplaceDelete(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	coll := db.Collection("metadata")

	doc := Document{"_id": "abc123", "hash": "deadbeef", "origFileName": "photo.jpg"}
	require.NoError(t, coll.InsertOne(ctx, doc))
	require.Error(t, coll.InsertOne(ctx, doc), "duplicate id")

	found, err := coll.FindByIndex(ctx, "hash", "deadbeef")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "abc123", found[0].ID())

	none, err := coll.FindByIndex(ctx, "hash", "cafebabe")
	require.NoError(t, err)
	assert.Empty(t, none)

	doc["origFileName"] = "renamed.jpg"
	require.NoError(t, coll.ReplaceOne(ctx, "abc123", doc))
	require.NoError(t, coll.UpdateOne(ctx, "abc123", "labels", []interface{}{"travel"}))

	all, err := coll.All(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "renamed.jpg", all[0]["origFileName"])

	require.NoError(t, coll.DeleteOne(ctx, "abc123"))
	require.NoError(t, coll.DeleteOne(ctx, "abc123"), "delete is idempotent")
	all, err = coll.All(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestShardingByIDPrefix(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	coll := db.Collection("metadata")
	require.NoError(t, coll.InsertOne(ctx, Document{"_id": "aa-one"}))
	require.NoError(t, coll.InsertOne(ctx, Document{"_id": "ab-two"}))
	require.NoError(t, coll.InsertOne(ctx, Document{"_id": "aa-three"}))

	all, err := coll.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	names, err := db.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"metadata"}, names)
}

func TestGetSorted(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()
	coll := db.Collection("metadata")
	require.NoError(t, coll.InsertOne(ctx, Document{"_id": "x1", "origFileName": "img10"}))
	require.NoError(t, coll.InsertOne(ctx, Document{"_id": "x2", "origFileName": "img2"}))

	docs, err := coll.GetSorted(ctx, "origFileName")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "img2", docs[0]["origFileName"])
	assert.Equal(t, "img10", docs[1]["origFileName"])
}

func TestEqualStableJSON(t *testing.T) {
	a := Document{"_id": "1", "b": "two", "a": 1.0}
	b := Document{"a": 1.0, "b": "two", "_id": "1"}
	assert.True(t, Equal(a, b))
	b["b"] = "three"
	assert.False(t, Equal(a, b))
}

func TestApplyDbUpdate(t *testing.T) {
	db := newDB(t)
	ctx := context.Background()

	require.NoError(t, Apply(ctx, db, Upsert{Collection: "metadata", ID: "u1", Doc: Document{"_id": "u1", "v": "first"}}))
	require.NoError(t, Apply(ctx, db, Upsert{Collection: "metadata", ID: "u1", Doc: Document{"_id": "u1", "v": "second"}}))
	require.NoError(t, Apply(ctx, db, FieldSet{Collection: "metadata", ID: "u1", Field: "flag", Value: true}))

	docs, err := db.Collection("metadata").All(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "second", docs[0]["v"])
	assert.Equal(t, true, docs[0]["flag"])

	require.NoError(t, Apply(ctx, db, Delete{Collection: "metadata", ID: "u1"}))
	docs, err = db.Collection("metadata").All(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}
