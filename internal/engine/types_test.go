package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPreservesInsertionOrder(t *testing.T) {
	rec := NewRecord()
	rec.Set("b", 1)
	rec.Set("a", 2)
	rec.Set("c", 3)
	rec.Set("a", 4) // overwrite must not reorder

	assert.Equal(t, []string{"b", "a", "c"}, rec.FieldNames())
	v, ok := rec.Get("a")
	require.True(t, ok)
	assert.Equal(t, 4, v)
}

func TestRecordMergeOverwrites(t *testing.T) {
	base := NewRecord()
	base.Set("id", int64(1))
	base.Set("clicks", int64(10))

	patch := NewRecord()
	patch.Set("clicks", int64(12))
	patch.Set("spend", 3.5)

	base.Merge(patch)
	assert.Equal(t, []string{"id", "clicks", "spend"}, base.FieldNames())
	clicks, _ := base.Get("clicks")
	assert.Equal(t, int64(12), clicks)
}

func TestUniqueKeyString(t *testing.T) {
	key := UniqueKey{"campaign_id", "date"}

	rec := NewRecord()
	rec.Set("campaign_id", int64(42))
	rec.Set("date", "2024-03-01")
	rec.Set("clicks", int64(7))

	s, err := key.KeyString(rec)
	require.NoError(t, err)
	assert.Equal(t, "42|2024-03-01", s)

	missing := NewRecord()
	missing.Set("campaign_id", int64(42))
	_, err = key.KeyString(missing)
	assert.Error(t, err)

	nullKey := NewRecord()
	nullKey.Set("campaign_id", int64(42))
	nullKey.Set("date", nil)
	_, err = key.KeyString(nullKey)
	assert.Error(t, err)
}

func TestUniqueKeySubsetOf(t *testing.T) {
	key := UniqueKey{"id", "date"}
	assert.True(t, key.SubsetOf([]string{"date", "id", "clicks"}))
	assert.False(t, key.SubsetOf([]string{"id", "clicks"}))
	assert.True(t, UniqueKey{}.SubsetOf(nil))
}

func TestDateWindowDays(t *testing.T) {
	w := DateWindow{Start: date(2024, 1, 1), End: date(2024, 1, 1)}
	assert.Equal(t, 1, w.Days())

	w = DateWindow{Start: date(2023, 11, 1), End: date(2023, 12, 31)}
	assert.Equal(t, 61, w.Days())
	assert.Equal(t, "2023-11-01..2023-12-31", w.String())
}

func TestSchemaTypeOfFallsBackToString(t *testing.T) {
	s := Schema{Fields: []SchemaField{
		{Name: "clicks", Type: FieldInt64},
		{Name: "date", Type: FieldDate},
	}}
	assert.Equal(t, FieldInt64, s.TypeOf("clicks"))
	assert.Equal(t, FieldString, s.TypeOf("brand_new_metric"))
	assert.True(t, s.Has("date"))
	assert.False(t, s.Has("nope"))
}

func TestFlattenValueIsStable(t *testing.T) {
	v := map[string]interface{}{"b": 2, "a": 1}
	assert.Equal(t, `{"a":1,"b":2}`, FlattenValue(v))
	assert.Equal(t, FlattenValue(v), FlattenValue(v))
	assert.Equal(t, `["x","y"]`, FlattenValue([]string{"x", "y"}))
}
