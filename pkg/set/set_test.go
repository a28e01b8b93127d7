package set_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sec-certs/certdb/pkg/set"
)

func TestNew(t *testing.T) {
	s := set.New[int]()
	assert.NotNil(t, s)
	assert.Empty(t, s.Values())
}

func TestSet_Append(t *testing.T) {
	s := set.New[int]()
	s.Append(1, 2, 3)
	assert.Len(t, s.Values(), 3)
	assert.Contains(t, s.Values(), 1)
	assert.Contains(t, s.Values(), 2)
	assert.Contains(t, s.Values(), 3)
}

func TestSet_Contains(t *testing.T) {
	s := set.New[string]("foo", "bar")
	assert.True(t, s.Contains("foo"))
	assert.True(t, s.Contains("bar"))
	assert.False(t, s.Contains("baz"))
}

func TestSet_Remove(t *testing.T) {
	s := set.New[string]("foo", "bar")
	s.Remove("foo")
	assert.False(t, s.Contains("foo"))
	assert.Equal(t, 1, s.Size())
}

func TestSet_Union(t *testing.T) {
	a := set.New[int](1, 2)
	b := set.New[int](2, 3)
	assert.ElementsMatch(t, []int{1, 2, 3}, a.Union(b).Values())
	// inputs untouched
	assert.Len(t, a.Values(), 2)
	assert.Len(t, b.Values(), 2)
}

func TestSet_Intersect(t *testing.T) {
	a := set.New[int](1, 2, 3)
	b := set.New[int](2, 3, 4)
	assert.ElementsMatch(t, []int{2, 3}, a.Intersect(b).Values())
}

func TestSet_Difference(t *testing.T) {
	a := set.New[int](1, 2, 3)
	b := set.New[int](2)
	assert.ElementsMatch(t, []int{1, 3}, a.Difference(b).Values())
}

func TestNewOrdered(t *testing.T) {
	s := set.NewOrdered[int]()
	assert.NotNil(t, s)
	assert.Empty(t, s.Values())
}

func TestOrdered_Values(t *testing.T) {
	s := set.NewOrdered[int](3, 1, 2)
	assert.Equal(t, []int{1, 2, 3}, s.Values())
}

func TestOrdered_JSON(t *testing.T) {
	s := set.NewOrdered[string]("b", "a", "c")

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `["a","b","c"]`, string(data))

	var got set.Ordered[string]
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, s.Values(), got.Values())
}
