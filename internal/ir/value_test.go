package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalValueRejectsFloats(t *testing.T) {
	_, err := UnmarshalValue([]byte(`{"price": 1.5}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are forbidden")

	_, err = UnmarshalValue([]byte(`1e3`))
	require.Error(t, err)
}

func TestUnmarshalValueRejectsNull(t *testing.T) {
	_, err := UnmarshalValue([]byte(`[1, null]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "list[1]")
}

func TestUnmarshalValueNested(t *testing.T) {
	v, err := UnmarshalValue([]byte(`{"tags":["a","b"],"n":7,"ok":true}`))
	require.NoError(t, err)

	m, ok := v.(Map)
	require.True(t, ok)
	assert.Equal(t, List{String("a"), String("b")}, m["tags"])
	assert.Equal(t, Int(7), m["n"])
	assert.Equal(t, Bool(true), m["ok"])
}

func TestFromValue(t *testing.T) {
	v := Map{"list": List{Int(1), String("x")}, "flag": Bool(false)}
	plain := FromValue(v)

	assert.Equal(t, map[string]any{
		"list": []any{int64(1), "x"},
		"flag": false,
	}, plain)
}

func TestOpJSON(t *testing.T) {
	op := Op{
		Action: ActionSet,
		Key:    "title",
		Value:  String("draft"),
		Pred:   []OpID{{Counter: 1, Actor: "aa"}},
	}

	data, err := json.Marshal(op)
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"set","key":"title","value":"draft","pred":[{"counter":1,"actor":"aa"}]}`, string(data))

	var got Op
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, op, got)
}

func TestOpJSONDeleteHasNoValue(t *testing.T) {
	data, err := json.Marshal(Op{Action: ActionDel, Key: "title"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"action":"del","key":"title","pred":[]}`, string(data))
}

func TestOpJSONValidation(t *testing.T) {
	var op Op
	assert.Error(t, json.Unmarshal([]byte(`{"action":"ins","key":"x","pred":[]}`), &op))
	assert.Error(t, json.Unmarshal([]byte(`{"action":"set","key":"x","pred":[]}`), &op))
}

func TestDiffWinnerAndConflicts(t *testing.T) {
	d := Diff{Entries: []Entry{
		{ID: OpID{Counter: 1, Actor: "aa"}, Value: String("lose")},
		{ID: OpID{Counter: 1, Actor: "bb"}, Value: String("win")},
	}}

	w, ok := d.Winner()
	require.True(t, ok)
	assert.Equal(t, String("win"), w)
	assert.Len(t, d.Conflicts(), 1)
	assert.False(t, d.IsDelete())

	_, ok = Diff{}.Winner()
	assert.False(t, ok)
	assert.True(t, Diff{}.IsDelete())
}

func TestOpIDOrdering(t *testing.T) {
	a := OpID{Counter: 1, Actor: "bb"}
	b := OpID{Counter: 2, Actor: "aa"}
	c := OpID{Counter: 2, Actor: "bb"}

	assert.True(t, a.Less(b))
	assert.True(t, b.Less(c))
	assert.False(t, c.Less(a))
	assert.Equal(t, 0, CompareOpIDs(b, b))
}

func TestParseOpID(t *testing.T) {
	id := OpID{Counter: 12, Actor: "abcd"}
	parsed, err := ParseOpID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseOpID("12")
	assert.Error(t, err)
	_, err = ParseOpID("x@abcd")
	assert.Error(t, err)
}

func TestPatchIsEmpty(t *testing.T) {
	var nilPatch *Patch
	assert.True(t, nilPatch.IsEmpty())
	assert.True(t, (&Patch{}).IsEmpty())
	assert.False(t, (&Patch{Diffs: map[string]Diff{"k": {}}}).IsEmpty())
}
