package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compile(t *testing.T, filter string) (string, []any) {
	t.Helper()
	f, err := DecodeDocument([]byte(filter))
	require.NoError(t, err)
	require.NoError(t, validateFilter(f))
	a := &sqlArgs{}
	sql, err := compileFilter(f, a)
	require.NoError(t, err)
	return sql, a.args
}

func TestCompileFilter_Empty(t *testing.T) {
	sql, args := compile(t, `{}`)
	assert.Equal(t, "TRUE", sql)
	assert.Empty(t, args)
}

func TestCompileFilter_ScalarEquality(t *testing.T) {
	sql, args := compile(t, `{"friends.did": "did:1"}`)
	assert.Equal(t, "jsonb_path_exists(doc, $1::jsonpath, $2::jsonb)", sql)
	assert.Equal(t, []any{`$."friends"."did" ? (@ == $v)`, `{"v":"did:1"}`}, args)
}

func TestCompileFilter_NullMatchesMissing(t *testing.T) {
	sql, args := compile(t, `{"a": null}`)
	assert.Equal(t, "(NOT jsonb_path_exists(doc, $1::jsonpath) OR jsonb_path_exists(doc, $2::jsonpath))", sql)
	assert.Equal(t, []any{`$."a"`, `$."a" ? (@ == null)`}, args)
}

func TestCompileFilter_CompositeEquality(t *testing.T) {
	sql, args := compile(t, `{"_id": {"$oid": "0123456789abcdef01234567"}}`)
	assert.Contains(t, sql, "doc #> $1::text[] = $2::jsonb")
	assert.Contains(t, sql, "@> jsonb_build_array($2::jsonb)")
	assert.Equal(t, []any{`{"_id"}`, `{"$oid":"0123456789abcdef01234567"}`}, args)
}

func TestCompileFilter_Operators(t *testing.T) {
	sql, args := compile(t, `{"age": {"$gte": 18, "$lt": 65}, "name": {"$regex": "^a\"b", "$options": "i"}}`)
	assert.Equal(t,
		`((jsonb_path_exists(doc, $1::jsonpath, $2::jsonb) AND jsonb_path_exists(doc, $3::jsonpath, $4::jsonb)) AND jsonb_path_exists(doc, $5::jsonpath))`,
		sql)
	assert.Equal(t, []any{
		`$."age" ? (@ >= $v)`, `{"v":18}`,
		`$."age" ? (@ < $v)`, `{"v":65}`,
		`$."name" ? (@ like_regex "^a\"b" flag "i")`,
	}, args)
}

func TestCompileFilter_Logical(t *testing.T) {
	sql, _ := compile(t, `{"$or": [{"a": 1}, {"b": {"$exists": false}}], "$nor": [{"c": {"$in": []}}]}`)
	assert.Equal(t,
		`(NOT (FALSE) AND (jsonb_path_exists(doc, $1::jsonpath, $2::jsonb) OR NOT jsonb_path_exists(doc, $3::jsonpath)))`,
		sql)
}

func TestCompileFilter_SizeAndNot(t *testing.T) {
	sql, args := compile(t, `{"tags": {"$size": 2}, "n": {"$not": {"$gt": 3}}}`)
	assert.Equal(t,
		`(NOT jsonb_path_exists(doc, $1::jsonpath, $2::jsonb) AND CASE WHEN jsonb_typeof(doc #> $3::text[]) = 'array' THEN jsonb_array_length(doc #> $3::text[]) = $4 ELSE FALSE END)`,
		sql)
	assert.Equal(t, []any{`$."n" ? (@ > $v)`, `{"v":3}`, `{"tags"}`, int64(2)}, args)
}

func TestCompileFilter_ArrayIndex(t *testing.T) {
	_, args := compile(t, `{"list.0": "x"}`)
	assert.Equal(t, `$."list"[0] ? (@ == $v)`, args[0])
}

func TestCompileSort(t *testing.T) {
	a := &sqlArgs{}
	got := compileSort(SortSpec{{Key: "a.b", Dir: -1}, {Key: "c", Dir: 1}}, a)
	assert.Equal(t, "doc #> $1::text[] DESC NULLS LAST, doc #> $2::text[] ASC NULLS FIRST, seq", got)
	assert.Equal(t, []any{`{"a","b"}`, `{"c"}`}, a.args)
}

func TestTextArrayEscapes(t *testing.T) {
	assert.Equal(t, `{"we\"ird","back\\slash"}`, textArray([]string{`we"ird`, `back\slash`}))
}
