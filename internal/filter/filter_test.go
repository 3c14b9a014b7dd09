package filter

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAndEvaluateSimpleEquality(t *testing.T) {
	f, err := Parse(`role = "admin"`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"role": "admin"}))
	require.False(t, f.Evaluate(map[string]any{"role": "user"}))
}

func TestParseAndAndOr(t *testing.T) {
	f, err := Parse(`age >= 18 AND (role = "admin" OR role = "owner")`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"age": float64(20), "role": "admin"}))
	require.False(t, f.Evaluate(map[string]any{"age": float64(20), "role": "guest"}))
	require.False(t, f.Evaluate(map[string]any{"age": float64(10), "role": "admin"}))
}

func TestNotPrecedence(t *testing.T) {
	f, err := Parse(`NOT role = "banned"`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"role": "admin"}))
	require.False(t, f.Evaluate(map[string]any{"role": "banned"}))
}

func TestInAndNotIn(t *testing.T) {
	f, err := Parse(`role IN ['admin', 'owner']`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"role": "admin"}))
	require.False(t, f.Evaluate(map[string]any{"role": "guest"}))

	f2, err := Parse(`role NOT IN ['banned']`)
	require.NoError(t, err)
	require.True(t, f2.Evaluate(map[string]any{"role": "admin"}))
	require.False(t, f2.Evaluate(map[string]any{"role": "banned"}))
}

func TestContainsOnStringAndArray(t *testing.T) {
	f, err := Parse(`name CONTAINS "art"`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"name": "particle"}))
	require.False(t, f.Evaluate(map[string]any{"name": "nothing"}))

	f2, err := Parse(`tags CONTAINS "red"`)
	require.NoError(t, err)
	require.True(t, f2.Evaluate(map[string]any{"tags": []any{"red", "blue"}}))
	require.False(t, f2.Evaluate(map[string]any{"tags": []any{"green"}}))
}

func TestStartsWithEndsWith(t *testing.T) {
	f, err := Parse(`name STARTSWITH "pre"`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"name": "prefix"}))

	f2, err := Parse(`name ENDSWITH "fix"`)
	require.NoError(t, err)
	require.True(t, f2.Evaluate(map[string]any{"name": "prefix"}))
}

func TestDotPathIntoNestedObjectsAndArrays(t *testing.T) {
	f, err := Parse(`user.address.city = "nyc"`)
	require.NoError(t, err)
	meta := map[string]any{
		"user": map[string]any{
			"address": map[string]any{"city": "nyc"},
		},
	}
	require.True(t, f.Evaluate(meta))

	f2, err := Parse(`tags.0 = "red"`)
	require.NoError(t, err)
	require.True(t, f2.Evaluate(map[string]any{"tags": []any{"red", "blue"}}))
}

func TestMissingFieldEvaluatesFalse(t *testing.T) {
	f, err := Parse(`missing_field = "x"`)
	require.NoError(t, err)
	require.False(t, f.Evaluate(map[string]any{"other": "y"}))
}

func TestTypeMismatchEvaluatesFalseNotError(t *testing.T) {
	f, err := Parse(`count = "five"`)
	require.NoError(t, err)
	require.False(t, f.Evaluate(map[string]any{"count": float64(5)}))
}

func TestMalformedFilterSurfacesParseError(t *testing.T) {
	_, err := Parse(`role IN admin`)
	require.Error(t, err)
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestUnterminatedStringSurfacesParseError(t *testing.T) {
	_, err := Parse(`role = "admin`)
	require.Error(t, err)
}

func TestTrailingGarbageSurfacesParseError(t *testing.T) {
	_, err := Parse(`role = "admin" extra`)
	require.Error(t, err)
}

func TestNumericComparisons(t *testing.T) {
	f, err := Parse(`score > 0.5`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"score": float64(0.9)}))
	require.False(t, f.Evaluate(map[string]any{"score": float64(0.1)}))
}

func TestBooleanLiteral(t *testing.T) {
	f, err := Parse(`active = true`)
	require.NoError(t, err)
	require.True(t, f.Evaluate(map[string]any{"active": true}))
	require.False(t, f.Evaluate(map[string]any{"active": false}))
}
