package canonhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_KeyOrderIndependent(t *testing.T) {
	a := map[string]any{"b": 2, "a": 1}
	bMap := map[string]any{"a": 1, "b": 2}

	hA, err := Hash(a)
	require.NoError(t, err)
	hB, err := Hash(bMap)
	require.NoError(t, err)

	assert.Equal(t, hA, hB, "canonical hash must not depend on Go map iteration order")
}

func TestHash_Deterministic(t *testing.T) {
	v := map[string]any{"value": 2, "nested": []any{"x", "y"}, "flag": true, "empty": nil}
	h1, err := Hash(v)
	require.NoError(t, err)
	h2, err := Hash(v)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_DistinguishesDifferentValues(t *testing.T) {
	h1, err := Hash(map[string]any{"value": 1})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"value": 2})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h2)
}

func TestHash_IntegralFloatMatchesInt(t *testing.T) {
	h1, err := Hash(map[string]any{"value": 2.0})
	require.NoError(t, err)
	h2, err := Hash(map[string]any{"value": 2})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestHash_RejectsNonJSONCompatible(t *testing.T) {
	_, err := Hash(map[string]any{"bad": make(chan int)})
	require.Error(t, err)
	var hashErr *HashError
	require.ErrorAs(t, err, &hashErr)
}

func TestHash_RejectsNonFiniteNumbers(t *testing.T) {
	_, err := Hash(map[string]any{"value": float64(1) / 0})
	require.Error(t, err)
}

func TestHash_StringEscaping(t *testing.T) {
	h1, err := Hash("line1\nline2\t\"quoted\"")
	require.NoError(t, err)
	h2, err := Hash("line1\nline2\t\"quoted\"")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	out, err := Canonicalize("line1\nline2\t\"quoted\"")
	require.NoError(t, err)
	assert.Equal(t, `"line1\nline2\t\"quoted\""`, out)
}

func TestCanonicalize_SortsNestedKeys(t *testing.T) {
	v := map[string]any{
		"z": map[string]any{"b": 1, "a": 2},
		"a": 1,
	}
	out, err := Canonicalize(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"z":{"a":2,"b":1}}`, out)
}
