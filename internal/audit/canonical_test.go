package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeIsKeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"foo": "bar", "nested": map[string]interface{}{"z": 1, "a": 2}}
	b := map[string]interface{}{"nested": map[string]interface{}{"a": 2, "z": 1}, "foo": "bar"}

	canonA, err := Canonicalize(a)
	require.NoError(t, err)
	canonB, err := Canonicalize(b)
	require.NoError(t, err)

	assert.Equal(t, string(canonA), string(canonB))
	assert.Equal(t, `{"foo":"bar","nested":{"a":2,"z":1}}`, string(canonA))
}

func TestCanonicalizePreservesArrayOrder(t *testing.T) {
	canon, err := Canonicalize(map[string]interface{}{"items": []interface{}{3, 1, 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[3,1,2]}`, string(canon))
}

func TestHashEventDeterministic(t *testing.T) {
	payload := map[string]interface{}{"foo": "bar"}
	h1, err := HashEvent("test.one", payload, "", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	h2, err := HashEvent("test.one", payload, "", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, h1, h2)

	h3, err := HashEvent("test.one", payload, "prev", "2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)
}
