package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducesDistinctNonNilIDs(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.False(t, a.IsNil())
	assert.False(t, b.IsNil())
}

func TestParseRoundTripsString(t *testing.T) {
	id := New()
	parsed, err := Parse(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseRejectsMalformedString(t *testing.T) {
	_, err := Parse("not-a-uuid")
	assert.Error(t, err)
}

func TestMustParsePanicsOnError(t *testing.T) {
	assert.Panics(t, func() { MustParse("not-a-uuid") })
}

func TestNilIsZeroValue(t *testing.T) {
	var id ID
	assert.True(t, id.IsNil())
	assert.Equal(t, Nil, id)
}

func TestValueReturnsNilForNilID(t *testing.T) {
	v, err := Nil.Value()
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestValueReturnsStringForRealID(t *testing.T) {
	id := New()
	v, err := id.Value()
	require.NoError(t, err)
	assert.Equal(t, id.String(), v)
}

func TestScanRoundTripsFromStringAndBytes(t *testing.T) {
	id := New()

	var fromString ID
	require.NoError(t, fromString.Scan(id.String()))
	assert.Equal(t, id, fromString)

	var fromBytes ID
	require.NoError(t, fromBytes.Scan([]byte(id.String())))
	assert.Equal(t, id, fromBytes)
}

func TestScanNilSourceYieldsNilID(t *testing.T) {
	id := New()
	require.NoError(t, id.Scan(nil))
	assert.True(t, id.IsNil())
}

func TestScanRejectsUnsupportedType(t *testing.T) {
	var id ID
	assert.Error(t, id.Scan(42))
}

func TestJSONRoundTripsRealID(t *testing.T) {
	id := New()
	data, err := id.MarshalJSON()
	require.NoError(t, err)

	var decoded ID
	require.NoError(t, decoded.UnmarshalJSON(data))
	assert.Equal(t, id, decoded)
}

func TestJSONNilIDMarshalsToNull(t *testing.T) {
	data, err := Nil.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))

	var decoded ID
	require.NoError(t, decoded.UnmarshalJSON([]byte("null")))
	assert.True(t, decoded.IsNil())
}
