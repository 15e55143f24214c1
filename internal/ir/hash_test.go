package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalSortsKeys(t *testing.T) {
	got, err := MarshalCanonical(map[string]any{"b": 1, "a": "<x>", "c": nil})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"<x>","b":1,"c":null}`, string(got))
}

func TestMarshalCanonicalNormalizesStrings(t *testing.T) {
	composed, err := MarshalCanonical("\u00e9")
	require.NoError(t, err)
	decomposed, err := MarshalCanonical("e\u0301")
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
}

func TestMarshalCanonicalKeepsFloats(t *testing.T) {
	got, err := MarshalCanonical(GeoLocation{Lat: 3.1412, Lng: 101.6865})
	require.NoError(t, err)
	assert.Equal(t, `{"lat":3.1412,"lng":101.6865}`, string(got))
}

func TestSnapshotHashDeterministic(t *testing.T) {
	sos := []SOSRequest{{ID: "1", Status: StatusActive, Messages: []ChatMessage{}}}
	rescuers := []Rescuer{SincereTeam()}

	h1, err := SnapshotHash(sos, rescuers, "1", "")
	require.NoError(t, err)
	h2, err := SnapshotHash(sos, rescuers, "1", "")
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64, "SHA-256 hex is 64 characters")
}

func TestSnapshotHashChangesWithState(t *testing.T) {
	sos := []SOSRequest{{ID: "1", Status: StatusActive}}
	base, err := SnapshotHash(sos, nil, "", "")
	require.NoError(t, err)

	rescued := []SOSRequest{{ID: "1", Status: StatusRescued}}
	changed, err := SnapshotHash(rescued, nil, "", "")
	require.NoError(t, err)
	assert.NotEqual(t, base, changed)

	pointer, err := SnapshotHash(sos, nil, "1", "")
	require.NoError(t, err)
	assert.NotEqual(t, base, pointer, "identity pointers are part of the snapshot")
}

func TestSnapshotHashNilEqualsEmpty(t *testing.T) {
	a, err := SnapshotHash(nil, nil, "", "")
	require.NoError(t, err)
	b, err := SnapshotHash([]SOSRequest{}, []Rescuer{}, "", "")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
