package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Kind  string `json:"kind"`
	Count int    `json:"count"`
}

func TestJSON_ValueAndScan(t *testing.T) {
	in := NewJSON(&sample{Kind: "streak", Count: 3})

	v, err := in.Value()
	require.NoError(t, err)
	assert.Equal(t, `{"kind":"streak","count":3}`, v)

	var out JSON[sample]
	require.NoError(t, out.Scan([]byte(v.(string))))
	require.NotNil(t, out.V)
	assert.Equal(t, sample{Kind: "streak", Count: 3}, *out.V)
}

func TestJSON_Null(t *testing.T) {
	v, err := JSON[sample]{}.Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	out := NewJSON(&sample{Kind: "x"})
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out.V)

	require.NoError(t, out.Scan("null"))
	assert.Nil(t, out.V)
}

func TestJSON_ScanRejectsUnknownType(t *testing.T) {
	var out JSON[sample]
	assert.Error(t, out.Scan(42))
}

func TestNew_UnsupportedDriver(t *testing.T) {
	_, err := New(&Config{Driver: "oracle"})
	assert.Error(t, err)
}
