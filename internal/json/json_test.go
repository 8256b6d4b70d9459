package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	Name string  `json:"userName"`
	Lat  float64 `json:"latitude"`
}

func TestRoundTrip(t *testing.T) {
	s, err := MarshalToString(point{Name: "alice", Lat: 1.5})
	require.NoError(t, err)
	assert.Equal(t, `{"userName":"alice","latitude":1.5}`, s)

	var p point
	require.NoError(t, UnmarshalFromString(s, &p))
	assert.Equal(t, "alice", p.Name)

	out, err := MarshalIndent([]point{{Name: "bob"}}, "", "  ")
	require.NoError(t, err)
	assert.Contains(t, string(out), "\n  {\n    \"userName\": \"bob\"")
}
