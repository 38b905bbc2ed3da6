package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataScanValue(t *testing.T) {
	m := Metadata{"subsync_downgrade_target_plan": "starter"}
	value, err := m.Value()
	require.NoError(t, err)

	var out Metadata
	require.NoError(t, out.Scan(value))
	assert.Equal(t, m, out)

	// nil stores as an empty object, and a NULL column reads as an empty map
	var empty Metadata
	value, err = empty.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte(`{}`), value)

	require.NoError(t, out.Scan(nil))
	assert.Empty(t, out)
}
