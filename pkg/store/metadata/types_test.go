package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePermission(t *testing.T) {
	for _, p := range []Permission{PermissionRead, PermissionWrite} {
		got, err := ParsePermission(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}

	_, err := ParsePermission("admin")
	assert.Error(t, err)

	_, err = ParsePermission("")
	assert.Error(t, err)
}
