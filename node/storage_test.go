package node

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShaeOJ/ClusterAxe-sub000/types"
)

func TestRoleStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "role.json")
	store := NewFileRoleStore(path)

	// Nothing persisted yet: disabled, not an error.
	role, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, types.RoleDisabled, role)

	for _, want := range []types.Role{types.RoleCoordinator, types.RoleWorker, types.RoleDisabled} {
		require.NoError(t, store.Save(want))
		got, err := store.Load()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestRoleStoreRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "role.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	role, err := NewFileRoleStore(path).Load()
	assert.Error(t, err)
	assert.Equal(t, types.RoleDisabled, role)
}
