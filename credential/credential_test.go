package credential

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	t.Cleanup(Shutdown)
	store := FileStore{Path: filepath.Join(t.TempDir(), "nested", "credentials.yaml")}

	_, err := Current()
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, Init(store))
	_, err = Current()
	assert.ErrorIs(t, err, ErrMissing)

	require.NoError(t, Login(Credential{Token: "tok", Username: "avery"}))
	c, err := Current()
	require.NoError(t, err)
	assert.Equal(t, "tok", c.Token)

	info, err := os.Stat(store.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A fresh process sees the stored credential.
	Shutdown()
	require.NoError(t, Init(store))
	c, err = Current()
	require.NoError(t, err)
	assert.Equal(t, "avery", c.Username)

	require.NoError(t, Logout())
	_, err = Current()
	assert.ErrorIs(t, err, ErrMissing)
	_, err = os.Stat(store.Path)
	assert.True(t, os.IsNotExist(err))

	require.NoError(t, Logout(), "logout twice")
}

func TestInitRejectsCorruptFile(t *testing.T) {
	t.Cleanup(Shutdown)
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	require.NoError(t, os.WriteFile(path, []byte("token: [unterminated"), 0o600))

	assert.Error(t, Init(FileStore{Path: path}))
}
