package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("  token-123\n"), 0o600))

	secret, err := Load(Source{Name: "api key", File: path})
	require.NoError(t, err)
	assert.Equal(t, "token-123", secret)
}

func TestLoadFilePrecedesEnvAndValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
	t.Setenv("AUTOAPPLY_TEST_KEY", "from-env")

	secret, err := Load(Source{File: path, Env: "AUTOAPPLY_TEST_KEY", Value: "from-value"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", secret)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("AUTOAPPLY_TEST_KEY", "  from-env  ")

	secret, err := Load(Source{Env: "AUTOAPPLY_TEST_KEY", Value: "from-value"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", secret)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(Source{Name: "api key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is not configured")

	empty := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(empty, []byte("   "), 0o600))

	_, err = Load(Source{Name: "api key", File: empty})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")

	_, err = Load(Source{File: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}

func TestLoadOptional(t *testing.T) {
	secret, err := LoadOptional(Source{Name: "api key"})
	require.NoError(t, err)
	assert.Empty(t, secret)

	// A named but unset environment variable is not an error.
	secret, err = LoadOptional(Source{Name: "api key", Env: "AUTOAPPLY_TEST_UNSET_KEY"})
	require.NoError(t, err)
	assert.Empty(t, secret)

	_, err = LoadOptional(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}
