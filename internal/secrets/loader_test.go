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
	require.NoError(t, os.WriteFile(path, []byte("  s3cret\n"), 0o600))

	got, err := Load(Source{Name: "api key", File: path})
	require.NoError(t, err)
	assert.Equal(t, "s3cret", got)
}

func TestLoadFilePrecedesEnvAndValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	require.NoError(t, os.WriteFile(path, []byte("from-file"), 0o600))
	t.Setenv("TEST_SECRET", "from-env")

	got, err := Load(Source{File: path, Env: "TEST_SECRET", Value: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "from-file", got)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TEST_SECRET", "from-env")

	got, err := Load(Source{Env: "TEST_SECRET", Value: "inline"})
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(Source{Name: "api key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key is not configured")

	path := filepath.Join(t.TempDir(), "empty")
	require.NoError(t, os.WriteFile(path, []byte(" \n"), 0o600))

	_, err = Load(Source{Name: "api key", File: path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")

	_, err = Load(Source{Name: "api key", File: filepath.Join(t.TempDir(), "missing")})
	require.Error(t, err)
}
