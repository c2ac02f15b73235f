package specfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.yaml")
	body := "project: demo\ntask_description: build a thing\nprovider: mlx\nconcurrency: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", spec.Project)
	require.Equal(t, "mlx", spec.Provider)
	require.Equal(t, 2, spec.Concurrency)
}

func TestLoadParsesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	body := `{"project":"demo","task_description":"build a thing","provider":"mlx"}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	spec, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "demo", spec.Project)
}

func TestLoadRejectsInvalidSpec(t *testing.T) {
	path := filepath.Join(t.TempDir(), "job.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"project":"demo"}`), 0o644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	require.Error(t, err)
}
