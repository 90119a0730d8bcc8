package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "taskmaster.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeTemp(t, `
programs:
  alpha:
    command: "sleep 60"
    numprocs: 2
  bad:
    command: "/nonexistent"
    startretries: 2
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Programs, 2)
	require.Equal(t, 2, cfg.Programs["alpha"].NumProcs)
	require.Equal(t, 2, cfg.Programs["bad"].StartRetries)
}

func TestLoadMissingProgramsKey(t *testing.T) {
	path := writeTemp(t, "not_programs: {}\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsInvalidProgram(t *testing.T) {
	path := writeTemp(t, `
programs:
  alpha:
    numprocs: -1
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/no/such/path.yaml")
	require.Error(t, err)
}

func TestResolveExplicitPath(t *testing.T) {
	path := writeTemp(t, "programs: {}\n")
	resolved, err := Resolve(path)
	require.NoError(t, err)
	require.Equal(t, path, resolved)
}

func TestResolveNoPathAndNoDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer os.Chdir(wd)

	_, err = Resolve("")
	require.Error(t, err)
}
