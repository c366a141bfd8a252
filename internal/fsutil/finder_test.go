package fsutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegularFiles(t *testing.T) {
	root := t.TempDir()
	for _, name := range []string{"b.hcl", "a.hcl", "notes.txt", "nested/c.hcl", ".remotebox/state.hcl", ".env"} {
		path := filepath.Join(root, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, nil, 0o644))
	}
	rel := func(paths []string) []string {
		out := make([]string, len(paths))
		for i, p := range paths {
			r, err := filepath.Rel(root, p)
			require.NoError(t, err)
			out[i] = filepath.ToSlash(r)
		}
		return out
	}

	t.Run("hcl files outside hidden directories", func(t *testing.T) {
		files, err := RegularFiles(root, WalkOptions{Extension: ".hcl", SkipHiddenDirs: true})
		require.NoError(t, err)
		assert.Equal(t, []string{"a.hcl", "b.hcl", "nested/c.hcl"}, rel(files))
	})

	t.Run("everything", func(t *testing.T) {
		files, err := RegularFiles(root, WalkOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{".env", ".remotebox/state.hcl", "a.hcl", "b.hcl", "nested/c.hcl", "notes.txt"}, rel(files))
	})

	t.Run("hidden root is still walked", func(t *testing.T) {
		files, err := RegularFiles(filepath.Join(root, ".remotebox"), WalkOptions{SkipHiddenDirs: true})
		require.NoError(t, err)
		assert.Len(t, files, 1)
	})

	t.Run("missing root", func(t *testing.T) {
		_, err := RegularFiles(filepath.Join(root, "absent"), WalkOptions{})
		assert.Error(t, err)
	})
}
