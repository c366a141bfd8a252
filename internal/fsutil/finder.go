// Package fsutil provides file system utility functions.
package fsutil

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// WalkOptions narrows the files RegularFiles returns.
type WalkOptions struct {
	// Extension, when set, keeps only files whose name ends with it.
	Extension string
	// SkipHiddenDirs leaves directories whose name starts with a dot, such
	// as .git or the .remotebox state directory, unvisited. The root itself
	// is always visited.
	SkipHiddenDirs bool
}

// RegularFiles recursively collects the regular files under root and
// returns their full paths in lexical order.
func RegularFiles(root string, opts WalkOptions) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if opts.SkipHiddenDirs && path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if opts.Extension != "" && !strings.HasSuffix(d.Name(), opts.Extension) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
