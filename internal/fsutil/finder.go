// Package fsutil provides file system utility functions.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
)

// FindFiles expands paths into the files ending with one of extensions.
// Directories are searched recursively, files are kept when their extension
// matches, and paths that do not exist are skipped. The result is sorted and
// free of duplicates.
func FindFiles(paths []string, extensions ...string) ([]string, error) {
	if len(extensions) == 0 {
		panic("at least one extension is required")
	}
	match := func(name string) bool { return slices.Contains(extensions, filepath.Ext(name)) }

	var out []string
	for _, root := range paths {
		info, err := os.Stat(root)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			continue
		case err != nil:
			return nil, fmt.Errorf("error accessing path %s: %w", root, err)
		case !info.IsDir():
			if match(root) {
				out = append(out, root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.Type().IsRegular() && match(d.Name()) {
				out = append(out, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", root, err)
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}
