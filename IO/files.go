package IO

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

// FindAudioFiles walks root recursively and returns the regular files whose
// extension (case-insensitive) is one of exts, sorted by path. An empty exts
// accepts every file.
func FindAudioFiles(root string, exts []string) ([]string, error) {
	want := make([]string, len(exts))
	for i, e := range exts {
		e = strings.ToLower(e)
		if e != "" && !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		want[i] = e
	}
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(want) > 0 && !slices.Contains(want, strings.ToLower(filepath.Ext(path))) {
			return nil
		}
		out = append(out, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	slices.Sort(out)
	return out, nil
}

// FileID is the base name of path without its extension.
func FileID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
