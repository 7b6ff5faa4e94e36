// Package imageset discovers the input images of a batch run.
package imageset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"imgcap/internal/common/fsutil"
)

// SupportedExtensions lists the image extensions picked up by LoadDir (lowercase, with dot).
var SupportedExtensions = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif", ".tiff", ".webp"}

// IsSupported reports whether name has a supported image extension
// (case-insensitive). A name that is only an extension, like ".jpg", has no
// stem and is not an image.
func IsSupported(name string) bool {
	base := filepath.Base(name)
	if Stem(base) == "" {
		return false
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range SupportedExtensions {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadDir lists the supported image files directly inside dir, sorted by name.
// Subdirectories are not descended into. Returned paths are absolute.
func LoadDir(dir string) ([]string, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !IsSupported(name) {
			continue
		}
		p := filepath.Join(abs, name)
		// symlinks and other special entries must resolve to a regular file
		if !e.Type().IsRegular() && !fsutil.IsFile(p) {
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Stem returns the base name of path without its extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
