package build

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/errors"
	"github.com/conneroisu/assetforge/internal/validation"
)

// OutputFile is one file of a finished build. Path is relative to the output
// root and uses forward slashes.
type OutputFile struct {
	Path    string `json:"path"`
	Size    int    `json:"size"`
	Chunk   string `json:"chunk,omitempty"`
	Content []byte `json:"-"`
}

// emit writes files under root, each through a temporary file and a rename.
// Files recorded in previous that this build no longer produces are removed
// afterwards; nothing else under root is touched.
func emit(root string, files []OutputFile, previous Manifest) error {
	targets := make([]string, len(files))
	for i, f := range files {
		target, err := validation.WithinRoot(root, filepath.FromSlash(f.Path))
		if err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, f.Path, err)
		}
		targets[i] = target
	}

	for i, f := range files {
		if err := writeAtomic(targets[i], f.Content); err != nil {
			return errors.NewIOError(errors.ErrCodeWriteFailed, targets[i], err)
		}
	}

	return removeStale(root, files, previous)
}

// removeStale deletes the files of a previous build that are not part of
// files, then any directories that leaves empty. Recorded paths resolving
// outside root are ignored.
func removeStale(root string, files []OutputFile, previous Manifest) error {
	if len(previous) == 0 {
		return nil
	}

	written := make(map[string]bool, len(files))
	for _, f := range files {
		written[path.Clean(f.Path)] = true
	}

	candidates := []string{ManifestFile}
	for _, name := range previous.Keys() {
		candidates = append(candidates, previous[name])
	}
	sort.Strings(candidates)

	for _, rel := range candidates {
		rel = path.Clean(rel)
		if written[rel] {
			continue
		}
		written[rel] = true

		target, err := validation.WithinRoot(root, filepath.FromSlash(rel))
		if err != nil || target == filepath.Clean(root) {
			continue
		}
		info, err := os.Lstat(target)
		if err != nil || info.IsDir() {
			continue
		}
		if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
			return errors.NewIOError(errors.ErrCodeWriteFailed, target, err)
		}
		pruneEmptyDirs(root, filepath.Dir(target))
	}
	return nil
}

// pruneEmptyDirs removes dir and its parents up to, not including, root
// while they are empty.
func pruneEmptyDirs(root, dir string) {
	root = filepath.Clean(root)
	for dir != root && strings.HasPrefix(dir, root+string(filepath.Separator)) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
