package build

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	difflib "github.com/pmezard/go-difflib/difflib"

	"github.com/conneroisu/assetforge/internal/errors"
)

// ManifestFile is the name of the manifest in the output root.
const ManifestFile = "manifest.json"

// Manifest maps logical names ("index.js", "img/logo.png") to emitted paths.
type Manifest map[string]string

// Keys returns the logical names, sorted.
func (m Manifest) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Encode renders the manifest as indented JSON with sorted keys.
func (m Manifest) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal manifest: %w", err)
	}
	return append(data, '\n'), nil
}

// ReadManifest loads the manifest of a previous build from root. A missing
// file yields an empty manifest.
func ReadManifest(root string) (Manifest, error) {
	path := filepath.Join(root, ManifestFile)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Manifest{}, nil
	}
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, path, err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeReadFailed, path, err)
	}
	return m, nil
}

// DiffManifests returns a unified diff of two manifests, one line per
// logical name, or the empty string when they are equal.
func DiffManifests(prev, next Manifest) (string, error) {
	lines := func(m Manifest) []string {
		out := make([]string, 0, len(m))
		for _, k := range m.Keys() {
			out = append(out, k+" -> "+m[k]+"\n")
		}
		return out
	}

	a, b := lines(prev), lines(next)
	if strings.Join(a, "") == strings.Join(b, "") {
		return "", nil
	}

	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        a,
		B:        b,
		FromFile: "previous/" + ManifestFile,
		ToFile:   "next/" + ManifestFile,
		Context:  3,
	})
}
