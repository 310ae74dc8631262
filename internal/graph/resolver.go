package graph

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/conneroisu/assetforge/internal/config"
	"github.com/conneroisu/assetforge/internal/errors"
)

// Resolver turns import specifiers into absolute paths.
//
// Specifiers are tried as aliases first, then as relative or root-absolute
// paths, then as packages under node_modules directories walking up from the
// importer. Each candidate file is tried as is, with every configured
// extension, and as a directory index.
type Resolver struct {
	root       string
	extensions []string
	aliases    []alias
}

type alias struct {
	prefix string
	target string
}

// NewResolver creates a resolver for the build's source root.
func NewResolver(bc *config.BuildContext) *Resolver {
	cfg := bc.Config().Resolve
	r := &Resolver{root: bc.SourceRoot(), extensions: cfg.Extensions}

	for prefix, target := range cfg.Alias {
		if !filepath.IsAbs(target) {
			target = filepath.Join(r.root, target)
		}
		r.aliases = append(r.aliases, alias{prefix: prefix, target: filepath.Clean(target)})
	}
	// Longest prefix wins.
	sort.Slice(r.aliases, func(i, j int) bool {
		return len(r.aliases[i].prefix) > len(r.aliases[j].prefix)
	})

	return r
}

// IsExternal reports whether a specifier points outside the build: remote
// URLs, data URIs and fragment-only references.
func IsExternal(specifier string) bool {
	lower := strings.ToLower(specifier)
	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "//") ||
		strings.HasPrefix(lower, "data:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(specifier, "#") ||
		specifier == ""
}

// SplitQuery separates a ?query or #fragment suffix from a specifier.
func SplitQuery(specifier string) (string, string) {
	if i := strings.IndexAny(specifier, "?#"); i >= 0 {
		return specifier[:i], specifier[i:]
	}
	return specifier, ""
}

// Resolve locates specifier as imported from importer, an absolute path.
// Style sheets treat bare specifiers as relative unless prefixed with ~,
// which selects a package.
func (r *Resolver) Resolve(importer, specifier string, kind Kind) (string, error) {
	spec, _ := SplitQuery(specifier)
	if spec == "" {
		return "", errors.NewResolutionError(importer, specifier, fmt.Errorf("empty specifier"))
	}

	for _, a := range r.aliases {
		if spec == a.prefix || strings.HasPrefix(spec, a.prefix+"/") {
			rest := strings.TrimPrefix(spec, a.prefix)
			if p, ok := r.locate(filepath.Join(a.target, filepath.FromSlash(rest))); ok {
				return p, nil
			}
			return "", errors.NewResolutionError(importer, specifier, fmt.Errorf("alias %q matched but no file found", a.prefix))
		}
	}

	switch {
	case strings.HasPrefix(spec, "./"), strings.HasPrefix(spec, "../"), spec == ".", spec == "..":
		return r.resolvePath(importer, specifier, filepath.Join(filepath.Dir(importer), filepath.FromSlash(spec)))
	case strings.HasPrefix(spec, "/"):
		return r.resolvePath(importer, specifier, filepath.Join(r.root, filepath.FromSlash(spec)))
	case strings.HasPrefix(spec, "~"):
		return r.resolvePackage(importer, specifier, strings.TrimPrefix(spec, "~"))
	case kind == KindStyle || kind == KindMarkup:
		return r.resolvePath(importer, specifier, filepath.Join(filepath.Dir(importer), filepath.FromSlash(spec)))
	default:
		return r.resolvePackage(importer, specifier, spec)
	}
}

func (r *Resolver) resolvePath(importer, specifier, candidate string) (string, error) {
	if p, ok := r.locate(candidate); ok {
		return p, nil
	}
	return "", errors.NewResolutionError(importer, specifier, fmt.Errorf("no file at %s", candidate))
}

// resolvePackage looks for name in node_modules directories from the
// importer's directory upwards.
func (r *Resolver) resolvePackage(importer, specifier, name string) (string, error) {
	pkg, sub := splitPackage(name)

	dir := filepath.Dir(importer)
	for {
		base := filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))
		if info, err := os.Stat(base); err == nil && info.IsDir() {
			if sub != "" {
				if p, ok := r.locate(filepath.Join(base, filepath.FromSlash(sub))); ok {
					return p, nil
				}
			} else if p, ok := r.packageEntry(base); ok {
				return p, nil
			}
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", errors.NewResolutionError(importer, specifier, fmt.Errorf("package %q not found in node_modules", pkg))
}

func splitPackage(name string) (string, string) {
	parts := strings.SplitN(name, "/", 3)
	if strings.HasPrefix(name, "@") && len(parts) >= 2 {
		pkg := parts[0] + "/" + parts[1]
		if len(parts) == 3 {
			return pkg, parts[2]
		}
		return pkg, ""
	}
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return name, ""
}

type packageJSON struct {
	Module string `json:"module"`
	Main   string `json:"main"`
	Style  string `json:"style"`
}

func (r *Resolver) packageEntry(dir string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err == nil {
		var pkg packageJSON
		if json.Unmarshal(data, &pkg) == nil {
			for _, field := range []string{pkg.Module, pkg.Main, pkg.Style} {
				if field == "" {
					continue
				}
				if p, ok := r.locateFile(filepath.Join(dir, filepath.FromSlash(field))); ok {
					return p, true
				}
			}
		}
	}
	return r.locateIndex(dir)
}

// locate tries candidate as a file, with each extension, then as a directory.
func (r *Resolver) locate(candidate string) (string, bool) {
	if isFile(candidate) {
		return candidate, true
	}
	for _, ext := range r.extensions {
		if isFile(candidate + ext) {
			return candidate + ext, true
		}
	}
	if info, err := os.Stat(candidate); err == nil && info.IsDir() {
		if isFile(filepath.Join(candidate, "package.json")) {
			return r.packageEntry(candidate)
		}
		return r.locateIndex(candidate)
	}
	return "", false
}

// locateFile is locate without package.json handling, so a package entry
// field pointing back at its own directory cannot recurse.
func (r *Resolver) locateFile(candidate string) (string, bool) {
	if isFile(candidate) {
		return candidate, true
	}
	for _, ext := range r.extensions {
		if isFile(candidate + ext) {
			return candidate + ext, true
		}
	}
	return r.locateIndex(candidate)
}

func (r *Resolver) locateIndex(dir string) (string, bool) {
	for _, ext := range r.extensions {
		p := filepath.Join(dir, "index"+ext)
		if isFile(p) {
			return p, true
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
