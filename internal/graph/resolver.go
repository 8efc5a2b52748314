package graph

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/standardbeagle/ldg/internal/types"
)

// jsExtensions are probed in order when a specifier omits the extension.
var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs"}

// Resolver maps import specifiers to absolute file paths inside a workspace.
// Specifiers that cannot be mapped are classified external (package imports)
// or unresolved (local-looking but missing), never errors.
type Resolver struct {
	root string
}

// NewResolver creates a resolver scoped to a workspace root.
func NewResolver(root string) *Resolver {
	return &Resolver{root: types.NormalizePath(root)}
}

// Resolve maps one import of sourcePath to a dependency edge.
func (r *Resolver) Resolve(sourcePath string, imp types.Import) types.Dependency {
	source := types.NormalizePath(sourcePath)
	dep := types.Dependency{
		Source:   source,
		Target:   imp.Module,
		Kind:     imp.Kind,
		Line:     imp.Line,
		TypeOnly: imp.TypeOnly,
	}

	ext := strings.ToLower(filepath.Ext(sourcePath))
	var resolved string
	var local bool

	switch ext {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		resolved, local = r.resolveJS(source, imp.Module)
	case ".py":
		resolved, local = r.resolvePython(source, imp.Module)
	case ".rs":
		resolved, local = r.resolveRust(source, imp.Module)
	case ".go":
		// Go import paths are package-level, not file-level; they never map
		// to a single file inside the workspace.
		local = false
	}

	switch {
	case resolved != "":
		dep.Target = resolved
	case local:
		dep.Unresolved = true
	default:
		dep.External = true
	}
	return dep
}

// resolveJS handles relative specifiers with extension and index probing.
// Bare specifiers are package imports.
func (r *Resolver) resolveJS(source, module string) (string, bool) {
	if !strings.HasPrefix(module, "./") && !strings.HasPrefix(module, "../") && !strings.HasPrefix(module, "/") {
		return "", false
	}

	base := module
	if !filepath.IsAbs(base) {
		base = filepath.Join(filepath.Dir(source), module)
	}

	candidates := make([]string, 0, 2*len(jsExtensions)+1)
	candidates = append(candidates, base)
	for _, ext := range jsExtensions {
		candidates = append(candidates, base+ext)
	}
	for _, ext := range jsExtensions {
		candidates = append(candidates, filepath.Join(base, "index"+ext))
	}

	for _, candidate := range candidates {
		if isFile(candidate) {
			return types.NormalizePath(candidate), true
		}
	}
	return "", true
}

// resolvePython handles relative (leading-dot) and workspace-rooted dotted
// module paths, probing module.py and package/__init__.py.
func (r *Resolver) resolvePython(source, module string) (string, bool) {
	dots := 0
	for dots < len(module) && module[dots] == '.' {
		dots++
	}
	rest := strings.ReplaceAll(module[dots:], ".", string(filepath.Separator))

	if dots > 0 {
		base := filepath.Dir(source)
		for i := 1; i < dots; i++ {
			base = filepath.Dir(base)
		}
		target := base
		if rest != "" {
			target = filepath.Join(base, rest)
		}
		if resolved := probePython(target); resolved != "" {
			return resolved, true
		}
		return "", true
	}

	// Absolute module path: try the workspace root, then the source's own
	// directory (scripts run from their package directory).
	for _, base := range []string{r.root, filepath.Dir(source)} {
		if resolved := probePython(filepath.Join(base, rest)); resolved != "" {
			return resolved, true
		}
	}
	return "", false
}

func probePython(target string) string {
	if isFile(target + ".py") {
		return types.NormalizePath(target + ".py")
	}
	init := filepath.Join(target, "__init__.py")
	if isFile(init) {
		return types.NormalizePath(init)
	}
	return ""
}

// resolveRust maps a module name to a sibling file or mod.rs, then to the
// crate's src directory. Anything else is an external crate.
func (r *Resolver) resolveRust(source, module string) (string, bool) {
	module = strings.TrimSpace(module)
	if module == "" || strings.ContainsAny(module, "{}:") {
		return "", false
	}

	dir := filepath.Dir(source)
	for _, candidate := range []string{
		filepath.Join(dir, module+".rs"),
		filepath.Join(dir, module, "mod.rs"),
		filepath.Join(r.root, "src", module+".rs"),
		filepath.Join(r.root, "src", module, "mod.rs"),
	} {
		if isFile(candidate) {
			return types.NormalizePath(candidate), true
		}
	}
	return "", false
}

func isFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
