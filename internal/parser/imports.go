package parser

import (
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/ldg/internal/types"
)

// walk visits every node of the tree depth-first.
func walk(n *tree_sitter.Node, visit func(*tree_sitter.Node) bool) {
	if n == nil || !visit(n) {
		return
	}
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		walk(child, visit)
	}
}

// extractJSImports handles JavaScript and TypeScript import forms:
// static imports, re-exports, require() calls and dynamic import().
func extractJSImports(root *tree_sitter.Node, content []byte) []types.Import {
	var imports []types.Import

	walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "import_statement":
			source := n.ChildByFieldName("source")
			if source == nil {
				return false
			}
			imports = append(imports, types.Import{
				Module:   unquote(nodeText(source, content)),
				Kind:     types.ImportStatic,
				Line:     nodeLine(n),
				TypeOnly: isTypeOnlyImport(n, content),
			})
			return false

		case "export_statement":
			// Only `export ... from "mod"` introduces a dependency.
			if source := n.ChildByFieldName("source"); source != nil {
				imports = append(imports, types.Import{
					Module:   unquote(nodeText(source, content)),
					Kind:     types.ImportReExport,
					Line:     nodeLine(n),
					TypeOnly: isTypeOnlyImport(n, content),
				})
			}
			// Keep walking: the exported declaration may contain require calls.
			return true

		case "call_expression":
			fn := n.ChildByFieldName("function")
			if fn == nil {
				return true
			}
			callee := nodeText(fn, content)
			if callee != "require" && fn.Kind() != "import" {
				return true
			}
			args := n.ChildByFieldName("arguments")
			if args == nil || args.NamedChildCount() == 0 {
				return true
			}
			arg := args.NamedChild(0)
			if arg.Kind() != "string" {
				return true // non-literal specifier, cannot resolve
			}
			kind := types.ImportRequire
			if fn.Kind() == "import" {
				kind = types.ImportDynamic
			}
			imports = append(imports, types.Import{
				Module: unquote(nodeText(arg, content)),
				Kind:   kind,
				Line:   nodeLine(n),
			})
			return true
		}
		return true
	})

	return imports
}

// isTypeOnlyImport detects `import type` / `export type` statements.
func isTypeOnlyImport(n *tree_sitter.Node, content []byte) bool {
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if nodeText(child, content) == "type" && !child.IsNamed() {
			return true
		}
		// Stop looking once past the keyword region.
		if child.Kind() == "import_clause" || child.Kind() == "export_clause" || child.Kind() == "string" {
			break
		}
	}
	return false
}

// extractPythonImports handles `import a.b` and `from .x import y` forms.
// Relative imports keep their leading dots; the resolver maps them to files.
func extractPythonImports(root *tree_sitter.Node, content []byte) []types.Import {
	var imports []types.Import

	walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "import_statement":
			for i := uint(0); i < n.NamedChildCount(); i++ {
				child := n.NamedChild(i)
				module := ""
				switch child.Kind() {
				case "dotted_name":
					module = nodeText(child, content)
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						module = nodeText(name, content)
					}
				}
				if module != "" {
					imports = append(imports, types.Import{
						Module: module,
						Kind:   types.ImportStatic,
						Line:   nodeLine(n),
					})
				}
			}
			return false

		case "import_from_statement":
			if module := n.ChildByFieldName("module_name"); module != nil {
				imports = append(imports, types.Import{
					Module: nodeText(module, content),
					Kind:   types.ImportStatic,
					Line:   nodeLine(n),
				})
			}
			return false
		}
		return true
	})

	return imports
}

// extractGoImports reads import specs; the path is an interpreted string literal.
func extractGoImports(root *tree_sitter.Node, content []byte) []types.Import {
	var imports []types.Import

	walk(root, func(n *tree_sitter.Node) bool {
		if n.Kind() != "import_spec" {
			return true
		}
		if path := n.ChildByFieldName("path"); path != nil {
			imports = append(imports, types.Import{
				Module: unquote(nodeText(path, content)),
				Kind:   types.ImportStatic,
				Line:   nodeLine(n),
			})
		}
		return false
	})

	return imports
}

// extractRustImports handles `use` declarations and `mod` items without a
// body (which pull in sibling files).
func extractRustImports(root *tree_sitter.Node, content []byte) []types.Import {
	var imports []types.Import

	walk(root, func(n *tree_sitter.Node) bool {
		switch n.Kind() {
		case "use_declaration":
			if arg := n.ChildByFieldName("argument"); arg != nil {
				module := rootPathSegment(nodeText(arg, content))
				if module != "" {
					imports = append(imports, types.Import{
						Module: module,
						Kind:   types.ImportStatic,
						Line:   nodeLine(n),
					})
				}
			}
			return false

		case "mod_item":
			// `mod foo;` references foo.rs / foo/mod.rs; `mod foo { ... }` is inline.
			if n.ChildByFieldName("body") != nil {
				return true
			}
			if name := n.ChildByFieldName("name"); name != nil {
				imports = append(imports, types.Import{
					Module: nodeText(name, content),
					Kind:   types.ImportStatic,
					Line:   nodeLine(n),
				})
			}
			return false
		}
		return true
	})

	return imports
}

// rootPathSegment extracts the leading segment of a rust use path, dropping
// crate/self/super prefixes that refer to the current crate.
func rootPathSegment(path string) string {
	path = strings.TrimSpace(path)
	if i := strings.Index(path, "::"); i >= 0 {
		head := path[:i]
		if head == "crate" || head == "self" || head == "super" {
			rest := path[i+2:]
			if j := strings.Index(rest, "::"); j >= 0 {
				return rest[:j]
			}
			return strings.Trim(rest, "{} ")
		}
		return head
	}
	return path
}
