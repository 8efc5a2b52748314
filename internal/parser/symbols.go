package parser

import (
	"path/filepath"
	"strconv"
	"strings"
	"unicode"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/ldg/internal/types"
)

// symbolEntry pairs a query capture with its resolved name before IDs are
// assigned.
type symbolEntry struct {
	node *tree_sitter.Node
	name string
	kind types.SymbolKind
	line int
}

// importBinding maps a local name introduced by an import to its module.
type importBinding struct {
	module   string
	typeOnly bool
}

// SymbolGraph extracts the declared symbols of a file and the dependencies
// between them, including edges into imported modules. Cross-file targets
// carry the raw module specifier in TargetFile; the graph engine resolves
// specifiers to absolute paths.
func (p *Parser) SymbolGraph(content []byte, path string) (*types.FileSymbolGraph, error) {
	tree, ext, err := p.parse(content, path)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	graph := &types.FileSymbolGraph{FilePath: types.NormalizePath(path)}

	query := p.queries[ext]
	if query == nil {
		return graph, nil
	}

	entries := p.collectSymbolEntries(query, tree.RootNode(), content)
	bindings := collectImportBindings(ext, tree.RootNode(), content)

	// Assign IDs. Same-file name collisions (overloads, shadowed helpers)
	// get a #line suffix so the index never aliases two declarations;
	// lookup by bare name stays first-match.
	seen := make(map[string]bool, len(entries))
	ids := make(map[*tree_sitter.Node]string, len(entries))
	byName := make(map[string]string, len(entries))
	for _, e := range entries {
		id := types.SymbolID(path, e.name)
		if seen[id] {
			id = id + "#" + strconv.Itoa(e.line)
		}
		seen[id] = true
		ids[e.node] = id
		if _, ok := byName[e.name]; !ok {
			byName[e.name] = id
		}

		graph.Symbols = append(graph.Symbols, types.Symbol{
			ID:       id,
			Name:     e.name,
			Kind:     e.kind,
			Line:     e.line,
			Exported: isExported(ext, e.node, e.name, content),
		})
	}

	// Parent linkage: a symbol nested inside another symbol's byte range
	// gets the tightest enclosing symbol as parent.
	for i := range graph.Symbols {
		node := entries[i].node
		var parent *symbolEntry
		for j := range entries {
			if i == j {
				continue
			}
			other := &entries[j]
			if other.node.StartByte() <= node.StartByte() && node.EndByte() <= other.node.EndByte() {
				if parent == nil || other.node.StartByte() >= parent.node.StartByte() {
					parent = other
				}
			}
		}
		if parent != nil {
			graph.Symbols[i].ParentID = ids[parent.node]
		}
	}

	// Dependencies: identifiers referenced inside a symbol's body that name
	// another symbol in this file or an imported binding.
	dedup := make(map[string]bool)
	for i := range graph.Symbols {
		sourceID := graph.Symbols[i].ID
		entry := entries[i]
		walk(entry.node, func(n *tree_sitter.Node) bool {
			switch n.Kind() {
			case "identifier", "type_identifier", "property_identifier", "field_identifier":
			default:
				return true
			}
			name := nodeText(n, content)
			if name == graph.Symbols[i].Name {
				return true
			}
			if targetID, ok := byName[name]; ok {
				key := sourceID + "|" + targetID
				if !dedup[key] {
					dedup[key] = true
					graph.Dependencies = append(graph.Dependencies, types.SymbolDependency{
						SourceID:   sourceID,
						TargetID:   targetID,
						TargetFile: graph.FilePath,
					})
				}
				return true
			}
			if binding, ok := bindings[name]; ok {
				targetID := binding.module + ":" + name
				key := sourceID + "|" + targetID
				if !dedup[key] {
					dedup[key] = true
					graph.Dependencies = append(graph.Dependencies, types.SymbolDependency{
						SourceID:   sourceID,
						TargetID:   targetID,
						TargetFile: binding.module,
						TypeOnly:   binding.typeOnly,
					})
				}
			}
			return true
		})
	}

	return graph, nil
}

// collectSymbolEntries runs the symbol query and resolves capture names.
func (p *Parser) collectSymbolEntries(query *tree_sitter.Query, root *tree_sitter.Node, content []byte) []symbolEntry {
	qc := tree_sitter.NewQueryCursor()
	defer qc.Close()

	captureNames := query.CaptureNames()
	matches := qc.Matches(query, root, content)

	var entries []symbolEntry
	// A declaration can match more than one pattern (python methods are also
	// function_definitions); track by position and keep the richer kind.
	byPos := make(map[uint]int)

	for {
		match := matches.Next()
		if match == nil {
			break
		}

		capturedNames := make(map[string]string, 2)
		for _, c := range match.Captures {
			captureName := captureNames[c.Index]
			if strings.Contains(captureName, ".name") {
				capturedNames[captureName] = nodeText(&c.Node, content)
			}
		}

		for _, c := range match.Captures {
			node := c.Node
			captureName := captureNames[c.Index]

			var kind types.SymbolKind
			switch captureName {
			case "function":
				kind = types.SymbolFunction
			case "method":
				kind = types.SymbolMethod
			case "class":
				kind = types.SymbolClass
			case "interface":
				kind = types.SymbolInterface
			case "type":
				kind = types.SymbolType
			case "enum":
				kind = types.SymbolEnum
			case "variable":
				kind = types.SymbolVariable
			default:
				continue
			}

			name := capturedNames[captureName+".name"]
			if name == "" {
				if nameNode := node.ChildByFieldName("name"); nameNode != nil {
					name = nodeText(nameNode, content)
				}
			}
			if name == "" {
				continue
			}

			pos := node.StartByte()
			if idx, ok := byPos[pos]; ok {
				// Method beats function for the same declaration; a variable
				// capture never overrides a function-valued declarator.
				if kind == types.SymbolMethod || entries[idx].kind == types.SymbolVariable {
					entries[idx].kind = kind
				}
				continue
			}
			byPos[pos] = len(entries)
			entries = append(entries, symbolEntry{
				node: &node,
				name: name,
				kind: kind,
				line: nodeLine(&node),
			})
		}
	}

	return entries
}

// collectImportBindings maps local names introduced by imports to modules.
func collectImportBindings(ext string, root *tree_sitter.Node, content []byte) map[string]importBinding {
	bindings := make(map[string]importBinding)

	switch ext {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		walk(root, func(n *tree_sitter.Node) bool {
			if n.Kind() != "import_statement" {
				return true
			}
			source := n.ChildByFieldName("source")
			if source == nil {
				return false
			}
			module := unquote(nodeText(source, content))
			typeOnly := isTypeOnlyImport(n, content)
			walk(n, func(c *tree_sitter.Node) bool {
				switch c.Kind() {
				case "identifier":
					bindings[nodeText(c, content)] = importBinding{module: module, typeOnly: typeOnly}
				case "import_specifier":
					// `import { a as b }` binds b; the name field is a, alias b.
					bound := c.ChildByFieldName("alias")
					if bound == nil {
						bound = c.ChildByFieldName("name")
					}
					if bound != nil {
						bindings[nodeText(bound, content)] = importBinding{module: module, typeOnly: typeOnly}
					}
					return false
				}
				return true
			})
			return false
		})

	case ".py":
		walk(root, func(n *tree_sitter.Node) bool {
			if n.Kind() != "import_from_statement" {
				return true
			}
			module := ""
			if m := n.ChildByFieldName("module_name"); m != nil {
				module = nodeText(m, content)
			}
			if module == "" {
				return false
			}
			for i := uint(0); i < n.NamedChildCount(); i++ {
				child := n.NamedChild(i)
				switch child.Kind() {
				case "dotted_name":
					if child.StartByte() > n.ChildByFieldName("module_name").EndByte() {
						bindings[nodeText(child, content)] = importBinding{module: module}
					}
				case "aliased_import":
					if alias := child.ChildByFieldName("alias"); alias != nil {
						bindings[nodeText(alias, content)] = importBinding{module: module}
					}
				}
			}
			return false
		})
	}

	return bindings
}

// isExported decides visibility per language convention.
func isExported(ext string, node *tree_sitter.Node, name string, content []byte) bool {
	switch ext {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		for p := node.Parent(); p != nil; p = p.Parent() {
			if p.Kind() == "export_statement" {
				return true
			}
		}
		return false
	case ".py":
		return !strings.HasPrefix(name, "_")
	case ".go":
		r := []rune(name)
		return len(r) > 0 && unicode.IsUpper(r[0])
	case ".rs":
		for i := uint(0); i < node.ChildCount(); i++ {
			if node.Child(i).Kind() == "visibility_modifier" {
				return true
			}
		}
		return false
	}
	return false
}

// ExtFor returns the lowercased extension for a path.
func ExtFor(path string) string {
	return strings.ToLower(filepath.Ext(path))
}
