// Package parser extracts imports and symbol graphs from source files using
// tree-sitter. It is the only package that touches language grammars; the
// graph engine consumes its output without knowing any syntax.
package parser

import (
	"path/filepath"
	"strings"
	"sync"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/standardbeagle/ldg/internal/errors"
	"github.com/standardbeagle/ldg/internal/types"
)

// Parser wraps per-language tree-sitter parsers and symbol queries.
// Parse operations are serialized per parser instance; tree-sitter parsers
// are not safe for concurrent use.
type Parser struct {
	mu        sync.Mutex
	parsers   map[string]*tree_sitter.Parser
	languages map[string]*tree_sitter.Language
	queries   map[string]*tree_sitter.Query
}

// New creates a parser with all supported languages registered.
func New() *Parser {
	p := &Parser{
		parsers:   make(map[string]*tree_sitter.Parser),
		languages: make(map[string]*tree_sitter.Language),
		queries:   make(map[string]*tree_sitter.Query),
	}
	p.setupJavaScript()
	p.setupTypeScript()
	p.setupPython()
	p.setupGo()
	p.setupRust()
	return p
}

// Supports reports whether a file extension has a registered grammar.
func (p *Parser) Supports(ext string) bool {
	_, ok := p.parsers[strings.ToLower(ext)]
	return ok
}

// SupportedExtensions lists every extension a grammar is registered for.
func (p *Parser) SupportedExtensions() []string {
	exts := make([]string, 0, len(p.parsers))
	for ext := range p.parsers {
		exts = append(exts, ext)
	}
	return exts
}

// parse runs the grammar for path's extension over content and returns the
// tree. Caller must Close the returned tree.
func (p *Parser) parse(content []byte, path string) (*tree_sitter.Tree, string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	p.mu.Lock()
	defer p.mu.Unlock()

	parser, ok := p.parsers[ext]
	if !ok {
		return nil, ext, errors.NewUnsupportedExtension(path)
	}
	tree := parser.Parse(content, nil)
	if tree == nil {
		return nil, ext, errors.NewEngineError(errors.CodeParse, "parse", path, nil)
	}
	return tree, ext, nil
}

// Parse extracts import specifiers from content.
func (p *Parser) Parse(content []byte, path string) ([]types.Import, error) {
	tree, ext, err := p.parse(content, path)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	switch ext {
	case ".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx":
		return extractJSImports(root, content), nil
	case ".py":
		return extractPythonImports(root, content), nil
	case ".go":
		return extractGoImports(root, content), nil
	case ".rs":
		return extractRustImports(root, content), nil
	}
	return nil, nil
}

func (p *Parser) setupJavaScript() {
	p.setupLanguage(jsLanguage(), jsSymbolQuery, ".js", ".jsx", ".mjs", ".cjs")
}

func (p *Parser) setupTypeScript() {
	p.setupLanguage(tsLanguage(), tsSymbolQuery, ".ts")
	p.setupLanguage(tsxLanguage(), tsSymbolQuery, ".tsx")
}

func (p *Parser) setupPython() {
	p.setupLanguage(pyLanguage(), pySymbolQuery, ".py")
}

func (p *Parser) setupGo() {
	p.setupLanguage(goLanguage(), goSymbolQuery, ".go")
}

func (p *Parser) setupRust() {
	p.setupLanguage(rustLanguage(), rustSymbolQuery, ".rs")
}

func (p *Parser) setupLanguage(language *tree_sitter.Language, queryStr string, exts ...string) {
	parser := tree_sitter.NewParser()
	if err := parser.SetLanguage(language); err != nil {
		return
	}

	query, _ := tree_sitter.NewQuery(language, queryStr)

	for _, ext := range exts {
		p.parsers[ext] = parser
		p.languages[ext] = language
		// Check if query was actually created (tree-sitter Go binding bug:
		// a typed nil error can hide a nil query)
		if query != nil {
			p.queries[ext] = query
		}
	}
}

// nodeText returns the source text covered by a node.
func nodeText(n *tree_sitter.Node, content []byte) string {
	return string(content[n.StartByte():n.EndByte()])
}

// nodeLine returns the 1-based line of a node.
func nodeLine(n *tree_sitter.Node) int {
	return int(n.StartPosition().Row) + 1
}

// unquote strips the surrounding quote characters from a string literal node.
func unquote(s string) string {
	if len(s) >= 2 {
		switch s[0] {
		case '"', '\'', '`':
			return s[1 : len(s)-1]
		}
	}
	return s
}
