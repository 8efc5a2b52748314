// Package mcp exposes the dependency graph over the Model Context Protocol
// on stdio. Every tool answers with a uniform envelope so automation clients
// can parse success and failure the same way.
package mcp

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/ldg/internal/config"
	"github.com/standardbeagle/ldg/internal/debug"
	"github.com/standardbeagle/ldg/internal/graph"
	"github.com/standardbeagle/ldg/internal/indexer"
	"github.com/standardbeagle/ldg/internal/scheduler"
)

const serverVersion = "0.1.0"

// Server wires the graph engine and indexer into MCP tools.
type Server struct {
	cfg     *config.Config
	engine  *graph.Engine
	indexer *indexer.Indexer
	watcher *scheduler.Watcher

	server *sdk.Server
}

// NewServer builds the MCP server and registers every tool. watcher may be
// nil when watching is disabled.
func NewServer(cfg *config.Config, engine *graph.Engine, ix *indexer.Indexer, watcher *scheduler.Watcher) *Server {
	s := &Server{
		cfg:     cfg,
		engine:  engine,
		indexer: ix,
		watcher: watcher,
	}
	s.server = sdk.NewServer(&sdk.Implementation{
		Name:    "ldg-mcp-server",
		Version: serverVersion,
	}, nil)
	s.registerTools()
	return s
}

// Run serves on stdio until the context ends.
func (s *Server) Run(ctx context.Context) error {
	debug.SetStdioMode(true)
	debug.LogGraph("mcp server starting for %s\n", s.cfg.Project.Root)
	return s.server.Run(ctx, &sdk.StdioTransport{})
}

func pathProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "string", Description: description}
}

func intProp(description string) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "integer", Description: description}
}

func (s *Server) registerTools() {
	s.server.AddTool(&sdk.Tool{
		Name:        "get_dependencies",
		Description: "List the files a source file imports, with each edge classified as internal, external, or unresolved.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the file to analyze"),
			},
			Required: []string{"path"},
		},
	}, s.handleGetDependencies)

	s.server.AddTool(&sdk.Tool{
		Name:        "get_dependents",
		Description: "List the indexed files that import the given file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":   pathProp("Absolute path of the target file"),
				"offset": intProp("Pagination offset"),
				"limit":  intProp("Maximum results to return"),
			},
			Required: []string{"path"},
		},
	}, s.handleGetDependents)

	s.server.AddTool(&sdk.Tool{
		Name:        "crawl",
		Description: "Walk the dependency graph from an entry file to a depth limit, returning nodes, edges, and any cycles found.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":      pathProp("Absolute path of the entry file"),
				"max_depth": intProp("Maximum hop count from the entry file"),
			},
			Required: []string{"path"},
		},
	}, s.handleCrawl)

	s.server.AddTool(&sdk.Tool{
		Name:        "expand",
		Description: "Expand the graph outward from an already-crawled node, returning only nodes and edges not in the known set.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the node to expand from"),
				"known_nodes": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Node paths the client already has",
				},
				"depth": intProp("Extra hops to expand (default 1)"),
			},
			Required: []string{"path"},
		},
	}, s.handleExpand)

	s.server.AddTool(&sdk.Tool{
		Name:        "symbol_graph",
		Description: "Extract the symbols declared in a file and the symbol-level edges between them and their imports.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the file"),
			},
			Required: []string{"path"},
		},
	}, s.handleSymbolGraph)

	s.server.AddTool(&sdk.Tool{
		Name:        "unused_symbols",
		Description: "List top-level symbols in a file that nothing references, in-file or across the index.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the file"),
			},
			Required: []string{"path"},
		},
	}, s.handleUnusedSymbols)

	s.server.AddTool(&sdk.Tool{
		Name:        "symbol_callers",
		Description: "List the symbols that reference a named symbol, split into runtime callers and all callers including type-only.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":   pathProp("Absolute path of the file declaring the symbol"),
				"symbol": {Type: "string", Description: "Symbol name"},
			},
			Required: []string{"path", "symbol"},
		},
	}, s.handleSymbolCallers)

	s.server.AddTool(&sdk.Tool{
		Name:        "trace_execution",
		Description: "Walk outgoing symbol dependencies from a function up to a depth limit, following edges into other workspace files.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":      pathProp("Absolute path of the file declaring the function"),
				"symbol":    {Type: "string", Description: "Function name to trace from"},
				"max_depth": intProp("Maximum hops to follow (default 5)"),
			},
			Required: []string{"path", "symbol"},
		},
	}, s.handleTraceExecution)

	s.server.AddTool(&sdk.Tool{
		Name:        "impact",
		Description: "Compute the transitive set of files affected by a change to the given file.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path":   pathProp("Absolute path of the changed file"),
				"offset": intProp("Pagination offset"),
				"limit":  intProp("Maximum results to return"),
			},
			Required: []string{"path"},
		},
	}, s.handleImpact)

	s.server.AddTool(&sdk.Tool{
		Name:        "verify_usage",
		Description: "Check whether a file actually uses the dependencies it imports, beyond the import statement itself.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the importing file"),
				"targets": {
					Type:        "array",
					Items:       &jsonschema.Schema{Type: "string"},
					Description: "Dependency paths to verify; empty means all internal dependencies",
				},
			},
			Required: []string{"path"},
		},
	}, s.handleVerifyUsage)

	s.server.AddTool(&sdk.Tool{
		Name:        "unused_imports",
		Description: "Report imports whose targets contribute nothing to the file at runtime.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the file"),
			},
			Required: []string{"path"},
		},
	}, s.handleUnusedImports)

	s.server.AddTool(&sdk.Tool{
		Name:        "reindex_file",
		Description: "Force reanalysis of one file and republish its graph edges.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"path": pathProp("Absolute path of the file to reindex"),
			},
			Required: []string{"path"},
		},
	}, s.handleReindexFile)

	s.server.AddTool(&sdk.Tool{
		Name:        "index_status",
		Description: "Report the background index state, progress, and watcher statistics.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleIndexStatus)

	s.server.AddTool(&sdk.Tool{
		Name:        "build_index",
		Description: "Start a full background index build. Returns immediately; poll index_status for progress.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleBuildIndex)

	s.server.AddTool(&sdk.Tool{
		Name:        "cancel_index",
		Description: "Cancel a running index build. Already-indexed files are kept.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleCancelIndex)

	s.server.AddTool(&sdk.Tool{
		Name:        "cache_stats",
		Description: "Report usage-cache hit/miss counters and entry counts.",
		InputSchema: &jsonschema.Schema{Type: "object"},
	}, s.handleCacheStats)
}
