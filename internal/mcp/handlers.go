package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/standardbeagle/ldg/internal/types"
)

// pathParams covers the tools that take only a file path.
type pathParams struct {
	Path string `json:"path"`
}

type pagedPathParams struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

type crawlParams struct {
	Path     string `json:"path"`
	MaxDepth int    `json:"max_depth"`
}

type expandParams struct {
	Path       string   `json:"path"`
	KnownNodes []string `json:"known_nodes"`
	Depth      int      `json:"depth"`
}

type symbolParams struct {
	Path     string `json:"path"`
	Symbol   string `json:"symbol"`
	MaxDepth int    `json:"max_depth"`
}

type verifyParams struct {
	Path    string   `json:"path"`
	Targets []string `json:"targets"`
}

func decode(req *sdk.CallToolRequest, out any) error {
	if len(req.Params.Arguments) == 0 {
		return nil
	}
	if err := json.Unmarshal(req.Params.Arguments, out); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

func (s *Server) handleGetDependencies(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	deps, err := s.engine.Analyze(params.Path)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, map[string]any{
		"path":         types.NormalizePath(params.Path),
		"dependencies": deps,
	})
}

func (s *Server) handleGetDependents(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pagedPathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	dependents := s.engine.Dependents(params.Path)
	page, pagination := paginate(dependents, params.Offset, params.Limit)
	return s.successPaged(started, map[string]any{
		"path":       types.NormalizePath(params.Path),
		"dependents": page,
	}, pagination)
}

func (s *Server) handleCrawl(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params crawlParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	result, err := s.engine.Crawl(params.Path, params.MaxDepth)
	if err != nil && result == nil {
		return s.failure(started, err)
	}

	data := map[string]any{"graph": result}
	if err != nil {
		// Partial failure: deliver what was gathered alongside the error.
		data["partial_error"] = err.Error()
	}
	return s.success(started, data)
}

func (s *Server) handleExpand(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params expandParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	result, err := s.engine.CrawlFrom(ctx, params.Path, params.KnownNodes, params.Depth, nil)
	if err != nil && result == nil {
		return s.failure(started, err)
	}

	data := map[string]any{"graph": result}
	if err != nil {
		data["partial_error"] = err.Error()
	}
	return s.success(started, data)
}

func (s *Server) handleSymbolGraph(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	graph, err := s.engine.SymbolGraph(params.Path)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, graph)
}

func (s *Server) handleUnusedSymbols(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	unused, err := s.engine.FindUnusedSymbols(params.Path)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, map[string]any{
		"path":   types.NormalizePath(params.Path),
		"unused": unused,
	})
}

func (s *Server) handleSymbolCallers(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params symbolParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	runtime, all, err := s.engine.GetSymbolDependents(params.Path, params.Symbol)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, map[string]any{
		"symbol":          types.SymbolID(params.Path, params.Symbol),
		"runtime_callers": runtime,
		"all_callers":     all,
	})
}

func (s *Server) handleTraceExecution(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params symbolParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	trace, err := s.engine.TraceFunctionExecution(params.Path, params.Symbol, params.MaxDepth)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, trace)
}

func (s *Server) handleImpact(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pagedPathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	affected := s.engine.Impact(params.Path)
	page, pagination := paginate(affected, params.Offset, params.Limit)
	return s.successPaged(started, map[string]any{
		"path":     types.NormalizePath(params.Path),
		"affected": page,
	}, pagination)
}

func (s *Server) handleVerifyUsage(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params verifyParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	targets := params.Targets
	if len(targets) == 0 {
		deps, err := s.engine.Analyze(params.Path)
		if err != nil {
			return s.failure(started, err)
		}
		for _, dep := range deps {
			if !dep.External && !dep.Unresolved {
				targets = append(targets, dep.Target)
			}
		}
	}

	report, err := s.engine.VerifyDependencyUsage(params.Path, targets)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, report)
}

func (s *Server) handleUnusedImports(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	unused, err := s.engine.UnusedImports(params.Path)
	if err != nil {
		return s.failure(started, err)
	}
	return s.success(started, map[string]any{
		"path":   types.NormalizePath(params.Path),
		"unused": unused,
	})
}

func (s *Server) handleReindexFile(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	var params pathParams
	if err := decode(req, &params); err != nil {
		return s.failure(started, err)
	}

	if err := s.engine.ReanalyzeFile(params.Path); err != nil {
		return s.failure(started, err)
	}
	return s.success(started, map[string]any{
		"path":      types.NormalizePath(params.Path),
		"reindexed": true,
	})
}

func (s *Server) handleIndexStatus(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()

	data := map[string]any{
		"state":          s.indexer.State(),
		"progress":       s.indexer.Progress(),
		"analyzed_files": s.engine.AnalyzedCount(),
	}
	if s.watcher != nil {
		data["watch"] = s.watcher.Stats()
	}
	return s.success(started, data)
}

func (s *Server) handleBuildIndex(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()

	if s.indexer.State() == types.IndexIndexing || s.indexer.State() == types.IndexCounting {
		return s.success(started, map[string]any{
			"started":  false,
			"progress": s.indexer.Progress(),
		})
	}

	// The build owns its own lifetime; the tool call only kicks it off.
	// Failures land in the indexer state, visible via index_status.
	go func() {
		_, _ = s.indexer.Run(context.Background())
	}()

	return s.success(started, map[string]any{"started": true})
}

func (s *Server) handleCancelIndex(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	s.indexer.Cancel()
	return s.success(started, map[string]any{
		"state": s.indexer.State(),
	})
}

func (s *Server) handleCacheStats(ctx context.Context, req *sdk.CallToolRequest) (*sdk.CallToolResult, error) {
	started := time.Now()
	return s.success(started, s.engine.UsageCache().Stats())
}
