package main

import (
	"context"
	"encoding/json"

	"github.com/standardbeagle/ldg/internal/worker"
)

type workerPathArgs struct {
	Path string `json:"path"`
}

type workerCrawlArgs struct {
	Path     string `json:"path"`
	MaxDepth int    `json:"maxDepth"`
}

type workerSymbolArgs struct {
	Path     string `json:"path"`
	Symbol   string `json:"symbol"`
	MaxDepth int    `json:"maxDepth"`
}

type workerVerifyArgs struct {
	Path    string   `json:"path"`
	Targets []string `json:"targets"`
}

// registerWorkerTools exposes the engine's query surface over the worker
// protocol so a host process can farm out analysis.
func registerWorkerTools(w *worker.Worker, parts *runtimeParts) {
	w.RegisterTool("analyze", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerPathArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.Analyze(args.Path)
	})

	w.RegisterTool("crawl", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerCrawlArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.Crawl(args.Path, args.MaxDepth)
	})

	w.RegisterTool("symbol-graph", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerPathArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.SymbolGraph(args.Path)
	})

	w.RegisterTool("trace", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerSymbolArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.TraceFunctionExecution(args.Path, args.Symbol, args.MaxDepth)
	})

	w.RegisterTool("verify-usage", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerVerifyArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.VerifyDependencyUsage(args.Path, args.Targets)
	})

	w.RegisterTool("dependents", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerPathArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		return parts.engine.Dependents(args.Path), nil
	})

	w.RegisterTool("reindex", func(ctx context.Context, raw json.RawMessage) (any, error) {
		var args workerPathArgs
		if err := json.Unmarshal(raw, &args); err != nil {
			return nil, err
		}
		if err := parts.engine.ReanalyzeFile(args.Path); err != nil {
			return nil, err
		}
		return map[string]bool{"reindexed": true}, nil
	})
}
