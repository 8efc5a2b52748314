package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
)

// ToolFunc handles one request on the worker side.
type ToolFunc func(ctx context.Context, args json.RawMessage) (any, error)

// WarmupFunc prepares the worker after init; it reports progress through
// the callback and returns when the worker is ready to serve.
type WarmupFunc func(ctx context.Context, root string, progress func(processed, total int)) error

// Worker is the serving side of the protocol: it answers requests over a
// transport after a one-time warmup.
type Worker struct {
	transport Transport
	warmup    WarmupFunc

	mu    sync.Mutex
	tools map[string]ToolFunc

	ready atomic.Bool
}

// NewWorker creates a worker. warmup may be nil for workers that are ready
// immediately.
func NewWorker(transport Transport, warmup WarmupFunc) *Worker {
	return &Worker{
		transport: transport,
		warmup:    warmup,
		tools:     make(map[string]ToolFunc),
	}
}

// RegisterTool binds a tool name to its handler. Call before Run.
func (w *Worker) RegisterTool(name string, fn ToolFunc) {
	w.mu.Lock()
	w.tools[name] = fn
	w.mu.Unlock()
}

// Run serves the message loop until dispose, transport close, or context
// cancellation. Requests are handled concurrently so one slow tool call
// does not starve the rest.
func (w *Worker) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		m, err := w.transport.Receive()
		if err != nil {
			return nil // host went away
		}

		switch m.Type {
		case TypeInit:
			go w.handleInit(ctx, m.Root)
		case TypeRequest:
			go w.handleRequest(ctx, m)
		case TypeDispose:
			debug.LogWorker("dispose received, exiting\n")
			return nil
		default:
			debug.LogWorker("unexpected message type %q from host\n", m.Type)
		}
	}
}

func (w *Worker) handleInit(ctx context.Context, root string) {
	if w.warmup != nil {
		progress := func(processed, total int) {
			_ = w.transport.Send(&Message{Type: TypeWarmupProgress, Processed: processed, Total: total})
		}
		if err := w.warmup(ctx, root, progress); err != nil {
			debug.LogWorker("warmup failed: %v\n", err)
			_ = w.transport.Send(&Message{Type: TypeError, Code: string(errs.CodeInternal), Message: err.Error()})
			return
		}
	}
	w.ready.Store(true)
	_ = w.transport.Send(&Message{Type: TypeReady})
}

func (w *Worker) handleRequest(ctx context.Context, m *Message) {
	if !w.ready.Load() {
		w.sendError(m.ID, errs.CodeWorkerNotReady, "worker still warming up")
		return
	}

	w.mu.Lock()
	fn := w.tools[m.Tool]
	w.mu.Unlock()
	if fn == nil {
		w.sendError(m.ID, errs.CodeInternal, fmt.Sprintf("unknown tool %q", m.Tool))
		return
	}

	result, err := w.invokeTool(ctx, fn, m.Args)
	if err != nil {
		w.sendError(m.ID, errs.CodeInternal, err.Error())
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		w.sendError(m.ID, errs.CodeInternal, "result marshal: "+err.Error())
		return
	}
	_ = w.transport.Send(&Message{Type: TypeResponse, ID: m.ID, Result: payload})
}

// invokeTool isolates handler panics; a panicking tool becomes an error
// reply instead of a dead worker.
func (w *Worker) invokeTool(ctx context.Context, fn ToolFunc, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panic: %v", r)
		}
	}()
	return fn(ctx, args)
}

func (w *Worker) sendError(id string, code errs.Code, message string) {
	_ = w.transport.Send(&Message{Type: TypeError, ID: id, Code: string(code), Message: message})
}
