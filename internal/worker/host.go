package worker

import (
	"context"
	"encoding/json"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/standardbeagle/ldg/internal/debug"
	errs "github.com/standardbeagle/ldg/internal/errors"
)

// Host lifecycle states.
type hostState int32

const (
	hostNew hostState = iota
	hostStarting
	hostReady
	hostDisposed
	hostFailed
)

// HostConfig bounds the host's waits.
type HostConfig struct {
	WarmupTimeout  time.Duration
	RequestTimeout time.Duration
}

// DefaultHostConfig returns the baseline timeouts.
func DefaultHostConfig() HostConfig {
	return HostConfig{
		WarmupTimeout:  60 * time.Second,
		RequestTimeout: 30 * time.Second,
	}
}

// Host drives one worker over a transport. Multiple Invoke calls may be in
// flight at once; responses are matched to callers by request id, so
// out-of-order completion is fine.
type Host struct {
	transport Transport
	cfg       HostConfig

	state  atomic.Int32
	nextID atomic.Int64

	mu      sync.Mutex
	pending map[string]chan *Message

	onProgress  func(processed, total int)
	readyCh     chan struct{}
	crashedCh   chan struct{}
	warmupErrCh chan *Message
	crashOnce   sync.Once

	// wait, when set, reaps the child process after the transport dies.
	wait func() error
}

// NewHost creates a host over an existing transport (tests use an
// in-process pipe).
func NewHost(transport Transport, cfg HostConfig) *Host {
	return &Host{
		transport:   transport,
		cfg:         cfg,
		pending:     make(map[string]chan *Message),
		readyCh:     make(chan struct{}),
		crashedCh:   make(chan struct{}),
		warmupErrCh: make(chan *Message, 1),
	}
}

// NewProcessHost spawns binary with args and connects over its
// stdin/stdout. Stderr passes through for diagnostics.
func NewProcessHost(ctx context.Context, cfg HostConfig, binary string, args ...string) (*Host, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.NewWorkerCrashed("spawn failed: " + err.Error())
	}

	h := NewHost(NewStreamTransport(stdout, stdin, stdin), cfg)
	h.wait = cmd.Wait
	return h, nil
}

// SetOnProgress registers a warmup progress callback. Call before Start.
func (h *Host) SetOnProgress(fn func(processed, total int)) {
	h.onProgress = fn
}

// Start sends init and blocks until the worker reports ready, the warmup
// timeout elapses, or the channel dies. Start is one-shot: a host that has
// failed or been disposed stays dead, and restarting means constructing a
// fresh Host over a fresh transport.
func (h *Host) Start(ctx context.Context, root string) error {
	if !h.state.CompareAndSwap(int32(hostNew), int32(hostStarting)) {
		return errs.NewWorkerNotReady("already started")
	}

	go h.readLoop()

	if err := h.transport.Send(&Message{Type: TypeInit, Root: root}); err != nil {
		h.crash("init send failed: " + err.Error())
		return errs.NewWorkerCrashed("init send failed: " + err.Error())
	}

	timer := time.NewTimer(h.cfg.WarmupTimeout)
	defer timer.Stop()

	select {
	case <-h.readyCh:
		h.state.Store(int32(hostReady))
		return nil
	case m := <-h.warmupErrCh:
		h.crash("warmup failed: " + m.Message)
		return &errs.WorkerError{Code: errs.Code(m.Code), Detail: "warmup failed: " + m.Message}
	case <-h.crashedCh:
		return errs.NewWorkerCrashed("worker died during warmup")
	case <-timer.C:
		h.crash("warmup timeout")
		return errs.NewWorkerTimeout("", "warmup")
	case <-ctx.Done():
		h.crash("context cancelled during warmup")
		return ctx.Err()
	}
}

// readLoop is the single reader: it routes responses to waiting callers and
// converts transport death into a crash that rejects everything in flight.
func (h *Host) readLoop() {
	for {
		m, err := h.transport.Receive()
		if err != nil {
			h.crash("channel closed: " + err.Error())
			return
		}

		switch m.Type {
		case TypeReady:
			select {
			case <-h.readyCh:
			default:
				close(h.readyCh)
			}
		case TypeWarmupProgress:
			if h.onProgress != nil {
				h.onProgress(m.Processed, m.Total)
			}
		case TypeResponse, TypeError:
			if m.Type == TypeError && m.ID == "" {
				// An id-less error is the worker failing its warmup.
				select {
				case h.warmupErrCh <- m:
				default:
				}
				continue
			}
			h.mu.Lock()
			ch := h.pending[m.ID]
			delete(h.pending, m.ID)
			h.mu.Unlock()
			if ch == nil {
				// Late reply for a timed-out or unknown request.
				debug.LogWorker("dropping uncorrelated reply id=%s\n", m.ID)
				continue
			}
			ch <- m
		default:
			debug.LogWorker("unexpected message type %q from worker\n", m.Type)
		}
	}
}

// crash fails every pending request and marks the host dead. Idempotent.
func (h *Host) crash(reason string) {
	h.crashOnce.Do(func() {
		if hostState(h.state.Load()) != hostDisposed {
			h.state.Store(int32(hostFailed))
		}
		debug.LogWorker("worker crashed: %s\n", reason)
		close(h.crashedCh)

		h.mu.Lock()
		pending := h.pending
		h.pending = make(map[string]chan *Message)
		h.mu.Unlock()

		for id, ch := range pending {
			ch <- &Message{Type: TypeError, ID: id, Code: string(errs.CodeWorkerCrashed), Message: reason}
		}

		if h.wait != nil {
			go h.wait()
		}
	})
}

// Invoke sends one tool call and waits for its reply. A timeout rejects
// only this call; the worker stays up and its eventual reply is dropped.
func (h *Host) Invoke(ctx context.Context, tool string, args any) (json.RawMessage, error) {
	if hostState(h.state.Load()) != hostReady {
		return nil, errs.NewWorkerNotReady("state not ready")
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	id := strconv.FormatInt(h.nextID.Add(1), 10)
	ch := make(chan *Message, 1)
	h.mu.Lock()
	h.pending[id] = ch
	h.mu.Unlock()

	if err := h.transport.Send(&Message{Type: TypeRequest, ID: id, Tool: tool, Args: payload}); err != nil {
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		h.crash("request send failed: " + err.Error())
		return nil, errs.NewWorkerCrashed("request send failed: " + err.Error())
	}

	timer := time.NewTimer(h.cfg.RequestTimeout)
	defer timer.Stop()

	select {
	case m := <-ch:
		if m.Type == TypeError {
			return nil, &errs.WorkerError{Code: errs.Code(m.Code), RequestID: id, Tool: tool, Detail: m.Message}
		}
		return m.Result, nil
	case <-timer.C:
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, errs.NewWorkerTimeout(id, tool)
	case <-ctx.Done():
		h.mu.Lock()
		delete(h.pending, id)
		h.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Ready reports whether the host can accept Invoke calls.
func (h *Host) Ready() bool {
	return hostState(h.state.Load()) == hostReady
}

// Dispose tells the worker to exit and tears down the transport. In-flight
// requests are rejected. Idempotent.
func (h *Host) Dispose() {
	prev := hostState(h.state.Swap(int32(hostDisposed)))
	if prev == hostDisposed {
		return
	}
	_ = h.transport.Send(&Message{Type: TypeDispose})
	_ = h.transport.Close()
	h.crash("disposed")
}
