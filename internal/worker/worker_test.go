package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	errs "github.com/standardbeagle/ldg/internal/errors"
)

// startPair wires a host and worker over an in-process pipe and blocks until
// the handshake completes.
func startPair(t *testing.T, cfg HostConfig, setup func(w *Worker)) (*Host, chan error) {
	t.Helper()

	hostSide, workerSide := NewPipe()
	w := NewWorker(workerSide, nil)
	if setup != nil {
		setup(w)
	}

	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(context.Background()) }()

	h := NewHost(hostSide, cfg)
	t.Cleanup(h.Dispose)
	if err := h.Start(context.Background(), "/ws"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	return h, workerDone
}

func echoTool(ctx context.Context, args json.RawMessage) (any, error) {
	var in struct {
		Value string `json:"value"`
	}
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, err
	}
	return map[string]string{"echo": in.Value}, nil
}

func TestHostStartBecomesReady(t *testing.T) {
	h, _ := startPair(t, DefaultHostConfig(), nil)
	if !h.Ready() {
		t.Error("host not ready after successful start")
	}
	if err := h.Start(context.Background(), "/ws"); err == nil {
		t.Error("second Start should fail")
	}
}

func TestWarmupProgressReachesHost(t *testing.T) {
	hostSide, workerSide := NewPipe()
	w := NewWorker(workerSide, func(ctx context.Context, root string, progress func(processed, total int)) error {
		if root != "/ws" {
			t.Errorf("warmup root = %q", root)
		}
		progress(1, 3)
		progress(3, 3)
		return nil
	})
	go w.Run(context.Background())

	var mu sync.Mutex
	var updates [][2]int
	h := NewHost(hostSide, DefaultHostConfig())
	defer h.Dispose()
	h.SetOnProgress(func(processed, total int) {
		mu.Lock()
		updates = append(updates, [2]int{processed, total})
		mu.Unlock()
	})

	if err := h.Start(context.Background(), "/ws"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// Progress messages precede ready on the wire, so they have arrived.
	mu.Lock()
	defer mu.Unlock()
	if len(updates) != 2 || updates[1] != [2]int{3, 3} {
		t.Errorf("progress updates = %v", updates)
	}
}

func TestStartFailsPromptlyWhenWarmupErrors(t *testing.T) {
	hostSide, workerSide := NewPipe()
	w := NewWorker(workerSide, func(ctx context.Context, root string, progress func(int, int)) error {
		return errors.New("index build exploded")
	})
	go w.Run(context.Background())

	cfg := DefaultHostConfig()
	cfg.WarmupTimeout = 5 * time.Second
	h := NewHost(hostSide, cfg)
	defer h.Dispose()

	started := time.Now()
	err := h.Start(context.Background(), "/ws")
	if err == nil {
		t.Fatal("Start succeeded despite a failed warmup")
	}
	// The failure arrives on the wire, not via the warmup timeout.
	if elapsed := time.Since(started); elapsed >= cfg.WarmupTimeout {
		t.Errorf("Start took %v, should fail as soon as the worker reports", elapsed)
	}
	if !strings.Contains(err.Error(), "index build exploded") {
		t.Errorf("error lost the worker's message: %v", err)
	}
	if h.Ready() {
		t.Error("host ready after failed warmup")
	}
}

func TestFailedHostRequiresFreshHostToRestart(t *testing.T) {
	hostSide, workerSide := NewPipe()
	h := NewHost(hostSide, DefaultHostConfig())

	// Kill the transport before the handshake completes.
	workerSide.Close()
	if err := h.Start(context.Background(), "/ws"); err == nil {
		t.Fatal("Start succeeded over a dead transport")
	}
	if err := h.Start(context.Background(), "/ws"); err == nil {
		t.Fatal("second Start on a failed host must be rejected")
	}

	// Recovery path: a fresh host over a fresh transport.
	hostSide2, workerSide2 := NewPipe()
	w := NewWorker(workerSide2, nil)
	go w.Run(context.Background())

	h2 := NewHost(hostSide2, DefaultHostConfig())
	defer h2.Dispose()
	if err := h2.Start(context.Background(), "/ws"); err != nil {
		t.Fatalf("fresh host failed to start: %v", err)
	}
	if !h2.Ready() {
		t.Error("fresh host not ready")
	}
}

func TestInvokeRoundTrip(t *testing.T) {
	h, _ := startPair(t, DefaultHostConfig(), func(w *Worker) {
		w.RegisterTool("echo", echoTool)
	})

	result, err := h.Invoke(context.Background(), "echo", map[string]string{"value": "hi"})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	var out struct {
		Echo string `json:"echo"`
	}
	if err := json.Unmarshal(result, &out); err != nil || out.Echo != "hi" {
		t.Errorf("result = %s (%v)", result, err)
	}
}

func TestInvokeCorrelatesOutOfOrderReplies(t *testing.T) {
	slowRelease := make(chan struct{})
	h, _ := startPair(t, DefaultHostConfig(), func(w *Worker) {
		w.RegisterTool("slow", func(ctx context.Context, args json.RawMessage) (any, error) {
			<-slowRelease
			return map[string]string{"who": "slow"}, nil
		})
		w.RegisterTool("fast", func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]string{"who": "fast"}, nil
		})
	})

	type reply struct {
		raw json.RawMessage
		err error
	}
	slowCh := make(chan reply, 1)
	go func() {
		raw, err := h.Invoke(context.Background(), "slow", nil)
		slowCh <- reply{raw, err}
	}()

	// The fast call completes while the slow one is still in flight.
	raw, err := h.Invoke(context.Background(), "fast", nil)
	if err != nil {
		t.Fatalf("fast Invoke failed: %v", err)
	}
	if !strings.Contains(string(raw), "fast") {
		t.Errorf("fast reply = %s", raw)
	}

	close(slowRelease)
	got := <-slowCh
	if got.err != nil {
		t.Fatalf("slow Invoke failed: %v", got.err)
	}
	if !strings.Contains(string(got.raw), "slow") {
		t.Errorf("slow reply = %s", got.raw)
	}
}

func TestInvokeTimeoutLeavesWorkerRunning(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	cfg := DefaultHostConfig()
	cfg.RequestTimeout = 50 * time.Millisecond
	h, _ := startPair(t, cfg, func(w *Worker) {
		w.RegisterTool("stuck", func(ctx context.Context, args json.RawMessage) (any, error) {
			<-release
			return nil, nil
		})
		w.RegisterTool("echo", echoTool)
	})

	_, err := h.Invoke(context.Background(), "stuck", nil)
	var werr *errs.WorkerError
	if !errors.As(err, &werr) || werr.Code != errs.CodeWorkerTimeout {
		t.Fatalf("expected timeout error, got %v", err)
	}

	// The worker survives one timed-out call.
	if !h.Ready() {
		t.Fatal("host marked dead after a request timeout")
	}
	if _, err := h.Invoke(context.Background(), "echo", map[string]string{"value": "still here"}); err != nil {
		t.Errorf("follow-up Invoke failed: %v", err)
	}
}

func TestInvokeUnknownTool(t *testing.T) {
	h, _ := startPair(t, DefaultHostConfig(), nil)

	_, err := h.Invoke(context.Background(), "nope", nil)
	var werr *errs.WorkerError
	if !errors.As(err, &werr) {
		t.Fatalf("expected WorkerError, got %v", err)
	}
	if !strings.Contains(werr.Detail, "unknown tool") {
		t.Errorf("detail = %q", werr.Detail)
	}
}

func TestToolPanicBecomesErrorReply(t *testing.T) {
	h, _ := startPair(t, DefaultHostConfig(), func(w *Worker) {
		w.RegisterTool("boom", func(ctx context.Context, args json.RawMessage) (any, error) {
			panic("exploded")
		})
		w.RegisterTool("echo", echoTool)
	})

	_, err := h.Invoke(context.Background(), "boom", nil)
	if err == nil || !strings.Contains(err.Error(), "panic") {
		t.Fatalf("expected panic error reply, got %v", err)
	}
	if _, err := h.Invoke(context.Background(), "echo", map[string]string{"value": "ok"}); err != nil {
		t.Errorf("worker died after a tool panic: %v", err)
	}
}

func TestRequestBeforeReadyIsRejected(t *testing.T) {
	hostSide, workerSide := NewPipe()
	w := NewWorker(workerSide, func(ctx context.Context, root string, progress func(int, int)) error {
		select {} // never warms up
	})
	go w.Run(context.Background())
	defer hostSide.Close()

	// Drive the wire directly: a request sent before ready gets a
	// not-ready error back.
	if err := hostSide.Send(&Message{Type: TypeRequest, ID: "1", Tool: "echo"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	m, err := hostSide.Receive()
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if m.Type != TypeError || m.ID != "1" || m.Code != string(errs.CodeWorkerNotReady) {
		t.Errorf("reply = %+v, want not-ready error for id 1", m)
	}
}

func TestTransportDeathRejectsPendingInvokes(t *testing.T) {
	release := make(chan struct{})
	hostSide, workerSide := NewPipe()
	w := NewWorker(workerSide, nil)
	w.RegisterTool("stuck", func(ctx context.Context, args json.RawMessage) (any, error) {
		<-release
		return nil, nil
	})
	go w.Run(context.Background())

	h := NewHost(hostSide, DefaultHostConfig())
	if err := h.Start(context.Background(), "/ws"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := h.Invoke(context.Background(), "stuck", nil)
		errCh <- err
	}()

	// Give the request time to land in the pending table, then kill the pipe.
	time.Sleep(20 * time.Millisecond)
	workerSide.Close()
	close(release)

	select {
	case err := <-errCh:
		var werr *errs.WorkerError
		if !errors.As(err, &werr) || werr.Code != errs.CodeWorkerCrashed {
			t.Errorf("expected crashed error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("pending invoke never rejected")
	}

	if h.Ready() {
		t.Error("host still ready after transport death")
	}
}

func TestDisposeStopsWorkerAndIsIdempotent(t *testing.T) {
	h, workerDone := startPair(t, DefaultHostConfig(), nil)

	h.Dispose()
	h.Dispose()

	select {
	case <-workerDone:
	case <-time.After(5 * time.Second):
		t.Fatal("worker loop did not exit after dispose")
	}

	if h.Ready() {
		t.Error("host ready after dispose")
	}
	_, err := h.Invoke(context.Background(), "echo", nil)
	var werr *errs.WorkerError
	if !errors.As(err, &werr) || werr.Code != errs.CodeWorkerNotReady {
		t.Errorf("Invoke after dispose = %v, want not-ready", err)
	}
}

func TestStreamTransportSkipsGarbledLines(t *testing.T) {
	input := "not json at all\n" +
		`{"type":"ready"}` + "\n" +
		"\n" +
		`{"type":"response","id":"7","result":{"ok":true}}` + "\n"

	tr := NewStreamTransport(strings.NewReader(input), &strings.Builder{}, nil)

	m, err := tr.Receive()
	if err != nil || m.Type != TypeReady {
		t.Fatalf("first message = (%+v, %v), want ready", m, err)
	}
	m, err = tr.Receive()
	if err != nil || m.Type != TypeResponse || m.ID != "7" {
		t.Fatalf("second message = (%+v, %v), want response id 7", m, err)
	}
	if _, err := tr.Receive(); err == nil {
		t.Error("exhausted stream should error")
	}
}
