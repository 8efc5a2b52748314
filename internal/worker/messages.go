// Package worker implements the host/worker boundary: a host process drives
// a worker over line-delimited JSON messages, correlating concurrent
// requests by id so slow calls never block fast ones.
package worker

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"
)

// Message types on the wire.
const (
	TypeInit           = "init"
	TypeReady          = "ready"
	TypeWarmupProgress = "warmup-progress"
	TypeRequest        = "request"
	TypeResponse       = "response"
	TypeError          = "error"
	TypeDispose        = "dispose"
)

// Message is the single wire envelope; which fields are set depends on Type.
type Message struct {
	Type string `json:"type"`

	// Correlation id for request/response/error.
	ID string `json:"id,omitempty"`

	// Request fields.
	Tool string          `json:"tool,omitempty"`
	Args json.RawMessage `json:"args,omitempty"`

	// Response fields.
	Result json.RawMessage `json:"result,omitempty"`

	// Error fields.
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`

	// Init fields.
	Root string `json:"root,omitempty"`

	// Warmup progress fields.
	Processed int `json:"processed,omitempty"`
	Total     int `json:"total,omitempty"`
}

// Transport moves messages between host and worker. Send is safe for
// concurrent use; Receive is called from a single reader goroutine.
type Transport interface {
	Send(*Message) error
	Receive() (*Message, error)
	Close() error
}

// streamTransport frames messages as one JSON object per line, the format
// used over a child process's stdin/stdout.
type streamTransport struct {
	writeMu sync.Mutex
	enc     *json.Encoder
	scanner *bufio.Scanner
	closer  io.Closer
}

// NewStreamTransport wraps a reader/writer pair in line-delimited JSON
// framing. closer may be nil.
func NewStreamTransport(r io.Reader, w io.Writer, closer io.Closer) Transport {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &streamTransport{
		enc:     json.NewEncoder(w),
		scanner: scanner,
		closer:  closer,
	}
}

func (t *streamTransport) Send(m *Message) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	return t.enc.Encode(m)
}

func (t *streamTransport) Receive() (*Message, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			// One garbled line must not kill the channel; skip it.
			continue
		}
		return &m, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (t *streamTransport) Close() error {
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// chanTransport is an in-process transport for tests: two of them share a
// pair of channels and a single shutdown signal.
type chanTransport struct {
	in  chan *Message
	out chan *Message

	closeOnce *sync.Once
	done      chan struct{}
}

// NewPipe returns two connected in-process transports. Closing either end
// unblocks the other's Receive with io.EOF.
func NewPipe() (Transport, Transport) {
	a := make(chan *Message, 64)
	b := make(chan *Message, 64)
	done := make(chan struct{})
	once := &sync.Once{}
	return &chanTransport{in: a, out: b, closeOnce: once, done: done},
		&chanTransport{in: b, out: a, closeOnce: once, done: done}
}

func (t *chanTransport) Send(m *Message) error {
	select {
	case <-t.done:
		return io.ErrClosedPipe
	case t.out <- m:
		return nil
	}
}

func (t *chanTransport) Receive() (*Message, error) {
	select {
	case <-t.done:
		return nil, io.EOF
	case m := <-t.in:
		return m, nil
	}
}

func (t *chanTransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}
