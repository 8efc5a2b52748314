package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Build flag for debug mode - can be overridden at build time
// go build -ldflags "-X github.com/standardbeagle/ldg/internal/debug.EnableDebug=true"
var EnableDebug = "false"

// StdioMode tracks if stdout/stdin carry a protocol (MCP or worker wire);
// debug output must never leak onto them.
var StdioMode = false

var (
	debugOutput io.Writer
	debugFile   *os.File
	debugMutex  sync.Mutex
)

// SetStdioMode suppresses debug output to standard streams while a
// line-oriented protocol owns them.
func SetStdioMode(enabled bool) {
	StdioMode = enabled
}

// SetOutput sets a custom writer for debug output. Pass nil to disable.
func SetOutput(w io.Writer) {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	debugOutput = w
}

// InitLogFile initializes debug logging to a timestamped file under the
// system temp directory. Returns the log file path.
func InitLogFile() (string, error) {
	debugMutex.Lock()
	defer debugMutex.Unlock()

	logDir := filepath.Join(os.TempDir(), "ldg-debug-logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create debug log directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02T150405")
	logPath := filepath.Join(logDir, fmt.Sprintf("debug-%s.log", timestamp))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return "", fmt.Errorf("failed to create debug log file: %w", err)
	}

	if debugFile != nil {
		_ = debugFile.Close()
	}
	debugFile = file
	debugOutput = file
	return logPath, nil
}

// Close closes the debug log file if one is open.
func Close() {
	debugMutex.Lock()
	defer debugMutex.Unlock()
	if debugFile != nil {
		_ = debugFile.Close()
		debugFile = nil
		debugOutput = nil
	}
}

func enabled() bool {
	return EnableDebug == "true" || os.Getenv("LDG_DEBUG") == "1"
}

func logf(prefix, format string, args ...interface{}) {
	if !enabled() {
		return
	}
	debugMutex.Lock()
	w := debugOutput
	debugMutex.Unlock()
	if w == nil {
		if StdioMode {
			return
		}
		w = os.Stderr
	}
	fmt.Fprintf(w, "[%s] %s %s", prefix, time.Now().Format("15:04:05.000"),
		fmt.Sprintf(format, args...))
}

// LogGraph logs graph engine activity.
func LogGraph(format string, args ...interface{}) { logf("graph", format, args...) }

// LogIndexing logs background indexer activity.
func LogIndexing(format string, args ...interface{}) { logf("index", format, args...) }

// LogScheduler logs file change scheduler activity.
func LogScheduler(format string, args ...interface{}) { logf("sched", format, args...) }

// LogWorker logs worker-host protocol activity.
func LogWorker(format string, args ...interface{}) { logf("worker", format, args...) }

// LogCache logs analysis cache activity.
func LogCache(format string, args ...interface{}) { logf("cache", format, args...) }
