package runtime

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogSink receives log entries as they are appended. Implementations:
// store.Store (durable), MemorySink (polling/tests).
type LogSink interface {
	AppendLog(entry LogEntry) error
}

// ExecutionLogger is the only writer of log entries for its execution id.
// It stamps entries with a strictly increasing sequence number and clamps
// timestamps so they never decrease within the stream.
type ExecutionLogger struct {
	execID string

	mu     sync.Mutex
	seq    int64
	lastTS time.Time
	sinks  []LogSink
	trace  *TraceWriter
}

// NewExecutionLogger creates a logger fanning out to the given sinks.
func NewExecutionLogger(execID string, sinks ...LogSink) *ExecutionLogger {
	return &ExecutionLogger{execID: execID, sinks: sinks}
}

// AttachTrace adds a JSONL trace file to the fan-out. The orchestrator
// attaches one per run under the run artifacts directory.
func (l *ExecutionLogger) AttachTrace(path string) error {
	tw, err := NewTraceWriter(path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.trace = tw
	l.mu.Unlock()
	return nil
}

// Log appends a message at the given level.
func (l *ExecutionLogger) Log(level, message string) {
	l.append(level, message, "")
}

// Logf appends a formatted message at the given level.
func (l *ExecutionLogger) Logf(level, format string, args ...any) {
	l.append(level, fmt.Sprintf(format, args...), "")
}

// LogRaw appends a message carrying a structured payload, serialized to JSON.
func (l *ExecutionLogger) LogRaw(level, message string, raw any) {
	details := ""
	if raw != nil {
		if data, err := json.Marshal(raw); err == nil {
			details = string(data)
		}
	}
	l.append(level, message, details)
}

func (l *ExecutionLogger) append(level, message, rawDetails string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Before(l.lastTS) {
		now = l.lastTS // ordering invariant: timestamps never decrease
	}
	l.lastTS = now
	l.seq++

	entry := LogEntry{
		ID:          uuid.New().String(),
		ExecutionID: l.execID,
		Seq:         l.seq,
		Timestamp:   now,
		Level:       level,
		Message:     message,
		RawDetails:  rawDetails,
	}

	for _, sink := range l.sinks {
		if err := sink.AppendLog(entry); err != nil {
			fmt.Fprintf(os.Stderr, "warning: log sink append failed: %v\n", err)
		}
	}
	if l.trace != nil {
		if err := l.trace.Write(entry); err != nil {
			fmt.Fprintf(os.Stderr, "warning: trace write failed: %v\n", err)
		}
	}
}

// Close flushes and closes the trace file, if attached.
func (l *ExecutionLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.trace == nil {
		return nil
	}
	err := l.trace.Close()
	l.trace = nil
	return err
}

// MemorySink retains entries in memory for ordered polling.
type MemorySink struct {
	mu      sync.Mutex
	entries []LogEntry
}

// AppendLog implements LogSink.
func (m *MemorySink) AppendLog(entry LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

// Entries returns every entry with Seq > afterSeq, in order.
func (m *MemorySink) Entries(afterSeq int64) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.entries {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out
}

// TraceWriter writes log entries to a JSONL trace file.
type TraceWriter struct {
	file   *os.File
	writer *bufio.Writer
	enc    *json.Encoder
}

// NewTraceWriter creates a trace writer that appends to the given file.
func NewTraceWriter(path string) (*TraceWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	w := bufio.NewWriter(f)
	return &TraceWriter{file: f, writer: w, enc: json.NewEncoder(w)}, nil
}

// Write appends an entry as a JSONL event and flushes to disk.
func (tw *TraceWriter) Write(entry LogEntry) error {
	if err := tw.enc.Encode(entry); err != nil {
		return fmt.Errorf("encode trace event: %w", err)
	}
	// Flush and sync at entry boundaries
	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("flush trace: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("sync trace: %w", err)
	}
	return nil
}

// Close flushes and closes the trace file.
func (tw *TraceWriter) Close() error {
	if err := tw.writer.Flush(); err != nil {
		return err
	}
	return tw.file.Close()
}
