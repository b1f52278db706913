package logger

import (
	"bytes"
	"io"
	"sync"
	"time"
)

// NewDiscardLogger returns a Logger that drops everything. Intended for tests.
func NewDiscardLogger() Logger {
	return NewSlogLogger(io.Discard, LogLevelError, time.UTC)
}

// SyncBuffer is a goroutine safe bytes.Buffer for capturing log output in tests.
type SyncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *SyncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *SyncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// NewBufferLogger returns a debug-level Logger writing into a SyncBuffer.
func NewBufferLogger() (Logger, *SyncBuffer) {
	buf := &SyncBuffer{}
	return NewSlogLogger(buf, LogLevelDebug, time.UTC), buf
}
