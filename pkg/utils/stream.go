package utils

import (
	"io"
	"net/http"
)

// SetupTextStreamHeaders 设置分块纯文本流的响应头
func SetupTextStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	// Disable proxy buffering (nginx) so chunks reach the browser as written.
	w.Header().Set("X-Accel-Buffering", "no")
}

// FlushWriter writes text chunks and flushes each one to the client. Headers
// are committed with status 200 on the first write.
type FlushWriter struct {
	w       http.ResponseWriter
	rc      *http.ResponseController
	started bool
}

// NewFlushWriter wraps w.
func NewFlushWriter(w http.ResponseWriter) *FlushWriter {
	return &FlushWriter{w: w, rc: http.NewResponseController(w)}
}

// Begin commits the stream headers if that has not happened yet.
func (f *FlushWriter) Begin() {
	if f.started {
		return
	}
	f.started = true
	SetupTextStreamHeaders(f.w)
	f.w.WriteHeader(http.StatusOK)
}

// Started reports whether headers were committed.
func (f *FlushWriter) Started() bool {
	return f.started
}

// WriteChunk writes text and flushes it.
func (f *FlushWriter) WriteChunk(text string) error {
	f.Begin()
	if _, err := io.WriteString(f.w, text); err != nil {
		return err
	}
	return f.rc.Flush()
}
