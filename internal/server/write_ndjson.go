package server

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/diag"
	"example.com/edfgate/internal/rules"
)

// NDJSONWriter streams newline-delimited JSON objects to the underlying writer.
// It is also a diag.Sink so codec diagnostics can be streamed as they are
// recorded.
type NDJSONWriter struct {
	mu      sync.Mutex
	writer  io.Writer
	flusher http.Flusher
}

// NewNDJSONWriter wraps the provided ResponseWriter. If the writer supports
// http.Flusher, Flush is invoked after every record.
func NewNDJSONWriter(w http.ResponseWriter) *NDJSONWriter {
	var flusher http.Flusher
	if f, ok := w.(http.Flusher); ok {
		flusher = f
	}
	return &NDJSONWriter{writer: w, flusher: flusher}
}

type streamRecord struct {
	Type string `json:"type"`
	File string `json:"file,omitempty"`
	Data any    `json:"data"`
}

// Record implements diag.Sink.
func (w *NDJSONWriter) Record(e diag.Entry) {
	if err := w.WriteObject(streamRecord{Type: "decode", Data: e}); err != nil {
		common.Logf("stream decode entry: %v", err)
	}
}

// WriteDiagnostic writes a rule finding as a single NDJSON record.
func (w *NDJSONWriter) WriteDiagnostic(d rules.Diagnostic) error {
	return w.WriteObject(streamRecord{Type: "diagnostic", File: d.File, Data: d})
}

// WriteObject marshals v, writes it followed by a newline and flushes the
// response.
func (w *NDJSONWriter) WriteObject(v any) error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
