package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// SpanRecord is the on-disk span representation. One trace file holds a JSON
// array of these, ordered by completion.
type SpanRecord struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time"`
	DurationMs   float64        `json:"duration_ms"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	Links        []SpanLink     `json:"links,omitempty"`
	Status       string         `json:"status"`
}

// SpanLink references a span in another trace.
type SpanLink struct {
	TraceID string `json:"trace_id"`
	SpanID  string `json:"span_id"`
}

// FileExporter writes one JSON file per trace id. The file is rewritten
// (write-to-temp plus rename) every time a span of that trace completes, so
// partially written traces are never observable.
type FileExporter struct {
	dir    string
	logger *Logger

	mu    sync.Mutex
	spans map[string][]SpanRecord // trace id -> completed spans
	roots map[string]string       // trace id -> root span id
}

// NewFileExporter creates an exporter writing under dir.
func NewFileExporter(dir string, logger *Logger) *FileExporter {
	if logger == nil {
		logger = NopLogger()
	}
	return &FileExporter{
		dir:    dir,
		logger: logger,
		spans:  make(map[string][]SpanRecord),
		roots:  make(map[string]string),
	}
}

// ExportSpans implements sdktrace.SpanExporter.
func (e *FileExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	touched := make(map[string]bool)
	for _, s := range spans {
		record := recordFromSpan(s)
		e.spans[record.TraceID] = append(e.spans[record.TraceID], record)
		if record.ParentSpanID == "" {
			e.roots[record.TraceID] = record.SpanID
		}
		touched[record.TraceID] = true
	}

	var firstErr error
	for traceID := range touched {
		if err := e.flushLocked(traceID); err != nil {
			e.logger.Error(ctx, "failed to flush trace file", "trace_id", traceID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Shutdown implements sdktrace.SpanExporter.
func (e *FileExporter) Shutdown(ctx context.Context) error {
	return nil
}

// RootSpanID resolves the root span of a trace, falling back to the trace
// file for traces written by an earlier process.
func (e *FileExporter) RootSpanID(traceID string) (string, bool) {
	e.mu.Lock()
	if id, ok := e.roots[traceID]; ok {
		e.mu.Unlock()
		return id, true
	}
	e.mu.Unlock()

	records, err := ReadTraceFile(filepath.Join(e.dir, traceID+".json"))
	if err != nil {
		return "", false
	}
	for _, r := range records {
		if r.ParentSpanID == "" {
			e.mu.Lock()
			e.roots[traceID] = r.SpanID
			e.mu.Unlock()
			return r.SpanID, true
		}
	}
	return "", false
}

func (e *FileExporter) flushLocked(traceID string) error {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return fmt.Errorf("create trace dir: %w", err)
	}

	// Every span of a trace carries session.id; children inherit it from
	// the turn root at export time.
	records := e.spans[traceID]
	var sessionID any
	for _, r := range records {
		if id, ok := r.Attributes["session.id"]; ok {
			sessionID = id
			break
		}
	}
	if sessionID != nil {
		for i := range records {
			if records[i].Attributes == nil {
				records[i].Attributes = map[string]any{}
			}
			if _, ok := records[i].Attributes["session.id"]; !ok {
				records[i].Attributes["session.id"] = sessionID
			}
		}
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal trace %s: %w", traceID, err)
	}

	path := filepath.Join(e.dir, traceID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write trace %s: %w", traceID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename trace %s: %w", traceID, err)
	}
	return nil
}

// ReadTraceFile loads a trace file written by the exporter.
func ReadTraceFile(path string) ([]SpanRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- trace paths come from local config
	if err != nil {
		return nil, err
	}
	var records []SpanRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse trace file %s: %w", path, err)
	}
	return records, nil
}

func recordFromSpan(s sdktrace.ReadOnlySpan) SpanRecord {
	sc := s.SpanContext()
	record := SpanRecord{
		TraceID:    sc.TraceID().String(),
		SpanID:     sc.SpanID().String(),
		Name:       s.Name(),
		StartTime:  s.StartTime().UTC(),
		EndTime:    s.EndTime().UTC(),
		DurationMs: float64(s.EndTime().Sub(s.StartTime())) / float64(time.Millisecond),
		Status:     statusString(s),
	}
	if s.Parent().IsValid() {
		record.ParentSpanID = s.Parent().SpanID().String()
	}
	if attrs := s.Attributes(); len(attrs) > 0 {
		record.Attributes = make(map[string]any, len(attrs))
		for _, kv := range attrs {
			record.Attributes[string(kv.Key)] = kv.Value.AsInterface()
		}
	}
	for _, link := range s.Links() {
		record.Links = append(record.Links, SpanLink{
			TraceID: link.SpanContext.TraceID().String(),
			SpanID:  link.SpanContext.SpanID().String(),
		})
	}
	return record
}

func statusString(s sdktrace.ReadOnlySpan) string {
	switch s.Status().Code.String() {
	case "Error":
		return "error"
	case "Ok":
		return "ok"
	default:
		return "unset"
	}
}
