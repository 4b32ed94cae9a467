// Package diag carries the ordered, append-only diagnostic log that the EDF
// codec and its callers write human readable findings into.
package diag

import (
	"fmt"
	"strings"
	"sync"

	"example.com/edfgate/internal/common"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// Kind classifies why an entry was recorded.
type Kind string

const (
	KindInfo          Kind = "info"
	KindParseFallback Kind = "parse-fallback"
	KindValidation    Kind = "validation"
	KindConsistency   Kind = "consistency"
	KindLayout        Kind = "layout"
)

// Entry is a single diagnostic message.
type Entry struct {
	Severity Severity `json:"severity"`
	Kind     Kind     `json:"kind"`
	Field    string   `json:"field,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Message  string   `json:"message"`
}

func (e Entry) String() string {
	var b strings.Builder
	b.WriteString(string(e.Severity))
	b.WriteString(" : ")
	if e.Channel != "" {
		b.WriteString("(")
		b.WriteString(e.Channel)
		b.WriteString(") ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Sink receives diagnostics. Implementations must keep the order entries
// were recorded in.
type Sink interface {
	Record(e Entry)
}

// Log is an in-memory Sink.
type Log struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Record(e Entry) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

// Entries returns a copy of everything recorded so far.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Messages renders every entry with String.
func (l *Log) Messages() []string {
	entries := l.Entries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.String()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Count returns how many entries match kind. An empty kind matches all.
func (l *Log) Count(kind Kind, sev Severity) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, e := range l.entries {
		if kind != "" && e.Kind != kind {
			continue
		}
		if sev != "" && e.Severity != sev {
			continue
		}
		n++
	}
	return n
}

// LogSink forwards entries to the process logger.
type LogSink struct {
	Prefix string
}

func (s LogSink) Record(e Entry) {
	if s.Prefix != "" {
		common.Logf("%s: %s", s.Prefix, e)
		return
	}
	common.Logf("%s", e)
}

type multiSink []Sink

func (m multiSink) Record(e Entry) {
	for _, s := range m {
		if s != nil {
			s.Record(e)
		}
	}
}

// Multi fans every entry out to each non-nil sink.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type discard struct{}

func (discard) Record(Entry) {}

// Discard drops every entry.
var Discard Sink = discard{}

// Emit records a formatted entry on s. A nil sink is ignored.
func Emit(s Sink, sev Severity, kind Kind, field, channel, format string, args ...interface{}) {
	if s == nil {
		return
	}
	s.Record(Entry{
		Severity: sev,
		Kind:     kind,
		Field:    field,
		Channel:  channel,
		Message:  fmt.Sprintf(format, args...),
	})
}
