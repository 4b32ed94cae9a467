package common

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/ksuid"
)

// EditEntry records one header field change applied to a recording.
type EditEntry struct {
	ID     string    `json:"id"`
	File   string    `json:"file"`
	Output string    `json:"output,omitempty"`
	Field  string    `json:"field"`
	Before string    `json:"before"`
	After  string    `json:"after"`
	Ts     time.Time `json:"ts"`
}

// AuditLog provides append-only access to a JSONL edit log.
type AuditLog struct {
	path string
	mu   sync.Mutex
}

func NewAuditLog(path string) *AuditLog {
	return &AuditLog{path: path}
}

func (a *AuditLog) Path() string {
	if a == nil {
		return ""
	}
	return a.path
}

// Append writes entry as one JSON line. A missing ID is filled with a new
// KSUID so entries sort by creation time.
func (a *AuditLog) Append(entry EditEntry) (EditEntry, error) {
	if a == nil {
		return entry, errors.New("nil audit log")
	}
	if entry.Field == "" {
		return entry, errors.New("edit entry missing field")
	}
	if entry.Ts.IsZero() {
		entry.Ts = time.Now().UTC()
	}
	if entry.ID == "" {
		id, err := ksuid.NewRandomWithTime(entry.Ts)
		if err != nil {
			return entry, fmt.Errorf("edit entry id: %w", err)
		}
		entry.ID = id.String()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return entry, err
	}
	dir := filepath.Dir(a.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return entry, err
		}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return entry, err
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return entry, err
	}
	return entry, f.Sync()
}

// ReadAuditLog loads every entry from the supplied JSONL file.
func ReadAuditLog(path string) ([]EditEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var entries []EditEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var entry EditEntry
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			return nil, fmt.Errorf("decode edit entry: %w", err)
		}
		if _, err := ksuid.Parse(entry.ID); err != nil {
			return nil, fmt.Errorf("edit entry id %q: %w", entry.ID, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
