// Package manifest records the SHA-256 of the files a run produced.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"example.com/edfgate/internal/common"
)

type Item struct {
	Path   string `json:"path"`
	Size   int64  `json:"size"`
	Sha256 string `json:"sha256"`
	Type   string `json:"type"`
}

type Manifest struct {
	CreatedAt time.Time `json:"createdAt"`
	ShaAlgo   string    `json:"shaAlgo"`
	Items     []Item    `json:"items"`
}

// Mismatch describes an item whose file no longer matches the manifest.
type Mismatch struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

func Build(paths []string) (Manifest, error) {
	m := Manifest{CreatedAt: time.Now().UTC(), ShaAlgo: "sha256"}
	for _, p := range paths {
		hex, sz, err := common.Sha256OfFile(p)
		if err != nil {
			return m, fmt.Errorf("hash %s: %w", p, err)
		}
		m.Items = append(m.Items, Item{Path: p, Size: sz, Sha256: hex, Type: fileType(p)})
	}
	return m, nil
}

func fileType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".edf":
		return "edf"
	case ".rec":
		return "rec"
	case ".pdf":
		return "pdf"
	case ".json":
		return "json"
	case ".jsonl", ".ndjson":
		return "jsonl"
	case ".csv":
		return "csv"
	}
	return "other"
}

func Save(m Manifest, out string) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func Load(path string) (Manifest, error) {
	var m Manifest
	b, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(b, &m); err != nil {
		return m, fmt.Errorf("parse %s: %w", path, err)
	}
	return m, nil
}

// Verify re-hashes every item and reports the ones that changed or vanished.
func Verify(m Manifest) []Mismatch {
	var out []Mismatch
	for _, it := range m.Items {
		hex, sz, err := common.Sha256OfFile(it.Path)
		switch {
		case err != nil:
			out = append(out, Mismatch{Path: it.Path, Reason: err.Error()})
		case sz != it.Size:
			out = append(out, Mismatch{Path: it.Path, Reason: fmt.Sprintf("size %d, recorded %d", sz, it.Size)})
		case hex != it.Sha256:
			out = append(out, Mismatch{Path: it.Path, Reason: "sha256 differs"})
		}
	}
	return out
}
