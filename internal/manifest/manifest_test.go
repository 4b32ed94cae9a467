package manifest

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBuildSaveVerify(t *testing.T) {
	dir := t.TempDir()
	files := map[string]string{
		"night.EDF":     "edf",
		"old.rec":       "rec",
		"report.pdf":    "pdf",
		"edits.jsonl":   "jsonl",
		"edfHdrRep.csv": "csv",
		"notes.txt":     "other",
	}
	var paths []string
	for name := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(name), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		paths = append(paths, p)
	}
	m, err := Build(paths)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ShaAlgo != "sha256" || len(m.Items) != len(files) {
		t.Fatalf("manifest = %+v", m)
	}
	for _, it := range m.Items {
		if want := files[filepath.Base(it.Path)]; it.Type != want {
			t.Fatalf("%s type = %q, want %q", it.Path, it.Type, want)
		}
		if it.Size != int64(len(filepath.Base(it.Path))) || len(it.Sha256) != 64 {
			t.Fatalf("item = %+v", it)
		}
	}

	out := filepath.Join(dir, "manifest.json")
	if err := Save(m, out); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(out)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if bad := Verify(loaded); len(bad) != 0 {
		t.Fatalf("Verify = %v", bad)
	}

	if err := os.WriteFile(paths[0], []byte("changed content"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if err := os.Remove(paths[1]); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if bad := Verify(loaded); len(bad) != 2 {
		t.Fatalf("Verify = %v, want 2 mismatches", bad)
	}
}

func TestBuildMissingFile(t *testing.T) {
	if _, err := Build([]string{filepath.Join(t.TempDir(), "missing.edf")}); err == nil {
		t.Fatalf("expected error")
	}
}
