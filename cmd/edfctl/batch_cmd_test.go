package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/manifest"
	"example.com/edfgate/internal/rules"
	"example.com/edfgate/internal/samples"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RuleRepo = t.TempDir()
	cfg.OutputDir = t.TempDir()
	cfg.AuditLog = filepath.Join(cfg.OutputDir, "edits.jsonl")
	return cfg
}

func TestBatchCmdGeneratesOutputs(t *testing.T) {
	root := t.TempDir()
	inputDir := filepath.Join(root, "inputs")
	if _, err := samples.WriteFiles(inputDir); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	nestedDir := filepath.Join(inputDir, "nested")
	if err := os.MkdirAll(nestedDir, 0o755); err != nil {
		t.Fatalf("MkdirAll nested: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nestedDir, "alpha.edf"), samples.Standard(2, 1).Build(), 0o644); err != nil {
		t.Fatalf("WriteFile alpha: %v", err)
	}
	if err := os.WriteFile(filepath.Join(nestedDir, "notes.txt"), []byte("not a recording"), 0o644); err != nil {
		t.Fatalf("WriteFile notes: %v", err)
	}
	outDir := filepath.Join(root, "out")

	batchCmd(testConfig(t), []string{
		"--in", inputDir,
		"--out-dir", outDir,
		"--workers", "2",
		"--manifest",
	})

	check := func(name string) {
		out := filepath.Join(outDir, name)
		if info, err := os.Stat(out); err != nil || !info.IsDir() {
			t.Fatalf("Output dir missing for %s: %v", name, err)
		}
		diagPath := filepath.Join(out, "diagnostics.jsonl")
		if _, err := os.Stat(diagPath); err != nil {
			t.Fatalf("ReadFile diagnostics %s: %v", name, err)
		}
		accPath := filepath.Join(out, "acceptance.json")
		data, err := os.ReadFile(accPath)
		if err != nil {
			t.Fatalf("ReadFile acceptance %s: %v", name, err)
		}
		var rep rules.AcceptanceReport
		if err := json.Unmarshal(data, &rep); err != nil {
			t.Fatalf("Unmarshal acceptance %s: %v", name, err)
		}
		if !rep.Summary.Pass || rep.Summary.Errors != 0 {
			t.Fatalf("unexpected acceptance summary for %s: %+v", name, rep.Summary)
		}
	}

	check("sample")
	check("legacy")
	check("annotated")
	check("alpha")
	if _, err := os.Stat(filepath.Join(outDir, "notes")); err == nil {
		t.Fatalf("non recording was processed")
	}

	m, err := manifest.Load(filepath.Join(outDir, "manifest.json"))
	if err != nil {
		t.Fatalf("Load manifest: %v", err)
	}
	if len(m.Items) != 12 {
		t.Fatalf("manifest items = %d, want 12", len(m.Items))
	}
	if mm := manifest.Verify(m); len(mm) != 0 {
		t.Fatalf("manifest mismatches: %+v", mm)
	}
}

func TestCollectRecordingsUniqueNames(t *testing.T) {
	root := t.TempDir()
	for _, rel := range []string{"a/night.edf", "b/night.edf", "day.rec", "skip.txt"} {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("MkdirAll: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}
	jobs, err := collectRecordings(root)
	if err != nil {
		t.Fatalf("collectRecordings: %v", err)
	}
	var names []string
	for _, j := range jobs {
		names = append(names, j.name)
	}
	if got := strings.Join(names, ","); got != "a_night,b_night,day" {
		t.Fatalf("names = %s", got)
	}
}

func TestModifyCmdWritesAndAudits(t *testing.T) {
	cfg := testConfig(t)
	rec := samples.Standard(2, 2)
	rec.Channels = append(rec.Channels, samples.Annotations(8))
	in := filepath.Join(t.TempDir(), "night.edf")
	if err := os.WriteFile(in, rec.Build(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	modifyCmd(cfg, []string{
		"--in", in,
		"--set", "patient_id=MCH-1 F X Jane_Doe",
		"--set", "startdate=03.04.05",
		"--set", "ch_labels=EEG Fp1,EEG Fp2," + samples.AnnotationsLabel,
	})

	out := filepath.Join(cfg.OutputDir, "night_edited.edf")
	h, err := edf.DecodeFile(out, nil)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if got := strings.TrimRight(h.PatientID, " "); got != "MCH-1 F X Jane_Doe" {
		t.Fatalf("patient_id = %q", got)
	}
	if h.StartDate != "03.04.05" {
		t.Fatalf("startdate = %q", h.StartDate)
	}
	if got := strings.TrimRight(h.Channels[1].Label, " "); got != "EEG Fp2" {
		t.Fatalf("label = %q", got)
	}
	want, err := edf.ExtractFile(in, decodeOrExit(in, nil))
	if err != nil {
		t.Fatalf("ExtractFile in: %v", err)
	}
	got, err := edf.ExtractFile(out, h)
	if err != nil {
		t.Fatalf("ExtractFile out: %v", err)
	}
	for c := range want {
		for i := range want[c] {
			if got[c][i] != want[c][i] {
				t.Fatalf("sample %d/%d = %d, want %d", c, i, got[c][i], want[c][i])
			}
		}
	}

	entries, err := common.ReadAuditLog(cfg.AuditLog)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("audit entries = %d, want 3", len(entries))
	}
	if entries[1].Field != "startdate" || entries[1].Before != "02.03.02" || entries[1].After != "03.04.05" {
		t.Fatalf("audit entry = %+v", entries[1])
	}
	if entries[0].Output != out || entries[0].ID == "" {
		t.Fatalf("audit entry = %+v", entries[0])
	}
}

func TestModifyCmdDryRun(t *testing.T) {
	cfg := testConfig(t)
	in := filepath.Join(t.TempDir(), "night.edf")
	if err := os.WriteFile(in, samples.Standard(1, 1).Build(), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	modifyCmd(cfg, []string{"--in", in, "--set", "starttime=reset", "--dry-run"})
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "night_edited.edf")); err == nil {
		t.Fatalf("dry run wrote output")
	}
	if _, err := os.Stat(cfg.AuditLog); err == nil {
		t.Fatalf("dry run wrote audit log")
	}
}
