package smoke

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"example.com/edfgate/internal/report"
	"example.com/edfgate/internal/samples"
)

func repoRoot(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatalf("runtime.Caller failed")
	}
	return filepath.Clean(filepath.Join(filepath.Dir(file), "..", ".."))
}

func buildCLI(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping CLI smoke test in short mode")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go toolchain not available")
	}
	bin := filepath.Join(t.TempDir(), "edfctl")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}
	cmd := exec.Command(goBin, "build", "-o", bin, "./cmd/edfctl")
	cmd.Dir = repoRoot(t)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("go build: %v\n%s", err, out)
	}
	return bin
}

type cli struct {
	bin    string
	config string
}

func (c cli) run(t *testing.T, args ...string) ([]byte, error) {
	t.Helper()
	cmd := exec.Command(c.bin, append([]string{"--config", c.config}, args...)...)
	return cmd.CombinedOutput()
}

func (c cli) mustRun(t *testing.T, want string, args ...string) {
	t.Helper()
	out, err := c.run(t, args...)
	if err != nil {
		t.Fatalf("edfctl %v: %v\n%s", args, err, out)
	}
	if !bytes.Contains(out, []byte(want)) {
		t.Fatalf("edfctl %v: missing %q in output:\n%s", args, want, out)
	}
}

func TestCLIEditValidateReport(t *testing.T) {
	bin := buildCLI(t)
	root := t.TempDir()
	inDir := filepath.Join(root, "in")
	if _, err := samples.WriteFiles(inDir); err != nil {
		t.Fatalf("WriteFiles: %v", err)
	}
	cfgPath := filepath.Join(root, "edfctl.yaml")
	cfgBody := "outputDir: out\nruleRepo: repo\nauditLog: out/edits.jsonl\nlogs:\n  directory: logs\n"
	if err := os.WriteFile(cfgPath, []byte(cfgBody), 0o644); err != nil {
		t.Fatalf("WriteFile config: %v", err)
	}
	c := cli{bin: bin, config: cfgPath}
	sample := filepath.Join(inDir, samples.StandardFileName)
	outDir := filepath.Join(root, "out")

	c.mustRun(t, "PASS=true", "validate", "--in", sample,
		"--out", filepath.Join(root, "diagnostics.jsonl"),
		"--acceptance", filepath.Join(root, "acceptance.json"))

	c.mustRun(t, "Wrote", "modify", "--in", sample, "--set", "startdate=01.01.10", "--set", "patient_id=MCH-1 F X Jane_Doe")
	edited := filepath.Join(outDir, "sample_edited.edf")
	if _, err := os.Stat(edited); err != nil {
		t.Fatalf("edited recording missing: %v", err)
	}
	c.mustRun(t, "startdate", "audit")
	c.mustRun(t, "01.01.10", "inspect", "--in", edited)

	if out, err := c.run(t, "modify", "--in", sample, "--set", "startdate=1x.01.10"); err == nil {
		t.Fatalf("invalid edit accepted:\n%s", out)
	}

	c.mustRun(t, "Wrote PDF", "report", "--in", edited, "--csv")
	if _, err := os.Stat(filepath.Join(outDir, report.HeaderCSVName)); err != nil {
		t.Fatalf("header csv missing: %v", err)
	}

	manifestPath := filepath.Join(root, "manifest.json")
	c.mustRun(t, "Wrote", "manifest", "--inputs", sample+","+edited, "--out", manifestPath)
	c.mustRun(t, "Manifest OK (2 items)", "manifest", "--verify", manifestPath)
	if err := os.WriteFile(edited, []byte("tampered"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	out, err := c.run(t, "manifest", "--verify", manifestPath)
	if err == nil || !bytes.Contains(out, []byte("MISMATCH")) {
		t.Fatalf("tampered file not detected: %v\n%s", err, out)
	}
	if info, err := os.Stat(filepath.Join(root, "logs")); err != nil || !info.IsDir() {
		t.Fatalf("log directory missing: %v", err)
	}
}
