package common

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetricsSnapshot(t *testing.T) {
	m := NewMetrics()
	m.SetTotalBytes(4096)
	m.Start()
	m.AddFile(1024)
	m.AddFile(1024)
	m.IncFailed()
	m.AddFindings(3)
	m.AddFindings(-1)
	m.Stop()

	s := m.Snapshot()
	if s.Files != 2 || s.Failed != 1 || s.Findings != 3 || s.Bytes != 2048 {
		t.Fatalf("snapshot = %+v", s)
	}
	if got := s.Completion(); got != 0.5 {
		t.Fatalf("completion = %v, want 0.5", got)
	}
	if line := formatProgressLine(s); !strings.Contains(line, "2 files") {
		t.Fatalf("progress line = %q", line)
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:         "512 B",
		2048:        "2.00 KiB",
		5 << 20:     "5.00 MiB",
		3 << 30 / 2: "1.50 GiB",
	}
	for in, want := range tests {
		if got := FormatBytes(in); got != want {
			t.Fatalf("FormatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestProgressPrinterStops(t *testing.T) {
	var buf bytes.Buffer
	m := NewMetrics()
	m.Start()
	stop := StartProgressPrinter(&buf, m, time.Millisecond)
	m.AddFile(10)
	time.Sleep(5 * time.Millisecond)
	stop()
	if StartProgressPrinter(nil, m, 0) == nil {
		t.Fatalf("nil writer should return a no-op stop func")
	}
}

func TestSha256OfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.bin")
	if err := os.WriteFile(path, []byte("abc"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	sum, size, err := Sha256OfFile(path)
	if err != nil {
		t.Fatalf("Sha256OfFile: %v", err)
	}
	want := "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if sum != want || size != 3 {
		t.Fatalf("sum = %s size = %d", sum, size)
	}
	h := NewHasher()
	h.Write([]byte("abc"))
	if h.Sum() != want {
		t.Fatalf("Hasher sum = %s", h.Sum())
	}
}
