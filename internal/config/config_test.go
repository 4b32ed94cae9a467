package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Lang != "en" || cfg.OutputDir != "." || cfg.Separator != "," {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.AuditLog != "edits.jsonl" {
		t.Fatalf("audit log = %q", cfg.AuditLog)
	}
	if cfg.Logs.MaxSizeMB != 25 || cfg.Logs.MaxAgeDays != 7 || cfg.Logs.MaxBackups != 5 {
		t.Fatalf("log defaults = %+v", cfg.Logs)
	}
	if cfg.Report.QRSize != 256 {
		t.Fatalf("qr size = %d", cfg.Report.QRSize)
	}
	if cfg.Server.Port != 8080 || cfg.Server.StorageDir != "data" {
		t.Fatalf("server = %+v", cfg.Server)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "edfctl.yaml", `
lang: fr
outputDir: out
rules: rules/site.json
separator: ";"
logs:
  directory: logs
  maxSizeMB: 10
report:
  qrSize: 128
server:
  port: 9090
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	dir := filepath.Dir(path)
	if cfg.Lang != "fr" || cfg.Separator != ";" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.OutputDir != filepath.Join(dir, "out") || cfg.Rules != filepath.Join(dir, "rules", "site.json") {
		t.Fatalf("paths not resolved: %+v", cfg)
	}
	if cfg.AuditLog != filepath.Join(dir, "out", "edits.jsonl") {
		t.Fatalf("audit log = %q", cfg.AuditLog)
	}
	if cfg.Logs.Directory != filepath.Join(dir, "logs") || cfg.Logs.MaxSizeMB != 10 || cfg.Logs.MaxBackups != 5 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
	if cfg.Report.QRSize != 128 {
		t.Fatalf("qr size = %d", cfg.Report.QRSize)
	}
	if cfg.Server.Port != 9090 || cfg.Server.StorageDir != filepath.Join(dir, "out", "data") {
		t.Fatalf("server = %+v", cfg.Server)
	}
	rot := cfg.Rotation("edfctl.log")
	if rot.Directory != cfg.Logs.Directory || rot.FileName != "edfctl.log" {
		t.Fatalf("rotation = %+v", rot)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeConfig(t, "edfctl.toml", `
lang = "fr"
audit_log = "/var/log/edf/edits.jsonl"
rules = "site@1.2"
rule_repo = "packs"

[logs]
directory = "logs"
compress = true

[report]
title = "Rapport"

[server]
storage_dir = "spool"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Lang != "fr" || cfg.AuditLog != "/var/log/edf/edits.jsonl" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Rules != "site@1.2" || cfg.RuleRepo != filepath.Join(filepath.Dir(path), "packs") {
		t.Fatalf("rules = %q repo = %q", cfg.Rules, cfg.RuleRepo)
	}
	if !cfg.Logs.Compress || cfg.Logs.MaxAgeDays != 7 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
	if cfg.Server.StorageDir != filepath.Join(filepath.Dir(path), "spool") || cfg.Server.Port != 8080 {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Report.Title != "Rapport" || cfg.Report.QRSize != 256 {
		t.Fatalf("report = %+v", cfg.Report)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name, file, body string
	}{
		{name: "extension", file: "edfctl.ini", body: "lang=en"},
		{name: "yaml unknown key", file: "c.yaml", body: "colour: blue\n"},
		{name: "toml unknown key", file: "c.toml", body: "colour = \"blue\"\n"},
		{name: "toml syntax", file: "c.toml", body: "lang = \n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.file, tc.body)); err == nil {
				t.Fatalf("expected an error")
			}
		})
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
