package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/rules"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func main() {
	args := os.Args[1:]
	cfg := config.Default()
	if len(args) >= 2 && (args[0] == "--config" || args[0] == "-config") {
		loaded, err := config.Load(args[1])
		if err != nil {
			fmt.Println("config:", err)
			os.Exit(1)
		}
		cfg = loaded
		args = args[2:]
	}
	if len(args) < 1 {
		usage()
		return
	}
	closer, err := common.SetupLogging(cfg.Rotation("edfctl.log"))
	if err != nil {
		fmt.Println("logging:", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}

	cmd := args[0]
	switch cmd {
	case "inspect":
		inspectCmd(cfg, args[1:])
	case "modify":
		modifyCmd(cfg, args[1:])
	case "extract":
		extractCmd(cfg, args[1:])
	case "concat":
		concatCmd(cfg, args[1:])
	case "validate":
		validateCmd(cfg, args[1:])
	case "report":
		reportCmd(cfg, args[1:])
	case "batch":
		batchCmd(cfg, args[1:])
	case "manifest":
		manifestCmd(cfg, args[1:])
	case "rulepack":
		rulepackCmd(cfg, args[1:])
	case "audit":
		auditCmd(cfg, args[1:])
	default:
		usage()
	}
}

func usage() {
	fmt.Printf(`edfctl %s (built %s) [--config <edfctl.yaml|edfctl.toml>] <command> [options]

Commands:
  inspect   --in <file.edf> [--json]
  modify    --in <file.edf> --set <field=value> [--set ...] [--sep <sep>] [--out <file.edf>] [--audit <edits.jsonl>] [--dry-run]
  extract   --in <file.edf> [--channel <label>] [--physical] [--out <samples.csv>]
  concat    --in <a.edf,b.edf,...> --out <joined.edf>
  validate  --in <file.edf> [--rules <rulepack.json|id@version>] --out <diagnostics.jsonl> --acceptance <acceptance.json>
  report    --in <a.edf,b.edf,...> --out-dir <dir> [--lang en|fr] [--rules <rulepack>] [--pdf] [--csv]
  batch     --in <dir> --out-dir <dir> [--rules <rulepack>] [--workers <n>] [--progress] [--metrics] [--manifest]
  manifest  --inputs <comma-separated> --out <manifest.json> | --verify <manifest.json>
  rulepack  <install|list|remove|set-default> [...]
  audit     [--log <edits.jsonl>] [--file <name>]
`, version, buildDate)
	names := make([]string, 0, len(edf.Fields()))
	for _, f := range edf.Fields() {
		names = append(names, f.String())
	}
	fmt.Printf("\nFields: %s\n", strings.Join(names, " "))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// stemOf returns the file name of path without its extension.
func stemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func openRepository(cfg config.Config) (*rules.Repository, error) {
	if cfg.RuleRepo != "" {
		return rules.OpenRepository(cfg.RuleRepo)
	}
	return rules.DefaultRepository()
}

// resolveRulePack picks the pack named by spec, the repository default for
// the edf+ profile, or the built-in pack, in that order.
func resolveRulePack(cfg config.Config, spec string) (rules.RulePack, rules.RulePackSource) {
	repo, err := openRepository(cfg)
	if err != nil {
		common.Logf("rule repository unavailable: %v", err)
		repo = nil
	}
	rp, source, err := rules.Resolve(repo, spec, rules.DefaultRulePack().Profile)
	if err != nil {
		fmt.Println("resolve rulepack:", err)
		os.Exit(1)
	}
	if source.FromRepository {
		fmt.Printf("Using rule pack %s@%s (profile %s)\n", source.RulePackId, source.Version, rp.Profile)
	}
	return rp, source
}

func ensureDir(dir string) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		fmt.Println("create output dir:", err)
		os.Exit(1)
	}
}
