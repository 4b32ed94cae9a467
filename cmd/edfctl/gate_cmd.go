package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/manifest"
	"example.com/edfgate/internal/report"
	"example.com/edfgate/internal/rules"
)

func newEngine(rp rules.RulePack) *rules.Engine {
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	return engine
}

func validateCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	in := fs.String("in", "", "input .edf/.rec")
	rulesSpec := fs.String("rules", cfg.Rules, "rulepack.json or installed id@version")
	outDiag := fs.String("out", "diagnostics.jsonl", "diagnostics output")
	outAcc := fs.String("acceptance", "acceptance_report.json", "acceptance json")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	rp, _ := resolveRulePack(cfg, *rulesSpec)
	engine := newEngine(rp)
	diags, err := engine.Eval(&rules.Context{InputFile: *in})
	if err != nil {
		fmt.Println("eval:", err)
		os.Exit(1)
	}
	if err := engine.WriteDiagnosticsNDJSON(*outDiag); err != nil {
		fmt.Println("write diags:", err)
		os.Exit(1)
	}
	rep := engine.MakeAcceptance()
	if err := report.SaveAcceptanceJSON(rep, *outAcc); err != nil {
		fmt.Println("write report:", err)
		os.Exit(1)
	}
	fmt.Printf("PASS=%v, errors=%d, warnings=%d, diagnostics=%d\n", rep.Summary.Pass, rep.Summary.Errors, rep.Summary.Warnings, len(diags))
}

func reportCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	in := fs.String("in", "", "comma-separated recordings")
	outDir := fs.String("out-dir", cfg.OutputDir, "report directory")
	lang := fs.String("lang", cfg.Lang, "report language (en, fr)")
	rulesSpec := fs.String("rules", cfg.Rules, "rulepack.json or installed id@version")
	withPDF := fs.Bool("pdf", true, "write one PDF report per recording")
	withCSV := fs.Bool("csv", false, "write the header, channel count and per channel CSV reports")
	fs.Parse(args)

	paths := splitList(*in)
	if len(paths) == 0 {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	language, err := report.ParseLanguage(*lang)
	if err != nil {
		fmt.Println("language:", err)
		os.Exit(1)
	}
	ensureDir(*outDir)
	rp, source := resolveRulePack(cfg, *rulesSpec)

	var headers []report.FileHeader
	failed := 0
	for _, path := range paths {
		engine := newEngine(rp)
		ctx := &rules.Context{InputFile: path}
		if _, err := engine.Eval(ctx); err != nil {
			fmt.Printf("%s: %v\n", path, err)
			failed++
			continue
		}
		sum, _, err := common.Sha256OfFile(path)
		if err != nil {
			fmt.Printf("%s: hash: %v\n", path, err)
			failed++
			continue
		}
		acc := engine.MakeAcceptance()
		rep := report.HeaderReport{
			File:       path,
			SHA256:     sum,
			Generated:  time.Now().UTC(),
			Header:     ctx.Header,
			RulePack:   &source,
			Acceptance: &acc,
		}
		stem := stemOf(path)
		jsonOut := filepath.Join(*outDir, stem+"_report.json")
		if err := report.SaveHeaderJSON(rep, jsonOut); err != nil {
			fmt.Println("write report json:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", jsonOut)
		if *withPDF {
			pdfOut := filepath.Join(*outDir, stem+"_report.pdf")
			opts := report.PDFOptions{Title: cfg.Report.Title, Lang: language, QRSize: cfg.Report.QRSize}
			if err := report.SaveHeaderPDF(rep, pdfOut, opts); err != nil {
				fmt.Println("write pdf:", err)
				os.Exit(1)
			}
			fmt.Println("Wrote PDF:", pdfOut)
		}
		headers = append(headers, report.FileHeader{Name: filepath.Base(path), Header: ctx.Header})
	}

	if *withCSV && len(headers) > 0 {
		hdrOut := filepath.Join(*outDir, report.HeaderCSVName)
		if err := report.WriteHeaderCSV(hdrOut, headers); err != nil {
			fmt.Println("write header csv:", err)
			os.Exit(1)
		}
		countOut := filepath.Join(*outDir, report.ChannelCountCSVName)
		if err := report.WriteChannelCountCSV(countOut, headers); err != nil {
			fmt.Println("write channel count csv:", err)
			os.Exit(1)
		}
		written, err := report.WriteChannelReports(*outDir, headers)
		if err != nil {
			fmt.Println("write channel reports:", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s, %s and %d channel report(s)\n", hdrOut, countOut, len(written))
	}
	if failed > 0 {
		fmt.Printf("%d file(s) could not be reported\n", failed)
		os.Exit(1)
	}
}

type batchJob struct {
	path string
	name string
	size int64
}

type batchResult struct {
	job    batchJob
	pass   bool
	errors int
	diags  int
	err    error
}

// collectRecordings walks dir for recordings and gives each one a unique
// output directory name.
func collectRecordings(dir string) ([]batchJob, error) {
	var jobs []batchJob
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !edf.SupportedExtension(path) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		jobs = append(jobs, batchJob{path: path, name: stemOf(path), size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]int)
	for _, j := range jobs {
		seen[j.name]++
	}
	for i, j := range jobs {
		if seen[j.name] < 2 {
			continue
		}
		rel, err := filepath.Rel(dir, j.path)
		if err != nil {
			rel = j.path
		}
		rel = strings.TrimSuffix(rel, filepath.Ext(rel))
		jobs[i].name = strings.ReplaceAll(filepath.ToSlash(rel), "/", "_")
	}
	return jobs, nil
}

func runBatchJob(rp rules.RulePack, outDir string, job batchJob) batchResult {
	res := batchResult{job: job}
	engine := newEngine(rp)
	diags, err := engine.Eval(&rules.Context{InputFile: job.path})
	if err != nil {
		res.err = err
		return res
	}
	dir := filepath.Join(outDir, job.name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		res.err = err
		return res
	}
	if err := engine.WriteDiagnosticsNDJSON(filepath.Join(dir, "diagnostics.jsonl")); err != nil {
		res.err = fmt.Errorf("write diags: %w", err)
		return res
	}
	acc := engine.MakeAcceptance()
	if err := report.SaveAcceptanceJSON(acc, filepath.Join(dir, "acceptance.json")); err != nil {
		res.err = fmt.Errorf("write acceptance: %w", err)
		return res
	}
	res.pass = acc.Summary.Pass
	res.errors = acc.Summary.Errors
	res.diags = len(diags)
	return res
}

func batchCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("batch", flag.ExitOnError)
	inDir := fs.String("in", ".", "input directory")
	outDir := fs.String("out-dir", "out", "results directory")
	rulesSpec := fs.String("rules", cfg.Rules, "rulepack.json or installed id@version")
	workers := fs.Int("workers", runtime.NumCPU(), "recordings validated in parallel")
	progressFlag := fs.Bool("progress", false, "display progress updates")
	metricsFlag := fs.Bool("metrics", false, "print throughput metrics")
	withManifest := fs.Bool("manifest", false, "write a manifest of the inputs and results")
	fs.Parse(args)

	jobs, err := collectRecordings(*inDir)
	if err != nil {
		fmt.Println("scan inputs:", err)
		os.Exit(1)
	}
	if len(jobs) == 0 {
		fmt.Println("no recordings found in", *inDir)
		return
	}
	ensureDir(*outDir)
	rp, _ := resolveRulePack(cfg, *rulesSpec)

	metrics := common.NewMetrics()
	var total int64
	for _, j := range jobs {
		total += j.size
	}
	metrics.SetTotalBytes(total)
	metrics.Start()
	var stopProgress func()
	if *progressFlag {
		stopProgress = common.StartProgressPrinter(os.Stderr, metrics, 500*time.Millisecond)
	}

	n := *workers
	if n < 1 {
		n = 1
	}
	if n > len(jobs) {
		n = len(jobs)
	}
	queue := make(chan batchJob)
	results := make(chan batchResult, len(jobs))
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range queue {
				res := runBatchJob(rp, *outDir, job)
				if res.err != nil {
					metrics.IncFailed()
					metrics.AddBytes(job.size)
				} else {
					metrics.AddFile(job.size)
					metrics.AddFindings(res.diags)
				}
				results <- res
			}
		}()
	}
	for _, j := range jobs {
		queue <- j
	}
	close(queue)
	wg.Wait()
	close(results)
	if stopProgress != nil {
		stopProgress()
	}
	metrics.Stop()

	var all []batchResult
	for r := range results {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].job.name < all[j].job.name })
	passed, failed := 0, 0
	for _, r := range all {
		switch {
		case r.err != nil:
			failed++
			common.Logf("batch: %s: %v", r.job.path, r.err)
			fmt.Printf("%s: ERROR %v\n", r.job.name, r.err)
		case r.pass:
			passed++
			fmt.Printf("%s: PASS (%d diagnostics)\n", r.job.name, r.diags)
		default:
			fmt.Printf("%s: FAIL (%d errors, %d diagnostics)\n", r.job.name, r.errors, r.diags)
		}
	}
	fmt.Printf("Batch: %d file(s), %d passed, %d failed to process\n", len(all), passed, failed)

	if *withManifest {
		var paths []string
		for _, r := range all {
			paths = append(paths, r.job.path)
			if r.err == nil {
				dir := filepath.Join(*outDir, r.job.name)
				paths = append(paths, filepath.Join(dir, "diagnostics.jsonl"), filepath.Join(dir, "acceptance.json"))
			}
		}
		m, err := manifest.Build(paths)
		if err != nil {
			fmt.Println("manifest build:", err)
			os.Exit(1)
		}
		out := filepath.Join(*outDir, "manifest.json")
		if err := manifest.Save(m, out); err != nil {
			fmt.Println("manifest save:", err)
			os.Exit(1)
		}
		fmt.Println("Wrote", out)
	}
	if *metricsFlag {
		snap := metrics.Snapshot()
		fmt.Printf("Metrics: duration=%s files=%d failed=%d findings=%d processed=%s throughput=%.2f MB/s\n",
			snap.Duration.Round(10*time.Millisecond),
			snap.Files,
			snap.Failed,
			snap.Findings,
			common.FormatBytes(snap.Bytes),
			snap.ThroughputBytesPerSecond()/1_000_000,
		)
	}
}

func manifestCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("manifest", flag.ExitOnError)
	inputs := fs.String("inputs", "", "comma-separated paths")
	out := fs.String("out", "manifest.json", "output json")
	verify := fs.String("verify", "", "manifest to check against the files it lists")
	fs.Parse(args)

	if *verify != "" {
		m, err := manifest.Load(*verify)
		if err != nil {
			fmt.Println("manifest load:", err)
			os.Exit(1)
		}
		mismatches := manifest.Verify(m)
		for _, mm := range mismatches {
			fmt.Printf("MISMATCH %s: %s\n", mm.Path, mm.Reason)
		}
		if len(mismatches) > 0 {
			os.Exit(1)
		}
		fmt.Printf("Manifest OK (%d items)\n", len(m.Items))
		return
	}

	paths := splitList(*inputs)
	if len(paths) == 0 {
		fmt.Println("required: --inputs")
		os.Exit(1)
	}
	m, err := manifest.Build(paths)
	if err != nil {
		fmt.Println("manifest build:", err)
		os.Exit(1)
	}
	if err := manifest.Save(m, *out); err != nil {
		fmt.Println("manifest save:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
}
