package main

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/config"
	"example.com/edfgate/internal/diag"
	"example.com/edfgate/internal/edf"
)

// stringList collects a repeatable string flag.
type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ";") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

func decodeOrExit(path string, sink diag.Sink) *edf.Header {
	h, err := edf.DecodeFile(path, sink)
	if err != nil {
		fmt.Println("decode:", err)
		os.Exit(1)
	}
	return h
}

func inspectCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	in := fs.String("in", "", "input .edf/.rec")
	asJSON := fs.Bool("json", false, "print the decoded header as JSON")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	h := decodeOrExit(*in, diag.LogSink{Prefix: filepath.Base(*in)})
	if *asJSON {
		b, err := json.MarshalIndent(h, "", "  ")
		if err != nil {
			fmt.Println("marshal header:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}
	printHeader(os.Stdout, h)
}

func printHeader(out io.Writer, h *edf.Header) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, f := range edf.Fields()[:edf.FieldSamplesPerRecord] {
		fmt.Fprintf(w, "%s\t%s\n", f, strings.TrimRight(edf.Current(h, f).String(), " "))
	}
	fmt.Fprintf(w, "layout\t%s\n", h.Layout)
	w.Flush()
	fmt.Fprintln(out)

	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "#\tLABEL\tTRANSDUCER\tUNIT\tPHYSICAL\tDIGITAL\tPREFILTERING\tSAMPLES")
	for i, c := range h.Channels {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%g..%g\t%d..%d\t%s\t%d\n",
			i+1,
			strings.TrimSpace(c.Label),
			strings.TrimSpace(c.Transducer),
			strings.TrimSpace(c.Unit),
			c.PhysicalMin, c.PhysicalMax,
			c.DigitalMin, c.DigitalMax,
			strings.TrimSpace(c.Prefiltering),
			c.SamplesPerRecord,
		)
	}
	w.Flush()
}

type pendingEdit struct {
	field  edf.Field
	before string
}

func modifyCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("modify", flag.ExitOnError)
	in := fs.String("in", "", "input .edf/.rec")
	var sets stringList
	fs.Var(&sets, "set", "field=value (repeatable; -1 or reset restores the default)")
	sep := fs.String("sep", cfg.Separator, "separator between per-channel values")
	out := fs.String("out", "", "output file (default <out dir>/<name>_edited<ext>)")
	auditPath := fs.String("audit", cfg.AuditLog, "audit log output (jsonl)")
	dryRun := fs.Bool("dry-run", false, "validate the edits without writing")
	fs.Parse(args)

	if *in == "" || len(sets) == 0 {
		fmt.Println("required: --in, --set")
		os.Exit(1)
	}
	outPath := *out
	if outPath == "" {
		ext := filepath.Ext(*in)
		outPath = filepath.Join(cfg.OutputDir, stemOf(*in)+"_edited"+ext)
	}

	sink := diag.LogSink{Prefix: filepath.Base(*in)}
	h := decodeOrExit(*in, sink)
	dataOffset := h.HdrBytes

	var applied []pendingEdit
	rejected := 0
	for _, s := range sets {
		name, raw, ok := strings.Cut(s, "=")
		if !ok {
			fmt.Printf("invalid --set %q: expected field=value\n", s)
			os.Exit(1)
		}
		field, err := edf.ParseField(name)
		if err != nil {
			fmt.Println("field:", err)
			os.Exit(1)
		}
		edit, err := edf.ParseEdit(field, raw, *sep)
		if err != nil {
			fmt.Println("value:", err)
			rejected++
			continue
		}
		before := edf.Current(h, field).String()
		if !edf.Modify(h, field, edit, sink) {
			rejected++
			continue
		}
		applied = append(applied, pendingEdit{field: field, before: before})
	}
	if rejected > 0 {
		fmt.Printf("%d edit(s) rejected, %s not written\n", rejected, outPath)
		os.Exit(1)
	}
	if *dryRun {
		fmt.Printf("%d edit(s) accepted (dry run)\n", len(applied))
		return
	}

	data, err := edf.ReadData(*in, dataOffset)
	if err != nil {
		fmt.Println("read data:", err)
		os.Exit(1)
	}
	if dir := filepath.Dir(outPath); dir != "" && dir != "." {
		ensureDir(dir)
	}
	if err := edf.WriteFile(outPath, h, data, sink); err != nil {
		fmt.Println("write:", err)
		os.Exit(1)
	}

	if *auditPath != "" {
		audit := common.NewAuditLog(*auditPath)
		for _, e := range applied {
			_, err := audit.Append(common.EditEntry{
				File:   *in,
				Output: outPath,
				Field:  e.field.String(),
				Before: e.before,
				After:  edf.Current(h, e.field).String(),
			})
			if err != nil {
				fmt.Println("audit:", err)
				os.Exit(1)
			}
		}
	}
	fmt.Printf("Wrote %s (%d edit(s))\n", outPath, len(applied))
	if *auditPath != "" {
		fmt.Printf("Audit log: %s\n", *auditPath)
	}
}

func extractCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	in := fs.String("in", "", "input .edf/.rec")
	out := fs.String("out", "", "samples output (csv); a summary is printed when empty")
	channel := fs.String("channel", "", "only extract the channel with this label")
	physical := fs.Bool("physical", false, "convert samples to physical units")
	fs.Parse(args)

	if *in == "" {
		fmt.Println("required: --in")
		os.Exit(1)
	}
	h := decodeOrExit(*in, diag.LogSink{Prefix: filepath.Base(*in)})
	signals, err := edf.ExtractFile(*in, h)
	if err != nil {
		if errors.Is(err, edf.ErrGeometry) {
			fmt.Println("extract: data does not match the header:", err)
		} else {
			fmt.Println("extract:", err)
		}
		os.Exit(1)
	}

	var selected []int
	for i, c := range h.Channels {
		if *channel == "" || strings.TrimSpace(c.Label) == strings.TrimSpace(*channel) {
			selected = append(selected, i)
		}
	}
	if len(selected) == 0 {
		fmt.Printf("no channel labelled %q\n", *channel)
		os.Exit(1)
	}
	value := func(i int, d int16) string {
		if *physical {
			return strconv.FormatFloat(h.Channels[i].Physical(d), 'g', -1, 64)
		}
		return strconv.Itoa(int(d))
	}

	if *out == "" {
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "LABEL\tSAMPLES\tMIN\tMAX")
		for _, i := range selected {
			sig := signals[i]
			if len(sig) == 0 {
				fmt.Fprintf(w, "%s\t0\t-\t-\n", strings.TrimSpace(h.Channels[i].Label))
				continue
			}
			lo, hi := sig[0], sig[0]
			for _, d := range sig {
				if d < lo {
					lo = d
				}
				if d > hi {
					hi = d
				}
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", strings.TrimSpace(h.Channels[i].Label), len(sig), value(i, lo), value(i, hi))
		}
		w.Flush()
		return
	}

	f, err := os.Create(*out)
	if err != nil {
		fmt.Println("create output:", err)
		os.Exit(1)
	}
	cw := csv.NewWriter(f)
	cw.Write([]string{"channel", "index", "value"})
	for _, i := range selected {
		label := strings.TrimSpace(h.Channels[i].Label)
		for n, d := range signals[i] {
			cw.Write([]string{label, strconv.Itoa(n), value(i, d)})
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		f.Close()
		fmt.Println("write samples:", err)
		os.Exit(1)
	}
	if err := f.Close(); err != nil {
		fmt.Println("write samples:", err)
		os.Exit(1)
	}
	fmt.Println("Wrote", *out)
}

func concatCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("concat", flag.ExitOnError)
	in := fs.String("in", "", "comma-separated recordings")
	out := fs.String("out", "", "output recording")
	fs.Parse(args)

	paths := splitList(*in)
	if len(paths) == 0 || *out == "" {
		fmt.Println("required: --in, --out")
		os.Exit(1)
	}
	h, err := edf.Concatenate(paths, *out, diag.LogSink{Prefix: "concat"})
	if err != nil {
		fmt.Println("concat:", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s (%d records, starts %s %s)\n", *out, h.NRecords, h.StartDate, h.StartTime)
}

func auditCmd(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	logPath := fs.String("log", cfg.AuditLog, "audit log (jsonl)")
	file := fs.String("file", "", "only show edits of this input file")
	fs.Parse(args)

	entries, err := common.ReadAuditLog(*logPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Println("No edits recorded")
			return
		}
		fmt.Println("read audit:", err)
		os.Exit(1)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tFILE\tFIELD\tBEFORE\tAFTER")
	shown := 0
	for _, e := range entries {
		if *file != "" && filepath.Base(e.File) != filepath.Base(*file) {
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Ts.Format("2006-01-02 15:04:05"), filepath.Base(e.File), e.Field,
			strings.TrimRight(e.Before, " "), strings.TrimRight(e.After, " "))
		shown++
	}
	w.Flush()
	if shown == 0 {
		fmt.Println("No edits recorded")
	}
}
