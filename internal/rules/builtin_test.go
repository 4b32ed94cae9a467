package rules

import (
	"sort"
	"strings"
	"testing"

	"example.com/edfgate/internal/samples"
)

func annotated() samples.Recording {
	rec := samples.Standard(2, 2)
	rec.Channels = append(rec.Channels, samples.Annotations(8))
	return rec
}

func evalDefault(t *testing.T, rec samples.Recording) ([]Diagnostic, AcceptanceReport) {
	t.Helper()
	eng := NewEngine(DefaultRulePack())
	eng.RegisterBuiltins()
	diags, err := eng.Eval(&Context{InputFile: writeRecording(t, rec)})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	return diags, eng.MakeAcceptance()
}

func ruleIDs(diags []Diagnostic) []string {
	var ids []string
	for _, d := range diags {
		ids = append(ids, d.RuleId)
	}
	sort.Strings(ids)
	return ids
}

func TestBuiltinsCompliantRecording(t *testing.T) {
	diags, rep := evalDefault(t, annotated())
	if len(diags) != 0 {
		t.Fatalf("expected no findings, got %+v", diags)
	}
	if !rep.Summary.Pass || len(rep.GateMatrix) != len(DefaultRulePack().Rules) {
		t.Fatalf("acceptance = %+v", rep)
	}
}

func TestBuiltinsFindings(t *testing.T) {
	tests := []struct {
		name    string
		rec     func() samples.Recording
		want    []string
		pass    bool
		channel string
	}{
		{
			name: "no annotations",
			rec:  func() samples.Recording { return samples.Standard(2, 1) },
			want: []string{"EDF-HDR-006"},
			pass: true,
		},
		{
			name: "free text patient",
			rec: func() samples.Recording {
				r := annotated()
				r.PatientID = "John Doe"
				return r
			},
			want: []string{"EDF-HDR-001"},
			pass: true,
		},
		{
			name: "free text recording",
			rec: func() samples.Recording {
				r := annotated()
				r.RecID = "overnight study"
				return r
			},
			want: []string{"EDF-HDR-002"},
			pass: true,
		},
		{
			name: "slashed start date",
			rec: func() samples.Recording {
				r := annotated()
				r.StartDate = "02/03/02"
				return r
			},
			want: []string{"EDF-HDR-003"},
		},
		{
			name: "start time letters",
			rec: func() samples.Recording {
				r := annotated()
				r.StartTime = "ab.cd.ef"
				return r
			},
			want: []string{"EDF-HDR-004"},
		},
		{
			name: "plain edf reserved",
			rec: func() samples.Recording {
				r := annotated()
				r.Reserved = ""
				return r
			},
			want: []string{"EDF-HDR-005"},
			pass: true,
		},
		{
			name: "annotation unit",
			rec: func() samples.Recording {
				r := annotated()
				r.Channels[2].Unit = "uV"
				return r
			},
			want:    []string{"EDF-CH-001"},
			pass:    true,
			channel: samples.AnnotationsLabel,
		},
		{
			name: "flat physical range",
			rec: func() samples.Recording {
				r := annotated()
				r.Channels[1].PhysicalMin = "500"
				return r
			},
			want:    []string{"EDF-CH-002"},
			channel: "EEG C2",
		},
		{
			name: "flat digital range",
			rec: func() samples.Recording {
				r := annotated()
				r.Channels[0].DigitalMin = "32767"
				return r
			},
			want:    []string{"EDF-CH-003"},
			channel: "EEG C1",
		},
		{
			name: "inverted digital range",
			rec: func() samples.Recording {
				r := annotated()
				r.Channels[0].DigitalMin = "100"
				r.Channels[0].DigitalMax = "-100"
				return r
			},
			want:    []string{"EDF-CH-003"},
			channel: "EEG C1",
		},
		{
			name: "stale record count",
			rec: func() samples.Recording {
				r := annotated()
				r.NRecords = "7"
				return r
			},
			want: []string{"EDF-GEO-001"},
			pass: true,
		},
		{
			name: "record count text",
			rec: func() samples.Recording {
				r := annotated()
				r.NRecords = "many"
				return r
			},
			want: []string{"EDF-GEO-001", "EDF-GEO-004"},
			pass: true,
		},
		{
			name: "packed recording identification",
			rec: func() samples.Recording {
				r := samples.LegacyRecording(2, 2)
				r.Channels = append(r.Channels, samples.Annotations(8))
				return r
			},
			want: []string{"EDF-GEO-002", "EDF-GEO-003"},
			pass: true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			diags, rep := evalDefault(t, tc.rec())
			got := ruleIDs(diags)
			if strings.Join(got, ",") != strings.Join(tc.want, ",") {
				t.Fatalf("rule ids = %v, want %v (%+v)", got, tc.want, diags)
			}
			if rep.Summary.Pass != tc.pass {
				t.Fatalf("pass = %v, want %v", rep.Summary.Pass, tc.pass)
			}
			if tc.channel != "" && diags[0].Channel != tc.channel {
				t.Fatalf("channel = %q, want %q", diags[0].Channel, tc.channel)
			}
			for _, d := range diags {
				if d.Message == "" || d.File == "" {
					t.Fatalf("incomplete diagnostic %+v", d)
				}
			}
		})
	}
}

func TestCheckReservedEDFMarkerParam(t *testing.T) {
	rp := RulePack{Rules: []Rule{{
		RuleId:   "X",
		Severity: WARN,
		Check:    "CheckReservedEDF",
		Params:   map[string]any{"marker": "EDF+D"},
		Message:  "not discontinuous",
	}}}
	eng := NewEngine(rp)
	eng.RegisterBuiltins()
	diags, err := eng.Eval(&Context{InputFile: writeRecording(t, annotated())})
	if err != nil {
		t.Fatalf("Eval: %v", err)
	}
	if len(diags) != 1 || !strings.Contains(diags[0].Message, `"EDF+D"`) {
		t.Fatalf("diagnostics = %+v", diags)
	}
}
