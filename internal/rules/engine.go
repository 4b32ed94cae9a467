package rules

import (
	"bufio"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"example.com/edfgate/internal/diag"
	"example.com/edfgate/internal/edf"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

type Rule struct {
	RuleId   string         `json:"ruleId"`
	Name     string         `json:"name,omitempty"`
	Scope    string         `json:"scope"` // file|channel
	Severity Severity       `json:"severity"`
	Check    string         `json:"check,omitempty"`
	Refs     []string       `json:"refs"`
	Params   map[string]any `json:"params,omitempty"`
	Message  string         `json:"message"`
}

type RulePack struct {
	RulePackId string `json:"rulePackId"`
	Version    string `json:"version"`
	Profile    string `json:"profile"`
	Rules      []Rule `json:"rules"`
}

type Diagnostic struct {
	Ts       time.Time `json:"ts"`
	File     string    `json:"file"`
	Channel  string    `json:"channel,omitempty"`
	Field    string    `json:"field,omitempty"`
	RuleId   string    `json:"ruleId"`
	Severity Severity  `json:"severity"`
	Message  string    `json:"message"`
	Refs     []string  `json:"refs"`
}

type AcceptanceReport struct {
	Summary struct {
		Total    int  `json:"total"`
		Errors   int  `json:"errors"`
		Warnings int  `json:"warnings"`
		Pass     bool `json:"pass"`
	} `json:"summary"`
	GateMatrix []map[string]any `json:"gateMatrix"`
	Findings   []Diagnostic     `json:"findings,omitempty"`
}

// Context is what checks run against. Header is decoded lazily from
// InputFile; decode diagnostics are kept in Decode for the checks that
// report on them.
type Context struct {
	InputFile string
	Header    *edf.Header
	Decode    []diag.Entry
}

func (ctx *Context) EnsureHeader() error {
	if ctx == nil {
		return errors.New("nil context")
	}
	if ctx.Header != nil {
		return nil
	}
	if ctx.InputFile == "" {
		return errors.New("no input file")
	}
	log := diag.NewLog()
	h, err := edf.DecodeFile(ctx.InputFile, log)
	ctx.Decode = log.Entries()
	if err != nil {
		return err
	}
	ctx.Header = h
	return nil
}

// CheckFunc inspects ctx for one rule and returns its findings. No findings
// means the rule passed.
type CheckFunc func(ctx *Context, rule Rule) ([]Diagnostic, error)

type Engine struct {
	rulePack    RulePack
	registry    map[string]CheckFunc
	diagnostics []Diagnostic
}

func NewEngine(rp RulePack) *Engine {
	return &Engine{
		rulePack: rp,
		registry: make(map[string]CheckFunc),
	}
}

func (e *Engine) Register(name string, f CheckFunc) {
	e.registry[name] = f
}

func (e *Engine) RulePack() RulePack {
	return e.rulePack
}

func (e *Engine) Diagnostics() []Diagnostic {
	return e.diagnostics
}

func (e *Engine) Eval(ctx *Context) ([]Diagnostic, error) {
	if ctx == nil {
		return nil, errors.New("nil context")
	}
	if err := ctx.EnsureHeader(); err != nil {
		return nil, err
	}
	var diags []Diagnostic
	for _, r := range e.rulePack.Rules {
		if r.Check == "" {
			continue
		}
		fn, ok := e.registry[r.Check]
		if !ok {
			diags = append(diags, newDiagnostic(ctx, r, WARN, "no function for rule"))
			continue
		}
		found, err := fn(ctx, r)
		if err != nil {
			d := newDiagnostic(ctx, r, ERROR, r.Message)
			d.Message = d.Message + " (" + err.Error() + ")"
			found = append(found, d)
		}
		diags = append(diags, found...)
	}
	e.diagnostics = diags
	return diags, nil
}

func newDiagnostic(ctx *Context, r Rule, sev Severity, msg string) Diagnostic {
	return Diagnostic{
		Ts:       time.Now(),
		File:     ctx.InputFile,
		RuleId:   r.RuleId,
		Severity: sev,
		Message:  msg,
		Refs:     r.Refs,
	}
}

func (e *Engine) WriteDiagnosticsNDJSON(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	for _, d := range e.diagnostics {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		w.Write(b)
		w.WriteString("\n")
	}
	return w.Flush()
}

// MakeAcceptance summarizes the last Eval. The gate matrix has one row per
// rule of the pack, in pack order.
func (e *Engine) MakeAcceptance() AcceptanceReport {
	var rep AcceptanceReport
	var errs, warns int
	perRule := make(map[string][]Diagnostic)
	for _, d := range e.diagnostics {
		switch d.Severity {
		case ERROR:
			errs++
		case WARN:
			warns++
		}
		perRule[d.RuleId] = append(perRule[d.RuleId], d)
	}
	for _, r := range e.rulePack.Rules {
		status := "PASS"
		for _, d := range perRule[r.RuleId] {
			if d.Severity == ERROR {
				status = "FAIL"
				break
			}
			if d.Severity == WARN {
				status = "WARN"
			}
		}
		rep.GateMatrix = append(rep.GateMatrix, map[string]any{
			"ruleId":   r.RuleId,
			"name":     r.Name,
			"severity": string(r.Severity),
			"status":   status,
			"findings": len(perRule[r.RuleId]),
		})
	}
	rep.Summary.Total = len(e.diagnostics)
	rep.Summary.Errors = errs
	rep.Summary.Warnings = warns
	rep.Summary.Pass = errs == 0
	rep.Findings = e.diagnostics
	return rep
}

func LoadRulePack(path string) (RulePack, error) {
	var rp RulePack
	b, err := os.ReadFile(path)
	if err != nil {
		return rp, err
	}
	if err := json.Unmarshal(b, &rp); err != nil {
		return rp, fmt.Errorf("parse %s: %w", path, err)
	}
	return rp, nil
}

//go:embed default_rules.json
var defaultRules []byte

// DefaultRulePack returns the built-in EDF+ conformance pack.
func DefaultRulePack() RulePack {
	var rp RulePack
	if err := json.Unmarshal(defaultRules, &rp); err != nil {
		panic(fmt.Sprintf("rules: embedded pack: %v", err))
	}
	return rp
}
