package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/diag"
	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/manifest"
	"example.com/edfgate/internal/report"
	"example.com/edfgate/internal/rules"
)

type inspectRequest struct {
	Input string `json:"input"`
}

type inspectResponse struct {
	File        string       `json:"file"`
	Header      *edf.Header  `json:"header"`
	Diagnostics []diag.Entry `json:"diagnostics"`
}

type validateRequest struct {
	Inputs   []string        `json:"inputs"`
	RulePack *rules.RulePack `json:"rulePack,omitempty"`
}

type validateResult struct {
	File        string                  `json:"file"`
	Error       string                  `json:"error,omitempty"`
	Acceptance  *rules.AcceptanceReport `json:"acceptance,omitempty"`
	Diagnostics []rules.Diagnostic      `json:"diagnostics,omitempty"`
	Artifacts   []ArtifactRef           `json:"artifacts,omitempty"`
}

type validateResponse struct {
	RulePack rules.RulePackSource `json:"rulePack"`
	Results  []validateResult     `json:"results"`
}

type fieldEdit struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type modifyRequest struct {
	Input     string      `json:"input"`
	Edits     []fieldEdit `json:"edits"`
	Separator string      `json:"separator,omitempty"`
	DryRun    bool        `json:"dryRun,omitempty"`
}

type editOutcome struct {
	Field   string `json:"field"`
	Applied bool   `json:"applied"`
	Before  string `json:"before"`
	After   string `json:"after,omitempty"`
	Error   string `json:"error,omitempty"`
}

type modifyResponse struct {
	Edits       []editOutcome      `json:"edits"`
	Diagnostics []diag.Entry       `json:"diagnostics"`
	Output      *ArtifactRef       `json:"output,omitempty"`
	Audit       []common.EditEntry `json:"audit,omitempty"`
}

type extractRequest struct {
	Input    string `json:"input"`
	Channel  string `json:"channel,omitempty"`
	Physical bool   `json:"physical,omitempty"`
}

type channelSamples struct {
	Label  string    `json:"label"`
	Unit   string    `json:"unit,omitempty"`
	Values []float64 `json:"values"`
}

type concatRequest struct {
	Inputs []string `json:"inputs"`
}

type concatResponse struct {
	Output   ArtifactRef  `json:"output"`
	NRecords int          `json:"nRecords"`
	Start    string       `json:"start"`
	Log      []diag.Entry `json:"diagnostics"`
}

type reportRequest struct {
	Input string `json:"input"`
	Lang  string `json:"lang,omitempty"`
}

type manifestRequest struct {
	Inputs []string `json:"inputs"`
}

type manifestResponse struct {
	Manifest manifest.Manifest `json:"manifest"`
	Artifact ArtifactRef       `json:"artifact"`
}

func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, fmt.Sprintf("invalid JSON: %v", err), http.StatusBadRequest)
		return false
	}
	return true
}

// resolveRecording resolves token and checks it names an EDF recording.
func (s *Server) resolveRecording(w http.ResponseWriter, token string) (string, bool) {
	path, err := s.resolvePath(token)
	if err != nil {
		http.Error(w, fmt.Sprintf("resolve input %q: %v", token, err), http.StatusBadRequest)
		return "", false
	}
	if !edf.SupportedExtension(s.displayName(token, path)) {
		http.Error(w, fmt.Sprintf("%s is not an .edf/.rec recording", token), http.StatusBadRequest)
		return "", false
	}
	return path, true
}

func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	fields := edf.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.String()
	}
	writeJSON(w, http.StatusOK, names)
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	var req inspectRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	path, ok := s.resolveRecording(w, req.Input)
	if !ok {
		return
	}
	log := diag.NewLog()
	h, err := edf.DecodeFile(path, log)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, inspectResponse{
		File:        s.displayName(req.Input, path),
		Header:      h,
		Diagnostics: log.Entries(),
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "no inputs", http.StatusBadRequest)
		return
	}
	rp, source := s.opts.RulePack, s.opts.RuleSource
	if req.RulePack != nil {
		if len(req.RulePack.Rules) == 0 {
			http.Error(w, "rule pack has no rules", http.StatusBadRequest)
			return
		}
		rp = *req.RulePack
		source = rules.RulePackSource{RulePackId: rp.RulePackId, Version: rp.Version}
	}
	paths := make([]string, len(req.Inputs))
	for i, token := range req.Inputs {
		path, ok := s.resolveRecording(w, token)
		if !ok {
			return
		}
		paths[i] = path
	}

	if r.URL.Query().Get("stream") == "true" {
		s.streamValidate(w, rp, req.Inputs, paths)
		return
	}

	results := make([]validateResult, len(paths))
	sem := make(chan struct{}, s.opts.Concurrency)
	var wg sync.WaitGroup
	for i := range paths {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = s.validateOne(rp, req.Inputs[i], paths[i])
		}(i)
	}
	wg.Wait()
	writeJSON(w, http.StatusOK, validateResponse{RulePack: source, Results: results})
}

func (s *Server) validateOne(rp rules.RulePack, token, path string) validateResult {
	name := s.displayName(token, path)
	res := validateResult{File: name}
	engine := rules.NewEngine(rp)
	engine.RegisterBuiltins()
	diags, err := engine.Eval(&rules.Context{InputFile: path})
	if err != nil {
		res.Error = err.Error()
		return res
	}
	acc := engine.MakeAcceptance()
	res.Acceptance = &acc
	res.Diagnostics = diags

	stem := strings.TrimSuffix(name, filepath.Ext(name))
	diagPath, err := s.tempPath("diagnostics-*.jsonl")
	if err == nil {
		err = engine.WriteDiagnosticsNDJSON(diagPath)
	}
	if err == nil {
		if art, aerr := s.addArtifact(diagPath, stem+"_diagnostics.jsonl", "", "diagnostics"); aerr == nil {
			res.Artifacts = append(res.Artifacts, toRef(art))
		}
	} else {
		common.Logf("validate %s: write diagnostics: %v", name, err)
	}
	accPath, err := s.tempPath("acceptance-*.json")
	if err == nil {
		err = report.SaveAcceptanceJSON(acc, accPath)
	}
	if err == nil {
		if art, aerr := s.addArtifact(accPath, stem+"_acceptance.json", "", "acceptance"); aerr == nil {
			res.Artifacts = append(res.Artifacts, toRef(art))
		}
	} else {
		common.Logf("validate %s: write acceptance: %v", name, err)
	}
	return res
}

// streamValidate writes decode entries and rule findings as they are
// produced, then one summary record per file.
func (s *Server) streamValidate(w http.ResponseWriter, rp rules.RulePack, tokens, paths []string) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	stream := NewNDJSONWriter(w)
	for i, path := range paths {
		name := s.displayName(tokens[i], path)
		log := diag.NewLog()
		h, err := edf.DecodeFile(path, diag.Multi(log, stream))
		if err != nil {
			stream.WriteObject(streamRecord{Type: "error", File: name, Data: err.Error()})
			continue
		}
		engine := rules.NewEngine(rp)
		engine.RegisterBuiltins()
		diags, err := engine.Eval(&rules.Context{InputFile: path, Header: h, Decode: log.Entries()})
		if err != nil {
			stream.WriteObject(streamRecord{Type: "error", File: name, Data: err.Error()})
			continue
		}
		for _, d := range diags {
			d.File = name
			if err := stream.WriteDiagnostic(d); err != nil {
				common.Logf("stream %s: %v", name, err)
				return
			}
		}
		stream.WriteObject(streamRecord{Type: "summary", File: name, Data: engine.MakeAcceptance().Summary})
	}
}

func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var req modifyRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Edits) == 0 {
		http.Error(w, "no edits", http.StatusBadRequest)
		return
	}
	path, ok := s.resolveRecording(w, req.Input)
	if !ok {
		return
	}
	name := s.displayName(req.Input, path)
	sep := req.Separator
	if sep == "" {
		sep = s.opts.Separator
	}

	log := diag.NewLog()
	sink := diag.Multi(log, diag.LogSink{Prefix: name})
	h, err := edf.DecodeFile(path, sink)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusUnprocessableEntity)
		return
	}
	dataOffset := h.HdrBytes

	resp := modifyResponse{}
	rejected := 0
	for _, e := range req.Edits {
		out := editOutcome{Field: e.Field}
		field, err := edf.ParseField(e.Field)
		if err != nil {
			out.Error = err.Error()
			resp.Edits = append(resp.Edits, out)
			rejected++
			continue
		}
		out.Before = edf.Current(h, field).String()
		edit, err := edf.ParseEdit(field, e.Value, sep)
		if err != nil {
			out.Error = err.Error()
			resp.Edits = append(resp.Edits, out)
			rejected++
			continue
		}
		if !edf.Modify(h, field, edit, sink) {
			out.Error = "edit rejected"
			resp.Edits = append(resp.Edits, out)
			rejected++
			continue
		}
		out.Applied = true
		out.After = edf.Current(h, field).String()
		resp.Edits = append(resp.Edits, out)
	}
	resp.Diagnostics = log.Entries()
	if rejected > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	if req.DryRun {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	data, err := edf.ReadData(path, dataOffset)
	if err != nil {
		http.Error(w, fmt.Sprintf("read data: %v", err), http.StatusInternalServerError)
		return
	}
	ext := filepath.Ext(name)
	outPath, err := s.tempPath("edited-*" + ext)
	if err != nil {
		http.Error(w, fmt.Sprintf("allocate output: %v", err), http.StatusInternalServerError)
		return
	}
	if err := edf.WriteFile(outPath, h, data, sink); err != nil {
		os.Remove(outPath)
		http.Error(w, fmt.Sprintf("write: %v", err), http.StatusInternalServerError)
		return
	}
	outName := strings.TrimSuffix(name, ext) + "_edited" + ext
	art, err := s.addArtifact(outPath, outName, "", "edited")
	if err != nil {
		http.Error(w, fmt.Sprintf("register output: %v", err), http.StatusInternalServerError)
		return
	}
	ref := toRef(art)
	resp.Output = &ref
	resp.Diagnostics = log.Entries()

	if s.audit != nil {
		for _, e := range resp.Edits {
			entry, err := s.audit.Append(common.EditEntry{
				File:   name,
				Output: outName,
				Field:  e.Field,
				Before: e.Before,
				After:  e.After,
			})
			if err != nil {
				common.Logf("audit %s: %v", name, err)
				break
			}
			resp.Audit = append(resp.Audit, entry)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	path, ok := s.resolveRecording(w, req.Input)
	if !ok {
		return
	}
	h, err := edf.DecodeFile(path, nil)
	if err != nil {
		http.Error(w, fmt.Sprintf("decode: %v", err), http.StatusUnprocessableEntity)
		return
	}
	signals, err := edf.ExtractFile(path, h)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, edf.ErrGeometry) {
			status = http.StatusUnprocessableEntity
		}
		http.Error(w, fmt.Sprintf("extract: %v", err), status)
		return
	}
	var out []channelSamples
	for i, c := range h.Channels {
		label := strings.TrimSpace(c.Label)
		if req.Channel != "" && label != strings.TrimSpace(req.Channel) {
			continue
		}
		cs := channelSamples{Label: label, Values: make([]float64, len(signals[i]))}
		if req.Physical {
			cs.Unit = strings.TrimSpace(c.Unit)
		}
		for n, d := range signals[i] {
			if req.Physical {
				cs.Values[n] = c.Physical(d)
			} else {
				cs.Values[n] = float64(d)
			}
		}
		out = append(out, cs)
	}
	if len(out) == 0 {
		http.Error(w, fmt.Sprintf("no channel labelled %q", req.Channel), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleConcat(w http.ResponseWriter, r *http.Request) {
	var req concatRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Inputs) < 2 {
		http.Error(w, "at least two inputs are required", http.StatusBadRequest)
		return
	}
	paths := make([]string, len(req.Inputs))
	for i, token := range req.Inputs {
		path, ok := s.resolveRecording(w, token)
		if !ok {
			return
		}
		paths[i] = path
	}
	first := s.displayName(req.Inputs[0], paths[0])
	ext := filepath.Ext(first)
	outPath, err := s.tempPath("concat-*" + ext)
	if err != nil {
		http.Error(w, fmt.Sprintf("allocate output: %v", err), http.StatusInternalServerError)
		return
	}
	log := diag.NewLog()
	h, err := edf.Concatenate(paths, outPath, diag.Multi(log, diag.LogSink{Prefix: "concat"}))
	if err != nil {
		os.Remove(outPath)
		http.Error(w, fmt.Sprintf("concat: %v", err), http.StatusUnprocessableEntity)
		return
	}
	art, err := s.addArtifact(outPath, strings.TrimSuffix(first, ext)+"_concat"+ext, "", "concat")
	if err != nil {
		http.Error(w, fmt.Sprintf("register output: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, concatResponse{
		Output:   toRef(art),
		NRecords: h.NRecords,
		Start:    h.StartDate + " " + h.StartTime,
		Log:      log.Entries(),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	lang := s.opts.Lang
	if req.Lang != "" {
		parsed, err := report.ParseLanguage(req.Lang)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		lang = parsed
	}
	path, ok := s.resolveRecording(w, req.Input)
	if !ok {
		return
	}
	name := s.displayName(req.Input, path)
	engine := rules.NewEngine(s.opts.RulePack)
	engine.RegisterBuiltins()
	ctx := &rules.Context{InputFile: path}
	if _, err := engine.Eval(ctx); err != nil {
		http.Error(w, fmt.Sprintf("validate: %v", err), http.StatusUnprocessableEntity)
		return
	}
	sum, _, err := common.Sha256OfFile(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("hash: %v", err), http.StatusInternalServerError)
		return
	}
	acc := engine.MakeAcceptance()
	source := s.opts.RuleSource
	rep := report.HeaderReport{
		File:       name,
		SHA256:     sum,
		Generated:  time.Now().UTC(),
		Header:     ctx.Header,
		RulePack:   &source,
		Acceptance: &acc,
	}
	stem := strings.TrimSuffix(name, filepath.Ext(name))

	var refs []ArtifactRef
	jsonPath, err := s.tempPath("report-*.json")
	if err == nil {
		err = report.SaveHeaderJSON(rep, jsonPath)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("write report json: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(jsonPath, stem+"_report.json", "", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register report: %v", err), http.StatusInternalServerError)
		return
	}
	refs = append(refs, toRef(art))

	pdfPath, err := s.tempPath("report-*.pdf")
	if err == nil {
		err = report.SaveHeaderPDF(rep, pdfPath, report.PDFOptions{Title: s.opts.ReportTitle, Lang: lang, QRSize: s.opts.QRSize})
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("write pdf: %v", err), http.StatusInternalServerError)
		return
	}
	art, err = s.addArtifact(pdfPath, stem+"_report.pdf", "", "report")
	if err != nil {
		http.Error(w, fmt.Sprintf("register pdf: %v", err), http.StatusInternalServerError)
		return
	}
	refs = append(refs, toRef(art))

	resp := struct {
		Acceptance rules.AcceptanceReport `json:"acceptance"`
		Artifacts  []ArtifactRef          `json:"artifacts"`
	}{Acceptance: acc, Artifacts: refs}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	var req manifestRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	if len(req.Inputs) == 0 {
		http.Error(w, "no inputs", http.StatusBadRequest)
		return
	}
	paths := make([]string, len(req.Inputs))
	for i, token := range req.Inputs {
		path, err := s.resolvePath(token)
		if err != nil {
			http.Error(w, fmt.Sprintf("resolve input %q: %v", token, err), http.StatusBadRequest)
			return
		}
		paths[i] = path
	}
	m, err := manifest.Build(paths)
	if err != nil {
		http.Error(w, fmt.Sprintf("build manifest: %v", err), http.StatusInternalServerError)
		return
	}
	outPath, err := s.tempPath("manifest-*.json")
	if err == nil {
		err = manifest.Save(m, outPath)
	}
	if err != nil {
		http.Error(w, fmt.Sprintf("write manifest: %v", err), http.StatusInternalServerError)
		return
	}
	art, err := s.addArtifact(outPath, "manifest.json", "application/json", "manifest")
	if err != nil {
		http.Error(w, fmt.Sprintf("register manifest: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, manifestResponse{Manifest: m, Artifact: toRef(art)})
}

func (s *Server) handleArtifacts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.listArtifacts())
}

func (s *Server) handleArtifactDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/artifacts/")
	if id == "" {
		s.handleArtifacts(w, r)
		return
	}
	art, ok := s.getArtifact(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	f, err := os.Open(art.Path)
	if err != nil {
		http.Error(w, fmt.Sprintf("open artifact: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	http.ServeContent(w, r, art.Name, time.Time{}, f)
}
