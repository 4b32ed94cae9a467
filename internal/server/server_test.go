package server

import (
	"bufio"
	"bytes"
	"encoding/json"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/edfgate/internal/common"
	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/manifest"
	"example.com/edfgate/internal/rules"
	"example.com/edfgate/internal/samples"
)

type testServer struct {
	srv     *Server
	handler http.Handler
	audit   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	dir := t.TempDir()
	audit := filepath.Join(dir, "edits.jsonl")
	srv, err := NewServer(Options{StorageDir: filepath.Join(dir, "storage"), AuditLog: audit, Concurrency: 2})
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { srv.Close() })
	return &testServer{srv: srv, handler: NewRouter(srv), audit: audit}
}

func (ts *testServer) upload(t *testing.T, name string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	fw.Write(data)
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) uploadRecording(t *testing.T, name string, r samples.Recording) string {
	t.Helper()
	rec := ts.upload(t, name, r.Build())
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status %d: %s", rec.Code, rec.Body.String())
	}
	var resp uploadResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode upload: %v", err)
	}
	if len(resp.Files) != 1 || resp.Files[0].Name != name || resp.Files[0].Kind != "upload" {
		t.Fatalf("unexpected upload response: %+v", resp)
	}
	return resp.Files[0].ID
}

func (ts *testServer) post(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) download(t *testing.T, id string) []byte {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("download %s: status %d", id, rec.Code)
	}
	return rec.Body.Bytes()
}

func TestFieldsListsEditableFields(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/fields", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got []string
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got) != len(edf.Fields()) || got[0] != "patient_id" {
		t.Fatalf("unexpected fields: %v", got)
	}
}

func TestUploadRejectsNonRecording(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.upload(t, "notes.txt", []byte("hello"))
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status %d, want %d", rec.Code, http.StatusUnsupportedMediaType)
	}
}

func TestInspectAndValidate(t *testing.T) {
	ts := newTestServer(t)
	id := ts.uploadRecording(t, "night.edf", samples.Standard(2, 1))

	rec := ts.post(t, "/inspect", inspectRequest{Input: id})
	if rec.Code != http.StatusOK {
		t.Fatalf("inspect status %d: %s", rec.Code, rec.Body.String())
	}
	var insp inspectResponse
	if err := json.NewDecoder(rec.Body).Decode(&insp); err != nil {
		t.Fatalf("Decode inspect: %v", err)
	}
	if insp.File != "night.edf" || insp.Header.NChan != 2 || insp.Header.StartDate != "02.03.02" {
		t.Fatalf("unexpected inspect response: %+v", insp)
	}

	rec = ts.post(t, "/validate", validateRequest{Inputs: []string{id}})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status %d: %s", rec.Code, rec.Body.String())
	}
	var val validateResponse
	if err := json.NewDecoder(rec.Body).Decode(&val); err != nil {
		t.Fatalf("Decode validate: %v", err)
	}
	if !val.RulePack.Builtin || len(val.Results) != 1 {
		t.Fatalf("unexpected validate response: %+v", val)
	}
	res := val.Results[0]
	if res.Error != "" || res.Acceptance == nil || !res.Acceptance.Summary.Pass {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Artifacts) != 2 {
		t.Fatalf("artifacts = %d, want 2", len(res.Artifacts))
	}
	var acc rules.AcceptanceReport
	if err := json.Unmarshal(ts.download(t, res.Artifacts[1].ID), &acc); err != nil {
		t.Fatalf("Unmarshal acceptance: %v", err)
	}
	if !acc.Summary.Pass {
		t.Fatalf("downloaded acceptance does not pass: %+v", acc.Summary)
	}
}

func TestValidateCustomRulePack(t *testing.T) {
	ts := newTestServer(t)
	id := ts.uploadRecording(t, "night.edf", samples.LegacyRecording(1, 1))
	rp := rules.RulePack{
		RulePackId: "strict",
		Version:    "1",
		Rules: []rules.Rule{{
			RuleId:   "LAYOUT",
			Severity: rules.ERROR,
			Check:    "CheckLegacyLayout",
			Message:  "legacy layout",
		}},
	}
	rec := ts.post(t, "/validate", validateRequest{Inputs: []string{id}, RulePack: &rp})
	if rec.Code != http.StatusOK {
		t.Fatalf("validate status %d: %s", rec.Code, rec.Body.String())
	}
	var val validateResponse
	if err := json.NewDecoder(rec.Body).Decode(&val); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if val.RulePack.RulePackId != "strict" || val.RulePack.Builtin {
		t.Fatalf("unexpected rule source: %+v", val.RulePack)
	}
	if len(val.Results[0].Acceptance.GateMatrix) != 1 {
		t.Fatalf("gate matrix = %+v", val.Results[0].Acceptance.GateMatrix)
	}
}

func TestValidateStream(t *testing.T) {
	ts := newTestServer(t)
	a := ts.uploadRecording(t, "a.edf", samples.Standard(2, 1))
	b := ts.uploadRecording(t, "b.rec", samples.LegacyRecording(2, 1))
	rec := ts.post(t, "/validate?stream=true", validateRequest{Inputs: []string{a, b}})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("content type %q", ct)
	}
	var summaries []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var line struct {
			Type string `json:"type"`
			File string `json:"file"`
		}
		if err := json.Unmarshal(sc.Bytes(), &line); err != nil {
			t.Fatalf("Unmarshal %q: %v", sc.Text(), err)
		}
		if line.Type == "error" {
			t.Fatalf("stream error: %s", sc.Text())
		}
		if line.Type == "summary" {
			summaries = append(summaries, line.File)
		}
	}
	if got := strings.Join(summaries, ","); got != "a.edf,b.rec" {
		t.Fatalf("summaries = %s", got)
	}
}

func TestModifyWritesArtifactAndAudit(t *testing.T) {
	ts := newTestServer(t)
	r := samples.Standard(2, 2)
	id := ts.uploadRecording(t, "night.edf", r)

	rec := ts.post(t, "/modify", modifyRequest{
		Input: id,
		Edits: []fieldEdit{
			{Field: "patient_id", Value: "MCH-1 F X Jane_Doe"},
			{Field: "startdate", Value: "03.04.05"},
			{Field: "ch_labels", Value: "EEG Fp1;EEG Fp2"},
		},
		Separator: ";",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("modify status %d: %s", rec.Code, rec.Body.String())
	}
	var resp modifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Output == nil || resp.Output.Name != "night_edited.edf" {
		t.Fatalf("unexpected output: %+v", resp.Output)
	}
	for _, e := range resp.Edits {
		if !e.Applied {
			t.Fatalf("edit not applied: %+v", e)
		}
	}

	out := filepath.Join(t.TempDir(), "edited.edf")
	if err := os.WriteFile(out, ts.download(t, resp.Output.ID), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h, err := edf.DecodeFile(out, nil)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	if h.StartDate != "03.04.05" || strings.TrimSpace(h.Channels[1].Label) != "EEG Fp2" {
		t.Fatalf("unexpected header: date=%q label=%q", h.StartDate, h.Channels[1].Label)
	}
	signals, err := edf.ExtractFile(out, h)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	if signals[1][len(signals[1])-1] != samples.Sample(1, 1, r.Channels[1].Samples-1) {
		t.Fatalf("samples changed")
	}

	entries, err := common.ReadAuditLog(ts.audit)
	if err != nil {
		t.Fatalf("ReadAuditLog: %v", err)
	}
	if len(entries) != 3 || len(resp.Audit) != 3 {
		t.Fatalf("audit entries = %d/%d, want 3", len(entries), len(resp.Audit))
	}
	if entries[1].Field != "startdate" || entries[1].Before != "02.03.02" || entries[1].After != "03.04.05" {
		t.Fatalf("audit entry = %+v", entries[1])
	}
}

func TestModifyRejectedWritesNothing(t *testing.T) {
	ts := newTestServer(t)
	id := ts.uploadRecording(t, "night.edf", samples.Standard(1, 1))
	rec := ts.post(t, "/modify", modifyRequest{
		Input: id,
		Edits: []fieldEdit{
			{Field: "starttime", Value: "reset"},
			{Field: "startdate", Value: "31.1x.02"},
		},
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}
	var resp modifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if resp.Output != nil || len(resp.Edits) != 2 || resp.Edits[1].Applied || resp.Edits[1].Error == "" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n := len(ts.srv.listArtifacts()); n != 1 {
		t.Fatalf("artifacts = %d, want only the upload", n)
	}
	if _, err := os.Stat(ts.audit); err == nil {
		t.Fatalf("rejected edit was audited")
	}
}

func TestExtractPhysical(t *testing.T) {
	ts := newTestServer(t)
	r := samples.Standard(2, 2)
	id := ts.uploadRecording(t, "night.edf", r)

	rec := ts.post(t, "/extract", extractRequest{Input: id, Channel: "EEG C2"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var raw []channelSamples
	if err := json.NewDecoder(rec.Body).Decode(&raw); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(raw) != 1 || len(raw[0].Values) != 2*r.Channels[1].Samples {
		t.Fatalf("unexpected extract: %+v", raw)
	}
	if raw[0].Values[1] != float64(samples.Sample(1, 0, 1)) {
		t.Fatalf("value = %v", raw[0].Values[1])
	}

	rec = ts.post(t, "/extract", extractRequest{Input: id, Channel: "EEG C2", Physical: true})
	var phys []channelSamples
	if err := json.NewDecoder(rec.Body).Decode(&phys); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	d := float64(samples.Sample(1, 0, 1))
	want := -500 + (d+32768)*1000/65535
	if phys[0].Unit != "uV" || math.Abs(phys[0].Values[1]-want) > 1e-6 {
		t.Fatalf("physical value = %v %s, want %v", phys[0].Values[1], phys[0].Unit, want)
	}

	rec = ts.post(t, "/extract", extractRequest{Input: id, Channel: "missing"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}

func TestConcatReportAndManifest(t *testing.T) {
	ts := newTestServer(t)
	late := samples.Standard(2, 2)
	late.StartTime = "23.00.00"
	early := samples.Standard(2, 1)
	early.StartTime = "22.00.00"
	a := ts.uploadRecording(t, "late.edf", late)
	b := ts.uploadRecording(t, "early.edf", early)

	rec := ts.post(t, "/concat", concatRequest{Inputs: []string{a, b}})
	if rec.Code != http.StatusOK {
		t.Fatalf("concat status %d: %s", rec.Code, rec.Body.String())
	}
	var joined concatResponse
	if err := json.NewDecoder(rec.Body).Decode(&joined); err != nil {
		t.Fatalf("Decode concat: %v", err)
	}
	if joined.NRecords != 3 || joined.Start != "02.03.02 22.00.00" || joined.Output.Name != "late_concat.edf" {
		t.Fatalf("unexpected concat: %+v", joined)
	}

	rec = ts.post(t, "/report", reportRequest{Input: joined.Output.ID, Lang: "fr"})
	if rec.Code != http.StatusOK {
		t.Fatalf("report status %d: %s", rec.Code, rec.Body.String())
	}
	var rep struct {
		Artifacts []ArtifactRef `json:"artifacts"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&rep); err != nil {
		t.Fatalf("Decode report: %v", err)
	}
	if len(rep.Artifacts) != 2 || rep.Artifacts[1].ContentType != "application/pdf" {
		t.Fatalf("unexpected report artifacts: %+v", rep.Artifacts)
	}
	if pdf := ts.download(t, rep.Artifacts[1].ID); !bytes.HasPrefix(pdf, []byte("%PDF")) {
		t.Fatalf("report is not a PDF")
	}

	rec = ts.post(t, "/manifest", manifestRequest{Inputs: []string{joined.Output.ID, rep.Artifacts[0].ID}})
	if rec.Code != http.StatusOK {
		t.Fatalf("manifest status %d: %s", rec.Code, rec.Body.String())
	}
	var mresp manifestResponse
	if err := json.NewDecoder(rec.Body).Decode(&mresp); err != nil {
		t.Fatalf("Decode manifest: %v", err)
	}
	if len(mresp.Manifest.Items) != 2 {
		t.Fatalf("manifest items = %d", len(mresp.Manifest.Items))
	}
	if mm := manifest.Verify(mresp.Manifest); len(mm) != 0 {
		t.Fatalf("manifest mismatches: %+v", mm)
	}

	list := httptest.NewRecorder()
	ts.handler.ServeHTTP(list, httptest.NewRequest(http.MethodGet, "/artifacts", nil))
	var refs []ArtifactRef
	if err := json.NewDecoder(list.Body).Decode(&refs); err != nil {
		t.Fatalf("Decode artifacts: %v", err)
	}
	// two uploads, the joined file, two reports and the manifest
	if len(refs) != 6 {
		t.Fatalf("artifacts = %d, want 6", len(refs))
	}
}

func TestArtifactDownloadUnknown(t *testing.T) {
	ts := newTestServer(t)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/artifacts/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
	rec = ts.post(t, "/inspect", inspectRequest{Input: "nope"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rec.Code)
	}
}
