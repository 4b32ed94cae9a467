package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/edfgate/internal/edf"
	"example.com/edfgate/internal/rules"
)

// PDFOptions controls SaveHeaderPDF.
type PDFOptions struct {
	Title  string
	Lang   Language
	QRSize int
}

type pdfWriter struct {
	pdf *gofpdf.Fpdf
	tr  Translator
	// enc converts UTF-8 to the code page of the core fonts.
	enc func(string) string
}

// SaveHeaderPDF renders rep into a PDF document at out.
func SaveHeaderPDF(rep HeaderReport, out string, opts PDFOptions) error {
	if rep.Header == nil {
		return fmt.Errorf("report: no header to render")
	}
	w := &pdfWriter{pdf: gofpdf.New("P", "mm", "A4", ""), tr: NewTranslator(opts.Lang)}
	w.enc = w.pdf.UnicodeTranslatorFromDescriptor("")
	title := opts.Title
	if title == "" {
		title = w.tr.T("report.title")
	}

	pdf := w.pdf
	pdf.SetTitle(title, true)
	pdf.SetAuthor("edfctl", false)
	pdf.SetCreator("edfctl", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	w.title(title)
	if err := w.fileSection(rep, opts.QRSize); err != nil {
		return err
	}
	w.headerSection(rep.Header)
	w.channelSection(rep.Header)
	if rep.Acceptance != nil {
		w.summarySection(*rep.Acceptance)
		w.gateMatrixSection(rep.Acceptance.GateMatrix)
		w.findingsSection(rep.Acceptance.Findings)
	}

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func (w *pdfWriter) title(title string) {
	w.pdf.SetFont("Helvetica", "B", 18)
	w.pdf.Cell(0, 10, w.enc(title))
	w.pdf.Ln(12)
}

func (w *pdfWriter) section(key string) {
	w.pdf.SetFont("Helvetica", "B", 12)
	w.pdf.Cell(0, 8, w.enc(w.tr.T(key)))
	w.pdf.Ln(9)
}

func (w *pdfWriter) pairs(items [][2]string) {
	w.pdf.SetFont("Helvetica", "", 10)
	for _, item := range items {
		w.pdf.CellFormat(60, 6, w.enc(w.tr.T(item[0])), "", 0, "L", false, 0, "")
		w.pdf.MultiCell(0, 6, w.enc(emptyFallback(item[1], "-")), "", "L", false)
	}
	w.pdf.Ln(3)
}

func (w *pdfWriter) fileSection(rep HeaderReport, qrSize int) error {
	w.section("section.file")
	generated := rep.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	items := [][2]string{
		{"file.name", filepath.Base(rep.File)},
		{"file.sha256", rep.SHA256},
		{"file.generated", generated.Format(time.RFC3339)},
	}
	if rep.RulePack != nil {
		items = append(items, [2]string{"file.rulepack", rep.RulePack.RulePackId + "@" + rep.RulePack.Version})
	}
	w.pairs(items)
	if rep.SHA256 == "" {
		return nil
	}
	png, err := HashToQR(rep.SHA256, qrSize)
	if err != nil {
		return fmt.Errorf("report: qr: %w", err)
	}
	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	w.pdf.RegisterImageOptionsReader("sha256-qr", opt, bytes.NewReader(png))
	w.pdf.ImageOptions("sha256-qr", w.pdf.GetX(), 0, 30, 30, true, opt, 0, "")
	w.pdf.SetFont("Helvetica", "", 8)
	w.pdf.Cell(0, 4, w.enc(w.tr.T("qr.caption")))
	w.pdf.Ln(8)
	return nil
}

func (w *pdfWriter) headerSection(h *edf.Header) {
	w.section("section.header")
	text := func(s string) string { return strings.TrimRight(s, " ") }
	w.pairs([][2]string{
		{"header.patient_id", text(h.PatientID)},
		{"header.rec_id", text(h.RecID)},
		{"header.startdate", h.StartDate},
		{"header.starttime", h.StartTime},
		{"header.hdr_nbytes", strconv.Itoa(h.HdrBytes)},
		{"header.comment_44rsv", text(h.Reserved44)},
		{"header.n_records", edf.Current(h, edf.FieldNRecords).String()},
		{"header.record_length_sec", strconv.FormatFloat(h.RecordSeconds, 'g', -1, 64)},
		{"header.nchan", strconv.Itoa(h.NChan)},
		{"header.layout", h.Layout.String()},
	})
}

func (w *pdfWriter) channelSection(h *edf.Header) {
	w.section("section.channels")
	keys := []string{"channel.index", "channel.label", "channel.transducer", "channel.unit",
		"channel.physical", "channel.digital", "channel.prefiltering", "channel.samples"}
	widths := []float64{8, 26, 30, 14, 28, 28, 30, 16}
	w.tableHeader(keys, widths)
	for i, c := range h.Channels {
		w.tableRow(widths, []string{
			strconv.Itoa(i + 1),
			strings.TrimSpace(c.Label),
			strings.TrimSpace(c.Transducer),
			strings.TrimSpace(c.Unit),
			strconv.FormatFloat(c.PhysicalMin, 'g', -1, 64) + " .. " + strconv.FormatFloat(c.PhysicalMax, 'g', -1, 64),
			strconv.Itoa(c.DigitalMin) + " .. " + strconv.Itoa(c.DigitalMax),
			strings.TrimSpace(c.Prefiltering),
			strconv.Itoa(c.SamplesPerRecord),
		})
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) summarySection(rep rules.AcceptanceReport) {
	w.section("section.summary")
	w.pairs([][2]string{
		{"summary.total", strconv.Itoa(rep.Summary.Total)},
		{"summary.errors", strconv.Itoa(rep.Summary.Errors)},
		{"summary.warnings", strconv.Itoa(rep.Summary.Warnings)},
		{"summary.overall", w.passLabel(rep.Summary.Pass)},
	})
}

func (w *pdfWriter) gateMatrixSection(rows []map[string]any) {
	w.section("section.gate")
	keys := []string{"gate.rule", "gate.name", "gate.severity", "gate.status", "gate.findings"}
	widths := []float64{30, 70, 24, 36, 20}
	w.tableHeader(keys, widths)
	for _, row := range rows {
		w.tableRow(widths, []string{
			fmt.Sprint(row["ruleId"]),
			fmt.Sprint(row["name"]),
			fmt.Sprint(row["severity"]),
			w.statusLabel(fmt.Sprint(row["status"])),
			fmt.Sprint(row["findings"]),
		})
	}
	w.pdf.Ln(4)
}

func (w *pdfWriter) findingsSection(findings []rules.Diagnostic) {
	w.section("section.findings")
	if len(findings) == 0 {
		w.pdf.SetFont("Helvetica", "", 10)
		w.pdf.MultiCell(0, 6, w.enc(w.tr.T("findings.none")), "", "L", false)
		return
	}
	for i, d := range findings {
		w.pdf.SetFont("Helvetica", "B", 10)
		w.pdf.MultiCell(0, 5, w.enc(fmt.Sprintf("%d. %s (%s)", i+1, d.RuleId, severityLabel(d.Severity))), "", "L", false)
		w.pdf.SetFont("Helvetica", "", 10)
		if msg := strings.TrimSpace(d.Message); msg != "" {
			w.pdf.MultiCell(0, 5, w.enc(msg), "", "L", false)
		}
		w.pdf.SetFont("Helvetica", "", 9)
		if d.Channel != "" {
			w.pdf.MultiCell(0, 4, w.enc(w.tr.Format("findings.channel", d.Channel)), "", "L", false)
		}
		if len(d.Refs) > 0 {
			w.pdf.MultiCell(0, 4, w.enc(w.tr.Format("findings.refs", strings.Join(d.Refs, ", "))), "", "L", false)
		}
		w.pdf.Ln(2)
	}
}

func (w *pdfWriter) tableHeader(keys []string, widths []float64) {
	w.pdf.SetFillColor(240, 240, 240)
	w.pdf.SetFont("Helvetica", "B", 9)
	for i, k := range keys {
		w.pdf.CellFormat(widths[i], 7, w.enc(w.tr.T(k)), "1", 0, "L", true, 0, "")
	}
	w.pdf.Ln(-1)
	w.pdf.SetFont("Helvetica", "", 8)
}

func (w *pdfWriter) tableRow(widths []float64, values []string) {
	const lineHeight = 4.5
	pdf := w.pdf
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := w.enc(emptyFallback(strings.TrimSpace(val), "-"))
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		pdf.MultiCell(widths[i], lineHeight, strings.Join(lines, "\n"), "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func (w *pdfWriter) passLabel(pass bool) string {
	if pass {
		return w.tr.T("status.pass")
	}
	return w.tr.T("status.fail")
}

func (w *pdfWriter) statusLabel(status string) string {
	switch status {
	case "PASS":
		return w.tr.T("status.pass")
	case "FAIL":
		return w.tr.T("status.fail")
	case "WARN":
		return w.tr.T("status.warn")
	}
	return status
}

func severityLabel(sev rules.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}
