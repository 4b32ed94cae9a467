package rules

import (
	"fmt"
	"strings"

	"example.com/edfgate/internal/diag"
	"example.com/edfgate/internal/edf"
)

func (e *Engine) RegisterBuiltins() {
	e.Register("CheckPatientID", CheckPatientID)
	e.Register("CheckRecID", CheckRecID)
	e.Register("CheckStartDate", CheckStartDate)
	e.Register("CheckStartTime", CheckStartTime)
	e.Register("CheckReservedEDF", CheckReservedEDF)
	e.Register("CheckAnnotationsPresent", CheckAnnotationsPresent)
	e.Register("CheckAnnotationsBlank", CheckAnnotationsBlank)
	e.Register("CheckPhysicalBounds", CheckPhysicalBounds)
	e.Register("CheckDigitalBounds", CheckDigitalBounds)
	e.Register("CheckRecordCount", CheckRecordCount)
	e.Register("CheckHeaderSize", CheckHeaderSize)
	e.Register("CheckLegacyLayout", CheckLegacyLayout)
	e.Register("CheckDecodeFallbacks", CheckDecodeFallbacks)
}

func finding(ctx *Context, rule Rule, field edf.Field, format string, args ...any) Diagnostic {
	d := newDiagnostic(ctx, rule, rule.Severity, fmt.Sprintf(format, args...))
	d.Field = field.String()
	return d
}

func textProblem(ctx *Context, rule Rule, field edf.Field, value string, problem func(string) string) []Diagnostic {
	if msg := problem(strings.TrimRight(value, " ")); msg != "" {
		return []Diagnostic{finding(ctx, rule, field, "%s: %s", rule.Message, msg)}
	}
	return nil
}

func CheckPatientID(ctx *Context, rule Rule) ([]Diagnostic, error) {
	return textProblem(ctx, rule, edf.FieldPatientID, ctx.Header.PatientID, edf.PatientIDProblem), nil
}

func CheckRecID(ctx *Context, rule Rule) ([]Diagnostic, error) {
	return textProblem(ctx, rule, edf.FieldRecID, ctx.Header.RecID, edf.RecIDProblem), nil
}

func CheckStartDate(ctx *Context, rule Rule) ([]Diagnostic, error) {
	return textProblem(ctx, rule, edf.FieldStartDate, ctx.Header.StartDate, edf.DateTimeProblem), nil
}

func CheckStartTime(ctx *Context, rule Rule) ([]Diagnostic, error) {
	return textProblem(ctx, rule, edf.FieldStartTime, ctx.Header.StartTime, edf.DateTimeProblem), nil
}

// CheckReservedEDF expects the reserved field to carry the EDF+ marker. The
// marker can be overridden with the "marker" parameter.
func CheckReservedEDF(ctx *Context, rule Rule) ([]Diagnostic, error) {
	marker := "EDF"
	if s, ok := rule.Params["marker"].(string); ok && s != "" {
		marker = s
	}
	if strings.Contains(ctx.Header.Reserved44, marker) {
		return nil, nil
	}
	return []Diagnostic{finding(ctx, rule, edf.FieldReserved44, "%s: %q does not contain %q",
		rule.Message, strings.TrimRight(ctx.Header.Reserved44, " "), marker)}, nil
}

func CheckAnnotationsPresent(ctx *Context, rule Rule) ([]Diagnostic, error) {
	if ctx.Header.AnnotationsIndex() >= 0 {
		return nil, nil
	}
	return []Diagnostic{finding(ctx, rule, edf.FieldLabels, "%s: no %q channel", rule.Message, edf.AnnotationsLabel)}, nil
}

// outcomeFindings turns the rejections of re-validating the stored value of
// field into findings.
func outcomeFindings(ctx *Context, rule Rule, field edf.Field) ([]Diagnostic, error) {
	out := edf.Validate(ctx.Header, field, edf.Set(edf.Current(ctx.Header, field)))
	if out.Err != nil {
		return nil, out.Err
	}
	var found []Diagnostic
	for _, r := range out.Rejections {
		d := finding(ctx, rule, field, "%s: %s", rule.Message, r.Reason)
		d.Channel = r.Label
		found = append(found, d)
	}
	return found, nil
}

func CheckAnnotationsBlank(ctx *Context, rule Rule) ([]Diagnostic, error) {
	if ctx.Header.AnnotationsIndex() < 0 {
		return nil, nil
	}
	var found []Diagnostic
	for _, f := range []edf.Field{edf.FieldTransducer, edf.FieldUnits, edf.FieldPrefiltering} {
		d, err := outcomeFindings(ctx, rule, f)
		if err != nil {
			return found, err
		}
		found = append(found, d...)
	}
	return found, nil
}

func CheckPhysicalBounds(ctx *Context, rule Rule) ([]Diagnostic, error) {
	return outcomeFindings(ctx, rule, edf.FieldPhysicalMin)
}

// CheckDigitalBounds reports equal bounds and, per channel, a digital
// minimum that is not below the maximum.
func CheckDigitalBounds(ctx *Context, rule Rule) ([]Diagnostic, error) {
	found, err := outcomeFindings(ctx, rule, edf.FieldDigitalMin)
	if err != nil {
		return found, err
	}
	for _, ch := range ctx.Header.Channels {
		if ch.DigitalMin > ch.DigitalMax {
			d := finding(ctx, rule, edf.FieldDigitalMin, "%s: digital_min %d is above digital_max %d",
				rule.Message, ch.DigitalMin, ch.DigitalMax)
			d.Channel = strings.TrimSpace(ch.Label)
			found = append(found, d)
		}
	}
	return found, nil
}

func CheckRecordCount(ctx *Context, rule Rule) ([]Diagnostic, error) {
	h := ctx.Header
	switch {
	case h.NRecordsRaw != "":
		return []Diagnostic{finding(ctx, rule, edf.FieldNRecords, "%s: %q is not a number, the data holds %d records",
			rule.Message, strings.TrimSpace(h.NRecordsRaw), h.NRecordsReal)}, nil
	case h.NRecords != h.NRecordsReal:
		return []Diagnostic{finding(ctx, rule, edf.FieldNRecords, "%s: header says %d, the data holds %d records",
			rule.Message, h.NRecords, h.NRecordsReal)}, nil
	}
	return nil, nil
}

func CheckHeaderSize(ctx *Context, rule Rule) ([]Diagnostic, error) {
	h := ctx.Header
	if h.HdrBytes == h.CanonicalSize() && h.HdrBytesRaw == "" {
		return nil, nil
	}
	return []Diagnostic{finding(ctx, rule, edf.FieldHdrBytes, "%s: header occupies %d bytes, %d expected for %d channels",
		rule.Message, h.HdrBytes, h.CanonicalSize(), len(h.Channels))}, nil
}

func CheckLegacyLayout(ctx *Context, rule Rule) ([]Diagnostic, error) {
	if ctx.Header.Layout != edf.LayoutLegacyPackedRecID {
		return nil, nil
	}
	return []Diagnostic{finding(ctx, rule, edf.FieldRecID, "%s", rule.Message)}, nil
}

// CheckDecodeFallbacks reports every value the decoder had to keep as raw
// text or replace.
func CheckDecodeFallbacks(ctx *Context, rule Rule) ([]Diagnostic, error) {
	var found []Diagnostic
	for _, e := range ctx.Decode {
		if e.Kind != diag.KindParseFallback {
			continue
		}
		d := newDiagnostic(ctx, rule, rule.Severity, rule.Message+": "+e.Message)
		d.Field = e.Field
		d.Channel = e.Channel
		found = append(found, d)
	}
	return found, nil
}
