package edf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	patientIDExample = "ex: MCH-0234567 F 02-MAY-1951 Haagse_Harry, ex: X X X X"
	recIDExample     = "ex: Startdate 02-MAR-2002 PSG-1234/2002 NN Telemetry03, ex: Startdate X X X X"
	reservedExample  = "ex: EDF+C, ex: EDF+D"
)

// Rejection explains why a value (or one channel of it) was refused.
type Rejection struct {
	Channel int    `json:"channel"` // -1 when the value is not per channel
	Label   string `json:"label,omitempty"`
	Reason  string `json:"reason"`
}

// Outcome is the result of validating one edit. Value is the normalized value
// that Modify stores when the outcome is accepted.
type Outcome struct {
	Field      Field
	Value      Value
	Rejections []Rejection
	Warnings   []Rejection
	Notes      []string
	// Err is ErrType or ErrValidation when the value as a whole is refused.
	Err error
}

// Accepted reports whether the edit may be applied.
func (o Outcome) Accepted() bool {
	return o.Err == nil && len(o.Rejections) == 0
}

func (o *Outcome) reject(ch int, label, format string, args ...interface{}) {
	o.Rejections = append(o.Rejections, Rejection{Channel: ch, Label: label, Reason: fmt.Sprintf(format, args...)})
}

func (o *Outcome) warn(ch int, label, format string, args ...interface{}) {
	o.Warnings = append(o.Warnings, Rejection{Channel: ch, Label: label, Reason: fmt.Sprintf(format, args...)})
}

func (o *Outcome) fail(err error, format string, args ...interface{}) Outcome {
	o.Err = err
	o.reject(-1, "", format, args...)
	return *o
}

type validator func(h *Header, f Field, e Edit) Outcome

var validators map[Field]validator

func init() {
	validators = map[Field]validator{
		FieldPatientID:        validatePatientID,
		FieldRecID:            validateRecID,
		FieldStartDate:        validateDateTime,
		FieldStartTime:        validateDateTime,
		FieldHdrBytes:         validateSelfHealing,
		FieldNRecords:         validateSelfHealing,
		FieldReserved44:       validateReserved,
		FieldRecordSeconds:    validateImmutable,
		FieldNChan:            validateImmutable,
		FieldSamplesPerRecord: validateImmutable,
		FieldLabels:           validateTexts,
		FieldTransducer:       validateTexts,
		FieldUnits:            validateTexts,
		FieldPrefiltering:     validateTexts,
		FieldPhysicalMin:      validatePhysical,
		FieldPhysicalMax:      validatePhysical,
		FieldDigitalMin:       validateDigital,
		FieldDigitalMax:       validateDigital,
	}
}

// Validate checks edit against the grammar of field without touching h.
func Validate(h *Header, field Field, edit Edit) Outcome {
	v, ok := validators[field]
	if !ok {
		out := Outcome{Field: field}
		return out.fail(ErrValidation, "unknown field %v", field)
	}
	if h == nil {
		out := Outcome{Field: field}
		return out.fail(ErrValidation, "no header to edit")
	}
	return v(h, field, edit)
}

func textValue(o *Outcome, e Edit) (string, bool) {
	t, ok := e.value.(Text)
	if !ok {
		o.fail(ErrType, "%v expects text, got %T", o.Field, e.value)
		return "", false
	}
	return string(t), true
}

var months = map[string]bool{
	"JAN": true, "FEB": true, "MAR": true, "APR": true, "MAY": true, "JUN": true,
	"JUL": true, "AUG": true, "SEP": true, "OCT": true, "NOV": true, "DEC": true,
}

// IsEDFPlusDate reports whether s is dd-MMM-yyyy with an uppercase English
// month abbreviation, or the anonymous "X".
func IsEDFPlusDate(s string) bool {
	if s == "X" {
		return true
	}
	parts := strings.Split(s, "-")
	if len(parts) != 3 {
		return false
	}
	return len(parts[0]) == 2 && isASCIIDigits(parts[0]) &&
		months[parts[1]] &&
		len(parts[2]) == 4 && isASCIIDigits(parts[2])
}

// PatientIDProblem returns why s is not an EDF+ local patient identification,
// or "" when it is.
func PatientIDProblem(s string) string {
	if textWidth(s) > patientIDWidth {
		return fmt.Sprintf("%d characters, the max is %d", textWidth(s), patientIDWidth)
	}
	tokens := strings.Split(strings.TrimRight(s, " "), " ")
	if strings.Count(s, " ") < 3 || len(tokens) < 3 {
		return "expected at least 4 space separated subfields (code sex birthdate name)"
	}
	switch tokens[1] {
	case "F", "M", "X":
	default:
		return fmt.Sprintf("sex %q must be F, M or X", tokens[1])
	}
	if !IsEDFPlusDate(tokens[2]) {
		return fmt.Sprintf("birthdate %q must be dd-MMM-yyyy or X", tokens[2])
	}
	return ""
}

// RecIDProblem returns why s is not an EDF+ local recording identification,
// or "" when it is.
func RecIDProblem(s string) string {
	if textWidth(s) > recIDWidth {
		return fmt.Sprintf("%d characters, the max is %d", textWidth(s), recIDWidth)
	}
	tokens := strings.Split(s, " ")
	if strings.Count(s, " ") < 4 || len(tokens) < 2 {
		return "expected at least 5 space separated subfields (Startdate date code technician equipment)"
	}
	if tokens[0] != "Startdate" {
		return fmt.Sprintf("first subfield %q must be Startdate", tokens[0])
	}
	if !IsEDFPlusDate(tokens[1]) {
		return fmt.Sprintf("startdate %q must be dd-MMM-yyyy or X", tokens[1])
	}
	return ""
}

// DateTimeProblem returns why s is not a dd.mm.yy or hh.mm.ss stamp, or "".
func DateTimeProblem(s string) string {
	if textWidth(s) > startDateWidth {
		return fmt.Sprintf("%d characters, the max is %d", textWidth(s), startDateWidth)
	}
	if strings.Count(s, ".") != 2 {
		return "expected two '.' separators"
	}
	for _, part := range strings.Split(s, ".") {
		if !isASCIIDigits(part) {
			return fmt.Sprintf("subfield %q must contain digits only", part)
		}
	}
	return ""
}

func validatePatientID(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		out.Value = Text(DefaultPatientID)
		return out
	}
	s, ok := textValue(&out, e)
	if !ok {
		return out
	}
	if p := PatientIDProblem(s); p != "" {
		out.reject(-1, "", "%q does not respect EDF+: %s (%s)", s, p, patientIDExample)
		return out
	}
	out.Value = Text(s)
	return out
}

func validateRecID(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		out.Value = Text(DefaultRecID)
		return out
	}
	s, ok := textValue(&out, e)
	if !ok {
		return out
	}
	if p := RecIDProblem(s); p != "" {
		out.reject(-1, "", "%q does not respect EDF+: %s (%s)", s, p, recIDExample)
		return out
	}
	out.Value = Text(s)
	return out
}

func validateDateTime(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		if f == FieldStartDate {
			out.Value = Text(DefaultStartDate)
		} else {
			out.Value = Text(DefaultStartTime)
			out.warn(-1, "", "%v should not be modified to a default value", f)
		}
		return out
	}
	s, ok := textValue(&out, e)
	if !ok {
		return out
	}
	if p := DateTimeProblem(s); p != "" {
		format := "dd.mm.yy"
		if f == FieldStartTime {
			format = "hh.mm.ss"
		}
		out.reject(-1, "", "%q does not respect EDF+ (%s): %s", s, format, p)
		return out
	}
	out.Value = Text(s)
	return out
}

func validateSelfHealing(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if f == FieldHdrBytes {
		out.Value = Int(h.HdrBytesReal)
	} else {
		out.Value = Int(h.NRecordsReal)
	}
	out.Notes = append(out.Notes, fmt.Sprintf("%v is derived from the file and set to %v", f, out.Value))
	return out
}

func validateReserved(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		return out.fail(ErrValidation, "%v has no default value", f)
	}
	s, ok := textValue(&out, e)
	if !ok {
		return out
	}
	if !strings.Contains(s, "EDF") {
		out.warn(-1, "", "%q does not respect EDF+, it has to start with EDF+C (continuous) or EDF+D (discontinuous), %s", s, reservedExample)
	}
	if textWidth(s) > reserved44Width {
		s = string([]rune(s)[:reserved44Width])
		out.warn(-1, "", "%v is truncated to %d characters", f, reserved44Width)
	}
	out.Value = Text(s)
	return out
}

func validateImmutable(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	return out.fail(ErrValidation, "%v cannot be changed, the data records would have to be re-encoded", f)
}

func textWidthFor(f Field) int {
	switch f {
	case FieldLabels:
		return labelWidth
	case FieldTransducer:
		return transducerWidth
	case FieldUnits:
		return unitWidth
	default:
		return prefilteringWidth
	}
}

func validateTexts(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	nchan := len(h.Channels)
	if e.reset {
		if f == FieldLabels {
			return out.fail(ErrValidation, "%v has no default value", f)
		}
		out.Value = make(Texts, nchan)
		return out
	}
	vals, ok := e.value.(Texts)
	if !ok {
		return out.fail(ErrType, "%v expects one text per channel, got %T", f, e.value)
	}
	if len(vals) != nchan {
		return out.fail(ErrValidation, "%d %v provided and the file has %d channels", len(vals), f, nchan)
	}
	width := textWidthFor(f)
	annot := h.AnnotationsIndex()
	if annot < 0 {
		out.warn(-1, "", "no %q channel, then no EDF+ compatible", AnnotationsLabel)
	}
	for i, v := range vals {
		if n := textWidth(v); n > width {
			out.reject(i, channelName(h, i), "the %v value=%q is %d long and the max is %d", f, v, n, width)
		}
		if f != FieldLabels && i == annot && !isBlank(v) {
			out.reject(i, channelName(h, i), "%v is not filled with spaces for the %q channel, then not EDF+ compatible", f, AnnotationsLabel)
		}
	}
	out.Value = append(Texts(nil), vals...)
	return out
}

func validatePhysical(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		return out.fail(ErrValidation, "%v has no default value", f)
	}
	var vals []float64
	switch v := e.value.(type) {
	case Floats:
		vals = v
	case Numbers:
		vals = make([]float64, len(v))
		for i, n := range v {
			vals[i] = n.Float()
		}
	default:
		return out.fail(ErrType, "%v expects a numeric array, got %T", f, e.value)
	}
	if len(vals) != len(h.Channels) {
		return out.fail(ErrValidation, "%d %v provided and the file has %d channels", len(vals), f, len(h.Channels))
	}
	for i, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.reject(i, channelName(h, i), "the %v value=%v is not a finite number", f, v)
			continue
		}
		opposite := h.Channels[i].PhysicalMax
		if f == FieldPhysicalMax {
			opposite = h.Channels[i].PhysicalMin
		}
		if v == opposite {
			out.reject(i, channelName(h, i), "the physical min and max are the same (%s)", formatNumber(v, physicalWidth))
		}
		if s := formatNumber(v, physicalWidth); len(s) > physicalWidth {
			out.reject(i, channelName(h, i), "the %v value=%s is %d long and the max is %d", f, s, len(s), physicalWidth)
		}
	}
	out.Value = append(Floats(nil), vals...)
	return out
}

func validateDigital(h *Header, f Field, e Edit) Outcome {
	out := Outcome{Field: f}
	if e.reset {
		return out.fail(ErrValidation, "%v has no default value", f)
	}
	var nums []Number
	switch v := e.value.(type) {
	case Numbers:
		nums = v
	case Floats:
		nums = make([]Number, len(v))
		for i, x := range v {
			nums[i] = FloatNumber(x)
		}
	default:
		return out.fail(ErrType, "%v expects integers or floats, got %T", f, e.value)
	}
	if len(nums) != len(h.Channels) {
		return out.fail(ErrValidation, "%d %v provided and the file has %d channels", len(nums), f, len(h.Channels))
	}
	ints := make(Numbers, len(nums))
	for i, n := range nums {
		v := n.Float()
		if math.IsNaN(v) || math.IsInf(v, 0) {
			out.reject(i, channelName(h, i), "the %v value=%v is not an integer or a float", f, v)
			continue
		}
		t := math.Trunc(v)
		if n.IsFloat() && t != v {
			out.warn(i, channelName(h, i), "the %v value=%v will be converted to %d", f, v, int64(t))
		}
		ints[i] = IntNumber(int(t))
		opposite := h.Channels[i].DigitalMax
		if f == FieldDigitalMax {
			opposite = h.Channels[i].DigitalMin
		}
		if int(t) == opposite {
			out.reject(i, channelName(h, i), "the digital min and max are the same (%d)", int(t))
		}
		if s := strconv.FormatInt(int64(t), 10); len(s) > digitalWidth {
			out.reject(i, channelName(h, i), "the %v value=%s is %d long and the max is %d", f, s, len(s), digitalWidth)
		}
	}
	out.Value = ints
	return out
}
