package edf

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field names a mutable (or explicitly immutable) header field.
type Field int

const (
	FieldPatientID Field = iota
	FieldRecID
	FieldStartDate
	FieldStartTime
	FieldHdrBytes
	FieldNRecords
	FieldReserved44
	FieldRecordSeconds
	FieldNChan
	FieldSamplesPerRecord
	FieldLabels
	FieldTransducer
	FieldUnits
	FieldPrefiltering
	FieldPhysicalMin
	FieldPhysicalMax
	FieldDigitalMin
	FieldDigitalMax
)

var fieldNames = map[Field]string{
	FieldPatientID:        "patient_id",
	FieldRecID:            "rec_id",
	FieldStartDate:        "startdate",
	FieldStartTime:        "starttime",
	FieldHdrBytes:         "hdr_nbytes",
	FieldNRecords:         "n_records",
	FieldReserved44:       "comment_44rsv",
	FieldRecordSeconds:    "record_length_sec",
	FieldNChan:            "nchan",
	FieldSamplesPerRecord: "n_samps_record",
	FieldLabels:           "ch_labels",
	FieldTransducer:       "transducer",
	FieldUnits:            "units",
	FieldPrefiltering:     "prefiltering",
	FieldPhysicalMin:      "physical_min",
	FieldPhysicalMax:      "physical_max",
	FieldDigitalMin:       "digital_min",
	FieldDigitalMax:       "digital_max",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "field(" + itoa(int(f)) + ")"
}

// Fields lists every recognized field in header order.
func Fields() []Field {
	out := make([]Field, 0, len(fieldNames))
	for f := FieldPatientID; f <= FieldDigitalMax; f++ {
		out = append(out, f)
	}
	return out
}

// ParseField maps a field name to its Field. Unknown names fail with
// ErrValidation.
func ParseField(name string) (Field, error) {
	name = strings.TrimSpace(name)
	for f, n := range fieldNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown field %q", ErrValidation, name)
}

// perChannel reports whether the field holds one value per channel.
func (f Field) perChannel() bool {
	switch f {
	case FieldLabels, FieldTransducer, FieldUnits, FieldPrefiltering,
		FieldPhysicalMin, FieldPhysicalMax, FieldDigitalMin, FieldDigitalMax, FieldSamplesPerRecord:
		return true
	}
	return false
}

// Value is the payload of a Set edit.
type Value interface {
	isValue()
	String() string
}

type Text string

type Texts []string

type Floats []float64

type Numbers []Number

type Int int

func (Text) isValue()    {}
func (Texts) isValue()   {}
func (Floats) isValue()  {}
func (Numbers) isValue() {}
func (Int) isValue()     {}

func (v Text) String() string  { return string(v) }
func (v Texts) String() string { return strings.Join(v, ",") }
func (v Int) String() string   { return strconv.Itoa(int(v)) }

func (v Floats) String() string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strings.Join(parts, ",")
}

func (v Numbers) String() string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = n.String()
	}
	return strings.Join(parts, ",")
}

// Number is a digital bound given either as an integer or a float.
type Number struct {
	value   float64
	isFloat bool
}

func IntNumber(i int) Number { return Number{value: float64(i)} }

func FloatNumber(f float64) Number { return Number{value: f, isFloat: true} }

func (n Number) IsFloat() bool { return n.isFloat }

func (n Number) Float() float64 { return n.value }

func (n Number) String() string {
	if n.isFloat {
		return strconv.FormatFloat(n.value, 'g', -1, 64)
	}
	return strconv.FormatInt(int64(n.value), 10)
}

// Edit is either a reset to the field default or an explicit new value.
type Edit struct {
	reset bool
	value Value
}

// Reset restores the field default. Fields without a default reject it,
// except the self-healing byte and record counts.
func Reset() Edit { return Edit{reset: true} }

// Set requests an explicit value.
func Set(v Value) Edit { return Edit{value: v} }

func (e Edit) IsReset() bool { return e.reset }

func (e Edit) Value() Value { return e.value }

func (e Edit) String() string {
	if e.reset {
		return "reset"
	}
	if e.value == nil {
		return "<nil>"
	}
	return e.value.String()
}

// hasResetSentinel reports whether "-1" and "reset" mean Reset for field.
// Numeric bounds, labels and the reserved field take "-1" as a value.
func hasResetSentinel(field Field) bool {
	switch field {
	case FieldPatientID, FieldRecID, FieldStartDate, FieldStartTime,
		FieldTransducer, FieldUnits, FieldPrefiltering,
		FieldHdrBytes, FieldNRecords:
		return true
	}
	return false
}

// ParseEdit turns command line text into an Edit for field. "-1" and
// "reset" request a reset on the fields that have a default; per-channel
// fields split raw on sep.
func ParseEdit(field Field, raw, sep string) (Edit, error) {
	trimmed := strings.TrimSpace(raw)
	if hasResetSentinel(field) && (trimmed == "-1" || strings.EqualFold(trimmed, "reset")) {
		return Reset(), nil
	}
	if sep == "" {
		sep = ","
	}
	switch field {
	case FieldPatientID, FieldRecID, FieldStartDate, FieldStartTime, FieldReserved44:
		return Set(Text(raw)), nil
	case FieldRecordSeconds, FieldNChan, FieldSamplesPerRecord:
		// refused by the validator whatever the value is
		return Set(Text(raw)), nil
	case FieldHdrBytes, FieldNRecords:
		v, err := strconv.Atoi(trimmed)
		if err != nil {
			return Edit{}, fmt.Errorf("%w: %s expects an integer, got %q", ErrType, field, raw)
		}
		return Set(Int(v)), nil
	case FieldLabels, FieldTransducer, FieldUnits, FieldPrefiltering:
		return Set(Texts(strings.Split(raw, sep))), nil
	case FieldPhysicalMin, FieldPhysicalMax:
		parts := strings.Split(raw, sep)
		vals := make(Floats, len(parts))
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return Edit{}, fmt.Errorf("%w: %s entry %d is not numeric: %q", ErrType, field, i, p)
			}
			vals[i] = v
		}
		return Set(vals), nil
	case FieldDigitalMin, FieldDigitalMax:
		parts := strings.Split(raw, sep)
		vals := make(Numbers, len(parts))
		for i, p := range parts {
			p = strings.TrimSpace(p)
			if v, err := strconv.Atoi(p); err == nil {
				vals[i] = IntNumber(v)
				continue
			}
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return Edit{}, fmt.Errorf("%w: %s entry %d is not numeric: %q", ErrType, field, i, p)
			}
			vals[i] = FloatNumber(v)
		}
		return Set(vals), nil
	}
	return Edit{}, fmt.Errorf("%w: unknown field %v", ErrValidation, field)
}

// roundDigital rounds half to even, the way digital bounds stored as floats
// are normalized on decode.
func roundDigital(v float64) int {
	return int(math.RoundToEven(v))
}
