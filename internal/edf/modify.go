package edf

import (
	"example.com/edfgate/internal/diag"
)

// Modify validates edit and, when accepted, stores it in h. Every finding is
// recorded on sink; the return value is the only other signal. Modify is not
// safe for concurrent use on the same Header.
func Modify(h *Header, field Field, edit Edit, sink diag.Sink) bool {
	diag.Emit(sink, diag.INFO, diag.KindInfo, field.String(), "", "You want to modify %v field to: '%v'", field, edit)
	out := Validate(h, field, edit)
	for _, w := range out.Warnings {
		diag.Emit(sink, diag.WARN, diag.KindValidation, field.String(), w.Label, "%s", w.Reason)
	}
	for _, r := range out.Rejections {
		diag.Emit(sink, diag.ERROR, diag.KindValidation, field.String(), r.Label, "%s", r.Reason)
	}
	if !out.Accepted() {
		diag.Emit(sink, diag.ERROR, diag.KindValidation, field.String(), "", "%v is not modified", field)
		return false
	}
	for _, n := range out.Notes {
		diag.Emit(sink, diag.INFO, diag.KindInfo, field.String(), "", "%s", n)
	}
	apply(h, field, out.Value)
	diag.Emit(sink, diag.INFO, diag.KindInfo, field.String(), "", "%v is modified to %v", field, out.Value)
	return true
}

// ModifyByName resolves name with ParseField and calls Modify. Only an
// unknown name returns an error.
func ModifyByName(h *Header, name string, edit Edit, sink diag.Sink) (bool, error) {
	field, err := ParseField(name)
	if err != nil {
		diag.Emit(sink, diag.ERROR, diag.KindValidation, name, "", "%s is not a header field", name)
		return false, err
	}
	return Modify(h, field, edit, sink), nil
}

// Current returns the value stored in h for field, in the shape Set expects.
func Current(h *Header, field Field) Value {
	switch field {
	case FieldPatientID:
		return Text(h.PatientID)
	case FieldRecID:
		return Text(h.RecID)
	case FieldStartDate:
		return Text(h.StartDate)
	case FieldStartTime:
		return Text(h.StartTime)
	case FieldHdrBytes:
		return Int(h.HdrBytes)
	case FieldNRecords:
		return Int(h.NRecords)
	case FieldReserved44:
		return Text(h.Reserved44)
	case FieldRecordSeconds:
		return Floats{h.RecordSeconds}
	case FieldNChan:
		return Int(h.NChan)
	}
	n := len(h.Channels)
	switch field {
	case FieldSamplesPerRecord:
		out := make(Numbers, n)
		for i, c := range h.Channels {
			out[i] = IntNumber(c.SamplesPerRecord)
		}
		return out
	case FieldLabels, FieldTransducer, FieldUnits, FieldPrefiltering:
		out := make(Texts, n)
		for i, c := range h.Channels {
			switch field {
			case FieldLabels:
				out[i] = c.Label
			case FieldTransducer:
				out[i] = c.Transducer
			case FieldUnits:
				out[i] = c.Unit
			default:
				out[i] = c.Prefiltering
			}
		}
		return out
	case FieldPhysicalMin, FieldPhysicalMax:
		out := make(Floats, n)
		for i, c := range h.Channels {
			out[i] = c.PhysicalMin
			if field == FieldPhysicalMax {
				out[i] = c.PhysicalMax
			}
		}
		return out
	case FieldDigitalMin, FieldDigitalMax:
		out := make(Numbers, n)
		for i, c := range h.Channels {
			out[i] = IntNumber(c.DigitalMin)
			if field == FieldDigitalMax {
				out[i] = IntNumber(c.DigitalMax)
			}
		}
		return out
	}
	return nil
}

func apply(h *Header, field Field, v Value) {
	switch field {
	case FieldPatientID:
		h.PatientID = string(v.(Text))
	case FieldRecID:
		h.RecID = string(v.(Text))
	case FieldStartDate:
		h.StartDate = string(v.(Text))
	case FieldStartTime:
		h.StartTime = string(v.(Text))
	case FieldReserved44:
		h.Reserved44 = string(v.(Text))
	case FieldHdrBytes:
		h.HdrBytes = int(v.(Int))
		h.HdrBytesRaw = ""
	case FieldNRecords:
		h.NRecords = int(v.(Int))
		h.NRecordsRaw = ""
	case FieldLabels, FieldTransducer, FieldUnits, FieldPrefiltering:
		for i, s := range v.(Texts) {
			c := &h.Channels[i]
			switch field {
			case FieldLabels:
				c.Label = s
			case FieldTransducer:
				c.Transducer = s
			case FieldUnits:
				c.Unit = s
			default:
				c.Prefiltering = s
			}
		}
	case FieldPhysicalMin, FieldPhysicalMax:
		for i, f := range v.(Floats) {
			if field == FieldPhysicalMin {
				h.Channels[i].PhysicalMin = f
			} else {
				h.Channels[i].PhysicalMax = f
			}
		}
	case FieldDigitalMin, FieldDigitalMax:
		for i, n := range v.(Numbers) {
			if field == FieldDigitalMin {
				h.Channels[i].DigitalMin = int(n.Float())
			} else {
				h.Channels[i].DigitalMax = int(n.Float())
			}
		}
	}
}
