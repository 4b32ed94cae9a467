package edf

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"example.com/edfgate/internal/diag"
)

// ErrConcat reports recordings that cannot be joined.
var ErrConcat = fmt.Errorf("%w: recordings cannot be concatenated", ErrValidation)

// StartStamp parses StartDate and StartTime. Two digit years below 85 are in
// the 2000s, following the EDF+ clipping date.
func (h *Header) StartStamp() (time.Time, error) {
	var d, mo, y, hh, mm, ss int
	if _, err := fmt.Sscanf(h.StartDate, "%2d.%2d.%2d", &d, &mo, &y); err != nil {
		return time.Time{}, fmt.Errorf("%w: startdate %q: %v", ErrFormat, h.StartDate, err)
	}
	if _, err := fmt.Sscanf(h.StartTime, "%2d.%2d.%2d", &hh, &mm, &ss); err != nil {
		return time.Time{}, fmt.Errorf("%w: starttime %q: %v", ErrFormat, h.StartTime, err)
	}
	if y < 85 {
		y += 2000
	} else {
		y += 1900
	}
	return time.Date(y, time.Month(mo), d, hh, mm, ss, 0, time.UTC), nil
}

// compatible lists the first field that differs between a and b, or "".
func compatible(a, b *Header) string {
	switch {
	case a.PatientID != b.PatientID:
		return "patient_id"
	case a.CanonicalSize() != b.CanonicalSize():
		return "hdr_nbytes"
	case a.RecordSeconds != b.RecordSeconds || a.RecordSecondsRaw != b.RecordSecondsRaw:
		return "record_length_sec"
	case a.NChan != b.NChan || len(a.Channels) != len(b.Channels):
		return "nchan"
	}
	for i := range a.Channels {
		ca, cb := a.Channels[i], b.Channels[i]
		switch {
		case ca.Label != cb.Label:
			return "ch_labels"
		case ca.PhysicalMin != cb.PhysicalMin:
			return "physical_min"
		case ca.PhysicalMax != cb.PhysicalMax:
			return "physical_max"
		case ca.DigitalMin != cb.DigitalMin:
			return "digital_min"
		case ca.DigitalMax != cb.DigitalMax:
			return "digital_max"
		case ca.Prefiltering != cb.Prefiltering:
			return "prefiltering"
		case ca.SamplesPerRecord != cb.SamplesPerRecord:
			return "n_samps_record"
		}
	}
	return ""
}

type concatInput struct {
	path  string
	hdr   *Header
	start time.Time
}

// Concatenate joins recordings of the same montage into out, ordered by start
// date and time. Files are read one at a time.
func Concatenate(paths []string, out string, sink diag.Sink) (*Header, error) {
	if len(paths) < 2 {
		return nil, fmt.Errorf("%w: at least two files are needed", ErrConcat)
	}
	inputs := make([]concatInput, 0, len(paths))
	for _, p := range paths {
		h, err := DecodeFile(p, sink)
		if err != nil {
			return nil, err
		}
		start, err := h.StartStamp()
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, concatInput{path: p, hdr: h, start: start})
	}

	ok := true
	for _, in := range inputs[1:] {
		if field := compatible(inputs[0].hdr, in.hdr); field != "" {
			diag.Emit(sink, diag.ERROR, diag.KindValidation, field, "",
				"%s is not the same through the files to concatenate (%s)", field, in.path)
			ok = false
		}
	}
	if !ok {
		return nil, fmt.Errorf("%w: headers differ", ErrConcat)
	}

	sort.SliceStable(inputs, func(i, j int) bool { return inputs[i].start.Before(inputs[j].start) })
	for i := 1; i < len(inputs); i++ {
		if inputs[i].start.Equal(inputs[i-1].start) {
			diag.Emit(sink, diag.ERROR, diag.KindValidation, "starttime", "", "Startdate and starttime are the same")
			return nil, fmt.Errorf("%w: %s and %s start at the same time", ErrConcat, inputs[i-1].path, inputs[i].path)
		}
	}

	merged := inputs[0].hdr.Clone()
	merged.Layout = LayoutStandard
	merged.NRecords, merged.NRecordsRaw = 0, ""
	for _, in := range inputs {
		if in.hdr.NRecordsRaw != "" {
			return nil, fmt.Errorf("%w: %s has an unknown record count", ErrConcat, in.path)
		}
		merged.NRecords += in.hdr.NRecords
	}
	merged.NRecordsReal = merged.NRecords
	merged.HdrBytes = merged.CanonicalSize()
	merged.HdrBytesReal = merged.HdrBytes

	hdr, err := Encode(merged)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	written, err := writeConcat(f, hdr, inputs)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("%w: %v", ErrIO, cerr)
	}
	if err != nil {
		return nil, err
	}
	diag.Emit(sink, diag.INFO, diag.KindInfo, "", "", "%d files concatenated into %s", len(inputs), out)
	checkRecordCount(merged, int(written), sink)
	return merged, nil
}

func writeConcat(w io.Writer, hdr []byte, inputs []concatInput) (int64, error) {
	if _, err := w.Write(hdr); err != nil {
		return 0, fmt.Errorf("%w: write header: %v", ErrIO, err)
	}
	var total int64
	for _, in := range inputs {
		n, err := copyData(w, in.path, in.hdr.HdrBytes)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func copyData(w io.Writer, path string, offset int) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(offset), io.SeekStart); err != nil {
		return 0, fmt.Errorf("%w: seek %s: %v", ErrIO, path, err)
	}
	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("%w: copy %s: %v", ErrIO, path, err)
	}
	return n, nil
}
