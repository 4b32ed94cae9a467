package edf

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"example.com/edfgate/internal/diag"
)

// Encode serializes h in the standard layout. The byte count field always
// carries HdrBytesReal.
func Encode(h *Header) ([]byte, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil header", ErrFormat)
	}
	if h.NChanRaw != "" {
		return nil, fmt.Errorf("%w: channel count %q is not an integer", ErrFormat, h.NChanRaw)
	}
	if h.NChan != len(h.Channels) {
		return nil, fmt.Errorf("%w: nchan is %d but %d channels are defined", ErrFormat, h.NChan, len(h.Channels))
	}

	var buf bytes.Buffer
	buf.Grow(h.CanonicalSize())
	put := func(s string, width int) {
		buf.Write(fixedWidth(s, width))
	}

	put("0", versionWidth)
	put(h.PatientID, patientIDWidth)
	put(h.RecID, recIDWidth)
	put(h.StartDate, startDateWidth)
	put(h.StartTime, startTimeWidth)
	put(strconv.Itoa(h.HdrBytesReal), hdrBytesWidth)
	put(h.Reserved44, reserved44Width)
	if h.NRecordsRaw != "" {
		put(h.NRecordsRaw, nRecordsWidth)
	} else {
		put(strconv.Itoa(h.NRecords), nRecordsWidth)
	}
	if h.RecordSecondsRaw != "" {
		put(h.RecordSecondsRaw, recordSecondsWidth)
	} else {
		put(formatNumber(h.RecordSeconds, recordSecondsWidth), recordSecondsWidth)
	}
	put(strconv.Itoa(h.NChan), nChanWidth)

	for _, c := range h.Channels {
		put(c.Label, labelWidth)
	}
	for _, c := range h.Channels {
		put(c.Transducer, transducerWidth)
	}
	for _, c := range h.Channels {
		put(c.Unit, unitWidth)
	}
	for _, c := range h.Channels {
		put(formatNumber(c.PhysicalMin, physicalWidth), physicalWidth)
	}
	for _, c := range h.Channels {
		put(formatNumber(c.PhysicalMax, physicalWidth), physicalWidth)
	}
	for _, c := range h.Channels {
		put(strconv.Itoa(c.DigitalMin), digitalWidth)
	}
	for _, c := range h.Channels {
		put(strconv.Itoa(c.DigitalMax), digitalWidth)
	}
	for _, c := range h.Channels {
		put(c.Prefiltering, prefilteringWidth)
	}
	for _, c := range h.Channels {
		put(strconv.Itoa(c.SamplesPerRecord), samplesWidth)
	}
	for _, c := range h.Channels {
		put(c.Reserved, reserved32Width)
	}
	return buf.Bytes(), nil
}

// WriteFile truncates or creates path, writes the encoded header followed by
// data and checks the record count implied by len(data) against NRecords.
func WriteFile(path string, h *Header, data []byte, sink diag.Sink) error {
	hdr, err := Encode(h)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		diag.Emit(sink, diag.ERROR, diag.KindInfo, "", "", "%s could not be written", path)
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if _, err := f.Write(hdr); err != nil {
		f.Close()
		return fmt.Errorf("%w: write header: %v", ErrIO, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: write data: %v", ErrIO, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	diag.Emit(sink, diag.INFO, diag.KindInfo, "", "", "%s is written", path)
	checkRecordCount(h, len(data), sink)
	return nil
}

func checkRecordCount(h *Header, dataLen int, sink diag.Sink) {
	per := h.SamplesPerRecord()
	if per == 0 {
		diag.Emit(sink, diag.WARN, diag.KindConsistency, "n_records", "",
			"no samples per data record, the number of records cannot be checked")
		return
	}
	fromSize := dataLen / sampleBytes / per
	if h.NRecordsRaw != "" || fromSize != h.NRecords {
		diag.Emit(sink, diag.WARN, diag.KindConsistency, "n_records", "",
			"Number of records from the header (%s) does not match the data size (%d)", nRecordsText(h), fromSize)
	}
}

func nRecordsText(h *Header) string {
	if h.NRecordsRaw != "" {
		return h.NRecordsRaw
	}
	return strconv.Itoa(h.NRecords)
}

// ReadData returns the data chunk of the recording at path, starting at
// hdrBytes.
func ReadData(path string, hdrBytes int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(hdrBytes), io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: seek %d: %v", ErrIO, hdrBytes, err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	return data, nil
}
