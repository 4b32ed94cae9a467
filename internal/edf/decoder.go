package edf

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"example.com/edfgate/internal/diag"
)

// SupportedExtension reports whether path names an .edf or .rec file.
func SupportedExtension(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".edf", ".rec":
		return true
	default:
		return false
	}
}

// IsLegacyPackedRecID reports whether the 80 byte recording identification
// slot starts with "dd.mm.yyhh.mm.ss<digits>", the signature of recorders
// that drop the field and shift the rest of the header into its place.
func IsLegacyPackedRecID(slot []byte) bool {
	const minLen = 15
	if len(slot) < minLen {
		return false
	}
	digit := func(c byte) bool { return c >= '0' && c <= '9' }
	for i := 0; i < minLen; i++ {
		sep := i == 2 || i == 5 || i == 10 || i == 13
		if sep == digit(slot[i]) {
			return false
		}
	}
	return true
}

// DecodeFile decodes the header of the recording at path. Only .edf and .rec
// files are accepted. The file is closed before returning.
func DecodeFile(path string, sink diag.Sink) (*Header, error) {
	if !SupportedExtension(path) {
		diag.Emit(sink, diag.ERROR, diag.KindValidation, "", "", "%s must be .edf or .rec format", path)
		return nil, fmt.Errorf("%w: %s must be .edf or .rec", ErrFormat, path)
	}
	f, err := os.Open(path)
	if err != nil {
		diag.Emit(sink, diag.ERROR, diag.KindInfo, "", "", "%s could not open/read", path)
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIO, err)
	}
	diag.Emit(sink, diag.INFO, diag.KindInfo, "", "", "... opening %s", path)
	return Decode(f, info.Size(), sink)
}

// DecodeBytes decodes a header from an in-memory recording.
func DecodeBytes(b []byte, sink diag.Sink) (*Header, error) {
	return Decode(bytes.NewReader(b), int64(len(b)), sink)
}

// Decode reads a header from r. fileSize is the size of the whole recording
// and is used to derive the real number of data records.
func Decode(r io.Reader, fileSize int64, sink diag.Sink) (*Header, error) {
	d := &decoder{fr: fieldReader{r: r}, sink: sink, h: &Header{}}
	if err := d.run(fileSize); err != nil {
		return nil, err
	}
	return d.h, nil
}

type fieldReader struct {
	r   io.Reader
	pos int64
}

func (fr *fieldReader) bytes(n int, what string) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(fr.r, buf)
	fr.pos += int64(read)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("%w: read %s at offset %d: %v", ErrIO, what, fr.pos, err)
	}
	return buf, nil
}

func (fr *fieldReader) text(n int, what string) (string, error) {
	b, err := fr.bytes(n, what)
	if err != nil {
		return "", err
	}
	return decodeLatin1(b), nil
}

type decoder struct {
	fr   fieldReader
	sink diag.Sink
	h    *Header
}

func (d *decoder) run(fileSize int64) error {
	h := d.h
	if _, err := d.fr.bytes(versionWidth, "version"); err != nil {
		return err
	}
	var err error
	if h.PatientID, err = d.fr.text(patientIDWidth, "patient_id"); err != nil {
		return err
	}
	slot, err := d.fr.bytes(recIDWidth, "rec_id")
	if err != nil {
		return err
	}
	if IsLegacyPackedRecID(slot) {
		h.Layout = LayoutLegacyPackedRecID
		err = d.legacyFields(slot)
	} else {
		h.Layout = LayoutStandard
		h.RecID = decodeLatin1(slot)
		err = d.standardFields()
	}
	if err != nil {
		return err
	}

	nchan, err := d.fr.text(nChanWidth, "nchan")
	if err != nil {
		return err
	}
	if n, perr := parseInt(nchan); perr == nil && n >= 0 {
		h.NChan = n
	} else {
		h.NChanRaw = nchan
		diag.Emit(d.sink, diag.WARN, diag.KindParseFallback, "nchan", "", "nchan not an integer")
	}

	before := d.fr.pos
	if before != FixedHeaderSize {
		diag.Emit(d.sink, diag.WARN, diag.KindLayout, "", "",
			"The first part of the header is not the expected %d bytes, it is %d bytes", FixedHeaderSize, before)
	}
	if h.NChanRaw != "" {
		h.HdrBytes = int(d.fr.pos)
		h.HdrBytesReal = h.HdrBytes
		if h.Layout == LayoutLegacyPackedRecID {
			h.HdrBytesReal += recIDWidth
		}
		return nil
	}

	if err := d.channelFields(h.NChan); err != nil {
		return err
	}

	h.HdrBytes = int(d.fr.pos)
	h.HdrBytesRaw = ""
	h.HdrBytesReal = h.HdrBytes
	if h.Layout == LayoutLegacyPackedRecID {
		// The canonical header restores the recording identification slot.
		h.HdrBytesReal += recIDWidth
	}
	if got, want := d.fr.pos-before, int64(ChannelHeaderSize*h.NChan); got != want {
		diag.Emit(d.sink, diag.WARN, diag.KindLayout, "", "",
			"The second part of the header is not the expected %d bytes, it is %d bytes", want, got)
	}

	d.countRecords(fileSize)
	return nil
}

func (d *decoder) legacyFields(slot []byte) error {
	h := d.h
	text := decodeLatin1(slot)
	h.StartDate = text[0:8]
	h.StartTime = text[8:16]
	d.intField(text[16:24], "hdr_nbytes", &h.HdrBytes, &h.HdrBytesRaw)
	h.Reserved44 = text[24:68]
	d.intField(text[68:76], "n_records", &h.NRecords, &h.NRecordsRaw)

	rest, err := d.fr.text(recordSecondsWidth-legacyPartialSecondsWidth, "record_length_sec")
	if err != nil {
		return err
	}
	seconds := text[76:80] + rest
	if v, perr := parseFloat(seconds); perr == nil {
		h.RecordSeconds = v
	} else {
		h.RecordSecondsRaw = seconds
		diag.Emit(d.sink, diag.WARN, diag.KindParseFallback, "record_length_sec", "", "record_length_sec not a float")
	}
	h.RecID = padRight(DefaultRecID, recIDWidth)
	diag.Emit(d.sink, diag.WARN, diag.KindLayout, "rec_id", "",
		"local recording identification is missing, rec_id set to %q", DefaultRecID)
	return nil
}

func (d *decoder) standardFields() error {
	h := d.h
	var err error
	if h.StartDate, err = d.fr.text(startDateWidth, "startdate"); err != nil {
		return err
	}
	if h.StartTime, err = d.fr.text(startTimeWidth, "starttime"); err != nil {
		return err
	}
	hdr, err := d.fr.text(hdrBytesWidth, "hdr_nbytes")
	if err != nil {
		return err
	}
	d.intField(hdr, "hdr_nbytes", &h.HdrBytes, &h.HdrBytesRaw)
	if h.Reserved44, err = d.fr.text(reserved44Width, "comment_44rsv"); err != nil {
		return err
	}
	nrec, err := d.fr.text(nRecordsWidth, "n_records")
	if err != nil {
		return err
	}
	d.intField(nrec, "n_records", &h.NRecords, &h.NRecordsRaw)

	seconds, err := d.fr.text(recordSecondsWidth, "record_length_sec")
	if err != nil {
		return err
	}
	v, perr := parseFloat(seconds)
	if perr != nil {
		diag.Emit(d.sink, diag.ERROR, diag.KindValidation, "record_length_sec", "", "record_length_sec %q not a float", seconds)
		return fmt.Errorf("%w: record_length_sec %q: %v", ErrFormat, seconds, perr)
	}
	h.RecordSeconds = v
	return nil
}

func (d *decoder) intField(text, name string, dst *int, raw *string) {
	if v, err := parseInt(text); err == nil {
		*dst = v
		*raw = ""
		return
	}
	*raw = text
	diag.Emit(d.sink, diag.WARN, diag.KindParseFallback, name, "", "%s not an integer", name)
}

func (d *decoder) channelFields(n int) error {
	chans := make([]Channel, n)
	texts := func(width int, name string, set func(*Channel, string)) error {
		for i := range chans {
			s, err := d.fr.text(width, name)
			if err != nil {
				return err
			}
			set(&chans[i], s)
		}
		return nil
	}
	floats := func(width int, name string, set func(*Channel, float64)) error {
		for i := range chans {
			s, err := d.fr.text(width, name)
			if err != nil {
				return err
			}
			v, perr := parseFloat(s)
			if perr != nil {
				return fmt.Errorf("%w: %s of channel %d is %q", ErrFormat, name, i, s)
			}
			set(&chans[i], v)
		}
		return nil
	}

	steps := []func() error{
		func() error { return texts(labelWidth, "ch_labels", func(c *Channel, s string) { c.Label = s }) },
		func() error { return texts(transducerWidth, "transducer", func(c *Channel, s string) { c.Transducer = s }) },
		func() error { return texts(unitWidth, "units", func(c *Channel, s string) { c.Unit = s }) },
		func() error {
			return floats(physicalWidth, "physical_min", func(c *Channel, v float64) { c.PhysicalMin = v })
		},
		func() error {
			return floats(physicalWidth, "physical_max", func(c *Channel, v float64) { c.PhysicalMax = v })
		},
		func() error {
			return floats(digitalWidth, "digital_min", func(c *Channel, v float64) { c.DigitalMin = roundDigital(v) })
		},
		func() error {
			return floats(digitalWidth, "digital_max", func(c *Channel, v float64) { c.DigitalMax = roundDigital(v) })
		},
		func() error {
			return texts(prefilteringWidth, "prefiltering", func(c *Channel, s string) { c.Prefiltering = s })
		},
		func() error {
			for i := range chans {
				s, err := d.fr.text(samplesWidth, "n_samps_record")
				if err != nil {
					return err
				}
				v, perr := parseInt(s)
				if perr != nil || v < 0 {
					return fmt.Errorf("%w: n_samps_record of channel %d is %q", ErrFormat, i, s)
				}
				chans[i].SamplesPerRecord = v
			}
			return nil
		},
		func() error { return texts(reserved32Width, "comment_32rsv", func(c *Channel, s string) { c.Reserved = s }) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	d.h.Channels = chans
	return nil
}

func (d *decoder) countRecords(fileSize int64) {
	h := d.h
	perRecord := h.SamplesPerRecord()
	if perRecord <= 0 {
		h.NRecordsReal = 0
		diag.Emit(d.sink, diag.WARN, diag.KindConsistency, "n_records", "",
			"no samples per data record, the number of records cannot be derived from the file size")
	} else {
		dataBytes := fileSize - int64(h.HdrBytes)
		if dataBytes < 0 {
			dataBytes = 0
		}
		totalSamples := dataBytes / sampleBytes
		h.NRecordsReal = int(totalSamples / int64(perRecord))
	}

	if h.NRecordsRaw == "" && h.NRecords == -1 {
		h.NRecords = h.NRecordsReal
		diag.Emit(d.sink, diag.INFO, diag.KindInfo, "n_records", "",
			"n_records is unknown (-1), set to %d from the file size", h.NRecordsReal)
		return
	}
	if h.NRecordsRaw != "" {
		diag.Emit(d.sink, diag.WARN, diag.KindConsistency, "n_records", "",
			"Number of records from the header (%s) does not match the file size (%d)", strings.TrimSpace(h.NRecordsRaw), h.NRecordsReal)
		return
	}
	if h.NRecords != h.NRecordsReal {
		diag.Emit(d.sink, diag.WARN, diag.KindConsistency, "n_records", "",
			"Number of records from the header (%d) does not match the file size (%d)", h.NRecords, h.NRecordsReal)
	}
}
