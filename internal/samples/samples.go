// Package samples builds deterministic EDF recordings byte by byte. The
// builder does not use the codec so tests can compare the two.
package samples

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	// File names exposed for generator consumers.
	StandardFileName  = "sample.edf"
	LegacyFileName    = "legacy.rec"
	AnnotatedFileName = "annotated.edf"

	AnnotationsLabel = "EDF Annotations"
)

// Channel describes one signal. Numeric fields are text so tests can write
// values the codec must reject.
type Channel struct {
	Label        string
	Transducer   string
	Unit         string
	PhysicalMin  string
	PhysicalMax  string
	DigitalMin   string
	DigitalMax   string
	Prefiltering string
	Samples      int
	Reserved     string
}

// Recording describes a whole file.
type Recording struct {
	PatientID     string
	RecID         string
	StartDate     string
	StartTime     string
	HdrBytes      string // empty writes the real header size
	Reserved      string
	NRecords      string // empty writes Records
	Records       int
	RecordSeconds string
	NChan         string // empty writes len(Channels)
	Channels      []Channel

	// Legacy drops the rec_id field, as some recorders do.
	Legacy bool
	// Data overrides the generated samples when not nil.
	Data []int16
}

// EEG returns a channel with common EEG settings.
func EEG(label string, samples int) Channel {
	return Channel{
		Label:        label,
		Transducer:   "AgAgCl electrode",
		Unit:         "uV",
		PhysicalMin:  "-500",
		PhysicalMax:  "500",
		DigitalMin:   "-32768",
		DigitalMax:   "32767",
		Prefiltering: "HP:0.1Hz LP:75Hz",
		Samples:      samples,
	}
}

// Annotations returns an EDF+ annotation channel.
func Annotations(samples int) Channel {
	return Channel{
		Label:       AnnotationsLabel,
		PhysicalMin: "-1",
		PhysicalMax: "1",
		DigitalMin:  "-32768",
		DigitalMax:  "32767",
		Samples:     samples,
	}
}

// Standard returns a compliant recording with nchan EEG channels.
func Standard(nchan, records int) Recording {
	chans := make([]Channel, nchan)
	for i := range chans {
		chans[i] = EEG("EEG C"+strconv.Itoa(i+1), 4+i)
	}
	return Recording{
		PatientID:     "MCH-0234567 F 02-AUG-1951 Haagse_Harry",
		RecID:         "Startdate 02-MAR-2002 PSG-1234/2002 NN Telemetry03",
		StartDate:     "02.03.02",
		StartTime:     "21.46.16",
		Reserved:      "EDF+C",
		Records:       records,
		RecordSeconds: "1",
		Channels:      chans,
	}
}

// LegacyRecording returns a recording laid out the way recorders that omit
// the recording identification write it.
func LegacyRecording(nchan, records int) Recording {
	r := Standard(nchan, records)
	r.Legacy = true
	r.RecID = ""
	r.StartDate = "09.04.24"
	r.StartTime = "21.46.16"
	r.RecordSeconds = "30"
	return r
}

// HeaderSize is the number of header bytes Build writes for r.
func (r Recording) HeaderSize() int {
	n := 256 + 256*len(r.Channels)
	if r.Legacy {
		n -= 80
	}
	return n
}

// SamplesPerRecord sums the channel samples.
func (r Recording) SamplesPerRecord() int {
	total := 0
	for _, c := range r.Channels {
		total += c.Samples
	}
	return total
}

// Samples returns the data written after the header, record-major.
func (r Recording) Samples() []int16 {
	if r.Data != nil {
		return r.Data
	}
	out := make([]int16, 0, r.Records*r.SamplesPerRecord())
	for rec := 0; rec < r.Records; rec++ {
		for c, ch := range r.Channels {
			for s := 0; s < ch.Samples; s++ {
				out = append(out, Sample(c, rec, s))
			}
		}
	}
	return out
}

// Sample is the generated value of sample s of record rec on channel c.
func Sample(c, rec, s int) int16 {
	return int16(c*1000 + rec*10 + s)
}

func field(b *strings.Builder, s string, width int) {
	if len(s) > width {
		s = s[:width]
	}
	b.WriteString(s)
	b.WriteString(strings.Repeat(" ", width-len(s)))
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Header renders only the header bytes of r.
func (r Recording) Header() []byte {
	var b strings.Builder
	field(&b, "0", 8)
	field(&b, r.PatientID, 80)
	if !r.Legacy {
		field(&b, r.RecID, 80)
	}
	field(&b, r.StartDate, 8)
	field(&b, r.StartTime, 8)
	field(&b, orDefault(r.HdrBytes, strconv.Itoa(r.HeaderSize())), 8)
	field(&b, r.Reserved, 44)
	field(&b, orDefault(r.NRecords, strconv.Itoa(r.Records)), 8)
	field(&b, r.RecordSeconds, 8)
	field(&b, orDefault(r.NChan, strconv.Itoa(len(r.Channels))), 4)

	columns := []struct {
		width int
		get   func(Channel) string
	}{
		{16, func(c Channel) string { return c.Label }},
		{80, func(c Channel) string { return c.Transducer }},
		{8, func(c Channel) string { return c.Unit }},
		{8, func(c Channel) string { return c.PhysicalMin }},
		{8, func(c Channel) string { return c.PhysicalMax }},
		{8, func(c Channel) string { return c.DigitalMin }},
		{8, func(c Channel) string { return c.DigitalMax }},
		{80, func(c Channel) string { return c.Prefiltering }},
		{8, func(c Channel) string { return strconv.Itoa(c.Samples) }},
		{32, func(c Channel) string { return c.Reserved }},
	}
	for _, col := range columns {
		for _, c := range r.Channels {
			field(&b, col.get(c), col.width)
		}
	}
	return []byte(b.String())
}

// Build renders the header followed by the samples.
func (r Recording) Build() []byte {
	hdr := r.Header()
	samples := r.Samples()
	out := make([]byte, len(hdr), len(hdr)+2*len(samples))
	copy(out, hdr)
	return append(out, EncodeSamples(samples)...)
}

// EncodeSamples writes samples as 16 bit little-endian integers.
func EncodeSamples(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, v := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(v))
	}
	return out
}

// WriteFiles writes the standard, legacy and annotated samples into dir.
func WriteFiles(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	annotated := Standard(2, 3)
	annotated.Channels = append(annotated.Channels, Annotations(8))

	files := []struct {
		name string
		rec  Recording
	}{
		{StandardFileName, Standard(3, 4)},
		{LegacyFileName, LegacyRecording(2, 2)},
		{AnnotatedFileName, annotated},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		path := filepath.Join(dir, f.name)
		if err := os.WriteFile(path, f.rec.Build(), 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
