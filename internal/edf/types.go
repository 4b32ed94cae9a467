package edf

import "strings"

// Field widths of the fixed ASCII header, in bytes.
const (
	versionWidth       = 8
	patientIDWidth     = 80
	recIDWidth         = 80
	startDateWidth     = 8
	startTimeWidth     = 8
	hdrBytesWidth      = 8
	reserved44Width    = 44
	nRecordsWidth      = 8
	recordSecondsWidth = 8
	nChanWidth         = 4

	labelWidth        = 16
	transducerWidth   = 80
	unitWidth         = 8
	physicalWidth     = 8
	digitalWidth      = 8
	prefilteringWidth = 80
	samplesWidth      = 8
	reserved32Width   = 32

	// FixedHeaderSize is the size of the global part of the header.
	FixedHeaderSize = 256
	// ChannelHeaderSize is the size of the header contributed by each channel.
	ChannelHeaderSize = 256

	// legacyPartialSecondsWidth is the part of record_length_sec that a
	// packed rec_id slot still carries; the rest follows the slot.
	legacyPartialSecondsWidth = 4

	sampleBytes = 2
)

const (
	// AnnotationsLabel names the EDF+ annotation channel.
	AnnotationsLabel = "EDF Annotations"

	DefaultPatientID = "X X X X"
	DefaultRecID     = "Startdate X X X X"
	DefaultStartDate = "01.01.00"
	DefaultStartTime = "00.00.00"
)

// Layout identifies how the global header was laid out on disk.
type Layout int

const (
	// LayoutStandard is the documented EDF layout.
	LayoutStandard Layout = iota
	// LayoutLegacyPackedRecID is written by recorders that omit the
	// recording identification and pack the following fields into its slot.
	LayoutLegacyPackedRecID
)

func (l Layout) String() string {
	switch l {
	case LayoutStandard:
		return "standard"
	case LayoutLegacyPackedRecID:
		return "legacy-packed-rec-id"
	default:
		return "unknown"
	}
}

// Channel holds the per-signal header fields.
type Channel struct {
	Label            string  `json:"label"`
	Transducer       string  `json:"transducer"`
	Unit             string  `json:"unit"`
	PhysicalMin      float64 `json:"physicalMin"`
	PhysicalMax      float64 `json:"physicalMax"`
	DigitalMin       int     `json:"digitalMin"`
	DigitalMax       int     `json:"digitalMax"`
	Prefiltering     string  `json:"prefiltering"`
	SamplesPerRecord int     `json:"samplesPerRecord"`
	Reserved         string  `json:"reserved"`
}

// IsAnnotations reports whether the channel is the EDF+ annotation signal.
func (c Channel) IsAnnotations() bool {
	return strings.TrimRight(c.Label, " ") == AnnotationsLabel
}

// Physical maps a digital sample onto the channel's physical range. A flat
// digital range maps every sample to PhysicalMin.
func (c Channel) Physical(d int16) float64 {
	if c.DigitalMax == c.DigitalMin {
		return c.PhysicalMin
	}
	scale := (c.PhysicalMax - c.PhysicalMin) / float64(c.DigitalMax-c.DigitalMin)
	return c.PhysicalMin + float64(int(d)-c.DigitalMin)*scale
}

// Header is a decoded EDF/EDF+ header. Fields are edited through Modify.
//
// The *Raw fields keep the original text of numeric fields that did not
// parse; they are empty when the numeric value is authoritative.
type Header struct {
	PatientID string `json:"patientId"`
	RecID     string `json:"recId"`
	StartDate string `json:"startDate"`
	StartTime string `json:"startTime"`

	HdrBytes     int    `json:"hdrBytes"`
	HdrBytesRaw  string `json:"hdrBytesRaw,omitempty"`
	HdrBytesReal int    `json:"hdrBytesReal"`

	Reserved44 string `json:"reserved44"`

	NRecords     int    `json:"nRecords"`
	NRecordsRaw  string `json:"nRecordsRaw,omitempty"`
	NRecordsReal int    `json:"nRecordsReal"`

	RecordSeconds    float64 `json:"recordSeconds"`
	RecordSecondsRaw string  `json:"recordSecondsRaw,omitempty"`

	NChan    int    `json:"nChan"`
	NChanRaw string `json:"nChanRaw,omitempty"`

	Layout   Layout    `json:"layout"`
	Channels []Channel `json:"channels"`
}

// Labels returns the channel labels in channel order.
func (h *Header) Labels() []string {
	out := make([]string, len(h.Channels))
	for i, ch := range h.Channels {
		out[i] = ch.Label
	}
	return out
}

// AnnotationsIndex returns the index of the annotation channel or -1.
func (h *Header) AnnotationsIndex() int {
	for i, ch := range h.Channels {
		if ch.IsAnnotations() {
			return i
		}
	}
	return -1
}

// SamplesPerRecord returns the total number of samples in one data record.
func (h *Header) SamplesPerRecord() int {
	total := 0
	for _, ch := range h.Channels {
		total += ch.SamplesPerRecord
	}
	return total
}

// RecordBytes is the size of one data record.
func (h *Header) RecordBytes() int {
	return h.SamplesPerRecord() * sampleBytes
}

// CanonicalSize is the size the header occupies once encoded.
func (h *Header) CanonicalSize() int {
	return FixedHeaderSize + ChannelHeaderSize*len(h.Channels)
}

// Clone returns a deep copy.
func (h *Header) Clone() *Header {
	if h == nil {
		return nil
	}
	out := *h
	out.Channels = make([]Channel, len(h.Channels))
	copy(out.Channels, h.Channels)
	return &out
}

func channelName(h *Header, i int) string {
	if i < 0 || i >= len(h.Channels) {
		return ""
	}
	if label := strings.TrimSpace(h.Channels[i].Label); label != "" {
		return label
	}
	return "channel " + itoa(i)
}
