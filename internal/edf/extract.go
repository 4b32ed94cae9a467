package edf

import (
	"encoding/binary"
	"fmt"
)

// Extract splits a record-major data chunk into one sample sequence per
// channel. The chunk must hold exactly NRecords full data records.
func Extract(data []byte, h *Header) ([][]int16, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil header", ErrGeometry)
	}
	if len(data)%sampleBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a whole number of samples", ErrGeometry, len(data))
	}
	if h.NRecordsRaw != "" || h.NRecords < 0 {
		return nil, fmt.Errorf("%w: record count %q is unknown", ErrGeometry, nRecordsText(h))
	}
	perRecord := h.SamplesPerRecord()
	total := len(data) / sampleBytes
	if total != h.NRecords*perRecord {
		return nil, fmt.Errorf("%w: %d samples, header expects %d records of %d samples",
			ErrGeometry, total, h.NRecords, perRecord)
	}

	out := make([][]int16, len(h.Channels))
	for c, ch := range h.Channels {
		out[c] = make([]int16, 0, h.NRecords*ch.SamplesPerRecord)
	}
	pos := 0
	for r := 0; r < h.NRecords; r++ {
		for c, ch := range h.Channels {
			for s := 0; s < ch.SamplesPerRecord; s++ {
				out[c] = append(out[c], int16(binary.LittleEndian.Uint16(data[pos:])))
				pos += sampleBytes
			}
		}
	}
	return out, nil
}

// ExtractFile reads the data chunk of path at h.HdrBytes and calls Extract.
func ExtractFile(path string, h *Header) ([][]int16, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil header", ErrGeometry)
	}
	data, err := ReadData(path, h.HdrBytes)
	if err != nil {
		return nil, err
	}
	return Extract(data, h)
}
