package edf

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"example.com/edfgate/internal/samples"
)

func twoChannelHeader() *Header {
	return &Header{
		NChan:    2,
		NRecords: 1,
		Channels: []Channel{
			{Label: "A", SamplesPerRecord: 2},
			{Label: "B", SamplesPerRecord: 3},
		},
	}
}

func TestExtract(t *testing.T) {
	data := samples.EncodeSamples([]int16{1, 2, 10, 20, 30})
	got, err := Extract(data, twoChannelHeader())
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := [][]int16{{1, 2}, {10, 20, 30}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract = %v, want %v", got, want)
	}
}

func TestExtractMultipleRecords(t *testing.T) {
	h := twoChannelHeader()
	h.NRecords = 2
	data := samples.EncodeSamples([]int16{1, 2, 10, 20, 30, 3, 4, -40, -50, -60})
	got, err := Extract(data, h)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := [][]int16{{1, 2, 3, 4}, {10, 20, 30, -40, -50, -60}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Extract = %v, want %v", got, want)
	}
}

func TestExtractGeometryMismatch(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		edit func(h *Header)
	}{
		{name: "short", data: samples.EncodeSamples([]int16{1, 2, 10, 20})},
		{name: "long", data: samples.EncodeSamples([]int16{1, 2, 10, 20, 30, 40})},
		{name: "odd length", data: append(samples.EncodeSamples([]int16{1, 2, 10, 20, 30}), 0)},
		{name: "raw record count", data: samples.EncodeSamples([]int16{1, 2, 10, 20, 30}), edit: func(h *Header) {
			h.NRecordsRaw = "?"
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := twoChannelHeader()
			if tc.edit != nil {
				tc.edit(h)
			}
			got, err := Extract(tc.data, h)
			if !errors.Is(err, ErrGeometry) {
				t.Fatalf("expected ErrGeometry, got %v", err)
			}
			if got != nil {
				t.Fatalf("expected no partial result, got %v", got)
			}
		})
	}
}

func TestExtractFile(t *testing.T) {
	rec := samples.Standard(3, 4)
	path := filepath.Join(t.TempDir(), "night.edf")
	if err := os.WriteFile(path, rec.Build(), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	h, err := DecodeFile(path, nil)
	if err != nil {
		t.Fatalf("DecodeFile: %v", err)
	}
	chans, err := ExtractFile(path, h)
	if err != nil {
		t.Fatalf("ExtractFile: %v", err)
	}
	for c, ch := range rec.Channels {
		if len(chans[c]) != ch.Samples*rec.Records {
			t.Fatalf("channel %d has %d samples", c, len(chans[c]))
		}
		for r := 0; r < rec.Records; r++ {
			for s := 0; s < ch.Samples; s++ {
				if got, want := chans[c][r*ch.Samples+s], samples.Sample(c, r, s); got != want {
					t.Fatalf("channel %d record %d sample %d = %d, want %d", c, r, s, got, want)
				}
			}
		}
	}
}

func TestChannelPhysical(t *testing.T) {
	c := Channel{PhysicalMin: -500, PhysicalMax: 500, DigitalMin: -32768, DigitalMax: 32767}
	tests := []struct {
		d    int16
		want float64
	}{
		{-32768, -500},
		{32767, 500},
	}
	for _, tc := range tests {
		if got := c.Physical(tc.d); got != tc.want {
			t.Fatalf("Physical(%d) = %v, want %v", tc.d, got, tc.want)
		}
	}
	flat := Channel{PhysicalMin: 3, PhysicalMax: 3, DigitalMin: 7, DigitalMax: 7}
	if got := flat.Physical(7); got != 3 {
		t.Fatalf("flat Physical = %v", got)
	}
}
