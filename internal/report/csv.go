package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"example.com/edfgate/internal/edf"
)

const (
	HeaderCSVName       = "edfHdrRep.csv"
	ChannelCountCSVName = "chanCountRep.csv"
	ChannelReportDir    = "channels"
)

var scalarFields = []edf.Field{
	edf.FieldPatientID,
	edf.FieldRecID,
	edf.FieldStartDate,
	edf.FieldStartTime,
	edf.FieldHdrBytes,
	edf.FieldNRecords,
	edf.FieldReserved44,
	edf.FieldRecordSeconds,
	edf.FieldNChan,
}

var channelColumns = []edf.Field{
	edf.FieldLabels,
	edf.FieldTransducer,
	edf.FieldUnits,
	edf.FieldPrefiltering,
	edf.FieldPhysicalMin,
	edf.FieldPhysicalMax,
	edf.FieldDigitalMin,
	edf.FieldDigitalMax,
	edf.FieldSamplesPerRecord,
}

func writeCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteHeaderCSV writes one row per file with the fields that are not per
// channel.
func WriteHeaderCSV(path string, files []FileHeader) error {
	head := []string{"filename"}
	for _, f := range scalarFields {
		head = append(head, f.String())
	}
	rows := [][]string{head}
	for _, fh := range files {
		row := []string{fh.Name}
		for _, f := range scalarFields {
			row = append(row, strings.TrimRight(edf.Current(fh.Header, f).String(), " "))
		}
		rows = append(rows, row)
	}
	return writeCSV(path, rows)
}

// ChannelCounts returns how many files carry each trimmed label.
func ChannelCounts(files []FileHeader) map[string]int {
	counts := make(map[string]int)
	for _, fh := range files {
		for _, label := range fh.Header.Labels() {
			counts[strings.TrimSpace(label)]++
		}
	}
	return counts
}

func sortedLabels(counts map[string]int) []string {
	labels := make([]string, 0, len(counts))
	for l := range counts {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}

func WriteChannelCountCSV(path string, files []FileHeader) error {
	counts := ChannelCounts(files)
	rows := [][]string{{"channel", "count"}}
	for _, l := range sortedLabels(counts) {
		rows = append(rows, []string{l, strconv.Itoa(counts[l])})
	}
	return writeCSV(path, rows)
}

// WriteChannelReports writes, for every label found in files, a CSV with the
// channel fields of each file carrying it. It returns the written paths.
func WriteChannelReports(dir string, files []FileHeader) ([]string, error) {
	out := filepath.Join(dir, ChannelReportDir)
	if err := os.MkdirAll(out, 0o755); err != nil {
		return nil, fmt.Errorf("create channel report dir: %w", err)
	}
	head := []string{"filename"}
	for _, f := range channelColumns {
		head = append(head, f.String())
	}
	var written []string
	for _, label := range sortedLabels(ChannelCounts(files)) {
		rows := [][]string{head}
		for _, fh := range files {
			i := indexOfLabel(fh.Header, label)
			if i < 0 {
				continue
			}
			rows = append(rows, append([]string{fh.Name}, channelRow(fh.Header.Channels[i])...))
		}
		path := filepath.Join(out, safeFileName(label)+"_rep.csv")
		if err := writeCSV(path, rows); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func indexOfLabel(h *edf.Header, label string) int {
	for i, l := range h.Labels() {
		if strings.TrimSpace(l) == label {
			return i
		}
	}
	return -1
}

func channelRow(c edf.Channel) []string {
	return []string{
		strings.TrimRight(c.Label, " "),
		strings.TrimRight(c.Transducer, " "),
		strings.TrimRight(c.Unit, " "),
		strings.TrimRight(c.Prefiltering, " "),
		strconv.FormatFloat(c.PhysicalMin, 'g', -1, 64),
		strconv.FormatFloat(c.PhysicalMax, 'g', -1, 64),
		strconv.Itoa(c.DigitalMin),
		strconv.Itoa(c.DigitalMax),
		strconv.Itoa(c.SamplesPerRecord),
	}
}

func safeFileName(label string) string {
	if label == "" {
		return "unlabeled"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		}
		return '_'
	}, label)
}
