package frame

import (
	"compress/gzip"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"time"
)

// WriteCSV writes frame as CSV with a time column followed by frame columns
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	header := []string{"time"}
	for _, c := range f.Columns {
		header = append(header, c.String())
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	record := make([]string, len(f.Columns)+1)
	for i, t := range f.Index {
		record[0] = t.UTC().Format(time.RFC3339)
		for j := range f.Columns {
			v := f.values[j][i]
			if math.IsNaN(v) {
				record[j+1] = ""
			} else {
				record[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteCSVGzip writes gzip compressed CSV file
func (f *Frame) WriteCSVGzip(path string) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	gz := gzip.NewWriter(file)
	if err := f.WriteCSV(gz); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return err
	}
	return file.Close()
}
