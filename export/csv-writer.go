package export

import (
	"encoding/csv"
	"io"
	"os"
)

// utf8BOM lets spreadsheet software detect the encoding of Chinese headers.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes r as a UTF-8 CSV file with a byte order mark.
func WriteCSV(path string, r *Report) error {
	return writeFileAtomic(path, func(f *os.File) error {
		return EncodeCSV(f, r)
	})
}

// EncodeCSV writes r to w. Null cells are empty.
func EncodeCSV(w io.Writer, r *Report) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return err
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(r.Columns); err != nil {
		return err
	}
	record := make([]string, len(r.Columns))
	for _, row := range r.Rows {
		for i, v := range row {
			record[i] = v.String()
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
