package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// getFileExt returns the lowercase extension of a filename.
func getFileExt(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// workbook is the in-memory view of a spreadsheet file: sheet names in file
// order plus rows per sheet.
type workbook struct {
	sheetOrder []string
	sheets     map[string][][]string
}

// readXLSX loads an .xlsx file via excelize.
func readXLSX(data []byte) (*workbook, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	wb := &workbook{sheets: make(map[string][][]string)}
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return nil, fmt.Errorf("read sheet %q: %w", name, err)
		}
		wb.sheetOrder = append(wb.sheetOrder, name)
		wb.sheets[name] = rows
	}
	return wb, nil
}

// readXLS loads a legacy .xls file. Tolerated for preview only; commit
// requires the canonical xlsx format.
func readXLS(data []byte) (*workbook, error) {
	book, err := xls.OpenReader(bytes.NewReader(data), "utf-8")
	if err != nil {
		return nil, fmt.Errorf("open xls: %w", err)
	}
	wb := &workbook{sheets: make(map[string][][]string)}
	for i := 0; i < book.NumSheets(); i++ {
		sheet := book.GetSheet(i)
		if sheet == nil {
			continue
		}
		rows := make([][]string, 0, int(sheet.MaxRow)+1)
		for r := 0; r <= int(sheet.MaxRow); r++ {
			row := sheet.Row(r)
			if row == nil {
				rows = append(rows, nil)
				continue
			}
			cells := make([]string, 0, row.LastCol()+1)
			for c := 0; c <= row.LastCol(); c++ {
				cells = append(cells, row.Col(c))
			}
			rows = append(rows, cells)
		}
		wb.sheetOrder = append(wb.sheetOrder, sheet.Name)
		wb.sheets[sheet.Name] = rows
	}
	return wb, nil
}

// readCSV loads a .csv file as a single-sheet workbook named after the file.
func readCSV(filename string, data []byte) (*workbook, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	return &workbook{
		sheetOrder: []string{name},
		sheets:     map[string][][]string{name: records},
	}, nil
}

// openWorkbook dispatches on file extension. Unsupported extensions return an
// error the caller surfaces as a per-file diagnostic.
func openWorkbook(filename string, data []byte) (*workbook, error) {
	switch getFileExt(filename) {
	case ".xlsx":
		return readXLSX(data)
	case ".xls":
		return readXLS(data)
	case ".csv":
		return readCSV(filename, data)
	default:
		return nil, fmt.Errorf("unsupported file type %q", getFileExt(filename))
	}
}

// titleText returns row 1 of a sheet joined into one string; region detection
// runs against it before falling back to the filename.
func titleText(rows [][]string) string {
	if len(rows) == 0 {
		return ""
	}
	return rowSignature(rows[0])
}
