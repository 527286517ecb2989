// Package tabular reads uploaded CSV and Excel files into header + rows.
package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/xuri/excelize/v2"

	apperrors "github.com/fartrucking/far-warehousing/pkg/errors"
)

var (
	// ErrUnsupported is returned for extensions other than .csv and .xlsx
	ErrUnsupported = errors.New("unsupported file type")

	// ErrNoHeader is returned when a file has no header row
	ErrNoHeader = errors.New("file has no header row")
)

// Table is a file as read: the first row is Headers, the rest Rows.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Empty reports whether the table has no data rows.
func (t Table) Empty() bool {
	return len(t.Rows) == 0
}

// Supported reports whether name has an extension Parse accepts.
func Supported(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".csv", ".xlsx":
		return true
	}
	return false
}

// Parse reads data according to the extension of name. Failures are
// *errors.ParseError.
func Parse(name string, data []byte) (Table, error) {
	var (
		rows [][]string
		err  error
	)
	switch strings.ToLower(path.Ext(name)) {
	case ".csv":
		rows, err = readCSV(name, data)
	case ".xlsx":
		rows, err = readXLSX(data)
	default:
		err = ErrUnsupported
	}
	if err != nil {
		var parseErr *apperrors.ParseError
		if errors.As(err, &parseErr) {
			return Table{}, parseErr
		}
		return Table{}, apperrors.NewParseError(name, err)
	}

	rows = trimRows(rows)
	if len(rows) == 0 {
		return Table{}, apperrors.NewParseError(name, ErrNoHeader)
	}
	return Table{Headers: rows[0], Rows: rows[1:]}, nil
}

func readCSV(name string, data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var csvErr *csv.ParseError
			if errors.As(err, &csvErr) {
				return nil, apperrors.NewParseError(name, csvErr.Err).AddLine(csvErr.Line)
			}
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrNoHeader
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}
	return rows, nil
}

// trimRows trims every cell and drops rows with no content.
func trimRows(rows [][]string) [][]string {
	out := rows[:0]
	for _, row := range rows {
		blank := true
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
			if row[i] != "" {
				blank = false
			}
		}
		if !blank {
			out = append(out, row)
		}
	}
	return out
}
