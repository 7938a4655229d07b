package links

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/xuri/excelize/v2"
)

// Kind is a links file format.
type Kind string

const (
	KindText Kind = "text"
	KindCSV  Kind = "csv"
	KindXLSX Kind = "xlsx"
)

var headerNames = map[string]bool{
	"link":   true,
	"links":  true,
	"url":    true,
	"urls":   true,
	"href":   true,
	"ссылка": true,
	"ссылки": true,
}

// DetectKind picks the parser from the file extension, falling back to
// content sniffing.
func DetectKind(name string, data []byte) Kind {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return KindCSV
	case ".xlsx", ".xlsm":
		return KindXLSX
	case ".txt", ".list":
		return KindText
	}

	mt := mimetype.Detect(data)
	switch {
	case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"):
		return KindXLSX
	case mt.Is("text/csv"):
		return KindCSV
	}
	return KindText
}

// Parse extracts links from a file named name.
func Parse(name string, data []byte) (*Result, error) {
	switch DetectKind(name, data) {
	case KindCSV:
		return ParseCSV(bytes.NewReader(data))
	case KindXLSX:
		return ParseXLSX(bytes.NewReader(data))
	default:
		return ParseText(bytes.NewReader(data))
	}
}

// ParseText reads one link per line. Blank lines and lines starting with
// '#' are ignored.
func ParseText(r io.Reader) (*Result, error) {
	res := &Result{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		res.add(line, raw)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}
	return res.done()
}

// ParseCSV reads a comma or semicolon separated table.
func ParseCSV(r io.Reader) (*Result, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read links: %w", err)
	}
	data = bytes.TrimPrefix(data, []byte("\ufeff"))

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = sniffDelimiter(data)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv: %w", err)
	}
	return fromRows(rows).done()
}

// ParseXLSX reads the first sheet of a workbook.
func ParseXLSX(r io.Reader) (*Result, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return (&Result{}).done()
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	return fromRows(rows).done()
}

// fromRows uses a header column named like a link column when present,
// otherwise every cell that looks like a link.
func fromRows(rows [][]string) *Result {
	res := &Result{}
	if len(rows) == 0 {
		return res
	}

	col := -1
	for i, cell := range rows[0] {
		if headerNames[strings.ToLower(strings.TrimSpace(cell))] {
			col = i
			break
		}
	}

	if col >= 0 {
		for i, row := range rows[1:] {
			line := i + 2
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				if !blank(row) {
					res.skip(line, strings.Join(row, ","), "link column is empty")
				}
				continue
			}
			res.add(line, row[col])
		}
		return res
	}

	for i, row := range rows {
		line := i + 1
		found := false
		for _, cell := range row {
			if looksLikeLink(cell) {
				res.add(line, cell)
				found = true
			}
		}
		if !found && !blank(row) {
			res.skip(line, strings.Join(row, ","), "no link found")
		}
	}
	return res
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// sniffDelimiter picks ';' when the first line has more semicolons than
// commas, as spreadsheet exports in many locales do.
func sniffDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	if bytes.Count(first, []byte(";")) > bytes.Count(first, []byte(",")) {
		return ';'
	}
	return ','
}
