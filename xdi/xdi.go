// Package xdi parses and validates XDI-like spectroscopy files: a textual
// header of namespaced key/value metadata followed by a whitespace-separated
// numeric column table.
package xdi

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"xasdb/element"
)

// MaxFileSize is the upload limit, enforced before any parsing.
const MaxFileSize = 10 * 1024 * 1024

// Column is a named numeric column from the table body.
type Column struct {
	Name   string
	Unit   string
	Values []float64
}

// Record is the validated content of one file: the element and edge it was
// measured at, the ordered column table, and the optional namespaced header
// metadata (keys like "sample.name", "mono.d_spacing", lowercased).
type Record struct {
	Element  string
	Edge     Edge
	EdgeText string
	Columns  []Column
	Meta     map[string]string
	Filename string
}

// Column returns the named column, matching case-insensitively.
func (r *Record) Column(name string) (*Column, bool) {
	name = strings.ToLower(name)
	for i := range r.Columns {
		if r.Columns[i].Name == name {
			return &r.Columns[i], true
		}
	}

	return nil, false
}

// Arrays returns the column values keyed by column name.
func (r *Record) Arrays() map[string][]float64 {
	arrays := make(map[string][]float64, len(r.Columns))
	for _, c := range r.Columns {
		arrays[c.Name] = c.Values
	}

	return arrays
}

// Parse validates and decodes raw file content. The content is staged to a
// temporary directory scoped to this call and released on every exit path.
//
// Failure modes: SizeError above MaxFileSize, ElementError for an unknown
// element symbol, FormatError for everything else.
func Parse(content []byte, filename string) (*Record, error) {
	if int64(len(content)) > MaxFileSize {
		return nil, &SizeError{Size: int64(len(content)), Limit: MaxFileSize}
	}

	stageDir, err := os.MkdirTemp("", "xdi-stage-")
	if err != nil {
		return nil, &FormatError{Reason: "staging file content", Inner: err}
	}
	defer func() {
		_ = os.RemoveAll(stageDir)
	}()

	staged := filepath.Join(stageDir, sanitizeName(filename))
	//nolint:mnd // staged copy is private to this call
	if err := os.WriteFile(staged, content, 0o600); err != nil {
		return nil, &FormatError{Reason: "staging file content", Inner: err}
	}

	f, err := os.Open(staged)
	if err != nil {
		return nil, &FormatError{Reason: "reading staged content", Inner: err}
	}
	defer func() {
		_ = f.Close()
	}()

	return parseStaged(f, filename)
}

// parseStaged scans the staged file line by line: '#'-prefixed header lines
// first, then the numeric table.
func parseStaged(f *os.File, filename string) (*Record, error) {
	rec := &Record{
		Filename: filepath.Base(filename),
		Meta:     map[string]string{},
	}

	var (
		headerCols map[int]Column // from Column.N header entries
		labelLine  []string       // last bare header line before data
		rows       [][]float64
		nFields    int
	)
	headerCols = map[int]Column{}

	// A single line may legitimately approach the whole file size.
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFileSize+1)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			body := strings.TrimSpace(strings.TrimLeft(line, "# \t"))
			if body == "" || isSeparator(body) {
				continue
			}

			key, value, isPair := splitHeaderPair(body)
			switch {
			case isPair && strings.HasPrefix(key, "column."):
				idx, err := strconv.Atoi(strings.TrimPrefix(key, "column."))
				if err != nil || idx < 1 {
					return nil, &FormatError{Reason: fmt.Sprintf("bad column header %q", body)}
				}
				headerCols[idx] = columnFromLabel(value)
			case isPair:
				rec.Meta[key] = value
			default:
				labelLine = strings.Fields(body)
			}

			continue
		}

		fields := strings.Fields(line)
		if len(rows) == 0 {
			nFields = len(fields)
		} else if len(fields) != nFields {
			return nil, &FormatError{
				Reason: fmt.Sprintf("row %d has %d fields, expected %d", len(rows)+1, len(fields), nFields),
			}
		}

		row := make([]float64, len(fields))
		for i, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, &FormatError{Reason: fmt.Sprintf("non-numeric value %q", field), Inner: err}
			}
			// ParseFloat accepts "nan" and "inf" tokens; stored arrays must
			// hold finite numbers only.
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &FormatError{Reason: fmt.Sprintf("non-finite value %q", field)}
			}
			row[i] = v
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, &FormatError{Reason: "reading staged content", Inner: err}
	}

	if len(rows) == 0 {
		return nil, &FormatError{Reason: "no data rows"}
	}

	columns, err := resolveColumns(headerCols, labelLine, nFields)
	if err != nil {
		return nil, err
	}
	for i := range columns {
		values := make([]float64, len(rows))
		for j, row := range rows {
			values[j] = row[i]
		}
		columns[i].Values = values
	}
	rec.Columns = columns

	if _, ok := rec.Column("energy"); !ok {
		return nil, &FormatError{Reason: "no energy column"}
	}

	symbol := strings.TrimSpace(rec.Meta["element.symbol"])
	if symbol == "" {
		return nil, &FormatError{Reason: "no element found"}
	}
	if !element.Known(symbol) {
		return nil, &ElementError{Symbol: symbol}
	}
	rec.Element = symbol

	rec.EdgeText = strings.TrimSpace(rec.Meta["element.edge"])
	// Unknown edge text is tolerated: only the element is a hard requirement.
	rec.Edge, _ = EdgeFromText(rec.EdgeText)

	return rec, nil
}

// resolveColumns picks column names from Column.N header entries when
// present, otherwise from the last bare label line of the header.
func resolveColumns(headerCols map[int]Column, labelLine []string, nFields int) ([]Column, error) {
	columns := make([]Column, nFields)

	if len(headerCols) > 0 {
		for i := 1; i <= nFields; i++ {
			col, ok := headerCols[i]
			if !ok {
				return nil, &FormatError{Reason: fmt.Sprintf("column %d has no label", i)}
			}
			columns[i-1] = col
		}

		return columns, nil
	}

	if len(labelLine) != nFields {
		return nil, &FormatError{
			Reason: fmt.Sprintf("%d column labels for %d columns", len(labelLine), nFields),
		}
	}
	for i, label := range labelLine {
		columns[i] = Column{Name: strings.ToLower(label)}
	}

	return columns, nil
}

// columnFromLabel decodes a "Column.N" header value of the form
// "name [unit]", e.g. "energy eV".
func columnFromLabel(value string) Column {
	fields := strings.Fields(value)
	col := Column{}
	if len(fields) > 0 {
		col.Name = strings.ToLower(fields[0])
	}
	if len(fields) > 1 {
		col.Unit = fields[1]
	}

	return col
}

// splitHeaderPair splits "Namespace.key: value" header lines. The key is
// lowercased; lines whose key segment contains whitespace are not pairs.
func splitHeaderPair(body string) (key, value string, ok bool) {
	idx := strings.Index(body, ":")
	if idx <= 0 {
		return "", "", false
	}
	key = strings.TrimSpace(body[:idx])
	if key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}

	return strings.ToLower(key), strings.TrimSpace(body[idx+1:]), true
}

// isSeparator reports header rule lines such as "-----" or "///".
func isSeparator(body string) bool {
	for _, r := range body {
		if r != '-' && r != '=' && r != '/' && r != '~' {
			return false
		}
	}

	return true
}

// sanitizeName keeps the staged file name local to the staging directory.
func sanitizeName(filename string) string {
	name := filepath.Base(filepath.Clean(filename))
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "upload.xdi"
	}

	return name
}
