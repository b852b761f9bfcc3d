package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/document"
)

// Table is a tabular product source. A nil cell is null.
type Table struct {
	Columns []string
	Rows    [][]any
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// LoadTable reads a product table. The format follows the file extension:
// .csv, .tsv, .jsonl/.ndjson, or .xlsx (first sheet).
func LoadTable(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return loadDelimited(path, ',')
	case ".tsv":
		return loadDelimited(path, '\t')
	case ".jsonl", ".ndjson":
		return loadJSONL(path)
	case ".xlsx":
		return loadXLSX(path)
	default:
		return nil, fmt.Errorf("%w: unsupported source format %q", apperr.ErrDataFormat, filepath.Ext(path))
	}
}

func loadDelimited(path string, comma rune) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening source: %w", apperr.ErrDataFormat, err)
	}
	defer f.Close()

	r := csv.NewReader(bufio.NewReader(f))
	r.Comma = comma
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s has no header row", apperr.ErrDataFormat, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", apperr.ErrDataFormat, err)
	}
	header[0] = strings.TrimPrefix(header[0], "\ufeff")

	var cells [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperr.ErrDataFormat, err)
		}
		cells = append(cells, rec)
	}
	return fromStrings(header, cells), nil
}

func loadXLSX(path string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening workbook: %w", apperr.ErrDataFormat, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook %s has no sheets", apperr.ErrDataFormat, path)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: reading sheet %q: %w", apperr.ErrDataFormat, sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: sheet %q has no header row", apperr.ErrDataFormat, sheets[0])
	}
	return fromStrings(rows[0], rows[1:]), nil
}

// fromStrings builds a table from text cells. Empty cells become null and
// each column is typed as a whole: bool, int, float, or string. A column with
// a zero-padded number in it stays string.
func fromStrings(header []string, cells [][]string) *Table {
	t := &Table{Columns: make([]string, len(header))}
	for i, h := range header {
		t.Columns[i] = strings.TrimSpace(h)
	}

	kinds := make([]cellKind, len(header))
	for c := range header {
		kinds[c] = inferKind(cells, c)
	}

	t.Rows = make([][]any, len(cells))
	for r, rec := range cells {
		row := make([]any, len(header))
		for c := range header {
			if c >= len(rec) || rec[c] == "" {
				continue
			}
			row[c] = convert(rec[c], kinds[c])
		}
		t.Rows[r] = row
	}
	return t
}

type cellKind int

const (
	kindString cellKind = iota
	kindBool
	kindInt
	kindFloat
)

func inferKind(cells [][]string, col int) cellKind {
	isBool, isInt, isFloat, seen := true, true, true, false
	for _, rec := range cells {
		if col >= len(rec) || rec[col] == "" {
			continue
		}
		seen = true
		v := rec[col]
		if zeroPadded(v) {
			return kindString
		}
		switch v {
		case "true", "false", "True", "False":
		default:
			isBool = false
		}
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			isFloat = false
		}
	}
	switch {
	case !seen:
		return kindString
	case isBool:
		return kindBool
	case isInt:
		return kindInt
	case isFloat:
		return kindFloat
	default:
		return kindString
	}
}

// zeroPadded reports values like "007" or "-01" whose leading zero would be
// lost as a number. "0" and "0.5" are not.
func zeroPadded(v string) bool {
	v = strings.TrimPrefix(v, "-")
	return len(v) > 1 && v[0] == '0' && v[1] >= '0' && v[1] <= '9'
}

func convert(v string, k cellKind) any {
	switch k {
	case kindBool:
		b, _ := strconv.ParseBool(v)
		return b
	case kindInt:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case kindFloat:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return v
	}
}

func loadJSONL(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: opening source: %w", apperr.ErrDataFormat, err)
	}

	t := &Table{}
	colIdx := map[string]int{}
	var objects []map[string]any

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(text))
		dec.UseNumber()
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", apperr.ErrDataFormat, line, err)
		}
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		// Object key order is lost by decoding; recover it from the line.
		for _, k := range orderedKeys(text, keys) {
			if _, ok := colIdx[k]; !ok {
				colIdx[k] = len(t.Columns)
				t.Columns = append(t.Columns, k)
			}
		}
		objects = append(objects, obj)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrDataFormat, err)
	}

	t.Rows = make([][]any, len(objects))
	for r, obj := range objects {
		row := make([]any, len(t.Columns))
		for k, v := range obj {
			row[colIdx[k]] = jsonScalar(v)
		}
		t.Rows[r] = row
	}
	return t, nil
}

// orderedKeys sorts keys by their first appearance as a quoted key in line.
func orderedKeys(line string, keys []string) []string {
	pos := make(map[string]int, len(keys))
	for _, k := range keys {
		quoted, _ := json.Marshal(k)
		if i := strings.Index(line, string(quoted)); i >= 0 {
			pos[k] = i
		} else {
			pos[k] = len(line)
		}
	}
	out := append([]string(nil), keys...)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && (pos[out[j]] < pos[out[j-1]] || (pos[out[j]] == pos[out[j-1]] && out[j] < out[j-1])); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// jsonScalar keeps JSON scalars typed and flattens nested values to JSON text.
func jsonScalar(v any) any {
	switch x := v.(type) {
	case nil, string, bool:
		return x
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n
		}
		f, _ := x.Float64()
		return f
	default:
		b, _ := json.Marshal(x)
		return string(b)
	}
}

// ToDocuments turns each row into a Document whose content is the text
// column. Rows with a null text cell are dropped; other nulls become "".
// row_index is the row's position after dropping. row_index and start_index
// are set by ingestion, so a source with either column is rejected.
func ToDocuments(t *Table, textColumn string) ([]document.Document, error) {
	col := t.ColumnIndex(textColumn)
	if col < 0 {
		return nil, fmt.Errorf("%w: column %q not found (have %s)", apperr.ErrDataFormat, textColumn, strings.Join(t.Columns, ", "))
	}
	for _, reserved := range []string{document.KeyRowIndex, document.KeyStartIndex} {
		if t.ColumnIndex(reserved) >= 0 {
			return nil, fmt.Errorf("%w: column name %q is reserved", apperr.ErrDataFormat, reserved)
		}
	}

	docs := make([]document.Document, 0, len(t.Rows))
	for _, row := range t.Rows {
		if row[col] == nil {
			continue
		}
		meta := make(document.Metadata, len(t.Columns)+1)
		for i, name := range t.Columns {
			if i == col {
				continue
			}
			if row[i] == nil {
				meta[name] = ""
				continue
			}
			meta[name] = row[i]
		}
		meta[document.KeyRowIndex] = len(docs)
		docs = append(docs, document.Document{
			Content:  document.ValueString(row[col]),
			Metadata: meta,
		})
	}
	return docs, nil
}
