package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/kalambet/prodqa/internal/apperr"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestLoadTable_CSV(t *testing.T) {
	path := writeSource(t, "products.csv", "\ufeffname,price,stock,in_sale,combined\n"+
		"Mouse,19.99,12,true,\"Wireless mouse, 2.4GHz\"\n"+
		"Cable,,3,false,USB-C cable\n")

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Columns[0] != "name" {
		t.Errorf("first column = %q, want BOM stripped", table.Columns[0])
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(table.Rows))
	}

	row := table.Rows[0]
	if row[1] != 19.99 {
		t.Errorf("price = %#v, want float64 19.99", row[1])
	}
	if row[2] != int64(12) {
		t.Errorf("stock = %#v, want int64 12", row[2])
	}
	if row[3] != true {
		t.Errorf("in_sale = %#v, want true", row[3])
	}
	if row[4] != "Wireless mouse, 2.4GHz" {
		t.Errorf("combined = %#v", row[4])
	}
	if table.Rows[1][1] != nil {
		t.Errorf("empty price = %#v, want nil", table.Rows[1][1])
	}
}

func TestLoadTable_TSV(t *testing.T) {
	path := writeSource(t, "products.tsv", "sku\tcombined\nA-1\tRed kettle\nA-2\tBlue kettle\n")

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if got := table.ColumnIndex("combined"); got != 1 {
		t.Errorf("ColumnIndex = %d, want 1", got)
	}
	if table.Rows[1][0] != "A-2" {
		t.Errorf("sku = %#v, want A-2", table.Rows[1][0])
	}
}

func TestLoadTable_MixedColumnStaysString(t *testing.T) {
	path := writeSource(t, "p.csv", "code,combined\n12,a\nX9,b\n")

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if table.Rows[0][0] != "12" {
		t.Errorf("code = %#v, want string 12", table.Rows[0][0])
	}
}

func TestLoadTable_ZeroPaddedStaysString(t *testing.T) {
	path := writeSource(t, "p.csv", `sku,qty,ratio,delta,combined
00123,0,0.5,-01,a
4,7,1.25,3,b
`)

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	tests := []struct {
		name string
		got  any
		want any
	}{
		{"padded id", table.Rows[0][0], "00123"},
		{"padded id column", table.Rows[1][0], "4"},
		{"plain zero", table.Rows[0][1], int64(0)},
		{"fraction", table.Rows[0][2], 0.5},
		{"negative padded", table.Rows[0][3], "-01"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %#v, want %#v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoadTable_JSONL(t *testing.T) {
	path := writeSource(t, "products.jsonl",
		`{"name":"Lamp","price":25,"rating":4.5,"tags":["home"],"combined":"Desk lamp"}`+"\n"+
			"\n"+
			`{"name":"Fan","combined":null,"price":null}`+"\n")

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	want := []string{"name", "price", "rating", "tags", "combined"}
	if len(table.Columns) != len(want) {
		t.Fatalf("columns = %v, want %v", table.Columns, want)
	}
	for i, c := range want {
		if table.Columns[i] != c {
			t.Errorf("columns[%d] = %q, want %q", i, table.Columns[i], c)
		}
	}

	row := table.Rows[0]
	if row[1] != int64(25) {
		t.Errorf("price = %#v, want int64 25", row[1])
	}
	if row[2] != 4.5 {
		t.Errorf("rating = %#v, want 4.5", row[2])
	}
	if row[3] != `["home"]` {
		t.Errorf("tags = %#v, want JSON text", row[3])
	}
	if table.Rows[1][4] != nil || table.Rows[1][2] != nil {
		t.Errorf("null and absent cells should be nil, got %#v", table.Rows[1])
	}
}

func TestLoadTable_JSONLMalformed(t *testing.T) {
	path := writeSource(t, "bad.jsonl", "{\"a\":1}\n{not json}\n")
	if _, err := LoadTable(path); !errors.Is(err, apperr.ErrDataFormat) {
		t.Errorf("err = %v, want ErrDataFormat", err)
	}
}

func TestLoadTable_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "products.xlsx")
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	for cell, v := range map[string]any{
		"A1": "name", "B1": "stock", "C1": "combined",
		"A2": "Kettle", "B2": 7, "C2": "Steel kettle, 1.7L",
		"A3": "Toaster", "C3": "Two-slot toaster",
	} {
		if err := f.SetCellValue(sheet, cell, v); err != nil {
			t.Fatalf("SetCellValue: %v", err)
		}
	}
	if err := f.SaveAs(path); err != nil {
		t.Fatalf("SaveAs: %v", err)
	}
	f.Close()

	table, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(table.Rows))
	}
	if table.Rows[0][1] != int64(7) {
		t.Errorf("stock = %#v, want int64 7", table.Rows[0][1])
	}
	if table.Rows[1][1] != nil {
		t.Errorf("missing stock = %#v, want nil", table.Rows[1][1])
	}
	if table.Rows[1][2] != "Two-slot toaster" {
		t.Errorf("combined = %#v", table.Rows[1][2])
	}
}

func TestLoadTable_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		kind    error
	}{
		{"unsupported extension", "p.parquet", "x", apperr.ErrDataFormat},
		{"empty csv", "p.csv", "", apperr.ErrDataFormat},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeSource(t, tt.file, tt.content)
			if _, err := LoadTable(path); !errors.Is(err, tt.kind) {
				t.Errorf("err = %v, want %v", err, tt.kind)
			}
		})
	}

	for _, name := range []string{"missing.csv", "missing.jsonl", "missing.xlsx"} {
		_, err := LoadTable(filepath.Join(t.TempDir(), name))
		if !errors.Is(err, apperr.ErrDataFormat) {
			t.Errorf("%s: err = %v, want %v", name, err, apperr.ErrDataFormat)
		}
		if !errors.Is(err, os.ErrNotExist) {
			t.Errorf("%s: err = %v, want the cause kept", name, err)
		}
	}
}

func TestToDocuments(t *testing.T) {
	table := &Table{
		Columns: []string{"name", "price", "combined"},
		Rows: [][]any{
			{"Mouse", 19.99, "Wireless mouse"},
			{"Ghost", 1.0, nil},
			{nil, nil, "Cable"},
			{"Count", int64(3), int64(42)},
		},
	}

	docs, err := ToDocuments(table, "combined")
	if err != nil {
		t.Fatalf("ToDocuments: %v", err)
	}
	if len(docs) != 3 {
		t.Fatalf("got %d documents, want 3 (null text row dropped)", len(docs))
	}

	for i, d := range docs {
		if d.RowIndex() != i {
			t.Errorf("docs[%d] row_index = %d, want %d", i, d.RowIndex(), i)
		}
		if _, ok := d.Metadata["combined"]; ok {
			t.Errorf("docs[%d] metadata carries the text column", i)
		}
	}
	if docs[0].Content != "Wireless mouse" || docs[0].Metadata["price"] != 19.99 {
		t.Errorf("docs[0] = %+v", docs[0])
	}
	if docs[1].Metadata["name"] != "" || docs[1].Metadata["price"] != "" {
		t.Errorf("nulls not filled with empty string: %+v", docs[1].Metadata)
	}
	if docs[2].Content != "42" {
		t.Errorf("non-string text = %q, want 42", docs[2].Content)
	}
}

func TestToDocuments_MissingColumn(t *testing.T) {
	table := &Table{Columns: []string{"name"}, Rows: [][]any{{"x"}}}
	if _, err := ToDocuments(table, "combined"); !errors.Is(err, apperr.ErrDataFormat) {
		t.Errorf("err = %v, want ErrDataFormat", err)
	}
}

func TestToDocuments_ReservedColumn(t *testing.T) {
	for _, name := range []string{"row_index", "start_index"} {
		table := &Table{Columns: []string{name, "combined"}, Rows: [][]any{{int64(9), "Kettle"}}}
		if _, err := ToDocuments(table, "combined"); !errors.Is(err, apperr.ErrDataFormat) {
			t.Errorf("%s: err = %v, want %v", name, err, apperr.ErrDataFormat)
		}
	}
}
