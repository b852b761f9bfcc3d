package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/storage"
)

// fakeEmbedder maps text to a deterministic 3-d vector.
type fakeEmbedder struct {
	model     string
	failOn    string
	batches   int
	normalize bool
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.batches++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn != "" && strings.Contains(text, f.failOn) {
			return nil, errors.New("embedding backend down")
		}
		out[i] = []float32{float32(len(text)), float32(strings.Count(text, "e")) + 1, 1}
	}
	return out, nil
}

func (f *fakeEmbedder) Model() string   { return f.model }
func (f *fakeEmbedder) Normalize() bool { return f.normalize }

const productsCSV = "name,price,combined\n" +
	"Kettle,29.5,Stainless steel electric kettle with auto shut-off.\n" +
	"Ghost,1,\n" +
	"Toaster,35,Two-slot toaster. Six browning levels. Removable crumb tray.\n"

func newTestPipeline(t *testing.T, emb BatchEmbedder, data string) (*Pipeline, Config) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		DataPath:     filepath.Join(dir, "products.csv"),
		TextColumn:   "combined",
		ChunkSize:    40,
		ChunkOverlap: 10,
		IndexDir:     filepath.Join(dir, "index"),
	}
	if err := os.WriteFile(cfg.DataPath, []byte(data), 0o644); err != nil {
		t.Fatalf("writing source: %v", err)
	}
	p, err := NewPipeline(emb, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p, cfg
}

func TestNewPipeline_InvalidChunking(t *testing.T) {
	cfg := Config{ChunkSize: 10, ChunkOverlap: 10, IndexDir: t.TempDir()}
	if _, err := NewPipeline(&fakeEmbedder{model: "m"}, cfg); !errors.Is(err, apperr.ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestBuild(t *testing.T) {
	emb := &fakeEmbedder{model: "bge-base"}
	p, cfg := newTestPipeline(t, emb, productsCSV)
	ctx := context.Background()

	idx, err := p.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer idx.Close()

	m := idx.Manifest()
	if m.EmbedModel != "bge-base" || m.Dimension != 3 || m.Rows != 2 {
		t.Errorf("manifest = %+v", m)
	}
	if m.ChunkSize != 40 || m.ChunkOverlap != 10 || m.TextColumn != "combined" {
		t.Errorf("manifest chunking = %+v", m)
	}

	count, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != m.Chunks || count < 3 {
		t.Errorf("count = %d, manifest chunks = %d", count, m.Chunks)
	}

	records, err := idx.Chunks().ExportAll(ctx)
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	for _, r := range records {
		if len([]rune(r.Document.Content)) > 40 {
			t.Errorf("chunk %q longer than chunk size", r.Document.Content)
		}
		if r.Document.RowIndex() < 0 || r.Document.StartIndex() < 0 {
			t.Errorf("chunk %s missing row_index or start_index: %v", r.ID, r.Document.Metadata)
		}
		if r.Document.Metadata["name"] == "Ghost" {
			t.Error("row with null text was indexed")
		}
	}

	entries, _ := os.ReadDir(filepath.Dir(cfg.IndexDir))
	for _, e := range entries {
		if strings.Contains(e.Name(), "staging") || strings.Contains(e.Name(), ".old-") {
			t.Errorf("leftover directory %s", e.Name())
		}
	}
}

func TestBuild_Idempotent(t *testing.T) {
	p, _ := newTestPipeline(t, &fakeEmbedder{model: "bge-base"}, productsCSV)
	ctx := context.Background()

	export := func() []string {
		idx, err := p.Build(ctx)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		defer idx.Close()
		records, err := idx.Chunks().ExportAll(ctx)
		if err != nil {
			t.Fatalf("ExportAll: %v", err)
		}
		var out []string
		for _, r := range records {
			out = append(out, r.ID+"|"+r.Document.Content)
		}
		return out
	}

	first, second := export(), export()
	if len(first) != len(second) {
		t.Fatalf("rebuild produced %d chunks, first build %d", len(second), len(first))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("chunk %d differs across builds: %q vs %q", i, first[i], second[i])
		}
	}
}

func TestBuild_FailureKeepsPreviousIndex(t *testing.T) {
	emb := &fakeEmbedder{model: "bge-base"}
	p, cfg := newTestPipeline(t, emb, productsCSV)
	ctx := context.Background()

	idx, err := p.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	before, _ := idx.Count(ctx)
	idx.Close()

	emb.failOn = "toaster"
	if _, err := p.Build(ctx); err == nil {
		t.Fatal("expected embedding failure")
	}

	idx, err = OpenIndex(cfg.IndexDir, "bge-base", false)
	if err != nil {
		t.Fatalf("OpenIndex after failed rebuild: %v", err)
	}
	defer idx.Close()
	after, _ := idx.Count(ctx)
	if after != before {
		t.Errorf("count = %d after failed rebuild, want %d", after, before)
	}
}

func TestBuild_MissingTextColumn(t *testing.T) {
	p, cfg := newTestPipeline(t, &fakeEmbedder{model: "m"}, "name,price\nKettle,3\n")

	if _, err := p.Build(context.Background()); !errors.Is(err, apperr.ErrDataFormat) {
		t.Errorf("err = %v, want ErrDataFormat", err)
	}
	if ok, _ := storage.Exists(cfg.IndexDir); ok {
		t.Error("index directory created for a failed build")
	}
}

func TestOpenIndex_ManifestMismatch(t *testing.T) {
	p, cfg := newTestPipeline(t, &fakeEmbedder{model: "bge-base"}, productsCSV)
	idx, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	idx.Close()

	tests := []struct {
		name      string
		model     string
		normalize bool
	}{
		{"other model", "nomic-embed-text", false},
		{"normalize flipped", "bge-base", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := OpenIndex(cfg.IndexDir, tt.model, tt.normalize)
			if !errors.Is(err, apperr.ErrRetrievalUnavailable) {
				t.Errorf("err = %v, want ErrRetrievalUnavailable", err)
			}
		})
	}
}

func TestOpenIndex_Missing(t *testing.T) {
	_, err := OpenIndex(filepath.Join(t.TempDir(), "nope"), "m", false)
	if !errors.Is(err, apperr.ErrRetrievalUnavailable) {
		t.Errorf("err = %v, want ErrRetrievalUnavailable", err)
	}
}

func TestBuildOrLoad(t *testing.T) {
	emb := &fakeEmbedder{model: "bge-base"}
	p, _ := newTestPipeline(t, emb, productsCSV)
	ctx := context.Background()

	idx, built, err := p.BuildOrLoad(ctx)
	if err != nil {
		t.Fatalf("first BuildOrLoad: %v", err)
	}
	idx.Close()
	if !built {
		t.Error("first call should build")
	}

	batches := emb.batches
	idx, built, err = p.BuildOrLoad(ctx)
	if err != nil {
		t.Fatalf("second BuildOrLoad: %v", err)
	}
	idx.Close()
	if built {
		t.Error("second call should load the existing index")
	}
	if emb.batches != batches {
		t.Errorf("embedder called %d more times on load", emb.batches-batches)
	}
}

func TestBuildOrLoad_UnpacksArchive(t *testing.T) {
	emb := &fakeEmbedder{model: "bge-base"}
	p, cfg := newTestPipeline(t, emb, productsCSV)
	ctx := context.Background()

	idx, err := p.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want, _ := idx.Count(ctx)
	idx.Close()

	archive := filepath.Join(t.TempDir(), "index.zip")
	if err := storage.Pack(cfg.IndexDir, archive); err != nil {
		t.Fatalf("Pack: %v", err)
	}
	if err := os.RemoveAll(cfg.IndexDir); err != nil {
		t.Fatal(err)
	}

	cfg.Archive = archive
	p, err = NewPipeline(emb, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	batches := emb.batches

	idx, built, err := p.BuildOrLoad(ctx)
	if err != nil {
		t.Fatalf("BuildOrLoad: %v", err)
	}
	defer idx.Close()
	if built {
		t.Error("archive should be unpacked, not rebuilt")
	}
	if emb.batches != batches {
		t.Error("embedder called while unpacking an archive")
	}
	if got, _ := idx.Count(ctx); got != want {
		t.Errorf("count = %d, want %d", got, want)
	}
}

func TestReadManifest(t *testing.T) {
	p, cfg := newTestPipeline(t, &fakeEmbedder{model: "bge-base"}, productsCSV)
	idx, err := p.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	idx.Close()

	m, err := ReadManifest(cfg.IndexDir)
	if err != nil {
		t.Fatalf("ReadManifest: %v", err)
	}
	if m.Source != cfg.DataPath {
		t.Errorf("source = %q, want %q", m.Source, cfg.DataPath)
	}
}
