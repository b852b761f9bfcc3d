package ingest

import (
	"context"
	"errors"
	"fmt"

	"github.com/kalambet/prodqa/internal/apperr"
	"github.com/kalambet/prodqa/internal/retrieval"
	"github.com/kalambet/prodqa/internal/storage"
)

// Index is an open, validated chunk index.
type Index struct {
	db       *storage.Store
	chunks   *retrieval.SQLiteStore
	manifest storage.Manifest
}

// OpenIndex opens the index in dir read-only and checks that it was built
// with the given embedding configuration.
func OpenIndex(dir, embedModel string, normalize bool) (*Index, error) {
	ok, err := storage.Exists(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrRetrievalUnavailable, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: no index at %s; run `prodqa index build`", apperr.ErrRetrievalUnavailable, dir)
	}

	db, err := storage.OpenReadOnly(dir)
	if errors.Is(err, storage.ErrSchemaOutdated) {
		return nil, fmt.Errorf("%w: %w; rebuild it", apperr.ErrRetrievalUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrRetrievalUnavailable, err)
	}
	m, err := db.LoadManifest()
	if errors.Is(err, storage.ErrNotFound) {
		db.Close()
		return nil, fmt.Errorf("%w: index at %s has no manifest; rebuild it", apperr.ErrRetrievalUnavailable, dir)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", apperr.ErrRetrievalUnavailable, err)
	}
	if err := m.CheckEmbedding(embedModel, normalize); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w; rebuild the index", apperr.ErrRetrievalUnavailable, err)
	}

	return &Index{db: db, chunks: retrieval.NewSQLiteStore(db.DB()), manifest: m}, nil
}

// ReadManifest returns the manifest of the index in dir without checking
// the embedding configuration.
func ReadManifest(dir string) (storage.Manifest, error) {
	ok, err := storage.Exists(dir)
	if err != nil {
		return storage.Manifest{}, err
	}
	if !ok {
		return storage.Manifest{}, fmt.Errorf("no index at %s", dir)
	}
	db, err := storage.OpenReadOnly(dir)
	if err != nil {
		return storage.Manifest{}, err
	}
	defer db.Close()
	return db.LoadManifest()
}

// Chunks returns the chunk store for retrieval.
func (i *Index) Chunks() *retrieval.SQLiteStore { return i.chunks }

// Manifest returns the build record of the index.
func (i *Index) Manifest() storage.Manifest { return i.manifest }

// Count returns the number of stored chunks.
func (i *Index) Count(ctx context.Context) (int, error) { return i.chunks.Count(ctx) }

func (i *Index) Close() error { return i.db.Close() }
