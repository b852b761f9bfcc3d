package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Manifest binds an index to the configuration that produced it. Vectors
// built with one embedding configuration are meaningless under another.
type Manifest struct {
	EmbedModel   string    `json:"embed_model"`
	Normalize    bool      `json:"normalize"`
	Dimension    int       `json:"dimension"`
	ChunkSize    int       `json:"chunk_size"`
	ChunkOverlap int       `json:"chunk_overlap"`
	Source       string    `json:"source"`
	TextColumn   string    `json:"text_column"`
	Rows         int       `json:"rows"`
	Chunks       int       `json:"chunks"`
	BuiltAt      time.Time `json:"built_at"`
}

// CheckEmbedding reports an error when the index was built with a different
// embedding model or normalization than the one about to query it.
func (m Manifest) CheckEmbedding(model string, normalize bool) error {
	if m.EmbedModel != model {
		return fmt.Errorf("index built with embedding model %q, configured %q", m.EmbedModel, model)
	}
	if m.Normalize != normalize {
		return fmt.Errorf("index built with normalize=%t, configured normalize=%t", m.Normalize, normalize)
	}
	return nil
}
