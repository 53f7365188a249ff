package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sprite-ai/mistborn/internal/model"
)

// FlatIndex is an exact, brute-force L2 index held in memory. It is the
// default backend: exemplar sets are a few thousand records, small enough
// that a linear scan per query is cheaper than running a vector service.
type FlatIndex struct {
	dim     int
	records []model.RetrievalRecord
	vectors [][]float32
}

// flatFile is the on-disk layout written by Save.
type flatFile struct {
	Dimension int                     `json:"dimension"`
	Records   []model.RetrievalRecord `json:"records"`
	Vectors   [][]float32             `json:"vectors"`
}

// NewFlatIndex returns an empty index.
func NewFlatIndex() *FlatIndex {
	return &FlatIndex{}
}

// Add stores a record with its vector. All vectors must share one width.
func (f *FlatIndex) Add(rec model.RetrievalRecord, vec []float32) error {
	if len(vec) == 0 {
		return fmt.Errorf("adding record: empty vector")
	}
	if f.dim == 0 {
		f.dim = len(vec)
	} else if len(vec) != f.dim {
		return fmt.Errorf("adding record: %w (got %d, want %d)", ErrDimensionMismatch, len(vec), f.dim)
	}
	f.records = append(f.records, rec)
	f.vectors = append(f.vectors, vec)
	return nil
}

// Len returns the number of stored records.
func (f *FlatIndex) Len() int { return len(f.records) }

// Search implements Index.
func (f *FlatIndex) Search(ctx context.Context, vector []float32, k int) ([]model.RetrievalRecord, error) {
	if len(f.records) == 0 {
		return nil, ErrIndexEmpty
	}
	if len(vector) != f.dim {
		return nil, fmt.Errorf("%w (got %d, want %d)", ErrDimensionMismatch, len(vector), f.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	type hit struct {
		idx  int
		dist float64
	}
	hits := make([]hit, len(f.vectors))
	for i, v := range f.vectors {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		hits[i] = hit{idx: i, dist: squaredL2(vector, v)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].dist < hits[b].dist })

	if k > len(hits) {
		k = len(hits)
	}
	out := make([]model.RetrievalRecord, k)
	for i := 0; i < k; i++ {
		out[i] = f.records[hits[i].idx]
	}
	return out, nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

// Save writes the index as JSON to path, creating parent directories.
func (f *FlatIndex) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating index dir: %w", err)
		}
	}
	data, err := json.Marshal(flatFile{Dimension: f.dim, Records: f.records, Vectors: f.vectors})
	if err != nil {
		return fmt.Errorf("encoding index: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// LoadFlatIndex reads an index written by Save.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var ff flatFile
	if err := json.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("decoding index %s: %w", path, err)
	}
	if len(ff.Records) != len(ff.Vectors) {
		return nil, fmt.Errorf("index %s: %d records but %d vectors", path, len(ff.Records), len(ff.Vectors))
	}

	idx := NewFlatIndex()
	for i := range ff.Records {
		if err := idx.Add(ff.Records[i], ff.Vectors[i]); err != nil {
			return nil, fmt.Errorf("index %s record %d: %w", path, i, err)
		}
	}
	return idx, nil
}
