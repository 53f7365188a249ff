package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/model"
)

// Embedder embeds many texts at once, preserving order.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// TokenCounter reports the token length of text under the embedding model.
type TokenCounter func(text string) int

// NewTiktokenCounter counts tokens with the cl100k_base encoding used by the
// OpenAI embedding models.
func NewTiktokenCounter() (TokenCounter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("loading tokenizer: %w", err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// Builder turns raw CVE/CWE entries into an embedded exemplar set.
type Builder struct {
	Embedder  Embedder
	Count     TokenCounter // nil disables the token limit
	MaxTokens int          // defaults to 8000
	BatchSize int          // defaults to 20
	Log       *zap.Logger
}

// Built is the output of Builder.Build: records aligned with their vectors.
type Built struct {
	Records []model.RetrievalRecord
	Vectors [][]float32
	Skipped int
}

// Index returns the built set as a FlatIndex.
func (b *Built) Index() (*FlatIndex, error) {
	idx := NewFlatIndex()
	for i := range b.Records {
		if err := idx.Add(b.Records[i], b.Vectors[i]); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// Build embeds every record whose text fits the token limit.
func (b *Builder) Build(ctx context.Context, records []model.RetrievalRecord) (*Built, error) {
	log := b.Log
	if log == nil {
		log = zap.NewNop()
	}
	maxTokens := b.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 8000
	}
	batch := b.BatchSize
	if batch <= 0 {
		batch = 20
	}

	out := &Built{}
	var keep []model.RetrievalRecord
	for _, r := range records {
		if b.Count != nil && b.Count(r.Text) > maxTokens {
			out.Skipped++
			continue
		}
		keep = append(keep, r)
	}
	log.Info("embedding exemplars", zap.Int("records", len(keep)), zap.Int("skipped", out.Skipped))

	for start := 0; start < len(keep); start += batch {
		end := start + batch
		if end > len(keep) {
			end = len(keep)
		}
		texts := make([]string, end-start)
		for i, r := range keep[start:end] {
			texts[i] = r.Text
		}
		vecs, err := b.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embedding batch at %d: %w", start, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedding batch at %d: got %d vectors for %d texts", start, len(vecs), len(texts))
		}
		out.Records = append(out.Records, keep[start:end]...)
		out.Vectors = append(out.Vectors, vecs...)
		log.Debug("embedded batch", zap.Int("start", start), zap.Int("size", len(texts)))
	}
	return out, nil
}

// LoadEntries reads a JSON array of objects.
func LoadEntries(path string) ([]map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var entries []map[string]any
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return entries, nil
}

// FormatCVE renders a patch-database entry (CWE_ID, CWE_Name,
// commit_message, diff_code) as an exemplar.
func FormatCVE(entry map[string]any) model.RetrievalRecord {
	cwe := field(entry, "CWE_ID")
	text := fmt.Sprintf("[CVE Example]\nCWE: %s - %s\nCommit Message: %s\nPatch Diff:\n%s\n",
		cwe,
		field(entry, "CWE_Name"),
		strings.TrimSpace(field(entry, "commit_message")),
		strings.TrimSpace(field(entry, "diff_code")),
	)
	return model.RetrievalRecord{Type: model.RecordCVE, CWE: cwe, Text: text, Source: entry}
}

// FormatCWE renders a CWE Top 25 row as an exemplar.
func FormatCWE(entry map[string]any) model.RetrievalRecord {
	id := field(entry, "CWE-ID")
	text := fmt.Sprintf("[CWE Top 25]\n%s - %s\nDescription: %s\nMitigation: %s\n",
		id,
		field(entry, "Name"),
		field(entry, "Description"),
		field(entry, "Potential Mitigations"),
	)
	return model.RetrievalRecord{Type: model.RecordCWE, CWE: id, Text: text, Source: entry}
}

func field(entry map[string]any, key string) string {
	v, ok := entry[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
