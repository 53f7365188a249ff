package retrieval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/mistborn/internal/model"
)

func rec(text string) model.RetrievalRecord {
	return model.RetrievalRecord{Text: text, Type: model.RecordCWE}
}

func TestFlatIndexSearchOrdersNearestFirst(t *testing.T) {
	idx := NewFlatIndex()
	require.NoError(t, idx.Add(rec("far"), []float32{10, 10}))
	require.NoError(t, idx.Add(rec("near"), []float32{1, 1}))
	require.NoError(t, idx.Add(rec("mid"), []float32{4, 4}))

	got, err := idx.Search(context.Background(), []float32{0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].Text)
	assert.Equal(t, "mid", got[1].Text)
}

func TestFlatIndexSearchFewerThanK(t *testing.T) {
	idx := NewFlatIndex()
	require.NoError(t, idx.Add(rec("only"), []float32{1}))

	got, err := idx.Search(context.Background(), []float32{0}, 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestFlatIndexErrors(t *testing.T) {
	idx := NewFlatIndex()
	_, err := idx.Search(context.Background(), []float32{0}, 1)
	require.ErrorIs(t, err, ErrIndexEmpty)

	require.NoError(t, idx.Add(rec("a"), []float32{1, 2}))
	require.ErrorIs(t, idx.Add(rec("b"), []float32{1}), ErrDimensionMismatch)

	_, err = idx.Search(context.Background(), []float32{1, 2, 3}, 1)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestFlatIndexRoundTrip(t *testing.T) {
	idx := NewFlatIndex()
	require.NoError(t, idx.Add(model.RetrievalRecord{Text: "x", CWE: "CWE-787", Type: model.RecordCVE}, []float32{1, 0}))
	require.NoError(t, idx.Add(rec("y"), []float32{0, 1}))

	path := filepath.Join(t.TempDir(), "nested", "index.json")
	require.NoError(t, idx.Save(path))

	loaded, err := LoadFlatIndex(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Len())

	got, err := loaded.Search(context.Background(), []float32{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "CWE-787", got[0].CWE)
}

func TestLoadFlatIndexMismatched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"dimension":1,"records":[{"text":"a"}],"vectors":[]}`), 0o644))
	_, err := LoadFlatIndex(path)
	require.Error(t, err)
}

type stubIndex struct{ recs []model.RetrievalRecord }

func (s stubIndex) Search(ctx context.Context, v []float32, k int) ([]model.RetrievalRecord, error) {
	out := make([]model.RetrievalRecord, len(s.recs))
	copy(out, s.recs)
	return out, nil
}

func TestWithSnippetLimit(t *testing.T) {
	base := stubIndex{recs: []model.RetrievalRecord{rec("abcdefgh"), rec("ab")}}
	got, err := WithSnippetLimit(base, 4).Search(context.Background(), nil, 2)
	require.NoError(t, err)
	assert.Equal(t, "abcd...", got[0].Text)
	assert.Equal(t, "ab", got[1].Text)

	assert.Equal(t, Index(base), WithSnippetLimit(base, 0))
}

func TestWithSnippetLimitKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a 4-byte cut would land inside the second one.
	base := stubIndex{recs: []model.RetrievalRecord{rec("abéé")}}
	got, err := WithSnippetLimit(base, 4).Search(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "abé...", got[0].Text)
	assert.True(t, utf8.ValidString(got[0].Text))

	base = stubIndex{recs: []model.RetrievalRecord{rec("日本語")}}
	got, err = WithSnippetLimit(base, 2).Search(context.Background(), nil, 1)
	require.NoError(t, err)
	assert.Equal(t, "...", got[0].Text)
}

type fakeEmbedder struct {
	calls [][]string
	err   error
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.calls = append(f.calls, texts)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

func TestBuilderBatchesAndSkipsLongTexts(t *testing.T) {
	emb := &fakeEmbedder{}
	b := &Builder{
		Embedder:  emb,
		Count:     func(s string) int { return len(strings.Fields(s)) },
		MaxTokens: 3,
		BatchSize: 2,
	}
	records := []model.RetrievalRecord{
		rec("one"), rec("two words"), rec("this one is too long"), rec("three"), rec("four"),
	}

	built, err := b.Build(context.Background(), records)
	require.NoError(t, err)
	assert.Equal(t, 1, built.Skipped)
	require.Len(t, built.Records, 4)
	require.Len(t, built.Vectors, 4)
	assert.Len(t, emb.calls, 2)
	// records stay aligned with their vectors
	for i, r := range built.Records {
		assert.Equal(t, float32(len(r.Text)), built.Vectors[i][0])
	}

	idx, err := built.Index()
	require.NoError(t, err)
	assert.Equal(t, 4, idx.Len())
}

func TestBuilderPropagatesEmbedError(t *testing.T) {
	b := &Builder{Embedder: &fakeEmbedder{err: errors.New("quota")}}
	_, err := b.Build(context.Background(), []model.RetrievalRecord{rec("a")})
	require.Error(t, err)
}

func TestFormatCVE(t *testing.T) {
	r := FormatCVE(map[string]any{
		"CWE_ID":         "CWE-787",
		"CWE_Name":       "Out-of-bounds Write",
		"commit_message": "  fix overflow \n",
		"diff_code":      "-strcpy(a, b);\n+strncpy(a, b, n);",
	})
	assert.Equal(t, model.RecordCVE, r.Type)
	assert.Equal(t, "CWE-787", r.CWE)
	assert.True(t, strings.HasPrefix(r.Text, "[CVE Example]\nCWE: CWE-787 - Out-of-bounds Write\n"))
	assert.Contains(t, r.Text, "Commit Message: fix overflow\n")
	assert.Contains(t, r.Text, "+strncpy(a, b, n);")
}

func TestFormatCWE(t *testing.T) {
	r := FormatCWE(map[string]any{
		"CWE-ID":                "79",
		"Name":                  "Cross-site Scripting",
		"Description":           "desc",
		"Potential Mitigations": "escape output",
	})
	assert.Equal(t, model.RecordCWE, r.Type)
	assert.Equal(t, "79", r.CWE)
	assert.Contains(t, r.Text, "[CWE Top 25]\n79 - Cross-site Scripting\n")
	assert.Contains(t, r.Text, "Mitigation: escape output")
}

func TestLoadEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cwe.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"CWE-ID": 787, "Name": "OOB"}]`), 0o644))
	entries, err := LoadEntries(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "787", FormatCWE(entries[0]).CWE)
}
