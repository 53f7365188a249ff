package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.uber.org/zap"

	"github.com/sprite-ai/mistborn/internal/model"
)

// WeaviateIndex searches exemplars stored as objects of one Weaviate class
// with caller-supplied vectors.
type WeaviateIndex struct {
	client *weaviate.Client
	class  string
	log    *zap.Logger
}

// NewWeaviateIndex connects to the Weaviate instance at rawURL.
func NewWeaviateIndex(rawURL, class string, log *zap.Logger) (*WeaviateIndex, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid weaviate url %q", rawURL)
	}
	client, err := weaviate.NewClient(weaviate.Config{Host: u.Host, Scheme: u.Scheme})
	if err != nil {
		return nil, fmt.Errorf("creating weaviate client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &WeaviateIndex{client: client, class: class, log: log.Named("weaviate")}, nil
}

type weaviateHit struct {
	Text   string `json:"text"`
	CWE    string `json:"cwe"`
	Type   string `json:"recordType"`
	Source string `json:"source"`
}

// Search implements Index.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, k int) ([]model.RetrievalRecord, error) {
	if k <= 0 {
		return nil, nil
	}
	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(vector)

	fields := []graphql.Field{
		{Name: "text"},
		{Name: "cwe"},
		{Name: "recordType"},
		{Name: "source"},
	}

	resp, err := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithNearVector(nearVector).
		WithLimit(k).
		Do(ctx)
	if err != nil {
		return nil, &BackendError{Op: "search", Err: err}
	}
	if len(resp.Errors) > 0 {
		return nil, &BackendError{Op: "search", Err: errors.New(resp.Errors[0].Message)}
	}

	raw, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("weaviate response: %w", err)
	}
	var parsed struct {
		Get map[string][]weaviateHit `json:"Get"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("weaviate response: %w", err)
	}

	hits := parsed.Get[w.class]
	if len(hits) == 0 {
		// nearVector without a distance cutoff only comes back empty when
		// the class holds no objects.
		return nil, ErrIndexEmpty
	}
	out := make([]model.RetrievalRecord, 0, len(hits))
	for _, h := range hits {
		rec := model.RetrievalRecord{Text: h.Text, CWE: h.CWE, Type: h.Type}
		if h.Source != "" {
			if err := json.Unmarshal([]byte(h.Source), &rec.Source); err != nil {
				w.log.Debug("dropping unparseable source", zap.Error(err))
			}
		}
		out = append(out, rec)
	}
	w.log.Debug("search", zap.Int("k", k), zap.Int("hits", len(out)))
	return out, nil
}

// Put stores records with their vectors in one batch. Object IDs are derived
// from the record text so re-importing the same exemplars overwrites them.
func (w *WeaviateIndex) Put(ctx context.Context, records []model.RetrievalRecord, vectors [][]float32) (int, error) {
	if len(records) != len(vectors) {
		return 0, fmt.Errorf("weaviate put: %d records but %d vectors", len(records), len(vectors))
	}
	objects := make([]*models.Object, len(records))
	for i, rec := range records {
		src, err := json.Marshal(rec.Source)
		if err != nil {
			return 0, fmt.Errorf("weaviate put: encoding source: %w", err)
		}
		id := uuid.NewSHA1(uuid.NameSpaceOID, []byte(rec.Text))
		objects[i] = &models.Object{
			Class:  w.class,
			ID:     strfmt.UUID(id.String()),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"text":       rec.Text,
				"cwe":        rec.CWE,
				"recordType": rec.Type,
				"source":     string(src),
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return 0, &BackendError{Op: "put", Err: err}
	}
	stored := 0
	for _, obj := range resp {
		if obj.Result != nil && obj.Result.Errors == nil {
			stored++
		}
	}
	return stored, nil
}
