// Package retrieval provides nearest-neighbour lookup of vulnerability-fix
// exemplars (CVE patches and CWE guidance) by embedding vector.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/sprite-ai/mistborn/internal/model"
)

var (
	// ErrIndexEmpty is returned when searching an index with no records.
	ErrIndexEmpty = errors.New("retrieval index is empty")
	// ErrDimensionMismatch is returned when a query vector has the wrong width.
	ErrDimensionMismatch = errors.New("query vector dimension does not match index")
)

// BackendError wraps a failure talking to a remote index. Like a model
// service failure it is fatal for the current run.
type BackendError struct {
	Op  string // "search" or "put"
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("retrieval %s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Index finds the stored records nearest to a query vector.
type Index interface {
	// Search returns up to k records ordered nearest-first.
	Search(ctx context.Context, vector []float32, k int) ([]model.RetrievalRecord, error)
}

// WithSnippetLimit truncates each returned record's text to at most limit
// bytes, cut on a rune boundary and marked with "...". limit <= 0 returns idx unchanged.
func WithSnippetLimit(idx Index, limit int) Index {
	if limit <= 0 {
		return idx
	}
	return &snippetLimited{next: idx, limit: limit}
}

type snippetLimited struct {
	next  Index
	limit int
}

func (s *snippetLimited) Search(ctx context.Context, vector []float32, k int) ([]model.RetrievalRecord, error) {
	recs, err := s.next.Search(ctx, vector, k)
	if err != nil {
		return nil, err
	}
	for i := range recs {
		if len(recs[i].Text) > s.limit {
			recs[i].Text = cutRunes(recs[i].Text, s.limit) + "..."
		}
	}
	return recs, nil
}

// cutRunes returns the longest prefix of s no longer than n bytes that does
// not split a UTF-8 sequence.
func cutRunes(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
