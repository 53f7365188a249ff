package patch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprite-ai/mistborn/internal/llm"
	"github.com/sprite-ai/mistborn/internal/model"
	"github.com/sprite-ai/mistborn/internal/retrieval"
)

// Distinctive fragments of each rendered prompt, used to route fake replies.
const (
	basicMarker     = "You are a security expert tasked with fixing"
	rewardMarker    = "You will be rewarded"
	punishMarker    = "You will be punished"
	cotMarker       = "Step 1: Analyze the cause"
	ragMarker       = "Prior knowledge on how to fix"
	selectionMarker = "comparing several patch candidates"
)

const sentinel = "Need to retrieve more context."

func exemplarIndex(t *testing.T, texts ...string) *retrieval.FlatIndex {
	t.Helper()
	idx := retrieval.NewFlatIndex()
	for _, text := range texts {
		require.NoError(t, idx.Add(model.RetrievalRecord{Text: text, Type: model.RecordCVE}, llm.HashVector(text, 8)))
	}
	return idx
}

func TestRAGStopsAfterKRoundTrips(t *testing.T) {
	for k := 1; k <= 4; k++ {
		replies := make([]string, 0, k)
		for i := 1; i < k; i++ {
			replies = append(replies, sentinel)
		}
		replies = append(replies, "final answer")

		fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Replies: replies})
		rag := NewRAGStrategy(fake, exemplarIndex(t, "ex1", "ex2"), nil)
		rag.MaxIterations = 10

		res, err := rag.Generate(context.Background(), nil, "report")
		require.NoError(t, err)
		assert.Equal(t, k, res.Iterations, "k=%d", k)
		assert.Equal(t, Done, res.State)
		assert.Equal(t, "final answer", res.Candidate.RawText)
		assert.Equal(t, model.RetrievalAugmented, res.Candidate.Strategy)
		assert.Len(t, fake.Embeds(), k)
		assert.Equal(t, k, fake.CountMatching(ragMarker))
	}
}

func TestRAGQueryAccumulatesContext(t *testing.T) {
	fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Replies: []string{sentinel, "NEED TO RETRIEVE MORE CONTEXT please", "done"}})
	rag := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil)

	_, err := rag.Generate(context.Background(), nil, "report")
	require.NoError(t, err)

	embeds := fake.Embeds()
	require.Len(t, embeds, 3)
	assert.Equal(t, "report", embeds[0])
	assert.Equal(t, "report"+sentinel, embeds[1])
	assert.Equal(t, "report"+sentinel+"\nNEED TO RETRIEVE MORE CONTEXT please", embeds[2])
}

func TestRAGPromptCarriesRetrievedText(t *testing.T) {
	fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Replies: []string{"ok"}})
	rag := NewRAGStrategy(fake, exemplarIndex(t, "use strncpy", "check bounds"), nil)
	rag.TopK = 1

	_, err := rag.Generate(context.Background(), []model.ChangedFile{{Filename: "a.c"}}, "report")
	require.NoError(t, err)

	p := fake.Prompts()[0]
	assert.Contains(t, p, "file name:a.c")
	hits := 0
	for _, ex := range []string{"use strncpy", "check bounds"} {
		if strings.Contains(p, ex) {
			hits++
		}
	}
	assert.Equal(t, 1, hits, "top_k=1 should inline exactly one exemplar")
}

func TestRAGTimesOutAtCap(t *testing.T) {
	fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Replies: []string{sentinel}})
	rag := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil)
	rag.MaxIterations = 3

	res, err := rag.Generate(context.Background(), nil, "report")
	require.NoError(t, err)
	assert.Equal(t, TimedOut, res.State)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, sentinel, res.Candidate.RawText)
}

func TestRAGUnboundedWhenCapDisabled(t *testing.T) {
	replies := []string{sentinel, sentinel, sentinel, sentinel, sentinel, sentinel, sentinel, "finally"}
	fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Replies: replies})
	rag := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil)
	rag.MaxIterations = 0

	res, err := rag.Generate(context.Background(), nil, "report")
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, len(replies), res.Iterations)
}

func TestRAGEmptyReplyIsDone(t *testing.T) {
	fake := llm.NewFakeClient(llm.Rule{Match: ragMarker})
	res, err := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil).Generate(context.Background(), nil, "r")
	require.NoError(t, err)
	assert.Equal(t, Done, res.State)
	assert.Equal(t, "", res.Candidate.RawText)
}

func TestRAGErrors(t *testing.T) {
	t.Run("embed", func(t *testing.T) {
		fake := llm.NewFakeClient()
		fake.EmbedErr = llm.ErrFake
		_, err := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil).Generate(context.Background(), nil, "r")
		var se *llm.ServiceError
		require.True(t, errors.As(err, &se))
		assert.Equal(t, "embed", se.Op)
	})
	t.Run("empty index", func(t *testing.T) {
		fake := llm.NewFakeClient()
		_, err := NewRAGStrategy(fake, retrieval.NewFlatIndex(), nil).Generate(context.Background(), nil, "r")
		require.ErrorIs(t, err, retrieval.ErrIndexEmpty)
	})
	t.Run("complete", func(t *testing.T) {
		fake := llm.NewFakeClient(llm.Rule{Match: ragMarker, Err: llm.ErrFake})
		_, err := NewRAGStrategy(fake, exemplarIndex(t, "ex"), nil).Generate(context.Background(), nil, "r")
		require.ErrorIs(t, err, llm.ErrFake)
	})
}

func TestRAGStateString(t *testing.T) {
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.True(t, Done.Terminal())
	assert.False(t, Deciding.Terminal())
	b, err := Querying.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "querying", string(b))
}
