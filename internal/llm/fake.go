package llm

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
)

// Rule answers any prompt containing Match. Replies are consumed in order;
// the last one repeats once the list is exhausted.
type Rule struct {
	Match   string
	Replies []string
	Err     error
}

// FakeClient is a deterministic, offline Client for tests and dry runs.
// It is safe for concurrent use.
type FakeClient struct {
	mu      sync.Mutex
	rules   []*Rule
	served  map[*Rule]int
	prompts []string
	embeds  []string

	// Fallback is returned when no rule matches.
	Fallback string
	// EmbedErr, when set, fails every Embed call.
	EmbedErr error
	// Dim is the embedding width; 8 when zero.
	Dim int
}

// NewFakeClient returns a FakeClient that tries rules in order.
func NewFakeClient(rules ...Rule) *FakeClient {
	f := &FakeClient{served: make(map[*Rule]int)}
	for i := range rules {
		r := rules[i]
		f.rules = append(f.rules, &r)
	}
	return f
}

func (f *FakeClient) Complete(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", serviceError("complete", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)

	for _, r := range f.rules {
		if !strings.Contains(prompt, r.Match) {
			continue
		}
		if r.Err != nil {
			return "", serviceError("complete", r.Err)
		}
		if len(r.Replies) == 0 {
			return "", nil
		}
		n := f.served[r]
		f.served[r] = n + 1
		if n >= len(r.Replies) {
			n = len(r.Replies) - 1
		}
		return r.Replies[n], nil
	}
	return f.Fallback, nil
}

// Embed returns a stable pseudo-vector derived from a hash of text.
func (f *FakeClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, serviceError("embed", err)
	}
	f.mu.Lock()
	f.embeds = append(f.embeds, text)
	embedErr := f.EmbedErr
	dim := f.Dim
	f.mu.Unlock()

	if embedErr != nil {
		return nil, serviceError("embed", embedErr)
	}
	if dim <= 0 {
		dim = 8
	}
	return HashVector(text, dim), nil
}

// Prompts returns every prompt received so far.
func (f *FakeClient) Prompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.prompts...)
}

// Embeds returns every text embedded so far.
func (f *FakeClient) Embeds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.embeds...)
}

// CountMatching returns how many prompts contained substr.
func (f *FakeClient) CountMatching(substr string) int {
	n := 0
	for _, p := range f.Prompts() {
		if strings.Contains(p, substr) {
			n++
		}
	}
	return n
}

// HashVector maps text to a deterministic vector of width dim.
func HashVector(text string, dim int) []float32 {
	out := make([]float32, dim)
	for i := range out {
		h := fnv.New32a()
		h.Write([]byte{byte(i)})
		h.Write([]byte(text))
		out[i] = float32(h.Sum32()%1000) / 1000
	}
	return out
}

// ErrFake is a convenience error for scripted failures.
var ErrFake = errors.New("fake model failure")
