// Package llm is the language model port: text completion and embeddings.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Client sends prompts to a model provider.
type Client interface {
	// Complete returns the model's reply to prompt. An empty reply is valid.
	Complete(ctx context.Context, prompt string) (string, error)
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ServiceError wraps any transport, auth or provider failure. It is never
// retried; callers abort the current run when they see one.
type ServiceError struct {
	Op  string // "complete" or "embed"
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

func serviceError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if errors.As(err, &se) {
		return err
	}
	return &ServiceError{Op: op, Err: err}
}
