// Package completion provides text generation via a remote completion
// provider.
package completion

import "context"

// Completer turns a prompt into generated text.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Close() error
}
