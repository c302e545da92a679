package completion

import "context"

// MockCompleter returns canned completions for tests. When Err is set it is
// returned instead; Prompts records every prompt received.
type MockCompleter struct {
	Response string
	Err      error
	Prompts  []string
}

// Complete records the prompt and returns the configured response or error.
func (m *MockCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	return m.Response, nil
}

// Close is a no-op.
func (m *MockCompleter) Close() error {
	return nil
}
