package ai

import "context"

type Request struct {
	Model       string
	Temperature float64
	System      string
	Prompt      string
}

// Client is the generation provider contract. Stream delivers ordered text
// chunks through onChunk and returns once the stream is closed; a returned
// error means the turn must transition to the errored state. Any provider
// honoring this contract can back the legion.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request, onChunk func(text string)) error
}
