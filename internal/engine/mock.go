package engine

import (
	"context"
	"fmt"

	"github.com/loqalabs/loqa-dictate/internal/chunk"
)

type mockRecognizer struct {
	text string
}

// NewMockRecognizer returns a recognizer that answers with text, or with a length
// marker when text is empty.
func NewMockRecognizer(text string) Recognizer {
	return &mockRecognizer{text: text}
}

func MockLoader(text string) Loader {
	return func(context.Context, LoadRequest) (Recognizer, error) {
		return NewMockRecognizer(text), nil
	}
}

func (m *mockRecognizer) Transcribe(ctx context.Context, payload *chunk.Payload) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if m.text != "" {
		return Result{Text: m.text, Confidence: 1}, nil
	}
	return Result{
		Text:       fmt.Sprintf("[transcript length=%d]", payload.Len()),
		Confidence: 0,
	}, nil
}
