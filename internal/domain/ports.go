package domain

import (
	"context"
	"io"
)

// Completer generates a reply from the full ordered context of one user.
type Completer interface {
	Complete(ctx context.Context, userID string, history []ContextEntry) (string, error)
}

// ImageSynthesizer renders a prompt into one or more image refs.
type ImageSynthesizer interface {
	Generate(ctx context.Context, prompt string) ([]string, error)
}

// Transcriber converts the audio behind a media ref to text.
type Transcriber interface {
	Transcribe(ctx context.Context, mediaRef string) (string, error)
}

// SpeechSynthesizer converts text to audio and returns an opaque audio ref.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (string, error)
}

// MediaResolver dereferences an opaque media ref into readable content.
// Channel adapters implement this for the refs they mint; the returned name
// is a filename hint (extension matters for transcription uploads).
type MediaResolver interface {
	Resolve(ctx context.Context, ref string) (rc io.ReadCloser, name string, err error)
}
