package backend

import "context"

// Disabled stands in for a backend that is turned off in config. Every call
// fails, which drives the pipeline's normal degradation paths (failure
// notices for images and transcription, plain text instead of voice).
type Disabled struct {
	Name string
}

func (d Disabled) Generate(context.Context, string) ([]string, error) {
	return nil, d.err()
}

func (d Disabled) Transcribe(context.Context, string) (string, error) {
	return "", d.err()
}

func (d Disabled) Synthesize(context.Context, string) (string, error) {
	return "", d.err()
}

func (d Disabled) err() error {
	return &disabledError{name: d.Name}
}

type disabledError struct {
	name string
}

func (e *disabledError) Error() string {
	return "backend " + e.name + " is disabled"
}
