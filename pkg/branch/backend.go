package branch

import (
	"context"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
)

// ErrNoBackend is reported when a Brancher has no backend to call.
var ErrNoBackend = errors.New("no backend configured")

// Generation is a single completion request handed to a Backend.
type Generation struct {
	Prompt     string
	Model      string
	Credential string
}

// Backend is a generative language service that turns a prompt into text.
type Backend interface {
	// Name is used in diagnostics, e.g. "Gemini".
	Name() string
	Generate(ctx context.Context, gen Generation) (string, error)
}

// Completion is the outcome of one backend round trip: either Generated or
// Failed.
type Completion interface {
	completion()
}

// Generated carries the whitespace-trimmed backend text.
type Generated struct {
	Backend string
	Text    string
}

// Failed carries the error raised by the backend.
type Failed struct {
	Backend string
	Err     error
}

func (Generated) completion() {}
func (Failed) completion()    {}

// Invoke performs exactly one call to the backend and folds errors and panics
// into a Failed completion.
func Invoke(ctx context.Context, backend Backend, req Request, prompt string) (out Completion) {
	if backend == nil {
		return Failed{Err: ErrNoBackend}
	}
	name := backendName(backend)
	defer func() {
		if r := recover(); r != nil {
			out = Failed{Backend: name, Err: errors.Newf("panic: %v", r)}
		}
	}()
	if ctx == nil {
		ctx = context.Background()
	}
	text, err := backend.Generate(ctx, Generation{
		Prompt:     prompt,
		Model:      req.model,
		Credential: req.credential,
	})
	if err != nil {
		return Failed{Backend: name, Err: err}
	}
	return Generated{Backend: name, Text: trimSpace(text)}
}

func backendName(backend Backend) (name string) {
	defer func() {
		if recover() != nil || name == "" {
			name = "backend"
		}
	}()
	return backend.Name()
}

// trimSpace strips leading and trailing white space and line terminators,
// including the byte order mark.
func trimSpace(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == '\uFEFF' || (r != '\u0085' && unicode.IsSpace(r))
	})
}
