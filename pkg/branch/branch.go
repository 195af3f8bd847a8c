package branch

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Logger receives failure messages when Input.Diagnostics is set.
// *logrus.Logger and *logrus.Entry satisfy it.
type Logger interface {
	Error(args ...interface{})
}

// Brancher decides between choices using a single backend. It holds no
// per-call state and is safe for concurrent use.
type Brancher struct {
	backend Backend
	logger  Logger
}

// Option configures a Brancher.
type Option func(*Brancher)

// WithLogger sets the diagnostics sink. The default writes to the standard
// logrus logger (stderr).
func WithLogger(logger Logger) Option {
	return func(b *Brancher) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New returns a Brancher calling backend.
func New(backend Backend, opts ...Option) *Brancher {
	b := &Brancher{backend: backend, logger: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Decide validates the input, asks the backend once and reconciles the
// answer. It always returns a Result.
func (b *Brancher) Decide(ctx context.Context, in Input) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = failure(in.Fallback, MessageUnknown)
		}
		if !res.Succeeded && in.Diagnostics {
			b.report(res.Message)
		}
	}()

	req, err := NewRequest(in)
	if err != nil {
		return failure(in.Fallback, err.Error())
	}
	completion := Invoke(ctx, b.backend, req, ComposePrompt(req))
	return Reconcile(req, completion)
}

func (b *Brancher) report(message string) {
	defer func() { _ = recover() }()
	var logger Logger = logrus.StandardLogger()
	if b != nil && b.logger != nil {
		logger = b.logger
	}
	logger.Error(message)
}

// Decide is a convenience wrapper around New(backend).Decide.
func Decide(ctx context.Context, backend Backend, in Input) Result {
	return New(backend).Decide(ctx, in)
}
