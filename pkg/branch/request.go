package branch

import "github.com/cockroachdb/errors"

var (
	ErrInvalidCondition = errors.New("condition must be a non-empty string")
	ErrInvalidChoices   = errors.New("choices must be a non-empty array")
)

// Input is the caller-facing shape of a decision request. It is validated by
// NewRequest before anything leaves the process.
type Input struct {
	Condition string
	Choices   []string
	// Credential and Model are passed to the backend uninspected.
	Credential string
	Model      string
	// Fallback is returned when no choice matches. Empty means no fallback.
	Fallback string
	// Diagnostics writes every failure message to the configured Logger.
	Diagnostics bool
}

// Request is a validated Input. The zero value is not usable; obtain one
// through NewRequest.
type Request struct {
	condition  string
	choices    []string
	credential string
	model      string
	fallback   string
}

// NewRequest validates the input and returns an immutable Request.
func NewRequest(in Input) (Request, error) {
	if trimSpace(in.Condition) == "" {
		return Request{}, ErrInvalidCondition
	}
	if len(in.Choices) == 0 {
		return Request{}, ErrInvalidChoices
	}
	choices := make([]string, len(in.Choices))
	copy(choices, in.Choices)
	return Request{
		condition:  in.Condition,
		choices:    choices,
		credential: in.Credential,
		model:      in.Model,
		fallback:   in.Fallback,
	}, nil
}

func (r Request) Condition() string { return r.condition }
func (r Request) Model() string     { return r.model }
func (r Request) Fallback() string  { return r.fallback }

// HasFallback reports whether a non-empty fallback was configured.
func (r Request) HasFallback() bool { return r.fallback != "" }

// Choices returns a copy of the allowed choices in caller order.
func (r Request) Choices() []string {
	out := make([]string, len(r.choices))
	copy(out, r.choices)
	return out
}

func (r Request) contains(value string) bool {
	for _, choice := range r.choices {
		if choice == value {
			return true
		}
	}
	return false
}
