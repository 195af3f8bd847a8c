package branch

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

type strayCompletion struct{}

func (strayCompletion) completion() {}

func TestReconcile(t *testing.T) {
	withFallback := mustRequest(t, Input{Condition: "c", Choices: []string{"Yes", "No"}, Fallback: "Maybe"})
	plain := mustRequest(t, Input{Condition: "c", Choices: []string{"Yes", "No", ""}})

	tests := []struct {
		name       string
		req        Request
		completion Completion
		expected   Result
	}{
		{"choice", withFallback, Generated{Backend: "Gemini", Text: "No"}, Result{true, "No", MessageSuccess}},
		{"fallback", withFallback, Generated{Backend: "Gemini", Text: "Maybe"}, Result{true, "Maybe", MessageNoMatch}},
		{"case sensitive", withFallback, Generated{Backend: "Gemini", Text: "yes"}, Result{false, "Maybe", "Response by Gemini is not in choices: yes"}},
		{"no containment", withFallback, Generated{Backend: "Gemini", Text: "Yes."}, Result{false, "Maybe", "Response by Gemini is not in choices: Yes."}},
		{"empty text matches empty choice", plain, Generated{Backend: "Gemini", Text: ""}, Result{true, "", MessageSuccess}},
		{"empty text without empty choice", withFallback, Generated{Text: ""}, Result{false, "Maybe", "Response by backend is not in choices: "}},
		{"failed", plain, Failed{Backend: "Gemini", Err: errors.New("dial tcp: timeout")}, Result{false, "", "Backend error: dial tcp: timeout"}},
		{"failed without error", withFallback, Failed{}, Result{false, "Maybe", "Backend error: unknown failure"}},
		{"nil completion", withFallback, nil, Result{false, "Maybe", MessageUnknown}},
		{"unknown completion", plain, strayCompletion{}, Result{false, "", MessageUnknown}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Reconcile(tc.req, tc.completion))
		})
	}
}
