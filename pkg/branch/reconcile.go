package branch

import "fmt"

// Reconcile maps a completion onto the closed set {fallback, choice, invalid}.
// Matching is exact and case-sensitive; the only normalisation is the
// whitespace trim applied by Invoke.
func Reconcile(req Request, c Completion) Result {
	switch c := c.(type) {
	case Failed:
		detail := "unknown failure"
		if c.Err != nil {
			detail = c.Err.Error()
		}
		return failure(req.fallback, BackendErrorPrefix+detail)
	case Generated:
		// The fallback is checked first, even when it is also a choice.
		if req.HasFallback() && c.Text == req.fallback {
			return Result{Succeeded: true, Selected: req.fallback, Message: MessageNoMatch}
		}
		if req.contains(c.Text) {
			return Result{Succeeded: true, Selected: c.Text, Message: MessageSuccess}
		}
		name := c.Backend
		if name == "" {
			name = "backend"
		}
		return failure(req.fallback, fmt.Sprintf("Response by %s is not in choices: %s", name, c.Text))
	}
	return failure(req.fallback, MessageUnknown)
}
