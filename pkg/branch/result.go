package branch

const (
	MessageSuccess = "Success"
	MessageNoMatch = "No matching choice"
	MessageUnknown = "Unknown error"

	BackendErrorPrefix = "Backend error: "
)

// Result is the outcome of a decision.
//
// When Succeeded is true, Selected is one of the choices or the fallback.
// When Succeeded is false, Selected is the fallback (or "") and Message
// describes the failure.
type Result struct {
	Succeeded bool   `json:"succeeded"`
	Selected  string `json:"selected"`
	Message   string `json:"message"`
}

func failure(fallback, message string) Result {
	if message == "" {
		message = MessageUnknown
	}
	return Result{Succeeded: false, Selected: fallback, Message: message}
}
