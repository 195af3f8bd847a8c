package branch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

var outputRules = []string{
	`Output exactly one element from "choices"`,
	"Do NOT output JSON",
	"Do NOT add explanations",
	"Do NOT add quotes or punctuation around the element",
	"Do NOT add extra spaces or line breaks",
	`Do NOT output anything other than an element from "choices"`,
}

type promptPayload struct {
	Condition string   `json:"condition"`
	Choices   []string `json:"choices"`
	Else      string   `json:"else,omitempty"`
}

// ComposePrompt renders the instruction block sent to the backend. The
// condition, choices and fallback travel inside a JSON document so that
// their content is never read as instructions.
func ComposePrompt(req Request) string {
	builder := &strings.Builder{}
	builder.WriteString("You are a strict conditional branching engine.\n")
	builder.WriteString(`From the "choices" array in the JSON below, output **exactly one element that matches the "condition" completely**.`)
	builder.WriteString("\n\n")
	builder.WriteString(encodePayload(req))
	builder.WriteString("\n\nOutput rules:\n")
	for _, rule := range outputRules {
		fmt.Fprintf(builder, "- %s\n", rule)
	}
	if req.HasFallback() {
		builder.WriteString(`- If no element matches, output the "else" value verbatim` + "\n")
	} else {
		builder.WriteString("- If no element matches, output nothing\n")
	}
	return builder.String()
}

func encodePayload(req Request) string {
	buf := &bytes.Buffer{}
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	// strings and string slices always encode
	_ = enc.Encode(promptPayload{
		Condition: req.condition,
		Choices:   req.choices,
		Else:      req.fallback,
	})
	return strings.TrimRight(buf.String(), "\n")
}
