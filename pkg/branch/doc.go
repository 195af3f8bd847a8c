// Package branch implements a fuzzy switch statement: a natural-language
// condition and an enumerated set of choices are handed to a generative
// language backend, which must select exactly one of the choices.
//
// The decision call is total. Invalid input, backend failures and responses
// outside the allowed set are all reported through Result; Decide never
// returns an error and never panics out to the caller.
//
//	b := branch.New(ai.NewGemini(ai.Config{}))
//	res := b.Decide(ctx, branch.Input{
//		Condition:  "the message is a complaint",
//		Choices:    []string{"refund", "escalate", "ignore"},
//		Fallback:   "other",
//		Credential: apiKey,
//		Model:      "gemini-2.5-flash",
//	})
//	if !res.Succeeded {
//		// res.Selected holds the fallback (or "") and res.Message says why.
//	}
package branch
