// Package llm defines the small completion interface used by the message
// analyzer.
//
// The main reply generation goes through the yellowfire client; this
// interface covers the auxiliary classification calls (message analysis, city
// normalisation, fact extraction) that run against a fast side model.
//
// Implementations must be safe for concurrent use.
package llm

import "context"

// Completer produces one completion for a system/user prompt pair.
type Completer interface {
	// Complete sends the prompts to the model and returns the full reply
	// text. Returns an error if the request fails or ctx is cancelled first.
	Complete(ctx context.Context, system, user string) (string, error)
}
