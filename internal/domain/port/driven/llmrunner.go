package driven

import "context"

// LLMRunner is the opaque enrichment runner. The sync core never inspects its
// internals; it only wraps calls with cache-then-call-then-cache and
// circuit-breaker gating. Implementations return either free text or a JSON
// payload in Text, depending on the prompt.
type LLMRunner interface {
	Run(ctx context.Context, prompt string, contextData string) (string, error)
}
