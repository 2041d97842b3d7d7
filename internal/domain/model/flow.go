package model

// FlowRule maps a branch-name pattern to the set of branches a PR from a
// matching head is allowed to target. Patterns are exact strings or a prefix
// glob with a single trailing '*'. Rules are evaluated in list order; the
// first rule whose pattern matches the head branch wins.
type FlowRule struct {
	Pattern string
	Phase   string
	Targets []string
}

// FlowViolation describes a PR targeting a branch outside its head's allowed
// next stages.
type FlowViolation struct {
	ExpectedTargets []string
	Message         string
}
