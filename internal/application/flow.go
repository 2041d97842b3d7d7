package application

import (
	"fmt"
	"strings"

	"github.com/jcthomas/pullwatch/internal/domain/model"
)

// FlowPhase returns the promotion phase label of the head branch: the phase
// of the first rule whose pattern matches head, or nil when no rule matches.
// Flow rules are advisory, not exhaustive.
func FlowPhase(head string, rules []model.FlowRule) *string {
	for _, rule := range rules {
		if matchBranchPattern(rule.Pattern, head) {
			phase := rule.Phase
			if phase == "" {
				phase = rule.Pattern
			}
			return &phase
		}
	}
	return nil
}

// ValidatePRFlow checks whether base is an allowed next stage for head under
// the given rules. It returns nil when the first matching rule permits the
// target, when the matching rule's target list is empty (unconstrained), or
// when no rule matches head at all (fail-open).
func ValidatePRFlow(head, base string, rules []model.FlowRule) *model.FlowViolation {
	for _, rule := range rules {
		if !matchBranchPattern(rule.Pattern, head) {
			continue
		}

		if len(rule.Targets) == 0 {
			return nil
		}

		for _, target := range rule.Targets {
			if matchBranchPattern(target, base) {
				return nil
			}
		}

		return &model.FlowViolation{
			ExpectedTargets: rule.Targets,
			Message: fmt.Sprintf("branch %q should target %s, not %q",
				head, strings.Join(rule.Targets, " or "), base),
		}
	}

	return nil
}

// matchBranchPattern matches a branch name against a pattern: exact string
// match, or a prefix match when the pattern ends with a single '*'.
func matchBranchPattern(pattern, branch string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(branch, prefix)
	}
	return pattern == branch
}
