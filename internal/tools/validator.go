package tools

import (
	"fmt"
	"regexp"
)

// ValidationResult is the validator's verdict on a single tool call.
type ValidationResult struct {
	Allowed bool
	Reason  string
}

// rule blocks a tool call when its pattern matches one of the inspected
// argument fields.
type rule struct {
	tool    string // "*" matches any tool
	field   string // "*" inspects every string argument
	pattern *regexp.Regexp
	reason  string
}

// Validator screens tool calls for obviously destructive or escaping
// arguments before they reach the registry. It is a guardrail, not a
// sandbox.
type Validator struct {
	rules []rule
}

// NewValidator builds the validator with the default rule set.
func NewValidator() *Validator {
	return &Validator{rules: []rule{
		{
			tool:    "run_command",
			field:   "command",
			pattern: regexp.MustCompile(`(?i)rm\s+(-[a-z]*\s+)*(/|~|\$HOME)(\s|$)`),
			reason:  "destructive removal of a root or home directory",
		},
		{
			tool:    "run_command",
			field:   "command",
			pattern: regexp.MustCompile(`(?i)mkfs|dd\s+if=.*of=/dev/`),
			reason:  "raw device write",
		},
		{
			tool:    "run_command",
			field:   "command",
			pattern: regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
			reason:  "fork bomb",
		},
		{
			tool:    "run_command",
			field:   "command",
			pattern: regexp.MustCompile(`(?i)(curl|wget)[^|;&]*\|\s*(ba)?sh`),
			reason:  "piping a remote download into a shell",
		},
		{
			tool:    "write_file",
			field:   "path",
			pattern: regexp.MustCompile(`(^|/)\.\.(/|$)`),
			reason:  "path traversal",
		},
		{
			tool:    "write_file",
			field:   "path",
			pattern: regexp.MustCompile(`^/(etc|boot|sys|proc)(/|$)`),
			reason:  "write into a protected system directory",
		},
		{
			tool:    "read_file",
			field:   "path",
			pattern: regexp.MustCompile(`(^|/)(\.ssh/id_[A-Za-z0-9]+|\.aws/credentials|shadow)($|[^a-zA-Z])`),
			reason:  "credential file access",
		},
	}}
}

// Validate screens one tool call. The first matching rule blocks it.
func (v *Validator) Validate(tool string, args map[string]any) ValidationResult {
	for _, r := range v.rules {
		if r.tool != "*" && r.tool != tool {
			continue
		}
		if r.field == "*" {
			for _, value := range args {
				if s, ok := value.(string); ok && r.pattern.MatchString(s) {
					return ValidationResult{Reason: r.reason}
				}
			}
			continue
		}
		if s, ok := args[r.field].(string); ok && r.pattern.MatchString(s) {
			return ValidationResult{Reason: r.reason}
		}
	}
	return ValidationResult{Allowed: true}
}

// AddRule registers an extra blocking rule. pattern must be a valid regular
// expression.
func (v *Validator) AddRule(tool, field, pattern, reason string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("tools: compile validator rule: %w", err)
	}
	v.rules = append(v.rules, rule{tool: tool, field: field, pattern: re, reason: reason})
	return nil
}
