// Package validator provides reference implementations of the
// valcore.Validator capability the execution core treats as an external
// collaborator. Concrete per-language front-ends (real parsers, AST
// walkers, linters) are outside this core's scope; these are minimal,
// rule-driven stand-ins used by tests and cmd/validationd's default
// wiring so the core can be exercised end to end without a real toolchain
// integration.
package validator

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arborvale/valicore/pkg/valcore"
)

// Rule is a single regex-driven check. Grounded on the teacher's
// grouping.validator.go pattern of a package-level compiled regex plus a
// small predicate function.
type Rule struct {
	ID       string
	Pattern  *regexp.Regexp
	Severity valcore.Severity
	Message  string
	Phase    valcore.Capability
}

// Reference is a rule-driven Validator. It runs whichever phases are
// requested in ValidationOptions: the syntax check first, then the rule set's
// checks in rule-set order, then the style line-length check, then custom
// rules. It records a PhaseTimings entry per phase it actually ran.
type Reference struct {
	language     string
	capabilities map[valcore.Capability]struct{}
	rules        []Rule
}

// New constructs a reference validator for language, running ruleSet in
// addition to the built-in syntax bracket-balance check every language
// gets for free.
func New(language string, ruleSet []Rule) *Reference {
	caps := map[valcore.Capability]struct{}{valcore.CapabilitySyntax: {}}
	for _, r := range ruleSet {
		caps[r.Phase] = struct{}{}
	}
	caps[valcore.CapabilityCustomRules] = struct{}{}
	return &Reference{language: language, capabilities: caps, rules: ruleSet}
}

func (r *Reference) Language() string { return r.language }

func (r *Reference) Capabilities() map[valcore.Capability]struct{} { return r.capabilities }

// Validate runs the requested phases against code, producing Issues and a
// PhaseTimings entry per phase. It honors options.ExcludeRules and layers
// in options.CustomRules as additional ad hoc regex checks tagged
// CapabilityCustomRules.
func (r *Reference) Validate(ctx context.Context, code []byte, options valcore.ValidationOptions) (*valcore.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, valcore.WrapError(valcore.ErrKindCancelled, "validation cancelled before start", err)
	}

	result := &valcore.ValidationResult{
		Language: r.language,
		State:    valcore.StateCompleted,
	}
	timings := make(map[string]time.Duration)
	text := string(code)
	lines := strings.Split(text, "\n")

	run := func(phase string, fn func()) {
		start := time.Now()
		fn()
		timings[phase] = time.Since(start)
	}

	if options.Syntax {
		run("syntax", func() {
			result.Issues = append(result.Issues, checkBracketBalance(text)...)
		})
	}

	phaseRules := map[valcore.Capability]bool{
		valcore.CapabilitySecurity:      options.Security,
		valcore.CapabilityStyle:         options.Style,
		valcore.CapabilityBestPractices: options.BestPractices,
		valcore.CapabilityErrorHandling: options.ErrorHandling,
	}
	for _, rule := range r.rules {
		rule := rule
		if !phaseRules[rule.Phase] {
			continue
		}
		if _, excluded := options.ExcludeRules[rule.ID]; excluded {
			continue
		}
		run(string(rule.Phase), func() {
			result.Issues = append(result.Issues, matchRule(rule, lines)...)
		})
	}

	if options.Style {
		run("style", func() {
			result.Issues = append(result.Issues, checkLineLength(lines, 120)...)
		})
	}

	if len(options.CustomRules) > 0 {
		run("custom_rules", func() {
			result.Issues = append(result.Issues, r.runCustomRules(options.CustomRules, lines)...)
		})
	}

	if ctx.Err() != nil {
		return nil, valcore.WrapError(valcore.ErrKindCancelled, "validation cancelled mid-run", ctx.Err())
	}

	var total time.Duration
	for _, d := range timings {
		total += d
	}
	result.Stats.Performance = valcore.Performance{
		PhaseTimings:  timings,
		AverageTimeMs: float64(total.Microseconds()) / 1000,
	}
	result.IsValid = !result.HasBlockingIssue()
	return result, nil
}

// customRuleSpec is the YAML shape of one ValidationOptions.CustomRules
// entry, per the ruleId -> rule body (YAML) comment on that field.
type customRuleSpec struct {
	Pattern  string `yaml:"pattern"`
	Severity string `yaml:"severity"`
	Message  string `yaml:"message"`
}

// runCustomRules parses each caller-supplied rule body as YAML and flags
// any matching line, tagged with the caller's rule id. A malformed body,
// a missing pattern, or an invalid regex surfaces as a single warning
// issue naming the offending rule rather than failing the whole
// validation run.
func (r *Reference) runCustomRules(custom map[string]string, lines []string) []valcore.Issue {
	var issues []valcore.Issue
	for id, body := range custom {
		var spec customRuleSpec
		if err := yaml.Unmarshal([]byte(body), &spec); err != nil {
			issues = append(issues, valcore.Issue{
				Code:     id,
				Severity: valcore.SeverityWarning,
				Message:  fmt.Sprintf("custom rule %q has an invalid definition: %v", id, err),
			})
			continue
		}
		if spec.Pattern == "" {
			issues = append(issues, valcore.Issue{
				Code:     id,
				Severity: valcore.SeverityWarning,
				Message:  fmt.Sprintf("custom rule %q is missing a pattern", id),
			})
			continue
		}
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			issues = append(issues, valcore.Issue{
				Code:     id,
				Severity: valcore.SeverityWarning,
				Message:  fmt.Sprintf("custom rule %q has an invalid pattern: %v", id, err),
			})
			continue
		}
		severity := valcore.Severity(spec.Severity)
		if severity == "" {
			severity = valcore.SeverityWarning
		}
		message := spec.Message
		if message == "" {
			message = fmt.Sprintf("custom rule %q matched", id)
		}
		issues = append(issues, matchRule(Rule{ID: id, Pattern: re, Severity: severity, Message: message, Phase: valcore.CapabilityCustomRules}, lines)...)
	}
	return issues
}

func matchRule(rule Rule, lines []string) []valcore.Issue {
	var issues []valcore.Issue
	for i, line := range lines {
		if rule.Pattern.MatchString(line) {
			issues = append(issues, valcore.Issue{
				Code:     rule.ID,
				Severity: rule.Severity,
				Message:  rule.Message,
				Location: &valcore.Location{Line: i + 1},
			})
		}
	}
	return issues
}

func checkLineLength(lines []string, max int) []valcore.Issue {
	var issues []valcore.Issue
	for i, line := range lines {
		if len(line) > max {
			issues = append(issues, valcore.Issue{
				Code:     "line_too_long",
				Severity: valcore.SeverityWarning,
				Message:  fmt.Sprintf("line exceeds %d characters", max),
				Location: &valcore.Location{Line: i + 1, Length: len(line)},
			})
		}
	}
	return issues
}

// checkBracketBalance is the syntax phase's baseline check: every
// (), [], {} must close in the order it opened, ignoring content inside
// quoted strings. It is not a substitute for a real parser; it exists so
// the syntax phase produces a findable defect on the common "forgot a
// closing brace" mistake without depending on a language's own toolchain.
func checkBracketBalance(text string) []valcore.Issue {
	pairs := map[rune]rune{')': '(', ']': '[', '}': '{'}
	opens := map[rune]struct{}{'(': {}, '[': {}, '{': {}}

	var stack []rune
	var stackLines []int
	line := 1
	inString := false
	var quote rune

	for _, ch := range text {
		_, isOpen := opens[ch]
		_, isClose := pairs[ch]

		switch {
		case ch == '\n':
			line++
		case inString:
			if ch == quote {
				inString = false
			}
		case ch == '"' || ch == '\'':
			inString = true
			quote = ch
		case isOpen:
			stack = append(stack, ch)
			stackLines = append(stackLines, line)
		case isClose:
			if len(stack) == 0 || stack[len(stack)-1] != pairs[ch] {
				return []valcore.Issue{{
					Code:     "unbalanced_bracket",
					Severity: valcore.SeverityError,
					Message:  fmt.Sprintf("unexpected %q with no matching opener", ch),
					Location: &valcore.Location{Line: line},
				}}
			}
			stack = stack[:len(stack)-1]
			stackLines = stackLines[:len(stackLines)-1]
		}
	}
	if len(stack) > 0 {
		return []valcore.Issue{{
			Code:     "unbalanced_bracket",
			Severity: valcore.SeverityError,
			Message:  fmt.Sprintf("unclosed %q", stack[len(stack)-1]),
			Location: &valcore.Location{Line: stackLines[len(stackLines)-1]},
		}}
	}
	return nil
}
