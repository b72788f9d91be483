package validator

import (
	"regexp"

	"github.com/arborvale/valicore/pkg/valcore"
)

// goRules is a small, illustrative rule set for the "go" language tag.
// These are not a substitute for go vet/staticcheck; they exist to give
// the reference validator something concrete to flag per phase.
var goRules = []Rule{
	{
		ID:       "go_exec_command",
		Pattern:  regexp.MustCompile(`os/exec|exec\.Command`),
		Severity: valcore.SeveritySecurityVulnerability,
		Message:  "invokes an external process; confirm arguments are not attacker-controlled",
		Phase:    valcore.CapabilitySecurity,
	},
	{
		ID:       "go_hardcoded_credential",
		Pattern:  regexp.MustCompile(`(?i)(password|secret|api_key)\s*=\s*"[^"]+"`),
		Severity: valcore.SeveritySecurityVulnerability,
		Message:  "possible hardcoded credential",
		Phase:    valcore.CapabilitySecurity,
	},
	{
		ID:       "go_panic_use",
		Pattern:  regexp.MustCompile(`\bpanic\(`),
		Severity: valcore.SeverityWarning,
		Message:  "panic() in library code surfaces as an unrecoverable crash to callers",
		Phase:    valcore.CapabilityBestPractices,
	},
	{
		ID:       "go_blank_identifier_discards_err",
		Pattern:  regexp.MustCompile(`_\s*=\s*err\b`),
		Severity: valcore.SeverityWarning,
		Message:  "error assigned to the blank identifier instead of handled",
		Phase:    valcore.CapabilityErrorHandling,
	},
}

// pythonRules mirrors goRules for the "python" language tag.
var pythonRules = []Rule{
	{
		ID:       "py_eval_use",
		Pattern:  regexp.MustCompile(`\beval\(`),
		Severity: valcore.SeveritySecurityVulnerability,
		Message:  "eval() on untrusted input allows arbitrary code execution",
		Phase:    valcore.CapabilitySecurity,
	},
	{
		ID:       "py_subprocess_shell_true",
		Pattern:  regexp.MustCompile(`shell\s*=\s*True`),
		Severity: valcore.SeveritySecurityVulnerability,
		Message:  "subprocess call with shell=True is vulnerable to shell injection",
		Phase:    valcore.CapabilitySecurity,
	},
	{
		ID:       "py_bare_except",
		Pattern:  regexp.MustCompile(`except\s*:`),
		Severity: valcore.SeverityWarning,
		Message:  "bare except clause swallows all exceptions including KeyboardInterrupt",
		Phase:    valcore.CapabilityErrorHandling,
	},
	{
		ID:       "py_mutable_default_arg",
		Pattern:  regexp.MustCompile(`def\s+\w+\([^)]*=\s*(\[\]|\{\})`),
		Severity: valcore.SeverityWarning,
		Message:  "mutable default argument is shared across calls",
		Phase:    valcore.CapabilityBestPractices,
	},
}

// NewGoValidator constructs a reference Validator for the "go" language tag.
func NewGoValidator() *Reference { return New("go", goRules) }

// NewPythonValidator constructs a reference Validator for the "python"
// language tag.
func NewPythonValidator() *Reference { return New("python", pythonRules) }
